package snapshot

import (
	"context"
	"fmt"
	"os"

	"sigs.k8s.io/yaml"

	"github.com/guimove/hpcfit/internal/model"
)

// FileSource loads a snapshot from a YAML or JSON file.
// Used for testing, offline analysis, and CI pipelines.
type FileSource struct {
	path string
	snap *model.Snapshot
}

// NewFileSource creates a source that reads from path.
func NewFileSource(path string) *FileSource {
	return &FileSource{path: path}
}

// NewStaticSource creates a source serving a pre-built snapshot.
func NewStaticSource(snap *model.Snapshot) *FileSource {
	return &FileSource{snap: snap}
}

// Ping checks that the file exists.
func (s *FileSource) Ping(ctx context.Context) error {
	if s.snap != nil {
		return nil
	}
	if _, err := os.Stat(s.path); err != nil {
		return fmt.Errorf("snapshot file: %w", err)
	}
	return nil
}

// BackendType returns "static" for in-memory snapshots and "file" otherwise.
func (s *FileSource) BackendType() string {
	if s.snap != nil {
		return "static"
	}
	return "file"
}

// Load parses and validates the snapshot.
func (s *FileSource) Load(ctx context.Context) (*model.Snapshot, error) {
	snap := s.snap
	if snap == nil {
		data, err := os.ReadFile(s.path)
		if err != nil {
			return nil, fmt.Errorf("reading snapshot file: %w", err)
		}
		snap, err = Decode(data)
		if err != nil {
			return nil, fmt.Errorf("parsing snapshot file %s: %w", s.path, err)
		}
	}
	if err := check(snap); err != nil {
		return nil, err
	}
	return snap, nil
}

// Decode parses a YAML or JSON snapshot document.
func Decode(data []byte) (*model.Snapshot, error) {
	var snap model.Snapshot
	if err := yaml.Unmarshal(data, &snap); err != nil {
		return nil, err
	}
	return &snap, nil
}

// Encode renders a snapshot as YAML.
func Encode(snap *model.Snapshot) ([]byte, error) {
	return yaml.Marshal(snap)
}

func check(snap *model.Snapshot) error {
	if len(snap.Nodes) == 0 {
		return ErrEmptySnapshot
	}
	if err := snap.Validate(); err != nil {
		return fmt.Errorf("invalid snapshot: %w", err)
	}
	return nil
}
