package snapshot

import (
	"context"
	"errors"

	"github.com/guimove/hpcfit/internal/model"
)

var (
	ErrEmptySnapshot         = errors.New("snapshot holds no nodes")
	ErrPrometheusUnreachable = errors.New("prometheus endpoint unreachable")
)

// Source abstracts where cluster snapshots come from.
type Source interface {
	// Load returns a validated snapshot of nodes, topology and pending jobs.
	Load(ctx context.Context) (*model.Snapshot, error)

	// Ping validates that the backend can be read.
	Ping(ctx context.Context) error

	// BackendType returns the backend name.
	BackendType() string
}
