package cmd

import (
	"errors"
	"fmt"
	"io"
	"os"

	"github.com/guimove/hpcfit/internal/metrics"
	"github.com/guimove/hpcfit/internal/orchestrator"
	"github.com/guimove/hpcfit/internal/snapshot"
)

var errNoSnapshot = errors.New("no snapshot given: use --input or snapshot.path")

// resolveSource builds the snapshot source from the config. A Prometheus URL
// layers live node state over the snapshot file.
func resolveSource() (snapshot.Source, error) {
	if cfg.Snapshot.Path == "" {
		return nil, errNoSnapshot
	}
	file := snapshot.NewFileSource(cfg.Snapshot.Path)
	if cfg.Snapshot.PrometheusURL == "" {
		return file, nil
	}

	var opts []snapshot.PrometheusOption
	if cfg.Snapshot.Timeout > 0 {
		opts = append(opts, snapshot.WithTimeout(cfg.Snapshot.Timeout))
	}
	src, err := snapshot.NewPrometheusSource(cfg.Snapshot.PrometheusURL, file, opts...)
	if err != nil {
		return nil, err
	}
	logger.Debug("using prometheus node state", "endpoint", cfg.Snapshot.PrometheusURL)
	return src, nil
}

// newOrchestrator wires the source, logger and optional recorder.
func newOrchestrator(w io.Writer) (*orchestrator.Orchestrator, error) {
	src, err := resolveSource()
	if err != nil {
		return nil, err
	}
	orch := orchestrator.New(src, cfg)
	orch.Writer = w
	orch.Logger = logger
	if cfg.Metrics.Enabled {
		orch.Recorder = metrics.NewRecorder()
	}
	return orch, nil
}

// openOutput returns stdout or the named file and its closer.
func openOutput(path string) (io.Writer, func(), error) {
	if path == "" {
		return os.Stdout, func() {}, nil
	}
	f, err := os.Create(path)
	if err != nil {
		return nil, nil, fmt.Errorf("creating output file: %w", err)
	}
	return f, func() { _ = f.Close() }, nil
}

// flushMetrics writes recorded metrics to the configured file or stderr.
func flushMetrics(orch *orchestrator.Orchestrator) error {
	if !cfg.Metrics.Enabled {
		return nil
	}
	if cfg.Metrics.Output == "" {
		return orch.WriteMetrics(os.Stderr)
	}
	w, done, err := openOutput(cfg.Metrics.Output)
	if err != nil {
		return err
	}
	defer done()
	return orch.WriteMetrics(w)
}
