package snapshot

import (
	"context"
	"fmt"
	"strings"
	"time"

	"github.com/hashicorp/go-set/v3"
	promapi "github.com/prometheus/client_golang/api"
	promv1 "github.com/prometheus/client_golang/api/prometheus/v1"
	prommodel "github.com/prometheus/common/model"

	"github.com/guimove/hpcfit/internal/gres"
	"github.com/guimove/hpcfit/internal/model"
)

// PrometheusSource overlays live per-node CPU state scraped from Prometheus
// onto the inventory of a base source.
type PrometheusSource struct {
	base     Source
	api      promv1.API
	endpoint string
	timeout  time.Duration
	now      func() time.Time
}

// PrometheusOption configures the Prometheus source.
type PrometheusOption func(*PrometheusSource)

// WithTimeout sets the query timeout.
func WithTimeout(d time.Duration) PrometheusOption {
	return func(s *PrometheusSource) { s.timeout = d }
}

// NewPrometheusSource creates a source connected to endpoint that reads the
// node inventory from base.
func NewPrometheusSource(endpoint string, base Source, opts ...PrometheusOption) (*PrometheusSource, error) {
	client, err := promapi.NewClient(promapi.Config{
		Address: endpoint,
	})
	if err != nil {
		return nil, fmt.Errorf("creating prometheus client: %w", err)
	}

	s := &PrometheusSource{
		base:     base,
		api:      promv1.NewAPI(client),
		endpoint: endpoint,
		timeout:  30 * time.Second,
		now:      time.Now,
	}
	for _, opt := range opts {
		opt(s)
	}
	return s, nil
}

// Ping checks connectivity to both Prometheus and the base source.
func (s *PrometheusSource) Ping(ctx context.Context) error {
	ctx, cancel := context.WithTimeout(ctx, 10*time.Second)
	defer cancel()

	if _, _, err := s.api.Query(ctx, "up", s.now()); err != nil {
		return fmt.Errorf("%w: %v", ErrPrometheusUnreachable, err)
	}
	return s.base.Ping(ctx)
}

// BackendType returns "prometheus".
func (s *PrometheusSource) BackendType() string {
	return "prometheus"
}

// Load reads the base snapshot and replaces node availability with the
// scraped idle CPU counts.
func (s *PrometheusSource) Load(ctx context.Context) (*model.Snapshot, error) {
	snap, err := s.base.Load(ctx)
	if err != nil {
		return nil, err
	}

	type queryResult struct {
		name string
		data prommodel.Value
		err  error
	}

	queries := map[string]string{
		"idle":  queryNodeCPUs("idle", snap.Cluster),
		"alloc": queryNodeCPUs("alloc", snap.Cluster),
	}

	now := s.now()
	results := make(chan queryResult, len(queries))
	queryCtx, cancel := context.WithTimeout(ctx, s.timeout)
	defer cancel()

	for name, q := range queries {
		go func(n, query string) {
			data, _, err := s.api.Query(queryCtx, query, now)
			results <- queryResult{name: n, data: data, err: err}
		}(name, q)
	}

	collected := make(map[string]prommodel.Value)
	var errs []string
	for range queries {
		r := <-results
		if r.err != nil {
			errs = append(errs, fmt.Sprintf("%s: %v", r.name, r.err))
			continue
		}
		collected[r.name] = r.data
	}
	if len(errs) > 0 {
		return nil, fmt.Errorf("%w: %s", ErrPrometheusUnreachable, strings.Join(errs, ", "))
	}

	if err := overlay(snap, extractVector(collected["idle"]), extractVector(collected["alloc"])); err != nil {
		return nil, err
	}
	snap.CollectedAt = now
	return snap, nil
}

// overlay applies scraped idle and allocated CPU counts to the snapshot
// nodes. Cores beyond the idle CPU count are released from the highest
// socket first.
func overlay(snap *model.Snapshot, idle, alloc map[string]float64) error {
	names := make([]string, len(snap.Nodes))
	for i := range snap.Nodes {
		names[i] = snap.Nodes[i].Name
	}
	known := set.From(names)

	matched := 0
	for name := range idle {
		if known.Contains(name) {
			matched++
		}
	}
	if matched == 0 {
		return fmt.Errorf("%w: no idle CPU samples match snapshot nodes", ErrEmptySnapshot)
	}

	for i := range snap.Nodes {
		n := &snap.Nodes[i]
		v, ok := idle[n.Name]
		if !ok {
			continue
		}
		avail := min(max(int(v), 0), n.AvailCPUs)
		threads := n.Threads()
		gres.TrimCores(n, nil, (avail+threads-1)/threads)
		n.AvailCPUs = avail
		if a, ok := alloc[n.Name]; ok {
			n.Idle = a == 0
		}
	}
	return nil
}

// extractVector converts a Prometheus Value to a map of node name to value.
func extractVector(v prommodel.Value) map[string]float64 {
	result := make(map[string]float64)
	if v == nil {
		return result
	}

	vec, ok := v.(prommodel.Vector)
	if !ok {
		return result
	}

	for _, sample := range vec {
		node := string(sample.Metric["node"])
		if node == "" {
			continue
		}
		result[node] = float64(sample.Value)
	}
	return result
}
