package metrics

import (
	"fmt"
	"io"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/common/expfmt"

	"github.com/guimove/hpcfit/internal/placement"
)

// Recorder counts placement attempts and scenario outcomes on a private
// registry. It implements placement.Observer and is safe for concurrent use.
type Recorder struct {
	registry *prometheus.Registry

	attempts *prometheus.CounterVec
	nodes    prometheus.Histogram
	retries  prometheus.Counter

	placedJobs  *prometheus.GaugeVec
	pendingJobs *prometheus.GaugeVec
	utilization *prometheus.GaugeVec
}

var _ placement.Observer = (*Recorder)(nil)

// NewRecorder creates a recorder with every collector registered.
func NewRecorder() *Recorder {
	r := &Recorder{
		registry: prometheus.NewRegistry(),
		attempts: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "hpcfit_placement_attempts_total",
			Help: "Placement attempts by strategy and result",
		}, []string{"strategy", "result"}),
		nodes: prometheus.NewHistogram(prometheus.HistogramOpts{
			Name:    "hpcfit_placement_nodes",
			Help:    "Nodes granted per successful placement",
			Buckets: prometheus.ExponentialBuckets(1, 2, 12),
		}),
		retries: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "hpcfit_placement_span_retries_total",
			Help: "Placements restarted with a lower node target to meet a leaf switch limit",
		}),
		placedJobs: prometheus.NewGaugeVec(prometheus.GaugeOpts{
			Name: "hpcfit_scenario_placed_jobs",
			Help: "Jobs placed by the last run of a scenario",
		}, []string{"scenario"}),
		pendingJobs: prometheus.NewGaugeVec(prometheus.GaugeOpts{
			Name: "hpcfit_scenario_pending_jobs",
			Help: "Jobs left pending by the last run of a scenario",
		}, []string{"scenario"}),
		utilization: prometheus.NewGaugeVec(prometheus.GaugeOpts{
			Name: "hpcfit_scenario_cpu_utilization",
			Help: "Fraction of cluster CPUs allocated after a scenario",
		}, []string{"scenario"}),
	}
	r.registry.MustRegister(r.attempts, r.nodes, r.retries, r.placedJobs, r.pendingJobs, r.utilization)
	return r
}

// ObservePlacement records one Place call.
func (r *Recorder) ObservePlacement(strategy string, err error, nodes, retries int) {
	r.attempts.WithLabelValues(strategy, placement.Reason(err)).Inc()
	if err == nil {
		r.nodes.Observe(float64(nodes))
	}
	if retries > 0 {
		r.retries.Add(float64(retries))
	}
}

// ObserveScenario records the totals of a finished scenario.
func (r *Recorder) ObserveScenario(scenario string, placed, pending int, utilization float64) {
	r.placedJobs.WithLabelValues(scenario).Set(float64(placed))
	r.pendingJobs.WithLabelValues(scenario).Set(float64(pending))
	r.utilization.WithLabelValues(scenario).Set(utilization)
}

// Registry exposes the registry for serving or further registration.
func (r *Recorder) Registry() *prometheus.Registry {
	return r.registry
}

// WriteText writes every metric in the Prometheus text exposition format.
func (r *Recorder) WriteText(w io.Writer) error {
	families, err := r.registry.Gather()
	if err != nil {
		return fmt.Errorf("gathering metrics: %w", err)
	}
	for _, mf := range families {
		if _, err := expfmt.MetricFamilyToText(w, mf); err != nil {
			return fmt.Errorf("writing metric %s: %w", mf.GetName(), err)
		}
	}
	return nil
}
