package orchestrator

import (
	"context"
	"errors"
	"fmt"
	"io"
	"os"

	"github.com/hashicorp/go-hclog"
	"github.com/hashicorp/go-set/v3"

	"github.com/guimove/hpcfit/internal/config"
	"github.com/guimove/hpcfit/internal/metrics"
	"github.com/guimove/hpcfit/internal/model"
	"github.com/guimove/hpcfit/internal/placement"
	"github.com/guimove/hpcfit/internal/report"
	"github.com/guimove/hpcfit/internal/simulation"
	"github.com/guimove/hpcfit/internal/snapshot"
	"github.com/guimove/hpcfit/internal/topology"
)

var (
	ErrUnknownJob      = errors.New("job not in snapshot")
	ErrUnknownScenario = errors.New("unknown scenario")
)

// Orchestrator coordinates the end-to-end pipeline: load a snapshot, run
// placements or scenarios, and report.
type Orchestrator struct {
	Source snapshot.Source
	Config config.Config
	Writer io.Writer
	Logger hclog.Logger

	// Optional; receives placement and scenario metrics.
	Recorder *metrics.Recorder
}

// New creates an orchestrator with the given dependencies.
func New(source snapshot.Source, cfg config.Config) *Orchestrator {
	return &Orchestrator{
		Source: source,
		Config: cfg,
		Writer: os.Stdout,
		Logger: hclog.NewNullLogger(),
	}
}

// Load pings the source and returns its snapshot.
func (o *Orchestrator) Load(ctx context.Context) (*model.Snapshot, error) {
	if err := o.Source.Ping(ctx); err != nil {
		return nil, fmt.Errorf("connecting to %s source: %w", o.Source.BackendType(), err)
	}
	snap, err := o.Source.Load(ctx)
	if err != nil {
		return nil, fmt.Errorf("loading snapshot: %w", err)
	}
	if o.Config.Cluster.Name != "" {
		snap.Cluster = o.Config.Cluster.Name
	}
	o.Logger.Debug("snapshot loaded", "source", o.Source.BackendType(),
		"nodes", len(snap.Nodes), "jobs", len(snap.Jobs))
	return snap, nil
}

// Place runs one scheduling pass with the configured policy over the
// snapshot queue, or only over jobIDs when given, and reports per-job
// outcomes.
func (o *Orchestrator) Place(ctx context.Context, jobIDs []string) ([]model.JobOutcome, error) {
	snap, err := o.Load(ctx)
	if err != nil {
		return nil, err
	}
	jobs, err := selectJobs(snap, jobIDs)
	if err != nil {
		return nil, err
	}
	view, err := snap.Topology.Build()
	if err != nil {
		return nil, fmt.Errorf("building topology: %w", err)
	}

	opts := []placement.Option{placement.WithLogger(o.Logger)}
	if o.Recorder != nil {
		opts = append(opts, placement.WithObserver(o.Recorder))
	}
	policy := o.Config.Policy()
	eval := placement.New(policy, opts...)

	pr, err := simulation.RunPass(ctx, eval, simulation.PassInput{
		Jobs:     jobs,
		Nodes:    snap.CloneNodes(),
		Topology: view,
	})
	if err != nil {
		return nil, fmt.Errorf("placing jobs: %w", err)
	}

	meta := o.meta(snap, view)
	meta.TotalJobs = len(jobs)
	meta.Policy = simulation.PolicyLabel(policy)
	reporter := report.NewReporter(o.Config.Output.Format, o.Writer)
	if err := reporter.Placements(ctx, pr.Outcomes, meta); err != nil {
		return nil, fmt.Errorf("generating report: %w", err)
	}
	return pr.Outcomes, nil
}

// Simulate runs every configured scenario over the snapshot, ranks them
// and reports the top ones.
func (o *Orchestrator) Simulate(ctx context.Context) ([]model.Recommendation, error) {
	cfg := o.Config

	snap, err := o.Load(ctx)
	if err != nil {
		return nil, err
	}
	scenarios, err := selectScenarios(simulation.GenerateScenarios(cfg.Policy()), cfg.Simulation.Scenarios)
	if err != nil {
		return nil, err
	}

	o.Logger.Info("running scenarios", "scenarios", len(scenarios),
		"jobs", len(snap.Jobs), "nodes", len(snap.Nodes))

	engine := simulation.NewEngine(simulation.NewScorer(cfg.Weights()))
	engine.Logger = o.Logger
	if cfg.Simulation.Parallelism > 0 {
		engine.Parallelism = cfg.Simulation.Parallelism
	}
	if o.Recorder != nil {
		engine.Observer = o.Recorder
	}

	recs, err := engine.RunAll(ctx, scenarios, snap)
	if err != nil {
		return nil, fmt.Errorf("running simulations: %w", err)
	}

	// Limit to top N
	if cfg.Output.TopN > 0 && len(recs) > cfg.Output.TopN {
		recs = recs[:cfg.Output.TopN]
	}

	view, _ := snap.Topology.Build()
	reporter := report.NewReporter(cfg.Output.Format, o.Writer)
	if err := reporter.Report(ctx, recs, o.meta(snap, view)); err != nil {
		return nil, fmt.Errorf("generating report: %w", err)
	}
	return recs, nil
}

func (o *Orchestrator) meta(snap *model.Snapshot, view topology.View) report.ReportMeta {
	meta := report.ReportMeta{
		ClusterName: snap.Cluster,
		Source:      o.Source.BackendType(),
		CollectedAt: snap.CollectedAt,
		TotalNodes:  len(snap.Nodes),
		TotalJobs:   len(snap.Jobs),
	}
	if view != nil {
		meta.Topology = string(view.Kind())
	}
	return meta
}

// selectJobs returns the snapshot jobs named by ids in queue order, or the
// whole queue when ids is empty.
func selectJobs(snap *model.Snapshot, ids []string) ([]model.JobRequest, error) {
	if len(ids) == 0 {
		return snap.Jobs, nil
	}
	want := set.From(ids)
	var jobs []model.JobRequest
	for _, j := range snap.Jobs {
		if want.Contains(j.ID) {
			jobs = append(jobs, j)
			want.Remove(j.ID)
		}
	}
	if want.Size() > 0 {
		return nil, fmt.Errorf("%w: %v", ErrUnknownJob, want.Slice())
	}
	return jobs, nil
}

// selectScenarios keeps the named scenarios, all of them when names is
// empty.
func selectScenarios(all []simulation.Scenario, names []string) ([]simulation.Scenario, error) {
	if len(names) == 0 {
		return all, nil
	}
	byName := make(map[string]simulation.Scenario, len(all))
	for _, sc := range all {
		byName[sc.Name] = sc
	}
	out := make([]simulation.Scenario, 0, len(names))
	for _, name := range names {
		sc, ok := byName[name]
		if !ok {
			return nil, fmt.Errorf("%w: %q", ErrUnknownScenario, name)
		}
		out = append(out, sc)
	}
	return out, nil
}

// WriteMetrics dumps the recorded metrics in text exposition format. It is a
// no-op without a recorder.
func (o *Orchestrator) WriteMetrics(w io.Writer) error {
	if o.Recorder == nil {
		return nil
	}
	return o.Recorder.WriteText(w)
}
