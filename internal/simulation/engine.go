package simulation

import (
	"context"
	"errors"
	"fmt"
	"runtime"
	"sync"
	"time"

	"github.com/hashicorp/go-hclog"
	"github.com/hashicorp/go-multierror"
	"github.com/hashicorp/go-set/v3"

	"github.com/guimove/hpcfit/internal/model"
	"github.com/guimove/hpcfit/internal/placement"
	"github.com/guimove/hpcfit/internal/topology"
)

var (
	ErrNoScenarios       = errors.New("no simulation scenarios provided")
	ErrDuplicateScenario = errors.New("duplicate scenario name")
)

// ScenarioObserver receives the totals of each finished scenario.
type ScenarioObserver interface {
	ObserveScenario(scenario string, placed, pending int, utilization float64)
}

// Engine runs scheduling passes for several policy scenarios over one
// snapshot and ranks them.
type Engine struct {
	Scorer      *Scorer
	Parallelism int
	Logger      hclog.Logger

	// Optional; Observer also implementing ScenarioObserver gets scenario totals.
	Observer placement.Observer
}

// NewEngine creates a simulation engine.
func NewEngine(scorer *Scorer) *Engine {
	return &Engine{
		Scorer:      scorer,
		Parallelism: runtime.NumCPU(),
		Logger:      hclog.NewNullLogger(),
	}
}

// Scenario defines a single simulation run configuration.
type Scenario struct {
	Name   string           `json:"name"`
	Policy placement.Policy `json:"policy"`
}

// RunAll executes all scenarios and returns ranked recommendations. Failed
// scenarios are logged and skipped; RunAll fails only when none succeeds.
func (e *Engine) RunAll(
	ctx context.Context,
	scenarios []Scenario,
	snap *model.Snapshot,
) ([]model.Recommendation, error) {
	if len(scenarios) == 0 {
		return nil, ErrNoScenarios
	}
	names := set.New[string](len(scenarios))
	for _, sc := range scenarios {
		if !names.Insert(sc.Name) {
			return nil, fmt.Errorf("%w: %q", ErrDuplicateScenario, sc.Name)
		}
	}

	view, err := snap.Topology.Build()
	if err != nil {
		return nil, fmt.Errorf("building topology: %w", err)
	}

	results := make([]model.ScenarioResult, len(scenarios))
	errs := make([]error, len(scenarios))

	// Run scenarios in parallel using a worker pool
	sem := make(chan struct{}, max(e.Parallelism, 1))
	var wg sync.WaitGroup

	for i, sc := range scenarios {
		wg.Add(1)
		go func(idx int, scenario Scenario) {
			defer wg.Done()
			sem <- struct{}{}
			defer func() { <-sem }()

			results[idx], errs[idx] = e.run(ctx, scenario, snap, view)
		}(i, sc)
	}

	wg.Wait()

	var successful []model.ScenarioResult
	var mErr *multierror.Error
	for i, err := range errs {
		if err != nil {
			if ctx.Err() != nil {
				return nil, ctx.Err()
			}
			e.logger().Warn("scenario failed", "scenario", scenarios[i].Name, "error", err)
			mErr = multierror.Append(mErr, err)
			continue
		}
		successful = append(successful, results[i])
	}

	if len(successful) == 0 {
		return nil, fmt.Errorf("all simulation scenarios failed: %w", mErr.ErrorOrNil())
	}

	return e.Scorer.RankResults(successful), nil
}

// Run executes a single scenario.
func (e *Engine) Run(ctx context.Context, scenario Scenario, snap *model.Snapshot) (model.ScenarioResult, error) {
	view, err := snap.Topology.Build()
	if err != nil {
		return model.ScenarioResult{}, fmt.Errorf("building topology: %w", err)
	}
	return e.run(ctx, scenario, snap, view)
}

func (e *Engine) run(
	ctx context.Context,
	scenario Scenario,
	snap *model.Snapshot,
	view topology.View,
) (model.ScenarioResult, error) {
	start := time.Now()
	logger := e.logger().With("scenario", scenario.Name)

	opts := []placement.Option{placement.WithLogger(logger)}
	if e.Observer != nil {
		opts = append(opts, placement.WithObserver(e.Observer))
	}
	eval := placement.New(scenario.Policy, opts...)

	nodes := snap.CloneNodes()
	pr, err := RunPass(ctx, eval, PassInput{
		Jobs:     snap.Jobs,
		Nodes:    nodes,
		Topology: view,
	})
	if err != nil {
		return model.ScenarioResult{}, fmt.Errorf("scenario %q: %w", scenario.Name, err)
	}

	sr := buildScenarioResult(pr, scenario, time.Since(start))
	logger.Debug("scenario finished", "placed", sr.Placed, "pending", sr.Pending,
		"utilization", sr.CPUUtilization, "duration", sr.SimulationDuration)

	if so, ok := e.Observer.(ScenarioObserver); ok {
		so.ObserveScenario(scenario.Name, sr.Placed, sr.Pending, sr.CPUUtilization)
	}
	return sr, nil
}

func (e *Engine) logger() hclog.Logger {
	if e.Logger == nil {
		return hclog.NewNullLogger()
	}
	return e.Logger
}

// buildScenarioResult computes aggregate metrics from a pass.
func buildScenarioResult(pr *PassResult, scenario Scenario, duration time.Duration) model.ScenarioResult {
	sr := model.ScenarioResult{
		Scenario:           scenario.Name,
		Policy:             PolicyLabel(scenario.Policy),
		Outcomes:           pr.Outcomes,
		TotalNodes:         len(pr.Nodes),
		SimulationDuration: duration,
	}

	free := 0
	for _, n := range pr.Nodes {
		sr.TotalCPUs += n.TotalCPUs()
		free += n.AvailCPUs
	}
	sr.AllocatedCPUs = sr.TotalCPUs - free
	if sr.TotalCPUs > 0 {
		sr.CPUUtilization = float64(sr.AllocatedCPUs) / float64(sr.TotalCPUs)
	}

	spanned, leaves := 0, 0
	for _, o := range pr.Outcomes {
		if !o.Placed() {
			sr.Pending++
			continue
		}
		sr.Placed++
		if o.Placement.LeafSwitches > 0 {
			spanned++
			leaves += o.Placement.LeafSwitches
		}
	}
	if spanned > 0 {
		sr.AvgLeafSwitches = float64(leaves) / float64(spanned)
	}

	sr.Fragmentation = AnalyzeFragmentation(pr.Nodes)
	return sr
}

// PolicyLabel renders the enabled policy flags, "default" when none is.
func PolicyLabel(p placement.Policy) string {
	var label string
	add := func(on bool, name string) {
		if !on {
			return
		}
		if label != "" {
			label += "+"
		}
		label += name
	}
	add(p.PackSerialAtEnd, "pack-serial-at-end")
	add(p.PreferAllocNodes, "prefer-alloc-nodes")
	add(p.LeastLoaded, "lln")
	add(p.EnforceBinding, "enforce-binding")
	if label == "" {
		return "default"
	}
	return label
}

// GenerateScenarios derives one scenario per node-selection policy from a
// base policy: the base itself, least loaded, busy nodes first and serial
// jobs packed at the end.
func GenerateScenarios(base placement.Policy) []Scenario {
	lln := base
	lln.LeastLoaded = true
	busy := base
	busy.PreferAllocNodes = true
	serial := base
	serial.PackSerialAtEnd = true

	return []Scenario{
		{Name: "base", Policy: base},
		{Name: "least-loaded", Policy: lln},
		{Name: "prefer-alloc", Policy: busy},
		{Name: "serial-at-end", Policy: serial},
	}
}
