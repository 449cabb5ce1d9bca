// Package placement selects the nodes, CPUs and GRES units a job receives,
// honoring the cluster topology and the scheduling policy.
package placement

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/bits-and-blooms/bitset"
	"github.com/hashicorp/go-hclog"

	"github.com/guimove/hpcfit/internal/gres"
	"github.com/guimove/hpcfit/internal/model"
	"github.com/guimove/hpcfit/internal/nodeset"
	"github.com/guimove/hpcfit/internal/topology"
)

// Policy holds the cluster-wide scheduling switches consulted during
// dispatch.
type Policy struct {
	// Place one-CPU one-node jobs at the tail of the node range.
	PackSerialAtEnd bool `json:"pack_serial_at_end"`
	// Prefer nodes that already run work.
	PreferAllocNodes bool `json:"prefer_alloc_nodes"`
	// Least loaded node selection for every job.
	LeastLoaded bool `json:"least_loaded"`
	// Bind cores to the sockets of granted GRES for every job.
	EnforceBinding bool `json:"enforce_binding"`
}

// Observer receives the outcome of every placement.
type Observer interface {
	ObservePlacement(strategy string, err error, nodes, retries int)
}

// Option configures an Evaluator.
type Option func(*Evaluator)

// WithLogger sets the logger for trace diagnostics.
func WithLogger(logger hclog.Logger) Option {
	return func(e *Evaluator) { e.logger = logger.Named("placement") }
}

// WithObserver registers an observer.
func WithObserver(o Observer) Option {
	return func(e *Evaluator) { e.observer = o }
}

// WithClock overrides the time source used for switch wait deadlines.
func WithClock(now func() time.Time) Option {
	return func(e *Evaluator) { e.now = now }
}

// Evaluator dispatches jobs to placement strategies. It is immutable after
// New and safe for concurrent use on distinct inputs.
type Evaluator struct {
	policy   Policy
	logger   hclog.Logger
	observer Observer
	now      func() time.Time
}

// New returns an Evaluator for policy.
func New(policy Policy, opts ...Option) *Evaluator {
	e := &Evaluator{
		policy: policy,
		logger: hclog.NewNullLogger(),
		now:    time.Now,
	}
	for _, opt := range opts {
		opt(e)
	}
	return e
}

// Policy returns the evaluator's policy.
func (e *Evaluator) Policy() Policy { return e.policy }

// PlaceInput is everything one placement attempt reads. Nodes and Universe
// are updated in place on success only.
type PlaceInput struct {
	Job *model.JobRequest

	// Nodes the job may use, as indices into Nodes.
	Universe *bitset.BitSet

	Nodes    []*model.NodeResource
	Topology topology.View

	// Nodes without running work; nil derives it from NodeResource.Idle.
	Idle *bitset.BitSet
}

// Place selects nodes for in.Job. On success in.Universe is narrowed to the
// selection and every selected node's AvailCPUs and AvailCores are narrowed
// to the grant. On failure nothing is modified.
func (e *Evaluator) Place(ctx context.Context, in PlaceInput) (*model.Placement, error) {
	strategy, a, err := e.prepare(ctx, in)
	name := "none"
	if strategy != nil {
		name = strategy.Name()
	}
	if err == nil {
		err = e.run(ctx, strategy, a)
	}
	if errors.Is(err, ErrBreakEval) {
		err = fmt.Errorf("%w: %v", ErrInsufficientResources, err)
	}

	var (
		placement *model.Placement
		retries   int
	)
	if a != nil {
		retries = a.retries
	}
	if err == nil {
		placement = a.placement(name)
		a.commit(in)
	}

	e.logger.Trace("placement finished", "job", jobID(in.Job), "strategy", name,
		"nodes", nodeCount(placement), "retries", retries, "error", err)
	if e.observer != nil {
		e.observer.ObservePlacement(name, err, nodeCount(placement), retries)
	}
	return placement, err
}

func jobID(job *model.JobRequest) string {
	if job == nil {
		return ""
	}
	return job.ID
}

func nodeCount(p *model.Placement) int {
	if p == nil {
		return 0
	}
	return len(p.Nodes)
}

// prepare validates the input, filters every universe node and picks the
// strategy.
func (e *Evaluator) prepare(ctx context.Context, in PlaceInput) (Strategy, *attempt, error) {
	if err := ctx.Err(); err != nil {
		return nil, nil, err
	}
	job := in.Job
	if job == nil {
		return nil, nil, fmt.Errorf("%w: no job", ErrInsufficientResources)
	}
	if err := job.Validate(); err != nil {
		return nil, nil, fmt.Errorf("%w: %v", ErrInsufficientResources, err)
	}
	target := job.NodeTarget()
	if job.SegmentSize > 0 && target%job.SegmentSize != 0 {
		return nil, nil, fmt.Errorf("%w: segment size %d does not divide %d nodes",
			ErrTopologyConfigUnavailable, job.SegmentSize, target)
	}

	strategy := e.choose(job, in.Topology)
	a := newAttempt(e, in)

	if !nodeset.Subset(a.required, in.Universe) {
		return strategy, a, fmt.Errorf("%w: %s not in universe", ErrRequiredNodesUnavailable,
			nodeset.Format(difference(a.required, in.Universe)))
	}
	a.filter()
	if !nodeset.Subset(a.required, a.usable) {
		return strategy, a, fmt.Errorf("%w: %s cannot host the job", ErrRequiredNodesUnavailable,
			nodeset.Format(difference(a.required, a.usable)))
	}
	if nodeset.Count(a.usable) < job.MinNodes {
		return strategy, a, fmt.Errorf("%w: %d usable nodes, need %d", ErrInsufficientResources,
			nodeset.Count(a.usable), job.MinNodes)
	}
	return strategy, a, nil
}

func difference(a, b *bitset.BitSet) *bitset.BitSet {
	out := nodeset.Clone(a)
	if b != nil {
		out.InPlaceDifference(b)
	}
	return out
}

// choose maps the job flags and policy to a strategy.
func (e *Evaluator) choose(job *model.JobRequest, view topology.View) Strategy {
	if view != nil && !job.Contiguous {
		switch v := view.(type) {
		case *topology.Dragonfly:
			return &dragonflyStrategy{view: v}
		case *topology.Tree:
			return &treeStrategy{view: v}
		case *topology.Block:
			return &blockStrategy{view: v}
		case *topology.Ring:
			return &ringStrategy{view: v}
		}
	}
	switch {
	case job.Contiguous:
		return consecutiveStrategy{}
	case job.Spread:
		return spreadStrategy
	case e.policy.PreferAllocNodes:
		return busyStrategy
	case job.LeastLoaded || e.policy.LeastLoaded:
		return llnStrategy
	case e.policy.PackSerialAtEnd && job.MinCPUs <= 1 && job.NodeMax() == 1:
		return serialStrategy
	default:
		return consecutiveStrategy{}
	}
}

func (e *Evaluator) run(ctx context.Context, s Strategy, a *attempt) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	a.ctx = ctx
	a.reset(a.job.NodeTarget())
	return s.place(a)
}

// Strategy is one node selection algorithm. The set of strategies is
// closed.
type Strategy interface {
	Name() string
	place(a *attempt) error
}

// filterOptions returns the filter mode for job under the policy.
func (e *Evaluator) filterOptions(job *model.JobRequest) gres.FilterOptions {
	return gres.FilterOptions{
		EnforceBinding: e.policy.EnforceBinding || job.EnforceBinding,
		FirstPass:      job.FirstPass,
	}
}
