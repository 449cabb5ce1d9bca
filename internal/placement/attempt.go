package placement

import (
	"context"
	"math"
	"time"

	"github.com/bits-and-blooms/bitset"
	"github.com/hashicorp/go-hclog"

	"github.com/guimove/hpcfit/internal/gres"
	"github.com/guimove/hpcfit/internal/model"
	"github.com/guimove/hpcfit/internal/nodeset"
)

// attempt is the working state of one Place call: attempt-local node copies,
// their filter results and the candidate set being assembled. Nothing in it
// outlives the call.
type attempt struct {
	ctx    context.Context
	job    *model.JobRequest
	logger hclog.Logger
	now    time.Time
	opts   gres.FilterOptions

	size     int
	base     []*model.NodeResource // filtered copies, never modified after filter
	baseRes  []gres.FilterResult
	usable   *bitset.BitSet
	required *bitset.BitSet
	idle     *bitset.BitSet

	// reset for every try
	nodes    []*model.NodeResource
	res      []gres.FilterResult
	selected *bitset.BitSet
	tried    *bitset.BitSet
	cpus     []int
	acc      *gres.Accumulator
	jobGres  bool

	target      int
	remNodes    int
	minRemNodes int
	maxNodes    int
	remCPUs     int
	remMaxCPUs  int

	leafSwitches int
	bestSwitch   bool
	retries      int
}

func newAttempt(e *Evaluator, in PlaceInput) *attempt {
	size := len(in.Nodes)
	a := &attempt{
		job:      in.Job,
		logger:   e.logger,
		now:      e.now(),
		opts:     e.filterOptions(in.Job),
		size:     size,
		base:     make([]*model.NodeResource, size),
		baseRes:  make([]gres.FilterResult, size),
		usable:   nodeset.New(size),
		required: nodeset.Of(size, in.Job.RequiredNodes...),
		idle:     in.Idle,
	}
	if a.idle == nil {
		a.idle = nodeset.New(size)
		for i, n := range in.Nodes {
			if n != nil && n.Idle {
				a.idle.Set(uint(i))
			}
		}
	}
	nodeset.ForEach(in.Universe, func(i int) bool {
		if i < size && in.Nodes[i] != nil {
			a.base[i] = in.Nodes[i].Clone()
		}
		return true
	})
	return a
}

// filter runs the core and GRES filter over every universe node.
func (a *attempt) filter() {
	for i, n := range a.base {
		if n == nil {
			continue
		}
		a.baseRes[i] = gres.Filter(n, a.job, a.opts)
		if a.baseRes[i].Feasible() {
			a.usable.Set(uint(i))
		} else {
			a.logger.Trace("node filtered out", "job", a.job.ID, "node", n.Name)
		}
	}
}

// reset discards the candidate set and starts over with a node target.
func (a *attempt) reset(target int) {
	a.nodes = make([]*model.NodeResource, a.size)
	a.res = make([]gres.FilterResult, a.size)
	nodeset.ForEach(a.usable, func(i int) bool {
		a.nodes[i] = a.base[i].Clone()
		a.res[i] = a.baseRes[i].Clone()
		return true
	})
	a.selected = nodeset.New(a.size)
	a.tried = nodeset.New(a.size)
	a.cpus = make([]int, a.size)
	a.acc, a.jobGres = gres.NewAccumulator(a.job)

	a.target = target
	a.remNodes = target
	a.minRemNodes = a.job.MinNodes
	a.maxNodes = a.job.NodeMax()
	a.remCPUs = a.job.MinCPUs
	a.remMaxCPUs = math.MaxInt
	if a.job.MaxCPUs > 0 {
		a.remMaxCPUs = a.job.MaxCPUs
	}
	a.leafSwitches = 0
	a.bestSwitch = true
}

func (a *attempt) floor(i int) int {
	return gres.Floor(a.job, a.res[i].MinTasks, a.nodes[i].Threads())
}

// cpusToUse returns the CPUs node i would be granted now, or 0 when it
// cannot join. The grant covers the remaining CPU demand, keeps this node's
// floor in reserve for every node still to come, and is rounded up to whole
// cores.
func (a *attempt) cpusToUse(i int) int {
	avail := a.res[i].AvailCPUs
	floor := a.floor(i)
	if avail < floor {
		return 0
	}

	use := avail
	reserve := max(a.remNodes-1, 0) * floor
	if a.remMaxCPUs != math.MaxInt {
		use = min(use, a.remMaxCPUs-reserve)
	}
	if !a.jobGres || a.acc.Sufficient() {
		use = min(use, max(a.remCPUs-reserve, floor, a.gresCPUs(i)))
	}
	threads := a.nodes[i].Threads()
	use = min(avail, (use+threads-1)/threads*threads)
	if use < floor || (a.remMaxCPUs != math.MaxInt && use > a.remMaxCPUs) {
		return 0
	}
	return use
}

// gresCPUs returns the CPUs implied by cpus_per_gres for the GRES granted
// on node i.
func (a *attempt) gresCPUs(i int) int {
	total := 0
	for k, g := range a.res[i].Grants {
		if cpg := a.job.Gres[k].CPUsPerGres; cpg > 0 {
			total += int(g.Total) * cpg
		}
	}
	return total
}

// add moves node i into the candidate set.
func (a *attempt) add(i int) bool {
	if i < 0 || i >= a.size || !a.usable.Test(uint(i)) || a.selected.Test(uint(i)) || a.maxNodes <= 0 {
		return false
	}
	if a.cpusToUse(i) == 0 {
		a.tried.Set(uint(i))
		return false
	}
	if a.jobGres {
		if err := a.acc.Add(a.nodes[i], &a.res[i], a.floor(i)); err != nil {
			a.logger.Trace("node rejected by gres accounting", "job", a.job.ID, "node", a.nodes[i].Name, "error", err)
			a.tried.Set(uint(i))
			return false
		}
	}
	use := a.cpusToUse(i)
	if use == 0 {
		a.tried.Set(uint(i))
		return false
	}

	a.selected.Set(uint(i))
	a.cpus[i] = use
	a.remNodes--
	a.minRemNodes--
	a.maxNodes--
	a.remCPUs -= use
	if a.remMaxCPUs != math.MaxInt {
		a.remMaxCPUs -= use
	}
	return true
}

// consumeRequired adds the required nodes first.
func (a *attempt) consumeRequired() error {
	var err error
	nodeset.ForEach(a.required, func(i int) bool {
		if !a.add(i) {
			err = ErrBreakEval
			return false
		}
		return true
	})
	return err
}

func (a *attempt) satisfied() bool {
	return a.remNodes <= 0 && a.remCPUs <= 0 && a.acc.Sufficient()
}

func (a *attempt) acceptable() bool {
	return a.minRemNodes <= 0 && a.remCPUs <= 0 && a.acc.Sufficient()
}

func (a *attempt) done() bool {
	return a.satisfied() || a.maxNodes <= 0
}

// finish maps the final candidate set to success or failure.
func (a *attempt) finish() error {
	if a.acceptable() {
		return nil
	}
	return ErrInsufficientResources
}

// free returns the usable nodes of set that are neither selected nor
// already rejected.
func (a *attempt) free(set *bitset.BitSet) *bitset.BitSet {
	out := nodeset.Clone(set)
	out.InPlaceIntersection(a.usable)
	out.InPlaceDifference(a.selected)
	out.InPlaceDifference(a.tried)
	return out
}

// freeCPUs sums the filtered CPUs of the nodes in set.
func (a *attempt) freeCPUs(set *bitset.BitSet) int {
	total := 0
	nodeset.ForEach(set, func(i int) bool {
		total += a.res[i].AvailCPUs
		return true
	})
	return total
}

// poolSufficient reports whether adding every free node of pool would meet
// the demand. strict asks for the node target, otherwise the minimum.
func (a *attempt) poolSufficient(pool *bitset.BitSet, strict bool) bool {
	free := a.free(pool)
	count := nodeset.Count(free)
	need := a.minRemNodes
	if strict {
		need = a.remNodes
	}
	if min(count, a.maxNodes) < need {
		return false
	}
	if a.freeCPUs(free) < a.remCPUs {
		return false
	}
	if a.jobGres {
		c := a.acc.NewConsec()
		nodeset.ForEach(free, func(i int) bool {
			a.acc.ConsecAdd(c, &a.res[i])
			return true
		})
		if !a.acc.ConsecSufficient(c) {
			return false
		}
	}
	return true
}

// addAll adds the nodes of ids in order until the demand is met.
func (a *attempt) addAll(ids []int) {
	for _, i := range ids {
		if a.done() {
			return
		}
		a.add(i)
	}
}

// byWeight returns the free nodes of set, lowest weight first, then by
// index.
func (a *attempt) byWeight(set *bitset.BitSet) []int {
	var out []int
	for _, g := range GroupByWeight(a.free(set), a.nodes) {
		out = append(out, nodeset.Slice(g.Nodes)...)
	}
	return out
}

// placement renders the committed candidate set.
func (a *attempt) placement(strategy string) *model.Placement {
	p := &model.Placement{
		JobID:        a.job.ID,
		Strategy:     strategy,
		GresTotals:   a.acc.Totals(),
		LeafSwitches: a.leafSwitches,
		BestSwitch:   a.bestSwitch,
		NodeTarget:   a.target,
	}
	nodeset.ForEach(a.selected, func(i int) bool {
		n := a.nodes[i]
		gres.TrimCores(n, a.res[i].RequiredSockets, ceilDiv(a.cpus[i], n.Threads()))
		grant := model.NodeGrant{
			Node:  i,
			Name:  n.Name,
			CPUs:  a.cpus[i],
			Cores: nodeset.Format(n.AvailCores),
		}
		for _, g := range a.res[i].Grants {
			if g.Total == 0 {
				continue
			}
			grant.Gres = append(grant.Gres, model.GresGrant{
				Name:       g.Name,
				Type:       g.Type,
				Count:      g.Total,
				PerSocket:  append([]uint64(nil), g.PerSocket...),
				NoAffinity: g.NoAffinity,
			})
		}
		p.Nodes = append(p.Nodes, grant)
		return true
	})
	return p
}

// commit writes the grant back to the caller's nodes and universe.
func (a *attempt) commit(in PlaceInput) {
	nodeset.ForEach(a.selected, func(i int) bool {
		in.Nodes[i].AvailCPUs = a.cpus[i]
		in.Nodes[i].AvailCores = a.nodes[i].AvailCores.Clone()
		return true
	})
	in.Universe.InPlaceIntersection(a.selected)
}

func ceilDiv(a, b int) int {
	if b <= 0 {
		return a
	}
	return (a + b - 1) / b
}
