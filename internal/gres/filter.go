// Package gres computes per-node CPU, core and generic resource availability
// for a job, and tracks job-level GRES totals while a candidate node set is
// assembled.
package gres

import (
	"sort"

	"github.com/bits-and-blooms/bitset"

	"github.com/guimove/hpcfit/internal/model"
	"github.com/guimove/hpcfit/internal/nodeset"
)

// FilterOptions selects the binding mode of one filter call.
type FilterOptions struct {
	// Restrict cores to the sockets of the granted GRES.
	EnforceBinding bool
	// First scheduling pass; binds like EnforceBinding.
	FirstPass bool
}

// Grant is the GRES a node can supply for one job request.
type Grant struct {
	Name       string
	Type       string
	Total      uint64
	PerSocket  []uint64
	NoAffinity uint64
}

func (g Grant) clone() Grant {
	g.PerSocket = append([]uint64(nil), g.PerSocket...)
	return g
}

// shrink lowers the grant to n units, releasing no-affinity units last.
func (g *Grant) shrink(n uint64) {
	for s := len(g.PerSocket) - 1; s >= 0 && g.Total > n; s-- {
		take := min(g.PerSocket[s], g.Total-n)
		g.PerSocket[s] -= take
		g.Total -= take
	}
	if g.Total > n {
		g.NoAffinity -= g.Total - n
		g.Total = n
	}
}

// FilterResult is the usable share of one node for one job. MaxTasks of 0
// means the node is infeasible.
type FilterResult struct {
	AvailCPUs int
	MinTasks  int
	MaxTasks  int
	MinCores  int

	// Sockets that hold granted GRES; nil when no socket is singled out.
	RequiredSockets []bool

	// One grant per job GRES request, in request order.
	Grants []Grant
}

// Feasible reports whether the node can host part of the job.
func (r *FilterResult) Feasible() bool { return r.MaxTasks > 0 && r.AvailCPUs > 0 }

// Clone deep-copies the result.
func (r FilterResult) Clone() FilterResult {
	out := r
	out.RequiredSockets = append([]bool(nil), r.RequiredSockets...)
	if r.Grants != nil {
		out.Grants = make([]Grant, len(r.Grants))
		for i, g := range r.Grants {
			out.Grants[i] = g.clone()
		}
	}
	return out
}

func infeasible() FilterResult { return FilterResult{} }

// filterState is the per-call scratch of Filter.
type filterState struct {
	node    *model.NodeResource
	job     *model.JobRequest
	opts    FilterOptions
	threads int

	taskCPUs int
	cpus     int
	ceiling  int
	minTasks int
	maxTasks int

	sockCores []int
	required  []bool
	grants    []Grant
}

// Floor returns the minimum CPUs a node must supply to the job.
func Floor(job *model.JobRequest, minTasks int, threads int) int {
	floor := max(1, job.MinCPUsPerNode, minTasks*taskCPUs(job, threads))
	if job.NodeMax() == 1 {
		floor = max(floor, job.MinCPUs)
	}
	return floor
}

// taskCPUs returns the CPUs consumed per task; whole cores when tasks may
// not share a core.
func taskCPUs(job *model.JobRequest, threads int) int {
	cpt := job.TaskCPUs()
	if job.NtasksPerCore == 1 && threads > 1 {
		return ceilDiv(cpt, threads) * threads
	}
	return cpt
}

func ceilDiv(a, b int) int {
	if b <= 0 {
		return a
	}
	return (a + b - 1) / b
}

// Filter computes what node can supply to job and narrows node.AvailCores to
// match. node must be an attempt-local copy.
func Filter(node *model.NodeResource, job *model.JobRequest, opts FilterOptions) FilterResult {
	st := &filterState{
		node:    node,
		job:     job,
		opts:    opts,
		threads: node.Threads(),
	}
	if node.AvailCores == nil {
		node.AvailCores = nodeset.New(node.Cores())
	}
	st.refresh()
	st.cpus = min(node.AvailCPUs, nodeset.Count(node.AvailCores)*st.threads)
	st.ceiling = st.cpus
	if st.cpus <= 0 {
		return infeasible()
	}

	if !st.baselineTasks() {
		return infeasible()
	}
	if job.HasGres() && !st.selectGres() {
		return infeasible()
	}
	floor := Floor(job, st.minTasks, st.threads)
	if st.ceiling < floor {
		return infeasible()
	}

	if st.binding() {
		st.dropUnrequiredSockets()
	}

	// the floor covers the task CPUs, rounded to whole cores per task when
	// tasks may not share a core
	minCores := ceilDiv(floor, st.threads)
	if minCores > nodeset.Count(node.AvailCores) {
		return infeasible()
	}

	if job.HasGres() {
		st.pruneRestricted()
		if minCores > nodeset.Count(node.AvailCores) {
			return infeasible()
		}
	}

	st.cpus = min(st.cpus, st.ceiling, nodeset.Count(node.AvailCores)*st.threads)
	if st.cpus < floor {
		return infeasible()
	}

	if job.HasGres() {
		keep := max(minCores, ceilDiv(st.cpus, st.threads))
		TrimCores(node, st.requiredMask(), keep)
	}

	return FilterResult{
		AvailCPUs:       st.cpus,
		MinTasks:        st.minTasks,
		MaxTasks:        st.maxTasks,
		MinCores:        minCores,
		RequiredSockets: st.requiredMask(),
		Grants:          st.grants,
	}
}

func (st *filterState) binding() bool {
	return st.opts.EnforceBinding || st.opts.FirstPass || st.job.EnforceBinding || st.job.FirstPass
}

func (st *filterState) refresh() {
	n := st.node
	if st.sockCores == nil {
		st.sockCores = make([]int, n.Sockets)
	}
	for s := 0; s < n.Sockets; s++ {
		st.sockCores[s] = n.SocketCores(s)
	}
}

// baselineTasks derives the task bounds for this node from the task layout
// fields.
func (st *filterState) baselineTasks() bool {
	job, n := st.job, st.node
	st.taskCPUs = taskCPUs(job, st.threads)

	st.maxTasks = st.cpus / st.taskCPUs
	if job.NtasksPerSocket > 0 {
		st.maxTasks = min(st.maxTasks, job.NtasksPerSocket*n.Sockets)
	}
	if job.NtasksPerCore > 0 {
		st.maxTasks = min(st.maxTasks, job.NtasksPerCore*nodeset.Count(n.AvailCores))
	}
	if job.NtasksPerBoard > 0 {
		st.maxTasks = min(st.maxTasks, job.NtasksPerBoard)
	}

	st.minTasks = 1
	switch {
	case job.NtasksPerNode > 0:
		st.minTasks = job.NtasksPerNode
		st.maxTasks = min(st.maxTasks, job.NtasksPerNode)
	case job.NumTasks > 0 && job.NodeMax() == 1:
		st.minTasks = job.NumTasks
	}
	if job.NumTasks > 0 {
		st.maxTasks = min(st.maxTasks, job.NumTasks)
	}

	return st.maxTasks > 0 && st.maxTasks >= st.minTasks
}

// socketOrder returns socket indices by descending available cores, stable
// on socket index.
func (st *filterState) socketOrder() []int {
	order := make([]int, len(st.sockCores))
	for i := range order {
		order[i] = i
	}
	sort.SliceStable(order, func(a, b int) bool {
		return st.sockCores[order[a]] > st.sockCores[order[b]]
	})
	return order
}

// selectGres grants units for every request and marks the contributing
// sockets required.
func (st *filterState) selectGres() bool {
	n, job := st.node, st.job
	st.required = make([]bool, n.Sockets)
	st.grants = make([]Grant, len(job.Gres))
	order := st.socketOrder()

	for k, req := range job.Gres {
		perSock := make([]uint64, n.Sockets)
		var noAff uint64
		for _, avail := range n.Gres {
			if !req.Matches(avail) {
				continue
			}
			noAff += avail.NoAffinity
			for s, c := range avail.PerSocket {
				if s < n.Sockets {
					perSock[s] += c
				}
			}
		}
		// units on sockets without usable cores are reachable only when
		// cores need not follow the GRES
		if !st.binding() {
			for s := range perSock {
				if st.sockCores[s] == 0 {
					noAff += perSock[s]
					perSock[s] = 0
				}
			}
		} else {
			for s := range perSock {
				if st.sockCores[s] == 0 {
					perSock[s] = 0
				}
			}
		}

		g := Grant{Name: req.Name, Type: req.Type, PerSocket: make([]uint64, n.Sockets)}
		if req.PerSocket > 0 {
			if !st.grantPerSocket(&g, req, perSock, order) {
				return false
			}
		} else {
			need, want := st.demand(req)
			if need > want {
				return false
			}
			take := min(noAff, want)
			g.NoAffinity, g.Total = take, take
			for _, s := range order {
				if g.Total >= want {
					break
				}
				t := min(perSock[s], want-g.Total)
				if t == 0 {
					continue
				}
				g.PerSocket[s] = t
				g.Total += t
				st.required[s] = true
			}
			if g.Total < need {
				return false
			}
		}

		if req.PerTask > 0 {
			st.maxTasks = min(st.maxTasks, int(g.Total/req.PerTask))
		}
		if req.NtasksPerGres > 0 {
			st.maxTasks = min(st.maxTasks, int(g.Total)*req.NtasksPerGres)
		}
		if st.maxTasks <= 0 || st.maxTasks < st.minTasks {
			return false
		}
		if req.CPUsPerGres > 0 && g.Total > 0 {
			st.ceiling = min(st.ceiling, int(g.Total)*req.CPUsPerGres)
		} else if req.CPUsPerGres > 0 {
			st.ceiling = 0
		}
		st.grants[k] = g
	}
	return true
}

// grantPerSocket gives PerSocket units to every socket able to hold them,
// best supplied socket first, within the node and job caps.
func (st *filterState) grantPerSocket(g *Grant, req model.GresRequest, perSock []uint64, order []int) bool {
	limit := capFor(req)
	for _, s := range order {
		if perSock[s] < req.PerSocket {
			continue
		}
		if limit > 0 && g.Total+req.PerSocket > limit {
			break
		}
		g.PerSocket[s] = req.PerSocket
		g.Total += req.PerSocket
		st.required[s] = true
	}
	return g.Total > 0
}

// capFor returns the per-node ceiling of a request, 0 when unbounded.
func capFor(req model.GresRequest) uint64 {
	limit := req.MaxPerNode
	if req.PerJob > 0 && (limit == 0 || req.PerJob < limit) {
		limit = req.PerJob
	}
	return limit
}

// demand returns the units this node must supply and the most it should
// take for a request without a per-socket count.
func (st *filterState) demand(req model.GresRequest) (need, want uint64) {
	switch {
	case req.PerTask > 0:
		need = req.PerTask * uint64(st.minTasks)
		want = req.PerTask * uint64(st.maxTasks)
	case req.PerNode > 0:
		need, want = req.PerNode, req.PerNode
	default:
		// job-level only: the node may contribute nothing
		need, want = 0, req.PerJob
	}
	if limit := capFor(req); limit > 0 && want > limit {
		want = limit
	}
	return need, want
}

// requiredMask returns the required sockets, or nil when none is singled
// out.
func (st *filterState) requiredMask() []bool {
	for _, r := range st.required {
		if r {
			return st.required
		}
	}
	return nil
}

func (st *filterState) dropUnrequiredSockets() {
	mask := st.requiredMask()
	if mask == nil {
		return
	}
	n := st.node
	for s, req := range mask {
		if req {
			continue
		}
		for c := s * n.CoresPerSocket; c < (s+1)*n.CoresPerSocket; c++ {
			n.AvailCores.Clear(uint(c))
		}
	}
	st.refresh()
	st.cpus = min(st.cpus, nodeset.Count(n.AvailCores)*st.threads)
	st.ceiling = min(st.ceiling, st.cpus)
}

// pruneRestricted applies the restricted cores per GPU limit for every GPU
// request.
func (st *filterState) pruneRestricted() {
	n := st.node
	if n.RestrictedCoresPerGPU <= 0 {
		return
	}
	for k, req := range st.job.Gres {
		if !req.IsGPU() {
			continue
		}
		restricted := restrictedCores(n, req)
		if restricted == nil || st.grants[k].Total == 0 {
			continue
		}
		PruneRestricted(n, restricted, st.requiredMask(), int(st.grants[k].Total)*n.RestrictedCoresPerGPU)
	}
	st.refresh()
}

// restrictedCores unions the restricted cores of every entry matching req.
func restrictedCores(n *model.NodeResource, req model.GresRequest) *bitset.BitSet {
	var out *bitset.BitSet
	for _, avail := range n.Gres {
		if !req.Matches(avail) || avail.RestrictedCores == nil {
			continue
		}
		if out == nil {
			out = avail.RestrictedCores.Clone()
			continue
		}
		out.InPlaceUnion(avail.RestrictedCores)
	}
	return out
}

// PruneRestricted removes available cores until at most limit remain. Cores
// outside restricted go first, then restricted cores on sockets not in
// required, then restricted cores on required sockets. Within each class the
// highest core index goes first.
func PruneRestricted(n *model.NodeResource, restricted *bitset.BitSet, required []bool, limit int) {
	excess := nodeset.Count(n.AvailCores) - limit
	if excess <= 0 {
		return
	}
	isRequired := func(core int) bool {
		return required == nil || required[n.SocketOf(core)]
	}
	classes := []func(core int) bool{
		func(core int) bool { return !nodeset.Has(restricted, core) },
		func(core int) bool { return nodeset.Has(restricted, core) && !isRequired(core) },
		func(core int) bool { return nodeset.Has(restricted, core) && isRequired(core) },
	}
	cores := nodeset.Slice(n.AvailCores)
	for _, inClass := range classes {
		for i := len(cores) - 1; i >= 0 && excess > 0; i-- {
			c := cores[i]
			if !n.AvailCores.Test(uint(c)) || !inClass(c) {
				continue
			}
			n.AvailCores.Clear(uint(c))
			excess--
		}
	}
}

// TrimCores removes available cores until keep remain. Cores on sockets
// outside required go first; the rest come from the required socket with the
// most remaining cores so sockets drain evenly. A nil required treats every
// socket as required.
func TrimCores(n *model.NodeResource, required []bool, keep int) {
	count := nodeset.Count(n.AvailCores)
	if count <= keep {
		return
	}
	per := make([]int, n.Sockets)
	for s := range per {
		per[s] = n.SocketCores(s)
	}
	isRequired := func(s int) bool { return required == nil || (s < len(required) && required[s]) }

	removeFrom := func(s int) {
		for c := (s+1)*n.CoresPerSocket - 1; c >= s*n.CoresPerSocket; c-- {
			if n.AvailCores.Test(uint(c)) {
				n.AvailCores.Clear(uint(c))
				per[s]--
				count--
				return
			}
		}
	}

	for s := n.Sockets - 1; s >= 0 && count > keep; s-- {
		if isRequired(s) {
			continue
		}
		for per[s] > 0 && count > keep {
			removeFrom(s)
		}
	}
	for count > keep {
		best := -1
		for s := n.Sockets - 1; s >= 0; s-- {
			if !isRequired(s) || per[s] == 0 {
				continue
			}
			if best < 0 || per[s] > per[best] {
				best = s
			}
		}
		if best < 0 {
			return
		}
		removeFrom(best)
	}
}
