package placement

import (
	"github.com/guimove/hpcfit/internal/nodeset"
)

// consecutiveStrategy fills the demand from runs of consecutive node indices
// sharing one weight.
type consecutiveStrategy struct{}

func (consecutiveStrategy) Name() string { return "consecutive" }

// run is a maximal range of consecutive usable nodes of one weight.
type run struct {
	start, end int // inclusive
	weight     uint32
	free       []int
	cpus       int
	required   bool // holds an already selected node
	sufficient bool
}

// runs returns the runs over usable, untried nodes. Selected nodes stay part
// of their run so a run can grow around them.
func (a *attempt) runs() []run {
	var (
		out []run
		cur *run
	)
	for i := 0; i < a.size; i++ {
		in := a.usable.Test(uint(i)) && !a.tried.Test(uint(i))
		if !in || (cur != nil && a.nodes[i].Weight != cur.weight) {
			if cur != nil {
				out = append(out, *cur)
				cur = nil
			}
			if !in {
				continue
			}
		}
		if cur == nil {
			cur = &run{start: i, weight: a.nodes[i].Weight}
		}
		cur.end = i
		if a.selected.Test(uint(i)) {
			cur.required = true
			continue
		}
		cur.free = append(cur.free, i)
		cur.cpus += a.res[i].AvailCPUs
	}
	if cur != nil {
		out = append(out, *cur)
	}

	for k := range out {
		r := &out[k]
		pool := nodeset.New(a.size)
		for _, i := range r.free {
			pool.Set(uint(i))
		}
		r.sufficient = a.poolSufficient(pool, false)
	}
	return out
}

// better reports whether run x is a better pick than y: a run holding
// selected nodes, then lower weight, then sufficient, then the tightest
// sufficient or the largest insufficient run.
func better(x, y *run) bool {
	if x.required != y.required {
		return x.required
	}
	if x.weight != y.weight {
		return x.weight < y.weight
	}
	if x.sufficient != y.sufficient {
		return x.sufficient
	}
	if x.sufficient {
		if len(x.free) != len(y.free) {
			return len(x.free) < len(y.free)
		}
		return x.cpus < y.cpus
	}
	if x.cpus != y.cpus {
		return x.cpus > y.cpus
	}
	return len(x.free) > len(y.free)
}

// order returns the free nodes of r as visiting legs. A run around
// selected nodes fills the gaps between them, then grows to the right of
// the last selected node, then to the left of the first one.
func (a *attempt) order(r *run) (gaps []int, legs [][]int) {
	if !r.required {
		return nil, [][]int{r.free}
	}
	first, last := -1, -1
	for i := r.start; i <= r.end; i++ {
		if a.selected.Test(uint(i)) {
			if first < 0 {
				first = i
			}
			last = i
		}
	}
	var right, left []int
	for _, i := range r.free {
		switch {
		case i > last:
			right = append(right, i)
		case i < first:
			left = append([]int{i}, left...)
		default:
			gaps = append(gaps, i)
		}
	}
	return gaps, [][]int{right, left}
}

func (consecutiveStrategy) place(a *attempt) error {
	if err := a.consumeRequired(); err != nil {
		return err
	}
	if a.satisfied() {
		return nil
	}

	contiguous := a.job.Contiguous
	held := nodeset.Count(a.selected) > 0
	if contiguous && held {
		// all selected nodes must sit in one run
		holding := 0
		for _, r := range a.runs() {
			if r.required {
				holding++
			}
		}
		if holding > 1 {
			return ErrInsufficientResources
		}
	}

	for !a.done() {
		if err := a.ctx.Err(); err != nil {
			return err
		}
		runs := a.runs()
		best := -1
		for k := range runs {
			if len(runs[k].free) == 0 {
				continue
			}
			// a contiguous job lives in one run: the one holding the
			// selected nodes, and only if it can finish the job
			if contiguous && (!runs[k].sufficient || runs[k].required != held) {
				continue
			}
			if best < 0 || better(&runs[k], &runs[best]) {
				best = k
			}
		}
		if best < 0 {
			break
		}

		r := &runs[best]
		gaps, legs := a.order(r)
		progress := false
		for _, i := range gaps {
			if !contiguous && a.done() {
				break
			}
			if a.add(i) {
				progress = true
				continue
			}
			if contiguous {
				return ErrInsufficientResources
			}
		}
		for _, leg := range legs {
			for _, i := range leg {
				if a.done() {
					break
				}
				if a.add(i) {
					progress = true
					continue
				}
				a.tried.Set(uint(i))
				if contiguous {
					break
				}
			}
		}
		if contiguous {
			break
		}
		if !progress {
			for _, i := range r.free {
				a.tried.Set(uint(i))
			}
		}
	}
	return a.finish()
}
