package simulation

import (
	"github.com/guimove/hpcfit/internal/model"
)

// AnalyzeFragmentation computes how free capacity is scattered over nodes
// after a pass.
func AnalyzeFragmentation(nodes []*model.NodeResource) model.FragmentationReport {
	if len(nodes) == 0 {
		return model.FragmentationReport{ContiguityScore: 1.0}
	}

	var report model.FragmentationReport
	var used, underutilized int

	for _, n := range nodes {
		total := n.TotalCPUs()
		if total == 0 {
			continue
		}
		if n.AvailCPUs >= total {
			continue
		}
		used++

		// Free CPUs left next to running work
		report.StrandedCPUs += n.AvailCPUs

		// GRES nobody can use without a free core
		if n.AvailCPUs == 0 {
			for _, g := range n.Gres {
				report.StrandedGres += g.Total()
			}
		}

		// Under-utilized: less than half the CPUs allocated
		if n.AvailCPUs*2 > total {
			underutilized++
		}
	}

	if used > 0 {
		report.UnderutilizedNodeFraction = float64(underutilized) / float64(used)
	}

	free := freeNodes(nodes)
	report.FreeNodes = int(free.Count())
	run := 0
	for i := range nodes {
		if free.Test(uint(i)) {
			run++
			report.LargestFreeRun = max(report.LargestFreeRun, run)
		} else {
			run = 0
		}
	}

	report.ContiguityScore = 1.0
	if report.FreeNodes > 0 {
		report.ContiguityScore = float64(report.LargestFreeRun) / float64(report.FreeNodes)
	}
	return report
}
