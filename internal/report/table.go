package report

import (
	"context"
	"fmt"
	"io"
	"sort"
	"strconv"
	"strings"

	"github.com/guimove/hpcfit/internal/model"
)

// TableReporter outputs results as a formatted terminal table.
type TableReporter struct {
	w io.Writer
}

func (r *TableReporter) header(title string, meta ReportMeta) {
	fmt.Fprintf(r.w, "\n")
	fmt.Fprintf(r.w, "%s\n", title)
	fmt.Fprintf(r.w, "%s\n", strings.Repeat("=", 60))
	fmt.Fprintf(r.w, "Cluster:     %s\n", meta.ClusterName)
	fmt.Fprintf(r.w, "Source:      %s\n", meta.Source)
	fmt.Fprintf(r.w, "Nodes:       %d\n", meta.TotalNodes)
	fmt.Fprintf(r.w, "Jobs:        %d\n", meta.TotalJobs)
	if meta.Topology != "" {
		fmt.Fprintf(r.w, "Topology:    %s\n", meta.Topology)
	}
	if meta.Policy != "" {
		fmt.Fprintf(r.w, "Policy:      %s\n", meta.Policy)
	}
	fmt.Fprintf(r.w, "%s\n\n", strings.Repeat("=", 60))
}

func (r *TableReporter) Report(ctx context.Context, recs []model.Recommendation, meta ReportMeta) error {
	r.header("hpcfit Scenario Ranking", meta)

	if len(recs) == 0 {
		fmt.Fprintf(r.w, "No recommendations available.\n")
		return nil
	}

	fmt.Fprintf(r.w, "%-4s %-20s %7s %7s %7s %8s %6s %s\n",
		"Rank", "Scenario", "Placed", "Pending", "CPU%", "FreeRun", "Score", "Notes")
	fmt.Fprintf(r.w, "%s\n", strings.Repeat("-", 80))

	for _, rec := range recs {
		sr := rec.Result
		label := sr.Scenario
		if len(label) > 20 {
			label = label[:17] + "..."
		}

		notes := sr.Policy
		if sr.AvgLeafSwitches > 0 {
			notes += fmt.Sprintf(" [%.1f switches/job]", sr.AvgLeafSwitches)
		}

		fmt.Fprintf(r.w, "#%-3d %-20s %7d %7d %6.1f%% %8d %6.1f %s\n",
			rec.Rank,
			label,
			sr.Placed,
			sr.Pending,
			sr.CPUUtilization*100,
			sr.Fragmentation.LargestFreeRun,
			rec.OverallScore,
			notes,
		)
	}

	fmt.Fprintf(r.w, "%s\n", strings.Repeat("-", 80))

	// Top recommendation detail
	top := recs[0]
	topSR := top.Result
	fmt.Fprintf(r.w, "\nRecommended: %s (%s)\n", topSR.Scenario, topSR.Policy)
	fmt.Fprintf(r.w, "  Jobs placed:     %d of %d\n", topSR.Placed, topSR.Placed+topSR.Pending)
	fmt.Fprintf(r.w, "  CPUs allocated:  %d of %d\n", topSR.AllocatedCPUs, topSR.TotalCPUs)
	fmt.Fprintf(r.w, "  Free nodes:      %d (largest run %d)\n",
		topSR.Fragmentation.FreeNodes, topSR.Fragmentation.LargestFreeRun)
	fmt.Fprintf(r.w, "  Stranded CPUs:   %d\n", topSR.Fragmentation.StrandedCPUs)
	fmt.Fprintf(r.w, "  %s\n", top.Rationale)

	if len(top.Warnings) > 0 {
		fmt.Fprintf(r.w, "\n  Warnings:\n")
		for _, w := range top.Warnings {
			fmt.Fprintf(r.w, "    - %s\n", w)
		}
	}

	fmt.Fprintf(r.w, "\n")
	return nil
}

func (r *TableReporter) Placements(ctx context.Context, outcomes []model.JobOutcome, meta ReportMeta) error {
	r.header("hpcfit Placements", meta)

	if len(outcomes) == 0 {
		fmt.Fprintf(r.w, "No jobs to place.\n")
		return nil
	}

	fmt.Fprintf(r.w, "%-12s %-12s %6s %5s %-30s %s\n",
		"Job", "Strategy", "Nodes", "CPUs", "Node list", "Notes")
	fmt.Fprintf(r.w, "%s\n", strings.Repeat("-", 80))

	for _, o := range outcomes {
		if !o.Placed() {
			fmt.Fprintf(r.w, "%-12s %-12s %6s %5s %-30s %s\n", o.JobID, "-", "-", "-", "pending", o.Reason)
			continue
		}
		p := o.Placement
		notes := gresSummary(p)
		if p.LeafSwitches > 0 {
			notes = strings.TrimSpace(notes + fmt.Sprintf(" switches=%d", p.LeafSwitches))
			if !p.BestSwitch {
				notes += " (over limit)"
			}
		}
		fmt.Fprintf(r.w, "%-12s %-12s %6d %5d %-30s %s\n",
			o.JobID, p.Strategy, len(p.Nodes), p.TotalCPUs(), nodeNames(p, 30), notes)
	}

	fmt.Fprintf(r.w, "%s\n\n", strings.Repeat("-", 80))
	return nil
}

func sortedKeys(m map[string]uint64) []string {
	keys := make([]string, 0, len(m))
	for k := range m {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	return keys
}

func itoa(v uint64) string { return strconv.FormatUint(v, 10) }
