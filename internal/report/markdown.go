package report

import (
	"context"
	"fmt"
	"io"

	"github.com/guimove/hpcfit/internal/model"
)

// MarkdownReporter outputs results as GitHub-flavored markdown tables.
type MarkdownReporter struct {
	w io.Writer
}

func (r *MarkdownReporter) header(title string, meta ReportMeta) {
	fmt.Fprintf(r.w, "# %s\n\n", title)
	fmt.Fprintf(r.w, "- **Cluster:** %s\n", meta.ClusterName)
	fmt.Fprintf(r.w, "- **Source:** %s\n", meta.Source)
	fmt.Fprintf(r.w, "- **Nodes:** %d\n", meta.TotalNodes)
	fmt.Fprintf(r.w, "- **Jobs:** %d\n", meta.TotalJobs)
	if meta.Topology != "" {
		fmt.Fprintf(r.w, "- **Topology:** %s\n", meta.Topology)
	}
	if meta.Policy != "" {
		fmt.Fprintf(r.w, "- **Policy:** %s\n", meta.Policy)
	}
	fmt.Fprintf(r.w, "\n")
}

func (r *MarkdownReporter) Report(ctx context.Context, recs []model.Recommendation, meta ReportMeta) error {
	r.header("Scenario Ranking", meta)

	if len(recs) == 0 {
		fmt.Fprintf(r.w, "No recommendations available.\n")
		return nil
	}

	fmt.Fprintf(r.w, "| Rank | Scenario | Policy | Placed | Pending | CPU %% | Free run | Score |\n")
	fmt.Fprintf(r.w, "|-----:|----------|--------|-------:|--------:|------:|---------:|------:|\n")
	for _, rec := range recs {
		sr := rec.Result
		fmt.Fprintf(r.w, "| %d | %s | %s | %d | %d | %.1f | %d | %.1f |\n",
			rec.Rank, sr.Scenario, sr.Policy, sr.Placed, sr.Pending,
			sr.CPUUtilization*100, sr.Fragmentation.LargestFreeRun, rec.OverallScore)
	}

	top := recs[0]
	fmt.Fprintf(r.w, "\n**Recommended:** %s\n", top.Rationale)
	if len(top.Warnings) > 0 {
		fmt.Fprintf(r.w, "\n")
		for _, w := range top.Warnings {
			fmt.Fprintf(r.w, "> %s\n", w)
		}
	}
	return nil
}

func (r *MarkdownReporter) Placements(ctx context.Context, outcomes []model.JobOutcome, meta ReportMeta) error {
	r.header("Placements", meta)

	if len(outcomes) == 0 {
		fmt.Fprintf(r.w, "No jobs to place.\n")
		return nil
	}

	fmt.Fprintf(r.w, "| Job | Strategy | Nodes | CPUs | GRES | Result |\n")
	fmt.Fprintf(r.w, "|-----|----------|-------|-----:|------|--------|\n")
	for _, o := range outcomes {
		if !o.Placed() {
			fmt.Fprintf(r.w, "| %s | | | | | %s |\n", o.JobID, o.Reason)
			continue
		}
		p := o.Placement
		fmt.Fprintf(r.w, "| %s | %s | %s | %d | %s | placed |\n",
			o.JobID, p.Strategy, nodeNames(p, 0), p.TotalCPUs(), gresSummary(p))
	}
	return nil
}
