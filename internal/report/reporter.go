package report

import (
	"context"
	"io"
	"time"

	"github.com/guimove/hpcfit/internal/model"
)

// Reporter formats and writes results to an output destination.
type Reporter interface {
	// Report writes ranked scenario recommendations.
	Report(ctx context.Context, recs []model.Recommendation, meta ReportMeta) error

	// Placements writes per-job outcomes of a single pass.
	Placements(ctx context.Context, outcomes []model.JobOutcome, meta ReportMeta) error
}

// ReportMeta contains contextual metadata for the report.
type ReportMeta struct {
	ClusterName string    `json:"cluster_name,omitempty"`
	Source      string    `json:"source"`
	CollectedAt time.Time `json:"collected_at,omitzero"`
	TotalNodes  int       `json:"total_nodes"`
	TotalJobs   int       `json:"total_jobs"`
	Topology    string    `json:"topology,omitempty"`
	Policy      string    `json:"policy,omitempty"`
}

// NewReporter creates a reporter for the given format writing to w.
func NewReporter(format string, w io.Writer) Reporter {
	switch format {
	case "json":
		return &JSONReporter{w: w}
	case "markdown":
		return &MarkdownReporter{w: w}
	default:
		return &TableReporter{w: w}
	}
}

// nodeNames renders the node names of a placement, truncated to limit
// characters.
func nodeNames(p *model.Placement, limit int) string {
	var s string
	for i, g := range p.Nodes {
		if i > 0 {
			s += ","
		}
		s += g.Name
	}
	if limit > 3 && len(s) > limit {
		s = s[:limit-3] + "..."
	}
	return s
}

func gresSummary(p *model.Placement) string {
	var s string
	for _, key := range sortedKeys(p.GresTotals) {
		if s != "" {
			s += " "
		}
		s += key + "=" + itoa(p.GresTotals[key])
	}
	return s
}
