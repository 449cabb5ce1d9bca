package report

import (
	"context"
	"encoding/json"
	"fmt"
	"io"

	"github.com/guimove/hpcfit/internal/model"
)

// JSONReporter outputs results as JSON.
type JSONReporter struct {
	w io.Writer
}

type jsonOutput struct {
	Meta            ReportMeta             `json:"meta"`
	Recommendations []model.Recommendation `json:"recommendations,omitempty"`
	Outcomes        []model.JobOutcome     `json:"outcomes,omitempty"`
}

func (r *JSONReporter) Report(ctx context.Context, recs []model.Recommendation, meta ReportMeta) error {
	return r.encode(jsonOutput{Meta: meta, Recommendations: recs})
}

func (r *JSONReporter) Placements(ctx context.Context, outcomes []model.JobOutcome, meta ReportMeta) error {
	return r.encode(jsonOutput{Meta: meta, Outcomes: outcomes})
}

func (r *JSONReporter) encode(output jsonOutput) error {
	enc := json.NewEncoder(r.w)
	enc.SetIndent("", "  ")
	if err := enc.Encode(output); err != nil {
		return fmt.Errorf("encoding JSON output: %w", err)
	}
	return nil
}
