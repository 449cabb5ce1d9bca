package metrics

import (
	"bytes"
	"fmt"
	"strings"
	"testing"

	"github.com/prometheus/client_golang/prometheus/testutil"
	dto "github.com/prometheus/client_model/go"

	"github.com/guimove/hpcfit/internal/placement"
)

func TestRecorder_ObservePlacement(t *testing.T) {
	r := NewRecorder()

	r.ObservePlacement("tree", nil, 4, 1)
	r.ObservePlacement("tree", nil, 2, 0)
	r.ObservePlacement("tree", fmt.Errorf("wrapped: %w", placement.ErrInsufficientResources), 0, 0)
	r.ObservePlacement("consecutive", placement.ErrRetryHint, 0, 2)

	if got := testutil.ToFloat64(r.attempts.WithLabelValues("tree", "placed")); got != 2 {
		t.Errorf("tree placed = %v, want 2", got)
	}
	if got := testutil.ToFloat64(r.attempts.WithLabelValues("tree", "insufficient")); got != 1 {
		t.Errorf("tree insufficient = %v, want 1", got)
	}
	if got := testutil.ToFloat64(r.attempts.WithLabelValues("consecutive", "retry_hint")); got != 1 {
		t.Errorf("consecutive retry_hint = %v, want 1", got)
	}
	if got := testutil.ToFloat64(r.retries); got != 3 {
		t.Errorf("retries = %v, want 3", got)
	}

	families, err := r.Registry().Gather()
	if err != nil {
		t.Fatal(err)
	}
	var hist *dto.Histogram
	for _, mf := range families {
		if mf.GetName() == "hpcfit_placement_nodes" {
			hist = mf.GetMetric()[0].GetHistogram()
		}
	}
	if hist == nil {
		t.Fatal("node histogram not gathered")
	}
	if hist.GetSampleCount() != 2 || hist.GetSampleSum() != 6 {
		t.Errorf("histogram count=%d sum=%v, want 2 and 6", hist.GetSampleCount(), hist.GetSampleSum())
	}
}

func TestRecorder_ObserveScenario(t *testing.T) {
	r := NewRecorder()
	r.ObserveScenario("default", 3, 1, 0.5)
	r.ObserveScenario("default", 4, 0, 0.75)

	if got := testutil.ToFloat64(r.placedJobs.WithLabelValues("default")); got != 4 {
		t.Errorf("placed = %v, want 4", got)
	}
	if got := testutil.ToFloat64(r.utilization.WithLabelValues("default")); got != 0.75 {
		t.Errorf("utilization = %v, want 0.75", got)
	}
}

func TestRecorder_WriteText(t *testing.T) {
	r := NewRecorder()
	r.ObservePlacement("block", nil, 8, 0)

	var buf bytes.Buffer
	if err := r.WriteText(&buf); err != nil {
		t.Fatal(err)
	}
	out := buf.String()
	for _, want := range []string{
		"# TYPE hpcfit_placement_attempts_total counter",
		`hpcfit_placement_attempts_total{result="placed",strategy="block"} 1`,
		"hpcfit_placement_nodes_count 1",
	} {
		if !strings.Contains(out, want) {
			t.Errorf("output missing %q:\n%s", want, out)
		}
	}
}
