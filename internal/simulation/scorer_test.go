package simulation

import (
	"strings"
	"testing"

	"github.com/guimove/hpcfit/internal/model"
)

func makeResult(name string, placed, pending int, util float64) model.ScenarioResult {
	return model.ScenarioResult{
		Scenario:       name,
		Placed:         placed,
		Pending:        pending,
		CPUUtilization: util,
		Fragmentation: model.FragmentationReport{
			ContiguityScore: 0.8,
		},
	}
}

func TestScorer_MostPlacedWins(t *testing.T) {
	scorer := NewScorer(model.ScoringWeights{
		Placement: 1.0, Utilization: 0, Fragmentation: 0, Locality: 0,
	})

	results := []model.ScenarioResult{
		makeResult("a", 5, 5, 0.5),
		makeResult("b", 9, 1, 0.5),
		makeResult("c", 7, 3, 0.5),
	}

	recs := scorer.RankResults(results)

	if recs[0].Result.Scenario != "b" {
		t.Errorf("scenario placing most jobs should rank first, got %q", recs[0].Result.Scenario)
	}
	if recs[0].Rank != 1 || recs[2].Rank != 3 {
		t.Errorf("expected ranks 1..3, got %d and %d", recs[0].Rank, recs[2].Rank)
	}
	if recs[0].PlacementScore != 90 {
		t.Errorf("expected placement score 90, got %v", recs[0].PlacementScore)
	}
}

func TestScorer_UtilizationMatters(t *testing.T) {
	scorer := NewScorer(model.ScoringWeights{
		Placement: 0, Utilization: 1.0, Fragmentation: 0, Locality: 0,
	})

	results := []model.ScenarioResult{
		makeResult("low", 5, 0, 0.5),
		makeResult("high", 5, 0, 0.85),
		makeResult("mid", 5, 0, 0.65),
	}

	recs := scorer.RankResults(results)

	if recs[0].Result.CPUUtilization != 0.85 {
		t.Errorf("highest utilization should rank first, got CPU=%v", recs[0].Result.CPUUtilization)
	}
}

func TestScorer_LocalityPrefersFewerSwitches(t *testing.T) {
	scorer := NewScorer(model.ScoringWeights{Locality: 1.0})

	wide := makeResult("wide", 4, 0, 0.5)
	wide.AvgLeafSwitches = 4
	narrow := makeResult("narrow", 4, 0, 0.5)
	narrow.AvgLeafSwitches = 1

	recs := scorer.RankResults([]model.ScenarioResult{wide, narrow})

	if recs[0].Result.Scenario != "narrow" {
		t.Errorf("narrow span should rank first, got %q", recs[0].Result.Scenario)
	}
	if recs[1].LocalityScore != 25 {
		t.Errorf("expected locality 25 for 4 switches, got %v", recs[1].LocalityScore)
	}
}

func TestScorer_ScoresInRange(t *testing.T) {
	scorer := NewScorer(model.DefaultScoringWeights())

	results := []model.ScenarioResult{
		makeResult("a", 0, 0, 0),
		makeResult("b", 3, 7, 0.4),
		makeResult("c", 10, 0, 1.0),
	}

	recs := scorer.RankResults(results)

	for _, rec := range recs {
		if rec.OverallScore < 0 || rec.OverallScore > 100 {
			t.Errorf("OverallScore out of range: %v", rec.OverallScore)
		}
		if rec.PlacementScore < 0 || rec.PlacementScore > 100 {
			t.Errorf("PlacementScore out of range: %v", rec.PlacementScore)
		}
		if rec.FragmentationScore < 0 || rec.FragmentationScore > 100 {
			t.Errorf("FragmentationScore out of range: %v", rec.FragmentationScore)
		}
	}
}

func TestScorer_Warnings(t *testing.T) {
	scorer := NewScorer(model.DefaultScoringWeights())

	r := makeResult("busy", 3, 2, 0.95)
	r.AvgLeafSwitches = 3
	r.Fragmentation.UnderutilizedNodeFraction = 0.5

	recs := scorer.RankResults([]model.ScenarioResult{r})
	warnings := strings.Join(recs[0].Warnings, "\n")

	for _, want := range []string{"2 jobs could not be placed", "High CPU", "50%", "3.0 leaf switches"} {
		if !strings.Contains(warnings, want) {
			t.Errorf("expected warning containing %q, got:\n%s", want, warnings)
		}
	}
	if !strings.Contains(recs[0].Rationale, "3/5 jobs placed") {
		t.Errorf("unexpected rationale %q", recs[0].Rationale)
	}
}

func TestScorer_EmptyResults(t *testing.T) {
	scorer := NewScorer(model.DefaultScoringWeights())
	if recs := scorer.RankResults(nil); recs != nil {
		t.Errorf("expected nil for empty results, got %v", recs)
	}
}
