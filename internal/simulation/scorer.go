package simulation

import (
	"fmt"
	"sort"

	"github.com/guimove/hpcfit/internal/model"
)

const (
	// HighUtilThreshold marks a pass that leaves little room for new jobs.
	HighUtilThreshold = 0.90
	// LowUtilThreshold is the underutilized node fraction worth a warning.
	LowUtilThreshold = 0.30
	// SpanWarnThreshold is the mean leaf switch span worth a warning.
	SpanWarnThreshold = 2.0
)

// Scorer computes composite scores for scenario results and ranks them.
type Scorer struct {
	Weights model.ScoringWeights
}

// NewScorer creates a scorer with the given weights.
func NewScorer(weights model.ScoringWeights) *Scorer {
	return &Scorer{Weights: weights}
}

// RankResults scores and ranks a set of scenario results, best first.
func (s *Scorer) RankResults(results []model.ScenarioResult) []model.Recommendation {
	if len(results) == 0 {
		return nil
	}

	recs := make([]model.Recommendation, len(results))
	for i, r := range results {
		recs[i] = s.score(r)
	}

	// Sort by overall score descending
	sort.SliceStable(recs, func(i, j int) bool {
		return recs[i].OverallScore > recs[j].OverallScore
	})

	for i := range recs {
		recs[i].Rank = i + 1
	}
	return recs
}

func (s *Scorer) score(r model.ScenarioResult) model.Recommendation {
	rec := model.Recommendation{Result: r}

	// Placement score: share of the queue that got an allocation
	if jobs := r.Placed + r.Pending; jobs > 0 {
		rec.PlacementScore = float64(r.Placed) / float64(jobs) * 100
	} else {
		rec.PlacementScore = 100
	}

	rec.UtilizationScore = r.CPUUtilization * 100

	// Free nodes in one run and few half-empty nodes leave room for large jobs
	rec.FragmentationScore = r.Fragmentation.ContiguityScore * 100 *
		(1.0 - r.Fragmentation.UnderutilizedNodeFraction)

	// One leaf switch per job is ideal
	if r.AvgLeafSwitches > 1 {
		rec.LocalityScore = 100 / r.AvgLeafSwitches
	} else {
		rec.LocalityScore = 100
	}

	rec.OverallScore = s.Weights.Placement*rec.PlacementScore +
		s.Weights.Utilization*rec.UtilizationScore +
		s.Weights.Fragmentation*rec.FragmentationScore +
		s.Weights.Locality*rec.LocalityScore

	rec.Rationale = generateRationale(r)
	rec.Warnings = generateWarnings(r)
	return rec
}

func generateRationale(r model.ScenarioResult) string {
	rationale := fmt.Sprintf("%s: %d/%d jobs placed, CPU %.0f%%, largest free run %d nodes",
		r.Scenario, r.Placed, r.Placed+r.Pending, r.CPUUtilization*100, r.Fragmentation.LargestFreeRun)

	if r.AvgLeafSwitches > 0 {
		rationale += fmt.Sprintf(", %.1f leaf switches per job", r.AvgLeafSwitches)
	}
	return rationale
}

func generateWarnings(r model.ScenarioResult) []string {
	var warnings []string

	if r.Pending > 0 {
		warnings = append(warnings, fmt.Sprintf("%d jobs could not be placed", r.Pending))
	}

	if r.CPUUtilization > HighUtilThreshold {
		warnings = append(warnings, "High CPU utilization leaves little room for new jobs")
	}

	if r.Fragmentation.UnderutilizedNodeFraction > LowUtilThreshold {
		warnings = append(warnings,
			fmt.Sprintf("%.0f%% of used nodes have less than half their CPUs allocated",
				r.Fragmentation.UnderutilizedNodeFraction*100))
	}

	if r.AvgLeafSwitches > SpanWarnThreshold {
		warnings = append(warnings,
			fmt.Sprintf("Jobs span %.1f leaf switches on average", r.AvgLeafSwitches))
	}

	return warnings
}
