package config

import (
	"strings"
	"testing"
)

func TestDefault_Valid(t *testing.T) {
	cfg := Default()
	if err := cfg.Validate(); err != nil {
		t.Fatalf("default config should be valid: %v", err)
	}
}

func TestValidate_NegativeParallelism(t *testing.T) {
	cfg := Default()
	cfg.Simulation.Parallelism = -1
	if err := cfg.Validate(); err == nil {
		t.Error("expected error for negative parallelism")
	}
}

func TestValidate_Weights(t *testing.T) {
	cfg := Default()
	cfg.Scoring.Weights.Locality = -0.1
	if err := cfg.Validate(); err == nil {
		t.Error("expected error for negative weight")
	}

	cfg = Default()
	cfg.Scoring.Weights = ScoringWeightsConf{}
	if err := cfg.Validate(); err == nil {
		t.Error("expected error for all-zero weights")
	}
}

func TestValidate_InvalidFormat(t *testing.T) {
	cfg := Default()
	cfg.Output.Format = "xml"
	if err := cfg.Validate(); err == nil {
		t.Error("expected error for invalid output format")
	}
}

func TestValidate_InvalidLogLevel(t *testing.T) {
	cfg := Default()
	cfg.Log.Level = "loud"
	if err := cfg.Validate(); err == nil {
		t.Error("expected error for unknown log level")
	}
}

func TestValidate_AggregatesErrors(t *testing.T) {
	cfg := Default()
	cfg.Output.Format = "xml"
	cfg.Log.Level = "loud"
	cfg.Snapshot.Timeout = -1

	err := cfg.Validate()
	if err == nil {
		t.Fatal("expected errors")
	}
	for _, want := range []string{"output format", "log level", "snapshot timeout"} {
		if !strings.Contains(err.Error(), want) {
			t.Errorf("expected %q in %v", want, err)
		}
	}
}

func TestValidate_TopN_FixesZero(t *testing.T) {
	cfg := Default()
	cfg.Output.TopN = 0
	if err := cfg.Validate(); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if cfg.Output.TopN != 5 {
		t.Errorf("expected TopN to be fixed to 5, got %d", cfg.Output.TopN)
	}
}

func TestPolicyAndWeights(t *testing.T) {
	cfg := Default()
	cfg.Scheduling.LeastLoaded = true
	cfg.Scheduling.EnforceBinding = true

	p := cfg.Policy()
	if !p.LeastLoaded || !p.EnforceBinding || p.PackSerialAtEnd || p.PreferAllocNodes {
		t.Errorf("unexpected policy %+v", p)
	}

	w := cfg.Weights()
	if w.Placement != 0.40 || w.Locality != 0.15 {
		t.Errorf("unexpected weights %+v", w)
	}
}
