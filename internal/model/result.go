package model

import (
	"sort"
	"time"
)

// GresGrant is the GRES granted on one node for one request.
type GresGrant struct {
	Name       string   `json:"name"`
	Type       string   `json:"type,omitempty"`
	Count      uint64   `json:"count"`
	PerSocket  []uint64 `json:"per_socket,omitempty"`
	NoAffinity uint64   `json:"no_affinity,omitempty"`
}

// NodeGrant is the allocation on one node.
type NodeGrant struct {
	Node  int         `json:"node"`
	Name  string      `json:"name"`
	CPUs  int         `json:"cpus"`
	Cores string      `json:"cores"` // cpuset list of granted cores
	Gres  []GresGrant `json:"gres,omitempty"`
}

// Placement is the accepted allocation of one job.
type Placement struct {
	JobID    string      `json:"job_id"`
	Strategy string      `json:"strategy"`
	Nodes    []NodeGrant `json:"nodes"`

	// Per-job GRES totals keyed by GresRequest.Key().
	GresTotals map[string]uint64 `json:"gres_totals,omitempty"`

	// Leaf switches spanned; BestSwitch is false when the span limit
	// was exceeded after the switch wait expired.
	LeafSwitches int  `json:"leaf_switches,omitempty"`
	BestSwitch   bool `json:"best_switch"`

	// Node target after span retries.
	NodeTarget int `json:"node_target"`
}

// NodeIDs returns the allocated node indices in ascending order.
func (p *Placement) NodeIDs() []int {
	ids := make([]int, len(p.Nodes))
	for i, n := range p.Nodes {
		ids[i] = n.Node
	}
	sort.Ints(ids)
	return ids
}

// TotalCPUs returns the granted CPUs over all nodes.
func (p *Placement) TotalCPUs() int {
	total := 0
	for _, n := range p.Nodes {
		total += n.CPUs
	}
	return total
}

// GresCount returns the units of a GRES name granted over all nodes.
func (p *Placement) GresCount(name string) uint64 {
	var total uint64
	for _, n := range p.Nodes {
		for _, g := range n.Gres {
			if g.Name == name {
				total += g.Count
			}
		}
	}
	return total
}

// JobOutcome is the result of placing one job during a pass.
type JobOutcome struct {
	JobID     string     `json:"job_id"`
	Placement *Placement `json:"placement,omitempty"`
	Reason    string     `json:"reason,omitempty"` // failure kind when pending
	Error     string     `json:"error,omitempty"`
}

// Placed reports whether the job received an allocation.
func (o JobOutcome) Placed() bool { return o.Placement != nil }

// FragmentationReport details how free capacity is scattered after a pass.
type FragmentationReport struct {
	// Free CPUs on nodes that run some work
	StrandedCPUs int `json:"stranded_cpus"`

	// GRES units left on nodes without free cores
	StrandedGres uint64 `json:"stranded_gres"`

	// Fraction of used nodes with less than half their CPUs allocated
	UnderutilizedNodeFraction float64 `json:"underutilized_node_fraction"`

	// Longest run of consecutive fully free nodes, and how many free nodes exist
	LargestFreeRun int `json:"largest_free_run"`
	FreeNodes      int `json:"free_nodes"`

	// 1.0 = all free nodes in a single run
	ContiguityScore float64 `json:"contiguity_score"`
}

// ScenarioResult captures the outcome of one scheduling pass.
type ScenarioResult struct {
	Scenario string `json:"scenario"`
	Policy   string `json:"policy"`

	Outcomes []JobOutcome `json:"outcomes"`

	Placed  int `json:"placed"`
	Pending int `json:"pending"`

	TotalNodes    int `json:"total_nodes"`
	TotalCPUs     int `json:"total_cpus"`
	AllocatedCPUs int `json:"allocated_cpus"`

	// Average leaf switches per placed job on switch topologies
	AvgLeafSwitches float64 `json:"avg_leaf_switches,omitempty"`

	CPUUtilization float64             `json:"cpu_utilization"` // 0.0 - 1.0
	Fragmentation  FragmentationReport `json:"fragmentation"`

	SimulationDuration time.Duration `json:"simulation_duration"`
}

// ScoringWeights configures the relative importance of scoring dimensions.
type ScoringWeights struct {
	Placement     float64 `yaml:"placement" json:"placement"`
	Utilization   float64 `yaml:"utilization" json:"utilization"`
	Fragmentation float64 `yaml:"fragmentation" json:"fragmentation"`
	Locality      float64 `yaml:"locality" json:"locality"`
}

// DefaultScoringWeights returns the default scoring weights.
func DefaultScoringWeights() ScoringWeights {
	return ScoringWeights{
		Placement:     0.40,
		Utilization:   0.25,
		Fragmentation: 0.20,
		Locality:      0.15,
	}
}

// Recommendation is the final ranked output presented to the user.
type Recommendation struct {
	Rank   int            `json:"rank"`
	Result ScenarioResult `json:"result"`

	// Scores (0-100)
	OverallScore       float64 `json:"overall_score"`
	PlacementScore     float64 `json:"placement_score"`
	UtilizationScore   float64 `json:"utilization_score"`
	FragmentationScore float64 `json:"fragmentation_score"`
	LocalityScore      float64 `json:"locality_score"`

	// Human-readable rationale
	Rationale string   `json:"rationale"`
	Warnings  []string `json:"warnings,omitempty"`
}
