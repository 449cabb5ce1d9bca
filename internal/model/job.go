package model

import (
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/hashicorp/go-multierror"
)

// GresRequest is one generic resource constraint of a job.
type GresRequest struct {
	Name string `json:"name"`           // e.g., "gpu"
	Type string `json:"type,omitempty"` // e.g., "a100"; empty matches any type

	PerJob    uint64 `json:"per_job,omitempty"`
	PerNode   uint64 `json:"per_node,omitempty"`
	PerSocket uint64 `json:"per_socket,omitempty"`
	PerTask   uint64 `json:"per_task,omitempty"`

	CPUsPerGres   int `json:"cpus_per_gres,omitempty"`
	NtasksPerGres int `json:"ntasks_per_gres,omitempty"`

	// Upper bound per node, e.g. derived from memory per GRES. 0 = none.
	MaxPerNode uint64 `json:"max_per_node,omitempty"`
}

// IsGPU reports whether the request is for GPU-class devices.
func (g GresRequest) IsGPU() bool { return g.Name == "gpu" }

// Key identifies the request in accumulated totals ("gpu" or "gpu:a100").
func (g GresRequest) Key() string {
	if g.Type == "" {
		return g.Name
	}
	return g.Name + ":" + g.Type
}

// Matches reports whether an available GRES entry can serve this request.
func (g GresRequest) Matches(avail GresAvail) bool {
	return avail.Name == g.Name && (g.Type == "" || avail.Type == g.Type)
}

// Duration wraps time.Duration so it can be decoded from "5m" style strings
// or from a number of seconds.
type Duration struct {
	time.Duration
}

func (d Duration) MarshalJSON() ([]byte, error) {
	return json.Marshal(d.String())
}

func (d *Duration) UnmarshalJSON(b []byte) error {
	var v interface{}
	if err := json.Unmarshal(b, &v); err != nil {
		return err
	}
	switch value := v.(type) {
	case float64:
		d.Duration = time.Duration(value * float64(time.Second))
	case string:
		parsed, err := time.ParseDuration(value)
		if err != nil {
			return fmt.Errorf("invalid duration %q: %w", value, err)
		}
		d.Duration = parsed
	case nil:
		d.Duration = 0
	default:
		return fmt.Errorf("invalid duration %s", string(b))
	}
	return nil
}

// JobRequest is the resource request of one job for one placement attempt.
type JobRequest struct {
	ID string `json:"id"`

	// Node count bounds; ReqNodes is the preferred count.
	MinNodes int `json:"min_nodes"`
	MaxNodes int `json:"max_nodes,omitempty"`
	ReqNodes int `json:"req_nodes,omitempty"`

	MinCPUs        int `json:"min_cpus,omitempty"`
	MaxCPUs        int `json:"max_cpus,omitempty"` // 0 = unlimited
	MinCPUsPerNode int `json:"min_cpus_per_node,omitempty"`

	// Node indices the allocation must include.
	RequiredNodes []int `json:"required_nodes,omitempty"`

	Contiguous  bool `json:"contiguous,omitempty"`
	Spread      bool `json:"spread,omitempty"`
	LeastLoaded bool `json:"least_loaded,omitempty"`

	// Task layout
	CPUsPerTask     int `json:"cpus_per_task,omitempty"`
	NumTasks        int `json:"num_tasks,omitempty"`
	NtasksPerNode   int `json:"ntasks_per_node,omitempty"`
	NtasksPerSocket int `json:"ntasks_per_socket,omitempty"`
	NtasksPerCore   int `json:"ntasks_per_core,omitempty"`
	NtasksPerBoard  int `json:"ntasks_per_board,omitempty"`

	// Nodes per segment under block topology; must divide the node target.
	SegmentSize int `json:"segment_size,omitempty"`

	Gres []GresRequest `json:"gres,omitempty"`

	// Leaf switch span limit and how long the job may wait for it.
	ReqSwitch       int       `json:"req_switch,omitempty"`
	Wait4Switch     Duration  `json:"wait4switch,omitzero"`
	SwitchWaitStart time.Time `json:"switch_wait_start,omitzero"`

	EnforceBinding bool `json:"enforce_binding,omitempty"`
	FirstPass      bool `json:"first_pass,omitempty"`
}

// NodeMax returns the effective maximum node count.
func (j *JobRequest) NodeMax() int {
	if j.MaxNodes > 0 {
		return j.MaxNodes
	}
	return max(j.MinNodes, j.ReqNodes)
}

// NodeTarget returns the node count the job prefers.
func (j *JobRequest) NodeTarget() int {
	if j.ReqNodes > 0 {
		return j.ReqNodes
	}
	return j.MinNodes
}

// TaskCPUs returns the CPUs per task, defaulting to 1.
func (j *JobRequest) TaskCPUs() int {
	if j.CPUsPerTask > 0 {
		return j.CPUsPerTask
	}
	return 1
}

// HasGres reports whether the job requests any GRES.
func (j *JobRequest) HasGres() bool { return len(j.Gres) > 0 }

var (
	ErrInvalidNodeCount = errors.New("invalid node count")
	ErrInvalidCPUCount  = errors.New("invalid cpu count")
	ErrInvalidGres      = errors.New("invalid gres request")
)

// Validate checks the request for contract violations.
func (j *JobRequest) Validate() error {
	var mErr *multierror.Error

	if j.MinNodes <= 0 {
		mErr = multierror.Append(mErr, fmt.Errorf("%w: min_nodes must be positive, got %d", ErrInvalidNodeCount, j.MinNodes))
	}
	if j.MaxNodes > 0 && j.MaxNodes < j.MinNodes {
		mErr = multierror.Append(mErr, fmt.Errorf("%w: max_nodes %d below min_nodes %d", ErrInvalidNodeCount, j.MaxNodes, j.MinNodes))
	}
	if j.ReqNodes > 0 && (j.ReqNodes < j.MinNodes || j.ReqNodes > j.NodeMax()) {
		mErr = multierror.Append(mErr, fmt.Errorf("%w: req_nodes %d outside [%d, %d]", ErrInvalidNodeCount, j.ReqNodes, j.MinNodes, j.NodeMax()))
	}
	if j.MinCPUs < 0 || j.MinCPUsPerNode < 0 || j.CPUsPerTask < 0 || j.NumTasks < 0 {
		mErr = multierror.Append(mErr, fmt.Errorf("%w: negative cpu or task count", ErrInvalidCPUCount))
	}
	if j.MaxCPUs > 0 && j.MaxCPUs < j.MinCPUs {
		mErr = multierror.Append(mErr, fmt.Errorf("%w: max_cpus %d below min_cpus %d", ErrInvalidCPUCount, j.MaxCPUs, j.MinCPUs))
	}
	if j.SegmentSize < 0 {
		mErr = multierror.Append(mErr, fmt.Errorf("%w: negative segment_size", ErrInvalidNodeCount))
	}
	for i, n := range j.RequiredNodes {
		if n < 0 {
			mErr = multierror.Append(mErr, fmt.Errorf("%w: required node %d has negative index", ErrInvalidNodeCount, i))
		}
	}
	for _, g := range j.Gres {
		if g.Name == "" {
			mErr = multierror.Append(mErr, fmt.Errorf("%w: missing name", ErrInvalidGres))
		}
		if g.MaxPerNode > 0 && g.PerNode > g.MaxPerNode {
			mErr = multierror.Append(mErr, fmt.Errorf("%w: %s per_node %d above max_per_node %d", ErrInvalidGres, g.Key(), g.PerNode, g.MaxPerNode))
		}
	}

	return mErr.ErrorOrNil()
}
