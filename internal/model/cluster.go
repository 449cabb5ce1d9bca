package model

import (
	"fmt"
	"time"

	"github.com/hashicorp/go-multierror"

	"github.com/guimove/hpcfit/internal/topology"
)

// Snapshot is a point-in-time view of cluster resources and the pending job
// queue, serving as input to placement and simulation.
type Snapshot struct {
	// When the snapshot was taken
	CollectedAt time.Time `json:"collected_at,omitzero"`

	Cluster string `json:"cluster"`

	// Nodes indexed by position; node indices in jobs and topology tables
	// refer to this order.
	Nodes []NodeResource `json:"nodes"`

	// Network topology; nil when the cluster has none configured.
	Topology *topology.Tables `json:"topology,omitempty"`

	// Pending jobs in scheduling order.
	Jobs []JobRequest `json:"jobs,omitempty"`
}

// NodeIndex returns the index of the named node or -1.
func (s *Snapshot) NodeIndex(name string) int {
	for i := range s.Nodes {
		if s.Nodes[i].Name == name {
			return i
		}
	}
	return -1
}

// Job returns the job with the given ID.
func (s *Snapshot) Job(id string) (JobRequest, bool) {
	for _, j := range s.Jobs {
		if j.ID == id {
			return j, true
		}
	}
	return JobRequest{}, false
}

// CloneNodes deep-copies the node table.
func (s *Snapshot) CloneNodes() []*NodeResource {
	out := make([]*NodeResource, len(s.Nodes))
	for i := range s.Nodes {
		out[i] = s.Nodes[i].Clone()
	}
	return out
}

// Validate checks node shapes, job requests and topology tables.
func (s *Snapshot) Validate() error {
	var mErr *multierror.Error

	names := make(map[string]struct{}, len(s.Nodes))
	for i := range s.Nodes {
		n := &s.Nodes[i]
		if err := n.Validate(); err != nil {
			mErr = multierror.Append(mErr, err)
		}
		if _, dup := names[n.Name]; dup {
			mErr = multierror.Append(mErr, fmt.Errorf("node %q listed twice", n.Name))
		}
		names[n.Name] = struct{}{}
	}

	ids := make(map[string]struct{}, len(s.Jobs))
	for i := range s.Jobs {
		j := &s.Jobs[i]
		if err := j.Validate(); err != nil {
			mErr = multierror.Append(mErr, fmt.Errorf("job %q: %w", j.ID, err))
		}
		for _, n := range j.RequiredNodes {
			if n >= len(s.Nodes) {
				mErr = multierror.Append(mErr, fmt.Errorf("job %q: required node %d out of range", j.ID, n))
			}
		}
		if _, dup := ids[j.ID]; dup && j.ID != "" {
			mErr = multierror.Append(mErr, fmt.Errorf("job %q listed twice", j.ID))
		}
		ids[j.ID] = struct{}{}
	}

	if _, err := s.Topology.Build(); err != nil {
		mErr = multierror.Append(mErr, fmt.Errorf("topology: %w", err))
	}

	return mErr.ErrorOrNil()
}
