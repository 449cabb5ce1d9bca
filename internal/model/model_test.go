package model

import (
	"encoding/json"
	"errors"
	"testing"
	"time"

	"github.com/guimove/hpcfit/internal/nodeset"
	"github.com/guimove/hpcfit/internal/topology"
)

func TestJobRequest_NodeBounds(t *testing.T) {
	tests := []struct {
		name       string
		job        JobRequest
		wantMax    int
		wantTarget int
	}{
		{"min only", JobRequest{MinNodes: 2}, 2, 2},
		{"req above min", JobRequest{MinNodes: 2, ReqNodes: 4}, 4, 4},
		{"explicit max", JobRequest{MinNodes: 2, MaxNodes: 8}, 8, 2},
		{"all set", JobRequest{MinNodes: 2, ReqNodes: 3, MaxNodes: 8}, 8, 3},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if got := tt.job.NodeMax(); got != tt.wantMax {
				t.Errorf("NodeMax() = %d, want %d", got, tt.wantMax)
			}
			if got := tt.job.NodeTarget(); got != tt.wantTarget {
				t.Errorf("NodeTarget() = %d, want %d", got, tt.wantTarget)
			}
		})
	}
}

func TestJobRequest_Validate(t *testing.T) {
	tests := []struct {
		name    string
		job     JobRequest
		wantErr error
	}{
		{"valid", JobRequest{MinNodes: 1, MinCPUs: 4}, nil},
		{"zero min nodes", JobRequest{}, ErrInvalidNodeCount},
		{"max below min", JobRequest{MinNodes: 4, MaxNodes: 2}, ErrInvalidNodeCount},
		{"req above max", JobRequest{MinNodes: 1, MaxNodes: 2, ReqNodes: 3}, ErrInvalidNodeCount},
		{"max cpus below min", JobRequest{MinNodes: 1, MinCPUs: 8, MaxCPUs: 4}, ErrInvalidCPUCount},
		{"unnamed gres", JobRequest{MinNodes: 1, Gres: []GresRequest{{PerJob: 1}}}, ErrInvalidGres},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			err := tt.job.Validate()
			if tt.wantErr == nil {
				if err != nil {
					t.Fatalf("unexpected error: %v", err)
				}
				return
			}
			if !errors.Is(err, tt.wantErr) {
				t.Errorf("Validate() = %v, want %v", err, tt.wantErr)
			}
		})
	}
}

func TestJobRequest_ValidateAggregates(t *testing.T) {
	job := JobRequest{MinNodes: 0, MinCPUs: 8, MaxCPUs: 4}
	err := job.Validate()
	if !errors.Is(err, ErrInvalidNodeCount) || !errors.Is(err, ErrInvalidCPUCount) {
		t.Errorf("expected both node and cpu errors, got %v", err)
	}
}

func TestDuration_Unmarshal(t *testing.T) {
	tests := []struct {
		in   string
		want time.Duration
	}{
		{`"5m"`, 5 * time.Minute},
		{`90`, 90 * time.Second},
		{`null`, 0},
	}

	for _, tt := range tests {
		var d Duration
		if err := json.Unmarshal([]byte(tt.in), &d); err != nil {
			t.Fatalf("unmarshal %s: %v", tt.in, err)
		}
		if d.Duration != tt.want {
			t.Errorf("unmarshal %s = %v, want %v", tt.in, d.Duration, tt.want)
		}
	}

	var d Duration
	if err := json.Unmarshal([]byte(`"soon"`), &d); err == nil {
		t.Error("expected error for invalid duration")
	}
}

func TestGresRequest_Matches(t *testing.T) {
	untyped := GresRequest{Name: "gpu"}
	typed := GresRequest{Name: "gpu", Type: "a100"}
	avail := GresAvail{Name: "gpu", Type: "h100"}

	if !untyped.Matches(avail) {
		t.Error("untyped request should match any type")
	}
	if typed.Matches(avail) {
		t.Error("typed request should not match another type")
	}
	if typed.Key() != "gpu:a100" {
		t.Errorf("Key() = %q", typed.Key())
	}
}

func TestNodeResource_UnmarshalDefaults(t *testing.T) {
	var n NodeResource
	data := `{"name":"n0","sockets":2,"cores_per_socket":4,"threads_per_core":2,
		"gres":[{"name":"gpu","per_socket":[2,0],"restricted_cores":"0-1"}]}`
	if err := json.Unmarshal([]byte(data), &n); err != nil {
		t.Fatalf("unmarshal: %v", err)
	}

	if got := nodeset.Format(n.AvailCores); got != "0-7" {
		t.Errorf("AvailCores = %q, want 0-7", got)
	}
	if n.AvailCPUs != 16 {
		t.Errorf("AvailCPUs = %d, want 16", n.AvailCPUs)
	}
	if n.Gres[0].Total() != 2 {
		t.Errorf("gres total = %d, want 2", n.Gres[0].Total())
	}
	if got := nodeset.Format(n.Gres[0].RestrictedCores); got != "0-1" {
		t.Errorf("RestrictedCores = %q, want 0-1", got)
	}
}

func TestNodeResource_MarshalRoundTrip(t *testing.T) {
	n := NodeResource{
		Name: "n1", Sockets: 1, CoresPerSocket: 4,
		AvailCPUs: 2, AvailCores: nodeset.Of(4, 1, 3),
	}
	b, err := json.Marshal(n)
	if err != nil {
		t.Fatalf("marshal: %v", err)
	}
	var back NodeResource
	if err := json.Unmarshal(b, &back); err != nil {
		t.Fatalf("unmarshal: %v", err)
	}
	if back.AvailCPUs != 2 || nodeset.Format(back.AvailCores) != "1,3" {
		t.Errorf("round trip lost availability: %+v", back)
	}
}

func TestNodeResource_CloneIsDeep(t *testing.T) {
	n := &NodeResource{
		Sockets: 2, CoresPerSocket: 2, AvailCPUs: 4, AvailCores: nodeset.Full(4),
		Gres: []GresAvail{{Name: "gpu", PerSocket: []uint64{1, 1}}},
	}
	c := n.Clone()
	c.AvailCores.Clear(0)
	c.Gres[0].PerSocket[0] = 0

	if !n.AvailCores.Test(0) {
		t.Error("clone shares core bitset")
	}
	if n.Gres[0].PerSocket[0] != 1 {
		t.Error("clone shares gres counts")
	}
	if c.SocketCores(0) != 1 || n.SocketCores(0) != 2 {
		t.Errorf("SocketCores: clone %d, original %d", c.SocketCores(0), n.SocketCores(0))
	}
}

func TestSnapshot_Validate(t *testing.T) {
	node := NodeResource{Name: "n0", Sockets: 1, CoresPerSocket: 4, AvailCPUs: 4, AvailCores: nodeset.Full(4)}

	good := Snapshot{
		Nodes: []NodeResource{node},
		Jobs:  []JobRequest{{ID: "j1", MinNodes: 1}},
	}
	if err := good.Validate(); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}

	bad := Snapshot{
		Nodes:    []NodeResource{node, node},
		Jobs:     []JobRequest{{ID: "j1", MinNodes: 1, RequiredNodes: []int{5}}},
		Topology: &topology.Tables{Kind: topology.KindRing},
	}
	if err := bad.Validate(); err == nil {
		t.Error("expected validation errors")
	}
}

func TestPlacement_Totals(t *testing.T) {
	p := Placement{Nodes: []NodeGrant{
		{Node: 3, CPUs: 8, Gres: []GresGrant{{Name: "gpu", Count: 2}}},
		{Node: 1, CPUs: 2, Gres: []GresGrant{{Name: "gpu", Count: 1}, {Name: "nic", Count: 1}}},
	}}

	if got := p.TotalCPUs(); got != 10 {
		t.Errorf("TotalCPUs() = %d, want 10", got)
	}
	if got := p.GresCount("gpu"); got != 3 {
		t.Errorf("GresCount(gpu) = %d, want 3", got)
	}
	ids := p.NodeIDs()
	if len(ids) != 2 || ids[0] != 1 || ids[1] != 3 {
		t.Errorf("NodeIDs() = %v, want [1 3]", ids)
	}
}
