package model

import (
	"encoding/json"
	"fmt"

	"github.com/bits-and-blooms/bitset"

	"github.com/guimove/hpcfit/internal/nodeset"
)

// GresAvail is the availability of one GRES kind on a node.
type GresAvail struct {
	Name string
	Type string

	// Units with affinity to each socket, indexed by socket.
	PerSocket []uint64

	// Units usable from any socket.
	NoAffinity uint64

	// Cores that GPU-bound work may only use under the restricted cores cap.
	// Nil when the node has no restricted cores.
	RestrictedCores *bitset.BitSet
}

// Total returns all units available on the node.
func (g GresAvail) Total() uint64 {
	total := g.NoAffinity
	for _, c := range g.PerSocket {
		total += c
	}
	return total
}

// Clone deep-copies the entry.
func (g GresAvail) Clone() GresAvail {
	out := g
	out.PerSocket = append([]uint64(nil), g.PerSocket...)
	if g.RestrictedCores != nil {
		out.RestrictedCores = g.RestrictedCores.Clone()
	}
	return out
}

type gresAvailJSON struct {
	Name            string   `json:"name"`
	Type            string   `json:"type,omitempty"`
	PerSocket       []uint64 `json:"per_socket,omitempty"`
	NoAffinity      uint64   `json:"no_affinity,omitempty"`
	RestrictedCores string   `json:"restricted_cores,omitempty"`
}

func (g GresAvail) MarshalJSON() ([]byte, error) {
	return json.Marshal(gresAvailJSON{
		Name:            g.Name,
		Type:            g.Type,
		PerSocket:       g.PerSocket,
		NoAffinity:      g.NoAffinity,
		RestrictedCores: nodeset.Format(g.RestrictedCores),
	})
}

func (g *GresAvail) UnmarshalJSON(b []byte) error {
	var raw gresAvailJSON
	if err := json.Unmarshal(b, &raw); err != nil {
		return err
	}
	*g = GresAvail{
		Name:       raw.Name,
		Type:       raw.Type,
		PerSocket:  raw.PerSocket,
		NoAffinity: raw.NoAffinity,
	}
	if raw.RestrictedCores != "" {
		set, err := nodeset.Parse(raw.RestrictedCores)
		if err != nil {
			return fmt.Errorf("gres %s restricted_cores: %w", raw.Name, err)
		}
		g.RestrictedCores = set
	}
	return nil
}

// NodeResource is the resource availability of one node before job-specific
// filtering. AvailCores is indexed socket*CoresPerSocket + core.
type NodeResource struct {
	Name           string
	Weight         uint32
	Sockets        int
	CoresPerSocket int
	ThreadsPerCore int

	AvailCPUs  int
	AvailCores *bitset.BitSet

	Gres []GresAvail

	// Idle nodes have no running work.
	Idle bool

	// Cores per GPU that GPU-bound work may use on restricted cores. 0 = off.
	RestrictedCoresPerGPU int
}

// Cores returns the number of cores on the node.
func (n *NodeResource) Cores() int { return n.Sockets * n.CoresPerSocket }

// Threads returns the CPUs per core, defaulting to 1.
func (n *NodeResource) Threads() int {
	if n.ThreadsPerCore > 0 {
		return n.ThreadsPerCore
	}
	return 1
}

// TotalCPUs returns the configured CPU count of the node.
func (n *NodeResource) TotalCPUs() int { return n.Cores() * n.Threads() }

// SocketOf returns the socket of a core index.
func (n *NodeResource) SocketOf(core int) int {
	if n.CoresPerSocket <= 0 {
		return 0
	}
	return core / n.CoresPerSocket
}

// SocketCores returns the available cores on socket s.
func (n *NodeResource) SocketCores(s int) int {
	count := 0
	for c := s * n.CoresPerSocket; c < (s+1)*n.CoresPerSocket; c++ {
		if nodeset.Has(n.AvailCores, c) {
			count++
		}
	}
	return count
}

// Clone deep-copies the node so an attempt can narrow it freely.
func (n *NodeResource) Clone() *NodeResource {
	out := *n
	out.AvailCores = nodeset.Clone(n.AvailCores)
	if n.Gres != nil {
		out.Gres = make([]GresAvail, len(n.Gres))
		for i := range n.Gres {
			out.Gres[i] = n.Gres[i].Clone()
		}
	}
	return &out
}

// Validate checks the node shape.
func (n *NodeResource) Validate() error {
	if n.Sockets <= 0 || n.CoresPerSocket <= 0 {
		return fmt.Errorf("node %q: sockets and cores_per_socket must be positive", n.Name)
	}
	if n.AvailCPUs < 0 || n.AvailCPUs > n.TotalCPUs() {
		return fmt.Errorf("node %q: avail_cpus %d outside [0, %d]", n.Name, n.AvailCPUs, n.TotalCPUs())
	}
	if last, ok := nodeset.Last(n.AvailCores); ok && last >= n.Cores() {
		return fmt.Errorf("node %q: core %d beyond %d cores", n.Name, last, n.Cores())
	}
	for _, g := range n.Gres {
		if len(g.PerSocket) > n.Sockets {
			return fmt.Errorf("node %q: gres %s lists %d sockets, node has %d", n.Name, g.Name, len(g.PerSocket), n.Sockets)
		}
	}
	return nil
}

type nodeResourceJSON struct {
	Name                  string      `json:"name"`
	Weight                uint32      `json:"weight,omitempty"`
	Sockets               int         `json:"sockets"`
	CoresPerSocket        int         `json:"cores_per_socket"`
	ThreadsPerCore        int         `json:"threads_per_core,omitempty"`
	AvailCPUs             *int        `json:"avail_cpus,omitempty"`
	AvailCores            *string     `json:"avail_cores,omitempty"`
	Gres                  []GresAvail `json:"gres,omitempty"`
	Idle                  bool        `json:"idle,omitempty"`
	RestrictedCoresPerGPU int         `json:"restricted_cores_per_gpu,omitempty"`
}

func (n NodeResource) MarshalJSON() ([]byte, error) {
	cores := nodeset.Format(n.AvailCores)
	cpus := n.AvailCPUs
	return json.Marshal(nodeResourceJSON{
		Name:                  n.Name,
		Weight:                n.Weight,
		Sockets:               n.Sockets,
		CoresPerSocket:        n.CoresPerSocket,
		ThreadsPerCore:        n.ThreadsPerCore,
		AvailCPUs:             &cpus,
		AvailCores:            &cores,
		Gres:                  n.Gres,
		Idle:                  n.Idle,
		RestrictedCoresPerGPU: n.RestrictedCoresPerGPU,
	})
}

// UnmarshalJSON decodes a node. Missing avail_cores means every core is
// available and missing avail_cpus is derived from the available cores.
func (n *NodeResource) UnmarshalJSON(b []byte) error {
	var raw nodeResourceJSON
	if err := json.Unmarshal(b, &raw); err != nil {
		return err
	}
	*n = NodeResource{
		Name:                  raw.Name,
		Weight:                raw.Weight,
		Sockets:               raw.Sockets,
		CoresPerSocket:        raw.CoresPerSocket,
		ThreadsPerCore:        raw.ThreadsPerCore,
		Gres:                  raw.Gres,
		Idle:                  raw.Idle,
		RestrictedCoresPerGPU: raw.RestrictedCoresPerGPU,
	}
	if raw.AvailCores != nil {
		set, err := nodeset.Parse(*raw.AvailCores)
		if err != nil {
			return fmt.Errorf("node %q avail_cores: %w", raw.Name, err)
		}
		n.AvailCores = set
	} else {
		n.AvailCores = nodeset.Full(n.Cores())
	}
	if raw.AvailCPUs != nil {
		n.AvailCPUs = *raw.AvailCPUs
	} else {
		n.AvailCPUs = nodeset.Count(n.AvailCores) * n.Threads()
	}
	return nil
}
