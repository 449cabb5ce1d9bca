package cmd

import (
	"context"
	"encoding/json"
	"fmt"
	"sort"
	"strings"

	"github.com/spf13/cobra"

	"github.com/guimove/hpcfit/internal/model"
	"github.com/guimove/hpcfit/internal/nodeset"
	"github.com/guimove/hpcfit/internal/snapshot"
)

var inspectCmd = &cobra.Command{
	Use:   "inspect",
	Short: "Load and display the cluster snapshot",
	Long: `Loads the cluster snapshot, overlaying live node state when a Prometheus
URL is configured, and displays nodes, GRES, topology and the pending queue.
Useful for checking snapshot files and Prometheus collection. The YAML output
can be fed back to 'hpcfit place --input'.`,
	RunE: runInspect,
}

func init() {
	f := inspectCmd.Flags()
	f.String("output", "table", "output format: table, json, yaml")
	f.String("sort-by", "index", "sort nodes by: index, name, weight, free")
	f.String("output-file", "", "write output to file")

	rootCmd.AddCommand(inspectCmd)
}

func runInspect(cmd *cobra.Command, args []string) error {
	ctx := context.Background()

	outFile, _ := cmd.Flags().GetString("output-file")
	w, done, err := openOutput(outFile)
	if err != nil {
		return err
	}
	defer done()

	orch, err := newOrchestrator(w)
	if err != nil {
		return err
	}
	snap, err := orch.Load(ctx)
	if err != nil {
		return err
	}

	switch outputFmt, _ := cmd.Flags().GetString("output"); outputFmt {
	case "json":
		enc := json.NewEncoder(w)
		enc.SetIndent("", "  ")
		return enc.Encode(snap)
	case "yaml":
		data, err := snapshot.Encode(snap)
		if err != nil {
			return err
		}
		_, err = w.Write(data)
		return err
	}

	// Table output
	topo := "none"
	if snap.Topology != nil && snap.Topology.Kind != "" {
		topo = string(snap.Topology.Kind)
	}
	fmt.Fprintf(w, "Cluster: %s\n", snap.Cluster)
	fmt.Fprintf(w, "Backend: %s\n", orch.Source.BackendType())
	if !snap.CollectedAt.IsZero() {
		fmt.Fprintf(w, "Collected: %s\n", snap.CollectedAt.Format("2006-01-02 15:04:05 MST"))
	}
	fmt.Fprintf(w, "Nodes: %d | Jobs: %d | Topology: %s\n\n", len(snap.Nodes), len(snap.Jobs), topo)

	fmt.Fprintf(w, "%-5s %-20s %6s %6s %9s %-16s %-20s %s\n",
		"IDX", "NODE", "WEIGHT", "CPUS", "FREE", "FREE_CORES", "GRES", "FLAGS")
	fmt.Fprintf(w, "%s\n", strings.Repeat("-", 100))

	sortBy, _ := cmd.Flags().GetString("sort-by")
	var totalCPUs, freeCPUs int
	for _, i := range sortNodes(snap.Nodes, sortBy) {
		n := &snap.Nodes[i]
		flags := ""
		if n.Idle {
			flags += "[idle]"
		}
		if n.RestrictedCoresPerGPU > 0 {
			flags += fmt.Sprintf("[restricted=%d]", n.RestrictedCoresPerGPU)
		}
		totalCPUs += n.TotalCPUs()
		freeCPUs += n.AvailCPUs

		fmt.Fprintf(w, "%-5d %-20s %6d %6d %9d %-16s %-20s %s\n",
			i,
			truncate(n.Name, 20),
			n.Weight,
			n.TotalCPUs(),
			n.AvailCPUs,
			truncate(nodeset.Format(n.AvailCores), 16),
			truncate(gresList(n.Gres), 20),
			flags,
		)
	}
	fmt.Fprintf(w, "\nTotal: CPU=%d free=%d\n", totalCPUs, freeCPUs)

	if len(snap.Jobs) == 0 {
		return nil
	}
	fmt.Fprintf(w, "\n%-12s %7s %6s %-20s %s\n", "JOB", "NODES", "CPUS", "GRES", "CONSTRAINTS")
	fmt.Fprintf(w, "%s\n", strings.Repeat("-", 70))
	for _, j := range snap.Jobs {
		fmt.Fprintf(w, "%-12s %7s %6d %-20s %s\n",
			truncate(j.ID, 12), nodeRange(j), j.MinCPUs, truncate(gresRequests(j.Gres), 20), constraints(j))
	}
	return nil
}

// sortNodes returns node indices in display order.
func sortNodes(nodes []model.NodeResource, by string) []int {
	idx := make([]int, len(nodes))
	for i := range idx {
		idx[i] = i
	}
	switch by {
	case "name":
		sort.SliceStable(idx, func(a, b int) bool { return nodes[idx[a]].Name < nodes[idx[b]].Name })
	case "weight":
		sort.SliceStable(idx, func(a, b int) bool { return nodes[idx[a]].Weight < nodes[idx[b]].Weight })
	case "free":
		sort.SliceStable(idx, func(a, b int) bool { return nodes[idx[a]].AvailCPUs > nodes[idx[b]].AvailCPUs })
	}
	return idx
}

func gresList(gres []model.GresAvail) string {
	parts := make([]string, 0, len(gres))
	for _, g := range gres {
		name := g.Name
		if g.Type != "" {
			name += ":" + g.Type
		}
		parts = append(parts, fmt.Sprintf("%s=%d", name, g.Total()))
	}
	return strings.Join(parts, ",")
}

func gresRequests(reqs []model.GresRequest) string {
	parts := make([]string, 0, len(reqs))
	for _, r := range reqs {
		name := r.Name
		if r.Type != "" {
			name += ":" + r.Type
		}
		parts = append(parts, name)
	}
	return strings.Join(parts, ",")
}

func nodeRange(j model.JobRequest) string {
	if hi := j.NodeMax(); hi != j.MinNodes {
		return fmt.Sprintf("%d-%d", j.MinNodes, hi)
	}
	return fmt.Sprint(j.MinNodes)
}

func constraints(j model.JobRequest) string {
	var c []string
	if j.Contiguous {
		c = append(c, "contiguous")
	}
	if j.Spread {
		c = append(c, "spread")
	}
	if len(j.RequiredNodes) > 0 {
		c = append(c, fmt.Sprintf("required=%v", j.RequiredNodes))
	}
	if j.ReqSwitch > 0 {
		c = append(c, fmt.Sprintf("switches<=%d", j.ReqSwitch))
	}
	if j.SegmentSize > 0 {
		c = append(c, fmt.Sprintf("segment=%d", j.SegmentSize))
	}
	return strings.Join(c, " ")
}

func truncate(s string, maxLen int) string {
	if len(s) <= maxLen {
		return s
	}
	return s[:maxLen-3] + "..."
}
