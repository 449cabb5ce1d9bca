package snapshot

import "fmt"

// PromQL templates for per-node scheduler state. They target the series of
// the Slurm Prometheus exporter, one sample per node labelled "node".

// queryNodeCPUs returns PromQL for the CPUs of a node in the given state
// ("idle", "alloc", "total").
func queryNodeCPUs(state, cluster string) string {
	return fmt.Sprintf(`max by (node) (slurm_node_cpu_%s%s)`, state, clusterMatcher(cluster))
}

func clusterMatcher(cluster string) string {
	if cluster == "" {
		return ""
	}
	return fmt.Sprintf(`{cluster=%q}`, cluster)
}
