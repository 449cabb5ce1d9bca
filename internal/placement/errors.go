package placement

import "errors"

var (
	// ErrInsufficientResources means the usable nodes cannot supply the
	// node, CPU or GRES minimums.
	ErrInsufficientResources = errors.New("insufficient resources")

	// ErrRequiredNodesUnavailable means a required node is outside the
	// usable universe.
	ErrRequiredNodesUnavailable = errors.New("required nodes unavailable")

	// ErrRequiredNodesNotCoLocated means the required nodes span more than
	// one topology domain where the topology needs a single one.
	ErrRequiredNodesNotCoLocated = errors.New("required nodes not on a shared network")

	// ErrTopologyConfigUnavailable means the job shape can never fit the
	// topology, e.g. a segment size that does not divide the node count.
	ErrTopologyConfigUnavailable = errors.New("job shape does not fit topology")

	// ErrRetryHint means the leaf switch span limit cannot be met now; the
	// caller may relax it and retry.
	ErrRetryHint = errors.New("leaf switch span exceeded, retry later")

	// ErrBreakEval abandons an attempt. Place reports it as
	// ErrInsufficientResources.
	ErrBreakEval = errors.New("placement abandoned")
)

// Reason returns a short label for a placement error, suitable for metrics
// and reports.
func Reason(err error) string {
	switch {
	case err == nil:
		return "placed"
	case errors.Is(err, ErrRequiredNodesUnavailable):
		return "required_unavailable"
	case errors.Is(err, ErrRequiredNodesNotCoLocated):
		return "required_not_colocated"
	case errors.Is(err, ErrTopologyConfigUnavailable):
		return "topology_mismatch"
	case errors.Is(err, ErrRetryHint):
		return "retry_hint"
	case errors.Is(err, ErrInsufficientResources), errors.Is(err, ErrBreakEval):
		return "insufficient"
	default:
		return "error"
	}
}
