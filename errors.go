package murmur

import (
	"fmt"
	"strings"

	"github.com/gordian-engine/murmur/mstore"
)

// FanoutError is returned from [*Node.HandleMessage]
// when forwarding a newly learned value to one or more neighbors failed.
// The broadcast is not acknowledged in that case,
// so the sender is expected to retry it.
//
// The value remains recorded locally;
// a retried broadcast is treated as a duplicate.
type FanoutError struct {
	Value mstore.Value

	// Neighbors whose RPC failed, in topology order.
	Failures []NeighborFailure

	// Neighbors never attempted, because fanout stopped at the first failure.
	// Only populated when [NodeConfig.StopFanoutOnFailure] is set.
	Skipped []string
}

// NeighborFailure is a single failed fanout RPC.
type NeighborFailure struct {
	Neighbor string
	Err      error
}

func (e *FanoutError) Error() string {
	var sb strings.Builder
	fmt.Fprintf(
		&sb, "failed to fan out value %d to %d neighbor(s)",
		e.Value, len(e.Failures),
	)
	if len(e.Skipped) > 0 {
		fmt.Fprintf(&sb, " (skipped %d)", len(e.Skipped))
	}
	for i, f := range e.Failures {
		if i == 0 {
			sb.WriteString(": ")
		} else {
			sb.WriteString("; ")
		}
		sb.WriteString(f.Neighbor)
		sb.WriteString(": ")
		sb.WriteString(f.Err.Error())
	}
	return sb.String()
}

func (e *FanoutError) Unwrap() []error {
	errs := make([]error, len(e.Failures))
	for i, f := range e.Failures {
		errs[i] = f.Err
	}
	return errs
}
