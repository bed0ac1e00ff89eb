package types

import (
	"errors"
	"strings"
)

// Micro-op failure kinds. Each is reported as the terminal state of the
// specific micro-op it failed; none cancels sibling micro-ops of other VMs.
var (
	// ErrOutOfMemory means the host-wide memory wait was exhausted or the
	// scrubber stalled at zero pending scrub. Recoverable: the whole VM
	// start may be retried later.
	ErrOutOfMemory = errors.New("out of memory")

	// ErrPlacementUnavailable means no NUMA node or acceptable node pair
	// fits the VM after the retry policy was exhausted. Recoverable.
	ErrPlacementUnavailable = errors.New("placement unavailable")

	// ErrAllocationFailed means the hypervisor rejected the decided
	// placement during memory population. Fatal for the attempt.
	ErrAllocationFailed = errors.New("allocation failed")

	// ErrVMNotFound is returned for lookups of unknown VM identifiers.
	ErrVMNotFound = errors.New("VM not found")
)

// Recoverable reports whether a micro-op failure may be retried by
// re-submitting the lifecycle request.
func Recoverable(err error) bool {
	return errors.Is(err, ErrOutOfMemory) || errors.Is(err, ErrPlacementUnavailable)
}

// RecoverableMessage reports whether a persisted error string describes a
// recoverable failure. VM records carry failures as strings, so the
// reconciler classifies them by the sentinel text the executor wrapped in.
func RecoverableMessage(msg string) bool {
	return strings.Contains(msg, ErrOutOfMemory.Error()) ||
		strings.Contains(msg, ErrPlacementUnavailable.Error())
}
