/*
Package types defines the shared data model for Burrow.

It contains the VM record, micro-op and lifecycle request types, memory and
NUMA topology snapshots, placement decisions, and the sentinel error kinds
reported as terminal micro-op states.

# Core Types

VM: a virtual machine known to the scheduler. The ID is opaque and stable
for the VM's lifetime.

MicroOp: one atomic step of a lifecycle operation (create, build,
attach-device, unpause, ...). Created by the request splitter, consumed
exactly once by a dispatcher worker. The payload is immutable after
enqueue; the dispatcher owns the state fields.

HostMemory / NodeTable: transient snapshots read from the memory oracle.
They are never cached across calls; the only exception is the stall
detector in the memory waiter, which keeps the immediately preceding
per-node reading.

PlacementDecision: chosen NUMA nodes plus soft vCPU affinity, or the
round-robin fallback when no node or same-socket pair fits.

# Error Kinds

ErrOutOfMemory, ErrPlacementUnavailable and ErrAllocationFailed are matched
with errors.Is after fmt.Errorf("%w") wrapping. Recoverable() classifies
which kinds a caller may retry.
*/
package types
