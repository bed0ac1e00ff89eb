/*
Package storage persists Burrow's scheduler state.

The Store interface covers VM records and micro-op history; BoltStore
implements it on BoltDB (bbolt), a single-file embedded key/value store
with ACID transactions, which keeps the daemon dependency-free at runtime.

# Layout

Two buckets, JSON-encoded values:

	vms       vm.ID       -> types.VM
	microops  microop.ID  -> types.MicroOp

Micro-op records are upserted on every state transition, so the history a
client reads always reflects the live queue. ListMicroOpsByVM returns ops
sorted by enqueue time, i.e. in per-VM queue order.

The store holds no scheduling state: queues live in pkg/sched and are
rebuilt empty on restart. Persisted Pending/Running ops from a previous
run are historical records of an interrupted daemon, not work to resume.
*/
package storage
