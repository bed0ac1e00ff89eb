/*
Package sched implements the scheduling core: per-VM micro-op queues and
the shared worker pool that executes them.

# Architecture

	              Enqueue (request splitter)
	                        │
	                        ▼
	┌──────────────────────────────────────────────┐
	│  per-VM FIFO queues (created lazily,         │
	│  removed when empty)                         │
	│                                              │
	│   vm-a: [build, attach, unpause]   running   │
	│   vm-b: [create, build, ...]                 │
	│   vm-c: [destroy]                            │
	└──────────────────────┬───────────────────────┘
	                       │ next(): first runnable queue
	                       │ in rotation order, head pop
	                       ▼
	          ┌─────────────────────────┐
	          │  fixed worker pool (N)  │──▶ Executor.Execute
	          └─────────────────────────┘

# Guarantees

  - Strict FIFO within one VM's queue: completion order equals enqueue
    order.
  - At most one running micro-op per VM, enforced by a per-queue running
    flag rather than a global lock. Distinct VMs execute fully in
    parallel up to the pool size.
  - Pool exhaustion makes ready queues wait; it never fails them.
  - No ordering across VMs. The rotation order gives runnable queues a
    round-robin chance at a worker, which avoids starvation but is a
    quality-of-implementation property, not a contract.

Every micro-op moves Pending -> Running -> {Completed, Failed}; no
transition skips Running. A dispatched op runs to completion or failure;
there is no mid-op cancellation. The only suspension point inside an op is
the memory waiter's poll loop, which sleeps without holding the dispatcher
lock, so a VM waiting for memory never blocks other VMs' dispatch.

# Usage

	d := sched.New(cfg.Workers, executor,
		sched.WithTransitionFunc(persistAndPublish))
	d.Start(ctx)
	defer d.Stop()

	d.Enqueue(ops...)       // splitter output, order preserved per VM
	_ = d.Drain(ctx)        // graceful shutdown: wait for quiescence
*/
package sched
