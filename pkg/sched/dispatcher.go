package sched

import (
	"context"
	"sync"
	"time"

	"github.com/rs/zerolog"

	"github.com/burrowvirt/burrow/pkg/log"
	"github.com/burrowvirt/burrow/pkg/types"
)

// Executor runs a single micro-op to completion. A non-nil error marks the
// op Failed; nil marks it Completed.
type Executor interface {
	Execute(ctx context.Context, op *types.MicroOp) error
}

// TransitionFunc observes micro-op state changes. It is called outside the
// dispatcher lock, once when an op starts running and once when it reaches
// a terminal state. The daemon uses it to persist op records, publish
// events and update metrics.
type TransitionFunc func(op *types.MicroOp)

// vmQueue is the ordered micro-op queue of one VM. running is the per-VM
// exclusivity token: while set, no worker may pop from this queue.
type vmQueue struct {
	ops     []*types.MicroOp
	running bool
}

// Dispatcher owns the per-VM queues and a fixed pool of workers. Ordering
// guarantees: strict FIFO within one VM's queue, at most one running
// micro-op per VM, no ordering across VMs. Pool exhaustion makes ready
// queues wait; it never fails them.
type Dispatcher struct {
	mu     sync.Mutex
	cond   *sync.Cond
	queues map[string]*vmQueue
	// order rotates runnable VMs so a busy VM cannot starve the rest.
	order []string

	workers    int
	exec       Executor
	onChange   TransitionFunc
	runningOps int
	stopped    bool
	wg         sync.WaitGroup

	logger zerolog.Logger
}

// Option configures a Dispatcher.
type Option func(*Dispatcher)

// WithTransitionFunc registers a state change observer.
func WithTransitionFunc(fn TransitionFunc) Option {
	return func(d *Dispatcher) { d.onChange = fn }
}

// New creates a Dispatcher with a fixed pool of workers. The pool size is
// set at startup and never changes.
func New(workers int, exec Executor, opts ...Option) *Dispatcher {
	if workers < 1 {
		workers = 1
	}
	d := &Dispatcher{
		queues:  make(map[string]*vmQueue),
		workers: workers,
		exec:    exec,
		logger:  log.WithComponent("dispatcher"),
	}
	d.cond = sync.NewCond(&d.mu)
	for _, opt := range opts {
		opt(d)
	}
	return d
}

// Start launches the worker pool. ctx is passed through to every
// Execute call; cancelling it does not abort ops already dispatched —
// a micro-op runs to completion or failure once a worker picks it up.
func (d *Dispatcher) Start(ctx context.Context) {
	d.logger.Info().Int("workers", d.workers).Msg("starting worker pool")
	for i := 0; i < d.workers; i++ {
		d.wg.Add(1)
		go d.worker(ctx, i)
	}
}

// Stop prevents further dispatch and waits for in-flight ops to finish.
// Queued but undispatched ops stay queued; callers wanting an empty
// scheduler drain first.
func (d *Dispatcher) Stop() {
	d.mu.Lock()
	d.stopped = true
	d.mu.Unlock()
	d.cond.Broadcast()
	d.wg.Wait()
	d.logger.Info().Msg("worker pool stopped")
}

// Enqueue appends ops to their VMs' queues, creating queues lazily on
// first use, and marks each op Pending. Order within the slice is
// preserved per VM.
func (d *Dispatcher) Enqueue(ops ...*types.MicroOp) {
	now := time.Now()

	d.mu.Lock()
	for _, op := range ops {
		op.State = types.OpStatePending
		op.EnqueuedAt = now
		q, ok := d.queues[op.VMID]
		if !ok {
			q = &vmQueue{}
			d.queues[op.VMID] = q
			d.order = append(d.order, op.VMID)
		}
		q.ops = append(q.ops, op)
	}
	d.mu.Unlock()
	d.cond.Broadcast()

	for _, op := range ops {
		d.logger.Debug().
			Str("vm_id", op.VMID).
			Str("op_id", op.ID).
			Str("kind", string(op.Kind)).
			Msg("micro-op enqueued")
	}
}

// QueueDepth returns the number of queued (not yet running) micro-ops
// across all VMs.
func (d *Dispatcher) QueueDepth() int {
	d.mu.Lock()
	defer d.mu.Unlock()
	n := 0
	for _, q := range d.queues {
		n += len(q.ops)
	}
	return n
}

// Drain blocks until every queue is empty and no op is running, or the
// context is cancelled.
func (d *Dispatcher) Drain(ctx context.Context) error {
	done := make(chan struct{})
	defer close(done)
	go func() {
		select {
		case <-ctx.Done():
			// Broadcast under the lock so the wakeup cannot fall into
			// the gap between the waiter's check and its Wait.
			d.mu.Lock()
			d.cond.Broadcast()
			d.mu.Unlock()
		case <-done:
		}
	}()

	d.mu.Lock()
	defer d.mu.Unlock()
	for {
		if len(d.queues) == 0 && d.runningOps == 0 {
			return nil
		}
		if err := ctx.Err(); err != nil {
			return err
		}
		d.cond.Wait()
	}
}

// next pops the head of a runnable queue, honoring the rotation order.
// Caller holds d.mu. Returns nil when nothing is runnable.
func (d *Dispatcher) next() *types.MicroOp {
	for i, vmID := range d.order {
		q := d.queues[vmID]
		if q == nil || q.running || len(q.ops) == 0 {
			continue
		}
		// Rotate the chosen VM to the back.
		d.order = append(append(d.order[:i:i], d.order[i+1:]...), vmID)
		q.running = true
		return q.ops[0]
	}
	return nil
}

func (d *Dispatcher) worker(ctx context.Context, id int) {
	defer d.wg.Done()
	logger := d.logger.With().Int("worker", id).Logger()

	for {
		d.mu.Lock()
		var op *types.MicroOp
		for {
			if d.stopped {
				d.mu.Unlock()
				return
			}
			if op = d.next(); op != nil {
				break
			}
			d.cond.Wait()
		}
		op.State = types.OpStateRunning
		op.StartedAt = time.Now()
		d.runningOps++
		d.mu.Unlock()

		d.notify(op)
		logger.Debug().
			Str("vm_id", op.VMID).
			Str("op_id", op.ID).
			Str("kind", string(op.Kind)).
			Msg("micro-op running")

		err := d.exec.Execute(ctx, op)

		d.mu.Lock()
		q := d.queues[op.VMID]
		q.ops = q.ops[1:]
		q.running = false
		if len(q.ops) == 0 {
			delete(d.queues, op.VMID)
			d.order = removeID(d.order, op.VMID)
		}
		if err != nil {
			op.State = types.OpStateFailed
			op.Error = err.Error()
		} else {
			op.State = types.OpStateCompleted
		}
		op.FinishedAt = time.Now()
		d.runningOps--
		d.mu.Unlock()
		d.cond.Broadcast()

		d.notify(op)
		if err != nil {
			logger.Error().
				Err(err).
				Str("vm_id", op.VMID).
				Str("op_id", op.ID).
				Str("kind", string(op.Kind)).
				Msg("micro-op failed")
		} else {
			logger.Debug().
				Str("vm_id", op.VMID).
				Str("op_id", op.ID).
				Str("kind", string(op.Kind)).
				Msg("micro-op completed")
		}
	}
}

func (d *Dispatcher) notify(op *types.MicroOp) {
	if d.onChange != nil {
		d.onChange(op)
	}
}

func removeID(ids []string, id string) []string {
	for i, v := range ids {
		if v == id {
			return append(ids[:i:i], ids[i+1:]...)
		}
	}
	return ids
}
