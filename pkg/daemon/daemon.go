// Package daemon wires the burrow components together and runs them: the
// store, the event broker, the dispatcher with its executor, the HTTP
// API, the metrics endpoint and the reconciler. It is the only package
// that knows about all the others.
package daemon

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"os"
	"path/filepath"
	"time"

	"github.com/rs/zerolog"
	"golang.org/x/sync/errgroup"

	"github.com/burrowvirt/burrow/pkg/api"
	"github.com/burrowvirt/burrow/pkg/backend/dryrun"
	xlbackend "github.com/burrowvirt/burrow/pkg/backend/xl"
	"github.com/burrowvirt/burrow/pkg/config"
	"github.com/burrowvirt/burrow/pkg/events"
	"github.com/burrowvirt/burrow/pkg/executor"
	"github.com/burrowvirt/burrow/pkg/lock"
	"github.com/burrowvirt/burrow/pkg/log"
	"github.com/burrowvirt/burrow/pkg/memwait"
	"github.com/burrowvirt/burrow/pkg/metrics"
	"github.com/burrowvirt/burrow/pkg/numa"
	"github.com/burrowvirt/burrow/pkg/oracle"
	"github.com/burrowvirt/burrow/pkg/reconciler"
	"github.com/burrowvirt/burrow/pkg/sched"
	"github.com/burrowvirt/burrow/pkg/splitter"
	"github.com/burrowvirt/burrow/pkg/storage"
	"github.com/burrowvirt/burrow/pkg/types"
)

// drainTimeout bounds how long shutdown waits for in-flight micro-ops.
const drainTimeout = 90 * time.Second

// Daemon is the assembled burrow process.
type Daemon struct {
	cfg        *config.Config
	flock      *lock.Flock
	store      storage.Store
	broker     *events.Broker
	dispatcher *sched.Dispatcher
	reconciler *reconciler.Reconciler
	apiServer  *api.Server
	logger     zerolog.Logger
}

// New assembles a Daemon from configuration. It acquires the daemon lock
// and opens the store; Run starts everything else.
func New(ctx context.Context, cfg *config.Config) (*Daemon, error) {
	logger := log.WithComponent("daemon")

	if err := os.MkdirAll(cfg.DataDir, 0o755); err != nil {
		return nil, fmt.Errorf("create data dir: %w", err)
	}

	fl := lock.New(filepath.Join(cfg.DataDir, "burrow.lock"))
	if err := fl.Acquire(ctx); err != nil {
		return nil, fmt.Errorf("acquire daemon lock: %w", err)
	}

	store, err := storage.NewBoltStore(cfg.DataDir)
	if err != nil {
		_ = fl.Release()
		return nil, fmt.Errorf("open store: %w", err)
	}

	var (
		orc oracle.Oracle
		be  executor.Backend
	)
	if cfg.DryRun {
		logger.Warn().Msg("dry-run mode: using fake hypervisor backend and oracle")
		orc = &oracle.Static{
			Host: types.HostMemory{FreeKiB: 64 * 1024 * 1024, ScrubKiB: 0},
			Table: types.NodeTable{Nodes: []*types.NUMANode{
				{ID: 0, FreeKiB: 32 * 1024 * 1024, Distances: []int{10, 12}},
				{ID: 1, FreeKiB: 32 * 1024 * 1024, Distances: []int{12, 10}},
			}},
		}
		be = dryrun.New()
	} else {
		orc = oracle.NewXL(cfg.XLBinary)
		be = xlbackend.New(cfg.XLBinary, filepath.Join(cfg.DataDir, "domains"))
	}

	d := &Daemon{
		cfg:    cfg,
		flock:  fl,
		store:  store,
		broker: events.NewBroker(),
		logger: logger,
	}

	exec := executor.New(
		store, be, orc,
		memwait.New(orc, cfg.MaxWaitSeconds),
		numa.New(cfg.SameSocketDelta),
		executor.Config{
			MemoryOverheadKiB: cfg.MemoryOverheadKiB,
			Strict:            cfg.NUMAPolicy == config.PolicyStrict,
		},
	)
	d.dispatcher = sched.New(cfg.Workers, exec, sched.WithTransitionFunc(d.onOpChange))
	d.apiServer = api.NewServer(store, d, d.broker)
	if cfg.ReconcileInterval > 0 {
		d.reconciler = reconciler.New(store, d,
			time.Duration(cfg.ReconcileInterval)*time.Second, cfg.MaxStartRetries)
	}

	return d, nil
}

// Submit splits a lifecycle request into micro-ops, persists them and
// hands them to the dispatcher. Implements the api and reconciler
// Submitter interfaces.
func (d *Daemon) Submit(vm *types.VM, kind types.RequestKind, params map[string]string) ([]*types.MicroOp, error) {
	ops, err := splitter.Split(vm, kind, params)
	if err != nil {
		return nil, err
	}

	for _, op := range ops {
		op.State = types.OpStatePending
		if err := d.store.SaveMicroOp(op); err != nil {
			return nil, fmt.Errorf("persist micro-op %s: %w", op.ID, err)
		}
		d.broker.Publish(events.EventOpEnqueued,
			fmt.Sprintf("%s enqueued for VM %s", op.Kind, op.VMID),
			map[string]string{"vm_id": op.VMID, "op_id": op.ID, "kind": string(op.Kind)})
	}

	d.dispatcher.Enqueue(ops...)
	metrics.QueueDepth.Set(float64(d.dispatcher.QueueDepth()))
	return ops, nil
}

// onOpChange persists every micro-op state transition and fans it out to
// events and metrics. Runs on worker goroutines, outside dispatcher locks.
func (d *Daemon) onOpChange(op *types.MicroOp) {
	if err := d.store.SaveMicroOp(op); err != nil {
		d.logger.Error().Err(err).Str("op_id", op.ID).Msg("persist micro-op transition")
	}

	meta := map[string]string{"vm_id": op.VMID, "op_id": op.ID, "kind": string(op.Kind)}
	switch op.State {
	case types.OpStateRunning:
		metrics.RunningOps.Inc()
		d.broker.Publish(events.EventOpStarted,
			fmt.Sprintf("%s running for VM %s", op.Kind, op.VMID), meta)

	case types.OpStateCompleted, types.OpStateFailed:
		metrics.RunningOps.Dec()
		metrics.MicroOpsTotal.WithLabelValues(string(op.Kind), string(op.State)).Inc()
		metrics.MicroOpDuration.WithLabelValues(string(op.Kind)).
			Observe(op.FinishedAt.Sub(op.StartedAt).Seconds())

		if op.State == types.OpStateFailed {
			meta["error"] = op.Error
			d.broker.Publish(events.EventOpFailed,
				fmt.Sprintf("%s failed for VM %s: %s", op.Kind, op.VMID, op.Error), meta)
		} else {
			d.broker.Publish(events.EventOpCompleted,
				fmt.Sprintf("%s completed for VM %s", op.Kind, op.VMID), meta)
			switch op.Kind {
			case types.OpUnpause:
				d.broker.Publish(events.EventVMStarted, "VM started", map[string]string{"vm_id": op.VMID})
			case types.OpDestroy:
				d.broker.Publish(events.EventVMStopped, "VM stopped", map[string]string{"vm_id": op.VMID})
			}
		}
	}
	metrics.QueueDepth.Set(float64(d.dispatcher.QueueDepth()))
}

// Run starts all components and blocks until ctx is cancelled, then
// shuts down: stop ingress, drain in-flight micro-ops, stop workers,
// close the store, release the lock.
func (d *Daemon) Run(ctx context.Context) error {
	d.broker.Start()
	d.dispatcher.Start(context.WithoutCancel(ctx))
	if d.reconciler != nil {
		d.reconciler.Start()
	}

	metricsMux := http.NewServeMux()
	metricsMux.Handle("/metrics", metrics.Handler())
	metricsServer := &http.Server{Addr: d.cfg.MetricsAddr, Handler: metricsMux}

	g, gctx := errgroup.WithContext(ctx)

	g.Go(func() error {
		return d.apiServer.Start(d.cfg.APIAddr)
	})
	g.Go(func() error {
		d.logger.Info().Str("addr", d.cfg.MetricsAddr).Msg("metrics server listening")
		if err := metricsServer.ListenAndServe(); !errors.Is(err, http.ErrServerClosed) {
			return err
		}
		return nil
	})
	g.Go(func() error {
		<-gctx.Done()
		d.logger.Info().Msg("shutting down")

		shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
		defer cancel()
		if err := d.apiServer.Shutdown(shutdownCtx); err != nil {
			d.logger.Error().Err(err).Msg("API shutdown")
		}
		if err := metricsServer.Shutdown(shutdownCtx); err != nil {
			d.logger.Error().Err(err).Msg("metrics shutdown")
		}
		return nil
	})

	err := g.Wait()

	drainCtx, cancel := context.WithTimeout(context.Background(), drainTimeout)
	defer cancel()
	if derr := d.dispatcher.Drain(drainCtx); derr != nil {
		d.logger.Warn().Err(derr).Msg("drain incomplete, stopping with queued ops")
	}
	d.dispatcher.Stop()

	if d.reconciler != nil {
		d.reconciler.Stop()
	}
	d.broker.Stop()
	if cerr := d.store.Close(); cerr != nil {
		d.logger.Error().Err(cerr).Msg("close store")
	}
	if rerr := d.flock.Release(); rerr != nil {
		d.logger.Error().Err(rerr).Msg("release daemon lock")
	}

	d.logger.Info().Msg("daemon stopped")
	return err
}
