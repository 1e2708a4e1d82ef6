package worker

import (
	"context"
	"sync"
	"time"

	"go.uber.org/zap"

	"github.com/maverickbet/deposit-gateway/internal/observability"
	"github.com/maverickbet/deposit-gateway/internal/service"
)

// ReconciliationWorker runs reconciliation cycles on a fixed interval. Cycles
// never overlap: a tick that fires while the previous cycle is still running
// is skipped, and each cycle is bounded by a timeout.
type ReconciliationWorker struct {
	svc          *service.ReconciliationService
	interval     time.Duration
	cycleTimeout time.Duration
	running      sync.Mutex
	stopCh       chan struct{}
	stopOnce     sync.Once
}

// NewReconciliationWorker constructs a worker with default timings.
func NewReconciliationWorker(svc *service.ReconciliationService) *ReconciliationWorker {
	return &ReconciliationWorker{
		svc:          svc,
		interval:     30 * time.Second,
		cycleTimeout: 25 * time.Second,
		stopCh:       make(chan struct{}),
	}
}

// WithInterval updates the run interval.
func (w *ReconciliationWorker) WithInterval(interval time.Duration) *ReconciliationWorker {
	if interval > 0 {
		w.interval = interval
	}
	return w
}

// WithCycleTimeout bounds a single cycle.
func (w *ReconciliationWorker) WithCycleTimeout(timeout time.Duration) *ReconciliationWorker {
	if timeout > 0 {
		w.cycleTimeout = timeout
	}
	return w
}

// Start blocks and runs reconciliation at the configured interval.
func (w *ReconciliationWorker) Start(ctx context.Context) {
	zap.L().Info("reconciliation worker starting", zap.Duration("interval", w.interval))
	ticker := time.NewTicker(w.interval)
	defer ticker.Stop()

	// Run once immediately at startup.
	w.runOnce(ctx)

	for {
		select {
		case <-ctx.Done():
			zap.L().Info("reconciliation worker context canceled")
			return
		case <-w.stopCh:
			zap.L().Info("reconciliation worker stop signal received")
			return
		case <-ticker.C:
			w.runOnce(ctx)
		}
	}
}

// Stop stops the running worker loop.
func (w *ReconciliationWorker) Stop() {
	w.stopOnce.Do(func() {
		close(w.stopCh)
	})
}

// Run starts the worker in a goroutine and returns a stop function.
func (w *ReconciliationWorker) Run(ctx context.Context) func() {
	go w.Start(ctx)
	return w.Stop
}

func (w *ReconciliationWorker) runOnce(ctx context.Context) {
	if !w.running.TryLock() {
		observability.IncrementWorkerRun("reconciliation", "skipped_overlap")
		zap.L().Warn("previous reconciliation cycle still running, skipping tick")
		return
	}
	defer w.running.Unlock()

	cycleCtx, cancel := context.WithTimeout(ctx, w.cycleTimeout)
	defer cancel()

	if err := w.svc.Run(cycleCtx); err != nil {
		observability.IncrementWorkerRun("reconciliation", "failed")
		zap.L().Error("reconciliation cycle failed", zap.Error(err))
		return
	}
	observability.IncrementWorkerRun("reconciliation", "success")
}
