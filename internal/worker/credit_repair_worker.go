package worker

import (
	"context"
	"sync"
	"time"

	"go.uber.org/zap"

	"github.com/maverickbet/deposit-gateway/internal/observability"
	"github.com/maverickbet/deposit-gateway/internal/service"
)

// CreditRepairWorker periodically retries the ledger credit for settled
// orders whose increment has not been confirmed yet.
type CreditRepairWorker struct {
	svc      *service.SettlementService
	interval time.Duration
	stopCh   chan struct{}
	stopOnce sync.Once
}

func NewCreditRepairWorker(svc *service.SettlementService) *CreditRepairWorker {
	return &CreditRepairWorker{
		svc:      svc,
		interval: time.Minute,
		stopCh:   make(chan struct{}),
	}
}

// WithInterval updates the run interval.
func (w *CreditRepairWorker) WithInterval(interval time.Duration) *CreditRepairWorker {
	if interval > 0 {
		w.interval = interval
	}
	return w
}

// Start blocks and runs the repair pass at the configured interval.
func (w *CreditRepairWorker) Start(ctx context.Context) {
	zap.L().Info("credit repair worker starting", zap.Duration("interval", w.interval))
	ticker := time.NewTicker(w.interval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			zap.L().Info("credit repair worker context canceled")
			return
		case <-w.stopCh:
			zap.L().Info("credit repair worker stop signal received")
			return
		case <-ticker.C:
			w.runOnce(ctx)
		}
	}
}

// Stop stops the running worker loop.
func (w *CreditRepairWorker) Stop() {
	w.stopOnce.Do(func() {
		close(w.stopCh)
	})
}

// Run starts the worker in a goroutine and returns a stop function.
func (w *CreditRepairWorker) Run(ctx context.Context) func() {
	go w.Start(ctx)
	return w.Stop
}

func (w *CreditRepairWorker) runOnce(ctx context.Context) {
	if err := w.svc.RepairPendingCredits(ctx); err != nil {
		observability.IncrementWorkerRun("credit_repair", "failed")
		zap.L().Error("credit repair run failed", zap.Error(err))
		return
	}
	observability.IncrementWorkerRun("credit_repair", "success")
}
