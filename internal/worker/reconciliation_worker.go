package worker

import (
	"context"
	"time"

	"go.uber.org/zap"

	"github.com/ticketguard/ticketing/internal/config"
	"github.com/ticketguard/ticketing/internal/service"
)

// ReconciliationWorker periodically resolves mint intents that were stranded
// between the ledger and the local store.
type ReconciliationWorker struct {
	reconciler *service.ReconcileService
	logger     *zap.Logger
	interval   time.Duration
	batchSize  int
}

// NewReconciliationWorker constructs the worker.
func NewReconciliationWorker(reconciler *service.ReconcileService, cfg config.ReconcileConfig, logger *zap.Logger) *ReconciliationWorker {
	return &ReconciliationWorker{
		reconciler: reconciler,
		logger:     logger,
		interval:   cfg.Interval(),
		batchSize:  cfg.BatchSize,
	}
}

// Run loops until ctx is cancelled. One pass runs immediately at startup so a
// restart drains intents parked by the previous process without waiting a
// full interval.
func (w *ReconciliationWorker) Run(ctx context.Context) {
	ticker := time.NewTicker(w.interval)
	defer ticker.Stop()

	w.pass(ctx)
	for {
		select {
		case <-ctx.Done():
			w.logger.Info("reconciliation worker stopping")
			return
		case <-ticker.C:
			w.pass(ctx)
		}
	}
}

func (w *ReconciliationWorker) pass(ctx context.Context) {
	resolved, err := w.reconciler.Run(ctx, w.batchSize)
	if err != nil {
		w.logger.Error("reconciliation pass failed", zap.Error(err))
		return
	}
	if resolved > 0 {
		w.logger.Info("reconciliation pass complete", zap.Int("resolved", resolved))
	}
}
