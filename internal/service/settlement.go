package service

import (
	"context"
	"errors"
	"fmt"
	"time"

	"go.uber.org/zap"

	"github.com/maverickbet/deposit-gateway/internal/domain"
	"github.com/maverickbet/deposit-gateway/internal/ledger"
	"github.com/maverickbet/deposit-gateway/internal/models"
	"github.com/maverickbet/deposit-gateway/internal/observability"
	"github.com/maverickbet/deposit-gateway/internal/repository"
)

// After this many failed credit attempts the order is escalated to manual
// review instead of being retried forever.
const maxCreditAttempts = 5

const repairBatchSize = 50

// A credit claim older than this is orphaned: the process died between the
// ledger call and the confirmation. Well beyond the ledger client timeout.
const staleClaimAge = 5 * time.Minute

// SettlementService is the credit engine: it transitions matched orders to
// SETTLED and increments the user's ledger balance exactly once per on-chain
// transaction hash.
type SettlementService struct {
	store  QueryStore
	ledger ledger.Client
}

func NewSettlementService(store QueryStore, lc ledger.Client) *SettlementService {
	return &SettlementService{store: store, ledger: lc}
}

// Settle records the on-chain evidence on the order and credits the ledger.
// The status update is conditional on the order still being OPEN and the
// settled tx hash being unused; when either check fails the credit is skipped
// entirely, which is what makes re-scans and concurrent cycles idempotent.
// A failed ledger call leaves the order SETTLED with the credit pending for
// the repair pass — an auditable degraded state, never a double-credit risk.
func (s *SettlementService) Settle(ctx context.Context, order models.DepositOrder, transfer models.ChainTransfer) error {
	queries := s.store.Queries()

	rows, err := queries.SettleOrder(ctx, order.ID, transfer.TxHash, transfer.From, transfer.BlockTimestamp)
	if errors.Is(err, repository.ErrDuplicateTxHash) {
		zap.L().Info("transfer already settled another order, skipping",
			zap.String("tx_hash", transfer.TxHash),
			zap.String("order_id", order.ID.String()),
		)
		return nil
	}
	if err != nil {
		return err
	}
	if rows == 0 {
		// Already settled by a concurrent cycle, or expired/cancelled in the
		// meantime. Nothing was changed, so nothing must be credited.
		return nil
	}

	zap.L().Info("deposit order settled",
		zap.String("order_id", order.ID.String()),
		zap.String("tx_hash", transfer.TxHash),
		zap.String("value", transfer.Value.String()),
	)

	if err := s.credit(ctx, queries, order); err != nil {
		observability.IncrementCredit("deferred")
		zap.L().Warn("ledger credit deferred, repair pass will retry",
			zap.String("order_id", order.ID.String()),
			zap.Error(err),
		)
		return nil
	}
	return nil
}

// credit claims the pending ledger credit, performs the increment and marks it
// confirmed. The conditional PENDING -> CREDITING claim is what keeps the
// inline settle path and the repair worker from both incrementing: only the
// claim holder may call the ledger. A claim is released on ledger failure; a
// claim orphaned by a crash is escalated to manual review by the repair pass.
func (s *SettlementService) credit(ctx context.Context, queries *repository.Queries, order models.DepositOrder) error {
	claimed, err := queries.TransitionCreditStatus(ctx, order.ID, domain.CreditStatusPending, domain.CreditStatusCrediting)
	if err != nil {
		return err
	}
	if claimed == 0 {
		// Lost the claim to a concurrent credit attempt, or already confirmed.
		return nil
	}

	if err := s.ledger.IncrementBalance(ctx, order.UserID, order.SettlementValue); err != nil {
		if _, revertErr := queries.TransitionCreditStatus(ctx, order.ID, domain.CreditStatusCrediting, domain.CreditStatusPending); revertErr != nil {
			zap.L().Error("failed to release credit claim",
				zap.String("order_id", order.ID.String()),
				zap.Error(revertErr),
			)
		}
		return fmt.Errorf("ledger increment: %w", err)
	}

	rows, err := queries.TransitionCreditStatus(ctx, order.ID, domain.CreditStatusCrediting, domain.CreditStatusConfirmed)
	if err != nil {
		return err
	}
	if err := requireExactlyOne(rows, "confirm ledger credit"); err != nil {
		return err
	}

	observability.IncrementCredit("confirmed")
	zap.L().Info("ledger credited",
		zap.String("order_id", order.ID.String()),
		zap.String("user_id", order.UserID.String()),
		zap.String("settlement_value", order.SettlementValue.String()),
	)
	return nil
}

// RepairPendingCredits finds SETTLED orders whose ledger credit is still
// unconfirmed and retries them, bounded per order. Orders that exhaust their
// attempts are escalated to manual review and counted on the queue gauge.
func (s *SettlementService) RepairPendingCredits(ctx context.Context) error {
	queries := s.store.Queries()

	stale, err := queries.EscalateStaleCrediting(ctx, time.Now().UTC().Add(-staleClaimAge))
	if err != nil {
		return err
	}
	if stale > 0 {
		zap.L().Error("orphaned credit claims escalated to manual review", zap.Int64("count", stale))
	}

	pending, err := queries.ListPendingCredits(ctx, maxCreditAttempts, repairBatchSize)
	if err != nil {
		return err
	}

	for _, order := range pending {
		if err := ctx.Err(); err != nil {
			return err
		}

		attempts, err := queries.IncrementCreditAttempts(ctx, order.ID)
		if err != nil {
			zap.L().Error("credit repair bookkeeping failed", zap.Error(err), zap.String("order_id", order.ID.String()))
			continue
		}

		if err := s.credit(ctx, queries, order); err != nil {
			observability.IncrementCredit("retry_failed")
			zap.L().Warn("credit repair attempt failed",
				zap.String("order_id", order.ID.String()),
				zap.Int32("attempts", attempts),
				zap.Error(err),
			)
			if attempts >= maxCreditAttempts {
				s.escalate(ctx, queries, order, attempts)
			}
		}
	}

	s.refreshManualReviewGauge(ctx, queries)
	return nil
}

func (s *SettlementService) escalate(ctx context.Context, queries *repository.Queries, order models.DepositOrder, attempts int32) {
	rows, err := queries.TransitionCreditStatus(ctx, order.ID, domain.CreditStatusPending, domain.CreditStatusManualReview)
	if err != nil || rows != 1 {
		zap.L().Error("failed to escalate credit to manual review",
			zap.String("order_id", order.ID.String()),
			zap.Int64("rows", rows),
			zap.Error(err),
		)
		return
	}
	observability.IncrementCredit("manual_review")
	zap.L().Error("ledger credit escalated to manual review",
		zap.String("order_id", order.ID.String()),
		zap.String("user_id", order.UserID.String()),
		zap.Int32("attempts", attempts),
	)
}

func (s *SettlementService) refreshManualReviewGauge(ctx context.Context, queries *repository.Queries) {
	size, err := queries.CountCreditsByStatus(ctx, domain.CreditStatusManualReview)
	if err != nil {
		zap.L().Warn("count manual review credits failed", zap.Error(err))
		return
	}
	observability.SetManualReviewQueueSize(size)
}
