package service

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/stretchr/testify/require"

	"github.com/maverickbet/deposit-gateway/internal/domain"
	"github.com/maverickbet/deposit-gateway/internal/ledger"
	"github.com/maverickbet/deposit-gateway/internal/repository"
)

func TestSettleCreditsExactlyOnce(t *testing.T) {
	db := setupTestDB(t)
	defer db.Close()

	store := repository.NewStore(db)
	queries := store.Queries()
	mock := ledger.NewMockClient()
	settler := NewSettlementService(store, mock)
	ctx := context.Background()

	userID := uuid.New()
	order := seedOpenOrder(t, queries, userID, "100.0042", time.Now().UTC().Add(15*time.Minute))
	transfer := transferFor(order, "tx-settle-once")

	require.NoError(t, settler.Settle(ctx, *order, transfer))

	stored, err := queries.GetOrder(ctx, order.ID)
	require.NoError(t, err)
	require.Equal(t, domain.OrderStatusSettled, stored.Status)
	require.Equal(t, domain.CreditStatusConfirmed, stored.CreditStatus)
	require.NotNil(t, stored.TxHash)
	require.Equal(t, "tx-settle-once", *stored.TxHash)
	require.Equal(t, "720.03", mock.Balance(userID).StringFixed(2))
	require.Equal(t, 1, mock.Calls())

	// A concurrent cycle re-delivering the same match is a no-op.
	require.NoError(t, settler.Settle(ctx, *order, transfer))
	require.Equal(t, 1, mock.Calls())
	require.Equal(t, "720.03", mock.Balance(userID).StringFixed(2))
}

func TestSettleDuplicateTxHashSkipped(t *testing.T) {
	db := setupTestDB(t)
	defer db.Close()

	store := repository.NewStore(db)
	queries := store.Queries()
	mock := ledger.NewMockClient()
	settler := NewSettlementService(store, mock)
	ctx := context.Background()

	expires := time.Now().UTC().Add(15 * time.Minute)
	first := seedOpenOrder(t, queries, uuid.New(), "100.0042", expires)
	second := seedOpenOrder(t, queries, uuid.New(), "100.0087", expires)

	require.NoError(t, settler.Settle(ctx, *first, transferFor(first, "tx-shared")))

	// The same on-chain transaction can never settle a second order.
	require.NoError(t, settler.Settle(ctx, *second, transferFor(second, "tx-shared")))

	stored, err := queries.GetOrder(ctx, second.ID)
	require.NoError(t, err)
	require.Equal(t, domain.OrderStatusOpen, stored.Status)
	require.Equal(t, 1, mock.Calls())
}

func TestSettleExpiredOrderSkipsCredit(t *testing.T) {
	db := setupTestDB(t)
	defer db.Close()

	store := repository.NewStore(db)
	queries := store.Queries()
	mock := ledger.NewMockClient()
	settler := NewSettlementService(store, mock)
	ctx := context.Background()

	order := seedOpenOrder(t, queries, uuid.New(), "100.0042", time.Now().UTC().Add(15*time.Minute))
	rows, err := queries.TransitionOrderStatus(ctx, order.ID, domain.OrderStatusOpen, domain.OrderStatusExpired)
	require.NoError(t, err)
	require.Equal(t, int64(1), rows)

	require.NoError(t, settler.Settle(ctx, *order, transferFor(order, "tx-late")))

	stored, err := queries.GetOrder(ctx, order.ID)
	require.NoError(t, err)
	require.Equal(t, domain.OrderStatusExpired, stored.Status)
	require.Equal(t, 0, mock.Calls())
}

func TestSettleDeferredCreditRepaired(t *testing.T) {
	db := setupTestDB(t)
	defer db.Close()

	store := repository.NewStore(db)
	queries := store.Queries()
	mock := ledger.NewMockClient()
	settler := NewSettlementService(store, mock)
	ctx := context.Background()

	userID := uuid.New()
	order := seedOpenOrder(t, queries, userID, "100.0042", time.Now().UTC().Add(15*time.Minute))

	mock.FailNext(1, errors.New("ledger unavailable"))
	require.NoError(t, settler.Settle(ctx, *order, transferFor(order, "tx-deferred")))

	stored, err := queries.GetOrder(ctx, order.ID)
	require.NoError(t, err)
	require.Equal(t, domain.OrderStatusSettled, stored.Status)
	require.Equal(t, domain.CreditStatusPending, stored.CreditStatus)
	require.True(t, mock.Balance(userID).IsZero())

	// The repair pass completes the credit.
	require.NoError(t, settler.RepairPendingCredits(ctx))

	stored, err = queries.GetOrder(ctx, order.ID)
	require.NoError(t, err)
	require.Equal(t, domain.CreditStatusConfirmed, stored.CreditStatus)
	require.Equal(t, "720.03", mock.Balance(userID).StringFixed(2))

	// Nothing left to repair; the balance stays put.
	require.NoError(t, settler.RepairPendingCredits(ctx))
	require.Equal(t, "720.03", mock.Balance(userID).StringFixed(2))
}

func TestSettleRacingRepairCreditsOnce(t *testing.T) {
	db := setupTestDB(t)
	defer db.Close()

	store := repository.NewStore(db)
	queries := store.Queries()
	mock := ledger.NewMockClient()
	mock.SetDelay(50 * time.Millisecond)
	settler := NewSettlementService(store, mock)
	ctx := context.Background()

	userID := uuid.New()
	order := seedOpenOrder(t, queries, userID, "100.0042", time.Now().UTC().Add(15*time.Minute))
	transfer := transferFor(order, "tx-racing-repair")

	// The repair pass fires while the inline credit is still inside the slow
	// ledger call. Whichever path wins the claim does the only increment.
	errCh := make(chan error, 2)
	go func() { errCh <- settler.Settle(ctx, *order, transfer) }()
	go func() {
		time.Sleep(10 * time.Millisecond)
		errCh <- settler.RepairPendingCredits(ctx)
	}()
	for i := 0; i < 2; i++ {
		require.NoError(t, <-errCh)
	}

	require.Equal(t, 1, mock.Calls())
	require.Equal(t, "720.03", mock.Balance(userID).StringFixed(2))

	stored, err := queries.GetOrder(ctx, order.ID)
	require.NoError(t, err)
	require.Equal(t, domain.CreditStatusConfirmed, stored.CreditStatus)
}

func TestRepairSkipsClaimedCredit(t *testing.T) {
	db := setupTestDB(t)
	defer db.Close()

	store := repository.NewStore(db)
	queries := store.Queries()
	mock := ledger.NewMockClient()
	settler := NewSettlementService(store, mock)
	ctx := context.Background()

	order := seedOpenOrder(t, queries, uuid.New(), "100.0042", time.Now().UTC().Add(15*time.Minute))
	rows, err := queries.SettleOrder(ctx, order.ID, "tx-claimed", "TSender", time.Now().UTC())
	require.NoError(t, err)
	require.Equal(t, int64(1), rows)

	// Another worker holds the claim; the repair pass must leave it alone.
	claimed, err := queries.TransitionCreditStatus(ctx, order.ID, domain.CreditStatusPending, domain.CreditStatusCrediting)
	require.NoError(t, err)
	require.Equal(t, int64(1), claimed)

	require.NoError(t, settler.RepairPendingCredits(ctx))

	require.Equal(t, 0, mock.Calls())
	stored, err := queries.GetOrder(ctx, order.ID)
	require.NoError(t, err)
	require.Equal(t, domain.CreditStatusCrediting, stored.CreditStatus)
}

func TestStaleCreditClaimEscalated(t *testing.T) {
	db := setupTestDB(t)
	defer db.Close()

	store := repository.NewStore(db)
	queries := store.Queries()
	ctx := context.Background()

	order := seedOpenOrder(t, queries, uuid.New(), "100.0042", time.Now().UTC().Add(15*time.Minute))
	rows, err := queries.SettleOrder(ctx, order.ID, "tx-orphaned", "TSender", time.Now().UTC())
	require.NoError(t, err)
	require.Equal(t, int64(1), rows)

	claimed, err := queries.TransitionCreditStatus(ctx, order.ID, domain.CreditStatusPending, domain.CreditStatusCrediting)
	require.NoError(t, err)
	require.Equal(t, int64(1), claimed)

	// A claim whose holder died never resolves on its own; it goes to an
	// operator, who must check the ledger before re-crediting.
	stale, err := queries.EscalateStaleCrediting(ctx, time.Now().UTC().Add(time.Second))
	require.NoError(t, err)
	require.Equal(t, int64(1), stale)

	stored, err := queries.GetOrder(ctx, order.ID)
	require.NoError(t, err)
	require.Equal(t, domain.CreditStatusManualReview, stored.CreditStatus)

	pending, err := queries.ListPendingCredits(ctx, maxCreditAttempts, 10)
	require.NoError(t, err)
	require.Empty(t, pending)
}

func TestCreditEscalatesToManualReview(t *testing.T) {
	db := setupTestDB(t)
	defer db.Close()

	store := repository.NewStore(db)
	queries := store.Queries()
	mock := ledger.NewMockClient()
	settler := NewSettlementService(store, mock)
	ctx := context.Background()

	userID := uuid.New()
	order := seedOpenOrder(t, queries, userID, "100.0042", time.Now().UTC().Add(15*time.Minute))

	mock.FailNext(100, errors.New("ledger down hard"))
	require.NoError(t, settler.Settle(ctx, *order, transferFor(order, "tx-escalate")))

	for i := 0; i < maxCreditAttempts; i++ {
		require.NoError(t, settler.RepairPendingCredits(ctx))
	}

	stored, err := queries.GetOrder(ctx, order.ID)
	require.NoError(t, err)
	require.Equal(t, domain.CreditStatusManualReview, stored.CreditStatus)
	require.True(t, mock.Balance(userID).IsZero())

	// Escalated orders leave the repair queue.
	pending, err := queries.ListPendingCredits(ctx, maxCreditAttempts, 10)
	require.NoError(t, err)
	require.Empty(t, pending)

	review, err := queries.ListManualReviewCredits(ctx, 10, 0)
	require.NoError(t, err)
	require.Len(t, review, 1)
	require.Equal(t, order.ID, review[0].ID)
}
