package service

import (
	"context"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/require"

	"github.com/maverickbet/deposit-gateway/internal/domain"
	"github.com/maverickbet/deposit-gateway/internal/models"
	"github.com/maverickbet/deposit-gateway/internal/repository"
)

func TestCreateOrderAllocatesDistinctAmounts(t *testing.T) {
	db := setupTestDB(t)
	defer db.Close()

	store := repository.NewStore(db)
	orderSvc := NewOrderService(store, staticRegistry(), 15*time.Minute)
	ctx := context.Background()

	base := decimal.RequireFromString("100")
	seen := map[string]bool{}
	for i := 0; i < 10; i++ {
		order, err := orderSvc.CreateOrder(ctx, uuid.New(), base, domain.ChainTRC20)
		require.NoError(t, err)
		require.Equal(t, domain.OrderStatusOpen, order.Status)
		require.Equal(t, testTronAddress, order.ReceiveAddress)

		// requested = base + offset with offset in (0, OffsetSlots*step].
		offset := order.RequestedAmount.Sub(base)
		require.True(t, offset.Sign() > 0, "offset must be positive, got %s", offset)
		maxOffset := domain.OffsetStep.Mul(decimal.NewFromInt(domain.OffsetSlots))
		require.True(t, offset.Cmp(maxOffset) <= 0, "offset too large: %s", offset)

		key := order.RequestedAmount.String()
		require.False(t, seen[key], "duplicate requested amount %s", key)
		seen[key] = true

		// Settlement value is captured at creation from the registry rate.
		want := domain.SettlementValue(order.RequestedAmount, decimal.RequireFromString(testRate))
		require.True(t, order.SettlementValue.Equal(want))
	}
}

func TestCreateOrderAllocationExhausted(t *testing.T) {
	db := setupTestDB(t)
	defer db.Close()

	store := repository.NewStore(db)
	queries := store.Queries()
	orderSvc := NewOrderService(store, staticRegistry(), 15*time.Minute)
	ctx := context.Background()

	// Occupy every offset slot for the base amount.
	base := decimal.RequireFromString("100")
	expires := time.Now().UTC().Add(15 * time.Minute)
	for slot := 1; slot <= domain.OffsetSlots; slot++ {
		amount := base.Add(domain.OffsetStep.Mul(decimal.NewFromInt(int64(slot))))
		seedOpenOrder(t, queries, uuid.New(), amount.String(), expires)
	}

	_, err := orderSvc.CreateOrder(ctx, uuid.New(), base, domain.ChainTRC20)
	require.ErrorIs(t, err, models.ErrAllocationExhausted)
}

func TestCreateOrderValidation(t *testing.T) {
	db := setupTestDB(t)
	defer db.Close()

	store := repository.NewStore(db)
	orderSvc := NewOrderService(store, staticRegistry(), 15*time.Minute)
	ctx := context.Background()

	_, err := orderSvc.CreateOrder(ctx, uuid.New(), decimal.RequireFromString("100"), "BEP20")
	require.ErrorIs(t, err, models.ErrInvalidChain)

	_, err = orderSvc.CreateOrder(ctx, uuid.New(), decimal.RequireFromString("0"), domain.ChainTRC20)
	require.ErrorIs(t, err, models.ErrInvalidAmount)

	_, err = orderSvc.CreateOrder(ctx, uuid.New(), decimal.RequireFromString("10.001"), domain.ChainTRC20)
	require.ErrorIs(t, err, models.ErrInvalidAmount)

	_, err = orderSvc.CreateOrder(ctx, uuid.Nil, decimal.RequireFromString("100"), domain.ChainTRC20)
	require.Error(t, err)
}

func TestGetStatusLazyExpiry(t *testing.T) {
	db := setupTestDB(t)
	defer db.Close()

	store := repository.NewStore(db)
	queries := store.Queries()
	orderSvc := NewOrderService(store, staticRegistry(), 15*time.Minute)
	ctx := context.Background()

	userID := uuid.New()
	order := seedOpenOrder(t, queries, userID, "100.0042", time.Now().UTC().Add(-time.Minute))

	got, err := orderSvc.GetStatus(ctx, userID, order.ID)
	require.NoError(t, err)
	require.Equal(t, domain.OrderStatusExpired, got.Status)

	// The expiry is persisted, not just reported.
	stored, err := queries.GetOrder(ctx, order.ID)
	require.NoError(t, err)
	require.Equal(t, domain.OrderStatusExpired, stored.Status)
}

func TestGetStatusForeignOrderHidden(t *testing.T) {
	db := setupTestDB(t)
	defer db.Close()

	store := repository.NewStore(db)
	queries := store.Queries()
	orderSvc := NewOrderService(store, staticRegistry(), 15*time.Minute)
	ctx := context.Background()

	order := seedOpenOrder(t, queries, uuid.New(), "100.0042", time.Now().UTC().Add(15*time.Minute))

	_, err := orderSvc.GetStatus(ctx, uuid.New(), order.ID)
	require.ErrorIs(t, err, models.ErrOrderNotFound)
}

func TestCancelOpenOrder(t *testing.T) {
	db := setupTestDB(t)
	defer db.Close()

	store := repository.NewStore(db)
	queries := store.Queries()
	orderSvc := NewOrderService(store, staticRegistry(), 15*time.Minute)
	ctx := context.Background()

	userID := uuid.New()
	order := seedOpenOrder(t, queries, userID, "100.0042", time.Now().UTC().Add(15*time.Minute))

	cancelled, err := orderSvc.Cancel(ctx, userID, order.ID)
	require.NoError(t, err)
	require.Equal(t, domain.OrderStatusCancelled, cancelled.Status)

	stored, err := queries.GetOrder(ctx, order.ID)
	require.NoError(t, err)
	require.Equal(t, domain.OrderStatusCancelled, stored.Status)

	// Cancelling again is rejected, the state is terminal.
	_, err = orderSvc.Cancel(ctx, userID, order.ID)
	require.ErrorIs(t, err, models.ErrOrderNotOpen)
}

func TestCancelSettledOrderRejected(t *testing.T) {
	db := setupTestDB(t)
	defer db.Close()

	store := repository.NewStore(db)
	queries := store.Queries()
	orderSvc := NewOrderService(store, staticRegistry(), 15*time.Minute)
	ctx := context.Background()

	userID := uuid.New()
	order := seedOpenOrder(t, queries, userID, "100.0042", time.Now().UTC().Add(15*time.Minute))

	rows, err := queries.SettleOrder(ctx, order.ID, "tx-settled-first", "TSender", time.Now().UTC())
	require.NoError(t, err)
	require.Equal(t, int64(1), rows)

	_, err = orderSvc.Cancel(ctx, userID, order.ID)
	require.ErrorIs(t, err, models.ErrAlreadySettled)
}

func TestCancelExpiredOrderRejected(t *testing.T) {
	db := setupTestDB(t)
	defer db.Close()

	store := repository.NewStore(db)
	queries := store.Queries()
	orderSvc := NewOrderService(store, staticRegistry(), 15*time.Minute)
	ctx := context.Background()

	userID := uuid.New()
	order := seedOpenOrder(t, queries, userID, "100.0042", time.Now().UTC().Add(-time.Minute))

	_, err := orderSvc.Cancel(ctx, userID, order.ID)
	require.ErrorIs(t, err, models.ErrOrderNotOpen)

	stored, err := queries.GetOrder(ctx, order.ID)
	require.NoError(t, err)
	require.Equal(t, domain.OrderStatusExpired, stored.Status)
}

func TestOpenAmountUniquenessEnforcedByIndex(t *testing.T) {
	db := setupTestDB(t)
	defer db.Close()

	queries := repository.New(db)
	expires := time.Now().UTC().Add(15 * time.Minute)

	seedOpenOrder(t, queries, uuid.New(), "100.0042", expires)

	dup := seedable(uuid.New(), "100.0042", expires)
	err := queries.InsertOrder(context.Background(), dup)
	require.ErrorIs(t, err, repository.ErrAmountTaken)

	// The same amount is allowed again once the first order leaves OPEN.
	rows, err := queries.ExpireDueOrders(context.Background(), expires.Add(time.Hour))
	require.NoError(t, err)
	require.Equal(t, int64(1), rows)

	require.NoError(t, queries.InsertOrder(context.Background(), seedable(uuid.New(), "100.0042", expires)))
}

func seedable(userID uuid.UUID, amount string, expiresAt time.Time) *models.DepositOrder {
	requested := decimal.RequireFromString(amount)
	rate := decimal.RequireFromString(testRate)
	now := time.Now().UTC()
	return &models.DepositOrder{
		ID:              uuid.New(),
		UserID:          userID,
		Chain:           domain.ChainTRC20,
		ReceiveAddress:  testTronAddress,
		RequestedAmount: requested,
		Rate:            rate,
		SettlementValue: domain.SettlementValue(requested, rate),
		Status:          domain.OrderStatusOpen,
		CreditStatus:    domain.CreditStatusNone,
		CreatedAt:       now,
		ExpiresAt:       expiresAt,
	}
}
