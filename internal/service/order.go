package service

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"
	"go.uber.org/zap"

	"github.com/maverickbet/deposit-gateway/internal/domain"
	"github.com/maverickbet/deposit-gateway/internal/models"
	"github.com/maverickbet/deposit-gateway/internal/observability"
	"github.com/maverickbet/deposit-gateway/internal/registry"
	"github.com/maverickbet/deposit-gateway/internal/repository"
)

// QueryStore defines the minimal data access contract required by services.
type QueryStore interface {
	Queries() *repository.Queries
	RunInTx(ctx context.Context, fn func(q *repository.Queries) error) error
}

// The allocation grid has 99 slots; after this many random probes the address
// is treated as saturated with concurrent pending orders.
const maxAllocationAttempts = 25

// OrderService manages the deposit order lifecycle: creation with a
// disambiguating amount, status reads with lazy expiry, and cancellation.
type OrderService struct {
	store    QueryStore
	registry registry.Client
	window   time.Duration
}

func NewOrderService(store QueryStore, reg registry.Client, window time.Duration) *OrderService {
	if window <= 0 {
		window = 15 * time.Minute
	}
	return &OrderService{
		store:    store,
		registry: reg,
		window:   window,
	}
}

// CreateOrder opens a deposit order for the user. The requested amount is the
// base amount plus a random fractional offset chosen so that no other OPEN
// order for the same (address, chain) shares it; the exchange rate is captured
// now and never re-fetched, so later rate changes cannot alter the payout.
func (s *OrderService) CreateOrder(ctx context.Context, userID uuid.UUID, baseAmount decimal.Decimal, chain string) (*models.DepositOrder, error) {
	if userID == uuid.Nil {
		return nil, errors.New("user id is required")
	}
	if !domain.ValidChain(chain) {
		return nil, fmt.Errorf("%w: %s", models.ErrInvalidChain, chain)
	}
	if err := domain.ValidateBaseAmount(baseAmount); err != nil {
		return nil, err
	}

	methods, err := s.registry.Methods(ctx)
	if err != nil {
		return nil, fmt.Errorf("fetch payment methods: %w", err)
	}
	method, err := registry.MethodForChain(methods, chain)
	if err != nil {
		return nil, err
	}

	for attempt := 0; attempt < maxAllocationAttempts; attempt++ {
		requested := baseAmount.Add(domain.RandomOffset())

		var order *models.DepositOrder
		err := s.store.RunInTx(ctx, func(q *repository.Queries) error {
			taken, err := q.ListOpenAmounts(ctx, method.ReceiveAddress, chain)
			if err != nil {
				return err
			}
			if amountInUse(requested, taken) {
				return repository.ErrAmountTaken
			}

			now := time.Now().UTC()
			candidate := &models.DepositOrder{
				ID:              uuid.New(),
				UserID:          userID,
				Chain:           chain,
				ReceiveAddress:  method.ReceiveAddress,
				RequestedAmount: requested,
				Rate:            method.Rate,
				SettlementValue: domain.SettlementValue(requested, method.Rate),
				Status:          domain.OrderStatusOpen,
				CreditStatus:    domain.CreditStatusNone,
				CreatedAt:       now,
				ExpiresAt:       now.Add(s.window),
			}
			// The partial unique index still backs this up if a concurrent
			// allocator inserts the same amount between the read and the write.
			if err := q.InsertOrder(ctx, candidate); err != nil {
				return err
			}
			order = candidate
			return nil
		})
		if errors.Is(err, repository.ErrAmountTaken) {
			// Slot occupied, or lost the race to a concurrent CreateOrder.
			observability.IncrementAllocationRetry()
			continue
		}
		if err != nil {
			return nil, err
		}

		zap.L().Info("deposit order created",
			zap.String("order_id", order.ID.String()),
			zap.String("chain", chain),
			zap.String("requested_amount", requested.String()),
			zap.Time("expires_at", order.ExpiresAt),
		)
		return order, nil
	}

	zap.L().Warn("amount allocation exhausted",
		zap.String("chain", chain),
		zap.String("address", method.ReceiveAddress),
	)
	return nil, models.ErrAllocationExhausted
}

// amountInUse reports whether the candidate collides with an already allocated
// amount. Equality at full precision is enough because all amounts sit on the
// same allocation grid; the matcher tolerance is strictly below one grid step.
func amountInUse(candidate decimal.Decimal, taken []decimal.Decimal) bool {
	for _, t := range taken {
		if candidate.Equal(t) {
			return true
		}
	}
	return false
}

// GetStatus returns the order as the owning user sees it. An OPEN order past
// its expiry is lazily transitioned to EXPIRED before returning, so callers
// observe timely expiry even if the reconciliation sweep has not run yet.
func (s *OrderService) GetStatus(ctx context.Context, userID, orderID uuid.UUID) (*models.DepositOrder, error) {
	queries := s.store.Queries()
	order, err := queries.GetOrderForUser(ctx, orderID, userID)
	if err != nil {
		return nil, err
	}

	if order.Status == domain.OrderStatusOpen && time.Now().UTC().After(order.ExpiresAt) {
		rows, err := transitionOrder(ctx, queries, order.ID, domain.OrderStatusOpen, domain.OrderStatusExpired)
		if err != nil {
			return nil, err
		}
		if rows == 1 {
			observability.AddExpiredOrders(1)
			order.Status = domain.OrderStatusExpired
		} else {
			// A concurrent settlement or sweep got there first; re-read.
			return queries.GetOrderForUser(ctx, orderID, userID)
		}
	}
	return order, nil
}

// Cancel closes an OPEN order at the user's request. A settlement racing with
// the cancel wins: the cancel is rejected with ErrAlreadySettled and the order
// keeps its credited state.
func (s *OrderService) Cancel(ctx context.Context, userID, orderID uuid.UUID) (*models.DepositOrder, error) {
	queries := s.store.Queries()
	order, err := queries.GetOrderForUser(ctx, orderID, userID)
	if err != nil {
		return nil, err
	}

	if order.Status == domain.OrderStatusOpen && time.Now().UTC().After(order.ExpiresAt) {
		if _, err := transitionOrder(ctx, queries, order.ID, domain.OrderStatusOpen, domain.OrderStatusExpired); err != nil {
			return nil, err
		}
		return nil, models.ErrOrderNotOpen
	}

	switch order.Status {
	case domain.OrderStatusOpen:
	case domain.OrderStatusSettled:
		return nil, models.ErrAlreadySettled
	default:
		return nil, models.ErrOrderNotOpen
	}

	rows, err := transitionOrder(ctx, queries, order.ID, domain.OrderStatusOpen, domain.OrderStatusCancelled)
	if err != nil {
		return nil, err
	}
	if rows == 0 {
		// Lost the race. Settlement wins; anything else is simply not open.
		current, err := queries.GetOrderForUser(ctx, orderID, userID)
		if err != nil {
			return nil, err
		}
		if current.Status == domain.OrderStatusSettled {
			return nil, models.ErrAlreadySettled
		}
		return nil, models.ErrOrderNotOpen
	}

	zap.L().Info("deposit order cancelled", zap.String("order_id", order.ID.String()))
	order.Status = domain.OrderStatusCancelled
	return order, nil
}
