package repository

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
	"github.com/shopspring/decimal"

	"github.com/maverickbet/deposit-gateway/internal/domain"
	"github.com/maverickbet/deposit-gateway/internal/models"
)

var (
	// ErrAmountTaken indicates the requested amount collided with another
	// OPEN order for the same (address, chain). The allocator retries with a
	// different offset.
	ErrAmountTaken = errors.New("requested amount already allocated")

	// ErrDuplicateTxHash indicates a transfer hash was already used to settle
	// an order. The settlement attempt must be skipped, never retried.
	ErrDuplicateTxHash = errors.New("transaction hash already settled an order")
)

const (
	uniqueViolation      = "23505"
	openAmountConstraint = "uq_deposit_orders_open_amount"
	settledTxConstraint  = "uq_deposit_orders_tx_hash"
)

const orderColumns = `id, user_id, chain, receive_address, requested_amount, rate,
	settlement_value, status, credit_status, credit_attempts, tx_hash,
	from_address, confirmed_at, created_at, expires_at`

func scanOrder(row pgx.Row) (*models.DepositOrder, error) {
	var o models.DepositOrder
	err := row.Scan(
		&o.ID, &o.UserID, &o.Chain, &o.ReceiveAddress, &o.RequestedAmount,
		&o.Rate, &o.SettlementValue, &o.Status, &o.CreditStatus,
		&o.CreditAttempts, &o.TxHash, &o.FromAddress, &o.ConfirmedAt,
		&o.CreatedAt, &o.ExpiresAt,
	)
	if err != nil {
		return nil, err
	}
	return &o, nil
}

// InsertOrder persists a newly created OPEN order. The partial unique index on
// (receive_address, chain, requested_amount) WHERE status = 'OPEN' makes the
// disambiguation invariant race-safe across concurrent allocations.
func (q *Queries) InsertOrder(ctx context.Context, o *models.DepositOrder) error {
	query := `
		INSERT INTO deposit_orders
			(id, user_id, chain, receive_address, requested_amount, rate,
			 settlement_value, status, credit_status, created_at, expires_at)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11)`
	_, err := q.db.Exec(ctx, query,
		o.ID, o.UserID, o.Chain, o.ReceiveAddress, o.RequestedAmount, o.Rate,
		o.SettlementValue, o.Status, o.CreditStatus, o.CreatedAt, o.ExpiresAt,
	)
	if err != nil {
		var pgErr *pgconn.PgError
		if errors.As(err, &pgErr) && pgErr.Code == uniqueViolation && pgErr.ConstraintName == openAmountConstraint {
			return ErrAmountTaken
		}
		return fmt.Errorf("insert deposit order: %w", err)
	}
	return nil
}

// GetOrder loads an order by id.
func (q *Queries) GetOrder(ctx context.Context, id uuid.UUID) (*models.DepositOrder, error) {
	query := `SELECT ` + orderColumns + ` FROM deposit_orders WHERE id = $1`
	o, err := scanOrder(q.db.QueryRow(ctx, query, id))
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, models.ErrOrderNotFound
		}
		return nil, fmt.Errorf("get deposit order: %w", err)
	}
	return o, nil
}

// GetOrderForUser loads an order scoped to its owner. Foreign orders are
// indistinguishable from missing ones.
func (q *Queries) GetOrderForUser(ctx context.Context, id, userID uuid.UUID) (*models.DepositOrder, error) {
	query := `SELECT ` + orderColumns + ` FROM deposit_orders WHERE id = $1 AND user_id = $2`
	o, err := scanOrder(q.db.QueryRow(ctx, query, id, userID))
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, models.ErrOrderNotFound
		}
		return nil, fmt.Errorf("get deposit order for user: %w", err)
	}
	return o, nil
}

// ListOpenOrders returns all OPEN orders, oldest first.
func (q *Queries) ListOpenOrders(ctx context.Context) ([]models.DepositOrder, error) {
	query := `SELECT ` + orderColumns + ` FROM deposit_orders WHERE status = $1 ORDER BY created_at`
	rows, err := q.db.Query(ctx, query, domain.OrderStatusOpen)
	if err != nil {
		return nil, fmt.Errorf("list open orders: %w", err)
	}
	defer rows.Close()

	var orders []models.DepositOrder
	for rows.Next() {
		o, err := scanOrder(rows)
		if err != nil {
			return nil, fmt.Errorf("scan open order: %w", err)
		}
		orders = append(orders, *o)
	}
	return orders, rows.Err()
}

// ListOpenAmounts returns the requested amounts of all OPEN orders for one
// (address, chain) group. The allocator avoids these before inserting.
func (q *Queries) ListOpenAmounts(ctx context.Context, address, chain string) ([]decimal.Decimal, error) {
	query := `
		SELECT requested_amount FROM deposit_orders
		WHERE receive_address = $1 AND chain = $2 AND status = $3`
	rows, err := q.db.Query(ctx, query, address, chain, domain.OrderStatusOpen)
	if err != nil {
		return nil, fmt.Errorf("list open amounts: %w", err)
	}
	defer rows.Close()

	var amounts []decimal.Decimal
	for rows.Next() {
		var d decimal.Decimal
		if err := rows.Scan(&d); err != nil {
			return nil, fmt.Errorf("scan open amount: %w", err)
		}
		amounts = append(amounts, d)
	}
	return amounts, rows.Err()
}

// TransitionOrderStatus performs a conditional status update and returns the
// number of rows changed. Zero rows means the order was not in the expected
// state; the caller decides how to resolve the conflict.
func (q *Queries) TransitionOrderStatus(ctx context.Context, id uuid.UUID, from, to string) (int64, error) {
	query := `
		UPDATE deposit_orders SET status = $1, updated_at = NOW()
		WHERE id = $2 AND status = $3`
	tag, err := q.db.Exec(ctx, query, to, id, from)
	if err != nil {
		return 0, fmt.Errorf("transition order %s -> %s: %w", from, to, err)
	}
	return tag.RowsAffected(), nil
}

// ExpireDueOrders transitions every OPEN order past its expiry to EXPIRED and
// returns how many were swept.
func (q *Queries) ExpireDueOrders(ctx context.Context, now time.Time) (int64, error) {
	query := `
		UPDATE deposit_orders SET status = $1, updated_at = NOW()
		WHERE status = $2 AND expires_at <= $3`
	tag, err := q.db.Exec(ctx, query, domain.OrderStatusExpired, domain.OrderStatusOpen, now)
	if err != nil {
		return 0, fmt.Errorf("expire due orders: %w", err)
	}
	return tag.RowsAffected(), nil
}

// SettleOrder transitions an OPEN order to SETTLED, recording the on-chain
// evidence and flagging the ledger credit as pending. The partial unique index
// on tx_hash guarantees at most one settled order per transfer.
func (q *Queries) SettleOrder(ctx context.Context, id uuid.UUID, txHash, fromAddress string, confirmedAt time.Time) (int64, error) {
	query := `
		UPDATE deposit_orders
		SET status = $1, credit_status = $2, tx_hash = $3, from_address = $4,
			confirmed_at = $5, updated_at = NOW()
		WHERE id = $6 AND status = $7`
	tag, err := q.db.Exec(ctx, query,
		domain.OrderStatusSettled, domain.CreditStatusPending,
		txHash, fromAddress, confirmedAt, id, domain.OrderStatusOpen,
	)
	if err != nil {
		var pgErr *pgconn.PgError
		if errors.As(err, &pgErr) && pgErr.Code == uniqueViolation && pgErr.ConstraintName == settledTxConstraint {
			return 0, ErrDuplicateTxHash
		}
		return 0, fmt.Errorf("settle order: %w", err)
	}
	return tag.RowsAffected(), nil
}

// ListPendingCredits returns SETTLED orders whose ledger credit has not been
// confirmed and that still have repair attempts left, oldest settlement first.
func (q *Queries) ListPendingCredits(ctx context.Context, maxAttempts int32, limit int32) ([]models.DepositOrder, error) {
	query := `SELECT ` + orderColumns + `
		FROM deposit_orders
		WHERE status = $1 AND credit_status = $2 AND credit_attempts < $3
		ORDER BY confirmed_at
		LIMIT $4`
	rows, err := q.db.Query(ctx, query, domain.OrderStatusSettled, domain.CreditStatusPending, maxAttempts, limit)
	if err != nil {
		return nil, fmt.Errorf("list pending credits: %w", err)
	}
	defer rows.Close()

	var orders []models.DepositOrder
	for rows.Next() {
		o, err := scanOrder(rows)
		if err != nil {
			return nil, fmt.Errorf("scan pending credit: %w", err)
		}
		orders = append(orders, *o)
	}
	return orders, rows.Err()
}

// IncrementCreditAttempts bumps the attempt counter before a credit attempt
// and returns the new count.
func (q *Queries) IncrementCreditAttempts(ctx context.Context, id uuid.UUID) (int32, error) {
	var attempts int32
	query := `
		UPDATE deposit_orders SET credit_attempts = credit_attempts + 1, updated_at = NOW()
		WHERE id = $1
		RETURNING credit_attempts`
	if err := q.db.QueryRow(ctx, query, id).Scan(&attempts); err != nil {
		return 0, fmt.Errorf("increment credit attempts: %w", err)
	}
	return attempts, nil
}

// TransitionCreditStatus performs a conditional credit-status update.
func (q *Queries) TransitionCreditStatus(ctx context.Context, id uuid.UUID, from, to string) (int64, error) {
	query := `
		UPDATE deposit_orders SET credit_status = $1, updated_at = NOW()
		WHERE id = $2 AND credit_status = $3`
	tag, err := q.db.Exec(ctx, query, to, id, from)
	if err != nil {
		return 0, fmt.Errorf("transition credit status %s -> %s: %w", from, to, err)
	}
	return tag.RowsAffected(), nil
}

// EscalateStaleCrediting moves orders whose credit claim never resolved to
// manual review. A claim only goes stale when the process died between the
// ledger call and the confirmation, so an operator must check the ledger
// before re-crediting.
func (q *Queries) EscalateStaleCrediting(ctx context.Context, cutoff time.Time) (int64, error) {
	query := `
		UPDATE deposit_orders SET credit_status = $1, updated_at = NOW()
		WHERE credit_status = $2 AND updated_at <= $3`
	tag, err := q.db.Exec(ctx, query, domain.CreditStatusManualReview, domain.CreditStatusCrediting, cutoff)
	if err != nil {
		return 0, fmt.Errorf("escalate stale crediting: %w", err)
	}
	return tag.RowsAffected(), nil
}

// CountCreditsByStatus reports how many orders sit in the given credit state.
// Used for the manual review queue gauge.
func (q *Queries) CountCreditsByStatus(ctx context.Context, creditStatus string) (int64, error) {
	var count int64
	query := `SELECT COUNT(*) FROM deposit_orders WHERE credit_status = $1`
	if err := q.db.QueryRow(ctx, query, creditStatus).Scan(&count); err != nil {
		return 0, fmt.Errorf("count credits by status: %w", err)
	}
	return count, nil
}

// ListManualReviewCredits returns settled orders waiting for operator action.
func (q *Queries) ListManualReviewCredits(ctx context.Context, limit, offset int32) ([]models.DepositOrder, error) {
	if limit <= 0 {
		limit = 50
	}
	query := `SELECT ` + orderColumns + `
		FROM deposit_orders
		WHERE credit_status = $1
		ORDER BY confirmed_at
		LIMIT $2 OFFSET $3`
	rows, err := q.db.Query(ctx, query, domain.CreditStatusManualReview, limit, offset)
	if err != nil {
		return nil, fmt.Errorf("list manual review credits: %w", err)
	}
	defer rows.Close()

	var orders []models.DepositOrder
	for rows.Next() {
		o, err := scanOrder(rows)
		if err != nil {
			return nil, fmt.Errorf("scan manual review credit: %w", err)
		}
		orders = append(orders, *o)
	}
	return orders, rows.Err()
}
