package poller

import (
	"context"
	"errors"
	"sync"
	"time"

	"github.com/google/uuid"
	"go.uber.org/zap"

	"github.com/maverickbet/deposit-gateway/internal/domain"
	"github.com/maverickbet/deposit-gateway/internal/models"
)

// State is the client-visible phase of one deposit attempt.
type State string

const (
	StateCreating         State = "CREATING"
	StateAwaitingTransfer State = "AWAITING_TRANSFER"
	StateSuccess          State = "SUCCESS"
	StateExpired          State = "EXPIRED"
	StateCancelled        State = "CANCELLED"
	StateFailed           State = "FAILED"
)

// Terminal reports whether the state ends the polling loop.
func (s State) Terminal() bool {
	switch s {
	case StateSuccess, StateExpired, StateCancelled, StateFailed:
		return true
	}
	return false
}

// CreateFunc opens the deposit order being tracked.
type CreateFunc func(ctx context.Context) (*models.DepositOrder, error)

// StatusFunc reads the current order state from the server.
type StatusFunc func(ctx context.Context, orderID uuid.UUID) (*models.DepositOrder, error)

var errTooManyPollFailures = errors.New("too many consecutive poll failures")

// Poller drives one deposit attempt from creation to a terminal state. It
// polls the order status at a slow cadence until the caller signals the
// transfer was sent, then tightens to the fast cadence. Transient status
// failures are tolerated up to a bound; the order itself is unaffected by a
// poller giving up, reconciliation continues server side.
type Poller struct {
	create       CreateFunc
	status       StatusFunc
	interval     time.Duration
	fastInterval time.Duration
	maxFailures  int

	mu           sync.Mutex
	state        State
	order        *models.DepositOrder
	transferSent bool
	notify       chan struct{}
}

func New(create CreateFunc, status StatusFunc) *Poller {
	return &Poller{
		create:       create,
		status:       status,
		interval:     10 * time.Second,
		fastInterval: 3 * time.Second,
		maxFailures:  5,
		state:        StateCreating,
		notify:       make(chan struct{}, 1),
	}
}

// WithIntervals overrides the slow and fast polling cadence.
func (p *Poller) WithIntervals(slow, fast time.Duration) *Poller {
	if slow > 0 {
		p.interval = slow
	}
	if fast > 0 {
		p.fastInterval = fast
	}
	return p
}

// WithMaxFailures bounds consecutive status poll failures before giving up.
func (p *Poller) WithMaxFailures(n int) *Poller {
	if n > 0 {
		p.maxFailures = n
	}
	return p
}

// State returns the current phase.
func (p *Poller) State() State {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.state
}

// Order returns the last observed order, nil before creation succeeds.
func (p *Poller) Order() *models.DepositOrder {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.order
}

// NotifyTransferSent signals that the user reports having sent the transfer,
// switching the loop to the fast polling cadence.
func (p *Poller) NotifyTransferSent() {
	p.mu.Lock()
	p.transferSent = true
	p.mu.Unlock()
	select {
	case p.notify <- struct{}{}:
	default:
	}
}

// Run blocks until the deposit reaches a terminal state or the context is
// canceled. It returns the final state; the error is non-nil only when the
// loop ended without the order reaching a terminal status.
func (p *Poller) Run(ctx context.Context) (State, error) {
	order, err := p.create(ctx)
	if err != nil {
		p.setState(StateFailed, nil)
		return StateFailed, err
	}
	p.setState(StateAwaitingTransfer, order)
	zap.L().Info("deposit poller tracking order",
		zap.String("order_id", order.ID.String()),
		zap.Time("expires_at", order.ExpiresAt),
	)

	failures := 0
	timer := time.NewTimer(p.currentInterval())
	defer timer.Stop()

	for {
		select {
		case <-ctx.Done():
			p.setState(StateFailed, nil)
			return StateFailed, ctx.Err()
		case <-p.notify:
			// Cadence changed; rearm the timer on the fast interval.
			if !timer.Stop() {
				select {
				case <-timer.C:
				default:
				}
			}
			timer.Reset(p.currentInterval())
			continue
		case <-timer.C:
		}

		current, err := p.status(ctx, order.ID)
		if err != nil {
			failures++
			zap.L().Warn("deposit status poll failed",
				zap.String("order_id", order.ID.String()),
				zap.Int("consecutive_failures", failures),
				zap.Error(err),
			)
			if failures >= p.maxFailures {
				p.setState(StateFailed, nil)
				return StateFailed, errTooManyPollFailures
			}
			timer.Reset(p.currentInterval())
			continue
		}
		failures = 0

		if state, done := stateForStatus(current.Status); done {
			p.setState(state, current)
			return state, nil
		}
		p.setState(StateAwaitingTransfer, current)
		timer.Reset(p.currentInterval())
	}
}

func (p *Poller) currentInterval() time.Duration {
	p.mu.Lock()
	defer p.mu.Unlock()
	if p.transferSent {
		return p.fastInterval
	}
	return p.interval
}

func (p *Poller) setState(state State, order *models.DepositOrder) {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.state = state
	if order != nil {
		p.order = order
	}
}

func stateForStatus(status string) (State, bool) {
	switch status {
	case domain.OrderStatusSettled:
		return StateSuccess, true
	case domain.OrderStatusExpired:
		return StateExpired, true
	case domain.OrderStatusCancelled:
		return StateCancelled, true
	}
	return StateAwaitingTransfer, false
}
