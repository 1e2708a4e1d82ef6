package service

import (
	"context"
	"fmt"
	"strings"

	"github.com/google/uuid"

	"github.com/maverickbet/deposit-gateway/internal/domain"
	"github.com/maverickbet/deposit-gateway/internal/repository"
)

// orderTransitions encodes the legal lifecycle. OPEN is the only state with
// outgoing edges; every other state is terminal and may never be left.
var orderTransitions = map[string]map[string]struct{}{
	domain.OrderStatusOpen: {
		domain.OrderStatusSettled:   {},
		domain.OrderStatusExpired:   {},
		domain.OrderStatusCancelled: {},
	},
	domain.OrderStatusSettled:   {},
	domain.OrderStatusExpired:   {},
	domain.OrderStatusCancelled: {},
}

func normalizeState(state string) string {
	return strings.ToUpper(strings.TrimSpace(state))
}

func canTransition(current, next string) bool {
	nextStates, ok := orderTransitions[normalizeState(current)]
	if !ok {
		return false
	}
	_, ok = nextStates[normalizeState(next)]
	return ok
}

// transitionOrder applies a conditional status update after validating the
// transition against the lifecycle table. Returns the number of rows changed;
// zero means a competing transition won the race.
func transitionOrder(ctx context.Context, q *repository.Queries, id uuid.UUID, current, next string) (int64, error) {
	if !canTransition(current, next) {
		return 0, fmt.Errorf("invalid order state transition: %s -> %s", current, next)
	}
	return q.TransitionOrderStatus(ctx, id, current, next)
}
