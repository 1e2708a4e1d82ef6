package service

import (
	"time"

	"go.uber.org/zap"

	"github.com/maverickbet/deposit-gateway/internal/domain"
	"github.com/maverickbet/deposit-gateway/internal/models"
	"github.com/maverickbet/deposit-gateway/internal/observability"
)

// MatchPair couples one open order with the transfer that satisfies it.
type MatchPair struct {
	Order    models.DepositOrder
	Transfer models.ChainTransfer
}

// MatchTransfers pairs transfers against open, unexpired orders by amount.
// Each transfer settles at most one order and each order is consumed at most
// once per cycle. A transfer only matches orders whose window it falls in:
// observed no earlier than the order's creation (less skew, covering explorer
// timestamp lag) and no later than its expiry. If two orders tie within
// tolerance for the same transfer, which the allocation invariant should
// prevent, the transfer is rejected and flagged for manual review rather than
// guessed. Transfers matching nothing are ignored; they may belong to an
// unrelated deposit.
func MatchTransfers(orders []models.DepositOrder, transfers []models.ChainTransfer, now time.Time, skew time.Duration) []MatchPair {
	consumed := make(map[int]bool, len(orders))
	var pairs []MatchPair

	for _, transfer := range transfers {
		candidates := candidateIndexes(orders, consumed, transfer, now, skew)

		switch len(candidates) {
		case 0:
			observability.IncrementMatch("unmatched_transfer")
		case 1:
			idx := candidates[0]
			consumed[idx] = true
			pairs = append(pairs, MatchPair{Order: orders[idx], Transfer: transfer})
			observability.IncrementMatch("matched")
		default:
			observability.IncrementMatch("ambiguous")
			zap.L().Error("ambiguous transfer matches multiple open orders, flagged for manual review",
				zap.String("tx_hash", transfer.TxHash),
				zap.String("value", transfer.Value.String()),
				zap.Int("candidates", len(candidates)),
			)
		}
	}
	return pairs
}

func candidateIndexes(orders []models.DepositOrder, consumed map[int]bool, transfer models.ChainTransfer, now time.Time, skew time.Duration) []int {
	var candidates []int
	for i, order := range orders {
		if consumed[i] || order.Status != domain.OrderStatusOpen {
			continue
		}
		// An order past its expiry is never matched, even if the sweep has
		// not caught it yet.
		if now.After(order.ExpiresAt) {
			continue
		}
		// The transfer must have been observed inside the order's window. One
		// that predates the order belongs to someone else's deposit.
		if transfer.BlockTimestamp.After(order.ExpiresAt) {
			continue
		}
		if transfer.BlockTimestamp.Before(order.CreatedAt.Add(-skew)) {
			continue
		}
		if transfer.To != order.ReceiveAddress {
			continue
		}
		if domain.WithinTolerance(order.RequestedAmount, transfer.Value) {
			candidates = append(candidates, i)
		}
	}
	return candidates
}
