package service

import (
	"context"
	"sync"
	"time"

	"go.uber.org/zap"

	"github.com/maverickbet/deposit-gateway/internal/explorer"
	"github.com/maverickbet/deposit-gateway/internal/models"
	"github.com/maverickbet/deposit-gateway/internal/observability"
)

// ReconciliationService drives one full cycle: sweep expired orders, scan the
// chain once per (address, chain) group, match transfers to orders, settle.
type ReconciliationService struct {
	store      QueryStore
	scanner    explorer.Scanner
	settler    *SettlementService
	safetySkew time.Duration
}

func NewReconciliationService(store QueryStore, scanner explorer.Scanner, settler *SettlementService, safetySkew time.Duration) *ReconciliationService {
	if safetySkew <= 0 {
		safetySkew = 2 * time.Minute
	}
	return &ReconciliationService{
		store:      store,
		scanner:    scanner,
		settler:    settler,
		safetySkew: safetySkew,
	}
}

type scanGroup struct {
	address string
	chain   string
	orders  []models.DepositOrder
}

// Run executes one reconciliation cycle. Scans for distinct groups run
// concurrently; settlement safety does not depend on this loop because every
// settle is a conditional write keyed on the tx hash.
func (s *ReconciliationService) Run(ctx context.Context) error {
	queries := s.store.Queries()
	now := time.Now().UTC()

	expired, err := queries.ExpireDueOrders(ctx, now)
	if err != nil {
		return err
	}
	if expired > 0 {
		observability.AddExpiredOrders(expired)
		zap.L().Info("expired deposit orders swept", zap.Int64("count", expired))
	}

	open, err := queries.ListOpenOrders(ctx)
	if err != nil {
		return err
	}
	if len(open) == 0 {
		return nil
	}

	groups := groupOrders(open)
	var wg sync.WaitGroup
	for _, g := range groups {
		wg.Add(1)
		go func(g scanGroup) {
			defer wg.Done()
			s.reconcileGroup(ctx, g, now)
		}(g)
	}
	wg.Wait()
	return nil
}

// reconcileGroup scans one (address, chain) pair and settles its matches. One
// explorer call per group keeps external call volume independent of the
// number of concurrent orders.
func (s *ReconciliationService) reconcileGroup(ctx context.Context, g scanGroup, now time.Time) {
	since := oldestCreation(g.orders).Add(-s.safetySkew)

	transfers, err := s.scanner.FetchTransfers(ctx, g.address, g.chain, since)
	if err != nil {
		zap.L().Error("scan group failed", zap.String("chain", g.chain), zap.String("address", g.address), zap.Error(err))
		return
	}
	if len(transfers) == 0 {
		return
	}

	for _, pair := range MatchTransfers(g.orders, transfers, now, s.safetySkew) {
		if err := s.settler.Settle(ctx, pair.Order, pair.Transfer); err != nil {
			zap.L().Error("settlement failed",
				zap.String("order_id", pair.Order.ID.String()),
				zap.String("tx_hash", pair.Transfer.TxHash),
				zap.Error(err),
			)
		}
	}
}

func groupOrders(orders []models.DepositOrder) []scanGroup {
	type key struct{ address, chain string }
	index := make(map[key]int)
	var groups []scanGroup
	for _, o := range orders {
		k := key{o.ReceiveAddress, o.Chain}
		i, ok := index[k]
		if !ok {
			i = len(groups)
			index[k] = i
			groups = append(groups, scanGroup{address: o.ReceiveAddress, chain: o.Chain})
		}
		groups[i].orders = append(groups[i].orders, o)
	}
	return groups
}

func oldestCreation(orders []models.DepositOrder) time.Time {
	oldest := orders[0].CreatedAt
	for _, o := range orders[1:] {
		if o.CreatedAt.Before(oldest) {
			oldest = o.CreatedAt
		}
	}
	return oldest
}
