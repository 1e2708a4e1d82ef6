package explorer

import (
	"context"
	"fmt"
	"time"

	"go.uber.org/zap"

	"github.com/maverickbet/deposit-gateway/internal/domain"
	"github.com/maverickbet/deposit-gateway/internal/models"
	"github.com/maverickbet/deposit-gateway/internal/observability"
)

// Scanner fetches recent incoming token transfers for a receiving address.
// Implementations normalize the chain-specific explorer response into
// models.ChainTransfer so the matcher stays chain-agnostic.
type Scanner interface {
	FetchTransfers(ctx context.Context, address, chain string, since time.Time) ([]models.ChainTransfer, error)
}

// chainClient is one explorer backend; TRC20 and ERC20 each provide one.
type chainClient interface {
	transfersTo(ctx context.Context, address string, since time.Time) ([]models.ChainTransfer, error)
}

// MultiChainScanner dispatches to the per-chain explorer clients. Explorer
// failures and malformed responses are treated identically: log, count, and
// return an empty result for the cycle. The next cycle re-scans the same
// window, so a missed cycle is safe.
type MultiChainScanner struct {
	clients map[string]chainClient
}

func NewMultiChainScanner(tron *TronClient, ether *EtherscanClient) *MultiChainScanner {
	return &MultiChainScanner{
		clients: map[string]chainClient{
			domain.ChainTRC20: tron,
			domain.ChainERC20: ether,
		},
	}
}

func (s *MultiChainScanner) FetchTransfers(ctx context.Context, address, chain string, since time.Time) ([]models.ChainTransfer, error) {
	client, ok := s.clients[chain]
	if !ok {
		return nil, fmt.Errorf("no explorer client for chain %s: %w", chain, models.ErrInvalidChain)
	}

	transfers, err := client.transfersTo(ctx, address, since)
	if err != nil {
		observability.IncrementScan(chain, "failed")
		zap.L().Warn("explorer scan failed, skipping cycle for group",
			zap.String("chain", chain),
			zap.String("address", address),
			zap.Error(err),
		)
		return nil, nil
	}
	observability.IncrementScan(chain, "success")
	return transfers, nil
}
