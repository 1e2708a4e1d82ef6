package registry

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"strings"
	"time"

	"github.com/shopspring/decimal"

	"github.com/maverickbet/deposit-gateway/internal/domain"
	"github.com/maverickbet/deposit-gateway/internal/models"
)

// Client provides the payment method configuration consumed at order creation:
// one receiving address and exchange rate per chain. It is read-only and only
// consulted when an order is created; the captured rate is never re-fetched.
type Client interface {
	Methods(ctx context.Context) ([]models.PaymentMethod, error)
}

// MethodForChain selects the configured method for a chain from a registry
// response.
func MethodForChain(methods []models.PaymentMethod, chain string) (models.PaymentMethod, error) {
	for _, m := range methods {
		if m.Chain == chain && m.ReceiveAddress != "" {
			return m, nil
		}
	}
	return models.PaymentMethod{}, models.ErrChainUnavailable
}

// HTTPClient fetches payment methods from the registry service.
type HTTPClient struct {
	baseURL string
	client  *http.Client
}

func NewHTTPClient(baseURL string) *HTTPClient {
	return &HTTPClient{
		baseURL: strings.TrimRight(baseURL, "/"),
		client:  &http.Client{Timeout: 10 * time.Second},
	}
}

type methodRow struct {
	Chain          string `json:"chain"`
	ReceiveAddress string `json:"receive_address"`
	Rate           string `json:"rate"`
}

// Methods calls GET {base}/methods and decodes the configured addresses.
func (c *HTTPClient) Methods(ctx context.Context) ([]models.PaymentMethod, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, c.baseURL+"/methods", nil)
	if err != nil {
		return nil, err
	}
	resp, err := c.client.Do(req)
	if err != nil {
		return nil, fmt.Errorf("registry request: %w", err)
	}
	defer resp.Body.Close()
	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		return nil, fmt.Errorf("registry http status %d", resp.StatusCode)
	}

	var rows []methodRow
	if err := json.NewDecoder(resp.Body).Decode(&rows); err != nil {
		return nil, fmt.Errorf("decode registry response: %w", err)
	}

	methods := make([]models.PaymentMethod, 0, len(rows))
	for _, row := range rows {
		if !domain.ValidChain(row.Chain) {
			continue
		}
		rate, err := decimal.NewFromString(row.Rate)
		if err != nil || rate.Sign() <= 0 {
			continue
		}
		methods = append(methods, models.PaymentMethod{
			Chain:          row.Chain,
			ReceiveAddress: row.ReceiveAddress,
			Rate:           rate,
		})
	}
	return methods, nil
}

// StaticClient serves payment methods from local configuration. Used when no
// registry service is deployed.
type StaticClient struct {
	methods []models.PaymentMethod
}

func NewStaticClient(methods []models.PaymentMethod) *StaticClient {
	return &StaticClient{methods: methods}
}

func (c *StaticClient) Methods(ctx context.Context) ([]models.PaymentMethod, error) {
	return c.methods, nil
}
