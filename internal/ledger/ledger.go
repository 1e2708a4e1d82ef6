package ledger

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"
)

// Client is the boundary to the platform's account ledger. IncrementBalance
// must be atomic on the ledger side; at-most-once invocation per settled
// transaction hash is guaranteed by the credit engine, not by this client.
type Client interface {
	IncrementBalance(ctx context.Context, userID uuid.UUID, delta decimal.Decimal) error
}

// HTTPClient calls the ledger service's increment RPC.
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

func (c *HTTPClient) IncrementBalance(ctx context.Context, userID uuid.UUID, delta decimal.Decimal) error {
	payload, err := json.Marshal(map[string]string{"delta": delta.String()})
	if err != nil {
		return fmt.Errorf("marshal increment payload: %w", err)
	}

	endpoint := fmt.Sprintf("%s/accounts/%s/increment", c.baseURL, userID)
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, endpoint, bytes.NewReader(payload))
	if err != nil {
		return err
	}
	req.Header.Set("Content-Type", "application/json")

	resp, err := c.client.Do(req)
	if err != nil {
		return fmt.Errorf("ledger increment request: %w", err)
	}
	defer resp.Body.Close()
	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		body, _ := io.ReadAll(io.LimitReader(resp.Body, 512))
		return fmt.Errorf("ledger increment status %d: %s", resp.StatusCode, strings.TrimSpace(string(body)))
	}
	return nil
}
