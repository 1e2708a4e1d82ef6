package explorer

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strconv"
	"strings"
	"time"

	"github.com/shopspring/decimal"

	"github.com/maverickbet/deposit-gateway/internal/domain"
	"github.com/maverickbet/deposit-gateway/internal/models"
)

// TronClient reads TRC20 token transfers from a TronGrid-compatible API.
type TronClient struct {
	baseURL  string
	contract string
	pageSize int
	client   *http.Client
}

func NewTronClient(baseURL, usdtContract string, pageSize int) *TronClient {
	if pageSize <= 0 {
		pageSize = 50
	}
	return &TronClient{
		baseURL:  strings.TrimRight(baseURL, "/"),
		contract: usdtContract,
		pageSize: pageSize,
		client:   &http.Client{Timeout: 15 * time.Second},
	}
}

type tronTransferRow struct {
	TransactionID  string `json:"transaction_id"`
	From           string `json:"from"`
	To             string `json:"to"`
	Value          string `json:"value"`
	BlockTimestamp int64  `json:"block_timestamp"`
}

type tronTransferResponse struct {
	Data []tronTransferRow `json:"data"`
}

// transfersTo fetches the most recent incoming USDT transfers for the address,
// filtered server-side to the token contract and bounded to one page. Values
// arrive as 6-decimal fixed-point integers; block timestamps in milliseconds.
func (c *TronClient) transfersTo(ctx context.Context, address string, since time.Time) ([]models.ChainTransfer, error) {
	endpoint := fmt.Sprintf("%s/v1/accounts/%s/transactions/trc20", c.baseURL, url.PathEscape(address))
	values := url.Values{}
	values.Set("only_to", "true")
	values.Set("only_confirmed", "true")
	values.Set("contract_address", c.contract)
	values.Set("limit", strconv.Itoa(c.pageSize))
	values.Set("min_timestamp", strconv.FormatInt(since.UnixMilli(), 10))

	var resp tronTransferResponse
	if err := getJSON(ctx, c.client, endpoint+"?"+values.Encode(), &resp); err != nil {
		return nil, err
	}

	transfers := make([]models.ChainTransfer, 0, len(resp.Data))
	for _, row := range resp.Data {
		if row.To != address || row.TransactionID == "" {
			continue
		}
		value, err := parseFixedPoint(row.Value)
		if err != nil {
			continue
		}
		ts := time.UnixMilli(row.BlockTimestamp).UTC()
		if ts.Before(since) {
			continue
		}
		transfers = append(transfers, models.ChainTransfer{
			From:           row.From,
			To:             row.To,
			Value:          value,
			TxHash:         row.TransactionID,
			BlockTimestamp: ts,
		})
	}
	return transfers, nil
}

// parseFixedPoint converts an integer token amount at the USDT precision into
// a decimal value, e.g. "100004200" -> 100.0042.
func parseFixedPoint(raw string) (decimal.Decimal, error) {
	d, err := decimal.NewFromString(raw)
	if err != nil {
		return decimal.Zero, fmt.Errorf("parse token value %q: %w", raw, err)
	}
	if d.Sign() <= 0 || d.Exponent() != 0 {
		return decimal.Zero, fmt.Errorf("token value %q is not a positive integer", raw)
	}
	return d.Shift(-domain.AmountPrecision), nil
}

func getJSON(ctx context.Context, client *http.Client, endpoint string, out any) error {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, endpoint, nil)
	if err != nil {
		return err
	}
	req.Header.Set("Accept", "application/json")
	resp, err := client.Do(req)
	if err != nil {
		return err
	}
	defer resp.Body.Close()
	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		body, _ := io.ReadAll(io.LimitReader(resp.Body, 512))
		msg := strings.TrimSpace(string(body))
		if msg != "" {
			return fmt.Errorf("explorer http status %d: %s", resp.StatusCode, msg)
		}
		return fmt.Errorf("explorer http status %d", resp.StatusCode)
	}
	return json.NewDecoder(resp.Body).Decode(out)
}
