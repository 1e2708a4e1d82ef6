package explorer

import (
	"context"
	"fmt"
	"net/http"
	"net/url"
	"strconv"
	"strings"
	"time"

	"github.com/maverickbet/deposit-gateway/internal/models"
)

// EtherscanClient reads ERC20 token transfers from an Etherscan-compatible API.
type EtherscanClient struct {
	baseURL  string
	apiKey   string
	contract string
	pageSize int
	client   *http.Client
}

func NewEtherscanClient(baseURL, apiKey, usdtContract string, pageSize int) *EtherscanClient {
	if pageSize <= 0 {
		pageSize = 50
	}
	return &EtherscanClient{
		baseURL:  strings.TrimRight(baseURL, "/"),
		apiKey:   apiKey,
		contract: usdtContract,
		pageSize: pageSize,
		client:   &http.Client{Timeout: 15 * time.Second},
	}
}

type etherscanTxRow struct {
	Hash      string `json:"hash"`
	From      string `json:"from"`
	To        string `json:"to"`
	Value     string `json:"value"`
	TimeStamp string `json:"timeStamp"`
}

type etherscanResponse struct {
	Status  string           `json:"status"`
	Message string           `json:"message"`
	Result  []etherscanTxRow `json:"result"`
}

// transfersTo fetches the most recent token transfers touching the address.
// Etherscan has no only-incoming filter, so outgoing rows are dropped during
// normalization, and it reports addresses lowercased, so incoming rows carry
// the caller's configured casing instead of the API's. Values are 6-decimal
// fixed point; timestamps in seconds.
func (c *EtherscanClient) transfersTo(ctx context.Context, address string, since time.Time) ([]models.ChainTransfer, error) {
	values := url.Values{}
	values.Set("module", "account")
	values.Set("action", "tokentx")
	values.Set("address", address)
	values.Set("contractaddress", c.contract)
	values.Set("page", "1")
	values.Set("offset", strconv.Itoa(c.pageSize))
	values.Set("sort", "desc")
	if c.apiKey != "" {
		values.Set("apikey", c.apiKey)
	}

	var resp etherscanResponse
	if err := getJSON(ctx, c.client, c.baseURL+"/api?"+values.Encode(), &resp); err != nil {
		return nil, err
	}
	// Status "0" with message "No transactions found" is an empty result, not
	// an error.
	if resp.Status != "1" && !strings.Contains(resp.Message, "No transactions found") {
		return nil, fmt.Errorf("etherscan status %s: %s", resp.Status, resp.Message)
	}

	lowerAddr := strings.ToLower(address)
	transfers := make([]models.ChainTransfer, 0, len(resp.Result))
	for _, row := range resp.Result {
		if strings.ToLower(row.To) != lowerAddr || row.Hash == "" {
			continue
		}
		value, err := parseFixedPoint(row.Value)
		if err != nil {
			continue
		}
		seconds, err := strconv.ParseInt(row.TimeStamp, 10, 64)
		if err != nil {
			continue
		}
		ts := time.Unix(seconds, 0).UTC()
		if ts.Before(since) {
			continue
		}
		transfers = append(transfers, models.ChainTransfer{
			From:           row.From,
			To:             address,
			Value:          value,
			TxHash:         row.Hash,
			BlockTimestamp: ts,
		})
	}
	return transfers, nil
}
