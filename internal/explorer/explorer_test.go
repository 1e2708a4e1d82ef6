package explorer

import (
	"context"
	"fmt"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"github.com/maverickbet/deposit-gateway/internal/domain"
)

const (
	tronAddress  = "TReceive111111111111111111111111111"
	etherAddress = "0xAbCdEf1234567890aBcDeF1234567890abcdef12"
)

func TestTronTransfersNormalized(t *testing.T) {
	since := time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC)

	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		require.Equal(t, "/v1/accounts/"+tronAddress+"/transactions/trc20", r.URL.Path)
		require.Equal(t, "true", r.URL.Query().Get("only_to"))
		require.Equal(t, "true", r.URL.Query().Get("only_confirmed"))
		require.Equal(t, "usdt-contract", r.URL.Query().Get("contract_address"))

		fmt.Fprintf(w, `{"data":[
			{"transaction_id":"tx-good","from":"TSender","to":%q,"value":"100004200","block_timestamp":%d},
			{"transaction_id":"tx-other-recipient","from":"TSender","to":"TElsewhere","value":"5000000","block_timestamp":%d},
			{"transaction_id":"tx-bad-value","from":"TSender","to":%q,"value":"not-a-number","block_timestamp":%d},
			{"transaction_id":"tx-too-old","from":"TSender","to":%q,"value":"7000000","block_timestamp":%d},
			{"transaction_id":"","from":"TSender","to":%q,"value":"9000000","block_timestamp":%d}
		]}`,
			tronAddress, since.Add(time.Minute).UnixMilli(),
			since.Add(time.Minute).UnixMilli(),
			tronAddress, since.Add(time.Minute).UnixMilli(),
			tronAddress, since.Add(-time.Hour).UnixMilli(),
			tronAddress, since.Add(time.Minute).UnixMilli(),
		)
	}))
	defer srv.Close()

	client := NewTronClient(srv.URL, "usdt-contract", 50)
	transfers, err := client.transfersTo(context.Background(), tronAddress, since)
	require.NoError(t, err)
	require.Len(t, transfers, 1)
	require.Equal(t, "tx-good", transfers[0].TxHash)
	require.Equal(t, "100.0042", transfers[0].Value.String())
	require.Equal(t, since.Add(time.Minute), transfers[0].BlockTimestamp)
}

func TestEtherscanTransfersNormalized(t *testing.T) {
	since := time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC)

	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		require.Equal(t, "/api", r.URL.Path)
		require.Equal(t, "account", r.URL.Query().Get("module"))
		require.Equal(t, "tokentx", r.URL.Query().Get("action"))
		require.Equal(t, "usdt-contract", r.URL.Query().Get("contractaddress"))

		fmt.Fprintf(w, `{"status":"1","message":"OK","result":[
			{"hash":"0xincoming","from":"0xsender","to":%q,"value":"50001300","timeStamp":"%d"},
			{"hash":"0xoutgoing","from":%q,"to":"0xsomewhere","value":"1000000","timeStamp":"%d"},
			{"hash":"0xtooold","from":"0xsender","to":%q,"value":"2000000","timeStamp":"%d"}
		]}`,
			etherAddress, since.Add(time.Minute).Unix(),
			etherAddress, since.Add(time.Minute).Unix(),
			etherAddress, since.Add(-time.Hour).Unix(),
		)
	}))
	defer srv.Close()

	client := NewEtherscanClient(srv.URL, "key", "usdt-contract", 50)
	transfers, err := client.transfersTo(context.Background(), etherAddress, since)
	require.NoError(t, err)
	require.Len(t, transfers, 1)
	require.Equal(t, "0xincoming", transfers[0].TxHash)
	require.Equal(t, "50.0013", transfers[0].Value.String())
}

func TestEtherscanTransfersCarryConfiguredAddressCasing(t *testing.T) {
	// Etherscan lowercases addresses in its responses. A checksummed
	// configured address must still come back on the transfer verbatim, or
	// downstream address equality against open orders would never hold.
	since := time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC)

	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		fmt.Fprintf(w, `{"status":"1","message":"OK","result":[
			{"hash":"0xlowercased","from":"0xsender","to":%q,"value":"100004200","timeStamp":"%d"}
		]}`,
			strings.ToLower(etherAddress), since.Add(time.Minute).Unix(),
		)
	}))
	defer srv.Close()

	client := NewEtherscanClient(srv.URL, "", "usdt-contract", 50)
	transfers, err := client.transfersTo(context.Background(), etherAddress, since)
	require.NoError(t, err)
	require.Len(t, transfers, 1)
	require.Equal(t, etherAddress, transfers[0].To)
}

func TestEtherscanNoTransactionsFound(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		fmt.Fprint(w, `{"status":"0","message":"No transactions found","result":[]}`)
	}))
	defer srv.Close()

	client := NewEtherscanClient(srv.URL, "", "usdt-contract", 50)
	transfers, err := client.transfersTo(context.Background(), etherAddress, time.Now().UTC())
	require.NoError(t, err)
	require.Empty(t, transfers)
}

func TestEtherscanErrorStatus(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		fmt.Fprint(w, `{"status":"0","message":"NOTOK","result":[]}`)
	}))
	defer srv.Close()

	client := NewEtherscanClient(srv.URL, "", "usdt-contract", 50)
	_, err := client.transfersTo(context.Background(), etherAddress, time.Now().UTC())
	require.Error(t, err)
}

func TestMultiChainScannerDispatch(t *testing.T) {
	since := time.Now().UTC().Add(-time.Hour)

	tronSrv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		fmt.Fprintf(w, `{"data":[{"transaction_id":"tx-tron","from":"TSender","to":%q,"value":"1000000","block_timestamp":%d}]}`,
			tronAddress, time.Now().UTC().UnixMilli())
	}))
	defer tronSrv.Close()

	etherSrv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		fmt.Fprintf(w, `{"status":"1","message":"OK","result":[{"hash":"0xeth","from":"0xsender","to":%q,"value":"2000000","timeStamp":"%d"}]}`,
			etherAddress, time.Now().UTC().Unix())
	}))
	defer etherSrv.Close()

	scanner := NewMultiChainScanner(
		NewTronClient(tronSrv.URL, "usdt-contract", 50),
		NewEtherscanClient(etherSrv.URL, "", "usdt-contract", 50),
	)

	trc, err := scanner.FetchTransfers(context.Background(), tronAddress, domain.ChainTRC20, since)
	require.NoError(t, err)
	require.Len(t, trc, 1)
	require.Equal(t, "tx-tron", trc[0].TxHash)

	erc, err := scanner.FetchTransfers(context.Background(), etherAddress, domain.ChainERC20, since)
	require.NoError(t, err)
	require.Len(t, erc, 1)
	require.Equal(t, "0xeth", erc[0].TxHash)
}

func TestMultiChainScannerFailureReturnsEmpty(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		http.Error(w, "upstream down", http.StatusBadGateway)
	}))
	defer srv.Close()

	scanner := NewMultiChainScanner(
		NewTronClient(srv.URL, "usdt-contract", 50),
		NewEtherscanClient(srv.URL, "", "usdt-contract", 50),
	)

	// A failed scan is logged and skipped; the next cycle retries.
	transfers, err := scanner.FetchTransfers(context.Background(), tronAddress, domain.ChainTRC20, time.Now().UTC())
	require.NoError(t, err)
	require.Empty(t, transfers)
}
