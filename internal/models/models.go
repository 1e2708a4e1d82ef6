package models

import (
	"time"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"
)

// DepositOrder is the durable record of a single deposit intent. Terminal
// orders are never deleted; they are the audit trail for the payment.
type DepositOrder struct {
	ID              uuid.UUID       `json:"id"`
	UserID          uuid.UUID       `json:"user_id"`
	Chain           string          `json:"chain"`
	ReceiveAddress  string          `json:"receive_address"`
	RequestedAmount decimal.Decimal `json:"requested_amount"`
	Rate            decimal.Decimal `json:"rate"`
	SettlementValue decimal.Decimal `json:"settlement_value"`
	Status          string          `json:"status"`
	CreditStatus    string          `json:"credit_status"`
	CreditAttempts  int32           `json:"credit_attempts"`
	TxHash          *string         `json:"tx_hash,omitempty"`
	FromAddress     *string         `json:"from_address,omitempty"`
	ConfirmedAt     *time.Time      `json:"confirmed_at,omitempty"`
	CreatedAt       time.Time       `json:"created_at"`
	ExpiresAt       time.Time       `json:"expires_at"`
}

// ChainTransfer is one incoming token transfer observed on-chain, normalized
// from the chain-specific explorer response. It is never persisted.
type ChainTransfer struct {
	From           string
	To             string
	Value          decimal.Decimal
	TxHash         string
	BlockTimestamp time.Time
}

// PaymentMethod is a receiving address and exchange rate for one chain, as
// returned by the payment method registry.
type PaymentMethod struct {
	Chain          string          `json:"chain"`
	ReceiveAddress string          `json:"receive_address"`
	Rate           decimal.Decimal `json:"rate"`
}
