package domain

// Supported transfer conventions. The receive address format and the explorer
// API differ per chain; everything downstream of normalization is chain-agnostic.
const (
	ChainTRC20 = "TRC20"
	ChainERC20 = "ERC20"
)

// Deposit order lifecycle. OPEN is the only non-terminal state.
const (
	OrderStatusOpen      = "OPEN"
	OrderStatusSettled   = "SETTLED"
	OrderStatusExpired   = "EXPIRED"
	OrderStatusCancelled = "CANCELLED"
)

// Ledger credit progress for a SETTLED order. PENDING means the order settled
// but no ledger increment is in flight; CREDITING means one worker holds the
// claim and is calling the ledger right now.
const (
	CreditStatusNone         = "NONE"
	CreditStatusPending      = "PENDING"
	CreditStatusCrediting    = "CREDITING"
	CreditStatusConfirmed    = "CONFIRMED"
	CreditStatusManualReview = "MANUAL_REVIEW"
)

// ValidChain reports whether the given chain identifier is supported.
func ValidChain(chain string) bool {
	return chain == ChainTRC20 || chain == ChainERC20
}
