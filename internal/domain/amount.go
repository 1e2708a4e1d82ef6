package domain

import (
	"fmt"
	"math/rand"

	"github.com/shopspring/decimal"

	"github.com/maverickbet/deposit-gateway/internal/models"
)

// USDT amounts are handled at 6 decimal places, matching the token's on-chain
// fixed-point representation on both supported chains.
const AmountPrecision = 6

// Disambiguation offsets are allocated on a 0.0001 USDT grid in (0, 0.01).
// Base amounts are restricted to 2 decimal places, so two concurrently open
// orders for the same address are always at least one grid step apart.
const OffsetSlots = 99

var (
	// OffsetStep is the grid spacing between candidate requested amounts.
	OffsetStep = decimal.RequireFromString("0.0001")

	// MatchTolerance is the maximum absolute difference between a transfer
	// value and a requested amount for the two to be considered equal. It is
	// strictly below half of OffsetStep, so a transfer can never sit within
	// tolerance of two distinct allocated amounts.
	MatchTolerance = decimal.RequireFromString("0.00004")

	// MaxBaseAmount bounds a single deposit request.
	MaxBaseAmount = decimal.NewFromInt(1_000_000)
)

// RandomOffset returns a random disambiguation offset on the allocation grid,
// strictly between zero and OffsetSlots*OffsetStep inclusive.
func RandomOffset() decimal.Decimal {
	slot := rand.Intn(OffsetSlots) + 1
	return OffsetStep.Mul(decimal.NewFromInt(int64(slot)))
}

// WithinTolerance reports whether two amounts are equal under MatchTolerance.
func WithinTolerance(a, b decimal.Decimal) bool {
	return a.Sub(b).Abs().Cmp(MatchTolerance) <= 0
}

// ValidateBaseAmount rejects amounts that would break the allocation grid:
// non-positive values, more than 2 decimal places, or values above the cap.
func ValidateBaseAmount(amount decimal.Decimal) error {
	if amount.Sign() <= 0 {
		return fmt.Errorf("%w: base amount must be positive, got %s", models.ErrInvalidAmount, amount)
	}
	if amount.Exponent() < -2 {
		return fmt.Errorf("%w: base amount supports at most 2 decimal places, got %s", models.ErrInvalidAmount, amount)
	}
	if amount.Cmp(MaxBaseAmount) > 0 {
		return fmt.Errorf("%w: base amount exceeds maximum %s", models.ErrInvalidAmount, amount)
	}
	return nil
}

// SettlementValue computes the local-currency value credited for a requested
// amount at the rate captured when the order was created. Rounded to 2 decimal
// places, half up.
func SettlementValue(requestedAmount, rate decimal.Decimal) decimal.Decimal {
	return requestedAmount.Mul(rate).Round(2)
}
