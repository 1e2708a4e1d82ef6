package domain

import (
	"testing"

	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/require"
)

func TestRandomOffsetOnGrid(t *testing.T) {
	maxOffset := OffsetStep.Mul(decimal.NewFromInt(OffsetSlots))
	for i := 0; i < 1000; i++ {
		offset := RandomOffset()
		require.True(t, offset.Sign() > 0, "offset must be positive, got %s", offset)
		require.True(t, offset.Cmp(maxOffset) <= 0, "offset above grid: %s", offset)
		// Offsets must sit exactly on the grid.
		require.True(t, offset.Mod(OffsetStep).IsZero(), "offset off grid: %s", offset)
	}
}

func TestToleranceBelowGridSpacing(t *testing.T) {
	// Two adjacent grid amounts must never both be within tolerance of the
	// same transfer value, otherwise matching would be ambiguous by
	// construction.
	halfStep := OffsetStep.Div(decimal.NewFromInt(2))
	require.True(t, MatchTolerance.Cmp(halfStep) < 0)

	a := decimal.RequireFromString("100.0042")
	b := a.Add(OffsetStep)
	midpoint := a.Add(b).Div(decimal.NewFromInt(2))

	within := 0
	if WithinTolerance(a, midpoint) {
		within++
	}
	if WithinTolerance(b, midpoint) {
		within++
	}
	require.LessOrEqual(t, within, 1, "midpoint within tolerance of both grid neighbours")
}

func TestWithinTolerance(t *testing.T) {
	amount := decimal.RequireFromString("100.0042")

	require.True(t, WithinTolerance(amount, amount))
	require.True(t, WithinTolerance(amount, decimal.RequireFromString("100.004204")))
	require.True(t, WithinTolerance(amount, decimal.RequireFromString("100.004196")))
	require.False(t, WithinTolerance(amount, decimal.RequireFromString("100.00425")))
	require.False(t, WithinTolerance(amount, decimal.RequireFromString("100.00415")))
}

func TestValidateBaseAmount(t *testing.T) {
	cases := []struct {
		name   string
		amount string
		ok     bool
	}{
		{name: "integer", amount: "100", ok: true},
		{name: "two_decimals", amount: "99.99", ok: true},
		{name: "max", amount: "1000000", ok: true},
		{name: "zero", amount: "0", ok: false},
		{name: "negative", amount: "-5", ok: false},
		{name: "three_decimals", amount: "10.001", ok: false},
		{name: "above_max", amount: "1000000.01", ok: false},
	}

	for _, tc := range cases {
		tc := tc
		t.Run(tc.name, func(t *testing.T) {
			err := ValidateBaseAmount(decimal.RequireFromString(tc.amount))
			if tc.ok {
				require.NoError(t, err)
				return
			}
			require.Error(t, err)
		})
	}
}

func TestSettlementValue(t *testing.T) {
	rate := decimal.RequireFromString("7.20")

	got := SettlementValue(decimal.RequireFromString("100.0042"), rate)
	require.Equal(t, "720.03", got.StringFixed(2))

	// Rounds half up at the second decimal.
	got = SettlementValue(decimal.RequireFromString("0.0007"), decimal.RequireFromString("7.15"))
	require.Equal(t, "0.01", got.StringFixed(2))
}
