package graph

import (
	"math"
	"math/big"
	"testing"

	"github.com/stretchr/testify/require"
	"pgregory.net/rapid"
)

// TestPolicyFee checks the fee of small and huge amounts.
func TestPolicyFee(t *testing.T) {
	t.Parallel()

	testCases := []struct {
		name     string
		policy   Policy
		amount   uint64
		expected uint64
	}{{
		name:     "base fee only",
		policy:   Policy{BaseFee: 7},
		amount:   3000,
		expected: 7,
	}, {
		name:     "proportional rounds down",
		policy:   Policy{BaseFee: 5, FeeRate: 1000},
		amount:   3999,
		expected: 5 + 3,
	}, {
		name:     "product beyond 64 bits",
		policy:   Policy{FeeRate: 1000},
		amount:   1 << 60,
		expected: 1152921504606846,
	}, {
		name:     "quotient beyond 64 bits",
		policy:   Policy{FeeRate: math.MaxUint64},
		amount:   math.MaxUint64,
		expected: math.MaxUint64,
	}, {
		name:     "base fee sum overflows",
		policy:   Policy{BaseFee: math.MaxUint64, FeeRate: 1_000_000},
		amount:   10,
		expected: math.MaxUint64,
	}}

	for _, tc := range testCases {
		tc := tc
		t.Run(tc.name, func(t *testing.T) {
			t.Parallel()

			require.Equal(t, tc.expected, tc.policy.Fee(tc.amount))
		})
	}
}

// TestPolicyFeeProperties compares the fee with arbitrary precision
// arithmetic.
func TestPolicyFeeProperties(t *testing.T) {
	t.Parallel()

	rapid.Check(t, func(t *rapid.T) {
		p := Policy{
			BaseFee: rapid.Uint64().Draw(t, "base"),
			FeeRate: rapid.Uint64().Draw(t, "rate"),
		}
		amt := rapid.Uint64().Draw(t, "amount")

		want := new(big.Int).SetUint64(amt)
		want.Mul(want, new(big.Int).SetUint64(p.FeeRate))
		want.Div(want, big.NewInt(feeRateScale))
		want.Add(want, new(big.Int).SetUint64(p.BaseFee))

		if !want.IsUint64() {
			require.Equal(t, uint64(math.MaxUint64), p.Fee(amt))
			return
		}
		require.Equal(t, want.Uint64(), p.Fee(amt))
	})
}
