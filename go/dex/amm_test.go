package dex

import (
	"testing"

	"github.com/stretchr/testify/require"
)

func TestConstantProductOut(t *testing.T) {
	// 1000 in against 1M/2M reserves at 25 bps fee:
	// inAfterFee = floor(1000 * 9975 / 10000) = 997
	// out = floor(2_000_000 * 997 / (1_000_000 + 997)) = 1992
	require.Equal(t, uint64(1992), constantProductOut(1_000_000, 2_000_000, 1000, 25))

	// No fee: out = floor(2_000_000_000 / 1_001_000) = 1998.
	require.Equal(t, uint64(1998), constantProductOut(1_000_000, 2_000_000, 1000, 0))

	// Output can never reach the full reserve, however large the input.
	var out = constantProductOut(1_000, 1_000, 1<<40, 0)
	require.Less(t, out, uint64(1_000))

	// Degenerate pools price everything at zero.
	require.Zero(t, constantProductOut(0, 2_000_000, 1000, 25))
	require.Zero(t, constantProductOut(1_000_000, 0, 1000, 25))
	require.Zero(t, constantProductOut(1_000_000, 2_000_000, 0, 25))
}

func TestConstantProductOutNoOverflow(t *testing.T) {
	// Products of near-max reserves exceed uint64; the math must not wrap.
	var reserve = uint64(1) << 62
	var out = constantProductOut(reserve, reserve, 1<<40, 30)
	require.NotZero(t, out)
	require.Less(t, out, uint64(1)<<41)
}

func TestApplySlippage(t *testing.T) {
	// floor(123456 * 9900 / 10000) = 122221
	require.Equal(t, uint64(122_221), applySlippage(123_456, 100))
	require.Equal(t, uint64(9_999), applySlippage(10_000, 1))
	require.Equal(t, uint64(0), applySlippage(1, 10_000))
	// Zero estimate floors to zero whatever the bound.
	require.Equal(t, uint64(0), applySlippage(0, 50))
}

func TestSlippageToBps(t *testing.T) {
	require.Equal(t, 100, SlippageToBps(0.01))
	require.Equal(t, 500, SlippageToBps(0.05))
	// Sub-basis-point tolerances floor up to the minimum of one.
	require.Equal(t, 1, SlippageToBps(0.00001))
	require.Equal(t, 1, SlippageToBps(0))
	// And anything above 100% clamps.
	require.Equal(t, 10_000, SlippageToBps(2.0))
}

func TestPriceImpactBps(t *testing.T) {
	// A 10% trade against balanced reserves lands near 910 bps.
	var out = constantProductOut(1_000_000, 1_000_000, 100_000, 0)
	require.Equal(t, uint64(90_909), out)
	require.Equal(t, 910, priceImpactBps(1_000_000, 1_000_000, 100_000, out))

	// A tiny trade shows near-zero impact.
	out = constantProductOut(1_000_000, 1_000_000, 100, 0)
	require.Equal(t, 100, priceImpactBps(1_000_000, 1_000_000, 100, out))

	require.Zero(t, priceImpactBps(0, 1, 1, 1))
}
