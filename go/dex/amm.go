package dex

import "math/big"

const bpsDenominator = 10_000

// constantProductOut prices amountIn against a constant-product pool,
// charging feeBps on the input side. All arithmetic is exact integer math
// with floor division, matching on-chain program behavior:
//
//	inAfterFee = amountIn * (10000 - feeBps) / 10000
//	out        = reserveOut * inAfterFee / (reserveIn + inAfterFee)
//
// A pool with an empty reserve prices everything at zero.
func constantProductOut(reserveIn, reserveOut, amountIn uint64, feeBps int) uint64 {
	if reserveIn == 0 || reserveOut == 0 || amountIn == 0 {
		return 0
	}
	var in = new(big.Int).SetUint64(amountIn)
	in.Mul(in, big.NewInt(int64(bpsDenominator-feeBps)))
	in.Div(in, big.NewInt(bpsDenominator))

	var num = new(big.Int).SetUint64(reserveOut)
	num.Mul(num, in)
	var den = new(big.Int).SetUint64(reserveIn)
	den.Add(den, in)

	return num.Div(num, den).Uint64()
}

// applySlippage floors the slippage-adjusted minimum output:
// minOut = floor(estimated * (10000 - slippageBps) / 10000).
func applySlippage(estimated uint64, slippageBps int) uint64 {
	var v = new(big.Int).SetUint64(estimated)
	v.Mul(v, big.NewInt(int64(bpsDenominator-slippageBps)))
	v.Div(v, big.NewInt(bpsDenominator))
	return v.Uint64()
}

// SlippageToBps converts a fractional slippage tolerance (0.01 == 1%) to
// basis points, flooring, with a minimum of one basis point.
func SlippageToBps(slippage float64) int {
	var bps = int(slippage * bpsDenominator)
	if bps < 1 {
		return 1
	}
	if bps > bpsDenominator {
		return bpsDenominator
	}
	return bps
}

// priceImpactBps measures how far the executed price falls below the
// pool's spot price, in basis points, clamped to [0, 10000].
func priceImpactBps(reserveIn, reserveOut, amountIn, out uint64) int {
	if reserveIn == 0 || reserveOut == 0 || amountIn == 0 || out == 0 {
		return 0
	}
	// impact = 1 - (out/amountIn) / (reserveOut/reserveIn)
	//        = 1 - out*reserveIn / (amountIn*reserveOut)
	var num = new(big.Int).SetUint64(out)
	num.Mul(num, new(big.Int).SetUint64(reserveIn))
	num.Mul(num, big.NewInt(bpsDenominator))

	var den = new(big.Int).SetUint64(amountIn)
	den.Mul(den, new(big.Int).SetUint64(reserveOut))

	var ratio = num.Div(num, den).Int64()
	var impact = int(int64(bpsDenominator) - ratio)
	if impact < 0 {
		return 0
	}
	if impact > bpsDenominator {
		return bpsDenominator
	}
	return impact
}
