// Package pricing computes price-impact-bounded swap quotes.
// All functions are pure: they read an immutable pool snapshot and never
// touch shared state, so callers may quote concurrently.
package pricing

import (
	"math/big"

	"databurn/internal/domain"
)

// fullImpactBps is the saturation value of the impact estimate (100%).
const fullImpactBps = domain.BpsDenominator

// q192 is 2^192, the divisor for squaring a Q64.96 sqrt price.
var q192 = new(big.Int).Lsh(big.NewInt(1), 192)

// Quote is the result of a best-swap computation.
type Quote struct {
	AmountToSwap   *big.Int // maximal amount swappable within the impact threshold
	ExpectedOut    *big.Int // estimated output for AmountToSwap
	PriceImpactBps uint64   // estimated impact of swapping AmountToSwap
}

// Engine quotes swaps against pool snapshots.
type Engine struct{}

// NewEngine creates a pricing engine.
func NewEngine() *Engine {
	return &Engine{}
}

// QuoteBestSwap finds the largest sub-amount of amountIn whose estimated
// price impact stays at or below impactThresholdBps.
//
// The impact model is a saturating linear approximation,
// impact(a) = min(10000, a*10000/liquidity). It is monotonically increasing
// in a, which is the only property the search relies on; a production quoter
// can replace the model without touching the search.
//
// When the full amount passes, it is returned as-is. Otherwise a monotone
// binary search over [0, amountIn] narrows the bracket to within
// max(amountIn/1000, 1) and returns the lower bound, which always passes.
func (e *Engine) QuoteBestSwap(amountIn *big.Int, impactThresholdBps uint64, snap *domain.PoolSnapshot) *Quote {
	if snap == nil || snap.Liquidity == nil || snap.Liquidity.Sign() == 0 {
		// No pool to swap against.
		return &Quote{
			AmountToSwap:   new(big.Int),
			ExpectedOut:    new(big.Int),
			PriceImpactBps: fullImpactBps,
		}
	}
	if amountIn == nil || amountIn.Sign() == 0 {
		return &Quote{
			AmountToSwap:   new(big.Int),
			ExpectedOut:    new(big.Int),
			PriceImpactBps: 0,
		}
	}

	fullImpact := estimateImpactBps(amountIn, snap.Liquidity)
	if fullImpact <= impactThresholdBps {
		return &Quote{
			AmountToSwap:   new(big.Int).Set(amountIn),
			ExpectedOut:    expectedOutput(amountIn, snap.SqrtPriceX96),
			PriceImpactBps: fullImpact,
		}
	}

	best := searchMaxWithinThreshold(amountIn, impactThresholdBps, snap.Liquidity)
	return &Quote{
		AmountToSwap:   best,
		ExpectedOut:    expectedOutput(best, snap.SqrtPriceX96),
		PriceImpactBps: estimateImpactBps(best, snap.Liquidity),
	}
}

// estimateImpactBps returns min(10000, amount*10000/liquidity).
func estimateImpactBps(amount, liquidity *big.Int) uint64 {
	impact := new(big.Int).Mul(amount, big.NewInt(fullImpactBps))
	impact.Quo(impact, liquidity)
	if !impact.IsUint64() || impact.Uint64() > fullImpactBps {
		return fullImpactBps
	}
	return impact.Uint64()
}

// searchMaxWithinThreshold binary-searches [0, amountIn] for the largest
// amount whose impact passes the threshold. The lower bound only ever moves
// to passing midpoints, so the returned value is always valid; the stopping
// precision is 0.1% of amountIn, clamped to at least one unit so tiny
// amounts still iterate instead of exiting on a zero step.
func searchMaxWithinThreshold(amountIn *big.Int, thresholdBps uint64, liquidity *big.Int) *big.Int {
	precision := new(big.Int).Quo(amountIn, big.NewInt(1000))
	if precision.Sign() == 0 {
		precision = big.NewInt(1)
	}

	left := new(big.Int)
	right := new(big.Int).Set(amountIn)
	width := new(big.Int)
	for width.Sub(right, left); width.Cmp(precision) > 0; width.Sub(right, left) {
		mid := new(big.Int).Add(left, right)
		mid.Rsh(mid, 1)
		if estimateImpactBps(mid, liquidity) <= thresholdBps {
			left.Set(mid)
		} else {
			right.Set(mid)
		}
	}
	return left
}

// expectedOutput estimates swap output from the Q64.96 sqrt price:
// out = in * sqrtPriceX96^2 / 2^192. Output scales monotonically with both
// input and price, which is all downstream slippage floors require.
func expectedOutput(amountIn, sqrtPriceX96 *big.Int) *big.Int {
	if sqrtPriceX96 == nil || sqrtPriceX96.Sign() == 0 {
		return new(big.Int)
	}
	out := new(big.Int).Mul(sqrtPriceX96, sqrtPriceX96)
	out.Mul(out, amountIn)
	out.Quo(out, q192)
	return out
}
