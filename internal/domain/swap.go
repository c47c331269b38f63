package domain

import (
	"math/big"
	"strings"
)

// SwapParams describes a single swap request, optionally followed by a
// liquidity add against an existing position.
type SwapParams struct {
	TokenIn            string   // input token address (hex)
	TokenOut           string   // output token address (hex)
	AmountIn           *big.Int // input amount, smallest denomination
	PoolFee            uint32   // pool fee tier, e.g. 3000 = 0.3%
	MaxSlippageBps     uint64   // slippage floor for the swap leg
	ImpactThresholdBps uint64   // max tolerated price impact
	PositionID         int64    // existing LP position id; 0 = none
}

// SwapResult reports how a swap-and-add-liquidity request was consumed.
// Invariants: AmountInUsed + AmountInUnused == AmountIn of the request;
// AmountOutSpare <= AmountOutReceived.
type SwapResult struct {
	AmountOutReceived *big.Int // output received from the swap leg
	AmountInUsed      *big.Int // input actually swapped
	AmountInUnused    *big.Int // input left over (impact bound or liquidity-add remainder)
	AmountOutSpare    *big.Int // output not consumed by the liquidity add
	LiquidityAdded    *big.Int // liquidity delta from the add leg; zero when skipped
	PriceImpactBps    uint64   // realized price impact estimate
}

// PoolSnapshot is a read-only view of AMM pool state at quote time.
// SqrtPriceX96 is the Q64.96 fixed-point sqrt price; Liquidity is the
// in-range pool liquidity. Nil snapshot or zero liquidity means "no pool".
type PoolSnapshot struct {
	SqrtPriceX96 *big.Int
	Liquidity    *big.Int
}

// CanonicalPair orders two token addresses into (token0, token1).
// The numerically smaller address is token0, matching pool convention.
func CanonicalPair(a, b string) (token0, token1 string) {
	if strings.ToLower(a) < strings.ToLower(b) {
		return a, b
	}
	return b, a
}
