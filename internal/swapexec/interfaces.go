package swapexec

import (
	"context"
	"math/big"

	"databurn/internal/domain"
)

// SwapRouter executes swaps against the AMM. Calls are synchronous and
// all-or-nothing: an error means no output was received.
type SwapRouter interface {
	// ExecuteSwap swaps amountIn of tokenIn for tokenOut, failing if the
	// output would fall below minAmountOut. Returns the output received.
	ExecuteSwap(ctx context.Context, tokenIn, tokenOut string, amountIn, minAmountOut *big.Int) (*big.Int, error)
}

// LiquidityManager manages LP positions. Calls are synchronous and
// all-or-nothing.
type LiquidityManager interface {
	// IncreaseLiquidity adds up to (amount0Desired, amount1Desired) to an
	// existing position. Amounts follow canonical token0/token1 ordering.
	// Returns the liquidity delta and the amounts actually consumed.
	IncreaseLiquidity(ctx context.Context, positionID int64, amount0Desired, amount1Desired *big.Int) (liquidity, amount0Used, amount1Used *big.Int, err error)
}

// PoolOracle reads AMM pool state.
type PoolOracle interface {
	// GetPoolSnapshot returns the current snapshot for a pair and fee tier,
	// or nil when no pool exists.
	GetPoolSnapshot(ctx context.Context, tokenA, tokenB string, fee uint32) (*domain.PoolSnapshot, error)
}
