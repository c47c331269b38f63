// Package swapexec orchestrates a price-impact-bounded swap optionally
// followed by a liquidity add, reporting used/unused/spare amounts.
package swapexec

import (
	"context"
	"errors"
	"fmt"
	"math/big"

	"databurn/internal/domain"
	"databurn/internal/pricing"
)

// Executor errors.
var (
	// ErrInvalidTokenPair is returned when tokenIn == tokenOut or either is empty.
	ErrInvalidTokenPair = errors.New("invalid token pair")

	// ErrSwapFailed wraps a router rejection. No state has changed.
	ErrSwapFailed = errors.New("swap failed")

	// ErrLiquidityAddFailed wraps a position-manager rejection.
	ErrLiquidityAddFailed = errors.New("liquidity add failed")
)

// Executor runs swap-and-add-liquidity operations.
type Executor struct {
	pricer    *pricing.Engine
	router    SwapRouter
	liquidity LiquidityManager
}

// Options contains configuration for creating an Executor.
type Options struct {
	Pricer    *pricing.Engine
	Router    SwapRouter
	Liquidity LiquidityManager
}

// NewExecutor creates a swap executor.
func NewExecutor(opts Options) *Executor {
	pricer := opts.Pricer
	if pricer == nil {
		pricer = pricing.NewEngine()
	}
	return &Executor{
		pricer:    pricer,
		router:    opts.Router,
		liquidity: opts.Liquidity,
	}
}

// SwapAndAddLiquidity executes up to two legs:
//  1. Swap the largest impact-bounded sub-amount of params.AmountIn with a
//     slippage floor of expectedOut*(10000-MaxSlippageBps)/10000.
//  2. If params.PositionID is set and both the input remainder and the swap
//     output are nonzero, add liquidity with both remainders.
//
// A zero quote short-circuits: the whole input is reported unused and no
// external call is made. Router and position-manager failures are fatal for
// the operation; the caller owns any compensating rollover.
func (x *Executor) SwapAndAddLiquidity(ctx context.Context, params domain.SwapParams, snap *domain.PoolSnapshot) (*domain.SwapResult, error) {
	if params.TokenIn == "" || params.TokenOut == "" || params.TokenIn == params.TokenOut {
		return nil, ErrInvalidTokenPair
	}
	if params.AmountIn == nil || params.AmountIn.Sign() < 0 {
		return nil, domain.ErrNegativeAmount
	}

	// 1. Quote the swappable amount within the impact threshold.
	quote := x.pricer.QuoteBestSwap(params.AmountIn, params.ImpactThresholdBps, snap)
	if quote.AmountToSwap.Sign() == 0 {
		return &domain.SwapResult{
			AmountOutReceived: new(big.Int),
			AmountInUsed:      new(big.Int),
			AmountInUnused:    new(big.Int).Set(params.AmountIn),
			AmountOutSpare:    new(big.Int),
			LiquidityAdded:    new(big.Int),
			PriceImpactBps:    quote.PriceImpactBps,
		}, nil
	}

	// 2. Execute the swap with the slippage floor.
	minOut, err := domain.ShareBps(quote.ExpectedOut, domain.BpsDenominator-params.MaxSlippageBps)
	if err != nil {
		return nil, fmt.Errorf("compute slippage floor: %w", err)
	}
	amountOut, err := x.router.ExecuteSwap(ctx, params.TokenIn, params.TokenOut, quote.AmountToSwap, minOut)
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrSwapFailed, err)
	}

	result := &domain.SwapResult{
		AmountOutReceived: new(big.Int).Set(amountOut),
		AmountInUsed:      new(big.Int).Set(quote.AmountToSwap),
		AmountInUnused:    new(big.Int).Sub(params.AmountIn, quote.AmountToSwap),
		AmountOutSpare:    new(big.Int),
		LiquidityAdded:    new(big.Int),
		PriceImpactBps:    quote.PriceImpactBps,
	}

	// 3. Liquidity add needs a position and both remainder legs nonzero;
	// otherwise everything received is spare.
	if params.PositionID == 0 || result.AmountInUnused.Sign() == 0 || amountOut.Sign() == 0 {
		result.AmountOutSpare.Set(amountOut)
		return result, nil
	}

	if err := x.addLiquidity(ctx, params, result); err != nil {
		return nil, err
	}
	return result, nil
}

// addLiquidity consumes the input remainder and the swap output against the
// existing position, mapping amounts through canonical token ordering.
func (x *Executor) addLiquidity(ctx context.Context, params domain.SwapParams, result *domain.SwapResult) error {
	token0, _ := domain.CanonicalPair(params.TokenIn, params.TokenOut)

	var amount0, amount1 *big.Int
	if token0 == params.TokenIn {
		amount0, amount1 = result.AmountInUnused, result.AmountOutReceived
	} else {
		amount0, amount1 = result.AmountOutReceived, result.AmountInUnused
	}

	liquidity, amount0Used, amount1Used, err := x.liquidity.IncreaseLiquidity(ctx, params.PositionID, amount0, amount1)
	if err != nil {
		return fmt.Errorf("%w: %v", ErrLiquidityAddFailed, err)
	}

	var inUsed, outUsed *big.Int
	if token0 == params.TokenIn {
		inUsed, outUsed = amount0Used, amount1Used
	} else {
		inUsed, outUsed = amount1Used, amount0Used
	}

	unused, err := domain.SubAmount(result.AmountInUnused, inUsed)
	if err != nil {
		return fmt.Errorf("liquidity consumed more than input remainder: %w", err)
	}
	spare, err := domain.SubAmount(result.AmountOutReceived, outUsed)
	if err != nil {
		return fmt.Errorf("liquidity consumed more than swap output: %w", err)
	}

	// Input consumed by the add counts as used, preserving
	// AmountInUsed + AmountInUnused == AmountIn.
	result.AmountInUsed.Add(result.AmountInUsed, inUsed)
	result.AmountInUnused = unused
	result.AmountOutSpare = spare
	result.LiquidityAdded = new(big.Int).Set(liquidity)
	return nil
}
