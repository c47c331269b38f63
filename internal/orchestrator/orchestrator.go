// Package orchestrator drives the epoch-gated buy-and-burn cycle:
// drain pending funds → impact-bounded swap → cost skim → burn → advance epoch.
package orchestrator

import (
	"context"
	"errors"
	"fmt"
	"log"
	"math/big"
	"sync"
	"time"

	"databurn/internal/audit"
	"databurn/internal/auth"
	"databurn/internal/domain"
	"databurn/internal/ledger"
	"databurn/internal/observability"
	"databurn/internal/registry"
	"databurn/internal/storage"
	"databurn/internal/swapexec"
	"databurn/internal/treasury"
)

// Orchestrator errors.
var (
	// ErrExecutionTooSoon is returned when the epoch cadence has not elapsed.
	ErrExecutionTooSoon = errors.New("execution too soon")
)

// TokenTransferrer moves token balances on the ledger substrate. Calls are
// synchronous and all-or-nothing.
type TokenTransferrer interface {
	Transfer(ctx context.Context, token, to string, amount *big.Int) error
}

// BlockSource reports the current block height.
type BlockSource interface {
	CurrentBlock(ctx context.Context) (int64, error)
}

// Params is the admin-mutable configuration surface. All bps fields are
// bounded to [0, 10000].
type Params struct {
	USDCAddress        string
	VANAAddress        string
	PoolFee            uint32
	CostSkimBps        uint64
	MaxSlippageBps     uint64
	ImpactThresholdBps uint64
	EpochBlockCadence  int64
	ComputeSinkAddress string
	BurnAddress        string
}

// validate rejects malformed parameter sets.
func (p *Params) validate() error {
	if p.USDCAddress == "" || p.VANAAddress == "" || p.USDCAddress == p.VANAAddress {
		return errors.New("params require two distinct asset addresses")
	}
	if !domain.ValidBps(p.CostSkimBps) || !domain.ValidBps(p.MaxSlippageBps) || !domain.ValidBps(p.ImpactThresholdBps) {
		return domain.ErrInvalidBasisPoints
	}
	if p.EpochBlockCadence <= 0 {
		return errors.New("epoch block cadence must be positive")
	}
	if p.ComputeSinkAddress == "" || p.BurnAddress == "" {
		return errors.New("params require compute sink and burn addresses")
	}
	return nil
}

// Orchestrator owns the accounting state machine. All mutating entry points
// are serialized on an internal mutex: the drain-then-act pattern is unsafe
// under interleaving.
type Orchestrator struct {
	mu sync.Mutex

	ledger    *ledger.FundSplitLedger
	executor  *swapexec.Executor
	treasury  *treasury.Treasury
	registry  registry.DlpRegistry
	oracle    swapexec.PoolOracle
	transfers TokenTransferrer
	recorder  audit.Recorder
	auth      auth.Authorizer
	epochs    storage.EpochStore
	metrics   *observability.Metrics
	logger    *log.Logger

	params Params

	currentEpoch       int64
	lastExecutionBlock int64
}

// Options contains collaborators and configuration for creating an
// Orchestrator. Ledger, Executor, Treasury, Registry, Oracle and Transfers
// are required; the rest default to no-ops.
type Options struct {
	Ledger    *ledger.FundSplitLedger
	Executor  *swapexec.Executor
	Treasury  *treasury.Treasury
	Registry  registry.DlpRegistry
	Oracle    swapexec.PoolOracle
	Transfers TokenTransferrer
	Recorder  audit.Recorder
	Auth      auth.Authorizer
	Epochs    storage.EpochStore
	Metrics   *observability.Metrics
	Logger    *log.Logger

	Params Params

	// InitialEpoch seeds the epoch counter when resuming; 0 starts fresh.
	InitialEpoch int64
	// InitialLastExecutionBlock seeds the cadence gate when resuming.
	InitialLastExecutionBlock int64
}

// New creates an orchestrator.
func New(opts Options) (*Orchestrator, error) {
	if err := opts.Params.validate(); err != nil {
		return nil, err
	}
	if opts.Ledger == nil || opts.Executor == nil || opts.Treasury == nil ||
		opts.Registry == nil || opts.Oracle == nil || opts.Transfers == nil {
		return nil, errors.New("orchestrator requires ledger, executor, treasury, registry, oracle and transfers")
	}
	recorder := opts.Recorder
	if recorder == nil {
		recorder = audit.NewNoopRecorder()
	}
	authorizer := opts.Auth
	if authorizer == nil {
		authorizer = auth.AllowAll{}
	}
	logger := opts.Logger
	if logger == nil {
		logger = log.Default()
	}
	return &Orchestrator{
		ledger:             opts.Ledger,
		executor:           opts.Executor,
		treasury:           opts.Treasury,
		registry:           opts.Registry,
		oracle:             opts.Oracle,
		transfers:          opts.Transfers,
		recorder:           recorder,
		auth:               authorizer,
		epochs:             opts.Epochs,
		metrics:            opts.Metrics,
		logger:             logger,
		params:             opts.Params,
		currentEpoch:       opts.InitialEpoch,
		lastExecutionBlock: opts.InitialLastExecutionBlock,
	}, nil
}

// CurrentEpoch returns the epoch counter.
func (o *Orchestrator) CurrentEpoch() int64 {
	o.mu.Lock()
	defer o.mu.Unlock()
	return o.currentEpoch
}

// ProtocolShareResult summarizes one protocol-share execution.
type ProtocolShareResult struct {
	Epoch      int64
	SwappedIn  *big.Int // USDC actually swapped
	RolledOver *big.Int // USDC returned to pending for the next cycle
	Burned     *big.Int // VANA sent to the burn address
	Skimmed    *big.Int // VANA diverted to the compute sink
}

// ExecuteProtocolShare runs one protocol-share cycle and advances the epoch.
// Steps:
//  1. Cadence gate against lastExecutionBlock.
//  2. Drain protocol USDC, swap USDC→VANA (no LP position), roll unused back.
//  3. Drain protocol VANA and burn it together with the swap proceeds,
//     skimming costSkimBps to the compute sink first.
//  4. Advance the epoch counter and record the summary event.
func (o *Orchestrator) ExecuteProtocolShare(ctx context.Context, caller auth.Principal, currentBlock int64) (*ProtocolShareResult, error) {
	if err := o.auth.Require(caller, auth.CapabilityExecutor); err != nil {
		return nil, err
	}

	o.mu.Lock()
	defer o.mu.Unlock()

	// 1. Cadence gate.
	if currentBlock < o.lastExecutionBlock+o.params.EpochBlockCadence {
		return nil, fmt.Errorf("%w: block %d, next execution at %d",
			ErrExecutionTooSoon, currentBlock, o.lastExecutionBlock+o.params.EpochBlockCadence)
	}

	result := &ProtocolShareResult{
		SwappedIn:  new(big.Int),
		RolledOver: new(big.Int),
		Burned:     new(big.Int),
		Skimmed:    new(big.Int),
	}

	// 2. Drain and swap the pending USDC. The protocol path never tracks an
	// LP position, so all swap output is spare.
	usdc, err := o.ledger.DrainProtocol(o.params.USDCAddress)
	if err != nil {
		return nil, err
	}
	vanaFromSwap := new(big.Int)
	if usdc.Sign() > 0 {
		swapRes, err := o.swapLeg(ctx, o.params.USDCAddress, o.params.VANAAddress, usdc, 0)
		if err != nil {
			// Compensate the drain before surfacing the failure.
			if rbErr := o.ledger.RolloverProtocol(o.params.USDCAddress, usdc); rbErr != nil {
				return nil, fmt.Errorf("rollback after swap failure: %v (original: %w)", rbErr, err)
			}
			return nil, err
		}
		if err := o.ledger.RolloverProtocol(o.params.USDCAddress, swapRes.AmountInUnused); err != nil {
			return nil, fmt.Errorf("rollover unused usdc: %w", err)
		}
		result.SwappedIn.Set(swapRes.AmountInUsed)
		result.RolledOver.Set(swapRes.AmountInUnused)
		vanaFromSwap.Set(swapRes.AmountOutSpare)
	}

	// 3. Burn swap proceeds together with directly deposited VANA.
	vanaPending, err := o.ledger.DrainProtocol(o.params.VANAAddress)
	if err != nil {
		return nil, err
	}
	total := new(big.Int).Add(vanaFromSwap, vanaPending)
	burned, skimmed, unsent, err := o.burnWithSkim(ctx, o.params.VANAAddress, total)
	if err != nil {
		// Compensate with what is actually still held, not the drained
		// total: the skim may already have reached the sink.
		if rbErr := o.ledger.RolloverProtocol(o.params.VANAAddress, unsent); rbErr != nil {
			return nil, fmt.Errorf("rollback after burn failure: %v (original: %w)", rbErr, err)
		}
		return nil, err
	}
	result.Burned = burned
	result.Skimmed = skimmed

	// 4. Advance the epoch.
	o.currentEpoch++
	o.lastExecutionBlock = currentBlock
	result.Epoch = o.currentEpoch

	if o.epochs != nil {
		epoch := &domain.Epoch{
			ID:                o.currentEpoch,
			StartBlock:        currentBlock,
			EndBlock:          currentBlock + o.params.EpochBlockCadence,
			TotalRewardAmount: new(big.Int),
			CreatedAt:         time.Now().UnixMilli(),
		}
		if err := o.epochs.Insert(ctx, epoch); err != nil && !errors.Is(err, storage.ErrDuplicateKey) {
			return nil, fmt.Errorf("persist epoch %d: %w", o.currentEpoch, err)
		}
	}

	if o.metrics != nil {
		o.metrics.EpochsAdvanced.Inc()
		o.metrics.ObserveBurn(burned, skimmed)
		o.metrics.LastSuccessfulExecution.SetToCurrentTime()
	}
	o.logger.Printf("[INFO] protocol share executed: epoch=%d swapped=%s burned=%s skimmed=%s rollover=%s",
		result.Epoch, result.SwappedIn, result.Burned, result.Skimmed, result.RolledOver)

	ev := &domain.AuditEvent{
		EventType:       domain.EventProtocolShareExecuted,
		Timestamp:       time.Now().UnixMilli(),
		Epoch:           result.Epoch,
		Asset:           o.params.VANAAddress,
		Amount:          result.Burned.String(),
		AmountSecondary: result.Skimmed.String(),
	}
	if err := o.recorder.Record(ctx, ev); err != nil {
		return nil, fmt.Errorf("record protocol share: %w", err)
	}
	return result, nil
}

// EntityShareOutcome is one entity's result from a DLP-share run.
type EntityShareOutcome struct {
	EntityID       int64
	Burned         *big.Int
	Skimmed        *big.Int
	LiquidityAdded *big.Int
	Err            string // empty on success
}

// DLPShareResult summarizes one DLP-share batch.
type DLPShareResult struct {
	Processed int
	Failed    int
	Entities  []*EntityShareOutcome
}

// ExecuteDLPShare processes each entity's pending share independently.
// A failing entity rolls its drained funds back into its pending balances
// and is reported in its outcome; the batch continues with the next entity.
func (o *Orchestrator) ExecuteDLPShare(ctx context.Context, caller auth.Principal, currentBlock int64, entityIDs []int64) (*DLPShareResult, error) {
	if err := o.auth.Require(caller, auth.CapabilityExecutor); err != nil {
		return nil, err
	}

	o.mu.Lock()
	defer o.mu.Unlock()

	result := &DLPShareResult{}
	for _, entityID := range entityIDs {
		outcome := o.processEntityShare(ctx, entityID)
		result.Entities = append(result.Entities, outcome)
		if outcome.Err != "" {
			result.Failed++
			if o.metrics != nil {
				o.metrics.DLPShareErrors.Inc()
			}
			o.logger.Printf("[WARN] dlp share failed for entity %d: %s", entityID, outcome.Err)
			continue
		}
		result.Processed++
	}

	ev := &domain.AuditEvent{
		EventType: domain.EventDLPShareExecuted,
		Timestamp: time.Now().UnixMilli(),
		Epoch:     o.currentEpoch,
		Detail:    fmt.Sprintf("processed=%d failed=%d block=%d", result.Processed, result.Failed, currentBlock),
	}
	if err := o.recorder.Record(ctx, ev); err != nil {
		return result, fmt.Errorf("record dlp share: %w", err)
	}
	return result, nil
}

// processEntityShare runs the per-entity pipeline. Caller must hold o.mu.
func (o *Orchestrator) processEntityShare(ctx context.Context, entityID int64) *EntityShareOutcome {
	outcome := &EntityShareOutcome{
		EntityID:       entityID,
		Burned:         new(big.Int),
		Skimmed:        new(big.Int),
		LiquidityAdded: new(big.Int),
	}

	entry, err := o.registry.Lookup(ctx, entityID)
	if err != nil {
		outcome.Err = fmt.Sprintf("registry lookup: %v", err)
		return outcome
	}

	// Fallback: no associated token → burn pending VANA directly.
	if !entry.HasToken() {
		vana, err := o.ledger.DrainEntity(entityID, o.params.VANAAddress)
		if err != nil {
			outcome.Err = err.Error()
			return outcome
		}
		burned, skimmed, unsent, err := o.burnWithSkim(ctx, o.params.VANAAddress, vana)
		if err != nil {
			o.rollbackEntity(entityID, o.params.VANAAddress, unsent, outcome, err)
			return outcome
		}
		outcome.Burned = burned
		outcome.Skimmed = skimmed
		return outcome
	}

	// Leg 1: USDC → VANA, no LP position on this leg.
	usdc, err := o.ledger.DrainEntity(entityID, o.params.USDCAddress)
	if err != nil {
		outcome.Err = err.Error()
		return outcome
	}
	vanaFromSwap := new(big.Int)
	if usdc.Sign() > 0 {
		swapRes, err := o.swapLeg(ctx, o.params.USDCAddress, o.params.VANAAddress, usdc, 0)
		if err != nil {
			o.rollbackEntity(entityID, o.params.USDCAddress, usdc, outcome, err)
			return outcome
		}
		if err := o.ledger.RolloverEntity(entityID, o.params.USDCAddress, swapRes.AmountInUnused); err != nil {
			outcome.Err = fmt.Sprintf("rollover unused usdc: %v", err)
			return outcome
		}
		vanaFromSwap.Set(swapRes.AmountOutSpare)
	}

	// Leg 2: VANA → entity token against the entity's LP position; only the
	// post-liquidity spare is burned.
	vanaPending, err := o.ledger.DrainEntity(entityID, o.params.VANAAddress)
	if err != nil {
		outcome.Err = err.Error()
		return outcome
	}
	vanaTotal := new(big.Int).Add(vanaFromSwap, vanaPending)
	spare := new(big.Int)
	if vanaTotal.Sign() > 0 {
		swapRes, err := o.swapLeg(ctx, o.params.VANAAddress, entry.TokenAddress, vanaTotal, entry.LpPositionID)
		if err != nil {
			o.rollbackEntity(entityID, o.params.VANAAddress, vanaTotal, outcome, err)
			return outcome
		}
		if err := o.ledger.RolloverEntity(entityID, o.params.VANAAddress, swapRes.AmountInUnused); err != nil {
			outcome.Err = fmt.Sprintf("rollover unused vana: %v", err)
			return outcome
		}

		if swapRes.LiquidityAdded.Sign() > 0 {
			if err := o.treasury.TrackLiquidityContribution(ctx, entityID, swapRes.LiquidityAdded); err != nil {
				outcome.Err = fmt.Sprintf("track contribution: %v", err)
				return outcome
			}
			outcome.LiquidityAdded.Set(swapRes.LiquidityAdded)
			ev := &domain.AuditEvent{
				EventType: domain.EventLiquidityAdded,
				Timestamp: time.Now().UnixMilli(),
				EntityID:  entityID,
				Asset:     entry.TokenAddress,
				Amount:    swapRes.LiquidityAdded.String(),
			}
			if err := o.recorder.Record(ctx, ev); err != nil {
				outcome.Err = fmt.Sprintf("record liquidity added: %v", err)
				return outcome
			}
		}
		spare.Set(swapRes.AmountOutSpare)
	}

	// Entity tokens left over from a previously failed burn are retried
	// together with this cycle's spare, even when there was nothing new
	// to swap.
	tokenPending, err := o.ledger.DrainEntity(entityID, entry.TokenAddress)
	if err != nil {
		outcome.Err = err.Error()
		return outcome
	}
	burnTotal := new(big.Int).Add(spare, tokenPending)
	if burnTotal.Sign() == 0 {
		return outcome
	}

	burned, skimmed, unsent, err := o.burnWithSkim(ctx, entry.TokenAddress, burnTotal)
	if err != nil {
		o.rollbackEntity(entityID, entry.TokenAddress, unsent, outcome, fmt.Errorf("burn entity token: %w", err))
		return outcome
	}
	outcome.Burned = burned
	outcome.Skimmed = skimmed
	return outcome
}

// DistributeTreasury swaps the listed entities' pooled treasury USDC into
// VANA and distributes the proceeds proportionally to their liquidity
// contribution. Steps:
//  1. Snapshot the pooled USDC; nothing to do when it is zero.
//  2. Swap USDC→VANA through the impact-bounded executor (no LP position).
//  3. Settle the swap through the treasury: each entity's share of the
//     consumed USDC is deducted, its share of the proceeds credited.
func (o *Orchestrator) DistributeTreasury(ctx context.Context, caller auth.Principal, entityIDs []int64) ([]*treasury.DistributionShare, error) {
	if err := o.auth.Require(caller, auth.CapabilityExecutor); err != nil {
		return nil, err
	}

	o.mu.Lock()
	defer o.mu.Unlock()

	// Both guards run before the swap: a distribution that cannot settle
	// must not consume any USDC.
	if o.treasury.TotalContribution().Sign() == 0 {
		return nil, treasury.ErrNoLiquidityToDistribute
	}
	pool := o.treasury.PooledUSDC(entityIDs)
	if pool.Sign() == 0 {
		return nil, nil
	}

	swapRes, err := o.swapLeg(ctx, o.params.USDCAddress, o.params.VANAAddress, pool, 0)
	if err != nil {
		return nil, err
	}
	if swapRes.AmountInUsed.Sign() == 0 {
		return nil, nil
	}

	shares, err := o.treasury.DistributeVANA(ctx, entityIDs, swapRes.AmountOutSpare, swapRes.AmountInUsed)
	if err != nil {
		return nil, fmt.Errorf("settle distribution: %w", err)
	}

	if o.metrics != nil {
		o.metrics.RewardDistributions.Inc()
	}
	o.logger.Printf("[INFO] treasury distribution: entities=%d swapped=%s proceeds=%s",
		len(shares), swapRes.AmountInUsed, swapRes.AmountOutSpare)
	return shares, nil
}

// rollbackEntity compensates a drained balance after a failed external call.
func (o *Orchestrator) rollbackEntity(entityID int64, asset string, amount *big.Int, outcome *EntityShareOutcome, cause error) {
	if rbErr := o.ledger.RolloverEntity(entityID, asset, amount); rbErr != nil {
		outcome.Err = fmt.Sprintf("rollback %s after failure: %v (original: %v)", asset, rbErr, cause)
		return
	}
	outcome.Err = cause.Error()
}

// swapLeg quotes the pool and runs one swap-and-add-liquidity operation.
func (o *Orchestrator) swapLeg(ctx context.Context, tokenIn, tokenOut string, amountIn *big.Int, positionID int64) (*domain.SwapResult, error) {
	snap, err := o.oracle.GetPoolSnapshot(ctx, tokenIn, tokenOut, o.params.PoolFee)
	if err != nil {
		return nil, fmt.Errorf("pool snapshot %s/%s: %w", tokenIn, tokenOut, err)
	}

	params := domain.SwapParams{
		TokenIn:            tokenIn,
		TokenOut:           tokenOut,
		AmountIn:           amountIn,
		PoolFee:            o.params.PoolFee,
		MaxSlippageBps:     o.params.MaxSlippageBps,
		ImpactThresholdBps: o.params.ImpactThresholdBps,
		PositionID:         positionID,
	}
	res, err := o.executor.SwapAndAddLiquidity(ctx, params, snap)
	if err != nil {
		if o.metrics != nil {
			o.metrics.SwapFailures.Inc()
		}
		return nil, err
	}
	if o.metrics != nil && res.AmountInUsed.Sign() > 0 {
		o.metrics.SwapsExecuted.Inc()
	}
	if res.AmountInUsed.Sign() > 0 {
		ev := &domain.AuditEvent{
			EventType:       domain.EventSwapExecuted,
			Timestamp:       time.Now().UnixMilli(),
			Asset:           tokenIn,
			Amount:          res.AmountInUsed.String(),
			AmountSecondary: res.AmountOutReceived.String(),
			Detail:          fmt.Sprintf("impact_bps=%d", res.PriceImpactBps),
		}
		if err := o.recorder.Record(ctx, ev); err != nil {
			return nil, fmt.Errorf("record swap: %w", err)
		}
	}
	return res, nil
}

// burnWithSkim diverts costSkimBps of total to the compute sink and sends
// the remainder to the burn address. Zero-amount transfers are skipped, not
// failed. burned + skimmed == total exactly.
//
// On failure, unsent is the portion of total still held. The caller must
// compensate with exactly that amount: the skim may already have left for
// the sink, and rolling the full total back would let the next cycle pay
// the skim out a second time.
func (o *Orchestrator) burnWithSkim(ctx context.Context, token string, total *big.Int) (burned, skimmed, unsent *big.Int, err error) {
	skimmed, burned, err = domain.SplitBps(total, o.params.CostSkimBps)
	if err != nil {
		return nil, nil, total, err
	}
	if skimmed.Sign() > 0 {
		if err := o.transfers.Transfer(ctx, token, o.params.ComputeSinkAddress, skimmed); err != nil {
			return nil, nil, total, fmt.Errorf("transfer skim: %w", err)
		}
	}
	if burned.Sign() > 0 {
		if err := o.transfers.Transfer(ctx, token, o.params.BurnAddress, burned); err != nil {
			return nil, nil, burned, fmt.Errorf("transfer burn: %w", err)
		}
	}
	return burned, skimmed, new(big.Int), nil
}
