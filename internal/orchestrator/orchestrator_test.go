package orchestrator

import (
	"context"
	"errors"
	"fmt"
	"math/big"
	"testing"

	"databurn/internal/audit"
	"databurn/internal/auth"
	"databurn/internal/domain"
	"databurn/internal/ledger"
	"databurn/internal/registry"
	"databurn/internal/swapexec"
	"databurn/internal/treasury"
)

const (
	usdcAddr  = "0xaaaa"
	vanaAddr  = "0xbbbb"
	tokenAddr = "0xcccc"
	sinkAddr  = "0xs1nk"
	burnAddr  = "0xdead"
)

// fakeRouter swaps 1:1 and can be forced to fail.
type fakeRouter struct {
	failErr error
	calls   int
}

func (r *fakeRouter) ExecuteSwap(_ context.Context, _, _ string, amountIn, _ *big.Int) (*big.Int, error) {
	r.calls++
	if r.failErr != nil {
		return nil, r.failErr
	}
	return new(big.Int).Set(amountIn), nil
}

// fakeLiquidity consumes fixed amounts per call.
type fakeLiquidity struct {
	liquidity   int64
	amount0Used int64
	amount1Used int64
	calls       int
}

func (l *fakeLiquidity) IncreaseLiquidity(_ context.Context, _ int64, _, _ *big.Int) (*big.Int, *big.Int, *big.Int, error) {
	l.calls++
	return big.NewInt(l.liquidity), big.NewInt(l.amount0Used), big.NewInt(l.amount1Used), nil
}

// fakeOracle reports per-pair pool depth at a 1:1 price.
type fakeOracle struct {
	liquidity map[string]int64 // key: token0|token1
}

func pairKey(a, b string) string {
	t0, t1 := domain.CanonicalPair(a, b)
	return t0 + "|" + t1
}

func (o *fakeOracle) GetPoolSnapshot(_ context.Context, tokenA, tokenB string, _ uint32) (*domain.PoolSnapshot, error) {
	liq, ok := o.liquidity[pairKey(tokenA, tokenB)]
	if !ok {
		return nil, fmt.Errorf("no pool for %s/%s", tokenA, tokenB)
	}
	return &domain.PoolSnapshot{
		SqrtPriceX96: new(big.Int).Lsh(big.NewInt(1), 96), // 1:1
		Liquidity:    big.NewInt(liq),
	}, nil
}

type transferCall struct {
	token  string
	to     string
	amount *big.Int
}

type fakeTransfers struct {
	failErr error
	failTo  map[string]error // fail only transfers to these destinations
	calls   []transferCall
}

func (t *fakeTransfers) Transfer(_ context.Context, token, to string, amount *big.Int) error {
	if t.failErr != nil {
		return t.failErr
	}
	if err := t.failTo[to]; err != nil {
		return err
	}
	t.calls = append(t.calls, transferCall{token, to, new(big.Int).Set(amount)})
	return nil
}

func (t *fakeTransfers) sentTo(addr string) *big.Int {
	total := new(big.Int)
	for _, c := range t.calls {
		if c.to == addr {
			total.Add(total, c.amount)
		}
	}
	return total
}

// failingRegistry errors for configured entities and delegates otherwise.
type failingRegistry struct {
	inner *registry.StaticRegistry
	fail  map[int64]bool
}

func (r *failingRegistry) Lookup(ctx context.Context, entityID int64) (*registry.Entry, error) {
	if r.fail[entityID] {
		return nil, errors.New("registry unavailable")
	}
	return r.inner.Lookup(ctx, entityID)
}

type fixture struct {
	ledger    *ledger.FundSplitLedger
	treasury  *treasury.Treasury
	router    *fakeRouter
	liq       *fakeLiquidity
	transfers *fakeTransfers
	recorder  *audit.MemoryRecorder
	orch      *Orchestrator
}

func newFixture(t *testing.T, usdcVanaLiq, vanaTokenLiq int64, reg registry.DlpRegistry) *fixture {
	t.Helper()

	recorder := audit.NewMemoryRecorder()
	l, err := ledger.New(ledger.Options{
		USDCAddress:      usdcAddr,
		VANAAddress:      vanaAddr,
		ProtocolShareBps: 2000,
		Recorder:         recorder,
	})
	if err != nil {
		t.Fatalf("new ledger: %v", err)
	}

	router := &fakeRouter{}
	liq := &fakeLiquidity{}
	executor := swapexec.NewExecutor(swapexec.Options{Router: router, Liquidity: liq})
	transfers := &fakeTransfers{}
	tr := treasury.New(recorder)

	if reg == nil {
		reg = registry.NewStaticRegistry(nil)
	}

	orch, err := New(Options{
		Ledger:    l,
		Executor:  executor,
		Treasury:  tr,
		Registry:  reg,
		Oracle:    &fakeOracle{liquidity: map[string]int64{pairKey(usdcAddr, vanaAddr): usdcVanaLiq, pairKey(vanaAddr, tokenAddr): vanaTokenLiq}},
		Transfers: transfers,
		Recorder:  recorder,
		Params: Params{
			USDCAddress:        usdcAddr,
			VANAAddress:        vanaAddr,
			PoolFee:            3000,
			CostSkimBps:        500,
			MaxSlippageBps:     200,
			ImpactThresholdBps: 500,
			EpochBlockCadence:  100,
			ComputeSinkAddress: sinkAddr,
			BurnAddress:        burnAddr,
		},
	})
	if err != nil {
		t.Fatalf("new orchestrator: %v", err)
	}
	return &fixture{ledger: l, treasury: tr, router: router, liq: liq, transfers: transfers, recorder: recorder, orch: orch}
}

func receive(t *testing.T, f *fixture, asset string, amount int64, entityID int64) {
	t.Helper()
	if _, _, err := f.ledger.ReceiveFunds(context.Background(), asset, big.NewInt(amount), entityID); err != nil {
		t.Fatalf("receive funds: %v", err)
	}
}

func TestExecuteProtocolShare_SwapAndBurn(t *testing.T) {
	f := newFixture(t, 1_000_000, 1_000_000, nil)
	receive(t, f, usdcAddr, 1000, 7) // protocol 200, entity 800

	res, err := f.orch.ExecuteProtocolShare(context.Background(), "executor", 100)
	if err != nil {
		t.Fatalf("execute protocol share: %v", err)
	}

	if res.Epoch != 1 {
		t.Errorf("expected epoch 1, got %d", res.Epoch)
	}
	if res.SwappedIn.Int64() != 200 {
		t.Errorf("expected 200 swapped, got %s", res.SwappedIn)
	}
	// 200 VANA out: skim 200*500/10000 = 10, burn 190.
	if res.Skimmed.Int64() != 10 {
		t.Errorf("expected skim 10, got %s", res.Skimmed)
	}
	if res.Burned.Int64() != 190 {
		t.Errorf("expected burn 190, got %s", res.Burned)
	}
	if got := f.transfers.sentTo(sinkAddr); got.Int64() != 10 {
		t.Errorf("expected 10 sent to compute sink, got %s", got)
	}
	if got := f.transfers.sentTo(burnAddr); got.Int64() != 190 {
		t.Errorf("expected 190 sent to burn address, got %s", got)
	}
	if events := f.recorder.ByType(domain.EventProtocolShareExecuted); len(events) != 1 {
		t.Errorf("expected 1 protocol share event, got %d", len(events))
	}
}

func TestExecuteProtocolShare_CadenceGate(t *testing.T) {
	f := newFixture(t, 1_000_000, 1_000_000, nil)
	receive(t, f, usdcAddr, 1000, 7)

	if _, err := f.orch.ExecuteProtocolShare(context.Background(), "executor", 100); err != nil {
		t.Fatalf("first execution: %v", err)
	}

	// Cadence 100, last execution at 100: blocks below 200 are gated.
	if _, err := f.orch.ExecuteProtocolShare(context.Background(), "executor", 150); !errors.Is(err, ErrExecutionTooSoon) {
		t.Fatalf("expected ErrExecutionTooSoon, got %v", err)
	}

	if res, err := f.orch.ExecuteProtocolShare(context.Background(), "executor", 200); err != nil {
		t.Fatalf("execution after cadence: %v", err)
	} else if res.Epoch != 2 {
		t.Errorf("expected epoch 2, got %d", res.Epoch)
	}
}

func TestExecuteProtocolShare_PartialSwapRollsOver(t *testing.T) {
	// Pool depth 100 with a 500 bps threshold bounds the swap to 5.
	f := newFixture(t, 100, 100, nil)
	receive(t, f, usdcAddr, 1000, 7) // protocol 200

	res, err := f.orch.ExecuteProtocolShare(context.Background(), "executor", 100)
	if err != nil {
		t.Fatalf("execute protocol share: %v", err)
	}

	if res.SwappedIn.Int64() != 5 {
		t.Errorf("expected 5 swapped, got %s", res.SwappedIn)
	}
	if res.RolledOver.Int64() != 195 {
		t.Errorf("expected 195 rolled over, got %s", res.RolledOver)
	}
	pending, err := f.ledger.PendingProtocol(usdcAddr)
	if err != nil {
		t.Fatal(err)
	}
	if pending.Int64() != 195 {
		t.Errorf("expected 195 pending for next cycle, got %s", pending)
	}
	// 5 out: skim floors to 0, everything burns.
	if res.Skimmed.Sign() != 0 || res.Burned.Int64() != 5 {
		t.Errorf("expected 0 skimmed / 5 burned, got %s / %s", res.Skimmed, res.Burned)
	}
}

func TestExecuteProtocolShare_SwapFailureRestoresPending(t *testing.T) {
	f := newFixture(t, 1_000_000, 1_000_000, nil)
	receive(t, f, usdcAddr, 1000, 7)
	f.router.failErr = errors.New("router down")

	if _, err := f.orch.ExecuteProtocolShare(context.Background(), "executor", 100); err == nil {
		t.Fatal("expected swap failure to surface")
	}

	pending, err := f.ledger.PendingProtocol(usdcAddr)
	if err != nil {
		t.Fatal(err)
	}
	if pending.Int64() != 200 {
		t.Errorf("expected pending restored to 200, got %s", pending)
	}
	if f.orch.CurrentEpoch() != 0 {
		t.Errorf("epoch advanced despite failure: %d", f.orch.CurrentEpoch())
	}
}

func TestExecuteProtocolShare_BurnFailureKeepsSkimOut(t *testing.T) {
	// The skim reaches the sink before the burn; a burn failure must roll
	// back only what is still held, or the next cycle pays the skim twice.
	f := newFixture(t, 1_000_000, 1_000_000, nil)
	receive(t, f, usdcAddr, 1000, 7) // protocol 200
	f.transfers.failTo = map[string]error{burnAddr: errors.New("burn transfer reverted")}

	if _, err := f.orch.ExecuteProtocolShare(context.Background(), "executor", 100); err == nil {
		t.Fatal("expected burn failure to surface")
	}

	// 200 VANA out: skim 10 already left, 190 rolled back.
	if got := f.transfers.sentTo(sinkAddr); got.Int64() != 10 {
		t.Fatalf("expected 10 at the sink after failure, got %s", got)
	}
	pending, err := f.ledger.PendingProtocol(vanaAddr)
	if err != nil {
		t.Fatal(err)
	}
	if pending.Int64() != 190 {
		t.Errorf("expected 190 pending after failed burn, got %s", pending)
	}
	if f.orch.CurrentEpoch() != 0 {
		t.Errorf("epoch advanced despite failure: %d", f.orch.CurrentEpoch())
	}

	// The retry burns only the rolled-back remainder.
	f.transfers.failTo = nil
	res, err := f.orch.ExecuteProtocolShare(context.Background(), "executor", 100)
	if err != nil {
		t.Fatalf("retry execution: %v", err)
	}
	if res.Skimmed.Int64() != 9 || res.Burned.Int64() != 181 {
		t.Errorf("expected 9 skimmed / 181 burned on retry, got %s / %s", res.Skimmed, res.Burned)
	}
	// Across both cycles exactly the original 200 left the ledger.
	if got := f.transfers.sentTo(sinkAddr); got.Int64() != 19 {
		t.Errorf("expected 19 total at the sink, got %s", got)
	}
	if got := f.transfers.sentTo(burnAddr); got.Int64() != 181 {
		t.Errorf("expected 181 total burned, got %s", got)
	}
}

func TestExecuteProtocolShare_Unauthorized(t *testing.T) {
	f := newFixture(t, 1_000_000, 1_000_000, nil)
	authorizer := auth.NewStaticAuthorizer(map[auth.Principal][]auth.Capability{
		"ops": {auth.CapabilityExecutor},
	})
	f.orch.auth = authorizer

	if _, err := f.orch.ExecuteProtocolShare(context.Background(), "mallory", 100); !errors.Is(err, auth.ErrUnauthorized) {
		t.Fatalf("expected ErrUnauthorized, got %v", err)
	}
	if _, err := f.orch.ExecuteDLPShare(context.Background(), "mallory", 100, []int64{7}); !errors.Is(err, auth.ErrUnauthorized) {
		t.Fatalf("expected ErrUnauthorized, got %v", err)
	}
}

func TestExecuteDLPShare_ChainedSwapsAndLiquidity(t *testing.T) {
	reg := registry.NewStaticRegistry(map[int64]registry.Entry{
		7: {TokenAddress: tokenAddr, LpPositionID: 42},
	})
	// Deep USDC/VANA pool, shallow VANA/token pool (depth 8000 → max 400).
	f := newFixture(t, 1_000_000, 8000, reg)
	f.liq.liquidity = 500
	f.liq.amount0Used = 300 // VANA leg (canonical token0)
	f.liq.amount1Used = 350 // entity token leg

	receive(t, f, usdcAddr, 1000, 7) // entity 800 USDC

	res, err := f.orch.ExecuteDLPShare(context.Background(), "executor", 100, []int64{7})
	if err != nil {
		t.Fatalf("execute dlp share: %v", err)
	}
	if res.Processed != 1 || res.Failed != 0 {
		t.Fatalf("expected 1 processed / 0 failed, got %d / %d", res.Processed, res.Failed)
	}

	out := res.Entities[0]
	if out.Err != "" {
		t.Fatalf("unexpected entity error: %s", out.Err)
	}
	// Leg 1: 800 USDC → 800 VANA. Leg 2 bounded to 400: 400 token out,
	// 400 VANA unused. Liquidity consumes 300 VANA + 350 token, leaving
	// 100 VANA rolled over and 50 token spare → skim 2, burn 48.
	if out.LiquidityAdded.Int64() != 500 {
		t.Errorf("expected liquidity 500, got %s", out.LiquidityAdded)
	}
	if out.Skimmed.Int64() != 2 || out.Burned.Int64() != 48 {
		t.Errorf("expected 2 skimmed / 48 burned, got %s / %s", out.Skimmed, out.Burned)
	}

	pendingVana, err := f.ledger.PendingEntity(7, vanaAddr)
	if err != nil {
		t.Fatal(err)
	}
	if pendingVana.Int64() != 100 {
		t.Errorf("expected 100 VANA rolled over, got %s", pendingVana)
	}
	if got := f.treasury.TotalContribution(); got.Int64() != 500 {
		t.Errorf("expected contribution 500, got %s", got)
	}
	if got := f.transfers.sentTo(burnAddr); got.Int64() != 48 {
		t.Errorf("expected 48 sent to burn address, got %s", got)
	}
}

func TestExecuteDLPShare_NoTokenBurnsVANADirectly(t *testing.T) {
	f := newFixture(t, 1_000_000, 1_000_000, nil) // empty registry
	receive(t, f, vanaAddr, 100, 9)               // entity 80 VANA

	res, err := f.orch.ExecuteDLPShare(context.Background(), "executor", 100, []int64{9})
	if err != nil {
		t.Fatalf("execute dlp share: %v", err)
	}
	out := res.Entities[0]
	if out.Err != "" {
		t.Fatalf("unexpected entity error: %s", out.Err)
	}
	// 80 VANA: skim 4, burn 76, no swap attempted.
	if out.Skimmed.Int64() != 4 || out.Burned.Int64() != 76 {
		t.Errorf("expected 4 skimmed / 76 burned, got %s / %s", out.Skimmed, out.Burned)
	}
	if f.router.calls != 0 {
		t.Errorf("expected no swaps, router called %d times", f.router.calls)
	}
}

func TestExecuteDLPShare_FailureIsolation(t *testing.T) {
	inner := registry.NewStaticRegistry(nil)
	reg := &failingRegistry{inner: inner, fail: map[int64]bool{13: true}}
	f := newFixture(t, 1_000_000, 1_000_000, reg)

	receive(t, f, vanaAddr, 100, 9)  // entity 80 VANA, no token
	receive(t, f, vanaAddr, 100, 13) // entity 80 VANA, registry fails

	res, err := f.orch.ExecuteDLPShare(context.Background(), "executor", 100, []int64{13, 9})
	if err != nil {
		t.Fatalf("execute dlp share: %v", err)
	}
	if res.Processed != 1 || res.Failed != 1 {
		t.Fatalf("expected 1 processed / 1 failed, got %d / %d", res.Processed, res.Failed)
	}
	if res.Entities[0].Err == "" {
		t.Error("expected registry failure recorded on first entity")
	}
	// The healthy entity still burned.
	if res.Entities[1].Burned.Int64() != 76 {
		t.Errorf("expected 76 burned for healthy entity, got %s", res.Entities[1].Burned)
	}
	// The failed entity's funds are untouched.
	pending, err := f.ledger.PendingEntity(13, vanaAddr)
	if err != nil {
		t.Fatal(err)
	}
	if pending.Int64() != 80 {
		t.Errorf("expected failed entity funds intact at 80, got %s", pending)
	}
}

func TestExecuteDLPShare_TokenBurnFailureRetainsSpare(t *testing.T) {
	// A failed entity-token burn must park the tokens in the entity's
	// pending balance and burn them on the next run.
	reg := registry.NewStaticRegistry(map[int64]registry.Entry{
		7: {TokenAddress: tokenAddr, LpPositionID: 42},
	})
	f := newFixture(t, 1_000_000, 1_000_000, reg)
	receive(t, f, usdcAddr, 1000, 7) // entity 800 USDC
	f.transfers.failTo = map[string]error{burnAddr: errors.New("burn transfer reverted")}

	res, err := f.orch.ExecuteDLPShare(context.Background(), "executor", 100, []int64{7})
	if err != nil {
		t.Fatalf("execute dlp share: %v", err)
	}
	if res.Failed != 1 {
		t.Fatalf("expected 1 failed, got %d", res.Failed)
	}

	// 800 USDC → 800 VANA → 800 token, all spare (no liquidity consumed).
	// Skim 40 left for the sink; the remaining 760 tokens stay pending.
	if got := f.transfers.sentTo(sinkAddr); got.Int64() != 40 {
		t.Fatalf("expected 40 at the sink, got %s", got)
	}
	pending, err := f.ledger.PendingEntity(7, tokenAddr)
	if err != nil {
		t.Fatal(err)
	}
	if pending.Int64() != 760 {
		t.Fatalf("expected 760 tokens pending after failed burn, got %s", pending)
	}

	// Next run has nothing new to swap but still retries the parked tokens.
	f.transfers.failTo = nil
	res, err = f.orch.ExecuteDLPShare(context.Background(), "executor", 200, []int64{7})
	if err != nil {
		t.Fatalf("retry dlp share: %v", err)
	}
	out := res.Entities[0]
	if out.Err != "" {
		t.Fatalf("unexpected entity error on retry: %s", out.Err)
	}
	if out.Skimmed.Int64() != 38 || out.Burned.Int64() != 722 {
		t.Errorf("expected 38 skimmed / 722 burned on retry, got %s / %s", out.Skimmed, out.Burned)
	}
	pending, err = f.ledger.PendingEntity(7, tokenAddr)
	if err != nil {
		t.Fatal(err)
	}
	if pending.Sign() != 0 {
		t.Errorf("expected no tokens pending after retry, got %s", pending)
	}
	if f.router.calls != 2 {
		t.Errorf("expected 2 swaps total, router called %d times", f.router.calls)
	}
}

func TestDistributeTreasury(t *testing.T) {
	f := newFixture(t, 1_000_000, 1_000_000, nil)
	ctx := context.Background()

	// Contributions 300 / 100, matching USDC deposits.
	if err := f.treasury.TrackLiquidityContribution(ctx, 7, big.NewInt(300)); err != nil {
		t.Fatal(err)
	}
	if err := f.treasury.TrackLiquidityContribution(ctx, 8, big.NewInt(100)); err != nil {
		t.Fatal(err)
	}
	if err := f.treasury.DepositUSDC(7, big.NewInt(300)); err != nil {
		t.Fatal(err)
	}
	if err := f.treasury.DepositUSDC(8, big.NewInt(100)); err != nil {
		t.Fatal(err)
	}

	shares, err := f.orch.DistributeTreasury(ctx, "executor", []int64{7, 8})
	if err != nil {
		t.Fatalf("distribute treasury: %v", err)
	}
	if len(shares) != 2 {
		t.Fatalf("expected 2 shares, got %d", len(shares))
	}

	// Pool 400 swapped 1:1: entity 7 gets 300 VANA for its 300 USDC.
	acct := f.treasury.Account(7)
	if acct.VANABalance.Int64() != 300 {
		t.Errorf("entity 7 vana = %s, want 300", acct.VANABalance)
	}
	if acct.USDCBalance.Sign() != 0 {
		t.Errorf("entity 7 usdc = %s, want 0", acct.USDCBalance)
	}
	if got := f.treasury.TotalContribution(); got.Sign() != 0 {
		t.Errorf("expected contribution fully consumed, got %s", got)
	}
	if f.router.calls != 1 {
		t.Errorf("expected 1 swap, router called %d times", f.router.calls)
	}
}

func TestDistributeTreasury_GuardsBeforeSwap(t *testing.T) {
	f := newFixture(t, 1_000_000, 1_000_000, nil)
	ctx := context.Background()

	// Deposits without any tracked contribution: nothing may be swapped.
	if err := f.treasury.DepositUSDC(7, big.NewInt(500)); err != nil {
		t.Fatal(err)
	}
	if _, err := f.orch.DistributeTreasury(ctx, "executor", []int64{7}); !errors.Is(err, treasury.ErrNoLiquidityToDistribute) {
		t.Fatalf("expected ErrNoLiquidityToDistribute, got %v", err)
	}
	if f.router.calls != 0 {
		t.Errorf("expected no swaps, router called %d times", f.router.calls)
	}

	// Contribution without pooled USDC: no swap either.
	if err := f.treasury.TrackLiquidityContribution(ctx, 9, big.NewInt(100)); err != nil {
		t.Fatal(err)
	}
	shares, err := f.orch.DistributeTreasury(ctx, "executor", []int64{9})
	if err != nil {
		t.Fatal(err)
	}
	if shares != nil {
		t.Errorf("expected no shares, got %+v", shares)
	}
	if f.router.calls != 0 {
		t.Errorf("expected no swaps, router called %d times", f.router.calls)
	}
}

func TestNew_Validation(t *testing.T) {
	if _, err := New(Options{}); err == nil {
		t.Error("expected error for empty options")
	}

	params := Params{
		USDCAddress:        usdcAddr,
		VANAAddress:        vanaAddr,
		CostSkimBps:        10_001,
		MaxSlippageBps:     200,
		ImpactThresholdBps: 500,
		EpochBlockCadence:  100,
		ComputeSinkAddress: sinkAddr,
		BurnAddress:        burnAddr,
	}
	if _, err := New(Options{Params: params}); !errors.Is(err, domain.ErrInvalidBasisPoints) {
		t.Errorf("expected ErrInvalidBasisPoints, got %v", err)
	}
}
