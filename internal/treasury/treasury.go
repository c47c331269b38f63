// Package treasury tracks per-entity liquidity contribution and distributes
// swapped proceeds proportionally to historical contribution.
package treasury

import (
	"context"
	"errors"
	"fmt"
	"math/big"
	"sync"
	"time"

	"databurn/internal/audit"
	"databurn/internal/domain"
)

// Treasury errors.
var (
	// ErrInvalidAmount is returned for zero or malformed amounts.
	ErrInvalidAmount = errors.New("invalid amount")

	// ErrNoLiquidityToDistribute is returned when no contribution has ever
	// been tracked.
	ErrNoLiquidityToDistribute = errors.New("no liquidity to distribute")

	// ErrInsufficientBalance is returned when a deduction would push a
	// balance or contribution negative.
	ErrInsufficientBalance = errors.New("insufficient balance")
)

// Treasury holds entity accounts and the global contribution total.
type Treasury struct {
	mu                sync.Mutex
	accounts          map[int64]*domain.EntityAccount
	totalContribution *big.Int
	recorder          audit.Recorder
}

// New creates a treasury. A nil recorder drops events.
func New(recorder audit.Recorder) *Treasury {
	if recorder == nil {
		recorder = audit.NewNoopRecorder()
	}
	return &Treasury{
		accounts:          make(map[int64]*domain.EntityAccount),
		totalContribution: new(big.Int),
		recorder:          recorder,
	}
}

// DistributionShare is one entity's outcome from a distribution run.
type DistributionShare struct {
	EntityID  int64
	VANAShare *big.Int // proportional share of the swapped proceeds
	USDCUsed  *big.Int // deducted from the entity's source-asset balance
}

// TrackLiquidityContribution adds amount to the entity's and the global
// contribution totals. The account is created lazily on first use.
func (t *Treasury) TrackLiquidityContribution(ctx context.Context, entityID int64, amount *big.Int) error {
	if amount == nil || amount.Sign() <= 0 {
		return ErrInvalidAmount
	}

	t.mu.Lock()
	acct := t.account(entityID)
	acct.LiquidityContribution.Add(acct.LiquidityContribution, amount)
	t.totalContribution.Add(t.totalContribution, amount)
	t.mu.Unlock()

	return t.recorder.Record(ctx, &domain.AuditEvent{
		EventType: domain.EventContributionTracked,
		Timestamp: time.Now().UnixMilli(),
		EntityID:  entityID,
		Amount:    amount.String(),
	})
}

// DepositUSDC credits an entity's source-asset balance.
func (t *Treasury) DepositUSDC(entityID int64, amount *big.Int) error {
	if amount == nil || amount.Sign() <= 0 {
		return ErrInvalidAmount
	}
	t.mu.Lock()
	defer t.mu.Unlock()
	acct := t.account(entityID)
	acct.USDCBalance.Add(acct.USDCBalance, amount)
	return nil
}

// DistributeVANA allocates totalSwapped across the listed entities in
// proportion to their liquidity contribution, deducting the matching share
// of totalUsed from each entity's USDC balance and contribution.
//
// Shares are computed against the contribution total captured once before
// the loop; a live denominator would make the run order-dependent. Every
// entity is validated before any account is touched, so a failing batch
// leaves all balances as they were. Repeated ids are processed once.
func (t *Treasury) DistributeVANA(ctx context.Context, entityIDs []int64, totalSwapped, totalUsed *big.Int) ([]*DistributionShare, error) {
	if totalSwapped == nil || totalUsed == nil {
		return nil, ErrInvalidAmount
	}

	t.mu.Lock()
	defer t.mu.Unlock()

	if t.totalContribution.Sign() == 0 {
		return nil, ErrNoLiquidityToDistribute
	}
	originalTotal := new(big.Int).Set(t.totalContribution)

	// Pass 1: compute and validate every share against current balances.
	type plannedShare struct {
		acct  *domain.EntityAccount
		share *DistributionShare
	}
	seen := make(map[int64]bool, len(entityIDs))
	var planned []plannedShare
	for _, entityID := range entityIDs {
		if seen[entityID] {
			continue
		}
		seen[entityID] = true

		acct, ok := t.accounts[entityID]
		if !ok || acct.LiquidityContribution.Sign() == 0 {
			continue
		}

		vanaShare, err := domain.MulDiv(totalSwapped, acct.LiquidityContribution, originalTotal)
		if err != nil {
			return nil, fmt.Errorf("compute vana share for entity %d: %w", entityID, err)
		}
		usedShare, err := domain.MulDiv(totalUsed, acct.LiquidityContribution, originalTotal)
		if err != nil {
			return nil, fmt.Errorf("compute used share for entity %d: %w", entityID, err)
		}

		if acct.USDCBalance.Cmp(usedShare) < 0 {
			return nil, fmt.Errorf("%w: entity %d usdc balance %s < used share %s",
				ErrInsufficientBalance, entityID, acct.USDCBalance, usedShare)
		}
		if acct.LiquidityContribution.Cmp(usedShare) < 0 {
			return nil, fmt.Errorf("%w: entity %d contribution %s < used share %s",
				ErrInsufficientBalance, entityID, acct.LiquidityContribution, usedShare)
		}

		planned = append(planned, plannedShare{
			acct: acct,
			share: &DistributionShare{
				EntityID:  entityID,
				VANAShare: vanaShare,
				USDCUsed:  usedShare,
			},
		})
	}

	// Pass 2: every share validated, commit the whole batch.
	shares := make([]*DistributionShare, 0, len(planned))
	for _, p := range planned {
		p.acct.USDCBalance.Sub(p.acct.USDCBalance, p.share.USDCUsed)
		p.acct.LiquidityContribution.Sub(p.acct.LiquidityContribution, p.share.USDCUsed)
		t.totalContribution.Sub(t.totalContribution, p.share.USDCUsed)
		p.acct.VANABalance.Add(p.acct.VANABalance, p.share.VANAShare)
		shares = append(shares, p.share)
	}

	for _, s := range shares {
		ev := &domain.AuditEvent{
			EventType:       domain.EventRewardDistributed,
			Timestamp:       time.Now().UnixMilli(),
			EntityID:        s.EntityID,
			Amount:          s.VANAShare.String(),
			AmountSecondary: s.USDCUsed.String(),
		}
		if err := t.recorder.Record(ctx, ev); err != nil {
			return shares, fmt.Errorf("record distribution: %w", err)
		}
	}

	return shares, nil
}

// PooledUSDC sums the listed entities' USDC balances, counting repeated ids
// once. Unknown entities contribute zero.
func (t *Treasury) PooledUSDC(entityIDs []int64) *big.Int {
	t.mu.Lock()
	defer t.mu.Unlock()

	sum := new(big.Int)
	seen := make(map[int64]bool, len(entityIDs))
	for _, entityID := range entityIDs {
		if seen[entityID] {
			continue
		}
		seen[entityID] = true
		if acct, ok := t.accounts[entityID]; ok {
			sum.Add(sum, acct.USDCBalance)
		}
	}
	return sum
}

// Account returns a copy of an entity's account, or nil if never seen.
func (t *Treasury) Account(entityID int64) *domain.EntityAccount {
	t.mu.Lock()
	defer t.mu.Unlock()
	acct, ok := t.accounts[entityID]
	if !ok {
		return nil
	}
	return &domain.EntityAccount{
		EntityID:              acct.EntityID,
		USDCBalance:           new(big.Int).Set(acct.USDCBalance),
		VANABalance:           new(big.Int).Set(acct.VANABalance),
		LiquidityContribution: new(big.Int).Set(acct.LiquidityContribution),
	}
}

// TotalContribution returns a copy of the global contribution total.
func (t *Treasury) TotalContribution() *big.Int {
	t.mu.Lock()
	defer t.mu.Unlock()
	return new(big.Int).Set(t.totalContribution)
}

// account returns the entity's account, creating it lazily.
// Caller must hold t.mu.
func (t *Treasury) account(entityID int64) *domain.EntityAccount {
	acct, ok := t.accounts[entityID]
	if !ok {
		acct = domain.NewEntityAccount(entityID)
		t.accounts[entityID] = acct
	}
	return acct
}
