// Package ledger tracks pending protocol and per-entity fund balances and
// performs the protocol/entity split on incoming payments.
package ledger

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

// Ledger errors.
var (
	// ErrInvalidToken is returned for assets outside the recognized pair.
	ErrInvalidToken = errors.New("invalid token")

	// ErrInvalidAmount is returned for zero or malformed amounts.
	ErrInvalidAmount = errors.New("invalid amount")
)

// FundSplitLedger accumulates pending balances per scope. All mutation goes
// through the orchestrator's serialized entry points; the internal mutex
// guards the drain-then-act pattern against concurrent receipt.
type FundSplitLedger struct {
	mu sync.Mutex

	usdcAddress      string
	vanaAddress      string
	protocolShareBps uint64

	protocol *domain.PendingFunds
	entities map[int64]*domain.PendingFunds

	recorder audit.Recorder
}

// Options contains configuration for creating a FundSplitLedger.
type Options struct {
	USDCAddress      string
	VANAAddress      string
	ProtocolShareBps uint64
	Recorder         audit.Recorder
}

// New creates a fund split ledger.
func New(opts Options) (*FundSplitLedger, error) {
	if !domain.ValidBps(opts.ProtocolShareBps) {
		return nil, domain.ErrInvalidBasisPoints
	}
	if opts.USDCAddress == "" || opts.VANAAddress == "" || opts.USDCAddress == opts.VANAAddress {
		return nil, errors.New("ledger requires two distinct asset addresses")
	}
	recorder := opts.Recorder
	if recorder == nil {
		recorder = audit.NewNoopRecorder()
	}
	return &FundSplitLedger{
		usdcAddress:      opts.USDCAddress,
		vanaAddress:      opts.VANAAddress,
		protocolShareBps: opts.ProtocolShareBps,
		protocol:         domain.NewPendingFunds(),
		entities:         make(map[int64]*domain.PendingFunds),
		recorder:         recorder,
	}, nil
}

// ReceiveFunds splits an incoming payment between the protocol and the
// entity: protocolShare = amount*protocolShareBps/10000, entityShare is the
// complement (no rounding loss). Both shares accumulate into pending
// balances for later draining.
func (l *FundSplitLedger) ReceiveFunds(ctx context.Context, asset string, amount *big.Int, entityID int64) (protocolShare, entityShare *big.Int, err error) {
	if asset != l.usdcAddress && asset != l.vanaAddress {
		return nil, nil, fmt.Errorf("%w: %s", ErrInvalidToken, asset)
	}
	if amount == nil || amount.Sign() <= 0 {
		return nil, nil, ErrInvalidAmount
	}

	protocolShare, entityShare, err = domain.SplitBps(amount, l.protocolShareBps)
	if err != nil {
		return nil, nil, err
	}

	l.mu.Lock()
	l.add(l.protocol, asset, protocolShare)
	l.add(l.entityFunds(entityID), asset, entityShare)
	l.mu.Unlock()

	ev := &domain.AuditEvent{
		EventType:       domain.EventFundsReceived,
		Timestamp:       time.Now().UnixMilli(),
		EntityID:        entityID,
		Asset:           asset,
		Amount:          protocolShare.String(),
		AmountSecondary: entityShare.String(),
	}
	if err := l.recorder.Record(ctx, ev); err != nil {
		return nil, nil, fmt.Errorf("record funds received: %w", err)
	}
	return protocolShare, entityShare, nil
}

// DrainProtocol zeroes the protocol-pending balance for an asset and returns
// the captured value.
func (l *FundSplitLedger) DrainProtocol(asset string) (*big.Int, error) {
	l.mu.Lock()
	defer l.mu.Unlock()
	return l.drain(l.protocol, asset)
}

// DrainEntity zeroes an entity's pending balance for an asset and returns
// the captured value. Unknown entities drain to zero.
func (l *FundSplitLedger) DrainEntity(entityID int64, asset string) (*big.Int, error) {
	l.mu.Lock()
	defer l.mu.Unlock()
	return l.drain(l.entityFunds(entityID), asset)
}

// RolloverProtocol adds an unused amount back to the protocol-pending
// balance so it is retried on the next cycle.
func (l *FundSplitLedger) RolloverProtocol(asset string, amount *big.Int) error {
	return l.rollover(nil, asset, amount)
}

// RolloverEntity adds an unused amount back to an entity's pending balance.
func (l *FundSplitLedger) RolloverEntity(entityID int64, asset string, amount *big.Int) error {
	return l.rollover(&entityID, asset, amount)
}

// PendingProtocol returns a copy of the protocol-pending balance for an asset.
func (l *FundSplitLedger) PendingProtocol(asset string) (*big.Int, error) {
	l.mu.Lock()
	defer l.mu.Unlock()
	b, err := l.balance(l.protocol, asset)
	if err != nil {
		return nil, err
	}
	return new(big.Int).Set(b), nil
}

// PendingEntity returns a copy of an entity's pending balance for an asset.
func (l *FundSplitLedger) PendingEntity(entityID int64, asset string) (*big.Int, error) {
	l.mu.Lock()
	defer l.mu.Unlock()
	b, err := l.balance(l.entityFunds(entityID), asset)
	if err != nil {
		return nil, err
	}
	return new(big.Int).Set(b), nil
}

// entityFunds returns the accumulator for an entity, creating it lazily.
// Caller must hold l.mu.
func (l *FundSplitLedger) entityFunds(entityID int64) *domain.PendingFunds {
	funds, ok := l.entities[entityID]
	if !ok {
		funds = domain.NewPendingFunds()
		l.entities[entityID] = funds
	}
	return funds
}

// balance resolves the accumulator slot for an asset. Assets outside the
// pair get their own slot so an entity token awaiting a burn retry can be
// rolled over instead of lost; only ReceiveFunds restricts assets to the
// pair.
func (l *FundSplitLedger) balance(funds *domain.PendingFunds, asset string) (*big.Int, error) {
	switch asset {
	case "":
		return nil, fmt.Errorf("%w: empty asset", ErrInvalidToken)
	case l.usdcAddress:
		return funds.USDC, nil
	case l.vanaAddress:
		return funds.VANA, nil
	default:
		return funds.Token(asset), nil
	}
}

// add accumulates into a pending balance. Caller must hold l.mu.
func (l *FundSplitLedger) add(funds *domain.PendingFunds, asset string, amount *big.Int) {
	b, err := l.balance(funds, asset)
	if err != nil {
		return // asset validated by every caller
	}
	b.Add(b, amount)
}

// drain captures and zeroes a pending balance. Caller must hold l.mu.
func (l *FundSplitLedger) drain(funds *domain.PendingFunds, asset string) (*big.Int, error) {
	b, err := l.balance(funds, asset)
	if err != nil {
		return nil, err
	}
	captured := new(big.Int).Set(b)
	b.SetInt64(0)
	return captured, nil
}

func (l *FundSplitLedger) rollover(entityID *int64, asset string, amount *big.Int) error {
	if amount == nil || amount.Sign() < 0 {
		return ErrInvalidAmount
	}
	if amount.Sign() == 0 {
		return nil
	}
	l.mu.Lock()
	defer l.mu.Unlock()
	funds := l.protocol
	if entityID != nil {
		funds = l.entityFunds(*entityID)
	}
	b, err := l.balance(funds, asset)
	if err != nil {
		return err
	}
	b.Add(b, amount)
	return nil
}
