package domain

import "math/big"

// PendingFunds accumulates received-but-unprocessed balances for one scope
// (protocol-wide or a single entity). Amounts are additive on receipt and
// captured-and-zeroed on drain. Tokens holds balances of assets outside the
// recognized pair, such as an entity token awaiting a burn retry.
type PendingFunds struct {
	USDC   *big.Int // pending stable-asset balance
	VANA   *big.Int // pending target-asset balance
	Tokens map[string]*big.Int
}

// NewPendingFunds returns an empty accumulator.
func NewPendingFunds() *PendingFunds {
	return &PendingFunds{
		USDC:   new(big.Int),
		VANA:   new(big.Int),
		Tokens: make(map[string]*big.Int),
	}
}

// Token returns the balance for an asset outside the pair, creating the
// entry lazily.
func (f *PendingFunds) Token(asset string) *big.Int {
	b, ok := f.Tokens[asset]
	if !ok {
		b = new(big.Int)
		f.Tokens[asset] = b
	}
	return b
}

// EntityAccount tracks a DLP entity's treasury balances and its historical
// liquidity contribution. LiquidityContribution only grows through tracking
// and shrinks proportionally during distribution; it never goes negative.
type EntityAccount struct {
	EntityID              int64
	USDCBalance           *big.Int
	VANABalance           *big.Int
	LiquidityContribution *big.Int
}

// NewEntityAccount returns a zeroed account for an entity.
func NewEntityAccount(entityID int64) *EntityAccount {
	return &EntityAccount{
		EntityID:              entityID,
		USDCBalance:           new(big.Int),
		VANABalance:           new(big.Int),
		LiquidityContribution: new(big.Int),
	}
}
