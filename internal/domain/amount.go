// Package domain holds the core types and arithmetic shared across the
// engine. Amounts are arbitrary-precision integers in the token's smallest
// unit, capped at 256 bits.
package domain

import (
	"errors"
	"math/big"
)

// Amount arithmetic errors.
var (
	ErrNilAmount          = errors.New("nil amount")
	ErrNegativeAmount     = errors.New("negative amount")
	ErrAmountOverflow     = errors.New("amount exceeds 256 bits")
	ErrInvalidBasisPoints = errors.New("basis points out of range")
)

// BpsDenominator is the basis-point scale: 10000 bps == 100%.
const BpsDenominator = 10_000

// maxAmountBits bounds every amount the engine accepts or produces.
const maxAmountBits = 256

// Zero returns a fresh zero amount.
func Zero() *big.Int {
	return new(big.Int)
}

// ValidBps reports whether bps is within [0, BpsDenominator].
func ValidBps(bps uint64) bool {
	return bps <= BpsDenominator
}

func checkAmount(a *big.Int) error {
	if a == nil {
		return ErrNilAmount
	}
	if a.Sign() < 0 {
		return ErrNegativeAmount
	}
	if a.BitLen() > maxAmountBits {
		return ErrAmountOverflow
	}
	return nil
}

// AddAmount returns a+b, rejecting results above the 256-bit cap.
func AddAmount(a, b *big.Int) (*big.Int, error) {
	if err := checkAmount(a); err != nil {
		return nil, err
	}
	if err := checkAmount(b); err != nil {
		return nil, err
	}
	sum := new(big.Int).Add(a, b)
	if sum.BitLen() > maxAmountBits {
		return nil, ErrAmountOverflow
	}
	return sum, nil
}

// SubAmount returns a-b, rejecting negative results.
func SubAmount(a, b *big.Int) (*big.Int, error) {
	if err := checkAmount(a); err != nil {
		return nil, err
	}
	if err := checkAmount(b); err != nil {
		return nil, err
	}
	if a.Cmp(b) < 0 {
		return nil, ErrNegativeAmount
	}
	return new(big.Int).Sub(a, b), nil
}

// MulDiv returns a*b/denom with floor division. The intermediate product is
// exact, so a*b may exceed the amount cap without losing precision.
func MulDiv(a, b, denom *big.Int) (*big.Int, error) {
	if err := checkAmount(a); err != nil {
		return nil, err
	}
	if err := checkAmount(b); err != nil {
		return nil, err
	}
	if denom == nil || denom.Sign() <= 0 {
		return nil, errors.New("denominator must be positive")
	}
	product := new(big.Int).Mul(a, b)
	out := product.Quo(product, denom)
	if out.BitLen() > maxAmountBits {
		return nil, ErrAmountOverflow
	}
	return out, nil
}

// ShareBps returns amount*bps/10000 with floor division.
func ShareBps(amount *big.Int, bps uint64) (*big.Int, error) {
	if !ValidBps(bps) {
		return nil, ErrInvalidBasisPoints
	}
	return MulDiv(amount, new(big.Int).SetUint64(bps), big.NewInt(BpsDenominator))
}

// SplitBps divides amount into a bps share and its complement. The share is
// floored and the complement absorbs the rounding remainder, so
// share + complement == amount exactly.
func SplitBps(amount *big.Int, bps uint64) (share, complement *big.Int, err error) {
	share, err = ShareBps(amount, bps)
	if err != nil {
		return nil, nil, err
	}
	complement = new(big.Int).Sub(amount, share)
	return share, complement, nil
}
