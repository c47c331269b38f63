package domain

import (
	"errors"
	"math/big"
	"testing"
)

func TestSplitBps_Conservation(t *testing.T) {
	// share + complement must equal the input exactly for any bps,
	// including amounts where share rounds down.
	cases := []struct {
		amount uint64
		bps    uint64
	}{
		{1000, 2000},
		{1, 1},
		{999, 3333},
		{12345678901, 9999},
		{7, 5000},
		{1000, 0},
		{1000, 10000},
	}

	for _, c := range cases {
		amount := new(big.Int).SetUint64(c.amount)
		share, complement, err := SplitBps(amount, c.bps)
		if err != nil {
			t.Fatalf("SplitBps(%d, %d): %v", c.amount, c.bps, err)
		}
		sum := new(big.Int).Add(share, complement)
		if sum.Cmp(amount) != 0 {
			t.Errorf("SplitBps(%d, %d): share %s + complement %s != %d",
				c.amount, c.bps, share, complement, c.amount)
		}
	}
}

func TestSplitBps_Scenario(t *testing.T) {
	// 1000 at 2000 bps → 200 / 800.
	share, complement, err := SplitBps(big.NewInt(1000), 2000)
	if err != nil {
		t.Fatal(err)
	}
	if share.Int64() != 200 {
		t.Errorf("expected share 200, got %s", share)
	}
	if complement.Int64() != 800 {
		t.Errorf("expected complement 800, got %s", complement)
	}
}

func TestShareBps_InvalidBps(t *testing.T) {
	_, err := ShareBps(big.NewInt(100), 10001)
	if !errors.Is(err, ErrInvalidBasisPoints) {
		t.Errorf("expected ErrInvalidBasisPoints, got %v", err)
	}
}

func TestAddAmount_Overflow(t *testing.T) {
	max := new(big.Int).Sub(new(big.Int).Lsh(big.NewInt(1), 256), big.NewInt(1))
	_, err := AddAmount(max, big.NewInt(1))
	if !errors.Is(err, ErrAmountOverflow) {
		t.Errorf("expected ErrAmountOverflow, got %v", err)
	}

	// At the cap is still fine.
	sum, err := AddAmount(max, big.NewInt(0))
	if err != nil {
		t.Fatalf("add at cap: %v", err)
	}
	if sum.Cmp(max) != 0 {
		t.Errorf("expected %s, got %s", max, sum)
	}
}

func TestSubAmount_Negative(t *testing.T) {
	_, err := SubAmount(big.NewInt(5), big.NewInt(6))
	if !errors.Is(err, ErrNegativeAmount) {
		t.Errorf("expected ErrNegativeAmount, got %v", err)
	}
}

func TestSubAmount_NilOperand(t *testing.T) {
	_, err := SubAmount(big.NewInt(5), nil)
	if !errors.Is(err, ErrNilAmount) {
		t.Errorf("expected ErrNilAmount, got %v", err)
	}
}

func TestMulDiv_FloorDivision(t *testing.T) {
	// 10 * 1 / 3 = 3 (floor)
	out, err := MulDiv(big.NewInt(10), big.NewInt(1), big.NewInt(3))
	if err != nil {
		t.Fatal(err)
	}
	if out.Int64() != 3 {
		t.Errorf("expected 3, got %s", out)
	}
}

func TestCanonicalPair(t *testing.T) {
	a := "0x00aa"
	b := "0x00BB"
	t0, t1 := CanonicalPair(a, b)
	if t0 != a || t1 != b {
		t.Errorf("expected (%s, %s), got (%s, %s)", a, b, t0, t1)
	}
	// Order must not depend on argument order.
	t0, t1 = CanonicalPair(b, a)
	if t0 != a || t1 != b {
		t.Errorf("expected (%s, %s), got (%s, %s)", a, b, t0, t1)
	}
}

func TestStakeRecord_ActiveAt(t *testing.T) {
	s := &StakeRecord{StartBlock: 100, EndBlock: 0}
	if s.ActiveAt(99) {
		t.Error("stake active before start block")
	}
	if !s.ActiveAt(100) {
		t.Error("stake inactive at start block")
	}

	ended := &StakeRecord{StartBlock: 100, EndBlock: 200}
	if !ended.ActiveAt(150) {
		t.Error("stake inactive before end block")
	}
	if ended.ActiveAt(200) {
		t.Error("stake active at end block")
	}

	withdrawn := &StakeRecord{StartBlock: 100, Withdrawn: true}
	if withdrawn.ActiveAt(150) {
		t.Error("withdrawn stake still active")
	}
}
