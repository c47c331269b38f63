package domain

import "math/big"

// Epoch is one fixed-length accounting period.
// IDs are sequential from 1; finalization happens once and is irreversible.
type Epoch struct {
	ID                int64
	StartBlock        int64
	EndBlock          int64
	TotalRewardAmount *big.Int
	Finalized         bool
	CreatedAt         int64 // Unix timestamp in milliseconds
}

// StakeRecord is one stake position against a DLP.
// A zero EndBlock means the stake is still open. Scores are always derived
// from the record, never stored on it.
type StakeRecord struct {
	ID          int64
	OwnerEntity int64    // staker entity id
	DlpID       int64    // DLP the stake backs
	Amount      *big.Int // staked amount
	StartBlock  int64
	EndBlock    int64 // 0 = open
	Withdrawn   bool
}

// ActiveAt reports whether the stake counts toward scoring at the given block:
// started at or before the block and not ended before it.
func (s *StakeRecord) ActiveAt(block int64) bool {
	if s.Withdrawn {
		return false
	}
	if s.StartBlock > block {
		return false
	}
	return s.EndBlock == 0 || s.EndBlock > block
}

// DlpEpochScore is the aggregated stake score for one DLP in one epoch.
// Write-once per (EpochID, DlpID) under normal flow; an admin override
// path exists for correction.
type DlpEpochScore struct {
	EpochID         int64
	DlpID           int64
	TotalStakeScore *big.Int
}
