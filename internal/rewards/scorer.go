// Package rewards computes time-and-stake-weighted epoch reward scores,
// selects the top-N DLPs per epoch, and allocates epoch rewards
// proportionally to score.
package rewards

import (
	"errors"
	"math/big"
	"sort"

	"databurn/internal/domain"
)

// Scorer errors.
var (
	// ErrInvalidDaySize is returned when daySize is not positive.
	ErrInvalidDaySize = errors.New("day size must be positive")

	// ErrNoScores is returned when a distribution has nothing to allocate over.
	ErrNoScores = errors.New("no scores to distribute over")
)

// Scorer derives stake scores from stake records.
type Scorer struct {
	daySize int64 // blocks per day
}

// NewScorer creates a scorer. daySize is the number of blocks in one day.
func NewScorer(daySize int64) (*Scorer, error) {
	if daySize <= 0 {
		return nil, ErrInvalidDaySize
	}
	return &Scorer{daySize: daySize}, nil
}

// CalculateStakeScore returns amount * multiplier(daysStaked) / 10000,
// where daysStaked = (currentBlock - startBlock) / daySize in whole days.
// A stake that has not started yet scores zero.
func (s *Scorer) CalculateStakeScore(amount *big.Int, startBlock, currentBlock int64) *big.Int {
	if amount == nil || amount.Sign() <= 0 || currentBlock < startBlock {
		return new(big.Int)
	}
	daysStaked := (currentBlock - startBlock) / s.daySize
	score := new(big.Int).Mul(amount, new(big.Int).SetUint64(Multiplier(daysStaked)))
	return score.Quo(score, big.NewInt(domain.BpsDenominator))
}

// EpochScores sums the scores of all stakes active at the epoch's end block,
// grouped by DLP. Stakes that started after the end block or ended at or
// before it contribute nothing.
func (s *Scorer) EpochScores(stakes []*domain.StakeRecord, epochEndBlock int64) map[int64]*big.Int {
	totals := make(map[int64]*big.Int)
	for _, stake := range stakes {
		if !stake.ActiveAt(epochEndBlock) {
			continue
		}
		score := s.CalculateStakeScore(stake.Amount, stake.StartBlock, epochEndBlock)
		if score.Sign() == 0 {
			continue
		}
		total, ok := totals[stake.DlpID]
		if !ok {
			total = new(big.Int)
			totals[stake.DlpID] = total
		}
		total.Add(total, score)
	}
	return totals
}

// SelectTopDlps returns up to n DLP ids ordered by total score descending.
// Equal scores break on the lower DLP id, keeping selection deterministic.
func SelectTopDlps(scores map[int64]*big.Int, n int) []int64 {
	if n <= 0 {
		return nil
	}
	ids := make([]int64, 0, len(scores))
	for id, score := range scores {
		if score != nil && score.Sign() > 0 {
			ids = append(ids, id)
		}
	}
	sort.Slice(ids, func(i, j int) bool {
		cmp := scores[ids[i]].Cmp(scores[ids[j]])
		if cmp != 0 {
			return cmp > 0
		}
		return ids[i] < ids[j]
	})
	if len(ids) > n {
		ids = ids[:n]
	}
	return ids
}

// DistributeRewards allocates totalReward across the selected DLPs in
// proportion to their scores, with floor division against the denominator
// captured once from the selected set. The floor remainder stays
// undistributed; the sum of allocations never exceeds totalReward.
func DistributeRewards(totalReward *big.Int, selected []int64, scores map[int64]*big.Int) (map[int64]*big.Int, error) {
	if totalReward == nil || totalReward.Sign() < 0 {
		return nil, domain.ErrNegativeAmount
	}

	denominator := new(big.Int)
	for _, id := range selected {
		score, ok := scores[id]
		if !ok || score.Sign() <= 0 {
			continue
		}
		denominator.Add(denominator, score)
	}
	if denominator.Sign() == 0 {
		return nil, ErrNoScores
	}

	rewards := make(map[int64]*big.Int, len(selected))
	for _, id := range selected {
		score, ok := scores[id]
		if !ok || score.Sign() <= 0 {
			continue
		}
		share, err := domain.MulDiv(totalReward, score, denominator)
		if err != nil {
			return nil, err
		}
		rewards[id] = share
	}
	return rewards, nil
}
