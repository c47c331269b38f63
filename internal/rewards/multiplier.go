package rewards

// stakeMultiplierBps maps whole days staked to a reward multiplier in basis
// points (10000 = 1x). The table is monotonically non-decreasing and must be
// reproduced exactly: reward fairness depends on bit-for-bit agreement with
// the published schedule.
var stakeMultiplierBps = [64]uint64{
	10000, 10200, 10500, 10700, 11000, 11200, 11400, 11700,
	11900, 12100, 12400, 12600, 12900, 13100, 13300, 13600,
	13800, 14000, 14300, 14500, 14800, 15000, 15600, 16200,
	16800, 17400, 18000, 18600, 19200, 19800, 20400, 21000,
	21500, 22100, 22700, 23300, 23900, 24500, 25100, 25700,
	26300, 26900, 27500, 27600, 27700, 27900, 28000, 28100,
	28200, 28300, 28500, 28600, 28700, 28800, 28900, 29000,
	29200, 29300, 29400, 29500, 29600, 29700, 29900, 30000,
}

// maxMultiplierBps is the saturation value (3x) once the stake outlives the
// table.
const maxMultiplierBps = 30000

// Multiplier returns the stake multiplier in basis points for a number of
// whole days staked, saturating at 3x.
func Multiplier(daysStaked int64) uint64 {
	if daysStaked < 0 {
		return stakeMultiplierBps[0]
	}
	if daysStaked >= int64(len(stakeMultiplierBps)) {
		return maxMultiplierBps
	}
	return stakeMultiplierBps[daysStaked]
}
