package blockchain

import (
	"math/big"
	"sort"

	"github.com/Menutra/Cache-Cash/netparams"
)

// nextDifficulty computes the difficulty required of the next block on a
// branch from the timestamps and cumulative difficulties of the branch's most
// recent headers, oldest first. Both slices must have equal length.
//
// The window is sorted by timestamp and trimmed symmetrically so a few
// outlying solve times (clock skew, a stalled network) cannot swing the
// result. The remaining span of work over the remaining span of time, scaled
// to the target solve time, is the next difficulty.
func nextDifficulty(params *netparams.Params, timestamps []uint64, cumulativeDifficulties []*big.Int) uint64 {
	if len(timestamps) != len(cumulativeDifficulties) {
		panic("difficulty window slices of unequal length")
	}
	if len(timestamps) > params.DifficultyWindow {
		cut := len(timestamps) - params.DifficultyWindow
		timestamps = timestamps[cut:]
		cumulativeDifficulties = cumulativeDifficulties[cut:]
	}
	if len(timestamps) < 2 {
		return 1
	}

	sorted := make([]uint64, len(timestamps))
	copy(sorted, timestamps)
	sort.Slice(sorted, func(i, j int) bool { return sorted[i] < sorted[j] })

	trim := params.DifficultyTrim
	if len(sorted) <= 2*trim+1 {
		trim = 0
	}
	low, high := trim, len(sorted)-1-trim

	timeSpan := sorted[high] - sorted[low]
	if timeSpan == 0 {
		timeSpan = 1
	}
	totalWork := new(big.Int).Sub(cumulativeDifficulties[high], cumulativeDifficulties[low])
	if totalWork.Sign() <= 0 {
		return 1
	}

	// next = ceil(totalWork * target / timeSpan)
	target := big.NewInt(int64(params.DifficultyTarget.Seconds()))
	next := new(big.Int).Mul(totalWork, target)
	next.Add(next, new(big.Int).SetUint64(timeSpan-1))
	next.Div(next, new(big.Int).SetUint64(timeSpan))

	if !next.IsUint64() {
		return ^uint64(0)
	}
	if next.Uint64() == 0 {
		return 1
	}
	return next.Uint64()
}
