package blockchain

import (
	"math/big"
	"testing"

	"github.com/Menutra/Cache-Cash/netparams"
)

// window builds a difficulty window of count blocks with the given solve
// time and a constant per-block difficulty.
func window(count int, solveTime uint64, perBlockDifficulty uint64) ([]uint64, []*big.Int) {
	timestamps := make([]uint64, count)
	cumulative := make([]*big.Int, count)
	total := new(big.Int)
	for i := 0; i < count; i++ {
		timestamps[i] = 1600000000 + uint64(i)*solveTime
		total = new(big.Int).Add(total, new(big.Int).SetUint64(perBlockDifficulty))
		cumulative[i] = total
	}
	return timestamps, cumulative
}

func TestNextDifficultySteadyState(t *testing.T) {
	params := &netparams.MainNetParams
	target := uint64(params.DifficultyTarget.Seconds())

	// Blocks arriving exactly on target at difficulty D keep difficulty D.
	timestamps, cumulative := window(params.DifficultyWindow, target, 5000)
	if got := nextDifficulty(params, timestamps, cumulative); got != 5000 {
		t.Fatalf("steady state: difficulty %d, want 5000", got)
	}

	// Blocks twice as fast double the difficulty.
	timestamps, cumulative = window(params.DifficultyWindow, target/2, 5000)
	got := nextDifficulty(params, timestamps, cumulative)
	if got < 9900 || got > 10200 {
		t.Fatalf("fast blocks: difficulty %d, want about 10000", got)
	}

	// Blocks twice as slow halve it.
	timestamps, cumulative = window(params.DifficultyWindow, target*2, 5000)
	got = nextDifficulty(params, timestamps, cumulative)
	if got < 2450 || got > 2550 {
		t.Fatalf("slow blocks: difficulty %d, want about 2500", got)
	}
}

func TestNextDifficultyGenesisAndTiny(t *testing.T) {
	params := &netparams.MainNetParams
	if got := nextDifficulty(params, nil, nil); got != 1 {
		t.Fatalf("empty window: difficulty %d, want 1", got)
	}
	timestamps, cumulative := window(1, 93, 7)
	if got := nextDifficulty(params, timestamps, cumulative); got != 1 {
		t.Fatalf("single block window: difficulty %d, want 1", got)
	}
}

func TestNextDifficultyTrimsOutliers(t *testing.T) {
	params := &netparams.MainNetParams
	target := uint64(params.DifficultyTarget.Seconds())

	timestamps, cumulative := window(params.DifficultyWindow, target, 5000)
	// One wildly skewed clock at the newest position. Trimming discards it,
	// so the result stays near the steady state instead of collapsing.
	timestamps[len(timestamps)-1] += 1000000

	got := nextDifficulty(params, timestamps, cumulative)
	untrimmedParams := *params
	untrimmedParams.DifficultyTrim = 0
	untrimmed := nextDifficulty(&untrimmedParams, timestamps, cumulative)

	if got <= untrimmed {
		t.Fatalf("trimmed difficulty %d is not above the untrimmed %d", got, untrimmed)
	}
	if got < 4000 {
		t.Fatalf("outlier dragged the trimmed difficulty down to %d", got)
	}
}

func TestNextDifficultyWindowCap(t *testing.T) {
	params := &netparams.MainNetParams
	target := uint64(params.DifficultyTarget.Seconds())

	// A window longer than DifficultyWindow must only consider its tail.
	timestamps, cumulative := window(params.DifficultyWindow*3, target, 5000)
	if got := nextDifficulty(params, timestamps, cumulative); got != 5000 {
		t.Fatalf("oversized window: difficulty %d, want 5000", got)
	}
}
