package types

import (
	"math"

	"github.com/pkg/errors"
)

// AbsoluteToDelta converts absolute per-amount global output indices into the
// delta form used on the wire: the first element verbatim, every following
// element as the difference from its predecessor. The input must be strictly
// increasing, which every validated ring is.
func AbsoluteToDelta(absolute []uint64) []uint64 {
	deltas := make([]uint64, len(absolute))
	var prev uint64
	for i, index := range absolute {
		deltas[i] = index - prev
		prev = index
	}
	return deltas
}

// DeltaToAbsolute converts wire-form delta indices back to absolute indices.
// A delta of zero past the first element means a repeated ring member and is
// rejected, as is a sum overflowing uint64.
func DeltaToAbsolute(deltas []uint64) ([]uint64, error) {
	absolute := make([]uint64, len(deltas))
	var prev uint64
	for i, delta := range deltas {
		if i > 0 && delta == 0 {
			return nil, errors.New("repeated global output index")
		}
		if delta > math.MaxUint64-prev {
			return nil, errors.New("global output index overflow")
		}
		prev += delta
		absolute[i] = prev
	}
	return absolute, nil
}
