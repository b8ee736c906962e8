package crypto

import (
	"testing"

	"github.com/Menutra/Cache-Cash/util/cryptohash"
)

// TestFastHashStability checks that the hash of a fixed input never changes.
func TestFastHashStability(t *testing.T) {
	got := FastHash([]byte("")).String()
	// Keccak-256 of the empty string.
	want := "c5d2460186f7233c927e7db2dcc703c0e500b653ca82273b7bfad8045d85a470"
	if got != want {
		t.Fatalf("FastHash(\"\") = %s, want %s", got, want)
	}
}

func hashOfByte(b byte) cryptohash.Hash {
	return FastHash([]byte{b})
}

// TestTreeHash checks the unbalanced tree construction for the sizes that
// exercise every branch: single leaf, pair, power of two, and a tail that
// spills into the deepest level.
func TestTreeHash(t *testing.T) {
	h := []cryptohash.Hash{
		hashOfByte(0), hashOfByte(1), hashOfByte(2), hashOfByte(3),
		hashOfByte(4), hashOfByte(5),
	}

	if got := TreeHash(h[:1]); got != h[0] {
		t.Errorf("single leaf: got %s, want the leaf itself", got)
	}

	if got, want := TreeHash(h[:2]), hashConcat(h[0], h[1]); got != want {
		t.Errorf("two leaves: got %s, want %s", got, want)
	}

	// Four leaves: a perfectly balanced tree.
	want := hashConcat(hashConcat(h[0], h[1]), hashConcat(h[2], h[3]))
	if got := TreeHash(h[:4]); got != want {
		t.Errorf("four leaves: got %s, want %s", got, want)
	}

	// Six leaves: cnt=4, the last four leaves pair into the deepest level
	// while the first two pass through untouched.
	level := []cryptohash.Hash{h[0], h[1], hashConcat(h[2], h[3]), hashConcat(h[4], h[5])}
	want = hashConcat(hashConcat(level[0], level[1]), hashConcat(level[2], level[3]))
	if got := TreeHash(h); got != want {
		t.Errorf("six leaves: got %s, want %s", got, want)
	}
}

// TestCheckHashAgainstDifficulty exercises the exact acceptance boundary:
// a hash whose product with the difficulty still fits 256 bits passes, one
// past the boundary fails.
func TestCheckHashAgainstDifficulty(t *testing.T) {
	// hash = 2^255 as a little-endian 256-bit integer.
	var half cryptohash.Hash
	half[cryptohash.HashSize-1] = 0x80

	tests := []struct {
		name       string
		hash       cryptohash.Hash
		difficulty uint64
		want       bool
	}{
		{"zero difficulty never passes", cryptohash.Hash{}, 0, false},
		{"difficulty one accepts anything", half, 1, true},
		{"exact overflow boundary", half, 2, false},
		{"below boundary", cryptohash.Hash{0x01}, ^uint64(0), true},
	}
	for _, test := range tests {
		if got := CheckHashAgainstDifficulty(test.hash, test.difficulty); got != test.want {
			t.Errorf("%s: got %v, want %v", test.name, got, test.want)
		}
	}
}

// TestSlowHashDeterminism checks that the proof-of-work hash is a pure
// function of its input and differs across inputs.
func TestSlowHashDeterminism(t *testing.T) {
	if testing.Short() {
		t.Skip("skipping memory-hard hash in short mode")
	}
	first := SlowHash([]byte("cache"))
	second := SlowHash([]byte("cache"))
	if first != second {
		t.Fatalf("SlowHash is not deterministic: %s != %s", first, second)
	}
	other := SlowHash([]byte("cache!"))
	if first == other {
		t.Fatalf("distinct inputs hashed to %s", first)
	}
}
