package crypto

import (
	"math/big"

	"golang.org/x/crypto/sha3"

	"github.com/Menutra/Cache-Cash/util/cryptohash"
)

// FastHash computes the Keccak-256 hash of the given data. It is the hash
// used for every identifier in the system: transaction hashes, block hashes
// and the tree hash.
func FastHash(data []byte) cryptohash.Hash {
	var hash cryptohash.Hash
	h := sha3.NewLegacyKeccak256()
	h.Write(data)
	copy(hash[:], h.Sum(nil))
	return hash
}

// hashConcat hashes the concatenation of a and b.
func hashConcat(a, b cryptohash.Hash) cryptohash.Hash {
	var buf [2 * cryptohash.HashSize]byte
	copy(buf[:cryptohash.HashSize], a[:])
	copy(buf[cryptohash.HashSize:], b[:])
	return FastHash(buf[:])
}

// TreeHash computes the Merkle root over the given hashes using the
// unbalanced binary tree construction: the deepest level absorbs the tail
// hashes that exceed the largest power of two so that every leaf keeps its
// original left-to-right position.
//
// TreeHash panics if hashes is empty. Callers always have at least the
// coinbase transaction hash.
func TreeHash(hashes []cryptohash.Hash) cryptohash.Hash {
	count := len(hashes)
	switch count {
	case 0:
		panic("tree hash of an empty hash list")
	case 1:
		return hashes[0]
	case 2:
		return hashConcat(hashes[0], hashes[1])
	}

	// cnt is the largest power of two not exceeding count.
	cnt := 1
	for cnt*2 <= count {
		cnt *= 2
	}

	ints := make([]cryptohash.Hash, cnt)
	copy(ints, hashes[:2*cnt-count])

	for i, j := 2*cnt-count, 2*cnt-count; j < cnt; i, j = i+2, j+1 {
		ints[j] = hashConcat(hashes[i], hashes[i+1])
	}

	for cnt > 2 {
		cnt /= 2
		for i := 0; i < cnt; i++ {
			ints[i] = hashConcat(ints[2*i], ints[2*i+1])
		}
	}

	return hashConcat(ints[0], ints[1])
}

// oneLsh256 is 1 shifted left 256 bits.
var oneLsh256 = new(big.Int).Lsh(big.NewInt(1), 256)

// CheckHashAgainstDifficulty returns whether the given proof-of-work hash
// satisfies the given difficulty, i.e. whether hash * difficulty fits in 256
// bits. The hash is interpreted as a little-endian 256-bit integer.
func CheckHashAgainstDifficulty(hash cryptohash.Hash, difficulty uint64) bool {
	if difficulty == 0 {
		return false
	}

	var reversed [cryptohash.HashSize]byte
	for i := 0; i < cryptohash.HashSize; i++ {
		reversed[i] = hash[cryptohash.HashSize-1-i]
	}

	hashNum := new(big.Int).SetBytes(reversed[:])
	product := hashNum.Mul(hashNum, new(big.Int).SetUint64(difficulty))
	return product.Cmp(oneLsh256) < 0
}
