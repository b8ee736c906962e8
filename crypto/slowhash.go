package crypto

import (
	"crypto/aes"
	"encoding/binary"
	"math/bits"

	"golang.org/x/crypto/sha3"

	"github.com/Menutra/Cache-Cash/util/cryptohash"
)

const (
	// scratchpadSize is the size of the memory-hard scratchpad.
	scratchpadSize = 1 << 21 // 2 MiB

	// slowHashIterations is the number of mixing rounds of the main loop.
	slowHashIterations = 1 << 19

	// slowHashWindow masks a scratchpad offset to a 16-byte aligned slot.
	slowHashWindow = (scratchpadSize / 16) - 1
)

// SlowHash computes the memory-hard proof-of-work hash of the given hashing
// blob. The construction follows the CryptoNight outline: a Keccak-seeded
// 2 MiB scratchpad is filled with AES rounds, a read-modify-write loop walks
// the scratchpad data-dependently, and the final state is folded back through
// Keccak.
//
// It is deliberately expensive. Block verification paths should run it on the
// verification worker pool rather than on a caller's goroutine.
func SlowHash(data []byte) cryptohash.Hash {
	// Seed state. The full 64-byte Keccak-512 digest splits into the AES key
	// material and the two mixing registers.
	var state [64]byte
	k := sha3.NewLegacyKeccak512()
	k.Write(data)
	copy(state[:], k.Sum(nil))

	expandCipher, err := aes.NewCipher(state[:32])
	if err != nil {
		// aes.NewCipher only fails on bad key sizes.
		panic(err)
	}

	// Fill the scratchpad by repeatedly encrypting a rolling 16-byte block.
	scratchpad := make([]byte, scratchpadSize)
	var block [16]byte
	copy(block[:], state[32:48])
	for off := 0; off < scratchpadSize; off += 16 {
		expandCipher.Encrypt(block[:], block[:])
		copy(scratchpad[off:], block[:])
	}

	// Mixing registers a and b.
	var a, b [2]uint64
	a[0] = binary.LittleEndian.Uint64(state[0:8]) ^ binary.LittleEndian.Uint64(state[32:40])
	a[1] = binary.LittleEndian.Uint64(state[8:16]) ^ binary.LittleEndian.Uint64(state[40:48])
	b[0] = binary.LittleEndian.Uint64(state[16:24]) ^ binary.LittleEndian.Uint64(state[48:56])
	b[1] = binary.LittleEndian.Uint64(state[24:32]) ^ binary.LittleEndian.Uint64(state[56:64])

	mixCipher, err := aes.NewCipher(state[32:64])
	if err != nil {
		panic(err)
	}

	var c [16]byte
	for i := 0; i < slowHashIterations; i++ {
		// First half-round: AES on the slot addressed by a.
		off := (a[0] & slowHashWindow) * 16
		copy(c[:], scratchpad[off:off+16])
		mixCipher.Encrypt(c[:], c[:])
		c0 := binary.LittleEndian.Uint64(c[0:8]) ^ a[0]
		c1 := binary.LittleEndian.Uint64(c[8:16]) ^ a[1]
		binary.LittleEndian.PutUint64(scratchpad[off:], c0^b[0])
		binary.LittleEndian.PutUint64(scratchpad[off+8:], c1^b[1])

		// Second half-round: 64x64 multiply-add on the slot addressed by c.
		off = (c0 & slowHashWindow) * 16
		d0 := binary.LittleEndian.Uint64(scratchpad[off : off+8])
		d1 := binary.LittleEndian.Uint64(scratchpad[off+8 : off+16])
		hi, lo := bits.Mul64(c0, d0)
		a[0] += hi
		a[1] += lo
		binary.LittleEndian.PutUint64(scratchpad[off:], a[0])
		binary.LittleEndian.PutUint64(scratchpad[off+8:], a[1])
		a[0] ^= d0
		a[1] ^= d1

		b[0], b[1] = c0, c1
	}

	// Fold the scratchpad back into the state.
	finalCipher, err := aes.NewCipher(state[:32])
	if err != nil {
		panic(err)
	}
	copy(block[:], state[32:48])
	for off := 0; off < scratchpadSize; off += 16 {
		for j := 0; j < 16; j++ {
			block[j] ^= scratchpad[off+j]
		}
		finalCipher.Encrypt(block[:], block[:])
	}
	binary.LittleEndian.PutUint64(state[32:], a[0]^binary.LittleEndian.Uint64(block[0:8]))
	binary.LittleEndian.PutUint64(state[40:], a[1]^binary.LittleEndian.Uint64(block[8:16]))
	binary.LittleEndian.PutUint64(state[48:], b[0]^binary.LittleEndian.Uint64(state[48:56]))
	binary.LittleEndian.PutUint64(state[56:], b[1]^binary.LittleEndian.Uint64(state[56:64]))

	return FastHash(state[:])
}
