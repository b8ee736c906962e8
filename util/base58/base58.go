// Copyright (c) 2013-2015 The btcsuite developers
// Use of this source code is governed by an ISC
// license that can be found in the LICENSE file.

package base58

import (
	"math/big"

	"github.com/pkg/errors"
)

const alphabet = "123456789ABCDEFGHJKLMNPQRSTUVWXYZabcdefghijkmnopqrstuvwxyz"

const (
	// fullBlockSize is the byte size of a full input block.
	fullBlockSize = 8

	// fullEncodedBlockSize is the character size a full block encodes to.
	fullEncodedBlockSize = 11
)

// encodedBlockSizes[n] is the number of characters an n-byte partial block
// encodes to.
var encodedBlockSizes = [fullBlockSize + 1]int{0, 2, 3, 5, 6, 7, 9, 10, 11}

var decodedBlockSizes = func() map[int]int {
	sizes := make(map[int]int, len(encodedBlockSizes))
	for decoded, encoded := range encodedBlockSizes {
		sizes[encoded] = decoded
	}
	return sizes
}()

var alphabetIndex = func() map[byte]int {
	index := make(map[byte]int, len(alphabet))
	for i := 0; i < len(alphabet); i++ {
		index[alphabet[i]] = i
	}
	return index
}()

// ErrInvalidBase58 is returned when a string is not valid block base58.
var ErrInvalidBase58 = errors.New("invalid base58 string")

var base58Radix = big.NewInt(58)

func encodeBlock(block []byte) []byte {
	num := new(big.Int).SetBytes(block)
	out := make([]byte, encodedBlockSizes[len(block)])
	for i := len(out) - 1; i >= 0; i-- {
		rem := new(big.Int)
		num.DivMod(num, base58Radix, rem)
		out[i] = alphabet[rem.Int64()]
	}
	return out
}

func decodeBlock(block string) ([]byte, error) {
	size, ok := decodedBlockSizes[len(block)]
	if !ok {
		return nil, errors.Wrapf(ErrInvalidBase58, "block of %d characters", len(block))
	}
	num := new(big.Int)
	for i := 0; i < len(block); i++ {
		digit, ok := alphabetIndex[block[i]]
		if !ok {
			return nil, errors.Wrapf(ErrInvalidBase58, "character %q", block[i])
		}
		num.Mul(num, base58Radix)
		num.Add(num, big.NewInt(int64(digit)))
	}
	raw := num.Bytes()
	if len(raw) > size {
		return nil, errors.Wrap(ErrInvalidBase58, "block overflows its size")
	}
	out := make([]byte, size)
	copy(out[size-len(raw):], raw)
	return out, nil
}

// Encode encodes data in blocks of eight bytes, eleven characters per full
// block, so that the encoded length is a pure function of the input length.
func Encode(data []byte) string {
	out := make([]byte, 0, (len(data)/fullBlockSize+1)*fullEncodedBlockSize)
	for len(data) >= fullBlockSize {
		out = append(out, encodeBlock(data[:fullBlockSize])...)
		data = data[fullBlockSize:]
	}
	if len(data) > 0 {
		out = append(out, encodeBlock(data)...)
	}
	return string(out)
}

// Decode reverses Encode.
func Decode(s string) ([]byte, error) {
	out := make([]byte, 0, len(s))
	for len(s) >= fullEncodedBlockSize {
		block, err := decodeBlock(s[:fullEncodedBlockSize])
		if err != nil {
			return nil, err
		}
		out = append(out, block...)
		s = s[fullEncodedBlockSize:]
	}
	if len(s) > 0 {
		block, err := decodeBlock(s)
		if err != nil {
			return nil, err
		}
		out = append(out, block...)
	}
	return out, nil
}
