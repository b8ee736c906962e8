package binaryserializer

import (
	"io"

	"github.com/pkg/errors"
)

// MaxVarIntPayload is the maximum number of bytes an encoded varint can
// occupy. A uint64 needs at most ten 7-bit groups.
const MaxVarIntPayload = 10

// ErrVarIntOverflow is returned when a varint on the wire does not fit into a
// uint64 or is not minimally encoded.
var ErrVarIntOverflow = errors.New("varint overflows a 64-bit integer")

// PutVarInt serializes val to the given writer using the canonical base-128
// variable length encoding. All integers in the Cache binary format use this
// encoding so that serialization is deterministic for hashing.
func PutVarInt(w io.Writer, val uint64) error {
	var buf [MaxVarIntPayload]byte
	n := 0
	for val >= 0x80 {
		buf[n] = byte(val) | 0x80
		val >>= 7
		n++
	}
	buf[n] = byte(val)
	_, err := w.Write(buf[:n+1])
	return errors.WithStack(err)
}

// VarInt deserializes a canonical base-128 variable length integer from the
// given reader. Encodings longer than MaxVarIntPayload bytes, or with a
// redundant trailing zero group, are rejected.
func VarInt(r io.Reader) (uint64, error) {
	var val uint64
	for shift := uint(0); ; shift += 7 {
		if shift >= MaxVarIntPayload*7 {
			return 0, errors.WithStack(ErrVarIntOverflow)
		}
		b, err := Uint8(r)
		if err != nil {
			return 0, err
		}
		if shift == 63 && b > 1 {
			return 0, errors.WithStack(ErrVarIntOverflow)
		}
		if b == 0 && shift != 0 {
			return 0, errors.Wrap(ErrVarIntOverflow, "non-canonical varint")
		}
		val |= uint64(b&0x7f) << shift
		if b&0x80 == 0 {
			return val, nil
		}
	}
}

// VarIntSerializeSize returns the number of bytes it would take to serialize
// val as a variable length integer.
func VarIntSerializeSize(val uint64) int {
	size := 1
	for val >= 0x80 {
		size++
		val >>= 7
	}
	return size
}
