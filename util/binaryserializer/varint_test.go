package binaryserializer

import (
	"bytes"
	"math"
	"testing"

	"github.com/pkg/errors"
)

func TestVarIntRoundTrip(t *testing.T) {
	values := []uint64{
		0, 1, 0x7f, 0x80, 0x3fff, 0x4000, 1<<21 - 1, 1 << 21,
		math.MaxUint32, math.MaxUint64 - 1, math.MaxUint64,
	}
	for _, value := range values {
		var buf bytes.Buffer
		if err := PutVarInt(&buf, value); err != nil {
			t.Fatalf("PutVarInt(%d): %v", value, err)
		}
		if buf.Len() != VarIntSerializeSize(value) {
			t.Errorf("PutVarInt(%d) wrote %d bytes, VarIntSerializeSize says %d",
				value, buf.Len(), VarIntSerializeSize(value))
		}
		got, err := VarInt(&buf)
		if err != nil {
			t.Fatalf("VarInt(%d): %v", value, err)
		}
		if got != value {
			t.Errorf("round trip of %d yielded %d", value, got)
		}
		if buf.Len() != 0 {
			t.Errorf("round trip of %d left %d bytes", value, buf.Len())
		}
	}
}

func TestVarIntRejectsNonCanonical(t *testing.T) {
	// 0x80 0x00 is a redundant encoding of zero.
	_, err := VarInt(bytes.NewReader([]byte{0x80, 0x00}))
	if !errors.Is(err, ErrVarIntOverflow) {
		t.Fatalf("redundant encoding: got %v, want ErrVarIntOverflow", err)
	}

	// Eleven continuation groups overflow a uint64.
	overlong := bytes.Repeat([]byte{0xff}, 11)
	_, err = VarInt(bytes.NewReader(overlong))
	if !errors.Is(err, ErrVarIntOverflow) {
		t.Fatalf("overlong encoding: got %v, want ErrVarIntOverflow", err)
	}

	// The tenth byte may only contribute one bit.
	tooBig := append(bytes.Repeat([]byte{0xff}, 9), 0x02)
	_, err = VarInt(bytes.NewReader(tooBig))
	if !errors.Is(err, ErrVarIntOverflow) {
		t.Fatalf("65-bit encoding: got %v, want ErrVarIntOverflow", err)
	}
}

func TestVarIntTruncated(t *testing.T) {
	_, err := VarInt(bytes.NewReader([]byte{0x80}))
	if err == nil {
		t.Fatal("truncated varint decoded")
	}
}
