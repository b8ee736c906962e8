package util

import (
	"testing"

	"github.com/Menutra/Cache-Cash/crypto"
	"github.com/Menutra/Cache-Cash/netparams"
	"github.com/Menutra/Cache-Cash/util/base58"
)

func testAddress(t *testing.T) *Address {
	t.Helper()
	spend, _, err := crypto.GenerateKeys()
	if err != nil {
		t.Fatalf("GenerateKeys: %v", err)
	}
	view, _, err := crypto.GenerateKeys()
	if err != nil {
		t.Fatalf("GenerateKeys: %v", err)
	}
	return &Address{
		Prefix:   netparams.MainNetParams.AddressPrefix,
		SpendKey: spend,
		ViewKey:  view,
	}
}

func TestAddressRoundTrip(t *testing.T) {
	address := testAddress(t)
	encoded := address.Encode()

	decoded, err := DecodeAddress(encoded, netparams.MainNetParams.AddressPrefix)
	if err != nil {
		t.Fatalf("DecodeAddress: %v", err)
	}
	if decoded.SpendKey != address.SpendKey || decoded.ViewKey != address.ViewKey {
		t.Fatal("address keys changed across the round trip")
	}
	if decoded.Prefix != address.Prefix {
		t.Fatalf("prefix %#x, want %#x", decoded.Prefix, address.Prefix)
	}
}

func TestDecodeAddressRejections(t *testing.T) {
	address := testAddress(t)
	encoded := address.Encode()

	// Wrong network prefix.
	if _, err := DecodeAddress(encoded, netparams.MainNetParams.AddressPrefix+1); err == nil {
		t.Error("wrong prefix accepted")
	}

	// Corrupted checksum: flip one character to another alphabet member.
	corrupted := []byte(encoded)
	if corrupted[10] == '2' {
		corrupted[10] = '3'
	} else {
		corrupted[10] = '2'
	}
	if _, err := DecodeAddress(string(corrupted), netparams.MainNetParams.AddressPrefix); err == nil {
		t.Error("corrupted address accepted")
	}

	// Not base58 at all.
	if _, err := DecodeAddress("0OIl+", netparams.MainNetParams.AddressPrefix); err == nil {
		t.Error("non-base58 string accepted")
	}

	// Too short to carry keys and a checksum.
	short := base58.Encode([]byte{0x01, 0x02, 0x03})
	if _, err := DecodeAddress(short, netparams.MainNetParams.AddressPrefix); err == nil {
		t.Error("truncated address accepted")
	}
}

func TestBase58RoundTrip(t *testing.T) {
	inputs := [][]byte{
		{},
		{0x00},
		{0x00, 0x00, 0xff},
		[]byte("The Cache project"),
		make([]byte, 69), // address-sized
	}
	for _, input := range inputs {
		encoded := base58.Encode(input)
		decoded, err := base58.Decode(encoded)
		if err != nil {
			t.Fatalf("Decode(%q): %v", encoded, err)
		}
		if len(decoded) != len(input) {
			t.Fatalf("round trip of %d bytes yielded %d bytes", len(input), len(decoded))
		}
		for i := range input {
			if decoded[i] != input[i] {
				t.Fatalf("round trip of %x yielded %x", input, decoded)
			}
		}
	}
}
