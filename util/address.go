// Copyright (c) 2013-2017 The btcsuite developers
// Use of this source code is governed by an ISC
// license that can be found in the LICENSE file.

package util

import (
	"bytes"

	"github.com/pkg/errors"

	"github.com/Menutra/Cache-Cash/crypto"
	"github.com/Menutra/Cache-Cash/util/base58"
	"github.com/Menutra/Cache-Cash/util/binaryserializer"
)

var (
	// ErrChecksumMismatch describes an error where decoding failed due
	// to a bad checksum.
	ErrChecksumMismatch = errors.New("checksum mismatch")

	// ErrMalformedAddress is returned when an address string does not
	// decode to (prefix, spend key, view key, checksum).
	ErrMalformedAddress = errors.New("malformed address")
)

// addressChecksumSize is the number of hash bytes appended to the address
// payload.
const addressChecksumSize = 4

// Address is a Cache account address: the public spend and view keys of the
// account, tagged with the network's address prefix.
type Address struct {
	Prefix   uint64
	SpendKey crypto.PublicKey
	ViewKey  crypto.PublicKey
}

// Encode serializes the address to its base58 string form.
func (a *Address) Encode() string {
	var buf bytes.Buffer
	_ = binaryserializer.PutVarInt(&buf, a.Prefix)
	buf.Write(a.SpendKey[:])
	buf.Write(a.ViewKey[:])
	checksum := crypto.FastHash(buf.Bytes())
	buf.Write(checksum[:addressChecksumSize])
	return base58.Encode(buf.Bytes())
}

// DecodeAddress parses a base58 address string and verifies its checksum and
// network prefix.
func DecodeAddress(encoded string, expectedPrefix uint64) (*Address, error) {
	raw, err := base58.Decode(encoded)
	if err != nil {
		return nil, errors.Wrap(ErrMalformedAddress, err.Error())
	}
	if len(raw) <= addressChecksumSize {
		return nil, errors.Wrap(ErrMalformedAddress, "too short")
	}

	payload := raw[:len(raw)-addressChecksumSize]
	checksum := crypto.FastHash(payload)
	if !bytes.Equal(checksum[:addressChecksumSize], raw[len(raw)-addressChecksumSize:]) {
		return nil, errors.WithStack(ErrChecksumMismatch)
	}

	r := bytes.NewReader(payload)
	prefix, err := binaryserializer.VarInt(r)
	if err != nil {
		return nil, errors.Wrap(ErrMalformedAddress, err.Error())
	}
	if prefix != expectedPrefix {
		return nil, errors.Wrapf(ErrMalformedAddress, "address prefix %#x, want %#x",
			prefix, expectedPrefix)
	}

	address := &Address{Prefix: prefix}
	if r.Len() != 2*crypto.KeySize {
		return nil, errors.Wrapf(ErrMalformedAddress, "%d key bytes", r.Len())
	}
	if _, err := r.Read(address.SpendKey[:]); err != nil {
		return nil, errors.Wrap(ErrMalformedAddress, err.Error())
	}
	if _, err := r.Read(address.ViewKey[:]); err != nil {
		return nil, errors.Wrap(ErrMalformedAddress, err.Error())
	}
	if !crypto.CheckKey(address.SpendKey) || !crypto.CheckKey(address.ViewKey) {
		return nil, errors.Wrap(ErrMalformedAddress, "keys are not curve points")
	}
	return address, nil
}
