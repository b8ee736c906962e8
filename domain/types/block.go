package types

import (
	"bytes"
	"encoding/binary"
	"io"

	"github.com/pkg/errors"

	"github.com/Menutra/Cache-Cash/crypto"
	"github.com/Menutra/Cache-Cash/util/binaryserializer"
	"github.com/Menutra/Cache-Cash/util/cryptohash"
)

// MaxTxsPerBlock bounds the number of transaction hashes a decoded block may
// reference.
const MaxTxsPerBlock = 0x10000

// ErrMalformedBlock is returned by DeserializeBlock for any structural
// decoding failure.
var ErrMalformedBlock = errors.New("malformed block")

// BlockHeader holds the proof-of-work surface of a block.
type BlockHeader struct {
	MajorVersion uint64
	MinorVersion uint64
	Timestamp    uint64
	PrevHash     cryptohash.Hash
	Nonce        uint32
}

func (h *BlockHeader) serialize(w io.Writer) error {
	if err := binaryserializer.PutVarInt(w, h.MajorVersion); err != nil {
		return err
	}
	if err := binaryserializer.PutVarInt(w, h.MinorVersion); err != nil {
		return err
	}
	if err := binaryserializer.PutVarInt(w, h.Timestamp); err != nil {
		return err
	}
	if _, err := w.Write(h.PrevHash[:]); err != nil {
		return errors.WithStack(err)
	}
	return binaryserializer.PutUint32(w, binary.LittleEndian, h.Nonce)
}

func (h *BlockHeader) deserialize(r io.Reader) error {
	var err error
	if h.MajorVersion, err = binaryserializer.VarInt(r); err != nil {
		return errors.Wrap(ErrMalformedBlock, err.Error())
	}
	if h.MinorVersion, err = binaryserializer.VarInt(r); err != nil {
		return errors.Wrap(ErrMalformedBlock, err.Error())
	}
	if h.Timestamp, err = binaryserializer.VarInt(r); err != nil {
		return errors.Wrap(ErrMalformedBlock, err.Error())
	}
	if _, err = io.ReadFull(r, h.PrevHash[:]); err != nil {
		return errors.Wrap(ErrMalformedBlock, err.Error())
	}
	if h.Nonce, err = binaryserializer.Uint32(r, binary.LittleEndian); err != nil {
		return errors.Wrap(ErrMalformedBlock, err.Error())
	}
	return nil
}

// Block is a block header, its miner transaction, and the hashes of the other
// transactions it includes. Transaction bodies travel separately.
type Block struct {
	BlockHeader
	CoinbaseTx Transaction
	TxHashes   []cryptohash.Hash
}

// Serialize writes the canonical block encoding to w.
func (b *Block) Serialize(w io.Writer) error {
	if err := b.BlockHeader.serialize(w); err != nil {
		return err
	}
	if err := b.CoinbaseTx.Serialize(w); err != nil {
		return err
	}
	if err := binaryserializer.PutVarInt(w, uint64(len(b.TxHashes))); err != nil {
		return err
	}
	for i := range b.TxHashes {
		if _, err := w.Write(b.TxHashes[i][:]); err != nil {
			return errors.WithStack(err)
		}
	}
	return nil
}

// Bytes returns the canonical block encoding.
func (b *Block) Bytes() ([]byte, error) {
	var buf bytes.Buffer
	if err := b.Serialize(&buf); err != nil {
		return nil, err
	}
	return buf.Bytes(), nil
}

// DeserializeBlock reads a canonical block encoding from r.
func DeserializeBlock(r io.Reader) (*Block, error) {
	b := &Block{}
	if err := b.BlockHeader.deserialize(r); err != nil {
		return nil, err
	}
	coinbase, err := DeserializeTransaction(r)
	if err != nil {
		return nil, err
	}
	b.CoinbaseTx = *coinbase

	txCount, err := binaryserializer.VarInt(r)
	if err != nil {
		return nil, errors.Wrap(ErrMalformedBlock, err.Error())
	}
	if txCount > MaxTxsPerBlock {
		return nil, errors.Wrapf(ErrMalformedBlock, "%d transaction hashes", txCount)
	}
	b.TxHashes = make([]cryptohash.Hash, txCount)
	for i := range b.TxHashes {
		if _, err := io.ReadFull(r, b.TxHashes[i][:]); err != nil {
			return nil, errors.Wrap(ErrMalformedBlock, err.Error())
		}
	}
	return b, nil
}

// MerkleRoot computes the tree hash over the coinbase transaction hash
// followed by the included transaction hashes.
func (b *Block) MerkleRoot() (cryptohash.Hash, error) {
	coinbaseHash, err := b.CoinbaseTx.Hash()
	if err != nil {
		return cryptohash.Hash{}, err
	}
	hashes := make([]cryptohash.Hash, 0, 1+len(b.TxHashes))
	hashes = append(hashes, coinbaseHash)
	hashes = append(hashes, b.TxHashes...)
	return crypto.TreeHash(hashes), nil
}

// HashingBlob builds the byte string the proof of work and the block
// identifier are computed over: the serialized header, the merkle root, and
// the total transaction count (coinbase included).
func (b *Block) HashingBlob() ([]byte, error) {
	var buf bytes.Buffer
	if err := b.BlockHeader.serialize(&buf); err != nil {
		return nil, err
	}
	merkleRoot, err := b.MerkleRoot()
	if err != nil {
		return nil, err
	}
	buf.Write(merkleRoot[:])
	if err := binaryserializer.PutVarInt(&buf, uint64(1+len(b.TxHashes))); err != nil {
		return nil, err
	}
	return buf.Bytes(), nil
}

// Hash computes the block identifier: the hash of the length-prefixed
// hashing blob.
func (b *Block) Hash() (cryptohash.Hash, error) {
	blob, err := b.HashingBlob()
	if err != nil {
		return cryptohash.Hash{}, err
	}
	var buf bytes.Buffer
	if err := binaryserializer.PutVarInt(&buf, uint64(len(blob))); err != nil {
		return cryptohash.Hash{}, err
	}
	buf.Write(blob)
	return crypto.FastHash(buf.Bytes()), nil
}

// PowHash computes the memory-hard proof-of-work hash of the block.
func (b *Block) PowHash() (cryptohash.Hash, error) {
	blob, err := b.HashingBlob()
	if err != nil {
		return cryptohash.Hash{}, err
	}
	return crypto.SlowHash(blob), nil
}
