package types

import (
	"bytes"
	"io"

	"github.com/pkg/errors"

	"github.com/Menutra/Cache-Cash/crypto"
	"github.com/Menutra/Cache-Cash/util/binaryserializer"
	"github.com/Menutra/Cache-Cash/util/cryptohash"
)

// Serialization tags of the input and output target variants. The values are
// part of the canonical binary format and must never change.
const (
	txInTagCoinbase = 0xff
	txInTagKey      = 0x02
	txOutTagKey     = 0x02
)

// MaxTxExtraSize bounds the free-form extra field of a transaction.
const MaxTxExtraSize = 1024

// MaxRingSize bounds the number of ring members a key input may reference.
const MaxRingSize = 64

// ErrMalformedTransaction is returned by DeserializeTransaction for any structural
// decoding failure.
var ErrMalformedTransaction = errors.New("malformed transaction")

// TransactionInput is either a CoinbaseInput or a KeyInput.
type TransactionInput interface {
	// ringSize is the number of ring signatures the input carries.
	ringSize() int
	serialize(w io.Writer) error
}

// CoinbaseInput is the single input of a miner transaction. It carries the
// height of the block the transaction belongs to so that coinbase hashes are
// unique per height.
type CoinbaseInput struct {
	BlockHeight uint64
}

func (in *CoinbaseInput) ringSize() int { return 0 }

func (in *CoinbaseInput) serialize(w io.Writer) error {
	if err := binaryserializer.PutUint8(w, txInTagCoinbase); err != nil {
		return err
	}
	return binaryserializer.PutVarInt(w, in.BlockHeight)
}

// KeyInput spends one output hidden among a ring of outputs of equal amount.
// OutputIndexes holds absolute per-amount global output indices in memory;
// the wire format delta-encodes them.
type KeyInput struct {
	Amount        uint64
	OutputIndexes []uint64
	KeyImage      crypto.KeyImage
}

func (in *KeyInput) ringSize() int { return len(in.OutputIndexes) }

func (in *KeyInput) serialize(w io.Writer) error {
	if err := binaryserializer.PutUint8(w, txInTagKey); err != nil {
		return err
	}
	if err := binaryserializer.PutVarInt(w, in.Amount); err != nil {
		return err
	}
	deltas := AbsoluteToDelta(in.OutputIndexes)
	if err := binaryserializer.PutVarInt(w, uint64(len(deltas))); err != nil {
		return err
	}
	for _, delta := range deltas {
		if err := binaryserializer.PutVarInt(w, delta); err != nil {
			return err
		}
	}
	_, err := w.Write(in.KeyImage[:])
	return errors.WithStack(err)
}

// TransactionOutput carries an amount locked to a one-time destination key.
type TransactionOutput struct {
	Amount uint64
	Target crypto.PublicKey
}

func (out *TransactionOutput) serialize(w io.Writer) error {
	if err := binaryserializer.PutVarInt(w, out.Amount); err != nil {
		return err
	}
	if err := binaryserializer.PutUint8(w, txOutTagKey); err != nil {
		return err
	}
	_, err := w.Write(out.Target[:])
	return errors.WithStack(err)
}

// Transaction is the Cache transaction: a prefix (everything that is signed)
// followed by one ring signature group per input.
type Transaction struct {
	Version    uint64
	UnlockTime uint64
	Inputs     []TransactionInput
	Outputs    []TransactionOutput
	Extra      []byte

	// Signatures holds one signature group per input. Coinbase inputs have
	// an empty group; a key input's group has one signature per ring member.
	Signatures [][]crypto.Signature
}

// SerializePrefix writes the signed portion of the transaction to w.
func (tx *Transaction) SerializePrefix(w io.Writer) error {
	if err := binaryserializer.PutVarInt(w, tx.Version); err != nil {
		return err
	}
	if err := binaryserializer.PutVarInt(w, tx.UnlockTime); err != nil {
		return err
	}
	if err := binaryserializer.PutVarInt(w, uint64(len(tx.Inputs))); err != nil {
		return err
	}
	for _, in := range tx.Inputs {
		if err := in.serialize(w); err != nil {
			return err
		}
	}
	if err := binaryserializer.PutVarInt(w, uint64(len(tx.Outputs))); err != nil {
		return err
	}
	for i := range tx.Outputs {
		if err := tx.Outputs[i].serialize(w); err != nil {
			return err
		}
	}
	if err := binaryserializer.PutVarInt(w, uint64(len(tx.Extra))); err != nil {
		return err
	}
	_, err := w.Write(tx.Extra)
	return errors.WithStack(err)
}

// Serialize writes the full transaction, signatures included, to w.
func (tx *Transaction) Serialize(w io.Writer) error {
	if err := tx.SerializePrefix(w); err != nil {
		return err
	}
	if len(tx.Signatures) != len(tx.Inputs) {
		return errors.Errorf("transaction has %d signature groups for %d inputs",
			len(tx.Signatures), len(tx.Inputs))
	}
	for i, in := range tx.Inputs {
		if len(tx.Signatures[i]) != in.ringSize() {
			return errors.Errorf("input %d has %d signatures for a ring of %d",
				i, len(tx.Signatures[i]), in.ringSize())
		}
		for _, sig := range tx.Signatures[i] {
			if _, err := w.Write(sig[:]); err != nil {
				return errors.WithStack(err)
			}
		}
	}
	return nil
}

// Bytes returns the canonical encoding of the full transaction.
func (tx *Transaction) Bytes() ([]byte, error) {
	var buf bytes.Buffer
	if err := tx.Serialize(&buf); err != nil {
		return nil, err
	}
	return buf.Bytes(), nil
}

// SerializeSize returns the canonical encoding size in bytes.
func (tx *Transaction) SerializeSize() (int, error) {
	b, err := tx.Bytes()
	if err != nil {
		return 0, err
	}
	return len(b), nil
}

// PrefixHash computes the hash the ring signatures commit to.
func (tx *Transaction) PrefixHash() (cryptohash.Hash, error) {
	var buf bytes.Buffer
	if err := tx.SerializePrefix(&buf); err != nil {
		return cryptohash.Hash{}, err
	}
	return crypto.FastHash(buf.Bytes()), nil
}

// Hash computes the transaction identifier: the hash of the canonical
// encoding of the full transaction.
func (tx *Transaction) Hash() (cryptohash.Hash, error) {
	b, err := tx.Bytes()
	if err != nil {
		return cryptohash.Hash{}, err
	}
	return crypto.FastHash(b), nil
}

// KeyImages returns the key images of all key inputs in input order.
func (tx *Transaction) KeyImages() []crypto.KeyImage {
	images := make([]crypto.KeyImage, 0, len(tx.Inputs))
	for _, in := range tx.Inputs {
		if keyIn, ok := in.(*KeyInput); ok {
			images = append(images, keyIn.KeyImage)
		}
	}
	return images
}

// IsCoinbase returns whether the transaction is a miner transaction: a
// single coinbase input and nothing else on the input side.
func (tx *Transaction) IsCoinbase() bool {
	if len(tx.Inputs) != 1 {
		return false
	}
	_, ok := tx.Inputs[0].(*CoinbaseInput)
	return ok
}

// DeserializeTransaction reads a canonical transaction encoding from r.
func DeserializeTransaction(r io.Reader) (*Transaction, error) {
	tx := &Transaction{}
	var err error
	if tx.Version, err = binaryserializer.VarInt(r); err != nil {
		return nil, errors.Wrap(ErrMalformedTransaction, err.Error())
	}
	if tx.UnlockTime, err = binaryserializer.VarInt(r); err != nil {
		return nil, errors.Wrap(ErrMalformedTransaction, err.Error())
	}

	inputCount, err := binaryserializer.VarInt(r)
	if err != nil {
		return nil, errors.Wrap(ErrMalformedTransaction, err.Error())
	}
	if inputCount > MaxTxInputs {
		return nil, errors.Wrapf(ErrMalformedTransaction, "%d inputs", inputCount)
	}
	tx.Inputs = make([]TransactionInput, 0, inputCount)
	for i := uint64(0); i < inputCount; i++ {
		in, err := deserializeInput(r)
		if err != nil {
			return nil, err
		}
		tx.Inputs = append(tx.Inputs, in)
	}

	outputCount, err := binaryserializer.VarInt(r)
	if err != nil {
		return nil, errors.Wrap(ErrMalformedTransaction, err.Error())
	}
	if outputCount > MaxTxOutputs {
		return nil, errors.Wrapf(ErrMalformedTransaction, "%d outputs", outputCount)
	}
	tx.Outputs = make([]TransactionOutput, 0, outputCount)
	for i := uint64(0); i < outputCount; i++ {
		var out TransactionOutput
		if out.Amount, err = binaryserializer.VarInt(r); err != nil {
			return nil, errors.Wrap(ErrMalformedTransaction, err.Error())
		}
		tag, err := binaryserializer.Uint8(r)
		if err != nil {
			return nil, errors.Wrap(ErrMalformedTransaction, err.Error())
		}
		if tag != txOutTagKey {
			return nil, errors.Wrapf(ErrMalformedTransaction, "unknown output tag %#x", tag)
		}
		if _, err := io.ReadFull(r, out.Target[:]); err != nil {
			return nil, errors.Wrap(ErrMalformedTransaction, err.Error())
		}
		tx.Outputs = append(tx.Outputs, out)
	}

	extraSize, err := binaryserializer.VarInt(r)
	if err != nil {
		return nil, errors.Wrap(ErrMalformedTransaction, err.Error())
	}
	if extraSize > MaxTxExtraSize {
		return nil, errors.Wrapf(ErrMalformedTransaction, "extra of %d bytes", extraSize)
	}
	tx.Extra = make([]byte, extraSize)
	if _, err := io.ReadFull(r, tx.Extra); err != nil {
		return nil, errors.Wrap(ErrMalformedTransaction, err.Error())
	}

	tx.Signatures = make([][]crypto.Signature, len(tx.Inputs))
	for i, in := range tx.Inputs {
		group := make([]crypto.Signature, in.ringSize())
		for j := range group {
			if _, err := io.ReadFull(r, group[j][:]); err != nil {
				return nil, errors.Wrap(ErrMalformedTransaction, err.Error())
			}
		}
		tx.Signatures[i] = group
	}
	return tx, nil
}

// Bounds on decoded transaction structure. Anything larger is rejected as
// malformed before any memory is committed.
const (
	MaxTxInputs  = 4096
	MaxTxOutputs = 4096
)

func deserializeInput(r io.Reader) (TransactionInput, error) {
	tag, err := binaryserializer.Uint8(r)
	if err != nil {
		return nil, errors.Wrap(ErrMalformedTransaction, err.Error())
	}
	switch tag {
	case txInTagCoinbase:
		height, err := binaryserializer.VarInt(r)
		if err != nil {
			return nil, errors.Wrap(ErrMalformedTransaction, err.Error())
		}
		return &CoinbaseInput{BlockHeight: height}, nil

	case txInTagKey:
		in := &KeyInput{}
		if in.Amount, err = binaryserializer.VarInt(r); err != nil {
			return nil, errors.Wrap(ErrMalformedTransaction, err.Error())
		}
		ringSize, err := binaryserializer.VarInt(r)
		if err != nil {
			return nil, errors.Wrap(ErrMalformedTransaction, err.Error())
		}
		if ringSize == 0 || ringSize > MaxRingSize {
			return nil, errors.Wrapf(ErrMalformedTransaction, "ring of %d members", ringSize)
		}
		deltas := make([]uint64, ringSize)
		for i := range deltas {
			if deltas[i], err = binaryserializer.VarInt(r); err != nil {
				return nil, errors.Wrap(ErrMalformedTransaction, err.Error())
			}
		}
		in.OutputIndexes, err = DeltaToAbsolute(deltas)
		if err != nil {
			return nil, errors.Wrap(ErrMalformedTransaction, err.Error())
		}
		if _, err := io.ReadFull(r, in.KeyImage[:]); err != nil {
			return nil, errors.Wrap(ErrMalformedTransaction, err.Error())
		}
		return in, nil

	default:
		return nil, errors.Wrapf(ErrMalformedTransaction, "unknown input tag %#x", tag)
	}
}
