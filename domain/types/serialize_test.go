package types

import (
	"bytes"
	"reflect"
	"testing"

	"github.com/davecgh/go-spew/spew"

	"github.com/Menutra/Cache-Cash/crypto"
	"github.com/Menutra/Cache-Cash/util/cryptohash"
)

func testKeyInput(t *testing.T, amount uint64, indexes ...uint64) (*KeyInput, []crypto.Signature) {
	t.Helper()
	pub, sec, err := crypto.GenerateKeys()
	if err != nil {
		t.Fatalf("GenerateKeys: %v", err)
	}
	image, err := crypto.GenerateKeyImage(pub, sec)
	if err != nil {
		t.Fatalf("GenerateKeyImage: %v", err)
	}
	sigs := make([]crypto.Signature, len(indexes))
	for i := range sigs {
		sigs[i][0] = byte(i + 1)
	}
	return &KeyInput{Amount: amount, OutputIndexes: indexes, KeyImage: image}, sigs
}

func testTransaction(t *testing.T) *Transaction {
	t.Helper()
	in, sigs := testKeyInput(t, 7000, 3, 9, 41)
	outKey, _, err := crypto.GenerateKeys()
	if err != nil {
		t.Fatalf("GenerateKeys: %v", err)
	}
	return &Transaction{
		Version:    1,
		UnlockTime: 0,
		Inputs:     []TransactionInput{in},
		Outputs: []TransactionOutput{
			{Amount: 5000, Target: outKey},
			{Amount: 1900, Target: outKey},
		},
		Extra:      []byte{0x01, 0xab},
		Signatures: [][]crypto.Signature{sigs},
	}
}

func TestTransactionRoundTrip(t *testing.T) {
	tx := testTransaction(t)

	encoded, err := tx.Bytes()
	if err != nil {
		t.Fatalf("Serialize: %v", err)
	}
	decoded, err := DeserializeTransaction(bytes.NewReader(encoded))
	if err != nil {
		t.Fatalf("Deserialize: %v", err)
	}
	if !reflect.DeepEqual(tx, decoded) {
		t.Fatalf("round trip mismatch:\nbefore: %s\nafter: %s",
			spew.Sdump(tx), spew.Sdump(decoded))
	}

	// The identifier must be stable across the round trip.
	wantHash, err := tx.Hash()
	if err != nil {
		t.Fatalf("Hash: %v", err)
	}
	gotHash, err := decoded.Hash()
	if err != nil {
		t.Fatalf("Hash: %v", err)
	}
	if wantHash != gotHash {
		t.Fatalf("hash changed across round trip: %s != %s", wantHash, gotHash)
	}
}

func TestCoinbaseTransactionRoundTrip(t *testing.T) {
	outKey, _, err := crypto.GenerateKeys()
	if err != nil {
		t.Fatalf("GenerateKeys: %v", err)
	}
	tx := &Transaction{
		Version:    1,
		UnlockTime: 60,
		Inputs:     []TransactionInput{&CoinbaseInput{BlockHeight: 42}},
		Outputs:    []TransactionOutput{{Amount: 1000000, Target: outKey}},
		Extra:      nil,
		Signatures: [][]crypto.Signature{{}},
	}
	if !tx.IsCoinbase() {
		t.Fatal("coinbase transaction not recognized")
	}

	encoded, err := tx.Bytes()
	if err != nil {
		t.Fatalf("Serialize: %v", err)
	}
	decoded, err := DeserializeTransaction(bytes.NewReader(encoded))
	if err != nil {
		t.Fatalf("Deserialize: %v", err)
	}
	if !decoded.IsCoinbase() {
		t.Fatal("decoded coinbase transaction not recognized")
	}
	if got := decoded.Inputs[0].(*CoinbaseInput).BlockHeight; got != 42 {
		t.Fatalf("coinbase height = %d, want 42", got)
	}
	if decoded.Extra == nil {
		// An empty extra decodes to an empty non-nil slice; normalize for
		// the comparison below.
		t.Fatal("extra decoded to nil")
	}
	tx.Extra = []byte{}
	if !reflect.DeepEqual(tx, decoded) {
		t.Fatalf("round trip mismatch:\nbefore: %s\nafter: %s",
			spew.Sdump(tx), spew.Sdump(decoded))
	}
}

func TestBlockRoundTrip(t *testing.T) {
	tx := testTransaction(t)
	txHash, err := tx.Hash()
	if err != nil {
		t.Fatalf("Hash: %v", err)
	}

	outKey, _, err := crypto.GenerateKeys()
	if err != nil {
		t.Fatalf("GenerateKeys: %v", err)
	}
	block := &Block{
		BlockHeader: BlockHeader{
			MajorVersion: 1,
			MinorVersion: 0,
			Timestamp:    1600000000,
			PrevHash:     crypto.FastHash([]byte("parent")),
			Nonce:        0xdeadbeef,
		},
		CoinbaseTx: Transaction{
			Version:    1,
			Inputs:     []TransactionInput{&CoinbaseInput{BlockHeight: 7}},
			Outputs:    []TransactionOutput{{Amount: 5, Target: outKey}},
			Extra:      []byte{},
			Signatures: [][]crypto.Signature{{}},
		},
		TxHashes: []cryptohash.Hash{txHash},
	}

	encoded, err := block.Bytes()
	if err != nil {
		t.Fatalf("Serialize: %v", err)
	}
	decoded, err := DeserializeBlock(bytes.NewReader(encoded))
	if err != nil {
		t.Fatalf("Deserialize: %v", err)
	}
	if !reflect.DeepEqual(block, decoded) {
		t.Fatalf("round trip mismatch:\nbefore: %s\nafter: %s",
			spew.Sdump(block), spew.Sdump(decoded))
	}

	wantHash, err := block.Hash()
	if err != nil {
		t.Fatalf("Hash: %v", err)
	}
	gotHash, err := decoded.Hash()
	if err != nil {
		t.Fatalf("Hash: %v", err)
	}
	if wantHash != gotHash {
		t.Fatalf("hash changed across round trip: %s != %s", wantHash, gotHash)
	}
}

func TestGlobalIndexDeltaCoding(t *testing.T) {
	absolute := []uint64{0, 4, 5, 100}
	deltas := AbsoluteToDelta(absolute)
	if want := []uint64{0, 4, 1, 95}; !reflect.DeepEqual(deltas, want) {
		t.Fatalf("AbsoluteToDelta = %v, want %v", deltas, want)
	}
	back, err := DeltaToAbsolute(deltas)
	if err != nil {
		t.Fatalf("DeltaToAbsolute: %v", err)
	}
	if !reflect.DeepEqual(back, absolute) {
		t.Fatalf("delta round trip = %v, want %v", back, absolute)
	}

	// A repeated member encodes as a zero delta and must be rejected.
	if _, err := DeltaToAbsolute([]uint64{3, 0}); err == nil {
		t.Fatal("zero delta past the first element accepted")
	}
}

func TestDeserializeTransactionRejections(t *testing.T) {
	tx := testTransaction(t)
	encoded, err := tx.Bytes()
	if err != nil {
		t.Fatalf("Serialize: %v", err)
	}

	// Truncations at every byte boundary must fail, never panic.
	for cut := 0; cut < len(encoded); cut++ {
		if _, err := DeserializeTransaction(bytes.NewReader(encoded[:cut])); err == nil {
			t.Fatalf("truncation at %d bytes decoded successfully", cut)
		}
	}

	// Unknown input tag.
	bad := append([]byte{}, encoded...)
	bad[2+1] = 0x77 // version, unlock time, input count, then the tag byte
	if _, err := DeserializeTransaction(bytes.NewReader(bad)); err == nil {
		t.Fatal("unknown input tag accepted")
	}
}
