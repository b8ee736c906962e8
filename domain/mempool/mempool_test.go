// Copyright (c) 2016 The btcsuite developers
// Use of this source code is governed by an ISC
// license that can be found in the LICENSE file.

package mempool

import (
	"sync"
	"testing"
	"time"

	"github.com/Menutra/Cache-Cash/crypto"
	"github.com/Menutra/Cache-Cash/domain/blockchain"
	"github.com/Menutra/Cache-Cash/domain/types"
	"github.com/Menutra/Cache-Cash/netparams"
	"github.com/Menutra/Cache-Cash/util/cryptohash"
)

// fakeChain is used by the pool harness to stand in for the blockchain
// store. It lets tests mark key images as confirmed-spent and force
// validation outcomes without building real chains.
type fakeChain struct {
	sync.RWMutex
	tipHeight   uint64
	spentImages map[crypto.KeyImage]bool
	checkErr    error
}

func newFakeChain() *fakeChain {
	return &fakeChain{spentImages: make(map[crypto.KeyImage]bool)}
}

func (c *fakeChain) CheckStandaloneTransaction(tx *types.Transaction) error {
	c.RLock()
	defer c.RUnlock()
	return c.checkErr
}

func (c *fakeChain) IsKeyImageSpent(image crypto.KeyImage) bool {
	c.RLock()
	defer c.RUnlock()
	return c.spentImages[image]
}

func (c *fakeChain) TipHeight() uint64 {
	c.RLock()
	defer c.RUnlock()
	return c.tipHeight
}

func (c *fakeChain) markSpent(image crypto.KeyImage) {
	c.Lock()
	defer c.Unlock()
	c.spentImages[image] = true
}

func (c *fakeChain) setCheckError(err error) {
	c.Lock()
	defer c.Unlock()
	c.checkErr = err
}

type poolHarness struct {
	t     *testing.T
	chain *fakeChain
	pool  *Pool
}

func newPoolHarness(t *testing.T) *poolHarness {
	t.Helper()
	chain := newFakeChain()
	params := netparams.TestNetParams
	return &poolHarness{
		t:     t,
		chain: chain,
		pool:  New(&params, chain),
	}
}

// newTx builds a structurally plausible transaction with fresh keys and a
// fee at least minFeeMultiple times the per-byte floor. extraAmount
// perturbs the output amount so distinct calls produce distinct hashes.
func (h *poolHarness) newTx(minFeeMultiple uint64, extraAmount uint64) *types.Transaction {
	h.t.Helper()
	pub, sec, err := crypto.GenerateKeys()
	if err != nil {
		h.t.Fatalf("GenerateKeys: %v", err)
	}
	image, err := crypto.GenerateKeyImage(pub, sec)
	if err != nil {
		h.t.Fatalf("GenerateKeyImage: %v", err)
	}
	destination, _, err := crypto.GenerateKeys()
	if err != nil {
		h.t.Fatalf("GenerateKeys: %v", err)
	}

	outputAmount := uint64(1000000) + extraAmount
	tx := &types.Transaction{
		Version: 1,
		Inputs: []types.TransactionInput{&types.KeyInput{
			Amount:        0, // fixed below to hit the wanted fee
			OutputIndexes: []uint64{1},
			KeyImage:      image,
		}},
		Outputs:    []types.TransactionOutput{{Amount: outputAmount, Target: destination}},
		Extra:      []byte{},
		Signatures: [][]crypto.Signature{make([]crypto.Signature, 1)},
	}

	// The fee depends on the serialized size, which depends on the input
	// amount's varint width. Iterate to a fixed point.
	params := netparams.TestNetParams
	for i := 0; i < 4; i++ {
		size, err := tx.SerializeSize()
		if err != nil {
			h.t.Fatalf("SerializeSize: %v", err)
		}
		fee := uint64(size) * params.MinimumFeePerByte * minFeeMultiple
		tx.Inputs[0].(*types.KeyInput).Amount = outputAmount + fee
	}
	return tx
}

func (h *poolHarness) mustAdd(tx *types.Transaction) {
	h.t.Helper()
	added, err := h.pool.AddTransaction(tx)
	if err != nil {
		h.t.Fatalf("AddTransaction: %v", err)
	}
	if !added {
		h.t.Fatal("AddTransaction reported a duplicate for a fresh transaction")
	}
}

func rejectCodeOf(t *testing.T, err error) RejectCode {
	t.Helper()
	ruleErr, ok := err.(TxRuleError)
	if !ok {
		t.Fatalf("error %v is not a TxRuleError", err)
	}
	return ruleErr.RejectCode
}

func TestPoolAddAndDuplicate(t *testing.T) {
	h := newPoolHarness(t)
	tx := h.newTx(2, 0)
	h.mustAdd(tx)

	if h.pool.Count() != 1 {
		t.Fatalf("pool holds %d entries", h.pool.Count())
	}
	hash, _ := tx.Hash()
	if !h.pool.HaveTransaction(hash) {
		t.Fatal("pool does not report the added transaction")
	}

	added, err := h.pool.AddTransaction(tx)
	if err != nil {
		t.Fatalf("duplicate add errored: %v", err)
	}
	if added {
		t.Fatal("duplicate add reported as fresh")
	}
}

func TestPoolDoubleSpendRejected(t *testing.T) {
	h := newPoolHarness(t)
	t1 := h.newTx(2, 0)
	h.mustAdd(t1)

	// A second transaction reusing T1's key image must be refused even
	// though everything else about it differs.
	t2 := h.newTx(2, 999)
	t2.Inputs[0].(*types.KeyInput).KeyImage = t1.Inputs[0].(*types.KeyInput).KeyImage
	_, err := h.pool.AddTransaction(t2)
	if err == nil || rejectCodeOf(t, err) != RejectKeyImageAlreadyUsed {
		t.Fatalf("pool double spend: got %v, want RejectKeyImageAlreadyUsed", err)
	}

	// And one whose key image the chain already confirms as spent.
	t3 := h.newTx(2, 1234)
	h.chain.markSpent(t3.Inputs[0].(*types.KeyInput).KeyImage)
	_, err = h.pool.AddTransaction(t3)
	if err == nil || rejectCodeOf(t, err) != RejectKeyImageAlreadyUsed {
		t.Fatalf("confirmed double spend: got %v, want RejectKeyImageAlreadyUsed", err)
	}
}

func TestPoolFeeFloorBoundary(t *testing.T) {
	h := newPoolHarness(t)

	// Exactly the floor is accepted.
	atFloor := h.newTx(1, 0)
	h.mustAdd(atFloor)

	// One atomic unit below the floor is rejected.
	below := h.newTx(1, 555)
	below.Inputs[0].(*types.KeyInput).Amount--
	_, err := h.pool.AddTransaction(below)
	if err == nil || rejectCodeOf(t, err) != RejectFeeBelowMinimum {
		t.Fatalf("below-floor fee: got %v, want RejectFeeBelowMinimum", err)
	}
}

func TestPoolChainValidationMapping(t *testing.T) {
	h := newPoolHarness(t)
	h.chain.setCheckError(blockchain.RuleError{
		ErrorCode:   blockchain.ErrRingMemberUnknown,
		Description: "no such output",
	})
	_, err := h.pool.AddTransaction(h.newTx(2, 0))
	if err == nil || rejectCodeOf(t, err) != RejectRingMemberUnknown {
		t.Fatalf("ring member mapping: got %v, want RejectRingMemberUnknown", err)
	}

	h.chain.setCheckError(blockchain.RuleError{
		ErrorCode:   blockchain.ErrSignatureInvalid,
		Description: "bad ring signature",
	})
	_, err = h.pool.AddTransaction(h.newTx(2, 1))
	if err == nil || rejectCodeOf(t, err) != RejectSignatureInvalid {
		t.Fatalf("signature mapping: got %v, want RejectSignatureInvalid", err)
	}
}

func TestPoolUnlockWindow(t *testing.T) {
	h := newPoolHarness(t)
	tx := h.newTx(2, 0)
	tx.UnlockTime = h.chain.TipHeight() + unlockHeightWindow + 1
	_, err := h.pool.AddTransaction(tx)
	if err == nil || rejectCodeOf(t, err) != RejectUnlockInFuture {
		t.Fatalf("distant unlock: got %v, want RejectUnlockInFuture", err)
	}
}

func TestPoolFillBlockTemplate(t *testing.T) {
	h := newPoolHarness(t)
	cheap := h.newTx(1, 0)
	rich := h.newTx(10, 1)
	middle := h.newTx(5, 2)
	h.mustAdd(cheap)
	h.mustAdd(rich)
	h.mustAdd(middle)

	selected := h.pool.FillBlockTemplate(1 << 30)
	if len(selected) != 3 {
		t.Fatalf("selected %d transactions", len(selected))
	}
	// Descending fee-per-byte order.
	richHash, _ := rich.Hash()
	middleHash, _ := middle.Hash()
	cheapHash, _ := cheap.Hash()
	gotOrder := make([]cryptohash.Hash, 0, 3)
	for _, candidate := range selected {
		hash, _ := candidate.Tx.Hash()
		gotOrder = append(gotOrder, hash)
	}
	if gotOrder[0] != richHash || gotOrder[1] != middleHash || gotOrder[2] != cheapHash {
		t.Fatalf("selection order %v, want fee-rate descending", gotOrder)
	}

	// A budget of one transaction keeps only the richest.
	size, _ := rich.SerializeSize()
	selected = h.pool.FillBlockTemplate(uint64(size))
	if len(selected) != 1 {
		t.Fatalf("budgeted selection of %d transactions", len(selected))
	}
	hash, _ := selected[0].Tx.Hash()
	if hash != richHash {
		t.Fatal("budgeted selection did not keep the best fee rate")
	}
}

func TestPoolBlockConnectedEviction(t *testing.T) {
	h := newPoolHarness(t)
	included := h.newTx(2, 0)
	conflicting := h.newTx(2, 1)
	surviving := h.newTx(2, 2)
	h.mustAdd(included)
	h.mustAdd(conflicting)
	h.mustAdd(surviving)

	includedHash, _ := included.Hash()

	// The connected block includes `included` and spends `conflicting`'s
	// key image through a different transaction.
	confirmedDoubleSpend := h.newTx(2, 3)
	confirmedDoubleSpend.Inputs[0].(*types.KeyInput).KeyImage =
		conflicting.Inputs[0].(*types.KeyInput).KeyImage

	h.pool.HandleBlockConnected(&blockchain.BlockConnectedData{
		Block: &types.Block{
			TxHashes: []cryptohash.Hash{includedHash},
		},
		Transactions: []*types.Transaction{included, confirmedDoubleSpend},
		Height:       10,
	})

	if h.pool.Count() != 1 {
		t.Fatalf("pool holds %d entries after the block, want 1", h.pool.Count())
	}
	survivingHash, _ := surviving.Hash()
	if !h.pool.HaveTransaction(survivingHash) {
		t.Fatal("unrelated transaction evicted")
	}
}

func TestPoolReorgRevalidation(t *testing.T) {
	h := newPoolHarness(t)
	stays := h.newTx(2, 0)
	h.mustAdd(stays)

	// A transaction from a rolled-back block returns to the pool.
	detached := h.newTx(2, 1)
	// One pooled entry becomes a double spend against the new branch.
	invalidated := h.newTx(2, 2)
	h.mustAdd(invalidated)
	h.chain.markSpent(invalidated.Inputs[0].(*types.KeyInput).KeyImage)

	h.pool.HandleChainReorganized(&blockchain.ChainReorganizedData{
		DetachedTransactions: []*types.Transaction{detached},
		ForkHeight:           5,
	})

	staysHash, _ := stays.Hash()
	detachedHash, _ := detached.Hash()
	invalidatedHash, _ := invalidated.Hash()
	if !h.pool.HaveTransaction(staysHash) {
		t.Fatal("valid entry evicted by reorg handling")
	}
	if !h.pool.HaveTransaction(detachedHash) {
		t.Fatal("detached transaction not re-pooled")
	}
	if h.pool.HaveTransaction(invalidatedHash) {
		t.Fatal("double-spending entry survived the reorg")
	}
}

func TestPoolExpiry(t *testing.T) {
	h := newPoolHarness(t)
	old := h.newTx(2, 0)
	fresh := h.newTx(2, 1)
	h.mustAdd(old)
	h.mustAdd(fresh)

	// Backdate the first entry past the pool lifetime.
	oldHash, _ := old.Hash()
	h.pool.lock.Lock()
	h.pool.entries[oldHash].ReceiveTime =
		time.Now().Add(-netparams.TestNetParams.MempoolTxLifetime - time.Minute)
	h.pool.lock.Unlock()

	removed := h.pool.RemoveExpired(time.Now())
	if removed != 1 {
		t.Fatalf("expired %d entries, want 1", removed)
	}
	if h.pool.HaveTransaction(oldHash) {
		t.Fatal("expired entry still pooled")
	}
	freshHash, _ := fresh.Hash()
	if !h.pool.HaveTransaction(freshHash) {
		t.Fatal("fresh entry expired")
	}
}
