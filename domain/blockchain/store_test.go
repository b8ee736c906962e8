package blockchain

import (
	"testing"
	"time"

	"github.com/Menutra/Cache-Cash/crypto"
	"github.com/Menutra/Cache-Cash/domain/types"
	"github.com/Menutra/Cache-Cash/netparams"
	"github.com/Menutra/Cache-Cash/util"
	"github.com/Menutra/Cache-Cash/util/cryptohash"
)

// testParams returns a network profile tuned for fast test chains: a short
// coinbase unlock window and no checkpoints.
func testParams() *netparams.Params {
	params := netparams.TestNetParams
	params.CoinbaseUnlockWindow = 2
	return &params
}

// harness drives a store through hand-built blocks with full bookkeeping of
// the secrets needed to spend mined outputs later.
type harness struct {
	t      *testing.T
	params *netparams.Params
	store  *Store

	minerAddress *util.Address
	viewSec      crypto.SecretKey
	spendSec     crypto.SecretKey

	// generated tracks cumulative emission per block hash so the harness
	// can compute the reward at any parent.
	generated map[cryptohash.Hash]uint64
	// timestamps per block hash, to produce monotone successors.
	timestamps map[cryptohash.Hash]uint64
}

func newHarness(t *testing.T) *harness {
	t.Helper()
	params := testParams()

	viewPub, viewSec, err := crypto.GenerateKeys()
	if err != nil {
		t.Fatalf("GenerateKeys: %v", err)
	}
	spendPub, spendSec, err := crypto.GenerateKeys()
	if err != nil {
		t.Fatalf("GenerateKeys: %v", err)
	}

	store, err := New(params, nil, nil)
	if err != nil {
		t.Fatalf("New: %v", err)
	}

	h := &harness{
		t:      t,
		params: params,
		store:  store,
		minerAddress: &util.Address{
			Prefix:   params.AddressPrefix,
			SpendKey: spendPub,
			ViewKey:  viewPub,
		},
		viewSec:    viewSec,
		spendSec:   spendSec,
		generated:  make(map[cryptohash.Hash]uint64),
		timestamps: make(map[cryptohash.Hash]uint64),
	}
	genesis := params.GenesisBlock()
	genesisHash, err := genesis.Hash()
	if err != nil {
		t.Fatalf("genesis hash: %v", err)
	}
	h.generated[genesisHash] = genesis.CoinbaseTx.Outputs[0].Amount
	h.timestamps[genesisHash] = genesis.Timestamp
	return h
}

// buildBlock assembles a valid block extending parentHash with the given
// transactions.
func (h *harness) buildBlock(parentHash cryptohash.Hash, parentHeight uint64,
	transactions []*types.Transaction) *types.Block {

	h.t.Helper()
	height := parentHeight + 1

	var fees uint64
	txHashes := make([]cryptohash.Hash, 0, len(transactions))
	for _, tx := range transactions {
		hash, err := tx.Hash()
		if err != nil {
			h.t.Fatalf("tx hash: %v", err)
		}
		txHashes = append(txHashes, hash)
		fee, err := TransactionFee(tx)
		if err != nil {
			h.t.Fatalf("tx fee: %v", err)
		}
		fees += fee
	}

	reward := h.params.BlockReward(h.generated[parentHash])
	coinbase, err := buildCoinbase(h.minerAddress, height,
		height+h.params.CoinbaseUnlockWindow, reward+fees, nil)
	if err != nil {
		h.t.Fatalf("buildCoinbase: %v", err)
	}

	block := &types.Block{
		BlockHeader: types.BlockHeader{
			MajorVersion: 1,
			Timestamp:    h.timestamps[parentHash] + 93,
			PrevHash:     parentHash,
		},
		CoinbaseTx: *coinbase,
		TxHashes:   txHashes,
	}
	blockHash, err := block.Hash()
	if err != nil {
		h.t.Fatalf("block hash: %v", err)
	}
	h.generated[blockHash] = h.generated[parentHash] + reward
	h.timestamps[blockHash] = block.Timestamp
	return block
}

// addBlock builds and commits a block, asserting the expected status.
func (h *harness) addBlock(parentHash cryptohash.Hash, parentHeight uint64,
	transactions []*types.Transaction, want BlockAddedStatus) *types.Block {

	h.t.Helper()
	block := h.buildBlock(parentHash, parentHeight, transactions)
	status, err := h.store.AddBlock(block, transactions, BFNoPoWCheck)
	if err != nil {
		h.t.Fatalf("AddBlock at height %d: %v", parentHeight+1, err)
	}
	if status != want {
		h.t.Fatalf("AddBlock at height %d: status %s, want %s", parentHeight+1, status, want)
	}
	return block
}

// extendMain grows the main chain by count blocks and returns the tip.
func (h *harness) extendMain(count int) *types.Block {
	h.t.Helper()
	var tip *types.Block
	for i := 0; i < count; i++ {
		tip = h.addBlock(h.store.TipHash(), h.store.TipHeight(), nil, StatusAddedToMainChain)
	}
	return tip
}

// spendCoinbase builds a transaction spending the coinbase output of the
// given block with a ring of one.
func (h *harness) spendCoinbase(block *types.Block, fee uint64) *types.Transaction {
	h.t.Helper()

	coinbase := &block.CoinbaseTx
	amount := coinbase.Outputs[0].Amount
	if amount <= fee {
		h.t.Fatalf("coinbase of %d cannot pay a fee of %d", amount, fee)
	}

	// The transaction public key leads the coinbase extra field.
	var txPub crypto.PublicKey
	copy(txPub[:], coinbase.Extra[1:1+crypto.KeySize])

	derivation, err := crypto.GenerateKeyDerivation(txPub, h.viewSec)
	if err != nil {
		h.t.Fatalf("GenerateKeyDerivation: %v", err)
	}
	outSec, err := crypto.DeriveSecretKey(derivation, 0, h.spendSec)
	if err != nil {
		h.t.Fatalf("DeriveSecretKey: %v", err)
	}
	outPub := coinbase.Outputs[0].Target
	image, err := crypto.GenerateKeyImage(outPub, outSec)
	if err != nil {
		h.t.Fatalf("GenerateKeyImage: %v", err)
	}

	// Every test block has a distinct reward, so the spent output is the
	// only one of its amount: global index 0.
	destination, _, err := crypto.GenerateKeys()
	if err != nil {
		h.t.Fatalf("GenerateKeys: %v", err)
	}
	tx := &types.Transaction{
		Version: 1,
		Inputs: []types.TransactionInput{&types.KeyInput{
			Amount:        amount,
			OutputIndexes: []uint64{0},
			KeyImage:      image,
		}},
		Outputs: []types.TransactionOutput{{Amount: amount - fee, Target: destination}},
		Extra:   []byte{},
	}
	prefixHash, err := tx.PrefixHash()
	if err != nil {
		h.t.Fatalf("PrefixHash: %v", err)
	}
	sigs, err := crypto.GenerateRingSignature(prefixHash, image,
		[]crypto.PublicKey{outPub}, outSec, 0)
	if err != nil {
		h.t.Fatalf("GenerateRingSignature: %v", err)
	}
	tx.Signatures = [][]crypto.Signature{sigs}
	return tx
}

func TestGenesisState(t *testing.T) {
	h := newHarness(t)
	if got := h.store.TipHeight(); got != 0 {
		t.Fatalf("genesis tip height = %d", got)
	}
	genesis := h.params.GenesisBlock()
	wantHash, err := genesis.Hash()
	if err != nil {
		t.Fatalf("genesis hash: %v", err)
	}
	if got := h.store.TipHash(); got != wantHash {
		t.Fatalf("genesis tip hash = %s, want %s", got, wantHash)
	}

	status, err := h.store.AddBlock(genesis, nil, BFNoPoWCheck)
	if err != nil {
		t.Fatalf("re-adding genesis: %v", err)
	}
	if status != StatusAlreadyHave {
		t.Fatalf("re-adding genesis: status %s", status)
	}
}

func TestAddBlockIdempotence(t *testing.T) {
	h := newHarness(t)
	block := h.extendMain(1)

	heightBefore := h.store.TipHeight()
	status, err := h.store.AddBlock(block, nil, BFNoPoWCheck)
	if err != nil {
		t.Fatalf("second AddBlock: %v", err)
	}
	if status != StatusAlreadyHave {
		t.Fatalf("second AddBlock: status %s", status)
	}
	if h.store.TipHeight() != heightBefore {
		t.Fatal("duplicate add changed the chain state")
	}
}

func TestOrphanRejected(t *testing.T) {
	h := newHarness(t)
	unknownParent := crypto.FastHash([]byte("nowhere"))
	h.timestamps[unknownParent] = uint64(time.Now().Unix())
	h.generated[unknownParent] = 0
	block := h.buildBlock(unknownParent, 5, nil)

	_, err := h.store.AddBlock(block, nil, BFNoPoWCheck)
	if !IsRuleErrorCode(err, ErrOrphanBlock) {
		t.Fatalf("orphan add: got %v, want ErrOrphanBlock", err)
	}
}

func TestTimestampBoundary(t *testing.T) {
	h := newHarness(t)

	// With only genesis behind it, the median is the genesis timestamp.
	genesisHash := h.store.TipHash()
	median := h.timestamps[genesisHash]

	tooOld := h.buildBlock(genesisHash, 0, nil)
	tooOld.Timestamp = median - 1
	if _, err := h.store.AddBlock(tooOld, nil, BFNoPoWCheck); !IsRuleErrorCode(err, ErrTimestampTooOld) {
		t.Fatalf("below-median timestamp: got %v, want ErrTimestampTooOld", err)
	}

	atMedian := h.buildBlock(genesisHash, 0, nil)
	atMedian.Timestamp = median
	if _, err := h.store.AddBlock(atMedian, nil, BFNoPoWCheck); err != nil {
		t.Fatalf("timestamp equal to the median rejected: %v", err)
	}
}

func TestCheckpointEnforcement(t *testing.T) {
	h := newHarness(t)
	wrong := crypto.FastHash([]byte("somebody else's block"))
	if err := h.store.checkpoints.Add(1, wrong); err != nil {
		t.Fatalf("Add checkpoint: %v", err)
	}
	rebuilt := h.buildBlock(h.store.TipHash(), 0, nil)
	if _, err := h.store.AddBlock(rebuilt, nil, BFNoPoWCheck); !IsRuleErrorCode(err, ErrCheckpointMismatch) {
		t.Fatalf("checkpoint contradiction: got %v, want ErrCheckpointMismatch", err)
	}

	// A matching checkpoint admits the block.
	h2 := newHarness(t)
	ownBlock := h2.buildBlock(h2.store.TipHash(), 0, nil)
	ownHash, err := ownBlock.Hash()
	if err != nil {
		t.Fatalf("block hash: %v", err)
	}
	if err := h2.store.checkpoints.Add(1, ownHash); err != nil {
		t.Fatalf("Add checkpoint: %v", err)
	}
	if _, err := h2.store.AddBlock(ownBlock, nil, BFNoPoWCheck); err != nil {
		t.Fatalf("checkpoint-matching block rejected: %v", err)
	}
}

func TestSpendTrackingAndDoubleSpend(t *testing.T) {
	h := newHarness(t)
	mined := h.extendMain(1)
	// Pass the unlock window.
	h.extendMain(int(h.params.CoinbaseUnlockWindow))

	spend := h.spendCoinbase(mined, 1000)
	image := spend.KeyImages()[0]
	if h.store.IsKeyImageSpent(image) {
		t.Fatal("key image spent before the spend")
	}

	h.addBlock(h.store.TipHash(), h.store.TipHeight(),
		[]*types.Transaction{spend}, StatusAddedToMainChain)
	if !h.store.IsKeyImageSpent(image) {
		t.Fatal("key image not recorded after the spend")
	}

	// A second spend of the same output must be rejected.
	doubleSpend := h.spendCoinbase(mined, 2000)
	block := h.buildBlock(h.store.TipHash(), h.store.TipHeight(),
		[]*types.Transaction{doubleSpend})
	_, err := h.store.AddBlock(block, []*types.Transaction{doubleSpend}, BFNoPoWCheck)
	if !IsRuleErrorCode(err, ErrKeyImageSpent) {
		t.Fatalf("double spend: got %v, want ErrKeyImageSpent", err)
	}
}

func TestPopBlockRestoresState(t *testing.T) {
	h := newHarness(t)
	mined := h.extendMain(1)
	h.extendMain(int(h.params.CoinbaseUnlockWindow))

	spend := h.spendCoinbase(mined, 1000)
	spendBlock := h.addBlock(h.store.TipHash(), h.store.TipHeight(),
		[]*types.Transaction{spend}, StatusAddedToMainChain)
	image := spend.KeyImages()[0]

	tipBefore := h.store.TipHash()
	heightBefore := h.store.TipHeight()

	poppedBlock, poppedTxs, err := h.store.PopBlock()
	if err != nil {
		t.Fatalf("PopBlock: %v", err)
	}
	if got, _ := poppedBlock.Hash(); got != tipBefore {
		t.Fatalf("popped %s, tip was %s", got, tipBefore)
	}
	if len(poppedTxs) != 1 {
		t.Fatalf("popped %d transactions", len(poppedTxs))
	}
	if h.store.IsKeyImageSpent(image) {
		t.Fatal("key image still spent after pop")
	}
	if h.store.TipHeight() != heightBefore-1 {
		t.Fatalf("tip height %d after pop", h.store.TipHeight())
	}

	// Re-applying the popped block restores the pre-pop state.
	status, err := h.store.AddBlock(spendBlock, poppedTxs, BFNoPoWCheck)
	if err != nil {
		t.Fatalf("re-adding popped block: %v", err)
	}
	if status != StatusAddedToMainChain {
		t.Fatalf("re-adding popped block: status %s", status)
	}
	if h.store.TipHash() != tipBefore || !h.store.IsKeyImageSpent(image) {
		t.Fatal("state after pop and re-add differs from the pre-pop state")
	}
}

func TestReorganization(t *testing.T) {
	h := newHarness(t)

	// Main: genesis <- a1 <- a2.
	h.extendMain(2)
	mainTip := h.store.TipHash()

	// Alt from genesis: b1, b2 stay below main's cumulative difficulty,
	// b3 overtakes it.
	genesisHash, err := h.params.GenesisBlock().Hash()
	if err != nil {
		t.Fatalf("genesis hash: %v", err)
	}

	b1 := h.addBlock(genesisHash, 0, nil, StatusAddedToAltChain)
	b1Hash, _ := b1.Hash()
	b2 := h.addBlock(b1Hash, 1, nil, StatusAddedToAltChain)
	b2Hash, _ := b2.Hash()
	if h.store.TipHash() != mainTip {
		t.Fatal("alt branch moved the tip prematurely")
	}

	var gotReorg *ChainReorganizedData
	h.store.Subscribe(func(n *Notification) {
		if n.Type == NTChainReorganized {
			gotReorg = n.Data.(*ChainReorganizedData)
		}
	})

	b3 := h.addBlock(b2Hash, 2, nil, StatusAddedToMainChain)
	b3Hash, _ := b3.Hash()
	if h.store.TipHash() != b3Hash {
		t.Fatalf("tip is %s after reorg, want %s", h.store.TipHash(), b3Hash)
	}
	if h.store.TipHeight() != 3 {
		t.Fatalf("tip height %d after reorg", h.store.TipHeight())
	}
	if gotReorg == nil {
		t.Fatal("no reorganization notification")
	}
	if gotReorg.ForkHeight != 0 {
		t.Fatalf("fork height %d, want 0", gotReorg.ForkHeight)
	}
	if !h.store.IsOnMainChain(b1Hash) || !h.store.IsOnMainChain(b2Hash) {
		t.Fatal("branch blocks not on main after reorg")
	}
	if h.store.IsOnMainChain(mainTip) {
		t.Fatal("old tip still marked main after reorg")
	}
}

func TestSparseChainShape(t *testing.T) {
	h := newHarness(t)
	h.extendMain(10) // heights 0..10

	sparse := h.store.BuildSparseChain()
	genesisHash, _ := h.params.GenesisBlock().Hash()

	// Expected offsets from the tip: 0, 1, 2, 4, 8, then genesis.
	wantHeights := []uint64{10, 9, 8, 6, 2, 0}
	if len(sparse) != len(wantHeights) {
		t.Fatalf("sparse chain of %d entries, want %d: %v", len(sparse), len(wantHeights), sparse)
	}
	for i, wantHeight := range wantHeights {
		wantHash, err := h.store.BlockHashByHeight(wantHeight)
		if err != nil {
			t.Fatalf("BlockHashByHeight(%d): %v", wantHeight, err)
		}
		if sparse[i] != wantHash {
			t.Errorf("sparse[%d] = %s, want the hash at height %d", i, sparse[i], wantHeight)
		}
	}
	if sparse[len(sparse)-1] != genesisHash {
		t.Error("sparse chain does not end at genesis")
	}
}

func TestFindSupplement(t *testing.T) {
	h := newHarness(t)
	h.extendMain(10)

	// A remote that shares our prefix up to height 4.
	shared, err := h.store.BlockHashByHeight(4)
	if err != nil {
		t.Fatalf("BlockHashByHeight: %v", err)
	}
	remoteSparse := []cryptohash.Hash{
		crypto.FastHash([]byte("their tip")),
		shared,
	}

	startHeight, totalHeight, ids, ok := h.store.FindSupplement(remoteSparse, 4)
	if !ok {
		t.Fatal("no supplement found")
	}
	if startHeight != 4 {
		t.Fatalf("split height %d, want 4", startHeight)
	}
	if totalHeight != 10 {
		t.Fatalf("total height %d, want 10", totalHeight)
	}
	if len(ids) != 4 {
		t.Fatalf("%d ids, want the cap of 4", len(ids))
	}
	if ids[0] != shared {
		t.Fatal("supplement does not start at the split point")
	}

	// A remote sharing nothing at all.
	_, _, _, ok = h.store.FindSupplement([]cryptohash.Hash{crypto.FastHash([]byte("alien"))}, 4)
	if ok {
		t.Fatal("supplement found for an unknown sparse chain")
	}
}

func TestBlockTemplateRoundTrip(t *testing.T) {
	h := newHarness(t)
	mined := h.extendMain(1)
	h.extendMain(int(h.params.CoinbaseUnlockWindow))

	spend := h.spendCoinbase(mined, 50000)
	template, err := h.store.BuildBlockTemplate(h.minerAddress, []byte{0x01, 0x02},
		[]TemplateTx{{Tx: spend, Fee: mustFee(t, spend)}})
	if err != nil {
		t.Fatalf("BuildBlockTemplate: %v", err)
	}
	if template.Height != h.store.TipHeight()+1 {
		t.Fatalf("template height %d", template.Height)
	}
	if len(template.Block.TxHashes) != 1 {
		t.Fatalf("template carries %d transactions", len(template.Block.TxHashes))
	}

	// The assembled candidate must be acceptable as-is.
	status, err := h.store.AddBlock(template.Block, template.Transactions, BFNoPoWCheck)
	if err != nil {
		t.Fatalf("adding template block: %v", err)
	}
	if status != StatusAddedToMainChain {
		t.Fatalf("adding template block: status %s", status)
	}
}

func mustFee(t *testing.T, tx *types.Transaction) uint64 {
	t.Helper()
	fee, err := TransactionFee(tx)
	if err != nil {
		t.Fatalf("TransactionFee: %v", err)
	}
	return fee
}
