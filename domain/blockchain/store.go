package blockchain

import (
	"math/big"
	"math/rand"
	"sync"

	"github.com/pkg/errors"

	"github.com/Menutra/Cache-Cash/crypto"
	"github.com/Menutra/Cache-Cash/domain/types"
	"github.com/Menutra/Cache-Cash/infrastructure/db"
	"github.com/Menutra/Cache-Cash/netparams"
	"github.com/Menutra/Cache-Cash/util/cryptohash"
)

// maxBlockNumber is the boundary between height-based and timestamp-based
// unlock times. Unlock values below it are heights, above it unix times.
const maxBlockNumber = 500000000

// blockNode tracks one known block on the main chain or an alternative
// branch.
type blockNode struct {
	hash                 cryptohash.Hash
	parent               *blockNode
	height               uint64
	difficulty           uint64
	cumulativeDifficulty *big.Int
	timestamp            uint64
	generatedCoins       uint64
	onMain               bool

	block        *types.Block
	transactions []*types.Transaction
}

// outputRecord is one entry of the per-amount global output index.
type outputRecord struct {
	txHash     cryptohash.Hash
	indexInTx  uint32
	targetKey  crypto.PublicKey
	unlockTime uint64
	height     uint64
}

// txLocation points at a confirmed transaction on the main chain.
type txLocation struct {
	blockHash cryptohash.Hash
	// index is the position within the block: 0 for the coinbase,
	// 1+i for TxHashes[i].
	index int
}

// Store is the single source of chain truth: the block index, the UTXO
// global-output index, the key-image set and the checkpoint table. Readers
// may proceed concurrently; block application and reorganization exclude
// everything.
type Store struct {
	params      *netparams.Params
	checkpoints *Checkpoints

	lock        sync.RWMutex
	index       map[cryptohash.Hash]*blockNode
	mainChain   []*blockNode
	outputs     map[uint64][]outputRecord
	keyImages   map[crypto.KeyImage]uint64
	txLocations map[cryptohash.Hash]txLocation

	io       *chainIO
	notifees []NotificationCallback
}

// New creates a Store seeded with the genesis block of the given network.
// When database is non-nil, previously persisted chain state is replayed and
// future state changes are persisted.
func New(params *netparams.Params, checkpoints *Checkpoints, database *db.DB) (*Store, error) {
	s := &Store{
		params:      params,
		checkpoints: checkpoints,
		index:       make(map[cryptohash.Hash]*blockNode),
		mainChain:   nil,
		outputs:     make(map[uint64][]outputRecord),
		keyImages:   make(map[crypto.KeyImage]uint64),
		txLocations: make(map[cryptohash.Hash]txLocation),
	}
	if database != nil {
		s.io = &chainIO{db: database}
	}
	if checkpoints == nil {
		s.checkpoints = NewCheckpoints()
	}

	genesis := params.GenesisBlock()
	genesisHash, err := genesis.Hash()
	if err != nil {
		return nil, err
	}
	node := &blockNode{
		hash:                 genesisHash,
		height:               0,
		difficulty:           1,
		cumulativeDifficulty: big.NewInt(1),
		timestamp:            genesis.Timestamp,
		generatedCoins:       coinbaseOutputTotal(&genesis.CoinbaseTx),
		onMain:               true,
		block:                genesis,
	}
	s.index[genesisHash] = node
	s.mainChain = []*blockNode{node}
	s.indexBlockState(node)

	if s.io != nil {
		if err := s.replayPersisted(); err != nil {
			return nil, err
		}
	}
	return s, nil
}

func coinbaseOutputTotal(tx *types.Transaction) uint64 {
	var total uint64
	for i := range tx.Outputs {
		total += tx.Outputs[i].Amount
	}
	return total
}

// TipHash returns the hash of the main chain tip.
func (s *Store) TipHash() cryptohash.Hash {
	s.lock.RLock()
	defer s.lock.RUnlock()
	return s.mainChain[len(s.mainChain)-1].hash
}

// TipHeight returns the height of the main chain tip.
func (s *Store) TipHeight() uint64 {
	s.lock.RLock()
	defer s.lock.RUnlock()
	return s.mainChain[len(s.mainChain)-1].height
}

// TipCumulativeDifficulty returns the cumulative difficulty of the main tip.
func (s *Store) TipCumulativeDifficulty() *big.Int {
	s.lock.RLock()
	defer s.lock.RUnlock()
	return new(big.Int).Set(s.mainChain[len(s.mainChain)-1].cumulativeDifficulty)
}

// HaveBlock returns whether a block with the given hash is known, on main or
// on an alternative branch.
func (s *Store) HaveBlock(hash cryptohash.Hash) bool {
	s.lock.RLock()
	defer s.lock.RUnlock()
	_, ok := s.index[hash]
	return ok
}

// IsOnMainChain returns whether the given hash is a main chain block.
func (s *Store) IsOnMainChain(hash cryptohash.Hash) bool {
	s.lock.RLock()
	defer s.lock.RUnlock()
	node, ok := s.index[hash]
	return ok && node.onMain
}

// GetBlock returns the block with the given hash along with its transaction
// bodies and height.
func (s *Store) GetBlock(hash cryptohash.Hash) (*types.Block, []*types.Transaction, uint64, error) {
	s.lock.RLock()
	defer s.lock.RUnlock()
	node, ok := s.index[hash]
	if !ok {
		return nil, nil, 0, errors.Errorf("block %s not found", hash)
	}
	return node.block, node.transactions, node.height, nil
}

// GetBlockByHeight returns the main chain block at the given height.
func (s *Store) GetBlockByHeight(height uint64) (*types.Block, []*types.Transaction, cryptohash.Hash, error) {
	s.lock.RLock()
	defer s.lock.RUnlock()
	if height >= uint64(len(s.mainChain)) {
		return nil, nil, cryptohash.Hash{}, errors.Errorf("height %d above tip %d",
			height, len(s.mainChain)-1)
	}
	node := s.mainChain[height]
	return node.block, node.transactions, node.hash, nil
}

// GetBlocksByHeight returns up to count consecutive main chain blocks
// starting at the given height.
func (s *Store) GetBlocksByHeight(start uint64, count int) []*types.Block {
	s.lock.RLock()
	defer s.lock.RUnlock()
	blocks := make([]*types.Block, 0, count)
	for h := start; h < uint64(len(s.mainChain)) && len(blocks) < count; h++ {
		blocks = append(blocks, s.mainChain[h].block)
	}
	return blocks
}

// BlockHashByHeight returns the main chain block hash at the given height.
func (s *Store) BlockHashByHeight(height uint64) (cryptohash.Hash, error) {
	s.lock.RLock()
	defer s.lock.RUnlock()
	if height >= uint64(len(s.mainChain)) {
		return cryptohash.Hash{}, errors.Errorf("height %d above tip %d",
			height, len(s.mainChain)-1)
	}
	return s.mainChain[height].hash, nil
}

// GetTransaction returns a confirmed transaction and the hash of the block
// containing it.
func (s *Store) GetTransaction(hash cryptohash.Hash) (*types.Transaction, cryptohash.Hash, bool) {
	s.lock.RLock()
	defer s.lock.RUnlock()
	location, ok := s.txLocations[hash]
	if !ok {
		return nil, cryptohash.Hash{}, false
	}
	node := s.index[location.blockHash]
	if location.index == 0 {
		return &node.block.CoinbaseTx, node.hash, true
	}
	return node.transactions[location.index-1], node.hash, true
}

// IsKeyImageSpent returns whether the key image is present on the main
// chain.
func (s *Store) IsKeyImageSpent(image crypto.KeyImage) bool {
	s.lock.RLock()
	defer s.lock.RUnlock()
	_, ok := s.keyImages[image]
	return ok
}

// OutputCount returns how many outputs of the given amount the main chain
// holds.
func (s *Store) OutputCount(amount uint64) uint64 {
	s.lock.RLock()
	defer s.lock.RUnlock()
	return uint64(len(s.outputs[amount]))
}

// RandomOutput describes one candidate ring member.
type RandomOutput struct {
	GlobalIndex uint64
	TargetKey   crypto.PublicKey
}

// GetRandomOuts samples up to count distinct unlocked outputs of the given
// amount for ring construction.
func (s *Store) GetRandomOuts(amount uint64, count int) []RandomOutput {
	s.lock.RLock()
	defer s.lock.RUnlock()

	records := s.outputs[amount]
	tipHeight := s.mainChain[len(s.mainChain)-1].height
	tipTime := s.mainChain[len(s.mainChain)-1].timestamp

	unlocked := make([]uint64, 0, len(records))
	for i := range records {
		if isUnlocked(records[i].unlockTime, tipHeight, tipTime) {
			unlocked = append(unlocked, uint64(i))
		}
	}
	if len(unlocked) > count {
		rand.Shuffle(len(unlocked), func(i, j int) {
			unlocked[i], unlocked[j] = unlocked[j], unlocked[i]
		})
		unlocked = unlocked[:count]
	}

	outs := make([]RandomOutput, len(unlocked))
	for i, globalIndex := range unlocked {
		outs[i] = RandomOutput{
			GlobalIndex: globalIndex,
			TargetKey:   records[globalIndex].targetKey,
		}
	}
	return outs
}

// isUnlocked reports whether an output with the given unlock time is
// spendable at the given height and time. Values below maxBlockNumber are
// heights, above it unix timestamps.
func isUnlocked(unlockTime, height, unixTime uint64) bool {
	if unlockTime < maxBlockNumber {
		return height >= unlockTime
	}
	return unixTime >= unlockTime
}

// BuildSparseChain returns the current main chain sampled as
// [tip, tip-1, tip-2, tip-4, tip-8, ..., genesis]. The sync protocol uses it
// to find a common ancestor in logarithmically many hashes.
func (s *Store) BuildSparseChain() []cryptohash.Hash {
	s.lock.RLock()
	defer s.lock.RUnlock()

	tipHeight := s.mainChain[len(s.mainChain)-1].height
	sparse := make([]cryptohash.Hash, 0, 32)
	for offset := uint64(0); offset <= tipHeight; {
		sparse = append(sparse, s.mainChain[tipHeight-offset].hash)
		if offset == 0 {
			offset = 1
		} else {
			offset *= 2
		}
	}
	if sparse[len(sparse)-1] != s.mainChain[0].hash {
		sparse = append(sparse, s.mainChain[0].hash)
	}
	return sparse
}

// FindSupplement locates the highest block of remoteSparse that this node
// knows on its main chain and returns the main chain ids from that split
// point onward, capped at maxCount ids. The first returned id is always the
// split point itself. ok is false when no common block exists, which for a
// shared genesis cannot happen with an honest peer.
func (s *Store) FindSupplement(remoteSparse []cryptohash.Hash, maxCount int) (
	startHeight uint64, totalHeight uint64, ids []cryptohash.Hash, ok bool) {

	s.lock.RLock()
	defer s.lock.RUnlock()

	var split *blockNode
	for _, hash := range remoteSparse {
		if node, exists := s.index[hash]; exists && node.onMain {
			split = node
			break
		}
	}
	if split == nil {
		return 0, 0, nil, false
	}

	tipHeight := s.mainChain[len(s.mainChain)-1].height
	count := uint64(maxCount)
	if remaining := tipHeight - split.height + 1; remaining < count {
		count = remaining
	}
	ids = make([]cryptohash.Hash, 0, count)
	for h := split.height; h < split.height+count; h++ {
		ids = append(ids, s.mainChain[h].hash)
	}
	return split.height, tipHeight, ids, true
}

// medianTimestamp returns the median timestamp of the TimestampCheckWindow
// ancestors of (and including) the given node.
func (s *Store) medianTimestamp(node *blockNode) uint64 {
	window := make([]uint64, 0, s.params.TimestampCheckWindow)
	for n := node; n != nil && len(window) < s.params.TimestampCheckWindow; n = n.parent {
		window = append(window, n.timestamp)
	}
	return medianOf(window)
}

func medianOf(values []uint64) uint64 {
	sorted := make([]uint64, len(values))
	copy(sorted, values)
	for i := 1; i < len(sorted); i++ {
		for j := i; j > 0 && sorted[j-1] > sorted[j]; j-- {
			sorted[j-1], sorted[j] = sorted[j], sorted[j-1]
		}
	}
	return sorted[len(sorted)/2]
}

// branchDifficulty computes the required difficulty for a block extending
// parent, from the difficulty window of that branch.
func (s *Store) branchDifficulty(parent *blockNode) uint64 {
	windowSize := s.params.DifficultyWindow + 2*s.params.DifficultyTrim
	timestamps := make([]uint64, 0, windowSize)
	cumulative := make([]*big.Int, 0, windowSize)
	for n := parent; n != nil && len(timestamps) < windowSize; n = n.parent {
		timestamps = append(timestamps, n.timestamp)
		cumulative = append(cumulative, n.cumulativeDifficulty)
	}
	// The walk collected newest first; the window wants oldest first.
	for i, j := 0, len(timestamps)-1; i < j; i, j = i+1, j-1 {
		timestamps[i], timestamps[j] = timestamps[j], timestamps[i]
		cumulative[i], cumulative[j] = cumulative[j], cumulative[i]
	}
	return nextDifficulty(s.params, timestamps, cumulative)
}

// GeneratedCoins returns the cumulative emission up to and including the
// main tip.
func (s *Store) GeneratedCoins() uint64 {
	s.lock.RLock()
	defer s.lock.RUnlock()
	return s.mainChain[len(s.mainChain)-1].generatedCoins
}

// NextDifficulty returns the difficulty required of the next main chain
// block.
func (s *Store) NextDifficulty() uint64 {
	s.lock.RLock()
	defer s.lock.RUnlock()
	return s.branchDifficulty(s.mainChain[len(s.mainChain)-1])
}

// BranchDifficultyFor returns the difficulty required of a block extending
// the given parent hash, or ok=false when the parent is unknown.
func (s *Store) BranchDifficultyFor(parentHash cryptohash.Hash) (uint64, bool) {
	s.lock.RLock()
	defer s.lock.RUnlock()
	parent, ok := s.index[parentHash]
	if !ok {
		return 0, false
	}
	return s.branchDifficulty(parent), true
}
