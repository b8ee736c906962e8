package blockchain

import (
	"fmt"
	"math/big"

	"github.com/pkg/errors"

	"github.com/Menutra/Cache-Cash/crypto"
	"github.com/Menutra/Cache-Cash/domain/types"
)

// BehaviorFlags is a bitmask defining tweaks to the normal behavior of
// AddBlock.
type BehaviorFlags uint32

const (
	// BFNone is a convenience value to specifically indicate no flags.
	BFNone BehaviorFlags = 0

	// BFNoPoWCheck signals that the proof of work was already verified,
	// typically on the verification worker pool, and must not be redone
	// under the store lock.
	BFNoPoWCheck BehaviorFlags = 1 << iota

	// BFFastAdd signals that the block comes from trusted local storage:
	// proof of work and ring signatures are skipped. Used only while
	// replaying the persisted chain at startup.
	BFFastAdd
)

// BlockAddedStatus is the outcome of AddBlock for an accepted or known
// block. Rejections are reported as RuleError values instead.
type BlockAddedStatus int

const (
	// StatusAddedToMainChain means the block extended the main chain,
	// possibly through a reorganization.
	StatusAddedToMainChain BlockAddedStatus = iota

	// StatusAddedToAltChain means the block extended an alternative branch
	// that remains below the main chain's cumulative difficulty.
	StatusAddedToAltChain

	// StatusAlreadyHave means the block was already known; no state
	// changed.
	StatusAlreadyHave
)

func (s BlockAddedStatus) String() string {
	switch s {
	case StatusAddedToMainChain:
		return "added to main chain"
	case StatusAddedToAltChain:
		return "added to alt chain"
	case StatusAlreadyHave:
		return "already have"
	default:
		return fmt.Sprintf("unknown status (%d)", int(s))
	}
}

// AddBlock validates the given block and commits it to the chain state.
// transactions must hold the bodies of block.TxHashes in order. The returned
// error, when non-nil, is a RuleError describing the rejection; the chain
// state is unchanged in that case.
//
// This function is safe for concurrent access.
func (s *Store) AddBlock(block *types.Block, transactions []*types.Transaction,
	flags BehaviorFlags) (BlockAddedStatus, error) {

	s.lock.Lock()
	status, notifications, err := s.addBlockNoLock(block, transactions, flags)
	s.lock.Unlock()

	// Relays and hooks observe the block only after it is committed.
	for _, n := range notifications {
		s.sendNotification(n)
	}
	return status, err
}

func (s *Store) addBlockNoLock(block *types.Block, transactions []*types.Transaction,
	flags BehaviorFlags) (BlockAddedStatus, []*Notification, error) {

	blockHash, err := block.Hash()
	if err != nil {
		return 0, nil, ruleError(ErrInvalidTransaction, err.Error())
	}
	if _, exists := s.index[blockHash]; exists {
		return StatusAlreadyHave, nil, nil
	}

	if err := checkTransactionsMatch(block, transactions); err != nil {
		return 0, nil, err
	}

	parent, exists := s.index[block.PrevHash]
	if !exists {
		return 0, nil, ruleError(ErrOrphanBlock,
			fmt.Sprintf("block %s extends unknown parent %s", blockHash, block.PrevHash))
	}
	height := parent.height + 1

	if !s.checkpoints.Check(height, blockHash) {
		return 0, nil, ruleError(ErrCheckpointMismatch,
			fmt.Sprintf("block %s contradicts the checkpoint at height %d", blockHash, height))
	}

	difficulty := s.branchDifficulty(parent)
	if err := s.checkBlockHeader(block, blockHash, parent, height, difficulty, flags); err != nil {
		return 0, nil, err
	}

	node := &blockNode{
		hash:       blockHash,
		parent:     parent,
		height:     height,
		difficulty: difficulty,
		cumulativeDifficulty: new(big.Int).Add(parent.cumulativeDifficulty,
			new(big.Int).SetUint64(difficulty)),
		timestamp:    block.Timestamp,
		block:        block,
		transactions: transactions,
	}

	mainTip := s.mainChain[len(s.mainChain)-1]
	if parent == mainTip {
		notification, err := s.connectTip(node, flags)
		if err != nil {
			return 0, nil, err
		}
		log.Debugf("Accepted block %s at height %d", blockHash, height)
		return StatusAddedToMainChain, []*Notification{notification}, nil
	}

	// The block extends an alternative branch.
	if mainTip.height >= s.params.ReorgDepthWindow &&
		height <= mainTip.height-s.params.ReorgDepthWindow {
		return 0, nil, ruleError(ErrBranchTooDeep,
			fmt.Sprintf("alternative block %s at height %d is beyond the reorg window (tip %d)",
				blockHash, height, mainTip.height))
	}

	s.index[blockHash] = node
	if node.cumulativeDifficulty.Cmp(mainTip.cumulativeDifficulty) <= 0 {
		log.Infof("Block %s extends an alternative branch at height %d "+
			"(cumulative difficulty %s vs main %s)", blockHash, height,
			node.cumulativeDifficulty, mainTip.cumulativeDifficulty)
		return StatusAddedToAltChain, nil, nil
	}

	notifications, err := s.reorganize(node, flags)
	if err != nil {
		delete(s.index, blockHash)
		return 0, nil, err
	}
	return StatusAddedToMainChain, notifications, nil
}

// checkTransactionsMatch verifies that the provided bodies are exactly the
// transactions the block commits to, in order.
func checkTransactionsMatch(block *types.Block, transactions []*types.Transaction) error {
	if len(transactions) != len(block.TxHashes) {
		return ruleError(ErrMissingTransactions,
			fmt.Sprintf("%d transaction bodies for %d hashes",
				len(transactions), len(block.TxHashes)))
	}
	for i, tx := range transactions {
		txHash, err := tx.Hash()
		if err != nil {
			return ruleError(ErrInvalidTransaction, err.Error())
		}
		if txHash != block.TxHashes[i] {
			return ruleError(ErrMissingTransactions,
				fmt.Sprintf("transaction %d hashes to %s, block commits to %s",
					i, txHash, block.TxHashes[i]))
		}
	}
	return nil
}

// connectTip fully validates node's transactions against the current state
// and appends it to the main chain.
func (s *Store) connectTip(node *blockNode, flags BehaviorFlags) (*Notification, error) {
	if err := s.checkBlockTransactions(node, flags); err != nil {
		return nil, err
	}
	if err := s.checkCoinbase(node); err != nil {
		return nil, err
	}

	s.index[node.hash] = node
	node.onMain = true
	node.generatedCoins = node.parent.generatedCoins + s.blockEmission(node)
	s.mainChain = append(s.mainChain, node)
	s.applyBlockState(node)

	if s.io != nil {
		if err := s.io.saveBlock(node); err != nil {
			// Persistence failure leaves the database behind the in-memory
			// state; continuing would corrupt the next restart.
			panic(err)
		}
	}

	return &Notification{
		Type: NTBlockConnected,
		Data: &BlockConnectedData{
			Block:        node.block,
			Hash:         node.hash,
			Height:       node.height,
			Transactions: node.transactions,
		},
	}, nil
}

// blockEmission is the amount of new coins node's coinbase creates: its
// coinbase output total minus the fees it recycles.
func (s *Store) blockEmission(node *blockNode) uint64 {
	total := coinbaseOutputTotal(&node.block.CoinbaseTx)
	fees := totalFees(node.transactions)
	if fees > total {
		return 0
	}
	return total - fees
}

func totalFees(transactions []*types.Transaction) uint64 {
	var fees uint64
	for _, tx := range transactions {
		fee, err := transactionFee(tx)
		if err == nil {
			fees += fee
		}
	}
	return fees
}

// applyBlockState indexes node's outputs, key images and transaction
// locations. Global output indices are assigned in block order, per amount,
// monotonically.
func (s *Store) applyBlockState(node *blockNode) {
	s.indexTransactionState(node, &node.block.CoinbaseTx, 0)
	for i, tx := range node.transactions {
		s.indexTransactionState(node, tx, i+1)
	}
}

func (s *Store) indexTransactionState(node *blockNode, tx *types.Transaction, indexInBlock int) {
	txHash, err := tx.Hash()
	if err != nil {
		panic(err)
	}
	s.txLocations[txHash] = txLocation{blockHash: node.hash, index: indexInBlock}
	for _, image := range tx.KeyImages() {
		s.keyImages[image] = node.height
	}
	for i := range tx.Outputs {
		out := &tx.Outputs[i]
		s.outputs[out.Amount] = append(s.outputs[out.Amount], outputRecord{
			txHash:     txHash,
			indexInTx:  uint32(i),
			targetKey:  out.Target,
			unlockTime: tx.UnlockTime,
			height:     node.height,
		})
	}
}

// indexBlockState is applyBlockState for the genesis node at construction
// time.
func (s *Store) indexBlockState(node *blockNode) {
	s.applyBlockState(node)
}

// disconnectTip rolls the main tip back by one block, revoking the output
// indices and key images it assigned. The caller must hold the write lock.
// The genesis block is never disconnected.
func (s *Store) disconnectTip() *blockNode {
	node := s.mainChain[len(s.mainChain)-1]
	if node.height == 0 {
		panic("attempt to disconnect the genesis block")
	}

	s.revokeTransactionState(&node.block.CoinbaseTx)
	for _, tx := range node.transactions {
		s.revokeTransactionState(tx)
	}

	node.onMain = false
	s.mainChain = s.mainChain[:len(s.mainChain)-1]

	if s.io != nil {
		if err := s.io.deleteBlock(node.height); err != nil {
			panic(err)
		}
	}
	return node
}

func (s *Store) revokeTransactionState(tx *types.Transaction) {
	txHash, err := tx.Hash()
	if err != nil {
		panic(err)
	}
	delete(s.txLocations, txHash)
	for _, image := range tx.KeyImages() {
		delete(s.keyImages, image)
	}
	// Outputs were appended in application order, so this block's records
	// are the tail of each per-amount slice.
	for i := range tx.Outputs {
		amount := tx.Outputs[i].Amount
		records := s.outputs[amount]
		s.outputs[amount] = records[:len(records)-1]
		if len(s.outputs[amount]) == 0 {
			delete(s.outputs, amount)
		}
	}
}

// PopBlock rolls back exactly one tip block and returns it with its
// transaction bodies, so the caller can offer them back to the mempool. The
// popped block is dropped from the block index, so adding it again applies it
// anew.
func (s *Store) PopBlock() (*types.Block, []*types.Transaction, error) {
	s.lock.Lock()
	defer s.lock.Unlock()

	if len(s.mainChain) == 1 {
		return nil, nil, errors.New("cannot pop the genesis block")
	}
	node := s.disconnectTip()
	delete(s.index, node.hash)
	log.Infof("Popped block %s; tip is now %s at height %d", node.hash,
		s.mainChain[len(s.mainChain)-1].hash, s.mainChain[len(s.mainChain)-1].height)
	return node.block, node.transactions, nil
}

// reorganize switches the main chain to the branch ending at newTip, which
// must already carry a greater cumulative difficulty. Each branch block is
// fully validated as it is applied; a validation failure rolls everything
// back and restores the previous main chain.
func (s *Store) reorganize(newTip *blockNode, flags BehaviorFlags) ([]*Notification, error) {
	// Locate the fork point: the first ancestor of newTip on the main chain.
	forkNode := newTip
	branch := make([]*blockNode, 0)
	for !forkNode.onMain {
		branch = append(branch, forkNode)
		forkNode = forkNode.parent
		if forkNode == nil {
			panic("alternative branch does not connect to the main chain")
		}
	}
	// branch was collected tip-first; reverse into application order.
	for i, j := 0, len(branch)-1; i < j; i, j = i+1, j-1 {
		branch[i], branch[j] = branch[j], branch[i]
	}

	oldTip := s.mainChain[len(s.mainChain)-1]
	log.Warnf("Reorganizing chain from tip %s (height %d) to %s (height %d), fork at height %d",
		oldTip.hash, oldTip.height, newTip.hash, newTip.height, forkNode.height)

	// Detach the old suffix.
	detached := make([]*blockNode, 0, oldTip.height-forkNode.height)
	for s.mainChain[len(s.mainChain)-1] != forkNode {
		detached = append(detached, s.disconnectTip())
	}

	// Attach the branch, validating each block against the live state.
	notifications := make([]*Notification, 0, len(branch)+1)
	for i, node := range branch {
		notification, err := s.connectTip(node, flags)
		if err != nil {
			log.Errorf("Reorganization aborted: branch block %s is invalid: %v",
				node.hash, err)
			// Undo the partially applied branch prefix; it stays known as an
			// alternative branch.
			for j := i - 1; j >= 0; j-- {
				s.disconnectTip()
			}
			// The invalid block and everything built on it are forgotten.
			for j := i; j < len(branch); j++ {
				delete(s.index, branch[j].hash)
			}
			for j := len(detached) - 1; j >= 0; j-- {
				if _, reconnectErr := s.connectTip(detached[j], BFFastAdd); reconnectErr != nil {
					// The detached blocks were valid minutes ago; failing to
					// reapply them means the state is corrupted.
					panic(reconnectErr)
				}
			}
			return nil, err
		}
		notifications = append(notifications, notification)
	}

	detachedTxs := make([]*types.Transaction, 0)
	for _, node := range detached {
		detachedTxs = append(detachedTxs, node.transactions...)
	}
	notifications = append(notifications, &Notification{
		Type: NTChainReorganized,
		Data: &ChainReorganizedData{
			DetachedTransactions: detachedTxs,
			ForkHeight:           forkNode.height,
			NewTipHash:           newTip.hash,
			NewTipHeight:         newTip.height,
		},
	})
	log.Warnf("Reorganization complete: new tip %s at height %d", newTip.hash, newTip.height)
	return notifications, nil
}

// spentInBranch returns whether the key image is spent in the chain state
// currently applied. It exists so transaction validation reads naturally.
func (s *Store) spentInBranch(image crypto.KeyImage) bool {
	_, ok := s.keyImages[image]
	return ok
}
