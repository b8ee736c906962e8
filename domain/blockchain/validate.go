package blockchain

import (
	"fmt"
	"math"
	"time"

	"github.com/Menutra/Cache-Cash/crypto"
	"github.com/Menutra/Cache-Cash/domain/types"
	"github.com/Menutra/Cache-Cash/util/cryptohash"
)

// currentBlockMajorVersion is the only block major version the network
// currently accepts.
const currentBlockMajorVersion = 1

// checkBlockHeader performs the context-dependent header checks: version by
// height, timestamp window, and proof of work against the branch difficulty.
func (s *Store) checkBlockHeader(block *types.Block, blockHash cryptohash.Hash,
	parent *blockNode, height, difficulty uint64, flags BehaviorFlags) error {

	if block.MajorVersion != currentBlockMajorVersion {
		return ruleError(ErrBlockVersion,
			fmt.Sprintf("block %s has major version %d at height %d",
				blockHash, block.MajorVersion, height))
	}

	median := s.medianTimestamp(parent)
	if block.Timestamp < median {
		return ruleError(ErrTimestampTooOld,
			fmt.Sprintf("block %s timestamp %d is below the median %d",
				blockHash, block.Timestamp, median))
	}
	limit := uint64(time.Now().Unix()) + uint64(s.params.FutureTimeLimit.Seconds())
	if block.Timestamp > limit {
		return ruleError(ErrTimestampTooNew,
			fmt.Sprintf("block %s timestamp %d is past the future limit %d",
				blockHash, block.Timestamp, limit))
	}

	if flags&(BFFastAdd|BFNoPoWCheck) == 0 {
		powHash, err := block.PowHash()
		if err != nil {
			return ruleError(ErrInvalidTransaction, err.Error())
		}
		if !crypto.CheckHashAgainstDifficulty(powHash, difficulty) {
			return ruleError(ErrInsufficientPow,
				fmt.Sprintf("block %s proof of work %s does not meet difficulty %d",
					blockHash, powHash, difficulty))
		}
	}
	return nil
}

// checkCoinbase validates the miner transaction of a block whose parent
// state is already applied: structure, height binding, unlock window, and
// the reward amount.
func (s *Store) checkCoinbase(node *blockNode) error {
	coinbase := &node.block.CoinbaseTx
	if !coinbase.IsCoinbase() {
		return ruleError(ErrBadCoinbase,
			fmt.Sprintf("block %s miner transaction is not a coinbase", node.hash))
	}
	input := coinbase.Inputs[0].(*types.CoinbaseInput)
	if input.BlockHeight != node.height {
		return ruleError(ErrBadCoinbase,
			fmt.Sprintf("block %s coinbase binds height %d, block is at %d",
				node.hash, input.BlockHeight, node.height))
	}
	if len(coinbase.Outputs) == 0 {
		return ruleError(ErrBadCoinbase,
			fmt.Sprintf("block %s coinbase has no outputs", node.hash))
	}
	if coinbase.UnlockTime != node.height+s.params.CoinbaseUnlockWindow {
		return ruleError(ErrBadCoinbase,
			fmt.Sprintf("block %s coinbase unlocks at %d, want %d", node.hash,
				coinbase.UnlockTime, node.height+s.params.CoinbaseUnlockWindow))
	}

	reward := s.params.BlockReward(node.parent.generatedCoins)
	fees := totalFees(node.transactions)
	expected := reward + fees
	if got := coinbaseOutputTotal(coinbase); got != expected {
		return ruleError(ErrBadReward,
			fmt.Sprintf("block %s coinbase pays %d, want reward %d + fees %d",
				node.hash, got, reward, fees))
	}
	return nil
}

// checkBlockTransactions validates all non-coinbase transactions of node
// against the currently applied chain state, which must be the state of
// node's parent. Key images must be fresh both against the chain and within
// the block.
func (s *Store) checkBlockTransactions(node *blockNode, flags BehaviorFlags) error {
	var totalSize uint64
	pendingImages := make(map[crypto.KeyImage]struct{})

	for _, tx := range node.transactions {
		size, err := tx.SerializeSize()
		if err != nil {
			return ruleError(ErrInvalidTransaction, err.Error())
		}
		totalSize += uint64(size)

		if err := CheckTransactionSemantics(tx); err != nil {
			return err
		}
		if err := s.checkTransactionInputs(tx, node.height, node.timestamp,
			pendingImages, flags); err != nil {
			return err
		}
		for _, image := range tx.KeyImages() {
			pendingImages[image] = struct{}{}
		}
	}

	if totalSize > s.params.MaxBlockSize {
		return ruleError(ErrBlockTooBig,
			fmt.Sprintf("block %s carries %d transaction bytes, limit %d",
				node.hash, totalSize, s.params.MaxBlockSize))
	}
	return nil
}

// CheckTransactionSemantics performs the context-free transaction checks:
// structure, amount overflow, and input/output balance. It is shared with
// the mempool.
func CheckTransactionSemantics(tx *types.Transaction) error {
	if tx.IsCoinbase() {
		return ruleError(ErrInvalidTransaction, "coinbase transaction outside a block")
	}
	if len(tx.Inputs) == 0 {
		return ruleError(ErrInvalidTransaction, "transaction has no inputs")
	}
	if len(tx.Outputs) == 0 {
		return ruleError(ErrInvalidTransaction, "transaction has no outputs")
	}
	if len(tx.Signatures) != len(tx.Inputs) {
		return ruleError(ErrInvalidTransaction, "signature group count differs from input count")
	}

	var inputTotal, outputTotal uint64
	seenImages := make(map[crypto.KeyImage]struct{}, len(tx.Inputs))
	for i, in := range tx.Inputs {
		keyIn, ok := in.(*types.KeyInput)
		if !ok {
			return ruleError(ErrInvalidTransaction, "non-key input in a regular transaction")
		}
		if len(keyIn.OutputIndexes) == 0 {
			return ruleError(ErrInvalidTransaction, "input with an empty ring")
		}
		if len(tx.Signatures[i]) != len(keyIn.OutputIndexes) {
			return ruleError(ErrInvalidTransaction, "ring size differs from signature count")
		}
		if _, dup := seenImages[keyIn.KeyImage]; dup {
			return ruleError(ErrInvalidTransaction, "duplicate key image within transaction")
		}
		seenImages[keyIn.KeyImage] = struct{}{}
		if keyIn.Amount > math.MaxUint64-inputTotal {
			return ruleError(ErrInvalidTransaction, "input amount overflow")
		}
		inputTotal += keyIn.Amount
	}
	for i := range tx.Outputs {
		out := &tx.Outputs[i]
		if out.Amount == 0 {
			return ruleError(ErrInvalidTransaction, "output of zero amount")
		}
		if !crypto.CheckKey(out.Target) {
			return ruleError(ErrInvalidTransaction, "output key is not a curve point")
		}
		if out.Amount > math.MaxUint64-outputTotal {
			return ruleError(ErrInvalidTransaction, "output amount overflow")
		}
		outputTotal += out.Amount
	}
	if outputTotal > inputTotal {
		return ruleError(ErrInvalidTransaction,
			fmt.Sprintf("outputs %d exceed inputs %d", outputTotal, inputTotal))
	}
	return nil
}

// transactionFee returns inputs minus outputs. CheckTransactionSemantics
// must have passed.
func transactionFee(tx *types.Transaction) (uint64, error) {
	var inputTotal, outputTotal uint64
	for _, in := range tx.Inputs {
		keyIn, ok := in.(*types.KeyInput)
		if !ok {
			return 0, ruleError(ErrInvalidTransaction, "non-key input")
		}
		inputTotal += keyIn.Amount
	}
	for i := range tx.Outputs {
		outputTotal += tx.Outputs[i].Amount
	}
	if outputTotal > inputTotal {
		return 0, ruleError(ErrInvalidTransaction, "outputs exceed inputs")
	}
	return inputTotal - outputTotal, nil
}

// TransactionFee returns the fee a transaction pays.
func TransactionFee(tx *types.Transaction) (uint64, error) {
	return transactionFee(tx)
}

// checkTransactionInputs validates tx's ring members and key images against
// the currently applied chain state at the given height and time.
// pendingImages holds key images consumed earlier in the same block.
func (s *Store) checkTransactionInputs(tx *types.Transaction, height, blockTime uint64,
	pendingImages map[crypto.KeyImage]struct{}, flags BehaviorFlags) error {

	prefixHash, err := tx.PrefixHash()
	if err != nil {
		return ruleError(ErrInvalidTransaction, err.Error())
	}

	for i, in := range tx.Inputs {
		keyIn := in.(*types.KeyInput)

		if s.spentInBranch(keyIn.KeyImage) {
			return ruleError(ErrKeyImageSpent,
				fmt.Sprintf("key image %s is already spent", keyIn.KeyImage))
		}
		if _, pending := pendingImages[keyIn.KeyImage]; pending {
			return ruleError(ErrKeyImageSpent,
				fmt.Sprintf("key image %s is spent twice within the block", keyIn.KeyImage))
		}

		records := s.outputs[keyIn.Amount]
		ring := make([]crypto.PublicKey, len(keyIn.OutputIndexes))
		for j, globalIndex := range keyIn.OutputIndexes {
			if globalIndex >= uint64(len(records)) {
				return ruleError(ErrRingMemberUnknown,
					fmt.Sprintf("input %d references output %d of amount %d, only %d exist",
						i, globalIndex, keyIn.Amount, len(records)))
			}
			record := &records[globalIndex]
			if !isUnlocked(record.unlockTime, height, blockTime) {
				return ruleError(ErrRingMemberLocked,
					fmt.Sprintf("input %d ring member %d of amount %d is still locked",
						i, globalIndex, keyIn.Amount))
			}
			ring[j] = record.targetKey
		}

		if flags&BFFastAdd == 0 {
			if !crypto.CheckRingSignature(prefixHash, keyIn.KeyImage, ring, tx.Signatures[i]) {
				return ruleError(ErrSignatureInvalid,
					fmt.Sprintf("input %d ring signature does not verify", i))
			}
		}
	}
	return nil
}

// CheckStandaloneTransaction validates a free transaction (typically a
// mempool candidate) against the current main chain state: semantics, ring
// membership, unlock status and signatures. Key-image freshness against the
// mempool itself is the mempool's concern.
func (s *Store) CheckStandaloneTransaction(tx *types.Transaction) error {
	s.lock.RLock()
	defer s.lock.RUnlock()

	if err := CheckTransactionSemantics(tx); err != nil {
		return err
	}
	tip := s.mainChain[len(s.mainChain)-1]
	return s.checkTransactionInputs(tx, tip.height+1, tip.timestamp,
		nil, BFNone)
}
