package blockchain

import (
	"time"

	"github.com/pkg/errors"

	"github.com/Menutra/Cache-Cash/crypto"
	"github.com/Menutra/Cache-Cash/domain/types"
	"github.com/Menutra/Cache-Cash/util"
	"github.com/Menutra/Cache-Cash/util/cryptohash"
)

// Transaction extra tags used when assembling the coinbase.
const (
	extraTagPubKey = 0x01
	extraTagNonce  = 0x02
)

// MaxExtraNonceSize bounds the miner-supplied extra nonce.
const MaxExtraNonceSize = 255

// TemplateTx is a mempool candidate offered for inclusion in a block
// template.
type TemplateTx struct {
	Tx  *types.Transaction
	Fee uint64
}

// BlockTemplate is a candidate block for miners, together with the values
// they need to grind it.
type BlockTemplate struct {
	Block        *types.Block
	Transactions []*types.Transaction
	Difficulty   uint64
	Height       uint64
	PrevHash     cryptohash.Hash
}

// BuildBlockTemplate assembles a candidate next block paying minerAddress.
// poolTxs must already fit the block size budget and be mutually consistent
// on key images; the mempool's template fill guarantees both.
func (s *Store) BuildBlockTemplate(minerAddress *util.Address, extraNonce []byte,
	poolTxs []TemplateTx) (*BlockTemplate, error) {

	if len(extraNonce) > MaxExtraNonceSize {
		return nil, errors.Errorf("extra nonce of %d bytes", len(extraNonce))
	}

	s.lock.RLock()
	defer s.lock.RUnlock()

	tip := s.mainChain[len(s.mainChain)-1]
	height := tip.height + 1
	difficulty := s.branchDifficulty(tip)

	var fees uint64
	txHashes := make([]cryptohash.Hash, 0, len(poolTxs))
	transactions := make([]*types.Transaction, 0, len(poolTxs))
	for _, candidate := range poolTxs {
		hash, err := candidate.Tx.Hash()
		if err != nil {
			return nil, err
		}
		txHashes = append(txHashes, hash)
		transactions = append(transactions, candidate.Tx)
		fees += candidate.Fee
	}

	reward := s.params.BlockReward(tip.generatedCoins)
	coinbase, err := buildCoinbase(minerAddress, height,
		height+s.params.CoinbaseUnlockWindow, reward+fees, extraNonce)
	if err != nil {
		return nil, err
	}

	timestamp := uint64(time.Now().Unix())
	if median := s.medianTimestamp(tip); timestamp < median {
		timestamp = median
	}

	block := &types.Block{
		BlockHeader: types.BlockHeader{
			MajorVersion: currentBlockMajorVersion,
			MinorVersion: 0,
			Timestamp:    timestamp,
			PrevHash:     tip.hash,
			Nonce:        0,
		},
		CoinbaseTx: *coinbase,
		TxHashes:   txHashes,
	}

	return &BlockTemplate{
		Block:        block,
		Transactions: transactions,
		Difficulty:   difficulty,
		Height:       height,
		PrevHash:     tip.hash,
	}, nil
}

// buildCoinbase constructs the miner transaction: a single coinbase input
// binding the height and one output paying the full amount to a one-time key
// derived for the miner's address. The transaction public key and the extra
// nonce travel in the extra field.
func buildCoinbase(minerAddress *util.Address, height, unlockTime, amount uint64,
	extraNonce []byte) (*types.Transaction, error) {

	txPub, txSec, err := crypto.GenerateKeys()
	if err != nil {
		return nil, err
	}
	derivation, err := crypto.GenerateKeyDerivation(minerAddress.ViewKey, txSec)
	if err != nil {
		return nil, err
	}
	outKey, err := crypto.DerivePublicKey(derivation, 0, minerAddress.SpendKey)
	if err != nil {
		return nil, err
	}

	extra := make([]byte, 0, 2+crypto.KeySize+1+len(extraNonce))
	extra = append(extra, extraTagPubKey)
	extra = append(extra, txPub[:]...)
	if len(extraNonce) > 0 {
		extra = append(extra, extraTagNonce, byte(len(extraNonce)))
		extra = append(extra, extraNonce...)
	}

	return &types.Transaction{
		Version:    1,
		UnlockTime: unlockTime,
		Inputs:     []types.TransactionInput{&types.CoinbaseInput{BlockHeight: height}},
		Outputs:    []types.TransactionOutput{{Amount: amount, Target: outKey}},
		Extra:      extra,
		Signatures: [][]crypto.Signature{{}},
	}, nil
}
