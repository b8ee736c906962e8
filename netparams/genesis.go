package netparams

import (
	"github.com/Menutra/Cache-Cash/crypto"
	"github.com/Menutra/Cache-Cash/domain/types"
	"github.com/Menutra/Cache-Cash/util/cryptohash"
)

// genesisTimestamp is the fixed creation time of the genesis block. The
// genesis header carries it verbatim on every node so the genesis hash is
// network-wide constant.
const genesisTimestamp = 1588839600

// GenesisBlock constructs the genesis block of the network. The coinbase pays
// the first emission tick to the all-zeroes key; nobody holds its secret, so
// the output is unspendable by construction.
func (p *Params) GenesisBlock() *types.Block {
	coinbase := types.Transaction{
		Version:    1,
		UnlockTime: p.CoinbaseUnlockWindow,
		Inputs:     []types.TransactionInput{&types.CoinbaseInput{BlockHeight: 0}},
		Outputs: []types.TransactionOutput{{
			Amount: p.BlockReward(0),
			Target: crypto.PublicKey{},
		}},
		Extra:      []byte{},
		Signatures: [][]crypto.Signature{{}},
	}

	return &types.Block{
		BlockHeader: types.BlockHeader{
			MajorVersion: 1,
			MinorVersion: 0,
			Timestamp:    genesisTimestamp,
			Nonce:        p.GenesisNonce,
		},
		CoinbaseTx: coinbase,
	}
}

// GenesisHash returns the block identifier of the genesis block.
func (p *Params) GenesisHash() cryptohash.Hash {
	hash, err := p.GenesisBlock().Hash()
	if err != nil {
		// The genesis block is built from constants; it always serializes.
		panic(err)
	}
	return hash
}
