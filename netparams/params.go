package netparams

import (
	"time"

	"github.com/Menutra/Cache-Cash/util/cryptohash"
)

// NetworkIDSize is the byte size of the network identifier exchanged during
// the handshake.
const NetworkIDSize = 16

// NetworkID distinguishes a Cache deployment from sibling networks. A
// handshake with a mismatched id is closed immediately.
type NetworkID [NetworkIDSize]byte

// Checkpoint is a hard-coded (height, hash) pair that any accepted chain must
// match at that height.
type Checkpoint struct {
	Height uint64
	Hash   cryptohash.Hash
}

// Params defines the Currency profile of a Cache network.
type Params struct {
	// Name is the human readable network name.
	Name string

	// NetworkID is exchanged in every handshake.
	NetworkID NetworkID

	// DefaultPort is the peer-to-peer listening port.
	DefaultPort uint16

	// SeedNodes is the embedded host:port bootstrap list, used when no
	// known peers exist.
	SeedNodes []string

	// Checkpoints is the embedded checkpoint list, sorted by height.
	Checkpoints []Checkpoint

	// MoneySupply is the total number of atomic units ever emitted.
	MoneySupply uint64

	// EmissionSpeedFactor controls the emission curve: each block's reward
	// is the remaining supply shifted right by this factor.
	EmissionSpeedFactor uint8

	// MinimumFeePerByte is the mempool admission floor in atomic units per
	// serialized byte.
	MinimumFeePerByte uint64

	// CoinbaseUnlockWindow is the number of blocks a coinbase output stays
	// locked after inclusion.
	CoinbaseUnlockWindow uint64

	// DifficultyTarget is the desired solve time between blocks.
	DifficultyTarget time.Duration

	// DifficultyWindow is the number of recent headers the next-difficulty
	// calculation looks at.
	DifficultyWindow int

	// DifficultyTrim is the number of solve-time outliers trimmed from each
	// end of the sorted window.
	DifficultyTrim int

	// TimestampCheckWindow is the number of recent headers whose median
	// bounds an incoming block's timestamp from below.
	TimestampCheckWindow int

	// FutureTimeLimit bounds how far into the future a block timestamp may
	// reach.
	FutureTimeLimit time.Duration

	// MaxBlockSize bounds the cumulative serialized size of a block's
	// transactions.
	MaxBlockSize uint64

	// ReorgDepthWindow is how far behind the main tip an alternative branch
	// tip may trail before the branch is discarded.
	ReorgDepthWindow uint64

	// MempoolTxLifetime is how long a transaction may wait in the pool
	// before it is expired.
	MempoolTxLifetime time.Duration

	// AddressPrefix is the varint tag that Cache account addresses encode
	// under base58.
	AddressPrefix uint64

	// GenesisNonce seeds the genesis header so sibling networks get
	// distinct genesis hashes.
	GenesisNonce uint32
}

// MainNetParams is the Currency profile of the production Cache network. The
// network id spells out the project tag; it predates this implementation and
// must never change.
var MainNetParams = Params{
	Name: "mainnet",
	NetworkID: NetworkID{
		0x74, 0x68, 0x65, 0x63, 0x61, 0x63, 0x68, 0x65,
		0x20, 0x70, 0x72, 0x6F, 0x6A, 0x65, 0x63, 0x74,
	},
	DefaultPort: 39999,
	SeedNodes: []string{
		"51.79.26.4:39999",
		"95.111.246.231:39999",
		"136.244.96.121:39999",
		"161.97.74.64:39999",
	},
	Checkpoints:          embeddedCheckpoints,
	MoneySupply:          ^uint64(0),
	EmissionSpeedFactor:  18,
	MinimumFeePerByte:    10,
	CoinbaseUnlockWindow: 10,
	DifficultyTarget:     93 * time.Second,
	DifficultyWindow:     17,
	DifficultyTrim:       2,
	TimestampCheckWindow: 60,
	FutureTimeLimit:      2 * time.Hour,
	MaxBlockSize:         500 * 1024,
	ReorgDepthWindow:     60,
	MempoolTxLifetime:    24 * time.Hour,
	AddressPrefix:        0x1c3a5,
	GenesisNonce:         70,
}

// TestNetParams is the Currency profile used with --testnet. The first byte
// of the network id is flipped, checkpoints and seed nodes are dropped, and
// the port moves up by one.
var TestNetParams = func() Params {
	params := MainNetParams
	params.Name = "testnet"
	params.NetworkID[0] ^= 0xff
	params.DefaultPort = MainNetParams.DefaultPort + 1
	params.SeedNodes = nil
	params.Checkpoints = nil
	params.GenesisNonce = MainNetParams.GenesisNonce + 1
	return params
}()

// BlockReward returns the base reward of the next block given the amount of
// coins already generated. The reward decays geometrically and never reaches
// zero while supply remains.
func (p *Params) BlockReward(alreadyGenerated uint64) uint64 {
	if alreadyGenerated >= p.MoneySupply {
		return 0
	}
	reward := (p.MoneySupply - alreadyGenerated) >> p.EmissionSpeedFactor
	if reward == 0 {
		reward = 1
	}
	return reward
}
