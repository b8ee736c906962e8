package core

import (
	"bytes"

	"github.com/pkg/errors"

	"github.com/Menutra/Cache-Cash/crypto"
	"github.com/Menutra/Cache-Cash/domain/blockchain"
	"github.com/Menutra/Cache-Cash/domain/mempool"
	"github.com/Menutra/Cache-Cash/domain/types"
	"github.com/Menutra/Cache-Cash/infrastructure/dispatcher"
	"github.com/Menutra/Cache-Cash/netparams"
	"github.com/Menutra/Cache-Cash/util"
	"github.com/Menutra/Cache-Cash/util/cryptohash"
)

// ProtocolRelay is the capability the protocol handler hands to the core so
// freshly accepted objects reach the network. The core never holds an owning
// reference to the protocol handler.
type ProtocolRelay interface {
	// RelayBlock announces a block the local node produced or accepted
	// outside the normal gossip path.
	RelayBlock(block *types.Block, transactions []*types.Transaction, height uint64)

	// RelayTransactions announces transactions accepted into the mempool.
	RelayTransactions(transactions []*types.Transaction)
}

// PeerCounter is the capability the node server hands to the core for the
// info surface.
type PeerCounter interface {
	ConnectedPeerCount() (outgoing int, incoming int)
}

// FeeConfig carries the remote-node fee parameters the RPC server forwards
// to light wallets.
type FeeConfig struct {
	Address *util.Address
	Amount  uint64
	ViewKey string
	NodeID  string
}

// Core glues the blockchain store, the mempool and the protocol relay
// together and exposes the synchronous query/submit surface the RPC server
// and the miners use.
type Core struct {
	params     *netparams.Params
	store      *blockchain.Store
	pool       *mempool.Pool
	dispatcher *dispatcher.Dispatcher

	relay       ProtocolRelay
	peerCounter PeerCounter
	feeConfig   FeeConfig
}

// New wires a core around the given store and pool. The store's chain events
// drive the mempool hooks.
func New(params *netparams.Params, store *blockchain.Store, pool *mempool.Pool,
	disp *dispatcher.Dispatcher) *Core {

	c := &Core{
		params:     params,
		store:      store,
		pool:       pool,
		dispatcher: disp,
	}
	store.Subscribe(c.handleChainNotification)
	return c
}

// SetRelay injects the protocol relay capability. Must be called before the
// node goes online.
func (c *Core) SetRelay(relay ProtocolRelay) {
	c.relay = relay
}

// SetPeerCounter injects the node server's peer counting capability.
func (c *Core) SetPeerCounter(counter PeerCounter) {
	c.peerCounter = counter
}

// SetFeeConfig installs the remote-node fee parameters.
func (c *Core) SetFeeConfig(config FeeConfig) {
	c.feeConfig = config
}

// FeeConfig returns the remote-node fee parameters.
func (c *Core) FeeConfig() FeeConfig {
	return c.feeConfig
}

// Store exposes the blockchain store to the protocol handler's responder
// paths.
func (c *Core) Store() *blockchain.Store {
	return c.store
}

// Pool exposes the mempool.
func (c *Core) Pool() *mempool.Pool {
	return c.pool
}

func (c *Core) handleChainNotification(n *blockchain.Notification) {
	switch n.Type {
	case blockchain.NTBlockConnected:
		data := n.Data.(*blockchain.BlockConnectedData)
		c.pool.HandleBlockConnected(data)
	case blockchain.NTChainReorganized:
		data := n.Data.(*blockchain.ChainReorganizedData)
		c.pool.HandleChainReorganized(data)
	}
}

// verifyBlockPoW runs the expensive proof-of-work hash on the verification
// pool and checks it against the difficulty required of the block.
func (c *Core) verifyBlockPoW(block *types.Block) error {
	return c.dispatcher.VerifyPool().DoErr(func() error {
		powHash, err := block.PowHash()
		if err != nil {
			return blockchain.RuleError{
				ErrorCode:   blockchain.ErrInvalidTransaction,
				Description: err.Error(),
			}
		}
		// The difficulty consulted here is the one of the branch being
		// extended; a block whose parent is unknown fails later as an
		// orphan, so a best-effort tip difficulty precheck is not used.
		// The store re-derives the branch difficulty under its lock.
		blockHash, err := block.Hash()
		if err != nil {
			return blockchain.RuleError{
				ErrorCode:   blockchain.ErrInvalidTransaction,
				Description: err.Error(),
			}
		}
		difficulty, ok := c.store.BranchDifficultyFor(block.PrevHash)
		if !ok {
			// Unknown parent: leave the orphan classification to AddBlock.
			return nil
		}
		if !crypto.CheckHashAgainstDifficulty(powHash, difficulty) {
			return blockchain.RuleError{
				ErrorCode: blockchain.ErrInsufficientPow,
				Description: "block " + blockHash.String() +
					" proof of work does not meet the required difficulty",
			}
		}
		return nil
	})
}

// HandleIncomingBlock validates and commits a block that arrived from the
// network or a miner. The proof of work runs on the verification worker pool
// before the store lock is taken.
func (c *Core) HandleIncomingBlock(block *types.Block, transactions []*types.Transaction) (
	blockchain.BlockAddedStatus, error) {

	if err := c.verifyBlockPoW(block); err != nil {
		return 0, err
	}
	return c.store.AddBlock(block, transactions, blockchain.BFNoPoWCheck)
}

// HandleIncomingTransactions offers transaction bodies to the mempool and
// returns the subset that was newly accepted, ready for relay.
func (c *Core) HandleIncomingTransactions(transactions []*types.Transaction) []*types.Transaction {
	accepted := make([]*types.Transaction, 0, len(transactions))
	for _, tx := range transactions {
		added, err := c.pool.AddTransaction(tx)
		if err != nil {
			if hash, hashErr := tx.Hash(); hashErr == nil {
				log.Debugf("Rejected relayed transaction %s: %v", hash, err)
			}
			continue
		}
		if added {
			accepted = append(accepted, tx)
		}
	}
	return accepted
}

// PopBlock rolls back one tip block and offers its transactions back to the
// mempool. Transactions the rolled-back state no longer accepts are dropped.
func (c *Core) PopBlock() error {
	block, transactions, err := c.store.PopBlock()
	if err != nil {
		return err
	}
	blockHash, err := block.Hash()
	if err != nil {
		return err
	}
	requeued := c.HandleIncomingTransactions(transactions)
	log.Infof("Popped block %s; %d of %d transactions returned to the pool",
		blockHash, len(requeued), len(transactions))
	return nil
}

// Info is the get_info snapshot.
type Info struct {
	Height         uint64
	TopHash        cryptohash.Hash
	Difficulty     uint64
	GeneratedCoins uint64
	MempoolSize    int
	OutgoingPeers  int
	IncomingPeers  int
	Network        string
}

// GetInfo returns a consistent snapshot of the node state.
func (c *Core) GetInfo() Info {
	info := Info{
		Height:         c.store.TipHeight(),
		TopHash:        c.store.TipHash(),
		Difficulty:     c.store.NextDifficulty(),
		GeneratedCoins: c.store.GeneratedCoins(),
		MempoolSize:    c.pool.Count(),
		Network:        c.params.Name,
	}
	if c.peerCounter != nil {
		info.OutgoingPeers, info.IncomingPeers = c.peerCounter.ConnectedPeerCount()
	}
	return info
}

// GetHeight returns the main chain tip height.
func (c *Core) GetHeight() uint64 {
	return c.store.TipHeight()
}

// GetBlockByHash returns a known block with its transactions and height.
func (c *Core) GetBlockByHash(hash cryptohash.Hash) (*types.Block, []*types.Transaction, uint64, error) {
	return c.store.GetBlock(hash)
}

// GetBlockByHeight returns the main chain block at the given height.
func (c *Core) GetBlockByHeight(height uint64) (*types.Block, []*types.Transaction, cryptohash.Hash, error) {
	return c.store.GetBlockByHeight(height)
}

// GetTransactions resolves the given hashes against the chain and the
// mempool. Unknown hashes are returned separately.
func (c *Core) GetTransactions(hashes []cryptohash.Hash) (found []*types.Transaction, missing []cryptohash.Hash) {
	for _, hash := range hashes {
		if tx, _, ok := c.store.GetTransaction(hash); ok {
			found = append(found, tx)
			continue
		}
		if tx, ok := c.pool.GetTransaction(hash); ok {
			found = append(found, tx)
			continue
		}
		missing = append(missing, hash)
	}
	return found, missing
}

// SendRawTransaction decodes a serialized transaction, offers it to the
// mempool, and relays it on acceptance.
func (c *Core) SendRawTransaction(blob []byte) (cryptohash.Hash, error) {
	tx, err := types.DeserializeTransaction(bytes.NewReader(blob))
	if err != nil {
		return cryptohash.Hash{}, err
	}
	hash, err := tx.Hash()
	if err != nil {
		return cryptohash.Hash{}, err
	}

	added, err := c.pool.AddTransaction(tx)
	if err != nil {
		return cryptohash.Hash{}, err
	}
	if added && c.relay != nil {
		c.relay.RelayTransactions([]*types.Transaction{tx})
	}
	return hash, nil
}

// GetBlockTemplate assembles a mining candidate paying minerAddress.
func (c *Core) GetBlockTemplate(minerAddress string, extraNonce []byte) (*blockchain.BlockTemplate, error) {
	address, err := util.DecodeAddress(minerAddress, c.params.AddressPrefix)
	if err != nil {
		return nil, errors.Wrap(err, "bad miner address")
	}

	// Reserve room for the coinbase before filling from the pool.
	budget := c.params.MaxBlockSize - c.params.MaxBlockSize/10
	poolTxs := c.pool.FillBlockTemplate(budget)
	return c.store.BuildBlockTemplate(address, extraNonce, poolTxs)
}

// SubmitBlock decodes a mined block, resolves its transaction bodies from
// the mempool and the chain, commits it, and relays it on success.
func (c *Core) SubmitBlock(blob []byte) (cryptohash.Hash, error) {
	block, err := types.DeserializeBlock(bytes.NewReader(blob))
	if err != nil {
		return cryptohash.Hash{}, err
	}
	blockHash, err := block.Hash()
	if err != nil {
		return cryptohash.Hash{}, err
	}

	transactions, missing := c.GetTransactions(block.TxHashes)
	if len(missing) > 0 {
		return cryptohash.Hash{}, errors.Errorf("submitted block references %d unknown transactions",
			len(missing))
	}

	status, err := c.HandleIncomingBlock(block, transactions)
	if err != nil {
		return cryptohash.Hash{}, err
	}
	if status == blockchain.StatusAddedToMainChain && c.relay != nil {
		c.relay.RelayBlock(block, transactions, c.store.TipHeight())
	}
	log.Infof("Submitted block %s: %s", blockHash, status)
	return blockHash, nil
}
