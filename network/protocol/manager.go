package protocol

import (
	"bytes"
	"sync"
	"time"

	lru "github.com/hashicorp/golang-lru"
	"github.com/pkg/errors"

	"github.com/Menutra/Cache-Cash/domain/blockchain"
	"github.com/Menutra/Cache-Cash/domain/core"
	"github.com/Menutra/Cache-Cash/domain/types"
	"github.com/Menutra/Cache-Cash/netparams"
	"github.com/Menutra/Cache-Cash/network/appmessage"
	"github.com/Menutra/Cache-Cash/network/protocol/protocolerrors"
	"github.com/Menutra/Cache-Cash/util/cryptohash"
)

// PeerSet is the capability the node server hands to the protocol handler
// for peer discipline. The handler never owns connections or peer lists.
type PeerSet interface {
	BanAddress(address string, cooldown time.Duration)
	MarkPeerFailure(address string)
}

// Batching and response limits of the sync conversation.
const (
	// chainEntryLimit caps the ids one chain entry response carries.
	chainEntryLimit = 200

	// objectsRequestBatch is how many blocks one object request asks for.
	objectsRequestBatch = 20

	// misbehaviorBanCooldown is how long peers serving invalid proof of
	// work or checkpoint-contradicting blocks stay banned.
	misbehaviorBanCooldown = 10 * time.Minute

	// relayCacheSize bounds the recently relayed object caches.
	relayCacheSize = 4096
)

// Manager is the protocol handler: it drives the per-peer sync state
// machine, answers sync queries, and relays fresh blocks and transactions.
type Manager struct {
	params  *netparams.Params
	core    *core.Core
	peerSet PeerSet

	peersLock sync.RWMutex
	peers     map[uint64]*Peer

	// Hashes recently relayed, to cut echo loops.
	relayedBlocks *lru.Cache
	relayedTxs    *lru.Cache
}

// NewManager wires a protocol handler to the core.
func NewManager(params *netparams.Params, c *core.Core, peerSet PeerSet) (*Manager, error) {
	relayedBlocks, err := lru.New(relayCacheSize)
	if err != nil {
		return nil, errors.WithStack(err)
	}
	relayedTxs, err := lru.New(relayCacheSize)
	if err != nil {
		return nil, errors.WithStack(err)
	}
	m := &Manager{
		params:        params,
		core:          c,
		peerSet:       peerSet,
		peers:         make(map[uint64]*Peer),
		relayedBlocks: relayedBlocks,
		relayedTxs:    relayedTxs,
	}
	c.SetRelay(m)
	return m, nil
}

// AddPeer registers a connection that completed its handshake and starts its
// sync state machine. remoteHeight and remoteTopHash come from the handshake
// payload.
func (m *Manager) AddPeer(conn NetConnection, peerID uint64,
	remoteHeight uint64, remoteTopHash cryptohash.Hash) (*Peer, error) {

	peer := newPeer(conn, peerID)
	peer.setRemoteChain(remoteHeight, remoteTopHash)

	m.peersLock.Lock()
	m.peers[peerID] = peer
	m.peersLock.Unlock()

	localHeight := m.core.GetHeight()
	localTop := m.core.Store().TipHash()
	if remoteHeight > localHeight ||
		(remoteHeight == localHeight && remoteTopHash != localTop && remoteHeight > 0) {
		if err := m.startSync(peer); err != nil {
			return nil, err
		}
	} else {
		peer.setState(StateNormal)
	}
	return peer, nil
}

// RemovePeer unregisters a closed connection.
func (m *Manager) RemovePeer(peer *Peer) {
	peer.setState(StateClosing)
	m.peersLock.Lock()
	delete(m.peers, peer.id)
	m.peersLock.Unlock()
}

// PeerCount returns the number of registered peers.
func (m *Manager) PeerCount() int {
	m.peersLock.RLock()
	defer m.peersLock.RUnlock()
	return len(m.peers)
}

// UpdatePeerChain records a fresh tip report from a timed sync. A peer that
// pulled ahead while we idled triggers a new sync round.
func (m *Manager) UpdatePeerChain(peer *Peer, height uint64, topHash cryptohash.Hash) {
	peer.setRemoteChain(height, topHash)
	if peer.State() == StateNormal && height > m.core.GetHeight() {
		if err := m.startSync(peer); err != nil {
			log.Debugf("Couldn't restart sync with %s: %v", peer.Address(), err)
		}
	}
}

// startSync sends the local sparse chain and moves the peer into the
// requested state.
func (m *Manager) startSync(peer *Peer) error {
	peer.setState(StateSynchronizingRequested)
	sparse := m.core.Store().BuildSparseChain()
	log.Infof("Synchronizing with %s: local height %d, remote height %d",
		peer.Address(), m.core.GetHeight(), peer.RemoteHeight())
	return peer.conn.Send(&appmessage.Envelope{
		Message:   &appmessage.MsgRequestChain{BlockIDs: sparse},
		RequestID: peer.requestID(),
	})
}

// HandleEnvelope processes one incoming frame for the peer. The returned
// error, when it is a ProtocolError, causes the node server to drop and
// possibly ban the peer.
func (m *Manager) HandleEnvelope(peer *Peer, envelope *appmessage.Envelope) error {
	switch msg := envelope.Message.(type) {
	case *appmessage.MsgRequestChain:
		return m.handleRequestChain(peer, msg, envelope.RequestID)
	case *appmessage.MsgResponseChainEntry:
		return m.handleResponseChainEntry(peer, msg)
	case *appmessage.MsgRequestGetObjects:
		return m.handleRequestGetObjects(peer, msg, envelope.RequestID)
	case *appmessage.MsgResponseGetObjects:
		return m.handleResponseGetObjects(peer, msg)
	case *appmessage.MsgNewBlock:
		return m.handleNewBlock(peer, msg)
	case *appmessage.MsgNewTransactions:
		return m.handleNewTransactions(peer, msg)
	default:
		return protocolerrors.Errorf(false, "unexpected %s frame",
			envelope.Message.Command())
	}
}

// throttleOrDrop applies the responder-side rate limit.
func (m *Manager) throttleOrDrop(peer *Peer) error {
	switch peer.recordRequest() {
	case rateDisconnect:
		return protocolerrors.Errorf(false, "peer %s exceeded the request rate limit",
			peer.Address())
	case rateThrottle:
		time.Sleep(throttleDelay)
	}
	return nil
}

func (m *Manager) handleRequestChain(peer *Peer, msg *appmessage.MsgRequestChain,
	requestID uint64) error {

	if err := m.throttleOrDrop(peer); err != nil {
		return err
	}
	if len(msg.BlockIDs) == 0 {
		return protocolerrors.New(false, "empty chain request")
	}

	startHeight, totalHeight, ids, ok := m.core.Store().FindSupplement(msg.BlockIDs, chainEntryLimit)
	if !ok {
		return protocolerrors.New(true, "chain request shares no common block, not even genesis")
	}
	return peer.conn.Send(&appmessage.Envelope{
		Message: &appmessage.MsgResponseChainEntry{
			StartHeight: startHeight,
			TotalHeight: totalHeight,
			BlockIDs:    ids,
		},
		IsResponse: true,
		RequestID:  requestID,
	})
}

func (m *Manager) handleResponseChainEntry(peer *Peer, msg *appmessage.MsgResponseChainEntry) error {
	state := peer.State()
	if state != StateSynchronizingRequested && state != StateSynchronizingDownloading {
		return protocolerrors.New(false, "unsolicited chain entry")
	}
	if len(msg.BlockIDs) == 0 {
		return protocolerrors.New(true, "empty chain entry")
	}
	// The split point must be a block we know on the main chain; otherwise
	// the peer is answering a sparse chain we never sent.
	if !m.core.Store().IsOnMainChain(msg.BlockIDs[0]) {
		return protocolerrors.Errorf(true, "chain entry split point %s is not on our main chain",
			msg.BlockIDs[0])
	}

	peer.lock.Lock()
	peer.remoteHeight = msg.TotalHeight
	for _, id := range msg.BlockIDs[1:] {
		peer.pendingBlocks = append(peer.pendingBlocks, id)
	}
	peer.lock.Unlock()
	peer.setState(StateSynchronizingDownloading)
	return m.requestNextObjects(peer)
}

// requestNextObjects pulls the next batch of pending hashes into the
// in-flight set and requests their bodies. With nothing pending and nothing
// in flight, the peer either needs another chain span or is fully synced.
func (m *Manager) requestNextObjects(peer *Peer) error {
	peer.lock.Lock()
	batch := make([]cryptohash.Hash, 0, objectsRequestBatch)
	for len(peer.pendingBlocks) > 0 && len(batch) < objectsRequestBatch {
		hash := peer.pendingBlocks[0]
		peer.pendingBlocks = peer.pendingBlocks[1:]
		if m.core.Store().HaveBlock(hash) {
			continue
		}
		batch = append(batch, hash)
		peer.requestedBlocks.Add(hash)
	}
	remoteHeight := peer.remoteHeight
	inFlight := peer.requestedBlocks.Cardinality()
	peer.lock.Unlock()

	if len(batch) > 0 {
		return peer.conn.Send(&appmessage.Envelope{
			Message:   &appmessage.MsgRequestGetObjects{BlockHashes: batch},
			RequestID: peer.requestID(),
		})
	}
	if inFlight > 0 {
		return nil
	}
	if m.core.GetHeight() >= remoteHeight {
		log.Infof("Synchronized with %s at height %d", peer.Address(), m.core.GetHeight())
		peer.setState(StateNormal)
		return nil
	}
	// The entry span is drained but the peer is still ahead: ask for the
	// next span.
	return m.startSync(peer)
}

func (m *Manager) handleRequestGetObjects(peer *Peer, msg *appmessage.MsgRequestGetObjects,
	requestID uint64) error {

	if err := m.throttleOrDrop(peer); err != nil {
		return err
	}
	if len(msg.BlockHashes) > appmessage.MaxBlocksPerObjectsResponse {
		return protocolerrors.Errorf(true, "object request for %d blocks, limit %d",
			len(msg.BlockHashes), appmessage.MaxBlocksPerObjectsResponse)
	}

	response := &appmessage.MsgResponseGetObjects{
		CurrentBlockchainHeight: m.core.GetHeight(),
	}
	for _, hash := range msg.BlockHashes {
		block, transactions, _, err := m.core.Store().GetBlock(hash)
		if err != nil {
			// Asking for blocks we never announced is a violation.
			return protocolerrors.Wrap(false, err, "object request for unknown block")
		}
		raw, err := encodeRawBlock(block, transactions)
		if err != nil {
			return err
		}
		response.Blocks = append(response.Blocks, *raw)
	}
	found, missing := m.core.GetTransactions(msg.TxHashes)
	for _, tx := range found {
		blob, err := tx.Bytes()
		if err != nil {
			return err
		}
		response.TxBlobs = append(response.TxBlobs, blob)
	}
	response.MissingTxHashes = missing

	return peer.conn.Send(&appmessage.Envelope{
		Message:    response,
		IsResponse: true,
		RequestID:  requestID,
	})
}

func encodeRawBlock(block *types.Block, transactions []*types.Transaction) (*appmessage.RawBlock, error) {
	blockBlob, err := block.Bytes()
	if err != nil {
		return nil, err
	}
	raw := &appmessage.RawBlock{BlockBlob: blockBlob}
	for _, tx := range transactions {
		txBlob, err := tx.Bytes()
		if err != nil {
			return nil, err
		}
		raw.TxBlobs = append(raw.TxBlobs, txBlob)
	}
	return raw, nil
}

func decodeRawBlock(raw *appmessage.RawBlock) (*types.Block, []*types.Transaction, error) {
	block, err := types.DeserializeBlock(bytes.NewReader(raw.BlockBlob))
	if err != nil {
		return nil, nil, err
	}
	transactions := make([]*types.Transaction, 0, len(raw.TxBlobs))
	for _, blob := range raw.TxBlobs {
		tx, err := types.DeserializeTransaction(bytes.NewReader(blob))
		if err != nil {
			return nil, nil, err
		}
		transactions = append(transactions, tx)
	}
	return block, transactions, nil
}

func (m *Manager) handleResponseGetObjects(peer *Peer, msg *appmessage.MsgResponseGetObjects) error {
	if peer.State() != StateSynchronizingDownloading {
		return protocolerrors.New(false, "unsolicited objects response")
	}
	peer.setRemoteHeight(msg.CurrentBlockchainHeight)

	for i := range msg.Blocks {
		block, transactions, err := decodeRawBlock(&msg.Blocks[i])
		if err != nil {
			return protocolerrors.Wrap(true, err, "undecodable block in objects response")
		}
		blockHash, err := block.Hash()
		if err != nil {
			return protocolerrors.Wrap(true, err, "unhashable block in objects response")
		}

		peer.lock.Lock()
		wasRequested := peer.requestedBlocks.Contains(blockHash)
		peer.requestedBlocks.Remove(blockHash)
		peer.lock.Unlock()
		if !wasRequested {
			return protocolerrors.Errorf(true, "objects response carries unrequested block %s",
				blockHash)
		}

		if err := m.acceptSyncBlock(peer, block, transactions, blockHash); err != nil {
			return err
		}
	}

	// Loose transaction bodies we asked for go straight to the mempool.
	if len(msg.TxBlobs) > 0 {
		transactions := make([]*types.Transaction, 0, len(msg.TxBlobs))
		for _, blob := range msg.TxBlobs {
			tx, err := types.DeserializeTransaction(bytes.NewReader(blob))
			if err != nil {
				return protocolerrors.Wrap(true, err, "undecodable transaction in objects response")
			}
			transactions = append(transactions, tx)
		}
		m.core.HandleIncomingTransactions(transactions)
	}
	return m.requestNextObjects(peer)
}

// acceptSyncBlock commits one downloaded block. Because its hash came from a
// chain entry in order, an orphan result means the peer lied about ordering.
func (m *Manager) acceptSyncBlock(peer *Peer, block *types.Block,
	transactions []*types.Transaction, blockHash cryptohash.Hash) error {

	_, err := m.core.HandleIncomingBlock(block, transactions)
	if err == nil {
		return nil
	}

	var ruleErr blockchain.RuleError
	if !errors.As(err, &ruleErr) {
		return err
	}
	switch ruleErr.ErrorCode {
	case blockchain.ErrOrphanBlock:
		return protocolerrors.Errorf(true,
			"block %s from a chain entry arrived as an orphan; peer violated ordering", blockHash)
	case blockchain.ErrInsufficientPow, blockchain.ErrSignatureInvalid,
		blockchain.ErrCheckpointMismatch:
		m.peerSet.BanAddress(peer.Address(), misbehaviorBanCooldown)
		return protocolerrors.Wrap(true, err, "peer served an invalid block")
	default:
		return protocolerrors.Wrap(true, err, "peer served a rejected block")
	}
}

func (m *Manager) handleNewBlock(peer *Peer, msg *appmessage.MsgNewBlock) error {
	block, err := types.DeserializeBlock(bytes.NewReader(msg.BlockBlob))
	if err != nil {
		return protocolerrors.Wrap(true, err, "undecodable block announcement")
	}
	transactions := make([]*types.Transaction, 0, len(msg.TxBlobs))
	for _, blob := range msg.TxBlobs {
		tx, err := types.DeserializeTransaction(bytes.NewReader(blob))
		if err != nil {
			return protocolerrors.Wrap(true, err, "undecodable transaction in block announcement")
		}
		transactions = append(transactions, tx)
	}
	blockHash, err := block.Hash()
	if err != nil {
		return protocolerrors.Wrap(true, err, "unhashable block announcement")
	}
	peer.setRemoteChain(msg.CurrentBlockchainHeight, blockHash)

	status, err := m.core.HandleIncomingBlock(block, transactions)
	if err != nil {
		var ruleErr blockchain.RuleError
		if errors.As(err, &ruleErr) {
			switch ruleErr.ErrorCode {
			case blockchain.ErrOrphanBlock:
				// The announcer is ahead of us; pull the gap instead of
				// buffering the orphan.
				log.Debugf("Orphan announcement %s from %s; requesting chain",
					blockHash, peer.Address())
				return m.startSync(peer)
			case blockchain.ErrInsufficientPow, blockchain.ErrSignatureInvalid,
				blockchain.ErrCheckpointMismatch:
				m.peerSet.BanAddress(peer.Address(), misbehaviorBanCooldown)
				return protocolerrors.Wrap(true, err, "peer announced an invalid block")
			default:
				return protocolerrors.Wrap(false, err, "peer announced a rejected block")
			}
		}
		return err
	}

	if status == blockchain.StatusAddedToMainChain {
		m.relayBlockInternal(block, transactions, m.core.GetHeight(), msg.Hop+1, peer.ID())
	}
	return nil
}

func (m *Manager) handleNewTransactions(peer *Peer, msg *appmessage.MsgNewTransactions) error {
	transactions := make([]*types.Transaction, 0, len(msg.TxBlobs))
	for _, blob := range msg.TxBlobs {
		tx, err := types.DeserializeTransaction(bytes.NewReader(blob))
		if err != nil {
			return protocolerrors.Wrap(true, err, "undecodable transaction announcement")
		}
		transactions = append(transactions, tx)
	}

	accepted := m.core.HandleIncomingTransactions(transactions)
	if len(accepted) > 0 {
		m.relayTransactionsInternal(accepted, peer.ID())
	}
	return nil
}

// RelayBlock implements core.ProtocolRelay for locally produced blocks.
func (m *Manager) RelayBlock(block *types.Block, transactions []*types.Transaction, height uint64) {
	m.relayBlockInternal(block, transactions, height, 0, 0)
}

func (m *Manager) relayBlockInternal(block *types.Block, transactions []*types.Transaction,
	height uint64, hop uint32, originPeer uint64) {

	blockHash, err := block.Hash()
	if err != nil {
		return
	}
	if seen, _ := m.relayedBlocks.ContainsOrAdd(blockHash, struct{}{}); seen {
		return
	}

	raw, err := encodeRawBlock(block, transactions)
	if err != nil {
		log.Errorf("Couldn't encode block %s for relay: %v", blockHash, err)
		return
	}
	msg := &appmessage.MsgNewBlock{
		BlockBlob:               raw.BlockBlob,
		TxBlobs:                 raw.TxBlobs,
		CurrentBlockchainHeight: height,
		Hop:                     hop,
	}

	m.forEachNormalPeer(originPeer, func(peer *Peer) {
		if err := peer.conn.Send(&appmessage.Envelope{Message: msg}); err != nil {
			log.Debugf("Couldn't relay block %s to %s: %v", blockHash, peer.Address(), err)
		}
	})
}

// RelayTransactions implements core.ProtocolRelay.
func (m *Manager) RelayTransactions(transactions []*types.Transaction) {
	m.relayTransactionsInternal(transactions, 0)
}

func (m *Manager) relayTransactionsInternal(transactions []*types.Transaction, originPeer uint64) {
	blobs := make([][]byte, 0, len(transactions))
	for _, tx := range transactions {
		hash, err := tx.Hash()
		if err != nil {
			continue
		}
		if seen, _ := m.relayedTxs.ContainsOrAdd(hash, struct{}{}); seen {
			continue
		}
		blob, err := tx.Bytes()
		if err != nil {
			continue
		}
		blobs = append(blobs, blob)
	}
	if len(blobs) == 0 {
		return
	}

	msg := &appmessage.MsgNewTransactions{TxBlobs: blobs}
	m.forEachNormalPeer(originPeer, func(peer *Peer) {
		if err := peer.conn.Send(&appmessage.Envelope{Message: msg}); err != nil {
			log.Debugf("Couldn't relay transactions to %s: %v", peer.Address(), err)
		}
	})
}

// forEachNormalPeer runs fn for every peer in the normal state except the
// origin.
func (m *Manager) forEachNormalPeer(originPeer uint64, fn func(*Peer)) {
	m.peersLock.RLock()
	peers := make([]*Peer, 0, len(m.peers))
	for _, peer := range m.peers {
		if peer.id == originPeer {
			continue
		}
		if peer.State() != StateNormal {
			continue
		}
		peers = append(peers, peer)
	}
	m.peersLock.RUnlock()
	for _, peer := range peers {
		fn(peer)
	}
}
