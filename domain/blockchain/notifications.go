package blockchain

import (
	"github.com/Menutra/Cache-Cash/domain/types"
	"github.com/Menutra/Cache-Cash/util/cryptohash"
)

// NotificationType represents the type of a notification message.
type NotificationType int

const (
	// NTBlockConnected indicates a block was connected to the main chain.
	NTBlockConnected NotificationType = iota

	// NTChainReorganized indicates the main chain suffix was replaced by an
	// alternative branch.
	NTChainReorganized
)

// Notification defines an asynchronous chain event along with its payload.
type Notification struct {
	Type NotificationType
	Data interface{}
}

// BlockConnectedData is the payload of NTBlockConnected.
type BlockConnectedData struct {
	Block        *types.Block
	Hash         cryptohash.Hash
	Height       uint64
	Transactions []*types.Transaction
}

// ChainReorganizedData is the payload of NTChainReorganized. The connected
// branch blocks are reported individually as NTBlockConnected before this
// event.
type ChainReorganizedData struct {
	// DetachedTransactions are the non-coinbase transactions of the
	// rolled-back blocks. Those still valid belong back in the mempool.
	DetachedTransactions []*types.Transaction
	ForkHeight           uint64
	NewTipHash           cryptohash.Hash
	NewTipHeight         uint64
}

// NotificationCallback is a callback function for chain events.
type NotificationCallback func(*Notification)

// Subscribe registers a callback for chain events. Callbacks run after the
// triggering state change is committed and must not call back into the
// store's write path.
func (s *Store) Subscribe(callback NotificationCallback) {
	s.lock.Lock()
	defer s.lock.Unlock()
	s.notifees = append(s.notifees, callback)
}

func (s *Store) sendNotification(n *Notification) {
	s.lock.RLock()
	notifees := s.notifees
	s.lock.RUnlock()
	for _, callback := range notifees {
		callback(n)
	}
}
