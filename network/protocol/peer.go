package protocol

import (
	"sync"
	"time"

	mapset "github.com/deckarep/golang-set"

	"github.com/Menutra/Cache-Cash/network/appmessage"
	"github.com/Menutra/Cache-Cash/util/cryptohash"
)

// SyncState is the per-connection position in the sync state machine.
type SyncState int

// The sync states, in the order a fresh connection normally traverses them.
const (
	StateBeforeHandshake SyncState = iota
	StateSynchronizingRequested
	StateSynchronizingDownloading
	StateNormal
	StateClosing
)

func (s SyncState) String() string {
	switch s {
	case StateBeforeHandshake:
		return "before-handshake"
	case StateSynchronizingRequested:
		return "synchronizing-requested"
	case StateSynchronizingDownloading:
		return "synchronizing-downloading"
	case StateNormal:
		return "normal"
	case StateClosing:
		return "closing"
	default:
		return "unknown"
	}
}

// NetConnection is the transport surface the protocol handler drives. The
// node server owns the socket; the handler holds this non-owning view.
type NetConnection interface {
	Send(envelope *appmessage.Envelope) error
	Disconnect()
	Address() string
	IsOutbound() bool
}

// Rate limiting thresholds per peer, in requests per second sustained.
// Violations escalate: warn, throttle, disconnect.
const (
	rateWarnThreshold       = 8
	rateThrottleThreshold   = 16
	rateDisconnectThreshold = 32
	throttleDelay           = 200 * time.Millisecond
)

// Peer is the protocol handler's per-connection context: the sync state
// machine, the in-flight request bookkeeping, and the rate limiter.
type Peer struct {
	conn NetConnection
	id   uint64

	lock          sync.Mutex
	state         SyncState
	remoteHeight  uint64
	remoteTopHash cryptohash.Hash
	lastResponse  time.Time
	nextRequestID uint64

	// Sync bookkeeping: hashes announced by chain entries but not yet
	// requested, and hashes requested but not yet delivered.
	pendingBlocks   []cryptohash.Hash
	requestedBlocks mapset.Set

	// Responder-side rate accounting.
	requestWindowStart time.Time
	requestWindowCount int
}

func newPeer(conn NetConnection, id uint64) *Peer {
	return &Peer{
		conn:            conn,
		id:              id,
		state:           StateBeforeHandshake,
		requestedBlocks: mapset.NewThreadUnsafeSet(),
		lastResponse:    time.Now(),
	}
}

// ID returns the remote peer id from the handshake.
func (p *Peer) ID() uint64 {
	return p.id
}

// Address returns the remote address.
func (p *Peer) Address() string {
	return p.conn.Address()
}

// State returns the current sync state.
func (p *Peer) State() SyncState {
	p.lock.Lock()
	defer p.lock.Unlock()
	return p.state
}

func (p *Peer) setState(state SyncState) {
	p.lock.Lock()
	old := p.state
	p.state = state
	p.lock.Unlock()
	if old != state {
		log.Debugf("Peer %s moved %s -> %s", p.Address(), old, state)
	}
}

// RemoteHeight returns the last chain height the peer reported.
func (p *Peer) RemoteHeight() uint64 {
	p.lock.Lock()
	defer p.lock.Unlock()
	return p.remoteHeight
}

func (p *Peer) setRemoteChain(height uint64, topHash cryptohash.Hash) {
	p.lock.Lock()
	defer p.lock.Unlock()
	p.remoteHeight = height
	p.remoteTopHash = topHash
	p.lastResponse = time.Now()
}

func (p *Peer) setRemoteHeight(height uint64) {
	p.lock.Lock()
	defer p.lock.Unlock()
	p.remoteHeight = height
	p.lastResponse = time.Now()
}

// requestID returns a fresh request correlation id.
func (p *Peer) requestID() uint64 {
	p.lock.Lock()
	defer p.lock.Unlock()
	p.nextRequestID++
	return p.nextRequestID
}

// recordRequest feeds the responder-side rate limiter. The returned action
// tells the dispatch loop whether to proceed, stall, or drop the peer.
type rateAction int

const (
	rateProceed rateAction = iota
	rateThrottle
	rateDisconnect
)

func (p *Peer) recordRequest() rateAction {
	p.lock.Lock()
	defer p.lock.Unlock()

	now := time.Now()
	if now.Sub(p.requestWindowStart) > time.Second {
		p.requestWindowStart = now
		p.requestWindowCount = 0
	}
	p.requestWindowCount++

	switch {
	case p.requestWindowCount > rateDisconnectThreshold:
		return rateDisconnect
	case p.requestWindowCount > rateThrottleThreshold:
		return rateThrottle
	case p.requestWindowCount > rateWarnThreshold:
		log.Warnf("Peer %s is sending %d requests/s", p.conn.Address(),
			p.requestWindowCount)
	}
	return rateProceed
}
