package p2pserver

import (
	"math/rand"
	"net"
	"sync"
	"time"

	"github.com/pkg/errors"

	"github.com/Menutra/Cache-Cash/infrastructure/dispatcher"
	"github.com/Menutra/Cache-Cash/netparams"
	"github.com/Menutra/Cache-Cash/network/appmessage"
	"github.com/Menutra/Cache-Cash/network/peerlist"
	"github.com/Menutra/Cache-Cash/network/protocol"
	"github.com/Menutra/Cache-Cash/network/protocol/protocolerrors"
	"github.com/Menutra/Cache-Cash/util/cryptohash"
)

// Housekeeping cadence and connection limits.
// The peer list exchange rides on the keepalive: every timed sync response
// carries a slice of the responder's white and anchor lists.
const (
	handshakeTimeout = 10 * time.Second
	writeTimeout     = 30 * time.Second
	idleTimeout      = 2 * time.Minute
	timedSyncPeriod  = 60 * time.Second
	dialPeriod       = 10 * time.Second

	defaultTargetOutbound = 8
	maxInbound            = 128

	// selfConnectionBanCooldown keeps the dialer from hammering its own
	// listening address.
	selfConnectionBanCooldown = 10 * time.Minute
)

// TipProvider is the chain view the node server embeds in handshakes and
// keepalives.
type TipProvider interface {
	TipHeight() uint64
	TipHash() cryptohash.Hash
}

// Config carries the node server's operator-facing knobs.
type Config struct {
	Listen         string
	TargetOutbound int
}

// Server is the P2P node server: it listens, dials to its target out-degree,
// runs handshakes, and pumps framed commands into the protocol handler.
type Server struct {
	params     *netparams.Params
	cfg        Config
	dispatcher *dispatcher.Dispatcher
	lists      *peerlist.Lists
	chain      TipProvider
	protocol   *protocol.Manager

	ownPeerID uint64
	listener  net.Listener

	lock        sync.Mutex
	connections map[*Connection]struct{}
	byPeerID    map[uint64]*Connection
	dialing     map[string]bool
}

// New creates a node server. SetProtocol must be called before Start.
func New(params *netparams.Params, cfg Config, disp *dispatcher.Dispatcher,
	lists *peerlist.Lists, chain TipProvider) *Server {

	if cfg.TargetOutbound == 0 {
		cfg.TargetOutbound = defaultTargetOutbound
	}
	return &Server{
		params:      params,
		cfg:         cfg,
		dispatcher:  disp,
		lists:       lists,
		chain:       chain,
		ownPeerID:   rand.Uint64(),
		connections: make(map[*Connection]struct{}),
		byPeerID:    make(map[uint64]*Connection),
		dialing:     make(map[string]bool),
	}
}

// SetProtocol injects the protocol handler. Done post-construction because
// the handler needs the server's PeerSet capability first.
func (s *Server) SetProtocol(manager *protocol.Manager) {
	s.protocol = manager
}

// OwnPeerID returns this node's random peer id.
func (s *Server) OwnPeerID() uint64 {
	return s.ownPeerID
}

// BanAddress implements protocol.PeerSet.
func (s *Server) BanAddress(address string, cooldown time.Duration) {
	s.lists.Ban(address, cooldown)
}

// MarkPeerFailure implements protocol.PeerSet.
func (s *Server) MarkPeerFailure(address string) {
	s.lists.MarkFailure(address)
}

// ConnectedPeerCount implements the core's PeerCounter capability.
func (s *Server) ConnectedPeerCount() (outgoing, incoming int) {
	s.lock.Lock()
	defer s.lock.Unlock()
	for conn := range s.connections {
		if conn.IsOutbound() {
			outgoing++
		} else {
			incoming++
		}
	}
	return outgoing, incoming
}

// Start binds the listener and launches the acceptor, dialer and
// housekeeping tasks.
func (s *Server) Start() error {
	if s.protocol == nil {
		return errors.New("node server started without a protocol handler")
	}

	listener, err := net.Listen("tcp", s.cfg.Listen)
	if err != nil {
		return errors.Wrapf(err, "couldn't listen on %s", s.cfg.Listen)
	}
	s.listener = listener
	log.Infof("P2P server listening on %s", s.cfg.Listen)

	s.seedPeerLists()

	s.dispatcher.Spawn(s.acceptLoop)
	s.dispatcher.Every(dialPeriod, s.maintainOutbound)
	s.dispatcher.Every(timedSyncPeriod, s.timedSyncAll)
	s.dispatcher.Every(timedSyncPeriod, s.dropIdle)
	return nil
}

// Run blocks until shutdown is initiated, then tears the network down: the
// listener closes, every connection is abandoned, and all tasks drain.
func (s *Server) Run() {
	<-s.dispatcher.Context().Done()
	log.Infof("P2P server shutting down")

	if s.listener != nil {
		s.listener.Close()
	}
	s.lock.Lock()
	conns := make([]*Connection, 0, len(s.connections))
	for conn := range s.connections {
		conns = append(conns, conn)
	}
	s.lock.Unlock()
	for _, conn := range conns {
		conn.Disconnect()
	}

	s.dispatcher.WaitDrain()
}

// Deinit persists the peer lists. Called after Run returns.
func (s *Server) Deinit() error {
	return s.lists.Persist()
}

// seedPeerLists makes sure the dialer has somewhere to go on first start.
func (s *Server) seedPeerLists() {
	_, white, gray := s.lists.Counts()
	if white+gray > 0 {
		return
	}
	for _, seed := range s.params.SeedNodes {
		s.lists.AddGray(seed, time.Now())
	}
	if len(s.params.SeedNodes) > 0 {
		log.Infof("Seeded peer list with %d embedded addresses", len(s.params.SeedNodes))
	}
}

func (s *Server) acceptLoop() {
	for {
		conn, err := s.listener.Accept()
		if err != nil {
			if s.dispatcher.Stopped() {
				return
			}
			log.Debugf("Accept failed: %v", err)
			continue
		}
		if s.dispatcher.Stopped() {
			conn.Close()
			return
		}

		_, incoming := s.ConnectedPeerCount()
		if incoming >= maxInbound {
			conn.Close()
			continue
		}
		address := conn.RemoteAddr().String()
		if s.lists.IsBanned(address) {
			log.Debugf("Rejected banned peer %s", address)
			conn.Close()
			continue
		}
		connection := newConnection(conn, false)
		s.dispatcher.Spawn(func() { s.runInbound(connection) })
	}
}

// maintainOutbound dials new peers until the target out-degree is reached.
func (s *Server) maintainOutbound() {
	outgoing, _ := s.ConnectedPeerCount()
	if outgoing >= s.cfg.TargetOutbound {
		return
	}

	exclude := s.connectedAddresses()
	record := s.lists.SelectOutbound(exclude)
	if record == nil {
		s.seedPeerLists()
		record = s.lists.SelectOutbound(exclude)
		if record == nil {
			return
		}
	}

	address := record.Address
	s.lock.Lock()
	if s.dialing[address] {
		s.lock.Unlock()
		return
	}
	s.dialing[address] = true
	s.lock.Unlock()

	s.lists.MarkAttempt(address)
	s.dispatcher.Spawn(func() {
		defer func() {
			s.lock.Lock()
			delete(s.dialing, address)
			s.lock.Unlock()
		}()

		conn, err := net.DialTimeout("tcp", address, handshakeTimeout)
		if err != nil {
			log.Debugf("Couldn't dial %s: %v", address, err)
			s.lists.MarkFailure(address)
			return
		}
		if s.dispatcher.Stopped() {
			conn.Close()
			return
		}
		s.runOutbound(newConnection(conn, true), address)
	})
}

// connectedAddresses returns the addresses of live and in-progress
// connections, keyed for dialer exclusion.
func (s *Server) connectedAddresses() map[string]bool {
	s.lock.Lock()
	defer s.lock.Unlock()
	result := make(map[string]bool, len(s.connections)+len(s.dialing))
	for conn := range s.connections {
		result[conn.Address()] = true
	}
	for address := range s.dialing {
		result[address] = true
	}
	return result
}

// register tracks a handshaken connection. It fails on a duplicate peer id,
// in which case the newer connection must close.
func (s *Server) register(conn *Connection) error {
	s.lock.Lock()
	defer s.lock.Unlock()
	if _, exists := s.byPeerID[conn.PeerID()]; exists {
		return errors.Errorf("peer id %016x is already connected", conn.PeerID())
	}
	s.connections[conn] = struct{}{}
	s.byPeerID[conn.PeerID()] = conn
	return nil
}

func (s *Server) unregister(conn *Connection) {
	s.lock.Lock()
	defer s.lock.Unlock()
	delete(s.connections, conn)
	if registered, ok := s.byPeerID[conn.PeerID()]; ok && registered == conn {
		delete(s.byPeerID, conn.PeerID())
	}
}

// runOutbound performs the initiator handshake and enters the read loop.
func (s *Server) runOutbound(conn *Connection, dialedAddress string) {
	defer conn.Disconnect()

	remote, err := s.handshakeOutbound(conn)
	if err != nil {
		log.Debugf("Handshake with %s failed: %v", dialedAddress, err)
		s.lists.MarkFailure(dialedAddress)
		return
	}
	if remote.PeerID == s.ownPeerID {
		// We dialed ourselves. Close and keep the address out of the white
		// list for a while.
		log.Debugf("Detected self-connection via %s", dialedAddress)
		s.lists.Ban(dialedAddress, selfConnectionBanCooldown)
		return
	}

	conn.setPeerID(remote.PeerID)
	if err := s.register(conn); err != nil {
		log.Debugf("Dropping duplicate connection to %s: %v", dialedAddress, err)
		return
	}
	defer s.unregister(conn)

	s.lists.MarkGood(dialedAddress, remote.PeerID)
	s.absorbPeerList(remote.PeerList)
	s.readLoop(conn, remote)
}

// runInbound performs the responder handshake and enters the read loop.
func (s *Server) runInbound(conn *Connection) {
	defer conn.Disconnect()

	remote, err := s.handshakeInbound(conn)
	if err != nil {
		log.Debugf("Inbound handshake from %s failed: %v", conn.Address(), err)
		return
	}
	if remote.PeerID == s.ownPeerID {
		log.Debugf("Detected inbound self-connection from %s", conn.Address())
		return
	}

	conn.setPeerID(remote.PeerID)
	if err := s.register(conn); err != nil {
		log.Debugf("Dropping duplicate inbound connection from %s: %v", conn.Address(), err)
		return
	}
	defer s.unregister(conn)

	s.readLoop(conn, remote)
}

// readLoop registers the peer with the protocol handler and processes frames
// until the connection dies or shutdown begins.
func (s *Server) readLoop(conn *Connection, remote *appmessage.MsgHandshake) {
	var topHash cryptohash.Hash
	copy(topHash[:], remote.TopHash[:])
	peer, err := s.protocol.AddPeer(conn, remote.PeerID, remote.TopHeight, topHash)
	if err != nil {
		log.Debugf("Couldn't register peer %s: %v", conn.Address(), err)
		return
	}
	defer s.protocol.RemovePeer(peer)

	for {
		if s.dispatcher.Stopped() {
			return
		}
		if err := conn.conn.SetReadDeadline(time.Now().Add(idleTimeout)); err != nil {
			return
		}
		envelope, err := appmessage.ReadEnvelope(conn.conn)
		if err != nil {
			if !s.dispatcher.Stopped() && !conn.isClosed() {
				if errors.Is(err, appmessage.ErrMalformedFrame) {
					log.Infof("Dropping %s: %v", conn.Address(), err)
					s.lists.MarkFailure(conn.Address())
				} else {
					log.Debugf("Read from %s failed: %v", conn.Address(), err)
				}
			}
			return
		}
		conn.touch()

		if err := s.dispatchEnvelope(conn, peer, envelope); err != nil {
			s.handleProtocolError(conn, err)
			return
		}
	}
}

// dispatchEnvelope routes one frame: keepalives are the server's own
// business, everything else belongs to the protocol handler.
func (s *Server) dispatchEnvelope(conn *Connection, peer *protocol.Peer,
	envelope *appmessage.Envelope) error {

	switch msg := envelope.Message.(type) {
	case *appmessage.MsgHandshake:
		return protocolerrors.New(false, "repeated handshake")
	case *appmessage.MsgTimedSync:
		return s.handleTimedSync(conn, peer, msg, envelope)
	default:
		return s.protocol.HandleEnvelope(peer, envelope)
	}
}

// handleProtocolError applies the drop/penalize policy for a failed peer.
func (s *Server) handleProtocolError(conn *Connection, err error) {
	protocolErr := &protocolerrors.ProtocolError{}
	if errors.As(err, &protocolErr) {
		log.Infof("Protocol violation by %s: %v", conn.Address(), err)
		if protocolErr.ShouldBan {
			s.lists.Ban(conn.Address(), selfConnectionBanCooldown)
		}
		s.lists.MarkFailure(conn.Address())
		return
	}
	log.Debugf("Peer %s failed: %v", conn.Address(), err)
}

// handleTimedSync answers a keepalive request with the local tip and a peer
// list slice, and absorbs the remote's report either way.
func (s *Server) handleTimedSync(conn *Connection, peer *protocol.Peer,
	msg *appmessage.MsgTimedSync, envelope *appmessage.Envelope) error {

	var topHash cryptohash.Hash
	copy(topHash[:], msg.TopHash[:])
	s.protocol.UpdatePeerChain(peer, msg.TopHeight, topHash)
	s.absorbPeerList(msg.PeerList)

	if envelope.IsResponse {
		return nil
	}
	response := &appmessage.MsgTimedSync{
		LocalTime: uint64(time.Now().Unix()),
		TopHeight: s.chain.TipHeight(),
		PeerList:  s.lists.AddressesForExchange(appmessage.MaxPeerAddressesPerMessage),
	}
	tipHash := s.chain.TipHash()
	copy(response.TopHash[:], tipHash.CloneBytes())
	return conn.Send(&appmessage.Envelope{
		Message:    response,
		IsResponse: true,
		RequestID:  envelope.RequestID,
	})
}

// timedSyncAll pings every live connection with the local tip.
func (s *Server) timedSyncAll() {
	msg := &appmessage.MsgTimedSync{
		LocalTime: uint64(time.Now().Unix()),
		TopHeight: s.chain.TipHeight(),
	}
	tipHash := s.chain.TipHash()
	copy(msg.TopHash[:], tipHash.CloneBytes())

	s.lock.Lock()
	conns := make([]*Connection, 0, len(s.connections))
	for conn := range s.connections {
		conns = append(conns, conn)
	}
	s.lock.Unlock()

	for _, conn := range conns {
		if err := conn.Send(&appmessage.Envelope{Message: msg}); err != nil {
			log.Debugf("Keepalive to %s failed: %v", conn.Address(), err)
		}
	}
}

// dropIdle disconnects peers that have been silent past the idle limit.
func (s *Server) dropIdle() {
	s.lock.Lock()
	conns := make([]*Connection, 0, len(s.connections))
	for conn := range s.connections {
		conns = append(conns, conn)
	}
	s.lock.Unlock()

	for _, conn := range conns {
		if conn.idleFor() > idleTimeout {
			log.Infof("Dropping idle peer %s", conn.Address())
			conn.Disconnect()
		}
	}
}

// absorbPeerList feeds advertised addresses into the gray list.
func (s *Server) absorbPeerList(addresses []*appmessage.PeerAddress) {
	for _, address := range addresses {
		s.lists.AddGray(address.TCPAddress(), time.Unix(int64(address.LastSeen), 0))
	}
}
