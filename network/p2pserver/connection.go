package p2pserver

import (
	"net"
	"sync"
	"time"

	"github.com/pkg/errors"

	"github.com/Menutra/Cache-Cash/network/appmessage"
)

// Connection wraps one TCP peer link. Writes are serialized by a mutex;
// reads happen on the connection's single reader task, which keeps command
// processing strictly serial per connection.
type Connection struct {
	conn     net.Conn
	outbound bool

	sendLock sync.Mutex

	lock         sync.Mutex
	peerID       uint64
	lastActivity time.Time
	closed       bool
}

func newConnection(conn net.Conn, outbound bool) *Connection {
	return &Connection{
		conn:         conn,
		outbound:     outbound,
		lastActivity: time.Now(),
	}
}

// Send frames and writes an envelope. Safe for concurrent use.
func (c *Connection) Send(envelope *appmessage.Envelope) error {
	c.sendLock.Lock()
	defer c.sendLock.Unlock()
	if c.isClosed() {
		return errors.Errorf("connection to %s is closed", c.Address())
	}
	if err := c.conn.SetWriteDeadline(time.Now().Add(writeTimeout)); err != nil {
		return errors.WithStack(err)
	}
	return appmessage.WriteEnvelope(c.conn, envelope)
}

// Disconnect closes the socket. Idempotent.
func (c *Connection) Disconnect() {
	c.lock.Lock()
	alreadyClosed := c.closed
	c.closed = true
	c.lock.Unlock()
	if !alreadyClosed {
		c.conn.Close()
	}
}

func (c *Connection) isClosed() bool {
	c.lock.Lock()
	defer c.lock.Unlock()
	return c.closed
}

// Address returns the remote address as host:port.
func (c *Connection) Address() string {
	return c.conn.RemoteAddr().String()
}

// IsOutbound returns whether the local node dialed this connection.
func (c *Connection) IsOutbound() bool {
	return c.outbound
}

// PeerID returns the remote peer id learned in the handshake.
func (c *Connection) PeerID() uint64 {
	c.lock.Lock()
	defer c.lock.Unlock()
	return c.peerID
}

func (c *Connection) setPeerID(id uint64) {
	c.lock.Lock()
	defer c.lock.Unlock()
	c.peerID = id
}

func (c *Connection) touch() {
	c.lock.Lock()
	defer c.lock.Unlock()
	c.lastActivity = time.Now()
}

func (c *Connection) idleFor() time.Duration {
	c.lock.Lock()
	defer c.lock.Unlock()
	return time.Since(c.lastActivity)
}
