package p2pserver

import (
	"time"

	"github.com/pkg/errors"

	"github.com/Menutra/Cache-Cash/network/appmessage"
	"github.com/Menutra/Cache-Cash/network/protocol/protocolerrors"
)

// localHandshake builds this node's handshake payload. withPeerList is true
// on the responder side.
func (s *Server) localHandshake(withPeerList bool) *appmessage.MsgHandshake {
	msg := &appmessage.MsgHandshake{
		NetworkID: s.params.NetworkID,
		PeerID:    s.ownPeerID,
		LocalTime: uint64(time.Now().Unix()),
		TopHeight: s.chain.TipHeight(),
	}
	tipHash := s.chain.TipHash()
	copy(msg.TopHash[:], tipHash.CloneBytes())
	if withPeerList {
		msg.PeerList = s.lists.AddressesForExchange(appmessage.MaxPeerAddressesPerMessage)
	}
	return msg
}

// readHandshake reads one frame under the handshake deadline and requires it
// to be a handshake with the right network id.
func (s *Server) readHandshake(conn *Connection, wantResponse bool) (*appmessage.MsgHandshake, error) {
	if err := conn.conn.SetReadDeadline(time.Now().Add(handshakeTimeout)); err != nil {
		return nil, errors.WithStack(err)
	}
	envelope, err := appmessage.ReadEnvelope(conn.conn)
	if err != nil {
		return nil, err
	}
	msg, ok := envelope.Message.(*appmessage.MsgHandshake)
	if !ok {
		return nil, protocolerrors.Errorf(false, "expected a handshake, got %s",
			envelope.Message.Command())
	}
	if envelope.IsResponse != wantResponse {
		return nil, protocolerrors.New(false, "handshake frame direction mismatch")
	}
	if msg.NetworkID != s.params.NetworkID {
		// A well-behaved node of a sibling network; close without penalty.
		return nil, protocolerrors.Errorf(false, "network id mismatch: %x", msg.NetworkID)
	}
	return msg, nil
}

// handshakeOutbound runs the initiator side: send the request, read the
// response.
func (s *Server) handshakeOutbound(conn *Connection) (*appmessage.MsgHandshake, error) {
	err := conn.Send(&appmessage.Envelope{Message: s.localHandshake(false)})
	if err != nil {
		return nil, err
	}
	return s.readHandshake(conn, true)
}

// handshakeInbound runs the responder side: read the request, send the
// response carrying a peer list slice.
func (s *Server) handshakeInbound(conn *Connection) (*appmessage.MsgHandshake, error) {
	remote, err := s.readHandshake(conn, false)
	if err != nil {
		return nil, err
	}
	err = conn.Send(&appmessage.Envelope{
		Message:    s.localHandshake(true),
		IsResponse: true,
	})
	if err != nil {
		return nil, err
	}
	s.absorbPeerList(remote.PeerList)
	return remote, nil
}
