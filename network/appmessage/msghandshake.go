package appmessage

import (
	"encoding/binary"
	"io"

	"github.com/pkg/errors"

	"github.com/Menutra/Cache-Cash/netparams"
	"github.com/Menutra/Cache-Cash/util/binaryserializer"
)

// MsgHandshake is the first frame each side of a fresh connection sends. It
// binds the network, identifies the peer, and carries the protocol payload:
// the sender's chain tip. The response additionally carries a slice of the
// responder's peer list.
type MsgHandshake struct {
	NetworkID netparams.NetworkID
	PeerID    uint64
	LocalTime uint64

	TopHeight uint64
	TopHash   [32]byte

	// PeerList is populated only on the response side of the exchange.
	PeerList []*PeerAddress
}

// CacheEncode encodes the receiver using the Cache protocol encoding.
func (msg *MsgHandshake) CacheEncode(w io.Writer) error {
	if _, err := w.Write(msg.NetworkID[:]); err != nil {
		return errors.WithStack(err)
	}
	if err := binaryserializer.PutUint64(w, binary.LittleEndian, msg.PeerID); err != nil {
		return err
	}
	if err := binaryserializer.PutVarInt(w, msg.LocalTime); err != nil {
		return err
	}
	if err := binaryserializer.PutVarInt(w, msg.TopHeight); err != nil {
		return err
	}
	if _, err := w.Write(msg.TopHash[:]); err != nil {
		return errors.WithStack(err)
	}
	return writePeerAddressList(w, msg.PeerList)
}

// CacheDecode decodes the receiver using the Cache protocol encoding.
func (msg *MsgHandshake) CacheDecode(r io.Reader) error {
	if _, err := io.ReadFull(r, msg.NetworkID[:]); err != nil {
		return errors.WithStack(err)
	}
	var err error
	if msg.PeerID, err = binaryserializer.Uint64(r, binary.LittleEndian); err != nil {
		return err
	}
	if msg.LocalTime, err = binaryserializer.VarInt(r); err != nil {
		return err
	}
	if msg.TopHeight, err = binaryserializer.VarInt(r); err != nil {
		return err
	}
	if _, err := io.ReadFull(r, msg.TopHash[:]); err != nil {
		return errors.WithStack(err)
	}
	msg.PeerList, err = readPeerAddressList(r)
	return err
}

// Command returns the protocol command of the message.
func (msg *MsgHandshake) Command() MessageCommand {
	return CmdHandshake
}

// MaxPayloadLength returns the maximum length the payload can be.
func (msg *MsgHandshake) MaxPayloadLength() uint32 {
	return netparams.NetworkIDSize + 8 + binaryserializer.MaxVarIntPayload*2 + 32 +
		binaryserializer.MaxVarIntPayload + MaxPeerAddressesPerMessage*peerAddressSize
}
