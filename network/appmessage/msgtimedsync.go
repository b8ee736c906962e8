package appmessage

import (
	"io"

	"github.com/pkg/errors"

	"github.com/Menutra/Cache-Cash/util/binaryserializer"
)

// MsgTimedSync is the periodic keepalive. Each side reports its current
// chain tip; the response side additionally piggybacks a peer list slice,
// which is how the periodic peer exchange rides on the keepalive timer.
type MsgTimedSync struct {
	LocalTime uint64
	TopHeight uint64
	TopHash   [32]byte

	// PeerList is populated only on the response side of the exchange.
	PeerList []*PeerAddress
}

// CacheEncode encodes the receiver using the Cache protocol encoding.
func (msg *MsgTimedSync) CacheEncode(w io.Writer) error {
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
func (msg *MsgTimedSync) CacheDecode(r io.Reader) error {
	var err error
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
func (msg *MsgTimedSync) Command() MessageCommand {
	return CmdTimedSync
}

// MaxPayloadLength returns the maximum length the payload can be.
func (msg *MsgTimedSync) MaxPayloadLength() uint32 {
	return binaryserializer.MaxVarIntPayload*3 + 32 +
		MaxPeerAddressesPerMessage*peerAddressSize
}
