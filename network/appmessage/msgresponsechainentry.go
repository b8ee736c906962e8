package appmessage

import (
	"io"

	"github.com/Menutra/Cache-Cash/util/binaryserializer"
	"github.com/Menutra/Cache-Cash/util/cryptohash"
)

// MsgResponseChainEntry answers MsgRequestChain: the main chain ids starting
// at the split point. BlockIDs[0] is the split point itself and is known to
// the requester; everything after it is new.
type MsgResponseChainEntry struct {
	StartHeight uint64
	TotalHeight uint64
	BlockIDs    []cryptohash.Hash
}

// CacheEncode encodes the receiver using the Cache protocol encoding.
func (msg *MsgResponseChainEntry) CacheEncode(w io.Writer) error {
	if err := binaryserializer.PutVarInt(w, msg.StartHeight); err != nil {
		return err
	}
	if err := binaryserializer.PutVarInt(w, msg.TotalHeight); err != nil {
		return err
	}
	return writeHashList(w, msg.BlockIDs)
}

// CacheDecode decodes the receiver using the Cache protocol encoding.
func (msg *MsgResponseChainEntry) CacheDecode(r io.Reader) error {
	var err error
	if msg.StartHeight, err = binaryserializer.VarInt(r); err != nil {
		return err
	}
	if msg.TotalHeight, err = binaryserializer.VarInt(r); err != nil {
		return err
	}
	msg.BlockIDs, err = readHashList(r)
	return err
}

// Command returns the protocol command of the message.
func (msg *MsgResponseChainEntry) Command() MessageCommand {
	return CmdResponseChainEntry
}

// MaxPayloadLength returns the maximum length the payload can be.
func (msg *MsgResponseChainEntry) MaxPayloadLength() uint32 {
	return 32 + MaxHashesPerMessage*cryptohash.HashSize
}
