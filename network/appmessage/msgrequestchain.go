package appmessage

import (
	"io"

	"github.com/Menutra/Cache-Cash/util/cryptohash"
)

// MsgRequestChain asks a peer to locate the split point between the two
// chains. BlockIDs is the requester's sparse chain: tip-first, exponentially
// thinning, ending at genesis.
type MsgRequestChain struct {
	BlockIDs []cryptohash.Hash
}

// CacheEncode encodes the receiver using the Cache protocol encoding.
func (msg *MsgRequestChain) CacheEncode(w io.Writer) error {
	return writeHashList(w, msg.BlockIDs)
}

// CacheDecode decodes the receiver using the Cache protocol encoding.
func (msg *MsgRequestChain) CacheDecode(r io.Reader) error {
	var err error
	msg.BlockIDs, err = readHashList(r)
	return err
}

// Command returns the protocol command of the message.
func (msg *MsgRequestChain) Command() MessageCommand {
	return CmdRequestChain
}

// MaxPayloadLength returns the maximum length the payload can be.
func (msg *MsgRequestChain) MaxPayloadLength() uint32 {
	return 16 + MaxHashesPerMessage*cryptohash.HashSize
}
