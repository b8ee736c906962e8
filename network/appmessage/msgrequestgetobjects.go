package appmessage

import (
	"io"

	"github.com/Menutra/Cache-Cash/util/cryptohash"
)

// MsgRequestGetObjects asks a peer for block and transaction bodies by hash.
type MsgRequestGetObjects struct {
	BlockHashes []cryptohash.Hash
	TxHashes    []cryptohash.Hash
}

// CacheEncode encodes the receiver using the Cache protocol encoding.
func (msg *MsgRequestGetObjects) CacheEncode(w io.Writer) error {
	if err := writeHashList(w, msg.BlockHashes); err != nil {
		return err
	}
	return writeHashList(w, msg.TxHashes)
}

// CacheDecode decodes the receiver using the Cache protocol encoding.
func (msg *MsgRequestGetObjects) CacheDecode(r io.Reader) error {
	var err error
	if msg.BlockHashes, err = readHashList(r); err != nil {
		return err
	}
	msg.TxHashes, err = readHashList(r)
	return err
}

// Command returns the protocol command of the message.
func (msg *MsgRequestGetObjects) Command() MessageCommand {
	return CmdRequestGetObjects
}

// MaxPayloadLength returns the maximum length the payload can be.
func (msg *MsgRequestGetObjects) MaxPayloadLength() uint32 {
	return 32 + 2*MaxHashesPerMessage*cryptohash.HashSize
}
