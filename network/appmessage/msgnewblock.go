package appmessage

import (
	"io"

	"github.com/Menutra/Cache-Cash/util/binaryserializer"
)

// MaxTxsPerBlockAnnouncement bounds the transaction bodies a block
// announcement may carry.
const MaxTxsPerBlockAnnouncement = 4096

// MsgNewBlock announces a freshly accepted block: the block blob, the bodies
// of its transactions, the announcer's blockchain height and the relay hop
// count.
type MsgNewBlock struct {
	BlockBlob               []byte
	TxBlobs                 [][]byte
	CurrentBlockchainHeight uint64
	Hop                     uint32
}

// CacheEncode encodes the receiver using the Cache protocol encoding.
func (msg *MsgNewBlock) CacheEncode(w io.Writer) error {
	if err := writeByteSlice(w, msg.BlockBlob); err != nil {
		return err
	}
	if err := writeBlobList(w, msg.TxBlobs); err != nil {
		return err
	}
	if err := binaryserializer.PutVarInt(w, msg.CurrentBlockchainHeight); err != nil {
		return err
	}
	return binaryserializer.PutVarInt(w, uint64(msg.Hop))
}

// CacheDecode decodes the receiver using the Cache protocol encoding.
func (msg *MsgNewBlock) CacheDecode(r io.Reader) error {
	var err error
	if msg.BlockBlob, err = readByteSlice(r, MaxBlockBlobSize); err != nil {
		return err
	}
	if msg.TxBlobs, err = readBlobList(r, MaxTxsPerBlockAnnouncement, MaxTxBlobSize); err != nil {
		return err
	}
	if msg.CurrentBlockchainHeight, err = binaryserializer.VarInt(r); err != nil {
		return err
	}
	hop, err := binaryserializer.VarInt(r)
	if err != nil {
		return err
	}
	msg.Hop = uint32(hop)
	return nil
}

// Command returns the protocol command of the message.
func (msg *MsgNewBlock) Command() MessageCommand {
	return CmdNewBlock
}

// MaxPayloadLength returns the maximum length the payload can be.
func (msg *MsgNewBlock) MaxPayloadLength() uint32 {
	return MaxMessagePayload
}
