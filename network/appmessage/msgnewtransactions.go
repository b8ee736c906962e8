package appmessage

import (
	"io"
)

// MaxTxsPerAnnouncement bounds the bodies a transaction announcement may
// carry.
const MaxTxsPerAnnouncement = 256

// MsgNewTransactions announces transaction bodies for mempool admission.
type MsgNewTransactions struct {
	TxBlobs [][]byte
}

// CacheEncode encodes the receiver using the Cache protocol encoding.
func (msg *MsgNewTransactions) CacheEncode(w io.Writer) error {
	return writeBlobList(w, msg.TxBlobs)
}

// CacheDecode decodes the receiver using the Cache protocol encoding.
func (msg *MsgNewTransactions) CacheDecode(r io.Reader) error {
	var err error
	msg.TxBlobs, err = readBlobList(r, MaxTxsPerAnnouncement, MaxTxBlobSize)
	return err
}

// Command returns the protocol command of the message.
func (msg *MsgNewTransactions) Command() MessageCommand {
	return CmdNewTransactions
}

// MaxPayloadLength returns the maximum length the payload can be.
func (msg *MsgNewTransactions) MaxPayloadLength() uint32 {
	return MaxMessagePayload
}
