package appmessage

import (
	"io"

	"github.com/pkg/errors"

	"github.com/Menutra/Cache-Cash/util/binaryserializer"
	"github.com/Menutra/Cache-Cash/util/cryptohash"
)

// MaxBlocksPerObjectsResponse bounds the raw blocks one response may carry.
const MaxBlocksPerObjectsResponse = 100

// RawBlock is one block body together with the bodies of its transactions.
type RawBlock struct {
	BlockBlob []byte
	TxBlobs   [][]byte
}

// MsgResponseGetObjects answers MsgRequestGetObjects with the requested raw
// blocks, the requested loose transaction bodies, the transaction hashes the
// responder could not resolve, and the responder's current blockchain
// height.
type MsgResponseGetObjects struct {
	Blocks                  []RawBlock
	TxBlobs                 [][]byte
	MissingTxHashes         []cryptohash.Hash
	CurrentBlockchainHeight uint64
}

// CacheEncode encodes the receiver using the Cache protocol encoding.
func (msg *MsgResponseGetObjects) CacheEncode(w io.Writer) error {
	if err := binaryserializer.PutVarInt(w, uint64(len(msg.Blocks))); err != nil {
		return err
	}
	for i := range msg.Blocks {
		if err := writeByteSlice(w, msg.Blocks[i].BlockBlob); err != nil {
			return err
		}
		if err := writeBlobList(w, msg.Blocks[i].TxBlobs); err != nil {
			return err
		}
	}
	if err := writeBlobList(w, msg.TxBlobs); err != nil {
		return err
	}
	if err := writeHashList(w, msg.MissingTxHashes); err != nil {
		return err
	}
	return binaryserializer.PutVarInt(w, msg.CurrentBlockchainHeight)
}

// CacheDecode decodes the receiver using the Cache protocol encoding.
func (msg *MsgResponseGetObjects) CacheDecode(r io.Reader) error {
	count, err := binaryserializer.VarInt(r)
	if err != nil {
		return err
	}
	if count > MaxBlocksPerObjectsResponse {
		return errors.Wrapf(ErrMalformedFrame, "objects response of %d blocks, limit %d",
			count, MaxBlocksPerObjectsResponse)
	}
	msg.Blocks = make([]RawBlock, count)
	for i := range msg.Blocks {
		if msg.Blocks[i].BlockBlob, err = readByteSlice(r, MaxBlockBlobSize); err != nil {
			return err
		}
		if msg.Blocks[i].TxBlobs, err = readBlobList(r, MaxTxsPerBlockAnnouncement, MaxTxBlobSize); err != nil {
			return err
		}
	}
	if msg.TxBlobs, err = readBlobList(r, MaxTxsPerAnnouncement, MaxTxBlobSize); err != nil {
		return err
	}
	if msg.MissingTxHashes, err = readHashList(r); err != nil {
		return err
	}
	msg.CurrentBlockchainHeight, err = binaryserializer.VarInt(r)
	return err
}

// Command returns the protocol command of the message.
func (msg *MsgResponseGetObjects) Command() MessageCommand {
	return CmdResponseGetObjects
}

// MaxPayloadLength returns the maximum length the payload can be.
func (msg *MsgResponseGetObjects) MaxPayloadLength() uint32 {
	return MaxMessagePayload
}
