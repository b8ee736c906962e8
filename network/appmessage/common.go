package appmessage

import (
	"io"

	"github.com/pkg/errors"

	"github.com/Menutra/Cache-Cash/util/binaryserializer"
	"github.com/Menutra/Cache-Cash/util/cryptohash"
)

// MaxHashesPerMessage bounds every hash list on the wire: sparse chains,
// chain entries and object requests.
const MaxHashesPerMessage = 512

// MaxBlockBlobSize bounds a single serialized block on the wire.
const MaxBlockBlobSize = 4 * 1024 * 1024

// MaxTxBlobSize bounds a single serialized transaction on the wire.
const MaxTxBlobSize = 1024 * 1024

// writeHashList writes a length-prefixed hash sequence.
func writeHashList(w io.Writer, hashes []cryptohash.Hash) error {
	if err := binaryserializer.PutVarInt(w, uint64(len(hashes))); err != nil {
		return err
	}
	for i := range hashes {
		if _, err := w.Write(hashes[i][:]); err != nil {
			return errors.WithStack(err)
		}
	}
	return nil
}

// readHashList reads a length-prefixed hash sequence bounded by
// MaxHashesPerMessage.
func readHashList(r io.Reader) ([]cryptohash.Hash, error) {
	count, err := binaryserializer.VarInt(r)
	if err != nil {
		return nil, err
	}
	if count > MaxHashesPerMessage {
		return nil, errors.Wrapf(ErrMalformedFrame, "hash list of %d entries, limit %d",
			count, MaxHashesPerMessage)
	}
	hashes := make([]cryptohash.Hash, count)
	for i := range hashes {
		if _, err := io.ReadFull(r, hashes[i][:]); err != nil {
			return nil, errors.WithStack(err)
		}
	}
	return hashes, nil
}

// writeBlobList writes a length-prefixed sequence of byte strings.
func writeBlobList(w io.Writer, blobs [][]byte) error {
	if err := binaryserializer.PutVarInt(w, uint64(len(blobs))); err != nil {
		return err
	}
	for _, blob := range blobs {
		if err := writeByteSlice(w, blob); err != nil {
			return err
		}
	}
	return nil
}

// readBlobList reads a length-prefixed sequence of byte strings, each
// bounded by blobLimit and the count by countLimit.
func readBlobList(r io.Reader, countLimit, blobLimit uint64) ([][]byte, error) {
	count, err := binaryserializer.VarInt(r)
	if err != nil {
		return nil, err
	}
	if count > countLimit {
		return nil, errors.Wrapf(ErrMalformedFrame, "blob list of %d entries, limit %d",
			count, countLimit)
	}
	blobs := make([][]byte, count)
	for i := range blobs {
		if blobs[i], err = readByteSlice(r, blobLimit); err != nil {
			return nil, err
		}
	}
	return blobs, nil
}
