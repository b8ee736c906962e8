package blockchain

import (
	"bytes"
	"encoding/binary"

	"github.com/pkg/errors"

	"github.com/Menutra/Cache-Cash/domain/types"
	"github.com/Menutra/Cache-Cash/infrastructure/db"
	"github.com/Menutra/Cache-Cash/util/binaryserializer"
)

// Database key layout. Blocks are stored by height so startup replay is a
// single forward scan; the tip marker is written in the same atomic batch as
// the block it points at, which is what makes advancement journal-safe: a
// crash leaves either the old tip or the new tip, never a dangling one.
var (
	blockKeyPrefix = []byte("b")
	tipKey         = []byte("meta:tip")
)

type chainIO struct {
	db *db.DB
}

func blockKey(height uint64) []byte {
	key := make([]byte, 1+8)
	copy(key, blockKeyPrefix)
	binary.BigEndian.PutUint64(key[1:], height)
	return key
}

// saveBlock persists a connected block and advances the tip marker in one
// atomic batch.
func (io *chainIO) saveBlock(node *blockNode) error {
	var buf bytes.Buffer
	if err := node.block.Serialize(&buf); err != nil {
		return err
	}
	if err := binaryserializer.PutVarInt(&buf, uint64(len(node.transactions))); err != nil {
		return err
	}
	for _, tx := range node.transactions {
		if err := tx.Serialize(&buf); err != nil {
			return err
		}
	}

	batch := &db.Batch{}
	batch.Put(blockKey(node.height), buf.Bytes())
	var tip [8]byte
	binary.BigEndian.PutUint64(tip[:], node.height)
	batch.Put(tipKey, tip[:])
	return io.db.Write(batch)
}

// deleteBlock removes a disconnected block and retreats the tip marker in
// one atomic batch.
func (io *chainIO) deleteBlock(height uint64) error {
	batch := &db.Batch{}
	batch.Delete(blockKey(height))
	var tip [8]byte
	binary.BigEndian.PutUint64(tip[:], height-1)
	batch.Put(tipKey, tip[:])
	return io.db.Write(batch)
}

// loadBlock reads the persisted block at the given height.
func (io *chainIO) loadBlock(height uint64) (*types.Block, []*types.Transaction, error) {
	raw, err := io.db.Get(blockKey(height))
	if err != nil {
		return nil, nil, err
	}
	r := bytes.NewReader(raw)
	block, err := types.DeserializeBlock(r)
	if err != nil {
		return nil, nil, err
	}
	txCount, err := binaryserializer.VarInt(r)
	if err != nil {
		return nil, nil, err
	}
	transactions := make([]*types.Transaction, 0, txCount)
	for i := uint64(0); i < txCount; i++ {
		tx, err := types.DeserializeTransaction(r)
		if err != nil {
			return nil, nil, err
		}
		transactions = append(transactions, tx)
	}
	return block, transactions, nil
}

// tipHeight returns the persisted tip height, or ok=false for a fresh
// database.
func (io *chainIO) tipHeight() (uint64, bool, error) {
	raw, err := io.db.Get(tipKey)
	if errors.Is(err, db.ErrNotFound) {
		return 0, false, nil
	}
	if err != nil {
		return 0, false, err
	}
	if len(raw) != 8 {
		return 0, false, errors.Errorf("tip marker of %d bytes", len(raw))
	}
	return binary.BigEndian.Uint64(raw), true, nil
}

// replayPersisted rebuilds the in-memory chain state from the database. The
// genesis block is already seeded; persisted blocks above it are re-applied
// with the expensive checks skipped, everything else re-validated. A missing
// block below the tip marker means the database was interrupted mid-write
// and replay stops at the last contiguous block.
func (s *Store) replayPersisted() error {
	tip, ok, err := s.io.tipHeight()
	if err != nil {
		return err
	}
	if !ok {
		// Fresh database: persist the genesis block.
		return s.io.saveBlock(s.mainChain[0])
	}

	for height := uint64(1); height <= tip; height++ {
		block, transactions, err := s.io.loadBlock(height)
		if errors.Is(err, db.ErrNotFound) {
			log.Warnf("Persisted chain ends at height %d, tip marker said %d; "+
				"continuing from the last fully applied block", height-1, tip)
			break
		}
		if err != nil {
			return err
		}

		// Suppress re-persisting during replay.
		io := s.io
		s.io = nil
		_, _, err = s.addBlockNoLock(block, transactions, BFFastAdd)
		s.io = io
		if err != nil {
			return errors.Wrapf(err, "persisted block at height %d does not validate", height)
		}
	}
	log.Infof("Loaded chain up to height %d", s.mainChain[len(s.mainChain)-1].height)
	return nil
}
