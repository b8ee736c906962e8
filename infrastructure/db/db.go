package db

import (
	"github.com/pkg/errors"
	"github.com/syndtr/goleveldb/leveldb"
	"github.com/syndtr/goleveldb/leveldb/opt"
	ldbutil "github.com/syndtr/goleveldb/leveldb/util"
)

// ErrNotFound is returned when a key does not exist in the database.
var ErrNotFound = errors.New("not found")

// DB is a thin wrapper around a LevelDB handle. All persisted node state
// (chain, indexes, peer lists) lives in a single database under the data
// directory, namespaced by key prefixes.
type DB struct {
	ldb *leveldb.DB
}

// Open opens the database at the given path, creating it if needed.
func Open(path string) (*DB, error) {
	options := &opt.Options{
		Compression: opt.NoCompression,
	}
	ldb, err := leveldb.OpenFile(path, options)
	if err != nil {
		return nil, errors.Wrapf(err, "couldn't open database at %s", path)
	}
	return &DB{ldb: ldb}, nil
}

// Close flushes and closes the database.
func (db *DB) Close() error {
	return errors.WithStack(db.ldb.Close())
}

// Get returns the value stored under key.
func (db *DB) Get(key []byte) ([]byte, error) {
	value, err := db.ldb.Get(key, nil)
	if errors.Is(err, leveldb.ErrNotFound) {
		return nil, errors.Wrapf(ErrNotFound, "key %x", key)
	}
	if err != nil {
		return nil, errors.WithStack(err)
	}
	return value, nil
}

// Has returns whether key exists.
func (db *DB) Has(key []byte) (bool, error) {
	has, err := db.ldb.Has(key, nil)
	return has, errors.WithStack(err)
}

// Put stores value under key.
func (db *DB) Put(key, value []byte) error {
	return errors.WithStack(db.ldb.Put(key, value, nil))
}

// Delete removes key.
func (db *DB) Delete(key []byte) error {
	return errors.WithStack(db.ldb.Delete(key, nil))
}

// Batch is a set of writes applied atomically.
type Batch struct {
	batch leveldb.Batch
}

// Put adds a write to the batch.
func (b *Batch) Put(key, value []byte) {
	b.batch.Put(key, value)
}

// Delete adds a deletion to the batch.
func (b *Batch) Delete(key []byte) {
	b.batch.Delete(key)
}

// Write applies the batch atomically. A crash either persists the whole
// batch or none of it, which is what makes chain advancement journal-safe.
func (db *DB) Write(b *Batch) error {
	return errors.WithStack(db.ldb.Write(&b.batch, nil))
}

// ForEachPrefixed calls fn for every key/value pair whose key starts with
// prefix. Returning an error from fn stops the iteration.
func (db *DB) ForEachPrefixed(prefix []byte, fn func(key, value []byte) error) error {
	iter := db.ldb.NewIterator(ldbutil.BytesPrefix(prefix), nil)
	defer iter.Release()
	for iter.Next() {
		key := append([]byte{}, iter.Key()...)
		value := append([]byte{}, iter.Value()...)
		if err := fn(key, value); err != nil {
			return err
		}
	}
	return errors.WithStack(iter.Error())
}
