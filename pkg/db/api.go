package db

import "errors"

// ErrKeyNotFound is returned by Reader.Get for a missing key.
var ErrKeyNotFound = errors.New("kv-store: key not found")

// KVStore represents the storage engine a database handle owns. It provides
// basic data manipulation plus the snapshot and iterator primitives the
// handle layer builds cursors on.
type KVStore interface {
	Reader
	Writer
	Delete(key []byte) error
	NewBatch() Batch
	NewIterator(opts IterOptions) (Iterator, error)
	NewSnapshot() (Snapshot, error)
	Close() error
}

type Reader interface {
	Get(key []byte) ([]byte, error)
}

type Writer interface {
	Put(key []byte, value []byte) error
}

// Batch represents an atomic batch of operations.
// All operations in a batch are performed atomically.
type Batch interface {
	Writer
	Delete(key []byte) error
	Commit() error
	Close() error
}

// Snapshot is a consistent, read-only view of the store at the moment it was
// taken. Closing it releases the view so the engine can reclaim space written
// after it.
type Snapshot interface {
	Reader
	NewIterator(opts IterOptions) (Iterator, error)
	Close() error
}

// IterOptions bounds an iterator. A nil bound is unbounded.
type IterOptions struct {
	// LowerBound is inclusive.
	LowerBound []byte
	// UpperBound is exclusive.
	UpperBound []byte
}

// Iterator provides positioned access over a range of key-value pairs.
// An Iterator is not safe for concurrent use.
// Iterators must be closed after use.
type Iterator interface {
	First() bool
	Last() bool
	SeekGE(key []byte) bool
	Next() bool
	Prev() bool
	Key() []byte
	Value() ([]byte, error)
	Valid() bool
	Error() error
	Close() error
}
