package pebble

import (
	"errors"
	"fmt"
	"io"
	"sync"

	"github.com/cockroachdb/pebble"
	"github.com/cockroachdb/pebble/vfs"

	"github.com/eigerco/refstore/pkg/db"
)

// Options configures the pebble instance behind a KVStore.
type Options struct {
	// InMemory keeps every file in a memory backed filesystem; path is ignored.
	InMemory      bool
	CacheSize     int64
	MemTableSize  uint64
	MaxOpenFiles  int
	ErrorIfExists bool
	ReadOnly      bool
}

// DefaultOptions mirrors the sizes the node store has always used.
func DefaultOptions() Options {
	return Options{
		CacheSize:    64 * 1024 * 1024, // 64MB
		MemTableSize: 32 * 1024 * 1024, // 32MB
		MaxOpenFiles: 1000,
	}
}

// KVStore is a db.KVStore backed by pebble. Reads, writes, snapshots and
// iterators may be used from any goroutine, per pebble's own contract.
type KVStore struct {
	db     *pebble.DB
	cache  *pebble.Cache
	closed bool
	mu     sync.RWMutex
}

var _ db.KVStore = (*KVStore)(nil)

// NewKVStore opens an empty in-memory store.
func NewKVStore() (*KVStore, error) {
	opts := DefaultOptions()
	opts.InMemory = true
	return Open("", opts)
}

// Open opens (creating if needed) the pebble database at path.
func Open(path string, o Options) (*KVStore, error) {
	cache := pebble.NewCache(o.CacheSize)
	opts := &pebble.Options{
		Cache:         cache,
		MemTableSize:  o.MemTableSize,
		MaxOpenFiles:  o.MaxOpenFiles,
		ErrorIfExists: o.ErrorIfExists,
		ReadOnly:      o.ReadOnly,
		Logger:        engineLogger{},
	}
	if o.InMemory {
		opts.FS = vfs.NewMem()
	}

	pdb, err := pebble.Open(path, opts)
	if err != nil {
		cache.Unref()
		return nil, fmt.Errorf(ErrOpen, path, err)
	}

	return &KVStore{db: pdb, cache: cache}, nil
}

func (p *KVStore) Get(key []byte) ([]byte, error) {
	p.mu.RLock()
	defer p.mu.RUnlock()

	if p.closed {
		return nil, ErrClosed
	}

	return copyValue(p.db.Get(key))
}

// copyValue detaches a value from pebble's buffer and releases the buffer.
func copyValue(value []byte, closer io.Closer, err error) ([]byte, error) {
	if errors.Is(err, pebble.ErrNotFound) {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, err
	}
	defer closer.Close()

	result := make([]byte, len(value))
	copy(result, value)
	return result, nil
}

func (p *KVStore) Put(key, value []byte) error {
	p.mu.RLock()
	defer p.mu.RUnlock()

	if p.closed {
		return ErrClosed
	}

	return p.db.Set(key, value, pebble.Sync)
}

func (p *KVStore) Delete(key []byte) error {
	p.mu.RLock()
	defer p.mu.RUnlock()

	if p.closed {
		return ErrClosed
	}

	return p.db.Delete(key, pebble.Sync)
}

// Close closes pebble. Every iterator and snapshot taken from the store must
// be closed first; pebble reports leaked ones as an error.
func (p *KVStore) Close() error {
	p.mu.Lock()
	defer p.mu.Unlock()

	if p.closed {
		return nil
	}
	p.closed = true
	err := p.db.Close()
	p.cache.Unref()
	return err
}
