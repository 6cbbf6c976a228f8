package handles

import (
	"errors"
	"sync"
	"sync/atomic"

	"github.com/eigerco/refstore/internal/lifecycle"
	"github.com/eigerco/refstore/pkg/db"
	"github.com/eigerco/refstore/pkg/log"
)

var serial atomic.Uint64

// DatabaseHandle owns one storage engine instance and tracks every
// iterator handle derived from it.
//
// Ownership only flows from iterators to the database: iterator handles and
// their wrappers retain the database so the engine outlives every snapshot
// and iterator taken from it, while the database keeps non-owning pointers
// to its iterators for cascading invalidation.
type DatabaseHandle struct {
	lifecycle.Resource

	serial   uint64
	store    db.KVStore
	cfg      Config
	poisoned atomic.Bool

	itrMu     sync.Mutex
	iterators map[*IteratorHandle]struct{}
}

// BatchOp is one write in an atomic batch.
type BatchOp struct {
	Key    []byte
	Value  []byte
	Delete bool
}

// OpenDatabase wraps an opened store. The returned handle holds one
// reference, owned by the caller.
func OpenDatabase(store db.KVStore, cfg Config) *DatabaseHandle {
	d := &DatabaseHandle{
		serial:    serial.Add(1),
		store:     store,
		cfg:       cfg.withDefaults(),
		iterators: make(map[*IteratorHandle]struct{}),
	}
	d.Init("database", d, d.destroy)

	log.Resource.Debug().Uint64("db", d.serial).Msg("database handle opened")
	return d
}

func (d *DatabaseHandle) Serial() uint64 {
	return d.serial
}

// Closed reports whether Shutdown has poisoned the handle.
func (d *DatabaseHandle) Closed() bool {
	return d.poisoned.Load()
}

// Shutdown poisons the handle and invalidates every derived iterator so
// their next operation fails fast. Iterator handles are not freed here;
// each one is torn down when its own last reference goes away.
func (d *DatabaseHandle) Shutdown() {
	d.poisoned.Store(true)

	d.itrMu.Lock()
	for it := range d.iterators {
		if w := it.wrapper.Load(); w != nil {
			w.invalidate()
		}
	}
	count := len(d.iterators)
	d.itrMu.Unlock()

	log.Resource.Debug().Uint64("db", d.serial).Int("iterators", count).Msg("database shut down")
}

func (d *DatabaseHandle) destroy() {
	if err := d.store.Close(); err != nil {
		log.Resource.Error().Err(err).Uint64("db", d.serial).Msg("closing storage engine")
		return
	}
	log.Resource.Debug().Uint64("db", d.serial).Msg("database handle destroyed")
}

// addIterator tracks it and retains the database on its behalf. It fails
// once the database is shutting down.
func (d *DatabaseHandle) addIterator(it *IteratorHandle) bool {
	d.itrMu.Lock()
	defer d.itrMu.Unlock()

	if d.poisoned.Load() {
		return false
	}
	d.iterators[it] = struct{}{}
	d.Retain()
	return true
}

func (d *DatabaseHandle) removeIterator(it *IteratorHandle) {
	d.itrMu.Lock()
	delete(d.iterators, it)
	d.itrMu.Unlock()
}

// IteratorCount returns the number of tracked iterator handles.
func (d *DatabaseHandle) IteratorCount() int {
	d.itrMu.Lock()
	defer d.itrMu.Unlock()
	return len(d.iterators)
}

func (d *DatabaseHandle) Get(key []byte) ([]byte, error) {
	if d.poisoned.Load() {
		return nil, ErrResourceClosed
	}

	value, err := d.store.Get(key)
	if errors.Is(err, db.ErrKeyNotFound) {
		return nil, err
	}
	if err != nil {
		return nil, engineError("get", err)
	}
	return value, nil
}

func (d *DatabaseHandle) Put(key, value []byte) error {
	if d.poisoned.Load() {
		return ErrResourceClosed
	}
	if err := d.store.Put(key, value); err != nil {
		return engineError("put", err)
	}
	return nil
}

func (d *DatabaseHandle) Delete(key []byte) error {
	if d.poisoned.Load() {
		return ErrResourceClosed
	}
	if err := d.store.Delete(key); err != nil {
		return engineError("delete", err)
	}
	return nil
}

// Write applies ops atomically.
func (d *DatabaseHandle) Write(ops []BatchOp) error {
	if d.poisoned.Load() {
		return ErrResourceClosed
	}

	batch := d.store.NewBatch()
	defer batch.Close() //nolint:errcheck

	for _, op := range ops {
		var err error
		if op.Delete {
			err = batch.Delete(op.Key)
		} else {
			err = batch.Put(op.Key, op.Value)
		}
		if err != nil {
			return engineError("batch", err)
		}
	}

	if err := batch.Commit(); err != nil {
		return engineError("commit", err)
	}
	return nil
}

// newSnapshotIterator takes a fresh snapshot and an iterator over it.
func (d *DatabaseHandle) newSnapshotIterator(opts db.IterOptions) (db.Snapshot, db.Iterator, error) {
	if d.poisoned.Load() {
		return nil, nil, ErrResourceClosed
	}

	snap, err := d.store.NewSnapshot()
	if err != nil {
		return nil, nil, engineError("snapshot", err)
	}
	iter, err := snap.NewIterator(opts)
	if err != nil {
		_ = snap.Close()
		return nil, nil, engineError("iterator", err)
	}
	return snap, iter, nil
}
