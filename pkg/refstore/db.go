package refstore

import (
	"context"
	"runtime"

	"github.com/eigerco/refstore/pkg/log"
)

// DB is a garbage collected reference to a database handle. Dropping the
// last *DB without calling Close closes the database once the collector
// notices; Close does it deterministically.
type DB struct {
	host *Host
	id   ID
}

// Open opens a database and binds its lifetime to the returned *DB.
func (h *Host) Open(path string, opts Options) (*DB, error) {
	id, err := h.CreateDatabaseHandle(path, opts)
	if err != nil {
		return nil, err
	}
	d := &DB{host: h, id: id}
	runtime.SetFinalizer(d, (*DB).finalize)
	return d, nil
}

func (d *DB) ID() ID {
	return d.id
}

func (d *DB) finalize() {
	finalize(d.host, d.id)
}

func (d *DB) Get(key []byte) ([]byte, error) {
	defer runtime.KeepAlive(d)
	return d.host.Get(d.id, key)
}

func (d *DB) Put(key, value []byte) error {
	defer runtime.KeepAlive(d)
	return d.host.Put(d.id, key, value)
}

func (d *DB) Delete(key []byte) error {
	defer runtime.KeepAlive(d)
	return d.host.Delete(d.id, key)
}

func (d *DB) Write(ops []BatchOp) error {
	defer runtime.KeepAlive(d)
	return d.host.Write(d.id, ops)
}

// NewIterator opens an iterator over d. The iterator keeps the database
// engine alive, but not d itself.
func (d *DB) NewIterator(keysOnly bool, opts ReadOptions) (*Iterator, error) {
	defer runtime.KeepAlive(d)

	id, err := d.host.CreateIteratorHandle(d.id, keysOnly, opts)
	if err != nil {
		return nil, err
	}
	it := &Iterator{host: d.host, id: id}
	runtime.SetFinalizer(it, (*Iterator).finalize)
	return it, nil
}

func (d *DB) Close() error {
	runtime.SetFinalizer(d, nil)
	return d.host.Close(d.id)
}

// Iterator is a garbage collected reference to an iterator handle.
type Iterator struct {
	host *Host
	id   ID
}

func (it *Iterator) ID() ID {
	return it.id
}

func (it *Iterator) finalize() {
	finalize(it.host, it.id)
}

func (it *Iterator) Move(ctx context.Context, action Action, target []byte) (Entry, error) {
	defer runtime.KeepAlive(it)
	return it.host.Move(ctx, it.id, action, target)
}

func (it *Iterator) First(ctx context.Context) (Entry, error) {
	return it.Move(ctx, First, nil)
}

func (it *Iterator) Last(ctx context.Context) (Entry, error) {
	return it.Move(ctx, Last, nil)
}

func (it *Iterator) Next(ctx context.Context) (Entry, error) {
	return it.Move(ctx, Next, nil)
}

func (it *Iterator) Prev(ctx context.Context) (Entry, error) {
	return it.Move(ctx, Prev, nil)
}

// Seek moves to the first key at or after target.
func (it *Iterator) Seek(ctx context.Context, target []byte) (Entry, error) {
	return it.Move(ctx, Seek, target)
}

func (it *Iterator) Prefetch() error {
	defer runtime.KeepAlive(it)
	return it.host.Prefetch(it.id)
}

func (it *Iterator) Valid() bool {
	defer runtime.KeepAlive(it)
	ok, err := it.host.Valid(it.id)
	return err == nil && ok
}

func (it *Iterator) Err() error {
	defer runtime.KeepAlive(it)
	return it.host.Err(it.id)
}

func (it *Iterator) Close() error {
	runtime.SetFinalizer(it, nil)
	return it.host.Close(it.id)
}

// finalize runs on the collector's finalizer goroutine, which must not
// block, so the quiescence wait happens elsewhere.
func finalize(h *Host, id ID) {
	if !h.ClaimClose(id) {
		return
	}
	go func() {
		if err := h.Shutdown(id); err != nil {
			log.Resource.Error().Err(err).Uint64("id", uint64(id)).Msg("finalizer close")
			return
		}
		log.Resource.Debug().Uint64("id", uint64(id)).Msg("closed by finalizer")
	}()
}
