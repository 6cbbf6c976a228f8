package refstore

import (
	"context"
	"errors"
	"fmt"
	"sync"

	"github.com/prometheus/client_golang/prometheus"

	"github.com/eigerco/refstore/internal/handles"
	"github.com/eigerco/refstore/internal/metrics"
	"github.com/eigerco/refstore/internal/registry"
	"github.com/eigerco/refstore/internal/worker"
	"github.com/eigerco/refstore/pkg/db/pebble"
	"github.com/eigerco/refstore/pkg/log"
)

type (
	ID      = registry.ID
	Action  = handles.Action
	Entry   = handles.Entry
	BatchOp = handles.BatchOp
)

const (
	First = handles.First
	Last  = handles.Last
	Next  = handles.Next
	Prev  = handles.Prev
	Seek  = handles.Seek
)

// Host hands out opaque ids for database and iterator handles and routes
// operations on those ids to the live objects. Every operation holds a
// reference on its target for its whole duration, so a concurrent close
// waits for it instead of tearing the target down underneath it.
type Host struct {
	registry *registry.Registry
	pool     *worker.Pool

	mu     sync.RWMutex
	closed bool
}

// NewHost returns a host whose prefetches run on at most workers
// goroutines.
func NewHost(workers int) *Host {
	return &Host{
		registry: registry.New(),
		pool:     worker.NewPool(workers),
	}
}

// CreateDatabaseHandle opens the engine at path and registers a handle for
// it.
func (h *Host) CreateDatabaseHandle(path string, opts Options) (ID, error) {
	h.mu.RLock()
	defer h.mu.RUnlock()
	if h.closed {
		return 0, ErrHostClosed
	}

	store, err := pebble.Open(path, opts.engineOptions())
	if err != nil {
		return 0, fmt.Errorf("%w: %w", ErrEngine, err)
	}

	d := handles.OpenDatabase(store, opts.handleConfig())
	id, err := h.registry.Register(d)
	if err != nil {
		_ = d.Close()
		return 0, err
	}

	log.Resource.Info().Uint64("id", uint64(id)).Str("path", path).Bool("in_memory", opts.InMemory).Msg("database opened")
	return id, nil
}

// CreateIteratorHandle opens an iterator over the database behind dbID.
func (h *Host) CreateIteratorHandle(dbID ID, keysOnly bool, opts ReadOptions) (ID, error) {
	h.mu.RLock()
	defer h.mu.RUnlock()
	if h.closed {
		return 0, ErrHostClosed
	}

	d, err := registry.Lookup[*handles.DatabaseHandle](h.registry, dbID)
	if err != nil {
		return 0, err
	}
	defer d.RefDec()

	it, err := handles.NewIterator(d, opts.handleOptions(keysOnly))
	if err != nil {
		return 0, err
	}
	id, err := h.registry.Register(it)
	if err != nil {
		_ = it.Close()
		return 0, err
	}
	return id, nil
}

func (h *Host) database(id ID) (*handles.DatabaseHandle, error) {
	return registry.Lookup[*handles.DatabaseHandle](h.registry, id)
}

func (h *Host) iterator(id ID) (*handles.IteratorHandle, error) {
	return registry.Lookup[*handles.IteratorHandle](h.registry, id)
}

func (h *Host) Get(dbID ID, key []byte) ([]byte, error) {
	d, err := h.database(dbID)
	if err != nil {
		return nil, err
	}
	defer d.RefDec()

	return d.Get(key)
}

func (h *Host) Put(dbID ID, key, value []byte) error {
	d, err := h.database(dbID)
	if err != nil {
		return err
	}
	defer d.RefDec()

	return d.Put(key, value)
}

func (h *Host) Delete(dbID ID, key []byte) error {
	d, err := h.database(dbID)
	if err != nil {
		return err
	}
	defer d.RefDec()

	return d.Delete(key)
}

// Write applies ops atomically.
func (h *Host) Write(dbID ID, ops []BatchOp) error {
	d, err := h.database(dbID)
	if err != nil {
		return err
	}
	defer d.RefDec()

	return d.Write(ops)
}

// Move positions the iterator. target is only used by Seek. An entry with
// Valid unset means the iterator ran off either end, or its database was
// closed, or the engine failed; Err tells which.
func (h *Host) Move(ctx context.Context, itrID ID, action Action, target []byte) (Entry, error) {
	it, err := h.iterator(itrID)
	if err != nil {
		return Entry{}, err
	}
	defer it.RefDec()

	return it.Move(ctx, action, target)
}

// Prefetch starts reading the iterator's next entry on a background worker.
// When every worker is busy the prefetch is silently skipped.
func (h *Host) Prefetch(itrID ID) error {
	it, err := h.iterator(itrID)
	if err != nil {
		return err
	}
	defer it.RefDec()

	return it.Prefetch(h.pool.Submit)
}

// Valid reports whether the iterator is positioned on an entry.
func (h *Host) Valid(itrID ID) (bool, error) {
	it, err := h.iterator(itrID)
	if err != nil {
		return false, err
	}
	defer it.RefDec()

	return it.Valid(), nil
}

// Err returns the engine failure behind the iterator's last invalid move.
func (h *Host) Err(itrID ID) error {
	it, err := h.iterator(itrID)
	if err != nil {
		return err
	}
	defer it.RefDec()

	return it.Err()
}

// ClaimClose is the first half of the finalization hook: it reports whether
// the caller won the right to close id. Losers must not call Shutdown.
func (h *Host) ClaimClose(id ID) bool {
	res, ok := h.registry.Peek(id)
	if !ok {
		return false
	}
	return res.ClaimClose()
}

// Shutdown is the second half of the finalization hook. It blocks until
// every in-flight operation on id has finished.
func (h *Host) Shutdown(id ID) error {
	res, ok := h.registry.Peek(id)
	if !ok {
		return fmt.Errorf("%w: id %d", ErrNotFound, id)
	}
	return res.InitiateClose()
}

// Close closes id on behalf of the application. Closing a resource that is
// already closing, or already closed, does nothing.
func (h *Host) Close(id ID) error {
	res, ok := h.registry.Peek(id)
	if !ok {
		if h.registry.Issued(id) {
			return nil
		}
		return fmt.Errorf("%w: id %d", ErrNotFound, id)
	}
	if !res.ClaimClose() {
		return nil
	}
	return res.InitiateClose()
}

// CloseAll closes every open handle, newest first, then waits for
// background work to drain. The host cannot be used afterwards.
func (h *Host) CloseAll() error {
	h.mu.Lock()
	if h.closed {
		h.mu.Unlock()
		return nil
	}
	h.closed = true
	h.mu.Unlock()

	var errs []error
	for _, id := range h.registry.IDs() {
		if err := h.Close(id); err != nil {
			errs = append(errs, err)
		}
	}
	if err := h.pool.Close(); err != nil {
		errs = append(errs, err)
	}
	return errors.Join(errs...)
}

// Len returns the number of open handles.
func (h *Host) Len() int {
	return h.registry.Len()
}

// Metrics returns the collectors for handle lifecycles and iterator
// behavior. They are shared by every host in the process.
func (h *Host) Metrics() prometheus.Gatherer {
	return metrics.Registry
}
