package handles

import (
	"context"
	"sync/atomic"

	"github.com/eigerco/refstore/internal/lifecycle"
	"github.com/eigerco/refstore/internal/metrics"
	"github.com/eigerco/refstore/pkg/log"
)

// Dispatcher runs a task on some worker goroutine. It returns an error when
// the task was not accepted.
type Dispatcher func(task func()) error

// IteratorHandle is the host-visible cursor over a database. It owns one
// reference on its IteratorWrapper and retains its DatabaseHandle.
type IteratorHandle struct {
	lifecycle.Resource

	serial  uint64
	db      *DatabaseHandle
	wrapper atomic.Pointer[IteratorWrapper]
	busy    atomic.Bool
}

// NewIterator creates an iterator over d, positioned nowhere. The returned
// handle holds one reference, owned by the caller.
func NewIterator(d *DatabaseHandle, opts ReadOptions) (*IteratorHandle, error) {
	it := &IteratorHandle{
		serial: serial.Add(1),
		db:     d,
	}
	it.Init("iterator", it, it.destroy)

	if !d.addIterator(it) {
		return nil, ErrResourceClosed
	}

	w, err := newIteratorWrapper(it, opts)
	if err != nil {
		d.removeIterator(it)
		d.Unretain()
		return nil, err
	}
	it.wrapper.Store(w)

	// Shutdown may have walked the tracking set before the wrapper was in
	// place.
	if d.Closed() {
		w.invalidate()
	}

	log.Resource.Debug().Uint64("itr", it.serial).Uint64("db", d.serial).Bool("keys_only", opts.KeysOnly).Msg("iterator handle opened")
	return it, nil
}

func (it *IteratorHandle) Serial() uint64 {
	return it.serial
}

// Shutdown detaches the iterator from its database and drops the wrapper
// and database references. Work still running on the wrapper keeps it alive
// until that work finishes.
func (it *IteratorHandle) Shutdown() {
	it.db.removeIterator(it)
	if w := it.wrapper.Swap(nil); w != nil {
		w.RefDec()
	}
	it.db.Unretain()
}

func (it *IteratorHandle) destroy() {
	log.Resource.Debug().Uint64("itr", it.serial).Msg("iterator handle destroyed")
}

// acquireWrapper pins the wrapper for one operation.
func (it *IteratorHandle) acquireWrapper() (*IteratorWrapper, bool) {
	w := it.wrapper.Load()
	if w == nil || !w.TryRefInc() {
		return nil, false
	}
	return w, true
}

// Move serves a foreground move. If a prefetch is outstanding it is either
// preempted or, when already running, awaited and its result reused.
func (it *IteratorHandle) Move(ctx context.Context, action Action, target []byte) (Entry, error) {
	if !it.busy.CompareAndSwap(false, true) {
		return Entry{}, ErrIteratorBusy
	}
	defer it.busy.Store(false)

	w, ok := it.acquireWrapper()
	if !ok {
		return Entry{}, ErrResourceClosed
	}
	defer w.RefDec()

	return w.moveForeground(ctx, action, target)
}

// Prefetch starts a background Next so the following foreground Next can be
// answered without waiting on the engine. At most one prefetch is
// outstanding; a prefetch the dispatcher refuses is skipped.
func (it *IteratorHandle) Prefetch(dispatch Dispatcher) error {
	if !it.busy.CompareAndSwap(false, true) {
		return ErrIteratorBusy
	}
	defer it.busy.Store(false)

	w, ok := it.acquireWrapper()
	if !ok {
		return ErrResourceClosed
	}
	defer w.RefDec()

	if w.closed.Load() {
		return ErrResourceClosed
	}
	if w.pending != nil || !w.settled() {
		return nil
	}

	p := w.beginPrefetch()
	w.RefInc()
	err := dispatch(func() {
		defer w.RefDec()
		w.runPrefetch(p)
	})
	if err != nil {
		w.abortPrefetch(p)
		w.RefDec()
		metrics.Prefetches.WithLabelValues(metrics.PrefetchSkipped).Inc()
		log.Iterator.Debug().Err(err).Uint64("itr", it.serial).Msg("prefetch skipped")
	}
	return nil
}

// Valid reports whether the iterator is positioned on an entry.
func (it *IteratorHandle) Valid() bool {
	w := it.wrapper.Load()
	return w != nil && w.Valid()
}

// Err returns the engine failure behind the last invalid move, if any.
func (it *IteratorHandle) Err() error {
	if w := it.wrapper.Load(); w != nil {
		return w.Err()
	}
	return nil
}
