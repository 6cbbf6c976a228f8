package handles

import (
	"bytes"
	"context"
	"errors"
	"sync/atomic"
	"time"

	"github.com/eigerco/refstore/internal/metrics"
	"github.com/eigerco/refstore/internal/refcount"
	"github.com/eigerco/refstore/pkg/db"
	"github.com/eigerco/refstore/pkg/log"
)

// Role identifies who may drive the native iterator next.
type Role uint32

const (
	Foreground Role = iota
	Background
)

func (r Role) String() string {
	if r == Background {
		return "background"
	}
	return "foreground"
}

// position is where the last move left the iterator. Together with
// mostRecentKey it is enough to put a rebuilt iterator back in place.
type position uint8

const (
	unpositioned position = iota
	atKey
	pastEnd
	beforeStart
)

func (p position) String() string {
	switch p {
	case atKey:
		return "at-key"
	case pastEnd:
		return "past-end"
	case beforeStart:
		return "before-start"
	default:
		return "unpositioned"
	}
}

// exhausted is the end a move runs off when it finds nothing.
func exhausted(action Action) position {
	if action == Last || action == Prev {
		return beforeStart
	}
	return pastEnd
}

// prefetch is one background move handed off by the foreground. The
// background goroutine writes claimed, entry and err before closing done.
type prefetch struct {
	done     chan struct{}
	prior    []byte
	priorPos position
	claimed  bool
	entry   Entry
	err     error
}

// IteratorWrapper owns one native iterator and the snapshot it reads from.
// At most one goroutine drives the native iterator at a time; ownership
// moves between the foreground caller and a background prefetch through the
// handoff flag instead of a lock, so a slow native call never blocks anyone
// but the goroutine that is waiting for its result.
//
// The non-atomic fields are only touched by the current baton holder.
type IteratorWrapper struct {
	refcount.Counted

	db       *DatabaseHandle
	owner    *IteratorHandle
	opts     ReadOptions
	keysOnly bool

	valid   atomic.Bool
	closed  atomic.Bool
	moves   atomic.Int64
	handoff atomic.Uint32
	err     atomic.Pointer[error]

	snapshot      db.Snapshot
	iter          db.Iterator
	mostRecentKey []byte
	pos           position
	staleDeadline time.Time
	reposition    bool
	pending       *prefetch
	last          *prefetch

	created    time.Time
	lastReport time.Time
}

func newIteratorWrapper(owner *IteratorHandle, opts ReadOptions) (*IteratorWrapper, error) {
	d := owner.db
	now := d.cfg.Now()
	w := &IteratorWrapper{
		db:         d,
		owner:      owner,
		opts:       opts,
		keysOnly:   opts.KeysOnly,
		created:    now,
		lastReport: now,
	}
	w.Init(w.destroy)
	w.handoff.Store(uint32(Foreground))

	d.Retain()
	if err := w.rebuild(); err != nil {
		d.Unretain()
		return nil, err
	}
	return w, nil
}

func (w *IteratorWrapper) destroy() {
	w.PurgeIterator()
	log.Iterator.Debug().Uint64("itr", w.owner.serial).Int64("moves", w.moves.Load()).Msg("iterator wrapper destroyed")
	w.db.Unretain()
}

// AcquireForOperation atomically stores role as the handoff flag and
// returns the previous value. Callers only touch the native iterator when
// the previous value is the one their protocol expects.
func (w *IteratorWrapper) AcquireForOperation(role Role) Role {
	return Role(w.handoff.Swap(uint32(role)))
}

// Valid reports whether the last move left the iterator on an entry and no
// shutdown has invalidated it since.
func (w *IteratorWrapper) Valid() bool {
	return w.valid.Load() && !w.closed.Load()
}

func (w *IteratorWrapper) KeysOnly() bool {
	return w.keysOnly
}

func (w *IteratorWrapper) invalidate() {
	w.closed.Store(true)
	w.valid.Store(false)
}

// PurgeIterator releases the native iterator and its snapshot. Safe to call
// when both are already gone.
func (w *IteratorWrapper) PurgeIterator() {
	if w.iter != nil {
		iter := w.iter
		w.iter = nil
		if err := iter.Close(); err != nil {
			log.Iterator.Warn().Err(err).Uint64("itr", w.owner.serial).Msg("closing native iterator")
		}
	}
	if w.snapshot != nil {
		snap := w.snapshot
		w.snapshot = nil
		if err := snap.Close(); err != nil {
			log.Iterator.Warn().Err(err).Uint64("itr", w.owner.serial).Msg("releasing snapshot")
		}
	}
}

// rebuild replaces the snapshot and iterator with fresh ones and restarts
// the staleness clock. Position is not restored here.
func (w *IteratorWrapper) rebuild() error {
	w.staleDeadline = w.db.cfg.Now().Add(w.db.cfg.RefreshWindow)
	w.PurgeIterator()

	snap, iter, err := w.db.newSnapshotIterator(w.opts.iterOptions())
	if err != nil {
		return err
	}
	w.snapshot, w.iter = snap, iter
	return nil
}

func (w *IteratorWrapper) stale(now time.Time) bool {
	return w.opts.Refresh && !now.Before(w.staleDeadline)
}

// Move drives the native iterator. The caller must hold the baton.
// Engine failures are not returned: they leave the wrapper invalid and are
// available from Err. The only error is ErrResourceClosed.
func (w *IteratorWrapper) Move(action Action, target []byte) (Entry, error) {
	if w.closed.Load() {
		w.valid.Store(false)
		return Entry{}, ErrResourceClosed
	}
	w.moves.Add(1)
	w.err.Store(nil)

	now := w.db.cfg.Now()
	w.report(now)

	resume := w.reposition
	w.reposition = false
	if stale := w.stale(now); stale || w.iter == nil {
		if err := w.rebuild(); err != nil {
			return w.fail(err)
		}
		if stale {
			metrics.IteratorRefreshes.Inc()
			log.Iterator.Debug().Uint64("itr", w.owner.serial).Bytes("resume", w.mostRecentKey).Msg("iterator refreshed")
		}
		resume = true
	}

	if resume && action.relative() {
		return w.capture(action, w.resume(action))
	}
	return w.capture(action, w.step(action, target))
}

func (w *IteratorWrapper) step(action Action, target []byte) bool {
	switch action {
	case First:
		return w.iter.First()
	case Last:
		return w.iter.Last()
	case Seek:
		return w.iter.SeekGE(target)
	case Next:
		return w.iter.Next()
	case Prev:
		return w.iter.Prev()
	default:
		return false
	}
}

// resume restores the logical position on a rebuilt iterator and applies a
// relative move from there, with the result the engine gives for the same
// move without a rebuild. An exhausted position is re-entered from its end
// so that later moves step from there too.
func (w *IteratorWrapper) resume(action Action) bool {
	switch w.pos {
	case unpositioned:
		if action == Next {
			return w.iter.First()
		}
		return w.iter.Last()
	case pastEnd:
		if action == Prev {
			return w.iter.Last()
		}
		return w.iter.Last() && w.iter.Next()
	case beforeStart:
		if action == Next {
			return w.iter.First()
		}
		return w.iter.First() && w.iter.Prev()
	}

	// The seek lands on mostRecentKey or, if that key is gone, on its
	// successor; a Next from a successor must not advance again or a key
	// would be skipped.
	landed := w.iter.SeekGE(w.mostRecentKey)
	exact := landed && bytes.Equal(w.iter.Key(), w.mostRecentKey)

	switch {
	case action == Next && exact:
		return w.iter.Next()
	case action == Next:
		return landed
	case landed:
		return w.iter.Prev()
	default:
		// everything left is before mostRecentKey
		return w.iter.Last()
	}
}

func (w *IteratorWrapper) capture(action Action, ok bool) (Entry, error) {
	if !ok {
		w.pos = exhausted(action)
		w.valid.Store(false)
		if err := w.iter.Error(); err != nil {
			w.setErr(engineError("iterate", err))
		}
		return Entry{}, nil
	}

	entry := Entry{Key: w.iter.Key(), Valid: true}
	w.mostRecentKey, w.pos = entry.Key, atKey
	if !w.keysOnly {
		value, err := w.iter.Value()
		if err != nil {
			return w.fail(engineError("value", err))
		}
		entry.Value = value
	}

	w.valid.Store(true)
	return entry, nil
}

func (w *IteratorWrapper) fail(err error) (Entry, error) {
	w.valid.Store(false)
	if errors.Is(err, ErrResourceClosed) {
		return Entry{}, err
	}
	w.setErr(err)
	return Entry{}, nil
}

func (w *IteratorWrapper) setErr(err error) {
	w.err.Store(&err)
}

// Err returns the engine failure behind the last invalid move, if any.
func (w *IteratorWrapper) Err() error {
	if p := w.err.Load(); p != nil {
		return *p
	}
	return nil
}

// report logs iterators that have lived across a whole report interval.
func (w *IteratorWrapper) report(now time.Time) {
	if now.Sub(w.lastReport) < w.db.cfg.ReportInterval {
		return
	}
	w.lastReport = now
	w.LogIterator(now)
}

// LogIterator writes the diagnostic state used to chase hung iterators.
func (w *IteratorWrapper) LogIterator(now time.Time) {
	log.Iterator.Warn().
		Uint64("itr", w.owner.serial).
		Uint64("db", w.db.serial).
		Dur("age", now.Sub(w.created)).
		Int64("moves", w.moves.Load()).
		Bytes("recent_key", w.mostRecentKey).
		Stringer("position", w.pos).
		Bool("valid", w.Valid()).
		Msg("long lived iterator")
}

// beginPrefetch opens a prefetch generation and hands the baton to the
// background. The caller must hold the baton and must not touch the
// iterator again until moveForeground takes it back.
func (w *IteratorWrapper) beginPrefetch() *prefetch {
	p := &prefetch{
		done:     make(chan struct{}),
		prior:    w.mostRecentKey,
		priorPos: w.pos,
	}
	w.pending = p
	w.last = p
	w.AcquireForOperation(Background)
	return p
}

// settled reports whether the most recent generation has finished. A
// preempted task may still be queued; opening a new generation before it
// has stood down would let it claim the wrong one.
func (w *IteratorWrapper) settled() bool {
	if w.last == nil {
		return true
	}
	select {
	case <-w.last.done:
		return true
	default:
		return false
	}
}

// abortPrefetch undoes beginPrefetch when the task could not be dispatched.
func (w *IteratorWrapper) abortPrefetch(p *prefetch) {
	w.pending = nil
	w.AcquireForOperation(Foreground)
	close(p.done)
}

// runPrefetch is the background half of a generation. It claims the
// generation by flipping the flag back; finding anything but Background
// means the foreground preempted it, and the attempt is abandoned untouched.
func (w *IteratorWrapper) runPrefetch(p *prefetch) {
	defer close(p.done)

	if w.AcquireForOperation(Foreground) != Background {
		return
	}
	p.claimed = true
	p.entry, p.err = w.Move(Next, nil)
}

// moveForeground takes the baton back from an outstanding prefetch, if any,
// then serves the move. Foreground calls must be serialized by the caller.
func (w *IteratorWrapper) moveForeground(ctx context.Context, action Action, target []byte) (Entry, error) {
	if p := w.pending; p != nil {
		if w.AcquireForOperation(Foreground) != Background {
			// the background claimed this generation; it hands the iterator
			// back when its move is done
			select {
			case <-p.done:
			case <-ctx.Done():
				return Entry{}, ctx.Err()
			}
		}
		w.pending = nil

		switch {
		case !p.claimed:
			metrics.Prefetches.WithLabelValues(metrics.PrefetchPreempted).Inc()
		case action == Next:
			metrics.Prefetches.WithLabelValues(metrics.PrefetchUsed).Inc()
			return p.entry, p.err
		default:
			metrics.Prefetches.WithLabelValues(metrics.PrefetchDiscarded).Inc()
			if action == Prev {
				w.undoPrefetch(p)
			}
		}
	}

	return w.Move(action, target)
}

// undoPrefetch discards a prefetched Next so a following Prev is relative to
// the position the foreground last saw. The native iterator may have run off
// the end, or moved off an unpositioned start, so the next move re-enters
// the prior position instead of stepping back.
func (w *IteratorWrapper) undoPrefetch(p *prefetch) {
	w.mostRecentKey, w.pos = p.prior, p.priorPos
	w.reposition = true
}
