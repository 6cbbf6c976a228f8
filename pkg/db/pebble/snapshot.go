package pebble

import (
	"fmt"
	"sync/atomic"

	"github.com/cockroachdb/pebble"

	"github.com/eigerco/refstore/pkg/db"
)

// Snapshot pins a point-in-time view of the store. Until it is closed pebble
// keeps every version the view can see, so long lived snapshots cost space.
type Snapshot struct {
	snap   *pebble.Snapshot
	closed atomic.Bool
}

func (p *KVStore) NewSnapshot() (db.Snapshot, error) {
	p.mu.RLock()
	defer p.mu.RUnlock()

	if p.closed {
		return nil, ErrClosed
	}

	return &Snapshot{snap: p.db.NewSnapshot()}, nil
}

func (s *Snapshot) Get(key []byte) ([]byte, error) {
	if s.closed.Load() {
		return nil, ErrClosed
	}
	return copyValue(s.snap.Get(key))
}

func (s *Snapshot) NewIterator(opts db.IterOptions) (db.Iterator, error) {
	if s.closed.Load() {
		return nil, ErrClosed
	}

	iter, err := s.snap.NewIter(iterOptions(opts))
	if err != nil {
		return nil, fmt.Errorf(ErrInIteratorCreation, err)
	}
	return &Iterator{iter: iter}, nil
}

// Close releases the snapshot. Closing twice is a no-op.
func (s *Snapshot) Close() error {
	if !s.closed.CompareAndSwap(false, true) {
		return nil
	}
	return s.snap.Close()
}
