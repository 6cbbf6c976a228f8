package pebble

import (
	"fmt"
	"sync/atomic"

	"github.com/cockroachdb/pebble"

	"github.com/eigerco/refstore/pkg/db"
)

// Batch buffers writes until Commit applies them atomically. A batch is
// single use: after Commit or Close, successful or not, every call but
// Close fails with ErrBatchDone.
type Batch struct {
	store *KVStore
	batch *pebble.Batch
	done  atomic.Bool
}

func (p *KVStore) NewBatch() db.Batch {
	return &Batch{
		store: p,
		batch: p.db.NewBatch(),
	}
}

func (b *Batch) Put(key, value []byte) error {
	return b.record("put", func() error { return b.batch.Set(key, value, pebble.NoSync) })
}

func (b *Batch) Delete(key []byte) error {
	return b.record("delete", func() error { return b.batch.Delete(key, pebble.NoSync) })
}

func (b *Batch) record(op string, apply func() error) error {
	if b.done.Load() {
		return ErrBatchDone
	}
	if err := apply(); err != nil {
		return fmt.Errorf(ErrBatchOp, op, err)
	}
	return nil
}

// Commit writes the batch with a sync and releases it.
func (b *Batch) Commit() error {
	if !b.done.CompareAndSwap(false, true) {
		return ErrBatchDone
	}

	err := b.commit()
	if cerr := b.batch.Close(); err == nil && cerr != nil {
		err = fmt.Errorf(ErrBatchRelease, cerr)
	}
	return err
}

func (b *Batch) commit() error {
	b.store.mu.RLock()
	defer b.store.mu.RUnlock()
	if b.store.closed {
		return ErrClosed
	}

	if err := b.batch.Commit(pebble.Sync); err != nil {
		return fmt.Errorf(ErrBatchCommit, b.batch.Count(), err)
	}
	return nil
}

// Close discards an uncommitted batch.
func (b *Batch) Close() error {
	if !b.done.CompareAndSwap(false, true) {
		return nil
	}
	return b.batch.Close()
}
