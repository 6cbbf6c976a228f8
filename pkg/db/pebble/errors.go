package pebble

import (
	"errors"

	"github.com/eigerco/refstore/pkg/db"
)

var (
	ErrClosed          = errors.New("kv-store: database is closed")
	ErrNotFound        = db.ErrKeyNotFound
	ErrBatchDone       = errors.New("kv-store: batch already committed or closed")
	ErrIteratorInvalid = errors.New("kv-store: iterator is not positioned")
)

const (
	ErrInIteratorCreation = "kv-store: failed to create iterator: %w"
	ErrIteratorValue      = "kv-store: failed to read iterator value: %w"
	ErrOpen               = "kv-store: failed to open %q: %w"
	ErrBatchOp            = "kv-store: failed to record batch %s: %w"
	ErrBatchCommit        = "kv-store: failed to commit batch of %d ops: %w"
	ErrBatchRelease       = "kv-store: failed to release batch: %w"
)
