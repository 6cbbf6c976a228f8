package refstore

import (
	"errors"

	"github.com/eigerco/refstore/internal/handles"
	"github.com/eigerco/refstore/internal/lifecycle"
	"github.com/eigerco/refstore/internal/registry"
	"github.com/eigerco/refstore/pkg/db"
)

var (
	// ErrNotFound: the id does not resolve to a live resource, either
	// because it was never issued or because the resource is closing.
	ErrNotFound = registry.ErrNotFound
	// ErrWrongKind: the id names a database where an iterator was expected,
	// or the other way round.
	ErrWrongKind = registry.ErrWrongKind
	// ErrInvalidState: the close protocol was driven out of order.
	ErrInvalidState = lifecycle.ErrInvalidState
	// ErrResourceClosed: the database behind the handle has been closed.
	ErrResourceClosed = handles.ErrResourceClosed
	// ErrEngine wraps storage engine failures.
	ErrEngine = handles.ErrEngine
	// ErrIteratorBusy: another foreground call is using the iterator.
	ErrIteratorBusy = handles.ErrIteratorBusy
	// ErrKeyNotFound is returned by Get for a missing key.
	ErrKeyNotFound = db.ErrKeyNotFound

	ErrHostClosed = errors.New("refstore: host closed")
)
