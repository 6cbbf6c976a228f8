package handles

import (
	"errors"
	"fmt"
)

var (
	// ErrResourceClosed is returned for operations on a handle whose
	// database has been shut down.
	ErrResourceClosed = errors.New("handle: resource closed")

	// ErrEngine wraps failures reported by the storage engine. The engine's
	// own error stays in the chain.
	ErrEngine = errors.New("handle: storage engine error")

	// ErrIteratorBusy is returned when a second foreground call reaches an
	// iterator while another is still running.
	ErrIteratorBusy = errors.New("handle: iterator busy")
)

func engineError(op string, err error) error {
	return fmt.Errorf("%w: %s: %w", ErrEngine, op, err)
}
