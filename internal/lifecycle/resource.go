package lifecycle

import (
	"errors"
	"fmt"
	"sync"
	"sync/atomic"
	"time"

	"github.com/eigerco/refstore/internal/metrics"
	"github.com/eigerco/refstore/internal/refcount"
	"github.com/eigerco/refstore/pkg/log"
)

// ErrInvalidState is returned when an operation is forbidden by the
// resource's current close state.
var ErrInvalidState = errors.New("resource: invalid close state")

// CloseState only ever moves forward.
type CloseState uint32

const (
	Open CloseState = iota
	CloseRequested
	SlotCleared
	Teardown
)

func (s CloseState) String() string {
	switch s {
	case Open:
		return "open"
	case CloseRequested:
		return "close-requested"
	case SlotCleared:
		return "slot-cleared"
	case Teardown:
		return "teardown"
	default:
		return fmt.Sprintf("CloseState(%d)", uint32(s))
	}
}

// Slot is the host-visible back reference to a resource. Clearing it stops
// the host from dispatching new operations to the resource.
type Slot interface {
	Clear()
}

// Shutdowner releases type specific native state. It is called exactly once,
// after the slot is cleared and before the quiescence wait.
type Shutdowner interface {
	Shutdown()
}

type slotRef struct{ Slot }

// Resource is a reference counted object whose teardown is coordinated
// between the host (which may drop its reference at any time) and worker
// goroutines still using it.
//
// Reference ownership: the creator's reference is the host's. Operations
// take a temporary reference with Acquire and drop it with RefDec.
// Dependent resources that must keep this one alive take a lifetime
// reference with Retain; those do not delay the close protocol.
type Resource struct {
	refcount.Counted

	kind  string
	owner Shutdowner
	state atomic.Uint32
	slot  atomic.Pointer[slotRef]

	mu       sync.Mutex
	cond     sync.Cond
	retained int64
}

// Init prepares r with one reference held by the creator. destroy runs once
// the final reference is released.
func (r *Resource) Init(kind string, owner Shutdowner, destroy func()) {
	r.kind = kind
	r.owner = owner
	r.cond.L = &r.mu
	r.Counted.Init(destroy)
}

func (r *Resource) Kind() string {
	return r.kind
}

func (r *Resource) State() CloseState {
	return CloseState(r.state.Load())
}

// RegisterHostSlot attaches the host's back reference. It may be done once,
// and not after the slot has been cleared by the close protocol.
func (r *Resource) RegisterHostSlot(slot Slot) error {
	ref := &slotRef{Slot: slot}
	if !r.slot.CompareAndSwap(nil, ref) {
		return fmt.Errorf("%w: %s already has a host slot", ErrInvalidState, r.kind)
	}
	// InitiateClose moves the state before taking the slot, so one of the
	// two sides always observes the other.
	if r.State() >= SlotCleared {
		r.slot.CompareAndSwap(ref, nil)
		return fmt.Errorf("%w: %s is %s", ErrInvalidState, r.kind, r.State())
	}
	return nil
}

// Acquire takes an operation reference while the resource is open. The
// caller must release it with RefDec.
//
// Retained references can keep the count above zero past teardown, so the
// state is checked again once the reference is held: a close claimed in
// between either sees this reference in its quiescence wait or is seen here.
func (r *Resource) Acquire() bool {
	if r.State() != Open || !r.TryRefInc() {
		return false
	}
	if r.State() != Open {
		r.RefDec()
		return false
	}
	return true
}

// RefDec drops a reference and wakes a pending close that may now be able
// to proceed. The destructor runs outside the close mutex.
func (r *Resource) RefDec() int64 {
	n := r.Counted.RefDec()
	if n > 0 {
		r.mu.Lock()
		r.cond.Broadcast()
		r.mu.Unlock()
	}
	return n
}

// Retain takes a lifetime reference on behalf of a dependent resource.
func (r *Resource) Retain() {
	r.mu.Lock()
	r.RefInc()
	r.retained++
	r.mu.Unlock()
}

// Unretain drops a reference taken with Retain.
func (r *Resource) Unretain() {
	r.mu.Lock()
	r.retained--
	r.mu.Unlock()
	r.RefDec()
}

// ClaimClose reports whether the caller won the right to close r. Exactly
// one caller ever wins; all others must not perform any teardown step.
func (r *Resource) ClaimClose() bool {
	won := r.state.CompareAndSwap(uint32(Open), uint32(CloseRequested))
	if won {
		log.Resource.Debug().Str("kind", r.kind).Msg("close claimed")
	}
	return won
}

// InitiateClose runs the close protocol. Only the ClaimClose winner may call
// it, and only once. It consumes the host's reference: it clears the host
// slot, shuts the resource down, waits until every in-flight operation has
// released its reference, then drops the host reference, which destroys
// the resource unless dependents still retain it.
func (r *Resource) InitiateClose() error {
	if !r.state.CompareAndSwap(uint32(CloseRequested), uint32(SlotCleared)) {
		err := fmt.Errorf("%w: initiate close on %s in state %s", ErrInvalidState, r.kind, r.State())
		log.Resource.Error().Err(err).Msg("close protocol violated")
		return err
	}

	if ref := r.slot.Swap(nil); ref != nil {
		ref.Clear()
	}

	r.owner.Shutdown()

	start := time.Now()
	r.mu.Lock()
	for r.RefCount()-r.retained > 1 {
		r.cond.Wait()
	}
	r.mu.Unlock()
	metrics.CloseWait.WithLabelValues(r.kind).Observe(time.Since(start).Seconds())

	r.state.Store(uint32(Teardown))
	log.Resource.Debug().Str("kind", r.kind).Int64("retained", r.RefCount()-1).Msg("quiescent, releasing")
	r.RefDec()
	return nil
}

// Close is ClaimClose followed by InitiateClose. Closing a resource that is
// already closing is a no-op.
func (r *Resource) Close() error {
	if !r.ClaimClose() {
		return nil
	}
	return r.InitiateClose()
}
