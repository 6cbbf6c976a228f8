package registry

import (
	"errors"
	"fmt"
	"slices"
	"sync"

	"github.com/eigerco/refstore/internal/lifecycle"
	"github.com/eigerco/refstore/internal/metrics"
	"github.com/eigerco/refstore/pkg/log"
)

var (
	// ErrNotFound is returned when an id does not resolve to a live resource.
	ErrNotFound = errors.New("registry: resource not found")

	// ErrWrongKind is returned when an id resolves to a resource of another
	// kind than the caller asked for.
	ErrWrongKind = errors.New("registry: wrong resource kind")
)

// ID is the opaque host-visible reference to a registered resource. IDs are
// never reused; zero is never issued.
type ID uint64

// Resource is what the registry can hold: anything that runs the close
// protocol.
type Resource interface {
	Kind() string
	Acquire() bool
	RefDec() int64
	RegisterHostSlot(lifecycle.Slot) error
	ClaimClose() bool
	InitiateClose() error
}

// Registry maps ids to live resources. An entry disappears when the close
// protocol clears the resource's host slot, so a closing resource can no
// longer be resolved.
type Registry struct {
	mu      sync.RWMutex
	last    ID
	entries map[ID]Resource
}

func New() *Registry {
	return &Registry{entries: make(map[ID]Resource)}
}

// slot is the back reference a resource clears when it starts closing.
type slot struct {
	r  *Registry
	id ID
}

func (s slot) Clear() {
	s.r.clear(s.id)
}

// Register issues a fresh id for res and attaches the matching host slot.
func (r *Registry) Register(res Resource) (ID, error) {
	r.mu.Lock()
	r.last++
	id := r.last
	r.entries[id] = res
	r.mu.Unlock()

	if err := res.RegisterHostSlot(slot{r: r, id: id}); err != nil {
		r.remove(id)
		return 0, fmt.Errorf("registering %s: %w", res.Kind(), err)
	}

	metrics.HandlesOpen.WithLabelValues(res.Kind()).Inc()
	log.Resource.Debug().Uint64("id", uint64(id)).Str("kind", res.Kind()).Msg("registered")
	return id, nil
}

// Resolve finds the live resource behind id and takes an operation
// reference on it. The caller must release it with RefDec.
func (r *Registry) Resolve(id ID) (Resource, error) {
	r.mu.RLock()
	res, ok := r.entries[id]
	r.mu.RUnlock()

	if !ok || !res.Acquire() {
		return nil, fmt.Errorf("%w: id %d", ErrNotFound, id)
	}
	return res, nil
}

// Lookup is Resolve narrowed to one concrete kind.
func Lookup[T Resource](r *Registry, id ID) (T, error) {
	var zero T

	res, err := r.Resolve(id)
	if err != nil {
		return zero, err
	}
	typed, ok := res.(T)
	if !ok {
		res.RefDec()
		return zero, fmt.Errorf("%w: id %d is a %s", ErrWrongKind, id, res.Kind())
	}
	return typed, nil
}

// Peek returns the resource behind id without taking a reference. It is
// only meant for driving the close protocol, which is safe to attempt on a
// resource that is already going away.
func (r *Registry) Peek(id ID) (Resource, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()

	res, ok := r.entries[id]
	return res, ok
}

// Issued reports whether id was ever handed out.
func (r *Registry) Issued(id ID) bool {
	r.mu.RLock()
	defer r.mu.RUnlock()

	return id != 0 && id <= r.last
}

// IDs returns the registered ids, newest first.
func (r *Registry) IDs() []ID {
	r.mu.RLock()
	ids := make([]ID, 0, len(r.entries))
	for id := range r.entries {
		ids = append(ids, id)
	}
	r.mu.RUnlock()

	slices.Sort(ids)
	slices.Reverse(ids)
	return ids
}

func (r *Registry) Len() int {
	r.mu.RLock()
	defer r.mu.RUnlock()

	return len(r.entries)
}

func (r *Registry) clear(id ID) {
	res, ok := r.remove(id)
	if !ok {
		return
	}
	metrics.HandlesOpen.WithLabelValues(res.Kind()).Dec()
	log.Resource.Debug().Uint64("id", uint64(id)).Str("kind", res.Kind()).Msg("host slot cleared")
}

func (r *Registry) remove(id ID) (Resource, bool) {
	r.mu.Lock()
	defer r.mu.Unlock()

	res, ok := r.entries[id]
	delete(r.entries, id)
	return res, ok
}
