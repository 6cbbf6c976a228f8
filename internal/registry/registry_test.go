package registry

import (
	"sync/atomic"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"golang.org/x/sync/errgroup"

	"github.com/eigerco/refstore/internal/lifecycle"
)

type fakeResource struct {
	lifecycle.Resource
	shutdowns atomic.Int32
	destroyed atomic.Int32
}

func newFake(kind string) *fakeResource {
	f := &fakeResource{}
	f.Init(kind, f, func() { f.destroyed.Add(1) })
	return f
}

func (f *fakeResource) Shutdown() {
	f.shutdowns.Add(1)
}

type otherResource struct {
	fakeResource
}

func TestRegistry(t *testing.T) {
	tests := []struct {
		name string
		fn   func(t *testing.T, r *Registry)
	}{
		{
			name: "resolve_takes_a_reference",
			fn: func(t *testing.T, r *Registry) {
				f := newFake("fake")
				id, err := r.Register(f)
				require.NoError(t, err)
				assert.NotZero(t, id)

				got, err := Lookup[*fakeResource](r, id)
				require.NoError(t, err)
				assert.Same(t, f, got)
				assert.Equal(t, int64(2), f.RefCount())
				got.RefDec()
				assert.Equal(t, int64(1), f.RefCount())
			},
		},
		{
			name: "unknown_id",
			fn: func(t *testing.T, r *Registry) {
				_, err := r.Resolve(42)
				assert.ErrorIs(t, err, ErrNotFound)
				assert.False(t, r.Issued(42))
				assert.False(t, r.Issued(0))
			},
		},
		{
			name: "closed_id_is_not_found",
			fn: func(t *testing.T, r *Registry) {
				f := newFake("fake")
				id, err := r.Register(f)
				require.NoError(t, err)

				require.NoError(t, f.Close())
				assert.Equal(t, int32(1), f.shutdowns.Load())
				assert.Equal(t, int32(1), f.destroyed.Load())

				_, err = r.Resolve(id)
				assert.ErrorIs(t, err, ErrNotFound)
				_, ok := r.Peek(id)
				assert.False(t, ok)
				assert.True(t, r.Issued(id))
				assert.Zero(t, r.Len())
			},
		},
		{
			name: "closing_id_is_not_found",
			fn: func(t *testing.T, r *Registry) {
				f := newFake("fake")
				id, err := r.Register(f)
				require.NoError(t, err)

				require.True(t, f.ClaimClose())
				_, err = r.Resolve(id)
				assert.ErrorIs(t, err, ErrNotFound)

				require.NoError(t, f.InitiateClose())
			},
		},
		{
			name: "wrong_kind",
			fn: func(t *testing.T, r *Registry) {
				f := newFake("fake")
				id, err := r.Register(f)
				require.NoError(t, err)

				_, err = Lookup[*otherResource](r, id)
				assert.ErrorIs(t, err, ErrWrongKind)
				assert.Equal(t, int64(1), f.RefCount())
			},
		},
		{
			name: "slot_is_registered_once",
			fn: func(t *testing.T, r *Registry) {
				f := newFake("fake")
				id, err := r.Register(f)
				require.NoError(t, err)

				_, err = r.Register(f)
				assert.ErrorIs(t, err, lifecycle.ErrInvalidState)
				assert.Equal(t, 1, r.Len())
				assert.Equal(t, []ID{id}, r.IDs())
			},
		},
		{
			name: "ids_are_never_reused",
			fn: func(t *testing.T, r *Registry) {
				seen := make(map[ID]bool)
				for i := 0; i < 10; i++ {
					f := newFake("fake")
					id, err := r.Register(f)
					require.NoError(t, err)
					require.False(t, seen[id])
					seen[id] = true
					require.NoError(t, f.Close())
				}
				assert.Zero(t, r.Len())
			},
		},
		{
			name: "ids_newest_first",
			fn: func(t *testing.T, r *Registry) {
				var want []ID
				for i := 0; i < 3; i++ {
					id, err := r.Register(newFake("fake"))
					require.NoError(t, err)
					want = append([]ID{id}, want...)
				}
				assert.Equal(t, want, r.IDs())
			},
		},
	}

	for _, tc := range tests {
		t.Run(tc.name, func(t *testing.T) {
			tc.fn(t, New())
		})
	}
}

func TestConcurrentRegisterAndClose(t *testing.T) {
	r := New()

	var g errgroup.Group
	for i := 0; i < 64; i++ {
		g.Go(func() error {
			f := newFake("fake")
			id, err := r.Register(f)
			if err != nil {
				return err
			}
			res, err := r.Resolve(id)
			if err != nil {
				return err
			}
			res.RefDec()
			return f.Close()
		})
	}
	require.NoError(t, g.Wait())
	assert.Zero(t, r.Len())
}
