package lifecycle

import (
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type testResource struct {
	Resource
	shutdowns atomic.Int32
	destroys  atomic.Int32
}

func newTestResource() *testResource {
	r := &testResource{}
	r.Init("test", r, func() { r.destroys.Add(1) })
	return r
}

func (r *testResource) Shutdown() {
	r.shutdowns.Add(1)
}

type testSlot struct {
	cleared atomic.Int32
}

func (s *testSlot) Clear() {
	s.cleared.Add(1)
}

func TestClaimCloseSingleWinner(t *testing.T) {
	for i := 0; i < 50; i++ {
		r := newTestResource()
		slot := &testSlot{}
		require.NoError(t, r.RegisterHostSlot(slot))

		const closers = 32
		var (
			wg    sync.WaitGroup
			wins  atomic.Int32
			start = make(chan struct{})
		)
		for c := 0; c < closers; c++ {
			wg.Add(1)
			go func() {
				defer wg.Done()
				<-start
				if r.ClaimClose() {
					wins.Add(1)
					assert.NoError(t, r.InitiateClose())
				}
			}()
		}
		close(start)
		wg.Wait()

		require.Equal(t, int32(1), wins.Load())
		assert.Equal(t, int32(1), r.shutdowns.Load())
		assert.Equal(t, int32(1), r.destroys.Load())
		assert.Equal(t, int32(1), slot.cleared.Load())
		assert.Equal(t, Teardown, r.State())
	}
}

func TestInitiateCloseContract(t *testing.T) {
	tests := []struct {
		name string
		fn   func(t *testing.T, r *testResource)
	}{
		{
			name: "without_claim",
			fn: func(t *testing.T, r *testResource) {
				assert.ErrorIs(t, r.InitiateClose(), ErrInvalidState)
				assert.Equal(t, Open, r.State())
				assert.Zero(t, r.shutdowns.Load())
			},
		},
		{
			name: "twice",
			fn: func(t *testing.T, r *testResource) {
				require.True(t, r.ClaimClose())
				require.NoError(t, r.InitiateClose())
				assert.ErrorIs(t, r.InitiateClose(), ErrInvalidState)
				assert.Equal(t, int32(1), r.shutdowns.Load())
				assert.Equal(t, int32(1), r.destroys.Load())
			},
		},
		{
			name: "close_is_idempotent",
			fn: func(t *testing.T, r *testResource) {
				require.NoError(t, r.Close())
				require.NoError(t, r.Close())
				assert.False(t, r.ClaimClose())
				assert.Equal(t, int32(1), r.destroys.Load())
			},
		},
	}

	for _, tc := range tests {
		t.Run(tc.name, func(t *testing.T) {
			tc.fn(t, newTestResource())
		})
	}
}

func TestInitiateCloseWaitsForQuiescence(t *testing.T) {
	r := newTestResource()

	// two in-flight operations
	require.True(t, r.Acquire())
	require.True(t, r.Acquire())

	require.True(t, r.ClaimClose())
	assert.False(t, r.Acquire(), "no new operation may start once close is claimed")

	closed := make(chan error, 1)
	go func() { closed <- r.InitiateClose() }()

	require.Eventually(t, func() bool { return r.State() == SlotCleared }, time.Second, time.Millisecond)
	assert.Equal(t, int32(1), r.shutdowns.Load(), "shutdown precedes the wait")

	r.RefDec()
	select {
	case <-closed:
		t.Fatal("close finished with an operation still in flight")
	case <-time.After(20 * time.Millisecond):
	}
	assert.Zero(t, r.destroys.Load())

	r.RefDec()
	select {
	case err := <-closed:
		require.NoError(t, err)
	case <-time.After(time.Second):
		t.Fatal("close did not observe quiescence")
	}
	assert.Equal(t, int32(1), r.destroys.Load())
	assert.Equal(t, Teardown, r.State())
}

func TestRetainedReferencesDoNotBlockClose(t *testing.T) {
	r := newTestResource()
	r.Retain()
	r.Retain()

	require.NoError(t, r.Close())
	assert.Equal(t, Teardown, r.State())
	assert.Zero(t, r.destroys.Load(), "dependents keep the object alive")
	assert.Equal(t, int64(2), r.RefCount())

	r.Unretain()
	assert.Zero(t, r.destroys.Load())
	r.Unretain()
	assert.Equal(t, int32(1), r.destroys.Load())
}

func TestRegisterHostSlot(t *testing.T) {
	r := newTestResource()
	require.NoError(t, r.RegisterHostSlot(&testSlot{}))
	assert.ErrorIs(t, r.RegisterHostSlot(&testSlot{}), ErrInvalidState)

	require.NoError(t, r.Close())

	late := newTestResource()
	require.NoError(t, late.Close())
	slot := &testSlot{}
	assert.ErrorIs(t, late.RegisterHostSlot(slot), ErrInvalidState)
	assert.Zero(t, slot.cleared.Load())
}

func TestAcquireRacesClose(t *testing.T) {
	for round := 0; round < 200; round++ {
		r := newTestResource()
		r.Retain() // keeps the count above zero after teardown

		var (
			wg    sync.WaitGroup
			stray atomic.Int32
		)
		for i := 0; i < 4; i++ {
			wg.Add(1)
			go func() {
				defer wg.Done()
				for r.State() != Teardown {
					if !r.Acquire() {
						continue
					}
					// a held operation reference must hold off teardown
					if r.State() == Teardown {
						stray.Add(1)
					}
					r.RefDec()
				}
				assert.False(t, r.Acquire())
			}()
		}

		require.NoError(t, r.Close())
		wg.Wait()
		require.Zero(t, stray.Load(), "round %d: operation started after close was claimed", round)

		assert.Equal(t, int64(1), r.RefCount())
		r.Unretain()
		assert.Equal(t, int32(1), r.destroys.Load())
	}
}
