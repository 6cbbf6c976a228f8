package refcount

import (
	"sync"
	"sync/atomic"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestCounted(t *testing.T) {
	var destroyed int
	c := New(func() { destroyed++ })

	c.RefInc()
	c.RefInc()
	assert.Equal(t, int64(3), c.RefCount())

	assert.Equal(t, int64(2), c.RefDec())
	assert.Equal(t, int64(1), c.RefDec())
	assert.Zero(t, destroyed)

	assert.Equal(t, int64(0), c.RefDec())
	assert.Equal(t, 1, destroyed)

	assert.False(t, c.TryRefInc(), "count must not rise after reaching zero")
	assert.Panics(t, func() { c.RefInc() })
	assert.Panics(t, func() { c.RefDec() })
}

func TestCountedConcurrentRelease(t *testing.T) {
	const (
		goroutines = 64
		rounds     = 1000
	)

	for i := 0; i < 20; i++ {
		var destroyed atomic.Int32
		var remaining atomic.Int64
		c := New(func() {
			destroyed.Add(1)
			remaining.Store(-1)
		})

		var wg sync.WaitGroup
		start := make(chan struct{})
		for g := 0; g < goroutines; g++ {
			c.RefInc()
			wg.Add(1)
			go func() {
				defer wg.Done()
				<-start
				for r := 0; r < rounds; r++ {
					c.RefInc()
					c.RefDec()
				}
				c.RefDec()
			}()
		}

		close(start)
		// the creator's reference races with the workers
		c.RefDec()
		wg.Wait()

		require.Equal(t, int32(1), destroyed.Load())
		require.Equal(t, int64(-1), remaining.Load())
		require.Equal(t, int64(0), c.RefCount())
	}
}
