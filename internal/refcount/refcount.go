package refcount

import (
	"fmt"
	"sync/atomic"
)

// Counted is an atomic reference count. The destructor runs inline on
// whichever goroutine drops the final reference, so callers must not hold
// locks the destructor might need when calling RefDec.
//
// The zero value is not usable; call Init.
type Counted struct {
	count   atomic.Int64
	destroy func()
}

// New returns a counter holding one reference for the caller.
func New(destroy func()) *Counted {
	c := &Counted{}
	c.Init(destroy)
	return c
}

// Init sets the count to one, the reference owned by the creator.
func (c *Counted) Init(destroy func()) {
	c.destroy = destroy
	c.count.Store(1)
}

// RefInc adds a reference. The caller must already hold one, so the count
// can never rise again after reaching zero.
func (c *Counted) RefInc() {
	if !c.TryRefInc() {
		panic("refcount: RefInc on released object")
	}
}

// TryRefInc adds a reference unless the object has already been released.
func (c *Counted) TryRefInc() bool {
	for {
		cur := c.count.Load()
		if cur <= 0 {
			return false
		}
		if c.count.CompareAndSwap(cur, cur+1) {
			return true
		}
	}
}

// RefDec drops a reference and returns the remaining count. On zero the
// destructor runs before RefDec returns.
func (c *Counted) RefDec() int64 {
	n := c.count.Add(-1)
	switch {
	case n == 0:
		if c.destroy != nil {
			c.destroy()
		}
	case n < 0:
		panic(fmt.Sprintf("refcount: RefDec below zero (%d)", n))
	}
	return n
}

// RefCount is a point-in-time read, only meaningful for diagnostics and
// quiescence checks made while new references are blocked.
func (c *Counted) RefCount() int64 {
	return c.count.Load()
}
