package worker

import (
	"errors"
	"sync"

	"golang.org/x/sync/errgroup"

	"github.com/eigerco/refstore/pkg/log"
)

var (
	ErrPoolClosed = errors.New("worker: pool closed")
	ErrPoolBusy   = errors.New("worker: all workers busy")
)

// Pool runs background iterator work on a bounded set of goroutines. It
// never queues: a task that finds every worker busy is refused, and the
// caller decides whether to drop it.
type Pool struct {
	g errgroup.Group

	mu     sync.RWMutex
	closed bool
}

// NewPool returns a pool running at most limit tasks at once. A limit of
// zero or less leaves the pool unbounded.
func NewPool(limit int) *Pool {
	p := &Pool{}
	if limit > 0 {
		p.g.SetLimit(limit)
	}
	return p
}

// Submit starts task on a free worker.
func (p *Pool) Submit(task func()) error {
	p.mu.RLock()
	defer p.mu.RUnlock()

	if p.closed {
		return ErrPoolClosed
	}
	if !p.g.TryGo(func() error {
		defer func() {
			if r := recover(); r != nil {
				log.Root.Error().Interface("panic", r).Msg("background task panicked")
			}
		}()
		task()
		return nil
	}) {
		return ErrPoolBusy
	}
	return nil
}

// Close refuses new tasks and waits for running ones to finish.
func (p *Pool) Close() error {
	p.mu.Lock()
	p.closed = true
	p.mu.Unlock()

	return p.g.Wait()
}
