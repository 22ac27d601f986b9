// Package util contains helpers shared by cache components and tools.
package util

import (
	"fmt"

	"github.com/panjf2000/ants/v2"
	"go.uber.org/atomic"
)

// WorkerPool runs submitted functions, possibly concurrently.
type WorkerPool interface {
	// Submit queues a function for execution.
	//
	// Implementation must return any error encountered
	// that prevented the function from being queued.
	Submit(func()) error

	// Release releases worker pool resources. All `Submit` calls will
	// finish with ErrPoolClosed. It doesn't wait until all submitted
	// functions have returned so synchronization must be achieved
	// via other means (e.g. sync.WaitGroup).
	Release()
}

// ErrPoolClosed is returned when submitting task to a closed pool.
var ErrPoolClosed = ants.ErrPoolClosed

// NewWorkerPool returns a pool of size goroutines. Submit blocks while all
// of them are busy. Non-positive size selects the synchronous pool.
func NewWorkerPool(size int) (WorkerPool, error) {
	if size <= 0 {
		return NewPseudoWorkerPool(), nil
	}

	p, err := ants.NewPool(size)
	if err != nil {
		return nil, fmt.Errorf("could not create worker pool: %w", err)
	}
	return p, nil
}

// pseudoWorkerPool executes submitted jobs immediately in the caller's
// routine.
type pseudoWorkerPool struct {
	closed atomic.Bool
}

// NewPseudoWorkerPool returns new instance of a synchronous worker pool.
func NewPseudoWorkerPool() WorkerPool {
	return &pseudoWorkerPool{}
}

// Submit executes passed function immediately.
func (p *pseudoWorkerPool) Submit(fn func()) error {
	if p.closed.Load() {
		return ErrPoolClosed
	}

	fn()

	return nil
}

// Release implements WorkerPool interface.
func (p *pseudoWorkerPool) Release() {
	p.closed.Store(true)
}
