// Package bpool provides a generic fixed-capacity pool of lazily
// constructed elements.
//
// Elements are built on first demand, up to the pool's capacity. A checkout
// blocks until an element is free or one more may be constructed. The pool
// can visit every live element for broadcast side effects and can evict all
// idle elements; later checkouts reconstruct lazily.
package bpool

import (
	"context"
	"errors"
	"sync"

	"golang.org/x/sync/semaphore"
)

// ErrClosed is returned by With after Close.
var ErrClosed = errors.New("bpool: pool is closed")

// Pool is a bounded pool of T. Capacity is enforced with a weighted
// semaphore; the semaphore is the only place a checkout blocks.
type Pool[T any] struct {
	sem     *semaphore.Weighted
	factory func() (T, error)
	destroy func(T)

	mu     sync.Mutex
	idle   []T
	live   []T
	closed bool
}

// New creates a pool of at most capacity elements. factory constructs an
// element on demand; destroy releases one on eviction or close. A factory
// failure is reported to the caller whose checkout triggered it, and its
// capacity slot is freed again.
func New[T any](capacity int, factory func() (T, error), destroy func(T)) *Pool[T] {
	if capacity < 1 {
		panic("bpool: capacity must be at least 1")
	}
	return &Pool[T]{
		sem:     semaphore.NewWeighted(int64(capacity)),
		factory: factory,
		destroy: destroy,
	}
}

// With checks out one element, runs fn with it, and returns the element to
// the pool on every exit path. It blocks until an element is idle or one
// more can be constructed, or until ctx is done.
func (p *Pool[T]) With(ctx context.Context, fn func(T) error) error {
	return p.WithDiscard(ctx, func(elem T) (bool, error) {
		return false, fn(elem)
	})
}

// WithDiscard is With for callers that may leave an element in an unusable
// state: when fn reports discard, the element is destroyed instead of
// returned to the idle set, and its capacity slot is freed for lazy
// reconstruction. An fn panic also discards, since the element's state is
// then unknown.
func (p *Pool[T]) WithDiscard(ctx context.Context, fn func(T) (discard bool, err error)) error {
	if err := p.sem.Acquire(ctx, 1); err != nil {
		return err
	}
	defer p.sem.Release(1)

	elem, err := p.take()
	if err != nil {
		return err
	}
	discard := true
	defer func() {
		if discard {
			p.discard(elem)
		} else {
			p.put(elem)
		}
	}()
	discard, err = fn(elem)
	return err
}

// take pops an idle element or constructs a new one. Construction happens
// under the pool lock so that a broadcast via ForEach can never miss an
// element that was built concurrently.
func (p *Pool[T]) take() (T, error) {
	var zero T
	p.mu.Lock()
	defer p.mu.Unlock()
	if p.closed {
		return zero, ErrClosed
	}
	if n := len(p.idle); n > 0 {
		elem := p.idle[n-1]
		p.idle = p.idle[:n-1]
		return elem, nil
	}
	elem, err := p.factory()
	if err != nil {
		return zero, err
	}
	p.live = append(p.live, elem)
	return elem, nil
}

// put returns a checked-out element to the idle set. If the pool closed
// while the element was out, it is destroyed instead.
func (p *Pool[T]) put(elem T) {
	p.mu.Lock()
	if p.closed {
		p.removeLive(elem)
		p.mu.Unlock()
		p.destroy(elem)
		return
	}
	p.idle = append(p.idle, elem)
	p.mu.Unlock()
}

// discard removes a checked-out element from the live set and destroys it.
func (p *Pool[T]) discard(elem T) {
	p.mu.Lock()
	p.removeLive(elem)
	p.mu.Unlock()
	p.destroy(elem)
}

// ForEach visits every currently live element, checked out or idle, without
// removing any. It stops at the first error. The pool lock is held for the
// whole visit, so eviction cannot race a broadcast.
func (p *Pool[T]) ForEach(fn func(T) error) error {
	p.mu.Lock()
	defer p.mu.Unlock()
	for _, elem := range p.live {
		if err := fn(elem); err != nil {
			return err
		}
	}
	return nil
}

// EvictIdle destroys every idle element. Checked-out elements are
// unaffected and return to the pool normally.
func (p *Pool[T]) EvictIdle() {
	p.mu.Lock()
	defer p.mu.Unlock()
	for _, elem := range p.idle {
		p.removeLive(elem)
		p.destroy(elem)
	}
	p.idle = p.idle[:0]
}

// Close evicts all idle elements and marks the pool closed. Elements still
// checked out are destroyed as they come back.
func (p *Pool[T]) Close() {
	p.mu.Lock()
	defer p.mu.Unlock()
	if p.closed {
		return
	}
	p.closed = true
	for _, elem := range p.idle {
		p.removeLive(elem)
		p.destroy(elem)
	}
	p.idle = nil
}

// Stats reports the number of live and idle elements.
func (p *Pool[T]) Stats() (live, idle int) {
	p.mu.Lock()
	defer p.mu.Unlock()
	return len(p.live), len(p.idle)
}

// removeLive drops elem from the live set. Caller holds p.mu.
func (p *Pool[T]) removeLive(elem T) {
	for i := range p.live {
		if any(p.live[i]) == any(elem) {
			p.live = append(p.live[:i], p.live[i+1:]...)
			return
		}
	}
}
