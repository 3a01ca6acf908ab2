// Package msgpool provides fixed-capacity buffer pools for outgoing RTPS
// submessage elements and message headers, chained to form complete
// packets (spec §2). Nothing in the retrieved pack wraps sync.Pool with a
// domain type for this purpose, so this package is built directly on the
// standard library's sync.Pool — the same "no suitable third-party
// library" situation applies here as to package timer.
package msgpool

import "sync"

// Element is one fixed-size scratch buffer drawn from a Pool, able to hold
// either a submessage header, a locator, or a small encoded payload
// fragment. Elements are chained via Next to build up a complete outgoing
// message without per-send heap allocation.
type Element struct {
	Buf  [256]byte
	Len  int
	Next *Element
}

// Pool is a fixed-capacity pool of Elements, bounded by a counting semaphore. Exhaustion
// is a recoverable condition per spec §5: Get returns ok=false rather than
// allocating past capacity, and callers retry on the next proxy-active
// signal instead of blocking the core thread.
type Pool struct {
	sp       sync.Pool
	sem      chan struct{}
	capacity int
}

// NewPool creates a pool bounded to capacity live elements.
func NewPool(capacity int) *Pool {
	p := &Pool{capacity: capacity, sem: make(chan struct{}, capacity)}
	p.sp.New = func() interface{} { return &Element{} }
	return p
}

// Get acquires one Element, or reports ok=false if the pool is exhausted.
func (p *Pool) Get() (e *Element, ok bool) {
	select {
	case p.sem <- struct{}{}:
	default:
		return nil, false
	}
	e = p.sp.Get().(*Element)
	e.Len = 0
	e.Next = nil
	return e, true
}

// Put returns an Element (and everything chained after it via Next) to
// the pool.
func (p *Pool) Put(e *Element) {
	for e != nil {
		next := e.Next
		e.Next = nil
		e.Len = 0
		p.sp.Put(e)
		<-p.sem
		e = next
	}
}

// InUse reports how many elements are currently checked out.
func (p *Pool) InUse() int { return len(p.sem) }

// Capacity reports the pool's configured maximum.
func (p *Pool) Capacity() int { return p.capacity }

// Chain links elements into a singly linked list and returns the head,
// mirroring how the builder assembles a message out of pooled headers and
// payload references (spec §4.5).
func Chain(elems ...*Element) *Element {
	for i := 0; i < len(elems)-1; i++ {
		elems[i].Next = elems[i+1]
	}
	if len(elems) == 0 {
		return nil
	}
	return elems[0]
}
