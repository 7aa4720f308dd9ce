// Package tfanout aggregates the replies to one logical query
// that was fanned out to several peers.
//
// A [Single] resolves on the first reply and ignores the rest.
// An [Accumulator] merges every reply into an incremental result
// and publishes each new snapshot to observers.
package tfanout

import (
	"sync"

	"github.com/gordian-engine/tessera/tpubsub"
)

// Sink receives one reply.
// Deliver must not block for long, as it is called from a peer actor's main loop.
type Sink[T any] interface {
	Deliver(T)
}

// SinkFunc adapts a function to the [Sink] interface.
type SinkFunc[T any] func(T)

func (f SinkFunc[T]) Deliver(v T) { f(v) }

// Single is a one-shot [Sink]: the first delivered value wins.
type Single[T any] struct {
	once sync.Once
	ch   chan T
}

func NewSingle[T any]() *Single[T] {
	return &Single[T]{ch: make(chan T, 1)}
}

// Deliver records v if no value has been recorded yet.
func (s *Single[T]) Deliver(v T) {
	s.once.Do(func() {
		s.ch <- v
	})
}

// Result returns a channel that receives the first delivered value.
// The channel yields exactly one value and is never closed.
func (s *Single[T]) Result() <-chan T {
	return s.ch
}

// Accumulator is a [Sink] that merges every delivered value
// into a shared result.
type Accumulator[T any] struct {
	merge func(acc, v T) T

	mu       sync.Mutex
	acc      T
	n        int
	expected int
	tail     *tpubsub.Stream[T]

	head *tpubsub.Stream[T]
	done chan struct{}
}

// NewAccumulator returns an Accumulator starting from initial.
// Each Deliver replaces the result with merge(result, v).
// Done is closed after expected deliveries;
// a non-positive expected closes Done immediately.
func NewAccumulator[T any](expected int, initial T, merge func(acc, v T) T) *Accumulator[T] {
	s := tpubsub.NewStream[T]()
	a := &Accumulator[T]{
		merge:    merge,
		acc:      initial,
		expected: expected,
		tail:     s,
		head:     s,
		done:     make(chan struct{}),
	}
	if expected <= 0 {
		close(a.done)
	}
	return a
}

func (a *Accumulator[T]) Deliver(v T) {
	a.mu.Lock()
	defer a.mu.Unlock()

	a.acc = a.merge(a.acc, v)
	a.n++

	// Publish under the lock so snapshots appear in merge order.
	a.tail = a.tail.Publish(a.acc)

	if a.n == a.expected {
		close(a.done)
	}
}

// Updates returns the head of the stream of snapshots,
// one per delivery, starting from the first delivery.
func (a *Accumulator[T]) Updates() *tpubsub.Stream[T] {
	return a.head
}

// Current returns the latest merged result and the number of deliveries so far.
func (a *Accumulator[T]) Current() (T, int) {
	a.mu.Lock()
	defer a.mu.Unlock()
	return a.acc, a.n
}

// Done is closed once the expected number of deliveries have been merged.
func (a *Accumulator[T]) Done() <-chan struct{} {
	return a.done
}
