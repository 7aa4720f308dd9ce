package tpubsub

// Stream is a linked list of event-driven values.
// The list has a single writer and many readers.
// Readers can each consume the list at their own pace.
//
// If readers do not actively consume the list,
// the node they observe will never be garbage collected,
// which is a memory leak.
type Stream[T any] struct {
	Ready chan struct{}
	Next  *Stream[T]
	Val   T
}

// NewStream returns an initialized pubsub stream.
func NewStream[T any]() *Stream[T] {
	return &Stream[T]{
		Ready: make(chan struct{}),
	}
}

// Publish assigns s's value and initializes s.Next.
// Then s.Ready is closed, notifying any observers that
// s.Val can now be safely read.
//
// Publish returns s.Next so that a publisher can keep
// a single "tail" reference with:
//
//	tail = tail.Publish(v)
//
// If Publish is called twice for the same s, Publish panics.
func (s *Stream[T]) Publish(t T) *Stream[T] {
	s.Val = t
	s.Next = NewStream[T]()
	close(s.Ready)
	return s.Next
}

// Latest follows s through every value that is already published,
// without blocking.
// It returns the node to wait on next,
// the most recent published value,
// and whether any value was published at all.
func Latest[T any](s *Stream[T]) (next *Stream[T], val T, ok bool) {
	for {
		select {
		case <-s.Ready:
			val = s.Val
			ok = true
			s = s.Next
		default:
			return s, val, ok
		}
	}
}
