package mpubsub

import "context"

// Stream is one node of a linked list of published values.
//
// Ready is closed once Val and Next have been assigned.
// A follower holding a *Stream keeps every later node reachable,
// so followers that stop reading must drop their reference.
type Stream[T any] struct {
	Ready chan struct{}
	Next  *Stream[T]
	Val   T
}

// NewStream returns an unpublished stream node.
func NewStream[T any]() *Stream[T] {
	return &Stream[T]{
		Ready: make(chan struct{}),
	}
}

// Publish assigns s's value, allocates s.Next, and closes s.Ready.
// It returns s.Next, which is the node the publisher must use next.
//
// Publishing to the same node twice panics.
func (s *Stream[T]) Publish(t T) *Stream[T] {
	s.Val = t
	s.Next = NewStream[T]()
	close(s.Ready)
	return s.Next
}

// Follow calls fn for every value published on s, in order,
// until ctx is canceled or fn returns a non-nil error.
//
// Follow returns the first unconsumed node,
// so a caller may resume following later,
// along with the error that stopped it.
func Follow[T any](
	ctx context.Context, s *Stream[T], fn func(T) error,
) (*Stream[T], error) {
	for {
		select {
		case <-ctx.Done():
			return s, context.Cause(ctx)
		case <-s.Ready:
			if err := fn(s.Val); err != nil {
				return s, err
			}
			s = s.Next
		}
	}
}
