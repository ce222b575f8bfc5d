// Package live provides a conflating broadcast feed: every subscriber first
// receives the latest published value, then each subsequent one. A slow
// subscriber never blocks the publisher; values it has not consumed yet are
// replaced by newer ones, so it always converges on the latest value.
package live

import (
	"context"
	"sync"
)

// Feed broadcasts values of type T to any number of subscribers. The zero
// value is not usable; create one with [NewFeed].
type Feed[T any] struct {
	mu     sync.Mutex
	latest T
	has    bool
	subs   map[*subscriber[T]]struct{}
	clone  func(T) T
	closed bool
	done   chan struct{}
}

type subscriber[T any] struct {
	ch chan T
}

// NewFeed creates an empty Feed. If clone is non-nil every subscriber gets
// its own copy of each value, so no two readers share mutable state.
func NewFeed[T any](clone func(T) T) *Feed[T] {
	return &Feed[T]{
		subs:  make(map[*subscriber[T]]struct{}),
		clone: clone,
		done:  make(chan struct{}),
	}
}

// Publish stores v as the latest value and delivers it to every subscriber.
// It returns once v is queued for all of them.
func (f *Feed[T]) Publish(v T) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.closed {
		return
	}
	f.latest = v
	f.has = true
	for s := range f.subs {
		f.deliver(s, v)
	}
}

// deliver must be called with f.mu held. Only deliver sends on s.ch, so
// draining a pending value and sending the new one cannot race.
func (f *Feed[T]) deliver(s *subscriber[T], v T) {
	if f.clone != nil {
		v = f.clone(v)
	}
	select {
	case s.ch <- v:
		return
	default:
	}
	select {
	case <-s.ch:
	default:
	}
	s.ch <- v
}

// Latest returns the most recently published value and whether one exists.
func (f *Feed[T]) Latest() (T, bool) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.has && f.clone != nil {
		return f.clone(f.latest), true
	}
	return f.latest, f.has
}

// Subscribe registers a new subscriber. The returned channel yields the
// latest value immediately (if any) and is closed when ctx is done or the
// feed is closed.
func (f *Feed[T]) Subscribe(ctx context.Context) <-chan T {
	s := &subscriber[T]{ch: make(chan T, 1)}

	f.mu.Lock()
	if f.closed {
		f.mu.Unlock()
		close(s.ch)
		return s.ch
	}
	f.subs[s] = struct{}{}
	if f.has {
		f.deliver(s, f.latest)
	}
	f.mu.Unlock()

	go func() {
		select {
		case <-ctx.Done():
		case <-f.done:
			return
		}
		f.mu.Lock()
		defer f.mu.Unlock()
		if _, ok := f.subs[s]; ok {
			delete(f.subs, s)
			close(s.ch)
		}
	}()
	return s.ch
}

// Subscribers returns the number of active subscribers.
func (f *Feed[T]) Subscribers() int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return len(f.subs)
}

// Close closes every subscriber channel. Later Publish calls are ignored.
func (f *Feed[T]) Close() {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.closed {
		return
	}
	f.closed = true
	close(f.done)
	for s := range f.subs {
		delete(f.subs, s)
		close(s.ch)
	}
}
