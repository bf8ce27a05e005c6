// Package pubsub provides typed, subscribable event streams. Publishing never blocks:
// a subscriber whose buffer is full misses the message.
package pubsub

import (
	"context"
	"sync"
	"sync/atomic"
)

const defaultBuffer = 64

// Stream fans out published values to its subscribers.
type Stream[T any] struct {
	mu      sync.RWMutex
	subs    map[*Subscription[T]]struct{}
	buffer  int
	replay  bool
	last    T
	hasLast bool
	closed  bool
	dropped atomic.Int64
}

// Subscription is a single consumer of a Stream.
type Subscription[T any] struct {
	ch        chan T
	stream    *Stream[T]
	cancel    context.CancelFunc
	closeOnce sync.Once
}

// NewStream creates a stream that delivers only values published after Subscribe.
func NewStream[T any](buffer int) *Stream[T] {
	if buffer <= 0 {
		buffer = defaultBuffer
	}
	return &Stream[T]{subs: make(map[*Subscription[T]]struct{}), buffer: buffer}
}

// NewReplayStream creates a stream that hands the latest value to new subscribers.
func NewReplayStream[T any](buffer int) *Stream[T] {
	s := NewStream[T](buffer)
	s.replay = true
	return s
}

// Subscribe registers a consumer. The subscription ends when ctx is cancelled,
// Unsubscribe is called or the stream is closed.
func (s *Stream[T]) Subscribe(ctx context.Context) *Subscription[T] {
	subCtx, cancel := context.WithCancel(ctx)
	sub := &Subscription[T]{
		ch:     make(chan T, s.buffer),
		stream: s,
		cancel: cancel,
	}

	s.mu.Lock()
	if s.closed {
		s.mu.Unlock()
		cancel()
		sub.close()
		return sub
	}
	s.subs[sub] = struct{}{}
	if s.replay && s.hasLast {
		sub.ch <- s.last
	}
	s.mu.Unlock()

	go func() {
		<-subCtx.Done()
		sub.Unsubscribe()
	}()

	return sub
}

// Publish delivers v to every subscriber without blocking.
func (s *Stream[T]) Publish(v T) {
	s.mu.Lock()
	if s.closed {
		s.mu.Unlock()
		return
	}
	s.last = v
	s.hasLast = true
	subs := make([]*Subscription[T], 0, len(s.subs))
	for sub := range s.subs {
		subs = append(subs, sub)
	}
	s.mu.Unlock()

	for _, sub := range subs {
		sub.deliver(v, &s.dropped)
	}
}

// Latest returns the most recently published value.
func (s *Stream[T]) Latest() (T, bool) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.last, s.hasLast
}

func (s *Stream[T]) SubscriberCount() int {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return len(s.subs)
}

// Dropped counts messages that were skipped because a subscriber was full.
func (s *Stream[T]) Dropped() int64 {
	return s.dropped.Load()
}

// Close ends every subscription. Publishing afterwards is a no-op.
func (s *Stream[T]) Close() {
	s.mu.Lock()
	if s.closed {
		s.mu.Unlock()
		return
	}
	s.closed = true
	subs := s.subs
	s.subs = make(map[*Subscription[T]]struct{})
	s.mu.Unlock()

	for sub := range subs {
		sub.cancel()
		sub.close()
	}
}

// C returns the delivery channel; it is closed when the subscription ends.
func (sub *Subscription[T]) C() <-chan T {
	return sub.ch
}

func (sub *Subscription[T]) Unsubscribe() {
	s := sub.stream
	s.mu.Lock()
	delete(s.subs, sub)
	s.mu.Unlock()
	sub.cancel()
	sub.close()
}

func (sub *Subscription[T]) deliver(v T, dropped *atomic.Int64) {
	defer func() {
		// The channel may have been closed by a concurrent Unsubscribe.
		if recover() != nil {
			dropped.Add(1)
		}
	}()
	select {
	case sub.ch <- v:
	default:
		dropped.Add(1)
	}
}

func (sub *Subscription[T]) close() {
	sub.closeOnce.Do(func() {
		close(sub.ch)
	})
}
