package pubsub

import (
	"context"
	"testing"
	"time"
)

func receive[T any](t *testing.T, sub *Subscription[T]) T {
	t.Helper()
	select {
	case v, ok := <-sub.C():
		if !ok {
			t.Fatalf("expected value, channel closed")
		}
		return v
	case <-time.After(time.Second):
		t.Fatalf("timed out waiting for value")
	}
	var zero T
	return zero
}

func TestStream_PublishReachesAllSubscribers(t *testing.T) {
	s := NewStream[int](4)
	ctx := context.Background()
	a := s.Subscribe(ctx)
	b := s.Subscribe(ctx)

	s.Publish(7)

	if got := receive(t, a); got != 7 {
		t.Fatalf("expected 7, got %d", got)
	}
	if got := receive(t, b); got != 7 {
		t.Fatalf("expected 7, got %d", got)
	}
}

func TestStream_FullSubscriberDropsInsteadOfBlocking(t *testing.T) {
	s := NewStream[int](1)
	sub := s.Subscribe(context.Background())

	s.Publish(1)
	s.Publish(2)

	if got := receive(t, sub); got != 1 {
		t.Fatalf("expected first value, got %d", got)
	}
	if s.Dropped() != 1 {
		t.Fatalf("expected 1 dropped message, got %d", s.Dropped())
	}
}

func TestReplayStream_NewSubscriberGetsLatest(t *testing.T) {
	s := NewReplayStream[bool](2)
	s.Publish(false)
	s.Publish(true)

	sub := s.Subscribe(context.Background())
	if got := receive(t, sub); !got {
		t.Fatalf("expected replayed true")
	}
	if v, ok := s.Latest(); !ok || !v {
		t.Fatalf("expected Latest to be true")
	}
}

func TestStream_ContextCancelUnsubscribes(t *testing.T) {
	s := NewStream[string](1)
	ctx, cancel := context.WithCancel(context.Background())
	sub := s.Subscribe(ctx)
	cancel()

	select {
	case _, ok := <-sub.C():
		if ok {
			t.Fatalf("expected closed channel")
		}
	case <-time.After(time.Second):
		t.Fatalf("expected subscription to end after cancel")
	}
	if n := s.SubscriberCount(); n != 0 {
		t.Fatalf("expected 0 subscribers, got %d", n)
	}
}

func TestStream_CloseEndsSubscriptions(t *testing.T) {
	s := NewStream[int](1)
	sub := s.Subscribe(context.Background())
	s.Close()
	s.Publish(1)

	if _, ok := <-sub.C(); ok {
		t.Fatalf("expected channel closed after Close")
	}
	late := s.Subscribe(context.Background())
	if _, ok := <-late.C(); ok {
		t.Fatalf("expected subscription on closed stream to be closed")
	}
}
