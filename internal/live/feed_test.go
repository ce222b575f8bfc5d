package live

import (
	"context"
	"slices"
	"testing"
	"time"
)

func recv[T any](t *testing.T, ch <-chan T) T {
	t.Helper()
	select {
	case v, ok := <-ch:
		if !ok {
			t.Fatal("channel closed unexpectedly")
		}
		return v
	case <-time.After(2 * time.Second):
		t.Fatal("timed out waiting for value")
	}
	var zero T
	return zero
}

func TestFeed_ReplaysLatestToNewSubscriber(t *testing.T) {
	f := NewFeed[int](nil)
	f.Publish(1)
	f.Publish(2)

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	ch := f.Subscribe(ctx)
	if got := recv(t, ch); got != 2 {
		t.Errorf("first value = %d, want 2", got)
	}
}

func TestFeed_NoValueBeforeFirstPublish(t *testing.T) {
	f := NewFeed[string](nil)
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	ch := f.Subscribe(ctx)
	select {
	case v := <-ch:
		t.Fatalf("unexpected value %q before publish", v)
	default:
	}

	f.Publish("hello")
	if got := recv(t, ch); got != "hello" {
		t.Errorf("got %q, want hello", got)
	}
}

func TestFeed_SlowSubscriberConverges(t *testing.T) {
	f := NewFeed[int](nil)
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	ch := f.Subscribe(ctx)
	for i := 1; i <= 100; i++ {
		f.Publish(i) // must never block
	}
	if got := recv(t, ch); got != 100 {
		t.Errorf("slow subscriber got %d, want latest 100", got)
	}
}

func TestFeed_CloneGivesIndependentCopies(t *testing.T) {
	f := NewFeed(func(s []int) []int { return slices.Clone(s) })
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	a := f.Subscribe(ctx)
	b := f.Subscribe(ctx)
	f.Publish([]int{1, 2, 3})

	va := recv(t, a)
	vb := recv(t, b)
	va[0] = 99
	if vb[0] != 1 {
		t.Error("subscribers share the same backing array")
	}
	latest, _ := f.Latest()
	if latest[0] != 1 {
		t.Error("subscriber mutation leaked into the feed")
	}
}

func TestFeed_UnsubscribeOnCancel(t *testing.T) {
	f := NewFeed[int](nil)
	ctx, cancel := context.WithCancel(context.Background())

	ch := f.Subscribe(ctx)
	if n := f.Subscribers(); n != 1 {
		t.Fatalf("Subscribers = %d, want 1", n)
	}
	cancel()

	deadline := time.Now().Add(2 * time.Second)
	for f.Subscribers() != 0 {
		if time.Now().After(deadline) {
			t.Fatal("subscriber not removed after cancel")
		}
		time.Sleep(5 * time.Millisecond)
	}
	if _, ok := <-ch; ok {
		t.Error("channel should be closed after cancel")
	}

	f.Publish(1) // no subscribers, must not panic
}

func TestFeed_Close(t *testing.T) {
	f := NewFeed[int](nil)
	ch := f.Subscribe(context.Background())
	f.Close()
	if _, ok := <-ch; ok {
		t.Error("channel should be closed after Close")
	}
	late := f.Subscribe(context.Background())
	if _, ok := <-late; ok {
		t.Error("subscribing to a closed feed should yield a closed channel")
	}
}
