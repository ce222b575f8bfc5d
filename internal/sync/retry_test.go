package sync

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/tarimpazar/agrisync/internal/remote"
)

func TestRetry_SucceedsFirstAttempt(t *testing.T) {
	calls := 0
	err := Retry(context.Background(), 3, func() error {
		calls++
		return nil
	})
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if calls != 1 {
		t.Errorf("called %d times, want 1", calls)
	}
}

func TestRetry_SucceedsSecondAttempt(t *testing.T) {
	sentinel := errors.New("transient")
	calls := 0
	err := Retry(context.Background(), 3, func() error {
		calls++
		if calls < 2 {
			return sentinel
		}
		return nil
	})
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if calls != 2 {
		t.Errorf("called %d times, want 2", calls)
	}
}

func TestRetry_AllAttemptsFail(t *testing.T) {
	fault := &remote.Fault{Kind: remote.Unreachable, Op: "fetch all"}
	calls := 0
	err := Retry(context.Background(), 2, func() error {
		calls++
		return fault
	})
	if err == nil {
		t.Fatal("expected error, got nil")
	}
	if calls != 2 {
		t.Errorf("called %d times, want 2", calls)
	}
	if remote.KindOf(err) != remote.Unreachable {
		t.Errorf("kind = %v, want unreachable: %v", remote.KindOf(err), err)
	}
}

func TestRetry_PermanentStopsImmediately(t *testing.T) {
	fault := &remote.Fault{Kind: remote.Unauthenticated, Op: "fetch all"}
	calls := 0
	err := Retry(context.Background(), 3, func() error {
		calls++
		return Permanent(fault)
	})
	if calls != 1 {
		t.Errorf("called %d times, want 1", calls)
	}
	if !errors.Is(err, fault) {
		t.Errorf("error = %v, want the fault itself", err)
	}
	if Permanent(nil) != nil {
		t.Error("Permanent(nil) should be nil")
	}
}

func TestRetry_ContextCancelledBeforeAttempt(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	calls := 0
	err := Retry(ctx, 3, func() error {
		calls++
		return nil
	})
	if err == nil {
		t.Fatal("expected error, got nil")
	}
	if calls != 0 {
		t.Errorf("called %d times, want 0 (context already cancelled)", calls)
	}
	if !errors.Is(err, context.Canceled) {
		t.Errorf("expected context.Canceled in chain, got: %v", err)
	}
}

func TestRetry_ContextCancelledDuringBackoff(t *testing.T) {
	ctx, cancel := context.WithTimeout(context.Background(), 50*time.Millisecond)
	defer cancel()

	calls := 0
	err := Retry(ctx, 10, func() error {
		calls++
		return errors.New("fail")
	})
	if err == nil {
		t.Fatal("expected error, got nil")
	}
	if calls < 1 || calls >= 10 {
		t.Errorf("calls = %d, expected between 1 and 9", calls)
	}
}

func TestBackoffDelay_Increases(t *testing.T) {
	// d0 in [250ms, 500ms), d1 in [500ms, 1s), d2 in [1s, 2s)
	if d := backoffDelay(0); d < 250*time.Millisecond || d >= 500*time.Millisecond {
		t.Errorf("d0 = %v, expected [250ms, 500ms)", d)
	}
	if d := backoffDelay(1); d < 500*time.Millisecond || d >= time.Second {
		t.Errorf("d1 = %v, expected [500ms, 1s)", d)
	}
	if d := backoffDelay(2); d < time.Second || d >= 2*time.Second {
		t.Errorf("d2 = %v, expected [1s, 2s)", d)
	}
}

func TestBackoffDelay_Capped(t *testing.T) {
	d := backoffDelay(10)
	if d >= maxDelay || d < maxDelay/2 {
		t.Errorf("delay = %v, expected [%v, %v)", d, maxDelay/2, maxDelay)
	}
}
