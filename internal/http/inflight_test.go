package http

import (
	"context"
	"testing"
	"time"
)

func TestInFlightTracker_BeginDone(t *testing.T) {
	var tr InFlightTracker
	done1 := tr.Begin()
	done2 := tr.Begin()
	if got := tr.Count(); got != 2 {
		t.Fatalf("Count() = %d, want 2", got)
	}
	done1()
	done1() // second call is a no-op
	if got := tr.Count(); got != 1 {
		t.Errorf("Count() = %d, want 1 after repeated done", got)
	}
	done2()
	if got := tr.Count(); got != 0 {
		t.Errorf("Count() = %d, want 0", got)
	}
}

func TestInFlightTracker_WaitForZero(t *testing.T) {
	var tr InFlightTracker
	done := tr.Begin()
	go func() {
		time.Sleep(20 * time.Millisecond)
		done()
	}()

	ctx, cancel := context.WithTimeout(context.Background(), time.Second)
	defer cancel()
	if err := tr.WaitForZero(ctx, 5*time.Millisecond); err != nil {
		t.Errorf("WaitForZero() error = %v", err)
	}
}

func TestInFlightTracker_WaitForZero_ContextCanceled(t *testing.T) {
	var tr InFlightTracker
	done := tr.Begin()
	defer done()

	ctx, cancel := context.WithTimeout(context.Background(), 20*time.Millisecond)
	defer cancel()
	if err := tr.WaitForZero(ctx, 5*time.Millisecond); err != context.DeadlineExceeded {
		t.Errorf("WaitForZero() error = %v, want DeadlineExceeded", err)
	}
}

func TestInFlightTracker_WaitForZero_DefaultInterval(t *testing.T) {
	var tr InFlightTracker
	if err := tr.WaitForZero(context.Background(), 0); err != nil {
		t.Errorf("WaitForZero() with nothing in flight = %v", err)
	}
}
