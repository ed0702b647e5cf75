package service

import (
	"context"
	"sync"
	"time"
)

// inFlightCall is one upstream request that several callers may be waiting on.
type inFlightCall[T any] struct {
	done    chan struct{}
	val     T
	err     error
	waiters int
}

// requestCoalescer collapses concurrent calls for the same key into one upstream request.
// The shared request runs detached from any single caller's cancellation, bounded by timeout.
type requestCoalescer[T any] struct {
	mu       sync.Mutex
	inFlight map[string]*inFlightCall[T]
	timeout  time.Duration
}

func newRequestCoalescer[T any](timeout time.Duration) *requestCoalescer[T] {
	return &requestCoalescer[T]{
		inFlight: make(map[string]*inFlightCall[T]),
		timeout:  timeout,
	}
}

// Do returns the result of fn for key, joining an in-flight call if there is one.
// shared reports whether this caller joined an existing call.
func (rc *requestCoalescer[T]) Do(ctx context.Context, key string, fn func(ctx context.Context) (T, error)) (val T, shared bool, err error) {
	rc.mu.Lock()
	call, exists := rc.inFlight[key]
	if exists {
		call.waiters++
		rc.mu.Unlock()
		val, err = rc.wait(ctx, call)
		return val, true, err
	}

	call = &inFlightCall[T]{done: make(chan struct{}), waiters: 1}
	rc.inFlight[key] = call
	rc.mu.Unlock()

	go func() {
		callCtx, cancel := context.WithTimeout(context.WithoutCancel(ctx), rc.timeout)
		defer cancel()
		call.val, call.err = fn(callCtx)

		rc.mu.Lock()
		delete(rc.inFlight, key)
		rc.mu.Unlock()
		close(call.done)
	}()

	val, err = rc.wait(ctx, call)
	return val, false, err
}

func (rc *requestCoalescer[T]) wait(ctx context.Context, call *inFlightCall[T]) (T, error) {
	select {
	case <-call.done:
		return call.val, call.err
	case <-ctx.Done():
		var zero T
		return zero, ctx.Err()
	}
}

// pending returns how many callers are attached to the in-flight call for key.
func (rc *requestCoalescer[T]) pending(key string) int {
	rc.mu.Lock()
	defer rc.mu.Unlock()
	if call, ok := rc.inFlight[key]; ok {
		return call.waiters
	}
	return 0
}
