package authsession

import (
	"context"
	"sync"
)

// flight deduplicates concurrent invocations of one operation into a single
// execution. While a call is in flight, every caller joins it and receives
// the same result; no second execution is started. This is the primitive
// behind the at-most-one-concurrent-refresh guarantee, and profile fetches
// deduplicate through it identically.
//
// The operation runs detached from the first caller's context: a caller that
// gives up waiting does not cancel the result for everyone else who joined.
type flight[T any] struct {
	mu  sync.Mutex
	cur *flightCall[T]
}

type flightCall[T any] struct {
	done chan struct{}
	val  T
	err  error
}

// Do executes fn, or joins the in-flight execution if one exists. The second
// return value reports whether this caller joined an existing call rather
// than starting one.
func (f *flight[T]) Do(ctx context.Context, fn func(context.Context) (T, error)) (T, bool, error) {
	f.mu.Lock()
	if c := f.cur; c != nil {
		f.mu.Unlock()
		return wait(ctx, c)
	}

	c := &flightCall[T]{done: make(chan struct{})}
	f.cur = c
	f.mu.Unlock()

	go func() {
		c.val, c.err = fn(context.WithoutCancel(ctx))

		// Drop the handle before signalling completion so a caller arriving
		// after close always starts a fresh call.
		f.mu.Lock()
		f.cur = nil
		f.mu.Unlock()
		close(c.done)
	}()

	v, _, err := wait(ctx, c)
	return v, false, err
}

// Join waits for the in-flight call, if any. The second return value reports
// whether there was one to join.
func (f *flight[T]) Join(ctx context.Context) (T, bool, error) {
	f.mu.Lock()
	c := f.cur
	f.mu.Unlock()
	if c == nil {
		var zero T
		return zero, false, nil
	}
	v, _, err := wait(ctx, c)
	return v, true, err
}

// InFlight reports whether a call is currently executing.
func (f *flight[T]) InFlight() bool {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.cur != nil
}

func wait[T any](ctx context.Context, c *flightCall[T]) (T, bool, error) {
	select {
	case <-c.done:
		return c.val, true, c.err
	case <-ctx.Done():
		var zero T
		return zero, true, ctx.Err()
	}
}
