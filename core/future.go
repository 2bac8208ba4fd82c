package core

import (
	"context"
	"time"
)

// DefaultWaitTimeout bounds Future.Wait.
const DefaultWaitTimeout = 60 * time.Second

// Future is the result of an operation running in the background.
type Future[T any] struct {
	done   chan struct{}
	value  T
	err    error
	cancel context.CancelFunc
}

// Async runs fn in a new goroutine and returns its future. The context passed
// to fn is cancelled by Future.Cancel or when fn returns.
func Async[T any](ctx context.Context, fn func(ctx context.Context) (T, error)) *Future[T] {
	ctx, cancel := context.WithCancel(ctx)
	f := &Future[T]{done: make(chan struct{}), cancel: cancel}
	go func() {
		defer close(f.done)
		defer cancel()
		f.value, f.err = fn(ctx)
	}()
	return f
}

// Completed returns an already completed future.
func Completed[T any](value T, err error) *Future[T] {
	f := &Future[T]{done: make(chan struct{}), value: value, err: err, cancel: func() {}}
	close(f.done)
	return f
}

// Done is closed when the future completes.
func (f *Future[T]) Done() <-chan struct{} {
	return f.done
}

// Cancel cancels the context of the running operation. Work that has not
// started yet will not start; the future completes with the operation's
// result, usually context.Canceled.
func (f *Future[T]) Cancel() {
	f.cancel()
}

// Await blocks until the future completes or ctx is done.
func (f *Future[T]) Await(ctx context.Context) (T, error) {
	select {
	case <-f.done:
		return f.value, f.err
	case <-ctx.Done():
		var zero T
		return zero, ctx.Err()
	}
}

// Wait blocks for at most DefaultWaitTimeout.
func (f *Future[T]) Wait() (T, error) {
	return f.WaitTimeout(DefaultWaitTimeout)
}

// WaitTimeout blocks until the future completes or the timeout elapses, in
// which case it returns a *TimeoutError and leaves the operation running.
func (f *Future[T]) WaitTimeout(timeout time.Duration) (T, error) {
	timer := time.NewTimer(timeout)
	defer timer.Stop()
	select {
	case <-f.done:
		return f.value, f.err
	case <-timer.C:
		var zero T
		return zero, &TimeoutError{After: timeout}
	}
}
