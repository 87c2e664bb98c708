package mysync

import (
	"context"
)

// Future is the eventual result of a computation running in its own goroutine.
type Future[T any] struct {
	done   chan struct{}
	cancel context.CancelFunc

	// Written once before done is closed.
	res T
	err error
}

// NewFuture starts fn in a new goroutine. The context passed to fn is cancelled when the future is cancelled or ctx
// is done.
func NewFuture[T any](ctx context.Context, fn func(ctx context.Context) (T, error)) *Future[T] {
	ctx, cancel := context.WithCancel(ctx)
	ft := &Future[T]{
		done:   make(chan struct{}),
		cancel: cancel,
	}
	go func() {
		defer cancel()
		res, err := fn(ctx)
		ft.res, ft.err = res, err
		close(ft.done)
	}()
	return ft
}

// Immediate returns a future that is already resolved.
func Immediate[T any](value T) *Future[T] {
	ft := &Future[T]{
		done:   make(chan struct{}),
		cancel: func() {},
		res:    value,
	}
	close(ft.done)
	return ft
}

// Done returns a channel that is closed once the result is available.
func (ft *Future[T]) Done() <-chan struct{} { return ft.done }

// Cancel asks the computation to stop. The future still resolves, usually with the computation's context error.
func (ft *Future[T]) Cancel() { ft.cancel() }

// Result returns the result without blocking. ok is false if the computation hasn't finished yet.
func (ft *Future[T]) Result() (res T, ok bool) {
	select {
	case <-ft.done:
		return ft.res, true
	default:
		return *new(T), false
	}
}

// Err returns the computation's error, or nil if it hasn't finished yet.
func (ft *Future[T]) Err() error {
	select {
	case <-ft.done:
		return ft.err
	default:
		return nil
	}
}

// Wait blocks until the result is available or ctx is done.
func (ft *Future[T]) Wait(ctx context.Context) (T, error) {
	select {
	case <-ft.done:
		return ft.res, ft.err
	case <-ctx.Done():
		return *new(T), ctx.Err()
	}
}
