// Package async holds the building blocks screens use to coordinate remote
// fetches: a single-completion Result and a fan-in JoinCounter.
package async

import (
	"context"
	"fmt"
	"sync"

	apperrors "github.com/lorrc/carenet-sync/internal/core/errors"
)

// Result is an asynchronous operation that completes exactly once,
// with either a value or an error.
type Result[T any] struct {
	once      sync.Once
	done      chan struct{}
	mu        sync.Mutex
	value     T
	err       error
	callbacks []func(T, error)
}

func newResult[T any]() *Result[T] {
	return &Result[T]{done: make(chan struct{})}
}

// Go runs fn on its own goroutine and returns its Result.
// A panic inside fn completes the Result with ErrUnknown instead of crashing.
func Go[T any](ctx context.Context, fn func(ctx context.Context) (T, error)) *Result[T] {
	r := newResult[T]()
	go func() {
		defer func() {
			if p := recover(); p != nil {
				var zero T
				r.complete(zero, fmt.Errorf("%w: panic: %v", apperrors.ErrUnknown, p))
			}
		}()
		value, err := fn(ctx)
		r.complete(value, err)
	}()
	return r
}

// Resolved returns an already completed successful Result.
func Resolved[T any](value T) *Result[T] {
	r := newResult[T]()
	r.complete(value, nil)
	return r
}

// Failed returns an already completed failed Result.
func Failed[T any](err error) *Result[T] {
	r := newResult[T]()
	var zero T
	r.complete(zero, err)
	return r
}

func (r *Result[T]) complete(value T, err error) {
	r.once.Do(func() {
		r.mu.Lock()
		r.value, r.err = value, err
		callbacks := r.callbacks
		r.callbacks = nil
		close(r.done)
		r.mu.Unlock()

		for _, cb := range callbacks {
			cb(value, err)
		}
	})
}

// OnComplete registers cb to run once with the outcome. If the Result has
// already completed, cb runs immediately on the caller's goroutine.
func (r *Result[T]) OnComplete(cb func(T, error)) {
	r.mu.Lock()
	select {
	case <-r.done:
		value, err := r.value, r.err
		r.mu.Unlock()
		cb(value, err)
		return
	default:
	}
	r.callbacks = append(r.callbacks, cb)
	r.mu.Unlock()
}

// Done is closed once the Result has completed.
func (r *Result[T]) Done() <-chan struct{} {
	return r.done
}

// Await blocks until the Result completes or ctx is done.
func (r *Result[T]) Await(ctx context.Context) (T, error) {
	select {
	case <-r.done:
		r.mu.Lock()
		defer r.mu.Unlock()
		return r.value, r.err
	case <-ctx.Done():
		var zero T
		return zero, ctx.Err()
	}
}

// Then chains a second stage onto r. The returned Result fails with the
// first error from either stage.
func Then[T, U any](r *Result[T], next func(T) *Result[U]) *Result[U] {
	out := newResult[U]()
	r.OnComplete(func(value T, err error) {
		if err != nil {
			var zero U
			out.complete(zero, err)
			return
		}
		next(value).OnComplete(out.complete)
	})
	return out
}
