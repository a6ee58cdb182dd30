package future

import (
	"context"
	"errors"
	"sync"
)

// ErrListenerAttached is returned by Then when the future already has a listener.
var ErrListenerAttached = errors.New("future: listener already attached")

// Future is a single-assignment asynchronous result with at most one listener.
//
// The first call to Resolve or Reject wins; later calls report false and have
// no effect. A Future that is never settled stays pending forever: there is no
// built-in timeout.
type Future[T any] struct {
	mu       sync.Mutex
	done     chan struct{}
	settled  bool
	value    T
	err      error
	listener func(T, error)
}

// New returns a pending Future.
func New[T any]() *Future[T] {
	return &Future[T]{done: make(chan struct{})}
}

// Resolved returns a Future already settled with v.
func Resolved[T any](v T) *Future[T] {
	f := New[T]()
	f.Resolve(v)
	return f
}

// Rejected returns a Future already settled with err.
func Rejected[T any](err error) *Future[T] {
	f := New[T]()
	f.Reject(err)
	return f
}

// Resolve settles the future with v. It reports whether this call settled it.
func (f *Future[T]) Resolve(v T) bool {
	return f.settle(v, nil)
}

// Reject settles the future with err. It reports whether this call settled it.
func (f *Future[T]) Reject(err error) bool {
	var zero T
	return f.settle(zero, err)
}

func (f *Future[T]) settle(v T, err error) bool {
	f.mu.Lock()
	if f.settled {
		f.mu.Unlock()
		return false
	}
	f.settled = true
	f.value = v
	f.err = err
	listener := f.listener
	close(f.done)
	f.mu.Unlock()

	if listener != nil {
		listener(v, err)
	}
	return true
}

// Then attaches the single listener. If the future is already settled the
// listener runs immediately on the caller's goroutine, otherwise it runs on
// the goroutine that settles the future.
func (f *Future[T]) Then(fn func(T, error)) error {
	f.mu.Lock()
	if f.listener != nil {
		f.mu.Unlock()
		return ErrListenerAttached
	}
	f.listener = fn
	settled := f.settled
	v, err := f.value, f.err
	f.mu.Unlock()

	if settled {
		fn(v, err)
	}
	return nil
}

// Done returns a channel closed once the future settles.
func (f *Future[T]) Done() <-chan struct{} {
	return f.done
}

// Settled reports whether the future has a value or an error.
func (f *Future[T]) Settled() bool {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.settled
}

// Result returns the settled value and error. ok is false while pending.
func (f *Future[T]) Result() (v T, err error, ok bool) {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.value, f.err, f.settled
}

// Await blocks until the future settles or ctx is done.
func (f *Future[T]) Await(ctx context.Context) (T, error) {
	select {
	case <-f.done:
		v, err, _ := f.Result()
		return v, err
	case <-ctx.Done():
		var zero T
		return zero, ctx.Err()
	}
}
