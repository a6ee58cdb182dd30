package future

import "sync"

// All returns a Future that settles once every input has settled.
//
// Values are reported in input order. If any input was rejected, the combined
// future is rejected with the first rejection in input order, but only after
// all inputs settled. All takes the listener slot of every input; an input that
// already has a listener rejects the combined future with ErrListenerAttached.
func All[T any](futures ...*Future[T]) *Future[[]T] {
	out := New[[]T]()
	if len(futures) == 0 {
		out.Resolve([]T{})
		return out
	}

	var (
		mu        sync.Mutex
		remaining = len(futures)
		values    = make([]T, len(futures))
		errs      = make([]error, len(futures))
	)

	finish := func() {
		for _, err := range errs {
			if err != nil {
				out.Reject(err)
				return
			}
		}
		out.Resolve(values)
	}

	for i, f := range futures {
		i := i
		err := f.Then(func(v T, err error) {
			mu.Lock()
			values[i] = v
			errs[i] = err
			remaining--
			last := remaining == 0
			mu.Unlock()

			if last {
				finish()
			}
		})
		if err != nil {
			out.Reject(err)
			return out
		}
	}
	return out
}
