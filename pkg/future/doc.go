// Package future provides a single-assignment asynchronous result and a
// wait-for-all combinator.
//
// A Future is settled at most once and notifies at most one listener. It is
// the unit of completion for dispatched actions: the HTTP transport combines
// the futures of one envelope with All and answers only after all of them
// settled.
//
//	f := future.New[int]()
//	go func() { f.Resolve(42) }()
//	v, err := f.Await(ctx)
package future
