// Package dispatch turns decoded client actions into listener calls.
//
// Both transports build a Call per action and hand it to Dispatcher.Dispatch,
// which returns a future resolved by the listener:
//
//	d := dispatch.New(dispatch.WithLogger(logger))
//	d.SetListener(func(r *dispatch.Request) {
//	    var in struct{ X int }
//	    if err := r.Bind(&in); err != nil {
//	        r.RespondStatus(dispatch.StatusError, err.Error())
//	        return
//	    }
//	    r.Respond(in)
//	})
//
// # Response Buffer
//
// A listener may pre-seed the answer to a different, later action with
// Request.Buffer. When that action arrives with parameters equal by JSON
// value, the buffered response is returned without calling the listener.
// Entries are consumed on use unless marked permanent.
//
// # Failure Semantics
//
// The listener runs on its own goroutine. A panic is recovered and logged,
// and the action's future is left unresolved; there is no timeout.
package dispatch
