// Package session issues and tracks the session ids shared by both
// transports.
//
// HTTP sessions are id → expiry, renewed by Validate on every poll. A stale
// id is released and replaced:
//
//	id, issued := reg.Validate(envelope.SessionID)
//
// WebSocket sessions bind an id to exactly one live connection. Binding an
// id that another connection owns returns that connection for eviction, so
// an id never silently migrates:
//
//	id, evicted := reg.Bind(frame.SessionID, conn)
//	if evicted != nil {
//	    evicted.Close()
//	}
//	defer reg.Unbind(id, conn)
//
// Both kinds carry group memberships used to scope broadcasts.
package session
