// Package server is the network-facing worker: one listener serving static
// files, the POST envelope endpoint and WebSocket connections.
//
// # HTTP
//
// GET requests are answered from the alias set (the bundled client helper
// lives at /servermanager.js) or from files under the web root, with the
// default file substituted for directory paths. Unreadable paths are 404.
//
// POST / accepts an envelope:
//
//	{"sessionId": "...", "actions": [{"requestId": "1", "action": "echo", "parameters": {}}]}
//
// Every action is dispatched in parallel. The reply is written once all of
// them settled:
//
//	{"sessionId": "...", "responses": {"1": {"status": "ok", "data": {}}}, "buffer": {...}}
//
// Pending broadcasts for the session are merged into responses keyed by
// their tag. Bodies over the size limit get 413 and malformed envelopes get
// 400; both close the connection. Other methods get 405.
//
// # WebSocket
//
// Each text frame carries one action. The first valid frame binds the
// connection to a session; a newer connection presenting the same session
// id evicts the older one. Responses and broadcasts are written as frames:
//
//	{"requestId": "1", "sessionId": "...", "status": "ok", "data": {}}
//
// Oversized or invalid frames terminate the connection.
package server
