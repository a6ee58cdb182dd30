package dispatch

import (
	"encoding/json"
	"fmt"
	"maps"
	"sync"

	jsonpatch "github.com/evanphx/json-patch"
)

// BufferEntry is a pre-seeded response for one action name. It is also the
// shape of the buffer hints sent to clients.
type BufferEntry struct {
	Parameters  json.RawMessage `json:"parameters"`
	Response    any             `json:"response"`
	IsPermanent bool            `json:"isPermanent"`
}

// Buffer maps action names to pre-seeded responses. A later dispatch of the
// same action with parameters equal by JSON value is answered from the
// buffer without invoking the listener.
type Buffer struct {
	mu      sync.Mutex
	entries map[string]BufferEntry
}

// NewBuffer creates an empty buffer.
func NewBuffer() *Buffer {
	return &Buffer{entries: make(map[string]BufferEntry)}
}

var emptyObject = json.RawMessage("{}")

// normalizeParams re-encodes raw so that numbers spelled differently
// (1, 1.0, 1e0) compare equal. Missing or null parameters become {}.
func normalizeParams(raw json.RawMessage) json.RawMessage {
	if len(raw) == 0 || string(raw) == "null" {
		return emptyObject
	}
	var v any
	if err := json.Unmarshal(raw, &v); err != nil {
		return raw
	}
	canonical, err := json.Marshal(v)
	if err != nil {
		return raw
	}
	return canonical
}

// Seed stores response for action when called with params. Missing params
// and a nil response both default to an empty object.
func (b *Buffer) Seed(action string, params, response any, permanent bool) error {
	var raw json.RawMessage
	switch p := params.(type) {
	case nil:
	case json.RawMessage:
		raw = p
	case []byte:
		raw = p
	default:
		encoded, err := json.Marshal(p)
		if err != nil {
			return fmt.Errorf("dispatch: buffer %q parameters: %w", action, err)
		}
		raw = encoded
	}
	if response == nil {
		response = map[string]any{}
	}

	b.mu.Lock()
	b.entries[action] = BufferEntry{
		Parameters:  normalizeParams(raw),
		Response:    response,
		IsPermanent: permanent,
	}
	b.mu.Unlock()
	return nil
}

// Take returns the buffered response for action if its parameters equal
// params. Non-permanent entries are removed on a hit.
func (b *Buffer) Take(action string, params json.RawMessage) (any, bool) {
	b.mu.Lock()
	defer b.mu.Unlock()

	entry, ok := b.entries[action]
	if !ok {
		return nil, false
	}
	if !jsonpatch.Equal(entry.Parameters, normalizeParams(params)) {
		return nil, false
	}
	if !entry.IsPermanent {
		delete(b.entries, action)
	}
	return entry.Response, true
}

// Snapshot returns a copy of all entries, or nil when empty.
func (b *Buffer) Snapshot() map[string]BufferEntry {
	b.mu.Lock()
	defer b.mu.Unlock()
	if len(b.entries) == 0 {
		return nil
	}
	return maps.Clone(b.entries)
}

// Len returns the number of entries.
func (b *Buffer) Len() int {
	b.mu.Lock()
	defer b.mu.Unlock()
	return len(b.entries)
}
