// Package kv provides durable key-value storage for catchat client state.
//
// The rest of the application only depends on the Store interface; values are
// JSON-serialized by the backends. Two durable backends are provided: a
// file-per-key JSON store (the default) and a single-file SQLite store. A
// memory store exists for tests.
package kv

import "errors"

// Well-known keys used by the application.
const (
	// KeyClientIdentity holds the opaque client identity token.
	KeyClientIdentity = "client-identity"
	// KeyCurrentSession holds the id of the active conversation session.
	KeyCurrentSession = "current-session"
	// KeySessionList holds the full JSON-serialized session list.
	KeySessionList = "session-list"
)

// ErrNotFound is returned when a key has no stored value.
var ErrNotFound = errors.New("key not found")

// Store is a durable key-value store.
//
// Get unmarshals the stored value into v (a pointer); it returns ErrNotFound
// when the key has never been set. Set marshals v and persists it with
// last-writer-wins semantics; there are no transactional guarantees across
// keys.
type Store interface {
	Get(key string, v any) error
	Set(key string, v any) error
	Close() error
}
