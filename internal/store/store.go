// Package store provides durable key-value storage with change notifications.
package store

import (
	"context"
	"encoding/json"
	"errors"
)

// ErrKeyNotFound is returned when a key has no stored value.
var ErrKeyNotFound = errors.New("key not found")

// Store is the interface for key-value storage backends.
// Values are JSON documents. Implementations: SQLiteStore (primary),
// MemoryStore (tests).
type Store interface {
	// Get returns the value stored under key, or ErrKeyNotFound.
	Get(ctx context.Context, key string) (json.RawMessage, error)

	// Set stores value under key, creating or replacing it, and notifies
	// subscribers of the change.
	Set(ctx context.Context, key string, value json.RawMessage) error

	// Delete removes key. Deleting an absent key is not an error.
	Delete(ctx context.Context, key string) error

	// Subscribe returns a channel that receives the new value every time
	// key changes. The channel is closed when the store is closed.
	// Slow subscribers may miss intermediate values but always receive
	// the latest one.
	Subscribe(key string) <-chan json.RawMessage

	// Lifecycle
	Close() error
}

// notifier implements in-process change notification fan-out.
// Cross-process notification is out of scope: a single coordinator
// process owns the store.
type notifier struct {
	subs map[string][]chan json.RawMessage
}

func newNotifier() *notifier {
	return &notifier{subs: make(map[string][]chan json.RawMessage)}
}

func (n *notifier) subscribe(key string) <-chan json.RawMessage {
	// Buffer of 1 with drop-oldest semantics: subscribers observe the
	// latest value, not every intermediate write.
	ch := make(chan json.RawMessage, 1)
	n.subs[key] = append(n.subs[key], ch)
	return ch
}

func (n *notifier) notify(key string, value json.RawMessage) {
	for _, ch := range n.subs[key] {
		select {
		case ch <- value:
		default:
			// Drop the stale value, replace with the newest
			select {
			case <-ch:
			default:
			}
			select {
			case ch <- value:
			default:
			}
		}
	}
}

func (n *notifier) closeAll() {
	for _, chans := range n.subs {
		for _, ch := range chans {
			close(ch)
		}
	}
	n.subs = make(map[string][]chan json.RawMessage)
}
