// Package akashic is the append-only event store. Every state transition in
// the hive is recorded here as a hash-chained event; all read models are
// rebuilt by replaying a scope's stream in append order.
package akashic

import (
	"context"
	"errors"

	"apiary/internal/event"
)

var (
	// ErrNotFound is returned for lookups of events that were never appended.
	ErrNotFound = errors.New("not found")
	// ErrChainBroken is returned when a pre-sealed event does not extend the
	// scope's chain tail.
	ErrChainBroken = errors.New("event does not extend scope chain")
)

// Store is the Akashic Record contract. Append is the only mutating
// operation. Within a scope, append order is authoritative and equals replay
// order; across scopes no ordering is guaranteed.
type Store interface {
	// Append persists the event under scopeID. An unsealed event is chained
	// (prev_hash set to the scope tail) and sealed atomically with the
	// append; a sealed event must verify and must already extend the tail.
	Append(ctx context.Context, scopeID string, e *event.Event) error

	// Replay returns all events appended under scopeID in append order.
	// A scope with no events yields an empty slice, not an error.
	Replay(ctx context.Context, scopeID string) ([]*event.Event, error)

	// ListScopes enumerates every scope id with at least one event.
	ListScopes(ctx context.Context) ([]string, error)

	// TailHash returns the hash of the last event in the scope's chain, or
	// empty when the scope has no events.
	TailHash(ctx context.Context, scopeID string) (string, error)
}

// prepareForAppend chains and seals an incoming event against the given tail
// hash, or verifies a pre-sealed event against it. Shared by all backends.
func prepareForAppend(e *event.Event, tail string) error {
	if !e.Sealed() {
		e.PrevHash = tail
		return e.Seal()
	}
	if err := e.Verify(); err != nil {
		return err
	}
	if e.PrevHash != tail {
		return ErrChainBroken
	}
	return nil
}
