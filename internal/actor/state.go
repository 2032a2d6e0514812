package actor

import (
	"context"
	"encoding/json"
	"fmt"
)

// Store persists one JSON record per (actor, key).
type Store interface {
	Get(ctx context.Context, actorID ID, key string) ([]byte, bool, error)
	Put(ctx context.Context, actorID ID, key string, value []byte) error
}

// State wraps one logical record of an actor's durable storage. The cache is
// safe because the host delivers calls to an instance one at a time.
type State[T any] struct {
	store   Store
	actorID ID
	key     string
	cached  *T
}

// NewState binds a typed state record to a store.
func NewState[T any](store Store, actorID ID, key string) *State[T] {
	return &State[T]{store: store, actorID: actorID, key: key}
}

// Get returns the current value, loading it on first access. ok is false
// when the record has never been written.
func (s *State[T]) Get(ctx context.Context) (T, bool, error) {
	var zero T
	if s.cached != nil {
		return *s.cached, true, nil
	}
	raw, ok, err := s.store.Get(ctx, s.actorID, s.key)
	if err != nil {
		return zero, false, fmt.Errorf("load state %s/%s: %w", s.actorID, s.key, err)
	}
	if !ok {
		return zero, false, nil
	}
	var v T
	if err := json.Unmarshal(raw, &v); err != nil {
		return zero, false, fmt.Errorf("decode state %s/%s: %w", s.actorID, s.key, err)
	}
	s.cached = &v
	return v, true, nil
}

// Set writes a new value. On a failed write the cache is dropped so the
// next Get reloads whatever the store actually holds: Update callers may
// have mutated the previous value in place, and serving that mutation
// would diverge from the durable record.
func (s *State[T]) Set(ctx context.Context, v T) error {
	raw, err := json.Marshal(v)
	if err != nil {
		s.cached = nil
		return fmt.Errorf("encode state %s/%s: %w", s.actorID, s.key, err)
	}
	if err := s.store.Put(ctx, s.actorID, s.key, raw); err != nil {
		s.cached = nil
		return fmt.Errorf("persist state %s/%s: %w", s.actorID, s.key, err)
	}
	s.cached = &v
	return nil
}

// Update applies fn to the current value and persists the result as a
// single durable write. Safe as a read-modify-write because the actor
// processes one call at a time.
func (s *State[T]) Update(ctx context.Context, fn func(T) (T, error)) (T, error) {
	var zero T
	current, _, err := s.Get(ctx)
	if err != nil {
		return zero, err
	}
	updated, err := fn(current)
	if err != nil {
		return zero, err
	}
	if err := s.Set(ctx, updated); err != nil {
		return zero, err
	}
	return updated, nil
}

// InitializeIfAbsent writes def when no record exists and returns the
// stored value either way.
func (s *State[T]) InitializeIfAbsent(ctx context.Context, def T) (T, error) {
	current, ok, err := s.Get(ctx)
	if err != nil {
		return def, err
	}
	if ok {
		return current, nil
	}
	if err := s.Set(ctx, def); err != nil {
		return def, err
	}
	return def, nil
}
