// Package store backs actor state with a SQLite records table.
package store

import (
	"context"
	"database/sql"
	"time"

	"cseflow/internal/actor"
)

// SQLStore implements actor.Store on a records table keyed by
// (actor_id, key).
type SQLStore struct {
	db *sql.DB

	// Now is injectable for tests.
	Now func() time.Time
}

func New(db *sql.DB) *SQLStore {
	return &SQLStore{db: db, Now: time.Now}
}

func (s *SQLStore) Get(ctx context.Context, actorID actor.ID, key string) ([]byte, bool, error) {
	var value string
	err := s.db.QueryRowContext(ctx,
		`SELECT value_json FROM records WHERE actor_id=? AND key=?`,
		string(actorID), key).Scan(&value)
	if err == sql.ErrNoRows {
		return nil, false, nil
	}
	if err != nil {
		return nil, false, err
	}
	return []byte(value), true, nil
}

func (s *SQLStore) Put(ctx context.Context, actorID actor.ID, key string, value []byte) error {
	_, err := s.db.ExecContext(ctx,
		`INSERT INTO records(actor_id, key, value_json, updated_at) VALUES (?,?,?,?)
		 ON CONFLICT(actor_id, key) DO UPDATE SET value_json=excluded.value_json, updated_at=excluded.updated_at`,
		string(actorID), key, string(value), s.Now().UTC().Format(time.RFC3339Nano))
	return err
}
