// Package index implements the global singleton actor holding the
// denormalized form summaries. It is eventually consistent: entries arrive
// after the owning entity actor has already committed, and a lost
// notification leaves a stale entry until the next status change.
package index

import (
	"context"
	"encoding/json"
	"fmt"
	"log"
	"time"

	"cseflow/internal/actor"
	"cseflow/internal/domain"
	"cseflow/internal/events"
)

const stateKey = "index"

// ActorID returns the identity of the single global index actor.
func ActorID() actor.ID {
	return "global-index"
}

// Actor maintains the client id -> IndexEntry map.
type Actor struct {
	state  *actor.State[map[string]domain.IndexEntry]
	mux    actor.Mux
	events events.Writer
	logger *log.Logger
	now    func() time.Time
}

type Options struct {
	Store  actor.Store
	Events events.Writer
	Logger *log.Logger
	Now    func() time.Time
}

func New(opts Options) *Actor {
	a := &Actor{
		state:  actor.NewState[map[string]domain.IndexEntry](opts.Store, ActorID(), stateKey),
		events: opts.Events,
		logger: opts.Logger,
		now:    opts.Now,
	}
	if a.logger == nil {
		a.logger = log.Default()
	}
	if a.now == nil {
		a.now = time.Now
	}
	a.mux.Handle("POST", "/index/update", a.handleUpdate)
	a.mux.Handle("GET", "/index/forms-by-status", a.handleFormsByStatus)
	return a
}

func (a *Actor) Dispatch(ctx context.Context, req actor.Request) (any, error) {
	return a.mux.Dispatch(ctx, req)
}

// Update upserts the entry for entry.ClientID. Last write wins, full
// overwrite, no merge.
func (a *Actor) Update(ctx context.Context, entry domain.IndexEntry) error {
	if entry.ClientID == "" {
		return &domain.ValidationError{Fields: map[string]string{"client_id": "required"}}
	}
	_, err := a.state.Update(ctx, func(m map[string]domain.IndexEntry) (map[string]domain.IndexEntry, error) {
		if m == nil {
			m = map[string]domain.IndexEntry{}
		}
		m[entry.ClientID] = entry
		return m, nil
	})
	if err != nil {
		return err
	}
	if a.events.DB != nil {
		if err := a.events.Append(ctx, string(ActorID()), events.IndexUpdated, "", events.Detail{"client_id": entry.ClientID, "status": entry.Status}); err != nil {
			a.logger.Printf("audit append failed for index: %v", err)
		}
	}
	return nil
}

// FormsByStatus scans the index and returns entries with an exact status
// match, in no particular order.
func (a *Actor) FormsByStatus(ctx context.Context, status domain.FormStatus) ([]domain.IndexEntry, error) {
	if !status.Valid() {
		return nil, &domain.ValidationError{Fields: map[string]string{"status": fmt.Sprintf("unknown form status %q", status)}}
	}
	m, _, err := a.state.Get(ctx)
	if err != nil {
		return nil, err
	}
	entries := []domain.IndexEntry{}
	for _, e := range m {
		if e.Status == status {
			entries = append(entries, e)
		}
	}
	return entries, nil
}

// Entry returns the summary for one client, if indexed.
func (a *Actor) Entry(ctx context.Context, clientID string) (domain.IndexEntry, bool, error) {
	m, _, err := a.state.Get(ctx)
	if err != nil {
		return domain.IndexEntry{}, false, err
	}
	e, ok := m[clientID]
	return e, ok, nil
}

func (a *Actor) handleUpdate(ctx context.Context, req actor.Request) (any, error) {
	var entry domain.IndexEntry
	if err := json.Unmarshal(req.Body, &entry); err != nil {
		return nil, &domain.ValidationError{Fields: map[string]string{"body": err.Error()}}
	}
	if err := a.Update(ctx, entry); err != nil {
		return nil, err
	}
	return map[string]bool{"ok": true}, nil
}

func (a *Actor) handleFormsByStatus(ctx context.Context, req actor.Request) (any, error) {
	return a.FormsByStatus(ctx, domain.FormStatus(req.Params["status"]))
}
