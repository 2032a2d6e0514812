// Package app wires the runtime: database, actor hosts, index notifier,
// and the post-approval queue.
package app

import (
	"context"
	"database/sql"
	"encoding/json"
	"log"
	"strings"
	"time"

	"cseflow/internal/actor"
	"cseflow/internal/config"
	"cseflow/internal/db"
	"cseflow/internal/dispatch"
	"cseflow/internal/domain"
	"cseflow/internal/events"
	"cseflow/internal/form"
	"cseflow/internal/index"
	"cseflow/internal/migrate"
	"cseflow/internal/store"
)

// App holds the assembled runtime shared by the HTTP server and the CLI.
type App struct {
	Config *config.Config
	DB     *sql.DB
	Store  *store.SQLStore
	Events events.Writer
	Forms  *actor.Host
	Index  *actor.Host
	Queue  dispatch.Queue
	Logger *log.Logger
	Now    func() time.Time
}

type Options struct {
	Queue  dispatch.Queue
	Logger *log.Logger
	Now    func() time.Time
}

// New opens the workspace database, applies migrations, and builds the
// actor hosts.
func New(cfg *config.Config, opts Options) (*App, error) {
	conn, err := db.Open(db.Config{Workspace: cfg.Workspace})
	if err != nil {
		return nil, err
	}
	if err := migrate.Migrate(conn); err != nil {
		conn.Close()
		return nil, err
	}
	return build(cfg, conn, opts), nil
}

// NewWithDB builds an App on an already-migrated database. Used by tests.
func NewWithDB(cfg *config.Config, conn *sql.DB, opts Options) *App {
	return build(cfg, conn, opts)
}

func build(cfg *config.Config, conn *sql.DB, opts Options) *App {
	a := &App{
		Config: cfg,
		DB:     conn,
		Queue:  opts.Queue,
		Logger: opts.Logger,
		Now:    opts.Now,
	}
	if a.Logger == nil {
		a.Logger = log.Default()
	}
	if a.Now == nil {
		a.Now = time.Now
	}
	if a.Queue == nil {
		a.Queue = dispatch.LogQueue{Logger: a.Logger}
	}
	a.Store = store.New(conn)
	a.Store.Now = a.Now
	a.Events = events.Writer{DB: conn, Now: a.Now}

	a.Index = actor.NewHost(func(actor.ID) actor.Actor {
		return index.New(index.Options{
			Store:  a.Store,
			Events: a.Events,
			Logger: a.Logger,
			Now:    a.Now,
		})
	})
	a.Forms = actor.NewHost(func(id actor.ID) actor.Actor {
		clientID := strings.TrimPrefix(string(id), "form:")
		return form.New(clientID, form.Options{
			Store:    a.Store,
			Notifier: &sideEffects{app: a},
			Events:   a.Events,
			Logger:   a.Logger,
			Now:      a.Now,
		})
	})
	return a
}

func (a *App) Close() error {
	return a.DB.Close()
}

// InvokeForm delivers req to the entity actor owning clientID.
func (a *App) InvokeForm(ctx context.Context, clientID string, req actor.Request) (any, error) {
	return a.Forms.Invoke(ctx, form.ActorID(clientID), req)
}

// InvokeIndex delivers req to the global index actor.
func (a *App) InvokeIndex(ctx context.Context, req actor.Request) (any, error) {
	return a.Index.Invoke(ctx, index.ActorID(), req)
}

// sideEffects carries a committed status change to the index and, on
// approval, to the outbound queue. Both legs are best-effort.
type sideEffects struct {
	app *App
}

func (s *sideEffects) UpdateIndex(ctx context.Context, entry domain.IndexEntry) error {
	body, err := json.Marshal(entry)
	if err != nil {
		return err
	}
	_, err = s.app.InvokeIndex(ctx, actor.Request{
		Method: "POST",
		Path:   "/index/update",
		Body:   body,
	})
	if entry.Status == domain.StatusApproved {
		if qerr := s.app.Queue.Publish(ctx, dispatch.Message{
			Topic:    s.app.Config.Queue.ApprovalTopic,
			ClientID: entry.ClientID,
			Entry:    entry,
		}); qerr != nil {
			s.app.Logger.Printf("approval publish failed for client %s: %v", entry.ClientID, qerr)
		}
	}
	return err
}
