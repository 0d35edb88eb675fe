// Package app wires the email log components together. A Core is built
// once at startup and handed to the transports explicitly.
package app

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"

	"github.io/infrasutra/emaillog/internal/ingest"
	"github.io/infrasutra/emaillog/internal/query"
	"github.io/infrasutra/emaillog/internal/site"
	"github.io/infrasutra/emaillog/internal/sse"
	"github.io/infrasutra/emaillog/internal/star"
	"github.io/infrasutra/emaillog/internal/store"
)

// Loadable is a component that must be prepared before serving.
type Loadable interface {
	Load(ctx context.Context) error
}

type Core struct {
	Store  *store.Store
	Logs   *store.LogStore
	Sites  *site.Manager
	Hub    *sse.Hub
	Logger *slog.Logger
}

func New(s *store.Store, logs *store.LogStore, hub *sse.Hub, logger *slog.Logger) *Core {
	if logger == nil {
		logger = slog.Default()
	}
	if hub == nil {
		hub = sse.NewHub()
	}
	return &Core{
		Store:  s,
		Logs:   logs,
		Sites:  site.NewManager(s, logger, logs),
		Hub:    hub,
		Logger: logger,
	}
}

// Load migrates the global tables, then provisions the log table of every
// site.
func (c *Core) Load(ctx context.Context) error {
	for _, component := range []Loadable{c.Store, c.Sites} {
		if err := component.Load(ctx); err != nil {
			return fmt.Errorf("load core: %w", err)
		}
	}
	return nil
}

// Ingester records events into siteID's table and announces every new
// entry on the site's stream.
func (c *Core) Ingester(siteID int64) *ingest.Ingester {
	logger := c.Logger.With("site", siteID)
	return ingest.New(c.Logs.Table(siteID), logger, ingest.WithRecordedHook(func(rec store.LogRecord) {
		c.Hub.Publish(siteID, logEvent(rec))
	}))
}

func (c *Core) Facade(siteID int64) *query.Facade {
	return query.New(c.Logs.Table(siteID))
}

func (c *Core) Stars(siteID int64) *star.Registry {
	return star.New(c.Store, c.Logs.TablePrefix(siteID))
}

func logEvent(rec store.LogRecord) []byte {
	payload := map[string]any{
		"id":        rec.ID,
		"to":        rec.ToEmail,
		"subject":   rec.Subject,
		"result":    rec.Result.String(),
		"sentDate":  rec.SentDate.Format(store.SentDateLayout),
	}
	data, _ := json.Marshal(payload)
	return []byte(fmt.Sprintf("event: log\ndata: %s\n\n", data))
}
