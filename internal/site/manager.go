// Package site manages the sites of a network and notifies registered
// components when a site is created or about to be removed.
package site

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"strings"
	"time"

	"github.io/infrasutra/emaillog/internal/store"
)

var ErrMainSite = errors.New("the main site cannot be removed")

// Hooks are the lifecycle events a component receives. SiteRemoving
// returns tables with the names of tables to drop during teardown appended.
type Hooks interface {
	SiteCreated(ctx context.Context, siteID int64) error
	SiteRemoving(siteID int64, tables []string) []string
}

type Registry interface {
	CreateSite(ctx context.Context, domain string, now time.Time) (store.Site, error)
	GetSite(ctx context.Context, id int64) (store.Site, error)
	ListSites(ctx context.Context) ([]store.Site, error)
	DeleteSite(ctx context.Context, id int64, dropTables []string) error
}

type Manager struct {
	registry Registry
	hooks    []Hooks
	logger   *slog.Logger
	now      func() time.Time
}

func NewManager(registry Registry, logger *slog.Logger, hooks ...Hooks) *Manager {
	if logger == nil {
		logger = slog.Default()
	}
	return &Manager{
		registry: registry,
		hooks:    hooks,
		logger:   logger,
		now:      time.Now,
	}
}

// Activate fires SiteCreated for every registered site. Hooks are
// expected to be idempotent, so it runs on every start.
func (m *Manager) Activate(ctx context.Context) error {
	sites, err := m.registry.ListSites(ctx)
	if err != nil {
		return err
	}
	for _, s := range sites {
		if err := m.created(ctx, s.ID); err != nil {
			return err
		}
	}
	m.logger.Info("sites activated", "count", len(sites))
	return nil
}

// Load satisfies the app.Loadable contract.
func (m *Manager) Load(ctx context.Context) error {
	return m.Activate(ctx)
}

// Create registers domain as a new site and provisions it. A site whose
// hooks fail is removed again.
func (m *Manager) Create(ctx context.Context, domain string) (store.Site, error) {
	domain = strings.ToLower(strings.TrimSpace(domain))
	if domain == "" {
		return store.Site{}, errors.New("domain is required")
	}
	s, err := m.registry.CreateSite(ctx, domain, m.now())
	if err != nil {
		return store.Site{}, err
	}
	if err := m.created(ctx, s.ID); err != nil {
		if cleanupErr := m.teardown(ctx, s.ID); cleanupErr != nil {
			m.logger.Error("remove half-created site", "site", s.ID, "error", cleanupErr)
		}
		return store.Site{}, err
	}
	m.logger.Info("site created", "site", s.ID, "domain", s.Domain)
	return s, nil
}

func (m *Manager) Get(ctx context.Context, id int64) (store.Site, error) {
	return m.registry.GetSite(ctx, id)
}

func (m *Manager) List(ctx context.Context) ([]store.Site, error) {
	return m.registry.ListSites(ctx)
}

// Remove deletes a site and every table its hooks ask to drop.
func (m *Manager) Remove(ctx context.Context, id int64) error {
	if id == store.MainSiteID {
		return ErrMainSite
	}
	if _, err := m.registry.GetSite(ctx, id); err != nil {
		return err
	}
	if err := m.teardown(ctx, id); err != nil {
		return err
	}
	m.logger.Info("site removed", "site", id)
	return nil
}

func (m *Manager) teardown(ctx context.Context, id int64) error {
	var tables []string
	for _, h := range m.hooks {
		tables = h.SiteRemoving(id, tables)
	}
	return m.registry.DeleteSite(ctx, id, tables)
}

func (m *Manager) created(ctx context.Context, id int64) error {
	for _, h := range m.hooks {
		if err := h.SiteCreated(ctx, id); err != nil {
			return fmt.Errorf("site %d created hook: %w", id, err)
		}
	}
	return nil
}
