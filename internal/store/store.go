package store

import (
	"context"
	"database/sql"
	"embed"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/golang-migrate/migrate/v4"
	sqlitemigrate "github.com/golang-migrate/migrate/v4/database/sqlite"
	"github.com/golang-migrate/migrate/v4/source/iofs"
	"modernc.org/sqlite"
	sqlite3 "modernc.org/sqlite/lib"
)

//go:embed migrations/*.sql
var migrationFiles embed.FS

// MainSiteID is the site seeded by the migrations. It owns the unnumbered
// log table and can never be removed.
const MainSiteID int64 = 1

type Store struct {
	db *sql.DB
}

func Open(ctx context.Context, path string) (*Store, error) {
	trimmed := strings.TrimSpace(path)
	inMemory := false
	if trimmed == "" {
		trimmed = ":memory:"
		inMemory = true
	}
	if strings.Contains(trimmed, "mode=memory") || trimmed == ":memory:" || trimmed == "file::memory:" {
		inMemory = true
	}
	db, err := sql.Open("sqlite", trimmed)
	if err != nil {
		return nil, fmt.Errorf("open sqlite: %w", err)
	}
	db.SetMaxOpenConns(1)
	db.SetMaxIdleConns(1)
	if !inMemory {
		if _, err := db.ExecContext(ctx, "PRAGMA journal_mode = WAL;"); err != nil {
			db.Close()
			return nil, fmt.Errorf("enable WAL: %w", err)
		}
	}
	return &Store{db: db}, nil
}

func (s *Store) Close() error {
	return s.db.Close()
}

func (s *Store) Ping(ctx context.Context) error {
	return s.db.PingContext(ctx)
}

// Load applies the embedded migrations for the global tables. It satisfies
// the app.Loadable contract.
func (s *Store) Load(ctx context.Context) error {
	return s.Migrate(ctx)
}

// Migrate brings the global tables (users, sites, options, usermeta) up to
// date. Per-site log tables are not migrated here, see LogStore.ProvisionTable.
func (s *Store) Migrate(ctx context.Context) error {
	if err := s.db.PingContext(ctx); err != nil {
		return storageErr("migrate", err)
	}
	src, err := iofs.New(migrationFiles, "migrations")
	if err != nil {
		return fmt.Errorf("load migrations: %w", err)
	}
	driver, err := sqlitemigrate.WithInstance(s.db, &sqlitemigrate.Config{})
	if err != nil {
		return storageErr("migrate", err)
	}
	// The migrate instance is not closed: closing it would close s.db.
	m, err := migrate.NewWithInstance("iofs", src, "sqlite", driver)
	if err != nil {
		return storageErr("migrate", err)
	}
	if err := m.Up(); err != nil && !errors.Is(err, migrate.ErrNoChange) {
		return storageErr("migrate", err)
	}
	return nil
}

type User struct {
	ID        int64
	Email     string
	CreatedAt time.Time
	LastLogin time.Time
}

// UpsertUser records a login for email and returns the user's id.
func (s *Store) UpsertUser(ctx context.Context, email string, now time.Time) (int64, error) {
	query := `INSERT INTO users (email, created_at, last_login)
        VALUES (?, ?, ?)
        ON CONFLICT(email) DO UPDATE SET last_login = excluded.last_login
        RETURNING id;`
	var id int64
	if err := s.db.QueryRowContext(ctx, query, email, now.Unix(), now.Unix()).Scan(&id); err != nil {
		return 0, storageErr("upsert user", err)
	}
	return id, nil
}

func (s *Store) GetUser(ctx context.Context, id int64) (User, error) {
	var user User
	var createdAt, lastLogin int64
	row := s.db.QueryRowContext(ctx, `SELECT id, email, created_at, last_login FROM users WHERE id = ?;`, id)
	if err := row.Scan(&user.ID, &user.Email, &createdAt, &lastLogin); err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return User{}, ErrNotFound
		}
		return User{}, storageErr("get user", err)
	}
	user.CreatedAt = time.Unix(createdAt, 0)
	user.LastLogin = time.Unix(lastLogin, 0)
	return user, nil
}

// GetOption returns a per-site option value and whether it was set.
func (s *Store) GetOption(ctx context.Context, siteID int64, name string) (string, bool, error) {
	return s.getOption(ctx, s.db, siteID, name)
}

func (s *Store) SetOption(ctx context.Context, siteID int64, name, value string) error {
	return s.setOption(ctx, s.db, siteID, name, value)
}

type querier interface {
	ExecContext(ctx context.Context, query string, args ...any) (sql.Result, error)
	QueryContext(ctx context.Context, query string, args ...any) (*sql.Rows, error)
	QueryRowContext(ctx context.Context, query string, args ...any) *sql.Row
}

func (s *Store) getOption(ctx context.Context, q querier, siteID int64, name string) (string, bool, error) {
	var value string
	err := q.QueryRowContext(ctx, `SELECT value FROM options WHERE site_id = ? AND name = ?;`, siteID, name).Scan(&value)
	if errors.Is(err, sql.ErrNoRows) {
		return "", false, nil
	}
	if err != nil {
		return "", false, storageErr("get option", err)
	}
	return value, true, nil
}

func (s *Store) setOption(ctx context.Context, q querier, siteID int64, name, value string) error {
	_, err := q.ExecContext(ctx, `INSERT INTO options (site_id, name, value) VALUES (?, ?, ?)
        ON CONFLICT(site_id, name) DO UPDATE SET value = excluded.value;`, siteID, name, value)
	return storageErr("set option", err)
}

// GetUserMeta returns the stored value for a user meta key and whether it
// was set.
func (s *Store) GetUserMeta(ctx context.Context, userID int64, key string) (string, bool, error) {
	var value string
	err := s.db.QueryRowContext(ctx, `SELECT meta_value FROM usermeta WHERE user_id = ? AND meta_key = ?;`, userID, key).Scan(&value)
	if errors.Is(err, sql.ErrNoRows) {
		return "", false, nil
	}
	if err != nil {
		return "", false, storageErr("get user meta", err)
	}
	return value, true, nil
}

func (s *Store) SetUserMeta(ctx context.Context, userID int64, key, value string) error {
	_, err := s.db.ExecContext(ctx, `INSERT INTO usermeta (user_id, meta_key, meta_value) VALUES (?, ?, ?)
        ON CONFLICT(user_id, meta_key) DO UPDATE SET meta_value = excluded.meta_value;`, userID, key, value)
	return storageErr("set user meta", err)
}

type Site struct {
	ID        int64
	Domain    string
	CreatedAt time.Time
}

func (s *Store) CreateSite(ctx context.Context, domain string, now time.Time) (Site, error) {
	var id int64
	err := s.db.QueryRowContext(ctx, `INSERT INTO sites (domain, created_at) VALUES (?, ?) RETURNING id;`,
		domain, now.Unix()).Scan(&id)
	if err != nil {
		if isUniqueViolation(err) {
			return Site{}, fmt.Errorf("create site %q: %w", domain, ErrConflict)
		}
		return Site{}, storageErr("create site", err)
	}
	return Site{ID: id, Domain: domain, CreatedAt: time.Unix(now.Unix(), 0)}, nil
}

func (s *Store) GetSite(ctx context.Context, id int64) (Site, error) {
	var site Site
	var createdAt int64
	err := s.db.QueryRowContext(ctx, `SELECT id, domain, created_at FROM sites WHERE id = ?;`, id).
		Scan(&site.ID, &site.Domain, &createdAt)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return Site{}, ErrNotFound
		}
		return Site{}, storageErr("get site", err)
	}
	site.CreatedAt = time.Unix(createdAt, 0)
	return site, nil
}

func (s *Store) ListSites(ctx context.Context) ([]Site, error) {
	rows, err := s.db.QueryContext(ctx, `SELECT id, domain, created_at FROM sites ORDER BY id;`)
	if err != nil {
		return nil, storageErr("list sites", err)
	}
	defer rows.Close()

	var sites []Site
	for rows.Next() {
		var site Site
		var createdAt int64
		if err := rows.Scan(&site.ID, &site.Domain, &createdAt); err != nil {
			return nil, storageErr("list sites", err)
		}
		site.CreatedAt = time.Unix(createdAt, 0)
		sites = append(sites, site)
	}
	if err := rows.Err(); err != nil {
		return nil, storageErr("list sites", err)
	}
	return sites, nil
}

// DeleteSite is the host teardown: it drops every table in dropTables,
// removes the site's options and the site row, all in one transaction.
func (s *Store) DeleteSite(ctx context.Context, id int64, dropTables []string) error {
	for _, table := range dropTables {
		if !validIdentifier(table) {
			return fmt.Errorf("delete site: invalid table name %q", table)
		}
	}

	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return storageErr("begin tx", err)
	}
	defer tx.Rollback()

	for _, table := range dropTables {
		if _, err := tx.ExecContext(ctx, "DROP TABLE IF EXISTS "+quoteIdent(table)+";"); err != nil {
			return storageErr("drop table", err)
		}
	}
	if _, err := tx.ExecContext(ctx, `DELETE FROM options WHERE site_id = ?;`, id); err != nil {
		return storageErr("delete site options", err)
	}
	result, err := tx.ExecContext(ctx, `DELETE FROM sites WHERE id = ?;`, id)
	if err != nil {
		return storageErr("delete site", err)
	}
	affected, err := result.RowsAffected()
	if err != nil {
		return storageErr("delete site", err)
	}
	if affected == 0 {
		return ErrNotFound
	}
	if err := tx.Commit(); err != nil {
		return storageErr("commit site delete", err)
	}
	return nil
}

// TableExists reports whether a table with the given name exists.
func (s *Store) TableExists(ctx context.Context, name string) (bool, error) {
	return tableExists(ctx, s.db, name)
}

func tableExists(ctx context.Context, q querier, name string) (bool, error) {
	var count int
	err := q.QueryRowContext(ctx, `SELECT COUNT(1) FROM sqlite_master WHERE type = 'table' AND name = ?;`, name).Scan(&count)
	if err != nil {
		return false, storageErr("inspect schema", err)
	}
	return count > 0, nil
}

func validIdentifier(name string) bool {
	if name == "" {
		return false
	}
	for _, r := range name {
		switch {
		case r >= 'a' && r <= 'z', r >= 'A' && r <= 'Z', r >= '0' && r <= '9', r == '_':
		default:
			return false
		}
	}
	return true
}

// quoteIdent must only be given names that passed validIdentifier.
func quoteIdent(name string) string {
	return `"` + name + `"`
}

func isUniqueViolation(err error) bool {
	var sqliteErr *sqlite.Error
	return errors.As(err, &sqliteErr) && sqliteErr.Code() == sqlite3.SQLITE_CONSTRAINT_UNIQUE
}
