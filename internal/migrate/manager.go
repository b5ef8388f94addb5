// Package migrate applies the embedded schema migrations with goose.
package migrate

import (
	"context"
	"database/sql"
	"embed"
	"errors"
	"fmt"
	"io/fs"
	"time"

	"github.com/pressly/goose/v3"
	"github.com/pressly/goose/v3/database"
)

//go:embed sql/*.sql
var embedded embed.FS

// Migrations returns the embedded migration files rooted at their directory.
func Migrations() fs.FS {
	sub, err := fs.Sub(embedded, "sql")
	if err != nil {
		panic(err)
	}
	return sub
}

// Manager executes the embedded migrations against PostgreSQL.
type Manager struct {
	provider *goose.Provider
}

type options struct {
	verbose bool
	fsys    fs.FS
}

// Option configures Manager.
type Option func(*options)

// WithVerbose makes goose log every applied migration.
func WithVerbose(v bool) Option {
	return func(o *options) { o.verbose = v }
}

// WithFS replaces the embedded migrations, mainly for tests.
func WithFS(fsys fs.FS) Option {
	return func(o *options) {
		if fsys != nil {
			o.fsys = fsys
		}
	}
}

// NewManager constructs a Manager bound to db.
func NewManager(db *sql.DB, opts ...Option) (*Manager, error) {
	if db == nil {
		return nil, errors.New("migrate: db is required")
	}
	o := options{fsys: Migrations()}
	for _, opt := range opts {
		opt(&o)
	}
	provider, err := goose.NewProvider(database.DialectPostgres, db, o.fsys, goose.WithVerbose(o.verbose))
	if err != nil {
		return nil, fmt.Errorf("migrate: %w", err)
	}
	return &Manager{provider: provider}, nil
}

// Up applies all pending migrations and returns their file names.
func (m *Manager) Up(ctx context.Context) ([]string, error) {
	results, err := m.provider.Up(ctx)
	applied := make([]string, 0, len(results))
	for _, r := range results {
		if r != nil && r.Source != nil && r.Error == nil {
			applied = append(applied, r.Source.Path)
		}
	}
	if err != nil {
		return applied, fmt.Errorf("apply migrations: %w", err)
	}
	return applied, nil
}

// Down rolls back the most recent applied migration.
func (m *Manager) Down(ctx context.Context) (string, error) {
	result, err := m.provider.Down(ctx)
	if err != nil {
		if errors.Is(err, goose.ErrNoNextVersion) {
			return "", errors.New("no migrations applied")
		}
		return "", fmt.Errorf("rollback migration: %w", err)
	}
	if result == nil || result.Source == nil {
		return "", nil
	}
	return result.Source.Path, nil
}

// Status returns one line per known migration: path, state and apply time.
func (m *Manager) Status(ctx context.Context) ([]string, error) {
	statuses, err := m.provider.Status(ctx)
	if err != nil {
		return nil, err
	}
	lines := make([]string, 0, len(statuses))
	for _, st := range statuses {
		line := fmt.Sprintf("%s\t%s", st.Source.Path, st.State)
		if !st.AppliedAt.IsZero() {
			line += "\t" + st.AppliedAt.UTC().Format(time.RFC3339)
		}
		lines = append(lines, line)
	}
	return lines, nil
}

// Sources lists the migration files known to the manager.
func (m *Manager) Sources() []string {
	var out []string
	for _, src := range m.provider.ListSources() {
		out = append(out, src.Path)
	}
	return out
}
