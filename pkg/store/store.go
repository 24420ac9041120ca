// Package store is the tenant-scoped persistence layer. Every repository is
// bound to one tenant at construction and appends the tenant predicate to
// every query; cross-tenant reads are impossible by construction.
//
// It supports both Postgres (lib/pq) and SQLite (modernc.org/sqlite)
// through database/sql with $n placeholders, which both drivers accept.
package store

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"strings"
)

// ErrNoTenant is returned when a repository is constructed without a
// tenant binding. This is a programming error, not a user error.
var ErrNoTenant = errors.New("store: repository requires a tenant binding")

// ErrNotFound is the sentinel for missing rows within the tenant.
var ErrNotFound = errors.New("store: not found")

// querier abstracts *sql.DB and *sql.Tx so repositories run unchanged
// inside and outside transactions.
type querier interface {
	ExecContext(ctx context.Context, query string, args ...any) (sql.Result, error)
	QueryContext(ctx context.Context, query string, args ...any) (*sql.Rows, error)
	QueryRowContext(ctx context.Context, query string, args ...any) *sql.Row
}

// Store wraps the database handle.
type Store struct {
	db *sql.DB
}

// Open connects using the driver inferred from the DSN: URLs beginning
// with postgres:// use lib/pq, everything else is treated as a SQLite path.
func Open(dsn string) (*Store, error) {
	driver := "sqlite"
	if strings.HasPrefix(dsn, "postgres://") || strings.HasPrefix(dsn, "postgresql://") {
		driver = "postgres"
	}
	db, err := sql.Open(driver, dsn)
	if err != nil {
		return nil, fmt.Errorf("store: open %s: %w", driver, err)
	}
	if driver == "sqlite" {
		// Serialized access keeps SQLite happy under the worker goroutines.
		db.SetMaxOpenConns(1)
	}
	return &Store{db: db}, nil
}

// NewWithDB wraps an existing handle (tests, sqlmock).
func NewWithDB(db *sql.DB) *Store { return &Store{db: db} }

// DB exposes the raw handle for health checks.
func (s *Store) DB() *sql.DB { return s.db }

// Init creates the schema.
func (s *Store) Init(ctx context.Context) error {
	for _, stmt := range schemaStatements() {
		if _, err := s.db.ExecContext(ctx, stmt); err != nil {
			return fmt.Errorf("store: init schema: %w", err)
		}
	}
	return nil
}

// Close releases the handle.
func (s *Store) Close() error { return s.db.Close() }

// Repo is a tenant-bound repository. All methods scope by the bound tenant.
type Repo struct {
	q        querier
	tenantID string
}

// Tenant returns a repository bound to tenantID, running directly against
// the pool. An empty tenant fails immediately.
func (s *Store) Tenant(tenantID string) (*Repo, error) {
	if tenantID == "" {
		return nil, ErrNoTenant
	}
	return &Repo{q: s.db, tenantID: tenantID}, nil
}

// TenantID returns the binding, for callers composing log context.
func (r *Repo) TenantID() string { return r.tenantID }

// WithTenantTx runs fn against a transaction-bound repository, committing
// on nil and rolling back on error or panic.
func (s *Store) WithTenantTx(ctx context.Context, tenantID string, fn func(*Repo) error) error {
	if tenantID == "" {
		return ErrNoTenant
	}
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("store: begin tx: %w", err)
	}
	defer func() {
		if p := recover(); p != nil {
			_ = tx.Rollback()
			panic(p)
		}
	}()

	if err := fn(&Repo{q: tx, tenantID: tenantID}); err != nil {
		_ = tx.Rollback()
		return err
	}
	if err := tx.Commit(); err != nil {
		return fmt.Errorf("store: commit: %w", err)
	}
	return nil
}

// NextID allocates the next per-tenant id for an entity through the
// id_sequences table, so surrogate ids stay monotone within a tenant on
// every backend.
func (r *Repo) NextID(ctx context.Context, entity string) (int64, error) {
	var id int64
	err := r.q.QueryRowContext(ctx, `
		INSERT INTO id_sequences (tenant_id, entity, next_id)
		VALUES ($1, $2, 1)
		ON CONFLICT (tenant_id, entity)
		DO UPDATE SET next_id = id_sequences.next_id + 1
		RETURNING next_id
	`, r.tenantID, entity).Scan(&id)
	if err != nil {
		return 0, fmt.Errorf("store: next id for %s: %w", entity, err)
	}
	return id, nil
}
