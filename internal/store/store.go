// Package store is the authoritative local storage for domains,
// connections, cached metadata, saved queries and query history
// (spec.md §4.7). It is a single modernc.org/sqlite file, opened through
// database/sql exactly as the teacher's serv/db.go initSqlite path, with
// writes serialized through one mutex since SQLite allows only one
// writer at a time.
package store

import (
	"context"
	"database/sql"
	"sync"
	"time"

	_ "modernc.org/sqlite"

	"github.com/federatedsql/gateway/internal/apierr"
	"github.com/federatedsql/gateway/internal/ids"
)

// Store owns one sqlite file holding every domain-scoped table.
type Store struct {
	db *sql.DB
	mu sync.Mutex
}

const schema = `
CREATE TABLE IF NOT EXISTS domains (
	id TEXT PRIMARY KEY,
	name TEXT NOT NULL UNIQUE,
	description TEXT NOT NULL DEFAULT '',
	created_at DATETIME NOT NULL,
	updated_at DATETIME NOT NULL
);

CREATE TABLE IF NOT EXISTS connections (
	id TEXT PRIMARY KEY,
	domain_id TEXT NOT NULL REFERENCES domains(id) ON DELETE CASCADE,
	name TEXT NOT NULL,
	url TEXT NOT NULL,
	kind TEXT NOT NULL,
	status TEXT NOT NULL DEFAULT 'disconnected',
	created_at DATETIME NOT NULL,
	last_connected_at DATETIME
);
CREATE INDEX IF NOT EXISTS idx_connections_domain_created
	ON connections(domain_id, created_at DESC);

CREATE TABLE IF NOT EXISTS metadata_cache (
	id TEXT PRIMARY KEY,
	connection_id TEXT NOT NULL REFERENCES connections(id) ON DELETE CASCADE,
	domain_id TEXT NOT NULL REFERENCES domains(id) ON DELETE CASCADE,
	catalog_json TEXT NOT NULL,
	fetched_at DATETIME NOT NULL,
	version INTEGER NOT NULL DEFAULT 1
);
CREATE UNIQUE INDEX IF NOT EXISTS idx_metadata_cache_connection
	ON metadata_cache(connection_id);

CREATE TABLE IF NOT EXISTS saved_queries (
	id TEXT PRIMARY KEY,
	domain_id TEXT NOT NULL REFERENCES domains(id) ON DELETE CASCADE,
	connection_id TEXT NOT NULL REFERENCES connections(id),
	name TEXT NOT NULL,
	sql TEXT NOT NULL,
	description TEXT NOT NULL DEFAULT '',
	created_at DATETIME NOT NULL,
	UNIQUE(domain_id, name)
);
CREATE INDEX IF NOT EXISTS idx_saved_queries_domain_created
	ON saved_queries(domain_id, created_at DESC);

CREATE TABLE IF NOT EXISTS query_history (
	id TEXT PRIMARY KEY,
	domain_id TEXT NOT NULL REFERENCES domains(id) ON DELETE CASCADE,
	connection_id TEXT NOT NULL REFERENCES connections(id),
	sql TEXT NOT NULL,
	status TEXT NOT NULL,
	row_count INTEGER NOT NULL DEFAULT 0,
	duration_ms INTEGER NOT NULL DEFAULT 0,
	error TEXT NOT NULL DEFAULT '',
	executed_at DATETIME NOT NULL
);
CREATE INDEX IF NOT EXISTS idx_query_history_domain_executed
	ON query_history(domain_id, executed_at DESC);
`

// Open opens (creating if absent) the sqlite file at path, enables foreign
// key enforcement on the connection and runs the legacy-schema migration
// if needed.
func Open(path string) (*Store, error) {
	db, err := sql.Open("sqlite", path+"?_pragma=foreign_keys(1)")
	if err != nil {
		return nil, apierr.New(apierr.Internal, "opening store: %s", err.Error())
	}
	db.SetMaxOpenConns(1) // single-writer engine; avoid SQLITE_BUSY from internal pooling

	s := &Store{db: db}
	if err := s.migrateLegacySchema(context.Background()); err != nil {
		db.Close()
		return nil, err
	}

	if _, err := db.Exec(schema); err != nil {
		db.Close()
		return nil, apierr.New(apierr.Internal, "creating schema: %s", err.Error())
	}
	return s, nil
}

func (s *Store) Close() error { return s.db.Close() }

// migrateLegacySchema runs before the current schema is applied. If a
// "domains" table is already present this is a no-op (idempotent, second
// run onward). Otherwise, if a pre-existing "connections" table is found
// (one created before domains existed, with no domain_id column), it
// creates a single "default" domain and re-parents every existing
// connection row to it inside one transaction before domain_id's NOT NULL
// constraint is ever enforced by the current schema.
func (s *Store) migrateLegacySchema(ctx context.Context) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	var domainsExist, connectionsExist bool
	if err := s.db.QueryRowContext(ctx,
		`SELECT COUNT(*) > 0 FROM sqlite_master WHERE type = 'table' AND name = 'domains'`).Scan(&domainsExist); err != nil {
		return apierr.New(apierr.Internal, "migration: %s", err.Error())
	}
	if domainsExist {
		return nil
	}
	if err := s.db.QueryRowContext(ctx,
		`SELECT COUNT(*) > 0 FROM sqlite_master WHERE type = 'table' AND name = 'connections'`).Scan(&connectionsExist); err != nil {
		return apierr.New(apierr.Internal, "migration: %s", err.Error())
	}
	if !connectionsExist {
		return nil // fresh database; the schema below creates everything from scratch
	}

	hasDomainID, err := columnExists(ctx, s.db, "connections", "domain_id")
	if err != nil {
		return apierr.New(apierr.Internal, "migration: %s", err.Error())
	}
	if hasDomainID {
		return nil
	}

	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return apierr.New(apierr.Internal, "migration: %s", err.Error())
	}
	defer tx.Rollback() //nolint:errcheck

	now := time.Now().UTC()
	defaultID := ids.New()
	if _, err := tx.ExecContext(ctx,
		`CREATE TABLE domains (id TEXT PRIMARY KEY, name TEXT NOT NULL UNIQUE, description TEXT NOT NULL DEFAULT '', created_at DATETIME NOT NULL, updated_at DATETIME NOT NULL)`,
	); err != nil {
		return apierr.New(apierr.Internal, "migration: creating domains table: %s", err.Error())
	}
	if _, err := tx.ExecContext(ctx,
		`INSERT INTO domains (id, name, description, created_at, updated_at) VALUES (?, 'default', 'auto-created by legacy migration', ?, ?)`,
		defaultID, now, now); err != nil {
		return apierr.New(apierr.Internal, "migration: seeding default domain: %s", err.Error())
	}
	if _, err := tx.ExecContext(ctx, `ALTER TABLE connections ADD COLUMN domain_id TEXT`); err != nil {
		return apierr.New(apierr.Internal, "migration: adding domain_id column: %s", err.Error())
	}
	if _, err := tx.ExecContext(ctx,
		`UPDATE connections SET domain_id = ?`, defaultID); err != nil {
		return apierr.New(apierr.Internal, "migration: re-parenting connections: %s", err.Error())
	}
	return tx.Commit()
}

func columnExists(ctx context.Context, db *sql.DB, table, column string) (bool, error) {
	rows, err := db.QueryContext(ctx, `PRAGMA table_info(`+table+`)`)
	if err != nil {
		return false, err
	}
	defer rows.Close()

	cols, err := rows.Columns()
	if err != nil {
		return false, err
	}
	dest := make([]any, len(cols))
	nameIdx := -1
	for i, c := range cols {
		if c == "name" {
			nameIdx = i
		}
		dest[i] = new(any)
	}
	for rows.Next() {
		if err := rows.Scan(dest...); err != nil {
			return false, err
		}
		if nameIdx >= 0 {
			if name, ok := (*dest[nameIdx].(*any)).(string); ok && name == column {
				return true, nil
			}
		}
	}
	return false, rows.Err()
}

// Domain is one isolation scope.
type Domain struct {
	ID          string
	Name        string
	Description string
	CreatedAt   time.Time
	UpdatedAt   time.Time
}

// CreateDomain inserts a new domain, returning Conflict if name is taken.
func (s *Store) CreateDomain(ctx context.Context, name, description string) (Domain, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	d := Domain{ID: ids.New(), Name: name, Description: description, CreatedAt: time.Now().UTC()}
	d.UpdatedAt = d.CreatedAt
	_, err := s.db.ExecContext(ctx,
		`INSERT INTO domains (id, name, description, created_at, updated_at) VALUES (?, ?, ?, ?, ?)`,
		d.ID, d.Name, d.Description, d.CreatedAt, d.UpdatedAt)
	if err != nil {
		return Domain{}, conflictIfUnique(err, "domain", name)
	}
	return d, nil
}

// GetDomain looks up one domain by id.
func (s *Store) GetDomain(ctx context.Context, id string) (Domain, error) {
	row := s.db.QueryRowContext(ctx,
		`SELECT id, name, description, created_at, updated_at FROM domains WHERE id = ?`, id)
	var d Domain
	if err := row.Scan(&d.ID, &d.Name, &d.Description, &d.CreatedAt, &d.UpdatedAt); err != nil {
		return Domain{}, notFoundIfMissing(err, "domain", id)
	}
	return d, nil
}

// ListDomains returns every domain, most recently created first.
func (s *Store) ListDomains(ctx context.Context) ([]Domain, error) {
	rows, err := s.db.QueryContext(ctx, `SELECT id, name, description, created_at, updated_at FROM domains ORDER BY created_at DESC`)
	if err != nil {
		return nil, apierr.New(apierr.Internal, "listing domains: %s", err.Error())
	}
	defer rows.Close()

	var out []Domain
	for rows.Next() {
		var d Domain
		if err := rows.Scan(&d.ID, &d.Name, &d.Description, &d.CreatedAt, &d.UpdatedAt); err != nil {
			return nil, apierr.New(apierr.Internal, "listing domains: %s", err.Error())
		}
		out = append(out, d)
	}
	return out, rows.Err()
}

// DeleteDomain removes a domain. Every connections/metadata_cache/
// saved_queries/query_history row scoped to it cascades away through the
// FK ON DELETE CASCADE chain defined in schema (spec.md Testable
// Property 4), not through hand-rolled multi-statement deletes.
func (s *Store) DeleteDomain(ctx context.Context, id string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	res, err := s.db.ExecContext(ctx, `DELETE FROM domains WHERE id = ?`, id)
	if err != nil {
		return apierr.New(apierr.Internal, "deleting domain: %s", err.Error())
	}
	return requireAffected(res, "domain", id)
}

func requireAffected(res sql.Result, kind, id string) error {
	n, err := res.RowsAffected()
	if err != nil {
		return apierr.New(apierr.Internal, "%s", err.Error())
	}
	if n == 0 {
		return apierr.New(apierr.NotFound, "%s %q not found", kind, id)
	}
	return nil
}

func conflictIfUnique(err error, kind, name string) error {
	if err == nil {
		return nil
	}
	// sqlite's error text for a UNIQUE violation always contains this
	// substring across modernc.org/sqlite driver versions.
	if containsFold(err.Error(), "UNIQUE constraint failed") {
		return apierr.New(apierr.Conflict, "%s %q already exists", kind, name)
	}
	return apierr.New(apierr.Internal, "%s", err.Error())
}

func notFoundIfMissing(err error, kind, id string) error {
	if err == sql.ErrNoRows {
		return apierr.New(apierr.NotFound, "%s %q not found", kind, id)
	}
	return apierr.New(apierr.Internal, "%s", err.Error())
}

func containsFold(s, substr string) bool {
	return len(s) >= len(substr) && indexFold(s, substr) >= 0
}

func indexFold(s, substr string) int {
	for i := 0; i+len(substr) <= len(s); i++ {
		if equalFold(s[i:i+len(substr)], substr) {
			return i
		}
	}
	return -1
}

func equalFold(a, b string) bool {
	if len(a) != len(b) {
		return false
	}
	for i := 0; i < len(a); i++ {
		ca, cb := a[i], b[i]
		if ca >= 'A' && ca <= 'Z' {
			ca += 'a' - 'A'
		}
		if cb >= 'A' && cb <= 'Z' {
			cb += 'a' - 'A'
		}
		if ca != cb {
			return false
		}
	}
	return true
}
