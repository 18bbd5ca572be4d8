package store

import (
	"context"
	"database/sql"
	"time"

	"github.com/federatedsql/gateway/internal/apierr"
	"github.com/federatedsql/gateway/internal/ids"
)

// Connection is one pooled backend registered under a domain.
type Connection struct {
	ID              string
	DomainID        string
	Name            string
	URL             string
	Kind            string
	Status          string
	CreatedAt       time.Time
	LastConnectedAt *time.Time
}

// CreateConnection inserts a connection and seeds its metadata_cache row
// in one transaction, matching spec.md §4.7's "multi-row writes run
// inside one *sql.Tx".
func (s *Store) CreateConnection(ctx context.Context, domainID, name, url, kind string) (Connection, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	c := Connection{
		ID:        ids.New(),
		DomainID:  domainID,
		Name:      name,
		URL:       url,
		Kind:      kind,
		Status:    "disconnected",
		CreatedAt: time.Now().UTC(),
	}

	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return Connection{}, apierr.New(apierr.Internal, "%s", err.Error())
	}
	defer tx.Rollback() //nolint:errcheck

	if _, err := tx.ExecContext(ctx,
		`INSERT INTO connections (id, domain_id, name, url, kind, status, created_at) VALUES (?, ?, ?, ?, ?, ?, ?)`,
		c.ID, c.DomainID, c.Name, c.URL, c.Kind, c.Status, c.CreatedAt,
	); err != nil {
		return Connection{}, wrapWriteErr(err, "connection", name)
	}

	if _, err := tx.ExecContext(ctx,
		`INSERT INTO metadata_cache (id, connection_id, domain_id, catalog_json, fetched_at, version) VALUES (?, ?, ?, '{"tables":[],"views":[]}', ?, 0)`,
		ids.New(), c.ID, c.DomainID, c.CreatedAt,
	); err != nil {
		return Connection{}, apierr.New(apierr.Internal, "seeding metadata cache: %s", err.Error())
	}

	if err := tx.Commit(); err != nil {
		return Connection{}, apierr.New(apierr.Internal, "%s", err.Error())
	}
	return c, nil
}

// GetConnection looks up a connection scoped to domainID; it is NotFound
// if the row belongs to a different domain, enforcing the domain
// isolation invariant even for point lookups.
func (s *Store) GetConnection(ctx context.Context, domainID, id string) (Connection, error) {
	row := s.db.QueryRowContext(ctx,
		`SELECT id, domain_id, name, url, kind, status, created_at, last_connected_at
		   FROM connections WHERE id = ? AND domain_id = ?`, id, domainID)
	return scanConnection(row)
}

// ListConnections returns every connection in domainID, most recent first.
func (s *Store) ListConnections(ctx context.Context, domainID string) ([]Connection, error) {
	rows, err := s.db.QueryContext(ctx,
		`SELECT id, domain_id, name, url, kind, status, created_at, last_connected_at
		   FROM connections WHERE domain_id = ? ORDER BY created_at DESC`, domainID)
	if err != nil {
		return nil, apierr.New(apierr.Internal, "listing connections: %s", err.Error())
	}
	defer rows.Close()

	var out []Connection
	for rows.Next() {
		c, err := scanConnection(rows)
		if err != nil {
			return nil, err
		}
		out = append(out, c)
	}
	return out, rows.Err()
}

// SetConnectionStatus updates status and, when connected, last_connected_at.
func (s *Store) SetConnectionStatus(ctx context.Context, id, status string) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	var res sql.Result
	var err error
	if status == "connected" {
		res, err = s.db.ExecContext(ctx,
			`UPDATE connections SET status = ?, last_connected_at = ? WHERE id = ?`, status, time.Now().UTC(), id)
	} else {
		res, err = s.db.ExecContext(ctx, `UPDATE connections SET status = ? WHERE id = ?`, status, id)
	}
	if err != nil {
		return apierr.New(apierr.Internal, "%s", err.Error())
	}
	return requireAffected(res, "connection", id)
}

// DeleteConnection removes a connection. metadata_cache cascades away;
// saved_queries and query_history referencing it are left in place
// ("orphan but keep", spec.md §3 Ownership) since those FKs carry no
// cascade action.
func (s *Store) DeleteConnection(ctx context.Context, domainID, id string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	res, err := s.db.ExecContext(ctx, `DELETE FROM connections WHERE id = ? AND domain_id = ?`, id, domainID)
	if err != nil {
		return apierr.New(apierr.Internal, "deleting connection: %s", err.Error())
	}
	return requireAffected(res, "connection", id)
}

type rowScanner interface {
	Scan(dest ...any) error
}

func scanConnection(row rowScanner) (Connection, error) {
	var c Connection
	var lastConnected sql.NullTime
	if err := row.Scan(&c.ID, &c.DomainID, &c.Name, &c.URL, &c.Kind, &c.Status, &c.CreatedAt, &lastConnected); err != nil {
		return Connection{}, notFoundIfMissing(err, "connection", "")
	}
	if lastConnected.Valid {
		c.LastConnectedAt = &lastConnected.Time
	}
	return c, nil
}

func wrapWriteErr(err error, kind, name string) error {
	return conflictIfUnique(err, kind, name)
}
