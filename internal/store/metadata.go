package store

import (
	"context"
	"database/sql"
	"encoding/json"
	"time"

	"github.com/federatedsql/gateway/internal/apierr"
	"github.com/federatedsql/gateway/internal/catalogtypes"
	"github.com/federatedsql/gateway/internal/ids"
)

// PersistCatalog upserts the single current metadata_cache row for a
// connection (delete-then-insert inside one transaction, so "at most one
// current cache row per connection" holds atomically — spec.md §4.3).
func (s *Store) PersistCatalog(ctx context.Context, domainID, connectionID string, cat catalogtypes.Catalog) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	body, err := json.Marshal(cat)
	if err != nil {
		return apierr.New(apierr.Internal, "marshaling catalog: %s", err.Error())
	}

	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return apierr.New(apierr.Internal, "%s", err.Error())
	}
	defer tx.Rollback() //nolint:errcheck

	var version int
	row := tx.QueryRowContext(ctx, `SELECT version FROM metadata_cache WHERE connection_id = ?`, connectionID)
	_ = row.Scan(&version) // absent row leaves version at its zero value

	if _, err := tx.ExecContext(ctx, `DELETE FROM metadata_cache WHERE connection_id = ?`, connectionID); err != nil {
		return apierr.New(apierr.Internal, "clearing metadata cache: %s", err.Error())
	}
	if _, err := tx.ExecContext(ctx,
		`INSERT INTO metadata_cache (id, connection_id, domain_id, catalog_json, fetched_at, version) VALUES (?, ?, ?, ?, ?, ?)`,
		ids.New(), connectionID, domainID, string(body), time.Now().UTC(), version+1,
	); err != nil {
		return apierr.New(apierr.Internal, "writing metadata cache: %s", err.Error())
	}
	return tx.Commit()
}

// LoadCatalog returns the cached catalog for a connection. A missing row
// is apierr.CatalogMissing — the caller (internal/catalog) decides
// whether that should trigger a live re-introspection.
func (s *Store) LoadCatalog(ctx context.Context, domainID, connectionID string) (catalogtypes.Catalog, error) {
	row := s.db.QueryRowContext(ctx,
		`SELECT catalog_json FROM metadata_cache WHERE connection_id = ? AND domain_id = ?`, connectionID, domainID)

	var body string
	if err := row.Scan(&body); err != nil {
		if err == sql.ErrNoRows {
			return catalogtypes.Catalog{}, apierr.New(apierr.CatalogMissing, "no cached catalog for connection %q", connectionID)
		}
		return catalogtypes.Catalog{}, apierr.New(apierr.Internal, "%s", err.Error())
	}

	var cat catalogtypes.Catalog
	if err := json.Unmarshal([]byte(body), &cat); err != nil {
		return catalogtypes.Catalog{}, apierr.New(apierr.Internal, "decoding cached catalog: %s", err.Error())
	}
	return cat, nil
}
