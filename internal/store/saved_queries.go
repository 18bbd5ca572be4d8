package store

import (
	"context"
	"time"

	"github.com/federatedsql/gateway/internal/apierr"
	"github.com/federatedsql/gateway/internal/ids"
)

// SavedQuery is a named, reusable query bound to one domain.
type SavedQuery struct {
	ID           string
	DomainID     string
	ConnectionID string
	Name         string
	SQL          string
	Description  string
	CreatedAt    time.Time
}

// CreateSavedQuery inserts a saved query; Conflict if (domain_id, name)
// already exists.
func (s *Store) CreateSavedQuery(ctx context.Context, domainID, connectionID, name, sql, description string) (SavedQuery, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	q := SavedQuery{
		ID: ids.New(), DomainID: domainID, ConnectionID: connectionID,
		Name: name, SQL: sql, Description: description, CreatedAt: time.Now().UTC(),
	}
	_, err := s.db.ExecContext(ctx,
		`INSERT INTO saved_queries (id, domain_id, connection_id, name, sql, description, created_at) VALUES (?, ?, ?, ?, ?, ?, ?)`,
		q.ID, q.DomainID, q.ConnectionID, q.Name, q.SQL, q.Description, q.CreatedAt,
	)
	if err != nil {
		return SavedQuery{}, conflictIfUnique(err, "saved query", name)
	}
	return q, nil
}

// ListSavedQueries returns every saved query in domainID, most recent first.
func (s *Store) ListSavedQueries(ctx context.Context, domainID string) ([]SavedQuery, error) {
	rows, err := s.db.QueryContext(ctx,
		`SELECT id, domain_id, connection_id, name, sql, description, created_at
		   FROM saved_queries WHERE domain_id = ? ORDER BY created_at DESC`, domainID)
	if err != nil {
		return nil, apierr.New(apierr.Internal, "listing saved queries: %s", err.Error())
	}
	defer rows.Close()

	var out []SavedQuery
	for rows.Next() {
		var q SavedQuery
		if err := rows.Scan(&q.ID, &q.DomainID, &q.ConnectionID, &q.Name, &q.SQL, &q.Description, &q.CreatedAt); err != nil {
			return nil, apierr.New(apierr.Internal, "listing saved queries: %s", err.Error())
		}
		out = append(out, q)
	}
	return out, rows.Err()
}

// DeleteSavedQuery removes one saved query scoped to domainID.
func (s *Store) DeleteSavedQuery(ctx context.Context, domainID, id string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	res, err := s.db.ExecContext(ctx, `DELETE FROM saved_queries WHERE id = ? AND domain_id = ?`, id, domainID)
	if err != nil {
		return apierr.New(apierr.Internal, "deleting saved query: %s", err.Error())
	}
	return requireAffected(res, "saved query", id)
}

// HistoryEntry is one row of the audit trail written for every query
// attempt, success or failure (spec.md §7 "History writes always occur").
type HistoryEntry struct {
	ID           string
	DomainID     string
	ConnectionID string
	SQL          string
	Status       string // success | failed | cancelled
	RowCount     int64
	DurationMs   int64
	Error        string
	ExecutedAt   time.Time
}

// RecordHistory inserts one query_history row. A failed write is returned
// to the caller; the facade logs it and does not fail the request over
// it, since the query itself already ran to completion or failure
// independent of whether the audit write succeeds.
func (s *Store) RecordHistory(ctx context.Context, e HistoryEntry) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	id := e.ID
	if id == "" {
		id = ids.New()
	}
	if e.ExecutedAt.IsZero() {
		e.ExecutedAt = time.Now().UTC()
	}
	_, err := s.db.ExecContext(ctx,
		`INSERT INTO query_history (id, domain_id, connection_id, sql, status, row_count, duration_ms, error, executed_at)
		 VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?)`,
		id, e.DomainID, e.ConnectionID, e.SQL, e.Status, e.RowCount, e.DurationMs, e.Error, e.ExecutedAt,
	)
	if err != nil {
		return apierr.New(apierr.Internal, "recording history: %s", err.Error())
	}
	return nil
}

// ListHistory returns history rows for domainID, most recent first,
// capped at limit rows (0 means no cap).
func (s *Store) ListHistory(ctx context.Context, domainID string, limit int) ([]HistoryEntry, error) {
	q := `SELECT id, domain_id, connection_id, sql, status, row_count, duration_ms, error, executed_at
	        FROM query_history WHERE domain_id = ? ORDER BY executed_at DESC`
	args := []any{domainID}
	if limit > 0 {
		q += ` LIMIT ?`
		args = append(args, limit)
	}

	rows, err := s.db.QueryContext(ctx, q, args...)
	if err != nil {
		return nil, apierr.New(apierr.Internal, "listing history: %s", err.Error())
	}
	defer rows.Close()

	var out []HistoryEntry
	for rows.Next() {
		var e HistoryEntry
		if err := rows.Scan(&e.ID, &e.DomainID, &e.ConnectionID, &e.SQL, &e.Status, &e.RowCount, &e.DurationMs, &e.Error, &e.ExecutedAt); err != nil {
			return nil, apierr.New(apierr.Internal, "listing history: %s", err.Error())
		}
		out = append(out, e)
	}
	return out, rows.Err()
}
