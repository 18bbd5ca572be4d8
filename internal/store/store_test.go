package store

import (
	"context"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/require"

	"github.com/federatedsql/gateway/internal/apierr"
	"github.com/federatedsql/gateway/internal/catalogtypes"
)

func newTestStore(t *testing.T) *Store {
	t.Helper()
	path := filepath.Join(t.TempDir(), "gateway.db")
	s, err := Open(path)
	require.NoError(t, err)
	t.Cleanup(func() { s.Close() })
	return s
}

func TestDomainIsolation(t *testing.T) {
	ctx := context.Background()
	s := newTestStore(t)

	a, err := s.CreateDomain(ctx, "domain-a", "")
	require.NoError(t, err)
	b, err := s.CreateDomain(ctx, "domain-b", "")
	require.NoError(t, err)

	_, err = s.CreateConnection(ctx, a.ID, "conn-a", "postgres://a", "postgres")
	require.NoError(t, err)
	_, err = s.CreateConnection(ctx, b.ID, "conn-b", "postgres://b", "postgres")
	require.NoError(t, err)

	connsA, err := s.ListConnections(ctx, a.ID)
	require.NoError(t, err)
	require.Len(t, connsA, 1)
	require.Equal(t, "conn-a", connsA[0].Name)

	connsB, err := s.ListConnections(ctx, b.ID)
	require.NoError(t, err)
	require.Len(t, connsB, 1)
	require.Equal(t, "conn-b", connsB[0].Name)
}

func TestCascadeIntegrity(t *testing.T) {
	ctx := context.Background()
	s := newTestStore(t)

	d, err := s.CreateDomain(ctx, "to-delete", "")
	require.NoError(t, err)
	conn, err := s.CreateConnection(ctx, d.ID, "c1", "postgres://x", "postgres")
	require.NoError(t, err)

	for i := 0; i < 3; i++ {
		_, err := s.CreateSavedQuery(ctx, d.ID, conn.ID, "q"+string(rune('1'+i)), "SELECT 1", "")
		require.NoError(t, err)
	}
	for i := 0; i < 5; i++ {
		require.NoError(t, s.RecordHistory(ctx, HistoryEntry{
			DomainID: d.ID, ConnectionID: conn.ID, SQL: "SELECT 1", Status: "success",
		}))
	}

	other, err := s.CreateDomain(ctx, "untouched", "")
	require.NoError(t, err)
	otherConn, err := s.CreateConnection(ctx, other.ID, "c2", "postgres://y", "postgres")
	require.NoError(t, err)

	require.NoError(t, s.DeleteDomain(ctx, d.ID))

	conns, err := s.ListConnections(ctx, d.ID)
	require.NoError(t, err)
	require.Empty(t, conns)

	queries, err := s.ListSavedQueries(ctx, d.ID)
	require.NoError(t, err)
	require.Empty(t, queries)

	history, err := s.ListHistory(ctx, d.ID, 0)
	require.NoError(t, err)
	require.Empty(t, history)

	_, err = s.LoadCatalog(ctx, d.ID, conn.ID)
	require.Equal(t, apierr.CatalogMissing, apierr.CodeOf(err))

	otherConns, err := s.ListConnections(ctx, other.ID)
	require.NoError(t, err)
	require.Len(t, otherConns, 1)
	require.Equal(t, otherConn.ID, otherConns[0].ID)
}

func TestDeleteConnectionOrphansButKeepsSavedQueriesAndHistory(t *testing.T) {
	ctx := context.Background()
	s := newTestStore(t)

	d, err := s.CreateDomain(ctx, "dom", "")
	require.NoError(t, err)
	conn, err := s.CreateConnection(ctx, d.ID, "c1", "postgres://x", "postgres")
	require.NoError(t, err)

	_, err = s.CreateSavedQuery(ctx, d.ID, conn.ID, "q1", "SELECT 1", "")
	require.NoError(t, err)
	require.NoError(t, s.RecordHistory(ctx, HistoryEntry{DomainID: d.ID, ConnectionID: conn.ID, SQL: "SELECT 1", Status: "success"}))

	require.NoError(t, s.DeleteConnection(ctx, d.ID, conn.ID))

	queries, err := s.ListSavedQueries(ctx, d.ID)
	require.NoError(t, err)
	require.Len(t, queries, 1, "saved queries must survive connection deletion, orphaned not cascaded")

	history, err := s.ListHistory(ctx, d.ID, 0)
	require.NoError(t, err)
	require.Len(t, history, 1, "history must survive connection deletion")

	_, err = s.LoadCatalog(ctx, d.ID, conn.ID)
	require.Equal(t, apierr.CatalogMissing, apierr.CodeOf(err), "metadata_cache must cascade away with the connection")
}

func TestPersistCatalogUpsertsSingleCurrentRow(t *testing.T) {
	ctx := context.Background()
	s := newTestStore(t)

	d, err := s.CreateDomain(ctx, "dom", "")
	require.NoError(t, err)
	conn, err := s.CreateConnection(ctx, d.ID, "c1", "postgres://x", "postgres")
	require.NoError(t, err)

	cat := catalogtypes.Catalog{Tables: []catalogtypes.Table{{Name: "users"}}}
	require.NoError(t, s.PersistCatalog(ctx, d.ID, conn.ID, cat))
	require.NoError(t, s.PersistCatalog(ctx, d.ID, conn.ID, cat))

	got, err := s.LoadCatalog(ctx, d.ID, conn.ID)
	require.NoError(t, err)
	require.Len(t, got.Tables, 1)
	require.Equal(t, "users", got.Tables[0].Name)

	var count int
	require.NoError(t, s.db.QueryRowContext(ctx, `SELECT COUNT(*) FROM metadata_cache WHERE connection_id = ?`, conn.ID).Scan(&count))
	require.Equal(t, 1, count, "only one current cache row per connection")
}

func TestCreateDomainConflict(t *testing.T) {
	ctx := context.Background()
	s := newTestStore(t)

	_, err := s.CreateDomain(ctx, "dup", "")
	require.NoError(t, err)
	_, err = s.CreateDomain(ctx, "dup", "")
	require.Equal(t, apierr.Conflict, apierr.CodeOf(err))
}

func TestReopenIsIdempotent(t *testing.T) {
	path := filepath.Join(t.TempDir(), "gateway.db")
	s1, err := Open(path)
	require.NoError(t, err)
	_, err = s1.CreateDomain(context.Background(), "persisted", "")
	require.NoError(t, err)
	require.NoError(t, s1.Close())

	s2, err := Open(path)
	require.NoError(t, err)
	defer s2.Close()

	domains, err := s2.ListDomains(context.Background())
	require.NoError(t, err)
	require.Len(t, domains, 1)
	require.Equal(t, "persisted", domains[0].Name)
}
