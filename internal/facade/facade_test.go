package facade

import (
	"context"
	"path/filepath"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"github.com/federatedsql/gateway/internal/adapter"
	"github.com/federatedsql/gateway/internal/apierr"
	"github.com/federatedsql/gateway/internal/catalogtypes"
	"github.com/federatedsql/gateway/internal/dialect"
	"github.com/federatedsql/gateway/internal/planner"
	"github.com/federatedsql/gateway/internal/store"
)

// fakeSource is the same minimal stand-in used by internal/executor's
// tests, duplicated here since executor's is unexported to its package;
// it returns a configured batch regardless of the SQL text it receives,
// but records every nativeSQL it was handed so tests can assert the
// translated/stripped SQL actually reaching an adapter, not just the
// facade's final merged result.
type fakeSource struct {
	kind  adapter.Kind
	batch adapter.RowBatch

	mu     sync.Mutex
	gotSQL []string
}

func (f *fakeSource) Kind() adapter.Kind { return f.kind }
func (f *fakeSource) Connect(ctx context.Context, url string, cfg adapter.PoolConfig) error {
	return nil
}
func (f *fakeSource) Ping(ctx context.Context) error { return nil }
func (f *fakeSource) Introspect(ctx context.Context) (catalogtypes.Catalog, error) {
	return catalogtypes.Catalog{}, nil
}
func (f *fakeSource) Execute(ctx context.Context, nativeSQL string, timeout time.Duration) (adapter.RowBatch, error) {
	f.mu.Lock()
	f.gotSQL = append(f.gotSQL, nativeSQL)
	f.mu.Unlock()
	return f.batch, nil
}
func (f *fakeSource) Close() error { return nil }

func (f *fakeSource) sqlSeen() []string {
	f.mu.Lock()
	defer f.mu.Unlock()
	out := make([]string, len(f.gotSQL))
	copy(out, f.gotSQL)
	return out
}

func usersBatch() adapter.RowBatch {
	return adapter.RowBatch{
		Columns:     []string{"id", "username"},
		ColumnTypes: []adapter.ScalarType{adapter.TInt, adapter.TText},
		Rows: [][]adapter.Value{
			{{Type: adapter.TInt, Int: 1}, {Type: adapter.TText, Text: "neo"}},
		},
	}
}

func todosBatch() adapter.RowBatch {
	return adapter.RowBatch{
		Columns:     []string{"id", "user_id", "title"},
		ColumnTypes: []adapter.ScalarType{adapter.TInt, adapter.TInt, adapter.TText},
		Rows: [][]adapter.Value{
			{{Type: adapter.TInt, Int: 10}, {Type: adapter.TInt, Int: 1}, {Type: adapter.TText, Text: "learn go"}},
		},
	}
}

func newTestService(t *testing.T, registry *adapter.Registry) (*QueryService, *store.Store) {
	t.Helper()
	path := filepath.Join(t.TempDir(), "gateway.db")
	st, err := store.Open(path)
	require.NoError(t, err)
	t.Cleanup(func() { st.Close() })

	trans := dialect.NewTranslator(dialect.NewRegistry(), 64)
	svc := New(st, registry, planner.New(), trans, nil, 1000, 5*time.Second)
	return svc, st
}

func TestQuery_S1_SingleSourceRewrite(t *testing.T) {
	src := &fakeSource{kind: adapter.MySQL, batch: usersBatch()}
	reg := adapter.NewRegistry()
	reg.Register(adapter.MySQL, func() adapter.Source { return src })
	svc, st := newTestService(t, reg)
	ctx := context.Background()

	dom, err := st.CreateDomain(ctx, "d1", "")
	require.NoError(t, err)
	conn, err := st.CreateConnection(ctx, dom.ID, "db1", "mysql://unused", "mysql")
	require.NoError(t, err)

	res, err := svc.Query(ctx, QueryRequest{
		DomainID: dom.ID,
		SQL:      `SELECT a || ' ' || b AS c FROM db1.t LIMIT 5`,
		Aliases:  map[string]string{"db1": conn.ID},
	})
	require.NoError(t, err)
	require.Equal(t, 1, len(res.SubQueries))
	require.LessOrEqual(t, res.RowCount, 5)

	// The SQL the adapter actually received must be valid MySQL: the `||`
	// chain rewritten to CONCAT(...), the "db1" connection-alias qualifier
	// gone, and the surrounding FROM/LIMIT intact (not folded into the
	// CONCAT call).
	seen := src.sqlSeen()
	require.Len(t, seen, 1)
	require.Contains(t, seen[0], "concat(a, ' ', b)")
	require.NotContains(t, seen[0], "||")
	require.NotContains(t, seen[0], "db1.")
	require.Contains(t, seen[0], "FROM t")
	require.Contains(t, seen[0], "LIMIT 5")

	history, err := st.ListHistory(ctx, dom.ID, 0)
	require.NoError(t, err)
	require.Len(t, history, 1)
	require.Equal(t, "success", history[0].Status)
	require.LessOrEqual(t, history[0].RowCount, int64(5))
}

func TestQuery_S3_CrossSourceJoin(t *testing.T) {
	users := &fakeSource{kind: adapter.Postgres, batch: usersBatch()}
	todos := &fakeSource{kind: adapter.MySQL, batch: todosBatch()}
	reg := adapter.NewRegistry()
	reg.Register(adapter.Postgres, func() adapter.Source { return users })
	reg.Register(adapter.MySQL, func() adapter.Source { return todos })
	svc, st := newTestService(t, reg)
	ctx := context.Background()

	dom, err := st.CreateDomain(ctx, "d1", "")
	require.NoError(t, err)
	db1, err := st.CreateConnection(ctx, dom.ID, "db1", "postgres://unused", string(adapter.Postgres))
	require.NoError(t, err)
	db2, err := st.CreateConnection(ctx, dom.ID, "db2", "mysql://unused", string(adapter.MySQL))
	require.NoError(t, err)

	res, err := svc.Query(ctx, QueryRequest{
		DomainID: dom.ID,
		SQL:      `SELECT u.username, t.title FROM db1.users u JOIN db2.todos t ON u.id = t.user_id`,
		Aliases:  map[string]string{"db1": db1.ID, "db2": db2.ID},
	})
	require.NoError(t, err)
	require.Len(t, res.SubQueries, 2)
	require.Equal(t, 1, res.RowCount)

	// Neither leg's sub-query SQL may carry the "db1"/"db2" connection
	// alias qualifier — no real backend has a schema by that name.
	usersSeen := users.sqlSeen()
	todosSeen := todos.sqlSeen()
	require.Len(t, usersSeen, 1)
	require.Len(t, todosSeen, 1)
	require.Equal(t, "SELECT * FROM users", usersSeen[0])
	require.Equal(t, "SELECT * FROM todos", todosSeen[0])
}

func TestQuery_S4_SingleConnectionJoinStaysSingleSource(t *testing.T) {
	src := &fakeSource{kind: adapter.Postgres, batch: usersBatch()}
	reg := adapter.NewRegistry()
	reg.Register(adapter.Postgres, func() adapter.Source { return src })
	svc, st := newTestService(t, reg)
	ctx := context.Background()

	dom, err := st.CreateDomain(ctx, "d1", "")
	require.NoError(t, err)
	conn, err := st.CreateConnection(ctx, dom.ID, "db1", "postgres://unused", string(adapter.Postgres))
	require.NoError(t, err)

	res, err := svc.Query(ctx, QueryRequest{
		DomainID: dom.ID,
		SQL:      `SELECT u.username, t.title FROM db1.users u JOIN db1.todos t ON u.id = t.user_id`,
		Aliases:  map[string]string{"db1": conn.ID},
	})
	require.NoError(t, err)
	require.Len(t, res.SubQueries, 1)

	// A same-connection join collapses to a SingleSource plan; the
	// "db1" qualifier picked the connection but must not appear in the
	// SQL actually sent to it.
	seen := src.sqlSeen()
	require.Len(t, seen, 1)
	require.NotContains(t, seen[0], "db1.")
	require.Contains(t, seen[0], "users u")
	require.Contains(t, seen[0], "todos t")
	require.Contains(t, seen[0], "JOIN")
}

func TestQuery_S5_UnionAcrossSources(t *testing.T) {
	pgSrc := &fakeSource{kind: adapter.Postgres, batch: adapter.RowBatch{
		Columns:     []string{"username"},
		ColumnTypes: []adapter.ScalarType{adapter.TText},
		Rows:        [][]adapter.Value{{{Type: adapter.TText, Text: "neo"}}},
	}}
	mysqlSrc := &fakeSource{kind: adapter.MySQL, batch: adapter.RowBatch{
		Columns:     []string{"title"},
		ColumnTypes: []adapter.ScalarType{adapter.TText},
		Rows:        [][]adapter.Value{{{Type: adapter.TText, Text: "learn go"}}},
	}}
	reg := adapter.NewRegistry()
	reg.Register(adapter.Postgres, func() adapter.Source { return pgSrc })
	reg.Register(adapter.MySQL, func() adapter.Source { return mysqlSrc })
	svc, st := newTestService(t, reg)
	ctx := context.Background()

	dom, err := st.CreateDomain(ctx, "d1", "")
	require.NoError(t, err)
	db1, err := st.CreateConnection(ctx, dom.ID, "db1", "postgres://unused", string(adapter.Postgres))
	require.NoError(t, err)
	db2, err := st.CreateConnection(ctx, dom.ID, "db2", "mysql://unused", string(adapter.MySQL))
	require.NoError(t, err)

	res, err := svc.Query(ctx, QueryRequest{
		DomainID: dom.ID,
		SQL:      `SELECT username FROM db1.users UNION SELECT title FROM db2.todos LIMIT 10`,
		Aliases:  map[string]string{"db1": db1.ID, "db2": db2.ID},
	})
	require.NoError(t, err)
	require.Len(t, res.SubQueries, 2)

	// Each UNION leg must reach its adapter free of the other connection's
	// alias qualifier.
	pgSeen := pgSrc.sqlSeen()
	mysqlSeen := mysqlSrc.sqlSeen()
	require.Len(t, pgSeen, 1)
	require.Len(t, mysqlSeen, 1)
	require.NotContains(t, pgSeen[0], "db1.")
	require.Contains(t, pgSeen[0], "FROM users")
	require.NotContains(t, mysqlSeen[0], "db2.")
	require.Contains(t, mysqlSeen[0], "FROM todos")
}

func TestQuery_S6_RejectWriteNeverReachesAdapter(t *testing.T) {
	reached := false
	reg := adapter.NewRegistry()
	reg.Register(adapter.Postgres, func() adapter.Source {
		reached = true
		return &fakeSource{kind: adapter.Postgres, batch: adapter.RowBatch{}}
	})
	svc, st := newTestService(t, reg)
	ctx := context.Background()

	dom, err := st.CreateDomain(ctx, "d1", "")
	require.NoError(t, err)
	conn, err := st.CreateConnection(ctx, dom.ID, "db1", "postgres://unused", string(adapter.Postgres))
	require.NoError(t, err)

	_, err = svc.Query(ctx, QueryRequest{
		DomainID: dom.ID,
		SQL:      `DELETE FROM users`,
		Aliases:  map[string]string{"db1": conn.ID},
	})
	require.Equal(t, apierr.NotAllowed, apierr.CodeOf(err))
	require.False(t, reached)

	history, err := st.ListHistory(ctx, dom.ID, 0)
	require.NoError(t, err)
	require.Len(t, history, 1)
	require.Equal(t, "failed", history[0].Status)
}

func TestQuery_UnknownAliasFailsBeforePlanning(t *testing.T) {
	reg := adapter.NewRegistry()
	svc, st := newTestService(t, reg)
	ctx := context.Background()

	dom, err := st.CreateDomain(ctx, "d1", "")
	require.NoError(t, err)

	_, err = svc.Query(ctx, QueryRequest{
		DomainID: dom.ID,
		SQL:      `SELECT * FROM db1.t`,
		Aliases:  map[string]string{},
	})
	require.Equal(t, apierr.UnknownAlias, apierr.CodeOf(err))
}

func TestCancelDomain_AbortsInFlightContext(t *testing.T) {
	reg := adapter.NewRegistry()
	svc, _ := newTestService(t, reg)

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	token := svc.registerCanceler("d1", cancel)
	defer svc.deregisterCanceler("d1", token)

	svc.CancelDomain("d1")
	require.Error(t, ctx.Err())
	require.Equal(t, context.Canceled, ctx.Err())
}
