package executor

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"github.com/federatedsql/gateway/internal/adapter"
	"github.com/federatedsql/gateway/internal/apierr"
	"github.com/federatedsql/gateway/internal/catalogtypes"
	"github.com/federatedsql/gateway/internal/dialect"
	"github.com/federatedsql/gateway/internal/planner"
)

// fakeSource is a minimal in-memory adapter.Source stand-in: Execute
// returns whatever batch was configured for it, ignoring nativeSQL, so
// tests can focus on the engine's fan-out/ingest/merge/extract plumbing
// rather than real query execution.
type fakeSource struct {
	kind    adapter.Kind
	batch   adapter.RowBatch
	err     error
	delay   time.Duration
	calls   int
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
	f.calls++
	if f.delay > 0 {
		select {
		case <-time.After(f.delay):
		case <-ctx.Done():
			return adapter.RowBatch{}, ctx.Err()
		}
	}
	if f.err != nil {
		return adapter.RowBatch{}, f.err
	}
	return f.batch, nil
}
func (f *fakeSource) Close() error { return nil }

func newTestEngine(sources map[string]adapter.Source, kinds map[string]adapter.Kind) *Engine {
	reg := dialect.NewRegistry()
	trans := dialect.NewTranslator(reg, 32)
	return NewEngine(sources, kinds, trans)
}

func ordersBatch() adapter.RowBatch {
	return adapter.RowBatch{
		Columns:     []string{"id", "customer_id"},
		ColumnTypes: []adapter.ScalarType{adapter.TInt, adapter.TInt},
		Rows: [][]adapter.Value{
			{{Type: adapter.TInt, Int: 1}, {Type: adapter.TInt, Int: 100}},
			{{Type: adapter.TInt, Int: 2}, {Type: adapter.TInt, Int: 200}},
		},
	}
}

func customersBatch() adapter.RowBatch {
	return adapter.RowBatch{
		Columns:     []string{"id", "name"},
		ColumnTypes: []adapter.ScalarType{adapter.TInt, adapter.TText},
		Rows: [][]adapter.Value{
			{{Type: adapter.TInt, Int: 100}, {Type: adapter.TText, Text: "alice"}},
			{{Type: adapter.TInt, Int: 200}, {Type: adapter.TText, Text: "bob"}},
		},
	}
}

func TestRun_SingleSourceExtractsRows(t *testing.T) {
	src := &fakeSource{kind: adapter.Postgres, batch: ordersBatch()}
	e := newTestEngine(
		map[string]adapter.Source{"conn-a": src},
		map[string]adapter.Kind{"conn-a": adapter.Postgres},
	)

	plan := planner.Plan{Single: &planner.SingleSource{ConnectionID: "conn-a", SQL: "SELECT id, customer_id FROM orders"}}

	res, err := e.Run(context.Background(), "SELECT * FROM a.orders", plan, 0)
	require.NoError(t, err)
	require.Equal(t, Done, res.Status)
	require.Equal(t, 2, res.RowCount)
	require.Equal(t, int64(100), res.Rows[0]["customer_id"])
	require.Len(t, res.SubQueries, 1)
	require.Equal(t, 1, src.calls)
}

func TestRun_FederatedJoinMergesAcrossSources(t *testing.T) {
	orders := &fakeSource{kind: adapter.Postgres, batch: ordersBatch()}
	customers := &fakeSource{kind: adapter.MySQL, batch: customersBatch()}
	e := newTestEngine(
		map[string]adapter.Source{"conn-a": orders, "conn-b": customers},
		map[string]adapter.Kind{"conn-a": adapter.Postgres, "conn-b": adapter.MySQL},
	)

	plan := planner.Plan{Federated: &planner.Federated{
		SubQueries: []planner.SubQuery{
			{ConnectionID: "conn-a", SQL: "SELECT id, customer_id FROM orders"},
			{ConnectionID: "conn-b", SQL: "SELECT id, name FROM customers"},
		},
		Merge: planner.MergePlan{Join: &planner.JoinMerge{
			Tables: []string{"t0", "t1"},
			Conditions: []planner.EqualityCond{
				{LeftTable: "t0", LeftColumn: "customer_id", RightTable: "t1", RightColumn: "id"},
			},
		}},
	}}

	res, err := e.Run(context.Background(), "SELECT * FROM a.orders o JOIN b.customers c ON o.customer_id = c.id", plan, 0)
	require.NoError(t, err)
	require.Equal(t, Done, res.Status)
	require.Equal(t, 2, res.RowCount)
	require.Len(t, res.SubQueries, 2)
	require.Contains(t, res.Columns, "name")
}

func TestRun_FederatedSetOpUnionAll(t *testing.T) {
	a := &fakeSource{kind: adapter.Postgres, batch: adapter.RowBatch{
		Columns:     []string{"id"},
		ColumnTypes: []adapter.ScalarType{adapter.TInt},
		Rows:        [][]adapter.Value{{{Type: adapter.TInt, Int: 1}}},
	}}
	b := &fakeSource{kind: adapter.MySQL, batch: adapter.RowBatch{
		Columns:     []string{"id"},
		ColumnTypes: []adapter.ScalarType{adapter.TInt},
		Rows:        [][]adapter.Value{{{Type: adapter.TInt, Int: 2}}},
	}}
	e := newTestEngine(
		map[string]adapter.Source{"conn-a": a, "conn-b": b},
		map[string]adapter.Kind{"conn-a": adapter.Postgres, "conn-b": adapter.MySQL},
	)

	plan := planner.Plan{Federated: &planner.Federated{
		SubQueries: []planner.SubQuery{
			{ConnectionID: "conn-a", SQL: "SELECT id FROM orders"},
			{ConnectionID: "conn-b", SQL: "SELECT id FROM orders"},
		},
		Merge: planner.MergePlan{SetOp: &planner.SetOpMerge{
			Op: planner.SetOpUnionAll,
			Legs: []planner.SubQuery{
				{ConnectionID: "conn-a", SQL: "SELECT id FROM orders"},
				{ConnectionID: "conn-b", SQL: "SELECT id FROM orders"},
			},
		}},
	}}

	res, err := e.Run(context.Background(), "SELECT id FROM a.orders UNION ALL SELECT id FROM b.orders", plan, 0)
	require.NoError(t, err)
	require.Equal(t, 2, res.RowCount)
}

func TestRun_SourceUnavailableSurfaces(t *testing.T) {
	e := newTestEngine(map[string]adapter.Source{}, map[string]adapter.Kind{})
	plan := planner.Plan{Single: &planner.SingleSource{ConnectionID: "conn-missing", SQL: "SELECT 1"}}

	_, err := e.Run(context.Background(), "SELECT 1", plan, 0)
	require.Equal(t, apierr.SourceUnavailable, apierr.CodeOf(err))
}

func TestRun_LimitIsAppliedAtMerge(t *testing.T) {
	orders := &fakeSource{kind: adapter.Postgres, batch: ordersBatch()}
	customers := &fakeSource{kind: adapter.MySQL, batch: customersBatch()}
	e := newTestEngine(
		map[string]adapter.Source{"conn-a": orders, "conn-b": customers},
		map[string]adapter.Kind{"conn-a": adapter.Postgres, "conn-b": adapter.MySQL},
	)

	plan := planner.Plan{Federated: &planner.Federated{
		SubQueries: []planner.SubQuery{
			{ConnectionID: "conn-a", SQL: "SELECT id, customer_id FROM orders"},
			{ConnectionID: "conn-b", SQL: "SELECT id, name FROM customers"},
		},
		Merge: planner.MergePlan{Join: &planner.JoinMerge{
			Tables: []string{"t0", "t1"},
			Conditions: []planner.EqualityCond{
				{LeftTable: "t0", LeftColumn: "customer_id", RightTable: "t1", RightColumn: "id"},
			},
		}},
	}}

	res, err := e.Run(context.Background(), "SELECT * FROM a.orders o JOIN b.customers c ON o.customer_id = c.id", plan, 1)
	require.NoError(t, err)
	require.True(t, res.LimitApplied)
	require.Equal(t, 1, res.RowCount)
}
