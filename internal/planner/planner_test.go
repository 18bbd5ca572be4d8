package planner

import (
	"testing"

	"github.com/stretchr/testify/require"

	"github.com/federatedsql/gateway/internal/admission"
	"github.com/federatedsql/gateway/internal/apierr"
)

func mustAdmit(t *testing.T, sql string) admission.AdmittedQuery {
	t.Helper()
	v := admission.NewValidator(1000)
	q, err := v.Validate(sql)
	require.NoError(t, err)
	return q
}

func TestPlan_SingleSourceWhenOneConnection(t *testing.T) {
	admitted := mustAdmit(t, `SELECT * FROM a.orders`)
	p := New()

	plan, err := p.Plan(admitted, map[string]string{"a": "conn-a"})
	require.NoError(t, err)
	require.NotNil(t, plan.Single)
	require.Equal(t, "conn-a", plan.Single.ConnectionID)
	require.Nil(t, plan.Federated)
	// The connection-alias qualifier "a" is this gateway's own addressing,
	// not a schema the real backend has, so it must not reach the SQL.
	require.NotContains(t, plan.Single.SQL, "a.orders")
	require.Contains(t, plan.Single.SQL, "orders")
}

func TestPlan_FederatedJoinAcrossConnections(t *testing.T) {
	admitted := mustAdmit(t, `SELECT * FROM a.orders o JOIN b.customers c ON o.customer_id = c.id`)
	p := New()

	plan, err := p.Plan(admitted, map[string]string{"a": "conn-a", "b": "conn-b"})
	require.NoError(t, err)
	require.NotNil(t, plan.Federated)
	require.NotNil(t, plan.Federated.Merge.Join)

	sq := plan.Federated.SubQueries
	require.Len(t, sq, 2)
	require.Equal(t, "conn-a", sq[0].ConnectionID, "sub-queries sorted by connection id")
	require.Equal(t, "conn-b", sq[1].ConnectionID)
	require.Equal(t, "SELECT * FROM orders", sq[0].SQL)
	require.Equal(t, "SELECT * FROM customers", sq[1].SQL)

	conds := plan.Federated.Merge.Join.Conditions
	require.Len(t, conds, 1)
	require.Equal(t, "customer_id", conds[0].LeftColumn)
	require.Equal(t, "id", conds[0].RightColumn)
}

func TestPlan_MultiWayJoinPreservesFullTree(t *testing.T) {
	admitted := mustAdmit(t, `SELECT * FROM a.orders o
		JOIN b.customers c ON o.customer_id = c.id
		JOIN a.order_items i ON i.order_id = o.id`)
	p := New()

	plan, err := p.Plan(admitted, map[string]string{"a": "conn-a", "b": "conn-b"})
	require.NoError(t, err)
	require.NotNil(t, plan.Federated)
	require.Len(t, plan.Federated.SubQueries, 3)
	require.Len(t, plan.Federated.Merge.Join.Conditions, 2)
	for _, sq := range plan.Federated.SubQueries {
		require.NotContains(t, sq.SQL, "a.")
		require.NotContains(t, sq.SQL, "b.")
	}
}

func TestPlan_UnknownAlias(t *testing.T) {
	admitted := mustAdmit(t, `SELECT * FROM a.orders`)
	p := New()

	_, err := p.Plan(admitted, map[string]string{"b": "conn-b"})
	require.Equal(t, apierr.UnknownAlias, apierr.CodeOf(err))
}

func TestPlan_AmbiguousUnqualified(t *testing.T) {
	admitted := mustAdmit(t, `SELECT * FROM orders`)
	p := New()

	_, err := p.Plan(admitted, map[string]string{"a": "conn-a", "b": "conn-b"})
	require.Equal(t, apierr.AmbiguousUnqualified, apierr.CodeOf(err))
}

func TestPlan_UnionAllSetOpLegs(t *testing.T) {
	admitted := mustAdmit(t, `SELECT id FROM a.orders UNION ALL SELECT id FROM b.orders`)
	p := New()

	plan, err := p.Plan(admitted, map[string]string{"a": "conn-a", "b": "conn-b"})
	require.NoError(t, err)
	require.NotNil(t, plan.Federated)
	require.NotNil(t, plan.Federated.Merge.SetOp)
	require.Equal(t, SetOpUnionAll, plan.Federated.Merge.SetOp.Op)
	legs := plan.Federated.Merge.SetOp.Legs
	require.Len(t, legs, 2)
	for _, leg := range legs {
		require.NotContains(t, leg.SQL, "a.orders")
		require.NotContains(t, leg.SQL, "b.orders")
		require.Contains(t, leg.SQL, "FROM orders")
	}
}

// TestPlan_S4_SameConnectionJoinCollapsesToSingleSource mirrors scenario
// S4: a join whose tables all resolve to the same connection becomes a
// SingleSource plan, and the qualifier used to pick that connection
// ("db1") must not survive into the SQL handed to the adapter.
func TestPlan_S4_SameConnectionJoinCollapsesToSingleSource(t *testing.T) {
	admitted := mustAdmit(t, `SELECT u.id, t.title FROM db1.users u JOIN db1.todos t ON u.id = t.user_id`)
	p := New()

	plan, err := p.Plan(admitted, map[string]string{"db1": "conn-db1"})
	require.NoError(t, err)
	require.NotNil(t, plan.Single)
	require.Nil(t, plan.Federated)
	require.Equal(t, "conn-db1", plan.Single.ConnectionID)
	require.NotContains(t, plan.Single.SQL, "db1.")
	require.Contains(t, plan.Single.SQL, "users u")
	require.Contains(t, plan.Single.SQL, "todos t")
	require.Contains(t, plan.Single.SQL, "JOIN")
}

// TestPlan_S3_JoinConditionBindsOnASAlias mirrors scenario S3's exact
// shape: the schema qualifier used to pick a connection ("db1"/"db2") and
// the AS-alias used inside the join condition ("u"/"t") are different
// strings, and the planner must bind the ON clause by the alias actually
// used in the SQL text, not by the connection-selecting qualifier.
func TestPlan_S3_JoinConditionBindsOnASAlias(t *testing.T) {
	admitted := mustAdmit(t, `SELECT u.id, t.title FROM db1.users u JOIN db2.todos t ON u.id = t.user_id`)
	p := New()

	plan, err := p.Plan(admitted, map[string]string{"db1": "conn-db1", "db2": "conn-db2"})
	require.NoError(t, err)
	require.NotNil(t, plan.Federated)
	conds := plan.Federated.Merge.Join.Conditions
	require.Len(t, conds, 1)
	require.Equal(t, "id", conds[0].LeftColumn)
	require.Equal(t, "user_id", conds[0].RightColumn)
}

func TestPlan_NonEqualityJoinIsUnsupported(t *testing.T) {
	admitted := mustAdmit(t, `SELECT * FROM a.orders o JOIN b.customers c ON o.customer_id > c.id`)
	p := New()

	_, err := p.Plan(admitted, map[string]string{"a": "conn-a", "b": "conn-b"})
	require.Equal(t, apierr.UnsupportedJoin, apierr.CodeOf(err))
}
