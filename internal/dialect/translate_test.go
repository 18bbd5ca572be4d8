package dialect

import (
	"testing"

	"github.com/stretchr/testify/require"

	"github.com/federatedsql/gateway/internal/adapter"
	"github.com/federatedsql/gateway/internal/admission"
	"github.com/federatedsql/gateway/internal/apierr"
)

func admit(t *testing.T, sql string) admission.AdmittedQuery {
	t.Helper()
	v := admission.NewValidator(1000)
	q, err := v.Validate(sql)
	require.NoError(t, err)
	return q
}

func TestTranslate_PostgresIsNearIdentity(t *testing.T) {
	tr := NewTranslator(NewRegistry(), 10)
	q := admit(t, `SELECT first_name || ' ' || last_name AS full_name FROM users`)

	out, err := tr.Translate(q, adapter.Postgres)
	require.NoError(t, err)
	require.Contains(t, out, "||")
}

func TestTranslate_MySQLRewritesConcat(t *testing.T) {
	tr := NewTranslator(NewRegistry(), 10)
	q := admit(t, `SELECT first_name || ' ' || last_name AS full_name FROM users`)

	out, err := tr.Translate(q, adapter.MySQL)
	require.NoError(t, err)
	// The rewritten call is re-parsed and deparsed, which renders function
	// names lower-case.
	require.Contains(t, out, "concat(")
	require.NotContains(t, out, "||")
	require.Contains(t, out, "FROM")
	require.Contains(t, out, "users")
}

// TestTranslate_S1_CanonicalExample is the exact SQL scenario S1 names:
// the `||` chain sits in a single projection alongside FROM and LIMIT,
// which a whole-statement text split on `||` would have folded into one
// invalid CONCAT(...) call spanning the entire query.
func TestTranslate_S1_CanonicalExample(t *testing.T) {
	tr := NewTranslator(NewRegistry(), 10)
	q := admit(t, `SELECT a || ' ' || b AS c FROM t LIMIT 5`)

	out, err := tr.Translate(q, adapter.MySQL)
	require.NoError(t, err)
	require.Contains(t, out, "concat(a, ' ', b)")
	require.Contains(t, out, "FROM")
	require.Contains(t, out, "t")
	require.Contains(t, out, "LIMIT 5")
	require.NotContains(t, out, "||")
	// The rewrite must never fold FROM/LIMIT into the CONCAT call.
	require.NotContains(t, out, "concat(SELECT")
	require.NotContains(t, out, "FROM t)")
}

// TestTranslate_ConcatInWhereClauseRewritten exercises the concat rewrite
// outside the projection list, where a whole-statement `||` text split
// would have merged the WHERE predicate with the rest of the query.
func TestTranslate_ConcatInWhereClauseRewritten(t *testing.T) {
	tr := NewTranslator(NewRegistry(), 10)
	q := admit(t, `SELECT id FROM users WHERE first_name || ' ' || last_name = 'Ada Lovelace'`)

	out, err := tr.Translate(q, adapter.MySQL)
	require.NoError(t, err)
	require.Contains(t, out, "concat(first_name, ' ', last_name)")
	require.Contains(t, out, "WHERE")
	require.NotContains(t, out, "||")
}

// TestTranslate_ConcatInJoinOnRewritten exercises the concat rewrite inside
// a JOIN's ON clause.
func TestTranslate_ConcatInJoinOnRewritten(t *testing.T) {
	tr := NewTranslator(NewRegistry(), 10)
	q := admit(t, `SELECT u.id FROM users u JOIN logins l ON u.first_name || u.last_name = l.full_name`)

	out, err := tr.Translate(q, adapter.MySQL)
	require.NoError(t, err)
	require.Contains(t, out, "concat(u.first_name, u.last_name)")
	require.Contains(t, out, "JOIN")
	require.NotContains(t, out, "||")
}

func TestTranslate_DorisSharesMySQLRewrite(t *testing.T) {
	tr := NewTranslator(NewRegistry(), 10)
	q := admit(t, `SELECT a || b AS ab FROM t`)

	out, err := tr.Translate(q, adapter.Doris)
	require.NoError(t, err)
	require.Contains(t, out, "concat(")
}

func TestTranslate_IntervalRewrittenForMySQL(t *testing.T) {
	tr := NewTranslator(NewRegistry(), 10)
	q := admit(t, `SELECT * FROM orders WHERE created_at > now() - INTERVAL '3 days'`)

	out, err := tr.Translate(q, adapter.MySQL)
	require.NoError(t, err)
	require.Contains(t, out, "INTERVAL 3 day")
	require.NotContains(t, out, "'3 days'")
}

func TestTranslate_IntervalUnsupportedOnDruid(t *testing.T) {
	tr := NewTranslator(NewRegistry(), 10)
	q := admit(t, `SELECT * FROM orders WHERE created_at > now() - INTERVAL '3 days'`)

	_, err := tr.Translate(q, adapter.Druid)
	require.Error(t, err)
	require.Equal(t, apierr.DialectUnsupported, apierr.CodeOf(err))
}

func TestTranslate_IdentifierQuotingConvertsForMySQL(t *testing.T) {
	tr := NewTranslator(NewRegistry(), 10)
	q := admit(t, `SELECT "order" FROM "orders"`)

	out, err := tr.Translate(q, adapter.MySQL)
	require.NoError(t, err)
	require.Contains(t, out, "`order`")
	// Admission's deparse keeps quotes only where an identifier needs them:
	// "order" is a reserved word, orders is not.
	require.Contains(t, out, "FROM orders")
}

func TestTranslate_CachesResult(t *testing.T) {
	tr := NewTranslator(NewRegistry(), 10)
	q := admit(t, `SELECT a || b AS ab FROM t`)

	first, err := tr.Translate(q, adapter.MySQL)
	require.NoError(t, err)

	second, err := tr.Translate(q, adapter.MySQL)
	require.NoError(t, err)
	require.Equal(t, first, second)
}
