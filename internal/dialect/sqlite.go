package dialect

import "strconv"

// SQLiteDialect targets the in-memory merge engine the federated executor
// uses to recombine sub-query results (spec.md §4.6). It is not part of
// the client-selectable Registry — SQLite is never a connection kind a
// user targets — but it is still a Dialect the translator can render
// MergePlan SQL through, since the merge step is itself "translating"
// JoinMerge/SetOpMerge SQL into the merge engine's native syntax.
type SQLiteDialect struct{}

func (SQLiteDialect) Name() string { return "sqlite" }

func (SQLiteDialect) QuoteIdentifier(s string) string {
	return `"` + escapeQuote(s, '"') + `"`
}

func (SQLiteDialect) RenderLimit(n int) string {
	return "LIMIT " + strconv.Itoa(n)
}

func (SQLiteDialect) RewriteConcat(args []string) string {
	out := args[0]
	for _, a := range args[1:] {
		out += " || " + a
	}
	return out
}

func (SQLiteDialect) RewriteInterval(ex IntervalExpr) (string, bool) {
	// SQLite has no INTERVAL type; date/time arithmetic on merged rows is
	// out of scope for the merge step (the underlying sources already
	// evaluated any interval arithmetic in their own sub-queries before
	// rows reached the merge engine).
	return "", false
}

func (SQLiteDialect) RewriteFunction(name string, args []string) (string, bool) {
	return name + "(" + joinArgs(args) + ")", true
}
