package dialect

import "strconv"

// postgresDialect is close to identity: the canonical dialect is already
// Postgres-flavored SQL-92, so translating "to postgres" mostly just
// re-renders the admitted AST.
type postgresDialect struct{}

func (postgresDialect) Name() string { return "postgres" }

func (postgresDialect) QuoteIdentifier(s string) string {
	return `"` + escapeQuote(s, '"') + `"`
}

func (postgresDialect) RenderLimit(n int) string {
	return "LIMIT " + strconv.Itoa(n)
}

func (postgresDialect) RewriteConcat(args []string) string {
	out := args[0]
	for _, a := range args[1:] {
		out += " || " + a
	}
	return out
}

func (postgresDialect) RewriteInterval(ex IntervalExpr) (string, bool) {
	return "INTERVAL '" + strconv.Itoa(ex.Quantity) + " " + ex.Unit + "'", true
}

func (postgresDialect) RewriteFunction(name string, args []string) (string, bool) {
	return name + "(" + joinArgs(args) + ")", true
}

func joinArgs(args []string) string {
	out := ""
	for i, a := range args {
		if i > 0 {
			out += ", "
		}
		out += a
	}
	return out
}

func escapeQuote(s string, q byte) string {
	out := make([]byte, 0, len(s))
	for i := 0; i < len(s); i++ {
		if s[i] == q {
			out = append(out, q, q)
		} else {
			out = append(out, s[i])
		}
	}
	return string(out)
}
