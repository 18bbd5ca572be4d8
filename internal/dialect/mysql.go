package dialect

import "strconv"

// mysqlDialect covers both MySQL and Doris (Doris is MySQL-wire and
// largely MySQL-SQL compatible); name is kept distinct per instance so
// errors/history report the real engine rather than always "mysql".
type mysqlDialect struct{ name string }

func (d mysqlDialect) Name() string { return d.name }

func (mysqlDialect) QuoteIdentifier(s string) string {
	return "`" + escapeQuote(s, '`') + "`"
}

func (mysqlDialect) RenderLimit(n int) string {
	return "LIMIT " + strconv.Itoa(n)
}

// RewriteConcat: MySQL/Doris have no `||` string operator by default
// (PIPES_AS_CONCAT is off in ANSI-free mode), so canonical `a || b || c`
// becomes `CONCAT(a, b, c)`.
func (mysqlDialect) RewriteConcat(args []string) string {
	return "CONCAT(" + joinArgs(args) + ")"
}

// RewriteInterval: canonical `INTERVAL 'n unit'` arithmetic becomes
// MySQL's `INTERVAL n unit` (no quotes, unit is a bare keyword).
func (mysqlDialect) RewriteInterval(ex IntervalExpr) (string, bool) {
	return "INTERVAL " + strconv.Itoa(ex.Quantity) + " " + mysqlUnit(ex.Unit), true
}

func mysqlUnit(u string) string {
	switch u {
	case "day", "month", "year", "hour", "minute", "second", "week":
		return u
	default:
		return u
	}
}

var mysqlFunctionMap = map[string]string{
	"concat":            "CONCAT",
	"current_date":      "CURDATE",
	"current_timestamp": "NOW",
	"char_length":       "CHAR_LENGTH",
	"octet_length":      "LENGTH",
}

func (mysqlDialect) RewriteFunction(name string, args []string) (string, bool) {
	mapped, ok := mysqlFunctionMap[name]
	if !ok {
		mapped = name
	}
	return mapped + "(" + joinArgs(args) + ")", true
}
