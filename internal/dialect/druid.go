package dialect

import "strconv"

// druidDialect targets Druid's SQL query layer. Druid has no interval
// arithmetic grammar, so RewriteInterval always fails with
// DialectUnsupported per spec.md §4.2 ("never silent mistranslation").
type druidDialect struct{}

func (druidDialect) Name() string { return "druid" }

func (druidDialect) QuoteIdentifier(s string) string {
	return `"` + escapeQuote(s, '"') + `"`
}

func (druidDialect) RenderLimit(n int) string {
	return "LIMIT " + strconv.Itoa(n)
}

func (druidDialect) RewriteConcat(args []string) string {
	return "CONCAT(" + joinArgs(args) + ")"
}

func (druidDialect) RewriteInterval(IntervalExpr) (string, bool) {
	return "", false
}

var druidFunctionMap = map[string]string{
	"concat":            "CONCAT",
	"current_date":      "CURRENT_DATE",
	"current_timestamp": "CURRENT_TIMESTAMP",
}

func (druidDialect) RewriteFunction(name string, args []string) (string, bool) {
	mapped, ok := druidFunctionMap[name]
	if !ok {
		mapped = name
	}
	return mapped + "(" + joinArgs(args) + ")", true
}
