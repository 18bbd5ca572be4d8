package executor

import (
	"encoding/base64"

	"github.com/federatedsql/gateway/internal/adapter"
)

// extractRows converts a single-source adapter.RowBatch directly into
// JSON-ready rows (spec.md §4.5's single-source path bypasses the merge
// session entirely, so it needs its own Value->any conversion). The two
// paths differ for two types: booleans stay Go bools here but come back
// from Session.merge as 0/1 integers, and bytes are base64 text here but
// raw text there.
func extractRows(batch adapter.RowBatch) []map[string]any {
	rows := make([]map[string]any, len(batch.Rows))
	for i, row := range batch.Rows {
		m := make(map[string]any, len(batch.Columns))
		for j, v := range row {
			name := ""
			if j < len(batch.Columns) {
				name = batch.Columns[j]
			}
			m[name] = extractValue(v)
		}
		rows[i] = m
	}
	return rows
}

// extractValue renders one tagged Value as the value a JSON encoder would
// receive: NULL becomes nil, time values render as RFC3339, binary values
// are base64-encoded text, and decimal/JSON values pass through as their
// already-textual representation (spec.md §4.6 step 5).
func extractValue(v adapter.Value) any {
	if v.Null {
		return nil
	}
	switch v.Type {
	case adapter.TInt:
		return v.Int
	case adapter.TFloat:
		return v.Float
	case adapter.TBool:
		return v.Bool
	case adapter.TText:
		return v.Text
	case adapter.TTime:
		return v.Time.UTC().Format("2006-01-02T15:04:05.999999999Z07:00")
	case adapter.TBytes:
		return base64.StdEncoding.EncodeToString(v.Bytes)
	case adapter.TDecimal:
		return v.Decimal
	case adapter.TJSON:
		return string(v.JSON)
	default:
		return nil
	}
}
