package executor

import (
	"context"
	"strings"

	"github.com/federatedsql/gateway/internal/adapter"
	"github.com/federatedsql/gateway/internal/apierr"
	"github.com/federatedsql/gateway/internal/dialect"
)

// ingest creates a synthetic table named tableName shaped like batch and
// bulk-inserts its rows inside one transaction (spec.md §4.6 step 3).
func (s *Session) ingest(ctx context.Context, tableName string, batch adapter.RowBatch) error {
	d := dialect.SQLiteDialect{}

	cols := make([]string, len(batch.Columns))
	for i, c := range batch.Columns {
		typ := "TEXT"
		if i < len(batch.ColumnTypes) {
			typ = sqliteStorageClass(batch.ColumnTypes[i])
		}
		cols[i] = d.QuoteIdentifier(columnName(c, i)) + " " + typ
	}

	createSQL := "CREATE TABLE " + d.QuoteIdentifier(tableName) + " (" + strings.Join(cols, ", ") + ")"
	if _, err := s.db.ExecContext(ctx, createSQL); err != nil {
		return apierr.New(apierr.Internal, "creating merge table %s: %s", tableName, err.Error())
	}
	if len(batch.Rows) == 0 {
		return nil
	}

	placeholders := make([]string, len(batch.Columns))
	for i := range placeholders {
		placeholders[i] = "?"
	}
	insertSQL := "INSERT INTO " + d.QuoteIdentifier(tableName) + " VALUES (" + strings.Join(placeholders, ", ") + ")"

	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return apierr.New(apierr.Internal, "%s", err.Error())
	}
	defer tx.Rollback() //nolint:errcheck

	stmt, err := tx.PrepareContext(ctx, insertSQL)
	if err != nil {
		return apierr.New(apierr.Internal, "preparing insert into %s: %s", tableName, err.Error())
	}
	defer stmt.Close()

	for _, row := range batch.Rows {
		args := make([]any, len(row))
		for i, v := range row {
			args[i] = sqliteArg(v)
		}
		if _, err := stmt.ExecContext(ctx, args...); err != nil {
			return apierr.New(apierr.Internal, "inserting into %s: %s", tableName, err.Error())
		}
	}
	return tx.Commit()
}

func columnName(name string, idx int) string {
	if name == "" {
		return "col" + itoa(idx)
	}
	return name
}

func itoa(n int) string {
	if n == 0 {
		return "0"
	}
	digits := []byte{}
	for n > 0 {
		digits = append([]byte{byte('0' + n%10)}, digits...)
		n /= 10
	}
	return string(digits)
}

// sqliteStorageClass maps the tagged scalar set to a SQLite column
// affinity (spec.md §4.6 step 3: "INTEGER, REAL, TEXT, BLOB; JSON/Decimal
// stored as TEXT").
func sqliteStorageClass(t adapter.ScalarType) string {
	switch t {
	case adapter.TInt, adapter.TBool:
		return "INTEGER"
	case adapter.TFloat:
		return "REAL"
	case adapter.TBytes:
		return "BLOB"
	default: // TText, TTime, TDecimal, TJSON
		return "TEXT"
	}
}

// sqliteArg converts one tagged Value into a database/sql driver argument.
func sqliteArg(v adapter.Value) any {
	if v.Null {
		return nil
	}
	switch v.Type {
	case adapter.TInt:
		return v.Int
	case adapter.TFloat:
		return v.Float
	case adapter.TBool:
		if v.Bool {
			return int64(1)
		}
		return int64(0)
	case adapter.TText:
		return v.Text
	case adapter.TTime:
		return v.Time.UTC().Format("2006-01-02T15:04:05.999999999Z07:00")
	case adapter.TBytes:
		return v.Bytes
	case adapter.TDecimal:
		return v.Decimal
	case adapter.TJSON:
		return string(v.JSON)
	default:
		return nil
	}
}

// merge executes mergeSQL against the session and scans every column as
// a generic any, leaving JSON-shape decisions to extractRows's caller
// (spec.md §4.6 step 5 operates on the already-typed sub-batches; the
// merge step's own output only needs to survive the round trip through
// SQLite's dynamic typing).
func (s *Session) merge(ctx context.Context, mergeSQL string) (cols []string, rows []map[string]any, count int, err error) {
	rs, err := s.db.QueryContext(ctx, mergeSQL)
	if err != nil {
		return nil, nil, 0, apierr.New(apierr.Internal, "merge query failed: %s", err.Error())
	}
	defer rs.Close()

	cols, err = rs.Columns()
	if err != nil {
		return nil, nil, 0, apierr.New(apierr.Internal, "%s", err.Error())
	}

	for rs.Next() {
		dest := make([]any, len(cols))
		ptrs := make([]any, len(cols))
		for i := range dest {
			ptrs[i] = &dest[i]
		}
		if err := rs.Scan(ptrs...); err != nil {
			return nil, nil, 0, apierr.New(apierr.Internal, "scanning merged row: %s", err.Error())
		}
		row := make(map[string]any, len(cols))
		for i, c := range cols {
			row[c] = normalizeMergedValue(dest[i])
		}
		rows = append(rows, row)
		count++
	}
	return cols, rows, count, rs.Err()
}

// normalizeMergedValue converts a database/sql-decoded SQLite value
// (int64, float64, string, []byte, nil) into its JSON-ready form.
func normalizeMergedValue(v any) any {
	if b, ok := v.([]byte); ok {
		return string(b)
	}
	return v
}
