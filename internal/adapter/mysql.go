package adapter

import (
	"context"
	"database/sql"
	"time"

	_ "github.com/go-sql-driver/mysql"

	"github.com/federatedsql/gateway/internal/catalogtypes"
)

// mysqlSource pools connections via database/sql, exactly as the teacher's
// serv/db.go newDB does for every database/sql-backed engine. Doris speaks
// the MySQL wire protocol and exposes the same information_schema views,
// so it reuses this adapter under a distinct Kind (so history/errors still
// report "doris", not "mysql").
type mysqlSource struct {
	kind Kind
	db   *sql.DB
}

func newMySQLSource(kind Kind) Source {
	return &mysqlSource{kind: kind}
}

func (s *mysqlSource) Kind() Kind { return s.kind }

func (s *mysqlSource) Connect(ctx context.Context, dsn string, cfg PoolConfig) error {
	db, err := sql.Open("mysql", dsn)
	if err != nil {
		return wrapConnectError(s.kind, err)
	}
	if cfg.MaxConnections > 0 {
		db.SetMaxOpenConns(cfg.MaxConnections)
	}
	if cfg.PoolSize > 0 {
		db.SetMaxIdleConns(cfg.PoolSize)
	}
	if cfg.MaxConnLifetime > 0 {
		db.SetConnMaxLifetime(cfg.MaxConnLifetime)
	}
	if cfg.MaxConnIdleTime > 0 {
		db.SetConnMaxIdleTime(cfg.MaxConnIdleTime)
	}
	if err := db.PingContext(ctx); err != nil {
		db.Close()
		return wrapConnectError(s.kind, err)
	}
	s.db = db
	return nil
}

func (s *mysqlSource) Ping(ctx context.Context) error {
	if err := s.db.PingContext(ctx); err != nil {
		return wrapConnectError(s.kind, err)
	}
	return nil
}

func (s *mysqlSource) Close() error {
	if s.db != nil {
		return s.db.Close()
	}
	return nil
}

const mysqlIntrospectSQL = `
SELECT c.table_schema, c.table_name, t.table_type, c.column_name, c.data_type,
       c.is_nullable = 'YES' AS nullable,
       c.column_key = 'PRI' AS is_pk,
       c.column_key = 'MUL' AS is_fk
FROM information_schema.columns c
JOIN information_schema.tables t
  ON t.table_schema = c.table_schema AND t.table_name = c.table_name
WHERE c.table_schema = DATABASE()
ORDER BY c.table_schema, c.table_name, c.ordinal_position
`

func (s *mysqlSource) Introspect(ctx context.Context) (catalogtypes.Catalog, error) {
	rows, err := s.db.QueryContext(ctx, mysqlIntrospectSQL)
	if err != nil {
		return catalogtypes.Catalog{}, wrapExecError(s.kind, mysqlIntrospectSQL, err)
	}
	defer rows.Close()

	type key struct{ schema, name string }
	order := []key{}
	tables := map[key]*catalogtypes.Table{}
	isView := map[key]bool{}

	for rows.Next() {
		var schema, name, tableType, colName, dataType string
		var nullable, isPK, isFK bool
		if err := rows.Scan(&schema, &name, &tableType, &colName, &dataType, &nullable, &isPK, &isFK); err != nil {
			return catalogtypes.Catalog{}, wrapExecError(s.kind, mysqlIntrospectSQL, err)
		}
		k := key{schema, name}
		t, ok := tables[k]
		if !ok {
			t = &catalogtypes.Table{Schema: schema, Name: name}
			tables[k] = t
			order = append(order, k)
			isView[k] = tableType == "VIEW"
		}
		t.Columns = append(t.Columns, catalogtypes.Column{
			Name: colName, Type: dataType, Nullable: nullable, IsPK: isPK, IsFK: isFK,
		})
	}
	if err := rows.Err(); err != nil {
		return catalogtypes.Catalog{}, wrapExecError(s.kind, mysqlIntrospectSQL, err)
	}

	var cat catalogtypes.Catalog
	for _, k := range order {
		if isView[k] {
			cat.Views = append(cat.Views, *tables[k])
		} else {
			cat.Tables = append(cat.Tables, *tables[k])
		}
	}
	return cat, nil
}

func (s *mysqlSource) Execute(ctx context.Context, nativeSQL string, timeout time.Duration) (RowBatch, error) {
	qctx := ctx
	if timeout > 0 {
		var cancel context.CancelFunc
		qctx, cancel = context.WithTimeout(ctx, timeout)
		defer cancel()
	}

	rows, err := s.db.QueryContext(qctx, nativeSQL)
	if err != nil {
		return RowBatch{}, wrapExecError(s.kind, nativeSQL, err)
	}
	defer rows.Close()

	cols, err := rows.Columns()
	if err != nil {
		return RowBatch{}, wrapExecError(s.kind, nativeSQL, err)
	}
	batch := RowBatch{Columns: cols}

	for rows.Next() {
		raw := make([]any, len(cols))
		ptrs := make([]any, len(cols))
		for i := range raw {
			ptrs[i] = &raw[i]
		}
		if err := rows.Scan(ptrs...); err != nil {
			return RowBatch{}, wrapExecError(s.kind, nativeSQL, err)
		}
		row := make([]Value, len(raw))
		for i, v := range raw {
			row[i] = mysqlToValue(v)
		}
		batch.Rows = append(batch.Rows, row)
	}
	if err := rows.Err(); err != nil {
		return RowBatch{}, wrapExecError(s.kind, nativeSQL, err)
	}
	return batch, nil
}

func mysqlToValue(v any) Value {
	switch x := v.(type) {
	case nil:
		return Value{Null: true}
	case int64:
		return Value{Type: TInt, Int: x}
	case float64:
		return Value{Type: TFloat, Float: x}
	case bool:
		return Value{Type: TBool, Bool: x}
	case []byte:
		// go-sql-driver/mysql returns most non-numeric columns as []byte.
		return Value{Type: TText, Text: string(x)}
	case string:
		return Value{Type: TText, Text: x}
	case time.Time:
		return Value{Type: TTime, Time: x}
	default:
		return Value{Type: TText, Text: ""}
	}
}
