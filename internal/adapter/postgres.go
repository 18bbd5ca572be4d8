package adapter

import (
	"context"
	"time"

	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/federatedsql/gateway/internal/catalogtypes"
)

// postgresSource pools connections with pgxpool, following the teacher's
// serv/db.go initPostgres dial path, generalized to per-connection (not
// process-global) pool configuration.
type postgresSource struct {
	pool *pgxpool.Pool
}

func newPostgresSource() Source {
	return &postgresSource{}
}

func (s *postgresSource) Kind() Kind { return Postgres }

func (s *postgresSource) Connect(ctx context.Context, url string, cfg PoolConfig) error {
	pcfg, err := pgxpool.ParseConfig(url)
	if err != nil {
		return wrapConnectError(Postgres, err)
	}
	if cfg.MaxConnections > 0 {
		pcfg.MaxConns = int32(cfg.MaxConnections)
	}
	if cfg.PoolSize > 0 && int32(cfg.PoolSize) < pcfg.MaxConns {
		pcfg.MinConns = int32(cfg.PoolSize)
	}
	if cfg.MaxConnLifetime > 0 {
		pcfg.MaxConnLifetime = cfg.MaxConnLifetime
	}
	if cfg.MaxConnIdleTime > 0 {
		pcfg.MaxConnIdleTime = cfg.MaxConnIdleTime
	}

	pool, err := pgxpool.NewWithConfig(ctx, pcfg)
	if err != nil {
		return wrapConnectError(Postgres, err)
	}
	if err := pool.Ping(ctx); err != nil {
		pool.Close()
		return wrapConnectError(Postgres, err)
	}
	s.pool = pool
	return nil
}

func (s *postgresSource) Ping(ctx context.Context) error {
	if err := s.pool.Ping(ctx); err != nil {
		return wrapConnectError(Postgres, err)
	}
	return nil
}

func (s *postgresSource) Close() error {
	if s.pool != nil {
		s.pool.Close()
	}
	return nil
}

// postgresIntrospectSQL mirrors information_schema.tables/columns, taking
// primary-key flags from constraint_column_usage and foreign-key flags
// from key_column_usage.
const postgresIntrospectSQL = `
SELECT c.table_schema, c.table_name, t.table_type, c.column_name, c.data_type,
       c.is_nullable = 'YES' AS nullable,
       COALESCE(pk.is_pk, false) AS is_pk,
       COALESCE(fk.is_fk, false) AS is_fk
FROM information_schema.columns c
JOIN information_schema.tables t
  ON t.table_schema = c.table_schema AND t.table_name = c.table_name
LEFT JOIN (
  SELECT ccu.table_schema, ccu.table_name, ccu.column_name, true AS is_pk
  FROM information_schema.table_constraints tc
  JOIN information_schema.constraint_column_usage ccu
    ON tc.constraint_name = ccu.constraint_name AND tc.constraint_type = 'PRIMARY KEY'
) pk ON pk.table_schema = c.table_schema AND pk.table_name = c.table_name AND pk.column_name = c.column_name
LEFT JOIN (
  SELECT kcu.table_schema, kcu.table_name, kcu.column_name, true AS is_fk
  FROM information_schema.table_constraints tc
  JOIN information_schema.key_column_usage kcu
    ON tc.constraint_name = kcu.constraint_name AND tc.constraint_type = 'FOREIGN KEY'
) fk ON fk.table_schema = c.table_schema AND fk.table_name = c.table_name AND fk.column_name = c.column_name
WHERE c.table_schema NOT IN ('pg_catalog', 'information_schema')
ORDER BY c.table_schema, c.table_name, c.ordinal_position
`

func (s *postgresSource) Introspect(ctx context.Context) (catalogtypes.Catalog, error) {
	rows, err := s.pool.Query(ctx, postgresIntrospectSQL)
	if err != nil {
		return catalogtypes.Catalog{}, wrapExecError(Postgres, postgresIntrospectSQL, err)
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
			return catalogtypes.Catalog{}, wrapExecError(Postgres, postgresIntrospectSQL, err)
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
		return catalogtypes.Catalog{}, wrapExecError(Postgres, postgresIntrospectSQL, err)
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

func (s *postgresSource) Execute(ctx context.Context, nativeSQL string, timeout time.Duration) (RowBatch, error) {
	qctx := ctx
	if timeout > 0 {
		var cancel context.CancelFunc
		qctx, cancel = context.WithTimeout(ctx, timeout)
		defer cancel()
	}

	rows, err := s.pool.Query(qctx, nativeSQL)
	if err != nil {
		return RowBatch{}, wrapExecError(Postgres, nativeSQL, err)
	}
	defer rows.Close()

	fds := rows.FieldDescriptions()
	batch := RowBatch{Columns: make([]string, len(fds))}
	for i, fd := range fds {
		batch.Columns[i] = string(fd.Name)
	}

	for rows.Next() {
		vals, err := rows.Values()
		if err != nil {
			return RowBatch{}, wrapExecError(Postgres, nativeSQL, err)
		}
		row := make([]Value, len(vals))
		for i, v := range vals {
			row[i] = toValue(v)
		}
		batch.Rows = append(batch.Rows, row)
	}
	if err := rows.Err(); err != nil {
		return RowBatch{}, wrapExecError(Postgres, nativeSQL, err)
	}
	return batch, nil
}

// toValue maps a pgx-decoded Go value onto the tagged scalar set.
func toValue(v any) Value {
	switch x := v.(type) {
	case nil:
		return Value{Null: true}
	case int64:
		return Value{Type: TInt, Int: x}
	case int32:
		return Value{Type: TInt, Int: int64(x)}
	case float64:
		return Value{Type: TFloat, Float: x}
	case float32:
		return Value{Type: TFloat, Float: float64(x)}
	case bool:
		return Value{Type: TBool, Bool: x}
	case []byte:
		return Value{Type: TBytes, Bytes: x}
	case string:
		return Value{Type: TText, Text: x}
	case time.Time:
		return Value{Type: TTime, Time: x}
	default:
		return Value{Type: TText, Text: stringify(x)}
	}
}

func stringify(v any) string {
	type stringer interface{ String() string }
	if s, ok := v.(stringer); ok {
		return s.String()
	}
	return ""
}
