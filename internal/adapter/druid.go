package adapter

import (
	"context"
	"strconv"
	"time"

	retry "github.com/avast/retry-go"
	"github.com/go-resty/resty/v2"

	"github.com/federatedsql/gateway/internal/catalogtypes"
)

// druidSource talks Druid's SQL-over-HTTP interface
// (POST {baseURL}/druid/v2/sql). Druid has no native Go driver; resty +
// retry-go (both already part of the stack) give it the same
// acquisition-timeout and transient-retry semantics the other adapters get
// from a connection pool.
type druidSource struct {
	client  *resty.Client
	baseURL string
}

func newDruidSource() Source {
	return &druidSource{}
}

func (s *druidSource) Kind() Kind { return Druid }

func (s *druidSource) Connect(ctx context.Context, url string, cfg PoolConfig) error {
	timeout := cfg.AcquireTimeout
	if timeout <= 0 {
		timeout = 10 * time.Second
	}
	s.baseURL = url
	s.client = resty.New().SetTimeout(timeout).SetBaseURL(url)
	return s.Ping(ctx)
}

func (s *druidSource) Ping(ctx context.Context) error {
	_, err := s.query(ctx, "SELECT 1")
	if err != nil {
		return wrapConnectError(Druid, err)
	}
	return nil
}

func (s *druidSource) Close() error { return nil }

type druidSQLRequest struct {
	Query        string `json:"query"`
	ResultFormat string `json:"resultFormat"`
}

func (s *druidSource) query(ctx context.Context, sql string) ([]map[string]any, error) {
	var rows []map[string]any
	err := retry.Do(
		func() error {
			resp, err := s.client.R().
				SetContext(ctx).
				SetBody(druidSQLRequest{Query: sql, ResultFormat: "object"}).
				SetResult(&rows).
				Post("/druid/v2/sql")
			if err != nil {
				return err
			}
			if resp.IsError() {
				return errFromStatus(resp.StatusCode(), resp.String())
			}
			return nil
		},
		retry.Attempts(3),
		retry.Context(ctx),
	)
	return rows, err
}

func (s *druidSource) Introspect(ctx context.Context) (catalogtypes.Catalog, error) {
	const q = `
		SELECT TABLE_SCHEMA, TABLE_NAME, TABLE_TYPE, COLUMN_NAME, DATA_TYPE, IS_NULLABLE
		FROM INFORMATION_SCHEMA.COLUMNS c
		JOIN INFORMATION_SCHEMA.TABLES t USING (TABLE_SCHEMA, TABLE_NAME)
		WHERE TABLE_SCHEMA = 'druid'
	`
	rows, err := s.query(ctx, q)
	if err != nil {
		return catalogtypes.Catalog{}, wrapExecError(Druid, q, err)
	}

	type key struct{ schema, name string }
	order := []key{}
	tables := map[key]*catalogtypes.Table{}
	isView := map[key]bool{}

	for _, r := range rows {
		schema, _ := r["TABLE_SCHEMA"].(string)
		name, _ := r["TABLE_NAME"].(string)
		tableType, _ := r["TABLE_TYPE"].(string)
		colName, _ := r["COLUMN_NAME"].(string)
		dataType, _ := r["DATA_TYPE"].(string)
		nullable, _ := r["IS_NULLABLE"].(string)

		k := key{schema, name}
		t, ok := tables[k]
		if !ok {
			t = &catalogtypes.Table{Schema: schema, Name: name}
			tables[k] = t
			order = append(order, k)
			isView[k] = tableType == "VIEW"
		}
		t.Columns = append(t.Columns, catalogtypes.Column{
			Name: colName, Type: dataType, Nullable: nullable == "YES",
		})
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

func (s *druidSource) Execute(ctx context.Context, nativeSQL string, timeout time.Duration) (RowBatch, error) {
	qctx := ctx
	if timeout > 0 {
		var cancel context.CancelFunc
		qctx, cancel = context.WithTimeout(ctx, timeout)
		defer cancel()
	}

	rows, err := s.query(qctx, nativeSQL)
	if err != nil {
		return RowBatch{}, wrapExecError(Druid, nativeSQL, err)
	}
	if len(rows) == 0 {
		return RowBatch{}, nil
	}

	cols := make([]string, 0, len(rows[0]))
	for c := range rows[0] {
		cols = append(cols, c)
	}
	batch := RowBatch{Columns: cols}
	for _, r := range rows {
		row := make([]Value, len(cols))
		for i, c := range cols {
			row[i] = druidToValue(r[c])
		}
		batch.Rows = append(batch.Rows, row)
	}
	return batch, nil
}

func druidToValue(v any) Value {
	switch x := v.(type) {
	case nil:
		return Value{Null: true}
	case float64:
		if x == float64(int64(x)) {
			return Value{Type: TInt, Int: int64(x)}
		}
		return Value{Type: TFloat, Float: x}
	case bool:
		return Value{Type: TBool, Bool: x}
	case string:
		return Value{Type: TText, Text: x}
	default:
		return Value{Type: TText, Text: ""}
	}
}

func errFromStatus(code int, body string) error {
	return &httpStatusError{code: code, body: body}
}

type httpStatusError struct {
	code int
	body string
}

func (e *httpStatusError) Error() string {
	return "druid sql endpoint returned " + strconv.Itoa(e.code) + ": " + e.body
}
