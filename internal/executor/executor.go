// Package executor realizes a planner.Plan: it fans sub-queries out to
// their owning adapters, ingests each result into a shared in-memory
// modernc.org/sqlite session, executes the merge step, and extracts rows
// as JSON-ready values (spec.md §4.6).
package executor

import (
	"context"
	"database/sql"
	"fmt"
	"time"

	_ "modernc.org/sqlite"

	"github.com/federatedsql/gateway/internal/adapter"
	"github.com/federatedsql/gateway/internal/admission"
	"github.com/federatedsql/gateway/internal/apierr"
	"github.com/federatedsql/gateway/internal/dialect"
	"github.com/federatedsql/gateway/internal/planner"
)

// admittedFrom wraps already-planned SQL text (a single-source plan's
// admitted SQL, or one federated SubQuery's synthesized "SELECT * FROM t")
// as the minimal AdmittedQuery the dialect Translator needs — the
// admission pass already ran once over the original statement; this isn't
// re-admitting user input, just reusing Translate's cache-keyed API.
func admittedFrom(sql string) admission.AdmittedQuery {
	return admission.AdmittedQuery{CanonicalSQL: sql}
}

// Status is the per-request state machine spec.md §4.6 requires to be
// observable to the history writer.
type Status int

const (
	Admitted Status = iota
	Planned
	FanOut
	Merging
	Done
	Cancelled
	Failed
)

func (s Status) String() string {
	switch s {
	case Admitted:
		return "Admitted"
	case Planned:
		return "Planned"
	case FanOut:
		return "FanOut"
	case Merging:
		return "Merging"
	case Done:
		return "Done"
	case Cancelled:
		return "Cancelled"
	case Failed:
		return "Failed"
	default:
		return "Unknown"
	}
}

// SubQueryReport is one entry of Result.SubQueries (spec.md §4.6 step 6).
type SubQueryReport struct {
	ConnectionID string
	Kind         adapter.Kind
	NativeSQL    string
	RowCount     int
	DurationMs   int64
}

// Result is the full report of one executed request.
type Result struct {
	OriginalSQL  string
	SubQueries   []SubQueryReport
	Columns      []string
	Rows         []map[string]any
	RowCount     int
	DurationMs   int64
	LimitApplied bool
	Status       Status
}

// Session wraps one shared in-memory sqlite handle used to recombine a
// single request's federated sub-results. It is created and dropped per
// request (spec.md §5) — distinct from internal/store's long-lived,
// process-wide handle.
type Session struct {
	db *sql.DB
}

// newSession opens a fresh named in-memory database. Each Session gets a
// unique cache name so concurrent requests never see each other's
// synthetic tables despite SQLite's "shared cache" mode operating at the
// process level by name.
func newSession(name string) (*Session, error) {
	dsn := fmt.Sprintf("file:%s?mode=memory&cache=shared", name)
	db, err := sql.Open("sqlite", dsn)
	if err != nil {
		return nil, apierr.New(apierr.Internal, "opening merge session: %s", err.Error())
	}
	db.SetMaxOpenConns(1)
	return &Session{db: db}, nil
}

func (s *Session) close() error { return s.db.Close() }

// Engine runs Plans against a set of connected adapters keyed by
// connection id. internal/facade builds one per request from its cached
// live sources and the shared dialect.Translator; an Engine keeps no
// state between Run calls.
type Engine struct {
	sources map[string]adapter.Source // connectionID -> live, connected adapter
	kinds   map[string]adapter.Kind
	trans   *dialect.Translator
	dialect dialect.SQLiteDialect
}

// NewEngine returns an Engine bound to the given connection sources/kinds
// and the shared dialect translator used to render sub-query SQL.
func NewEngine(sources map[string]adapter.Source, kinds map[string]adapter.Kind, trans *dialect.Translator) *Engine {
	return &Engine{sources: sources, kinds: kinds, trans: trans}
}

// Run executes plan end to end, enforcing limit at the merge step (or
// directly on a single-source plan's own LIMIT) and the given deadline
// on the whole fan-out group.
func (e *Engine) Run(ctx context.Context, originalSQL string, plan planner.Plan, limit int) (Result, error) {
	start := time.Now()

	if plan.Single != nil {
		return e.runSingleSource(ctx, originalSQL, *plan.Single, start)
	}
	return e.runFederated(ctx, originalSQL, *plan.Federated, limit, start)
}

func (e *Engine) runSingleSource(ctx context.Context, originalSQL string, sp planner.SingleSource, start time.Time) (Result, error) {
	src, kind, err := e.lookup(sp.ConnectionID)
	if err != nil {
		return Result{Status: Failed}, err
	}

	native, err := e.trans.Translate(admittedFrom(sp.SQL), kind)
	if err != nil {
		return Result{Status: Failed}, err
	}

	batch, err := src.Execute(ctx, native, 0)
	if err != nil {
		return Result{Status: Failed}, err
	}

	rows := extractRows(batch)
	elapsed := time.Since(start)
	return Result{
		OriginalSQL: originalSQL,
		SubQueries: []SubQueryReport{{
			ConnectionID: sp.ConnectionID, Kind: kind, NativeSQL: native,
			RowCount: len(batch.Rows), DurationMs: elapsed.Milliseconds(),
		}},
		Columns:    batch.Columns,
		Rows:       rows,
		RowCount:   len(rows),
		DurationMs: elapsed.Milliseconds(),
		Status:     Done,
	}, nil
}

func (e *Engine) lookup(connectionID string) (adapter.Source, adapter.Kind, error) {
	src, ok := e.sources[connectionID]
	if !ok {
		return nil, "", apierr.New(apierr.SourceUnavailable, "no live source for connection %q", connectionID)
	}
	return src, e.kinds[connectionID], nil
}
