package executor

import (
	"context"
	"fmt"
	"strings"
	"time"

	"golang.org/x/sync/errgroup"

	"github.com/federatedsql/gateway/internal/adapter"
	"github.com/federatedsql/gateway/internal/apierr"
	"github.com/federatedsql/gateway/internal/dialect"
	"github.com/federatedsql/gateway/internal/planner"
)

type subResult struct {
	report SubQueryReport
	batch  adapter.RowBatch
}

// runFederated implements steps 1-6 of spec.md §4.6's protocol: Setup,
// Fan-out, Ingest, Merge, Extract, Report.
func (e *Engine) runFederated(ctx context.Context, originalSQL string, fed planner.Federated, limit int, start time.Time) (Result, error) {
	session, err := newSession(fmt.Sprintf("merge_%d", time.Now().UnixNano()))
	if err != nil {
		return Result{Status: Failed}, err
	}
	defer session.close()

	results := make([]subResult, len(fed.SubQueries))

	g, gctx := errgroup.WithContext(ctx)
	for i, sq := range fed.SubQueries {
		i, sq := i, sq
		g.Go(func() error {
			src, kind, err := e.lookup(sq.ConnectionID)
			if err != nil {
				return err
			}
			native, err := e.trans.Translate(admittedFrom(sq.SQL), kind)
			if err != nil {
				return err
			}
			subStart := time.Now()
			batch, err := src.Execute(gctx, native, 0)
			if err != nil {
				return err
			}
			results[i] = subResult{
				report: SubQueryReport{
					ConnectionID: sq.ConnectionID, Kind: kind, NativeSQL: native,
					RowCount: len(batch.Rows), DurationMs: time.Since(subStart).Milliseconds(),
				},
				batch: batch,
			}
			return nil
		})
	}
	if err := g.Wait(); err != nil {
		if ctx.Err() != nil {
			return Result{Status: Cancelled}, apierr.New(apierr.Timeout, "query cancelled: %s", err.Error())
		}
		return Result{Status: Failed}, err
	}

	tableNames, err := synthTableNames(fed)
	if err != nil {
		return Result{Status: Failed}, err
	}
	for i, r := range results {
		if err := session.ingest(ctx, tableNames[i], r.batch); err != nil {
			return Result{Status: Failed}, err
		}
	}

	mergeSQL, err := renderMerge(fed.Merge, limit)
	if err != nil {
		return Result{Status: Failed}, err
	}

	cols, rows, rowCount, err := session.merge(ctx, mergeSQL)
	if err != nil {
		return Result{Status: Failed}, err
	}

	reports := make([]SubQueryReport, len(results))
	for i, r := range results {
		reports[i] = r.report
	}

	elapsed := time.Since(start)
	return Result{
		OriginalSQL:  originalSQL,
		SubQueries:   reports,
		Columns:      cols,
		Rows:         rows,
		RowCount:     rowCount,
		DurationMs:   elapsed.Milliseconds(),
		LimitApplied: limit > 0,
		Status:       Done,
	}, nil
}

// synthTableNames returns the synthetic table name each SubQuery's result
// is ingested under, in SubQueries order — JoinMerge.Tables already
// carries this; SetOpMerge legs are registered the same way, t0..tN in
// SubQueries order, since its own SQL text references them directly.
func synthTableNames(fed planner.Federated) ([]string, error) {
	if fed.Merge.Join != nil {
		if len(fed.Merge.Join.Tables) != len(fed.SubQueries) {
			return nil, apierr.New(apierr.Internal, "join merge table count mismatch")
		}
		return fed.Merge.Join.Tables, nil
	}
	names := make([]string, len(fed.SubQueries))
	for i := range names {
		names[i] = fmt.Sprintf("t%d", i)
	}
	return names, nil
}

// renderMerge renders a MergePlan to SQLite SQL. JoinMerge always
// compiles to a cartesian FROM list filtered by a WHERE clause of ANDed
// equalities — spec.md §4.5's documented fallback shape for conditions
// that aren't representable as a native join, used uniformly here since
// the merge engine's whole job is recombining small in-memory result
// sets, not optimizing a join order.
func renderMerge(m planner.MergePlan, limit int) (string, error) {
	d := dialect.SQLiteDialect{}
	switch {
	case m.Join != nil:
		return renderJoinMerge(*m.Join, limit, d), nil
	case m.SetOp != nil:
		return renderSetOpMerge(*m.SetOp, limit, d)
	default:
		return "", apierr.New(apierr.Internal, "empty merge plan")
	}
}

func renderJoinMerge(jm planner.JoinMerge, limit int, d dialect.SQLiteDialect) string {
	var from []string
	for _, t := range jm.Tables {
		from = append(from, d.QuoteIdentifier(t))
	}
	sql := "SELECT * FROM " + strings.Join(from, ", ")
	if len(jm.Conditions) > 0 {
		var preds []string
		for _, c := range jm.Conditions {
			preds = append(preds, fmt.Sprintf("%s.%s = %s.%s",
				d.QuoteIdentifier(c.LeftTable), d.QuoteIdentifier(c.LeftColumn),
				d.QuoteIdentifier(c.RightTable), d.QuoteIdentifier(c.RightColumn)))
		}
		sql += " WHERE " + strings.Join(preds, " AND ")
	}
	if limit > 0 {
		sql += " " + d.RenderLimit(limit)
	}
	return sql
}

func renderSetOpMerge(so planner.SetOpMerge, limit int, d dialect.SQLiteDialect) (string, error) {
	op, err := setOpKeyword(so.Op)
	if err != nil {
		return "", err
	}
	var legs []string
	for i := range so.Legs {
		legs = append(legs, "SELECT * FROM "+d.QuoteIdentifier(fmt.Sprintf("t%d", i)))
	}
	sql := strings.Join(legs, " "+op+" ")
	if limit > 0 {
		sql += " " + d.RenderLimit(limit)
	}
	return sql, nil
}

func setOpKeyword(op planner.SetOp) (string, error) {
	switch op {
	case planner.SetOpUnion:
		return "UNION", nil
	case planner.SetOpUnionAll:
		return "UNION ALL", nil
	case planner.SetOpIntersect:
		return "INTERSECT", nil
	case planner.SetOpExcept:
		return "EXCEPT", nil
	default:
		return "", apierr.New(apierr.Internal, "unknown set operation")
	}
}
