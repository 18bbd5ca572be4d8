// Package admission is the single point every SQL statement passes through
// before it is allowed to reach a dialect translator, a planner or an
// adapter — including SQL produced by the natural-language front door.
// It rejects anything that is not a SELECT (or a SELECT-only set
// operation) and makes the row cap non-bypassable.
package admission

import (
	"fmt"

	pgquery "github.com/pganalyze/pg_query_go/v6"

	"github.com/federatedsql/gateway/internal/apierr"
)

// Shape classifies the top-level statement an AdmittedQuery was built from.
type Shape int

const (
	ShapeSelect Shape = iota
	ShapeUnion
	ShapeUnionAll
	ShapeIntersect
	ShapeExcept
)

func (s Shape) String() string {
	switch s {
	case ShapeSelect:
		return "Select"
	case ShapeUnion:
		return "UNION"
	case ShapeUnionAll:
		return "UNION_ALL"
	case ShapeIntersect:
		return "INTERSECT"
	case ShapeExcept:
		return "EXCEPT"
	default:
		return "Unknown"
	}
}

// TableRef is one table reference found while walking the statement,
// including references inside set-operation branches and JOIN trees.
type TableRef struct {
	Alias  string
	Schema string
	Name   string
}

// AdmittedQuery is the only thing downstream components (the dialect
// translator, the planner, the executor) ever consume — never raw text.
type AdmittedQuery struct {
	CanonicalSQL     string
	ReferencedTables []TableRef
	Shape            Shape
	AppliedLimit     bool
}

// Validator holds the configured row cap. It is constructed once at
// startup from internal/config and shared across requests; it carries no
// mutable state so it is safe for concurrent use.
type Validator struct {
	// MaxRowLimit is the hard cap every executed query is bound by.
	// A missing LIMIT is set to this value; a LIMIT above it is rewritten
	// down, never left as-is.
	MaxRowLimit int
}

// NewValidator returns a Validator with the given cap, defaulting to 1000
// (spec default) when maxRowLimit is non-positive.
func NewValidator(maxRowLimit int) *Validator {
	if maxRowLimit <= 0 {
		maxRowLimit = 1000
	}
	return &Validator{MaxRowLimit: maxRowLimit}
}

// Validate parses sql, rejects anything but a single SELECT or SELECT-only
// set-operation tree, extracts every referenced table, and enforces the
// row cap on the outermost projection.
func (v *Validator) Validate(sql string) (AdmittedQuery, error) {
	tree, err := pgquery.Parse(sql)
	if err != nil {
		return AdmittedQuery{}, apierr.New(apierr.InvalidSql, "%s", err.Error())
	}
	if len(tree.Stmts) != 1 {
		return AdmittedQuery{}, apierr.New(apierr.NotAllowed,
			"exactly one statement is allowed, got %d", len(tree.Stmts))
	}

	raw := tree.Stmts[0].Stmt
	sel := raw.GetSelectStmt()
	if sel == nil {
		return AdmittedQuery{}, apierr.New(apierr.NotAllowed,
			"only SELECT statements are allowed, got %s", statementKind(raw))
	}
	if err := requireSelectOnly(sel); err != nil {
		return AdmittedQuery{}, err
	}

	shape := classify(sel)

	var tables []TableRef
	collectTables(sel, &tables)

	applied, err := v.enforceLimit(sel)
	if err != nil {
		return AdmittedQuery{}, err
	}

	canonical, err := pgquery.Deparse(tree)
	if err != nil {
		return AdmittedQuery{}, apierr.New(apierr.Internal, "re-rendering admitted sql: %s", err.Error())
	}

	return AdmittedQuery{
		CanonicalSQL:     canonical,
		ReferencedTables: tables,
		Shape:            shape,
		AppliedLimit:     applied,
	}, nil
}

func statementKind(n *pgquery.Node) string {
	switch {
	case n.GetInsertStmt() != nil:
		return "INSERT"
	case n.GetUpdateStmt() != nil:
		return "UPDATE"
	case n.GetDeleteStmt() != nil:
		return "DELETE"
	case n.GetCreateStmt() != nil, n.GetDropStmt() != nil, n.GetAlterTableStmt() != nil:
		return "DDL"
	case n.GetTransactionStmt() != nil:
		return "TRANSACTION"
	default:
		return fmt.Sprintf("%T", n.GetNode())
	}
}

// requireSelectOnly recursively checks that a set-operation tree never
// bottoms out in anything but a plain SELECT.
func requireSelectOnly(sel *pgquery.SelectStmt) error {
	if sel == nil {
		return apierr.New(apierr.NotAllowed, "empty select branch")
	}
	if sel.Op == pgquery.SetOperation_SETOP_NONE {
		return nil
	}
	if err := requireSelectOnly(sel.Larg); err != nil {
		return err
	}
	return requireSelectOnly(sel.Rarg)
}

func classify(sel *pgquery.SelectStmt) Shape {
	switch sel.Op {
	case pgquery.SetOperation_SETOP_UNION:
		if sel.All {
			return ShapeUnionAll
		}
		return ShapeUnion
	case pgquery.SetOperation_SETOP_INTERSECT:
		return ShapeIntersect
	case pgquery.SetOperation_SETOP_EXCEPT:
		return ShapeExcept
	default:
		return ShapeSelect
	}
}

// collectTables walks every table reference in a statement, including
// branches of a set-operation tree and tables nested inside JOIN trees.
// This list drives dialect translation, planning and metadata context.
func collectTables(sel *pgquery.SelectStmt, out *[]TableRef) {
	if sel == nil {
		return
	}
	if sel.Op != pgquery.SetOperation_SETOP_NONE {
		collectTables(sel.Larg, out)
		collectTables(sel.Rarg, out)
		return
	}
	for _, n := range sel.FromClause {
		collectFromNode(n, out)
	}
}

func collectFromNode(n *pgquery.Node, out *[]TableRef) {
	if n == nil {
		return
	}
	switch {
	case n.GetRangeVar() != nil:
		rv := n.GetRangeVar()
		alias := ""
		if rv.Alias != nil {
			alias = rv.Alias.Aliasname
		}
		*out = append(*out, TableRef{Alias: alias, Schema: rv.Schemaname, Name: rv.Relname})
	case n.GetJoinExpr() != nil:
		je := n.GetJoinExpr()
		collectFromNode(je.Larg, out)
		collectFromNode(je.Rarg, out)
	case n.GetRangeSubselect() != nil:
		// Derived tables have no physical connection; the columns they
		// expose are resolved against their own inner statement, which
		// is out of scope for alias->connection resolution.
		if inner := n.GetRangeSubselect().Subquery.GetSelectStmt(); inner != nil {
			collectTables(inner, out)
		}
	}
}

// enforceLimit reads the LIMIT on the outermost select in the tree (which
// for a set operation is the top SelectStmt node itself, matching Postgres
// grammar) and rewrites it per spec: missing -> cap, above cap -> cap,
// at-or-below cap -> left untouched.
func (v *Validator) enforceLimit(sel *pgquery.SelectStmt) (applied bool, err error) {
	if sel.LimitCount == nil {
		sel.LimitCount = intConst(v.MaxRowLimit)
		return true, nil
	}

	n, ok := intLiteral(sel.LimitCount)
	if !ok {
		// A non-literal LIMIT (parameter, expression) cannot be safely
		// rewritten here. A federated plan's merge step still applies the
		// cap; a single-source plan runs with the LIMIT as written.
		return false, nil
	}
	if n > v.MaxRowLimit {
		sel.LimitCount = intConst(v.MaxRowLimit)
		return false, nil
	}
	return false, nil
}

func intConst(n int) *pgquery.Node {
	return &pgquery.Node{
		Node: &pgquery.Node_AConst{
			AConst: &pgquery.A_Const{
				Val: &pgquery.A_Const_Ival{
					Ival: &pgquery.Integer{Ival: int32(n)},
				},
			},
		},
	}
}

func intLiteral(n *pgquery.Node) (int, bool) {
	ac := n.GetAConst()
	if ac == nil {
		return 0, false
	}
	iv := ac.GetIval()
	if iv == nil {
		return 0, false
	}
	return int(iv.Ival), true
}
