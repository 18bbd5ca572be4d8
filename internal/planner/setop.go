package planner

import (
	pgquery "github.com/pganalyze/pg_query_go/v6"

	"github.com/federatedsql/gateway/internal/admission"
	"github.com/federatedsql/gateway/internal/apierr"
)

// planSetOp builds a Federated plan with a SetOpMerge: each leaf SELECT of
// the set-operation tree becomes its own per-connection SubQuery (spec.md
// §4.5 "extract the sequence of SELECT branches by traversing the
// set-operation tree"). Legs keep their left-to-right order; ordering
// only applies within the JoinMerge case, not here, since SQL set
// operations are order-sensitive on their own.
func (p *Planner) planSetOp(admitted admission.AdmittedQuery, resolved []resolvedTable) (Plan, error) {
	tree, err := pgquery.Parse(admitted.CanonicalSQL)
	if err != nil {
		return Plan{}, apierr.New(apierr.Internal, "re-parsing admitted sql: %s", err.Error())
	}
	sel := tree.Stmts[0].Stmt.GetSelectStmt()

	aliasToConn := map[string]string{}
	for _, rt := range resolved {
		aliasToConn[tableKey(rt.TableRef)] = rt.ConnectionID
	}

	var legs []SubQuery
	if err := collectSetOpLegs(sel, aliasToConn, &legs); err != nil {
		return Plan{}, err
	}

	return Plan{Federated: &Federated{
		SubQueries: legs,
		Merge:      MergePlan{SetOp: &SetOpMerge{Op: setOpFromShape(admitted.Shape), Legs: legs}},
	}}, nil
}

func setOpFromShape(s admission.Shape) SetOp {
	switch s {
	case admission.ShapeUnionAll:
		return SetOpUnionAll
	case admission.ShapeIntersect:
		return SetOpIntersect
	case admission.ShapeExcept:
		return SetOpExcept
	default:
		return SetOpUnion
	}
}

// collectSetOpLegs recurses left/right through the set-operation tree,
// appending one SubQuery per leaf SELECT in left-to-right order.
func collectSetOpLegs(sel *pgquery.SelectStmt, aliasToConn map[string]string, out *[]SubQuery) error {
	if sel.Op != pgquery.SetOperation_SETOP_NONE {
		if err := collectSetOpLegs(sel.Larg, aliasToConn, out); err != nil {
			return err
		}
		return collectSetOpLegs(sel.Rarg, aliasToConn, out)
	}

	connID, err := leafConnection(sel, aliasToConn)
	if err != nil {
		return err
	}
	// The leg's FROM clause still carries this gateway's connection-alias
	// schema qualifier (e.g. `db1.orders`); no real backend has a schema
	// named after a connection alias, so it must be gone before this leg's
	// SQL reaches an adapter (spec.md §4.5).
	for _, n := range sel.FromClause {
		stripSchemaFromNode(n)
	}
	deparsed, err := pgquery.Deparse(&pgquery.ParseResult{
		Stmts: []*pgquery.RawStmt{{Stmt: &pgquery.Node{Node: &pgquery.Node_SelectStmt{SelectStmt: sel}}}},
	})
	if err != nil {
		return apierr.New(apierr.Internal, "re-rendering set-op leg: %s", err.Error())
	}
	*out = append(*out, SubQuery{ConnectionID: connID, SQL: deparsed})
	return nil
}

// leafConnection finds the single connection every table in this leaf
// resolves to. A leaf referencing more than one connection on its own
// cannot be represented as one federated sub-query leg.
func leafConnection(sel *pgquery.SelectStmt, aliasToConn map[string]string) (string, error) {
	ids := map[string]bool{}
	var walk func(n *pgquery.Node) error
	walk = func(n *pgquery.Node) error {
		if n == nil {
			return nil
		}
		switch {
		case n.GetRangeVar() != nil:
			rv := n.GetRangeVar()
			key := rv.Schemaname
			if key == "" && rv.Alias != nil {
				key = rv.Alias.Aliasname
			}
			if key == "" {
				key = rv.Relname
			}
			connID, ok := aliasToConn[key]
			if !ok {
				return apierr.New(apierr.UnknownAlias, "unknown alias %q in set operation leg", key)
			}
			ids[connID] = true
		case n.GetJoinExpr() != nil:
			je := n.GetJoinExpr()
			if err := walk(je.Larg); err != nil {
				return err
			}
			return walk(je.Rarg)
		}
		return nil
	}
	for _, n := range sel.FromClause {
		if err := walk(n); err != nil {
			return "", err
		}
	}
	if len(ids) != 1 {
		return "", apierr.New(apierr.UnsupportedJoin, "a set-operation leg must resolve to exactly one connection")
	}
	for id := range ids {
		return id, nil
	}
	return "", nil
}
