package planner

import (
	"fmt"
	"sort"

	pgquery "github.com/pganalyze/pg_query_go/v6"

	"github.com/federatedsql/gateway/internal/admission"
	"github.com/federatedsql/gateway/internal/apierr"
)

// joinSlot tracks one table reference while a JoinMerge is built, before
// its synthetic name is reassigned by the final connection-id sort.
type joinSlot struct {
	ref    resolvedTable
	synth  string
	subSQL string
}

// planJoin builds a Federated plan with a JoinMerge for a query whose
// tables span more than one connection inside a single SELECT (no
// set-operation). One SubQuery and one synthetic table name is assigned
// per table reference, in source order, before Conditions and SubQueries
// are both reordered by connection id together so the two stay aligned
// (spec.md §4.5 "sub-queries sorted by connection id").
func (p *Planner) planJoin(admitted admission.AdmittedQuery, resolved []resolvedTable, connIDs []string) (Plan, error) {
	tree, err := pgquery.Parse(admitted.CanonicalSQL)
	if err != nil {
		return Plan{}, apierr.New(apierr.Internal, "re-parsing admitted sql: %s", err.Error())
	}
	sel := tree.Stmts[0].Stmt.GetSelectStmt()

	slots := make([]joinSlot, len(resolved))
	byKey := map[string]int{} // AS-alias-or-name -> slot index, for condition binding
	for i, rt := range resolved {
		slots[i] = joinSlot{ref: rt, synth: fmt.Sprintf("t%d", i), subSQL: singleTableSelect(rt.TableRef)}
		byKey[conditionKey(rt.TableRef)] = i
	}

	var conds []EqualityCond
	for _, n := range sel.FromClause {
		if err := walkJoinExpr(n, byKey, slots, &conds); err != nil {
			return Plan{}, err
		}
	}

	order := make([]int, len(slots))
	for i := range order {
		order[i] = i
	}
	sort.SliceStable(order, func(a, b int) bool {
		return slots[order[a]].ref.ConnectionID < slots[order[b]].ref.ConnectionID
	})

	subQueries := make([]SubQuery, len(order))
	tables := make([]string, len(order))
	remap := make(map[string]string, len(order)) // old synth -> new synth
	for newIdx, oldIdx := range order {
		newSynth := fmt.Sprintf("t%d", newIdx)
		remap[slots[oldIdx].synth] = newSynth
		subQueries[newIdx] = SubQuery{ConnectionID: slots[oldIdx].ref.ConnectionID, SQL: slots[oldIdx].subSQL}
		tables[newIdx] = newSynth
	}
	for i := range conds {
		conds[i].LeftTable = remap[conds[i].LeftTable]
		conds[i].RightTable = remap[conds[i].RightTable]
	}

	return Plan{Federated: &Federated{
		SubQueries: subQueries,
		Merge:      MergePlan{Join: &JoinMerge{Tables: tables, Conditions: conds}},
	}}, nil
}

// singleTableSelect builds the sub-query sent to a single table's own
// connection. t.Schema is this gateway's connection-alias qualifier
// (resolved already, by this point), never a namespace the real backend
// has, so it is deliberately left out (spec.md §4.5: sub-queries are
// plain "SELECT * FROM t").
func singleTableSelect(t admission.TableRef) string {
	return "SELECT * FROM " + t.Name
}

// walkJoinExpr walks the FROM clause's JoinExpr tree (not just the first
// pair, per spec.md §9's "multi-way JOIN required, full tree preserved"),
// collecting every top-level-AND equality condition found at any level.
// A non-equality or non-AND-combined condition makes the whole join
// UnsupportedJoin, since it cannot be represented as a JoinMerge.
func walkJoinExpr(n *pgquery.Node, byKey map[string]int, slots []joinSlot, out *[]EqualityCond) error {
	if n == nil {
		return nil
	}
	je := n.GetJoinExpr()
	if je == nil {
		return nil // plain RangeVar leaf; nothing to extract here
	}
	if err := walkJoinExpr(je.Larg, byKey, slots, out); err != nil {
		return err
	}
	if err := walkJoinExpr(je.Rarg, byKey, slots, out); err != nil {
		return err
	}
	if je.Quals == nil {
		return nil
	}
	return collectAndTerms(je.Quals, byKey, slots, out)
}

// collectAndTerms recurses through a chain of AND'd BoolExpr nodes,
// requiring every leaf to be a simple `a.col = b.col` equality.
func collectAndTerms(n *pgquery.Node, byKey map[string]int, slots []joinSlot, out *[]EqualityCond) error {
	if be := n.GetBoolExpr(); be != nil {
		if be.Boolop != pgquery.BoolExprType_AND_EXPR {
			return apierr.New(apierr.UnsupportedJoin, "only AND-combined equality conditions are supported in a JOIN")
		}
		for _, arg := range be.Args {
			if err := collectAndTerms(arg, byKey, slots, out); err != nil {
				return err
			}
		}
		return nil
	}

	ae := n.GetAExpr()
	if ae == nil || len(ae.Name) != 1 || ae.Name[0].GetString_().Sval != "=" {
		return apierr.New(apierr.UnsupportedJoin, "join condition must be a simple equality")
	}
	lt, lc, ok := columnRef(ae.Lexpr)
	if !ok {
		return apierr.New(apierr.UnsupportedJoin, "join condition left side must be a qualified column reference")
	}
	rt, rc, ok := columnRef(ae.Rexpr)
	if !ok {
		return apierr.New(apierr.UnsupportedJoin, "join condition right side must be a qualified column reference")
	}
	li, ok := byKey[lt]
	if !ok {
		return apierr.New(apierr.UnknownAlias, "unknown alias %q in join condition", lt)
	}
	ri, ok := byKey[rt]
	if !ok {
		return apierr.New(apierr.UnknownAlias, "unknown alias %q in join condition", rt)
	}
	*out = append(*out, EqualityCond{
		LeftTable: slots[li].synth, LeftColumn: lc,
		RightTable: slots[ri].synth, RightColumn: rc,
	})
	return nil
}

func columnRef(n *pgquery.Node) (table, column string, ok bool) {
	cr := n.GetColumnRef()
	if cr == nil || len(cr.Fields) != 2 {
		return "", "", false
	}
	t := cr.Fields[0].GetString_()
	c := cr.Fields[1].GetString_()
	if t == nil || c == nil {
		return "", "", false
	}
	return t.Sval, c.Sval, true
}
