// Package planner translates one admitted, alias-resolved query into a
// concrete execution plan: either a single-source pass-through or a
// federated plan pairing per-connection sub-queries with a merge step
// (spec.md §4.5).
package planner

import (
	"sort"

	pgquery "github.com/pganalyze/pg_query_go/v6"

	"github.com/federatedsql/gateway/internal/admission"
	"github.com/federatedsql/gateway/internal/apierr"
)

// SetOp identifies the kind of set operation a SetOpMerge performs.
type SetOp int

const (
	SetOpUnion SetOp = iota
	SetOpUnionAll
	SetOpIntersect
	SetOpExcept
)

// SubQuery is one per-connection statement the executor fans out to an
// adapter.
type SubQuery struct {
	ConnectionID string
	SQL          string
}

// EqualityCond is one `left.col = right.col` condition extracted from a
// JOIN tree, bound to the synthetic table names the executor registers
// each sub-result under (t0, t1, ... matching JoinMerge.Tables / the
// paired SubQueries, in order) rather than to connection ids directly —
// two tables can live on the same connection, so the synthetic name is
// the only unambiguous join key.
type EqualityCond struct {
	LeftTable   string
	LeftColumn  string
	RightTable  string
	RightColumn string
}

// JoinMerge recombines per-connection sub-results with equality-only join
// conditions. Tables[i] is the synthetic name the executor registers
// Federated.SubQueries[i]'s result under.
type JoinMerge struct {
	Tables     []string
	Conditions []EqualityCond
}

// SetOpMerge recombines ordered set-operation legs.
type SetOpMerge struct {
	Op   SetOp
	Legs []SubQuery
}

// MergePlan is JoinMerge or SetOpMerge; exactly one field is non-nil.
type MergePlan struct {
	Join  *JoinMerge
	SetOp *SetOpMerge
}

// Plan is SingleSource or Federated; exactly one field is non-nil.
type Plan struct {
	Single    *SingleSource
	Federated *Federated
}

// SingleSource is the optimization spec.md §4.5 mandates when every
// referenced table resolves to one connection: the admitted SQL (with
// alias qualifiers stripped) runs directly against that connection, no
// merge engine involved.
type SingleSource struct {
	ConnectionID string
	SQL          string
}

// Federated pairs per-connection SubQueries (one per table reference for
// a join, one per leg for a set operation) with the MergePlan that
// recombines their results.
type Federated struct {
	SubQueries []SubQuery
	Merge      MergePlan
}

// Planner builds Plans from admitted queries and the caller-supplied
// alias map. It holds a PushDownPredicates flag (spec.md §9 Open
// Question 1, decided: opt-in, default off) — see DESIGN.md decision 1.
// Plan does not read the flag: sub-queries are built the same way
// whatever its value.
type Planner struct {
	PushDownPredicates bool
}

// New returns a Planner with push-down disabled by default.
func New() *Planner {
	return &Planner{}
}

// Plan resolves every table reference in admitted against aliases, then
// classifies and builds either a SingleSource or Federated plan.
func (p *Planner) Plan(admitted admission.AdmittedQuery, aliases map[string]string) (Plan, error) {
	resolved, err := resolveAliases(admitted, aliases)
	if err != nil {
		return Plan{}, err
	}

	connIDs := distinctConnections(resolved)
	if len(connIDs) == 1 {
		sql, err := stripQualifiersFromSQL(admitted.CanonicalSQL)
		if err != nil {
			return Plan{}, err
		}
		return Plan{Single: &SingleSource{ConnectionID: connIDs[0], SQL: sql}}, nil
	}

	switch admitted.Shape {
	case admission.ShapeSelect:
		return p.planJoin(admitted, resolved, connIDs)
	default:
		return p.planSetOp(admitted, resolved)
	}
}

type resolvedTable struct {
	admission.TableRef
	ConnectionID string
}

// resolveAliases maps every TableRef onto a connection id: a qualified
// alias.table looks the alias up in the map (UnknownAlias if absent); an
// unqualified table is only valid when the query involves a single
// connection overall. Once every reference is seen, unqualified references
// get that connection (the one the qualified references use, else the
// alias map's "" entry, else its only entry); otherwise resolveAliases
// returns AmbiguousUnqualified.
func resolveAliases(admitted admission.AdmittedQuery, aliases map[string]string) ([]resolvedTable, error) {
	out := make([]resolvedTable, 0, len(admitted.ReferencedTables))
	var unqualifiedSeen bool
	for _, t := range admitted.ReferencedTables {
		rt := resolvedTable{TableRef: t}
		if t.Alias != "" || t.Schema != "" {
			key := t.Schema
			if key == "" {
				key = t.Alias
			}
			connID, ok := aliases[key]
			if !ok {
				return nil, apierr.New(apierr.UnknownAlias, "unknown alias %q", key).WithDetails(map[string]any{"alias": key})
			}
			rt.ConnectionID = connID
		} else {
			unqualifiedSeen = true
		}
		out = append(out, rt)
	}

	if unqualifiedSeen {
		ids := map[string]bool{}
		for _, rt := range out {
			if rt.ConnectionID != "" {
				ids[rt.ConnectionID] = true
			}
		}
		if len(ids) > 1 {
			return nil, apierr.New(apierr.AmbiguousUnqualified, "unqualified table reference with multiple connections in scope")
		}
		if len(ids) == 0 {
			if connID, ok := aliases[""]; ok {
				for i := range out {
					if out[i].ConnectionID == "" {
						out[i].ConnectionID = connID
					}
				}
			} else if len(aliases) == 1 {
				for _, connID := range aliases {
					for i := range out {
						if out[i].ConnectionID == "" {
							out[i].ConnectionID = connID
						}
					}
				}
			} else {
				return nil, apierr.New(apierr.AmbiguousUnqualified, "unqualified table reference with no single connection in scope")
			}
		} else {
			var only string
			for id := range ids {
				only = id
			}
			for i := range out {
				if out[i].ConnectionID == "" {
					out[i].ConnectionID = only
				}
			}
		}
	}
	return out, nil
}

// tableKey returns the text the caller-supplied alias map is addressed by
// for this table reference: the dot-qualifier (`alias.table`, parsed into
// Schema) takes priority since that's how domain aliases are declared
// (spec.md §4.5), falling back to an explicit `AS` alias, then the bare
// table name. Used only for alias->connection resolution of set-operation
// legs (planSetOp) — never for binding a JOIN ON condition's column
// qualifier, which uses conditionKey instead.
func tableKey(t admission.TableRef) string {
	if t.Schema != "" {
		return t.Schema
	}
	if t.Alias != "" {
		return t.Alias
	}
	return t.Name
}

// conditionKey returns the qualifier a column reference inside the query's
// own SQL text (e.g. a JOIN's ON clause) uses to name this table: an
// explicit `AS` alias if one was given, else the bare table name. This is
// deliberately NOT the same priority order as tableKey: `FROM db1.users u`
// is addressed by callers as `db1` in the alias map, but a condition like
// `ON u.id = ...` qualifies the column with `u`, never with the schema —
// Postgres doesn't let a FROM-clause schema qualifier be used to qualify
// columns once the range var has its own alias.
func conditionKey(t admission.TableRef) string {
	if t.Alias != "" {
		return t.Alias
	}
	return t.Name
}

// stripQualifiersFromSQL re-parses sql and strips every connection-alias
// schema qualifier (see stripSchemaQualifiers) before re-deparsing it. The
// admitted SQL a single-source plan forwards unchanged still carries
// `db1.users` qualifiers used to resolve the alias map; no real backend
// has a schema named after this gateway's connection aliases, so those
// qualifiers must be gone before the SQL reaches an adapter (spec.md §4.5:
// "the original SQL with alias qualifiers stripped").
func stripQualifiersFromSQL(sql string) (string, error) {
	tree, err := pgquery.Parse(sql)
	if err != nil {
		return "", apierr.New(apierr.Internal, "re-parsing admitted sql: %s", err.Error())
	}
	for _, stmt := range tree.Stmts {
		stripSchemaQualifiers(stmt.Stmt.GetSelectStmt())
	}
	out, err := pgquery.Deparse(tree)
	if err != nil {
		return "", apierr.New(apierr.Internal, "re-deparsing stripped sql: %s", err.Error())
	}
	return out, nil
}

// stripSchemaQualifiers clears every RangeVar's Schemaname in sel's FROM
// clause, recursing into JOIN trees, derived tables and set-operation
// branches. See stripQualifiersFromSQL.
func stripSchemaQualifiers(sel *pgquery.SelectStmt) {
	if sel == nil {
		return
	}
	if sel.Op != pgquery.SetOperation_SETOP_NONE {
		stripSchemaQualifiers(sel.Larg)
		stripSchemaQualifiers(sel.Rarg)
		return
	}
	for _, n := range sel.FromClause {
		stripSchemaFromNode(n)
	}
}

func stripSchemaFromNode(n *pgquery.Node) {
	if n == nil {
		return
	}
	if rv := n.GetRangeVar(); rv != nil {
		rv.Schemaname = ""
		return
	}
	if je := n.GetJoinExpr(); je != nil {
		stripSchemaFromNode(je.Larg)
		stripSchemaFromNode(je.Rarg)
		return
	}
	if rs := n.GetRangeSubselect(); rs != nil {
		if inner := rs.Subquery.GetSelectStmt(); inner != nil {
			stripSchemaQualifiers(inner)
		}
	}
}

func distinctConnections(tables []resolvedTable) []string {
	seen := map[string]bool{}
	var out []string
	for _, t := range tables {
		if !seen[t.ConnectionID] {
			seen[t.ConnectionID] = true
			out = append(out, t.ConnectionID)
		}
	}
	sort.Strings(out)
	return out
}
