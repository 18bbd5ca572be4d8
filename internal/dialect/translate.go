package dialect

import (
	"crypto/sha256"
	"fmt"
	"regexp"
	"strconv"
	"strings"
	"sync"

	lru "github.com/hashicorp/golang-lru/v2"
	pgquery "github.com/pganalyze/pg_query_go/v6"

	"github.com/federatedsql/gateway/internal/adapter"
	"github.com/federatedsql/gateway/internal/admission"
	"github.com/federatedsql/gateway/internal/apierr"
)

// Translator rewrites an AdmittedQuery into a target engine's native
// syntax and caches the result. Results are cached by
// (sha256(canonical_sql), kind) behind a single RWMutex, per spec.md §5 —
// the cache is an optimization (sub-second rewrite cost), never a
// correctness dependency.
type Translator struct {
	registry *Registry

	mu    sync.RWMutex
	cache *lru.TwoQueueCache[cacheKey, string]
}

type cacheKey struct {
	hash [32]byte
	kind adapter.Kind
}

// NewTranslator builds a Translator backed by size cache entries.
func NewTranslator(registry *Registry, size int) *Translator {
	if size <= 0 {
		size = 2000
	}
	c, _ := lru.New2Q[cacheKey, string](size)
	return &Translator{registry: registry, cache: c}
}

// Translate renders admitted.CanonicalSQL into kind's native dialect.
func (t *Translator) Translate(admitted admission.AdmittedQuery, kind adapter.Kind) (string, error) {
	key := cacheKey{hash: sha256.Sum256([]byte(admitted.CanonicalSQL)), kind: kind}

	t.mu.RLock()
	if v, ok := t.cache.Get(key); ok {
		t.mu.RUnlock()
		return v, nil
	}
	t.mu.RUnlock()

	d, err := t.registry.Get(kind)
	if err != nil {
		return "", err
	}

	out, err := render(admitted.CanonicalSQL, d)
	if err != nil {
		return "", err
	}

	t.mu.Lock()
	t.cache.Add(key, out)
	t.mu.Unlock()
	return out, nil
}

var (
	// Matches both the `INTERVAL '3 days'` spelling and the
	// `'3 days'::interval` cast form the deparser renders it as.
	intervalRe = regexp.MustCompile(`(?i)INTERVAL\s+'([^']*)'|'([^']*)'::interval\b`)
	wordRe     = regexp.MustCompile(`^\s*(\d+)\s+([a-zA-Z]+)\s*$`)
)

// render applies dialect-specific rewrites to canonical SQL: INTERVAL
// literals and identifier quoting via a targeted text pass (self-contained
// tokens with no risk of spanning statement boundaries), `||` concatenation
// via a real AST walk (concat chains are not self-contained tokens — a
// text-level split would swallow surrounding SQL into the rewrite).
// Anything it cannot confidently rewrite is reported as
// DialectUnsupported rather than passed through unmodified.
func render(sql string, d Dialect) (string, error) {
	out := sql

	out, err := rewriteIntervals(out, d)
	if err != nil {
		return "", err
	}

	out, err = rewriteConcat(out, d)
	if err != nil {
		return "", err
	}

	out = rewriteQuoting(out, d)
	return out, nil
}

func rewriteIntervals(sql string, d Dialect) (string, error) {
	var rewriteErr error
	out := intervalRe.ReplaceAllStringFunc(sql, func(m string) string {
		if rewriteErr != nil {
			return m
		}
		groups := intervalRe.FindStringSubmatch(m)
		literal := groups[1]
		if groups[2] != "" {
			literal = groups[2]
		}
		wm := wordRe.FindStringSubmatch(literal)
		if wm == nil {
			// Not a simple "<n> <unit>" literal; leave it for the target
			// engine's own parser to accept or reject.
			return m
		}
		n, _ := strconv.Atoi(wm[1])
		unit := strings.TrimSuffix(strings.ToLower(wm[2]), "s")
		rendered, ok := d.RewriteInterval(IntervalExpr{Quantity: n, Unit: unit})
		if !ok {
			rewriteErr = unsupported("INTERVAL", d.Name())
			return m
		}
		return rendered
	})
	if rewriteErr != nil {
		return "", rewriteErr
	}
	return out, nil
}

// rewriteConcat rewrites every `a || b || c` chain found in sql into
// d.RewriteConcat's native form, when d is not postgres (postgres supports
// `||` natively). It re-parses sql into the real AST and rewrites each
// concat chain node-by-node at the projection, WHERE and JOIN-condition
// positions — the expression slots the canonical dialect's documented
// subset (§6.1) actually places a `||` in — rather than splitting the
// whole statement's text on `||`, which would swallow surrounding
// keywords (FROM, WHERE, LIMIT) into a single bogus CONCAT(...) call.
func rewriteConcat(sql string, d Dialect) (string, error) {
	if d.Name() == "postgres" {
		return sql, nil
	}
	if !strings.Contains(sql, "||") {
		return sql, nil
	}

	tree, err := pgquery.Parse(sql)
	if err != nil {
		return "", apierr.New(apierr.Internal, "re-parsing for concat rewrite: %s", err.Error())
	}

	for _, stmt := range tree.Stmts {
		if err := rewriteConcatInSelect(stmt.Stmt.GetSelectStmt(), d); err != nil {
			return "", err
		}
	}

	out, err := pgquery.Deparse(tree)
	if err != nil {
		return "", apierr.New(apierr.Internal, "re-deparsing after concat rewrite: %s", err.Error())
	}
	return out, nil
}

// rewriteConcatInSelect walks a single SELECT (recursing into set-op
// branches, the target list, the WHERE clause and every JOIN's ON clause)
// rewriting each `||` chain it finds in place.
func rewriteConcatInSelect(sel *pgquery.SelectStmt, d Dialect) error {
	if sel == nil {
		return nil
	}
	if sel.Op != pgquery.SetOperation_SETOP_NONE {
		if err := rewriteConcatInSelect(sel.Larg, d); err != nil {
			return err
		}
		return rewriteConcatInSelect(sel.Rarg, d)
	}

	for _, tn := range sel.TargetList {
		rt := tn.GetResTarget()
		if rt == nil {
			continue
		}
		if err := rewriteConcatSlot(&rt.Val, d); err != nil {
			return err
		}
	}
	if sel.WhereClause != nil {
		if err := rewriteConcatSlot(&sel.WhereClause, d); err != nil {
			return err
		}
	}
	for _, fn := range sel.FromClause {
		if err := rewriteConcatInFrom(fn, d); err != nil {
			return err
		}
	}
	return nil
}

func rewriteConcatInFrom(n *pgquery.Node, d Dialect) error {
	je := n.GetJoinExpr()
	if je == nil {
		return nil
	}
	if err := rewriteConcatInFrom(je.Larg, d); err != nil {
		return err
	}
	if err := rewriteConcatInFrom(je.Rarg, d); err != nil {
		return err
	}
	if je.Quals != nil {
		return rewriteConcatSlot(&je.Quals, d)
	}
	return nil
}

// rewriteConcatSlot rewrites the expression held in *slot in place. It
// recurses into boolean/function argument lists and non-concat operators
// looking for a `||` chain; when it finds the root of one (the whole
// contiguous run of `||` operators, which left-associate into a single
// nested A_Expr tree) it flattens every operand, renders them through
// d.RewriteConcat and splices the result back in as a freshly parsed
// expression node.
func rewriteConcatSlot(slot **pgquery.Node, d Dialect) error {
	n := *slot
	if n == nil {
		return nil
	}

	if ae := n.GetAExpr(); ae != nil {
		if isConcatOp(ae) {
			operands := flattenConcatChain(ae)
			args := make([]string, len(operands))
			for i, op := range operands {
				text, err := deparseExprNode(op)
				if err != nil {
					return apierr.New(apierr.Internal, "re-deparsing concat operand: %s", err.Error())
				}
				args[i] = strings.TrimSpace(text)
			}
			replacement, err := parseExprNode(d.RewriteConcat(args))
			if err != nil {
				return unsupported("||", d.Name())
			}
			*slot = replacement
			return nil
		}
		if err := rewriteConcatSlot(&ae.Lexpr, d); err != nil {
			return err
		}
		return rewriteConcatSlot(&ae.Rexpr, d)
	}

	if be := n.GetBoolExpr(); be != nil {
		for i := range be.Args {
			if err := rewriteConcatSlot(&be.Args[i], d); err != nil {
				return err
			}
		}
		return nil
	}

	if fc := n.GetFuncCall(); fc != nil {
		for i := range fc.Args {
			if err := rewriteConcatSlot(&fc.Args[i], d); err != nil {
				return err
			}
		}
		return nil
	}

	return nil
}

// isConcatOp reports whether ae is the canonical `||` binary operator.
func isConcatOp(ae *pgquery.A_Expr) bool {
	if ae.Kind != pgquery.A_Expr_Kind_AEXPR_OP || len(ae.Name) != 1 {
		return false
	}
	s := ae.Name[0].GetString_()
	return s != nil && s.Sval == "||"
}

// flattenConcatChain unrolls the left-deep A_Expr tree a `||` chain parses
// into (`a || b || c` == AExpr(||, AExpr(||, a, b), c)) into its operands
// in source order.
func flattenConcatChain(ae *pgquery.A_Expr) []*pgquery.Node {
	var operands []*pgquery.Node
	if lae := ae.Lexpr.GetAExpr(); lae != nil && isConcatOp(lae) {
		operands = append(operands, flattenConcatChain(lae)...)
	} else {
		operands = append(operands, ae.Lexpr)
	}
	return append(operands, ae.Rexpr)
}

// deparseExprNode renders a single expression node back to SQL text by
// wrapping it in a throwaway "SELECT <expr>" statement and deparsing that
// — pg_query_go only deparses whole statements, not bare expressions.
func deparseExprNode(n *pgquery.Node) (string, error) {
	wrapped := &pgquery.ParseResult{
		Stmts: []*pgquery.RawStmt{{
			Stmt: &pgquery.Node{Node: &pgquery.Node_SelectStmt{SelectStmt: &pgquery.SelectStmt{
				TargetList: []*pgquery.Node{{Node: &pgquery.Node_ResTarget{ResTarget: &pgquery.ResTarget{Val: n}}}},
			}}},
		}},
	}
	out, err := pgquery.Deparse(wrapped)
	if err != nil {
		return "", err
	}
	return strings.TrimPrefix(out, "SELECT "), nil
}

// parseExprNode is deparseExprNode's inverse: it parses rendered (target-
// dialect function-call syntax, e.g. "CONCAT(a, ' ', b)") back into an
// expression node by re-parsing it as a one-column SELECT.
func parseExprNode(rendered string) (*pgquery.Node, error) {
	tree, err := pgquery.Parse("SELECT " + rendered)
	if err != nil {
		return nil, err
	}
	sel := tree.Stmts[0].Stmt.GetSelectStmt()
	if sel == nil || len(sel.TargetList) != 1 {
		return nil, fmt.Errorf("unexpected shape re-parsing rewritten expression %q", rendered)
	}
	return sel.TargetList[0].GetResTarget().Val, nil
}

// rewriteQuoting converts the canonical dialect's ANSI double-quoted
// identifiers into the target dialect's native quote character. Postgres
// deparse output uses double quotes only for quoted identifiers and single
// quotes for string literals, so every double quote outside a string
// literal is swapped; double quotes inside a literal are left as they are.
func rewriteQuoting(sql string, d Dialect) string {
	if d.Name() == "postgres" {
		return sql
	}
	sample := d.QuoteIdentifier("x")
	if len(sample) < 2 || sample[0] == '"' {
		return sql
	}
	open, close := sample[0], sample[len(sample)-1]

	var b strings.Builder
	inQuote, inString := false, false
	for i := 0; i < len(sql); i++ {
		c := sql[i]
		if c == '\'' && !inQuote {
			inString = !inString
		} else if c == '"' && !inString {
			if !inQuote {
				b.WriteByte(open)
			} else {
				b.WriteByte(close)
			}
			inQuote = !inQuote
			continue
		}
		b.WriteByte(c)
	}
	return b.String()
}
