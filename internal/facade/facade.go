// Package facade is the single entry point every transport (cmd/gwctl,
// and in principle any future HTTP/RPC front door) calls through. It
// wires admission, alias resolution against the embedded store, planning,
// timeout enforcement and execution into one Query call, and guarantees
// the audit trail (spec.md §7 "history writes always occur") regardless
// of how the request ends.
package facade

import (
	"context"
	"strings"
	"sync"
	"time"

	"go.uber.org/zap"

	"github.com/federatedsql/gateway/internal/adapter"
	"github.com/federatedsql/gateway/internal/admission"
	"github.com/federatedsql/gateway/internal/apierr"
	"github.com/federatedsql/gateway/internal/dialect"
	"github.com/federatedsql/gateway/internal/executor"
	"github.com/federatedsql/gateway/internal/planner"
	"github.com/federatedsql/gateway/internal/store"
)

// DefaultTimeout is used when a request carries no explicit timeout.
const DefaultTimeout = 30 * time.Second

// QueryRequest is the one shape every transport translates its own
// wire format into before calling Query.
type QueryRequest struct {
	DomainID string
	SQL      string
	// Aliases maps the dot-qualification prefix used in SQL (spec.md
	// §4.4 "alias.table") to a connection ID registered under DomainID.
	Aliases map[string]string
	Timeout time.Duration
}

// QueryService is the facade (spec.md §4.8). One instance is built at
// startup and shared across requests.
type QueryService struct {
	store      *store.Store
	registry   *adapter.Registry
	planner    *planner.Planner
	translator *dialect.Translator
	log        *zap.SugaredLogger

	admitter  *admission.Validator
	maxWait   time.Duration
	connMu    sync.Mutex
	conns     map[string]adapter.Source // connectionID -> live, connected source
	kinds     map[string]adapter.Kind
	cancelMu  sync.Mutex
	nextToken uint64
	cancelers map[string]map[uint64]context.CancelFunc // domainID -> in-flight cancel funcs
}

// New builds a QueryService. maxRowLimit and maxTimeout come from
// internal/config (Admission.MaxRowLimit, Facade.MaxTimeout).
func New(st *store.Store, registry *adapter.Registry, pl *planner.Planner, translator *dialect.Translator, log *zap.SugaredLogger, maxRowLimit int, maxTimeout time.Duration) *QueryService {
	if maxTimeout <= 0 {
		maxTimeout = DefaultTimeout
	}
	return &QueryService{
		store:      st,
		registry:   registry,
		planner:    pl,
		translator: translator,
		log:        log,
		admitter:   admission.NewValidator(maxRowLimit),
		maxWait:    maxTimeout,
		conns:      make(map[string]adapter.Source),
		kinds:      make(map[string]adapter.Kind),
		cancelers:  make(map[string]map[uint64]context.CancelFunc),
	}
}

// Query runs the full admission -> resolve -> plan -> execute pipeline
// (spec.md §4.8 steps 1-6), writing exactly one query_history row no
// matter how the request ends.
func (q *QueryService) Query(ctx context.Context, req QueryRequest) (executor.Result, error) {
	start := time.Now()

	admitted, err := q.admitter.Validate(req.SQL)
	if err != nil {
		q.recordHistory(ctx, req, "", "failed", 0, time.Since(start), err)
		return executor.Result{}, err
	}

	connIDs, err := q.resolveConnections(ctx, req.DomainID, admitted, req.Aliases)
	if err != nil {
		q.recordHistory(ctx, req, "", "failed", 0, time.Since(start), err)
		return executor.Result{}, err
	}

	plan, err := q.planner.Plan(admitted, req.Aliases)
	if err != nil {
		q.recordHistory(ctx, req, joinIDs(connIDs), "failed", 0, time.Since(start), err)
		return executor.Result{}, err
	}

	timeout := req.Timeout
	if timeout <= 0 || timeout > q.maxWait {
		timeout = q.maxWait
	}
	runCtx, cancel := context.WithTimeout(ctx, timeout)
	token := q.registerCanceler(req.DomainID, cancel)
	defer q.deregisterCanceler(req.DomainID, token)
	defer cancel()

	sources, kinds, err := q.liveSources(runCtx, req.DomainID, connIDs)
	if err != nil {
		q.recordHistory(ctx, req, joinIDs(connIDs), "failed", 0, time.Since(start), err)
		return executor.Result{}, err
	}

	eng := executor.NewEngine(sources, kinds, q.translator)
	res, err := eng.Run(runCtx, admitted.CanonicalSQL, plan, q.admitter.MaxRowLimit)
	res.LimitApplied = res.LimitApplied || admitted.AppliedLimit

	status := "success"
	var historyErr error
	switch {
	case err != nil && runCtx.Err() != nil:
		status = "cancelled"
		historyErr = err
	case err != nil:
		status = "failed"
		historyErr = err
	}
	q.recordHistory(ctx, req, joinIDs(connIDs), status, int64(res.RowCount), time.Since(start), historyErr)

	return res, err
}

// CancelDomain aborts every in-flight query whose request carries
// domainID (spec.md §5 domain-switch cancellation). The next history
// write for each affected request will show status=cancelled. The
// cancellation carries no reason beyond context.Canceled: the returned
// error and the history row look the same as for an elapsed deadline,
// and no "domain_switch" marker is recorded.
func (q *QueryService) CancelDomain(domainID string) {
	q.cancelMu.Lock()
	cancels := q.cancelers[domainID]
	delete(q.cancelers, domainID)
	q.cancelMu.Unlock()

	for _, c := range cancels {
		c()
	}
}

// registerCanceler records cancel under a fresh token so it can be
// individually removed once its own request completes, without relying
// on func value comparability (context.CancelFunc is not comparable).
func (q *QueryService) registerCanceler(domainID string, cancel context.CancelFunc) uint64 {
	q.cancelMu.Lock()
	defer q.cancelMu.Unlock()
	q.nextToken++
	token := q.nextToken
	if q.cancelers[domainID] == nil {
		q.cancelers[domainID] = make(map[uint64]context.CancelFunc)
	}
	q.cancelers[domainID][token] = cancel
	return token
}

func (q *QueryService) deregisterCanceler(domainID string, token uint64) {
	q.cancelMu.Lock()
	defer q.cancelMu.Unlock()
	delete(q.cancelers[domainID], token)
}

// resolveConnections validates that every alias referenced by the
// statement maps to a connection registered under domainID, and returns
// the distinct connection IDs involved (domain-scoped lookup, spec.md
// §4.7 invariant "every store read is WHERE domain_id = ?").
func (q *QueryService) resolveConnections(ctx context.Context, domainID string, admitted admission.AdmittedQuery, aliases map[string]string) ([]string, error) {
	seen := map[string]bool{}
	var out []string
	for _, t := range admitted.ReferencedTables {
		key := t.Schema
		if key == "" {
			key = t.Alias
		}
		if key == "" {
			key = t.Name
		}
		connID, ok := aliases[key]
		if !ok {
			return nil, apierr.New(apierr.UnknownAlias, "no connection mapped for alias %q", key)
		}
		if _, err := q.store.GetConnection(ctx, domainID, connID); err != nil {
			return nil, err
		}
		if !seen[connID] {
			seen[connID] = true
			out = append(out, connID)
		}
	}
	return out, nil
}

// liveSources returns connected adapter.Source values for every
// connection ID, dialing lazily and caching the result for reuse by
// later requests (mirrors the teacher's per-database dbContext pool:
// core/api.go's graphjinEngine keeps one *sql.DB per configured database
// rather than reopening it per request).
func (q *QueryService) liveSources(ctx context.Context, domainID string, connIDs []string) (map[string]adapter.Source, map[string]adapter.Kind, error) {
	sources := make(map[string]adapter.Source, len(connIDs))
	kinds := make(map[string]adapter.Kind, len(connIDs))

	for _, id := range connIDs {
		src, kind, err := q.connect(ctx, domainID, id)
		if err != nil {
			return nil, nil, err
		}
		sources[id] = src
		kinds[id] = kind
	}
	return sources, kinds, nil
}

func (q *QueryService) connect(ctx context.Context, domainID, connID string) (adapter.Source, adapter.Kind, error) {
	q.connMu.Lock()
	if src, ok := q.conns[connID]; ok {
		kind := q.kinds[connID]
		q.connMu.Unlock()
		if pingErr := src.Ping(ctx); pingErr == nil {
			return src, kind, nil
		}
		// Fall through and redial below; the stale entry is replaced once
		// a fresh connection succeeds.
	} else {
		q.connMu.Unlock()
	}

	conn, err := q.store.GetConnection(ctx, domainID, connID)
	if err != nil {
		return nil, "", err
	}
	kind := adapter.Kind(conn.Kind)

	src, err := q.registry.New(kind)
	if err != nil {
		return nil, "", err
	}
	if err := src.Connect(ctx, conn.URL, adapter.PoolConfig{}); err != nil {
		_ = q.store.SetConnectionStatus(ctx, connID, "error")
		return nil, "", apierr.New(apierr.SourceUnavailable, "connecting to %q: %s", conn.Name, err.Error())
	}
	_ = q.store.SetConnectionStatus(ctx, connID, "connected")

	q.connMu.Lock()
	q.conns[connID] = src
	q.kinds[connID] = kind
	q.connMu.Unlock()

	return src, kind, nil
}

func (q *QueryService) recordHistory(ctx context.Context, req QueryRequest, connID, status string, rowCount int64, elapsed time.Duration, err error) {
	entry := store.HistoryEntry{
		DomainID:     req.DomainID,
		ConnectionID: connID,
		SQL:          req.SQL,
		Status:       status,
		RowCount:     rowCount,
		DurationMs:   elapsed.Milliseconds(),
	}
	if err != nil {
		entry.Error = err.Error()
	}
	if werr := q.store.RecordHistory(ctx, entry); werr != nil && q.log != nil {
		q.log.Warnw("failed to record query history", "domain_id", req.DomainID, "error", werr)
	}
}

func joinIDs(ids []string) string {
	return strings.Join(ids, ",")
}
