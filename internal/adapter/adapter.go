// Package adapter defines the uniform capability set every source kind
// implements: connect, introspect, execute, ping. Adapters are a closed
// set of tagged variants keyed by Kind, registered once at startup — there
// is no dynamic plugin loading.
package adapter

import (
	"context"
	"encoding/json"
	"time"

	"github.com/federatedsql/gateway/internal/catalogtypes"
)

// Kind identifies a registered source/dialect implementation.
type Kind string

const (
	Postgres Kind = "postgres"
	MySQL    Kind = "mysql"
	Doris    Kind = "doris"
	Druid    Kind = "druid"
)

// Valid reports whether k is one of the known kinds.
func (k Kind) Valid() bool {
	switch k {
	case Postgres, MySQL, Doris, Druid:
		return true
	default:
		return false
	}
}

// ScalarType is the small tagged scalar set row values are normalized to,
// independent of any source-specific wire type.
type ScalarType int

const (
	TInt ScalarType = iota
	TFloat
	TBool
	TText
	TTime
	TBytes
	TDecimal
	TJSON
)

// Value is one cell of a RowBatch.
type Value struct {
	Type    ScalarType
	Null    bool
	Int     int64
	Float   float64
	Bool    bool
	Text    string
	Time    time.Time
	Bytes   []byte
	Decimal string
	JSON    json.RawMessage
}

// RowBatch is the ordered, typed result of one adapter Execute call.
type RowBatch struct {
	Columns     []string
	ColumnTypes []ScalarType
	Rows        [][]Value
}

// Source is the capability set every source kind implements. Adapters are
// constructed per-connection (one pooled handle each), never shared across
// connections of different kinds.
type Source interface {
	Kind() Kind
	Connect(ctx context.Context, url string, cfg PoolConfig) error
	Ping(ctx context.Context) error
	Introspect(ctx context.Context) (catalogtypes.Catalog, error)
	Execute(ctx context.Context, nativeSQL string, timeout time.Duration) (RowBatch, error)
	Close() error
}

// PoolConfig bounds a single connection's pool.
type PoolConfig struct {
	PoolSize        int
	MaxConnections  int
	AcquireTimeout  time.Duration
	MaxConnLifetime time.Duration
	MaxConnIdleTime time.Duration
}

// Factory builds a fresh, unconnected Source of a given kind.
type Factory func() Source

// Registry is the single tagged-variant registry built once at startup.
// It holds no live connections itself — those live on the Source values
// handed back by New.
type Registry struct {
	factories map[Kind]Factory
}

// NewRegistry builds a registry with the default factories for
// postgres/mysql/doris/druid. Callers may add further kinds with Register.
func NewRegistry() *Registry {
	r := &Registry{factories: make(map[Kind]Factory)}
	r.Register(Postgres, func() Source { return newPostgresSource() })
	r.Register(MySQL, func() Source { return newMySQLSource(MySQL) })
	r.Register(Doris, func() Source { return newMySQLSource(Doris) })
	r.Register(Druid, func() Source { return newDruidSource() })
	return r
}

// Register adds or replaces the factory for a kind.
func (r *Registry) Register(k Kind, f Factory) {
	r.factories[k] = f
}

// New builds a fresh Source for kind, or an Internal error if kind is
// unregistered.
func (r *Registry) New(k Kind) (Source, error) {
	f, ok := r.factories[k]
	if !ok {
		return nil, unsupportedKind(k)
	}
	return f(), nil
}
