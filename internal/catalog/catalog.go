// Package catalog introspects source adapters and persists the result
// into the domain-scoped store, so the planner and dialect translator can
// resolve table/column references without hitting a live connection on
// every query (spec.md §4.3).
package catalog

import (
	"context"

	"github.com/federatedsql/gateway/internal/adapter"
	"github.com/federatedsql/gateway/internal/apierr"
	"github.com/federatedsql/gateway/internal/catalogtypes"
	"github.com/federatedsql/gateway/internal/store"
)

// Manager wires adapter introspection to store persistence.
type Manager struct {
	store *store.Store
}

// NewManager returns a Manager backed by s.
func NewManager(s *store.Store) *Manager {
	return &Manager{store: s}
}

// Introspect runs src's engine-specific introspection query and returns
// the normalized Catalog, without touching the store.
func Introspect(ctx context.Context, src adapter.Source) (catalogtypes.Catalog, error) {
	cat, err := src.Introspect(ctx)
	if err != nil {
		return catalogtypes.Catalog{}, err
	}
	return cat, nil
}

// Refresh introspects src and persists the result as the new current
// cache row for connectionID.
func (m *Manager) Refresh(ctx context.Context, domainID, connectionID string, src adapter.Source) (catalogtypes.Catalog, error) {
	cat, err := Introspect(ctx, src)
	if err != nil {
		return catalogtypes.Catalog{}, err
	}
	if err := m.store.PersistCatalog(ctx, domainID, connectionID, cat); err != nil {
		return catalogtypes.Catalog{}, err
	}
	return cat, nil
}

// LoadOrFetch returns the cached catalog for connectionID. When refresh is
// true, or no cache row exists, it introspects src live and persists the
// result. With a nil src nothing is fetched, and a cache miss (or a
// refresh request) is apierr.CatalogMissing (spec.md §4.3).
func (m *Manager) LoadOrFetch(ctx context.Context, domainID, connectionID string, src adapter.Source, refresh bool) (catalogtypes.Catalog, error) {
	if !refresh {
		cat, err := m.store.LoadCatalog(ctx, domainID, connectionID)
		if err == nil {
			return cat, nil
		}
		if apierr.CodeOf(err) != apierr.CatalogMissing {
			return catalogtypes.Catalog{}, err
		}
		if src == nil {
			return catalogtypes.Catalog{}, err
		}
		// fall through to a live fetch on a genuine cache miss
	}
	if src == nil {
		return catalogtypes.Catalog{}, apierr.New(apierr.CatalogMissing, "no cached catalog for connection %q and no source to refresh from", connectionID)
	}
	return m.Refresh(ctx, domainID, connectionID, src)
}
