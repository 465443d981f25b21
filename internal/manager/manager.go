package manager

import (
	"context"
	"fmt"

	"github.com/rpattn/querykit/internal/auth"
	"github.com/rpattn/querykit/internal/domain"
	"github.com/rpattn/querykit/internal/query"
)

// Manager is the scoped entry point for reads against one entity. It holds no
// query state: every call returns a fresh builder.
type Manager struct {
	desc       domain.EntityDescriptor
	scopeField string
	exec       query.Executor
}

// New creates a manager for desc. scopeField names the field that every query
// is restricted by (a tenant or shop id).
func New(desc domain.EntityDescriptor, scopeField string, exec query.Executor) *Manager {
	return &Manager{desc: desc, scopeField: scopeField, exec: exec}
}

// Descriptor returns the entity the manager reads.
func (m *Manager) Descriptor() domain.EntityDescriptor { return m.desc }

// ScopeField returns the field scope keys are matched against.
func (m *Manager) ScopeField() string { return m.scopeField }

// Query returns an unscoped builder. Callers are responsible for restricting it.
func (m *Manager) Query() *query.Builder {
	return query.New(m.desc.Name, m.exec)
}

// GetByScope returns a builder restricted to key.
func (m *Manager) GetByScope(key any) *query.Builder {
	return m.Query().Filter(query.Eq(m.scopeField, key))
}

// GetByScopeFromContext scopes a builder to the key carried by ctx.
func (m *Manager) GetByScopeFromContext(ctx context.Context) (*query.Builder, error) {
	key, ok := auth.ScopeFromContext(ctx)
	if !ok {
		return nil, auth.ErrNoScope
	}
	return m.GetByScope(key), nil
}

func (m *Manager) scoped(ctx context.Context, key any, filters map[string]any) (*query.Builder, error) {
	if err := auth.EnforceScope(ctx, key); err != nil {
		return nil, err
	}
	b, err := m.GetByScope(key).FilterMap(filters)
	if err != nil {
		return nil, fmt.Errorf("invalid filters: %w", err)
	}
	return b, nil
}

// GetList is the keyword-style read: scope, filters and join-style embeds in
// one call.
func (m *Manager) GetList(ctx context.Context, key any, filters map[string]any, embed []string) ([]domain.Record, error) {
	b, err := m.scoped(ctx, key, filters)
	if err != nil {
		return nil, err
	}
	return b.SelectRelated(embed...).List(ctx)
}

// GetByID returns the record with primary key pk inside scope key.
func (m *Manager) GetByID(ctx context.Context, key, pk any) (domain.Record, error) {
	b, err := m.scoped(ctx, key, nil)
	if err != nil {
		return domain.Record{}, err
	}
	return b.Get(ctx, query.Eq(m.desc.PrimaryKeyField(), pk))
}

// GetOne returns the single record matching filters inside scope key.
func (m *Manager) GetOne(ctx context.Context, key any, filters map[string]any) (domain.Record, error) {
	b, err := m.scoped(ctx, key, filters)
	if err != nil {
		return domain.Record{}, err
	}
	return b.Get(ctx)
}

// Exists reports whether any record inside scope key matches filters.
func (m *Manager) Exists(ctx context.Context, key any, filters map[string]any) (bool, error) {
	b, err := m.scoped(ctx, key, filters)
	if err != nil {
		return false, err
	}
	return b.Exists(ctx)
}

// Count counts the records inside scope key matching filters.
func (m *Manager) Count(ctx context.Context, key any, filters map[string]any) (int64, error) {
	b, err := m.scoped(ctx, key, filters)
	if err != nil {
		return 0, err
	}
	return b.Count(ctx)
}
