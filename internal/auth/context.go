package auth

import (
	"context"
	"errors"
	"fmt"
)

type contextKey string

const scopeKey contextKey = "scope"

// ErrNoScope is returned when a scoped read is requested without a scope key.
var ErrNoScope = errors.New("scope key is required")

// ContextWithScope returns a new context that carries the authenticated scope key
// (the tenant or shop a caller is allowed to read).
func ContextWithScope(ctx context.Context, key any) context.Context {
	if ctx == nil {
		ctx = context.Background()
	}
	return context.WithValue(ctx, scopeKey, key)
}

// ScopeFromContext retrieves the authenticated scope key from the context, if any.
func ScopeFromContext(ctx context.Context) (any, bool) {
	if ctx == nil {
		return nil, false
	}
	value := ctx.Value(scopeKey)
	if value == nil || isZero(value) {
		return nil, false
	}
	return value, true
}

// EnforceScope ensures the provided key matches the authenticated scope when present.
func EnforceScope(ctx context.Context, key any) error {
	if key == nil || isZero(key) {
		return ErrNoScope
	}
	scoped, ok := ScopeFromContext(ctx)
	if !ok {
		return nil
	}
	if fmt.Sprint(scoped) != fmt.Sprint(key) {
		return fmt.Errorf("scope %v does not match authenticated scope", key)
	}
	return nil
}

func isZero(v any) bool {
	switch k := v.(type) {
	case string:
		return k == ""
	case int:
		return k == 0
	case int64:
		return k == 0
	default:
		return false
	}
}
