// Package tenant implements multi-tenant scoping: resolved tenant
// configurations with a TTL cache, the scoped-context primitive that makes
// every database query tenant-filtered, per-tier quotas, and per-tenant rate
// limiting.
package tenant

import (
	"context"
	"errors"
)

// ServiceKind is the service class a request runs under.
type ServiceKind string

const (
	ServiceSI     ServiceKind = "si"     // commercial system-integrator class
	ServiceAPP    ServiceKind = "app"    // grant-funded access-point-provider class
	ServiceHybrid ServiceKind = "hybrid"
)

// Scope is the tenant context installed on an execution path.
type Scope struct {
	TenantID       string
	OrganizationID string
	UserID         string
	Service        ServiceKind
}

type contextKey string

const scopeKey contextKey = "tenant_scope"

// ErrNoScope is returned when a tenant-scoped operation runs without a scope.
var ErrNoScope = errors.New("tenant scope missing from context")

// WithScope installs a tenant scope on the context. Scopes nest naturally:
// the derived context carries the new scope, and the parent context keeps the
// prior one untouched, so unwinding restores it on every exit path.
func WithScope(ctx context.Context, s Scope) context.Context {
	return context.WithValue(ctx, scopeKey, s)
}

// FromContext extracts the active tenant scope, if any.
func FromContext(ctx context.Context) (Scope, bool) {
	s, ok := ctx.Value(scopeKey).(Scope)
	return s, ok
}

// OrgFromContext returns the active organization id or "".
func OrgFromContext(ctx context.Context) string {
	if s, ok := FromContext(ctx); ok {
		return s.OrganizationID
	}
	return ""
}

// RunScoped installs the scope, runs fn, and guarantees the prior scope is
// what later code observes regardless of how fn exits. With Go contexts the
// restoration is structural — the parent ctx is never mutated — but routing
// all scoped work through here keeps the discipline explicit and testable.
func RunScoped(ctx context.Context, s Scope, fn func(ctx context.Context) error) error {
	return fn(WithScope(ctx, s))
}
