package tenantctx

import (
	"context"
)

type contextKey struct{}

// TenantID identifies a tenant. Zero means unset.
type TenantID uint

// WithTenant returns a context bound to the given tenant. All business
// logic derives its tenant scope from this binding, never from a global.
func WithTenant(ctx context.Context, tenantID TenantID) context.Context {
	return context.WithValue(ctx, contextKey{}, tenantID)
}

// FromContext returns the tenant bound to ctx. ok is false outside a
// RunWithTenant/WithTenant scope.
func FromContext(ctx context.Context) (TenantID, bool) {
	id, ok := ctx.Value(contextKey{}).(TenantID)
	if !ok || id == 0 {
		return 0, false
	}
	return id, true
}

// MustFromContext returns the bound tenant and panics when none is set.
// Job consumers call this right after re-establishing the context from the
// job payload, so a panic here always means a wiring bug, not bad input.
func MustFromContext(ctx context.Context) TenantID {
	id, ok := FromContext(ctx)
	if !ok {
		panic("tenantctx: no tenant bound to context")
	}
	return id
}

// RunWithTenant executes fn under a context bound to tenantID. Queue
// hand-off does not carry this binding: the enqueuer captures the tenant id
// into the job payload and the consumer re-establishes it with another
// RunWithTenant before invoking business logic. A worker goroutine is
// shared across tenants and must never leak a binding between jobs.
func RunWithTenant(ctx context.Context, tenantID TenantID, fn func(ctx context.Context) error) error {
	return fn(WithTenant(ctx, tenantID))
}
