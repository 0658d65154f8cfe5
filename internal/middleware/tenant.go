package middleware

import (
	"context"
	"net/http"

	"github.com/Strob0t/OnboardForge/internal/logger"
)

// DefaultTenantID is the single-tenant default used when no X-Tenant-ID header is set.
const DefaultTenantID = "00000000-0000-0000-0000-000000000000"

const headerTenantID = "X-Tenant-ID"

type tenantCtxKey struct{}

// TenantID is middleware that extracts the tenant ID from the X-Tenant-ID header
// and stores it in the request context. Falls back to DefaultTenantID if absent.
// A tenant already bound by APIKeyAuth wins over the header.
func TenantID(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if _, bound := r.Context().Value(tenantCtxKey{}).(string); bound {
			next.ServeHTTP(w, r)
			return
		}
		tid := r.Header.Get(headerTenantID)
		if tid == "" {
			tid = DefaultTenantID
		}
		next.ServeHTTP(w, r.WithContext(WithTenantID(r.Context(), tid)))
	})
}

// WithTenantID binds ctx to a tenant. Queue consumers and the admin CLI use
// it to enter the tenant scope that HTTP requests get from TenantID.
func WithTenantID(ctx context.Context, tid string) context.Context {
	ctx = context.WithValue(ctx, tenantCtxKey{}, tid)
	return logger.WithTenantID(ctx, tid)
}

// TenantIDFromContext returns the tenant ID stored in ctx, or DefaultTenantID if absent.
func TenantIDFromContext(ctx context.Context) string {
	if tid, ok := ctx.Value(tenantCtxKey{}).(string); ok {
		return tid
	}
	return DefaultTenantID
}
