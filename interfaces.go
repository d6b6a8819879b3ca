package cramsino

import (
	"context"
	"net/http"
)

// StatusHook receives async notifications when a publisher's status is
// stored. Multiple hooks may be registered via multiple WithStatusHook calls.
// Hook methods run in goroutines and must not block indefinitely.
// Failures are logged but never affect ingestion.
type StatusHook interface {
	OnStatusPublished(ctx context.Context, record StatusRecord, flags Flags) error
}

// RouteRegistrar registers additional routes on the shared HTTP mux.
// Extra routes share the middleware chain and OTEL instrumentation with the
// relay's own routes. Called once during New().
type RouteRegistrar func(mux *http.ServeMux)

// Middleware wraps the root HTTP handler.
// Applied outermost (before routing), so it sees all requests including /health.
// Multiple middlewares are applied in registration order (first-registered = outermost).
type Middleware func(http.Handler) http.Handler
