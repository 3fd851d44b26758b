// Package httpapi exposes the ledger over a JSON REST API.
package httpapi

import (
	"context"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"
)

// HealthCheck reports whether the service can reach its dependencies.
type HealthCheck func(ctx context.Context) error

// NewRouter wires the handler routes, /metrics and /healthz.
// A nil health check always reports healthy.
func NewRouter(h *Handler, health HealthCheck) http.Handler {
	r := chi.NewRouter()
	r.Use(middleware.RequestID)
	r.Use(middleware.Recoverer)
	r.Use(Tracing)

	r.Route("/api", func(r chi.Router) {
		r.Post("/transfers", h.CreateTransfer)
		r.Get("/transfers", h.ListTransfers)
		r.Get("/transfers/{id}", h.GetTransfer)
		r.Get("/accounts", h.ListAccounts)
		r.Get("/accounts/{id}", h.GetAccount)
	})

	r.Handle("/metrics", promhttp.Handler())
	r.Get("/healthz", func(w http.ResponseWriter, r *http.Request) {
		if health != nil {
			ctx, cancel := context.WithTimeout(r.Context(), 2*time.Second)
			defer cancel()
			if err := health(ctx); err != nil {
				sendErrorResponse(w, http.StatusServiceUnavailable, "UNAVAILABLE", err.Error())
				return
			}
		}
		sendJSON(w, http.StatusOK, map[string]string{"status": "ok"})
	})

	return r
}

// Tracing starts a server span per request, named after the matched route.
func Tracing(next http.Handler) http.Handler {
	tracer := otel.Tracer("ledger-service/http")

	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		ctx, span := tracer.Start(r.Context(), "HTTP "+r.Method,
			trace.WithSpanKind(trace.SpanKindServer),
			trace.WithAttributes(
				attribute.String("http.method", r.Method),
				attribute.String("http.target", r.URL.Path),
			),
		)
		defer span.End()

		ww := middleware.NewWrapResponseWriter(w, r.ProtoMajor)
		next.ServeHTTP(ww, r.WithContext(ctx))

		// The route pattern is only known once chi has matched it.
		if rctx := chi.RouteContext(r.Context()); rctx != nil && rctx.RoutePattern() != "" {
			span.SetName("HTTP " + r.Method + " " + rctx.RoutePattern())
			span.SetAttributes(attribute.String("http.route", rctx.RoutePattern()))
		}

		status := ww.Status()
		span.SetAttributes(attribute.Int("http.status_code", status))
		if status >= http.StatusInternalServerError {
			span.SetStatus(codes.Error, http.StatusText(status))
		}
	})
}
