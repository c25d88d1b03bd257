// Package httpserver exposes debug and metrics endpoints over the engine's
// public API: liveness, member snapshots, and ad-hoc data lookups. It never
// mutates engine state.
package httpserver

import (
	"context"
	"encoding/json"
	"log/slog"
	"net/http"
	"strconv"
	"strings"
	"time"

	"github.com/prometheus/client_golang/prometheus/promhttp"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"

	"github.com/Donaldhan/incubator-retired-gossip/pkg/engine"
	"github.com/Donaldhan/incubator-retired-gossip/pkg/metrics"
	"github.com/Donaldhan/incubator-retired-gossip/pkg/tracing"
)

// instrument wraps h with request-count, duration, in-flight metrics and a
// server span, labeled by the route pattern rather than the raw path so
// per-key debug lookups don't create unbounded label cardinality.
func instrument(route string, h http.HandlerFunc) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		metrics.IncrementActiveRequests()
		defer metrics.DecrementActiveRequests()

		tracer := otel.Tracer(tracing.TracerHTTP)
		ctx, span := tracer.Start(r.Context(), tracing.SpanHTTPRequest, trace.WithSpanKind(trace.SpanKindServer))
		span.SetAttributes(attribute.String("http.method", r.Method), attribute.String("http.route", route))

		start := time.Now()
		rw := &statusWriter{ResponseWriter: w, status: http.StatusOK}
		h(rw, r.WithContext(ctx))

		metrics.ObserveHTTPRequestDuration(r.Method, route, time.Since(start).Seconds())
		metrics.RecordHTTPRequest(r.Method, route, strconv.Itoa(rw.status))

		span.SetAttributes(attribute.Int("http.status_code", rw.status))
		if rw.status >= 500 {
			span.SetStatus(codes.Error, "server error")
		}
		span.End()
	}
}

type statusWriter struct {
	http.ResponseWriter
	status int
}

func (w *statusWriter) WriteHeader(status int) {
	w.status = status
	w.ResponseWriter.WriteHeader(status)
}

// Start registers debug endpoints and launches an HTTP server bound to
// addr (e.g. "127.0.0.1:18080"). It returns a shutdown function that stops
// the server (best-effort).
func Start(ctx context.Context, logger *slog.Logger, e *engine.GossipEngine, addr string) func(context.Context) error {
	mux := http.NewServeMux()

	mux.HandleFunc("/healthz", instrument("healthz", func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusOK)
		_, _ = w.Write([]byte("ok"))
	}))

	mux.Handle("/metrics", promhttp.HandlerFor(metrics.Registry(), promhttp.HandlerOpts{}))

	mux.HandleFunc("/v1/members/live", instrument("members_live", func(w http.ResponseWriter, r *http.Request) {
		writeJSON(w, e.LiveMembers())
	}))

	mux.HandleFunc("/v1/members/dead", instrument("members_dead", func(w http.ResponseWriter, r *http.Request) {
		writeJSON(w, e.DeadMembers())
	}))

	mux.HandleFunc("/v1/self", instrument("self", func(w http.ResponseWriter, r *http.Request) {
		writeJSON(w, e.Self())
	}))

	mux.HandleFunc("/v1/data/shared/", instrument("data_shared", func(w http.ResponseWriter, r *http.Request) {
		key := strings.TrimPrefix(r.URL.Path, "/v1/data/shared/")
		if key == "" {
			w.WriteHeader(http.StatusBadRequest)
			return
		}
		datum, ok := e.FindSharedGossipData(key)
		if !ok {
			w.WriteHeader(http.StatusNotFound)
			return
		}
		writeJSON(w, datum)
	}))

	mux.HandleFunc("/v1/data/pernode/", instrument("data_pernode", func(w http.ResponseWriter, r *http.Request) {
		rest := strings.TrimPrefix(r.URL.Path, "/v1/data/pernode/")
		parts := strings.SplitN(rest, "/", 2)
		if len(parts) != 2 || parts[0] == "" || parts[1] == "" {
			w.WriteHeader(http.StatusBadRequest)
			return
		}
		datum, ok := e.FindPerNodeGossipData(parts[0], parts[1])
		if !ok {
			w.WriteHeader(http.StatusNotFound)
			return
		}
		writeJSON(w, datum)
	}))

	srv := &http.Server{Addr: addr, Handler: mux}
	go func() {
		if err := srv.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			logger.Error("http server error", "error", err)
		}
	}()
	return func(shutdownCtx context.Context) error { return srv.Shutdown(shutdownCtx) }
}

func writeJSON(w http.ResponseWriter, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(http.StatusOK)
	_ = json.NewEncoder(w).Encode(v)
}
