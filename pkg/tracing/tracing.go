package tracing

import (
	"context"
	"log/slog"
	"os"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/exporters/stdout/stdouttrace"
	"go.opentelemetry.io/otel/sdk/resource"
	sdktrace "go.opentelemetry.io/otel/sdk/trace"
)

// Tracer names
const (
	TracerHTTP     = "httpserver"
	TracerEngine   = "engine"
	TracerGossiper = "gossiper"
	TracerStore    = "store"
	TracerCLI      = "gossipctl"
)

// Span names
const (
	SpanHTTPRequest   = "http.request"
	SpanEngineInit    = "engine.init"
	SpanEngineStop    = "engine.stop"
	SpanGossipPush    = "gossiper.push"
	SpanDispatchApply = "dispatch.apply"
	SpanStoreMerge    = "store.merge"
	SpanVoteAcquire   = "votelock.acquire"
	SpanCLIStatus     = "gossipctl.status"
)

type ShutdownFunc func(context.Context) error

// Init configures a global tracer provider. Uses stdout exporter by default when OTEL_TRACING_STDOUT=1.
// Otherwise sets up a basic in-memory provider (no-op exporter) so spans can still be created.
func Init(ctx context.Context, logger *slog.Logger) (ShutdownFunc, error) {
	serviceName := os.Getenv("OTEL_SERVICE_NAME")
	if serviceName == "" {
		serviceName = "gossip-engine"
	}

	res, err := resource.New(ctx,
		resource.WithAttributes(
			attribute.String("service.name", serviceName),
			attribute.String("library", "github.com/Donaldhan/incubator-retired-gossip"),
		),
	)
	if err != nil {
		if logger != nil {
			logger.Warn("tracing resource init failed", "error", err)
		}
	}

	var tp *sdktrace.TracerProvider

	if os.Getenv("OTEL_TRACING_STDOUT") == "1" {
		exp, err := stdouttrace.New(stdouttrace.WithPrettyPrint())
		if err != nil {
			if logger != nil {
				logger.Error("stdout trace exporter init failed", "error", err)
			}
		} else {
			tp = sdktrace.NewTracerProvider(
				sdktrace.WithBatcher(exp),
				sdktrace.WithResource(res),
				sdktrace.WithSampler(sdktrace.AlwaysSample()),
			)
		}
	}

	if tp == nil {
		// Fallback to a provider without exporter; spans won't be exported but APIs work
		tp = sdktrace.NewTracerProvider(
			sdktrace.WithResource(res),
		)
	}

	otel.SetTracerProvider(tp)
	return tp.Shutdown, nil
}
