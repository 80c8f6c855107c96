package logger

import (
	"context"
	"os"
	"time"

	"attendance.client/pkg/telemetry"
	"github.com/rs/zerolog"
	"github.com/rs/zerolog/log"
	"go.opentelemetry.io/otel/trace"
)

// Setup configures the global zerolog logger.
func Setup(service string, isLocalDev bool) {
	// Use Unix timestamps for performance and consistency
	zerolog.TimeFieldFormat = zerolog.TimeFormatUnix

	if isLocalDev {
		log.Logger = log.Output(zerolog.ConsoleWriter{Out: os.Stderr, TimeFormat: time.RFC3339})
		zerolog.SetGlobalLevel(zerolog.DebugLevel)
	} else {
		zerolog.SetGlobalLevel(zerolog.InfoLevel)
	}
	log.Logger = log.With().Str("service", service).Logger()
}

// EnrichContextWithLogger stores a logger in ctx that carries the trace
// ids and the uid the operation acts for, when known.
func EnrichContextWithLogger(ctx context.Context) context.Context {
	lc := log.With()
	enriched := false

	if sCtx := trace.SpanFromContext(ctx).SpanContext(); sCtx.HasTraceID() {
		lc = lc.Str("trace_id", sCtx.TraceID().String()).Str("span_id", sCtx.SpanID().String())
		enriched = true
	}
	if uid := telemetry.GetUIDFromContext(ctx); uid != "" {
		lc = lc.Str("uid", uid)
		enriched = true
	}
	if !enriched {
		return ctx
	}

	l := lc.Logger()
	return l.WithContext(ctx)
}
