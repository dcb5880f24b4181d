package observe

import (
	"log/slog"
	"net/http"
	"time"

	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/metric"
	"go.opentelemetry.io/otel/propagation"
	semconv "go.opentelemetry.io/otel/semconv/v1.26.0"
	"go.opentelemetry.io/otel/trace"
)

// sessionHeader carries the capture session's correlation ID on dictation
// requests. It is distinct from the trace ID: the session ID is minted by the
// capture controller (or the embedding application) and spans the whole
// capture-to-draft flow, while a trace ID covers one HTTP exchange.
const sessionHeader = "X-Session-ID"

// responseRecorder wraps [http.ResponseWriter] to capture the status code
// written by the downstream handler.
type responseRecorder struct {
	http.ResponseWriter
	statusCode int
}

// WriteHeader captures the status code and delegates to the wrapped writer.
func (r *responseRecorder) WriteHeader(code int) {
	r.statusCode = code
	r.ResponseWriter.WriteHeader(code)
}

// probePath reports whether the request is a liveness or readiness probe.
// Probes run every few seconds and would drown the request log at info level.
func probePath(path string) bool {
	return path == "/healthz" || path == "/readyz"
}

// Middleware returns an [http.Handler] wrapper for the dictation API. It:
//
//  1. Extracts W3C Trace Context from incoming request headers (or starts a
//     new trace) and opens a server span for the request.
//  2. Sets the X-Correlation-ID response header from the trace ID so clients
//     can quote it when reporting a failed dictation.
//  3. Attaches the capture session ID from the X-Session-ID request header,
//     when present, to the span and the completion log line.
//  4. Records request duration to [Metrics.HTTPRequestDuration], labelled
//     with the matched route pattern when the mux provides one.
//  5. Logs request completion; health probes log at debug level.
func Middleware(m *Metrics) func(http.Handler) http.Handler {
	prop := propagation.TraceContext{}

	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			start := time.Now()

			ctx := prop.Extract(r.Context(), propagation.HeaderCarrier(r.Header))

			ctx, span := StartSpan(ctx, "HTTP "+r.Method+" "+r.URL.Path,
				trace.WithSpanKind(trace.SpanKindServer),
				trace.WithAttributes(
					semconv.HTTPRequestMethodKey.String(r.Method),
					semconv.URLPath(r.URL.Path),
				),
			)
			defer span.End()

			cid := CorrelationID(ctx)
			if cid != "" {
				w.Header().Set("X-Correlation-ID", cid)
			}

			sessionID := r.Header.Get(sessionHeader)
			if sessionID != "" {
				span.SetAttributes(attribute.String("session.correlation_id", sessionID))
			}

			prop.Inject(ctx, propagation.HeaderCarrier(w.Header()))

			r = r.WithContext(ctx)

			rec := &responseRecorder{ResponseWriter: w, statusCode: http.StatusOK}
			next.ServeHTTP(rec, r)

			duration := time.Since(start)

			// r.Pattern is populated by the mux after routing; it groups the
			// metric by route ("/v1/drafts/{id}") instead of raw paths.
			attrs := []attribute.KeyValue{
				attribute.String("method", r.Method),
				attribute.String("path", r.URL.Path),
			}
			if r.Pattern != "" {
				attrs = append(attrs, attribute.String("route", r.Pattern))
			}
			m.HTTPRequestDuration.Record(ctx, duration.Seconds(),
				metric.WithAttributes(attrs...))

			span.SetAttributes(semconv.HTTPResponseStatusCode(rec.statusCode))

			level := slog.LevelInfo
			if probePath(r.URL.Path) {
				level = slog.LevelDebug
			}
			logAttrs := []slog.Attr{
				slog.String("trace_id", cid),
				slog.String("method", r.Method),
				slog.String("path", r.URL.Path),
				slog.Int("status", rec.statusCode),
				slog.Duration("duration", duration),
			}
			if sessionID != "" {
				logAttrs = append(logAttrs, slog.String("session_id", sessionID))
			}
			slog.LogAttrs(ctx, level, "request completed", logAttrs...)
		})
	}
}
