// Package http provides the inbound HTTP transport adapter: the listener,
// the JSON-RPC request/response cycle, panic recovery, correlation-id
// injection, and the Prometheus metrics the sidecar exposes.
package http

import (
	"context"
	"log/slog"
	"net/http"
	"runtime/debug"

	"github.com/google/uuid"
	"github.com/olegmukhin/thoughtgate/internal/ctxkey"
)

// redactedHeaders is the case-insensitive set of headers never echoed into a
// log line or diagnostic — the non-disclosure boundary extends to request
// headers carrying credentials, not just JSON-RPC error payloads.
var redactedHeaders = map[string]struct{}{
	"authorization":       {},
	"cookie":              {},
	"set-cookie":          {},
	"x-api-key":           {},
	"x-auth-token":        {},
	"proxy-authorization": {},
}

func isRedactedHeader(name string) bool {
	_, ok := redactedHeaders[http.CanonicalHeaderKey(name)]
	return ok
}

// CorrelationIDMiddleware generates a fresh correlation id for every request
// and stores it in the context under ctxkey.CorrelationIDKey, where it
// propagates through logs, spans, and every JSON-RPC error response until
// the response is written.
func CorrelationIDMiddleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		correlationID := uuid.New().String()
		ctx := context.WithValue(r.Context(), ctxkey.CorrelationIDKey{}, correlationID)
		w.Header().Set("X-Correlation-ID", correlationID)
		next.ServeHTTP(w, r.WithContext(ctx))
	})
}

// CorrelationIDFromContext retrieves the per-request correlation id, or ""
// if the request never passed through CorrelationIDMiddleware.
func CorrelationIDFromContext(ctx context.Context) string {
	if id, ok := ctx.Value(ctxkey.CorrelationIDKey{}).(string); ok {
		return id
	}
	return ""
}

// RecoveryMiddleware converts a panic anywhere downstream into a JSON-RPC
// internal-error response carrying a fresh correlation id, and logs the
// stack trace server-side only — a panic must never take down the whole
// process, since one misbehaving upstream response or malformed policy
// condition would otherwise be able to terminate every in-flight request.
func RecoveryMiddleware(logger *slog.Logger, panics *Metrics) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			defer func() {
				if rec := recover(); rec != nil {
					correlationID := CorrelationIDFromContext(r.Context())
					if panics != nil {
						panics.PanicsRecovered.Inc()
					}
					logger.Error("panic recovered",
						"panic", rec,
						"correlation_id", correlationID,
						"stack", string(debug.Stack()),
						"headers", loggingHeaders(r),
					)
					writeInternalError(w, correlationID)
				}
			}()
			next.ServeHTTP(w, r)
		})
	}
}

// loggingHeaders renders r's headers as a redaction-safe map for structured
// logging, skipping every entry in redactedHeaders without allocating a
// per-header copy for the common case of no redacted header being present.
func loggingHeaders(r *http.Request) map[string]string {
	out := make(map[string]string, len(r.Header))
	for name, values := range r.Header {
		if isRedactedHeader(name) || len(values) == 0 {
			continue
		}
		out[name] = values[0]
	}
	return out
}
