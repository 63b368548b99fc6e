package observability

import (
	"fmt"
	"net/http"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/propagation"
	"go.opentelemetry.io/otel/trace"

	"github.com/op17/storefront-api/internal/platform/requestctx"
)

// TraceIDHeader echoes the active trace id back to clients for support requests.
const TraceIDHeader = "X-Trace-Id"

var tracer = otel.Tracer("github.com/op17/storefront-api/internal/platform/observability")

// TraceMiddleware extracts W3C trace context, starts a server span, and stores trace metadata on
// the request context. The propagator falls back to trace context when none is registered.
func TraceMiddleware(serviceName string) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		if next == nil {
			next = http.HandlerFunc(func(http.ResponseWriter, *http.Request) {})
		}
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			ctx := propagator().Extract(r.Context(), propagation.HeaderCarrier(r.Header))

			ctx, span := tracer.Start(ctx, spanNameFromRequest(r), trace.WithSpanKind(trace.SpanKindServer))
			attrs := standardSpanAttributes(r)
			if serviceName != "" {
				attrs = append(attrs, attribute.String("service.name", serviceName))
			}
			span.SetAttributes(attrs...)

			var info requestctx.TraceInfo
			if spanCtx := span.SpanContext(); spanCtx.IsValid() {
				info = requestctx.TraceInfo{
					TraceID: spanCtx.TraceID().String(),
					SpanID:  spanCtx.SpanID().String(),
					Sampled: spanCtx.IsSampled(),
				}
				w.Header().Set(TraceIDHeader, info.TraceID)
			}

			ctx = requestctx.WithTrace(ctx, info)
			defer span.End()
			next.ServeHTTP(w, r.WithContext(ctx))
		})
	}
}

func propagator() propagation.TextMapPropagator {
	if p := otel.GetTextMapPropagator(); p != nil && len(p.Fields()) > 0 {
		return p
	}
	return propagation.TraceContext{}
}

func spanNameFromRequest(r *http.Request) string {
	if r == nil {
		return "unknown"
	}
	path := r.URL.Path
	if path == "" {
		path = "/"
	}
	return fmt.Sprintf("%s %s", r.Method, path)
}

func standardSpanAttributes(r *http.Request) []attribute.KeyValue {
	scheme := "http"
	if r.TLS != nil {
		scheme = "https"
	}
	attrs := []attribute.KeyValue{
		attribute.String("http.request.method", r.Method),
		attribute.String("url.scheme", scheme),
	}
	if r.URL != nil {
		if path := r.URL.Path; path != "" {
			attrs = append(attrs, attribute.String("url.path", path))
		}
	}
	if host := r.Host; host != "" {
		attrs = append(attrs, attribute.String("server.address", host))
	}
	if ua := r.UserAgent(); ua != "" {
		attrs = append(attrs, attribute.String("user_agent.original", ua))
	}
	return attrs
}
