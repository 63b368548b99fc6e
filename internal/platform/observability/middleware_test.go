package observability

import (
	"context"
	"errors"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/go-chi/chi/v5"
	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"
	"go.uber.org/zap/zaptest/observer"

	"github.com/op17/storefront-api/internal/platform/auth"
	"github.com/op17/storefront-api/internal/platform/requestctx"
)

func TestTraceMiddlewareContinuesRemoteTrace(t *testing.T) {
	const traceID = "4bf92f3577b34da6a3ce929d0e0e4736"

	var seen requestctx.TraceInfo
	handler := TraceMiddleware("storefront-api")(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		seen, _ = requestctx.Trace(r.Context())
	}))

	req := httptest.NewRequest(http.MethodGet, "/api/v1/cart", nil)
	req.Header.Set("traceparent", "00-"+traceID+"-00f067aa0ba902b7-01")
	rr := httptest.NewRecorder()
	handler.ServeHTTP(rr, req)

	if seen.TraceID != traceID {
		t.Fatalf("expected trace id %s in context, got %q", traceID, seen.TraceID)
	}
	if got := rr.Header().Get(TraceIDHeader); got != traceID {
		t.Fatalf("expected %s header %s, got %q", TraceIDHeader, traceID, got)
	}
}

func TestTraceMiddlewareWithoutParent(t *testing.T) {
	handler := TraceMiddleware("")(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if id := requestctx.TraceID(r.Context()); id != "" {
			t.Fatalf("expected empty trace id without an exporter, got %s", id)
		}
	}))
	rr := httptest.NewRecorder()
	handler.ServeHTTP(rr, httptest.NewRequest(http.MethodGet, "/healthz", nil))
	if rr.Header().Get(TraceIDHeader) != "" {
		t.Fatalf("expected no trace header")
	}
}

func TestRequestLoggerRecordsRouteStatusAndActor(t *testing.T) {
	core, logs := observer.New(zapcore.InfoLevel)
	logger := zap.New(core)

	router := chi.NewRouter()
	router.Use(InjectLoggerMiddleware(logger))
	router.Use(RequestLoggerMiddleware())
	router.With(func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			ctx := auth.WithIdentity(r.Context(), &auth.Identity{UID: "admin_1"})
			next.ServeHTTP(w, r.WithContext(ctx))
		})
	}, ActorMiddleware).Get("/orders/{orderID}", func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusNotFound)
	})

	router.ServeHTTP(httptest.NewRecorder(), httptest.NewRequest(http.MethodGet, "/orders/ord_1", nil))

	entries := logs.FilterMessage("request completed").All()
	if len(entries) != 1 {
		t.Fatalf("expected one completion log, got %d", len(entries))
	}
	entry := entries[0]
	if entry.Level != zapcore.WarnLevel {
		t.Fatalf("expected warn level for 404, got %s", entry.Level)
	}
	fields := entry.ContextMap()
	if fields["route"] != "/orders/{orderID}" {
		t.Fatalf("expected route pattern, got %v", fields["route"])
	}
	if fields["actor_id"] != "admin_1" {
		t.Fatalf("expected actor id, got %v", fields["actor_id"])
	}
	if fields["status"] != int64(http.StatusNotFound) {
		t.Fatalf("expected status 404, got %v", fields["status"])
	}
}

func TestRecoveryMiddlewareWritesEnvelope(t *testing.T) {
	core, logs := observer.New(zapcore.ErrorLevel)
	handler := RecoveryMiddleware(zap.New(core))(http.HandlerFunc(func(http.ResponseWriter, *http.Request) {
		panic("boom")
	}))

	rr := httptest.NewRecorder()
	handler.ServeHTTP(rr, httptest.NewRequest(http.MethodGet, "/", nil))

	if rr.Code != http.StatusInternalServerError {
		t.Fatalf("expected 500, got %d", rr.Code)
	}
	if logs.FilterMessage("panic recovered").Len() != 1 {
		t.Fatalf("expected panic to be logged")
	}
}

func TestEventLoggerPrefersRequestLogger(t *testing.T) {
	baseCore, baseLogs := observer.New(zapcore.InfoLevel)
	reqCore, reqLogs := observer.New(zapcore.InfoLevel)
	log := NewEventLogger(zap.New(baseCore))

	log(context.Background(), "fx.refresh", map[string]any{"count": 2})
	ctx := requestctx.WithLogger(context.Background(), zap.New(reqCore))
	log(ctx, "payments.webhook.failed", map[string]any{"error": errors.New("bad signature")})

	if baseLogs.Len() != 1 || baseLogs.All()[0].ContextMap()["event"] != "fx.refresh" {
		t.Fatalf("expected background event on base logger, got %v", baseLogs.All())
	}
	if reqLogs.Len() != 1 {
		t.Fatalf("expected request event on request logger")
	}
	entry := reqLogs.All()[0]
	if entry.Level != zapcore.WarnLevel {
		t.Fatalf("expected failed events at warn, got %s", entry.Level)
	}
	if entry.ContextMap()["error"] != "bad signature" {
		t.Fatalf("expected error field, got %v", entry.ContextMap())
	}
}
