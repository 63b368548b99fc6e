package httpx

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/op17/storefront-api/internal/platform/requestctx"
)

func TestWriteErrorEnvelope(t *testing.T) {
	ctx := requestctx.WithTrace(context.Background(), requestctx.TraceInfo{TraceID: "trace-1"})
	rr := httptest.NewRecorder()

	WriteError(ctx, rr, NewError("out_of_stock", "insufficient stock\nfor TEE-M", http.StatusConflict).
		WithRequestID("req-1").
		WithDetails(map[string]any{"sku": "TEE-M"}))

	if rr.Code != http.StatusConflict {
		t.Fatalf("expected 409, got %d", rr.Code)
	}
	var body map[string]any
	if err := json.Unmarshal(rr.Body.Bytes(), &body); err != nil {
		t.Fatalf("decode: %v", err)
	}
	if body["error"] != "out_of_stock" || body["message"] != "insufficient stock for TEE-M" {
		t.Fatalf("unexpected envelope %v", body)
	}
	if body["request_id"] != "req-1" || body["trace_id"] != "trace-1" || body["sku"] != "TEE-M" {
		t.Fatalf("expected ids and details, got %v", body)
	}
	if body["status"] != float64(http.StatusConflict) {
		t.Fatalf("expected status in body, got %v", body["status"])
	}
}

func TestNewErrorDefaultsStatus(t *testing.T) {
	if err := NewError("internal", "boom", 0); err.Status != http.StatusInternalServerError {
		t.Fatalf("expected 500 default, got %d", err.Status)
	}
}

func TestWriteJSON(t *testing.T) {
	rr := httptest.NewRecorder()
	WriteJSON(rr, http.StatusCreated, map[string]string{"id": "ord_1"})
	if rr.Code != http.StatusCreated || rr.Header().Get("Content-Type") != "application/json" {
		t.Fatalf("unexpected response %d %v", rr.Code, rr.Header())
	}

	rr = httptest.NewRecorder()
	WriteJSON(rr, http.StatusNoContent, nil)
	if rr.Code != http.StatusNoContent || rr.Body.Len() != 0 {
		t.Fatalf("expected empty 204, got %d %q", rr.Code, rr.Body.String())
	}
}
