package handlers

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"

	"github.com/go-chi/chi/v5"

	domain "github.com/op17/storefront-api/internal/domain"
	"github.com/op17/storefront-api/internal/payments"
	"github.com/op17/storefront-api/internal/services"
)

func newPaymentRouter(svc services.PaymentService) chi.Router {
	router := chi.NewRouter()
	router.Route("/payments", NewPaymentHandlers(svc).Routes)
	router.Route("/webhooks", NewWebhookHandlers(svc).Routes)
	return router
}

func TestPaymentHandlersInitiate(t *testing.T) {
	svc := &stubPaymentService{
		initiateFunc: func(ctx context.Context, cmd services.InitiatePaymentCommand) (services.PaymentLaunch, error) {
			if cmd.OrderID != "ord_1" || cmd.Provider != "liqpay" {
				t.Fatalf("unexpected command %+v", cmd)
			}
			return services.PaymentLaunch{
				PaymentID: "pay_1",
				Provider:  domain.ProviderLiqPay,
				URL:       payments.LiqPayCheckoutURL,
				Data:      "eyJ2ZXJzaW9uIjozfQ",
				Signature: "c2ln",
			}, nil
		},
	}
	rr := httptest.NewRecorder()
	newPaymentRouter(svc).ServeHTTP(rr, httptest.NewRequest(http.MethodPost, "/payments/liqpay/initiate", strings.NewReader(`{"orderId":"ord_1"}`)))

	if rr.Code != http.StatusOK {
		t.Fatalf("expected 200, got %d: %s", rr.Code, rr.Body.String())
	}
	var resp paymentLaunchResponse
	if err := json.Unmarshal(rr.Body.Bytes(), &resp); err != nil {
		t.Fatalf("decode: %v", err)
	}
	if resp.Provider != "LIQPAY" || resp.URL != payments.LiqPayCheckoutURL || resp.Signature == "" {
		t.Fatalf("unexpected launch %+v", resp)
	}
}

func TestPaymentHandlersInitiateProviderFailureCarriesDetail(t *testing.T) {
	svc := &stubPaymentService{
		initiateFunc: func(ctx context.Context, cmd services.InitiatePaymentCommand) (services.PaymentLaunch, error) {
			providerErr := &payments.ProviderError{Provider: domain.ProviderMonobank, Status: 400, Detail: `{"errCode":"BAD_REQUEST"}`}
			return services.PaymentLaunch{}, fmt.Errorf("%w: %w", services.ErrPaymentProviderFailed, providerErr)
		},
	}
	rr := httptest.NewRecorder()
	newPaymentRouter(svc).ServeHTTP(rr, httptest.NewRequest(http.MethodPost, "/payments/monobank/initiate", strings.NewReader(`{"orderId":"ord_1"}`)))

	if rr.Code != http.StatusBadGateway {
		t.Fatalf("expected 502, got %d", rr.Code)
	}
	body := decodeBody(t, rr)
	if body["detail"] != `{"errCode":"BAD_REQUEST"}` {
		t.Fatalf("expected provider detail, got %v", body)
	}
}

func TestPaymentHandlersInitiateErrorMapping(t *testing.T) {
	cases := []struct {
		err    error
		status int
	}{
		{services.ErrPaymentProviderMisconfigured, http.StatusServiceUnavailable},
		{services.ErrPaymentUnsupportedCurrency, http.StatusUnprocessableEntity},
		{services.ErrPaymentOrderNotFound, http.StatusNotFound},
		{services.ErrPaymentUnsupportedProvider, http.StatusNotFound},
	}
	for _, tc := range cases {
		svc := &stubPaymentService{
			initiateFunc: func(ctx context.Context, cmd services.InitiatePaymentCommand) (services.PaymentLaunch, error) {
				return services.PaymentLaunch{}, tc.err
			},
		}
		rr := httptest.NewRecorder()
		newPaymentRouter(svc).ServeHTTP(rr, httptest.NewRequest(http.MethodPost, "/payments/liqpay/initiate", strings.NewReader(`{"orderId":"ord_1"}`)))
		if rr.Code != tc.status {
			t.Fatalf("%v: expected %d, got %d", tc.err, tc.status, rr.Code)
		}
	}
}

func TestWebhookHandlersPassRawBodyAndHeaders(t *testing.T) {
	const raw = `{"invoiceId":"inv_1","status":"success"}`
	svc := &stubPaymentService{
		webhookFunc: func(ctx context.Context, provider domain.PaymentProvider, body []byte, headers http.Header) (services.WebhookResult, error) {
			if provider != domain.ProviderMonobank {
				t.Fatalf("unexpected provider %s", provider)
			}
			if string(body) != raw {
				t.Fatalf("expected raw body to be forwarded untouched, got %q", body)
			}
			if headers.Get("X-Sign") != "c2lnbmF0dXJl" {
				t.Fatalf("expected X-Sign header")
			}
			return services.WebhookResult{OrderID: "ord_1", PaymentID: "pay_1", PaymentStatus: domain.PaymentStatusCaptured, OrderPaid: true}, nil
		},
	}
	req := httptest.NewRequest(http.MethodPost, "/webhooks/payments/monobank", strings.NewReader(raw))
	req.Header.Set("X-Sign", "c2lnbmF0dXJl")
	rr := httptest.NewRecorder()
	newPaymentRouter(svc).ServeHTTP(rr, req)

	if rr.Code != http.StatusOK {
		t.Fatalf("expected 200, got %d", rr.Code)
	}
	var resp webhookResponse
	if err := json.Unmarshal(rr.Body.Bytes(), &resp); err != nil {
		t.Fatalf("decode: %v", err)
	}
	if resp.PaymentStatus != "CAPTURED" || resp.OrderID != "ord_1" {
		t.Fatalf("unexpected response %+v", resp)
	}
}

func TestWebhookHandlersErrorMapping(t *testing.T) {
	cases := []struct {
		name     string
		provider string
		err      error
		status   int
	}{
		{"bad signature", "liqpay", services.ErrPaymentUnauthorized, http.StatusUnauthorized},
		{"bad payload", "liqpay", services.ErrPaymentInvalidPayload, http.StatusBadRequest},
		{"unknown order", "monobank", services.ErrPaymentOrderNotFound, http.StatusNotFound},
		{"unknown provider", "stripe", nil, http.StatusNotFound},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			svc := &stubPaymentService{
				webhookFunc: func(ctx context.Context, provider domain.PaymentProvider, body []byte, headers http.Header) (services.WebhookResult, error) {
					if tc.err == nil {
						t.Fatalf("service must not run for unknown provider")
					}
					return services.WebhookResult{}, tc.err
				},
			}
			rr := httptest.NewRecorder()
			newPaymentRouter(svc).ServeHTTP(rr, httptest.NewRequest(http.MethodPost, "/webhooks/payments/"+tc.provider, strings.NewReader("data=x&signature=y")))
			if rr.Code != tc.status {
				t.Fatalf("expected %d, got %d", tc.status, rr.Code)
			}
		})
	}
}
