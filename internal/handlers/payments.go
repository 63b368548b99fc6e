package handlers

import (
	"context"
	"errors"
	"net/http"
	"strings"

	"github.com/go-chi/chi/v5"
	"go.uber.org/zap"

	domain "github.com/op17/storefront-api/internal/domain"
	"github.com/op17/storefront-api/internal/payments"
	"github.com/op17/storefront-api/internal/platform/httpx"
	"github.com/op17/storefront-api/internal/platform/requestctx"
	"github.com/op17/storefront-api/internal/services"
)

const (
	maxPaymentRequestBody = 2 * 1024
	maxWebhookBodySize    = 64 * 1024
)

// PaymentHandlers launches provider payments for pending orders.
type PaymentHandlers struct {
	payments services.PaymentService
}

// NewPaymentHandlers constructs payment handlers.
func NewPaymentHandlers(svc services.PaymentService) *PaymentHandlers {
	return &PaymentHandlers{payments: svc}
}

// Routes registers /payments endpoints.
func (h *PaymentHandlers) Routes(r chi.Router) {
	if r == nil {
		return
	}
	r.Post("/{provider}/initiate", h.initiate)
}

type initiatePaymentRequest struct {
	OrderID string `json:"orderId"`
}

type paymentLaunchResponse struct {
	PaymentID string `json:"paymentId"`
	Provider  string `json:"provider"`
	URL       string `json:"url"`
	Data      string `json:"data,omitempty"`
	Signature string `json:"signature,omitempty"`
	InvoiceID string `json:"invoiceId,omitempty"`
}

func (h *PaymentHandlers) initiate(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	if h.payments == nil {
		writePaymentError(ctx, w, services.ErrPaymentUnavailable)
		return
	}
	var req initiatePaymentRequest
	if err := decodeJSONBody(r, maxPaymentRequestBody, &req); err != nil {
		writeBodyError(ctx, w, err)
		return
	}
	if strings.TrimSpace(req.OrderID) == "" {
		httpx.WriteError(ctx, w, httpx.NewError("invalid_request", "orderId is required", http.StatusBadRequest))
		return
	}

	launch, err := h.payments.Initiate(ctx, services.InitiatePaymentCommand{
		OrderID:  req.OrderID,
		Provider: chi.URLParam(r, "provider"),
	})
	if err != nil {
		writePaymentError(ctx, w, err)
		return
	}
	setNoStore(w)
	writeJSONResponse(w, http.StatusOK, paymentLaunchResponse{
		PaymentID: launch.PaymentID,
		Provider:  string(launch.Provider),
		URL:       launch.URL,
		Data:      launch.Data,
		Signature: launch.Signature,
		InvoiceID: launch.InvoiceID,
	})
}

// WebhookHandlers receives provider callbacks. Authenticity comes from provider signatures only.
type WebhookHandlers struct {
	payments services.PaymentService
}

// NewWebhookHandlers constructs webhook handlers.
func NewWebhookHandlers(svc services.PaymentService) *WebhookHandlers {
	return &WebhookHandlers{payments: svc}
}

// Routes registers /webhooks endpoints.
func (h *WebhookHandlers) Routes(r chi.Router) {
	if r == nil {
		return
	}
	r.Post("/payments/{provider}", h.handlePayment)
}

type webhookResponse struct {
	Status        string `json:"status"`
	OrderID       string `json:"orderId,omitempty"`
	PaymentID     string `json:"paymentId,omitempty"`
	PaymentStatus string `json:"paymentStatus,omitempty"`
}

func (h *WebhookHandlers) handlePayment(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	if h.payments == nil {
		writePaymentError(ctx, w, services.ErrPaymentUnavailable)
		return
	}
	provider, ok := domain.ParsePaymentProvider(chi.URLParam(r, "provider"))
	if !ok {
		writePaymentError(ctx, w, services.ErrPaymentUnsupportedProvider)
		return
	}

	body, err := readLimitedBody(r, maxWebhookBodySize)
	if err != nil {
		if errors.Is(err, errBodyTooLarge) {
			httpx.WriteError(ctx, w, httpx.NewError("payload_too_large", "webhook body exceeds allowed size", http.StatusRequestEntityTooLarge))
			return
		}
		writePaymentError(ctx, w, services.ErrPaymentInvalidPayload)
		return
	}

	result, err := h.payments.HandleWebhook(ctx, provider, body, r.Header.Clone())
	if err != nil {
		requestctx.Logger(ctx).Warn("payment webhook rejected",
			zap.String("provider", string(provider)),
			zap.Error(err),
		)
		writePaymentError(ctx, w, err)
		return
	}
	writeJSONResponse(w, http.StatusOK, webhookResponse{
		Status:        "ok",
		OrderID:       result.OrderID,
		PaymentID:     result.PaymentID,
		PaymentStatus: string(result.PaymentStatus),
	})
}

func writePaymentError(ctx context.Context, w http.ResponseWriter, err error) {
	var providerErr *payments.ProviderError
	switch {
	case errors.Is(err, services.ErrPaymentUnsupportedProvider):
		httpx.WriteError(ctx, w, httpx.NewError("unsupported_provider", "payment provider not supported", http.StatusNotFound))
	case errors.Is(err, services.ErrPaymentProviderMisconfigured):
		httpx.WriteError(ctx, w, httpx.NewError("provider_misconfigured", "payment provider is not configured", http.StatusServiceUnavailable))
	case errors.Is(err, services.ErrPaymentOrderNotFound):
		httpx.WriteError(ctx, w, httpx.NewError("order_not_found", "order not found", http.StatusNotFound))
	case errors.Is(err, services.ErrPaymentUnsupportedCurrency):
		httpx.WriteError(ctx, w, httpx.NewError("unsupported_currency", err.Error(), http.StatusUnprocessableEntity))
	case errors.Is(err, services.ErrPaymentUnauthorized):
		httpx.WriteError(ctx, w, httpx.NewError("invalid_signature", "webhook signature verification failed", http.StatusUnauthorized))
	case errors.Is(err, services.ErrPaymentInvalidPayload):
		httpx.WriteError(ctx, w, httpx.NewError("invalid_payload", "webhook payload could not be decoded", http.StatusBadRequest))
	case errors.Is(err, services.ErrPaymentProviderFailed):
		apiErr := httpx.NewError("provider_error", "payment provider request failed", http.StatusBadGateway)
		if errors.As(err, &providerErr) && providerErr.Detail != "" {
			apiErr = apiErr.WithDetails(map[string]any{"detail": providerErr.Detail})
		}
		httpx.WriteError(ctx, w, apiErr)
	case errors.Is(err, services.ErrPaymentUnavailable):
		httpx.WriteError(ctx, w, httpx.NewError("payment_service_unavailable", "payment service is unavailable", http.StatusServiceUnavailable))
	default:
		httpx.WriteError(ctx, w, httpx.NewError("payment_error", "failed to process payment request", http.StatusInternalServerError))
	}
}
