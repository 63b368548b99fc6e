package handlers

import (
	"context"
	"errors"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"

	domain "github.com/op17/storefront-api/internal/domain"
	"github.com/op17/storefront-api/internal/platform/httpx"
	"github.com/op17/storefront-api/internal/services"
)

const maxOrderLookupBody = 2 * 1024

// OrderHandlers serves the customer order lookup.
type OrderHandlers struct {
	orders services.OrderService
}

// NewOrderHandlers constructs customer order handlers.
func NewOrderHandlers(orders services.OrderService) *OrderHandlers {
	return &OrderHandlers{orders: orders}
}

// Routes registers /orders endpoints.
func (h *OrderHandlers) Routes(r chi.Router) {
	if r == nil {
		return
	}
	r.Post("/lookup", h.lookup)
}

type orderLookupRequest struct {
	OrderNumber string `json:"orderNumber"`
	Email       string `json:"email"`
}

type orderLookupResponse struct {
	Order orderSummaryPayload `json:"order"`
}

type orderSummaryPayload struct {
	OrderNumber string                 `json:"orderNumber"`
	Status      string                 `json:"status"`
	Currency    string                 `json:"currency"`
	TotalMinor  int64                  `json:"totalMinor"`
	Total       string                 `json:"total"`
	CreatedAt   string                 `json:"createdAt"`
	Items       []orderItemPayload     `json:"items"`
	Payments    []orderPaymentPayload  `json:"payments"`
	Shipments   []orderShipmentPayload `json:"shipments"`
}

func (h *OrderHandlers) lookup(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	if h.orders == nil {
		writeOrderError(ctx, w, services.ErrOrderUnavailable)
		return
	}
	var req orderLookupRequest
	if err := decodeJSONBody(r, maxOrderLookupBody, &req); err != nil {
		writeBodyError(ctx, w, err)
		return
	}
	summary, err := h.orders.Lookup(ctx, req.OrderNumber, req.Email)
	if err != nil {
		writeOrderError(ctx, w, err)
		return
	}

	setNoStore(w)
	writeJSONResponse(w, http.StatusOK, orderLookupResponse{Order: orderSummaryPayload{
		OrderNumber: summary.OrderNumber,
		Status:      string(summary.Status),
		Currency:    string(summary.Currency),
		TotalMinor:  summary.TotalMinor,
		Total:       domain.FormatMinor(summary.TotalMinor, summary.Currency),
		CreatedAt:   formatTime(summary.CreatedAt),
		Items:       buildOrderItemPayloads(summary.Items),
		Payments:    buildOrderPaymentPayloads(summary.Payments),
		Shipments:   buildOrderShipmentPayloads(summary.Shipments),
	}})
}

type orderResponse struct {
	Order orderPayload `json:"order"`
}

type orderPayload struct {
	ID             string `json:"id"`
	OrderNumber    string `json:"orderNumber"`
	Status         string `json:"status"`
	Email          string `json:"email"`
	Phone          string `json:"phone,omitempty"`
	Currency       string `json:"currency"`
	SubtotalEur    int64  `json:"subtotalEur"`
	DiscountEur    int64  `json:"discountEur"`
	ShippingEur    int64  `json:"shippingEur"`
	TotalEur       int64  `json:"totalEur"`
	TotalMinor     int64  `json:"totalMinor"`
	Total          string `json:"total"`
	FxRate         string `json:"fxRate,omitempty"`
	ShippingMethod string `json:"shippingMethod"`
	CreatedAt      string `json:"createdAt"`
	UpdatedAt      string `json:"updatedAt"`
}

type orderItemPayload struct {
	ID           string `json:"id"`
	ProductID    string `json:"productId"`
	VariantID    string `json:"variantId"`
	ProductName  string `json:"productName"`
	VariantName  string `json:"variantName,omitempty"`
	SKU          string `json:"sku"`
	Size         string `json:"size,omitempty"`
	Color        string `json:"color,omitempty"`
	Quantity     int64  `json:"quantity"`
	UnitPriceEur int64  `json:"unitPriceEur"`
	TotalEur     int64  `json:"totalEur"`
}

type orderPaymentPayload struct {
	ID                string               `json:"id"`
	Provider          string               `json:"provider"`
	Status            string               `json:"status"`
	AmountMinor       int64                `json:"amountMinor"`
	Amount            string               `json:"amount"`
	Currency          string               `json:"currency"`
	ProviderPaymentID string               `json:"providerPaymentId,omitempty"`
	ProviderInvoiceID string               `json:"providerInvoiceId,omitempty"`
	Refunds           []orderRefundPayload `json:"refunds,omitempty"`
	CreatedAt         string               `json:"createdAt"`
}

type orderRefundPayload struct {
	ID          string `json:"id"`
	PaymentID   string `json:"paymentId"`
	AmountMinor int64  `json:"amountMinor"`
	Status      string `json:"status"`
	Reason      string `json:"reason,omitempty"`
	CreatedAt   string `json:"createdAt"`
	UpdatedAt   string `json:"updatedAt"`
}

type orderShipmentPayload struct {
	ID             string `json:"id"`
	Carrier        string `json:"carrier"`
	Method         string `json:"method"`
	Status         string `json:"status"`
	TrackingNumber string `json:"trackingNumber,omitempty"`
	UpdatedAt      string `json:"updatedAt"`
}

func buildOrderPayload(order services.Order) orderPayload {
	payload := orderPayload{
		ID:             order.ID,
		OrderNumber:    order.OrderNumber,
		Status:         string(order.Status),
		Email:          order.Email,
		Phone:          order.Phone,
		Currency:       string(order.Currency),
		SubtotalEur:    order.SubtotalEur,
		DiscountEur:    order.DiscountEur,
		ShippingEur:    order.ShippingEur,
		TotalEur:       order.TotalEur,
		TotalMinor:     order.TotalMinor,
		Total:          domain.FormatMinor(order.TotalMinor, order.Currency),
		ShippingMethod: string(order.ShippingMethod),
		CreatedAt:      formatTime(order.CreatedAt),
		UpdatedAt:      formatTime(order.UpdatedAt),
	}
	if order.FxRate != nil {
		payload.FxRate = order.FxRate.FloatString(6)
	}
	return payload
}

func buildOrderItemPayloads(items []domain.OrderItem) []orderItemPayload {
	result := make([]orderItemPayload, 0, len(items))
	for _, item := range items {
		result = append(result, orderItemPayload{
			ID:           item.ID,
			ProductID:    item.ProductID,
			VariantID:    item.VariantID,
			ProductName:  item.ProductName,
			VariantName:  item.VariantName,
			SKU:          item.SKU,
			Size:         item.Attributes.Size,
			Color:        item.Attributes.Color,
			Quantity:     item.Quantity,
			UnitPriceEur: item.UnitPriceEur,
			TotalEur:     item.TotalEur,
		})
	}
	return result
}

func buildOrderPaymentPayloads(list []domain.Payment) []orderPaymentPayload {
	result := make([]orderPaymentPayload, 0, len(list))
	for _, payment := range list {
		payload := orderPaymentPayload{
			ID:          payment.ID,
			Provider:    string(payment.Provider),
			Status:      string(payment.Status),
			AmountMinor: payment.AmountMinor,
			Amount:      domain.FormatMinor(payment.AmountMinor, payment.Currency),
			Currency:    string(payment.Currency),
			CreatedAt:   formatTime(payment.CreatedAt),
		}
		if payment.ProviderPaymentID != nil {
			payload.ProviderPaymentID = *payment.ProviderPaymentID
		}
		if payment.ProviderInvoiceID != nil {
			payload.ProviderInvoiceID = *payment.ProviderInvoiceID
		}
		for _, refund := range payment.Refunds {
			payload.Refunds = append(payload.Refunds, buildRefundPayload(refund))
		}
		result = append(result, payload)
	}
	return result
}

func buildRefundPayload(refund domain.Refund) orderRefundPayload {
	return orderRefundPayload{
		ID:          refund.ID,
		PaymentID:   refund.PaymentID,
		AmountMinor: refund.AmountMinor,
		Status:      string(refund.Status),
		Reason:      refund.Reason,
		CreatedAt:   formatTime(refund.CreatedAt),
		UpdatedAt:   formatTime(refund.UpdatedAt),
	}
}

func buildOrderShipmentPayloads(list []domain.Shipment) []orderShipmentPayload {
	result := make([]orderShipmentPayload, 0, len(list))
	for _, shipment := range list {
		result = append(result, orderShipmentPayload{
			ID:             shipment.ID,
			Carrier:        string(shipment.Carrier),
			Method:         string(shipment.Method),
			Status:         string(shipment.Status),
			TrackingNumber: shipment.TrackingNumber,
			UpdatedAt:      formatTime(shipment.UpdatedAt),
		})
	}
	return result
}

func formatTime(ts time.Time) string {
	if ts.IsZero() {
		return ""
	}
	return ts.UTC().Format(time.RFC3339)
}

func writeOrderError(ctx context.Context, w http.ResponseWriter, err error) {
	switch {
	case errors.Is(err, services.ErrOrderInvalidInput):
		httpx.WriteError(ctx, w, httpx.NewError("invalid_request", err.Error(), http.StatusBadRequest))
	case errors.Is(err, services.ErrOrderNotFound):
		httpx.WriteError(ctx, w, httpx.NewError("order_not_found", "order not found", http.StatusNotFound))
	case errors.Is(err, services.ErrOrderInvalidState):
		httpx.WriteError(ctx, w, httpx.NewError("order_invalid_state", err.Error(), http.StatusConflict))
	case errors.Is(err, services.ErrOrderUnavailable):
		httpx.WriteError(ctx, w, httpx.NewError("order_service_unavailable", "order service is unavailable", http.StatusServiceUnavailable))
	default:
		httpx.WriteError(ctx, w, httpx.NewError("order_error", "failed to process order request", http.StatusInternalServerError))
	}
}
