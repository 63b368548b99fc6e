package handlers

import (
	"context"
	"errors"
	"fmt"
	"math"
	"net/http"
	"strings"

	"github.com/go-chi/chi/v5"

	domain "github.com/op17/storefront-api/internal/domain"
	"github.com/op17/storefront-api/internal/platform/auth"
	"github.com/op17/storefront-api/internal/platform/httpx"
	"github.com/op17/storefront-api/internal/platform/pagination"
	"github.com/op17/storefront-api/internal/repositories"
	"github.com/op17/storefront-api/internal/services"
)

const (
	maxAdminBodySize     = 8 * 1024
	defaultAdminPageSize = 25
	maxAdminPageSize     = 100

	// maxRefundAmountMinor keeps rounded JSON numbers exactly representable.
	maxRefundAmountMinor = 1 << 53
)

// AdminOrderHandlers serves the back-office order and refund endpoints. Callers must already be
// authenticated with the admin role.
type AdminOrderHandlers struct {
	orders          services.OrderService
	refunds         services.RefundService
	refundCreateMWs []func(http.Handler) http.Handler
}

// AdminOrderOption customises admin order handlers.
type AdminOrderOption func(*AdminOrderHandlers)

// WithRefundCreateMiddlewares wraps the refund creation endpoint, e.g. with idempotency.
func WithRefundCreateMiddlewares(mw ...func(http.Handler) http.Handler) AdminOrderOption {
	return func(h *AdminOrderHandlers) {
		h.refundCreateMWs = append(h.refundCreateMWs, mw...)
	}
}

// NewAdminOrderHandlers constructs admin handlers.
func NewAdminOrderHandlers(orders services.OrderService, refunds services.RefundService, opts ...AdminOrderOption) *AdminOrderHandlers {
	h := &AdminOrderHandlers{orders: orders, refunds: refunds}
	for _, opt := range opts {
		if opt != nil {
			opt(h)
		}
	}
	return h
}

// Routes registers /admin endpoints.
func (h *AdminOrderHandlers) Routes(r chi.Router) {
	if r == nil {
		return
	}
	r.Get("/orders", h.listOrders)
	r.Get("/orders/{orderID}", h.getOrder)
	r.Patch("/orders/{orderID}", h.updateOrder)
	r.Post("/orders/{orderID}/notes", h.addNote)
	r.With(h.refundCreateMWs...).Post("/orders/{orderID}/refunds", h.createRefund)
	r.Patch("/refunds/{refundID}", h.updateRefund)
}

type adminOrderListResponse struct {
	Orders        []orderPayload `json:"orders"`
	NextPageToken string         `json:"nextPageToken,omitempty"`
}

type adminOrderDetailResponse struct {
	Order           orderPayload           `json:"order"`
	Items           []orderItemPayload     `json:"items"`
	ShippingAddress *addressPayload        `json:"shippingAddress,omitempty"`
	Payments        []orderPaymentPayload  `json:"payments"`
	Shipments       []orderShipmentPayload `json:"shipments"`
	Events          []orderEventPayload    `json:"events"`
}

type addressPayload struct {
	ID                 string `json:"id"`
	Name               string `json:"name"`
	Phone              string `json:"phone,omitempty"`
	Country            string `json:"country"`
	Region             string `json:"region,omitempty"`
	City               string `json:"city"`
	PostalCode         string `json:"postalCode,omitempty"`
	Street1            string `json:"street1,omitempty"`
	Street2            string `json:"street2,omitempty"`
	NovaPostOfficeID   string `json:"novaPostOfficeId,omitempty"`
	NovaPostOfficeName string `json:"novaPostOfficeName,omitempty"`
}

type orderEventPayload struct {
	ID          string         `json:"id"`
	Type        string         `json:"type"`
	Message     string         `json:"message"`
	Metadata    map[string]any `json:"metadata,omitempty"`
	CreatedByID string         `json:"createdById,omitempty"`
	CreatedAt   string         `json:"createdAt"`
}

type adminUpdateOrderRequest struct {
	Status         *string `json:"status"`
	TrackingNumber *string `json:"trackingNumber"`
	ShipmentStatus *string `json:"shipmentStatus"`
}

type addNoteRequest struct {
	Note string `json:"note"`
}

type noteResponse struct {
	Event orderEventPayload `json:"event"`
}

type createRefundRequest struct {
	AmountMinor *float64 `json:"amountMinor"`
	Amount      *float64 `json:"amount"`
	PaymentID   string   `json:"paymentId"`
	Reason      string   `json:"reason"`
}

type updateRefundRequest struct {
	Status string `json:"status"`
}

type refundResponse struct {
	Refund orderRefundPayload `json:"refund"`
}

func (h *AdminOrderHandlers) listOrders(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	if h.orders == nil {
		writeOrderError(ctx, w, services.ErrOrderUnavailable)
		return
	}

	params, err := pagination.FromRequest(r, pagination.Options{
		DefaultPageSize: defaultAdminPageSize,
		MaxPageSize:     maxAdminPageSize,
	})
	if err != nil {
		httpx.WriteError(ctx, w, httpx.NewError("invalid_request", err.Error(), http.StatusBadRequest))
		return
	}

	filter := services.OrderListFilter{Limit: params.PageSize}
	if raw := strings.TrimSpace(r.URL.Query().Get("status")); raw != "" {
		status, ok := domain.ParseOrderStatus(raw)
		if !ok {
			httpx.WriteError(ctx, w, httpx.NewError("invalid_request", "unknown status filter", http.StatusBadRequest))
			return
		}
		filter.Status = &status
	}
	if !params.Cursor.IsZero() {
		filter.After = &repositories.OrderCursor{CreatedAt: params.Cursor.CreatedAt, ID: params.Cursor.ID}
	}

	orders, err := h.orders.List(ctx, filter)
	if err != nil {
		writeOrderError(ctx, w, err)
		return
	}

	resp := adminOrderListResponse{Orders: make([]orderPayload, 0, len(orders))}
	for _, order := range orders {
		resp.Orders = append(resp.Orders, buildOrderPayload(order))
	}
	if len(orders) == params.PageSize && len(orders) > 0 {
		last := orders[len(orders)-1]
		token, err := pagination.EncodeToken(pagination.Cursor{CreatedAt: last.CreatedAt, ID: last.ID})
		if err != nil {
			httpx.WriteError(ctx, w, httpx.NewError("order_error", "failed to encode page token", http.StatusInternalServerError))
			return
		}
		resp.NextPageToken = token
	}
	writeJSONResponse(w, http.StatusOK, resp)
}

func (h *AdminOrderHandlers) getOrder(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	if h.orders == nil {
		writeOrderError(ctx, w, services.ErrOrderUnavailable)
		return
	}
	detail, err := h.orders.Get(ctx, chi.URLParam(r, "orderID"))
	if err != nil {
		writeOrderError(ctx, w, err)
		return
	}

	resp := adminOrderDetailResponse{
		Order:     buildOrderPayload(detail.Order),
		Items:     buildOrderItemPayloads(detail.Items),
		Payments:  buildOrderPaymentPayloads(detail.Payments),
		Shipments: buildOrderShipmentPayloads(detail.Shipments),
		Events:    make([]orderEventPayload, 0, len(detail.Events)),
	}
	if addr := detail.ShippingAddress; addr.ID != "" {
		resp.ShippingAddress = &addressPayload{
			ID:                 addr.ID,
			Name:               addr.Name,
			Phone:              addr.Phone,
			Country:            addr.Country,
			Region:             addr.Region,
			City:               addr.City,
			PostalCode:         addr.PostalCode,
			Street1:            addr.Street1,
			Street2:            addr.Street2,
			NovaPostOfficeID:   addr.NovaPostOfficeID,
			NovaPostOfficeName: addr.NovaPostOfficeName,
		}
	}
	for _, event := range detail.Events {
		resp.Events = append(resp.Events, buildOrderEventPayload(event))
	}
	writeJSONResponse(w, http.StatusOK, resp)
}

func (h *AdminOrderHandlers) updateOrder(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	if h.orders == nil {
		writeOrderError(ctx, w, services.ErrOrderUnavailable)
		return
	}
	var req adminUpdateOrderRequest
	if err := decodeJSONBody(r, maxAdminBodySize, &req); err != nil {
		writeBodyError(ctx, w, err)
		return
	}
	if req.Status == nil && req.TrackingNumber == nil && req.ShipmentStatus == nil {
		httpx.WriteError(ctx, w, httpx.NewError("invalid_request", "status, trackingNumber or shipmentStatus is required", http.StatusBadRequest))
		return
	}

	order, err := h.orders.ApplyAdminUpdate(ctx, services.AdminUpdateCommand{
		OrderID:        chi.URLParam(r, "orderID"),
		ActorID:        auth.ActorID(ctx),
		Status:         req.Status,
		TrackingNumber: req.TrackingNumber,
		ShipmentStatus: req.ShipmentStatus,
	})
	if err != nil {
		writeOrderError(ctx, w, err)
		return
	}
	writeJSONResponse(w, http.StatusOK, orderResponse{Order: buildOrderPayload(order)})
}

func (h *AdminOrderHandlers) addNote(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	if h.orders == nil {
		writeOrderError(ctx, w, services.ErrOrderUnavailable)
		return
	}
	var req addNoteRequest
	if err := decodeJSONBody(r, maxAdminBodySize, &req); err != nil {
		writeBodyError(ctx, w, err)
		return
	}
	event, err := h.orders.AddNote(ctx, services.AddOrderNoteCommand{
		OrderID: chi.URLParam(r, "orderID"),
		ActorID: auth.ActorID(ctx),
		Note:    req.Note,
	})
	if err != nil {
		writeOrderError(ctx, w, err)
		return
	}
	writeJSONResponse(w, http.StatusCreated, noteResponse{Event: buildOrderEventPayload(event)})
}

func (h *AdminOrderHandlers) createRefund(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	if h.refunds == nil {
		writeRefundError(ctx, w, services.ErrRefundUnavailable)
		return
	}
	var req createRefundRequest
	if err := decodeJSONBody(r, maxAdminBodySize, &req); err != nil {
		writeBodyError(ctx, w, err)
		return
	}
	amountMinor, err := roundAmountMinor(req.AmountMinor)
	if err != nil {
		writeRefundError(ctx, w, err)
		return
	}
	refund, err := h.refunds.Create(ctx, services.CreateRefundCommand{
		OrderID:     chi.URLParam(r, "orderID"),
		AmountMinor: amountMinor,
		Amount:      req.Amount,
		PaymentID:   req.PaymentID,
		Reason:      req.Reason,
		ActorID:     auth.ActorID(ctx),
	})
	if err != nil {
		writeRefundError(ctx, w, err)
		return
	}
	writeJSONResponse(w, http.StatusCreated, refundResponse{Refund: buildRefundPayload(refund)})
}

// roundAmountMinor accepts fractional minor units from clients and rounds half away from zero.
func roundAmountMinor(raw *float64) (*int64, error) {
	if raw == nil {
		return nil, nil
	}
	rounded := math.Round(*raw)
	if math.Abs(rounded) > maxRefundAmountMinor {
		return nil, fmt.Errorf("%w: amountMinor out of range", services.ErrRefundInvalidInput)
	}
	v := int64(rounded)
	return &v, nil
}

func (h *AdminOrderHandlers) updateRefund(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	if h.refunds == nil {
		writeRefundError(ctx, w, services.ErrRefundUnavailable)
		return
	}
	var req updateRefundRequest
	if err := decodeJSONBody(r, maxAdminBodySize, &req); err != nil {
		writeBodyError(ctx, w, err)
		return
	}
	refund, err := h.refunds.UpdateStatus(ctx, services.UpdateRefundStatusCommand{
		RefundID: chi.URLParam(r, "refundID"),
		Status:   req.Status,
		ActorID:  auth.ActorID(ctx),
	})
	if err != nil {
		writeRefundError(ctx, w, err)
		return
	}
	writeJSONResponse(w, http.StatusOK, refundResponse{Refund: buildRefundPayload(refund)})
}

func buildOrderEventPayload(event domain.OrderEvent) orderEventPayload {
	payload := orderEventPayload{
		ID:        event.ID,
		Type:      string(event.Type),
		Message:   event.Message,
		Metadata:  event.Metadata,
		CreatedAt: formatTime(event.CreatedAt),
	}
	if event.CreatedByID != nil {
		payload.CreatedByID = *event.CreatedByID
	}
	return payload
}

func writeRefundError(ctx context.Context, w http.ResponseWriter, err error) {
	switch {
	case errors.Is(err, services.ErrRefundInvalidInput):
		httpx.WriteError(ctx, w, httpx.NewError("invalid_request", err.Error(), http.StatusBadRequest))
	case errors.Is(err, services.ErrRefundOrderNotFound):
		httpx.WriteError(ctx, w, httpx.NewError("order_not_found", "order not found", http.StatusNotFound))
	case errors.Is(err, services.ErrRefundNotFound):
		httpx.WriteError(ctx, w, httpx.NewError("refund_not_found", "refund not found", http.StatusNotFound))
	case errors.Is(err, services.ErrRefundNoPayment):
		httpx.WriteError(ctx, w, httpx.NewError("no_payment", err.Error(), http.StatusConflict))
	case errors.Is(err, services.ErrRefundExceedsPayment):
		httpx.WriteError(ctx, w, httpx.NewError("refund_exceeds_payment", err.Error(), http.StatusConflict))
	case errors.Is(err, services.ErrRefundUnavailable):
		httpx.WriteError(ctx, w, httpx.NewError("refund_service_unavailable", "refund service is unavailable", http.StatusServiceUnavailable))
	default:
		httpx.WriteError(ctx, w, httpx.NewError("refund_error", "failed to process refund", http.StatusInternalServerError))
	}
}
