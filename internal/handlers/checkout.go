package handlers

import (
	"context"
	"errors"
	"net/http"

	"github.com/go-chi/chi/v5"

	"github.com/op17/storefront-api/internal/platform/auth"
	"github.com/op17/storefront-api/internal/platform/httpx"
	"github.com/op17/storefront-api/internal/services"
)

const maxCheckoutRequestBody = 8 * 1024

// CheckoutHandlers turns the caller's cart into a pending order.
type CheckoutHandlers struct {
	carts    services.CartService
	checkout services.CheckoutService
}

// NewCheckoutHandlers constructs checkout handlers.
func NewCheckoutHandlers(carts services.CartService, checkout services.CheckoutService) *CheckoutHandlers {
	return &CheckoutHandlers{
		carts:    carts,
		checkout: checkout,
	}
}

// Routes registers checkout endpoints under the provided router.
func (h *CheckoutHandlers) Routes(r chi.Router) {
	if r == nil {
		return
	}
	r.Post("/", h.createOrder)
}

type checkoutAddressRequest struct {
	Name               string `json:"name"`
	Phone              string `json:"phone"`
	Country            string `json:"country"`
	Region             string `json:"region"`
	City               string `json:"city"`
	PostalCode         string `json:"postalCode"`
	Street1            string `json:"street1"`
	Street2            string `json:"street2"`
	NovaPostOfficeID   string `json:"novaPostOfficeId"`
	NovaPostOfficeName string `json:"novaPostOfficeName"`
}

type checkoutRequest struct {
	Email           string                 `json:"email"`
	Phone           string                 `json:"phone"`
	Currency        string                 `json:"currency"`
	ShippingMethod  string                 `json:"shippingMethod"`
	ShippingAddress checkoutAddressRequest `json:"shippingAddress"`
	Provider        string                 `json:"provider"`
}

func (h *CheckoutHandlers) createOrder(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	if h.checkout == nil || h.carts == nil {
		httpx.WriteError(ctx, w, httpx.NewError("checkout_unavailable", "checkout service unavailable", http.StatusServiceUnavailable))
		return
	}

	var req checkoutRequest
	if err := decodeJSONBody(r, maxCheckoutRequestBody, &req); err != nil {
		writeBodyError(ctx, w, err)
		return
	}

	actorID := auth.ActorID(ctx)
	cart, err := h.carts.Get(ctx, services.CartOwner{ActorID: actorID, SessionToken: cartSessionToken(r)})
	if err != nil {
		if errors.Is(err, services.ErrCartNotFound) {
			writeCheckoutError(ctx, w, services.ErrCheckoutCartEmpty)
			return
		}
		writeCartError(ctx, w, err)
		return
	}

	addr := req.ShippingAddress
	order, err := h.checkout.CreateOrder(ctx, services.CreateOrderCommand{
		CartID:         cart.ID,
		ActorID:        actorID,
		Email:          req.Email,
		Phone:          req.Phone,
		Currency:       req.Currency,
		ShippingMethod: req.ShippingMethod,
		Provider:       req.Provider,
		ShippingAddress: services.AddressInput{
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
		},
	})
	if err != nil {
		writeCheckoutError(ctx, w, err)
		return
	}

	w.Header().Set("Location", "/api/v1/orders/"+order.OrderNumber)
	writeJSONResponse(w, http.StatusCreated, orderResponse{Order: buildOrderPayload(order)})
}

func writeCheckoutError(ctx context.Context, w http.ResponseWriter, err error) {
	var stockErr *services.StockError
	switch {
	case errors.As(err, &stockErr):
		httpx.WriteError(ctx, w, httpx.NewError("insufficient_stock", "insufficient stock for "+stockErr.SKU, http.StatusConflict).
			WithDetails(map[string]any{"sku": stockErr.SKU}))
	case errors.Is(err, services.ErrCheckoutCartEmpty):
		httpx.WriteError(ctx, w, httpx.NewError("cart_empty", "cart is empty", http.StatusBadRequest))
	case errors.Is(err, services.ErrCheckoutInvalidInput):
		httpx.WriteError(ctx, w, httpx.NewError("invalid_request", err.Error(), http.StatusBadRequest))
	case errors.Is(err, services.ErrCheckoutFxRateMissing):
		httpx.WriteError(ctx, w, httpx.NewError("fx_rate_missing", err.Error(), http.StatusUnprocessableEntity))
	case errors.Is(err, services.ErrCheckoutUnsupportedProviderCurrency):
		httpx.WriteError(ctx, w, httpx.NewError("unsupported_currency", err.Error(), http.StatusUnprocessableEntity))
	case errors.Is(err, services.ErrCheckoutConflict):
		httpx.WriteError(ctx, w, httpx.NewError("checkout_conflict", "checkout conflicted with a concurrent update; retry", http.StatusConflict))
	case errors.Is(err, services.ErrCheckoutUnavailable):
		httpx.WriteError(ctx, w, httpx.NewError("checkout_unavailable", "checkout service unavailable", http.StatusServiceUnavailable))
	default:
		httpx.WriteError(ctx, w, httpx.NewError("checkout_error", "failed to create order", http.StatusInternalServerError))
	}
}
