package handlers

import (
	"context"
	"errors"
	"net/http"
	"strings"
	"time"

	"github.com/go-chi/chi/v5"

	"github.com/op17/storefront-api/internal/platform/auth"
	"github.com/op17/storefront-api/internal/platform/httpx"
	"github.com/op17/storefront-api/internal/services"
)

const (
	// CartCookieName carries the anonymous cart session token.
	CartCookieName  = "op17_cart"
	cartCookieTTL   = 14 * 24 * time.Hour
	maxCartBodySize = 4 * 1024
)

// CartHandlers exposes the storefront cart. Signed-in shoppers use their actor cart,
// everyone else the cart bound to the session cookie.
type CartHandlers struct {
	carts        services.CartService
	secureCookie bool
}

// CartHandlersOption customises cart handlers.
type CartHandlersOption func(*CartHandlers)

// WithSecureCartCookie marks the session cookie Secure.
func WithSecureCartCookie(secure bool) CartHandlersOption {
	return func(h *CartHandlers) {
		h.secureCookie = secure
	}
}

// NewCartHandlers constructs cart handlers backed by the cart service.
func NewCartHandlers(carts services.CartService, opts ...CartHandlersOption) *CartHandlers {
	h := &CartHandlers{carts: carts}
	for _, opt := range opts {
		if opt != nil {
			opt(h)
		}
	}
	return h
}

// Routes wires the /cart endpoints onto the provided router.
func (h *CartHandlers) Routes(r chi.Router) {
	if r == nil {
		return
	}
	r.Get("/", h.getCart)
	r.Post("/items", h.addItem)
	r.Patch("/items/{itemID}", h.updateItem)
	r.Delete("/items/{itemID}", h.removeItem)
}

type addCartItemRequest struct {
	VariantID string `json:"variantId"`
	Quantity  *int64 `json:"quantity"`
}

type updateCartItemRequest struct {
	Quantity *int64 `json:"quantity"`
}

type cartResponse struct {
	Cart cartPayload `json:"cart"`
}

type cartItemResponse struct {
	Item *cartItemPayload `json:"item"`
}

type cartPayload struct {
	ID          string            `json:"id"`
	Items       []cartItemPayload `json:"items"`
	ItemsCount  int               `json:"itemsCount"`
	SubtotalEur int64             `json:"subtotalEur"`
	UpdatedAt   string            `json:"updatedAt,omitempty"`
}

type cartItemPayload struct {
	ID           string `json:"id"`
	VariantID    string `json:"variantId"`
	SKU          string `json:"sku,omitempty"`
	ProductName  string `json:"productName,omitempty"`
	VariantName  string `json:"variantName,omitempty"`
	Size         string `json:"size,omitempty"`
	Color        string `json:"color,omitempty"`
	Quantity     int64  `json:"quantity"`
	UnitPriceEur int64  `json:"unitPriceEur"`
	LineTotalEur int64  `json:"lineTotalEur"`
}

func (h *CartHandlers) getCart(w http.ResponseWriter, r *http.Request) {
	cart, ok := h.resolve(w, r)
	if !ok {
		return
	}
	setNoStore(w)
	writeJSONResponse(w, http.StatusOK, cartResponse{Cart: buildCartPayload(cart)})
}

func (h *CartHandlers) addItem(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	if h.carts == nil {
		writeCartError(ctx, w, services.ErrCartUnavailable)
		return
	}

	var req addCartItemRequest
	if err := decodeJSONBody(r, maxCartBodySize, &req); err != nil {
		writeBodyError(ctx, w, err)
		return
	}
	quantity := int64(1)
	if req.Quantity != nil {
		quantity = *req.Quantity
	}

	cart, ok := h.resolve(w, r)
	if !ok {
		return
	}
	item, err := h.carts.AddItem(ctx, services.AddCartItemCommand{
		CartID:    cart.ID,
		VariantID: strings.TrimSpace(req.VariantID),
		Quantity:  quantity,
	})
	if err != nil {
		writeCartError(ctx, w, err)
		return
	}
	payload := buildCartItemPayload(item)
	writeJSONResponse(w, http.StatusCreated, cartItemResponse{Item: &payload})
}

func (h *CartHandlers) updateItem(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	if h.carts == nil {
		writeCartError(ctx, w, services.ErrCartUnavailable)
		return
	}

	var req updateCartItemRequest
	if err := decodeJSONBody(r, maxCartBodySize, &req); err != nil {
		writeBodyError(ctx, w, err)
		return
	}
	if req.Quantity == nil {
		httpx.WriteError(ctx, w, httpx.NewError("invalid_request", "quantity is required", http.StatusBadRequest))
		return
	}

	cart, err := h.carts.Get(ctx, h.owner(r))
	if err != nil {
		writeCartError(ctx, w, err)
		return
	}
	item, err := h.carts.UpdateItem(ctx, services.UpdateCartItemCommand{
		CartID:   cart.ID,
		ItemID:   chi.URLParam(r, "itemID"),
		Quantity: *req.Quantity,
	})
	if err != nil {
		writeCartError(ctx, w, err)
		return
	}
	if item == nil {
		writeJSONResponse(w, http.StatusOK, cartItemResponse{})
		return
	}
	payload := buildCartItemPayload(*item)
	writeJSONResponse(w, http.StatusOK, cartItemResponse{Item: &payload})
}

func (h *CartHandlers) removeItem(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	if h.carts == nil {
		writeCartError(ctx, w, services.ErrCartUnavailable)
		return
	}
	cart, err := h.carts.Get(ctx, h.owner(r))
	if err != nil {
		writeCartError(ctx, w, err)
		return
	}
	if err := h.carts.RemoveItem(ctx, cart.ID, chi.URLParam(r, "itemID")); err != nil {
		writeCartError(ctx, w, err)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

// resolve loads or creates the caller's cart and refreshes the session cookie for anonymous carts.
func (h *CartHandlers) resolve(w http.ResponseWriter, r *http.Request) (services.Cart, bool) {
	ctx := r.Context()
	if h.carts == nil {
		writeCartError(ctx, w, services.ErrCartUnavailable)
		return services.Cart{}, false
	}
	cart, err := h.carts.Resolve(ctx, h.owner(r))
	if err != nil {
		writeCartError(ctx, w, err)
		return services.Cart{}, false
	}
	if cart.SessionToken != nil && *cart.SessionToken != "" {
		http.SetCookie(w, &http.Cookie{
			Name:     CartCookieName,
			Value:    *cart.SessionToken,
			Path:     "/",
			MaxAge:   int(cartCookieTTL / time.Second),
			HttpOnly: true,
			Secure:   h.secureCookie,
			SameSite: http.SameSiteLaxMode,
		})
	}
	return cart, true
}

func (h *CartHandlers) owner(r *http.Request) services.CartOwner {
	return services.CartOwner{
		ActorID:      auth.ActorID(r.Context()),
		SessionToken: cartSessionToken(r),
	}
}

// CartSessionScope keys idempotency records of anonymous shoppers by their cart cookie.
func CartSessionScope(r *http.Request) string {
	return cartSessionToken(r)
}

// cartSessionToken returns the anonymous cart token from the request cookie.
func cartSessionToken(r *http.Request) string {
	cookie, err := r.Cookie(CartCookieName)
	if err != nil {
		return ""
	}
	return strings.TrimSpace(cookie.Value)
}

func buildCartPayload(cart services.Cart) cartPayload {
	payload := cartPayload{
		ID:          cart.ID,
		Items:       make([]cartItemPayload, 0, len(cart.Items)),
		ItemsCount:  len(cart.Items),
		SubtotalEur: cart.SubtotalEur(),
	}
	if !cart.UpdatedAt.IsZero() {
		payload.UpdatedAt = cart.UpdatedAt.UTC().Format(time.RFC3339)
	}
	for _, item := range cart.Items {
		payload.Items = append(payload.Items, buildCartItemPayload(item))
	}
	return payload
}

func buildCartItemPayload(item services.CartItem) cartItemPayload {
	payload := cartItemPayload{
		ID:           item.ID,
		VariantID:    item.VariantID,
		Quantity:     item.Quantity,
		UnitPriceEur: item.UnitPriceEur,
		LineTotalEur: item.UnitPriceEur * item.Quantity,
	}
	if item.Line != nil {
		payload.SKU = item.Line.Variant.SKU
		payload.ProductName = item.Line.Product.Name
		payload.VariantName = item.Line.Variant.Name
		payload.Size = item.Line.Variant.Size
		payload.Color = item.Line.Variant.Color
	}
	return payload
}

func writeBodyError(ctx context.Context, w http.ResponseWriter, err error) {
	if errors.Is(err, errBodyTooLarge) {
		httpx.WriteError(ctx, w, httpx.NewError("payload_too_large", "request body exceeds allowed size", http.StatusRequestEntityTooLarge))
		return
	}
	httpx.WriteError(ctx, w, httpx.NewError("invalid_request", err.Error(), http.StatusBadRequest))
}

func writeCartError(ctx context.Context, w http.ResponseWriter, err error) {
	var stockErr *services.StockError
	switch {
	case errors.As(err, &stockErr):
		httpx.WriteError(ctx, w, httpx.NewError("out_of_stock", "requested quantity exceeds available stock", http.StatusConflict).
			WithDetails(map[string]any{"sku": stockErr.SKU}))
	case errors.Is(err, services.ErrCartInvalidInput):
		httpx.WriteError(ctx, w, httpx.NewError("invalid_request", err.Error(), http.StatusBadRequest))
	case errors.Is(err, services.ErrCartVariantNotFound):
		httpx.WriteError(ctx, w, httpx.NewError("variant_not_found", "variant not found", http.StatusNotFound))
	case errors.Is(err, services.ErrCartItemNotFound):
		httpx.WriteError(ctx, w, httpx.NewError("cart_item_not_found", "cart item not found", http.StatusNotFound))
	case errors.Is(err, services.ErrCartNotFound):
		httpx.WriteError(ctx, w, httpx.NewError("cart_not_found", "cart not found", http.StatusNotFound))
	case errors.Is(err, services.ErrCartUnavailable):
		httpx.WriteError(ctx, w, httpx.NewError("cart_service_unavailable", "cart service is unavailable", http.StatusServiceUnavailable))
	default:
		httpx.WriteError(ctx, w, httpx.NewError("cart_error", "failed to process cart request", http.StatusInternalServerError))
	}
}
