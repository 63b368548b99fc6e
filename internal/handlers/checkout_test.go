package handlers

import (
	"context"
	"encoding/json"
	"fmt"
	"math/big"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/go-chi/chi/v5"

	domain "github.com/op17/storefront-api/internal/domain"
	"github.com/op17/storefront-api/internal/platform/auth"
	"github.com/op17/storefront-api/internal/services"
)

const checkoutBody = `{
	"email": "athlete@example.com",
	"phone": "+380501112233",
	"currency": "USD",
	"shippingMethod": "NOVA_POST_BRANCH",
	"provider": "LIQPAY",
	"shippingAddress": {"name": "Olena K", "city": "Kyiv", "novaPostOfficeId": "12"}
}`

func newCheckoutRouter(carts services.CartService, checkout services.CheckoutService) chi.Router {
	router := chi.NewRouter()
	router.Route("/checkout", NewCheckoutHandlers(carts, checkout).Routes)
	return router
}

func TestCheckoutHandlersCreateOrder(t *testing.T) {
	created := time.Date(2026, time.March, 1, 10, 0, 0, 0, time.UTC)
	carts := &stubCartService{
		getFunc: func(ctx context.Context, owner services.CartOwner) (services.Cart, error) {
			if owner.ActorID != "cust_1" {
				t.Fatalf("expected actor owner, got %+v", owner)
			}
			return services.Cart{ID: "cart_1"}, nil
		},
	}
	checkout := &stubCheckoutService{
		createFunc: func(ctx context.Context, cmd services.CreateOrderCommand) (services.Order, error) {
			if cmd.CartID != "cart_1" || cmd.ActorID != "cust_1" || cmd.Currency != "USD" || cmd.Provider != "LIQPAY" {
				t.Fatalf("unexpected command %+v", cmd)
			}
			if cmd.ShippingAddress.City != "Kyiv" || cmd.ShippingAddress.NovaPostOfficeID != "12" {
				t.Fatalf("unexpected address %+v", cmd.ShippingAddress)
			}
			return services.Order{
				ID:             "ord_1",
				OrderNumber:    "OP17-20260301-AB12",
				Status:         domain.OrderStatusPending,
				Email:          "athlete@example.com",
				Currency:       domain.CurrencyUSD,
				SubtotalEur:    12,
				TotalEur:       12,
				TotalMinor:     1320,
				FxRate:         big.NewRat(11, 10),
				ShippingMethod: domain.ShippingNovaPostBranch,
				CreatedAt:      created,
				UpdatedAt:      created,
			}, nil
		},
	}

	req := httptest.NewRequest(http.MethodPost, "/checkout", strings.NewReader(checkoutBody))
	req = req.WithContext(auth.WithIdentity(req.Context(), &auth.Identity{UID: "cust_1"}))
	rr := httptest.NewRecorder()
	newCheckoutRouter(carts, checkout).ServeHTTP(rr, req)

	if rr.Code != http.StatusCreated {
		t.Fatalf("expected 201, got %d: %s", rr.Code, rr.Body.String())
	}
	if loc := rr.Header().Get("Location"); loc != "/api/v1/orders/OP17-20260301-AB12" {
		t.Fatalf("unexpected location %q", loc)
	}
	var resp orderResponse
	if err := json.Unmarshal(rr.Body.Bytes(), &resp); err != nil {
		t.Fatalf("decode: %v", err)
	}
	if resp.Order.TotalMinor != 1320 || resp.Order.Total != "13.20" || resp.Order.FxRate != "1.100000" {
		t.Fatalf("unexpected order payload %+v", resp.Order)
	}
	if resp.Order.Status != "PENDING" {
		t.Fatalf("expected PENDING, got %s", resp.Order.Status)
	}
}

func TestCheckoutHandlersErrorMapping(t *testing.T) {
	cases := []struct {
		name   string
		err    error
		status int
		code   string
	}{
		{"stock", &services.StockError{SKU: "TEE-L", Err: services.ErrCheckoutInsufficientStock}, http.StatusConflict, "insufficient_stock"},
		{"fx", fmt.Errorf("%w: EUR/USD", services.ErrCheckoutFxRateMissing), http.StatusUnprocessableEntity, "fx_rate_missing"},
		{"provider currency", services.ErrCheckoutUnsupportedProviderCurrency, http.StatusUnprocessableEntity, "unsupported_currency"},
		{"invalid", fmt.Errorf("%w: email is invalid", services.ErrCheckoutInvalidInput), http.StatusBadRequest, "invalid_request"},
		{"empty", services.ErrCheckoutCartEmpty, http.StatusBadRequest, "cart_empty"},
		{"unavailable", services.ErrCheckoutUnavailable, http.StatusServiceUnavailable, "checkout_unavailable"},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			carts := &stubCartService{
				getFunc: func(ctx context.Context, owner services.CartOwner) (services.Cart, error) {
					return services.Cart{ID: "cart_1"}, nil
				},
			}
			checkout := &stubCheckoutService{
				createFunc: func(ctx context.Context, cmd services.CreateOrderCommand) (services.Order, error) {
					return services.Order{}, tc.err
				},
			}
			req := httptest.NewRequest(http.MethodPost, "/checkout", strings.NewReader(checkoutBody))
			req.AddCookie(&http.Cookie{Name: CartCookieName, Value: "tok"})
			rr := httptest.NewRecorder()
			newCheckoutRouter(carts, checkout).ServeHTTP(rr, req)

			if rr.Code != tc.status {
				t.Fatalf("expected %d, got %d", tc.status, rr.Code)
			}
			body := decodeBody(t, rr)
			if body["error"] != tc.code {
				t.Fatalf("expected %s, got %v", tc.code, body["error"])
			}
			if tc.name == "stock" && body["sku"] != "TEE-L" {
				t.Fatalf("expected sku detail, got %v", body)
			}
		})
	}
}

func TestCheckoutHandlersWithoutCart(t *testing.T) {
	checkout := &stubCheckoutService{
		createFunc: func(ctx context.Context, cmd services.CreateOrderCommand) (services.Order, error) {
			t.Fatalf("checkout must not run without a cart")
			return services.Order{}, nil
		},
	}
	rr := httptest.NewRecorder()
	newCheckoutRouter(&stubCartService{}, checkout).ServeHTTP(rr, httptest.NewRequest(http.MethodPost, "/checkout", strings.NewReader(checkoutBody)))
	if rr.Code != http.StatusBadRequest {
		t.Fatalf("expected 400, got %d", rr.Code)
	}
	if body := decodeBody(t, rr); body["error"] != "cart_empty" {
		t.Fatalf("expected cart_empty, got %v", body["error"])
	}
}

func TestCheckoutHandlersRejectsEmptyBody(t *testing.T) {
	rr := httptest.NewRecorder()
	newCheckoutRouter(&stubCartService{}, &stubCheckoutService{}).ServeHTTP(rr, httptest.NewRequest(http.MethodPost, "/checkout", nil))
	if rr.Code != http.StatusBadRequest {
		t.Fatalf("expected 400, got %d", rr.Code)
	}
}
