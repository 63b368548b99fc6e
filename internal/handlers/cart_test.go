package handlers

import (
	"context"
	"encoding/json"
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

func newCartRouter(svc services.CartService) chi.Router {
	router := chi.NewRouter()
	router.Route("/cart", NewCartHandlers(svc).Routes)
	return router
}

func decodeBody(t *testing.T, rr *httptest.ResponseRecorder) map[string]any {
	t.Helper()
	var body map[string]any
	if err := json.Unmarshal(rr.Body.Bytes(), &body); err != nil {
		t.Fatalf("expected JSON body, got %q: %v", rr.Body.String(), err)
	}
	return body
}

func TestCartHandlersGetCartIssuesSessionCookie(t *testing.T) {
	token := "tok123"
	updated := time.Date(2026, time.March, 1, 9, 0, 0, 0, time.UTC)
	svc := &stubCartService{
		resolveFunc: func(ctx context.Context, owner services.CartOwner) (services.Cart, error) {
			if owner.ActorID != "" || owner.SessionToken != "" {
				t.Fatalf("expected blank owner, got %+v", owner)
			}
			return services.Cart{
				ID:           "cart_1",
				SessionToken: &token,
				UpdatedAt:    updated,
				Items: []services.CartItem{{
					ID:           "item_1",
					VariantID:    "var_1",
					Quantity:     2,
					UnitPriceEur: 12,
					Line: &domain.CatalogLine{
						Variant: domain.Variant{SKU: "TEE-M-BLK", Name: "M / Black", Size: "M", Color: "Black"},
						Product: domain.Product{Name: "Team Tee"},
					},
				}},
			}, nil
		},
	}

	rr := httptest.NewRecorder()
	newCartRouter(svc).ServeHTTP(rr, httptest.NewRequest(http.MethodGet, "/cart", nil))

	if rr.Code != http.StatusOK {
		t.Fatalf("expected 200, got %d", rr.Code)
	}
	if !strings.Contains(rr.Header().Get("Cache-Control"), "no-store") {
		t.Fatalf("expected no-store cache control")
	}
	cookies := rr.Result().Cookies()
	if len(cookies) != 1 || cookies[0].Name != CartCookieName || cookies[0].Value != token {
		t.Fatalf("expected cart cookie, got %+v", cookies)
	}
	if !cookies[0].HttpOnly || cookies[0].SameSite != http.SameSiteLaxMode {
		t.Fatalf("expected HttpOnly SameSite=Lax cookie, got %+v", cookies[0])
	}

	var resp cartResponse
	if err := json.Unmarshal(rr.Body.Bytes(), &resp); err != nil {
		t.Fatalf("decode: %v", err)
	}
	if resp.Cart.ID != "cart_1" || resp.Cart.ItemsCount != 1 || resp.Cart.SubtotalEur != 24 {
		t.Fatalf("unexpected cart payload %+v", resp.Cart)
	}
	item := resp.Cart.Items[0]
	if item.SKU != "TEE-M-BLK" || item.LineTotalEur != 24 || item.ProductName != "Team Tee" {
		t.Fatalf("unexpected item payload %+v", item)
	}
}

func TestCartHandlersActorCartSkipsCookie(t *testing.T) {
	actor := "cust_1"
	svc := &stubCartService{
		resolveFunc: func(ctx context.Context, owner services.CartOwner) (services.Cart, error) {
			if owner.ActorID != actor {
				t.Fatalf("expected actor owner, got %+v", owner)
			}
			return services.Cart{ID: "cart_actor", UserID: &actor}, nil
		},
	}
	req := httptest.NewRequest(http.MethodGet, "/cart", nil)
	req = req.WithContext(auth.WithIdentity(req.Context(), &auth.Identity{UID: actor}))
	rr := httptest.NewRecorder()
	newCartRouter(svc).ServeHTTP(rr, req)

	if rr.Code != http.StatusOK {
		t.Fatalf("expected 200, got %d", rr.Code)
	}
	if len(rr.Result().Cookies()) != 0 {
		t.Fatalf("expected no cookie for actor cart")
	}
}

func TestCartHandlersAddItemUsesCookieCart(t *testing.T) {
	token := "tok-anon"
	svc := &stubCartService{
		resolveFunc: func(ctx context.Context, owner services.CartOwner) (services.Cart, error) {
			if owner.SessionToken != token {
				t.Fatalf("expected session token from cookie, got %+v", owner)
			}
			return services.Cart{ID: "cart_anon", SessionToken: &token}, nil
		},
		addFunc: func(ctx context.Context, cmd services.AddCartItemCommand) (services.CartItem, error) {
			if cmd.CartID != "cart_anon" || cmd.VariantID != "var_9" || cmd.Quantity != 1 {
				t.Fatalf("unexpected command %+v", cmd)
			}
			return services.CartItem{ID: "item_9", VariantID: "var_9", Quantity: 1, UnitPriceEur: 30}, nil
		},
	}

	req := httptest.NewRequest(http.MethodPost, "/cart/items", strings.NewReader(`{"variantId":"var_9"}`))
	req.AddCookie(&http.Cookie{Name: CartCookieName, Value: token})
	rr := httptest.NewRecorder()
	newCartRouter(svc).ServeHTTP(rr, req)

	if rr.Code != http.StatusCreated {
		t.Fatalf("expected 201, got %d: %s", rr.Code, rr.Body.String())
	}
	var resp cartItemResponse
	if err := json.Unmarshal(rr.Body.Bytes(), &resp); err != nil {
		t.Fatalf("decode: %v", err)
	}
	if resp.Item == nil || resp.Item.ID != "item_9" || resp.Item.LineTotalEur != 30 {
		t.Fatalf("unexpected item %+v", resp.Item)
	}
}

func TestCartHandlersAddItemOutOfStock(t *testing.T) {
	svc := &stubCartService{
		resolveFunc: func(ctx context.Context, owner services.CartOwner) (services.Cart, error) {
			return services.Cart{ID: "cart_1"}, nil
		},
		addFunc: func(ctx context.Context, cmd services.AddCartItemCommand) (services.CartItem, error) {
			return services.CartItem{}, &services.StockError{SKU: "TEE-S", VariantID: cmd.VariantID, Err: services.ErrCartOutOfStock}
		},
	}
	req := httptest.NewRequest(http.MethodPost, "/cart/items", strings.NewReader(`{"variantId":"var_1","quantity":5}`))
	rr := httptest.NewRecorder()
	newCartRouter(svc).ServeHTTP(rr, req)

	if rr.Code != http.StatusConflict {
		t.Fatalf("expected 409, got %d", rr.Code)
	}
	body := decodeBody(t, rr)
	if body["error"] != "out_of_stock" || body["sku"] != "TEE-S" {
		t.Fatalf("unexpected error body %v", body)
	}
}

func TestCartHandlersAddItemRejectsUnknownFields(t *testing.T) {
	svc := &stubCartService{}
	req := httptest.NewRequest(http.MethodPost, "/cart/items", strings.NewReader(`{"variant":"x"}`))
	rr := httptest.NewRecorder()
	newCartRouter(svc).ServeHTTP(rr, req)
	if rr.Code != http.StatusBadRequest {
		t.Fatalf("expected 400, got %d", rr.Code)
	}
}

func TestCartHandlersUpdateItemWithoutCart(t *testing.T) {
	svc := &stubCartService{}
	req := httptest.NewRequest(http.MethodPatch, "/cart/items/item_1", strings.NewReader(`{"quantity":2}`))
	rr := httptest.NewRecorder()
	newCartRouter(svc).ServeHTTP(rr, req)
	if rr.Code != http.StatusNotFound {
		t.Fatalf("expected 404, got %d", rr.Code)
	}
	if body := decodeBody(t, rr); body["error"] != "cart_not_found" {
		t.Fatalf("unexpected error %v", body["error"])
	}
}

func TestCartHandlersUpdateItemToZeroRemoves(t *testing.T) {
	svc := &stubCartService{
		getFunc: func(ctx context.Context, owner services.CartOwner) (services.Cart, error) {
			return services.Cart{ID: "cart_1"}, nil
		},
		updateFunc: func(ctx context.Context, cmd services.UpdateCartItemCommand) (*services.CartItem, error) {
			if cmd.ItemID != "item_1" || cmd.Quantity != 0 || cmd.CartID != "cart_1" {
				t.Fatalf("unexpected command %+v", cmd)
			}
			return nil, nil
		},
	}
	req := httptest.NewRequest(http.MethodPatch, "/cart/items/item_1", strings.NewReader(`{"quantity":0}`))
	req.AddCookie(&http.Cookie{Name: CartCookieName, Value: "tok"})
	rr := httptest.NewRecorder()
	newCartRouter(svc).ServeHTTP(rr, req)

	if rr.Code != http.StatusOK {
		t.Fatalf("expected 200, got %d", rr.Code)
	}
	var resp cartItemResponse
	if err := json.Unmarshal(rr.Body.Bytes(), &resp); err != nil {
		t.Fatalf("decode: %v", err)
	}
	if resp.Item != nil {
		t.Fatalf("expected null item after removal, got %+v", resp.Item)
	}
}

func TestCartHandlersRemoveItem(t *testing.T) {
	var removed string
	svc := &stubCartService{
		getFunc: func(ctx context.Context, owner services.CartOwner) (services.Cart, error) {
			return services.Cart{ID: "cart_1"}, nil
		},
		removeFunc: func(ctx context.Context, cartID, itemID string) error {
			if cartID != "cart_1" {
				t.Fatalf("unexpected cart %s", cartID)
			}
			removed = itemID
			return nil
		},
	}
	req := httptest.NewRequest(http.MethodDelete, "/cart/items/item_7", nil)
	req.AddCookie(&http.Cookie{Name: CartCookieName, Value: "tok"})
	rr := httptest.NewRecorder()
	newCartRouter(svc).ServeHTTP(rr, req)

	if rr.Code != http.StatusNoContent || removed != "item_7" {
		t.Fatalf("expected 204 removing item_7, got %d (%s)", rr.Code, removed)
	}

	svc.removeFunc = func(ctx context.Context, cartID, itemID string) error { return services.ErrCartItemNotFound }
	rr = httptest.NewRecorder()
	newCartRouter(svc).ServeHTTP(rr, httptest.NewRequest(http.MethodDelete, "/cart/items/other", nil))
	if rr.Code != http.StatusNotFound {
		t.Fatalf("expected 404 for foreign item, got %d", rr.Code)
	}
}

func TestCartHandlersServiceUnavailable(t *testing.T) {
	rr := httptest.NewRecorder()
	newCartRouter(nil).ServeHTTP(rr, httptest.NewRequest(http.MethodGet, "/cart", nil))
	if rr.Code != http.StatusServiceUnavailable {
		t.Fatalf("expected 503, got %d", rr.Code)
	}
}
