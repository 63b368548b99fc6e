package services

import (
	"context"
	"testing"
	"time"

	domain "github.com/op17/storefront-api/internal/domain"
	"github.com/op17/storefront-api/internal/payments"
	"github.com/op17/storefront-api/internal/repositories/memory"
)

var fixedNow = time.Date(2026, time.March, 1, 10, 0, 0, 0, time.UTC)

func fixedClock() time.Time { return fixedNow }

func policyPtr(p domain.BackorderPolicy) *domain.BackorderPolicy { return &p }

func int64Ptr(v int64) *int64 { return &v }

// newCatalogStore seeds a tee with two sizes and a preorder hoodie.
func newCatalogStore(stock int64) *memory.Store {
	store := memory.NewStore()
	store.PutProduct(domain.Product{ID: "prod_tee", Name: "Race Tee", Slug: "race-tee", BasePriceEur: 12})
	store.PutVariant(domain.Variant{ID: "var_tee_m", ProductID: "prod_tee", SKU: "TEE-M", Name: "M", Size: "M", Color: "black", Stock: stock})
	store.PutVariant(domain.Variant{ID: "var_tee_l", ProductID: "prod_tee", SKU: "TEE-L", Name: "L", Size: "L", Color: "black", Stock: stock, PriceEur: int64Ptr(15)})
	store.PutCollection(domain.Collection{ID: "col_drop", Name: "Drop", BackorderPolicy: policyPtr(domain.BackorderAllow)})
	collectionID := "col_drop"
	store.PutProduct(domain.Product{ID: "prod_hoodie", Name: "Hoodie", Slug: "hoodie", BasePriceEur: 60, CollectionID: &collectionID})
	store.PutVariant(domain.Variant{ID: "var_hoodie", ProductID: "prod_hoodie", SKU: "HOOD-ONE", Name: "One size", Stock: 0})
	return store
}

func newTestCartService(t *testing.T, store *memory.Store) CartService {
	t.Helper()
	svc, err := NewCartService(CartServiceDeps{
		Carts:          store.Carts(),
		Catalog:        store.Catalog(),
		UnitOfWork:     store,
		Clock:          fixedClock,
		TokenGenerator: func() string { return "token-fixed" },
	})
	if err != nil {
		t.Fatalf("NewCartService: %v", err)
	}
	return svc
}

func newTestCheckoutService(t *testing.T, store *memory.Store) CheckoutService {
	t.Helper()
	svc, err := NewCheckoutService(CheckoutServiceDeps{
		Repositories: store,
		Clock:        fixedClock,
	})
	if err != nil {
		t.Fatalf("NewCheckoutService: %v", err)
	}
	return svc
}

func newTestLiqPayRegistry(t *testing.T) *payments.Registry {
	t.Helper()
	liqpay, err := payments.NewLiqPayProvider(payments.LiqPayProviderConfig{
		PublicKey:  "pub_test",
		PrivateKey: "priv_test",
	})
	if err != nil {
		t.Fatalf("NewLiqPayProvider: %v", err)
	}
	registry, err := payments.NewRegistry(liqpay)
	if err != nil {
		t.Fatalf("NewRegistry: %v", err)
	}
	registry.Disable(domain.ProviderMonobank, payments.ErrProviderMisconfigured)
	return registry
}

func newTestPaymentService(t *testing.T, store *memory.Store, registry *payments.Registry) PaymentService {
	t.Helper()
	svc, err := NewPaymentService(PaymentServiceDeps{
		Repositories: store,
		Providers:    registry,
		Clock:        fixedClock,
	})
	if err != nil {
		t.Fatalf("NewPaymentService: %v", err)
	}
	return svc
}

func newTestRefundService(t *testing.T, store *memory.Store) RefundService {
	t.Helper()
	svc, err := NewRefundService(RefundServiceDeps{
		Repositories: store,
		Clock:        fixedClock,
	})
	if err != nil {
		t.Fatalf("NewRefundService: %v", err)
	}
	return svc
}

func newTestOrderService(t *testing.T, store *memory.Store) OrderService {
	t.Helper()
	svc, err := NewOrderService(OrderServiceDeps{
		Repositories: store,
		Clock:        fixedClock,
	})
	if err != nil {
		t.Fatalf("NewOrderService: %v", err)
	}
	return svc
}

func validCheckout(cartID string) CreateOrderCommand {
	return CreateOrderCommand{
		CartID: cartID,
		Email:  "  Runner@Example.com ",
		Phone:  "+380501112233",
		ShippingAddress: AddressInput{
			Name:             "Olena Runner",
			City:             "Kyiv",
			NovaPostOfficeID: "12",
		},
	}
}

// fillCart resolves an anonymous cart and adds quantity of each variant.
func fillCart(t *testing.T, carts CartService, token string, lines map[string]int64) Cart {
	t.Helper()
	ctx := context.Background()
	cart, err := carts.Resolve(ctx, CartOwner{SessionToken: token})
	if err != nil {
		t.Fatalf("Resolve: %v", err)
	}
	for variantID, qty := range lines {
		if _, err := carts.AddItem(ctx, AddCartItemCommand{CartID: cart.ID, VariantID: variantID, Quantity: qty}); err != nil {
			t.Fatalf("AddItem %s: %v", variantID, err)
		}
	}
	return cart
}

// placeOrder runs a full checkout for the given lines.
func placeOrder(t *testing.T, store *memory.Store, cmd CreateOrderCommand, lines map[string]int64) Order {
	t.Helper()
	cart := fillCart(t, newTestCartService(t, store), "tok-"+cmd.Email, lines)
	cmd.CartID = cart.ID
	order, err := newTestCheckoutService(t, store).CreateOrder(context.Background(), cmd)
	if err != nil {
		t.Fatalf("CreateOrder: %v", err)
	}
	return order
}
