//go:build integration

package postgres

import (
	"context"
	"errors"
	"os"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/oklog/ulid/v2"

	domain "github.com/op17/storefront-api/internal/domain"
	ppostgres "github.com/op17/storefront-api/internal/platform/postgres"
	"github.com/op17/storefront-api/internal/repositories"
)

func openTestRegistry(t *testing.T) (*Registry, *ppostgres.DB) {
	t.Helper()
	url := os.Getenv("API_TEST_DATABASE_URL")
	if url == "" {
		t.Skip("API_TEST_DATABASE_URL not set")
	}
	ctx, cancel := context.WithTimeout(context.Background(), 20*time.Second)
	defer cancel()

	pool, err := ppostgres.Open(ctx, ppostgres.PoolConfig{URL: url, MaxConns: 16})
	if err != nil {
		t.Fatalf("open: %v", err)
	}
	if err := EnsureSchema(ctx, pool); err != nil {
		pool.Close()
		t.Fatalf("EnsureSchema: %v", err)
	}
	db := ppostgres.NewDB(pool)
	registry, err := NewRegistry(db, nil)
	if err != nil {
		pool.Close()
		t.Fatalf("NewRegistry: %v", err)
	}
	t.Cleanup(func() { _ = registry.Close(context.Background()) })
	return registry, db
}

func seedVariant(t *testing.T, db *ppostgres.DB, stock int64) (productID, variantID, sku string) {
	t.Helper()
	ctx := context.Background()
	productID, variantID = ulid.Make().String(), ulid.Make().String()
	sku = "SKU-" + variantID
	if _, err := db.Pool().Exec(ctx, `INSERT INTO products (id, name, slug, base_price_eur) VALUES ($1, 'Race Tee', $2, 45)`,
		productID, "race-tee-"+productID); err != nil {
		t.Fatalf("seed product: %v", err)
	}
	if _, err := db.Pool().Exec(ctx, `INSERT INTO variants (id, product_id, sku, name, size, stock) VALUES ($1, $2, $3, 'M', 'M', $4)`,
		variantID, productID, sku, stock); err != nil {
		t.Fatalf("seed variant: %v", err)
	}
	return productID, variantID, sku
}

func TestInventoryConcurrentDecrementNeverOversells(t *testing.T) {
	registry, db := openTestRegistry(t)
	_, variantID, _ := seedVariant(t, db, 3)

	var (
		wg        sync.WaitGroup
		succeeded atomic.Int64
		rejected  atomic.Int64
	)
	for i := 0; i < 10; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			err := registry.RunInTx(context.Background(), func(ctx context.Context) error {
				return registry.Inventory().DecrementStock(ctx, variantID, 1)
			})
			var invErr *repositories.InventoryError
			switch {
			case err == nil:
				succeeded.Add(1)
			case errors.As(err, &invErr) && invErr.Code == repositories.InventoryErrorInsufficientStock:
				rejected.Add(1)
			default:
				t.Errorf("unexpected error: %v", err)
			}
		}()
	}
	wg.Wait()

	if succeeded.Load() != 3 || rejected.Load() != 7 {
		t.Fatalf("expected 3 successes and 7 rejections, got %d and %d", succeeded.Load(), rejected.Load())
	}
	line, err := registry.Catalog().GetVariantLine(context.Background(), variantID)
	if err != nil {
		t.Fatalf("GetVariantLine: %v", err)
	}
	if line.Variant.Stock != 0 {
		t.Fatalf("expected stock 0, got %d", line.Variant.Stock)
	}
}

func TestPaymentFindOrCreateAndCompareAndSet(t *testing.T) {
	registry, _ := openTestRegistry(t)
	ctx := context.Background()
	now := time.Now().UTC().Truncate(time.Microsecond)

	address := domain.Address{ID: ulid.Make().String(), Name: "Ira", Country: "Ukraine", City: "Kyiv", CreatedAt: now}
	number, err := domain.NewOrderNumber(now)
	if err != nil {
		t.Fatalf("NewOrderNumber: %v", err)
	}
	order := domain.Order{
		ID: ulid.Make().String(), OrderNumber: number + ulid.Make().String()[:4], Email: "ira@example.com",
		Status: domain.OrderStatusPending, Currency: domain.CurrencyEUR, SubtotalEur: 50, TotalEur: 50, TotalMinor: 5000,
		ShippingMethod: domain.ShippingNovaPostBranch, ShippingAddressID: address.ID, CreatedAt: now, UpdatedAt: now,
	}
	err = registry.RunInTx(ctx, func(ctx context.Context) error {
		if err := registry.Addresses().Insert(ctx, address); err != nil {
			return err
		}
		return registry.Orders().Insert(ctx, order)
	})
	if err != nil {
		t.Fatalf("insert order: %v", err)
	}

	first, err := registry.Payments().FindOrCreate(ctx, domain.Payment{
		ID: ulid.Make().String(), OrderID: order.ID, Provider: domain.ProviderMonobank,
		Status: domain.PaymentStatusPending, AmountMinor: 5000, Currency: domain.CurrencyEUR, CreatedAt: now,
	})
	if err != nil {
		t.Fatalf("FindOrCreate: %v", err)
	}
	second, err := registry.Payments().FindOrCreate(ctx, domain.Payment{
		ID: ulid.Make().String(), OrderID: order.ID, Provider: domain.ProviderMonobank,
		Status: domain.PaymentStatusPending, AmountMinor: 5000, Currency: domain.CurrencyEUR, CreatedAt: now,
	})
	if err != nil {
		t.Fatalf("FindOrCreate (second): %v", err)
	}
	if first.ID != second.ID {
		t.Fatalf("expected the same payment, got %s and %s", first.ID, second.ID)
	}

	invoiceID := "inv_" + first.ID
	first.ProviderInvoiceID = &invoiceID
	first.Raw = map[string]any{"status": "created"}
	first.UpdatedAt = now
	if err := registry.Payments().Update(ctx, first); err != nil {
		t.Fatalf("Update: %v", err)
	}
	found, err := registry.Payments().FindByProviderReference(ctx, domain.ProviderMonobank, invoiceID)
	if err != nil || found.ID != first.ID {
		t.Fatalf("FindByProviderReference = %v, %v", found.ID, err)
	}

	changed, err := registry.Orders().CompareAndSetStatus(ctx, order.ID, domain.OrderStatusPending, domain.OrderStatusPaid, now)
	if err != nil || !changed {
		t.Fatalf("first CAS = %v, %v", changed, err)
	}
	changed, err = registry.Orders().CompareAndSetStatus(ctx, order.ID, domain.OrderStatusPending, domain.OrderStatusPaid, now)
	if err != nil || changed {
		t.Fatalf("second CAS = %v, %v", changed, err)
	}

	duplicate := order
	duplicate.ID = ulid.Make().String()
	duplicate.ShippingAddressID = ulid.Make().String()
	err = registry.RunInTx(ctx, func(ctx context.Context) error {
		if err := registry.Addresses().Insert(ctx, domain.Address{ID: duplicate.ShippingAddressID, Name: "Ira", Country: "Ukraine", City: "Kyiv", CreatedAt: now}); err != nil {
			return err
		}
		return registry.Orders().Insert(ctx, duplicate)
	})
	var repoErr repositories.RepositoryError
	if !errors.As(err, &repoErr) || !repoErr.IsConflict() {
		t.Fatalf("expected order number conflict, got %v", err)
	}
	if _, err := registry.Addresses().FindByID(ctx, duplicate.ShippingAddressID); err == nil {
		t.Fatalf("expected address insert to roll back with the failed order")
	}
}

func TestCartLockForUpdateSerialisesCheckouts(t *testing.T) {
	registry, _ := openTestRegistry(t)
	ctx := context.Background()
	token := ulid.Make().String()
	cart, err := registry.Carts().CreateIfAbsent(ctx, domain.Cart{ID: ulid.Make().String(), SessionToken: &token, CreatedAt: time.Now().UTC()})
	if err != nil {
		t.Fatalf("CreateIfAbsent: %v", err)
	}

	locked := make(chan struct{})
	release := make(chan struct{})
	first := make(chan error, 1)
	go func() {
		first <- registry.RunInTx(ctx, func(ctx context.Context) error {
			if err := registry.Carts().LockForUpdate(ctx, cart.ID); err != nil {
				return err
			}
			close(locked)
			<-release
			return nil
		})
	}()
	<-locked

	var secondDone atomic.Bool
	second := make(chan error, 1)
	go func() {
		second <- registry.RunInTx(ctx, func(ctx context.Context) error {
			err := registry.Carts().LockForUpdate(ctx, cart.ID)
			secondDone.Store(true)
			return err
		})
	}()

	time.Sleep(200 * time.Millisecond)
	if secondDone.Load() {
		t.Fatalf("expected second lock to wait for the first transaction")
	}
	close(release)
	if err := <-first; err != nil {
		t.Fatalf("first tx: %v", err)
	}
	if err := <-second; err != nil {
		t.Fatalf("second tx: %v", err)
	}

	err = registry.RunInTx(ctx, func(ctx context.Context) error {
		return registry.Carts().LockForUpdate(ctx, "missing-cart")
	})
	var repoErr repositories.RepositoryError
	if !errors.As(err, &repoErr) || !repoErr.IsNotFound() {
		t.Fatalf("expected not found for unknown cart, got %v", err)
	}
}
