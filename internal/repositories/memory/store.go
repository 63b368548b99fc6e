// Package memory provides an in-process repository registry for local runs and tests.
// Transactions are serialised on one mutex and rolled back by restoring a snapshot.
package memory

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	domain "github.com/op17/storefront-api/internal/domain"
	"github.com/op17/storefront-api/internal/repositories"
)

// Error implements repositories.RepositoryError.
type Error struct {
	op       string
	notFound bool
	conflict bool
}

func (e *Error) Error() string {
	switch {
	case e.notFound:
		return fmt.Sprintf("%s: not found", e.op)
	case e.conflict:
		return fmt.Sprintf("%s: conflict", e.op)
	}
	return e.op
}

func (e *Error) IsNotFound() bool { return e != nil && e.notFound }
func (e *Error) IsConflict() bool { return e != nil && e.conflict }
func (e *Error) IsUnavailable() bool { return false }

func notFound(op string) error { return &Error{op: op, notFound: true} }
func conflict(op string) error { return &Error{op: op, conflict: true} }

type txKey struct{}

type state struct {
	collections map[string]domain.Collection
	products    map[string]domain.Product
	variants    map[string]domain.Variant
	carts       map[string]domain.Cart
	cartItems   map[string]domain.CartItem
	addresses   map[string]domain.Address
	orders      map[string]domain.Order
	orderItems  map[string][]domain.OrderItem
	payments    map[string]domain.Payment
	refunds     map[string]domain.Refund
	shipments   map[string]domain.Shipment
	events      []domain.OrderEvent
	fxRates     map[string]domain.FxRate
}

func newState() state {
	return state{
		collections: map[string]domain.Collection{},
		products:    map[string]domain.Product{},
		variants:    map[string]domain.Variant{},
		carts:       map[string]domain.Cart{},
		cartItems:   map[string]domain.CartItem{},
		addresses:   map[string]domain.Address{},
		orders:      map[string]domain.Order{},
		orderItems:  map[string][]domain.OrderItem{},
		payments:    map[string]domain.Payment{},
		refunds:     map[string]domain.Refund{},
		shipments:   map[string]domain.Shipment{},
		fxRates:     map[string]domain.FxRate{},
	}
}

func cloneMap[T any](in map[string]T) map[string]T {
	out := make(map[string]T, len(in))
	for k, v := range in {
		out[k] = v
	}
	return out
}

func (s state) clone() state {
	items := make(map[string][]domain.OrderItem, len(s.orderItems))
	for k, v := range s.orderItems {
		items[k] = append([]domain.OrderItem(nil), v...)
	}
	return state{
		collections: cloneMap(s.collections),
		products:    cloneMap(s.products),
		variants:    cloneMap(s.variants),
		carts:       cloneMap(s.carts),
		cartItems:   cloneMap(s.cartItems),
		addresses:   cloneMap(s.addresses),
		orders:      cloneMap(s.orders),
		orderItems:  items,
		payments:    cloneMap(s.payments),
		refunds:     cloneMap(s.refunds),
		shipments:   cloneMap(s.shipments),
		events:      append([]domain.OrderEvent(nil), s.events...),
		fxRates:     cloneMap(s.fxRates),
	}
}

// Store is the in-memory registry.
type Store struct {
	mu     sync.Mutex
	state  state
	health repositories.HealthRepository
}

var _ repositories.Registry = (*Store)(nil)

// NewStore returns an empty store.
func NewStore() *Store {
	store := &Store{state: newState()}
	health, err := repositories.NewDependencyHealthRepository([]repositories.DependencyCheck{
		{Name: "memory", Check: func(context.Context) error { return nil }},
	})
	if err == nil {
		store.health = health
	}
	return store
}

func (s *Store) lock(ctx context.Context) func() {
	if owner, ok := ctx.Value(txKey{}).(*Store); ok && owner == s {
		return func() {}
	}
	s.mu.Lock()
	return s.mu.Unlock
}

// RunInTx runs fn while holding the store lock and restores the previous state when fn fails.
func (s *Store) RunInTx(ctx context.Context, fn func(ctx context.Context) error) error {
	if fn == nil {
		return errors.New("memory: transaction function is nil")
	}
	if owner, ok := ctx.Value(txKey{}).(*Store); ok && owner == s {
		return fn(ctx)
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	snapshot := s.state.clone()
	if err := fn(context.WithValue(ctx, txKey{}, s)); err != nil {
		s.state = snapshot
		return err
	}
	return nil
}

func (s *Store) Close(context.Context) error { return nil }

func (s *Store) Carts() repositories.CartRepository { return cartRepository{s} }
func (s *Store) Catalog() repositories.CatalogRepository { return catalogRepository{s} }
func (s *Store) Inventory() repositories.InventoryRepository { return inventoryRepository{s} }
func (s *Store) Addresses() repositories.AddressRepository { return addressRepository{s} }
func (s *Store) Orders() repositories.OrderRepository { return orderRepository{s} }
func (s *Store) OrderEvents() repositories.OrderEventRepository { return eventRepository{s} }
func (s *Store) OrderShipments() repositories.OrderShipmentRepository { return shipmentRepository{s} }
func (s *Store) Payments() repositories.PaymentRepository { return paymentRepository{s} }
func (s *Store) Refunds() repositories.RefundRepository { return refundRepository{s} }
func (s *Store) FxRates() repositories.FxRateRepository { return fxRateRepository{s} }
func (s *Store) Health() repositories.HealthRepository { return s.health }

// PutCollection seeds a collection.
func (s *Store) PutCollection(c domain.Collection) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.state.collections[c.ID] = c
}

// PutProduct seeds a product.
func (s *Store) PutProduct(p domain.Product) {
	s.mu.Lock()
	defer s.mu.Unlock()
	p.Collection = nil
	s.state.products[p.ID] = p
}

// PutVariant seeds or replaces a variant.
func (s *Store) PutVariant(v domain.Variant) {
	s.mu.Lock()
	defer s.mu.Unlock()
	v.Product = nil
	s.state.variants[v.ID] = v
}

// PutFxRate seeds a rate.
func (s *Store) PutFxRate(rate domain.FxRate) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.state.fxRates[fxKey(rate.Base, rate.Quote)] = rate
}

func fxKey(base, quote domain.Currency) string { return string(base) + "/" + string(quote) }

func (s *Store) catalogLine(variantID string) (domain.CatalogLine, bool) {
	variant, ok := s.state.variants[variantID]
	if !ok {
		return domain.CatalogLine{}, false
	}
	product := s.state.products[variant.ProductID]
	line := domain.CatalogLine{Variant: variant, Product: product}
	if product.CollectionID != nil {
		if collection, ok := s.state.collections[*product.CollectionID]; ok {
			collection := collection
			line.Collection = &collection
			line.Product.Collection = &collection
		}
	}
	return line, true
}

func nowIfZero(t time.Time) time.Time {
	if t.IsZero() {
		return time.Now().UTC()
	}
	return t
}
