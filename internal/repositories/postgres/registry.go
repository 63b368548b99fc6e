package postgres

import (
	"context"
	"fmt"

	ppostgres "github.com/op17/storefront-api/internal/platform/postgres"
	"github.com/op17/storefront-api/internal/repositories"
)

// Registry wires every Postgres repository around one DB handle.
type Registry struct {
	db        *ppostgres.DB
	carts     *CartRepository
	catalog   *CatalogRepository
	inventory *InventoryRepository
	addresses *AddressRepository
	orders    *OrderRepository
	events    *OrderEventRepository
	shipments *OrderShipmentRepository
	payments  *PaymentRepository
	refunds   *RefundRepository
	fxRates   *FxRateRepository
	health    repositories.HealthRepository
}

var _ repositories.Registry = (*Registry)(nil)

// NewRegistry builds the repositories. health may be nil when readiness probes are not needed.
func NewRegistry(db *ppostgres.DB, health repositories.HealthRepository) (*Registry, error) {
	catalog, err := NewCatalogRepository(db)
	if err != nil {
		return nil, err
	}
	carts, err := NewCartRepository(db, catalog)
	if err != nil {
		return nil, err
	}
	inventory, err := NewInventoryRepository(db)
	if err != nil {
		return nil, err
	}
	addresses, err := NewAddressRepository(db)
	if err != nil {
		return nil, err
	}
	orders, err := NewOrderRepository(db)
	if err != nil {
		return nil, err
	}
	events, err := NewOrderEventRepository(db)
	if err != nil {
		return nil, err
	}
	shipments, err := NewOrderShipmentRepository(db)
	if err != nil {
		return nil, err
	}
	refunds, err := NewRefundRepository(db)
	if err != nil {
		return nil, err
	}
	payments, err := NewPaymentRepository(db, refunds)
	if err != nil {
		return nil, err
	}
	fxRates, err := NewFxRateRepository(db)
	if err != nil {
		return nil, err
	}
	if health == nil {
		health, err = repositories.NewDependencyHealthRepository([]repositories.DependencyCheck{
			{Name: "postgres", Check: func(ctx context.Context) error { return db.Pool().Ping(ctx) }},
		})
		if err != nil {
			return nil, fmt.Errorf("postgres registry: %w", err)
		}
	}

	return &Registry{
		db:        db,
		carts:     carts,
		catalog:   catalog,
		inventory: inventory,
		addresses: addresses,
		orders:    orders,
		events:    events,
		shipments: shipments,
		payments:  payments,
		refunds:   refunds,
		fxRates:   fxRates,
		health:    health,
	}, nil
}

func (r *Registry) Close(context.Context) error {
	r.db.Pool().Close()
	return nil
}

func (r *Registry) RunInTx(ctx context.Context, fn func(ctx context.Context) error) error {
	return r.db.RunInTx(ctx, fn)
}

func (r *Registry) Carts() repositories.CartRepository { return r.carts }
func (r *Registry) Catalog() repositories.CatalogRepository { return r.catalog }
func (r *Registry) Inventory() repositories.InventoryRepository { return r.inventory }
func (r *Registry) Addresses() repositories.AddressRepository { return r.addresses }
func (r *Registry) Orders() repositories.OrderRepository { return r.orders }
func (r *Registry) OrderEvents() repositories.OrderEventRepository { return r.events }
func (r *Registry) OrderShipments() repositories.OrderShipmentRepository { return r.shipments }
func (r *Registry) Payments() repositories.PaymentRepository { return r.payments }
func (r *Registry) Refunds() repositories.RefundRepository { return r.refunds }
func (r *Registry) FxRates() repositories.FxRateRepository { return r.fxRates }
func (r *Registry) Health() repositories.HealthRepository { return r.health }
