package repositories

import (
	"context"
	"time"

	domain "github.com/op17/storefront-api/internal/domain"
)

// Registry exposes typed repository accessors and lifecycle hooks for dependency injection.
type Registry interface {
	Close(ctx context.Context) error

	Carts() CartRepository
	Catalog() CatalogRepository
	Inventory() InventoryRepository
	Addresses() AddressRepository
	Orders() OrderRepository
	OrderEvents() OrderEventRepository
	OrderShipments() OrderShipmentRepository
	Payments() PaymentRepository
	Refunds() RefundRepository
	FxRates() FxRateRepository
	Health() HealthRepository
	UnitOfWork
}

// RepositoryError wraps low-level persistence failures with categorisation used by services.
type RepositoryError interface {
	error
	IsNotFound() bool
	IsConflict() bool
	IsUnavailable() bool
}

// UnitOfWork groups repository operations in one transaction. Repository calls made with the
// context passed to fn join that transaction; returning an error rolls everything back.
type UnitOfWork interface {
	RunInTx(ctx context.Context, fn func(ctx context.Context) error) error
}

// CartOwner identifies a cart by actor or anonymous session token. Exactly one field is set.
type CartOwner struct {
	UserID       string
	SessionToken string
}

// CartRepository persists carts and their items.
type CartRepository interface {
	// FindByOwner returns a RepositoryError with IsNotFound when no cart exists for the owner.
	FindByOwner(ctx context.Context, owner CartOwner) (domain.Cart, error)
	// CreateIfAbsent inserts the cart unless one already exists for the owner and returns the stored cart.
	CreateIfAbsent(ctx context.Context, cart domain.Cart) (domain.Cart, error)
	// ListItems returns items with their catalog line hydrated.
	ListItems(ctx context.Context, cartID string) ([]domain.CartItem, error)
	FindItem(ctx context.Context, cartID, itemID string) (domain.CartItem, error)
	FindItemByVariant(ctx context.Context, cartID, variantID string) (domain.CartItem, error)
	// AddItem inserts the item or adds its quantity to the existing (cart, variant) row and restamps the price.
	AddItem(ctx context.Context, item domain.CartItem) (domain.CartItem, error)
	SetItemQuantity(ctx context.Context, cartID, itemID string, quantity, unitPriceEur int64, updatedAt time.Time) (domain.CartItem, error)
	DeleteItem(ctx context.Context, cartID, itemID string) error
	ClearItems(ctx context.Context, cartID string) error
	// LockForUpdate holds the cart row until the surrounding transaction ends.
	LockForUpdate(ctx context.Context, cartID string) error
}

// CatalogRepository provides read access to products, variants and collections.
type CatalogRepository interface {
	GetVariantLine(ctx context.Context, variantID string) (domain.CatalogLine, error)
	GetVariantLines(ctx context.Context, variantIDs []string) (map[string]domain.CatalogLine, error)
}

// InventoryRepository mutates variant stock.
type InventoryRepository interface {
	// DecrementStock subtracts quantity only when stock >= quantity, as a single statement.
	// Returns an *InventoryError with InventoryErrorInsufficientStock when no row qualifies.
	DecrementStock(ctx context.Context, variantID string, quantity int64) error
}

// AddressRepository persists order shipping addresses.
type AddressRepository interface {
	Insert(ctx context.Context, address domain.Address) error
	FindByID(ctx context.Context, addressID string) (domain.Address, error)
}

// OrderRepository persists orders and their item snapshots.
type OrderRepository interface {
	Insert(ctx context.Context, order domain.Order) error
	InsertItems(ctx context.Context, items []domain.OrderItem) error
	FindByID(ctx context.Context, orderID string) (domain.Order, error)
	// FindByIDForUpdate locks the order row for the rest of the transaction.
	FindByIDForUpdate(ctx context.Context, orderID string) (domain.Order, error)
	FindByNumber(ctx context.Context, orderNumber string) (domain.Order, error)
	List(ctx context.Context, filter OrderListFilter) ([]domain.Order, error)
	ListItems(ctx context.Context, orderID string) ([]domain.OrderItem, error)
	UpdateStatus(ctx context.Context, orderID string, status domain.OrderStatus, updatedAt time.Time) error
	// CompareAndSetStatus moves the order to next only when its status is currently expected.
	CompareAndSetStatus(ctx context.Context, orderID string, expected, next domain.OrderStatus, updatedAt time.Time) (bool, error)
}

// OrderEventRepository appends to the order audit log.
type OrderEventRepository interface {
	Append(ctx context.Context, events ...domain.OrderEvent) error
	// List returns events newest first.
	List(ctx context.Context, orderID string) ([]domain.OrderEvent, error)
}

// OrderShipmentRepository persists shipments.
type OrderShipmentRepository interface {
	Insert(ctx context.Context, shipment domain.Shipment) error
	Update(ctx context.Context, shipment domain.Shipment) error
	List(ctx context.Context, orderID string) ([]domain.Shipment, error)
}

// PaymentRepository persists provider payments.
type PaymentRepository interface {
	// FindOrCreate returns the payment for (order, provider), inserting the given one when absent.
	FindOrCreate(ctx context.Context, payment domain.Payment) (domain.Payment, error)
	FindByID(ctx context.Context, paymentID string) (domain.Payment, error)
	FindByIDForUpdate(ctx context.Context, paymentID string) (domain.Payment, error)
	FindByOrderAndProvider(ctx context.Context, orderID string, provider domain.PaymentProvider) (domain.Payment, error)
	// FindByProviderReference matches either the provider payment id or the provider invoice id.
	FindByProviderReference(ctx context.Context, provider domain.PaymentProvider, reference string) (domain.Payment, error)
	// ListByOrder returns payments oldest first with refunds hydrated.
	ListByOrder(ctx context.Context, orderID string) ([]domain.Payment, error)
	// Update overwrites status, provider identifiers and raw payload.
	Update(ctx context.Context, payment domain.Payment) error
}

// RefundRepository persists refunds.
type RefundRepository interface {
	Insert(ctx context.Context, refund domain.Refund) error
	FindByID(ctx context.Context, refundID string) (domain.Refund, error)
	FindByIDForUpdate(ctx context.Context, refundID string) (domain.Refund, error)
	UpdateStatus(ctx context.Context, refundID string, status domain.RefundStatus, updatedAt time.Time) error
	SumByPayment(ctx context.Context, paymentID string, statuses ...domain.RefundStatus) (int64, error)
	SumByOrder(ctx context.Context, orderID string, statuses ...domain.RefundStatus) (int64, error)
}

// FxRateRepository stores EUR based reference rates.
type FxRateRepository interface {
	Get(ctx context.Context, base, quote domain.Currency) (domain.FxRate, error)
	Upsert(ctx context.Context, rate domain.FxRate) error
	List(ctx context.Context) ([]domain.FxRate, error)
}

// HealthRepository exposes status of downstream dependencies for health checks.
type HealthRepository interface {
	Collect(ctx context.Context) (domain.SystemHealthReport, error)
}

// OrderListFilter narrows admin order listings.
type OrderListFilter struct {
	Status *domain.OrderStatus
	Limit  int
	// After resumes a newest-first listing strictly after this position.
	After *OrderCursor
}

// OrderCursor is a keyset position in the newest-first order listing.
type OrderCursor struct {
	CreatedAt time.Time
	ID        string
}
