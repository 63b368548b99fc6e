package services

import (
	"context"
	"net/http"
	"time"

	domain "github.com/op17/storefront-api/internal/domain"
	"github.com/op17/storefront-api/internal/repositories"
)

// Type aliases expose domain models to the services package without reversing dependency direction.
type (
	Cart               = domain.Cart
	CartItem           = domain.CartItem
	Order              = domain.Order
	OrderDetail        = domain.OrderDetail
	OrderEvent         = domain.OrderEvent
	Payment            = domain.Payment
	Refund             = domain.Refund
	FxRate             = domain.FxRate
	SystemHealthReport = domain.SystemHealthReport
	OrderListFilter    = repositories.OrderListFilter
)

// CartService manages anonymous and actor carts while enforcing backorder rules.
type CartService interface {
	Resolve(ctx context.Context, owner CartOwner) (Cart, error)
	Get(ctx context.Context, owner CartOwner) (Cart, error)
	AddItem(ctx context.Context, cmd AddCartItemCommand) (CartItem, error)
	UpdateItem(ctx context.Context, cmd UpdateCartItemCommand) (*CartItem, error)
	RemoveItem(ctx context.Context, cartID, itemID string) error
}

// CheckoutService turns a cart into a pending order.
type CheckoutService interface {
	CreateOrder(ctx context.Context, cmd CreateOrderCommand) (Order, error)
}

// OrderService covers admin order edits and read models.
type OrderService interface {
	ApplyAdminUpdate(ctx context.Context, cmd AdminUpdateCommand) (Order, error)
	AddNote(ctx context.Context, cmd AddOrderNoteCommand) (OrderEvent, error)
	Get(ctx context.Context, orderID string) (OrderDetail, error)
	List(ctx context.Context, filter OrderListFilter) ([]Order, error)
	Lookup(ctx context.Context, orderNumber, email string) (OrderSummary, error)
}

// PaymentService launches provider payments and reconciles provider webhooks.
type PaymentService interface {
	Initiate(ctx context.Context, cmd InitiatePaymentCommand) (PaymentLaunch, error)
	HandleWebhook(ctx context.Context, provider domain.PaymentProvider, rawBody []byte, headers http.Header) (WebhookResult, error)
}

// RefundService records refunds and closes fully refunded orders.
type RefundService interface {
	Create(ctx context.Context, cmd CreateRefundCommand) (Refund, error)
	UpdateStatus(ctx context.Context, cmd UpdateRefundStatusCommand) (Refund, error)
}

// FxService refreshes and reads EUR reference rates.
type FxService interface {
	Refresh(ctx context.Context) ([]FxRate, error)
	Rate(ctx context.Context, quote domain.Currency) (FxRate, error)
}

// SystemService exposes dependency health.
type SystemService interface {
	HealthReport(ctx context.Context) (SystemHealthReport, error)
}

// Command and DTO definitions ------------------------------------------------

// CartOwner identifies the caller. ActorID wins when both are set.
type CartOwner struct {
	ActorID      string
	SessionToken string
}

type AddCartItemCommand struct {
	CartID    string
	VariantID string
	Quantity  int64
}

type UpdateCartItemCommand struct {
	CartID   string
	ItemID   string
	Quantity int64
}

type AddressInput struct {
	Name               string
	Phone              string
	Country            string
	Region             string
	City               string
	PostalCode         string
	Street1            string
	Street2            string
	NovaPostOfficeID   string
	NovaPostOfficeName string
}

type CreateOrderCommand struct {
	CartID          string
	ActorID         string
	Email           string
	Phone           string
	Currency        string
	ShippingMethod  string
	ShippingAddress AddressInput
	Provider        string
}

type AdminUpdateCommand struct {
	OrderID        string
	ActorID        string
	Status         *string
	TrackingNumber *string
	ShipmentStatus *string
}

type AddOrderNoteCommand struct {
	OrderID string
	ActorID string
	Note    string
}

// OrderSummary is the customer-facing view returned by order lookup.
type OrderSummary struct {
	OrderNumber string
	Status      domain.OrderStatus
	Currency    domain.Currency
	TotalMinor  int64
	CreatedAt   time.Time
	Items       []domain.OrderItem
	Payments    []domain.Payment
	Shipments   []domain.Shipment
}

type InitiatePaymentCommand struct {
	OrderID  string
	Provider string
}

// PaymentLaunch is returned to the client to continue with the provider.
type PaymentLaunch struct {
	PaymentID string
	Provider  domain.PaymentProvider
	URL       string
	Data      string
	Signature string
	InvoiceID string
}

// WebhookResult describes the reconciliation outcome.
type WebhookResult struct {
	OrderID       string
	PaymentID     string
	PaymentStatus domain.PaymentStatus
	OrderPaid     bool
}

type CreateRefundCommand struct {
	OrderID     string
	AmountMinor *int64
	Amount      *float64
	PaymentID   string
	Reason      string
	ActorID     string
}

type UpdateRefundStatusCommand struct {
	RefundID string
	Status   string
	ActorID  string
}
