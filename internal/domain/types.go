package domain

import (
	"math/big"
	"time"
)

// Currency enumerates settlement currencies accepted by the storefront.
type Currency string

const (
	// CurrencyEUR is the catalog reference currency.
	CurrencyEUR Currency = "EUR"
	// CurrencyUSD settles orders in US dollars.
	CurrencyUSD Currency = "USD"
	// CurrencyUAH settles orders in Ukrainian hryvnia.
	CurrencyUAH Currency = "UAH"
)

// SupportedCurrencies lists the currencies checkout accepts, EUR first.
var SupportedCurrencies = []Currency{CurrencyEUR, CurrencyUSD, CurrencyUAH}

// BackorderPolicy controls whether a variant can be sold beyond tracked stock.
type BackorderPolicy string

const (
	// BackorderDisallow blocks sales once stock reaches zero.
	BackorderDisallow BackorderPolicy = "DISALLOW"
	// BackorderAllow permits sales regardless of stock.
	BackorderAllow BackorderPolicy = "ALLOW"
)

// OrderStatus describes the lifecycle state of an order.
type OrderStatus string

const (
	// OrderStatusPending is the initial state after checkout.
	OrderStatusPending OrderStatus = "PENDING"
	// OrderStatusPaid indicates a provider captured the payment.
	OrderStatusPaid OrderStatus = "PAID"
	// OrderStatusFulfilled indicates the order was packed.
	OrderStatusFulfilled OrderStatus = "FULFILLED"
	// OrderStatusShipped indicates the order left the warehouse.
	OrderStatusShipped OrderStatus = "SHIPPED"
	// OrderStatusRefunded is terminal and set once refunds cover the order total.
	OrderStatusRefunded OrderStatus = "REFUNDED"
)

// PaymentStatus is the normalised provider payment state.
type PaymentStatus string

const (
	PaymentStatusPending  PaymentStatus = "PENDING"
	PaymentStatusCaptured PaymentStatus = "CAPTURED"
	PaymentStatusFailed   PaymentStatus = "FAILED"
)

// RefundStatus tracks refund progress.
type RefundStatus string

const (
	RefundStatusPending   RefundStatus = "PENDING"
	RefundStatusSucceeded RefundStatus = "SUCCEEDED"
	RefundStatusFailed    RefundStatus = "FAILED"
)

// PaymentProvider identifies an external payment service.
type PaymentProvider string

const (
	// ProviderLiqPay is the redirect-form provider.
	ProviderLiqPay PaymentProvider = "LIQPAY"
	// ProviderMonobank is the invoice-API provider.
	ProviderMonobank PaymentProvider = "MONOBANK"
)

// ShippingMethod lists the delivery options offered at checkout.
type ShippingMethod string

const (
	ShippingNovaPostBranch  ShippingMethod = "NOVA_POST_BRANCH"
	ShippingNovaPostCourier ShippingMethod = "NOVA_POST_COURIER"
)

// ShippingCarrier identifies the carrier handling a shipment.
type ShippingCarrier string

// CarrierNovaPost is the only carrier in use.
const CarrierNovaPost ShippingCarrier = "NOVA_POST"

// ShipmentStatus tracks parcel progress.
type ShipmentStatus string

const (
	ShipmentStatusPending   ShipmentStatus = "PENDING"
	ShipmentStatusPacked    ShipmentStatus = "PACKED"
	ShipmentStatusShipped   ShipmentStatus = "SHIPPED"
	ShipmentStatusDelivered ShipmentStatus = "DELIVERED"
	ShipmentStatusReturned  ShipmentStatus = "RETURNED"
)

// OrderEventType tags entries in the order audit log.
type OrderEventType string

const (
	OrderEventCreated        OrderEventType = "ORDER_CREATED"
	OrderEventStatusChange   OrderEventType = "STATUS_CHANGE"
	OrderEventShipmentUpdate OrderEventType = "SHIPMENT_UPDATE"
	OrderEventRefundCreated  OrderEventType = "REFUND_CREATED"
	OrderEventNote           OrderEventType = "NOTE"
)

// Collection groups products and provides the outermost backorder fallback.
type Collection struct {
	ID              string
	Name            string
	BackorderPolicy *BackorderPolicy
}

// Product is a catalog entry; prices are whole euros.
type Product struct {
	ID              string
	Name            string
	Slug            string
	BasePriceEur    int64
	BackorderPolicy *BackorderPolicy
	CollectionID    *string
	Collection      *Collection
}

// Variant is the sellable SKU.
type Variant struct {
	ID              string
	ProductID       string
	SKU             string
	Name            string
	Size            string
	Color           string
	Stock           int64
	PriceEur        *int64
	BackorderPolicy *BackorderPolicy
	Product         *Product
}

// CatalogLine bundles a variant with its product and collection for policy and price resolution.
type CatalogLine struct {
	Variant    Variant
	Product    Product
	Collection *Collection
}

// Cart holds pre-order line items for an actor or an anonymous session token.
type Cart struct {
	ID           string
	UserID       *string
	SessionToken *string
	Items        []CartItem
	CreatedAt    time.Time
	UpdatedAt    time.Time
}

// CartItem is a (cart, variant) pair with a captured unit price.
type CartItem struct {
	ID           string
	CartID       string
	VariantID    string
	Quantity     int64
	UnitPriceEur int64
	Line         *CatalogLine
	CreatedAt    time.Time
	UpdatedAt    time.Time
}

// Address is the shipping address owned by a single order.
type Address struct {
	ID                 string
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
	CreatedAt          time.Time
}

// Order is the durable aggregate produced at checkout.
type Order struct {
	ID                string
	OrderNumber       string
	UserID            *string
	Email             string
	Phone             string
	Status            OrderStatus
	Currency          Currency
	SubtotalEur       int64
	DiscountEur       int64
	ShippingEur       int64
	TotalEur          int64
	TotalMinor        int64
	FxRate            *big.Rat
	ShippingMethod    ShippingMethod
	ShippingAddressID string
	CreatedAt         time.Time
	UpdatedAt         time.Time
}

// OrderItemAttributes captures variant attributes copied onto an order line.
type OrderItemAttributes struct {
	Size  string `json:"size,omitempty"`
	Color string `json:"color,omitempty"`
}

// OrderItem is an immutable snapshot of a purchased line.
type OrderItem struct {
	ID           string
	OrderID      string
	ProductID    string
	VariantID    string
	ProductName  string
	VariantName  string
	SKU          string
	Quantity     int64
	UnitPriceEur int64
	TotalEur     int64
	Attributes   OrderItemAttributes
	CreatedAt    time.Time
}

// Payment records a provider payment for an order; one per (order, provider).
type Payment struct {
	ID                string
	OrderID           string
	Provider          PaymentProvider
	Status            PaymentStatus
	AmountMinor       int64
	Currency          Currency
	ProviderPaymentID *string
	ProviderInvoiceID *string
	Raw               map[string]any
	Refunds           []Refund
	CreatedAt         time.Time
	UpdatedAt         time.Time
}

// Refund is a partial or full return of a payment.
type Refund struct {
	ID          string
	PaymentID   string
	AmountMinor int64
	Status      RefundStatus
	Reason      string
	CreatedAt   time.Time
	UpdatedAt   time.Time
}

// Shipment tracks delivery of an order.
type Shipment struct {
	ID             string
	OrderID        string
	Carrier        ShippingCarrier
	Method         ShippingMethod
	Status         ShipmentStatus
	TrackingNumber string
	CreatedAt      time.Time
	UpdatedAt      time.Time
}

// OrderEvent is an append-only audit entry.
type OrderEvent struct {
	ID          string
	OrderID     string
	Type        OrderEventType
	Message     string
	Metadata    map[string]any
	CreatedByID *string
	CreatedAt   time.Time
}

// OrderDetail is the fully hydrated order used by admin views.
type OrderDetail struct {
	Order
	Items           []OrderItem
	ShippingAddress Address
	Payments        []Payment
	Shipments       []Shipment
	Events          []OrderEvent
}

// FxRate stores an EUR based reference rate.
type FxRate struct {
	Base   Currency
	Quote  Currency
	Rate   *big.Rat
	Source string
	AsOf   time.Time
}

const (
	// HealthStatusOK indicates all dependencies are healthy.
	HealthStatusOK = "ok"
	// HealthStatusDegraded indicates at least one dependency is degraded but service remains running.
	HealthStatusDegraded = "degraded"
	// HealthStatusError indicates the service or a critical dependency is unavailable.
	HealthStatusError = "error"
)

// SystemHealthCheck describes the outcome of an individual dependency probe.
type SystemHealthCheck struct {
	Status    string
	Detail    string
	Error     string
	Latency   time.Duration
	CheckedAt time.Time
}

// SystemHealthReport aggregates dependency status for health endpoints.
type SystemHealthReport struct {
	Status      string
	Checks      map[string]SystemHealthCheck
	Version     string
	CommitSHA   string
	Environment string
	Uptime      time.Duration
	GeneratedAt time.Time
}
