package services

import (
	"context"
	"errors"
	"fmt"
	"math/big"
	"net/mail"
	"strings"
	"time"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/metric"

	domain "github.com/op17/storefront-api/internal/domain"
	"github.com/op17/storefront-api/internal/payments"
	"github.com/op17/storefront-api/internal/repositories"
)

const (
	instrumentationName   = "github.com/op17/storefront-api/internal/services"
	defaultAddressCountry = "Ukraine"
	orderNumberAttempts   = 3
)

var errCheckoutRepositoriesRequired = errors.New("checkout service: repositories are required")

var (
	// ErrCheckoutInvalidInput indicates the checkout payload failed validation.
	ErrCheckoutInvalidInput = errors.New("checkout: invalid input")
	// ErrCheckoutCartEmpty indicates the cart has no items.
	ErrCheckoutCartEmpty = errors.New("checkout: cart is empty")
	// ErrCheckoutFxRateMissing indicates no EUR rate is stored for the requested currency.
	ErrCheckoutFxRateMissing = errors.New("checkout: fx rate missing")
	// ErrCheckoutUnsupportedProviderCurrency indicates the selected provider cannot settle the currency.
	ErrCheckoutUnsupportedProviderCurrency = errors.New("checkout: provider does not support currency")
	// ErrCheckoutInsufficientStock is wrapped in a *StockError naming the SKU that ran out.
	ErrCheckoutInsufficientStock = errors.New("checkout: insufficient stock")
	// ErrCheckoutConflict indicates a uniqueness conflict that survived retries.
	ErrCheckoutConflict = errors.New("checkout: conflict")
	// ErrCheckoutUnavailable indicates a backend failure.
	ErrCheckoutUnavailable = errors.New("checkout: unavailable")
)

// CheckoutServiceDeps wires the persistence layer used during checkout.
type CheckoutServiceDeps struct {
	Repositories         repositories.Registry
	Clock                func() time.Time
	Logger               func(context.Context, string, map[string]any)
	IDGenerator          func() string
	OrderNumberGenerator func(time.Time) (string, error)
	Meter                metric.Meter
}

type checkoutService struct {
	repos          repositories.Registry
	now            func() time.Time
	logger         func(context.Context, string, map[string]any)
	newID          func() string
	newOrderNumber func(time.Time) (string, error)
	orders         metric.Int64Counter
}

// NewCheckoutService constructs the checkout orchestrator.
func NewCheckoutService(deps CheckoutServiceDeps) (CheckoutService, error) {
	if deps.Repositories == nil {
		return nil, errCheckoutRepositoriesRequired
	}
	clock := deps.Clock
	if clock == nil {
		clock = time.Now
	}
	logger := deps.Logger
	if logger == nil {
		logger = noopLogger
	}
	idGen := deps.IDGenerator
	if idGen == nil {
		idGen = defaultIDGenerator
	}
	numberGen := deps.OrderNumberGenerator
	if numberGen == nil {
		numberGen = domain.NewOrderNumber
	}
	meter := deps.Meter
	if meter == nil {
		meter = otel.Meter(instrumentationName)
	}
	counter, err := meter.Int64Counter("checkout.orders.created",
		metric.WithDescription("Orders created at checkout"))
	if err != nil {
		return nil, fmt.Errorf("checkout service: create counter: %w", err)
	}
	return &checkoutService{
		repos:          deps.Repositories,
		now:            func() time.Time { return clock().UTC() },
		logger:         logger,
		newID:          idGen,
		newOrderNumber: numberGen,
		orders:         counter,
	}, nil
}

type checkoutInput struct {
	cartID   string
	actorID  string
	email    string
	phone    string
	currency domain.Currency
	method   domain.ShippingMethod
	provider domain.PaymentProvider
	address  AddressInput
}

func (s *checkoutService) CreateOrder(ctx context.Context, cmd CreateOrderCommand) (Order, error) {
	ctx, span := otel.Tracer(instrumentationName).Start(ctx, "checkout.CreateOrder")
	defer span.End()

	order, err := s.createOrder(ctx, cmd)
	if err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, err.Error())
		return Order{}, err
	}
	span.SetAttributes(
		attribute.String("order.id", order.ID),
		attribute.String("order.currency", string(order.Currency)),
	)
	s.orders.Add(ctx, 1, metric.WithAttributes(attribute.String("currency", string(order.Currency))))
	return order, nil
}

func (s *checkoutService) createOrder(ctx context.Context, cmd CreateOrderCommand) (Order, error) {
	input, err := normalizeCheckoutInput(cmd)
	if err != nil {
		return Order{}, err
	}

	for attempt := 1; ; attempt++ {
		order, itemCount, err := s.persist(ctx, input)
		if err == nil {
			s.logger(ctx, "checkout.order.created", map[string]any{
				"orderId":     order.ID,
				"orderNumber": order.OrderNumber,
				"currency":    order.Currency,
				"totalMinor":  order.TotalMinor,
				"items":       itemCount,
			})
			return order, nil
		}
		if errors.Is(err, ErrCheckoutConflict) && attempt < orderNumberAttempts {
			continue
		}
		return Order{}, err
	}
}

type orderTotals struct {
	subtotal   int64
	discount   int64
	shipping   int64
	total      int64
	totalMinor int64
	rate       *big.Rat
}

// priceCart totals items in EUR and converts to the order currency using the stored rate.
func (s *checkoutService) priceCart(ctx context.Context, input checkoutInput, items []domain.CartItem) (orderTotals, error) {
	var totals orderTotals
	for _, item := range items {
		totals.subtotal += item.UnitPriceEur * item.Quantity
	}
	totals.total = totals.subtotal - totals.discount + totals.shipping

	var err error
	if input.currency == domain.CurrencyEUR {
		totals.totalMinor, err = domain.ToMinorUnits(totals.total, input.currency)
	} else {
		fx, fxErr := s.repos.FxRates().Get(ctx, domain.CurrencyEUR, input.currency)
		if fxErr != nil {
			if isRepoNotFound(fxErr) {
				return orderTotals{}, fmt.Errorf("%w: EUR/%s", ErrCheckoutFxRateMissing, input.currency)
			}
			return orderTotals{}, s.translateRepoError(fxErr)
		}
		totals.rate = fx.Rate
		totals.totalMinor, err = domain.ConvertFromEur(totals.total, totals.rate, input.currency)
	}
	if err != nil {
		if errors.Is(err, domain.ErrInvalidRate) {
			return orderTotals{}, fmt.Errorf("%w: EUR/%s", ErrCheckoutFxRateMissing, input.currency)
		}
		return orderTotals{}, fmt.Errorf("%w: %v", ErrCheckoutInvalidInput, err)
	}
	return totals, nil
}

// persist locks the cart, prices what it holds at that moment and writes the order in one transaction.
// A second submit of the same cart waits on the lock and then finds it empty.
func (s *checkoutService) persist(ctx context.Context, input checkoutInput) (Order, int, error) {
	now := s.now()
	number, err := s.newOrderNumber(now)
	if err != nil {
		return Order{}, 0, fmt.Errorf("%w: %v", ErrCheckoutUnavailable, err)
	}

	var (
		order     domain.Order
		itemCount int
	)
	err = s.repos.RunInTx(ctx, func(txCtx context.Context) error {
		if err := s.repos.Carts().LockForUpdate(txCtx, input.cartID); err != nil {
			if isRepoNotFound(err) {
				return ErrCheckoutCartEmpty
			}
			return s.translateRepoError(err)
		}
		items, err := s.repos.Carts().ListItems(txCtx, input.cartID)
		if err != nil {
			return s.translateRepoError(err)
		}
		if len(items) == 0 {
			return ErrCheckoutCartEmpty
		}
		itemCount = len(items)

		totals, err := s.priceCart(txCtx, input, items)
		if err != nil {
			return err
		}
		if input.provider != "" && !payments.SupportsCurrency(input.provider, input.currency) {
			return fmt.Errorf("%w: %s cannot settle %s", ErrCheckoutUnsupportedProviderCurrency, input.provider, input.currency)
		}

		address := domain.Address{
			ID:                 s.newID(),
			Name:               input.address.Name,
			Phone:              input.address.Phone,
			Country:            input.address.Country,
			Region:             input.address.Region,
			City:               input.address.City,
			PostalCode:         input.address.PostalCode,
			Street1:            input.address.Street1,
			Street2:            input.address.Street2,
			NovaPostOfficeID:   input.address.NovaPostOfficeID,
			NovaPostOfficeName: input.address.NovaPostOfficeName,
			CreatedAt:          now,
		}
		order = domain.Order{
			ID:                s.newID(),
			OrderNumber:       number,
			UserID:            stringPtr(input.actorID),
			Email:             input.email,
			Phone:             input.phone,
			Status:            domain.OrderStatusPending,
			Currency:          input.currency,
			SubtotalEur:       totals.subtotal,
			DiscountEur:       totals.discount,
			ShippingEur:       totals.shipping,
			TotalEur:          totals.total,
			TotalMinor:        totals.totalMinor,
			FxRate:            totals.rate,
			ShippingMethod:    input.method,
			ShippingAddressID: address.ID,
			CreatedAt:         now,
			UpdatedAt:         now,
		}

		snapshots := make([]domain.OrderItem, 0, len(items))
		for _, item := range items {
			snapshots = append(snapshots, s.snapshot(order.ID, item, now))
		}

		if err := s.repos.Addresses().Insert(txCtx, address); err != nil {
			return s.translateRepoError(err)
		}
		if err := s.repos.Orders().Insert(txCtx, order); err != nil {
			return s.translateRepoError(err)
		}
		if err := s.repos.Orders().InsertItems(txCtx, snapshots); err != nil {
			return s.translateRepoError(err)
		}
		if input.provider != "" {
			if _, err := s.repos.Payments().FindOrCreate(txCtx, domain.Payment{
				ID:          s.newID(),
				OrderID:     order.ID,
				Provider:    input.provider,
				Status:      domain.PaymentStatusPending,
				AmountMinor: order.TotalMinor,
				Currency:    order.Currency,
				CreatedAt:   now,
				UpdatedAt:   now,
			}); err != nil {
				return s.translateRepoError(err)
			}
		}
		if err := s.repos.OrderEvents().Append(txCtx, domain.OrderEvent{
			ID:          s.newID(),
			OrderID:     order.ID,
			Type:        domain.OrderEventCreated,
			Message:     "Order created",
			CreatedByID: order.UserID,
			CreatedAt:   now,
		}); err != nil {
			return s.translateRepoError(err)
		}
		for _, item := range items {
			if item.Line == nil || item.Line.BackorderPolicy() != domain.BackorderDisallow {
				continue
			}
			if err := s.repos.Inventory().DecrementStock(txCtx, item.VariantID, item.Quantity); err != nil {
				var invErr *repositories.InventoryError
				if errors.As(err, &invErr) {
					return &StockError{SKU: item.Line.Variant.SKU, VariantID: item.VariantID, Err: ErrCheckoutInsufficientStock}
				}
				return s.translateRepoError(err)
			}
		}
		if err := s.repos.Carts().ClearItems(txCtx, input.cartID); err != nil {
			return s.translateRepoError(err)
		}
		return nil
	})
	if err != nil {
		return Order{}, 0, err
	}
	return order, itemCount, nil
}

func (s *checkoutService) snapshot(orderID string, item domain.CartItem, now time.Time) domain.OrderItem {
	out := domain.OrderItem{
		ID:           s.newID(),
		OrderID:      orderID,
		VariantID:    item.VariantID,
		Quantity:     item.Quantity,
		UnitPriceEur: item.UnitPriceEur,
		TotalEur:     item.UnitPriceEur * item.Quantity,
		CreatedAt:    now,
	}
	if item.Line != nil {
		out.ProductID = item.Line.Product.ID
		out.ProductName = item.Line.Product.Name
		out.VariantName = item.Line.Variant.Name
		out.SKU = item.Line.Variant.SKU
		out.Attributes = domain.OrderItemAttributes{
			Size:  item.Line.Variant.Size,
			Color: item.Line.Variant.Color,
		}
	}
	return out
}

func (s *checkoutService) translateRepoError(err error) error {
	switch {
	case err == nil:
		return nil
	case isRepoConflict(err):
		return fmt.Errorf("%w: %v", ErrCheckoutConflict, err)
	case isRepoNotFound(err):
		return fmt.Errorf("%w: %v", ErrCheckoutInvalidInput, err)
	case isRepoUnavailable(err):
		return fmt.Errorf("%w: %v", ErrCheckoutUnavailable, err)
	default:
		return fmt.Errorf("checkout: %w", err)
	}
}

func normalizeCheckoutInput(cmd CreateOrderCommand) (checkoutInput, error) {
	input := checkoutInput{
		cartID:  strings.TrimSpace(cmd.CartID),
		actorID: strings.TrimSpace(cmd.ActorID),
		email:   strings.ToLower(strings.TrimSpace(cmd.Email)),
		phone:   strings.TrimSpace(cmd.Phone),
		address: trimAddress(cmd.ShippingAddress),
	}
	if input.cartID == "" {
		return checkoutInput{}, fmt.Errorf("%w: cart is required", ErrCheckoutInvalidInput)
	}
	if input.email == "" {
		return checkoutInput{}, fmt.Errorf("%w: email is required", ErrCheckoutInvalidInput)
	}
	if _, err := mail.ParseAddress(input.email); err != nil {
		return checkoutInput{}, fmt.Errorf("%w: email is invalid", ErrCheckoutInvalidInput)
	}
	if input.address.Name == "" || input.address.City == "" {
		return checkoutInput{}, fmt.Errorf("%w: shipping address name and city are required", ErrCheckoutInvalidInput)
	}
	if input.address.Country == "" {
		input.address.Country = defaultAddressCountry
	}

	input.currency = domain.CurrencyEUR
	if code := strings.TrimSpace(cmd.Currency); code != "" {
		currency, err := domain.ParseCurrency(code)
		if err != nil {
			return checkoutInput{}, fmt.Errorf("%w: %v", ErrCheckoutInvalidInput, err)
		}
		input.currency = currency
	}

	input.method = domain.ShippingNovaPostBranch
	if value := strings.TrimSpace(cmd.ShippingMethod); value != "" {
		method, ok := domain.ParseShippingMethod(value)
		if !ok {
			return checkoutInput{}, fmt.Errorf("%w: unknown shipping method %q", ErrCheckoutInvalidInput, value)
		}
		input.method = method
	}

	if value := strings.TrimSpace(cmd.Provider); value != "" {
		provider, ok := domain.ParsePaymentProvider(value)
		if !ok {
			return checkoutInput{}, fmt.Errorf("%w: unknown payment provider %q", ErrCheckoutInvalidInput, value)
		}
		input.provider = provider
	}
	return input, nil
}

func trimAddress(in AddressInput) AddressInput {
	return AddressInput{
		Name:               strings.TrimSpace(in.Name),
		Phone:              strings.TrimSpace(in.Phone),
		Country:            strings.TrimSpace(in.Country),
		Region:             strings.TrimSpace(in.Region),
		City:               strings.TrimSpace(in.City),
		PostalCode:         strings.TrimSpace(in.PostalCode),
		Street1:            strings.TrimSpace(in.Street1),
		Street2:            strings.TrimSpace(in.Street2),
		NovaPostOfficeID:   strings.TrimSpace(in.NovaPostOfficeID),
		NovaPostOfficeName: strings.TrimSpace(in.NovaPostOfficeName),
	}
}
