package handlers

import (
	"context"
	"errors"
	"net/http"

	domain "github.com/op17/storefront-api/internal/domain"
	"github.com/op17/storefront-api/internal/services"
)

var errNotStubbed = errors.New("not stubbed")

type stubCartService struct {
	resolveFunc func(ctx context.Context, owner services.CartOwner) (services.Cart, error)
	getFunc     func(ctx context.Context, owner services.CartOwner) (services.Cart, error)
	addFunc     func(ctx context.Context, cmd services.AddCartItemCommand) (services.CartItem, error)
	updateFunc  func(ctx context.Context, cmd services.UpdateCartItemCommand) (*services.CartItem, error)
	removeFunc  func(ctx context.Context, cartID, itemID string) error
}

func (s *stubCartService) Resolve(ctx context.Context, owner services.CartOwner) (services.Cart, error) {
	if s.resolveFunc != nil {
		return s.resolveFunc(ctx, owner)
	}
	return services.Cart{}, services.ErrCartUnavailable
}

func (s *stubCartService) Get(ctx context.Context, owner services.CartOwner) (services.Cart, error) {
	if s.getFunc != nil {
		return s.getFunc(ctx, owner)
	}
	return services.Cart{}, services.ErrCartNotFound
}

func (s *stubCartService) AddItem(ctx context.Context, cmd services.AddCartItemCommand) (services.CartItem, error) {
	if s.addFunc != nil {
		return s.addFunc(ctx, cmd)
	}
	return services.CartItem{}, errNotStubbed
}

func (s *stubCartService) UpdateItem(ctx context.Context, cmd services.UpdateCartItemCommand) (*services.CartItem, error) {
	if s.updateFunc != nil {
		return s.updateFunc(ctx, cmd)
	}
	return nil, errNotStubbed
}

func (s *stubCartService) RemoveItem(ctx context.Context, cartID, itemID string) error {
	if s.removeFunc != nil {
		return s.removeFunc(ctx, cartID, itemID)
	}
	return errNotStubbed
}

type stubCheckoutService struct {
	createFunc func(ctx context.Context, cmd services.CreateOrderCommand) (services.Order, error)
}

func (s *stubCheckoutService) CreateOrder(ctx context.Context, cmd services.CreateOrderCommand) (services.Order, error) {
	if s.createFunc != nil {
		return s.createFunc(ctx, cmd)
	}
	return services.Order{}, errNotStubbed
}

type stubOrderService struct {
	updateFunc func(ctx context.Context, cmd services.AdminUpdateCommand) (services.Order, error)
	noteFunc   func(ctx context.Context, cmd services.AddOrderNoteCommand) (services.OrderEvent, error)
	getFunc    func(ctx context.Context, orderID string) (services.OrderDetail, error)
	listFunc   func(ctx context.Context, filter services.OrderListFilter) ([]services.Order, error)
	lookupFunc func(ctx context.Context, orderNumber, email string) (services.OrderSummary, error)
}

func (s *stubOrderService) ApplyAdminUpdate(ctx context.Context, cmd services.AdminUpdateCommand) (services.Order, error) {
	if s.updateFunc != nil {
		return s.updateFunc(ctx, cmd)
	}
	return services.Order{}, errNotStubbed
}

func (s *stubOrderService) AddNote(ctx context.Context, cmd services.AddOrderNoteCommand) (services.OrderEvent, error) {
	if s.noteFunc != nil {
		return s.noteFunc(ctx, cmd)
	}
	return services.OrderEvent{}, errNotStubbed
}

func (s *stubOrderService) Get(ctx context.Context, orderID string) (services.OrderDetail, error) {
	if s.getFunc != nil {
		return s.getFunc(ctx, orderID)
	}
	return services.OrderDetail{}, services.ErrOrderNotFound
}

func (s *stubOrderService) List(ctx context.Context, filter services.OrderListFilter) ([]services.Order, error) {
	if s.listFunc != nil {
		return s.listFunc(ctx, filter)
	}
	return nil, nil
}

func (s *stubOrderService) Lookup(ctx context.Context, orderNumber, email string) (services.OrderSummary, error) {
	if s.lookupFunc != nil {
		return s.lookupFunc(ctx, orderNumber, email)
	}
	return services.OrderSummary{}, services.ErrOrderNotFound
}

type stubRefundService struct {
	createFunc func(ctx context.Context, cmd services.CreateRefundCommand) (services.Refund, error)
	updateFunc func(ctx context.Context, cmd services.UpdateRefundStatusCommand) (services.Refund, error)
}

func (s *stubRefundService) Create(ctx context.Context, cmd services.CreateRefundCommand) (services.Refund, error) {
	if s.createFunc != nil {
		return s.createFunc(ctx, cmd)
	}
	return services.Refund{}, errNotStubbed
}

func (s *stubRefundService) UpdateStatus(ctx context.Context, cmd services.UpdateRefundStatusCommand) (services.Refund, error) {
	if s.updateFunc != nil {
		return s.updateFunc(ctx, cmd)
	}
	return services.Refund{}, errNotStubbed
}

type stubPaymentService struct {
	initiateFunc func(ctx context.Context, cmd services.InitiatePaymentCommand) (services.PaymentLaunch, error)
	webhookFunc  func(ctx context.Context, provider domain.PaymentProvider, body []byte, headers http.Header) (services.WebhookResult, error)
}

func (s *stubPaymentService) Initiate(ctx context.Context, cmd services.InitiatePaymentCommand) (services.PaymentLaunch, error) {
	if s.initiateFunc != nil {
		return s.initiateFunc(ctx, cmd)
	}
	return services.PaymentLaunch{}, errNotStubbed
}

func (s *stubPaymentService) HandleWebhook(ctx context.Context, provider domain.PaymentProvider, body []byte, headers http.Header) (services.WebhookResult, error) {
	if s.webhookFunc != nil {
		return s.webhookFunc(ctx, provider, body, headers)
	}
	return services.WebhookResult{}, errNotStubbed
}

type stubFxService struct {
	refreshFunc func(ctx context.Context) ([]services.FxRate, error)
	rateFunc    func(ctx context.Context, quote domain.Currency) (services.FxRate, error)
}

func (s *stubFxService) Refresh(ctx context.Context) ([]services.FxRate, error) {
	if s.refreshFunc != nil {
		return s.refreshFunc(ctx)
	}
	return nil, errNotStubbed
}

func (s *stubFxService) Rate(ctx context.Context, quote domain.Currency) (services.FxRate, error) {
	if s.rateFunc != nil {
		return s.rateFunc(ctx, quote)
	}
	return services.FxRate{}, services.ErrFxRateNotFound
}

type stubSystemService struct {
	report services.SystemHealthReport
	err    error
}

func (s *stubSystemService) HealthReport(context.Context) (services.SystemHealthReport, error) {
	return s.report, s.err
}

var (
	_ services.CartService     = (*stubCartService)(nil)
	_ services.CheckoutService = (*stubCheckoutService)(nil)
	_ services.OrderService    = (*stubOrderService)(nil)
	_ services.RefundService   = (*stubRefundService)(nil)
	_ services.PaymentService  = (*stubPaymentService)(nil)
	_ services.FxService       = (*stubFxService)(nil)
	_ services.SystemService   = (*stubSystemService)(nil)
)
