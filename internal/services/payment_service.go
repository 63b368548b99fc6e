package services

import (
	"context"
	"errors"
	"fmt"
	"net/http"
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

var (
	errPaymentRepositoriesRequired = errors.New("payment service: repositories are required")
	errPaymentProvidersRequired    = errors.New("payment service: provider registry is required")
)

var (
	// ErrPaymentUnsupportedProvider indicates the provider name is unknown.
	ErrPaymentUnsupportedProvider = errors.New("payment: unsupported provider")
	// ErrPaymentProviderMisconfigured indicates the provider is known but lacks credentials.
	ErrPaymentProviderMisconfigured = errors.New("payment: provider misconfigured")
	// ErrPaymentOrderNotFound indicates no order matches the request or notification.
	ErrPaymentOrderNotFound = errors.New("payment: order not found")
	// ErrPaymentUnsupportedCurrency indicates the provider cannot settle the order currency.
	ErrPaymentUnsupportedCurrency = errors.New("payment: currency not supported by provider")
	// ErrPaymentProviderFailed wraps the adapter error, which carries the raw provider detail.
	ErrPaymentProviderFailed = errors.New("payment: provider request failed")
	// ErrPaymentUnauthorized indicates webhook signature verification failed.
	ErrPaymentUnauthorized = errors.New("payment: unauthorized webhook")
	// ErrPaymentInvalidPayload indicates the webhook body could not be decoded.
	ErrPaymentInvalidPayload = errors.New("payment: invalid webhook payload")
	// ErrPaymentUnavailable indicates a backend failure.
	ErrPaymentUnavailable = errors.New("payment: unavailable")
)

// PaymentServiceDeps wires providers and repositories for payment flows.
type PaymentServiceDeps struct {
	Repositories repositories.Registry
	Providers    *payments.Registry
	Clock        func() time.Time
	Logger       func(context.Context, string, map[string]any)
	IDGenerator  func() string
	Meter        metric.Meter
}

type paymentService struct {
	repos     repositories.Registry
	providers *payments.Registry
	now       func() time.Time
	logger    func(context.Context, string, map[string]any)
	newID     func() string
	webhooks  metric.Int64Counter
}

// NewPaymentService constructs a PaymentService.
func NewPaymentService(deps PaymentServiceDeps) (PaymentService, error) {
	if deps.Repositories == nil {
		return nil, errPaymentRepositoriesRequired
	}
	if deps.Providers == nil {
		return nil, errPaymentProvidersRequired
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
	meter := deps.Meter
	if meter == nil {
		meter = otel.Meter(instrumentationName)
	}
	counter, err := meter.Int64Counter("payments.webhook.processed",
		metric.WithDescription("Payment webhooks processed by provider and outcome"))
	if err != nil {
		return nil, fmt.Errorf("payment service: create counter: %w", err)
	}
	return &paymentService{
		repos:     deps.Repositories,
		providers: deps.Providers,
		now:       func() time.Time { return clock().UTC() },
		logger:    logger,
		newID:     idGen,
		webhooks:  counter,
	}, nil
}

// Initiate starts or restarts the provider payment for an order.
func (s *paymentService) Initiate(ctx context.Context, cmd InitiatePaymentCommand) (PaymentLaunch, error) {
	name, ok := domain.ParsePaymentProvider(cmd.Provider)
	if !ok {
		return PaymentLaunch{}, fmt.Errorf("%w: %q", ErrPaymentUnsupportedProvider, cmd.Provider)
	}
	provider, err := s.provider(name)
	if err != nil {
		return PaymentLaunch{}, err
	}
	orderID := strings.TrimSpace(cmd.OrderID)
	if orderID == "" {
		return PaymentLaunch{}, ErrPaymentOrderNotFound
	}
	order, err := s.repos.Orders().FindByID(ctx, orderID)
	if err != nil {
		if isRepoNotFound(err) {
			return PaymentLaunch{}, ErrPaymentOrderNotFound
		}
		return PaymentLaunch{}, s.translateRepoError(err)
	}
	if !provider.SupportsCurrency(order.Currency) {
		return PaymentLaunch{}, fmt.Errorf("%w: %s cannot settle %s", ErrPaymentUnsupportedCurrency, name, order.Currency)
	}

	now := s.now()
	payment, err := s.repos.Payments().FindOrCreate(ctx, domain.Payment{
		ID:          s.newID(),
		OrderID:     order.ID,
		Provider:    name,
		Status:      domain.PaymentStatusPending,
		AmountMinor: order.TotalMinor,
		Currency:    order.Currency,
		CreatedAt:   now,
		UpdatedAt:   now,
	})
	if err != nil {
		return PaymentLaunch{}, s.translateRepoError(err)
	}

	launch, err := provider.Initiate(ctx, order, payment)
	if err != nil {
		s.logger(ctx, "payment.initiate.failed", map[string]any{
			"orderId":  order.ID,
			"provider": name,
			"error":    err.Error(),
		})
		if errors.Is(err, payments.ErrUnsupportedCurrency) {
			return PaymentLaunch{}, ErrPaymentUnsupportedCurrency
		}
		return PaymentLaunch{}, fmt.Errorf("%w: %w", ErrPaymentProviderFailed, err)
	}

	if launch.InvoiceID != "" {
		payment.ProviderInvoiceID = &launch.InvoiceID
	}
	payment.Raw = launch.Raw
	payment.UpdatedAt = s.now()
	if err := s.repos.Payments().Update(ctx, payment); err != nil {
		return PaymentLaunch{}, s.translateRepoError(err)
	}

	s.logger(ctx, "payment.initiated", map[string]any{
		"orderId":   order.ID,
		"paymentId": payment.ID,
		"provider":  name,
		"invoiceId": launch.InvoiceID,
	})
	return PaymentLaunch{
		PaymentID: payment.ID,
		Provider:  name,
		URL:       launch.URL,
		Data:      launch.Data,
		Signature: launch.Signature,
		InvoiceID: launch.InvoiceID,
	}, nil
}

// HandleWebhook verifies a provider callback and applies it. Replays leave a single status change.
func (s *paymentService) HandleWebhook(ctx context.Context, name domain.PaymentProvider, rawBody []byte, headers http.Header) (WebhookResult, error) {
	ctx, span := otel.Tracer(instrumentationName).Start(ctx, "payments.HandleWebhook")
	defer span.End()
	span.SetAttributes(attribute.String("payment.provider", string(name)))

	result, err := s.handleWebhook(ctx, name, rawBody, headers)
	outcome := webhookOutcome(result, err)
	s.webhooks.Add(ctx, 1, metric.WithAttributes(
		attribute.String("provider", string(name)),
		attribute.String("outcome", outcome),
	))
	if err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, outcome)
		return WebhookResult{}, err
	}
	return result, nil
}

func (s *paymentService) handleWebhook(ctx context.Context, name domain.PaymentProvider, rawBody []byte, headers http.Header) (WebhookResult, error) {
	provider, err := s.provider(name)
	if err != nil {
		return WebhookResult{}, err
	}
	notification, err := provider.VerifyAndDecode(ctx, rawBody, headers)
	if err != nil {
		switch {
		case errors.Is(err, payments.ErrInvalidSignature):
			return WebhookResult{}, ErrPaymentUnauthorized
		case errors.Is(err, payments.ErrInvalidPayload):
			return WebhookResult{}, ErrPaymentInvalidPayload
		default:
			return WebhookResult{}, fmt.Errorf("%w: %v", ErrPaymentUnauthorized, err)
		}
	}
	status := provider.MapStatus(notification.Status)

	order, err := s.resolveOrder(ctx, name, notification)
	if err != nil {
		return WebhookResult{}, err
	}

	result := WebhookResult{OrderID: order.ID, PaymentStatus: status}
	err = s.repos.RunInTx(ctx, func(txCtx context.Context) error {
		now := s.now()
		payment, err := s.repos.Payments().FindOrCreate(txCtx, domain.Payment{
			ID:          s.newID(),
			OrderID:     order.ID,
			Provider:    name,
			Status:      domain.PaymentStatusPending,
			AmountMinor: order.TotalMinor,
			Currency:    order.Currency,
			CreatedAt:   now,
			UpdatedAt:   now,
		})
		if err != nil {
			return s.translateRepoError(err)
		}
		payment.Status = status
		if notification.PaymentID != "" {
			paymentID := notification.PaymentID
			payment.ProviderPaymentID = &paymentID
		}
		if notification.InvoiceID != "" {
			invoiceID := notification.InvoiceID
			payment.ProviderInvoiceID = &invoiceID
		}
		payment.Raw = notification.Raw
		payment.UpdatedAt = now
		if err := s.repos.Payments().Update(txCtx, payment); err != nil {
			return s.translateRepoError(err)
		}
		result.PaymentID = payment.ID

		if status != domain.PaymentStatusCaptured {
			return nil
		}
		swapped, err := s.repos.Orders().CompareAndSetStatus(txCtx, order.ID, domain.OrderStatusPending, domain.OrderStatusPaid, now)
		if err != nil {
			return s.translateRepoError(err)
		}
		if !swapped {
			return nil
		}
		result.OrderPaid = true
		if err := s.repos.OrderEvents().Append(txCtx, domain.OrderEvent{
			ID:        s.newID(),
			OrderID:   order.ID,
			Type:      domain.OrderEventStatusChange,
			Message:   fmt.Sprintf("Payment confirmed (%s)", providerDisplayName(name)),
			Metadata:  map[string]any{"status": notification.Status},
			CreatedAt: now,
		}); err != nil {
			return s.translateRepoError(err)
		}
		return nil
	})
	if err != nil {
		return WebhookResult{}, err
	}

	s.logger(ctx, "payment.webhook.applied", map[string]any{
		"orderId":       result.OrderID,
		"paymentId":     result.PaymentID,
		"provider":      name,
		"paymentStatus": status,
		"orderPaid":     result.OrderPaid,
	})
	return result, nil
}

func (s *paymentService) resolveOrder(ctx context.Context, name domain.PaymentProvider, n payments.Notification) (domain.Order, error) {
	for _, reference := range []string{n.PaymentID, n.InvoiceID} {
		if reference == "" {
			continue
		}
		payment, err := s.repos.Payments().FindByProviderReference(ctx, name, reference)
		if err == nil {
			return s.findOrder(ctx, payment.OrderID)
		}
		if !isRepoNotFound(err) {
			return domain.Order{}, s.translateRepoError(err)
		}
	}
	if n.OrderReference == "" {
		return domain.Order{}, ErrPaymentOrderNotFound
	}
	order, err := s.repos.Orders().FindByNumber(ctx, n.OrderReference)
	if err == nil {
		return order, nil
	}
	if !isRepoNotFound(err) {
		return domain.Order{}, s.translateRepoError(err)
	}
	return s.findOrder(ctx, n.OrderReference)
}

func (s *paymentService) findOrder(ctx context.Context, orderID string) (domain.Order, error) {
	order, err := s.repos.Orders().FindByID(ctx, orderID)
	if err != nil {
		if isRepoNotFound(err) {
			return domain.Order{}, ErrPaymentOrderNotFound
		}
		return domain.Order{}, s.translateRepoError(err)
	}
	return order, nil
}

func (s *paymentService) provider(name domain.PaymentProvider) (payments.Provider, error) {
	provider, err := s.providers.Provider(name)
	if err != nil {
		if errors.Is(err, payments.ErrProviderMisconfigured) {
			return nil, fmt.Errorf("%w: %s", ErrPaymentProviderMisconfigured, name)
		}
		return nil, fmt.Errorf("%w: %s", ErrPaymentUnsupportedProvider, name)
	}
	return provider, nil
}

func (s *paymentService) translateRepoError(err error) error {
	switch {
	case err == nil:
		return nil
	case isRepoNotFound(err):
		return ErrPaymentOrderNotFound
	case isRepoUnavailable(err):
		return fmt.Errorf("%w: %v", ErrPaymentUnavailable, err)
	default:
		return fmt.Errorf("payment: %w", err)
	}
}

func providerDisplayName(name domain.PaymentProvider) string {
	switch name {
	case domain.ProviderLiqPay:
		return "LiqPay"
	case domain.ProviderMonobank:
		return "Monobank"
	default:
		return string(name)
	}
}

func webhookOutcome(result WebhookResult, err error) string {
	switch {
	case err == nil && result.OrderPaid:
		return "paid"
	case err == nil:
		return "applied"
	case errors.Is(err, ErrPaymentUnauthorized):
		return "unauthorized"
	case errors.Is(err, ErrPaymentInvalidPayload):
		return "invalid_payload"
	case errors.Is(err, ErrPaymentOrderNotFound):
		return "order_not_found"
	case errors.Is(err, ErrPaymentProviderMisconfigured), errors.Is(err, ErrPaymentUnsupportedProvider):
		return "provider_unavailable"
	default:
		return "error"
	}
}
