package services

import (
	"context"
	"errors"
	"fmt"
	"math"
	"strings"
	"time"

	domain "github.com/op17/storefront-api/internal/domain"
	"github.com/op17/storefront-api/internal/repositories"
)

var errRefundRepositoriesRequired = errors.New("refund service: repositories are required")

var (
	// ErrRefundInvalidInput indicates the amount or status failed validation.
	ErrRefundInvalidInput = errors.New("refund: invalid input")
	// ErrRefundOrderNotFound indicates the order does not exist.
	ErrRefundOrderNotFound = errors.New("refund: order not found")
	// ErrRefundNoPayment indicates the order has no payment to refund against.
	ErrRefundNoPayment = errors.New("refund: order has no payment")
	// ErrRefundExceedsPayment indicates outstanding refunds would exceed the payment amount.
	ErrRefundExceedsPayment = errors.New("refund: amount exceeds payment")
	// ErrRefundNotFound indicates the refund does not exist.
	ErrRefundNotFound = errors.New("refund: not found")
	// ErrRefundUnavailable indicates a backend failure.
	ErrRefundUnavailable = errors.New("refund: unavailable")
)

// RefundServiceDeps wires the repositories used by the refund engine.
type RefundServiceDeps struct {
	Repositories repositories.Registry
	Clock        func() time.Time
	Logger       func(context.Context, string, map[string]any)
	IDGenerator  func() string
}

type refundService struct {
	repos  repositories.Registry
	now    func() time.Time
	logger func(context.Context, string, map[string]any)
	newID  func() string
}

// NewRefundService constructs a RefundService.
func NewRefundService(deps RefundServiceDeps) (RefundService, error) {
	if deps.Repositories == nil {
		return nil, errRefundRepositoriesRequired
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
	return &refundService{
		repos:  deps.Repositories,
		now:    func() time.Time { return clock().UTC() },
		logger: logger,
		newID:  idGen,
	}, nil
}

// Create records a pending refund against one payment of the order.
func (s *refundService) Create(ctx context.Context, cmd CreateRefundCommand) (Refund, error) {
	orderID := strings.TrimSpace(cmd.OrderID)
	if orderID == "" {
		return Refund{}, fmt.Errorf("%w: order id is required", ErrRefundInvalidInput)
	}
	switch {
	case cmd.AmountMinor != nil:
	case cmd.Amount != nil:
		if math.IsNaN(*cmd.Amount) || math.IsInf(*cmd.Amount, 0) {
			return Refund{}, fmt.Errorf("%w: amount must be finite", ErrRefundInvalidInput)
		}
	default:
		return Refund{}, fmt.Errorf("%w: amount is required", ErrRefundInvalidInput)
	}

	order, err := s.repos.Orders().FindByID(ctx, orderID)
	if err != nil {
		if isRepoNotFound(err) {
			return Refund{}, ErrRefundOrderNotFound
		}
		return Refund{}, s.translateRepoError(err)
	}

	var amountMinor int64
	if cmd.AmountMinor != nil {
		amountMinor = *cmd.AmountMinor
	} else {
		amountMinor, err = domain.MinorFromMajor(*cmd.Amount, order.Currency)
		if err != nil {
			return Refund{}, fmt.Errorf("%w: %v", ErrRefundInvalidInput, err)
		}
	}
	if amountMinor <= 0 {
		return Refund{}, fmt.Errorf("%w: amount must be positive", ErrRefundInvalidInput)
	}

	orderPayments, err := s.repos.Payments().ListByOrder(ctx, order.ID)
	if err != nil {
		return Refund{}, s.translateRepoError(err)
	}
	target, ok := selectRefundPayment(orderPayments, strings.TrimSpace(cmd.PaymentID))
	if !ok {
		return Refund{}, ErrRefundNoPayment
	}

	var refund Refund
	err = s.repos.RunInTx(ctx, func(txCtx context.Context) error {
		payment, err := s.repos.Payments().FindByIDForUpdate(txCtx, target.ID)
		if err != nil {
			if isRepoNotFound(err) {
				return ErrRefundNoPayment
			}
			return s.translateRepoError(err)
		}
		outstanding, err := s.repos.Refunds().SumByPayment(txCtx, payment.ID, domain.RefundStatusPending, domain.RefundStatusSucceeded)
		if err != nil {
			return s.translateRepoError(err)
		}
		if outstanding+amountMinor > payment.AmountMinor {
			return fmt.Errorf("%w: %d already refunded of %d", ErrRefundExceedsPayment, outstanding, payment.AmountMinor)
		}

		now := s.now()
		refund = domain.Refund{
			ID:          s.newID(),
			PaymentID:   payment.ID,
			AmountMinor: amountMinor,
			Status:      domain.RefundStatusPending,
			Reason:      strings.TrimSpace(cmd.Reason),
			CreatedAt:   now,
			UpdatedAt:   now,
		}
		if err := s.repos.Refunds().Insert(txCtx, refund); err != nil {
			return s.translateRepoError(err)
		}
		return s.appendEvent(txCtx, domain.OrderEvent{
			ID:      s.newID(),
			OrderID: order.ID,
			Type:    domain.OrderEventRefundCreated,
			Message: fmt.Sprintf("Refund initiated: %s %s", domain.FormatMinor(amountMinor, payment.Currency), payment.Currency),
			Metadata: map[string]any{
				"amountMinor": amountMinor,
				"currency":    string(payment.Currency),
				"paymentId":   payment.ID,
				"refundId":    refund.ID,
			},
			CreatedByID: stringPtr(strings.TrimSpace(cmd.ActorID)),
			CreatedAt:   now,
		})
	})
	if err != nil {
		return Refund{}, err
	}

	s.logger(ctx, "refund.created", map[string]any{
		"orderId":     order.ID,
		"paymentId":   refund.PaymentID,
		"refundId":    refund.ID,
		"amountMinor": amountMinor,
	})
	return refund, nil
}

// UpdateStatus moves a refund and closes the order once succeeded refunds cover its total.
func (s *refundService) UpdateStatus(ctx context.Context, cmd UpdateRefundStatusCommand) (Refund, error) {
	refundID := strings.TrimSpace(cmd.RefundID)
	if refundID == "" {
		return Refund{}, fmt.Errorf("%w: refund id is required", ErrRefundInvalidInput)
	}
	status, ok := domain.ParseRefundStatus(cmd.Status)
	if !ok {
		return Refund{}, fmt.Errorf("%w: unknown status %q", ErrRefundInvalidInput, cmd.Status)
	}
	actor := stringPtr(strings.TrimSpace(cmd.ActorID))

	var (
		updated     Refund
		orderClosed bool
	)
	err := s.repos.RunInTx(ctx, func(txCtx context.Context) error {
		refund, err := s.repos.Refunds().FindByIDForUpdate(txCtx, refundID)
		if err != nil {
			if isRepoNotFound(err) {
				return ErrRefundNotFound
			}
			return s.translateRepoError(err)
		}
		reviving := refund.Status == domain.RefundStatusFailed && status != domain.RefundStatusFailed

		var payment domain.Payment
		if reviving {
			payment, err = s.repos.Payments().FindByIDForUpdate(txCtx, refund.PaymentID)
		} else {
			payment, err = s.repos.Payments().FindByID(txCtx, refund.PaymentID)
		}
		if err != nil {
			return s.translateRepoError(err)
		}
		if reviving {
			// A failed refund is excluded from the sum, so this is everything else still outstanding.
			outstanding, err := s.repos.Refunds().SumByPayment(txCtx, payment.ID, domain.RefundStatusPending, domain.RefundStatusSucceeded)
			if err != nil {
				return s.translateRepoError(err)
			}
			if outstanding+refund.AmountMinor > payment.AmountMinor {
				return fmt.Errorf("%w: %d already refunded of %d", ErrRefundExceedsPayment, outstanding, payment.AmountMinor)
			}
		}

		now := s.now()
		if err := s.repos.Refunds().UpdateStatus(txCtx, refund.ID, status, now); err != nil {
			return s.translateRepoError(err)
		}
		refund.Status = status
		refund.UpdatedAt = now
		updated = refund

		order, err := s.repos.Orders().FindByIDForUpdate(txCtx, payment.OrderID)
		if err != nil {
			if isRepoNotFound(err) {
				return ErrRefundOrderNotFound
			}
			return s.translateRepoError(err)
		}
		if err := s.appendEvent(txCtx, domain.OrderEvent{
			ID:          s.newID(),
			OrderID:     order.ID,
			Type:        domain.OrderEventNote,
			Message:     fmt.Sprintf("Refund %s marked as %s", refund.ID, status),
			Metadata:    map[string]any{"refundId": refund.ID, "status": string(status)},
			CreatedByID: actor,
			CreatedAt:   now,
		}); err != nil {
			return err
		}

		if status != domain.RefundStatusSucceeded || order.Status == domain.OrderStatusRefunded {
			return nil
		}
		succeeded, err := s.repos.Refunds().SumByOrder(txCtx, order.ID, domain.RefundStatusSucceeded)
		if err != nil {
			return s.translateRepoError(err)
		}
		if succeeded < order.TotalMinor {
			return nil
		}
		if err := s.repos.Orders().UpdateStatus(txCtx, order.ID, domain.OrderStatusRefunded, now); err != nil {
			return s.translateRepoError(err)
		}
		orderClosed = true
		return s.appendEvent(txCtx, domain.OrderEvent{
			ID:          s.newID(),
			OrderID:     order.ID,
			Type:        domain.OrderEventStatusChange,
			Message:     "Order marked as REFUNDED",
			Metadata:    map[string]any{"from": string(order.Status), "to": string(domain.OrderStatusRefunded)},
			CreatedByID: actor,
			CreatedAt:   now,
		})
	})
	if err != nil {
		return Refund{}, err
	}

	s.logger(ctx, "refund.status.updated", map[string]any{
		"refundId":    updated.ID,
		"status":      updated.Status,
		"orderClosed": orderClosed,
	})
	return updated, nil
}

func (s *refundService) appendEvent(ctx context.Context, event domain.OrderEvent) error {
	if err := s.repos.OrderEvents().Append(ctx, event); err != nil {
		return s.translateRepoError(err)
	}
	return nil
}

func (s *refundService) translateRepoError(err error) error {
	switch {
	case err == nil:
		return nil
	case isRepoNotFound(err):
		return ErrRefundNotFound
	case isRepoUnavailable(err):
		return fmt.Errorf("%w: %v", ErrRefundUnavailable, err)
	default:
		return fmt.Errorf("refund: %w", err)
	}
}

// selectRefundPayment picks the explicit payment or the first captured one, falling back to the oldest.
func selectRefundPayment(list []domain.Payment, paymentID string) (domain.Payment, bool) {
	if len(list) == 0 {
		return domain.Payment{}, false
	}
	if paymentID != "" {
		for _, payment := range list {
			if payment.ID == paymentID {
				return payment, true
			}
		}
		return domain.Payment{}, false
	}
	for _, payment := range list {
		if payment.Status == domain.PaymentStatusCaptured {
			return payment, true
		}
	}
	return list[0], true
}
