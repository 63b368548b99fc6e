package services

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/microcosm-cc/bluemonday"

	domain "github.com/op17/storefront-api/internal/domain"
	"github.com/op17/storefront-api/internal/repositories"
)

var errOrderRepositoriesRequired = errors.New("order service: repositories are required")

// notePolicy strips all markup from admin notes; the admin console renders them verbatim.
var notePolicy = bluemonday.StrictPolicy()

var (
	// ErrOrderInvalidInput indicates the request failed validation.
	ErrOrderInvalidInput = errors.New("order: invalid input")
	// ErrOrderNotFound indicates the order does not exist or the lookup credentials do not match.
	ErrOrderNotFound = errors.New("order: not found")
	// ErrOrderInvalidState indicates the requested change is not allowed from the current status.
	ErrOrderInvalidState = errors.New("order: invalid state")
	// ErrOrderUnavailable indicates a backend failure.
	ErrOrderUnavailable = errors.New("order: unavailable")
)

// OrderServiceDeps wires the repositories used for order administration.
type OrderServiceDeps struct {
	Repositories repositories.Registry
	Clock        func() time.Time
	Logger       func(context.Context, string, map[string]any)
	IDGenerator  func() string
}

type orderService struct {
	repos  repositories.Registry
	now    func() time.Time
	logger func(context.Context, string, map[string]any)
	newID  func() string
}

// NewOrderService constructs an OrderService.
func NewOrderService(deps OrderServiceDeps) (OrderService, error) {
	if deps.Repositories == nil {
		return nil, errOrderRepositoriesRequired
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
	return &orderService{
		repos:  deps.Repositories,
		now:    func() time.Time { return clock().UTC() },
		logger: logger,
		newID:  idGen,
	}, nil
}

// ApplyAdminUpdate changes status and shipment details under a row lock on the order.
func (s *orderService) ApplyAdminUpdate(ctx context.Context, cmd AdminUpdateCommand) (Order, error) {
	orderID := strings.TrimSpace(cmd.OrderID)
	if orderID == "" {
		return Order{}, fmt.Errorf("%w: order id is required", ErrOrderInvalidInput)
	}

	var nextStatus domain.OrderStatus
	if cmd.Status != nil {
		status, ok := domain.ParseOrderStatus(*cmd.Status)
		if !ok {
			return Order{}, fmt.Errorf("%w: unknown status %q", ErrOrderInvalidInput, *cmd.Status)
		}
		nextStatus = status
	}
	var shipmentStatus domain.ShipmentStatus
	if cmd.ShipmentStatus != nil {
		status, ok := domain.ParseShipmentStatus(*cmd.ShipmentStatus)
		if !ok {
			return Order{}, fmt.Errorf("%w: unknown shipment status %q", ErrOrderInvalidInput, *cmd.ShipmentStatus)
		}
		shipmentStatus = status
	}
	var tracking *string
	if cmd.TrackingNumber != nil {
		value := strings.TrimSpace(*cmd.TrackingNumber)
		tracking = &value
	}
	actor := stringPtr(strings.TrimSpace(cmd.ActorID))

	var updated Order
	err := s.repos.RunInTx(ctx, func(txCtx context.Context) error {
		order, err := s.repos.Orders().FindByIDForUpdate(txCtx, orderID)
		if err != nil {
			return s.translateRepoError(err)
		}
		now := s.now()

		if nextStatus != "" && nextStatus != order.Status {
			if order.Status.IsTerminal() {
				return fmt.Errorf("%w: order is %s", ErrOrderInvalidState, order.Status)
			}
			if err := s.repos.Orders().UpdateStatus(txCtx, order.ID, nextStatus, now); err != nil {
				return s.translateRepoError(err)
			}
			if err := s.repos.OrderEvents().Append(txCtx, domain.OrderEvent{
				ID:          s.newID(),
				OrderID:     order.ID,
				Type:        domain.OrderEventStatusChange,
				Message:     fmt.Sprintf("Status updated: %s > %s", order.Status, nextStatus),
				Metadata:    map[string]any{"from": string(order.Status), "to": string(nextStatus)},
				CreatedByID: actor,
				CreatedAt:   now,
			}); err != nil {
				return s.translateRepoError(err)
			}
			order.Status = nextStatus
			order.UpdatedAt = now
		}

		if tracking != nil || shipmentStatus != "" {
			shipment, err := s.upsertShipment(txCtx, order, tracking, shipmentStatus, now)
			if err != nil {
				return err
			}
			message := "Shipment status updated"
			if shipment.TrackingNumber != "" && tracking != nil {
				message = "Shipment updated: " + shipment.TrackingNumber
			}
			if err := s.repos.OrderEvents().Append(txCtx, domain.OrderEvent{
				ID:      s.newID(),
				OrderID: order.ID,
				Type:    domain.OrderEventShipmentUpdate,
				Message: message,
				Metadata: map[string]any{
					"shipmentId":     shipment.ID,
					"trackingNumber": shipment.TrackingNumber,
					"status":         string(shipment.Status),
				},
				CreatedByID: actor,
				CreatedAt:   now,
			}); err != nil {
				return s.translateRepoError(err)
			}
		}
		updated = order
		return nil
	})
	if err != nil {
		return Order{}, err
	}

	s.logger(ctx, "order.admin.updated", map[string]any{
		"orderId": updated.ID,
		"status":  updated.Status,
		"actorId": cmd.ActorID,
	})
	return updated, nil
}

func (s *orderService) upsertShipment(ctx context.Context, order domain.Order, tracking *string, status domain.ShipmentStatus, now time.Time) (domain.Shipment, error) {
	shipments, err := s.repos.OrderShipments().List(ctx, order.ID)
	if err != nil {
		return domain.Shipment{}, s.translateRepoError(err)
	}
	if len(shipments) == 0 {
		shipment := domain.Shipment{
			ID:        s.newID(),
			OrderID:   order.ID,
			Carrier:   domain.CarrierNovaPost,
			Method:    order.ShippingMethod,
			Status:    domain.ShipmentStatusPending,
			CreatedAt: now,
			UpdatedAt: now,
		}
		if status != "" {
			shipment.Status = status
		}
		if tracking != nil {
			shipment.TrackingNumber = *tracking
		}
		if err := s.repos.OrderShipments().Insert(ctx, shipment); err != nil {
			return domain.Shipment{}, s.translateRepoError(err)
		}
		return shipment, nil
	}

	shipment := shipments[0]
	if status != "" {
		shipment.Status = status
	}
	if tracking != nil {
		shipment.TrackingNumber = *tracking
	}
	shipment.UpdatedAt = now
	if err := s.repos.OrderShipments().Update(ctx, shipment); err != nil {
		return domain.Shipment{}, s.translateRepoError(err)
	}
	return shipment, nil
}

// AddNote appends an admin note to the order log.
func (s *orderService) AddNote(ctx context.Context, cmd AddOrderNoteCommand) (OrderEvent, error) {
	orderID := strings.TrimSpace(cmd.OrderID)
	note := strings.TrimSpace(notePolicy.Sanitize(cmd.Note))
	if orderID == "" || note == "" {
		return OrderEvent{}, fmt.Errorf("%w: note is required", ErrOrderInvalidInput)
	}
	if _, err := s.repos.Orders().FindByID(ctx, orderID); err != nil {
		return OrderEvent{}, s.translateRepoError(err)
	}
	event := domain.OrderEvent{
		ID:          s.newID(),
		OrderID:     orderID,
		Type:        domain.OrderEventNote,
		Message:     note,
		CreatedByID: stringPtr(strings.TrimSpace(cmd.ActorID)),
		CreatedAt:   s.now(),
	}
	if err := s.repos.OrderEvents().Append(ctx, event); err != nil {
		return OrderEvent{}, s.translateRepoError(err)
	}
	return event, nil
}

func (s *orderService) Get(ctx context.Context, orderID string) (OrderDetail, error) {
	orderID = strings.TrimSpace(orderID)
	if orderID == "" {
		return OrderDetail{}, fmt.Errorf("%w: order id is required", ErrOrderInvalidInput)
	}
	order, err := s.repos.Orders().FindByID(ctx, orderID)
	if err != nil {
		return OrderDetail{}, s.translateRepoError(err)
	}
	detail := OrderDetail{Order: order}
	if detail.Items, err = s.repos.Orders().ListItems(ctx, order.ID); err != nil {
		return OrderDetail{}, s.translateRepoError(err)
	}
	if order.ShippingAddressID != "" {
		if detail.ShippingAddress, err = s.repos.Addresses().FindByID(ctx, order.ShippingAddressID); err != nil && !isRepoNotFound(err) {
			return OrderDetail{}, s.translateRepoError(err)
		}
	}
	if detail.Payments, err = s.repos.Payments().ListByOrder(ctx, order.ID); err != nil {
		return OrderDetail{}, s.translateRepoError(err)
	}
	if detail.Shipments, err = s.repos.OrderShipments().List(ctx, order.ID); err != nil {
		return OrderDetail{}, s.translateRepoError(err)
	}
	if detail.Events, err = s.repos.OrderEvents().List(ctx, order.ID); err != nil {
		return OrderDetail{}, s.translateRepoError(err)
	}
	return detail, nil
}

func (s *orderService) List(ctx context.Context, filter OrderListFilter) ([]Order, error) {
	orders, err := s.repos.Orders().List(ctx, filter)
	if err != nil {
		return nil, s.translateRepoError(err)
	}
	return orders, nil
}

// Lookup returns the customer view of an order. A mismatched email reads as not found.
func (s *orderService) Lookup(ctx context.Context, orderNumber, email string) (OrderSummary, error) {
	orderNumber = strings.ToUpper(strings.TrimSpace(orderNumber))
	email = strings.ToLower(strings.TrimSpace(email))
	if orderNumber == "" || email == "" {
		return OrderSummary{}, fmt.Errorf("%w: order number and email are required", ErrOrderInvalidInput)
	}
	order, err := s.repos.Orders().FindByNumber(ctx, orderNumber)
	if err != nil {
		return OrderSummary{}, s.translateRepoError(err)
	}
	if !strings.EqualFold(order.Email, email) {
		return OrderSummary{}, ErrOrderNotFound
	}

	summary := OrderSummary{
		OrderNumber: order.OrderNumber,
		Status:      order.Status,
		Currency:    order.Currency,
		TotalMinor:  order.TotalMinor,
		CreatedAt:   order.CreatedAt,
	}
	if summary.Items, err = s.repos.Orders().ListItems(ctx, order.ID); err != nil {
		return OrderSummary{}, s.translateRepoError(err)
	}
	if summary.Payments, err = s.repos.Payments().ListByOrder(ctx, order.ID); err != nil {
		return OrderSummary{}, s.translateRepoError(err)
	}
	if summary.Shipments, err = s.repos.OrderShipments().List(ctx, order.ID); err != nil {
		return OrderSummary{}, s.translateRepoError(err)
	}
	return summary, nil
}

func (s *orderService) translateRepoError(err error) error {
	switch {
	case err == nil:
		return nil
	case errors.Is(err, ErrOrderInvalidState), errors.Is(err, ErrOrderNotFound):
		return err
	case isRepoNotFound(err):
		return ErrOrderNotFound
	case isRepoConflict(err):
		return fmt.Errorf("%w: %v", ErrOrderInvalidState, err)
	case isRepoUnavailable(err):
		return fmt.Errorf("%w: %v", ErrOrderUnavailable, err)
	default:
		return fmt.Errorf("order: %w", err)
	}
}
