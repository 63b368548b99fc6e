package services

import (
	"context"
	"errors"
	"testing"

	domain "github.com/op17/storefront-api/internal/domain"
)

func strPtr(v string) *string { return &v }

func TestOrderServiceAdminStatusChange(t *testing.T) {
	store := newCatalogStore(5)
	ctx := context.Background()
	order := placeOrder(t, store, validCheckout(""), map[string]int64{"var_tee_m": 1})
	svc := newTestOrderService(t, store)

	updated, err := svc.ApplyAdminUpdate(ctx, AdminUpdateCommand{OrderID: order.ID, ActorID: "admin_1", Status: strPtr("fulfilled")})
	if err != nil {
		t.Fatalf("ApplyAdminUpdate: %v", err)
	}
	if updated.Status != domain.OrderStatusFulfilled {
		t.Fatalf("expected FULFILLED, got %s", updated.Status)
	}
	events, err := store.OrderEvents().List(ctx, order.ID)
	if err != nil {
		t.Fatalf("List events: %v", err)
	}
	if events[0].Message != "Status updated: PENDING > FULFILLED" {
		t.Fatalf("unexpected message %q", events[0].Message)
	}
	if events[0].CreatedByID == nil || *events[0].CreatedByID != "admin_1" {
		t.Fatalf("expected admin author, got %v", events[0].CreatedByID)
	}

	if _, err := svc.ApplyAdminUpdate(ctx, AdminUpdateCommand{OrderID: order.ID, Status: strPtr("FULFILLED")}); err != nil {
		t.Fatalf("same status: %v", err)
	}
	if got := countEvents(t, store, order.ID, domain.OrderEventStatusChange); got != 1 {
		t.Fatalf("unchanged status must not log, got %d status events", got)
	}
}

func TestOrderServiceAdminCannotLeaveRefunded(t *testing.T) {
	store := newCatalogStore(5)
	ctx := context.Background()
	order := placeOrder(t, store, validCheckout(""), map[string]int64{"var_tee_m": 1})
	svc := newTestOrderService(t, store)

	if _, err := svc.ApplyAdminUpdate(ctx, AdminUpdateCommand{OrderID: order.ID, Status: strPtr("REFUNDED")}); err != nil {
		t.Fatalf("ApplyAdminUpdate: %v", err)
	}
	_, err := svc.ApplyAdminUpdate(ctx, AdminUpdateCommand{OrderID: order.ID, Status: strPtr("PAID")})
	if !errors.Is(err, ErrOrderInvalidState) {
		t.Fatalf("expected ErrOrderInvalidState, got %v", err)
	}
	if _, err := svc.ApplyAdminUpdate(ctx, AdminUpdateCommand{OrderID: order.ID, Status: strPtr("LOST")}); !errors.Is(err, ErrOrderInvalidInput) {
		t.Fatalf("expected ErrOrderInvalidInput, got %v", err)
	}
	if _, err := svc.ApplyAdminUpdate(ctx, AdminUpdateCommand{OrderID: "missing", Status: strPtr("PAID")}); !errors.Is(err, ErrOrderNotFound) {
		t.Fatalf("expected ErrOrderNotFound, got %v", err)
	}
}

func TestOrderServiceShipmentUpserts(t *testing.T) {
	store := newCatalogStore(5)
	ctx := context.Background()
	order := placeOrder(t, store, validCheckout(""), map[string]int64{"var_tee_m": 1})
	svc := newTestOrderService(t, store)

	if _, err := svc.ApplyAdminUpdate(ctx, AdminUpdateCommand{OrderID: order.ID, TrackingNumber: strPtr(" 20450000000001 ")}); err != nil {
		t.Fatalf("tracking update: %v", err)
	}
	if _, err := svc.ApplyAdminUpdate(ctx, AdminUpdateCommand{OrderID: order.ID, ShipmentStatus: strPtr("shipped")}); err != nil {
		t.Fatalf("status update: %v", err)
	}

	shipments, err := store.OrderShipments().List(ctx, order.ID)
	if err != nil {
		t.Fatalf("List shipments: %v", err)
	}
	if len(shipments) != 1 {
		t.Fatalf("expected a single shipment, got %d", len(shipments))
	}
	shipment := shipments[0]
	if shipment.TrackingNumber != "20450000000001" || shipment.Status != domain.ShipmentStatusShipped {
		t.Fatalf("unexpected shipment %+v", shipment)
	}
	if shipment.Carrier != domain.CarrierNovaPost || shipment.Method != domain.ShippingNovaPostBranch {
		t.Fatalf("unexpected carrier or method %+v", shipment)
	}

	events, err := store.OrderEvents().List(ctx, order.ID)
	if err != nil {
		t.Fatalf("List events: %v", err)
	}
	if events[0].Message != "Shipment status updated" || events[1].Message != "Shipment updated: 20450000000001" {
		t.Fatalf("unexpected shipment messages %q / %q", events[0].Message, events[1].Message)
	}
	if _, err := svc.ApplyAdminUpdate(ctx, AdminUpdateCommand{OrderID: order.ID, ShipmentStatus: strPtr("lost")}); !errors.Is(err, ErrOrderInvalidInput) {
		t.Fatalf("expected ErrOrderInvalidInput, got %v", err)
	}
}

func TestOrderServiceAddNote(t *testing.T) {
	store := newCatalogStore(5)
	ctx := context.Background()
	order := placeOrder(t, store, validCheckout(""), map[string]int64{"var_tee_m": 1})
	svc := newTestOrderService(t, store)

	if _, err := svc.AddNote(ctx, AddOrderNoteCommand{OrderID: order.ID, Note: "   "}); !errors.Is(err, ErrOrderInvalidInput) {
		t.Fatalf("expected ErrOrderInvalidInput, got %v", err)
	}
	if _, err := svc.AddNote(ctx, AddOrderNoteCommand{OrderID: order.ID, Note: "<i></i>"}); !errors.Is(err, ErrOrderInvalidInput) {
		t.Fatalf("expected markup-only note to be rejected, got %v", err)
	}
	event, err := svc.AddNote(ctx, AddOrderNoteCommand{OrderID: order.ID, ActorID: "admin_1", Note: "<b>Called</b> customer"})
	if err != nil {
		t.Fatalf("AddNote: %v", err)
	}
	if event.Type != domain.OrderEventNote || event.Message != "Called customer" {
		t.Fatalf("unexpected event %+v", event)
	}
	if _, err := svc.AddNote(ctx, AddOrderNoteCommand{OrderID: "missing", Note: "x"}); !errors.Is(err, ErrOrderNotFound) {
		t.Fatalf("expected ErrOrderNotFound, got %v", err)
	}
}

func TestOrderServiceGetAndList(t *testing.T) {
	store := newCatalogStore(5)
	ctx := context.Background()
	order, _ := paidOrder(t, store)
	placeOrder(t, store, validCheckout(""), map[string]int64{"var_tee_l": 1})
	svc := newTestOrderService(t, store)

	detail, err := svc.Get(ctx, order.ID)
	if err != nil {
		t.Fatalf("Get: %v", err)
	}
	if len(detail.Items) != 1 || len(detail.Payments) != 1 || len(detail.Events) != 2 {
		t.Fatalf("unexpected detail: %d items, %d payments, %d events", len(detail.Items), len(detail.Payments), len(detail.Events))
	}
	if detail.ShippingAddress.City != "Kyiv" {
		t.Fatalf("expected hydrated address, got %+v", detail.ShippingAddress)
	}

	all, err := svc.List(ctx, OrderListFilter{})
	if err != nil {
		t.Fatalf("List: %v", err)
	}
	if len(all) != 2 {
		t.Fatalf("expected 2 orders, got %d", len(all))
	}
	paid := domain.OrderStatusPaid
	filtered, err := svc.List(ctx, OrderListFilter{Status: &paid})
	if err != nil {
		t.Fatalf("List paid: %v", err)
	}
	if len(filtered) != 1 || filtered[0].ID != order.ID {
		t.Fatalf("expected only the paid order, got %+v", filtered)
	}
	if _, err := svc.Get(ctx, "missing"); !errors.Is(err, ErrOrderNotFound) {
		t.Fatalf("expected ErrOrderNotFound, got %v", err)
	}
}

func TestOrderServiceLookupRequiresMatchingEmail(t *testing.T) {
	store := newCatalogStore(5)
	ctx := context.Background()
	order := placeOrder(t, store, validCheckout(""), map[string]int64{"var_tee_m": 1})
	svc := newTestOrderService(t, store)

	summary, err := svc.Lookup(ctx, order.OrderNumber, "RUNNER@example.com")
	if err != nil {
		t.Fatalf("Lookup: %v", err)
	}
	if summary.OrderNumber != order.OrderNumber || summary.TotalMinor != order.TotalMinor || len(summary.Items) != 1 {
		t.Fatalf("unexpected summary %+v", summary)
	}
	if _, err := svc.Lookup(ctx, order.OrderNumber, "other@example.com"); !errors.Is(err, ErrOrderNotFound) {
		t.Fatalf("expected ErrOrderNotFound for wrong email, got %v", err)
	}
	if _, err := svc.Lookup(ctx, "", "runner@example.com"); !errors.Is(err, ErrOrderInvalidInput) {
		t.Fatalf("expected ErrOrderInvalidInput, got %v", err)
	}
}
