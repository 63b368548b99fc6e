package domain

import (
	"regexp"
	"testing"
	"time"
)

func TestCanTransitionOrder(t *testing.T) {
	cases := []struct {
		from, to OrderStatus
		want     bool
	}{
		{OrderStatusPending, OrderStatusPaid, true},
		{OrderStatusPending, OrderStatusRefunded, false},
		{OrderStatusPaid, OrderStatusFulfilled, true},
		{OrderStatusFulfilled, OrderStatusShipped, true},
		{OrderStatusShipped, OrderStatusRefunded, true},
		{OrderStatusRefunded, OrderStatusPaid, false},
		{OrderStatusRefunded, OrderStatusPending, false},
		{OrderStatusShipped, OrderStatusPending, false},
	}
	for _, tc := range cases {
		if got := CanTransitionOrder(tc.from, tc.to); got != tc.want {
			t.Fatalf("CanTransitionOrder(%s, %s) = %v, want %v", tc.from, tc.to, got, tc.want)
		}
	}
	if !OrderStatusRefunded.IsTerminal() || OrderStatusShipped.IsTerminal() {
		t.Fatalf("unexpected terminal flags")
	}
}

func TestParseHelpers(t *testing.T) {
	if status, ok := ParseOrderStatus(" paid "); !ok || status != OrderStatusPaid {
		t.Fatalf("ParseOrderStatus = %q, %v", status, ok)
	}
	if _, ok := ParseOrderStatus("CANCELED"); ok {
		t.Fatalf("expected unknown order status to be rejected")
	}
	if provider, ok := ParsePaymentProvider("monobank"); !ok || provider != ProviderMonobank {
		t.Fatalf("ParsePaymentProvider = %q, %v", provider, ok)
	}
	if _, ok := ParsePaymentProvider("stripe"); ok {
		t.Fatalf("expected unknown provider to be rejected")
	}
	if _, ok := ParseRefundStatus("done"); ok {
		t.Fatalf("expected unknown refund status to be rejected")
	}
	if method, ok := ParseShippingMethod("nova_post_courier"); !ok || method != ShippingNovaPostCourier {
		t.Fatalf("ParseShippingMethod = %q, %v", method, ok)
	}
	if status, ok := ParseShipmentStatus("delivered"); !ok || status != ShipmentStatusDelivered {
		t.Fatalf("ParseShipmentStatus = %q, %v", status, ok)
	}
}

func TestNewOrderNumber(t *testing.T) {
	now := time.Date(2025, 3, 9, 23, 30, 0, 0, time.FixedZone("EET", 2*3600))
	number, err := NewOrderNumber(now)
	if err != nil {
		t.Fatalf("NewOrderNumber error: %v", err)
	}
	pattern := regexp.MustCompile(`^OP17-20250309-[0-9A-F]{4}$`)
	if !pattern.MatchString(number) {
		t.Fatalf("unexpected order number %q", number)
	}
}

func TestPaymentRefundTotals(t *testing.T) {
	payment := Payment{
		AmountMinor: 5000,
		Refunds: []Refund{
			{AmountMinor: 1000, Status: RefundStatusPending},
			{AmountMinor: 1500, Status: RefundStatusSucceeded},
			{AmountMinor: 2000, Status: RefundStatusFailed},
		},
	}
	if got := payment.OutstandingRefundTotal(); got != 2500 {
		t.Fatalf("OutstandingRefundTotal = %d, want 2500", got)
	}
	if got := payment.RefundedTotal(RefundStatusSucceeded); got != 1500 {
		t.Fatalf("RefundedTotal(SUCCEEDED) = %d, want 1500", got)
	}
}
