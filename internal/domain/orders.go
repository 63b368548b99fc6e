package domain

import (
	"crypto/rand"
	"encoding/hex"
	"fmt"
	"strings"
	"time"
)

// OrderNumberPrefix prefixes every human-readable order number.
const OrderNumberPrefix = "OP17"

var orderStatusTransitions = map[OrderStatus][]OrderStatus{
	OrderStatusPending:   {OrderStatusPaid},
	OrderStatusPaid:      {OrderStatusFulfilled, OrderStatusRefunded},
	OrderStatusFulfilled: {OrderStatusShipped, OrderStatusRefunded},
	OrderStatusShipped:   {OrderStatusRefunded},
	OrderStatusRefunded:  {},
}

// CanTransitionOrder reports whether the regular lifecycle allows moving from one status to another.
func CanTransitionOrder(from, to OrderStatus) bool {
	for _, next := range orderStatusTransitions[from] {
		if next == to {
			return true
		}
	}
	return false
}

// ParseOrderStatus validates an order status string.
func ParseOrderStatus(value string) (OrderStatus, bool) {
	status := OrderStatus(strings.ToUpper(strings.TrimSpace(value)))
	if _, ok := orderStatusTransitions[status]; ok {
		return status, true
	}
	return "", false
}

// IsTerminal reports whether no further transitions are permitted.
func (s OrderStatus) IsTerminal() bool {
	return s == OrderStatusRefunded
}

// ParseShipmentStatus validates a shipment status string.
func ParseShipmentStatus(value string) (ShipmentStatus, bool) {
	status := ShipmentStatus(strings.ToUpper(strings.TrimSpace(value)))
	switch status {
	case ShipmentStatusPending, ShipmentStatusPacked, ShipmentStatusShipped, ShipmentStatusDelivered, ShipmentStatusReturned:
		return status, true
	}
	return "", false
}

// ParseRefundStatus validates a refund status string.
func ParseRefundStatus(value string) (RefundStatus, bool) {
	status := RefundStatus(strings.ToUpper(strings.TrimSpace(value)))
	switch status {
	case RefundStatusPending, RefundStatusSucceeded, RefundStatusFailed:
		return status, true
	}
	return "", false
}

// ParseShippingMethod validates a shipping method string.
func ParseShippingMethod(value string) (ShippingMethod, bool) {
	method := ShippingMethod(strings.ToUpper(strings.TrimSpace(value)))
	switch method {
	case ShippingNovaPostBranch, ShippingNovaPostCourier:
		return method, true
	}
	return "", false
}

// ParsePaymentProvider validates a provider name case-insensitively.
func ParsePaymentProvider(value string) (PaymentProvider, bool) {
	provider := PaymentProvider(strings.ToUpper(strings.TrimSpace(value)))
	switch provider {
	case ProviderLiqPay, ProviderMonobank:
		return provider, true
	}
	return "", false
}

// NewOrderNumber builds OP17-YYYYMMDD-XXXX from the UTC date and two random bytes.
func NewOrderNumber(now time.Time) (string, error) {
	var suffix [2]byte
	if _, err := rand.Read(suffix[:]); err != nil {
		return "", fmt.Errorf("order number: %w", err)
	}
	return fmt.Sprintf("%s-%s-%s", OrderNumberPrefix, now.UTC().Format("20060102"), strings.ToUpper(hex.EncodeToString(suffix[:]))), nil
}

// RefundedTotal sums refunds of the payment whose status is in statuses.
func (p Payment) RefundedTotal(statuses ...RefundStatus) int64 {
	var total int64
	for _, refund := range p.Refunds {
		for _, status := range statuses {
			if refund.Status == status {
				total += refund.AmountMinor
				break
			}
		}
	}
	return total
}

// OutstandingRefundTotal sums refunds that have not failed.
func (p Payment) OutstandingRefundTotal() int64 {
	return p.RefundedTotal(RefundStatusPending, RefundStatusSucceeded)
}
