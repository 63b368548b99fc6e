package memory

import (
	"context"
	"sort"
	"time"

	domain "github.com/op17/storefront-api/internal/domain"
	"github.com/op17/storefront-api/internal/repositories"
)

type cartRepository struct{ s *Store }

func ownerMatches(cart domain.Cart, owner repositories.CartOwner) bool {
	switch {
	case owner.UserID != "":
		return cart.UserID != nil && *cart.UserID == owner.UserID
	case owner.SessionToken != "":
		return cart.SessionToken != nil && *cart.SessionToken == owner.SessionToken
	}
	return false
}

func (r cartRepository) FindByOwner(ctx context.Context, owner repositories.CartOwner) (domain.Cart, error) {
	defer r.s.lock(ctx)()
	for _, cart := range r.s.state.carts {
		if ownerMatches(cart, owner) {
			return cart, nil
		}
	}
	return domain.Cart{}, notFound("carts.find")
}

func (r cartRepository) CreateIfAbsent(ctx context.Context, cart domain.Cart) (domain.Cart, error) {
	defer r.s.lock(ctx)()
	owner := repositories.CartOwner{}
	if cart.UserID != nil {
		owner.UserID = *cart.UserID
	} else if cart.SessionToken != nil {
		owner.SessionToken = *cart.SessionToken
	}
	if (cart.UserID == nil) == (cart.SessionToken == nil) {
		return domain.Cart{}, conflict("carts.create")
	}
	for _, existing := range r.s.state.carts {
		if ownerMatches(existing, owner) {
			return existing, nil
		}
	}
	cart.CreatedAt = nowIfZero(cart.CreatedAt)
	cart.UpdatedAt = cart.CreatedAt
	cart.Items = nil
	r.s.state.carts[cart.ID] = cart
	return cart, nil
}

func (r cartRepository) ListItems(ctx context.Context, cartID string) ([]domain.CartItem, error) {
	defer r.s.lock(ctx)()
	var items []domain.CartItem
	for _, item := range r.s.state.cartItems {
		if item.CartID != cartID {
			continue
		}
		if line, ok := r.s.catalogLine(item.VariantID); ok {
			line := line
			item.Line = &line
		}
		items = append(items, item)
	}
	sort.Slice(items, func(i, j int) bool {
		if items[i].CreatedAt.Equal(items[j].CreatedAt) {
			return items[i].ID < items[j].ID
		}
		return items[i].CreatedAt.Before(items[j].CreatedAt)
	})
	return items, nil
}

func (r cartRepository) FindItem(ctx context.Context, cartID, itemID string) (domain.CartItem, error) {
	defer r.s.lock(ctx)()
	item, ok := r.s.state.cartItems[itemID]
	if !ok || item.CartID != cartID {
		return domain.CartItem{}, notFound("cart_items.find")
	}
	return item, nil
}

func (r cartRepository) FindItemByVariant(ctx context.Context, cartID, variantID string) (domain.CartItem, error) {
	defer r.s.lock(ctx)()
	for _, item := range r.s.state.cartItems {
		if item.CartID == cartID && item.VariantID == variantID {
			return item, nil
		}
	}
	return domain.CartItem{}, notFound("cart_items.find_variant")
}

func (r cartRepository) AddItem(ctx context.Context, item domain.CartItem) (domain.CartItem, error) {
	defer r.s.lock(ctx)()
	if _, ok := r.s.state.carts[item.CartID]; !ok {
		return domain.CartItem{}, conflict("cart_items.add")
	}
	if _, ok := r.s.state.variants[item.VariantID]; !ok {
		return domain.CartItem{}, conflict("cart_items.add")
	}
	now := nowIfZero(item.UpdatedAt)
	for id, existing := range r.s.state.cartItems {
		if existing.CartID == item.CartID && existing.VariantID == item.VariantID {
			existing.Quantity += item.Quantity
			existing.UnitPriceEur = item.UnitPriceEur
			existing.UpdatedAt = now
			r.s.state.cartItems[id] = existing
			return existing, nil
		}
	}
	item.Line = nil
	item.CreatedAt, item.UpdatedAt = now, now
	r.s.state.cartItems[item.ID] = item
	return item, nil
}

func (r cartRepository) SetItemQuantity(ctx context.Context, cartID, itemID string, quantity, unitPriceEur int64, updatedAt time.Time) (domain.CartItem, error) {
	defer r.s.lock(ctx)()
	item, ok := r.s.state.cartItems[itemID]
	if !ok || item.CartID != cartID {
		return domain.CartItem{}, notFound("cart_items.set_quantity")
	}
	item.Quantity, item.UnitPriceEur, item.UpdatedAt = quantity, unitPriceEur, updatedAt
	r.s.state.cartItems[itemID] = item
	return item, nil
}

func (r cartRepository) DeleteItem(ctx context.Context, cartID, itemID string) error {
	defer r.s.lock(ctx)()
	item, ok := r.s.state.cartItems[itemID]
	if !ok || item.CartID != cartID {
		return notFound("cart_items.delete")
	}
	delete(r.s.state.cartItems, itemID)
	return nil
}

func (r cartRepository) ClearItems(ctx context.Context, cartID string) error {
	defer r.s.lock(ctx)()
	for id, item := range r.s.state.cartItems {
		if item.CartID == cartID {
			delete(r.s.state.cartItems, id)
		}
	}
	return nil
}

func (r cartRepository) LockForUpdate(ctx context.Context, cartID string) error {
	defer r.s.lock(ctx)()
	if _, ok := r.s.state.carts[cartID]; !ok {
		return notFound("carts.lock")
	}
	return nil
}

type catalogRepository struct{ s *Store }

func (r catalogRepository) GetVariantLine(ctx context.Context, variantID string) (domain.CatalogLine, error) {
	defer r.s.lock(ctx)()
	line, ok := r.s.catalogLine(variantID)
	if !ok {
		return domain.CatalogLine{}, notFound("catalog.variant")
	}
	return line, nil
}

func (r catalogRepository) GetVariantLines(ctx context.Context, variantIDs []string) (map[string]domain.CatalogLine, error) {
	defer r.s.lock(ctx)()
	out := make(map[string]domain.CatalogLine, len(variantIDs))
	for _, id := range variantIDs {
		if line, ok := r.s.catalogLine(id); ok {
			out[id] = line
		}
	}
	return out, nil
}

type inventoryRepository struct{ s *Store }

func (r inventoryRepository) DecrementStock(ctx context.Context, variantID string, quantity int64) error {
	defer r.s.lock(ctx)()
	variant, ok := r.s.state.variants[variantID]
	if !ok {
		return &repositories.InventoryError{Code: repositories.InventoryErrorVariantNotFound, VariantID: variantID, Quantity: quantity}
	}
	if quantity <= 0 || variant.Stock < quantity {
		return &repositories.InventoryError{Code: repositories.InventoryErrorInsufficientStock, VariantID: variantID, Quantity: quantity}
	}
	variant.Stock -= quantity
	r.s.state.variants[variantID] = variant
	return nil
}

type addressRepository struct{ s *Store }

func (r addressRepository) Insert(ctx context.Context, address domain.Address) error {
	defer r.s.lock(ctx)()
	if _, exists := r.s.state.addresses[address.ID]; exists {
		return conflict("addresses.insert")
	}
	r.s.state.addresses[address.ID] = address
	return nil
}

func (r addressRepository) FindByID(ctx context.Context, addressID string) (domain.Address, error) {
	defer r.s.lock(ctx)()
	address, ok := r.s.state.addresses[addressID]
	if !ok {
		return domain.Address{}, notFound("addresses.find")
	}
	return address, nil
}

type orderRepository struct{ s *Store }

func (r orderRepository) Insert(ctx context.Context, order domain.Order) error {
	defer r.s.lock(ctx)()
	if _, exists := r.s.state.orders[order.ID]; exists {
		return conflict("orders.insert")
	}
	for _, existing := range r.s.state.orders {
		if existing.OrderNumber == order.OrderNumber || existing.ShippingAddressID == order.ShippingAddressID {
			return conflict("orders.insert")
		}
	}
	r.s.state.orders[order.ID] = order
	return nil
}

func (r orderRepository) InsertItems(ctx context.Context, items []domain.OrderItem) error {
	defer r.s.lock(ctx)()
	for _, item := range items {
		if _, ok := r.s.state.orders[item.OrderID]; !ok {
			return conflict("order_items.insert")
		}
		r.s.state.orderItems[item.OrderID] = append(r.s.state.orderItems[item.OrderID], item)
	}
	return nil
}

func (r orderRepository) FindByID(ctx context.Context, orderID string) (domain.Order, error) {
	defer r.s.lock(ctx)()
	order, ok := r.s.state.orders[orderID]
	if !ok {
		return domain.Order{}, notFound("orders.find")
	}
	return order, nil
}

func (r orderRepository) FindByIDForUpdate(ctx context.Context, orderID string) (domain.Order, error) {
	return r.FindByID(ctx, orderID)
}

func (r orderRepository) FindByNumber(ctx context.Context, orderNumber string) (domain.Order, error) {
	defer r.s.lock(ctx)()
	for _, order := range r.s.state.orders {
		if order.OrderNumber == orderNumber {
			return order, nil
		}
	}
	return domain.Order{}, notFound("orders.find_number")
}

func (r orderRepository) List(ctx context.Context, filter repositories.OrderListFilter) ([]domain.Order, error) {
	defer r.s.lock(ctx)()
	limit := filter.Limit
	if limit <= 0 {
		limit = 50
	}
	if limit > 200 {
		limit = 200
	}
	orders := make([]domain.Order, 0, len(r.s.state.orders))
	for _, order := range r.s.state.orders {
		if filter.Status != nil && order.Status != *filter.Status {
			continue
		}
		if after := filter.After; after != nil {
			older := order.CreatedAt.Before(after.CreatedAt) ||
				(order.CreatedAt.Equal(after.CreatedAt) && order.ID < after.ID)
			if !older {
				continue
			}
		}
		orders = append(orders, order)
	}
	sort.Slice(orders, func(i, j int) bool {
		if orders[i].CreatedAt.Equal(orders[j].CreatedAt) {
			return orders[i].ID > orders[j].ID
		}
		return orders[i].CreatedAt.After(orders[j].CreatedAt)
	})
	if len(orders) > limit {
		orders = orders[:limit]
	}
	return orders, nil
}

func (r orderRepository) ListItems(ctx context.Context, orderID string) ([]domain.OrderItem, error) {
	defer r.s.lock(ctx)()
	return append([]domain.OrderItem(nil), r.s.state.orderItems[orderID]...), nil
}

func (r orderRepository) UpdateStatus(ctx context.Context, orderID string, status domain.OrderStatus, updatedAt time.Time) error {
	defer r.s.lock(ctx)()
	order, ok := r.s.state.orders[orderID]
	if !ok {
		return notFound("orders.update_status")
	}
	order.Status, order.UpdatedAt = status, updatedAt
	r.s.state.orders[orderID] = order
	return nil
}

func (r orderRepository) CompareAndSetStatus(ctx context.Context, orderID string, expected, next domain.OrderStatus, updatedAt time.Time) (bool, error) {
	defer r.s.lock(ctx)()
	order, ok := r.s.state.orders[orderID]
	if !ok || order.Status != expected {
		return false, nil
	}
	order.Status, order.UpdatedAt = next, updatedAt
	r.s.state.orders[orderID] = order
	return true, nil
}

type eventRepository struct{ s *Store }

func (r eventRepository) Append(ctx context.Context, events ...domain.OrderEvent) error {
	defer r.s.lock(ctx)()
	for _, event := range events {
		if _, ok := r.s.state.orders[event.OrderID]; !ok {
			return conflict("order_events.append")
		}
		r.s.state.events = append(r.s.state.events, event)
	}
	return nil
}

func (r eventRepository) List(ctx context.Context, orderID string) ([]domain.OrderEvent, error) {
	defer r.s.lock(ctx)()
	var out []domain.OrderEvent
	for i := len(r.s.state.events) - 1; i >= 0; i-- {
		if r.s.state.events[i].OrderID == orderID {
			out = append(out, r.s.state.events[i])
		}
	}
	sort.SliceStable(out, func(i, j int) bool { return out[i].CreatedAt.After(out[j].CreatedAt) })
	return out, nil
}

type shipmentRepository struct{ s *Store }

func (r shipmentRepository) Insert(ctx context.Context, shipment domain.Shipment) error {
	defer r.s.lock(ctx)()
	r.s.state.shipments[shipment.ID] = shipment
	return nil
}

func (r shipmentRepository) Update(ctx context.Context, shipment domain.Shipment) error {
	defer r.s.lock(ctx)()
	existing, ok := r.s.state.shipments[shipment.ID]
	if !ok {
		return notFound("shipments.update")
	}
	existing.Status, existing.TrackingNumber, existing.UpdatedAt = shipment.Status, shipment.TrackingNumber, shipment.UpdatedAt
	r.s.state.shipments[shipment.ID] = existing
	return nil
}

func (r shipmentRepository) List(ctx context.Context, orderID string) ([]domain.Shipment, error) {
	defer r.s.lock(ctx)()
	var out []domain.Shipment
	for _, shipment := range r.s.state.shipments {
		if shipment.OrderID == orderID {
			out = append(out, shipment)
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i].CreatedAt.Before(out[j].CreatedAt) })
	return out, nil
}

type paymentRepository struct{ s *Store }

func (r paymentRepository) FindOrCreate(ctx context.Context, payment domain.Payment) (domain.Payment, error) {
	defer r.s.lock(ctx)()
	for _, existing := range r.s.state.payments {
		if existing.OrderID == payment.OrderID && existing.Provider == payment.Provider {
			return existing, nil
		}
	}
	if _, ok := r.s.state.orders[payment.OrderID]; !ok {
		return domain.Payment{}, conflict("payments.find_or_create")
	}
	payment.CreatedAt = nowIfZero(payment.CreatedAt)
	payment.UpdatedAt = payment.CreatedAt
	payment.Refunds = nil
	r.s.state.payments[payment.ID] = payment
	return payment, nil
}

func (r paymentRepository) FindByID(ctx context.Context, paymentID string) (domain.Payment, error) {
	defer r.s.lock(ctx)()
	payment, ok := r.s.state.payments[paymentID]
	if !ok {
		return domain.Payment{}, notFound("payments.find")
	}
	return payment, nil
}

func (r paymentRepository) FindByIDForUpdate(ctx context.Context, paymentID string) (domain.Payment, error) {
	return r.FindByID(ctx, paymentID)
}

func (r paymentRepository) FindByOrderAndProvider(ctx context.Context, orderID string, provider domain.PaymentProvider) (domain.Payment, error) {
	defer r.s.lock(ctx)()
	for _, payment := range r.s.state.payments {
		if payment.OrderID == orderID && payment.Provider == provider {
			return payment, nil
		}
	}
	return domain.Payment{}, notFound("payments.find_order_provider")
}

func (r paymentRepository) FindByProviderReference(ctx context.Context, provider domain.PaymentProvider, reference string) (domain.Payment, error) {
	defer r.s.lock(ctx)()
	for _, payment := range r.s.state.payments {
		if payment.Provider != provider {
			continue
		}
		if (payment.ProviderPaymentID != nil && *payment.ProviderPaymentID == reference) ||
			(payment.ProviderInvoiceID != nil && *payment.ProviderInvoiceID == reference) {
			return payment, nil
		}
	}
	return domain.Payment{}, notFound("payments.find_reference")
}

func (r paymentRepository) ListByOrder(ctx context.Context, orderID string) ([]domain.Payment, error) {
	defer r.s.lock(ctx)()
	var out []domain.Payment
	for _, payment := range r.s.state.payments {
		if payment.OrderID != orderID {
			continue
		}
		payment.Refunds = nil
		for _, refund := range r.s.state.refunds {
			if refund.PaymentID == payment.ID {
				payment.Refunds = append(payment.Refunds, refund)
			}
		}
		sort.Slice(payment.Refunds, func(i, j int) bool { return payment.Refunds[i].CreatedAt.Before(payment.Refunds[j].CreatedAt) })
		out = append(out, payment)
	}
	sort.Slice(out, func(i, j int) bool {
		if out[i].CreatedAt.Equal(out[j].CreatedAt) {
			return out[i].ID < out[j].ID
		}
		return out[i].CreatedAt.Before(out[j].CreatedAt)
	})
	return out, nil
}

func (r paymentRepository) Update(ctx context.Context, payment domain.Payment) error {
	defer r.s.lock(ctx)()
	existing, ok := r.s.state.payments[payment.ID]
	if !ok {
		return notFound("payments.update")
	}
	existing.Status = payment.Status
	if payment.ProviderPaymentID != nil {
		existing.ProviderPaymentID = payment.ProviderPaymentID
	}
	if payment.ProviderInvoiceID != nil {
		existing.ProviderInvoiceID = payment.ProviderInvoiceID
	}
	existing.Raw = payment.Raw
	existing.UpdatedAt = payment.UpdatedAt
	r.s.state.payments[payment.ID] = existing
	return nil
}

type refundRepository struct{ s *Store }

func (r refundRepository) Insert(ctx context.Context, refund domain.Refund) error {
	defer r.s.lock(ctx)()
	if _, ok := r.s.state.payments[refund.PaymentID]; !ok {
		return conflict("refunds.insert")
	}
	r.s.state.refunds[refund.ID] = refund
	return nil
}

func (r refundRepository) FindByID(ctx context.Context, refundID string) (domain.Refund, error) {
	defer r.s.lock(ctx)()
	refund, ok := r.s.state.refunds[refundID]
	if !ok {
		return domain.Refund{}, notFound("refunds.find")
	}
	return refund, nil
}

func (r refundRepository) FindByIDForUpdate(ctx context.Context, refundID string) (domain.Refund, error) {
	return r.FindByID(ctx, refundID)
}

func (r refundRepository) UpdateStatus(ctx context.Context, refundID string, status domain.RefundStatus, updatedAt time.Time) error {
	defer r.s.lock(ctx)()
	refund, ok := r.s.state.refunds[refundID]
	if !ok {
		return notFound("refunds.update_status")
	}
	refund.Status, refund.UpdatedAt = status, updatedAt
	r.s.state.refunds[refundID] = refund
	return nil
}

func (r refundRepository) SumByPayment(ctx context.Context, paymentID string, statuses ...domain.RefundStatus) (int64, error) {
	defer r.s.lock(ctx)()
	var total int64
	for _, refund := range r.s.state.refunds {
		if refund.PaymentID == paymentID && hasStatus(refund.Status, statuses) {
			total += refund.AmountMinor
		}
	}
	return total, nil
}

func (r refundRepository) SumByOrder(ctx context.Context, orderID string, statuses ...domain.RefundStatus) (int64, error) {
	defer r.s.lock(ctx)()
	var total int64
	for _, refund := range r.s.state.refunds {
		payment, ok := r.s.state.payments[refund.PaymentID]
		if ok && payment.OrderID == orderID && hasStatus(refund.Status, statuses) {
			total += refund.AmountMinor
		}
	}
	return total, nil
}

func hasStatus(status domain.RefundStatus, statuses []domain.RefundStatus) bool {
	for _, candidate := range statuses {
		if candidate == status {
			return true
		}
	}
	return false
}

type fxRateRepository struct{ s *Store }

func (r fxRateRepository) Get(ctx context.Context, base, quote domain.Currency) (domain.FxRate, error) {
	defer r.s.lock(ctx)()
	rate, ok := r.s.state.fxRates[fxKey(base, quote)]
	if !ok {
		return domain.FxRate{}, notFound("fx_rates.get")
	}
	return rate, nil
}

func (r fxRateRepository) Upsert(ctx context.Context, rate domain.FxRate) error {
	defer r.s.lock(ctx)()
	if rate.Rate == nil || rate.Rate.Sign() <= 0 {
		return domain.ErrInvalidRate
	}
	r.s.state.fxRates[fxKey(rate.Base, rate.Quote)] = rate
	return nil
}

func (r fxRateRepository) List(ctx context.Context) ([]domain.FxRate, error) {
	defer r.s.lock(ctx)()
	out := make([]domain.FxRate, 0, len(r.s.state.fxRates))
	for _, rate := range r.s.state.fxRates {
		out = append(out, rate)
	}
	sort.Slice(out, func(i, j int) bool { return fxKey(out[i].Base, out[i].Quote) < fxKey(out[j].Base, out[j].Quote) })
	return out, nil
}
