package postgres

import (
	"context"
	"encoding/json"
	"errors"
	"time"

	"github.com/jackc/pgx/v5"

	domain "github.com/op17/storefront-api/internal/domain"
	ppostgres "github.com/op17/storefront-api/internal/platform/postgres"
	"github.com/op17/storefront-api/internal/repositories"
)

const (
	orderColumns = `id, order_number, user_id, email, phone, status, currency, subtotal_eur, discount_eur,
		shipping_eur, total_eur, total_minor, fx_rate::text, shipping_method, shipping_address_id, created_at, updated_at`
	orderItemColumns = `id, order_id, product_id, variant_id, product_name, variant_name, sku, quantity,
		unit_price_eur, total_eur, attributes, created_at`

	defaultOrderListLimit = 50
	maxOrderListLimit     = 200
)

// OrderRepository persists orders and item snapshots.
type OrderRepository struct {
	db *ppostgres.DB
}

// NewOrderRepository constructs a Postgres-backed order repository.
func NewOrderRepository(db *ppostgres.DB) (*OrderRepository, error) {
	if db == nil {
		return nil, errors.New("order repository requires database")
	}
	return &OrderRepository{db: db}, nil
}

var _ repositories.OrderRepository = (*OrderRepository)(nil)

func (r *OrderRepository) Insert(ctx context.Context, order domain.Order) error {
	var fxRate string
	if order.FxRate != nil {
		fxRate = order.FxRate.FloatString(8)
	}
	_, err := r.db.Conn(ctx).Exec(ctx, `
		INSERT INTO orders (id, order_number, user_id, email, phone, status, currency, subtotal_eur, discount_eur,
			shipping_eur, total_eur, total_minor, fx_rate, shipping_method, shipping_address_id, created_at, updated_at)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11, $12, NULLIF($13::text, '')::numeric, $14, $15, $16, $17)`,
		order.ID, order.OrderNumber, order.UserID, order.Email, order.Phone, string(order.Status), string(order.Currency),
		order.SubtotalEur, order.DiscountEur, order.ShippingEur, order.TotalEur, order.TotalMinor, fxRate,
		string(order.ShippingMethod), order.ShippingAddressID, order.CreatedAt, order.UpdatedAt)
	return ppostgres.WrapError("orders.insert", err)
}

func (r *OrderRepository) InsertItems(ctx context.Context, items []domain.OrderItem) error {
	if len(items) == 0 {
		return nil
	}
	batch := &pgx.Batch{}
	for _, item := range items {
		attributes, err := json.Marshal(item.Attributes)
		if err != nil {
			return ppostgres.WrapError("order_items.insert", err)
		}
		batch.Queue(`
			INSERT INTO order_items (`+orderItemColumns+`)
			VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11, $12)`,
			item.ID, item.OrderID, item.ProductID, item.VariantID, item.ProductName, item.VariantName, item.SKU,
			item.Quantity, item.UnitPriceEur, item.TotalEur, attributes, item.CreatedAt)
	}
	results := r.db.Conn(ctx).SendBatch(ctx, batch)
	for range items {
		if _, err := results.Exec(); err != nil {
			_ = results.Close()
			return ppostgres.WrapError("order_items.insert", err)
		}
	}
	return ppostgres.WrapError("order_items.insert", results.Close())
}

func (r *OrderRepository) FindByID(ctx context.Context, orderID string) (domain.Order, error) {
	return r.findOne(ctx, "orders.find", `SELECT `+orderColumns+` FROM orders WHERE id = $1`, orderID)
}

func (r *OrderRepository) FindByIDForUpdate(ctx context.Context, orderID string) (domain.Order, error) {
	return r.findOne(ctx, "orders.find_for_update", `SELECT `+orderColumns+` FROM orders WHERE id = $1 FOR UPDATE`, orderID)
}

func (r *OrderRepository) FindByNumber(ctx context.Context, orderNumber string) (domain.Order, error) {
	return r.findOne(ctx, "orders.find_number", `SELECT `+orderColumns+` FROM orders WHERE order_number = $1`, orderNumber)
}

func (r *OrderRepository) List(ctx context.Context, filter repositories.OrderListFilter) ([]domain.Order, error) {
	limit := filter.Limit
	if limit <= 0 {
		limit = defaultOrderListLimit
	}
	if limit > maxOrderListLimit {
		limit = maxOrderListLimit
	}
	var status *string
	if filter.Status != nil {
		value := string(*filter.Status)
		status = &value
	}
	var (
		afterAt *time.Time
		afterID string
	)
	if filter.After != nil {
		afterAt = &filter.After.CreatedAt
		afterID = filter.After.ID
	}
	rows, err := r.db.Conn(ctx).Query(ctx, `
		SELECT `+orderColumns+` FROM orders
		WHERE ($1::text IS NULL OR status = $1)
		  AND ($3::timestamptz IS NULL OR (created_at, id) < ($3, $4))
		ORDER BY created_at DESC, id DESC
		LIMIT $2`, status, limit, afterAt, afterID)
	if err != nil {
		return nil, ppostgres.WrapError("orders.list", err)
	}
	orders, err := pgx.CollectRows(rows, func(row pgx.CollectableRow) (domain.Order, error) {
		return scanOrder(row)
	})
	if err != nil {
		return nil, ppostgres.WrapError("orders.list", err)
	}
	return orders, nil
}

func (r *OrderRepository) ListItems(ctx context.Context, orderID string) ([]domain.OrderItem, error) {
	rows, err := r.db.Conn(ctx).Query(ctx,
		`SELECT `+orderItemColumns+` FROM order_items WHERE order_id = $1 ORDER BY created_at, id`, orderID)
	if err != nil {
		return nil, ppostgres.WrapError("order_items.list", err)
	}
	items, err := pgx.CollectRows(rows, func(row pgx.CollectableRow) (domain.OrderItem, error) {
		var (
			item       domain.OrderItem
			attributes []byte
		)
		if err := row.Scan(&item.ID, &item.OrderID, &item.ProductID, &item.VariantID, &item.ProductName,
			&item.VariantName, &item.SKU, &item.Quantity, &item.UnitPriceEur, &item.TotalEur, &attributes, &item.CreatedAt); err != nil {
			return item, err
		}
		if len(attributes) > 0 {
			if err := json.Unmarshal(attributes, &item.Attributes); err != nil {
				return item, err
			}
		}
		return item, nil
	})
	if err != nil {
		return nil, ppostgres.WrapError("order_items.list", err)
	}
	return items, nil
}

func (r *OrderRepository) UpdateStatus(ctx context.Context, orderID string, status domain.OrderStatus, updatedAt time.Time) error {
	tag, err := r.db.Conn(ctx).Exec(ctx, `UPDATE orders SET status = $2, updated_at = $3 WHERE id = $1`,
		orderID, string(status), updatedAt)
	if err != nil {
		return ppostgres.WrapError("orders.update_status", err)
	}
	if tag.RowsAffected() == 0 {
		return ppostgres.NotFound("orders.update_status")
	}
	return nil
}

func (r *OrderRepository) CompareAndSetStatus(ctx context.Context, orderID string, expected, next domain.OrderStatus, updatedAt time.Time) (bool, error) {
	tag, err := r.db.Conn(ctx).Exec(ctx, `UPDATE orders SET status = $3, updated_at = $4 WHERE id = $1 AND status = $2`,
		orderID, string(expected), string(next), updatedAt)
	if err != nil {
		return false, ppostgres.WrapError("orders.compare_and_set_status", err)
	}
	return tag.RowsAffected() == 1, nil
}

func (r *OrderRepository) findOne(ctx context.Context, op, query string, arg string) (domain.Order, error) {
	order, err := scanOrder(r.db.Conn(ctx).QueryRow(ctx, query, arg))
	if err != nil {
		return domain.Order{}, ppostgres.WrapError(op, err)
	}
	return order, nil
}

func scanOrder(row pgx.Row) (domain.Order, error) {
	var (
		order                            domain.Order
		status, currency, shippingMethod string
		fxRate                           *string
	)
	err := row.Scan(&order.ID, &order.OrderNumber, &order.UserID, &order.Email, &order.Phone, &status, &currency,
		&order.SubtotalEur, &order.DiscountEur, &order.ShippingEur, &order.TotalEur, &order.TotalMinor, &fxRate,
		&shippingMethod, &order.ShippingAddressID, &order.CreatedAt, &order.UpdatedAt)
	if err != nil {
		return domain.Order{}, err
	}
	order.Status = domain.OrderStatus(status)
	order.Currency = domain.Currency(currency)
	order.ShippingMethod = domain.ShippingMethod(shippingMethod)
	if fxRate != nil {
		rate, err := domain.ParseRate(*fxRate)
		if err != nil {
			return domain.Order{}, err
		}
		order.FxRate = rate
	}
	return order, nil
}
