package postgres

import (
	"context"
	"errors"
	"time"

	"github.com/jackc/pgx/v5"

	domain "github.com/op17/storefront-api/internal/domain"
	ppostgres "github.com/op17/storefront-api/internal/platform/postgres"
	"github.com/op17/storefront-api/internal/repositories"
)

const cartItemColumns = `id, cart_id, variant_id, quantity, unit_price_eur, created_at, updated_at`

// CartRepository persists carts and cart items.
type CartRepository struct {
	db      *ppostgres.DB
	catalog *CatalogRepository
}

// NewCartRepository constructs a Postgres-backed cart repository.
func NewCartRepository(db *ppostgres.DB, catalog *CatalogRepository) (*CartRepository, error) {
	if db == nil || catalog == nil {
		return nil, errors.New("cart repository requires database and catalog")
	}
	return &CartRepository{db: db, catalog: catalog}, nil
}

var _ repositories.CartRepository = (*CartRepository)(nil)

func (r *CartRepository) FindByOwner(ctx context.Context, owner repositories.CartOwner) (domain.Cart, error) {
	var (
		query string
		arg   string
	)
	switch {
	case owner.UserID != "":
		query, arg = `SELECT id, user_id, session_token, created_at, updated_at FROM carts WHERE user_id = $1`, owner.UserID
	case owner.SessionToken != "":
		query, arg = `SELECT id, user_id, session_token, created_at, updated_at FROM carts WHERE session_token = $1`, owner.SessionToken
	default:
		return domain.Cart{}, ppostgres.NotFound("carts.find")
	}

	var cart domain.Cart
	err := r.db.Conn(ctx).QueryRow(ctx, query, arg).Scan(&cart.ID, &cart.UserID, &cart.SessionToken, &cart.CreatedAt, &cart.UpdatedAt)
	if err != nil {
		return domain.Cart{}, ppostgres.WrapError("carts.find", err)
	}
	return cart, nil
}

func (r *CartRepository) CreateIfAbsent(ctx context.Context, cart domain.Cart) (domain.Cart, error) {
	now := cart.CreatedAt
	if now.IsZero() {
		now = time.Now().UTC()
	}
	_, err := r.db.Conn(ctx).Exec(ctx, `
		INSERT INTO carts (id, user_id, session_token, created_at, updated_at)
		VALUES ($1, $2, $3, $4, $4)
		ON CONFLICT DO NOTHING`,
		cart.ID, cart.UserID, cart.SessionToken, now)
	if err != nil {
		return domain.Cart{}, ppostgres.WrapError("carts.create", err)
	}

	owner := repositories.CartOwner{}
	if cart.UserID != nil {
		owner.UserID = *cart.UserID
	} else if cart.SessionToken != nil {
		owner.SessionToken = *cart.SessionToken
	}
	return r.FindByOwner(ctx, owner)
}

func (r *CartRepository) ListItems(ctx context.Context, cartID string) ([]domain.CartItem, error) {
	rows, err := r.db.Conn(ctx).Query(ctx,
		`SELECT `+cartItemColumns+` FROM cart_items WHERE cart_id = $1 ORDER BY created_at, id`, cartID)
	if err != nil {
		return nil, ppostgres.WrapError("cart_items.list", err)
	}
	items, err := pgx.CollectRows(rows, func(row pgx.CollectableRow) (domain.CartItem, error) {
		return scanCartItem(row)
	})
	if err != nil {
		return nil, ppostgres.WrapError("cart_items.list", err)
	}

	variantIDs := make([]string, 0, len(items))
	for _, item := range items {
		variantIDs = append(variantIDs, item.VariantID)
	}
	lines, err := r.catalog.GetVariantLines(ctx, variantIDs)
	if err != nil {
		return nil, err
	}
	for i := range items {
		if line, ok := lines[items[i].VariantID]; ok {
			line := line
			items[i].Line = &line
		}
	}
	return items, nil
}

func (r *CartRepository) FindItem(ctx context.Context, cartID, itemID string) (domain.CartItem, error) {
	row := r.db.Conn(ctx).QueryRow(ctx,
		`SELECT `+cartItemColumns+` FROM cart_items WHERE cart_id = $1 AND id = $2`, cartID, itemID)
	item, err := scanCartItem(row)
	if err != nil {
		return domain.CartItem{}, ppostgres.WrapError("cart_items.find", err)
	}
	return item, nil
}

func (r *CartRepository) FindItemByVariant(ctx context.Context, cartID, variantID string) (domain.CartItem, error) {
	row := r.db.Conn(ctx).QueryRow(ctx,
		`SELECT `+cartItemColumns+` FROM cart_items WHERE cart_id = $1 AND variant_id = $2`, cartID, variantID)
	item, err := scanCartItem(row)
	if err != nil {
		return domain.CartItem{}, ppostgres.WrapError("cart_items.find_variant", err)
	}
	return item, nil
}

func (r *CartRepository) AddItem(ctx context.Context, item domain.CartItem) (domain.CartItem, error) {
	now := item.UpdatedAt
	if now.IsZero() {
		now = time.Now().UTC()
	}
	row := r.db.Conn(ctx).QueryRow(ctx, `
		INSERT INTO cart_items (id, cart_id, variant_id, quantity, unit_price_eur, created_at, updated_at)
		VALUES ($1, $2, $3, $4, $5, $6, $6)
		ON CONFLICT (cart_id, variant_id) DO UPDATE
		SET quantity = cart_items.quantity + EXCLUDED.quantity,
		    unit_price_eur = EXCLUDED.unit_price_eur,
		    updated_at = EXCLUDED.updated_at
		RETURNING `+cartItemColumns,
		item.ID, item.CartID, item.VariantID, item.Quantity, item.UnitPriceEur, now)
	stored, err := scanCartItem(row)
	if err != nil {
		return domain.CartItem{}, ppostgres.WrapError("cart_items.add", err)
	}
	if _, err := r.db.Conn(ctx).Exec(ctx, `UPDATE carts SET updated_at = $2 WHERE id = $1`, item.CartID, now); err != nil {
		return domain.CartItem{}, ppostgres.WrapError("cart_items.add", err)
	}
	return stored, nil
}

func (r *CartRepository) SetItemQuantity(ctx context.Context, cartID, itemID string, quantity, unitPriceEur int64, updatedAt time.Time) (domain.CartItem, error) {
	row := r.db.Conn(ctx).QueryRow(ctx, `
		UPDATE cart_items SET quantity = $3, unit_price_eur = $4, updated_at = $5
		WHERE cart_id = $1 AND id = $2
		RETURNING `+cartItemColumns,
		cartID, itemID, quantity, unitPriceEur, updatedAt)
	item, err := scanCartItem(row)
	if err != nil {
		return domain.CartItem{}, ppostgres.WrapError("cart_items.set_quantity", err)
	}
	return item, nil
}

func (r *CartRepository) DeleteItem(ctx context.Context, cartID, itemID string) error {
	tag, err := r.db.Conn(ctx).Exec(ctx, `DELETE FROM cart_items WHERE cart_id = $1 AND id = $2`, cartID, itemID)
	if err != nil {
		return ppostgres.WrapError("cart_items.delete", err)
	}
	if tag.RowsAffected() == 0 {
		return ppostgres.NotFound("cart_items.delete")
	}
	return nil
}

func (r *CartRepository) ClearItems(ctx context.Context, cartID string) error {
	if _, err := r.db.Conn(ctx).Exec(ctx, `DELETE FROM cart_items WHERE cart_id = $1`, cartID); err != nil {
		return ppostgres.WrapError("cart_items.clear", err)
	}
	return nil
}

func (r *CartRepository) LockForUpdate(ctx context.Context, cartID string) error {
	var id string
	if err := r.db.Conn(ctx).QueryRow(ctx, `SELECT id FROM carts WHERE id = $1 FOR UPDATE`, cartID).Scan(&id); err != nil {
		return ppostgres.WrapError("carts.lock", err)
	}
	return nil
}

func scanCartItem(row pgx.Row) (domain.CartItem, error) {
	var item domain.CartItem
	err := row.Scan(&item.ID, &item.CartID, &item.VariantID, &item.Quantity, &item.UnitPriceEur, &item.CreatedAt, &item.UpdatedAt)
	return item, err
}
