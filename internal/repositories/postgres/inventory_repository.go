package postgres

import (
	"context"
	"errors"

	ppostgres "github.com/op17/storefront-api/internal/platform/postgres"
	"github.com/op17/storefront-api/internal/repositories"
)

// InventoryRepository applies conditional stock decrements.
type InventoryRepository struct {
	db *ppostgres.DB
}

// NewInventoryRepository constructs a Postgres-backed inventory repository.
func NewInventoryRepository(db *ppostgres.DB) (*InventoryRepository, error) {
	if db == nil {
		return nil, errors.New("inventory repository requires database")
	}
	return &InventoryRepository{db: db}, nil
}

var _ repositories.InventoryRepository = (*InventoryRepository)(nil)

func (r *InventoryRepository) DecrementStock(ctx context.Context, variantID string, quantity int64) error {
	if quantity <= 0 {
		return &repositories.InventoryError{Code: repositories.InventoryErrorInsufficientStock, VariantID: variantID, Quantity: quantity,
			Err: errors.New("quantity must be positive")}
	}
	tag, err := r.db.Conn(ctx).Exec(ctx,
		`UPDATE variants SET stock = stock - $2 WHERE id = $1 AND stock >= $2`,
		variantID, quantity)
	if err != nil {
		return ppostgres.WrapError("inventory.decrement", err)
	}
	if tag.RowsAffected() == 1 {
		return nil
	}

	var exists bool
	if err := r.db.Conn(ctx).QueryRow(ctx, `SELECT EXISTS(SELECT 1 FROM variants WHERE id = $1)`, variantID).Scan(&exists); err != nil {
		return ppostgres.WrapError("inventory.decrement", err)
	}
	code := repositories.InventoryErrorInsufficientStock
	if !exists {
		code = repositories.InventoryErrorVariantNotFound
	}
	return &repositories.InventoryError{Code: code, VariantID: variantID, Quantity: quantity}
}
