package repositories

import "fmt"

// InventoryErrorCode enumerates stock mutation failures.
type InventoryErrorCode string

const (
	// InventoryErrorInsufficientStock indicates the conditional decrement matched no row.
	InventoryErrorInsufficientStock InventoryErrorCode = "inventory_insufficient_stock"
	// InventoryErrorVariantNotFound indicates the variant does not exist.
	InventoryErrorVariantNotFound InventoryErrorCode = "inventory_variant_not_found"
)

// InventoryError reports a failed stock mutation for a variant.
type InventoryError struct {
	Code      InventoryErrorCode
	VariantID string
	Quantity  int64
	Err       error
}

// Error implements the error interface.
func (e *InventoryError) Error() string {
	if e == nil {
		return ""
	}
	return fmt.Sprintf("inventory: %s (variant=%s qty=%d)", e.Code, e.VariantID, e.Quantity)
}

// Unwrap exposes the underlying error, if any.
func (e *InventoryError) Unwrap() error {
	if e == nil {
		return nil
	}
	return e.Err
}

// IsNotFound reports whether the variant was missing.
func (e *InventoryError) IsNotFound() bool {
	return e != nil && e.Code == InventoryErrorVariantNotFound
}

// IsConflict reports whether stock was insufficient.
func (e *InventoryError) IsConflict() bool {
	return e != nil && e.Code == InventoryErrorInsufficientStock
}

// IsUnavailable is always false; transport failures surface as backend errors.
func (e *InventoryError) IsUnavailable() bool { return false }

var _ RepositoryError = (*InventoryError)(nil)
