package services

import (
	"context"
	"errors"
	"fmt"

	"github.com/oklog/ulid/v2"

	"github.com/op17/storefront-api/internal/repositories"
)

// StockError names the SKU that could not be satisfied.
type StockError struct {
	SKU       string
	VariantID string
	Err       error
}

func (e *StockError) Error() string {
	if e == nil {
		return ""
	}
	return fmt.Sprintf("%v: %s", e.Err, e.SKU)
}

func (e *StockError) Unwrap() error {
	if e == nil {
		return nil
	}
	return e.Err
}

func isRepoNotFound(err error) bool {
	var repoErr repositories.RepositoryError
	if errors.As(err, &repoErr) {
		return repoErr.IsNotFound()
	}
	return false
}

func isRepoConflict(err error) bool {
	var repoErr repositories.RepositoryError
	if errors.As(err, &repoErr) {
		return repoErr.IsConflict()
	}
	return false
}

func isRepoUnavailable(err error) bool {
	var repoErr repositories.RepositoryError
	if errors.As(err, &repoErr) {
		return repoErr.IsUnavailable()
	}
	return errors.Is(err, context.DeadlineExceeded)
}

func runInTx(ctx context.Context, uow repositories.UnitOfWork, fn func(ctx context.Context) error) error {
	if uow == nil {
		return fn(ctx)
	}
	return uow.RunInTx(ctx, fn)
}

func defaultIDGenerator() string { return ulid.Make().String() }

func noopLogger(context.Context, string, map[string]any) {}

func stringPtr(value string) *string {
	if value == "" {
		return nil
	}
	return &value
}
