package services

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/google/uuid"

	domain "github.com/op17/storefront-api/internal/domain"
	"github.com/op17/storefront-api/internal/repositories"
)

var (
	errCartRepositoryRequired = errors.New("cart service: cart repository is required")
	errCartCatalogRequired    = errors.New("cart service: catalog repository is required")
)

// ErrCartInvalidInput indicates the caller supplied invalid input.
var ErrCartInvalidInput = errors.New("cart service: invalid input")

// ErrCartUnavailable indicates the cart service cannot fulfil the request due to backend issues.
var ErrCartUnavailable = errors.New("cart service: unavailable")

// ErrCartNotFound indicates the requested cart does not exist.
var ErrCartNotFound = errors.New("cart service: not found")

// ErrCartVariantNotFound indicates the variant is not in the catalog.
var ErrCartVariantNotFound = errors.New("cart service: variant not found")

// ErrCartOutOfStock is wrapped in a *StockError when the requested quantity exceeds stock.
var ErrCartOutOfStock = errors.New("cart service: out of stock")

// ErrCartItemNotFound indicates the item does not belong to the cart.
var ErrCartItemNotFound = errors.New("cart service: item not found")

// CartServiceDeps wires the repositories used by cart operations.
type CartServiceDeps struct {
	Carts          repositories.CartRepository
	Catalog        repositories.CatalogRepository
	UnitOfWork     repositories.UnitOfWork
	Clock          func() time.Time
	Logger         func(context.Context, string, map[string]any)
	IDGenerator    func() string
	TokenGenerator func() string
}

type cartService struct {
	carts    repositories.CartRepository
	catalog  repositories.CatalogRepository
	uow      repositories.UnitOfWork
	now      func() time.Time
	logger   func(context.Context, string, map[string]any)
	newID    func() string
	newToken func() string
}

// NewCartService constructs a CartService enforcing dependency validation.
func NewCartService(deps CartServiceDeps) (CartService, error) {
	if deps.Carts == nil {
		return nil, errCartRepositoryRequired
	}
	if deps.Catalog == nil {
		return nil, errCartCatalogRequired
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
	tokenGen := deps.TokenGenerator
	if tokenGen == nil {
		tokenGen = newSessionToken
	}
	return &cartService{
		carts:    deps.Carts,
		catalog:  deps.Catalog,
		uow:      deps.UnitOfWork,
		now:      func() time.Time { return clock().UTC() },
		logger:   logger,
		newID:    idGen,
		newToken: tokenGen,
	}, nil
}

// newSessionToken returns 32 hex characters.
func newSessionToken() string {
	return strings.ReplaceAll(uuid.NewString(), "-", "")
}

// Resolve returns the caller's cart, creating it on first use. A blank owner gets a fresh session token.
func (s *cartService) Resolve(ctx context.Context, owner CartOwner) (Cart, error) {
	if s == nil || s.carts == nil {
		return Cart{}, ErrCartUnavailable
	}
	repoOwner := s.repoOwner(owner)
	if repoOwner.UserID == "" && repoOwner.SessionToken == "" {
		repoOwner.SessionToken = s.newToken()
	}

	cart, err := s.carts.FindByOwner(ctx, repoOwner)
	switch {
	case err == nil:
	case isRepoNotFound(err):
		now := s.now()
		cart, err = s.carts.CreateIfAbsent(ctx, domain.Cart{
			ID:           s.newID(),
			UserID:       stringPtr(repoOwner.UserID),
			SessionToken: stringPtr(repoOwner.SessionToken),
			CreatedAt:    now,
			UpdatedAt:    now,
		})
		if err != nil {
			return Cart{}, s.translateRepoError(err)
		}
		s.logger(ctx, "cart.created", map[string]any{
			"cartId":    cart.ID,
			"anonymous": repoOwner.UserID == "",
		})
	default:
		return Cart{}, s.translateRepoError(err)
	}
	return s.hydrate(ctx, cart)
}

// Get returns the caller's existing cart without creating one.
func (s *cartService) Get(ctx context.Context, owner CartOwner) (Cart, error) {
	if s == nil || s.carts == nil {
		return Cart{}, ErrCartUnavailable
	}
	repoOwner := s.repoOwner(owner)
	if repoOwner.UserID == "" && repoOwner.SessionToken == "" {
		return Cart{}, ErrCartNotFound
	}
	cart, err := s.carts.FindByOwner(ctx, repoOwner)
	if err != nil {
		return Cart{}, s.translateRepoError(err)
	}
	return s.hydrate(ctx, cart)
}

func (s *cartService) AddItem(ctx context.Context, cmd AddCartItemCommand) (CartItem, error) {
	if s == nil || s.carts == nil {
		return CartItem{}, ErrCartUnavailable
	}
	cartID := strings.TrimSpace(cmd.CartID)
	variantID := strings.TrimSpace(cmd.VariantID)
	if cartID == "" || variantID == "" {
		return CartItem{}, fmt.Errorf("%w: cart and variant are required", ErrCartInvalidInput)
	}
	if cmd.Quantity < 1 {
		return CartItem{}, fmt.Errorf("%w: quantity must be at least 1", ErrCartInvalidInput)
	}

	var saved CartItem
	err := runInTx(ctx, s.uow, func(txCtx context.Context) error {
		line, err := s.catalog.GetVariantLine(txCtx, variantID)
		if err != nil {
			if isRepoNotFound(err) {
				return ErrCartVariantNotFound
			}
			return s.translateRepoError(err)
		}

		var existing int64
		current, err := s.carts.FindItemByVariant(txCtx, cartID, variantID)
		switch {
		case err == nil:
			existing = current.Quantity
		case isRepoNotFound(err):
		default:
			return s.translateRepoError(err)
		}
		if err := checkCartStock(line, existing+cmd.Quantity); err != nil {
			return err
		}

		now := s.now()
		item, err := s.carts.AddItem(txCtx, domain.CartItem{
			ID:           s.newID(),
			CartID:       cartID,
			VariantID:    variantID,
			Quantity:     cmd.Quantity,
			UnitPriceEur: line.UnitPriceEur(),
			CreatedAt:    now,
			UpdatedAt:    now,
		})
		if err != nil {
			if isRepoConflict(err) {
				return ErrCartNotFound
			}
			return s.translateRepoError(err)
		}
		item.Line = &line
		saved = item
		return nil
	})
	if err != nil {
		return CartItem{}, err
	}

	s.logger(ctx, "cart.item.added", map[string]any{
		"cartId":    cartID,
		"variantId": variantID,
		"quantity":  saved.Quantity,
	})
	return saved, nil
}

// UpdateItem sets an absolute quantity. Zero or less removes the item and returns nil.
func (s *cartService) UpdateItem(ctx context.Context, cmd UpdateCartItemCommand) (*CartItem, error) {
	if s == nil || s.carts == nil {
		return nil, ErrCartUnavailable
	}
	cartID := strings.TrimSpace(cmd.CartID)
	itemID := strings.TrimSpace(cmd.ItemID)
	if cartID == "" || itemID == "" {
		return nil, fmt.Errorf("%w: cart and item are required", ErrCartInvalidInput)
	}

	var result *CartItem
	err := runInTx(ctx, s.uow, func(txCtx context.Context) error {
		current, err := s.carts.FindItem(txCtx, cartID, itemID)
		if err != nil {
			if isRepoNotFound(err) {
				return ErrCartItemNotFound
			}
			return s.translateRepoError(err)
		}
		if cmd.Quantity <= 0 {
			if err := s.carts.DeleteItem(txCtx, cartID, itemID); err != nil {
				if isRepoNotFound(err) {
					return ErrCartItemNotFound
				}
				return s.translateRepoError(err)
			}
			return nil
		}

		line, err := s.catalog.GetVariantLine(txCtx, current.VariantID)
		if err != nil {
			if isRepoNotFound(err) {
				return ErrCartVariantNotFound
			}
			return s.translateRepoError(err)
		}
		if err := checkCartStock(line, cmd.Quantity); err != nil {
			return err
		}
		item, err := s.carts.SetItemQuantity(txCtx, cartID, itemID, cmd.Quantity, line.UnitPriceEur(), s.now())
		if err != nil {
			if isRepoNotFound(err) {
				return ErrCartItemNotFound
			}
			return s.translateRepoError(err)
		}
		item.Line = &line
		result = &item
		return nil
	})
	if err != nil {
		return nil, err
	}
	return result, nil
}

func (s *cartService) RemoveItem(ctx context.Context, cartID, itemID string) error {
	if s == nil || s.carts == nil {
		return ErrCartUnavailable
	}
	cartID = strings.TrimSpace(cartID)
	itemID = strings.TrimSpace(itemID)
	if cartID == "" || itemID == "" {
		return fmt.Errorf("%w: cart and item are required", ErrCartInvalidInput)
	}
	if err := s.carts.DeleteItem(ctx, cartID, itemID); err != nil {
		if isRepoNotFound(err) {
			return ErrCartItemNotFound
		}
		return s.translateRepoError(err)
	}
	return nil
}

func (s *cartService) repoOwner(owner CartOwner) repositories.CartOwner {
	if actor := strings.TrimSpace(owner.ActorID); actor != "" {
		return repositories.CartOwner{UserID: actor}
	}
	return repositories.CartOwner{SessionToken: strings.TrimSpace(owner.SessionToken)}
}

func (s *cartService) hydrate(ctx context.Context, cart Cart) (Cart, error) {
	items, err := s.carts.ListItems(ctx, cart.ID)
	if err != nil {
		return Cart{}, s.translateRepoError(err)
	}
	cart.Items = items
	return cart, nil
}

func (s *cartService) translateRepoError(err error) error {
	switch {
	case err == nil:
		return nil
	case isRepoNotFound(err):
		return ErrCartNotFound
	case isRepoUnavailable(err):
		return fmt.Errorf("%w: %v", ErrCartUnavailable, err)
	default:
		return fmt.Errorf("cart service: %w", err)
	}
}

func checkCartStock(line domain.CatalogLine, quantity int64) error {
	if line.BackorderPolicy() != domain.BackorderDisallow {
		return nil
	}
	if quantity > line.Variant.Stock {
		return &StockError{SKU: line.Variant.SKU, VariantID: line.Variant.ID, Err: ErrCartOutOfStock}
	}
	return nil
}
