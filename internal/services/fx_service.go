package services

import (
	"context"
	"errors"
	"fmt"
	"math/big"
	"time"

	domain "github.com/op17/storefront-api/internal/domain"
	"github.com/op17/storefront-api/internal/fx"
	"github.com/op17/storefront-api/internal/repositories"
)

var (
	errFxRepositoryRequired = errors.New("fx service: rate repository is required")
	errFxFetcherRequired    = errors.New("fx service: fetcher is required")
)

var (
	// ErrFxUnavailable indicates the upstream feed or the store failed.
	ErrFxUnavailable = errors.New("fx: unavailable")
	// ErrFxRateNotFound indicates no rate is stored for the currency.
	ErrFxRateNotFound = errors.New("fx: rate not found")
	// ErrFxInvalidInput indicates an unsupported currency.
	ErrFxInvalidInput = errors.New("fx: invalid input")
)

// defaultFxTargets are the settlement currencies priced from EUR.
var defaultFxTargets = []domain.Currency{domain.CurrencyUSD, domain.CurrencyUAH}

// RateFetcher downloads the current EUR reference rates.
type RateFetcher interface {
	Fetch(ctx context.Context) (fx.Rates, error)
}

// FxServiceDeps wires the fetcher and rate repository.
type FxServiceDeps struct {
	Rates   repositories.FxRateRepository
	Fetcher RateFetcher
	Targets []domain.Currency
	Clock   func() time.Time
	Logger  func(context.Context, string, map[string]any)
}

type fxService struct {
	rates   repositories.FxRateRepository
	fetcher RateFetcher
	targets []domain.Currency
	now     func() time.Time
	logger  func(context.Context, string, map[string]any)
}

// NewFxService constructs an FxService.
func NewFxService(deps FxServiceDeps) (FxService, error) {
	if deps.Rates == nil {
		return nil, errFxRepositoryRequired
	}
	if deps.Fetcher == nil {
		return nil, errFxFetcherRequired
	}
	targets := deps.Targets
	if len(targets) == 0 {
		targets = defaultFxTargets
	}
	clock := deps.Clock
	if clock == nil {
		clock = time.Now
	}
	logger := deps.Logger
	if logger == nil {
		logger = noopLogger
	}
	return &fxService{
		rates:   deps.Rates,
		fetcher: deps.Fetcher,
		targets: append([]domain.Currency(nil), targets...),
		now:     func() time.Time { return clock().UTC() },
		logger:  logger,
	}, nil
}

// Refresh stores the targets present in today's feed. Targets missing from the feed keep their previous rate.
func (s *fxService) Refresh(ctx context.Context) ([]FxRate, error) {
	snapshot, err := s.fetcher.Fetch(ctx)
	if err != nil {
		return nil, fmt.Errorf("%w: %w", ErrFxUnavailable, err)
	}
	asOf := snapshot.AsOf
	if asOf.IsZero() {
		asOf = s.now()
	}

	stored := make([]FxRate, 0, len(s.targets))
	skipped := make([]string, 0)
	for _, quote := range s.targets {
		value, ok := snapshot.Rates[quote]
		if !ok || value == nil || value.Sign() <= 0 {
			skipped = append(skipped, string(quote))
			continue
		}
		rate := domain.FxRate{
			Base:   domain.CurrencyEUR,
			Quote:  quote,
			Rate:   new(big.Rat).Set(value),
			Source: fx.Source,
			AsOf:   asOf,
		}
		if err := s.rates.Upsert(ctx, rate); err != nil {
			return nil, fmt.Errorf("%w: store EUR/%s: %v", ErrFxUnavailable, quote, err)
		}
		stored = append(stored, rate)
	}

	s.logger(ctx, "fx.refreshed", map[string]any{
		"asOf":    asOf,
		"stored":  len(stored),
		"skipped": skipped,
	})
	return stored, nil
}

// Rate returns the EUR based rate for quote. EUR itself is always 1.
func (s *fxService) Rate(ctx context.Context, quote domain.Currency) (FxRate, error) {
	currency, err := domain.ParseCurrency(string(quote))
	if err != nil {
		return FxRate{}, fmt.Errorf("%w: %v", ErrFxInvalidInput, err)
	}
	if currency == domain.CurrencyEUR {
		return FxRate{
			Base:  domain.CurrencyEUR,
			Quote: domain.CurrencyEUR,
			Rate:  big.NewRat(1, 1),
			AsOf:  s.now(),
		}, nil
	}
	rate, err := s.rates.Get(ctx, domain.CurrencyEUR, currency)
	if err != nil {
		if isRepoNotFound(err) {
			return FxRate{}, ErrFxRateNotFound
		}
		return FxRate{}, fmt.Errorf("%w: %v", ErrFxUnavailable, err)
	}
	return rate, nil
}
