package services

import (
	"context"
	"errors"
	"math/big"
	"testing"
	"time"

	domain "github.com/op17/storefront-api/internal/domain"
	"github.com/op17/storefront-api/internal/fx"
	"github.com/op17/storefront-api/internal/repositories/memory"
)

type stubRateFetcher struct {
	rates fx.Rates
	err   error
	calls int
}

func (s *stubRateFetcher) Fetch(context.Context) (fx.Rates, error) {
	s.calls++
	return s.rates, s.err
}

func newTestFxService(t *testing.T, store *memory.Store, fetcher RateFetcher) FxService {
	t.Helper()
	svc, err := NewFxService(FxServiceDeps{Rates: store.FxRates(), Fetcher: fetcher, Clock: fixedClock})
	if err != nil {
		t.Fatalf("NewFxService: %v", err)
	}
	return svc
}

func TestFxServiceRefreshStoresTargets(t *testing.T) {
	store := memory.NewStore()
	asOf := time.Date(2026, time.February, 27, 0, 0, 0, 0, time.UTC)
	fetcher := &stubRateFetcher{rates: fx.Rates{
		AsOf:  asOf,
		Rates: map[domain.Currency]*big.Rat{
			domain.CurrencyUSD: big.NewRat(1082, 1000),
			domain.CurrencyUAH: big.NewRat(451234, 10000),
			"JPY":              big.NewRat(162, 1),
		},
	}}
	svc := newTestFxService(t, store, fetcher)

	stored, err := svc.Refresh(context.Background())
	if err != nil {
		t.Fatalf("Refresh: %v", err)
	}
	if len(stored) != 2 {
		t.Fatalf("expected USD and UAH only, got %d rates", len(stored))
	}

	usd, err := svc.Rate(context.Background(), domain.CurrencyUSD)
	if err != nil {
		t.Fatalf("Rate USD: %v", err)
	}
	if usd.Rate.Cmp(big.NewRat(1082, 1000)) != 0 || usd.Source != fx.Source || !usd.AsOf.Equal(asOf) {
		t.Fatalf("unexpected USD rate %+v", usd)
	}
}

func TestFxServiceRefreshKeepsMissingTargets(t *testing.T) {
	store := memory.NewStore()
	store.PutFxRate(domain.FxRate{Base: domain.CurrencyEUR, Quote: domain.CurrencyUAH, Rate: big.NewRat(44, 1), Source: fx.Source, AsOf: fixedNow})
	fetcher := &stubRateFetcher{rates: fx.Rates{Rates: map[domain.Currency]*big.Rat{
		domain.CurrencyUSD: big.NewRat(11, 10),
	}}}
	svc := newTestFxService(t, store, fetcher)

	stored, err := svc.Refresh(context.Background())
	if err != nil {
		t.Fatalf("Refresh: %v", err)
	}
	if len(stored) != 1 || !stored[0].AsOf.Equal(fixedNow) {
		t.Fatalf("expected USD stamped with clock, got %+v", stored)
	}
	uah, err := svc.Rate(context.Background(), domain.CurrencyUAH)
	if err != nil {
		t.Fatalf("Rate UAH: %v", err)
	}
	if uah.Rate.Cmp(big.NewRat(44, 1)) != 0 {
		t.Fatalf("expected previous UAH rate kept, got %s", uah.Rate.FloatString(4))
	}
}

func TestFxServiceRefreshFetchFailure(t *testing.T) {
	svc := newTestFxService(t, memory.NewStore(), &stubRateFetcher{err: fx.ErrFetchFailed})
	_, err := svc.Refresh(context.Background())
	if !errors.Is(err, ErrFxUnavailable) || !errors.Is(err, fx.ErrFetchFailed) {
		t.Fatalf("expected ErrFxUnavailable wrapping fetch error, got %v", err)
	}
}

func TestFxServiceRate(t *testing.T) {
	svc := newTestFxService(t, memory.NewStore(), &stubRateFetcher{})

	eur, err := svc.Rate(context.Background(), domain.CurrencyEUR)
	if err != nil || eur.Rate.Cmp(big.NewRat(1, 1)) != 0 {
		t.Fatalf("expected EUR identity rate, got %+v / %v", eur, err)
	}
	if _, err := svc.Rate(context.Background(), domain.CurrencyUSD); !errors.Is(err, ErrFxRateNotFound) {
		t.Fatalf("expected ErrFxRateNotFound, got %v", err)
	}
	if _, err := svc.Rate(context.Background(), "GBP"); !errors.Is(err, ErrFxInvalidInput) {
		t.Fatalf("expected ErrFxInvalidInput, got %v", err)
	}
}
