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

// FxRateRepository stores EUR based reference rates.
type FxRateRepository struct {
	db *ppostgres.DB
}

// NewFxRateRepository constructs a Postgres-backed FX rate repository.
func NewFxRateRepository(db *ppostgres.DB) (*FxRateRepository, error) {
	if db == nil {
		return nil, errors.New("fx rate repository requires database")
	}
	return &FxRateRepository{db: db}, nil
}

var _ repositories.FxRateRepository = (*FxRateRepository)(nil)

func (r *FxRateRepository) Get(ctx context.Context, base, quote domain.Currency) (domain.FxRate, error) {
	rate, err := scanFxRate(r.db.Conn(ctx).QueryRow(ctx,
		`SELECT base, quote, rate::text, source, as_of FROM fx_rates WHERE base = $1 AND quote = $2`,
		string(base), string(quote)))
	if err != nil {
		return domain.FxRate{}, ppostgres.WrapError("fx_rates.get", err)
	}
	return rate, nil
}

func (r *FxRateRepository) Upsert(ctx context.Context, rate domain.FxRate) error {
	if rate.Rate == nil || rate.Rate.Sign() <= 0 {
		return ppostgres.WrapError("fx_rates.upsert", domain.ErrInvalidRate)
	}
	_, err := r.db.Conn(ctx).Exec(ctx, `
		INSERT INTO fx_rates (base, quote, rate, source, as_of, updated_at)
		VALUES ($1, $2, $3::text::numeric, $4, $5, $6)
		ON CONFLICT (base, quote) DO UPDATE
		SET rate = EXCLUDED.rate, source = EXCLUDED.source, as_of = EXCLUDED.as_of, updated_at = EXCLUDED.updated_at`,
		string(rate.Base), string(rate.Quote), rate.Rate.FloatString(8), rate.Source, rate.AsOf, time.Now().UTC())
	return ppostgres.WrapError("fx_rates.upsert", err)
}

func (r *FxRateRepository) List(ctx context.Context) ([]domain.FxRate, error) {
	rows, err := r.db.Conn(ctx).Query(ctx, `SELECT base, quote, rate::text, source, as_of FROM fx_rates ORDER BY base, quote`)
	if err != nil {
		return nil, ppostgres.WrapError("fx_rates.list", err)
	}
	rates, err := pgx.CollectRows(rows, func(row pgx.CollectableRow) (domain.FxRate, error) {
		return scanFxRate(row)
	})
	if err != nil {
		return nil, ppostgres.WrapError("fx_rates.list", err)
	}
	return rates, nil
}

func scanFxRate(row pgx.Row) (domain.FxRate, error) {
	var (
		out               domain.FxRate
		base, quote, rate string
	)
	if err := row.Scan(&base, &quote, &rate, &out.Source, &out.AsOf); err != nil {
		return domain.FxRate{}, err
	}
	parsed, err := domain.ParseRate(rate)
	if err != nil {
		return domain.FxRate{}, err
	}
	out.Base, out.Quote, out.Rate = domain.Currency(base), domain.Currency(quote), parsed
	return out, nil
}
