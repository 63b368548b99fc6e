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

const paymentColumns = `id, order_id, provider, status, amount_minor, currency, provider_payment_id,
	provider_invoice_id, raw, created_at, updated_at`

// PaymentRepository persists provider payments.
type PaymentRepository struct {
	db      *ppostgres.DB
	refunds *RefundRepository
}

// NewPaymentRepository constructs a Postgres-backed payment repository.
func NewPaymentRepository(db *ppostgres.DB, refunds *RefundRepository) (*PaymentRepository, error) {
	if db == nil || refunds == nil {
		return nil, errors.New("payment repository requires database and refund repository")
	}
	return &PaymentRepository{db: db, refunds: refunds}, nil
}

var _ repositories.PaymentRepository = (*PaymentRepository)(nil)

func (r *PaymentRepository) FindOrCreate(ctx context.Context, p domain.Payment) (domain.Payment, error) {
	raw, err := encodeRaw(p.Raw)
	if err != nil {
		return domain.Payment{}, ppostgres.WrapError("payments.find_or_create", err)
	}
	now := p.CreatedAt
	if now.IsZero() {
		now = time.Now().UTC()
	}
	_, err = r.db.Conn(ctx).Exec(ctx, `
		INSERT INTO payments (`+paymentColumns+`)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $10)
		ON CONFLICT (order_id, provider) DO NOTHING`,
		p.ID, p.OrderID, string(p.Provider), string(p.Status), p.AmountMinor, string(p.Currency),
		p.ProviderPaymentID, p.ProviderInvoiceID, raw, now)
	if err != nil {
		return domain.Payment{}, ppostgres.WrapError("payments.find_or_create", err)
	}
	return r.FindByOrderAndProvider(ctx, p.OrderID, p.Provider)
}

func (r *PaymentRepository) FindByID(ctx context.Context, paymentID string) (domain.Payment, error) {
	return r.findOne(ctx, "payments.find", `SELECT `+paymentColumns+` FROM payments WHERE id = $1`, paymentID)
}

func (r *PaymentRepository) FindByIDForUpdate(ctx context.Context, paymentID string) (domain.Payment, error) {
	return r.findOne(ctx, "payments.find_for_update", `SELECT `+paymentColumns+` FROM payments WHERE id = $1 FOR UPDATE`, paymentID)
}

func (r *PaymentRepository) FindByOrderAndProvider(ctx context.Context, orderID string, provider domain.PaymentProvider) (domain.Payment, error) {
	return r.findOne(ctx, "payments.find_order_provider",
		`SELECT `+paymentColumns+` FROM payments WHERE order_id = $1 AND provider = $2`, orderID, string(provider))
}

func (r *PaymentRepository) FindByProviderReference(ctx context.Context, provider domain.PaymentProvider, reference string) (domain.Payment, error) {
	return r.findOne(ctx, "payments.find_reference", `
		SELECT `+paymentColumns+` FROM payments
		WHERE provider = $1 AND (provider_payment_id = $2 OR provider_invoice_id = $2)
		ORDER BY created_at LIMIT 1`, string(provider), reference)
}

func (r *PaymentRepository) ListByOrder(ctx context.Context, orderID string) ([]domain.Payment, error) {
	rows, err := r.db.Conn(ctx).Query(ctx,
		`SELECT `+paymentColumns+` FROM payments WHERE order_id = $1 ORDER BY created_at, id`, orderID)
	if err != nil {
		return nil, ppostgres.WrapError("payments.list", err)
	}
	payments, err := pgx.CollectRows(rows, func(row pgx.CollectableRow) (domain.Payment, error) {
		return scanPayment(row)
	})
	if err != nil {
		return nil, ppostgres.WrapError("payments.list", err)
	}
	if len(payments) == 0 {
		return payments, nil
	}

	ids := make([]string, len(payments))
	for i, p := range payments {
		ids[i] = p.ID
	}
	refunds, err := r.refunds.listByPayments(ctx, ids)
	if err != nil {
		return nil, err
	}
	for i := range payments {
		payments[i].Refunds = refunds[payments[i].ID]
	}
	return payments, nil
}

func (r *PaymentRepository) Update(ctx context.Context, p domain.Payment) error {
	raw, err := encodeRaw(p.Raw)
	if err != nil {
		return ppostgres.WrapError("payments.update", err)
	}
	tag, err := r.db.Conn(ctx).Exec(ctx, `
		UPDATE payments
		SET status = $2,
		    provider_payment_id = COALESCE($3, provider_payment_id),
		    provider_invoice_id = COALESCE($4, provider_invoice_id),
		    raw = $5,
		    updated_at = $6
		WHERE id = $1`,
		p.ID, string(p.Status), p.ProviderPaymentID, p.ProviderInvoiceID, raw, p.UpdatedAt)
	if err != nil {
		return ppostgres.WrapError("payments.update", err)
	}
	if tag.RowsAffected() == 0 {
		return ppostgres.NotFound("payments.update")
	}
	return nil
}

func (r *PaymentRepository) findOne(ctx context.Context, op, query string, args ...any) (domain.Payment, error) {
	payment, err := scanPayment(r.db.Conn(ctx).QueryRow(ctx, query, args...))
	if err != nil {
		return domain.Payment{}, ppostgres.WrapError(op, err)
	}
	return payment, nil
}

func scanPayment(row pgx.Row) (domain.Payment, error) {
	var (
		p                          domain.Payment
		provider, status, currency string
		raw                        []byte
	)
	if err := row.Scan(&p.ID, &p.OrderID, &provider, &status, &p.AmountMinor, &currency,
		&p.ProviderPaymentID, &p.ProviderInvoiceID, &raw, &p.CreatedAt, &p.UpdatedAt); err != nil {
		return domain.Payment{}, err
	}
	p.Provider = domain.PaymentProvider(provider)
	p.Status = domain.PaymentStatus(status)
	p.Currency = domain.Currency(currency)
	if len(raw) > 0 {
		if err := json.Unmarshal(raw, &p.Raw); err != nil {
			return domain.Payment{}, err
		}
	}
	return p, nil
}

func encodeRaw(raw map[string]any) ([]byte, error) {
	if raw == nil {
		return nil, nil
	}
	return json.Marshal(raw)
}
