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

const refundColumns = `id, payment_id, amount_minor, status, reason, created_at, updated_at`

// RefundRepository persists refunds.
type RefundRepository struct {
	db *ppostgres.DB
}

// NewRefundRepository constructs a Postgres-backed refund repository.
func NewRefundRepository(db *ppostgres.DB) (*RefundRepository, error) {
	if db == nil {
		return nil, errors.New("refund repository requires database")
	}
	return &RefundRepository{db: db}, nil
}

var _ repositories.RefundRepository = (*RefundRepository)(nil)

func (r *RefundRepository) Insert(ctx context.Context, refund domain.Refund) error {
	_, err := r.db.Conn(ctx).Exec(ctx, `
		INSERT INTO refunds (`+refundColumns+`) VALUES ($1, $2, $3, $4, $5, $6, $7)`,
		refund.ID, refund.PaymentID, refund.AmountMinor, string(refund.Status), refund.Reason, refund.CreatedAt, refund.UpdatedAt)
	return ppostgres.WrapError("refunds.insert", err)
}

func (r *RefundRepository) FindByID(ctx context.Context, refundID string) (domain.Refund, error) {
	refund, err := scanRefund(r.db.Conn(ctx).QueryRow(ctx, `SELECT `+refundColumns+` FROM refunds WHERE id = $1`, refundID))
	if err != nil {
		return domain.Refund{}, ppostgres.WrapError("refunds.find", err)
	}
	return refund, nil
}

func (r *RefundRepository) FindByIDForUpdate(ctx context.Context, refundID string) (domain.Refund, error) {
	refund, err := scanRefund(r.db.Conn(ctx).QueryRow(ctx, `SELECT `+refundColumns+` FROM refunds WHERE id = $1 FOR UPDATE`, refundID))
	if err != nil {
		return domain.Refund{}, ppostgres.WrapError("refunds.find_for_update", err)
	}
	return refund, nil
}

func (r *RefundRepository) UpdateStatus(ctx context.Context, refundID string, status domain.RefundStatus, updatedAt time.Time) error {
	tag, err := r.db.Conn(ctx).Exec(ctx, `UPDATE refunds SET status = $2, updated_at = $3 WHERE id = $1`,
		refundID, string(status), updatedAt)
	if err != nil {
		return ppostgres.WrapError("refunds.update_status", err)
	}
	if tag.RowsAffected() == 0 {
		return ppostgres.NotFound("refunds.update_status")
	}
	return nil
}

func (r *RefundRepository) SumByPayment(ctx context.Context, paymentID string, statuses ...domain.RefundStatus) (int64, error) {
	var total int64
	err := r.db.Conn(ctx).QueryRow(ctx, `
		SELECT COALESCE(SUM(amount_minor), 0)::bigint FROM refunds
		WHERE payment_id = $1 AND status = ANY($2)`, paymentID, statusStrings(statuses)).Scan(&total)
	if err != nil {
		return 0, ppostgres.WrapError("refunds.sum_payment", err)
	}
	return total, nil
}

func (r *RefundRepository) SumByOrder(ctx context.Context, orderID string, statuses ...domain.RefundStatus) (int64, error) {
	var total int64
	err := r.db.Conn(ctx).QueryRow(ctx, `
		SELECT COALESCE(SUM(rf.amount_minor), 0)::bigint
		FROM refunds rf JOIN payments p ON p.id = rf.payment_id
		WHERE p.order_id = $1 AND rf.status = ANY($2)`, orderID, statusStrings(statuses)).Scan(&total)
	if err != nil {
		return 0, ppostgres.WrapError("refunds.sum_order", err)
	}
	return total, nil
}

func (r *RefundRepository) listByPayments(ctx context.Context, paymentIDs []string) (map[string][]domain.Refund, error) {
	rows, err := r.db.Conn(ctx).Query(ctx,
		`SELECT `+refundColumns+` FROM refunds WHERE payment_id = ANY($1) ORDER BY created_at, id`, paymentIDs)
	if err != nil {
		return nil, ppostgres.WrapError("refunds.list", err)
	}
	refunds, err := pgx.CollectRows(rows, func(row pgx.CollectableRow) (domain.Refund, error) {
		return scanRefund(row)
	})
	if err != nil {
		return nil, ppostgres.WrapError("refunds.list", err)
	}
	out := make(map[string][]domain.Refund, len(paymentIDs))
	for _, refund := range refunds {
		out[refund.PaymentID] = append(out[refund.PaymentID], refund)
	}
	return out, nil
}

func scanRefund(row pgx.Row) (domain.Refund, error) {
	var (
		refund domain.Refund
		status string
	)
	err := row.Scan(&refund.ID, &refund.PaymentID, &refund.AmountMinor, &status, &refund.Reason, &refund.CreatedAt, &refund.UpdatedAt)
	refund.Status = domain.RefundStatus(status)
	return refund, err
}

func statusStrings(statuses []domain.RefundStatus) []string {
	out := make([]string, len(statuses))
	for i, s := range statuses {
		out[i] = string(s)
	}
	return out
}
