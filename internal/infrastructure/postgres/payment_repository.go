package postgres

import (
	"context"
	"errors"

	domain "github.com/cartloom/fulfillment/internal/domain/payment"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
	"github.com/jackc/pgx/v5/pgxpool"
)

type PaymentRepository struct {
	db *pgxpool.Pool
}

func NewPaymentRepository(db *pgxpool.Pool) *PaymentRepository {
	return &PaymentRepository{db: db}
}

const paymentColumns = `id, order_id, user_id, amount, currency, gateway, method, status,
	external_ref, refund_ref, refund_amount, pending_refund, captured_at, refunded_at, created_at, updated_at`

// Insert persists a new payment. The partial unique index on open
// statuses makes the existence check and the insert one atomic operation:
// a second open payment for the same order fails with ErrDuplicate.
func (r *PaymentRepository) Insert(ctx context.Context, p *domain.Payment) error {
	_, err := r.db.Exec(ctx, `
		INSERT INTO payments (`+paymentColumns+`)
		VALUES ($1,$2,$3,$4,$5,$6,$7,$8,$9,$10,$11,$12,$13,$14,$15,$16)`,
		p.ID, p.OrderID, p.UserID, p.Amount, p.Currency, p.Gateway, p.Method, p.Status,
		nullable(p.ExternalRef), p.RefundRef, p.RefundAmount, p.PendingRefund,
		p.CapturedAt, p.RefundedAt, p.CreatedAt, p.UpdatedAt)
	if err != nil {
		var pgErr *pgconn.PgError
		if errors.As(err, &pgErr) && pgErr.Code == uniqueViolation {
			return domain.ErrDuplicate
		}
		return err
	}
	return nil
}

func (r *PaymentRepository) Get(ctx context.Context, id string) (*domain.Payment, error) {
	return r.scanOne(r.db.QueryRow(ctx,
		`SELECT `+paymentColumns+` FROM payments WHERE id = $1`, id))
}

func (r *PaymentRepository) GetByExternalRef(ctx context.Context, externalRef string) (*domain.Payment, error) {
	if externalRef == "" {
		return nil, domain.ErrNotFound
	}
	return r.scanOne(r.db.QueryRow(ctx,
		`SELECT `+paymentColumns+` FROM payments WHERE external_ref = $1`, externalRef))
}

func (r *PaymentRepository) FindByOrder(ctx context.Context, orderID string) ([]*domain.Payment, error) {
	rows, err := r.db.Query(ctx,
		`SELECT `+paymentColumns+` FROM payments WHERE order_id = $1 ORDER BY created_at`, orderID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var out []*domain.Payment
	for rows.Next() {
		p, err := r.scan(rows)
		if err != nil {
			return nil, err
		}
		out = append(out, p)
	}
	return out, rows.Err()
}

func (r *PaymentRepository) Update(ctx context.Context, p *domain.Payment) error {
	ct, err := r.db.Exec(ctx, `
		UPDATE payments SET status = $2, external_ref = $3, refund_ref = $4,
			refund_amount = $5, pending_refund = $6, captured_at = $7,
			refunded_at = $8, updated_at = $9
		WHERE id = $1`,
		p.ID, p.Status, nullable(p.ExternalRef), p.RefundRef,
		p.RefundAmount, p.PendingRefund, p.CapturedAt, p.RefundedAt, p.UpdatedAt)
	if err != nil {
		return err
	}
	if ct.RowsAffected() != 1 {
		return domain.ErrNotFound
	}
	return nil
}

func (r *PaymentRepository) scanOne(row pgx.Row) (*domain.Payment, error) {
	p, err := r.scan(row)
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, domain.ErrNotFound
	}
	if err != nil {
		return nil, err
	}
	return p, nil
}

func (r *PaymentRepository) scan(row pgx.Row) (*domain.Payment, error) {
	p := &domain.Payment{}
	var externalRef *string
	err := row.Scan(&p.ID, &p.OrderID, &p.UserID, &p.Amount, &p.Currency, &p.Gateway,
		&p.Method, &p.Status, &externalRef, &p.RefundRef, &p.RefundAmount,
		&p.PendingRefund, &p.CapturedAt, &p.RefundedAt, &p.CreatedAt, &p.UpdatedAt)
	if err != nil {
		return nil, err
	}
	if externalRef != nil {
		p.ExternalRef = *externalRef
	}
	return p, nil
}
