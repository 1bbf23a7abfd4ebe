package postgres

import (
	"context"
	"errors"

	domain "github.com/cartloom/fulfillment/internal/domain/order"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
	"github.com/jackc/pgx/v5/pgxpool"
)

const uniqueViolation = "23505"

type OrderRepository struct {
	db *pgxpool.Pool
}

func NewOrderRepository(db *pgxpool.Pool) *OrderRepository {
	return &OrderRepository{db: db}
}

// Insert persists the order, its line items and its status history in one
// transaction.
func (r *OrderRepository) Insert(ctx context.Context, o *domain.Order) error {
	tx, err := r.db.BeginTx(ctx, pgx.TxOptions{})
	if err != nil {
		return err
	}
	defer tx.Rollback(ctx)

	_, err = tx.Exec(ctx, `
		INSERT INTO orders (
			id, order_number, user_id, idempotency_key, status,
			subtotal, tax, shipping, discount, total,
			payment_method, payment_status, payment_txn_id,
			ship_name, ship_line1, ship_line2, ship_city, ship_postal_code, ship_country,
			reservation_ids, shipped_at, delivered_at, created_at, updated_at
		) VALUES ($1,$2,$3,$4,$5,$6,$7,$8,$9,$10,$11,$12,$13,$14,$15,$16,$17,$18,$19,$20,$21,$22,$23,$24)`,
		o.ID, o.Number, o.UserID, nullable(o.IdempotencyKey), o.Status,
		o.Pricing.Subtotal, o.Pricing.Tax, o.Pricing.Shipping, o.Pricing.Discount, o.Pricing.Total,
		o.Payment.Method, o.Payment.Status, o.Payment.TransactionID,
		o.ShippingAddress.Name, o.ShippingAddress.Line1, o.ShippingAddress.Line2,
		o.ShippingAddress.City, o.ShippingAddress.PostalCode, o.ShippingAddress.Country,
		o.ReservationIDs, o.ShippedAt, o.DeliveredAt, o.CreatedAt, o.UpdatedAt)
	if err != nil {
		var pgErr *pgconn.PgError
		if errors.As(err, &pgErr) && pgErr.Code == uniqueViolation {
			return domain.ErrConflict
		}
		return err
	}

	if err := r.writeItems(ctx, tx, o); err != nil {
		return err
	}
	if err := r.writeHistory(ctx, tx, o); err != nil {
		return err
	}
	return tx.Commit(ctx)
}

func (r *OrderRepository) Get(ctx context.Context, id string) (*domain.Order, error) {
	o := &domain.Order{}
	var idemKey *string
	err := r.db.QueryRow(ctx, `
		SELECT id, order_number, user_id, idempotency_key, status,
			subtotal, tax, shipping, discount, total,
			payment_method, payment_status, payment_txn_id,
			ship_name, ship_line1, ship_line2, ship_city, ship_postal_code, ship_country,
			reservation_ids, shipped_at, delivered_at, created_at, updated_at
		FROM orders WHERE id = $1`, id).Scan(
		&o.ID, &o.Number, &o.UserID, &idemKey, &o.Status,
		&o.Pricing.Subtotal, &o.Pricing.Tax, &o.Pricing.Shipping, &o.Pricing.Discount, &o.Pricing.Total,
		&o.Payment.Method, &o.Payment.Status, &o.Payment.TransactionID,
		&o.ShippingAddress.Name, &o.ShippingAddress.Line1, &o.ShippingAddress.Line2,
		&o.ShippingAddress.City, &o.ShippingAddress.PostalCode, &o.ShippingAddress.Country,
		&o.ReservationIDs, &o.ShippedAt, &o.DeliveredAt, &o.CreatedAt, &o.UpdatedAt)
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, domain.ErrNotFound
	}
	if err != nil {
		return nil, err
	}
	if idemKey != nil {
		o.IdempotencyKey = *idemKey
	}

	if o.Items, err = r.items(ctx, id); err != nil {
		return nil, err
	}
	if o.History, err = r.history(ctx, id); err != nil {
		return nil, err
	}
	return o, nil
}

func (r *OrderRepository) Update(ctx context.Context, o *domain.Order) error {
	tx, err := r.db.BeginTx(ctx, pgx.TxOptions{})
	if err != nil {
		return err
	}
	defer tx.Rollback(ctx)

	ct, err := tx.Exec(ctx, `
		UPDATE orders SET status = $2,
			payment_method = $3, payment_status = $4, payment_txn_id = $5,
			shipped_at = $6, delivered_at = $7, updated_at = $8
		WHERE id = $1`,
		o.ID, o.Status,
		o.Payment.Method, o.Payment.Status, o.Payment.TransactionID,
		o.ShippedAt, o.DeliveredAt, o.UpdatedAt)
	if err != nil {
		return err
	}
	if ct.RowsAffected() != 1 {
		return domain.ErrNotFound
	}

	// History is append-only; rewrite the snapshot wholesale to keep the
	// positions consistent with the in-memory aggregate.
	if _, err := tx.Exec(ctx, `DELETE FROM order_status_history WHERE order_id = $1`, o.ID); err != nil {
		return err
	}
	if err := r.writeHistory(ctx, tx, o); err != nil {
		return err
	}
	return tx.Commit(ctx)
}

func (r *OrderRepository) writeItems(ctx context.Context, tx pgx.Tx, o *domain.Order) error {
	for i, it := range o.Items {
		if _, err := tx.Exec(ctx, `
			INSERT INTO order_items (order_id, position, product_id, name, quantity, unit_price, discount, final_price, subtotal)
			VALUES ($1,$2,$3,$4,$5,$6,$7,$8,$9)`,
			o.ID, i, it.ProductID, it.Name, it.Quantity, it.UnitPrice, it.Discount, it.FinalPrice, it.Subtotal); err != nil {
			return err
		}
	}
	return nil
}

func (r *OrderRepository) writeHistory(ctx context.Context, tx pgx.Tx, o *domain.Order) error {
	for i, h := range o.History {
		if _, err := tx.Exec(ctx, `
			INSERT INTO order_status_history (order_id, position, status, at, note, actor)
			VALUES ($1,$2,$3,$4,$5,$6)`,
			o.ID, i, h.Status, h.At, h.Note, h.Actor); err != nil {
			return err
		}
	}
	return nil
}

func (r *OrderRepository) items(ctx context.Context, orderID string) ([]domain.LineItem, error) {
	rows, err := r.db.Query(ctx, `
		SELECT product_id, name, quantity, unit_price, discount, final_price, subtotal
		FROM order_items WHERE order_id = $1 ORDER BY position`, orderID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var out []domain.LineItem
	for rows.Next() {
		var it domain.LineItem
		if err := rows.Scan(&it.ProductID, &it.Name, &it.Quantity, &it.UnitPrice,
			&it.Discount, &it.FinalPrice, &it.Subtotal); err != nil {
			return nil, err
		}
		out = append(out, it)
	}
	return out, rows.Err()
}

func (r *OrderRepository) history(ctx context.Context, orderID string) ([]domain.StatusChange, error) {
	rows, err := r.db.Query(ctx, `
		SELECT status, at, note, actor
		FROM order_status_history WHERE order_id = $1 ORDER BY position`, orderID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var out []domain.StatusChange
	for rows.Next() {
		var h domain.StatusChange
		if err := rows.Scan(&h.Status, &h.At, &h.Note, &h.Actor); err != nil {
			return nil, err
		}
		out = append(out, h)
	}
	return out, rows.Err()
}

func nullable(s string) *string {
	if s == "" {
		return nil
	}
	return &s
}
