package postgres

import (
	"context"
	"errors"
	"fmt"

	domain "github.com/cartloom/fulfillment/internal/domain/inventory"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"
)

type StockRepository struct {
	db *pgxpool.Pool
}

func NewStockRepository(db *pgxpool.Pool) *StockRepository {
	return &StockRepository{db: db}
}

func (r *StockRepository) Get(ctx context.Context, productID string) (*domain.Stock, error) {
	stock := &domain.Stock{}
	err := r.db.QueryRow(ctx, `
		SELECT product_id, on_hand, version, updated_at
		FROM stock WHERE product_id = $1`, productID).
		Scan(&stock.ProductID, &stock.OnHand, &stock.Version, &stock.UpdatedAt)
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, domain.ErrNotFound
	}
	if err != nil {
		return nil, err
	}

	if stock.Reservations, err = r.reservations(ctx, productID); err != nil {
		return nil, err
	}
	return stock, nil
}

func (r *StockRepository) GetByReservation(ctx context.Context, reservationID string) (*domain.Stock, error) {
	var productID string
	err := r.db.QueryRow(ctx,
		`SELECT product_id FROM reservations WHERE id = $1`, reservationID).
		Scan(&productID)
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, domain.ErrReservationNotFound
	}
	if err != nil {
		return nil, err
	}
	return r.Get(ctx, productID)
}

// Save writes the facet back under an optimistic version check: the stock
// row update carries WHERE version = <read version>, so a concurrent
// writer surfaces as ErrVersionConflict and the manager re-reads.
func (r *StockRepository) Save(ctx context.Context, stock *domain.Stock) error {
	tx, err := r.db.BeginTx(ctx, pgx.TxOptions{})
	if err != nil {
		return err
	}
	defer tx.Rollback(ctx)

	ct, err := tx.Exec(ctx, `
		UPDATE stock SET on_hand = $2, version = version + 1, updated_at = $3
		WHERE product_id = $1 AND version = $4`,
		stock.ProductID, stock.OnHand, stock.UpdatedAt, stock.Version)
	if err != nil {
		return err
	}
	if ct.RowsAffected() != 1 {
		return domain.ErrVersionConflict
	}

	for _, res := range stock.Reservations {
		if _, err := tx.Exec(ctx, `
			INSERT INTO reservations (id, product_id, order_id, quantity, status, expires_at, created_at, updated_at)
			VALUES ($1, $2, $3, $4, $5, $6, $7, $8)
			ON CONFLICT (id) DO UPDATE SET status = EXCLUDED.status, updated_at = EXCLUDED.updated_at`,
			res.ID, res.ProductID, res.OrderID, res.Quantity, res.Status, res.ExpiresAt, res.CreatedAt, res.UpdatedAt); err != nil {
			return fmt.Errorf("save reservation %s: %w", res.ID, err)
		}
	}

	return tx.Commit(ctx)
}

func (r *StockRepository) ProductIDs(ctx context.Context) ([]string, error) {
	rows, err := r.db.Query(ctx, `SELECT product_id FROM stock ORDER BY product_id`)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var ids []string
	for rows.Next() {
		var id string
		if err := rows.Scan(&id); err != nil {
			return nil, err
		}
		ids = append(ids, id)
	}
	return ids, rows.Err()
}

func (r *StockRepository) reservations(ctx context.Context, productID string) ([]domain.Reservation, error) {
	rows, err := r.db.Query(ctx, `
		SELECT id, product_id, order_id, quantity, status, expires_at, created_at, updated_at
		FROM reservations WHERE product_id = $1 ORDER BY created_at`, productID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var out []domain.Reservation
	for rows.Next() {
		var res domain.Reservation
		if err := rows.Scan(&res.ID, &res.ProductID, &res.OrderID, &res.Quantity,
			&res.Status, &res.ExpiresAt, &res.CreatedAt, &res.UpdatedAt); err != nil {
			return nil, err
		}
		out = append(out, res)
	}
	return out, rows.Err()
}
