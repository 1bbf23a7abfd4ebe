package memory

import (
	"context"
	"sort"
	"sync"

	domain "github.com/cartloom/fulfillment/internal/domain/inventory"
)

// StockRepository keeps per-product stock facets in memory with an
// optimistic version check on Save, mirroring what the postgres
// implementation enforces with a versioned UPDATE.
type StockRepository struct {
	mu     sync.RWMutex
	stocks map[string]*domain.Stock
	// resIndex maps reservation id -> product id
	resIndex map[string]string
}

func NewStockRepository() *StockRepository {
	return &StockRepository{
		stocks:   make(map[string]*domain.Stock),
		resIndex: make(map[string]string),
	}
}

// Seed installs a stock facet directly; intended for tests and local runs.
func (r *StockRepository) Seed(stock *domain.Stock) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.stocks[stock.ProductID] = stock.Clone()
	for _, res := range stock.Reservations {
		r.resIndex[res.ID] = stock.ProductID
	}
}

func (r *StockRepository) Get(ctx context.Context, productID string) (*domain.Stock, error) {
	_ = ctx

	r.mu.RLock()
	defer r.mu.RUnlock()

	stock, ok := r.stocks[productID]
	if !ok {
		return nil, domain.ErrNotFound
	}
	return stock.Clone(), nil
}

func (r *StockRepository) GetByReservation(ctx context.Context, reservationID string) (*domain.Stock, error) {
	_ = ctx

	r.mu.RLock()
	defer r.mu.RUnlock()

	productID, ok := r.resIndex[reservationID]
	if !ok {
		return nil, domain.ErrReservationNotFound
	}
	stock, ok := r.stocks[productID]
	if !ok {
		return nil, domain.ErrNotFound
	}
	return stock.Clone(), nil
}

func (r *StockRepository) Save(ctx context.Context, stock *domain.Stock) error {
	_ = ctx
	if stock == nil || stock.ProductID == "" {
		return domain.ErrNotFound
	}

	r.mu.Lock()
	defer r.mu.Unlock()

	current, ok := r.stocks[stock.ProductID]
	if !ok {
		return domain.ErrNotFound
	}
	if current.Version != stock.Version {
		return domain.ErrVersionConflict
	}

	saved := stock.Clone()
	saved.Version++
	r.stocks[stock.ProductID] = saved
	for _, res := range saved.Reservations {
		r.resIndex[res.ID] = saved.ProductID
	}
	return nil
}

func (r *StockRepository) ProductIDs(ctx context.Context) ([]string, error) {
	_ = ctx

	r.mu.RLock()
	defer r.mu.RUnlock()

	ids := make([]string, 0, len(r.stocks))
	for id := range r.stocks {
		ids = append(ids, id)
	}
	sort.Strings(ids)
	return ids, nil
}
