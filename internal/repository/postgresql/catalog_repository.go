package postgresql

import (
	"context"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"

	"receipt-scan-service/internal/entity"
)

// CatalogRepository reads the stores and item categories owned by the expense
// application. The tables belong to that application; this repository never writes them.
type CatalogRepository struct {
	pool *pgxpool.Pool
}

func NewCatalogRepository(pool *pgxpool.Pool) *CatalogRepository {
	return &CatalogRepository{pool: pool}
}

func (r *CatalogRepository) ListStores(ctx context.Context, userID string) ([]entity.Store, error) {
	const q = `
SELECT id::text, name, COALESCE(location, '')
FROM stores
WHERE user_id = $1
ORDER BY id;
`
	rows, err := r.pool.Query(ctx, q, userID)
	if err != nil {
		return nil, err
	}
	return pgx.CollectRows(rows, func(row pgx.CollectableRow) (entity.Store, error) {
		var s entity.Store
		err := row.Scan(&s.ID, &s.Name, &s.Location)
		return s, err
	})
}

func (r *CatalogRepository) ListItemCategories(ctx context.Context, userID string) ([]entity.ItemCategory, error) {
	const q = `
SELECT id::text, name
FROM item_categories
WHERE user_id = $1
ORDER BY id;
`
	rows, err := r.pool.Query(ctx, q, userID)
	if err != nil {
		return nil, err
	}
	return pgx.CollectRows(rows, func(row pgx.CollectableRow) (entity.ItemCategory, error) {
		var c entity.ItemCategory
		err := row.Scan(&c.ID, &c.Name)
		return c, err
	})
}
