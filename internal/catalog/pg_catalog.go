package catalog

import (
	"context"
	"errors"

	fferrors "github.com/dokuma/fabricstock/internal/fulfillment/errors"
	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"
)

type PgCatalog struct {
	db *pgxpool.Pool
}

// NewPgCatalog creates a Catalog backed by the reference tables in PostgreSQL.
func NewPgCatalog(dbp *pgxpool.Pool) *PgCatalog {
	return &PgCatalog{db: dbp}
}

func (c *PgCatalog) PriceFor(ctx context.Context, productID uuid.UUID, market string) (*Price, error) {
	var price Price
	err := c.db.QueryRow(ctx, `
		SELECT COALESCE(sale_price, base_price), currency
		FROM product_market_prices
		WHERE product_id = $1 AND market_code = $2`,
		productID, market,
	).Scan(&price.Amount, &price.Currency)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, fferrors.ErrPriceNotFound
		}
		return nil, err
	}
	return &price, nil
}

func (c *PgCatalog) MaterialExists(ctx context.Context, materialID uuid.UUID) (bool, error) {
	var exists bool
	err := c.db.QueryRow(ctx, `SELECT EXISTS(SELECT 1 FROM materials WHERE id = $1)`, materialID).Scan(&exists)
	if err != nil {
		return false, err
	}
	return exists, nil
}
