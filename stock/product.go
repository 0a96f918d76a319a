package stock

import (
	"context"
	"errors"
	"fmt"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"
)

// ProductVariation is the purchasable unit tracked by the engine. Stock is
// the local, authoritative-for-UI count; the external warehouse remains the
// system of record and periodically overwrites it.
type ProductVariation struct {
	ID              string `db:"id"`
	SKU             string `db:"sku"`
	WarehouseItemID string `db:"warehouse_item_id"`
	Stock           int    `db:"stock"`
	// RestockThreshold marks the level at or below which the product is
	// considered low on stock. Nil disables the check.
	RestockThreshold *int `db:"restock_threshold"`
	// StopCheckThreshold is a reserved-for-backorder buffer: below it the
	// product is treated as unavailable even if Stock is positive.
	StopCheckThreshold *int `db:"stop_check_threshold"`
	// OrderLimit caps the quantity purchasable per order. Nil means no cap.
	OrderLimit *int `db:"order_limit"`
	// CombineItems controls whether cart merging may fold matching line
	// items of this product into one.
	CombineItems bool `db:"combine_items"`
}

var ErrNotFound = errors.New("product variation not found")

// Repository is the storage contract for product variations. The engine only
// ever mutates the stock column; catalog management happens elsewhere.
type Repository interface {
	Get(ctx context.Context, id string) (*ProductVariation, error)
	GetByWarehouseItem(ctx context.Context, warehouseItemID string) (*ProductVariation, error)
	SaveStock(ctx context.Context, p *ProductVariation) error
	// ListRefreshCandidates returns variations whose stock is at or below
	// their check threshold: the stop-check threshold when set, otherwise
	// the restock threshold, otherwise defaultLevel.
	ListRefreshCandidates(ctx context.Context, defaultLevel int) ([]ProductVariation, error)
}

type PgRepository struct {
	db *pgxpool.Pool
}

func NewPgRepository(db *pgxpool.Pool) *PgRepository {
	return &PgRepository{db: db}
}

const productColumns = "id, sku, warehouse_item_id, stock, restock_threshold, stop_check_threshold, order_limit, combine_items"

func (r *PgRepository) Get(ctx context.Context, id string) (*ProductVariation, error) {
	return r.one(ctx, "SELECT "+productColumns+" FROM product_variations WHERE id = $1", id)
}

func (r *PgRepository) GetByWarehouseItem(ctx context.Context, warehouseItemID string) (*ProductVariation, error) {
	return r.one(ctx, "SELECT "+productColumns+" FROM product_variations WHERE warehouse_item_id = $1", warehouseItemID)
}

func (r *PgRepository) one(ctx context.Context, query string, arg any) (*ProductVariation, error) {
	rows, err := r.db.Query(ctx, query, arg)
	if err != nil {
		return nil, fmt.Errorf("failed to query product variation: %w", err)
	}
	defer rows.Close()

	p, err := pgx.CollectExactlyOneRow(rows, pgx.RowToStructByName[ProductVariation])
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, ErrNotFound
	} else if err != nil {
		return nil, fmt.Errorf("failed to collect product variation: %w", err)
	}
	return &p, nil
}

func (r *PgRepository) SaveStock(ctx context.Context, p *ProductVariation) error {
	tag, err := r.db.Exec(ctx, "UPDATE product_variations SET stock = $1 WHERE id = $2", p.Stock, p.ID)
	if err != nil {
		return fmt.Errorf("failed to update stock: %w", err)
	}
	if tag.RowsAffected() == 0 {
		return ErrNotFound
	}
	return nil
}

func (r *PgRepository) ListRefreshCandidates(ctx context.Context, defaultLevel int) ([]ProductVariation, error) {
	rows, err := r.db.Query(ctx,
		"SELECT "+productColumns+" FROM product_variations WHERE warehouse_item_id <> '' AND stock <= COALESCE(stop_check_threshold, restock_threshold, $1)",
		defaultLevel,
	)
	if err != nil {
		return nil, fmt.Errorf("failed to query refresh candidates: %w", err)
	}
	defer rows.Close()

	list, err := pgx.CollectRows(rows, pgx.RowToStructByName[ProductVariation])
	if err != nil {
		return nil, fmt.Errorf("failed to collect refresh candidates: %w", err)
	}
	return list, nil
}
