package order

import (
	"context"
	"errors"
	"fmt"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"
)

// Workflow states. Stock is only ever mutated for orders outside draft and
// canceled.
const (
	StateDraft       = "draft"
	StatePlaced      = "placed"
	StateFulfillment = "fulfillment"
	StateCompleted   = "completed"
	StateCanceled    = "canceled"
)

// StockImpacting reports whether an order in the given state holds stock.
func StockImpacting(state string) bool {
	return state != StateDraft && state != StateCanceled
}

// Address is a shipping or billing profile block, forwarded verbatim to the
// order submission API.
type Address struct {
	Name       string `json:"name"`
	Street     string `json:"street"`
	City       string `json:"city"`
	Region     string `json:"region"`
	PostalCode string `json:"postal_code"`
	Country    string `json:"country"`
}

type Order struct {
	ID        string
	Number    string
	UserID    string
	SessionID string
	// Bundle is the cart type; only carts of the same bundle are merged.
	Bundle   string
	State    string
	StoreID  string
	Shipping Address
	Billing  Address
	// Answers holds customer free-text answers collected at checkout.
	Answers []string
	Items   []OrderItem
}

type OrderItem struct {
	ID      string `db:"id"`
	OrderID string `db:"order_id"`
	// ProductID is nil when the referenced product variation has been
	// deleted; such items are a no-op for stock purposes.
	ProductID *string `db:"product_id"`
	Type      string  `db:"item_type"`
	SKU       string  `db:"sku"`
	Quantity  int     `db:"quantity"`
	UnitPrice float64 `db:"unit_price"`
	// Fields carries the exposed custom field values as canonical JSON;
	// two items only combine when these match exactly.
	Fields string `db:"fields_json"`
}

var ErrNotFound = errors.New("order not found")

type Repository interface {
	GetOrder(ctx context.Context, id string) (*Order, error)
	SaveOrder(ctx context.Context, o *Order) error
	DeleteOrder(ctx context.Context, id string) error

	GetItem(ctx context.Context, id string) (*OrderItem, error)
	SaveItem(ctx context.Context, it *OrderItem) error
	DeleteItem(ctx context.Context, id string) error

	// CartsByUser returns the user's draft orders of the given bundle,
	// items included, oldest first.
	CartsByUser(ctx context.Context, userID, bundle string) ([]Order, error)
	// InCheckout reports whether the order is currently bound to an
	// in-progress checkout route.
	InCheckout(ctx context.Context, orderID string) (bool, error)
}

type PgRepository struct {
	db *pgxpool.Pool
}

func NewPgRepository(db *pgxpool.Pool) *PgRepository {
	return &PgRepository{db: db}
}

const orderColumns = "id, order_number, user_id, session_id, bundle, state, store_id, shipping, billing, answers"

func (r *PgRepository) GetOrder(ctx context.Context, id string) (*Order, error) {
	var o Order
	err := r.db.QueryRow(ctx, "SELECT "+orderColumns+" FROM orders WHERE id = $1", id).Scan(
		&o.ID, &o.Number, &o.UserID, &o.SessionID, &o.Bundle, &o.State, &o.StoreID,
		&o.Shipping, &o.Billing, &o.Answers,
	)
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, ErrNotFound
	} else if err != nil {
		return nil, fmt.Errorf("failed to query order: %w", err)
	}

	items, err := r.itemsOf(ctx, id)
	if err != nil {
		return nil, err
	}
	o.Items = items
	return &o, nil
}

func (r *PgRepository) itemsOf(ctx context.Context, orderID string) ([]OrderItem, error) {
	rows, err := r.db.Query(ctx,
		"SELECT id, order_id, product_id, item_type, sku, quantity, unit_price, fields_json FROM order_items WHERE order_id = $1 ORDER BY id",
		orderID,
	)
	if err != nil {
		return nil, fmt.Errorf("failed to query order items: %w", err)
	}
	defer rows.Close()

	items, err := pgx.CollectRows(rows, pgx.RowToStructByName[OrderItem])
	if err != nil {
		return nil, fmt.Errorf("failed to collect order items: %w", err)
	}
	return items, nil
}

func (r *PgRepository) SaveOrder(ctx context.Context, o *Order) error {
	_, err := r.db.Exec(ctx, `
		INSERT INTO orders (id, order_number, user_id, session_id, bundle, state, store_id, shipping, billing, answers)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10)
		ON CONFLICT (id) DO UPDATE SET
			order_number = $2, user_id = $3, session_id = $4, bundle = $5,
			state = $6, store_id = $7, shipping = $8, billing = $9, answers = $10`,
		o.ID, o.Number, o.UserID, o.SessionID, o.Bundle, o.State, o.StoreID,
		o.Shipping, o.Billing, o.Answers,
	)
	if err != nil {
		return fmt.Errorf("failed to save order: %w", err)
	}
	return nil
}

func (r *PgRepository) DeleteOrder(ctx context.Context, id string) error {
	_, err := r.db.Exec(ctx, "DELETE FROM order_items WHERE order_id = $1", id)
	if err != nil {
		return fmt.Errorf("failed to delete order items: %w", err)
	}
	_, err = r.db.Exec(ctx, "DELETE FROM orders WHERE id = $1", id)
	if err != nil {
		return fmt.Errorf("failed to delete order: %w", err)
	}
	return nil
}

func (r *PgRepository) GetItem(ctx context.Context, id string) (*OrderItem, error) {
	rows, err := r.db.Query(ctx,
		"SELECT id, order_id, product_id, item_type, sku, quantity, unit_price, fields_json FROM order_items WHERE id = $1",
		id,
	)
	if err != nil {
		return nil, fmt.Errorf("failed to query order item: %w", err)
	}
	defer rows.Close()

	it, err := pgx.CollectExactlyOneRow(rows, pgx.RowToStructByName[OrderItem])
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, ErrNotFound
	} else if err != nil {
		return nil, fmt.Errorf("failed to collect order item: %w", err)
	}
	return &it, nil
}

func (r *PgRepository) SaveItem(ctx context.Context, it *OrderItem) error {
	_, err := r.db.Exec(ctx, `
		INSERT INTO order_items (id, order_id, product_id, item_type, sku, quantity, unit_price, fields_json)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8)
		ON CONFLICT (id) DO UPDATE SET
			order_id = $2, product_id = $3, item_type = $4, sku = $5,
			quantity = $6, unit_price = $7, fields_json = $8`,
		it.ID, it.OrderID, it.ProductID, it.Type, it.SKU, it.Quantity, it.UnitPrice, it.Fields,
	)
	if err != nil {
		return fmt.Errorf("failed to save order item: %w", err)
	}
	return nil
}

func (r *PgRepository) DeleteItem(ctx context.Context, id string) error {
	_, err := r.db.Exec(ctx, "DELETE FROM order_items WHERE id = $1", id)
	if err != nil {
		return fmt.Errorf("failed to delete order item: %w", err)
	}
	return nil
}

func (r *PgRepository) CartsByUser(ctx context.Context, userID, bundle string) ([]Order, error) {
	rows, err := r.db.Query(ctx,
		"SELECT "+orderColumns+" FROM orders WHERE user_id = $1 AND bundle = $2 AND state = $3 ORDER BY created_at",
		userID, bundle, StateDraft,
	)
	if err != nil {
		return nil, fmt.Errorf("failed to query carts: %w", err)
	}
	defer rows.Close()

	var carts []Order
	for rows.Next() {
		var o Order
		err := rows.Scan(
			&o.ID, &o.Number, &o.UserID, &o.SessionID, &o.Bundle, &o.State, &o.StoreID,
			&o.Shipping, &o.Billing, &o.Answers,
		)
		if err != nil {
			return nil, fmt.Errorf("failed to scan cart: %w", err)
		}
		carts = append(carts, o)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("failed to read carts: %w", err)
	}

	for i := range carts {
		items, err := r.itemsOf(ctx, carts[i].ID)
		if err != nil {
			return nil, err
		}
		carts[i].Items = items
	}
	return carts, nil
}

func (r *PgRepository) InCheckout(ctx context.Context, orderID string) (bool, error) {
	var inCheckout bool
	err := r.db.QueryRow(ctx,
		"SELECT EXISTS (SELECT 1 FROM checkout_sessions WHERE order_id = $1)", orderID,
	).Scan(&inCheckout)
	if err != nil {
		return false, fmt.Errorf("failed to query checkout binding: %w", err)
	}
	return inCheckout, nil
}
