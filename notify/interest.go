package notify

import (
	"context"
	"errors"
	"fmt"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"
)

var ErrUserNotFound = errors.New("user not found")

// InterestRepository tracks which users flagged "notify me" on a product and
// resolves their delivery address.
type InterestRepository interface {
	ListInterested(ctx context.Context, productID string) ([]string, error)
	Remove(ctx context.Context, userID, productID string) error
	UserEmail(ctx context.Context, userID string) (string, error)
}

type PgInterestRepository struct {
	db *pgxpool.Pool
}

func NewPgInterestRepository(db *pgxpool.Pool) *PgInterestRepository {
	return &PgInterestRepository{db: db}
}

func (r *PgInterestRepository) ListInterested(ctx context.Context, productID string) ([]string, error) {
	rows, err := r.db.Query(ctx, "SELECT user_id FROM restock_interest WHERE product_id = $1", productID)
	if err != nil {
		return nil, fmt.Errorf("failed to query restock interest: %w", err)
	}
	defer rows.Close()

	users, err := pgx.CollectRows(rows, pgx.RowTo[string])
	if err != nil {
		return nil, fmt.Errorf("failed to collect restock interest: %w", err)
	}
	return users, nil
}

func (r *PgInterestRepository) Remove(ctx context.Context, userID, productID string) error {
	_, err := r.db.Exec(ctx, "DELETE FROM restock_interest WHERE user_id = $1 AND product_id = $2", userID, productID)
	if err != nil {
		return fmt.Errorf("failed to remove restock interest: %w", err)
	}
	return nil
}

func (r *PgInterestRepository) UserEmail(ctx context.Context, userID string) (string, error) {
	var email string
	err := r.db.QueryRow(ctx, "SELECT email FROM users WHERE id = $1", userID).Scan(&email)
	if errors.Is(err, pgx.ErrNoRows) {
		return "", ErrUserNotFound
	} else if err != nil {
		return "", fmt.Errorf("failed to query user email: %w", err)
	}
	return email, nil
}
