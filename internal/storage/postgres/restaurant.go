package postgres

import (
	"context"
	"fmt"

	"github.com/go-faster/errors"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/deliverus/orderd/internal/domain/restaurant"
)

var _ restaurant.Repository = (*RestaurantRepository)(nil)

// RestaurantRepository implements restaurant.Repository backed by PostgreSQL.
type RestaurantRepository struct {
	pool *pgxpool.Pool
}

// NewRestaurantRepository returns a RestaurantRepository that uses the given pool.
func NewRestaurantRepository(pool *pgxpool.Pool) *RestaurantRepository {
	return &RestaurantRepository{pool: pool}
}

// GetByID returns a single restaurant, or restaurant.ErrNotFound.
func (r *RestaurantRepository) GetByID(ctx context.Context, id int64) (*restaurant.Restaurant, error) {
	row := r.pool.QueryRow(ctx,
		`SELECT id, owner_id, name, shipping_costs, average_service_minutes
		FROM restaurants WHERE id = $1`, id)

	var rest restaurant.Restaurant
	err := row.Scan(&rest.ID, &rest.OwnerID, &rest.Name, &rest.ShippingCosts, &rest.AverageServiceMinutes)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, restaurant.ErrNotFound
		}
		return nil, fmt.Errorf("getting restaurant %d: %w", id, err)
	}
	return &rest, nil
}
