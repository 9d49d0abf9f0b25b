package postgres

import (
	"context"
	"fmt"

	"github.com/go-faster/errors"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/deliverus/orderd/internal/domain/user"
)

var _ user.Repository = (*UserRepository)(nil)

// UserRepository implements user.Repository backed by PostgreSQL.
type UserRepository struct {
	pool *pgxpool.Pool
}

// NewUserRepository returns a UserRepository that uses the given pool.
func NewUserRepository(pool *pgxpool.Pool) *UserRepository {
	return &UserRepository{pool: pool}
}

// FindByAPIKeyHash looks up the user owning the given API key hash.
// Returns user.ErrNotFound when no user matches.
func (r *UserRepository) FindByAPIKeyHash(ctx context.Context, hash string) (*user.User, error) {
	row := r.pool.QueryRow(ctx,
		`SELECT id, name, role FROM users WHERE api_key_hash = $1`, hash)

	var u user.User
	if err := row.Scan(&u.ID, &u.Name, &u.Role); err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, user.ErrNotFound
		}
		return nil, fmt.Errorf("finding user by api key: %w", err)
	}
	return &u, nil
}
