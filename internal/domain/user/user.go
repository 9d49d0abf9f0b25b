package user

import (
	"context"

	"github.com/go-faster/errors"
)

// ErrNotFound is returned when no user matches the presented credentials.
var ErrNotFound = errors.New("user not found")

// Role distinguishes customers placing orders from restaurant owners
// managing them.
type Role string

const (
	RoleCustomer Role = "customer"
	RoleOwner    Role = "owner"
)

// User is an authenticated API caller.
type User struct {
	ID   int64
	Name string
	Role Role
}

// Repository resolves API credentials to users. Keys are looked up by
// their HMAC-SHA256 hash; the plaintext key is never stored.
type Repository interface {
	FindByAPIKeyHash(ctx context.Context, hash string) (*User, error)
}
