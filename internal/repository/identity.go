package repository

import (
	"context"
	"errors"
	"time"

	"wallet-auth/internal/domain"
)

var (
	// ErrNotFound is returned when no row matches the lookup key.
	ErrNotFound = errors.New("not found")
	// ErrAlreadyExists is returned when an insert violates a unique key.
	ErrAlreadyExists = errors.New("already exists")
)

// IdentityRepository persists wallet identities, indexed by public key.
type IdentityRepository interface {
	Init(ctx context.Context) error
	Create(ctx context.Context, identity *domain.Identity) (int64, error)
	GetByPublicKey(ctx context.Context, publicKey string) (*domain.Identity, error)
	GetByID(ctx context.Context, id int64) (*domain.Identity, error)
	TouchLogin(ctx context.Context, id int64, at time.Time) error
}

// RefreshTokenRepository stores issued refresh tokens.
type RefreshTokenRepository interface {
	Init(ctx context.Context) error
	Create(ctx context.Context, token *domain.RefreshToken) error
	// Consume deletes the token and returns it. A token can be consumed once;
	// later calls return ErrNotFound.
	Consume(ctx context.Context, token string) (*domain.RefreshToken, error)
	Delete(ctx context.Context, token string) error
	DeleteExpired(ctx context.Context, now time.Time) (int64, error)
}
