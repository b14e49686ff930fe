package sqlite

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"

	"wallet-auth/internal/domain"
	"wallet-auth/internal/repository"
)

const createRefreshTokensTable = `
CREATE TABLE IF NOT EXISTS refresh_tokens (
	token TEXT PRIMARY KEY,
	identity_id INTEGER NOT NULL REFERENCES identities(id) ON DELETE CASCADE,
	expires_at DATETIME NOT NULL,
	created_at DATETIME NOT NULL
);
`

const createRefreshTokensExpiryIndex = `
CREATE INDEX IF NOT EXISTS idx_refresh_tokens_expires_at ON refresh_tokens(expires_at);
`

type RefreshTokenRepository struct {
	db *sql.DB
}

func NewRefreshTokenRepository(db *sql.DB) repository.RefreshTokenRepository {
	return &RefreshTokenRepository{db: db}
}

func (r *RefreshTokenRepository) Init(ctx context.Context) error {
	if _, err := r.db.ExecContext(ctx, createRefreshTokensTable); err != nil {
		return fmt.Errorf("create refresh_tokens table: %w", err)
	}
	if _, err := r.db.ExecContext(ctx, createRefreshTokensExpiryIndex); err != nil {
		return fmt.Errorf("create refresh_tokens index: %w", err)
	}
	return nil
}

func (r *RefreshTokenRepository) Create(ctx context.Context, token *domain.RefreshToken) error {
	token.CreatedAt = time.Now().UTC()
	_, err := r.db.ExecContext(ctx, `
INSERT INTO refresh_tokens (token, identity_id, expires_at, created_at)
VALUES (?, ?, ?, ?)`,
		token.Token,
		token.IdentityID,
		token.ExpiresAt.UTC(),
		token.CreatedAt,
	)
	if err != nil {
		if isUniqueViolation(err) {
			return fmt.Errorf("refresh token: %w", repository.ErrAlreadyExists)
		}
		return fmt.Errorf("insert refresh token: %w", err)
	}
	return nil
}

func (r *RefreshTokenRepository) Consume(ctx context.Context, token string) (*domain.RefreshToken, error) {
	row := r.db.QueryRowContext(ctx, `
DELETE FROM refresh_tokens
WHERE token = ?
RETURNING token, identity_id, expires_at, created_at`,
		token,
	)
	return scanRefreshToken(row)
}

func (r *RefreshTokenRepository) Delete(ctx context.Context, token string) error {
	if _, err := r.db.ExecContext(ctx, `DELETE FROM refresh_tokens WHERE token = ?`, token); err != nil {
		return fmt.Errorf("delete refresh token: %w", err)
	}
	return nil
}

func (r *RefreshTokenRepository) DeleteExpired(ctx context.Context, now time.Time) (int64, error) {
	res, err := r.db.ExecContext(ctx, `DELETE FROM refresh_tokens WHERE expires_at <= ?`, now.UTC())
	if err != nil {
		return 0, fmt.Errorf("delete expired refresh tokens: %w", err)
	}
	n, err := res.RowsAffected()
	if err != nil {
		return 0, fmt.Errorf("expired refresh tokens rows affected: %w", err)
	}
	return n, nil
}

func scanRefreshToken(row interface {
	Scan(dest ...any) error
}) (*domain.RefreshToken, error) {
	var token domain.RefreshToken
	if err := row.Scan(
		&token.Token,
		&token.IdentityID,
		&token.ExpiresAt,
		&token.CreatedAt,
	); err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, repository.ErrNotFound
		}
		return nil, fmt.Errorf("scan refresh token: %w", err)
	}
	return &token, nil
}
