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

const createIdentitiesTable = `
CREATE TABLE IF NOT EXISTS identities (
	id INTEGER PRIMARY KEY AUTOINCREMENT,
	public_key TEXT NOT NULL UNIQUE,
	credential_hash TEXT NOT NULL,
	verified INTEGER NOT NULL DEFAULT 0,
	created_at DATETIME NOT NULL,
	updated_at DATETIME NOT NULL,
	last_login_at DATETIME
);
`

type IdentityRepository struct {
	db *sql.DB
}

func NewIdentityRepository(db *sql.DB) repository.IdentityRepository {
	return &IdentityRepository{db: db}
}

func (r *IdentityRepository) Init(ctx context.Context) error {
	if _, err := r.db.ExecContext(ctx, createIdentitiesTable); err != nil {
		return fmt.Errorf("create identities table: %w", err)
	}
	return nil
}

func (r *IdentityRepository) Create(ctx context.Context, identity *domain.Identity) (int64, error) {
	now := time.Now().UTC()
	identity.CreatedAt = now
	identity.UpdatedAt = now

	res, err := r.db.ExecContext(ctx, `
INSERT INTO identities (public_key, credential_hash, verified, created_at, updated_at)
VALUES (?, ?, ?, ?, ?)`,
		identity.PublicKey,
		identity.CredentialHash,
		identity.Verified,
		identity.CreatedAt,
		identity.UpdatedAt,
	)
	if err != nil {
		if isUniqueViolation(err) {
			return 0, fmt.Errorf("identity %s: %w", identity.PublicKey, repository.ErrAlreadyExists)
		}
		return 0, fmt.Errorf("insert identity: %w", err)
	}

	id, err := res.LastInsertId()
	if err != nil {
		return 0, fmt.Errorf("identity last insert id: %w", err)
	}
	identity.ID = id
	return id, nil
}

func (r *IdentityRepository) GetByPublicKey(ctx context.Context, publicKey string) (*domain.Identity, error) {
	row := r.db.QueryRowContext(ctx, `
SELECT id, public_key, credential_hash, verified, created_at, updated_at, last_login_at
FROM identities
WHERE public_key = ?`,
		publicKey,
	)
	return scanIdentity(row)
}

func (r *IdentityRepository) GetByID(ctx context.Context, id int64) (*domain.Identity, error) {
	row := r.db.QueryRowContext(ctx, `
SELECT id, public_key, credential_hash, verified, created_at, updated_at, last_login_at
FROM identities
WHERE id = ?`,
		id,
	)
	return scanIdentity(row)
}

func (r *IdentityRepository) TouchLogin(ctx context.Context, id int64, at time.Time) error {
	at = at.UTC()
	res, err := r.db.ExecContext(ctx, `
UPDATE identities
SET last_login_at = ?, updated_at = ?
WHERE id = ?`,
		at, at, id,
	)
	if err != nil {
		return fmt.Errorf("touch identity login: %w", err)
	}
	n, err := res.RowsAffected()
	if err != nil {
		return fmt.Errorf("touch identity rows affected: %w", err)
	}
	if n == 0 {
		return fmt.Errorf("identity %d: %w", id, repository.ErrNotFound)
	}
	return nil
}

func scanIdentity(row interface {
	Scan(dest ...any) error
}) (*domain.Identity, error) {
	var (
		identity    domain.Identity
		lastLoginAt sql.NullTime
	)
	if err := row.Scan(
		&identity.ID,
		&identity.PublicKey,
		&identity.CredentialHash,
		&identity.Verified,
		&identity.CreatedAt,
		&identity.UpdatedAt,
		&lastLoginAt,
	); err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, repository.ErrNotFound
		}
		return nil, fmt.Errorf("scan identity: %w", err)
	}
	if lastLoginAt.Valid {
		t := lastLoginAt.Time
		identity.LastLoginAt = &t
	}
	return &identity, nil
}
