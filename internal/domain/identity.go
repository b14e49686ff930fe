package domain

import "time"

// Identity is a wallet-backed account keyed by its base58 public key.
type Identity struct {
	ID int64
	// PublicKey is the base58 wallet address, unique across identities.
	PublicKey string
	// CredentialHash is a bcrypt hash of a random placeholder secret. It is
	// never returned to clients.
	CredentialHash string
	Verified       bool
	CreatedAt      time.Time
	UpdatedAt      time.Time
	LastLoginAt    *time.Time
}

// RefreshToken is an opaque, single-use token exchanged for a new session.
type RefreshToken struct {
	Token      string
	IdentityID int64
	ExpiresAt  time.Time
	CreatedAt  time.Time
}

// Expired reports whether the token is no longer usable at now.
func (t RefreshToken) Expired(now time.Time) bool {
	return !now.Before(t.ExpiresAt)
}
