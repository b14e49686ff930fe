package service

import (
	"context"
	"crypto/ed25519"
	"crypto/rand"
	"database/sql"
	"io"
	"path/filepath"
	"sync"
	"testing"
	"time"

	"github.com/sirupsen/logrus"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"wallet-auth/internal/auth"
	"wallet-auth/internal/domain"
	"wallet-auth/internal/repository"
	"wallet-auth/internal/repository/sqlite"
	"wallet-auth/internal/signature"
)

const testSecret = "test-secret"

type wallet struct {
	address string
	key     ed25519.PrivateKey
}

func newWallet(t *testing.T) wallet {
	t.Helper()
	pub, priv, err := ed25519.GenerateKey(rand.Reader)
	require.NoError(t, err)
	return wallet{address: signature.Encode(pub), key: priv}
}

func (w wallet) sign(message string) string {
	return signature.Sign(w.key, message)
}

func quietLogger() *logrus.Logger {
	logger := logrus.New()
	logger.SetOutput(io.Discard)
	logger.SetLevel(logrus.DebugLevel)
	return logger
}

func newTestAuthService(t *testing.T) (*authService, *sql.DB) {
	t.Helper()
	db, err := sqlite.Open(filepath.Join(t.TempDir(), "auth.db"))
	require.NoError(t, err)
	t.Cleanup(func() { _ = db.Close() })

	ctx := context.Background()
	identities := sqlite.NewIdentityRepository(db)
	require.NoError(t, identities.Init(ctx))
	tokens := sqlite.NewRefreshTokenRepository(db)
	require.NoError(t, tokens.Init(ctx))

	svc, err := NewAuthService(identities, tokens, nil, AuthConfig{
		JWTSecret:       testSecret,
		SignInMessage:   "sign-in-message",
		AccessTokenTTL:  time.Minute,
		RefreshTokenTTL: time.Hour,
	}, quietLogger())
	require.NoError(t, err)
	return svc.(*authService), db
}

func countIdentities(t *testing.T, db *sql.DB, publicKey string) int {
	t.Helper()
	var n int
	require.NoError(t, db.QueryRow(`SELECT COUNT(*) FROM identities WHERE public_key = ?`, publicKey).Scan(&n))
	return n
}

func TestNewAuthService_RequiresSecret(t *testing.T) {
	_, err := NewAuthService(nil, nil, nil, AuthConfig{JWTSecret: "  "}, nil)
	assert.Error(t, err)
}

func TestNewAuthService_DefaultMessage(t *testing.T) {
	svc, err := NewAuthService(nil, nil, nil, AuthConfig{JWTSecret: "s"}, nil)
	require.NoError(t, err)
	assert.Equal(t, DefaultSignInMessage, svc.SignInMessage())
}

func TestSignIn_CreatesIdentityOnce(t *testing.T) {
	svc, db := newTestAuthService(t)
	ctx := context.Background()
	w := newWallet(t)
	sig := w.sign(svc.SignInMessage())

	first, err := svc.SignIn(ctx, w.address, sig)
	require.NoError(t, err)
	assert.True(t, first.Created)
	assert.NotEmpty(t, first.AccessToken)
	assert.NotEmpty(t, first.RefreshToken)
	assert.Equal(t, w.address, first.Identity.PublicKey)
	assert.True(t, first.Identity.Verified)
	assert.Empty(t, first.Identity.CredentialHash)
	require.NotNil(t, first.Identity.LastLoginAt)

	second, err := svc.SignIn(ctx, w.address, sig)
	require.NoError(t, err)
	assert.False(t, second.Created)
	assert.Equal(t, first.Identity.ID, second.Identity.ID)
	assert.NotEqual(t, first.RefreshToken, second.RefreshToken)

	assert.Equal(t, 1, countIdentities(t, db, w.address))
}

func TestSignIn_StoresUnguessableCredential(t *testing.T) {
	svc, _ := newTestAuthService(t)
	ctx := context.Background()
	w := newWallet(t)

	_, err := svc.SignIn(ctx, w.address, w.sign(svc.SignInMessage()))
	require.NoError(t, err)

	stored, err := svc.identities.GetByPublicKey(ctx, w.address)
	require.NoError(t, err)
	assert.NotEmpty(t, stored.CredentialHash)
	assert.NotContains(t, stored.CredentialHash, w.address)
}

func TestSignIn_Rejections(t *testing.T) {
	svc, db := newTestAuthService(t)
	ctx := context.Background()
	w := newWallet(t)
	other := newWallet(t)

	tests := []struct {
		name      string
		publicKey string
		signature string
	}{
		{name: "signature over other message", publicKey: w.address, signature: w.sign("attacker chosen text")},
		{name: "rotated key", publicKey: other.address, signature: w.sign(svc.SignInMessage())},
		{name: "malformed public key", publicKey: "not base58 0OIl", signature: w.sign(svc.SignInMessage())},
		{name: "malformed signature", publicKey: w.address, signature: "@@@"},
		{name: "empty", publicKey: "", signature: ""},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			session, err := svc.SignIn(ctx, tt.publicKey, tt.signature)
			assert.ErrorIs(t, err, ErrInvalidSignature)
			assert.Nil(t, session)
		})
	}

	assert.Equal(t, 0, countIdentities(t, db, w.address))
	assert.Equal(t, 0, countIdentities(t, db, other.address))
}

func TestSignIn_ConcurrentFirstLogins(t *testing.T) {
	svc, db := newTestAuthService(t)
	ctx := context.Background()
	w := newWallet(t)
	sig := w.sign(svc.SignInMessage())

	const workers = 8
	sessions := make([]*Session, workers)
	errs := make([]error, workers)

	var wg sync.WaitGroup
	for i := 0; i < workers; i++ {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			sessions[i], errs[i] = svc.SignIn(ctx, w.address, sig)
		}(i)
	}
	wg.Wait()

	created := 0
	for i := 0; i < workers; i++ {
		require.NoError(t, errs[i])
		assert.Equal(t, sessions[0].Identity.ID, sessions[i].Identity.ID)
		if sessions[i].Created {
			created++
		}
	}
	assert.Equal(t, 1, created)
	assert.Equal(t, 1, countIdentities(t, db, w.address))
}

func TestRefresh_RotatesToken(t *testing.T) {
	svc, _ := newTestAuthService(t)
	ctx := context.Background()
	w := newWallet(t)

	session, err := svc.SignIn(ctx, w.address, w.sign(svc.SignInMessage()))
	require.NoError(t, err)

	refreshed, err := svc.Refresh(ctx, session.RefreshToken)
	require.NoError(t, err)
	assert.NotEqual(t, session.RefreshToken, refreshed.RefreshToken)
	assert.Equal(t, session.Identity.ID, refreshed.Identity.ID)

	_, err = svc.Refresh(ctx, session.RefreshToken)
	assert.ErrorIs(t, err, ErrInvalidRefreshToken)
}

func TestRefresh_Expired(t *testing.T) {
	svc, _ := newTestAuthService(t)
	ctx := context.Background()
	w := newWallet(t)

	session, err := svc.SignIn(ctx, w.address, w.sign(svc.SignInMessage()))
	require.NoError(t, err)

	svc.now = func() time.Time { return time.Now().Add(2 * time.Hour) }
	_, err = svc.Refresh(ctx, session.RefreshToken)
	assert.ErrorIs(t, err, ErrRefreshTokenExpired)
}

func TestRefresh_Unknown(t *testing.T) {
	svc, _ := newTestAuthService(t)

	_, err := svc.Refresh(context.Background(), "deadbeef")
	assert.ErrorIs(t, err, ErrInvalidRefreshToken)

	_, err = svc.Refresh(context.Background(), "")
	assert.ErrorIs(t, err, ErrInvalidRefreshToken)
}

func TestSignOut_RevokesRefreshToken(t *testing.T) {
	svc, _ := newTestAuthService(t)
	ctx := context.Background()
	w := newWallet(t)

	session, err := svc.SignIn(ctx, w.address, w.sign(svc.SignInMessage()))
	require.NoError(t, err)

	require.NoError(t, svc.SignOut(ctx, session.RefreshToken))
	require.NoError(t, svc.SignOut(ctx, session.RefreshToken))

	_, err = svc.Refresh(ctx, session.RefreshToken)
	assert.ErrorIs(t, err, ErrInvalidRefreshToken)
}

func TestAuthenticate(t *testing.T) {
	svc, _ := newTestAuthService(t)
	ctx := context.Background()
	w := newWallet(t)

	session, err := svc.SignIn(ctx, w.address, w.sign(svc.SignInMessage()))
	require.NoError(t, err)

	identity, err := svc.Authenticate(ctx, session.AccessToken)
	require.NoError(t, err)
	assert.Equal(t, w.address, identity.PublicKey)
	assert.Empty(t, identity.CredentialHash)

	_, err = svc.Authenticate(ctx, "garbage")
	assert.ErrorIs(t, err, ErrUnauthorized)

	forged, err := auth.GenerateAccessToken(session.Identity.ID, "someone-else", []byte(testSecret), time.Minute)
	require.NoError(t, err)
	_, err = svc.Authenticate(ctx, forged)
	assert.ErrorIs(t, err, ErrUnauthorized)

	missing, err := auth.GenerateAccessToken(9999, w.address, []byte(testSecret), time.Minute)
	require.NoError(t, err)
	_, err = svc.Authenticate(ctx, missing)
	assert.ErrorIs(t, err, ErrUnauthorized)
}

func TestPurgeExpired(t *testing.T) {
	svc, _ := newTestAuthService(t)
	ctx := context.Background()
	w := newWallet(t)

	_, err := svc.SignIn(ctx, w.address, w.sign(svc.SignInMessage()))
	require.NoError(t, err)

	n, err := svc.PurgeExpired(ctx)
	require.NoError(t, err)
	assert.Equal(t, int64(0), n)

	svc.now = func() time.Time { return time.Now().Add(2 * time.Hour) }
	n, err = svc.PurgeExpired(ctx)
	require.NoError(t, err)
	assert.Equal(t, int64(1), n)
}

// racingIdentities simulates losing a first-login race: the lookup misses,
// the insert hits the unique key, and the re-read finds the winner's row.
type racingIdentities struct {
	mu      sync.Mutex
	lookups int
	winner  *domain.Identity
}

func (r *racingIdentities) Init(context.Context) error { return nil }

func (r *racingIdentities) Create(context.Context, *domain.Identity) (int64, error) {
	return 0, repository.ErrAlreadyExists
}

func (r *racingIdentities) GetByPublicKey(context.Context, string) (*domain.Identity, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.lookups++
	if r.lookups == 1 {
		return nil, repository.ErrNotFound
	}
	copied := *r.winner
	return &copied, nil
}

func (r *racingIdentities) GetByID(context.Context, int64) (*domain.Identity, error) {
	copied := *r.winner
	return &copied, nil
}

func (r *racingIdentities) TouchLogin(context.Context, int64, time.Time) error { return nil }

type memTokens struct {
	mu     sync.Mutex
	tokens map[string]domain.RefreshToken
}

func newMemTokens() *memTokens {
	return &memTokens{tokens: make(map[string]domain.RefreshToken)}
}

func (m *memTokens) Init(context.Context) error { return nil }

func (m *memTokens) Create(_ context.Context, token *domain.RefreshToken) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.tokens[token.Token] = *token
	return nil
}

func (m *memTokens) Consume(_ context.Context, token string) (*domain.RefreshToken, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	t, ok := m.tokens[token]
	if !ok {
		return nil, repository.ErrNotFound
	}
	delete(m.tokens, token)
	return &t, nil
}

func (m *memTokens) Delete(_ context.Context, token string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	delete(m.tokens, token)
	return nil
}

func (m *memTokens) DeleteExpired(_ context.Context, now time.Time) (int64, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	var n int64
	for k, t := range m.tokens {
		if t.Expired(now) {
			delete(m.tokens, k)
			n++
		}
	}
	return n, nil
}

func TestSignIn_UniqueConflictRetriesLookupOnce(t *testing.T) {
	w := newWallet(t)
	identities := &racingIdentities{winner: &domain.Identity{ID: 7, PublicKey: w.address, Verified: true}}

	svc, err := NewAuthService(identities, newMemTokens(), nil, AuthConfig{JWTSecret: testSecret}, quietLogger())
	require.NoError(t, err)

	session, err := svc.SignIn(context.Background(), w.address, w.sign(svc.SignInMessage()))
	require.NoError(t, err)
	assert.False(t, session.Created)
	assert.Equal(t, int64(7), session.Identity.ID)
	assert.Equal(t, 2, identities.lookups)
}
