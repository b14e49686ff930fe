package service

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/sirupsen/logrus"
	"golang.org/x/crypto/bcrypt"

	"wallet-auth/internal/auth"
	"wallet-auth/internal/domain"
	"wallet-auth/internal/repository"
	"wallet-auth/internal/signature"
)

var (
	// ErrInvalidSignature covers every reason a wallet sign-in is rejected.
	ErrInvalidSignature = errors.New("invalid signature")
	// ErrInvalidRefreshToken indicates an unknown or already used refresh token.
	ErrInvalidRefreshToken = errors.New("invalid refresh token")
	// ErrRefreshTokenExpired indicates the refresh token outlived its validity.
	ErrRefreshTokenExpired = errors.New("refresh token expired")
	// ErrUnauthorized is returned when an access token does not resolve to an identity.
	ErrUnauthorized = errors.New("unauthorized")
)

// DefaultSignInMessage is the text wallets sign when no message is configured.
const DefaultSignInMessage = "Sign in to the Carbon Exchange"

// AuthConfig holds token and sign-in settings.
type AuthConfig struct {
	JWTSecret       string
	SignInMessage   string
	AccessTokenTTL  time.Duration
	RefreshTokenTTL time.Duration
}

// Session is the result of a successful sign-in or refresh.
type Session struct {
	AccessToken  string
	RefreshToken string
	Identity     *domain.Identity
	// Created is set when this sign-in registered the identity.
	Created bool
}

// AuthService describes wallet sign-in and session operations.
type AuthService interface {
	SignInMessage() string
	SignIn(ctx context.Context, publicKey, sig string) (*Session, error)
	Refresh(ctx context.Context, refreshToken string) (*Session, error)
	SignOut(ctx context.Context, refreshToken string) error
	Authenticate(ctx context.Context, accessToken string) (*domain.Identity, error)
	PurgeExpired(ctx context.Context) (int64, error)
}

type authService struct {
	identities repository.IdentityRepository
	tokens     repository.RefreshTokenRepository
	verifier   signature.Verifier
	cfg        AuthConfig
	secret     []byte
	logger     *logrus.Logger
	now        func() time.Time
}

func NewAuthService(
	identities repository.IdentityRepository,
	tokens repository.RefreshTokenRepository,
	verifier signature.Verifier,
	cfg AuthConfig,
	logger *logrus.Logger,
) (AuthService, error) {
	if strings.TrimSpace(cfg.JWTSecret) == "" {
		return nil, errors.New("jwt secret is required")
	}
	if cfg.SignInMessage == "" {
		cfg.SignInMessage = DefaultSignInMessage
	}
	if cfg.AccessTokenTTL <= 0 {
		cfg.AccessTokenTTL = 15 * time.Minute
	}
	if cfg.RefreshTokenTTL <= 0 {
		cfg.RefreshTokenTTL = 7 * 24 * time.Hour
	}
	if verifier == nil {
		verifier = signature.Ed25519Verifier{}
	}
	if logger == nil {
		logger = logrus.New()
	}
	return &authService{
		identities: identities,
		tokens:     tokens,
		verifier:   verifier,
		cfg:        cfg,
		secret:     []byte(cfg.JWTSecret),
		logger:     logger,
		now:        time.Now,
	}, nil
}

func (s *authService) SignInMessage() string {
	return s.cfg.SignInMessage
}

func (s *authService) SignIn(ctx context.Context, publicKey, sig string) (*Session, error) {
	publicKey = strings.TrimSpace(publicKey)
	sig = strings.TrimSpace(sig)

	if !s.verifier.Verify(publicKey, s.cfg.SignInMessage, sig) {
		if s.logger.IsLevelEnabled(logrus.DebugLevel) {
			s.logger.WithFields(logrus.Fields{
				"public_key": truncate(publicKey, signature.MaxEncodedPublicKeyLen),
				"reason":     rejectReason(publicKey, s.cfg.SignInMessage, sig),
			}).Debug("wallet sign-in rejected")
		}
		return nil, ErrInvalidSignature
	}

	identity, created, err := s.lookupOrCreate(ctx, publicKey)
	if err != nil {
		return nil, err
	}

	now := s.now().UTC()
	if err := s.identities.TouchLogin(ctx, identity.ID, now); err != nil {
		return nil, fmt.Errorf("record login: %w", err)
	}
	identity.LastLoginAt = &now

	session, err := s.issueSession(ctx, identity)
	if err != nil {
		return nil, err
	}
	session.Created = created

	s.logger.WithFields(logrus.Fields{
		"identity_id": identity.ID,
		"created":     created,
	}).Info("wallet sign-in")
	return session, nil
}

// lookupOrCreate finds the identity for publicKey or registers it. A unique
// violation on insert means a concurrent first login won; the row is re-read once.
func (s *authService) lookupOrCreate(ctx context.Context, publicKey string) (*domain.Identity, bool, error) {
	identity, err := s.identities.GetByPublicKey(ctx, publicKey)
	if err == nil {
		return identity, false, nil
	}
	if !errors.Is(err, repository.ErrNotFound) {
		return nil, false, fmt.Errorf("lookup identity: %w", err)
	}

	hash, err := placeholderCredential()
	if err != nil {
		return nil, false, err
	}

	identity = &domain.Identity{
		PublicKey:      publicKey,
		CredentialHash: hash,
		Verified:       true,
	}
	if _, err := s.identities.Create(ctx, identity); err != nil {
		if !errors.Is(err, repository.ErrAlreadyExists) {
			return nil, false, fmt.Errorf("create identity: %w", err)
		}
		identity, err = s.identities.GetByPublicKey(ctx, publicKey)
		if err != nil {
			return nil, false, fmt.Errorf("lookup identity after conflict: %w", err)
		}
		return identity, false, nil
	}
	return identity, true, nil
}

func (s *authService) Refresh(ctx context.Context, refreshToken string) (*Session, error) {
	refreshToken = strings.TrimSpace(refreshToken)
	if refreshToken == "" {
		return nil, ErrInvalidRefreshToken
	}

	stored, err := s.tokens.Consume(ctx, refreshToken)
	if err != nil {
		if errors.Is(err, repository.ErrNotFound) {
			return nil, ErrInvalidRefreshToken
		}
		return nil, fmt.Errorf("consume refresh token: %w", err)
	}
	if stored.Expired(s.now()) {
		return nil, ErrRefreshTokenExpired
	}

	identity, err := s.identities.GetByID(ctx, stored.IdentityID)
	if err != nil {
		if errors.Is(err, repository.ErrNotFound) {
			return nil, ErrInvalidRefreshToken
		}
		return nil, fmt.Errorf("lookup identity: %w", err)
	}

	return s.issueSession(ctx, identity)
}

func (s *authService) SignOut(ctx context.Context, refreshToken string) error {
	refreshToken = strings.TrimSpace(refreshToken)
	if refreshToken == "" {
		return nil
	}
	return s.tokens.Delete(ctx, refreshToken)
}

func (s *authService) Authenticate(ctx context.Context, accessToken string) (*domain.Identity, error) {
	claims, err := auth.ParseAccessToken(accessToken, s.secret)
	if err != nil {
		return nil, ErrUnauthorized
	}

	identity, err := s.identities.GetByID(ctx, claims.IdentityID)
	if err != nil {
		if errors.Is(err, repository.ErrNotFound) {
			return nil, ErrUnauthorized
		}
		return nil, fmt.Errorf("lookup identity: %w", err)
	}
	if identity.PublicKey != claims.Address {
		return nil, ErrUnauthorized
	}
	return sanitizeIdentity(identity), nil
}

func (s *authService) PurgeExpired(ctx context.Context) (int64, error) {
	return s.tokens.DeleteExpired(ctx, s.now())
}

func (s *authService) issueSession(ctx context.Context, identity *domain.Identity) (*Session, error) {
	access, err := auth.GenerateAccessToken(identity.ID, identity.PublicKey, s.secret, s.cfg.AccessTokenTTL)
	if err != nil {
		return nil, err
	}
	refresh, err := auth.NewRefreshToken()
	if err != nil {
		return nil, fmt.Errorf("generate refresh token: %w", err)
	}
	if err := s.tokens.Create(ctx, &domain.RefreshToken{
		Token:      refresh,
		IdentityID: identity.ID,
		ExpiresAt:  s.now().Add(s.cfg.RefreshTokenTTL),
	}); err != nil {
		return nil, fmt.Errorf("store refresh token: %w", err)
	}

	return &Session{
		AccessToken:  access,
		RefreshToken: refresh,
		Identity:     sanitizeIdentity(identity),
	}, nil
}

// placeholderCredential hashes a random secret nobody learns. Wallet
// identities never sign in with it.
func placeholderCredential() (string, error) {
	hash, err := bcrypt.GenerateFromPassword([]byte(uuid.NewString()), bcrypt.DefaultCost)
	if err != nil {
		return "", fmt.Errorf("hash placeholder credential: %w", err)
	}
	return string(hash), nil
}

func rejectReason(publicKey, message, sig string) string {
	if err := signature.Check(publicKey, message, sig); err != nil {
		return err.Error()
	}
	return "verifier rejected"
}

func truncate(s string, n int) string {
	if len(s) <= n {
		return s
	}
	return s[:n]
}

func sanitizeIdentity(identity *domain.Identity) *domain.Identity {
	if identity == nil {
		return nil
	}
	return &domain.Identity{
		ID:          identity.ID,
		PublicKey:   identity.PublicKey,
		Verified:    identity.Verified,
		CreatedAt:   identity.CreatedAt,
		UpdatedAt:   identity.UpdatedAt,
		LastLoginAt: identity.LastLoginAt,
	}
}
