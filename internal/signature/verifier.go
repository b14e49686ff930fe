// Package signature verifies detached ed25519 signatures produced by wallets.
// Public keys and signatures travel base58-encoded; messages are signed as
// their raw UTF-8 bytes.
package signature

import (
	"crypto/ed25519"
	"errors"
	"fmt"

	"github.com/mr-tron/base58"
)

const (
	// MaxEncodedPublicKeyLen is the longest base58 rendering of a 32 byte key.
	MaxEncodedPublicKeyLen = 44
	// MaxEncodedSignatureLen is the longest base58 rendering of a 64 byte signature.
	MaxEncodedSignatureLen = 88
)

var (
	ErrMalformedPublicKey = errors.New("malformed public key")
	ErrMalformedSignature = errors.New("malformed signature")
	ErrSignatureMismatch  = errors.New("signature mismatch")
)

// Verifier decides whether a signature over message was made by publicKey.
type Verifier interface {
	Verify(publicKey, message, signature string) bool
}

// Ed25519Verifier is the base58/ed25519 Verifier used for wallet sign-in.
type Ed25519Verifier struct{}

func (Ed25519Verifier) Verify(publicKey, message, signature string) bool {
	return Verify(publicKey, message, signature)
}

var _ Verifier = Ed25519Verifier{}

// Verify reports whether signature is a valid ed25519 signature of message
// under publicKey. It never panics on malformed input.
func Verify(publicKey, message, signature string) bool {
	return Check(publicKey, message, signature) == nil
}

// Check is Verify with the rejection reason. Callers facing clients should
// collapse every error into a single generic rejection.
func Check(publicKey, message, signature string) error {
	pub, err := DecodePublicKey(publicKey)
	if err != nil {
		return err
	}
	sig, err := DecodeSignature(signature)
	if err != nil {
		return err
	}
	if !ed25519.Verify(pub, []byte(message), sig) {
		return ErrSignatureMismatch
	}
	return nil
}

// DecodePublicKey decodes a base58 public key and enforces the ed25519 key size.
func DecodePublicKey(s string) (ed25519.PublicKey, error) {
	raw, err := decodeBounded(s, MaxEncodedPublicKeyLen, ed25519.PublicKeySize)
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrMalformedPublicKey, err)
	}
	return ed25519.PublicKey(raw), nil
}

// DecodeSignature decodes a base58 signature and enforces the ed25519 signature size.
func DecodeSignature(s string) ([]byte, error) {
	raw, err := decodeBounded(s, MaxEncodedSignatureLen, ed25519.SignatureSize)
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrMalformedSignature, err)
	}
	return raw, nil
}

func decodeBounded(s string, maxEncoded, size int) ([]byte, error) {
	if s == "" {
		return nil, errors.New("empty value")
	}
	if len(s) > maxEncoded {
		return nil, fmt.Errorf("encoded length %d exceeds %d", len(s), maxEncoded)
	}
	raw, err := base58.Decode(s)
	if err != nil {
		return nil, fmt.Errorf("decode base58: %w", err)
	}
	if len(raw) != size {
		return nil, fmt.Errorf("decoded length %d, want %d", len(raw), size)
	}
	return raw, nil
}

// Encode renders raw bytes in the wire encoding.
func Encode(b []byte) string {
	return base58.Encode(b)
}

// Sign produces the base58 detached signature of message. Used by clients and tests.
func Sign(key ed25519.PrivateKey, message string) string {
	return base58.Encode(ed25519.Sign(key, []byte(message)))
}
