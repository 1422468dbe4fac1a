// Package auth implements CLASP's auth collaborator (spec §6, §9 "Token
// generation"): tokens are opaque to the Router Core, which only calls
// Validate. This package also supplies a reference in-memory
// implementation suitable for single-process deployments and tests.
package auth

import (
	"crypto/rand"
	"encoding/hex"
	"errors"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/clasp-io/clasp/address"
)

// Claims is what a token resolves to (spec §3 "Token").
type Claims struct {
	Subject string
	Scopes  address.ScopeSet
	Expiry  time.Time
}

// ErrInvalidToken is returned by Validate for an unknown or expired token.
var ErrInvalidToken = errors.New("auth: invalid or expired token")

// Validator resolves an opaque token string to Claims. The core never
// decodes tokens itself (spec §9): revocation is by lookup only.
type Validator interface {
	Validate(token string) (Claims, error)
}

// StaticValidator is a reference in-memory Validator backed by a map of
// issued tokens, suitable for single-node deployments and tests.
type StaticValidator struct {
	mu     sync.RWMutex
	tokens map[string]Claims
}

// NewStaticValidator builds an empty StaticValidator.
func NewStaticValidator() *StaticValidator {
	return &StaticValidator{tokens: make(map[string]Claims)}
}

// Validate implements Validator.
func (v *StaticValidator) Validate(token string) (Claims, error) {
	v.mu.RLock()
	defer v.mu.RUnlock()
	c, ok := v.tokens[token]
	if !ok {
		return Claims{}, ErrInvalidToken
	}
	if !c.Expiry.IsZero() && time.Now().After(c.Expiry) {
		return Claims{}, ErrInvalidToken
	}
	return c, nil
}

// IssueToken mints a new CSPRNG token bound to claims and returns it (spec
// §9: "Token strings must be produced from a CSPRNG; a simple UUID/v4 hex
// encoding is acceptable").
func (v *StaticValidator) IssueToken(claims Claims) string {
	token := uuid.New().String()
	v.mu.Lock()
	v.tokens[token] = claims
	v.mu.Unlock()
	return token
}

// Revoke removes a token immediately.
func (v *StaticValidator) Revoke(token string) {
	v.mu.Lock()
	delete(v.tokens, token)
	v.mu.Unlock()
}

// RandomHex returns n bytes of CSPRNG randomness hex-encoded, for callers
// that want a token format other than a UUID.
func RandomHex(n int) (string, error) {
	b := make([]byte, n)
	if _, err := rand.Read(b); err != nil {
		return "", err
	}
	return hex.EncodeToString(b), nil
}
