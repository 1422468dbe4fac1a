package auth

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/clasp-io/clasp/address"
)

func TestStaticValidator_IssueThenValidate(t *testing.T) {
	t.Parallel()
	v := NewStaticValidator()
	scopes := address.NewScopeSet(address.Tokened, address.Scope{Action: address.Write, Pattern: address.MustParsePattern("/synth/**")})
	token := v.IssueToken(Claims{Subject: "console-1", Scopes: scopes})

	claims, err := v.Validate(token)
	require.NoError(t, err)
	assert.Equal(t, "console-1", claims.Subject)
	assert.True(t, claims.Scopes.Allows(address.Write, address.MustParse("/synth/cutoff")))
	assert.False(t, claims.Scopes.Allows(address.Write, address.MustParse("/lights/hue")))
}

func TestStaticValidator_UnknownTokenRejected(t *testing.T) {
	t.Parallel()
	v := NewStaticValidator()
	_, err := v.Validate("nonexistent")
	assert.ErrorIs(t, err, ErrInvalidToken)
}

func TestStaticValidator_ExpiredTokenRejected(t *testing.T) {
	t.Parallel()
	v := NewStaticValidator()
	token := v.IssueToken(Claims{Subject: "console-1", Expiry: time.Now().Add(-time.Minute)})
	_, err := v.Validate(token)
	assert.ErrorIs(t, err, ErrInvalidToken)
}

func TestStaticValidator_RevokeInvalidatesToken(t *testing.T) {
	t.Parallel()
	v := NewStaticValidator()
	token := v.IssueToken(Claims{Subject: "console-1"})
	v.Revoke(token)
	_, err := v.Validate(token)
	assert.ErrorIs(t, err, ErrInvalidToken)
}

func TestRandomHex_ProducesDistinctValues(t *testing.T) {
	t.Parallel()
	a, err := RandomHex(16)
	require.NoError(t, err)
	b, err := RandomHex(16)
	require.NoError(t, err)
	assert.Len(t, a, 32)
	assert.NotEqual(t, a, b)
}
