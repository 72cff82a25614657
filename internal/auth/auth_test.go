package auth

import (
	"context"
	"testing"
	"time"

	"github.com/golang-jwt/jwt/v5"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

const secret = "0123456789abcdef-test"

func TestIssueVerify(t *testing.T) {
	s, err := NewSigner(secret, time.Hour)
	require.NoError(t, err)
	token, err := s.Issue("p1", "Player One")
	require.NoError(t, err)

	claims, err := s.Verify(token)
	require.NoError(t, err)
	assert.Equal(t, "p1", claims.Subject)
	assert.Equal(t, "Player One", claims.DisplayName)
}

func TestVerifyRejects(t *testing.T) {
	s, err := NewSigner(secret, time.Hour)
	require.NoError(t, err)
	other, err := NewSigner("another-secret-value", time.Hour)
	require.NoError(t, err)

	token, err := other.Issue("p1", "")
	require.NoError(t, err)
	_, err = s.Verify(token)
	assert.ErrorIs(t, err, ErrInvalidToken, "wrong key")

	none := jwt.NewWithClaims(jwt.SigningMethodNone, &Claims{RegisteredClaims: jwt.RegisteredClaims{Subject: "p1", Issuer: issuer}})
	unsigned, err := none.SignedString(jwt.UnsafeAllowNoneSignatureType)
	require.NoError(t, err)
	_, err = s.Verify(unsigned)
	assert.ErrorIs(t, err, ErrInvalidToken, "alg none")

	_, err = s.Verify("garbage")
	assert.ErrorIs(t, err, ErrInvalidToken)
}

func TestExpiredToken(t *testing.T) {
	s, err := NewSigner(secret, time.Minute)
	require.NoError(t, err)
	start := time.Now()
	s.now = func() time.Time { return start }
	token, err := s.Issue("p1", "")
	require.NoError(t, err)

	s.now = func() time.Time { return start.Add(2 * time.Minute) }
	_, err = s.Verify(token)
	assert.ErrorIs(t, err, ErrInvalidToken)
}

func TestProviderReissuesNearExpiry(t *testing.T) {
	s, err := NewSigner(secret, 10*time.Minute)
	require.NoError(t, err)
	start := time.Now()
	s.now = func() time.Time { return start }
	p := s.Provider("p1", "")

	a, err := p.Token(context.Background())
	require.NoError(t, err)
	b, err := p.Token(context.Background())
	require.NoError(t, err)
	assert.Equal(t, a, b)

	s.now = func() time.Time { return start.Add(9*time.Minute + 30*time.Second) }
	c, err := p.Token(context.Background())
	require.NoError(t, err)
	assert.NotEqual(t, a, c)
}

func TestStaticToken(t *testing.T) {
	tok, err := StaticToken("abc").Token(context.Background())
	require.NoError(t, err)
	assert.Equal(t, "abc", tok)
	_, err = StaticToken("").Token(context.Background())
	assert.Error(t, err)
}

func TestShortSecretRejected(t *testing.T) {
	_, err := NewSigner("short", time.Hour)
	assert.Error(t, err)
}
