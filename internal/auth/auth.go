// Package auth issues and verifies the bearer tokens that identify players
// to the relay backend.
package auth

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/golang-jwt/jwt/v5"
)

var ErrInvalidToken = errors.New("invalid token")

const issuer = "gamecore"

// TokenProvider supplies the bearer token for outgoing requests.
type TokenProvider interface {
	Token(ctx context.Context) (string, error)
}

// StaticToken is a fixed token, e.g. from configuration.
type StaticToken string

func (t StaticToken) Token(context.Context) (string, error) {
	if t == "" {
		return "", errors.New("no token configured")
	}
	return string(t), nil
}

// Claims are the JWT claims of a player token. The subject is the player id.
type Claims struct {
	DisplayName string `json:"name,omitempty"`
	jwt.RegisteredClaims
}

// Signer issues and verifies HS256 player tokens.
type Signer struct {
	secret []byte
	ttl    time.Duration
	now    func() time.Time
}

func NewSigner(secret string, ttl time.Duration) (*Signer, error) {
	if len(secret) < 16 {
		return nil, errors.New("token secret must be at least 16 bytes")
	}
	if ttl <= 0 {
		ttl = 24 * time.Hour
	}
	return &Signer{secret: []byte(secret), ttl: ttl, now: time.Now}, nil
}

// Issue returns a signed token for playerID.
func (s *Signer) Issue(playerID, displayName string) (string, error) {
	if playerID == "" {
		return "", errors.New("empty player id")
	}
	now := s.now()
	claims := &Claims{
		DisplayName: displayName,
		RegisteredClaims: jwt.RegisteredClaims{
			Issuer:    issuer,
			Subject:   playerID,
			IssuedAt:  jwt.NewNumericDate(now),
			NotBefore: jwt.NewNumericDate(now),
			ExpiresAt: jwt.NewNumericDate(now.Add(s.ttl)),
		},
	}
	token := jwt.NewWithClaims(jwt.SigningMethodHS256, claims)
	return token.SignedString(s.secret)
}

// Verify checks a token and returns its claims.
func (s *Signer) Verify(tokenString string) (*Claims, error) {
	token, err := jwt.ParseWithClaims(tokenString, &Claims{}, func(*jwt.Token) (any, error) {
		return s.secret, nil
	},
		jwt.WithValidMethods([]string{jwt.SigningMethodHS256.Alg()}),
		jwt.WithIssuer(issuer),
		jwt.WithTimeFunc(s.now),
	)
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrInvalidToken, err)
	}
	claims, ok := token.Claims.(*Claims)
	if !ok || !token.Valid || claims.Subject == "" {
		return nil, ErrInvalidToken
	}
	return claims, nil
}

// Provider returns a TokenProvider that issues tokens for playerID and
// reissues them shortly before they expire.
func (s *Signer) Provider(playerID, displayName string) TokenProvider {
	return &signedProvider{signer: s, playerID: playerID, displayName: displayName}
}

type signedProvider struct {
	signer      *Signer
	playerID    string
	displayName string

	mu      sync.Mutex
	token   string
	expires time.Time
}

func (p *signedProvider) Token(context.Context) (string, error) {
	p.mu.Lock()
	defer p.mu.Unlock()
	now := p.signer.now()
	if p.token != "" && now.Add(p.signer.ttl/10).Before(p.expires) {
		return p.token, nil
	}
	token, err := p.signer.Issue(p.playerID, p.displayName)
	if err != nil {
		return "", err
	}
	p.token, p.expires = token, now.Add(p.signer.ttl)
	return token, nil
}
