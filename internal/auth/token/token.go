// Package token encodes identities into signed, self-contained session tokens
// and decodes them back.
//
// Tokens are HS256 JWTs signed with one process-wide secret. Rotating the
// secret revokes every outstanding token, session tokens and developer keys
// alike.
package token

import (
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/golang-jwt/jwt/v5"

	"github.com/pepkit/pephub-sub000/internal/auth/models"
)

// PayloadVersion is the current Claims schema version.
const PayloadVersion = 1

var (
	ErrTokenAbsent       = errors.New("no token provided")
	ErrTokenMalformed    = errors.New("malformed token")
	ErrTokenBadSignature = errors.New("token signature is invalid")
	ErrTokenExpired      = errors.New("token expired")
	ErrEmptySecret       = errors.New("signing secret must not be empty")
)

// Claims is the signed payload of a session token or developer key.
type Claims struct {
	Version       int      `json:"ver"`
	Login         string   `json:"login"`
	ID            int64    `json:"id"`
	Organizations []string `json:"orgs"`
	// Salt is only set on developer keys so keys minted from the same
	// identity in the same second still differ.
	Salt string `json:"salt,omitempty"`
	jwt.RegisteredClaims
}

// Identity returns the identity carried by the claims.
func (c *Claims) Identity() models.Identity {
	orgs := c.Organizations
	if orgs == nil {
		orgs = []string{}
	}
	return models.Identity{
		Login:         c.Login,
		ID:            c.ID,
		Organizations: orgs,
	}
}

// IsDeveloperKey reports whether the claims belong to a developer key.
func (c *Claims) IsDeveloperKey() bool {
	return c.Salt != ""
}

// Codec signs and verifies tokens.
type Codec struct {
	secret []byte
	now    func() time.Time
}

// Option configures a Codec.
type Option func(*Codec)

// WithClock replaces time.Now, for tests.
func WithClock(now func() time.Time) Option {
	return func(c *Codec) {
		c.now = now
	}
}

// NewCodec creates a codec for the given signing secret.
func NewCodec(secret string, opts ...Option) (*Codec, error) {
	if secret == "" {
		return nil, ErrEmptySecret
	}
	c := &Codec{
		secret: []byte(secret),
		now:    time.Now,
	}
	for _, opt := range opts {
		opt(c)
	}
	return c, nil
}

// Encode signs identity into a token valid for ttl.
func (c *Codec) Encode(identity models.Identity, ttl time.Duration) (string, error) {
	return c.EncodeWithSalt(identity, ttl, "")
}

// EncodeWithSalt is Encode with an extra salt claim.
func (c *Codec) EncodeWithSalt(identity models.Identity, ttl time.Duration, salt string) (string, error) {
	if ttl <= 0 {
		return "", fmt.Errorf("token ttl must be positive, got %s", ttl)
	}
	orgs := identity.Organizations
	if orgs == nil {
		orgs = []string{}
	}

	now := c.now()
	claims := &Claims{
		Version:       PayloadVersion,
		Login:         identity.Login,
		ID:            identity.ID,
		Organizations: orgs,
		Salt:          salt,
		RegisteredClaims: jwt.RegisteredClaims{
			IssuedAt:  jwt.NewNumericDate(now),
			ExpiresAt: jwt.NewNumericDate(now.Add(ttl)),
		},
	}

	signed, err := jwt.NewWithClaims(jwt.SigningMethodHS256, claims).SignedString(c.secret)
	if err != nil {
		return "", fmt.Errorf("failed to sign token: %w", err)
	}
	return signed, nil
}

// Decode verifies raw and returns the identity it carries.
func (c *Codec) Decode(raw string) (models.Identity, error) {
	claims, err := c.DecodeClaims(raw)
	if err != nil {
		return models.Identity{}, err
	}
	return claims.Identity(), nil
}

// DecodeClaims verifies raw and returns its full payload. Errors wrap exactly
// one of ErrTokenAbsent, ErrTokenMalformed, ErrTokenBadSignature or
// ErrTokenExpired. The signature is checked before the expiry, so an
// expired forgery reports a bad signature.
func (c *Codec) DecodeClaims(raw string) (*Claims, error) {
	raw = strings.TrimSpace(raw)
	if raw == "" {
		return nil, ErrTokenAbsent
	}

	var claims Claims
	_, err := jwt.ParseWithClaims(raw, &claims, func(*jwt.Token) (any, error) {
		return c.secret, nil
	},
		jwt.WithValidMethods([]string{jwt.SigningMethodHS256.Alg()}),
		jwt.WithTimeFunc(c.now),
		jwt.WithExpirationRequired(),
	)
	if err != nil {
		return nil, mapJWTError(err)
	}

	if claims.Login == "" || claims.ID == 0 {
		return nil, fmt.Errorf("%w: missing login or id", ErrTokenMalformed)
	}
	return &claims, nil
}

func mapJWTError(err error) error {
	switch {
	case errors.Is(err, jwt.ErrTokenMalformed):
		return fmt.Errorf("%w: %w", ErrTokenMalformed, err)
	case errors.Is(err, jwt.ErrTokenSignatureInvalid), errors.Is(err, jwt.ErrTokenUnverifiable):
		return fmt.Errorf("%w: %w", ErrTokenBadSignature, err)
	case errors.Is(err, jwt.ErrTokenExpired):
		return fmt.Errorf("%w: %w", ErrTokenExpired, err)
	default:
		// Remaining claim failures (missing exp, nbf, iat in the future)
		// mean the payload is not one we issued.
		return fmt.Errorf("%w: %w", ErrTokenMalformed, err)
	}
}
