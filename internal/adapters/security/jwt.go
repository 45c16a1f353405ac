package security

import (
	"errors"
	"fmt"
	"time"

	"github.com/golang-jwt/jwt/v5"
	"github.com/google/uuid"

	"github.com/cadencehq/identity-service/internal/domain"
	"github.com/cadencehq/identity-service/internal/ports"
)

const minSecretBytes = 32

// JWTCodec signs and verifies HS256 access tokens. The secret is held at
// adapter level so the application layer stays crypto-library agnostic.
// Rotating the secret invalidates every outstanding token, which is
// acceptable for short-lived access tokens.
type JWTCodec struct {
	secret []byte
	nowFn  func() time.Time
}

// NewJWTCodec builds a codec from the configured signing secret. A missing
// or short secret is a startup-time fatal condition, never a per-request one.
func NewJWTCodec(secret []byte) (*JWTCodec, error) {
	if len(secret) < minSecretBytes {
		return nil, fmt.Errorf("signing secret must be at least %d bytes, got %d", minSecretBytes, len(secret))
	}
	return &JWTCodec{secret: secret, nowFn: func() time.Time { return time.Now().UTC() }}, nil
}

type accessJWTClaims struct {
	Username string   `json:"username"`
	Roles    []string `json:"roles"`
	jwt.RegisteredClaims
}

func (c *JWTCodec) Issue(claims ports.AccessClaims) (string, error) {
	token := jwt.NewWithClaims(jwt.SigningMethodHS256, accessJWTClaims{
		Username: claims.Username,
		Roles:    claims.Roles,
		RegisteredClaims: jwt.RegisteredClaims{
			Subject:   claims.Subject.String(),
			IssuedAt:  jwt.NewNumericDate(claims.IssuedAt),
			ExpiresAt: jwt.NewNumericDate(claims.ExpiresAt),
		},
	})
	return token.SignedString(c.secret)
}

func (c *JWTCodec) Verify(raw string) (ports.AccessClaims, error) {
	parsed, err := jwt.ParseWithClaims(raw, &accessJWTClaims{}, func(token *jwt.Token) (any, error) {
		if token.Method.Alg() != jwt.SigningMethodHS256.Alg() {
			return nil, fmt.Errorf("unexpected signing method: %s", token.Method.Alg())
		}
		return c.secret, nil
	},
		jwt.WithValidMethods([]string{jwt.SigningMethodHS256.Alg()}),
		jwt.WithTimeFunc(c.nowFn),
		jwt.WithExpirationRequired(),
	)
	if err != nil {
		return ports.AccessClaims{}, mapJWTError(err)
	}
	claims, ok := parsed.Claims.(*accessJWTClaims)
	if !ok || !parsed.Valid {
		return ports.AccessClaims{}, domain.ErrInvalidSignature
	}

	subject, err := uuid.Parse(claims.Subject)
	if err != nil {
		return ports.AccessClaims{}, fmt.Errorf("%w: subject claim", domain.ErrTokenMalformed)
	}
	if claims.IssuedAt == nil || claims.ExpiresAt == nil {
		return ports.AccessClaims{}, fmt.Errorf("%w: missing time claims", domain.ErrTokenMalformed)
	}

	return ports.AccessClaims{
		Subject:   subject,
		Username:  claims.Username,
		Roles:     claims.Roles,
		IssuedAt:  claims.IssuedAt.Time.UTC(),
		ExpiresAt: claims.ExpiresAt.Time.UTC(),
	}, nil
}

// mapJWTError translates library errors into the domain taxonomy so crypto
// internals never cross the component boundary.
func mapJWTError(err error) error {
	switch {
	case errors.Is(err, jwt.ErrTokenExpired):
		return domain.ErrTokenExpired
	case errors.Is(err, jwt.ErrTokenSignatureInvalid):
		return domain.ErrInvalidSignature
	case errors.Is(err, jwt.ErrTokenMalformed):
		return domain.ErrTokenMalformed
	default:
		return fmt.Errorf("%w: %v", domain.ErrTokenMalformed, err)
	}
}
