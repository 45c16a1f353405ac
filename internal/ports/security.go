package ports

import (
	"time"

	"github.com/google/uuid"
)

// PasswordHasher is the one-way credential derivation contract. Hash output
// is a self-describing string carrying algorithm, parameters, salt and
// digest so Verify can re-derive without external state.
type PasswordHasher interface {
	Hash(password string) (string, error)
	// Verify returns nil on match, domain.ErrInvalidCredentials on mismatch
	// and domain.ErrMalformedHash when the stored string cannot be parsed.
	Verify(password, encodedHash string) error
}

// AccessClaims is the typed identity/authorization payload of an access
// token. It exists as a struct only inside the process; across trust
// boundaries only the signed compact string travels.
type AccessClaims struct {
	Subject   uuid.UUID
	Username  string
	Roles     []string
	IssuedAt  time.Time
	ExpiresAt time.Time
}

// TokenCodec mints and verifies signed, self-contained access tokens.
// Verification must succeed before any claim field is trusted.
type TokenCodec interface {
	Issue(claims AccessClaims) (string, error)
	// Verify fails closed: domain.ErrInvalidSignature on signature mismatch,
	// domain.ErrTokenExpired past expiry, domain.ErrTokenMalformed when the
	// compact encoding cannot be parsed.
	Verify(token string) (AccessClaims, error)
}
