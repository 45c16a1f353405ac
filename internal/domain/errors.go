package domain

import "errors"

var (
	// ErrNotFound is returned when the requested resource does not exist.
	// Keeping this sentinel in domain allows adapters to map it consistently to 404/NOT_FOUND.
	ErrNotFound = errors.New("resource not found")
	// ErrInvalidCredentials hides whether the username or the password failed.
	// The reason is to prevent account-enumeration side channels.
	ErrInvalidCredentials = errors.New("invalid credentials")
	// ErrAccountLocked signals temporary lockout after repeated failed attempts.
	// Surfaced distinctly so callers know to wait, without exposing the failure count.
	ErrAccountLocked = errors.New("account locked")
	// ErrDuplicateIdentity is the domain translation of a storage uniqueness
	// violation on username or email.
	ErrDuplicateIdentity = errors.New("username or email already registered")
	// ErrForbidden is an authorization failure: the identity is valid but the
	// required role or permission is absent.
	ErrForbidden = errors.New("forbidden")
	// ErrUnauthorized covers missing or unverifiable credentials.
	ErrUnauthorized = errors.New("unauthorized")
	// ErrInvalidInput covers malformed requests and policy violations; its
	// wrapped detail is safe to surface.
	ErrInvalidInput = errors.New("invalid input")

	// ErrTokenExpired is returned when a token's validity window has passed.
	ErrTokenExpired = errors.New("token expired")
	// ErrTokenMalformed is returned when a token string cannot be parsed.
	ErrTokenMalformed = errors.New("token malformed")
	// ErrInvalidSignature is returned when a token signature does not verify.
	ErrInvalidSignature = errors.New("invalid token signature")
	// ErrTokenConsumed is returned when redeeming an already revoked or
	// rotated refresh token. Under single-use rotation exactly one concurrent
	// redeemer succeeds; the rest observe this error.
	ErrTokenConsumed = errors.New("token already consumed")
	// ErrMalformedHash marks an unparseable stored password hash. This is a
	// data-corruption signal, not a security decision; callers still present
	// it as a failed authentication.
	ErrMalformedHash = errors.New("malformed password hash")

	// ErrRateLimited is returned when a caller exceeds a request budget.
	ErrRateLimited = errors.New("rate limited")
	// ErrInfrastructure wraps dependency failures (storage, RNG, cache) so
	// raw driver errors never cross the external interface.
	ErrInfrastructure = errors.New("infrastructure failure")
)
