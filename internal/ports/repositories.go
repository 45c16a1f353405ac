package ports

import (
	"context"
	"time"

	"github.com/google/uuid"

	"github.com/cadencehq/identity-service/internal/domain"
)

// CreateUserTxParams captures atomic user-creation inputs. Default role
// assignment and the outbox event ride the same transaction so registration
// is all-or-nothing.
type CreateUserTxParams struct {
	Username        string
	Email           string
	PasswordHash    string
	DefaultRole     string
	RegisteredAtUTC time.Time
}

// UserRepository defines persistence operations for user identities.
// The transactional create method exists to enforce user+role+outbox consistency.
type UserRepository interface {
	CreateWithOutboxTx(ctx context.Context, params CreateUserTxParams, outboxEvent OutboxEvent) (domain.User, error)
	GetByUsername(ctx context.Context, username string) (domain.User, error)
	GetByID(ctx context.Context, userID uuid.UUID) (domain.User, error)
	UpdatePassword(ctx context.Context, userID uuid.UUID, passwordHash string, updatedAt time.Time) error
	SetEmailVerified(ctx context.Context, userID uuid.UUID, verified bool, updatedAt time.Time) error
}

// RefreshTokenRepository is the durable registry of opaque refresh tokens.
// Rows are keyed by the SHA-256 of the opaque value; the raw value is never
// persisted.
type RefreshTokenRepository interface {
	Insert(ctx context.Context, token domain.RefreshToken) error
	GetByHash(ctx context.Context, tokenHash string) (domain.RefreshToken, error)
	// ConsumeByHash revokes the token iff it is not already revoked, and
	// reports whether this caller won the revocation. Exactly one of any
	// number of concurrent callers wins.
	ConsumeByHash(ctx context.Context, tokenHash string, revokedAt time.Time) (bool, error)
	RevokeByHash(ctx context.Context, tokenHash string, revokedAt time.Time) error
	RevokeAllForUser(ctx context.Context, userID uuid.UUID, revokedAt time.Time) error
	DeleteExpiredBefore(ctx context.Context, cutoff time.Time) (int64, error)
}

// RBACRepository resolves the two-level user→roles→permissions model.
type RBACRepository interface {
	RolesForUser(ctx context.Context, userID uuid.UUID) ([]domain.Role, error)
	PermissionsForRole(ctx context.Context, roleName string) ([]domain.Permission, error)
	AssignRole(ctx context.Context, userID uuid.UUID, roleName string, assignedAt time.Time) error
	RevokeRole(ctx context.Context, userID uuid.UUID, roleName string) error
}

// AuditRepository is the append-only audit log. Insert failures must be
// contained by the caller; they never roll back the audited action.
type AuditRepository interface {
	Insert(ctx context.Context, entry domain.AuditEntry) error
	ListByActor(ctx context.Context, userID uuid.UUID, limit, offset int, since *time.Time, action string) ([]domain.AuditEntry, error)
	List(ctx context.Context, limit, offset int, since *time.Time) ([]domain.AuditEntry, error)
}

// RecoveryRepository owns password-reset and email-verification token
// lifecycle. Separate create/consume methods keep one-time-token invariants
// explicit.
type RecoveryRepository interface {
	CreatePasswordResetToken(ctx context.Context, userID uuid.UUID, tokenHash string, createdAt, expiresAt time.Time) error
	ConsumePasswordResetToken(ctx context.Context, tokenHash string, usedAt time.Time) (uuid.UUID, error)
	CreateEmailVerificationToken(ctx context.Context, userID uuid.UUID, tokenHash string, createdAt, expiresAt time.Time) error
	ConsumeEmailVerificationToken(ctx context.Context, tokenHash string, verifiedAt time.Time) (uuid.UUID, error)
	DeleteExpiredBefore(ctx context.Context, cutoff time.Time) (int64, error)
}

// OutboxEvent is the write-side event payload prior to storage.
// It is adapter-neutral to keep application code independent of broker specifics.
type OutboxEvent struct {
	EventID      uuid.UUID
	EventType    string
	PartitionKey string
	Payload      []byte
	OccurredAt   time.Time
}

// OutboxRecord represents durable outbox state, including retry/error metadata.
type OutboxRecord struct {
	OutboxID     uuid.UUID
	EventType    string
	PartitionKey string
	Payload      []byte
	RetryCount   int
	LastError    *string
	CreatedAt    time.Time
	PublishedAt  *time.Time
	LastErrorAt  *time.Time
}

// OutboxRepository controls publish-retry workflow for domain events.
// This explicit contract enables transactional outbox patterns without leaking DB details.
type OutboxRepository interface {
	Enqueue(ctx context.Context, event OutboxEvent) error
	ListUnpublished(ctx context.Context, limit int) ([]OutboxRecord, error)
	MarkPublished(ctx context.Context, outboxID uuid.UUID, at time.Time) error
	MarkFailed(ctx context.Context, outboxID uuid.UUID, errMsg string, at time.Time) error
}
