package domain

import (
	"time"

	"github.com/google/uuid"
)

// User is the canonical identity aggregate. It keeps only auth-relevant
// state so authorization and token flows stay service-owned.
type User struct {
	UserID        uuid.UUID
	Username      string
	Email         string
	PasswordHash  string
	EmailVerified bool
	IsActive      bool
	CreatedAt     time.Time
	UpdatedAt     time.Time
}

// RefreshToken is the durable record behind an opaque long-lived credential.
// Only the SHA-256 of the presented value is stored; the raw value exists
// exactly once, in the issue response.
type RefreshToken struct {
	TokenID   uuid.UUID
	TokenHash string
	UserID    uuid.UUID
	IssuedAt  time.Time
	ExpiresAt time.Time
	RevokedAt *time.Time
}

// Redeemable reports whether the token can still be exchanged at the given
// instant.
func (t RefreshToken) Redeemable(now time.Time) bool {
	return t.RevokedAt == nil && now.Before(t.ExpiresAt)
}

// AuditEntry records a security-relevant event. Entries are append-only; the
// core never mutates or deletes them.
type AuditEntry struct {
	ID           int64
	ActorUserID  *uuid.UUID
	Action       string
	ResourceType string
	ResourceID   string
	IPAddress    string
	Detail       map[string]any
	OccurredAt   time.Time
}

// Audit action names used across the service.
const (
	AuditActionRegister        = "auth.register"
	AuditActionLoginSuccess    = "auth.login.success"
	AuditActionLoginFailure    = "auth.login.failure"
	AuditActionLoginLocked     = "auth.login.locked"
	AuditActionLockoutTrigger  = "auth.lockout.triggered"
	AuditActionRefresh         = "auth.token.refresh"
	AuditActionLogout          = "auth.logout"
	AuditActionLogoutAll       = "auth.logout.all"
	AuditActionPasswordReset   = "auth.password.reset"
	AuditActionEmailVerified   = "auth.email.verified"
	AuditActionAuthorizeDenied = "auth.authorize.denied"
)
