package application

import (
	"time"

	"github.com/google/uuid"

	"github.com/cadencehq/identity-service/internal/domain"
)

// Config carries the orchestration policy knobs. All of it arrives from the
// bootstrap layer; nothing here is hard-coded security policy.
type Config struct {
	DefaultRole     string
	AccessTokenTTL  time.Duration
	RefreshTokenTTL time.Duration
	PasswordPolicy  domain.PasswordPolicy
	ResetTokenTTL   time.Duration
	VerifyTokenTTL  time.Duration
	RoleCacheSize   int
	RoleCacheTTL    time.Duration
	StorageRetries  int
}

type RegisterRequest struct {
	Username  string `json:"username"`
	Email     string `json:"email"`
	Password  string `json:"password"`
	IPAddress string `json:"-"`
}

type RegisterResponse struct {
	UserID uuid.UUID `json:"user_id"`
}

type LoginRequest struct {
	Username  string `json:"username"`
	Password  string `json:"password"`
	IPAddress string `json:"-"`
	UserAgent string `json:"-"`
}

// UserSummary is the caller-facing identity snapshot returned at login.
type UserSummary struct {
	UserID   uuid.UUID `json:"user_id"`
	Username string    `json:"username"`
	Email    string    `json:"email"`
	Roles    []string  `json:"roles"`
}

type LoginResponse struct {
	AccessToken  string      `json:"access_token"`
	RefreshToken string      `json:"refresh_token"`
	ExpiresIn    int64       `json:"expires_in"`
	User         UserSummary `json:"user"`
}

type RefreshRequest struct {
	RefreshToken string `json:"refresh_token"`
	IPAddress    string `json:"-"`
}

type RefreshResponse struct {
	AccessToken  string `json:"access_token"`
	RefreshToken string `json:"refresh_token"`
	ExpiresIn    int64  `json:"expires_in"`
}

type LogoutRequest struct {
	RefreshToken string `json:"refresh_token"`
	// AllDevices revokes every refresh token held by the owning user.
	AllDevices bool `json:"all_devices"`
	IPAddress  string `json:"-"`
}

type PasswordResetConfirmRequest struct {
	Token       string `json:"token"`
	NewPassword string `json:"new_password"`
}

// Requirement names what a protected operation demands. Exactly one of Role
// or Permission is normally set; an empty requirement always denies.
type Requirement struct {
	Role       string
	Permission string
}

// ResourceAction is the dual-permission shape for ownership-aware checks:
// Any authorizes the action on every instance, Own only on instances whose
// owner matches the caller.
type ResourceAction struct {
	Any string
	Own string
}

type AuditQuery struct {
	Page   int
	Limit  int
	Days   int
	Action string
}

type AuditItem struct {
	ID           int64          `json:"id"`
	ActorUserID  *uuid.UUID     `json:"actor_user_id,omitempty"`
	Action       string         `json:"action"`
	ResourceType string         `json:"resource_type,omitempty"`
	ResourceID   string         `json:"resource_id,omitempty"`
	IPAddress    string         `json:"ip_address,omitempty"`
	Detail       map[string]any `json:"detail,omitempty"`
	OccurredAt   time.Time      `json:"occurred_at"`
}

func toAuditItem(e domain.AuditEntry) AuditItem {
	return AuditItem{
		ID:           e.ID,
		ActorUserID:  e.ActorUserID,
		Action:       e.Action,
		ResourceType: e.ResourceType,
		ResourceID:   e.ResourceID,
		IPAddress:    e.IPAddress,
		Detail:       e.Detail,
		OccurredAt:   e.OccurredAt,
	}
}
