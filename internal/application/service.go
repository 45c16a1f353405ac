package application

import (
	"context"
	"crypto/rand"
	"crypto/sha256"
	"encoding/hex"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"strings"
	"time"

	"github.com/google/uuid"

	"github.com/cadencehq/identity-service/internal/domain"
	"github.com/cadencehq/identity-service/internal/ports"
)

const (
	refreshTokenBytes  = 32
	recoveryTokenBytes = 32

	eventUserRegistered = "identity.user.registered"
	eventUserLockedOut  = "identity.user.locked_out"
)

// Dependencies wires every port the service orchestrates. All fields are
// required unless noted.
type Dependencies struct {
	Logger        *slog.Logger
	Users         ports.UserRepository
	RefreshTokens ports.RefreshTokenRepository
	RBAC          ports.RBACRepository
	Audit         ports.AuditRepository
	AuditSink     ports.AuditSink
	Recovery      ports.RecoveryRepository
	Outbox        ports.OutboxRepository
	Guard         ports.AttemptGuard
	Hasher        ports.PasswordHasher
	Codec         ports.TokenCodec
	Mailer        ports.Mailer
}

// Service implements the authentication and authorization use cases. It holds
// no security state of its own; everything durable lives behind the ports.
type Service struct {
	cfg    Config
	logger *slog.Logger

	users         ports.UserRepository
	refreshTokens ports.RefreshTokenRepository
	rbac          ports.RBACRepository
	auditRepo     ports.AuditRepository
	audit         ports.AuditSink
	recovery      ports.RecoveryRepository
	outbox        ports.OutboxRepository
	guard         ports.AttemptGuard
	hasher        ports.PasswordHasher
	codec         ports.TokenCodec
	mailer        ports.Mailer

	permCache *permissionCache

	nowFn func() time.Time
}

func NewService(cfg Config, deps Dependencies) (*Service, error) {
	if deps.Logger == nil {
		return nil, errors.New("application: logger is required")
	}
	if cfg.AccessTokenTTL <= 0 || cfg.RefreshTokenTTL <= 0 {
		return nil, errors.New("application: token TTLs must be positive")
	}
	if cfg.DefaultRole == "" {
		cfg.DefaultRole = "user"
	}
	if cfg.ResetTokenTTL <= 0 {
		cfg.ResetTokenTTL = time.Hour
	}
	if cfg.VerifyTokenTTL <= 0 {
		cfg.VerifyTokenTTL = 24 * time.Hour
	}
	if cfg.StorageRetries <= 0 {
		cfg.StorageRetries = 2
	}
	cfg.PasswordPolicy = cfg.PasswordPolicy.Normalize()

	cache, err := newPermissionCache(cfg.RoleCacheSize, cfg.RoleCacheTTL)
	if err != nil {
		return nil, fmt.Errorf("application: permission cache: %w", err)
	}

	return &Service{
		cfg:           cfg,
		logger:        deps.Logger.With("module", "application", "layer", "service"),
		users:         deps.Users,
		refreshTokens: deps.RefreshTokens,
		rbac:          deps.RBAC,
		auditRepo:     deps.Audit,
		audit:         deps.AuditSink,
		recovery:      deps.Recovery,
		outbox:        deps.Outbox,
		guard:         deps.Guard,
		hasher:        deps.Hasher,
		codec:         deps.Codec,
		mailer:        deps.Mailer,
		permCache:     cache,
		nowFn:         time.Now,
	}, nil
}

// Register creates a user with the default role and enqueues the registration
// event in the same transaction.
func (s *Service) Register(ctx context.Context, req RegisterRequest) (RegisterResponse, error) {
	username := strings.TrimSpace(strings.ToLower(req.Username))
	email := strings.TrimSpace(strings.ToLower(req.Email))
	if err := validateUsername(username); err != nil {
		return RegisterResponse{}, err
	}
	if err := validateEmail(email); err != nil {
		return RegisterResponse{}, err
	}
	if err := s.cfg.PasswordPolicy.Validate(req.Password); err != nil {
		return RegisterResponse{}, err
	}

	hash, err := s.hasher.Hash(req.Password)
	if err != nil {
		return RegisterResponse{}, fmt.Errorf("hash password: %w", err)
	}

	now := s.nowFn().UTC()
	payload, err := json.Marshal(map[string]any{
		"username":      username,
		"email":         email,
		"registered_at": now.Format(time.RFC3339),
	})
	if err != nil {
		return RegisterResponse{}, fmt.Errorf("marshal registration event: %w", err)
	}

	user, err := s.users.CreateWithOutboxTx(ctx, ports.CreateUserTxParams{
		Username:        username,
		Email:           email,
		PasswordHash:    hash,
		DefaultRole:     s.cfg.DefaultRole,
		RegisteredAtUTC: now,
	}, ports.OutboxEvent{
		EventID:      uuid.New(),
		EventType:    eventUserRegistered,
		PartitionKey: username,
		Payload:      payload,
		OccurredAt:   now,
	})
	if err != nil {
		return RegisterResponse{}, err
	}

	s.recordAudit(domain.AuditEntry{
		ActorUserID:  &user.UserID,
		Action:       domain.AuditActionRegister,
		ResourceType: "user",
		ResourceID:   user.UserID.String(),
		IPAddress:    req.IPAddress,
		Detail:       map[string]any{"username": username, "default_role": s.cfg.DefaultRole},
		OccurredAt:   now,
	})
	s.logger.InfoContext(ctx, "user registered",
		"operation", "register", "outcome", "success", "user_id", user.UserID)

	return RegisterResponse{UserID: user.UserID}, nil
}

// Login runs the fixed attempt state machine: lockout check, credential
// verification, counter update, then token issuance. Unknown usernames and
// wrong passwords are indistinguishable to the caller.
func (s *Service) Login(ctx context.Context, req LoginRequest) (LoginResponse, error) {
	username := strings.TrimSpace(strings.ToLower(req.Username))
	if username == "" || req.Password == "" {
		return LoginResponse{}, fmt.Errorf("%w: username and password are required", domain.ErrInvalidInput)
	}
	now := s.nowFn().UTC()

	state, err := s.guard.Check(ctx, username)
	if err != nil {
		return LoginResponse{}, fmt.Errorf("attempt guard: %w", err)
	}
	if state.Locked(now) {
		s.recordAudit(domain.AuditEntry{
			Action:     domain.AuditActionLoginLocked,
			ResourceID: username,
			IPAddress:  req.IPAddress,
			Detail:     map[string]any{"locked_until": state.LockedUntil.UTC().Format(time.RFC3339)},
			OccurredAt: now,
		})
		return LoginResponse{}, domain.ErrAccountLocked
	}

	user, err := s.users.GetByUsername(ctx, username)
	if err != nil {
		if errors.Is(err, domain.ErrNotFound) {
			return LoginResponse{}, s.failLogin(ctx, username, nil, req.IPAddress, now)
		}
		return LoginResponse{}, err
	}
	if !user.IsActive {
		return LoginResponse{}, s.failLogin(ctx, username, &user.UserID, req.IPAddress, now)
	}

	if err := s.hasher.Verify(req.Password, user.PasswordHash); err != nil {
		if errors.Is(err, domain.ErrMalformedHash) {
			// Unreadable stored hash is an operator problem, but the caller
			// still only learns "not authenticated".
			s.logger.ErrorContext(ctx, "stored password hash unreadable",
				"operation", "login", "outcome", "error", "user_id", user.UserID)
		}
		return LoginResponse{}, s.failLogin(ctx, username, &user.UserID, req.IPAddress, now)
	}

	if err := s.guard.RecordSuccess(ctx, username); err != nil {
		s.logger.WarnContext(ctx, "attempt guard reset failed",
			"operation", "login", "outcome", "degraded", "error", err)
	}

	roles, err := s.roleNamesFor(ctx, user.UserID)
	if err != nil {
		return LoginResponse{}, err
	}

	access, refresh, err := s.issueTokenPair(ctx, user, roles, now)
	if err != nil {
		return LoginResponse{}, err
	}

	s.recordAudit(domain.AuditEntry{
		ActorUserID:  &user.UserID,
		Action:       domain.AuditActionLoginSuccess,
		ResourceType: "user",
		ResourceID:   user.UserID.String(),
		IPAddress:    req.IPAddress,
		Detail:       map[string]any{"user_agent": req.UserAgent},
		OccurredAt:   now,
	})
	s.logger.InfoContext(ctx, "login succeeded",
		"operation", "login", "outcome", "success", "user_id", user.UserID)

	return LoginResponse{
		AccessToken:  access,
		RefreshToken: refresh,
		ExpiresIn:    int64(s.cfg.AccessTokenTTL.Seconds()),
		User: UserSummary{
			UserID:   user.UserID,
			Username: user.Username,
			Email:    user.Email,
			Roles:    roles,
		},
	}, nil
}

// failLogin records a failure against the identity key and emits the audit
// entry. The returned error is always the generic credential failure.
func (s *Service) failLogin(ctx context.Context, username string, userID *uuid.UUID, ip string, now time.Time) error {
	state, err := s.guard.RecordFailure(ctx, username, now)
	if err != nil {
		s.logger.WarnContext(ctx, "attempt guard record failed",
			"operation", "login", "outcome", "degraded", "error", err)
	}

	s.recordAudit(domain.AuditEntry{
		ActorUserID: userID,
		Action:      domain.AuditActionLoginFailure,
		ResourceID:  username,
		IPAddress:   ip,
		Detail:      map[string]any{"failure_count": state.FailureCount},
		OccurredAt:  now,
	})

	if err == nil && state.LockedUntil != nil {
		s.recordAudit(domain.AuditEntry{
			ActorUserID: userID,
			Action:      domain.AuditActionLockoutTrigger,
			ResourceID:  username,
			IPAddress:   ip,
			Detail: map[string]any{
				"failure_count": state.FailureCount,
				"locked_until":  state.LockedUntil.UTC().Format(time.RFC3339),
			},
			OccurredAt: now,
		})
		payload, merr := json.Marshal(map[string]any{
			"username":     username,
			"locked_until": state.LockedUntil.UTC().Format(time.RFC3339),
		})
		if merr == nil {
			if oerr := s.outbox.Enqueue(ctx, ports.OutboxEvent{
				EventID:      uuid.New(),
				EventType:    eventUserLockedOut,
				PartitionKey: username,
				Payload:      payload,
				OccurredAt:   now,
			}); oerr != nil {
				s.logger.WarnContext(ctx, "lockout event enqueue failed",
					"operation", "login", "outcome", "degraded", "error", oerr)
			}
		}
	}

	return domain.ErrInvalidCredentials
}

// Refresh exchanges a live refresh token for a fresh pair. Tokens are single
// use: the presented one is revoked before the replacement is issued, and a
// concurrent second redeemer loses.
func (s *Service) Refresh(ctx context.Context, req RefreshRequest) (RefreshResponse, error) {
	if req.RefreshToken == "" {
		return RefreshResponse{}, fmt.Errorf("%w: refresh_token is required", domain.ErrInvalidInput)
	}
	now := s.nowFn().UTC()
	tokenHash := hashOpaqueToken(req.RefreshToken)

	record, err := s.refreshTokens.GetByHash(ctx, tokenHash)
	if err != nil {
		return RefreshResponse{}, err
	}
	if record.RevokedAt != nil {
		return RefreshResponse{}, domain.ErrTokenConsumed
	}
	if !now.Before(record.ExpiresAt) {
		return RefreshResponse{}, domain.ErrTokenExpired
	}

	won, err := s.refreshTokens.ConsumeByHash(ctx, tokenHash, now)
	if err != nil {
		return RefreshResponse{}, err
	}
	if !won {
		return RefreshResponse{}, domain.ErrTokenConsumed
	}

	user, err := s.users.GetByID(ctx, record.UserID)
	if err != nil {
		return RefreshResponse{}, err
	}
	if !user.IsActive {
		return RefreshResponse{}, domain.ErrUnauthorized
	}

	// Roles are re-resolved from storage so demotions take effect at the
	// refresh boundary rather than riding stale claims forward.
	roles, err := s.roleNamesFor(ctx, user.UserID)
	if err != nil {
		return RefreshResponse{}, err
	}

	access, refresh, err := s.issueTokenPair(ctx, user, roles, now)
	if err != nil {
		return RefreshResponse{}, err
	}

	s.recordAudit(domain.AuditEntry{
		ActorUserID:  &user.UserID,
		Action:       domain.AuditActionRefresh,
		ResourceType: "refresh_token",
		ResourceID:   record.TokenID.String(),
		IPAddress:    req.IPAddress,
		OccurredAt:   now,
	})

	return RefreshResponse{
		AccessToken:  access,
		RefreshToken: refresh,
		ExpiresIn:    int64(s.cfg.AccessTokenTTL.Seconds()),
	}, nil
}

// Logout revokes the presented refresh token, or every token of its owner
// when AllDevices is set. Revoking an already-revoked or unknown token is a
// no-op.
func (s *Service) Logout(ctx context.Context, req LogoutRequest) error {
	if req.RefreshToken == "" {
		return fmt.Errorf("%w: refresh_token is required", domain.ErrInvalidInput)
	}
	now := s.nowFn().UTC()
	tokenHash := hashOpaqueToken(req.RefreshToken)

	record, err := s.refreshTokens.GetByHash(ctx, tokenHash)
	if err != nil {
		if errors.Is(err, domain.ErrNotFound) {
			return nil
		}
		return err
	}

	if req.AllDevices {
		if err := s.refreshTokens.RevokeAllForUser(ctx, record.UserID, now); err != nil {
			return err
		}
		s.recordAudit(domain.AuditEntry{
			ActorUserID: &record.UserID,
			Action:      domain.AuditActionLogoutAll,
			IPAddress:   req.IPAddress,
			OccurredAt:  now,
		})
		return nil
	}

	if err := s.refreshTokens.RevokeByHash(ctx, tokenHash, now); err != nil {
		return err
	}
	s.recordAudit(domain.AuditEntry{
		ActorUserID:  &record.UserID,
		Action:       domain.AuditActionLogout,
		ResourceType: "refresh_token",
		ResourceID:   record.TokenID.String(),
		IPAddress:    req.IPAddress,
		OccurredAt:   now,
	})
	return nil
}

// AuditForUser pages the actor's own audit trail.
func (s *Service) AuditForUser(ctx context.Context, userID uuid.UUID, q AuditQuery) ([]AuditItem, error) {
	limit, offset, since := normalizeAuditQuery(q, s.nowFn().UTC())
	entries, err := s.auditRepo.ListByActor(ctx, userID, limit, offset, since, q.Action)
	if err != nil {
		return nil, err
	}
	items := make([]AuditItem, 0, len(entries))
	for _, e := range entries {
		items = append(items, toAuditItem(e))
	}
	return items, nil
}

// AuditAll pages the full audit log. Callers must hold the audit.read
// permission; the HTTP layer enforces that before reaching here.
func (s *Service) AuditAll(ctx context.Context, q AuditQuery) ([]AuditItem, error) {
	limit, offset, since := normalizeAuditQuery(q, s.nowFn().UTC())
	entries, err := s.auditRepo.List(ctx, limit, offset, since)
	if err != nil {
		return nil, err
	}
	items := make([]AuditItem, 0, len(entries))
	for _, e := range entries {
		items = append(items, toAuditItem(e))
	}
	return items, nil
}

func normalizeAuditQuery(q AuditQuery, now time.Time) (limit, offset int, since *time.Time) {
	limit = q.Limit
	if limit <= 0 || limit > 100 {
		limit = 20
	}
	page := q.Page
	if page <= 0 {
		page = 1
	}
	offset = (page - 1) * limit
	if q.Days > 0 {
		cutoff := now.AddDate(0, 0, -q.Days)
		since = &cutoff
	}
	return limit, offset, since
}

// issueTokenPair mints the signed access token and a fresh opaque refresh
// token, persisting only the refresh token's hash.
func (s *Service) issueTokenPair(ctx context.Context, user domain.User, roles []string, now time.Time) (string, string, error) {
	access, err := s.codec.Issue(ports.AccessClaims{
		Subject:   user.UserID,
		Username:  user.Username,
		Roles:     roles,
		IssuedAt:  now,
		ExpiresAt: now.Add(s.cfg.AccessTokenTTL),
	})
	if err != nil {
		return "", "", fmt.Errorf("issue access token: %w", err)
	}

	opaque, err := randomOpaqueToken(refreshTokenBytes)
	if err != nil {
		return "", "", fmt.Errorf("generate refresh token: %w", err)
	}

	token := domain.RefreshToken{
		TokenID:   uuid.New(),
		TokenHash: hashOpaqueToken(opaque),
		UserID:    user.UserID,
		IssuedAt:  now,
		ExpiresAt: now.Add(s.cfg.RefreshTokenTTL),
	}
	if err := s.withRetry(ctx, func() error {
		return s.refreshTokens.Insert(ctx, token)
	}); err != nil {
		return "", "", fmt.Errorf("persist refresh token: %w", err)
	}

	return access, opaque, nil
}

// withRetry re-runs fn on infrastructure errors with a short backoff. Domain
// errors pass through untouched.
func (s *Service) withRetry(ctx context.Context, fn func() error) error {
	var err error
	for attempt := 0; attempt <= s.cfg.StorageRetries; attempt++ {
		if attempt > 0 {
			select {
			case <-ctx.Done():
				return ctx.Err()
			case <-time.After(time.Duration(attempt) * 50 * time.Millisecond):
			}
		}
		err = fn()
		if err == nil || !errors.Is(err, domain.ErrInfrastructure) {
			return err
		}
	}
	return err
}

func (s *Service) roleNamesFor(ctx context.Context, userID uuid.UUID) ([]string, error) {
	roles, err := s.rbac.RolesForUser(ctx, userID)
	if err != nil {
		return nil, fmt.Errorf("resolve roles: %w", err)
	}
	names := make([]string, 0, len(roles))
	for _, r := range roles {
		names = append(names, r.Name)
	}
	return names, nil
}

// recordAudit hands the entry to the sink. The sink never blocks and never
// returns an error, so audited operations cannot be held up here.
func (s *Service) recordAudit(entry domain.AuditEntry) {
	if s.audit == nil {
		return
	}
	s.audit.Record(entry)
}

func validateUsername(username string) error {
	if l := len(username); l < 3 || l > 64 {
		return fmt.Errorf("%w: username must be 3-64 characters", domain.ErrInvalidInput)
	}
	for _, r := range username {
		if r >= 'a' && r <= 'z' || r >= '0' && r <= '9' || r == '_' || r == '-' || r == '.' {
			continue
		}
		return fmt.Errorf("%w: username may contain lowercase letters, digits, '_', '-' and '.'", domain.ErrInvalidInput)
	}
	return nil
}

func validateEmail(email string) error {
	at := strings.IndexByte(email, '@')
	if at <= 0 || at == len(email)-1 || len(email) > 254 || !strings.Contains(email[at+1:], ".") {
		return fmt.Errorf("%w: email address is malformed", domain.ErrInvalidInput)
	}
	return nil
}

func randomOpaqueToken(n int) (string, error) {
	buf := make([]byte, n)
	if _, err := rand.Read(buf); err != nil {
		return "", err
	}
	return hex.EncodeToString(buf), nil
}

// hashOpaqueToken is the at-rest form of every opaque token. A plain SHA-256
// is enough: the input is high-entropy random, not a human password.
func hashOpaqueToken(value string) string {
	sum := sha256.Sum256([]byte(value))
	return hex.EncodeToString(sum[:])
}
