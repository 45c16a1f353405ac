package application

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"sync"
	"testing"
	"time"

	"github.com/google/uuid"

	"github.com/cadencehq/identity-service/internal/domain"
	"github.com/cadencehq/identity-service/internal/ports"
)

func TestRegisterLoginRefreshLogout(t *testing.T) {
	t.Parallel()

	f := newFixture(t)
	ctx := context.Background()

	registerRes, err := f.service.Register(ctx, RegisterRequest{
		Username: "alice",
		Email:    "alice@example.com",
		Password: "StrongHorse7!",
	})
	if err != nil {
		t.Fatalf("register failed: %v", err)
	}
	if registerRes.UserID == uuid.Nil {
		t.Fatalf("register returned empty user id")
	}
	if len(f.users.events) != 1 || f.users.events[0].EventType != eventUserRegistered {
		t.Fatalf("expected registration outbox event, got %+v", f.users.events)
	}

	loginRes, err := f.service.Login(ctx, LoginRequest{
		Username: "alice",
		Password: "StrongHorse7!",
	})
	if err != nil {
		t.Fatalf("login failed: %v", err)
	}
	if loginRes.AccessToken == "" || loginRes.RefreshToken == "" {
		t.Fatalf("login returned empty tokens")
	}
	if loginRes.User.Username != "alice" || len(loginRes.User.Roles) != 1 || loginRes.User.Roles[0] != "user" {
		t.Fatalf("unexpected login user summary: %+v", loginRes.User)
	}

	refreshRes, err := f.service.Refresh(ctx, RefreshRequest{RefreshToken: loginRes.RefreshToken})
	if err != nil {
		t.Fatalf("refresh failed: %v", err)
	}
	if refreshRes.RefreshToken == loginRes.RefreshToken {
		t.Fatalf("refresh must rotate the opaque token")
	}

	// Single use: the original token is consumed by the rotation.
	if _, err := f.service.Refresh(ctx, RefreshRequest{RefreshToken: loginRes.RefreshToken}); !errors.Is(err, domain.ErrTokenConsumed) {
		t.Fatalf("expected ErrTokenConsumed for redeemed token, got %v", err)
	}

	if err := f.service.Logout(ctx, LogoutRequest{RefreshToken: refreshRes.RefreshToken}); err != nil {
		t.Fatalf("logout failed: %v", err)
	}
	if _, err := f.service.Refresh(ctx, RefreshRequest{RefreshToken: refreshRes.RefreshToken}); !errors.Is(err, domain.ErrTokenConsumed) {
		t.Fatalf("expected ErrTokenConsumed after logout, got %v", err)
	}

	// Logging out the same token twice is a no-op.
	if err := f.service.Logout(ctx, LogoutRequest{RefreshToken: refreshRes.RefreshToken}); err != nil {
		t.Fatalf("repeated logout should be a no-op, got %v", err)
	}
}

func TestRegisterRejectsInvalidInput(t *testing.T) {
	t.Parallel()

	f := newFixture(t)
	ctx := context.Background()

	cases := []struct {
		name string
		req  RegisterRequest
	}{
		{name: "short username", req: RegisterRequest{Username: "ab", Email: "a@b.io", Password: "StrongHorse7!"}},
		{name: "bad username chars", req: RegisterRequest{Username: "Ali ce", Email: "a@b.io", Password: "StrongHorse7!"}},
		{name: "bad email", req: RegisterRequest{Username: "alice", Email: "not-an-email", Password: "StrongHorse7!"}},
		{name: "weak password", req: RegisterRequest{Username: "alice", Email: "a@b.io", Password: "short"}},
	}
	for _, tc := range cases {
		if _, err := f.service.Register(ctx, tc.req); !errors.Is(err, domain.ErrInvalidInput) {
			t.Fatalf("%s: expected ErrInvalidInput, got %v", tc.name, err)
		}
	}
}

func TestRegisterDuplicateIdentity(t *testing.T) {
	t.Parallel()

	f := newFixture(t)
	ctx := context.Background()

	if _, err := f.service.Register(ctx, RegisterRequest{Username: "bob", Email: "bob@example.com", Password: "StrongHorse7!"}); err != nil {
		t.Fatalf("register failed: %v", err)
	}
	if _, err := f.service.Register(ctx, RegisterRequest{Username: "bob", Email: "other@example.com", Password: "StrongHorse7!"}); !errors.Is(err, domain.ErrDuplicateIdentity) {
		t.Fatalf("expected ErrDuplicateIdentity, got %v", err)
	}
}

func TestLoginFailureIsGeneric(t *testing.T) {
	t.Parallel()

	f := newFixture(t)
	ctx := context.Background()

	if _, err := f.service.Register(ctx, RegisterRequest{Username: "carol", Email: "carol@example.com", Password: "StrongHorse7!"}); err != nil {
		t.Fatalf("register failed: %v", err)
	}

	// Unknown username and wrong password must be indistinguishable.
	_, unknownErr := f.service.Login(ctx, LoginRequest{Username: "nobody", Password: "StrongHorse7!"})
	_, wrongErr := f.service.Login(ctx, LoginRequest{Username: "carol", Password: "WrongHorse7!"})
	if !errors.Is(unknownErr, domain.ErrInvalidCredentials) || !errors.Is(wrongErr, domain.ErrInvalidCredentials) {
		t.Fatalf("expected ErrInvalidCredentials for both, got %v and %v", unknownErr, wrongErr)
	}

	// Both failures count against their identity key.
	if got := f.guard.failures["nobody"]; got != 1 {
		t.Fatalf("expected failure recorded for unknown identity, got %d", got)
	}
	if got := f.guard.failures["carol"]; got != 1 {
		t.Fatalf("expected failure recorded for known identity, got %d", got)
	}
}

func TestLockoutAfterRepeatedFailures(t *testing.T) {
	t.Parallel()

	f := newFixture(t)
	ctx := context.Background()

	if _, err := f.service.Register(ctx, RegisterRequest{Username: "dave", Email: "dave@example.com", Password: "StrongHorse7!"}); err != nil {
		t.Fatalf("register failed: %v", err)
	}

	for i := 0; i < f.guard.threshold; i++ {
		if _, err := f.service.Login(ctx, LoginRequest{Username: "dave", Password: "WrongHorse7!"}); !errors.Is(err, domain.ErrInvalidCredentials) {
			t.Fatalf("attempt %d: expected ErrInvalidCredentials, got %v", i, err)
		}
	}

	// The correct password no longer helps while locked.
	if _, err := f.service.Login(ctx, LoginRequest{Username: "dave", Password: "StrongHorse7!"}); !errors.Is(err, domain.ErrAccountLocked) {
		t.Fatalf("expected ErrAccountLocked, got %v", err)
	}

	if !f.sink.hasAction(domain.AuditActionLockoutTrigger) {
		t.Fatalf("expected lockout trigger audit entry")
	}
	if !f.outbox.hasEventType(eventUserLockedOut) {
		t.Fatalf("expected lockout outbox event")
	}

	// After the lock expires a correct login resets the counter.
	f.advance(f.guard.lockFor + time.Second)
	if _, err := f.service.Login(ctx, LoginRequest{Username: "dave", Password: "StrongHorse7!"}); err != nil {
		t.Fatalf("login after lock expiry failed: %v", err)
	}
	if got := f.guard.failures["dave"]; got != 0 {
		t.Fatalf("expected failure count reset after success, got %d", got)
	}
}

func TestRefreshExpiredToken(t *testing.T) {
	t.Parallel()

	f := newFixture(t)
	ctx := context.Background()

	if _, err := f.service.Register(ctx, RegisterRequest{Username: "erin", Email: "erin@example.com", Password: "StrongHorse7!"}); err != nil {
		t.Fatalf("register failed: %v", err)
	}
	loginRes, err := f.service.Login(ctx, LoginRequest{Username: "erin", Password: "StrongHorse7!"})
	if err != nil {
		t.Fatalf("login failed: %v", err)
	}

	f.advance(f.service.cfg.RefreshTokenTTL + time.Second)
	if _, err := f.service.Refresh(ctx, RefreshRequest{RefreshToken: loginRes.RefreshToken}); !errors.Is(err, domain.ErrTokenExpired) {
		t.Fatalf("expected ErrTokenExpired, got %v", err)
	}

	if _, err := f.service.Refresh(ctx, RefreshRequest{RefreshToken: "never-issued"}); !errors.Is(err, domain.ErrNotFound) {
		t.Fatalf("expected ErrNotFound for unknown token, got %v", err)
	}
}

func TestRefreshReResolvesRoles(t *testing.T) {
	t.Parallel()

	f := newFixture(t)
	ctx := context.Background()

	res, err := f.service.Register(ctx, RegisterRequest{Username: "frank", Email: "frank@example.com", Password: "StrongHorse7!"})
	if err != nil {
		t.Fatalf("register failed: %v", err)
	}
	loginRes, err := f.service.Login(ctx, LoginRequest{Username: "frank", Password: "StrongHorse7!"})
	if err != nil {
		t.Fatalf("login failed: %v", err)
	}

	// Demote between login and refresh.
	if err := f.rbac.RevokeRole(ctx, res.UserID, "user"); err != nil {
		t.Fatalf("revoke role failed: %v", err)
	}
	if err := f.rbac.AssignRole(ctx, res.UserID, "editor", f.now()); err != nil {
		t.Fatalf("assign role failed: %v", err)
	}

	refreshRes, err := f.service.Refresh(ctx, RefreshRequest{RefreshToken: loginRes.RefreshToken})
	if err != nil {
		t.Fatalf("refresh failed: %v", err)
	}

	claims, err := f.codec.Verify(refreshRes.AccessToken)
	if err != nil {
		t.Fatalf("verify refreshed access token: %v", err)
	}
	if len(claims.Roles) != 1 || claims.Roles[0] != "editor" {
		t.Fatalf("expected fresh roles [editor], got %v", claims.Roles)
	}
}

func TestLogoutAllDevices(t *testing.T) {
	t.Parallel()

	f := newFixture(t)
	ctx := context.Background()

	if _, err := f.service.Register(ctx, RegisterRequest{Username: "gina", Email: "gina@example.com", Password: "StrongHorse7!"}); err != nil {
		t.Fatalf("register failed: %v", err)
	}
	first, err := f.service.Login(ctx, LoginRequest{Username: "gina", Password: "StrongHorse7!"})
	if err != nil {
		t.Fatalf("first login failed: %v", err)
	}
	second, err := f.service.Login(ctx, LoginRequest{Username: "gina", Password: "StrongHorse7!"})
	if err != nil {
		t.Fatalf("second login failed: %v", err)
	}

	if err := f.service.Logout(ctx, LogoutRequest{RefreshToken: first.RefreshToken, AllDevices: true}); err != nil {
		t.Fatalf("logout all failed: %v", err)
	}
	if _, err := f.service.Refresh(ctx, RefreshRequest{RefreshToken: second.RefreshToken}); !errors.Is(err, domain.ErrTokenConsumed) {
		t.Fatalf("expected every device token revoked, got %v", err)
	}
}

func TestAuthorizeRequirement(t *testing.T) {
	t.Parallel()

	f := newFixture(t)
	ctx := context.Background()

	editorClaims := ports.AccessClaims{Subject: uuid.New(), Username: "ed", Roles: []string{"editor"}}
	userClaims := ports.AccessClaims{Subject: uuid.New(), Username: "u", Roles: []string{"user"}}

	// Deny by default when nothing is required.
	if err := f.service.Authorize(ctx, editorClaims, Requirement{}); !errors.Is(err, domain.ErrForbidden) {
		t.Fatalf("empty requirement must deny, got %v", err)
	}

	if err := f.service.Authorize(ctx, editorClaims, Requirement{Role: "editor"}); err != nil {
		t.Fatalf("role check failed: %v", err)
	}
	if err := f.service.Authorize(ctx, userClaims, Requirement{Role: "editor"}); !errors.Is(err, domain.ErrForbidden) {
		t.Fatalf("expected ErrForbidden for missing role, got %v", err)
	}

	if err := f.service.Authorize(ctx, editorClaims, Requirement{Permission: "posts.edit.any"}); err != nil {
		t.Fatalf("permission check failed: %v", err)
	}
	if err := f.service.Authorize(ctx, userClaims, Requirement{Permission: "posts.edit.any"}); !errors.Is(err, domain.ErrForbidden) {
		t.Fatalf("expected ErrForbidden for missing permission, got %v", err)
	}
	if err := f.service.Authorize(ctx, editorClaims, Requirement{Permission: "no.such.permission"}); !errors.Is(err, domain.ErrForbidden) {
		t.Fatalf("unknown permission must deny, got %v", err)
	}

	if !f.sink.hasAction(domain.AuditActionAuthorizeDenied) {
		t.Fatalf("expected denied decisions in the audit trail")
	}
}

func TestAuthorizeResourceOwnership(t *testing.T) {
	t.Parallel()

	f := newFixture(t)
	ctx := context.Background()

	owner := uuid.New()
	stranger := uuid.New()
	action := ResourceAction{Any: "posts.edit.any", Own: "posts.edit.own"}

	editorClaims := ports.AccessClaims{Subject: stranger, Roles: []string{"editor"}}
	ownerClaims := ports.AccessClaims{Subject: owner, Roles: []string{"user"}}
	strangerClaims := ports.AccessClaims{Subject: stranger, Roles: []string{"user"}}

	if err := f.service.AuthorizeResource(ctx, editorClaims, action, owner); err != nil {
		t.Fatalf("editor should edit any post: %v", err)
	}
	if err := f.service.AuthorizeResource(ctx, ownerClaims, action, owner); err != nil {
		t.Fatalf("owner should edit own post: %v", err)
	}
	if err := f.service.AuthorizeResource(ctx, strangerClaims, action, owner); !errors.Is(err, domain.ErrForbidden) {
		t.Fatalf("stranger with own-only permission must be denied, got %v", err)
	}
}

func TestPasswordResetFlow(t *testing.T) {
	t.Parallel()

	f := newFixture(t)
	ctx := context.Background()

	if _, err := f.service.Register(ctx, RegisterRequest{Username: "holly", Email: "holly@example.com", Password: "StrongHorse7!"}); err != nil {
		t.Fatalf("register failed: %v", err)
	}
	loginRes, err := f.service.Login(ctx, LoginRequest{Username: "holly", Password: "StrongHorse7!"})
	if err != nil {
		t.Fatalf("login failed: %v", err)
	}

	// Unknown identity is silent.
	if err := f.service.RequestPasswordReset(ctx, "ghost"); err != nil {
		t.Fatalf("reset request for unknown identity must not fail: %v", err)
	}
	if f.mailer.lastResetToken != "" {
		t.Fatalf("no mail should be sent for unknown identity")
	}

	if err := f.service.RequestPasswordReset(ctx, "holly"); err != nil {
		t.Fatalf("reset request failed: %v", err)
	}
	token := f.mailer.lastResetToken
	if token == "" {
		t.Fatalf("expected reset token to be mailed")
	}

	if err := f.service.ConfirmPasswordReset(ctx, PasswordResetConfirmRequest{Token: token, NewPassword: "FreshHorse8!"}); err != nil {
		t.Fatalf("reset confirm failed: %v", err)
	}

	// One-time token.
	if err := f.service.ConfirmPasswordReset(ctx, PasswordResetConfirmRequest{Token: token, NewPassword: "OtherHorse9!"}); !errors.Is(err, domain.ErrTokenConsumed) {
		t.Fatalf("expected ErrTokenConsumed for reused token, got %v", err)
	}

	// Every pre-reset session is revoked.
	if _, err := f.service.Refresh(ctx, RefreshRequest{RefreshToken: loginRes.RefreshToken}); !errors.Is(err, domain.ErrTokenConsumed) {
		t.Fatalf("expected old refresh token revoked after reset, got %v", err)
	}

	if _, err := f.service.Login(ctx, LoginRequest{Username: "holly", Password: "StrongHorse7!"}); !errors.Is(err, domain.ErrInvalidCredentials) {
		t.Fatalf("old password must stop working, got %v", err)
	}
	if _, err := f.service.Login(ctx, LoginRequest{Username: "holly", Password: "FreshHorse8!"}); err != nil {
		t.Fatalf("login with new password failed: %v", err)
	}
}

func TestEmailVerificationFlow(t *testing.T) {
	t.Parallel()

	f := newFixture(t)
	ctx := context.Background()

	res, err := f.service.Register(ctx, RegisterRequest{Username: "ivan", Email: "ivan@example.com", Password: "StrongHorse7!"})
	if err != nil {
		t.Fatalf("register failed: %v", err)
	}

	if err := f.service.RequestEmailVerification(ctx, res.UserID); err != nil {
		t.Fatalf("verification request failed: %v", err)
	}
	token := f.mailer.lastVerifyToken
	if token == "" {
		t.Fatalf("expected verification token to be mailed")
	}

	if err := f.service.ConfirmEmailVerification(ctx, token); err != nil {
		t.Fatalf("verification confirm failed: %v", err)
	}
	user, err := f.users.GetByID(ctx, res.UserID)
	if err != nil {
		t.Fatalf("load user: %v", err)
	}
	if !user.EmailVerified {
		t.Fatalf("expected email verified flag set")
	}

	if err := f.service.ConfirmEmailVerification(ctx, token); !errors.Is(err, domain.ErrTokenConsumed) {
		t.Fatalf("expected ErrTokenConsumed on reuse, got %v", err)
	}

	// Verified accounts short-circuit further requests without minting tokens.
	f.mailer.lastVerifyToken = ""
	if err := f.service.RequestEmailVerification(ctx, res.UserID); err != nil {
		t.Fatalf("repeat verification request failed: %v", err)
	}
	if f.mailer.lastVerifyToken != "" {
		t.Fatalf("no token should be mailed for verified account")
	}
}

func TestSweepExpired(t *testing.T) {
	t.Parallel()

	f := newFixture(t)
	ctx := context.Background()

	if _, err := f.service.Register(ctx, RegisterRequest{Username: "judy", Email: "judy@example.com", Password: "StrongHorse7!"}); err != nil {
		t.Fatalf("register failed: %v", err)
	}
	if _, err := f.service.Login(ctx, LoginRequest{Username: "judy", Password: "StrongHorse7!"}); err != nil {
		t.Fatalf("login failed: %v", err)
	}
	if err := f.service.RequestPasswordReset(ctx, "judy"); err != nil {
		t.Fatalf("reset request failed: %v", err)
	}

	f.advance(f.service.cfg.RefreshTokenTTL + time.Hour)
	refreshDeleted, recoveryDeleted, err := f.service.SweepExpired(ctx)
	if err != nil {
		t.Fatalf("sweep failed: %v", err)
	}
	if refreshDeleted != 1 {
		t.Fatalf("expected 1 refresh token swept, got %d", refreshDeleted)
	}
	if recoveryDeleted != 1 {
		t.Fatalf("expected 1 recovery token swept, got %d", recoveryDeleted)
	}
}

// --- fixture ---

type fixture struct {
	service *Service
	users   *fakeUsers
	tokens  *fakeRefreshTokens
	rbac    *fakeRBAC
	sink    *captureSink
	outbox  *fakeOutbox
	guard   *fakeGuard
	codec   *fakeCodec
	mailer  *fakeMailer

	mu sync.Mutex
	at time.Time
}

func newFixture(t *testing.T) *fixture {
	t.Helper()

	rbac := newFakeRBAC()
	users := &fakeUsers{
		byUsername: map[string]domain.User{},
		byID:       map[uuid.UUID]domain.User{},
		rbac:       rbac,
	}
	f := &fixture{
		users:  users,
		tokens: &fakeRefreshTokens{byHash: map[string]*domain.RefreshToken{}},
		rbac:   rbac,
		sink:   &captureSink{},
		outbox: &fakeOutbox{},
		guard:  &fakeGuard{threshold: 5, lockFor: 30 * time.Minute, failures: map[string]int{}, lockedUntil: map[string]time.Time{}},
		mailer: &fakeMailer{},
		at:     time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC),
	}
	f.codec = &fakeCodec{tokens: map[string]ports.AccessClaims{}, nowFn: f.now}
	f.guard.nowFn = f.now

	svc, err := NewService(Config{
		DefaultRole:     "user",
		AccessTokenTTL:  15 * time.Minute,
		RefreshTokenTTL: 30 * 24 * time.Hour,
	}, Dependencies{
		Logger:        slog.New(slog.NewTextHandler(io.Discard, nil)),
		Users:         users,
		RefreshTokens: f.tokens,
		RBAC:          rbac,
		Audit:         &fakeAuditRepo{},
		AuditSink:     f.sink,
		Recovery:      &fakeRecovery{reset: map[string]*recoveryRecord{}, verify: map[string]*recoveryRecord{}},
		Outbox:        f.outbox,
		Guard:         f.guard,
		Hasher:        &fakeHasher{},
		Codec:         f.codec,
		Mailer:        f.mailer,
	})
	if err != nil {
		t.Fatalf("build service: %v", err)
	}
	svc.nowFn = f.now
	f.service = svc
	return f
}

func (f *fixture) now() time.Time {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.at
}

func (f *fixture) advance(d time.Duration) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.at = f.at.Add(d)
}

// --- fakes ---

type fakeUsers struct {
	mu         sync.Mutex
	byUsername map[string]domain.User
	byID       map[uuid.UUID]domain.User
	events     []ports.OutboxEvent
	rbac       *fakeRBAC
}

func (f *fakeUsers) CreateWithOutboxTx(_ context.Context, params ports.CreateUserTxParams, event ports.OutboxEvent) (domain.User, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if _, ok := f.byUsername[params.Username]; ok {
		return domain.User{}, domain.ErrDuplicateIdentity
	}
	u := domain.User{
		UserID:       uuid.New(),
		Username:     params.Username,
		Email:        params.Email,
		PasswordHash: params.PasswordHash,
		IsActive:     true,
		CreatedAt:    params.RegisteredAtUTC,
		UpdatedAt:    params.RegisteredAtUTC,
	}
	f.byUsername[u.Username] = u
	f.byID[u.UserID] = u
	f.events = append(f.events, event)
	_ = f.rbac.AssignRole(context.Background(), u.UserID, params.DefaultRole, params.RegisteredAtUTC)
	return u, nil
}

func (f *fakeUsers) GetByUsername(_ context.Context, username string) (domain.User, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	u, ok := f.byUsername[username]
	if !ok {
		return domain.User{}, domain.ErrNotFound
	}
	return u, nil
}

func (f *fakeUsers) GetByID(_ context.Context, userID uuid.UUID) (domain.User, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	u, ok := f.byID[userID]
	if !ok {
		return domain.User{}, domain.ErrNotFound
	}
	return u, nil
}

func (f *fakeUsers) UpdatePassword(_ context.Context, userID uuid.UUID, passwordHash string, updatedAt time.Time) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	u, ok := f.byID[userID]
	if !ok {
		return domain.ErrNotFound
	}
	u.PasswordHash = passwordHash
	u.UpdatedAt = updatedAt
	f.byID[userID] = u
	f.byUsername[u.Username] = u
	return nil
}

func (f *fakeUsers) SetEmailVerified(_ context.Context, userID uuid.UUID, verified bool, updatedAt time.Time) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	u, ok := f.byID[userID]
	if !ok {
		return domain.ErrNotFound
	}
	u.EmailVerified = verified
	u.UpdatedAt = updatedAt
	f.byID[userID] = u
	f.byUsername[u.Username] = u
	return nil
}

type fakeRefreshTokens struct {
	mu     sync.Mutex
	byHash map[string]*domain.RefreshToken
}

func (f *fakeRefreshTokens) Insert(_ context.Context, token domain.RefreshToken) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	t := token
	f.byHash[token.TokenHash] = &t
	return nil
}

func (f *fakeRefreshTokens) GetByHash(_ context.Context, tokenHash string) (domain.RefreshToken, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	t, ok := f.byHash[tokenHash]
	if !ok {
		return domain.RefreshToken{}, domain.ErrNotFound
	}
	return *t, nil
}

func (f *fakeRefreshTokens) ConsumeByHash(_ context.Context, tokenHash string, revokedAt time.Time) (bool, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	t, ok := f.byHash[tokenHash]
	if !ok || t.RevokedAt != nil {
		return false, nil
	}
	t.RevokedAt = &revokedAt
	return true, nil
}

func (f *fakeRefreshTokens) RevokeByHash(_ context.Context, tokenHash string, revokedAt time.Time) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	if t, ok := f.byHash[tokenHash]; ok && t.RevokedAt == nil {
		t.RevokedAt = &revokedAt
	}
	return nil
}

func (f *fakeRefreshTokens) RevokeAllForUser(_ context.Context, userID uuid.UUID, revokedAt time.Time) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	for _, t := range f.byHash {
		if t.UserID == userID && t.RevokedAt == nil {
			t.RevokedAt = &revokedAt
		}
	}
	return nil
}

func (f *fakeRefreshTokens) DeleteExpiredBefore(_ context.Context, cutoff time.Time) (int64, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	var n int64
	for hash, t := range f.byHash {
		if t.ExpiresAt.Before(cutoff) {
			delete(f.byHash, hash)
			n++
		}
	}
	return n, nil
}

type fakeRBAC struct {
	mu          sync.Mutex
	rolesByUser map[uuid.UUID][]string
	permsByRole map[string][]string
}

func newFakeRBAC() *fakeRBAC {
	return &fakeRBAC{
		rolesByUser: map[uuid.UUID][]string{},
		permsByRole: map[string][]string{
			"admin":  {"posts.edit.any", "posts.edit.own", "users.manage", "audit.read"},
			"editor": {"posts.edit.any", "posts.edit.own"},
			"user":   {"posts.edit.own"},
		},
	}
}

func (f *fakeRBAC) RolesForUser(_ context.Context, userID uuid.UUID) ([]domain.Role, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	roles := make([]domain.Role, 0, len(f.rolesByUser[userID]))
	for _, name := range f.rolesByUser[userID] {
		roles = append(roles, domain.Role{RoleID: uuid.New(), Name: name})
	}
	return roles, nil
}

func (f *fakeRBAC) PermissionsForRole(_ context.Context, roleName string) ([]domain.Permission, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	perms := make([]domain.Permission, 0, len(f.permsByRole[roleName]))
	for _, name := range f.permsByRole[roleName] {
		perms = append(perms, domain.Permission{PermissionID: uuid.New(), Name: name})
	}
	return perms, nil
}

func (f *fakeRBAC) AssignRole(_ context.Context, userID uuid.UUID, roleName string, _ time.Time) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	for _, existing := range f.rolesByUser[userID] {
		if existing == roleName {
			return nil
		}
	}
	f.rolesByUser[userID] = append(f.rolesByUser[userID], roleName)
	return nil
}

func (f *fakeRBAC) RevokeRole(_ context.Context, userID uuid.UUID, roleName string) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	kept := f.rolesByUser[userID][:0]
	for _, existing := range f.rolesByUser[userID] {
		if existing != roleName {
			kept = append(kept, existing)
		}
	}
	f.rolesByUser[userID] = kept
	return nil
}

type fakeAuditRepo struct {
	mu      sync.Mutex
	entries []domain.AuditEntry
}

func (f *fakeAuditRepo) Insert(_ context.Context, entry domain.AuditEntry) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	entry.ID = int64(len(f.entries) + 1)
	f.entries = append(f.entries, entry)
	return nil
}

func (f *fakeAuditRepo) ListByActor(_ context.Context, userID uuid.UUID, limit, offset int, _ *time.Time, action string) ([]domain.AuditEntry, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	var out []domain.AuditEntry
	for _, e := range f.entries {
		if e.ActorUserID == nil || *e.ActorUserID != userID {
			continue
		}
		if action != "" && e.Action != action {
			continue
		}
		out = append(out, e)
	}
	if offset >= len(out) {
		return nil, nil
	}
	out = out[offset:]
	if len(out) > limit {
		out = out[:limit]
	}
	return out, nil
}

func (f *fakeAuditRepo) List(_ context.Context, limit, offset int, _ *time.Time) ([]domain.AuditEntry, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if offset >= len(f.entries) {
		return nil, nil
	}
	out := f.entries[offset:]
	if len(out) > limit {
		out = out[:limit]
	}
	return out, nil
}

// captureSink records synchronously so assertions are deterministic.
type captureSink struct {
	mu      sync.Mutex
	entries []domain.AuditEntry
}

func (s *captureSink) Record(entry domain.AuditEntry) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.entries = append(s.entries, entry)
}

func (s *captureSink) hasAction(action string) bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	for _, e := range s.entries {
		if e.Action == action {
			return true
		}
	}
	return false
}

type recoveryRecord struct {
	userID    uuid.UUID
	expiresAt time.Time
	usedAt    *time.Time
}

type fakeRecovery struct {
	mu     sync.Mutex
	reset  map[string]*recoveryRecord
	verify map[string]*recoveryRecord
}

func (f *fakeRecovery) CreatePasswordResetToken(_ context.Context, userID uuid.UUID, tokenHash string, _, expiresAt time.Time) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.reset[tokenHash] = &recoveryRecord{userID: userID, expiresAt: expiresAt}
	return nil
}

func (f *fakeRecovery) ConsumePasswordResetToken(_ context.Context, tokenHash string, usedAt time.Time) (uuid.UUID, error) {
	return f.consume(f.reset, tokenHash, usedAt)
}

func (f *fakeRecovery) CreateEmailVerificationToken(_ context.Context, userID uuid.UUID, tokenHash string, _, expiresAt time.Time) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.verify[tokenHash] = &recoveryRecord{userID: userID, expiresAt: expiresAt}
	return nil
}

func (f *fakeRecovery) ConsumeEmailVerificationToken(_ context.Context, tokenHash string, verifiedAt time.Time) (uuid.UUID, error) {
	return f.consume(f.verify, tokenHash, verifiedAt)
}

func (f *fakeRecovery) consume(store map[string]*recoveryRecord, tokenHash string, usedAt time.Time) (uuid.UUID, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	rec, ok := store[tokenHash]
	if !ok {
		return uuid.Nil, domain.ErrNotFound
	}
	if rec.usedAt != nil {
		return uuid.Nil, domain.ErrTokenConsumed
	}
	if !usedAt.Before(rec.expiresAt) {
		return uuid.Nil, domain.ErrTokenExpired
	}
	rec.usedAt = &usedAt
	return rec.userID, nil
}

func (f *fakeRecovery) DeleteExpiredBefore(_ context.Context, cutoff time.Time) (int64, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	var n int64
	for _, store := range []map[string]*recoveryRecord{f.reset, f.verify} {
		for hash, rec := range store {
			if rec.expiresAt.Before(cutoff) {
				delete(store, hash)
				n++
			}
		}
	}
	return n, nil
}

type fakeOutbox struct {
	mu     sync.Mutex
	events []ports.OutboxEvent
}

func (f *fakeOutbox) Enqueue(_ context.Context, event ports.OutboxEvent) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.events = append(f.events, event)
	return nil
}

func (f *fakeOutbox) ListUnpublished(_ context.Context, limit int) ([]ports.OutboxRecord, error) {
	return nil, nil
}

func (f *fakeOutbox) MarkPublished(_ context.Context, _ uuid.UUID, _ time.Time) error {
	return nil
}

func (f *fakeOutbox) MarkFailed(_ context.Context, _ uuid.UUID, _ string, _ time.Time) error {
	return nil
}

func (f *fakeOutbox) hasEventType(eventType string) bool {
	f.mu.Lock()
	defer f.mu.Unlock()
	for _, e := range f.events {
		if e.EventType == eventType {
			return true
		}
	}
	return false
}

type fakeGuard struct {
	mu          sync.Mutex
	threshold   int
	lockFor     time.Duration
	failures    map[string]int
	lockedUntil map[string]time.Time
	nowFn       func() time.Time
}

func (g *fakeGuard) Check(_ context.Context, identity string) (ports.AttemptState, error) {
	g.mu.Lock()
	defer g.mu.Unlock()
	state := ports.AttemptState{FailureCount: g.failures[identity]}
	if until, ok := g.lockedUntil[identity]; ok && g.nowFn().Before(until) {
		u := until
		state.LockedUntil = &u
	}
	return state, nil
}

func (g *fakeGuard) RecordFailure(_ context.Context, identity string, now time.Time) (ports.AttemptState, error) {
	g.mu.Lock()
	defer g.mu.Unlock()
	g.failures[identity]++
	state := ports.AttemptState{FailureCount: g.failures[identity]}
	if g.failures[identity] >= g.threshold {
		until := now.Add(g.lockFor)
		g.lockedUntil[identity] = until
		state.LockedUntil = &until
	}
	return state, nil
}

func (g *fakeGuard) RecordSuccess(_ context.Context, identity string) error {
	g.mu.Lock()
	defer g.mu.Unlock()
	delete(g.failures, identity)
	delete(g.lockedUntil, identity)
	return nil
}

type fakeHasher struct{}

func (fakeHasher) Hash(password string) (string, error) {
	return "hashed:" + password, nil
}

func (fakeHasher) Verify(password, encodedHash string) error {
	if len(encodedHash) < 7 || encodedHash[:7] != "hashed:" {
		return domain.ErrMalformedHash
	}
	if encodedHash != "hashed:"+password {
		return domain.ErrInvalidCredentials
	}
	return nil
}

type fakeCodec struct {
	mu     sync.Mutex
	seq    int
	tokens map[string]ports.AccessClaims
	nowFn  func() time.Time
}

func (c *fakeCodec) Issue(claims ports.AccessClaims) (string, error) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.seq++
	token := fmt.Sprintf("access-%s-%d", claims.Subject, c.seq)
	c.tokens[token] = claims
	return token, nil
}

func (c *fakeCodec) Verify(token string) (ports.AccessClaims, error) {
	c.mu.Lock()
	defer c.mu.Unlock()
	claims, ok := c.tokens[token]
	if !ok {
		return ports.AccessClaims{}, domain.ErrInvalidSignature
	}
	if !c.nowFn().Before(claims.ExpiresAt) {
		return ports.AccessClaims{}, domain.ErrTokenExpired
	}
	return claims, nil
}

type fakeMailer struct {
	mu              sync.Mutex
	lastResetToken  string
	lastVerifyToken string
}

func (m *fakeMailer) SendPasswordReset(_ context.Context, _ string, token string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.lastResetToken = token
	return nil
}

func (m *fakeMailer) SendEmailVerification(_ context.Context, _ string, token string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.lastVerifyToken = token
	return nil
}
