package application

import (
	"context"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/hashicorp/golang-lru/v2/expirable"

	"github.com/cadencehq/identity-service/internal/domain"
	"github.com/cadencehq/identity-service/internal/ports"
)

const (
	defaultRoleCacheSize = 256
	defaultRoleCacheTTL  = 30 * time.Second
)

// permissionCache memoizes role→permission resolution. Role grants change
// rarely and read volume is dominated by authorization checks, so a short TTL
// keeps lookups off the hot path without making revocations invisible for
// long.
type permissionCache struct {
	lru *expirable.LRU[string, domain.PermissionSet]
}

func newPermissionCache(size int, ttl time.Duration) (*permissionCache, error) {
	if size <= 0 {
		size = defaultRoleCacheSize
	}
	if ttl <= 0 {
		ttl = defaultRoleCacheTTL
	}
	return &permissionCache{
		lru: expirable.NewLRU[string, domain.PermissionSet](size, nil, ttl),
	}, nil
}

func (c *permissionCache) get(role string) (domain.PermissionSet, bool) {
	return c.lru.Get(role)
}

func (c *permissionCache) put(role string, perms domain.PermissionSet) {
	c.lru.Add(role, perms)
}

// VerifyAccessToken validates the compact token and returns its claims. It is
// the identity step of every protected call; authorization happens separately
// against the returned claims.
func (s *Service) VerifyAccessToken(ctx context.Context, token string) (ports.AccessClaims, error) {
	claims, err := s.codec.Verify(token)
	if err != nil {
		return ports.AccessClaims{}, err
	}
	return claims, nil
}

// Authorize checks verified claims against a requirement. The decision is
// deny-by-default: an empty requirement, an unknown role, or a missing
// permission all yield domain.ErrForbidden.
func (s *Service) Authorize(ctx context.Context, claims ports.AccessClaims, req Requirement) error {
	allowed, err := s.requirementSatisfied(ctx, claims, req)
	if err != nil {
		return err
	}
	if allowed {
		return nil
	}

	s.recordAudit(domain.AuditEntry{
		ActorUserID: &claims.Subject,
		Action:      domain.AuditActionAuthorizeDenied,
		Detail: map[string]any{
			"required_role":       req.Role,
			"required_permission": req.Permission,
			"claim_roles":         claims.Roles,
		},
		OccurredAt: s.nowFn().UTC(),
	})
	return domain.ErrForbidden
}

func (s *Service) requirementSatisfied(ctx context.Context, claims ports.AccessClaims, req Requirement) (bool, error) {
	if req.Role == "" && req.Permission == "" {
		return false, nil
	}
	roles := domain.NewRoleSet(claims.Roles...)
	if req.Role != "" && !roles.Has(req.Role) {
		return false, nil
	}
	if req.Permission != "" {
		perms, err := s.permissionsForRoles(ctx, claims.Roles)
		if err != nil {
			return false, err
		}
		if !perms.Has(req.Permission) {
			return false, nil
		}
	}
	return true, nil
}

// AuthorizeResource decides an ownership-aware action: the Any permission
// grants it on every instance, the Own permission only when the caller is the
// record's owner as read live from storage.
func (s *Service) AuthorizeResource(ctx context.Context, claims ports.AccessClaims, action ResourceAction, ownerID uuid.UUID) error {
	perms, err := s.permissionsForRoles(ctx, claims.Roles)
	if err != nil {
		return err
	}
	if action.Any != "" && perms.Has(action.Any) {
		return nil
	}
	if action.Own != "" && perms.Has(action.Own) && claims.Subject == ownerID {
		return nil
	}

	s.recordAudit(domain.AuditEntry{
		ActorUserID: &claims.Subject,
		Action:      domain.AuditActionAuthorizeDenied,
		ResourceID:  ownerID.String(),
		Detail: map[string]any{
			"required_permission": action.Any,
			"owner_permission":    action.Own,
			"claim_roles":         claims.Roles,
		},
		OccurredAt: s.nowFn().UTC(),
	})
	return domain.ErrForbidden
}

// PermissionsForUser resolves the live permission union for a user, bypassing
// claims entirely. Used by the internal gRPC surface where callers hold a
// user id rather than a token.
func (s *Service) PermissionsForUser(ctx context.Context, userID uuid.UUID) (domain.PermissionSet, error) {
	roles, err := s.roleNamesFor(ctx, userID)
	if err != nil {
		return nil, err
	}
	return s.permissionsForRoles(ctx, roles)
}

// HasPermission reports whether the user's live role set grants the named
// permission.
func (s *Service) HasPermission(ctx context.Context, userID uuid.UUID, permission string) (bool, error) {
	if permission == "" {
		return false, nil
	}
	perms, err := s.PermissionsForUser(ctx, userID)
	if err != nil {
		return false, err
	}
	return perms.Has(permission), nil
}

// AssignRole grants a role to a user. Granting an already-held role is a
// no-op.
func (s *Service) AssignRole(ctx context.Context, userID uuid.UUID, roleName string) error {
	if roleName == "" {
		return fmt.Errorf("%w: role name is required", domain.ErrInvalidInput)
	}
	if _, err := s.users.GetByID(ctx, userID); err != nil {
		return err
	}
	return s.rbac.AssignRole(ctx, userID, roleName, s.nowFn().UTC())
}

// RevokeRole removes a role from a user. The change reaches live checks
// immediately and claims-based checks at the next token refresh.
func (s *Service) RevokeRole(ctx context.Context, userID uuid.UUID, roleName string) error {
	if roleName == "" {
		return fmt.Errorf("%w: role name is required", domain.ErrInvalidInput)
	}
	return s.rbac.RevokeRole(ctx, userID, roleName)
}

func (s *Service) permissionsForRoles(ctx context.Context, roles []string) (domain.PermissionSet, error) {
	union := domain.NewPermissionSet()
	for _, role := range roles {
		perms, ok := s.permCache.get(role)
		if !ok {
			resolved, err := s.rbac.PermissionsForRole(ctx, role)
			if err != nil {
				return nil, fmt.Errorf("resolve permissions for role %q: %w", role, err)
			}
			names := make([]string, 0, len(resolved))
			for _, p := range resolved {
				names = append(names, p.Name)
			}
			perms = domain.NewPermissionSet(names...)
			s.permCache.put(role, perms)
		}
		union.Merge(perms)
	}
	return union, nil
}
