package domain

import (
	"time"

	"github.com/google/uuid"
)

// Role is a named permission group (admin, editor, user).
type Role struct {
	RoleID    uuid.UUID
	Name      string
	CreatedAt time.Time
}

// Permission is a named capability, e.g. "posts.edit.any".
type Permission struct {
	PermissionID uuid.UUID
	Name         string
	CreatedAt    time.Time
}

// RoleSet is an order-free collection of role names as carried in access
// claims and resolved from user_roles.
type RoleSet map[string]struct{}

func NewRoleSet(names ...string) RoleSet {
	set := make(RoleSet, len(names))
	for _, n := range names {
		set[n] = struct{}{}
	}
	return set
}

func (s RoleSet) Has(name string) bool {
	_, ok := s[name]
	return ok
}

// Names returns the set members as a slice. Order is unspecified.
func (s RoleSet) Names() []string {
	out := make([]string, 0, len(s))
	for n := range s {
		out = append(out, n)
	}
	return out
}

// PermissionSet is the union of permissions granted through a role set.
type PermissionSet map[string]struct{}

func NewPermissionSet(names ...string) PermissionSet {
	set := make(PermissionSet, len(names))
	for _, n := range names {
		set[n] = struct{}{}
	}
	return set
}

func (s PermissionSet) Has(name string) bool {
	_, ok := s[name]
	return ok
}

// Merge adds every member of other into s.
func (s PermissionSet) Merge(other PermissionSet) {
	for n := range other {
		s[n] = struct{}{}
	}
}
