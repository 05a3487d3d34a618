package model

import "sort"

// Permission is an opaque capability name. The set is closed — permissions
// are defined here at compile time, never by users at runtime. Keeping the
// set closed means every grant and every role mapping can be checked with
// Valid() before it reaches storage, so the tables never accumulate
// misspelled capability strings.
type Permission string

const (
	PermissionUserView       Permission = "user.view"
	PermissionUserManage     Permission = "user.manage"
	PermissionBusinessCreate Permission = "business.create"
	PermissionBusinessUpdate Permission = "business.update"
	PermissionBusinessDelete Permission = "business.delete"
	PermissionUploadCreate   Permission = "upload.create"
)

// AllPermissions lists every capability in the closed set, in a stable order.
// Used for validation and for seeding checks in tests.
var AllPermissions = []Permission{
	PermissionUserView,
	PermissionUserManage,
	PermissionBusinessCreate,
	PermissionBusinessUpdate,
	PermissionBusinessDelete,
	PermissionUploadCreate,
}

// Valid reports whether p is a member of the closed permission set.
func (p Permission) Valid() bool {
	for _, known := range AllPermissions {
		if p == known {
			return true
		}
	}
	return false
}

// Role is a named permission bundle assignable to a user. Like Permission,
// the set is closed.
type Role string

const (
	// RoleRoot is the elevated operator role — it carries every permission.
	RoleRoot Role = "root"
	// RoleModerator can inspect users and curate business records, but
	// cannot manage accounts or create businesses.
	RoleModerator Role = "moderator"
)

// AllRoles lists every role in the closed set.
var AllRoles = []Role{RoleRoot, RoleModerator}

// Valid reports whether r is a member of the closed role set.
func (r Role) Valid() bool {
	for _, known := range AllRoles {
		if r == known {
			return true
		}
	}
	return false
}

// DefaultRolePermissions is the process-wide role → permission table. It is
// seeded into storage once at bootstrap and treated as immutable configuration
// afterwards; nothing in the request path ever writes to it.
var DefaultRolePermissions = map[Role][]Permission{
	RoleRoot: {
		PermissionUserView,
		PermissionUserManage,
		PermissionBusinessCreate,
		PermissionBusinessUpdate,
		PermissionBusinessDelete,
		PermissionUploadCreate,
	},
	RoleModerator: {
		PermissionUserView,
		PermissionBusinessUpdate,
		PermissionBusinessDelete,
	},
}

// PermissionSet is the effective permission set of a user: the union of
// direct grants and role-derived permissions. Membership is the only
// question it answers — there is no deny primitive, so the set can only
// grow as grants and roles are added.
type PermissionSet map[Permission]struct{}

// NewPermissionSet builds a set from the given permissions.
func NewPermissionSet(perms ...Permission) PermissionSet {
	set := make(PermissionSet, len(perms))
	for _, p := range perms {
		set[p] = struct{}{}
	}
	return set
}

// Add inserts p into the set. Adding an existing member is a no-op.
func (s PermissionSet) Add(p Permission) {
	s[p] = struct{}{}
}

// Has reports whether p is in the set.
func (s PermissionSet) Has(p Permission) bool {
	_, ok := s[p]
	return ok
}

// Slice returns the members in lexical order, for stable JSON output and
// deterministic tests.
func (s PermissionSet) Slice() []Permission {
	out := make([]Permission, 0, len(s))
	for p := range s {
		out = append(out, p)
	}
	sort.Slice(out, func(i, j int) bool { return out[i] < out[j] })
	return out
}
