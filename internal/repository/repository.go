// Package repository declares the storage interfaces consumed by the
// service layer. Services depend on these interfaces, never on the sqlite
// package directly, so tests can substitute fakes and the backend can be
// swapped without touching business rules.
//
// Mutating methods that span multiple rows (primary switch, social-login
// linking, user deletion) are single interface calls on purpose: each
// implementation runs them as one transaction, so a half-applied mutation
// is never observable.
package repository

import (
	"context"
	"time"

	"github.com/letsyahu/identity/internal/model"
)

// IdentityStore owns User, Email, and SocialLogin rows and their
// invariants: global case-insensitive address uniqueness, at most one
// primary email per user, and system-wide uniqueness of the
// (provider, provider subject) pair.
type IdentityStore interface {
	// CreateUserWithEmail creates a user and their first email in one
	// transaction. The first email is always primary and starts
	// unverified. Fails with ErrDuplicateEmail if the address is claimed
	// anywhere in the system.
	CreateUserWithEmail(ctx context.Context, address string) (*model.User, *model.Email, error)

	// AddEmail attaches a new non-primary, unverified email to the user.
	// Same global-uniqueness rule as CreateUserWithEmail.
	AddEmail(ctx context.Context, userID, address string) (*model.Email, error)

	// SetPrimaryEmail promotes the email to primary, demoting the current
	// primary in the same transaction. Fails with ErrNotOwned if the email
	// belongs to another user and ErrUnverified if it is not verified.
	SetPrimaryEmail(ctx context.Context, userID, emailID string) error

	// VerifyEmail marks the email verified. Idempotent; ErrNotFound if the
	// email does not exist. The verified flag never moves back.
	VerifyEmail(ctx context.Context, emailID string) error

	// LinkSocialLogin runs the linking algorithm in one transaction:
	// an existing link for (provider, subject) is returned unchanged when
	// bound to userID and fails with ErrIdentityConflict when bound to
	// anyone else; otherwise an email is resolved (reusing the user's
	// matching address, or creating a verified non-primary one from
	// providerEmail) and the link row is created. Concurrent linking races
	// are arbitrated by the unique index and surface as
	// ErrIdentityConflict, never as a duplicate row.
	LinkSocialLogin(ctx context.Context, userID string, provider model.Provider, subject, providerEmail string) (*model.SocialLogin, error)

	// FindUserBySocialLogin resolves the (provider, subject) pair to the
	// owning user id. ErrNotFound when no link exists.
	FindUserBySocialLogin(ctx context.Context, provider model.Provider, subject string) (string, error)

	// FindUserByEmail resolves a (case-insensitive) address to its owner.
	// ErrNotFound when the address is unclaimed.
	FindUserByEmail(ctx context.Context, address string) (*model.User, error)

	// GetUserByID returns the user or ErrNotFound.
	GetUserByID(ctx context.Context, id string) (*model.User, error)

	// ListEmails returns all emails owned by the user, primary first.
	ListEmails(ctx context.Context, userID string) ([]model.Email, error)

	// DeleteUser removes the user; emails, social logins, roles, and
	// direct grants cascade with it. Grants issued by the user to others
	// survive with granted_by nulled.
	DeleteUser(ctx context.Context, userID string) error
}

// CredentialStore owns password material. Only encoded hashes cross this
// boundary — the plaintext stops at the service layer.
type CredentialStore interface {
	// SetPasswordHash replaces the stored hash atomically.
	SetPasswordHash(ctx context.Context, userID, encodedHash string) error

	// PasswordHash returns the stored hash, or ErrNotFound when the user
	// does not exist or never set a password.
	PasswordHash(ctx context.Context, userID string) (string, error)
}

// PermissionStore owns direct grants and role membership, and reads the
// seeded role → permission configuration. The configuration itself is
// written once at bootstrap and never through this interface.
type PermissionStore interface {
	// DirectPermissions returns the user's direct grants.
	DirectPermissions(ctx context.Context, userID string) ([]model.Permission, error)

	// RoleDerivedPermissions returns the permissions the user holds
	// transitively through role membership (user_role ⋈ role_permission).
	RoleDerivedPermissions(ctx context.Context, userID string) ([]model.Permission, error)

	// Roles returns the user's role names.
	Roles(ctx context.Context, userID string) ([]model.Role, error)

	// GrantDirect upserts a direct grant. Granting an existing permission
	// is a no-op, not an error. grantedBy may be nil.
	GrantDirect(ctx context.Context, userID string, p model.Permission, grantedBy *string) error

	// RevokeDirect removes the direct grant only; role-derived possession
	// of the same permission is untouched. Revoking an absent grant is a
	// no-op.
	RevokeDirect(ctx context.Context, userID string, p model.Permission) error

	// AssignRole adds the user to a role. Idempotent.
	AssignRole(ctx context.Context, userID string, r model.Role) error
}

// RevocationStore records token-revocation watermarks: all tokens issued
// at or before the watermark are invalid. A per-user watermark and a
// global one coexist; Watermark returns whichever is later.
type RevocationStore interface {
	Watermark(ctx context.Context, userID string) (time.Time, error)
	SetUserWatermark(ctx context.Context, userID string, at time.Time) error
	SetGlobalWatermark(ctx context.Context, at time.Time) error
}
