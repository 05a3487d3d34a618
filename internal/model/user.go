// Package model defines the data structures shared across the identity core.
//
// The entity shapes here are the persistence contract: column names in the
// sqlite schema match the struct tags one-to-one, and the ownership
// directions (User owns Emails, SocialLogins, roles, and direct grants)
// drive the cascade-delete behaviour of the store.
package model

import "time"

// User is the root identity anchor. It carries no profile data itself —
// addresses live on Email rows and external identities on SocialLogin rows,
// all owned by the user and deleted with it.
//
// PasswordHash holds the encoded credential (argon2id PHC string) and is
// empty for accounts provisioned through an external provider that never
// set a password. It is never serialized.
type User struct {
	ID           string    `json:"id" db:"user_id"`
	PasswordHash string    `json:"-" db:"password_hash"`
	CreatedAt    time.Time `json:"createdAt" db:"created_at"`
	UpdatedAt    time.Time `json:"updatedAt" db:"updated_at"`
}

// Email is an address claimed by a user.
//
// Address uniqueness is global and case-insensitive: no two rows may hold
// the same address, regardless of owner. Addresses are stored lowercased so
// the unique index does the arbitration.
//
// At most one Email per user has IsPrimary set. The schema cannot express
// that on its own, so every mutation that touches the flag goes through the
// identity store, which clears the previous primary in the same transaction.
//
// Verified moves false→true exactly once (via a verification proof or by
// being born from a provider assertion) and never back.
type Email struct {
	ID        string `json:"id" db:"email_id"`
	UserID    string `json:"userId" db:"user_id"`
	Address   string `json:"address" db:"email"`
	Verified  bool   `json:"verified" db:"verified"`
	IsPrimary bool   `json:"isPrimary" db:"is_primary"`
}

// Provider identifies an external identity provider. Closed set.
type Provider string

const (
	ProviderGitHub  Provider = "github"
	ProviderDiscord Provider = "discord"
)

// Valid reports whether p is a known provider.
func (p Provider) Valid() bool {
	return p == ProviderGitHub || p == ProviderDiscord
}

// SocialLogin links a user (and one of their emails) to an external
// provider identity. The (Provider, ProviderUserID) pair is unique
// system-wide — the same external subject can never be attached to two
// accounts, which is what makes linking collisions detectable.
type SocialLogin struct {
	ID             string   `json:"id" db:"social_login_id"`
	EmailID        string   `json:"emailId" db:"email_id"`
	UserID         string   `json:"userId" db:"user_id"`
	Provider       Provider `json:"provider" db:"provider"`
	ProviderUserID string   `json:"providerUserId" db:"provider_user_id"`
}

// UserPermission is a direct grant, independent of any role. GrantedBy
// records who issued it and becomes nil if the granter is deleted; the
// grant itself survives.
type UserPermission struct {
	UserID     string     `json:"userId" db:"user_id"`
	Permission Permission `json:"permission" db:"permission"`
	GrantedBy  *string    `json:"grantedBy" db:"granted_by"`
	CreatedAt  time.Time  `json:"createdAt" db:"created_at"`
}

// Principal is a resolved identity: the outcome of a successful
// authentication or token verification. Permissions are the effective set
// at resolution time — callers must not cache it across authorization
// decisions, since a revoke elsewhere will not be reflected.
type Principal struct {
	UserID      string        `json:"userId"`
	Roles       []Role        `json:"roles"`
	Permissions PermissionSet `json:"-"`
}

// HasPermission reports whether the principal's resolved set contains p.
func (pr *Principal) HasPermission(p Permission) bool {
	return pr.Permissions.Has(p)
}
