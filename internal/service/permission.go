package service

import (
	"context"
	"fmt"
	"log/slog"

	"github.com/letsyahu/identity/internal/apperror"
	"github.com/letsyahu/identity/internal/model"
	"github.com/letsyahu/identity/internal/repository"
)

// PermissionService is the Permission Resolver: it computes the effective
// permission set of a user as the union of direct grants and role-derived
// permissions.
//
// Possession is monotonic — there is no deny primitive, so adding a grant
// or a role can only enlarge the set. The resolver never caches: every
// call reflects the store as it is now, which is what makes a revoke take
// effect on the very next authorization check.
type PermissionService struct {
	permissions repository.PermissionStore
	logger      *slog.Logger
}

// NewPermissionService creates a PermissionService.
func NewPermissionService(permissions repository.PermissionStore, logger *slog.Logger) *PermissionService {
	return &PermissionService{permissions: permissions, logger: logger}
}

// EffectivePermissions returns the union of the user's direct grants and
// the permissions mapped to the roles they hold.
func (s *PermissionService) EffectivePermissions(ctx context.Context, userID string) (model.PermissionSet, error) {
	direct, err := s.permissions.DirectPermissions(ctx, userID)
	if err != nil {
		return nil, fmt.Errorf("service/permission: loading direct grants: %w", err)
	}
	derived, err := s.permissions.RoleDerivedPermissions(ctx, userID)
	if err != nil {
		return nil, fmt.Errorf("service/permission: loading role-derived permissions: %w", err)
	}

	set := model.NewPermissionSet(direct...)
	for _, p := range derived {
		set.Add(p)
	}
	return set, nil
}

// HasPermission reports whether p is in the user's effective set. It is
// defined on top of EffectivePermissions — a single code path, so the
// predicate can never disagree with the set.
func (s *PermissionService) HasPermission(ctx context.Context, userID string, p model.Permission) (bool, error) {
	set, err := s.EffectivePermissions(ctx, userID)
	if err != nil {
		return false, err
	}
	return set.Has(p), nil
}

// Roles returns the user's role names, for the token snapshot.
func (s *PermissionService) Roles(ctx context.Context, userID string) ([]model.Role, error) {
	roles, err := s.permissions.Roles(ctx, userID)
	if err != nil {
		return nil, fmt.Errorf("service/permission: loading roles: %w", err)
	}
	return roles, nil
}

// GrantDirect gives the user a direct grant. Granting a permission the
// user already holds directly is a no-op. grantedBy records the issuing
// user; pass the empty string for system-issued grants.
func (s *PermissionService) GrantDirect(ctx context.Context, userID string, p model.Permission, grantedBy string) error {
	if !p.Valid() {
		return apperror.ValidationFailed("permission", fmt.Sprintf("unknown permission %q", p))
	}

	var granter *string
	if grantedBy != "" {
		granter = &grantedBy
	}
	if err := s.permissions.GrantDirect(ctx, userID, p, granter); err != nil {
		return fmt.Errorf("service/permission: granting %s: %w", p, err)
	}

	s.logger.Info("permission granted",
		slog.String("userID", userID),
		slog.String("permission", string(p)),
		slog.String("grantedBy", grantedBy),
	)
	return nil
}

// RevokeDirect removes the direct grant only. A user who also holds a
// role mapping to the same permission keeps it — role-derived possession
// is independent of direct grants.
func (s *PermissionService) RevokeDirect(ctx context.Context, userID string, p model.Permission) error {
	if !p.Valid() {
		return apperror.ValidationFailed("permission", fmt.Sprintf("unknown permission %q", p))
	}
	if err := s.permissions.RevokeDirect(ctx, userID, p); err != nil {
		return fmt.Errorf("service/permission: revoking %s: %w", p, err)
	}

	s.logger.Info("permission revoked",
		slog.String("userID", userID),
		slog.String("permission", string(p)),
	)
	return nil
}

// AssignRole adds the user to a role. Idempotent. Role membership is
// append-only at this layer; removing roles is an operator action outside
// the request path.
func (s *PermissionService) AssignRole(ctx context.Context, userID string, r model.Role) error {
	if !r.Valid() {
		return apperror.ValidationFailed("role", fmt.Sprintf("unknown role %q", r))
	}
	if err := s.permissions.AssignRole(ctx, userID, r); err != nil {
		return fmt.Errorf("service/permission: assigning role %s: %w", r, err)
	}

	s.logger.Info("role assigned",
		slog.String("userID", userID),
		slog.String("role", string(r)),
	)
	return nil
}
