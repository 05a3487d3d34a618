package sqlite

import (
	"context"
	"fmt"
	"time"

	"github.com/letsyahu/identity/internal/model"
	"github.com/letsyahu/identity/internal/repository"
)

var _ repository.PermissionStore = (*DB)(nil)

// DirectPermissions returns the user's direct grants.
func (db *DB) DirectPermissions(ctx context.Context, userID string) ([]model.Permission, error) {
	return db.queryPermissions(ctx,
		`SELECT permission FROM user_permission WHERE user_id = ? ORDER BY permission`,
		userID,
	)
}

// RoleDerivedPermissions returns the permissions the user holds through
// role membership. The join against the seeded role_permission table is
// the only place role mappings are read on the request path.
func (db *DB) RoleDerivedPermissions(ctx context.Context, userID string) ([]model.Permission, error) {
	return db.queryPermissions(ctx,
		`SELECT DISTINCT rp.permission
		 FROM user_role ur
		 JOIN role_permission rp ON ur.role = rp.role
		 WHERE ur.user_id = ?
		 ORDER BY rp.permission`,
		userID,
	)
}

func (db *DB) queryPermissions(ctx context.Context, query, userID string) ([]model.Permission, error) {
	rows, err := db.conn.QueryContext(ctx, query, userID)
	if err != nil {
		return nil, fmt.Errorf("sqlite: querying permissions for %s: %w", userID, err)
	}
	defer rows.Close()

	var perms []model.Permission
	for rows.Next() {
		var p string
		if err := rows.Scan(&p); err != nil {
			return nil, fmt.Errorf("sqlite: scanning permission: %w", err)
		}
		perms = append(perms, model.Permission(p))
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("sqlite: querying permissions for %s: %w", userID, err)
	}
	return perms, nil
}

// Roles returns the user's role names.
func (db *DB) Roles(ctx context.Context, userID string) ([]model.Role, error) {
	rows, err := db.conn.QueryContext(ctx,
		`SELECT role FROM user_role WHERE user_id = ? ORDER BY role`, userID,
	)
	if err != nil {
		return nil, fmt.Errorf("sqlite: querying roles for %s: %w", userID, err)
	}
	defer rows.Close()

	var roles []model.Role
	for rows.Next() {
		var r string
		if err := rows.Scan(&r); err != nil {
			return nil, fmt.Errorf("sqlite: scanning role: %w", err)
		}
		roles = append(roles, model.Role(r))
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("sqlite: querying roles for %s: %w", userID, err)
	}
	return roles, nil
}

// GrantDirect upserts a direct grant. ON CONFLICT DO NOTHING keeps the
// original grant (and its granted_by/created_at) when the permission is
// granted twice — re-granting is a no-op, not an error.
func (db *DB) GrantDirect(ctx context.Context, userID string, p model.Permission, grantedBy *string) error {
	_, err := db.conn.ExecContext(ctx,
		`INSERT INTO user_permission (user_id, permission, granted_by, created_at)
		 VALUES (?, ?, ?, ?)
		 ON CONFLICT (user_id, permission) DO NOTHING`,
		userID, string(p), grantedBy, time.Now().UTC(),
	)
	if err != nil {
		return fmt.Errorf("sqlite: granting %s to %s: %w", p, userID, err)
	}
	return nil
}

// RevokeDirect removes the direct grant. Role-derived possession of the
// same permission is a separate row in a separate table and is untouched.
func (db *DB) RevokeDirect(ctx context.Context, userID string, p model.Permission) error {
	_, err := db.conn.ExecContext(ctx,
		`DELETE FROM user_permission WHERE user_id = ? AND permission = ?`,
		userID, string(p),
	)
	if err != nil {
		return fmt.Errorf("sqlite: revoking %s from %s: %w", p, userID, err)
	}
	return nil
}

// AssignRole adds the user to a role. Idempotent via the composite key.
func (db *DB) AssignRole(ctx context.Context, userID string, r model.Role) error {
	_, err := db.conn.ExecContext(ctx,
		`INSERT INTO user_role (user_id, role) VALUES (?, ?)
		 ON CONFLICT (user_id, role) DO NOTHING`,
		userID, string(r),
	)
	if err != nil {
		return fmt.Errorf("sqlite: assigning role %s to %s: %w", r, userID, err)
	}
	return nil
}
