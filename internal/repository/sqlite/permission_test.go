package sqlite

import (
	"context"
	"testing"

	"github.com/letsyahu/identity/internal/model"
)

func TestGrantDirect_Idempotent(t *testing.T) {
	db := newTestDB(t)
	ctx := context.Background()

	user, _ := mustCreateUser(t, db, "alice@example.com")
	granter, _ := mustCreateUser(t, db, "root@example.com")

	if err := db.GrantDirect(ctx, user.ID, model.PermissionUserView, &granter.ID); err != nil {
		t.Fatalf("GrantDirect: %v", err)
	}
	// Re-granting is a no-op, not an error.
	if err := db.GrantDirect(ctx, user.ID, model.PermissionUserView, nil); err != nil {
		t.Fatalf("GrantDirect (again): %v", err)
	}

	perms, err := db.DirectPermissions(ctx, user.ID)
	if err != nil {
		t.Fatalf("DirectPermissions: %v", err)
	}
	if len(perms) != 1 || perms[0] != model.PermissionUserView {
		t.Errorf("DirectPermissions = %v, want [user.view]", perms)
	}
}

func TestRevokeDirect_LeavesRoleDerived(t *testing.T) {
	db := newTestDB(t)
	ctx := context.Background()

	user, _ := mustCreateUser(t, db, "alice@example.com")
	if err := db.AssignRole(ctx, user.ID, model.RoleModerator); err != nil {
		t.Fatalf("AssignRole: %v", err)
	}
	// Direct grant of a permission the moderator role also carries.
	if err := db.GrantDirect(ctx, user.ID, model.PermissionBusinessDelete, nil); err != nil {
		t.Fatalf("GrantDirect: %v", err)
	}

	if err := db.RevokeDirect(ctx, user.ID, model.PermissionBusinessDelete); err != nil {
		t.Fatalf("RevokeDirect: %v", err)
	}

	direct, err := db.DirectPermissions(ctx, user.ID)
	if err != nil {
		t.Fatalf("DirectPermissions: %v", err)
	}
	if len(direct) != 0 {
		t.Errorf("DirectPermissions after revoke = %v, want none", direct)
	}

	// The role-derived copy is a separate row and is untouched.
	derived, err := db.RoleDerivedPermissions(ctx, user.ID)
	if err != nil {
		t.Fatalf("RoleDerivedPermissions: %v", err)
	}
	found := false
	for _, p := range derived {
		if p == model.PermissionBusinessDelete {
			found = true
		}
	}
	if !found {
		t.Error("revoking the direct grant removed the role-derived permission")
	}
}

func TestRevokeDirect_AbsentGrant(t *testing.T) {
	db := newTestDB(t)
	user, _ := mustCreateUser(t, db, "alice@example.com")

	if err := db.RevokeDirect(context.Background(), user.ID, model.PermissionUserManage); err != nil {
		t.Errorf("RevokeDirect(absent) = %v, want nil", err)
	}
}

func TestAssignRole_Idempotent(t *testing.T) {
	db := newTestDB(t)
	ctx := context.Background()

	user, _ := mustCreateUser(t, db, "alice@example.com")
	for i := 0; i < 2; i++ {
		if err := db.AssignRole(ctx, user.ID, model.RoleRoot); err != nil {
			t.Fatalf("AssignRole #%d: %v", i+1, err)
		}
	}

	roles, err := db.Roles(ctx, user.ID)
	if err != nil {
		t.Fatalf("Roles: %v", err)
	}
	if len(roles) != 1 || roles[0] != model.RoleRoot {
		t.Errorf("Roles = %v, want [root]", roles)
	}
}
