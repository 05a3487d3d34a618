package sqlite

import (
	"context"
	"errors"
	"testing"

	"github.com/letsyahu/identity/internal/apperror"
	"github.com/letsyahu/identity/internal/model"
)

func TestCreateUserWithEmail(t *testing.T) {
	db := newTestDB(t)

	user, email := mustCreateUser(t, db, "Alice@Example.com ")

	if user.ID == "" {
		t.Error("user ID should be generated")
	}
	if email.Address != "alice@example.com" {
		t.Errorf("address = %q, want normalized %q", email.Address, "alice@example.com")
	}
	if !email.IsPrimary {
		t.Error("first email should be primary")
	}
	if email.Verified {
		t.Error("first email should start unverified")
	}
}

func TestCreateUserWithEmail_DuplicateAddress(t *testing.T) {
	db := newTestDB(t)
	ctx := context.Background()

	mustCreateUser(t, db, "alice@example.com")

	tests := []string{
		"alice@example.com",
		"Alice@Example.com", // case-insensitive
		"  alice@example.com  ",
	}
	for _, address := range tests {
		if _, _, err := db.CreateUserWithEmail(ctx, address); !errors.Is(err, apperror.ErrDuplicateEmail) {
			t.Errorf("CreateUserWithEmail(%q) = %v, want ErrDuplicateEmail", address, err)
		}
	}
}

func TestAddEmail(t *testing.T) {
	db := newTestDB(t)
	ctx := context.Background()

	user, _ := mustCreateUser(t, db, "alice@example.com")

	email, err := db.AddEmail(ctx, user.ID, "alice@work.example")
	if err != nil {
		t.Fatalf("AddEmail: %v", err)
	}
	if email.IsPrimary {
		t.Error("added email must not be primary")
	}
	if email.Verified {
		t.Error("added email must start unverified")
	}

	// The address is globally unique, even across users.
	other, _ := mustCreateUser(t, db, "bob@example.com")
	if _, err := db.AddEmail(ctx, other.ID, "ALICE@work.example"); !errors.Is(err, apperror.ErrDuplicateEmail) {
		t.Errorf("AddEmail(claimed address) = %v, want ErrDuplicateEmail", err)
	}

	if _, err := db.AddEmail(ctx, "no-such-user", "new@example.com"); !errors.Is(err, apperror.ErrNotFound) {
		t.Errorf("AddEmail(unknown user) = %v, want ErrNotFound", err)
	}
}

func TestSetPrimaryEmail(t *testing.T) {
	db := newTestDB(t)
	ctx := context.Background()

	user, first := mustCreateUser(t, db, "alice@example.com")
	second, err := db.AddEmail(ctx, user.ID, "alice@work.example")
	if err != nil {
		t.Fatalf("AddEmail: %v", err)
	}

	// Unverified emails cannot become primary.
	if err := db.SetPrimaryEmail(ctx, user.ID, second.ID); !errors.Is(err, apperror.ErrUnverified) {
		t.Fatalf("SetPrimaryEmail(unverified) = %v, want ErrUnverified", err)
	}

	if err := db.VerifyEmail(ctx, second.ID); err != nil {
		t.Fatalf("VerifyEmail: %v", err)
	}
	if err := db.SetPrimaryEmail(ctx, user.ID, second.ID); err != nil {
		t.Fatalf("SetPrimaryEmail: %v", err)
	}

	emails, err := db.ListEmails(ctx, user.ID)
	if err != nil {
		t.Fatalf("ListEmails: %v", err)
	}
	primaries := 0
	for _, e := range emails {
		if e.IsPrimary {
			primaries++
			if e.ID != second.ID {
				t.Errorf("primary is %s, want %s", e.ID, second.ID)
			}
		}
	}
	if primaries != 1 {
		t.Errorf("found %d primary emails, want exactly 1", primaries)
	}
	_ = first
}

func TestSetPrimaryEmail_Errors(t *testing.T) {
	db := newTestDB(t)
	ctx := context.Background()

	alice, _ := mustCreateUser(t, db, "alice@example.com")
	_, bobEmail := mustCreateUser(t, db, "bob@example.com")
	if err := db.VerifyEmail(ctx, bobEmail.ID); err != nil {
		t.Fatalf("VerifyEmail: %v", err)
	}

	if err := db.SetPrimaryEmail(ctx, alice.ID, "missing"); !errors.Is(err, apperror.ErrNotFound) {
		t.Errorf("SetPrimaryEmail(missing) = %v, want ErrNotFound", err)
	}
	// Another user's email is reported as not owned, not as not found.
	if err := db.SetPrimaryEmail(ctx, alice.ID, bobEmail.ID); !errors.Is(err, apperror.ErrNotOwned) {
		t.Errorf("SetPrimaryEmail(other user's email) = %v, want ErrNotOwned", err)
	}
}

func TestVerifyEmail_Idempotent(t *testing.T) {
	db := newTestDB(t)
	ctx := context.Background()

	_, email := mustCreateUser(t, db, "alice@example.com")

	for i := 0; i < 2; i++ {
		if err := db.VerifyEmail(ctx, email.ID); err != nil {
			t.Fatalf("VerifyEmail #%d: %v", i+1, err)
		}
	}
	if err := db.VerifyEmail(ctx, "missing"); !errors.Is(err, apperror.ErrNotFound) {
		t.Errorf("VerifyEmail(missing) = %v, want ErrNotFound", err)
	}
}

func TestLinkSocialLogin_NewAddress(t *testing.T) {
	db := newTestDB(t)
	ctx := context.Background()

	user, _ := mustCreateUser(t, db, "alice@example.com")

	link, err := db.LinkSocialLogin(ctx, user.ID, model.ProviderGitHub, "gh-1", "alice@github.example")
	if err != nil {
		t.Fatalf("LinkSocialLogin: %v", err)
	}
	if link.UserID != user.ID {
		t.Errorf("link.UserID = %q, want %q", link.UserID, user.ID)
	}

	// The provider-asserted address becomes a verified, non-primary email.
	emails, err := db.ListEmails(ctx, user.ID)
	if err != nil {
		t.Fatalf("ListEmails: %v", err)
	}
	var found *model.Email
	for i := range emails {
		if emails[i].Address == "alice@github.example" {
			found = &emails[i]
		}
	}
	if found == nil {
		t.Fatal("provider email was not recorded")
	}
	if !found.Verified {
		t.Error("provider email should be born verified")
	}
	if found.IsPrimary {
		t.Error("provider email must not become primary")
	}
	if found.ID != link.EmailID {
		t.Errorf("link references email %s, want %s", link.EmailID, found.ID)
	}
}

func TestLinkSocialLogin_Idempotent(t *testing.T) {
	db := newTestDB(t)
	ctx := context.Background()

	user, _ := mustCreateUser(t, db, "alice@example.com")

	first, err := db.LinkSocialLogin(ctx, user.ID, model.ProviderGitHub, "gh-1", "alice@github.example")
	if err != nil {
		t.Fatalf("LinkSocialLogin: %v", err)
	}
	second, err := db.LinkSocialLogin(ctx, user.ID, model.ProviderGitHub, "gh-1", "alice@github.example")
	if err != nil {
		t.Fatalf("LinkSocialLogin (relink): %v", err)
	}
	if second.ID != first.ID {
		t.Errorf("relink created a new row %s, want existing %s", second.ID, first.ID)
	}
}

func TestLinkSocialLogin_BoundToOtherUser(t *testing.T) {
	db := newTestDB(t)
	ctx := context.Background()

	alice, _ := mustCreateUser(t, db, "alice@example.com")
	bob, _ := mustCreateUser(t, db, "bob@example.com")

	if _, err := db.LinkSocialLogin(ctx, alice.ID, model.ProviderGitHub, "gh-1", "alice@github.example"); err != nil {
		t.Fatalf("LinkSocialLogin: %v", err)
	}
	if _, err := db.LinkSocialLogin(ctx, bob.ID, model.ProviderGitHub, "gh-1", "bob@github.example"); !errors.Is(err, apperror.ErrIdentityConflict) {
		t.Errorf("LinkSocialLogin(taken subject) = %v, want ErrIdentityConflict", err)
	}
}

func TestLinkSocialLogin_ReusesOwnAddress(t *testing.T) {
	db := newTestDB(t)
	ctx := context.Background()

	user, email := mustCreateUser(t, db, "alice@example.com")

	// The user's own unverified address is reused as the link target and
	// is NOT verified on the provider's word.
	link, err := db.LinkSocialLogin(ctx, user.ID, model.ProviderDiscord, "dc-1", "Alice@Example.com")
	if err != nil {
		t.Fatalf("LinkSocialLogin: %v", err)
	}
	if link.EmailID != email.ID {
		t.Errorf("link references email %s, want existing %s", link.EmailID, email.ID)
	}

	emails, err := db.ListEmails(ctx, user.ID)
	if err != nil {
		t.Fatalf("ListEmails: %v", err)
	}
	if len(emails) != 1 {
		t.Fatalf("user has %d emails, want 1", len(emails))
	}
	if emails[0].Verified {
		t.Error("linking must not verify the user's existing email")
	}
}

func TestLinkSocialLogin_AddressOwnedByOtherUser(t *testing.T) {
	db := newTestDB(t)
	ctx := context.Background()

	mustCreateUser(t, db, "alice@example.com")
	bob, _ := mustCreateUser(t, db, "bob@example.com")

	if _, err := db.LinkSocialLogin(ctx, bob.ID, model.ProviderGitHub, "gh-9", "alice@example.com"); !errors.Is(err, apperror.ErrIdentityConflict) {
		t.Errorf("LinkSocialLogin(foreign address) = %v, want ErrIdentityConflict", err)
	}
}

func TestFindUserBySocialLogin(t *testing.T) {
	db := newTestDB(t)
	ctx := context.Background()

	user, _ := mustCreateUser(t, db, "alice@example.com")
	if _, err := db.LinkSocialLogin(ctx, user.ID, model.ProviderGitHub, "gh-1", "alice@github.example"); err != nil {
		t.Fatalf("LinkSocialLogin: %v", err)
	}

	got, err := db.FindUserBySocialLogin(ctx, model.ProviderGitHub, "gh-1")
	if err != nil {
		t.Fatalf("FindUserBySocialLogin: %v", err)
	}
	if got != user.ID {
		t.Errorf("FindUserBySocialLogin = %q, want %q", got, user.ID)
	}

	if _, err := db.FindUserBySocialLogin(ctx, model.ProviderDiscord, "gh-1"); !errors.Is(err, apperror.ErrNotFound) {
		t.Errorf("FindUserBySocialLogin(other provider) = %v, want ErrNotFound", err)
	}
}

func TestFindUserByEmail(t *testing.T) {
	db := newTestDB(t)
	ctx := context.Background()

	user, _ := mustCreateUser(t, db, "alice@example.com")

	got, err := db.FindUserByEmail(ctx, "ALICE@example.COM")
	if err != nil {
		t.Fatalf("FindUserByEmail: %v", err)
	}
	if got.ID != user.ID {
		t.Errorf("FindUserByEmail = %q, want %q", got.ID, user.ID)
	}

	// Any of the user's addresses resolves, not only the primary.
	extra, err := db.AddEmail(ctx, user.ID, "alice@work.example")
	if err != nil {
		t.Fatalf("AddEmail: %v", err)
	}
	got, err = db.FindUserByEmail(ctx, extra.Address)
	if err != nil {
		t.Fatalf("FindUserByEmail(secondary): %v", err)
	}
	if got.ID != user.ID {
		t.Errorf("FindUserByEmail(secondary) = %q, want %q", got.ID, user.ID)
	}

	if _, err := db.FindUserByEmail(ctx, "nobody@example.com"); !errors.Is(err, apperror.ErrNotFound) {
		t.Errorf("FindUserByEmail(unknown) = %v, want ErrNotFound", err)
	}
}

func TestDeleteUser_Cascades(t *testing.T) {
	db := newTestDB(t)
	ctx := context.Background()

	alice, _ := mustCreateUser(t, db, "alice@example.com")
	bob, _ := mustCreateUser(t, db, "bob@example.com")

	if _, err := db.LinkSocialLogin(ctx, alice.ID, model.ProviderGitHub, "gh-1", "alice@github.example"); err != nil {
		t.Fatalf("LinkSocialLogin: %v", err)
	}
	if err := db.AssignRole(ctx, alice.ID, model.RoleModerator); err != nil {
		t.Fatalf("AssignRole: %v", err)
	}
	if err := db.GrantDirect(ctx, alice.ID, model.PermissionUploadCreate, nil); err != nil {
		t.Fatalf("GrantDirect: %v", err)
	}
	// Alice granted Bob a permission; that grant must survive her deletion.
	if err := db.GrantDirect(ctx, bob.ID, model.PermissionUserView, &alice.ID); err != nil {
		t.Fatalf("GrantDirect(bob): %v", err)
	}

	if err := db.DeleteUser(ctx, alice.ID); err != nil {
		t.Fatalf("DeleteUser: %v", err)
	}

	if _, err := db.GetUserByID(ctx, alice.ID); !errors.Is(err, apperror.ErrNotFound) {
		t.Errorf("GetUserByID(deleted) = %v, want ErrNotFound", err)
	}
	if emails, _ := db.ListEmails(ctx, alice.ID); len(emails) != 0 {
		t.Errorf("deleted user still has %d emails", len(emails))
	}
	if _, err := db.FindUserBySocialLogin(ctx, model.ProviderGitHub, "gh-1"); !errors.Is(err, apperror.ErrNotFound) {
		t.Errorf("social login survived deletion: %v", err)
	}
	if roles, _ := db.Roles(ctx, alice.ID); len(roles) != 0 {
		t.Errorf("deleted user still has %d roles", len(roles))
	}
	if perms, _ := db.DirectPermissions(ctx, alice.ID); len(perms) != 0 {
		t.Errorf("deleted user still has %d direct grants", len(perms))
	}

	bobPerms, err := db.DirectPermissions(ctx, bob.ID)
	if err != nil {
		t.Fatalf("DirectPermissions(bob): %v", err)
	}
	if len(bobPerms) != 1 || bobPerms[0] != model.PermissionUserView {
		t.Errorf("bob's grant did not survive granter deletion: %v", bobPerms)
	}

	// The freed address can be registered again.
	if _, _, err := db.CreateUserWithEmail(ctx, "alice@example.com"); err != nil {
		t.Errorf("address not freed after deletion: %v", err)
	}

	if err := db.DeleteUser(ctx, alice.ID); !errors.Is(err, apperror.ErrNotFound) {
		t.Errorf("DeleteUser(again) = %v, want ErrNotFound", err)
	}
}
