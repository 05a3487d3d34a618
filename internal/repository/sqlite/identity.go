package sqlite

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/rs/xid"

	"github.com/letsyahu/identity/internal/apperror"
	"github.com/letsyahu/identity/internal/model"
	"github.com/letsyahu/identity/internal/repository"
)

var _ repository.IdentityStore = (*DB)(nil)

// normalizeAddress lowercases and trims an address. Every address entering
// the store goes through this, so the unique index compares like with like
// even before the NOCASE collation gets involved.
func normalizeAddress(address string) string {
	return strings.ToLower(strings.TrimSpace(address))
}

// CreateUserWithEmail creates the user row and their first email in one
// transaction. The first email is always primary; it starts unverified.
func (db *DB) CreateUserWithEmail(ctx context.Context, address string) (*model.User, *model.Email, error) {
	address = normalizeAddress(address)
	now := time.Now().UTC()

	user := &model.User{
		ID:        xid.New().String(),
		CreatedAt: now,
		UpdatedAt: now,
	}
	email := &model.Email{
		ID:        xid.New().String(),
		UserID:    user.ID,
		Address:   address,
		Verified:  false,
		IsPrimary: true,
	}

	err := db.inTx(ctx, func(tx *sql.Tx) error {
		if _, err := tx.ExecContext(ctx,
			`INSERT INTO user (user_id, created_at, updated_at) VALUES (?, ?, ?)`,
			user.ID, user.CreatedAt, user.UpdatedAt,
		); err != nil {
			return fmt.Errorf("sqlite: inserting user: %w", err)
		}

		if _, err := tx.ExecContext(ctx,
			`INSERT INTO email (email_id, user_id, email, verified, is_primary)
			 VALUES (?, ?, ?, 0, 1)`,
			email.ID, email.UserID, email.Address,
		); err != nil {
			// The unique index is the arbiter: whoever loses the race on
			// the same address sees the constraint failure, not a
			// duplicate row.
			if isUniqueViolation(err, "email.email") {
				return apperror.DuplicateEmail()
			}
			return fmt.Errorf("sqlite: inserting email: %w", err)
		}
		return nil
	})
	if err != nil {
		return nil, nil, err
	}
	return user, email, nil
}

// AddEmail attaches an additional address: non-primary, unverified.
func (db *DB) AddEmail(ctx context.Context, userID, address string) (*model.Email, error) {
	address = normalizeAddress(address)

	email := &model.Email{
		ID:        xid.New().String(),
		UserID:    userID,
		Address:   address,
		Verified:  false,
		IsPrimary: false,
	}

	err := db.inTx(ctx, func(tx *sql.Tx) error {
		if err := userExists(ctx, tx, userID); err != nil {
			return err
		}
		if _, err := tx.ExecContext(ctx,
			`INSERT INTO email (email_id, user_id, email, verified, is_primary)
			 VALUES (?, ?, ?, 0, 0)`,
			email.ID, email.UserID, email.Address,
		); err != nil {
			if isUniqueViolation(err, "email.email") {
				return apperror.DuplicateEmail()
			}
			return fmt.Errorf("sqlite: inserting email: %w", err)
		}
		return nil
	})
	if err != nil {
		return nil, err
	}
	return email, nil
}

// SetPrimaryEmail promotes emailID to primary. Demoting the previous
// primary and promoting the new one happen in the same transaction —
// there is no instant at which a reader can see zero or two primaries.
func (db *DB) SetPrimaryEmail(ctx context.Context, userID, emailID string) error {
	return db.inTx(ctx, func(tx *sql.Tx) error {
		var ownerID string
		var verified bool
		err := tx.QueryRowContext(ctx,
			`SELECT user_id, verified FROM email WHERE email_id = ?`, emailID,
		).Scan(&ownerID, &verified)
		if errors.Is(err, sql.ErrNoRows) {
			return apperror.NotFound("email", emailID)
		}
		if err != nil {
			return fmt.Errorf("sqlite: loading email %s: %w", emailID, err)
		}
		if ownerID != userID {
			return apperror.NotOwned("email", emailID)
		}
		if !verified {
			return apperror.Unverified(emailID)
		}

		if _, err := tx.ExecContext(ctx,
			`UPDATE email SET is_primary = 0 WHERE user_id = ? AND is_primary = 1`, userID,
		); err != nil {
			return fmt.Errorf("sqlite: demoting primary email: %w", err)
		}
		if _, err := tx.ExecContext(ctx,
			`UPDATE email SET is_primary = 1 WHERE email_id = ?`, emailID,
		); err != nil {
			return fmt.Errorf("sqlite: promoting email %s: %w", emailID, err)
		}
		return nil
	})
}

// VerifyEmail marks the email verified. Verifying an already-verified
// email is a no-op; the flag never transitions back to false.
func (db *DB) VerifyEmail(ctx context.Context, emailID string) error {
	res, err := db.conn.ExecContext(ctx,
		`UPDATE email SET verified = 1 WHERE email_id = ?`, emailID,
	)
	if err != nil {
		return fmt.Errorf("sqlite: verifying email %s: %w", emailID, err)
	}
	n, err := res.RowsAffected()
	if err != nil {
		return fmt.Errorf("sqlite: verifying email %s: %w", emailID, err)
	}
	if n == 0 {
		return apperror.NotFound("email", emailID)
	}
	return nil
}

// LinkSocialLogin attaches an external identity to the user.
//
// The resolution order matters:
//
//  1. An existing link for (provider, subject) bound to another user is an
//     IdentityConflict — re-binding would hand the account to whoever
//     completes a handshake with that provider identity.
//  2. An existing link bound to this user is returned unchanged.
//  3. The provider email is resolved to an Email row: the user's own
//     matching address is reused as-is (its verified flag is NOT upgraded
//     on the provider's word — only emails born from a provider assertion
//     are born verified); an address owned by someone else is a conflict;
//     an unseen address becomes a new verified, non-primary email.
//  4. The link row is inserted. A concurrent linker may win the race
//     between step 1 and here; the unique index converts the loser's
//     insert into an IdentityConflict.
func (db *DB) LinkSocialLogin(ctx context.Context, userID string, provider model.Provider, subject, providerEmail string) (*model.SocialLogin, error) {
	providerEmail = normalizeAddress(providerEmail)

	var link *model.SocialLogin
	err := db.inTx(ctx, func(tx *sql.Tx) error {
		if err := userExists(ctx, tx, userID); err != nil {
			return err
		}

		existing := &model.SocialLogin{}
		err := tx.QueryRowContext(ctx,
			`SELECT social_login_id, email_id, user_id, provider, provider_user_id
			 FROM social_login WHERE provider = ? AND provider_user_id = ?`,
			string(provider), subject,
		).Scan(&existing.ID, &existing.EmailID, &existing.UserID, &existing.Provider, &existing.ProviderUserID)
		switch {
		case err == nil:
			if existing.UserID != userID {
				return apperror.IdentityConflict(string(provider))
			}
			link = existing // idempotent relink
			return nil
		case errors.Is(err, sql.ErrNoRows):
			// fall through to create
		default:
			return fmt.Errorf("sqlite: looking up social login: %w", err)
		}

		emailID, err := resolveLinkEmail(ctx, tx, userID, provider, providerEmail)
		if err != nil {
			return err
		}

		link = &model.SocialLogin{
			ID:             xid.New().String(),
			EmailID:        emailID,
			UserID:         userID,
			Provider:       provider,
			ProviderUserID: subject,
		}
		if _, err := tx.ExecContext(ctx,
			`INSERT INTO social_login (social_login_id, email_id, user_id, provider, provider_user_id)
			 VALUES (?, ?, ?, ?, ?)`,
			link.ID, link.EmailID, link.UserID, string(link.Provider), link.ProviderUserID,
		); err != nil {
			if isUniqueViolation(err, "social_login.provider") {
				return apperror.IdentityConflict(string(provider))
			}
			return fmt.Errorf("sqlite: inserting social login: %w", err)
		}
		return nil
	})
	if err != nil {
		return nil, err
	}
	return link, nil
}

// resolveLinkEmail finds or creates the Email row a new social login
// should reference.
func resolveLinkEmail(ctx context.Context, tx *sql.Tx, userID string, provider model.Provider, providerEmail string) (string, error) {
	var emailID, ownerID string
	err := tx.QueryRowContext(ctx,
		`SELECT email_id, user_id FROM email WHERE email = ?`, providerEmail,
	).Scan(&emailID, &ownerID)
	switch {
	case err == nil:
		if ownerID != userID {
			// The provider vouches for an address already claimed by a
			// different account; linking here would bridge two accounts.
			return "", apperror.IdentityConflict(string(provider))
		}
		return emailID, nil
	case errors.Is(err, sql.ErrNoRows):
		// Unseen address: the provider identity vouches for it, so it is
		// born verified, but never primary.
		emailID = xid.New().String()
		if _, err := tx.ExecContext(ctx,
			`INSERT INTO email (email_id, user_id, email, verified, is_primary)
			 VALUES (?, ?, ?, 1, 0)`,
			emailID, userID, providerEmail,
		); err != nil {
			if isUniqueViolation(err, "email.email") {
				return "", apperror.IdentityConflict(string(provider))
			}
			return "", fmt.Errorf("sqlite: inserting provider email: %w", err)
		}
		return emailID, nil
	default:
		return "", fmt.Errorf("sqlite: resolving provider email: %w", err)
	}
}

// FindUserBySocialLogin resolves (provider, subject) to the owning user.
func (db *DB) FindUserBySocialLogin(ctx context.Context, provider model.Provider, subject string) (string, error) {
	var userID string
	err := db.conn.QueryRowContext(ctx,
		`SELECT user_id FROM social_login WHERE provider = ? AND provider_user_id = ?`,
		string(provider), subject,
	).Scan(&userID)
	if errors.Is(err, sql.ErrNoRows) {
		return "", apperror.NotFound("social login", string(provider)+":"+subject)
	}
	if err != nil {
		return "", fmt.Errorf("sqlite: finding user by social login: %w", err)
	}
	return userID, nil
}

// FindUserByEmail resolves an address (case-insensitively) to its owner.
func (db *DB) FindUserByEmail(ctx context.Context, address string) (*model.User, error) {
	address = normalizeAddress(address)

	var u model.User
	var passwordHash sql.NullString
	err := db.conn.QueryRowContext(ctx,
		`SELECT u.user_id, u.password_hash, u.created_at, u.updated_at
		 FROM user u INNER JOIN email e ON e.user_id = u.user_id
		 WHERE e.email = ?`,
		address,
	).Scan(&u.ID, &passwordHash, &u.CreatedAt, &u.UpdatedAt)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, apperror.NotFound("user", "by email")
	}
	if err != nil {
		return nil, fmt.Errorf("sqlite: finding user by email: %w", err)
	}
	u.PasswordHash = passwordHash.String
	return &u, nil
}

// GetUserByID returns the user or ErrNotFound.
func (db *DB) GetUserByID(ctx context.Context, id string) (*model.User, error) {
	var u model.User
	var passwordHash sql.NullString
	err := db.conn.QueryRowContext(ctx,
		`SELECT user_id, password_hash, created_at, updated_at FROM user WHERE user_id = ?`,
		id,
	).Scan(&u.ID, &passwordHash, &u.CreatedAt, &u.UpdatedAt)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, apperror.NotFound("user", id)
	}
	if err != nil {
		return nil, fmt.Errorf("sqlite: getting user %s: %w", id, err)
	}
	u.PasswordHash = passwordHash.String
	return &u, nil
}

// ListEmails returns the user's emails, primary first, then by address.
func (db *DB) ListEmails(ctx context.Context, userID string) ([]model.Email, error) {
	rows, err := db.conn.QueryContext(ctx,
		`SELECT email_id, user_id, email, verified, is_primary
		 FROM email WHERE user_id = ?
		 ORDER BY is_primary DESC, email ASC`,
		userID,
	)
	if err != nil {
		return nil, fmt.Errorf("sqlite: listing emails for %s: %w", userID, err)
	}
	defer rows.Close()

	var emails []model.Email
	for rows.Next() {
		var e model.Email
		if err := rows.Scan(&e.ID, &e.UserID, &e.Address, &e.Verified, &e.IsPrimary); err != nil {
			return nil, fmt.Errorf("sqlite: scanning email: %w", err)
		}
		emails = append(emails, e)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("sqlite: listing emails for %s: %w", userID, err)
	}
	return emails, nil
}

// DeleteUser removes the user row; the foreign keys cascade the rest.
func (db *DB) DeleteUser(ctx context.Context, userID string) error {
	res, err := db.conn.ExecContext(ctx, `DELETE FROM user WHERE user_id = ?`, userID)
	if err != nil {
		return fmt.Errorf("sqlite: deleting user %s: %w", userID, err)
	}
	n, err := res.RowsAffected()
	if err != nil {
		return fmt.Errorf("sqlite: deleting user %s: %w", userID, err)
	}
	if n == 0 {
		return apperror.NotFound("user", userID)
	}
	return nil
}

// userExists guards mutations that reference a user id coming from a
// token or URL rather than a foreign key.
func userExists(ctx context.Context, tx *sql.Tx, userID string) error {
	var one int
	err := tx.QueryRowContext(ctx, `SELECT 1 FROM user WHERE user_id = ?`, userID).Scan(&one)
	if errors.Is(err, sql.ErrNoRows) {
		return apperror.NotFound("user", userID)
	}
	if err != nil {
		return fmt.Errorf("sqlite: checking user %s: %w", userID, err)
	}
	return nil
}
