package sqlite

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"

	"github.com/letsyahu/identity/internal/apperror"
	"github.com/letsyahu/identity/internal/repository"
)

var (
	_ repository.CredentialStore = (*DB)(nil)
	_ repository.RevocationStore = (*DB)(nil)
)

// globalWatermarkKey is the revocation row covering every user. A real
// user id can never collide with it — xid strings are 20 chars of base32.
const globalWatermarkKey = "*"

// SetPasswordHash replaces the stored credential. A single UPDATE is
// atomic; there is no window where the row holds neither the old nor the
// new hash.
func (db *DB) SetPasswordHash(ctx context.Context, userID, encodedHash string) error {
	res, err := db.conn.ExecContext(ctx,
		`UPDATE user SET password_hash = ?, updated_at = ? WHERE user_id = ?`,
		encodedHash, time.Now().UTC(), userID,
	)
	if err != nil {
		return fmt.Errorf("sqlite: setting password hash for %s: %w", userID, err)
	}
	n, err := res.RowsAffected()
	if err != nil {
		return fmt.Errorf("sqlite: setting password hash for %s: %w", userID, err)
	}
	if n == 0 {
		return apperror.NotFound("user", userID)
	}
	return nil
}

// PasswordHash returns the stored hash. ErrNotFound covers both an
// unknown user and a user who never set a password — the caller cannot
// tell the two apart, and must not be able to.
func (db *DB) PasswordHash(ctx context.Context, userID string) (string, error) {
	var hash sql.NullString
	err := db.conn.QueryRowContext(ctx,
		`SELECT password_hash FROM user WHERE user_id = ?`, userID,
	).Scan(&hash)
	if errors.Is(err, sql.ErrNoRows) {
		return "", apperror.NotFound("credential", userID)
	}
	if err != nil {
		return "", fmt.Errorf("sqlite: loading password hash for %s: %w", userID, err)
	}
	if !hash.Valid || hash.String == "" {
		return "", apperror.NotFound("credential", userID)
	}
	return hash.String, nil
}

// Watermark returns the later of the user's watermark and the global one.
// The zero time means no revocation applies.
func (db *DB) Watermark(ctx context.Context, userID string) (time.Time, error) {
	rows, err := db.conn.QueryContext(ctx,
		`SELECT revoked_before FROM revocation WHERE user_id IN (?, ?)`,
		userID, globalWatermarkKey,
	)
	if err != nil {
		return time.Time{}, fmt.Errorf("sqlite: loading revocation watermark: %w", err)
	}
	defer rows.Close()

	var watermark time.Time
	for rows.Next() {
		var t time.Time
		if err := rows.Scan(&t); err != nil {
			return time.Time{}, fmt.Errorf("sqlite: scanning watermark: %w", err)
		}
		if t.After(watermark) {
			watermark = t
		}
	}
	if err := rows.Err(); err != nil {
		return time.Time{}, fmt.Errorf("sqlite: loading revocation watermark: %w", err)
	}
	return watermark, nil
}

// SetUserWatermark invalidates all of the user's tokens issued at or
// before at. Watermarks only move forward — an upsert with an earlier
// instant keeps the later one.
func (db *DB) SetUserWatermark(ctx context.Context, userID string, at time.Time) error {
	return db.setWatermark(ctx, userID, at)
}

// SetGlobalWatermark invalidates all tokens for all users issued at or
// before at.
func (db *DB) SetGlobalWatermark(ctx context.Context, at time.Time) error {
	return db.setWatermark(ctx, globalWatermarkKey, at)
}

func (db *DB) setWatermark(ctx context.Context, key string, at time.Time) error {
	_, err := db.conn.ExecContext(ctx,
		`INSERT INTO revocation (user_id, revoked_before) VALUES (?, ?)
		 ON CONFLICT (user_id) DO UPDATE SET revoked_before = excluded.revoked_before
		 WHERE excluded.revoked_before > revocation.revoked_before`,
		key, at.UTC(),
	)
	if err != nil {
		return fmt.Errorf("sqlite: setting revocation watermark: %w", err)
	}
	return nil
}
