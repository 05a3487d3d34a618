package service

import (
	"context"
	"fmt"
	"log/slog"

	"github.com/letsyahu/identity/internal/auth"
	"github.com/letsyahu/identity/internal/repository"
)

// CredentialService is the Credential Store: it owns password secrets.
// Plaintext passwords enter here, are hashed, and never leave — they are
// not stored, not logged, not echoed in errors.
type CredentialService struct {
	credentials repository.CredentialStore
	hasher      *auth.PasswordHasher
	logger      *slog.Logger
}

// NewCredentialService creates a CredentialService.
func NewCredentialService(credentials repository.CredentialStore, hasher *auth.PasswordHasher, logger *slog.Logger) *CredentialService {
	return &CredentialService{
		credentials: credentials,
		hasher:      hasher,
		logger:      logger,
	}
}

// SetCredential derives a fresh hash (new random salt every time) and
// replaces any prior credential atomically. Fails with ErrWeakSecret when
// the plaintext fails the minimum-entropy policy.
func (s *CredentialService) SetCredential(ctx context.Context, userID, plaintext string) error {
	encoded, err := s.hasher.Hash(plaintext)
	if err != nil {
		return fmt.Errorf("service/credential: hashing password: %w", err)
	}
	if err := s.credentials.SetPasswordHash(ctx, userID, encoded); err != nil {
		return fmt.Errorf("service/credential: storing credential: %w", err)
	}
	s.logger.Info("credential set", slog.String("userID", userID))
	return nil
}

// VerifyCredential checks the plaintext against the stored hash in
// constant time. A wrong password is (false, nil); ErrNotFound means no
// credential exists for the user at all — the Gate decides whether that
// distinction is ever visible externally (by default it is not).
//
// On a successful match, if the stored hash was derived with stale cost
// parameters, it is rehashed at the current cost and stored. The upgrade
// is invisible to the caller; a storage failure during it is logged and
// swallowed — the verification already succeeded.
func (s *CredentialService) VerifyCredential(ctx context.Context, userID, plaintext string) (bool, error) {
	stored, err := s.credentials.PasswordHash(ctx, userID)
	if err != nil {
		return false, fmt.Errorf("service/credential: loading credential: %w", err)
	}

	ok, err := s.hasher.Verify(stored, plaintext)
	if err != nil {
		return false, fmt.Errorf("service/credential: verifying credential: %w", err)
	}
	if !ok {
		return false, nil
	}

	if s.hasher.NeedsRehash(stored) {
		upgraded, err := s.hasher.Hash(plaintext)
		if err == nil {
			err = s.credentials.SetPasswordHash(ctx, userID, upgraded)
		}
		if err != nil {
			s.logger.Warn("opportunistic rehash failed",
				slog.String("userID", userID),
				slog.String("error", err.Error()),
			)
		} else {
			s.logger.Info("credential rehashed", slog.String("userID", userID))
		}
	}

	return true, nil
}

// EqualizeTiming burns the cost of one argon2id verification against a
// dummy hash. The Gate calls it on the "no such account" path so the
// response time matches the "wrong password" path.
func (s *CredentialService) EqualizeTiming(plaintext string) {
	_, _ = s.hasher.Verify(auth.DummyHash, plaintext)
}
