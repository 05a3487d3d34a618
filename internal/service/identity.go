// Package service holds the business logic of the identity core, one
// component per file:
//
//	identity.go   — the Identity Graph (users, emails, social logins)
//	credential.go — the Credential Store (password secrets)
//	permission.go — the Permission Resolver (effective permission sets)
//	gate.go       — the Access Control Gate (the only external surface)
//
// Services sit between the HTTP handlers and the repository interfaces.
// They validate input, enforce the rules the schema can't, and log; the
// stores own transactions and constraints.
package service

import (
	"context"
	"fmt"
	"log/slog"
	"strings"

	"github.com/letsyahu/identity/internal/apperror"
	"github.com/letsyahu/identity/internal/auth"
	"github.com/letsyahu/identity/internal/model"
	"github.com/letsyahu/identity/internal/repository"
)

// IdentityService is the Identity Graph: every mutation of users, emails,
// and social logins goes through it.
type IdentityService struct {
	identities repository.IdentityStore
	logger     *slog.Logger
}

// NewIdentityService creates an IdentityService.
func NewIdentityService(identities repository.IdentityStore, logger *slog.Logger) *IdentityService {
	return &IdentityService{identities: identities, logger: logger}
}

// validateAddress applies the minimal structural check before an address
// reaches the store. Deliverability is not this core's problem; shape is.
func validateAddress(address string) error {
	address = strings.TrimSpace(address)
	at := strings.Index(address, "@")
	if at < 1 || at == len(address)-1 || strings.ContainsAny(address, " \t\n") {
		return apperror.ValidationFailed("email", "invalid email address")
	}
	return nil
}

// CreateUserWithEmail registers a new user anchored to an address. The
// address starts unverified and primary (the first email is always the
// primary one). Fails with ErrDuplicateEmail when the address is claimed
// anywhere in the system, regardless of case.
func (s *IdentityService) CreateUserWithEmail(ctx context.Context, address string) (*model.User, *model.Email, error) {
	if err := validateAddress(address); err != nil {
		return nil, nil, err
	}

	user, email, err := s.identities.CreateUserWithEmail(ctx, address)
	if err != nil {
		return nil, nil, fmt.Errorf("service/identity: creating user: %w", err)
	}

	s.logger.Info("user created",
		slog.String("userID", user.ID),
		slog.String("emailID", email.ID),
	)
	return user, email, nil
}

// AddEmail attaches an additional address to the user: unverified and
// non-primary until explicitly verified and promoted.
func (s *IdentityService) AddEmail(ctx context.Context, userID, address string) (*model.Email, error) {
	if err := validateAddress(address); err != nil {
		return nil, err
	}

	email, err := s.identities.AddEmail(ctx, userID, address)
	if err != nil {
		return nil, fmt.Errorf("service/identity: adding email for %s: %w", userID, err)
	}

	s.logger.Info("email added",
		slog.String("userID", userID),
		slog.String("emailID", email.ID),
	)
	return email, nil
}

// SetPrimary promotes one of the user's verified emails to primary. The
// previous primary is demoted in the same atomic update, so exactly one
// email per user carries the flag at all times.
func (s *IdentityService) SetPrimary(ctx context.Context, userID, emailID string) error {
	if err := s.identities.SetPrimaryEmail(ctx, userID, emailID); err != nil {
		return fmt.Errorf("service/identity: setting primary email: %w", err)
	}
	s.logger.Info("primary email changed",
		slog.String("userID", userID),
		slog.String("emailID", emailID),
	)
	return nil
}

// VerifyEmail records a verification proof for the address. Idempotent.
// The caller is responsible for having validated the proof; this core
// only records the outcome.
func (s *IdentityService) VerifyEmail(ctx context.Context, emailID string) error {
	if err := s.identities.VerifyEmail(ctx, emailID); err != nil {
		return fmt.Errorf("service/identity: verifying email %s: %w", emailID, err)
	}
	s.logger.Info("email verified", slog.String("emailID", emailID))
	return nil
}

// LinkSocialLogin binds a verified external identity to the user. Linking
// the same (provider, subject) twice from the same account returns the
// existing link; from another account it fails with ErrIdentityConflict.
func (s *IdentityService) LinkSocialLogin(ctx context.Context, userID string, identity auth.ProviderIdentity) (*model.SocialLogin, error) {
	if !identity.Provider.Valid() {
		return nil, apperror.ValidationFailed("provider", "unknown provider")
	}
	if identity.Subject == "" {
		return nil, apperror.ValidationFailed("provider_subject", "missing provider subject")
	}
	if err := validateAddress(identity.Email); err != nil {
		return nil, err
	}

	link, err := s.identities.LinkSocialLogin(ctx, userID, identity.Provider, identity.Subject, identity.Email)
	if err != nil {
		return nil, fmt.Errorf("service/identity: linking %s identity: %w", identity.Provider, err)
	}

	s.logger.Info("social login linked",
		slog.String("userID", userID),
		slog.String("provider", string(identity.Provider)),
		slog.String("socialLoginID", link.ID),
	)
	return link, nil
}

// FindUserBySocialLogin resolves an external identity to a user id, or
// ErrNotFound when the identity has never been linked.
func (s *IdentityService) FindUserBySocialLogin(ctx context.Context, provider model.Provider, subject string) (string, error) {
	userID, err := s.identities.FindUserBySocialLogin(ctx, provider, subject)
	if err != nil {
		return "", fmt.Errorf("service/identity: finding user by %s login: %w", provider, err)
	}
	return userID, nil
}

// ListEmails returns the user's emails, primary first.
func (s *IdentityService) ListEmails(ctx context.Context, userID string) ([]model.Email, error) {
	emails, err := s.identities.ListEmails(ctx, userID)
	if err != nil {
		return nil, fmt.Errorf("service/identity: listing emails: %w", err)
	}
	return emails, nil
}

// DeleteUser removes the account and everything it owns: emails, social
// logins, role memberships, and direct grants. Grants this user issued to
// others survive with the granter reference nulled.
func (s *IdentityService) DeleteUser(ctx context.Context, userID string) error {
	if err := s.identities.DeleteUser(ctx, userID); err != nil {
		return fmt.Errorf("service/identity: deleting user %s: %w", userID, err)
	}
	s.logger.Info("user deleted", slog.String("userID", userID))
	return nil
}
