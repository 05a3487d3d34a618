package service

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/letsyahu/identity/internal/apperror"
	"github.com/letsyahu/identity/internal/auth"
	"github.com/letsyahu/identity/internal/model"
	"github.com/letsyahu/identity/internal/repository"
)

// Gate is the Access Control Gate: the single surface external
// collaborators call to authenticate a request and authorize an action.
// It composes the Identity Graph, Credential Store, Permission Resolver,
// and Token Issuer; nothing outside this package should reach past it.
type Gate struct {
	identity    *IdentityService
	credentials *CredentialService
	permissions *PermissionService
	tokens      *auth.TokenService
	revocations repository.RevocationStore
	logger      *slog.Logger
}

// NewGate wires the Gate from its component services.
func NewGate(
	identity *IdentityService,
	credentials *CredentialService,
	permissions *PermissionService,
	tokens *auth.TokenService,
	revocations repository.RevocationStore,
	logger *slog.Logger,
) *Gate {
	return &Gate{
		identity:    identity,
		credentials: credentials,
		permissions: permissions,
		tokens:      tokens,
		revocations: revocations,
		logger:      logger,
	}
}

// AuthResult bundles the resolved principal with the token issued for it.
type AuthResult struct {
	Principal *model.Principal
	Token     string
}

// RegisterPassword creates a new account anchored to the address and sets
// its password credential, then authenticates it.
//
// The password policy runs before any row is written, so a weak secret
// never leaves a half-registered account behind. Duplicate addresses fail
// with ErrDuplicateEmail — registration is not an authentication path, so
// the uniform-error rule does not apply here.
func (g *Gate) RegisterPassword(ctx context.Context, address, plaintext string) (*AuthResult, error) {
	if err := auth.CheckSecretStrength(plaintext); err != nil {
		return nil, err
	}

	user, _, err := g.identity.CreateUserWithEmail(ctx, address)
	if err != nil {
		return nil, err
	}
	if err := g.credentials.SetCredential(ctx, user.ID, plaintext); err != nil {
		return nil, err
	}

	return g.issueFor(ctx, user.ID)
}

// AuthenticatePassword resolves an address + password into a principal
// and a fresh token.
//
// Every failure mode a caller could use to probe for accounts — unknown
// address, account without a password, wrong password — collapses into
// the same ErrInvalidCredentials. On the unknown-address path a dummy
// hash verification runs first so the timing matches the known-address
// path. Store failures are NOT collapsed: they surface as internal errors.
func (g *Gate) AuthenticatePassword(ctx context.Context, address, plaintext string) (*AuthResult, error) {
	user, err := g.identity.identities.FindUserByEmail(ctx, address)
	if err != nil {
		if errors.Is(err, apperror.ErrNotFound) {
			g.credentials.EqualizeTiming(plaintext)
			return nil, apperror.InvalidCredentials()
		}
		return nil, fmt.Errorf("service/gate: resolving address: %w", err)
	}

	ok, err := g.credentials.VerifyCredential(ctx, user.ID, plaintext)
	if err != nil {
		if errors.Is(err, apperror.ErrNotFound) {
			// Provider-provisioned account with no password set.
			return nil, apperror.InvalidCredentials()
		}
		return nil, fmt.Errorf("service/gate: verifying credential: %w", err)
	}
	if !ok {
		g.logger.Info("password authentication failed", slog.String("userID", user.ID))
		return nil, apperror.InvalidCredentials()
	}

	return g.issueFor(ctx, user.ID)
}

// AuthenticateProvider resolves a verified external identity into a
// principal, auto-provisioning when necessary:
//
//   - a known (provider, subject) authenticates its linked account;
//   - an unknown subject whose address is already claimed links to the
//     claiming account (the provider handshake proves control of the
//     address's external identity, per the original provisioning policy);
//   - an entirely unseen identity provisions a fresh account whose first
//     email is primary and born verified.
func (g *Gate) AuthenticateProvider(ctx context.Context, identity auth.ProviderIdentity) (*AuthResult, error) {
	userID, err := g.identity.FindUserBySocialLogin(ctx, identity.Provider, identity.Subject)
	switch {
	case err == nil:
		// Known identity. Relink is idempotent and keeps the link row
		// consistent if the provider email changed.
	case errors.Is(err, apperror.ErrNotFound):
		userID, err = g.provisionForProvider(ctx, identity)
		if err != nil {
			return nil, err
		}
	default:
		return nil, fmt.Errorf("service/gate: resolving provider identity: %w", err)
	}

	if _, err := g.identity.LinkSocialLogin(ctx, userID, identity); err != nil {
		return nil, err
	}

	return g.issueFor(ctx, userID)
}

// provisionForProvider finds or creates the account a first-time provider
// sign-in should land on.
func (g *Gate) provisionForProvider(ctx context.Context, identity auth.ProviderIdentity) (string, error) {
	existing, err := g.identity.identities.FindUserByEmail(ctx, identity.Email)
	switch {
	case err == nil:
		return existing.ID, nil
	case errors.Is(err, apperror.ErrNotFound):
		// fall through to create
	default:
		return "", fmt.Errorf("service/gate: resolving provider email: %w", err)
	}

	user, email, err := g.identity.CreateUserWithEmail(ctx, identity.Email)
	if err != nil {
		// A concurrent registration may claim the address between the
		// lookup and the insert; re-resolve once rather than failing the
		// sign-in.
		if errors.Is(err, apperror.ErrDuplicateEmail) {
			if existing, lookupErr := g.identity.identities.FindUserByEmail(ctx, identity.Email); lookupErr == nil {
				return existing.ID, nil
			}
		}
		return "", err
	}

	// The provider vouches for the address, so the fresh account's
	// primary email is verified from birth.
	if err := g.identity.VerifyEmail(ctx, email.ID); err != nil {
		return "", err
	}

	g.logger.Info("user auto-provisioned from provider",
		slog.String("userID", user.ID),
		slog.String("provider", string(identity.Provider)),
	)
	return user.ID, nil
}

// Authorize verifies a bearer token and checks the required permission
// against the store as it is now. The token's role snapshot is returned
// on the principal for routing, but the permission decision always comes
// from a fresh resolution — a grant revoked after issuance is gone on the
// next call, expiry notwithstanding.
//
// Pass the empty permission to require authentication only.
func (g *Gate) Authorize(ctx context.Context, token string, required model.Permission) (*model.Principal, error) {
	userID, roles, err := g.tokens.Verify(ctx, token)
	if err != nil {
		return nil, err
	}

	perms, err := g.permissions.EffectivePermissions(ctx, userID)
	if err != nil {
		return nil, err
	}

	principal := &model.Principal{
		UserID:      userID,
		Roles:       roles,
		Permissions: perms,
	}

	if required != "" && !perms.Has(required) {
		g.logger.Info("authorization denied",
			slog.String("userID", userID),
			slog.String("permission", string(required)),
		)
		return nil, apperror.Forbidden(fmt.Sprintf("missing permission %s", required))
	}
	return principal, nil
}

// EffectivePermissions exposes the resolver to collaborators that need
// the whole set (e.g. to render capability-dependent UI) rather than a
// single yes/no.
func (g *Gate) EffectivePermissions(ctx context.Context, userID string) (model.PermissionSet, error) {
	return g.permissions.EffectivePermissions(ctx, userID)
}

// RevokeUserTokens invalidates every token issued to the user at or
// before now ("log out everywhere"). Tokens carry no individual identity,
// so the watermark is the only revocation handle.
func (g *Gate) RevokeUserTokens(ctx context.Context, userID string) error {
	if err := g.revocations.SetUserWatermark(ctx, userID, time.Now()); err != nil {
		return fmt.Errorf("service/gate: revoking user tokens: %w", err)
	}
	g.logger.Info("user tokens revoked", slog.String("userID", userID))
	return nil
}

// RevokeAllTokens invalidates every outstanding token system-wide. The
// emergency lever for a key compromise.
func (g *Gate) RevokeAllTokens(ctx context.Context) error {
	if err := g.revocations.SetGlobalWatermark(ctx, time.Now()); err != nil {
		return fmt.Errorf("service/gate: revoking all tokens: %w", err)
	}
	g.logger.Warn("global token revocation")
	return nil
}

// issueFor resolves the principal for userID and issues a token.
func (g *Gate) issueFor(ctx context.Context, userID string) (*AuthResult, error) {
	roles, err := g.permissions.Roles(ctx, userID)
	if err != nil {
		return nil, err
	}
	perms, err := g.permissions.EffectivePermissions(ctx, userID)
	if err != nil {
		return nil, err
	}

	principal := &model.Principal{
		UserID:      userID,
		Roles:       roles,
		Permissions: perms,
	}

	token, err := g.tokens.Issue(principal)
	if err != nil {
		return nil, fmt.Errorf("service/gate: issuing token: %w", err)
	}

	g.logger.Info("authenticated", slog.String("userID", userID))
	return &AuthResult{Principal: principal, Token: token}, nil
}
