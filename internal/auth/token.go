package auth

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/golang-jwt/jwt/v5"

	"github.com/letsyahu/identity/internal/apperror"
	"github.com/letsyahu/identity/internal/model"
)

// tokenIssuer is the "iss" claim stamped on every token and required back
// on verification, so tokens minted by other deployments never validate.
const tokenIssuer = "letsyahu-identity"

// defaultTokenTTL is the access-token lifetime.
const defaultTokenTTL = time.Hour

// RevocationChecker answers the watermark question during verification:
// before what instant are this user's tokens invalid? Implemented by the
// sqlite revocation store; the zero time means "never revoked".
type RevocationChecker interface {
	Watermark(ctx context.Context, userID string) (time.Time, error)
}

// TokenService mints and verifies signed, time-bounded access tokens.
//
// Tokens are stateless HS256 JWTs. They carry the user id and a snapshot of
// role names — never permissions. Permissions are re-resolved from the store
// on every authorization check; baking them into the token would let a
// revoked grant keep working until expiry. The role snapshot is for routing
// decisions only.
//
// Individual tokens cannot be revoked. Revocation is a watermark: all tokens
// issued at or before time T for a user (or globally) are invalid. Coarse,
// but it keeps verification a pure signature check plus one bounded lookup.
type TokenService struct {
	secret      []byte
	ttl         time.Duration
	revocations RevocationChecker
}

// Claims is the JWT payload: registered claims plus the role snapshot.
type Claims struct {
	Roles []model.Role `json:"roles,omitempty"`
	jwt.RegisteredClaims
}

// NewTokenService creates a TokenService with the given HMAC secret.
// The secret should be at least 32 bytes of random data in production;
// anything under 16 is refused outright.
func NewTokenService(secret string, revocations RevocationChecker) (*TokenService, error) {
	if len(secret) < 16 {
		return nil, errors.New("auth: token secret must be at least 16 characters")
	}
	if revocations == nil {
		return nil, errors.New("auth: revocation checker must not be nil")
	}
	return &TokenService{
		secret:      []byte(secret),
		ttl:         defaultTokenTTL,
		revocations: revocations,
	}, nil
}

// Issue signs a new access token for the principal with the default TTL.
func (s *TokenService) Issue(principal *model.Principal) (string, error) {
	return s.IssueWithDuration(principal, s.ttl)
}

// IssueWithDuration signs a token with a custom lifetime. Used by tests to
// mint already-expired tokens and by callers issuing long-lived tokens.
func (s *TokenService) IssueWithDuration(principal *model.Principal, d time.Duration) (string, error) {
	now := time.Now()

	c := Claims{
		Roles: principal.Roles,
		RegisteredClaims: jwt.RegisteredClaims{
			Subject:   principal.UserID,
			Issuer:    tokenIssuer,
			IssuedAt:  jwt.NewNumericDate(now),
			ExpiresAt: jwt.NewNumericDate(now.Add(d)),
		},
	}

	token := jwt.NewWithClaims(jwt.SigningMethodHS256, c)
	signed, err := token.SignedString(s.secret)
	if err != nil {
		return "", fmt.Errorf("auth: signing token: %w", err)
	}
	return signed, nil
}

// Verify checks the token's signature, structure, expiry, and revocation
// watermark, in that order. On success it returns the embedded user id and
// role snapshot.
//
// Error taxonomy: ErrExpired past expiry, ErrMalformed for any signature or
// structural problem (including tokens signed with the wrong method — the
// WithValidMethods option closes the algorithm-confusion hole), ErrRevoked
// when the issued-at instant does not postdate the recorded watermark.
func (s *TokenService) Verify(ctx context.Context, tokenStr string) (string, []model.Role, error) {
	token, err := jwt.ParseWithClaims(
		tokenStr,
		&Claims{},
		func(token *jwt.Token) (any, error) {
			if _, ok := token.Method.(*jwt.SigningMethodHMAC); !ok {
				return nil, fmt.Errorf("auth: unexpected signing method: %v", token.Header["alg"])
			}
			return s.secret, nil
		},
		jwt.WithValidMethods([]string{"HS256"}),
		jwt.WithIssuer(tokenIssuer),
		jwt.WithExpirationRequired(),
		jwt.WithIssuedAt(),
	)
	if err != nil {
		if errors.Is(err, jwt.ErrTokenExpired) {
			return "", nil, apperror.Expired()
		}
		return "", nil, apperror.Malformed()
	}

	c, ok := token.Claims.(*Claims)
	if !ok || !token.Valid || c.Subject == "" || c.IssuedAt == nil {
		return "", nil, apperror.Malformed()
	}

	watermark, err := s.revocations.Watermark(ctx, c.Subject)
	if err != nil {
		return "", nil, fmt.Errorf("auth: checking revocation watermark: %w", err)
	}
	// Inclusive comparison: a watermark set to exactly the issue instant
	// invalidates the token.
	if !watermark.IsZero() && !c.IssuedAt.Time.After(watermark) {
		return "", nil, apperror.Revoked()
	}

	return c.Subject, c.Roles, nil
}
