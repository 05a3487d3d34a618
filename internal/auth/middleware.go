package auth

import (
	"context"
	"errors"
	"net/http"
	"strings"

	"github.com/letsyahu/identity/internal/apperror"
	"github.com/letsyahu/identity/internal/model"
)

// contextKey is an unexported type for context keys in this package. A
// package-private key type means only this package can read or write the
// principal in a request context — no collisions with other packages.
type contextKey string

const principalKey contextKey = "principal"

// TokenCookieName is the HttpOnly cookie the HTTP layer stores tokens in.
// Bearer headers are accepted too; API clients tend to prefer them.
const TokenCookieName = "token"

// Authorizer authenticates a bearer token and checks a permission against
// the current store state. Implemented by service.Gate; declared here so
// the middleware doesn't import the service package.
type Authorizer interface {
	Authorize(ctx context.Context, token string, required model.Permission) (*model.Principal, error)
}

// RequireAuth guards a route: the request must carry a verifiable token.
// The resolved principal is stored in the request context for handlers.
// No specific permission is required — pass one with RequirePermission
// where the route needs more than "logged in".
func RequireAuth(gate Authorizer) func(http.Handler) http.Handler {
	return RequirePermission(gate, "")
}

// RequirePermission guards a route behind a permission. The token is
// verified and the permission re-resolved from the store on every request;
// nothing is trusted from the token beyond identity and role snapshot.
//
// Missing or invalid tokens get 401; a valid token without the permission
// gets 403.
func RequirePermission(gate Authorizer, required model.Permission) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			token, ok := extractToken(r)
			if !ok {
				writeAuthError(w, http.StatusUnauthorized, "unauthorized", "valid authentication required")
				return
			}

			principal, err := gate.Authorize(r.Context(), token, required)
			if err != nil {
				if errors.Is(err, apperror.ErrForbidden) {
					writeAuthError(w, http.StatusForbidden, "forbidden", "permission denied")
					return
				}
				writeAuthError(w, http.StatusUnauthorized, "unauthorized", "valid authentication required")
				return
			}

			ctx := context.WithValue(r.Context(), principalKey, principal)
			next.ServeHTTP(w, r.WithContext(ctx))
		})
	}
}

// PrincipalFromContext retrieves the authenticated principal placed in the
// context by RequireAuth/RequirePermission. Returns (nil, false) when the
// request did not pass through an auth middleware.
func PrincipalFromContext(ctx context.Context) (*model.Principal, bool) {
	p, ok := ctx.Value(principalKey).(*model.Principal)
	return p, ok && p != nil
}

// extractToken reads the access token from the Authorization header
// (preferred) or the token cookie.
func extractToken(r *http.Request) (string, bool) {
	if h := r.Header.Get("Authorization"); h != "" {
		if token, found := strings.CutPrefix(h, "Bearer "); found && token != "" {
			return token, true
		}
		return "", false
	}
	if cookie, err := r.Cookie(TokenCookieName); err == nil && cookie.Value != "" {
		return cookie.Value, true
	}
	return "", false
}

func writeAuthError(w http.ResponseWriter, status int, code, message string) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	w.Write([]byte(`{"error":"` + code + `","message":"` + message + `"}`))
}
