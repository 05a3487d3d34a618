package handler

import (
	"log/slog"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/rs/xid"

	"github.com/letsyahu/identity/internal/auth"
	"github.com/letsyahu/identity/internal/model"
	"github.com/letsyahu/identity/internal/service"
)

// AuthHandler serves registration, password login, the external-provider
// flow, logout, and the current-principal endpoint.
type AuthHandler struct {
	gate      *service.Gate
	identity  *service.IdentityService
	providers map[model.Provider]auth.ProviderVerifier
	logger    *slog.Logger
}

// NewAuthHandler creates an AuthHandler. providers may be empty when no
// external provider is configured; the provider routes then 404.
func NewAuthHandler(
	gate *service.Gate,
	identity *service.IdentityService,
	providers []auth.ProviderVerifier,
	logger *slog.Logger,
) *AuthHandler {
	byName := make(map[model.Provider]auth.ProviderVerifier, len(providers))
	for _, p := range providers {
		byName[p.Provider()] = p
	}
	return &AuthHandler{
		gate:      gate,
		identity:  identity,
		providers: byName,
		logger:    logger,
	}
}

type registerRequest struct {
	Email    string `json:"email"`
	Password string `json:"password"`
}

type loginRequest struct {
	Email    string `json:"email"`
	Password string `json:"password"`
}

// authResponse is the body of every successful authentication.
type authResponse struct {
	UserID string       `json:"userId"`
	Roles  []model.Role `json:"roles"`
	Token  string       `json:"token"`
}

// HandleRegister creates an account from an address and password.
//
// HTTP: POST /api/auth/register
func (h *AuthHandler) HandleRegister(w http.ResponseWriter, r *http.Request) {
	var req registerRequest
	if err := decodeJSON(r, &req); err != nil {
		writeError(w, err)
		return
	}

	result, err := h.gate.RegisterPassword(r.Context(), req.Email, req.Password)
	if err != nil {
		writeError(w, err)
		return
	}

	h.setTokenCookie(w, result.Token)
	writeJSON(w, http.StatusCreated, authResponse{
		UserID: result.Principal.UserID,
		Roles:  result.Principal.Roles,
		Token:  result.Token,
	})
}

// HandleLogin authenticates an address + password.
//
// HTTP: POST /api/auth/login
//
// The response for a bad address and a bad password is identical — the
// Gate already collapsed them, the handler just passes it through.
func (h *AuthHandler) HandleLogin(w http.ResponseWriter, r *http.Request) {
	var req loginRequest
	if err := decodeJSON(r, &req); err != nil {
		writeError(w, err)
		return
	}

	result, err := h.gate.AuthenticatePassword(r.Context(), req.Email, req.Password)
	if err != nil {
		writeError(w, err)
		return
	}

	h.setTokenCookie(w, result.Token)
	writeJSON(w, http.StatusOK, authResponse{
		UserID: result.Principal.UserID,
		Roles:  result.Principal.Roles,
		Token:  result.Token,
	})
}

// HandleProviderLogin starts the external-provider flow: stores a CSRF
// state nonce in a cookie and redirects to the provider.
//
// HTTP: GET /auth/{provider}/login
func (h *AuthHandler) HandleProviderLogin(w http.ResponseWriter, r *http.Request) {
	verifier, ok := h.providers[model.Provider(chi.URLParam(r, "provider"))]
	if !ok {
		http.NotFound(w, r)
		return
	}

	state := xid.New().String()
	http.SetCookie(w, &http.Cookie{
		Name:     "oauth_state",
		Value:    state,
		Path:     "/",
		MaxAge:   600,
		HttpOnly: true,
		SameSite: http.SameSiteLaxMode,
	})

	http.Redirect(w, r, verifier.AuthURL(state), http.StatusTemporaryRedirect)
}

// HandleProviderCallback completes the external-provider flow: checks the
// CSRF state, exchanges the code for a verified identity, and hands it to
// the Gate, which signs the user in (provisioning an account on first
// contact).
//
// HTTP: GET /auth/{provider}/callback?code=...&state=...
func (h *AuthHandler) HandleProviderCallback(w http.ResponseWriter, r *http.Request) {
	verifier, ok := h.providers[model.Provider(chi.URLParam(r, "provider"))]
	if !ok {
		http.NotFound(w, r)
		return
	}

	stateCookie, err := r.Cookie("oauth_state")
	if err != nil || stateCookie.Value == "" || r.URL.Query().Get("state") != stateCookie.Value {
		h.logger.Warn("provider callback: state mismatch",
			slog.String("provider", string(verifier.Provider())),
		)
		writeJSON(w, http.StatusBadRequest, ErrorResponse{Error: "invalid_state", Message: "invalid OAuth state"})
		return
	}
	// Single use.
	http.SetCookie(w, &http.Cookie{Name: "oauth_state", Value: "", Path: "/", MaxAge: -1})

	code := r.URL.Query().Get("code")
	if code == "" {
		writeJSON(w, http.StatusBadRequest, ErrorResponse{Error: "missing_code", Message: "missing OAuth code"})
		return
	}

	identity, err := verifier.Exchange(r.Context(), code)
	if err != nil {
		writeError(w, err)
		return
	}

	result, err := h.gate.AuthenticateProvider(r.Context(), *identity)
	if err != nil {
		writeError(w, err)
		return
	}

	h.setTokenCookie(w, result.Token)
	writeJSON(w, http.StatusOK, authResponse{
		UserID: result.Principal.UserID,
		Roles:  result.Principal.Roles,
		Token:  result.Token,
	})
}

// HandleLogout clears the token cookie. The token itself stays valid
// until expiry — use HandleLogoutAll to invalidate outstanding tokens.
//
// HTTP: POST /api/auth/logout
func (h *AuthHandler) HandleLogout(w http.ResponseWriter, r *http.Request) {
	h.clearTokenCookie(w)
	w.WriteHeader(http.StatusNoContent)
}

// HandleLogoutAll moves the caller's revocation watermark to now: every
// token issued up to this instant stops verifying.
//
// HTTP: POST /api/auth/logout-all  (authenticated)
func (h *AuthHandler) HandleLogoutAll(w http.ResponseWriter, r *http.Request) {
	principal, ok := auth.PrincipalFromContext(r.Context())
	if !ok {
		writeJSON(w, http.StatusUnauthorized, ErrorResponse{Error: "unauthorized", Message: "authentication required"})
		return
	}

	if err := h.gate.RevokeUserTokens(r.Context(), principal.UserID); err != nil {
		writeError(w, err)
		return
	}
	h.clearTokenCookie(w)
	w.WriteHeader(http.StatusNoContent)
}

// HandleMe returns the caller's resolved identity: user id, roles, the
// effective permission set, and emails.
//
// HTTP: GET /api/me  (authenticated)
func (h *AuthHandler) HandleMe(w http.ResponseWriter, r *http.Request) {
	principal, ok := auth.PrincipalFromContext(r.Context())
	if !ok {
		writeJSON(w, http.StatusUnauthorized, ErrorResponse{Error: "unauthorized", Message: "authentication required"})
		return
	}

	emails, err := h.identity.ListEmails(r.Context(), principal.UserID)
	if err != nil {
		writeError(w, err)
		return
	}

	writeJSON(w, http.StatusOK, map[string]any{
		"userId":      principal.UserID,
		"roles":       principal.Roles,
		"permissions": principal.Permissions.Slice(),
		"emails":      emails,
	})
}

func (h *AuthHandler) setTokenCookie(w http.ResponseWriter, token string) {
	http.SetCookie(w, &http.Cookie{
		Name:     auth.TokenCookieName,
		Value:    token,
		Path:     "/",
		Expires:  time.Now().Add(time.Hour),
		HttpOnly: true,
		SameSite: http.SameSiteLaxMode,
	})
}

func (h *AuthHandler) clearTokenCookie(w http.ResponseWriter) {
	http.SetCookie(w, &http.Cookie{
		Name:     auth.TokenCookieName,
		Value:    "",
		Path:     "/",
		MaxAge:   -1,
		HttpOnly: true,
		SameSite: http.SameSiteLaxMode,
	})
}
