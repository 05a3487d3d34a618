package handler

import (
	"log/slog"
	"net/http"

	"github.com/go-chi/chi/v5"

	"github.com/letsyahu/identity/internal/auth"
	"github.com/letsyahu/identity/internal/model"
	"github.com/letsyahu/identity/internal/service"
)

// IdentityHandler serves the identity-mutation endpoints: emails,
// permission grants, and account deletion. All routes require
// authentication; the grant/revoke routes additionally require the
// user.manage permission (enforced by the router middleware).
type IdentityHandler struct {
	identity    *service.IdentityService
	permissions *service.PermissionService
	logger      *slog.Logger
}

// NewIdentityHandler creates an IdentityHandler.
func NewIdentityHandler(
	identity *service.IdentityService,
	permissions *service.PermissionService,
	logger *slog.Logger,
) *IdentityHandler {
	return &IdentityHandler{
		identity:    identity,
		permissions: permissions,
		logger:      logger,
	}
}

type addEmailRequest struct {
	Email string `json:"email"`
}

// HandleAddEmail attaches a new address to the caller's account.
//
// HTTP: POST /api/emails
func (h *IdentityHandler) HandleAddEmail(w http.ResponseWriter, r *http.Request) {
	principal, ok := auth.PrincipalFromContext(r.Context())
	if !ok {
		writeJSON(w, http.StatusUnauthorized, ErrorResponse{Error: "unauthorized", Message: "authentication required"})
		return
	}

	var req addEmailRequest
	if err := decodeJSON(r, &req); err != nil {
		writeError(w, err)
		return
	}

	email, err := h.identity.AddEmail(r.Context(), principal.UserID, req.Email)
	if err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusCreated, email)
}

// HandleVerifyEmail records a verification proof for an address. The
// proof itself (emailed link, OTP) is validated by the delivery system
// before this endpoint is reached; the core only records the outcome.
//
// HTTP: POST /api/emails/{id}/verify
func (h *IdentityHandler) HandleVerifyEmail(w http.ResponseWriter, r *http.Request) {
	if err := h.identity.VerifyEmail(r.Context(), chi.URLParam(r, "id")); err != nil {
		writeError(w, err)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

// HandleSetPrimary promotes one of the caller's verified emails to
// primary.
//
// HTTP: POST /api/emails/{id}/primary
func (h *IdentityHandler) HandleSetPrimary(w http.ResponseWriter, r *http.Request) {
	principal, ok := auth.PrincipalFromContext(r.Context())
	if !ok {
		writeJSON(w, http.StatusUnauthorized, ErrorResponse{Error: "unauthorized", Message: "authentication required"})
		return
	}

	if err := h.identity.SetPrimary(r.Context(), principal.UserID, chi.URLParam(r, "id")); err != nil {
		writeError(w, err)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

// HandleDeleteAccount removes the caller's account and everything it
// owns.
//
// HTTP: DELETE /api/me
func (h *IdentityHandler) HandleDeleteAccount(w http.ResponseWriter, r *http.Request) {
	principal, ok := auth.PrincipalFromContext(r.Context())
	if !ok {
		writeJSON(w, http.StatusUnauthorized, ErrorResponse{Error: "unauthorized", Message: "authentication required"})
		return
	}

	if err := h.identity.DeleteUser(r.Context(), principal.UserID); err != nil {
		writeError(w, err)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

type grantRequest struct {
	Permission string `json:"permission"`
}

// HandleGrant gives a user a direct permission grant, recording the
// caller as granter.
//
// HTTP: POST /api/users/{id}/permissions  (requires user.manage)
func (h *IdentityHandler) HandleGrant(w http.ResponseWriter, r *http.Request) {
	principal, ok := auth.PrincipalFromContext(r.Context())
	if !ok {
		writeJSON(w, http.StatusUnauthorized, ErrorResponse{Error: "unauthorized", Message: "authentication required"})
		return
	}

	var req grantRequest
	if err := decodeJSON(r, &req); err != nil {
		writeError(w, err)
		return
	}

	err := h.permissions.GrantDirect(r.Context(),
		chi.URLParam(r, "id"), model.Permission(req.Permission), principal.UserID)
	if err != nil {
		writeError(w, err)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

// HandleRevoke removes a user's direct grant. If the user also holds a
// role mapping to the permission, they keep it through the role.
//
// HTTP: DELETE /api/users/{id}/permissions/{permission}  (requires user.manage)
func (h *IdentityHandler) HandleRevoke(w http.ResponseWriter, r *http.Request) {
	err := h.permissions.RevokeDirect(r.Context(),
		chi.URLParam(r, "id"), model.Permission(chi.URLParam(r, "permission")))
	if err != nil {
		writeError(w, err)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

// HandleListPermissions returns a user's effective permission set.
//
// HTTP: GET /api/users/{id}/permissions  (requires user.view)
func (h *IdentityHandler) HandleListPermissions(w http.ResponseWriter, r *http.Request) {
	set, err := h.permissions.EffectivePermissions(r.Context(), chi.URLParam(r, "id"))
	if err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"permissions": set.Slice()})
}
