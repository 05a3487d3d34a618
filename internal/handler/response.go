// Package handler is the HTTP adapter over the identity core. Handlers
// decode requests, call the Gate and services, and encode results; no
// business rule lives here. The transport is deliberately thin so the
// core stays callable from any surface.
package handler

import (
	"encoding/json"
	"errors"
	"log/slog"
	"net/http"

	"github.com/letsyahu/identity/internal/apperror"
)

// ErrorResponse is the uniform error shape of every endpoint: a
// machine-readable code plus a human-readable message.
type ErrorResponse struct {
	Error   string `json:"error"`
	Message string `json:"message"`
	Field   string `json:"field,omitempty"`
}

func writeJSON(w http.ResponseWriter, status int, data any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if data != nil {
		if err := json.NewEncoder(w).Encode(data); err != nil {
			slog.Error("failed to encode JSON response", slog.String("error", err.Error()))
		}
	}
}

// writeError maps the error taxonomy to HTTP statuses in one place. The
// default branch deliberately hides the message: anything outside the
// taxonomy is an internal failure whose details stay in the logs.
func writeError(w http.ResponseWriter, err error) {
	var appErr *apperror.AppError
	message := "internal server error"
	if errors.As(err, &appErr) {
		message = appErr.Message
	}

	var field string
	if appErr != nil {
		field = appErr.Field
	}

	switch {
	case errors.Is(err, apperror.ErrValidation):
		writeJSON(w, http.StatusUnprocessableEntity, ErrorResponse{Error: "validation_failed", Message: message, Field: field})
	case errors.Is(err, apperror.ErrWeakSecret):
		writeJSON(w, http.StatusUnprocessableEntity, ErrorResponse{Error: "weak_secret", Message: message, Field: field})
	case errors.Is(err, apperror.ErrDuplicateEmail):
		writeJSON(w, http.StatusConflict, ErrorResponse{Error: "duplicate_email", Message: message, Field: field})
	case errors.Is(err, apperror.ErrIdentityConflict):
		writeJSON(w, http.StatusConflict, ErrorResponse{Error: "identity_conflict", Message: message})
	case errors.Is(err, apperror.ErrNotOwned):
		writeJSON(w, http.StatusForbidden, ErrorResponse{Error: "not_owned", Message: message})
	case errors.Is(err, apperror.ErrForbidden):
		writeJSON(w, http.StatusForbidden, ErrorResponse{Error: "forbidden", Message: message})
	case errors.Is(err, apperror.ErrUnverified):
		writeJSON(w, http.StatusUnprocessableEntity, ErrorResponse{Error: "unverified_email", Message: message})
	case errors.Is(err, apperror.ErrNotFound):
		writeJSON(w, http.StatusNotFound, ErrorResponse{Error: "not_found", Message: message})
	case errors.Is(err, apperror.ErrInvalidCredentials):
		writeJSON(w, http.StatusUnauthorized, ErrorResponse{Error: "invalid_credentials", Message: message})
	case errors.Is(err, apperror.ErrExpired),
		errors.Is(err, apperror.ErrMalformed),
		errors.Is(err, apperror.ErrRevoked):
		writeJSON(w, http.StatusUnauthorized, ErrorResponse{Error: "unauthorized", Message: message})
	case errors.Is(err, apperror.ErrProviderVerification):
		writeJSON(w, http.StatusBadGateway, ErrorResponse{Error: "provider_verification_failed", Message: message})
	default:
		slog.Error("internal error", slog.String("error", err.Error()))
		writeJSON(w, http.StatusInternalServerError, ErrorResponse{Error: "internal", Message: message})
	}
}

// decodeJSON decodes a request body into dst, rejecting unknown fields.
func decodeJSON(r *http.Request, dst any) error {
	dec := json.NewDecoder(r.Body)
	dec.DisallowUnknownFields()
	if err := dec.Decode(dst); err != nil {
		return apperror.ValidationFailed("body", "invalid JSON body")
	}
	return nil
}
