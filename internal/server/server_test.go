package server

import (
	"bytes"
	"encoding/json"
	"fmt"
	"log/slog"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/letsyahu/identity/internal/model"
)

func newTestServer(t *testing.T) *Server {
	t.Helper()
	s, err := New(Config{
		Port:        0,
		DBPath:      ":memory:",
		TokenSecret: "server-test-secret-0123456789",
	}, slog.New(slog.DiscardHandler))
	require.NoError(t, err)
	t.Cleanup(func() { s.db.Close() })
	return s
}

// doJSON performs a request with an optional JSON body and bearer token.
func doJSON(t *testing.T, h http.Handler, method, path, token string, body any) *httptest.ResponseRecorder {
	t.Helper()
	var buf bytes.Buffer
	if body != nil {
		require.NoError(t, json.NewEncoder(&buf).Encode(body))
	}
	req := httptest.NewRequest(method, path, &buf)
	if body != nil {
		req.Header.Set("Content-Type", "application/json")
	}
	if token != "" {
		req.Header.Set("Authorization", "Bearer "+token)
	}
	rec := httptest.NewRecorder()
	h.ServeHTTP(rec, req)
	return rec
}

func decodeBody(t *testing.T, rec *httptest.ResponseRecorder, out any) {
	t.Helper()
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), out),
		"body: %s", rec.Body.String())
}

type authBody struct {
	UserID string   `json:"userId"`
	Roles  []string `json:"roles"`
	Token  string   `json:"token"`
}

// register creates an account through the API and returns its id + token.
func register(t *testing.T, h http.Handler, email, password string) authBody {
	t.Helper()
	rec := doJSON(t, h, http.MethodPost, "/api/auth/register", "", map[string]string{
		"email": email, "password": password,
	})
	require.Equal(t, http.StatusCreated, rec.Code, "body: %s", rec.Body.String())

	var body authBody
	decodeBody(t, rec, &body)
	require.NotEmpty(t, body.UserID)
	require.NotEmpty(t, body.Token)
	return body
}

func TestHealthz(t *testing.T) {
	s := newTestServer(t)
	rec := doJSON(t, s.Router(), http.MethodGet, "/healthz", "", nil)
	assert.Equal(t, http.StatusOK, rec.Code)
}

func TestRegisterLoginMe(t *testing.T) {
	s := newTestServer(t)
	h := s.Router()

	account := register(t, h, "alice@example.com", "correct horse battery")

	// Registration also sets the token cookie for browser clients.
	rec := doJSON(t, h, http.MethodPost, "/api/auth/register", "", map[string]string{
		"email": "bob@example.com", "password": "correct horse battery",
	})
	require.Equal(t, http.StatusCreated, rec.Code)
	cookies := rec.Result().Cookies()
	found := false
	for _, c := range cookies {
		if c.Name == "token" && c.Value != "" && c.HttpOnly {
			found = true
		}
	}
	assert.True(t, found, "registration should set the HttpOnly token cookie")

	// Duplicate registration conflicts, case-insensitively.
	rec = doJSON(t, h, http.MethodPost, "/api/auth/register", "", map[string]string{
		"email": "ALICE@example.com", "password": "another fine secret",
	})
	assert.Equal(t, http.StatusConflict, rec.Code)

	// Login round-trips.
	rec = doJSON(t, h, http.MethodPost, "/api/auth/login", "", map[string]string{
		"email": "alice@example.com", "password": "correct horse battery",
	})
	require.Equal(t, http.StatusOK, rec.Code)
	var login authBody
	decodeBody(t, rec, &login)
	assert.Equal(t, account.UserID, login.UserID)

	// /me reflects the authenticated principal.
	rec = doJSON(t, h, http.MethodGet, "/api/me", login.Token, nil)
	require.Equal(t, http.StatusOK, rec.Code)
	var me struct {
		UserID string        `json:"userId"`
		Emails []model.Email `json:"emails"`
	}
	decodeBody(t, rec, &me)
	assert.Equal(t, account.UserID, me.UserID)
	require.Len(t, me.Emails, 1)
	assert.True(t, me.Emails[0].IsPrimary)
}

func TestLogin_UniformFailure(t *testing.T) {
	s := newTestServer(t)
	h := s.Router()

	register(t, h, "alice@example.com", "correct horse battery")

	wrongPassword := doJSON(t, h, http.MethodPost, "/api/auth/login", "", map[string]string{
		"email": "alice@example.com", "password": "wrong",
	})
	unknownAddress := doJSON(t, h, http.MethodPost, "/api/auth/login", "", map[string]string{
		"email": "nobody@example.com", "password": "wrong",
	})

	assert.Equal(t, http.StatusUnauthorized, wrongPassword.Code)
	assert.Equal(t, http.StatusUnauthorized, unknownAddress.Code)
	// Byte-identical bodies: nothing distinguishes the two failures.
	assert.Equal(t, wrongPassword.Body.String(), unknownAddress.Body.String())
}

func TestRegister_WeakPassword(t *testing.T) {
	s := newTestServer(t)

	rec := doJSON(t, s.Router(), http.MethodPost, "/api/auth/register", "", map[string]string{
		"email": "alice@example.com", "password": "short",
	})
	assert.Equal(t, http.StatusUnprocessableEntity, rec.Code)
}

func TestEmailLifecycle(t *testing.T) {
	s := newTestServer(t)
	h := s.Router()

	account := register(t, h, "alice@example.com", "correct horse battery")

	rec := doJSON(t, h, http.MethodPost, "/api/emails", account.Token, map[string]string{
		"email": "alice@work.example",
	})
	require.Equal(t, http.StatusCreated, rec.Code, "body: %s", rec.Body.String())
	var added model.Email
	decodeBody(t, rec, &added)
	assert.False(t, added.IsPrimary)
	assert.False(t, added.Verified)

	// Unverified emails cannot become primary.
	rec = doJSON(t, h, http.MethodPost, fmt.Sprintf("/api/emails/%s/primary", added.ID), account.Token, nil)
	assert.Equal(t, http.StatusUnprocessableEntity, rec.Code)

	rec = doJSON(t, h, http.MethodPost, fmt.Sprintf("/api/emails/%s/verify", added.ID), account.Token, nil)
	require.Equal(t, http.StatusNoContent, rec.Code)

	rec = doJSON(t, h, http.MethodPost, fmt.Sprintf("/api/emails/%s/primary", added.ID), account.Token, nil)
	require.Equal(t, http.StatusNoContent, rec.Code)

	// /me now reports the promoted address as primary.
	rec = doJSON(t, h, http.MethodGet, "/api/me", account.Token, nil)
	require.Equal(t, http.StatusOK, rec.Code)
	var me struct {
		Emails []model.Email `json:"emails"`
	}
	decodeBody(t, rec, &me)
	require.Len(t, me.Emails, 2)
	assert.Equal(t, added.ID, me.Emails[0].ID, "primary sorts first")
	assert.True(t, me.Emails[0].IsPrimary)
}

func TestPermissionRoutes(t *testing.T) {
	s := newTestServer(t)
	h := s.Router()
	ctx := t.Context()

	operator := register(t, h, "operator@example.com", "correct horse battery")
	target := register(t, h, "target@example.com", "correct horse battery")

	// Without any grant the operator routes are forbidden.
	rec := doJSON(t, h, http.MethodPost,
		fmt.Sprintf("/api/users/%s/permissions", target.UserID), operator.Token,
		map[string]string{"permission": "user.view"})
	assert.Equal(t, http.StatusForbidden, rec.Code)

	// Role assignment is an operator action outside the HTTP surface.
	require.NoError(t, s.db.AssignRole(ctx, operator.UserID, model.RoleRoot))

	// The role takes effect on the next check with the same token.
	rec = doJSON(t, h, http.MethodPost,
		fmt.Sprintf("/api/users/%s/permissions", target.UserID), operator.Token,
		map[string]string{"permission": "user.view"})
	require.Equal(t, http.StatusNoContent, rec.Code, "body: %s", rec.Body.String())

	rec = doJSON(t, h, http.MethodGet,
		fmt.Sprintf("/api/users/%s/permissions", target.UserID), operator.Token, nil)
	require.Equal(t, http.StatusOK, rec.Code)
	var listed struct {
		Permissions []string `json:"permissions"`
	}
	decodeBody(t, rec, &listed)
	assert.Equal(t, []string{"user.view"}, listed.Permissions)

	// Unknown permission names are rejected.
	rec = doJSON(t, h, http.MethodPost,
		fmt.Sprintf("/api/users/%s/permissions", target.UserID), operator.Token,
		map[string]string{"permission": "bogus.permission"})
	assert.Equal(t, http.StatusUnprocessableEntity, rec.Code)

	rec = doJSON(t, h, http.MethodDelete,
		fmt.Sprintf("/api/users/%s/permissions/user.view", target.UserID), operator.Token, nil)
	require.Equal(t, http.StatusNoContent, rec.Code)

	rec = doJSON(t, h, http.MethodGet,
		fmt.Sprintf("/api/users/%s/permissions", target.UserID), operator.Token, nil)
	require.Equal(t, http.StatusOK, rec.Code)
	listed.Permissions = nil
	decodeBody(t, rec, &listed)
	assert.Empty(t, listed.Permissions)
}

func TestDeleteAccount(t *testing.T) {
	s := newTestServer(t)
	h := s.Router()

	account := register(t, h, "alice@example.com", "correct horse battery")

	rec := doJSON(t, h, http.MethodDelete, "/api/me", account.Token, nil)
	require.Equal(t, http.StatusNoContent, rec.Code)

	// The address is free again; the old token no longer resolves a user
	// but the login path reports plain invalid credentials.
	rec = doJSON(t, h, http.MethodPost, "/api/auth/login", "", map[string]string{
		"email": "alice@example.com", "password": "correct horse battery",
	})
	assert.Equal(t, http.StatusUnauthorized, rec.Code)

	register(t, h, "alice@example.com", "correct horse battery")
}

func TestProviderRoutes_NotConfigured(t *testing.T) {
	s := newTestServer(t)
	rec := doJSON(t, s.Router(), http.MethodGet, "/auth/github/login", "", nil)
	assert.Equal(t, http.StatusNotFound, rec.Code)
}

func TestProviderLogin_RedirectsWithState(t *testing.T) {
	s, err := New(Config{
		DBPath:             ":memory:",
		TokenSecret:        "server-test-secret-0123456789",
		GitHubClientID:     "client-id",
		GitHubClientSecret: "client-secret",
		GitHubCallbackURL:  "http://localhost/auth/github/callback",
	}, slog.New(slog.DiscardHandler))
	require.NoError(t, err)
	t.Cleanup(func() { s.db.Close() })

	rec := doJSON(t, s.Router(), http.MethodGet, "/auth/github/login", "", nil)
	require.Equal(t, http.StatusTemporaryRedirect, rec.Code)

	location := rec.Header().Get("Location")
	assert.Contains(t, location, "github.com")
	assert.Contains(t, location, "state=")

	var stateCookie *http.Cookie
	for _, c := range rec.Result().Cookies() {
		if c.Name == "oauth_state" {
			stateCookie = c
		}
	}
	require.NotNil(t, stateCookie, "login should set the state cookie")
	assert.Contains(t, location, "state="+stateCookie.Value)
}
