// Package server is the composition root: it wires the stores, services,
// Gate, and handlers together and owns the HTTP listener's lifecycle.
package server

import (
	"context"
	"fmt"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/go-chi/chi/v5"
	chimiddleware "github.com/go-chi/chi/v5/middleware"

	"github.com/letsyahu/identity/internal/auth"
	"github.com/letsyahu/identity/internal/handler"
	"github.com/letsyahu/identity/internal/middleware"
	"github.com/letsyahu/identity/internal/model"
	sqliteRepo "github.com/letsyahu/identity/internal/repository/sqlite"
	"github.com/letsyahu/identity/internal/service"
)

// Config holds everything the server needs from the environment.
type Config struct {
	Port        int
	DBPath      string
	TokenSecret string

	// Provider credentials; a provider with an empty client id is not
	// registered and its routes 404.
	GitHubClientID      string
	GitHubClientSecret  string
	GitHubCallbackURL   string
	DiscordClientID     string
	DiscordClientSecret string
	DiscordCallbackURL  string
}

// Server owns the router and the database connection; the connection is
// closed during graceful shutdown.
type Server struct {
	router *chi.Mux
	config Config
	logger *slog.Logger
	db     *sqliteRepo.DB
}

// New opens the database and assembles the dependency graph:
//
//	sqlite.DB → IdentityService / CredentialService / PermissionService
//	          → TokenService (with the DB as revocation checker)
//	          → Gate → handlers → routes
func New(cfg Config, logger *slog.Logger) (*Server, error) {
	db, err := sqliteRepo.New(cfg.DBPath)
	if err != nil {
		return nil, fmt.Errorf("opening database: %w", err)
	}

	s := &Server{
		router: chi.NewRouter(),
		config: cfg,
		logger: logger,
		db:     db,
	}

	if err := s.setupRoutes(); err != nil {
		db.Close()
		return nil, fmt.Errorf("setting up routes: %w", err)
	}
	return s, nil
}

func (s *Server) setupRoutes() error {
	s.router.Use(chimiddleware.RequestID)
	s.router.Use(chimiddleware.RealIP)
	s.router.Use(chimiddleware.Recoverer)
	s.router.Use(middleware.Logger(s.logger))

	tokens, err := auth.NewTokenService(s.config.TokenSecret, s.db)
	if err != nil {
		return fmt.Errorf("creating token service: %w", err)
	}

	hasher := auth.NewPasswordHasher()
	identitySvc := service.NewIdentityService(s.db, s.logger)
	credentialSvc := service.NewCredentialService(s.db, hasher, s.logger)
	permissionSvc := service.NewPermissionService(s.db, s.logger)
	gate := service.NewGate(identitySvc, credentialSvc, permissionSvc, tokens, s.db, s.logger)

	var providers []auth.ProviderVerifier
	if s.config.GitHubClientID != "" {
		providers = append(providers, auth.NewGitHubProvider(
			s.config.GitHubClientID, s.config.GitHubClientSecret, s.config.GitHubCallbackURL))
	}
	if s.config.DiscordClientID != "" {
		providers = append(providers, auth.NewDiscordProvider(
			s.config.DiscordClientID, s.config.DiscordClientSecret, s.config.DiscordCallbackURL))
	}

	authHandler := handler.NewAuthHandler(gate, identitySvc, providers, s.logger)
	identityHandler := handler.NewIdentityHandler(identitySvc, permissionSvc, s.logger)

	s.router.Get("/healthz", func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusOK)
	})

	// Provider handshake (browser-facing, unauthenticated).
	s.router.Get("/auth/{provider}/login", authHandler.HandleProviderLogin)
	s.router.Get("/auth/{provider}/callback", authHandler.HandleProviderCallback)

	s.router.Route("/api", func(r chi.Router) {
		r.Post("/auth/register", authHandler.HandleRegister)
		r.Post("/auth/login", authHandler.HandleLogin)
		r.Post("/auth/logout", authHandler.HandleLogout)

		// Authenticated routes.
		r.Group(func(r chi.Router) {
			r.Use(auth.RequireAuth(gate))
			r.Post("/auth/logout-all", authHandler.HandleLogoutAll)
			r.Get("/me", authHandler.HandleMe)
			r.Delete("/me", identityHandler.HandleDeleteAccount)
			r.Post("/emails", identityHandler.HandleAddEmail)
			r.Post("/emails/{id}/verify", identityHandler.HandleVerifyEmail)
			r.Post("/emails/{id}/primary", identityHandler.HandleSetPrimary)
		})

		// Operator routes, gated by permission.
		r.Group(func(r chi.Router) {
			r.Use(auth.RequirePermission(gate, model.PermissionUserView))
			r.Get("/users/{id}/permissions", identityHandler.HandleListPermissions)
		})
		r.Group(func(r chi.Router) {
			r.Use(auth.RequirePermission(gate, model.PermissionUserManage))
			r.Post("/users/{id}/permissions", identityHandler.HandleGrant)
			r.Delete("/users/{id}/permissions/{permission}", identityHandler.HandleRevoke)
		})
	})

	return nil
}

// Start runs the listener until SIGINT/SIGTERM, then drains in-flight
// requests and closes the database.
func (s *Server) Start() error {
	defer s.db.Close()

	srv := &http.Server{
		Addr:         fmt.Sprintf(":%d", s.config.Port),
		Handler:      s.router,
		ReadTimeout:  15 * time.Second,
		WriteTimeout: 15 * time.Second,
		IdleTimeout:  60 * time.Second,
	}

	quit := make(chan os.Signal, 1)
	signal.Notify(quit, syscall.SIGINT, syscall.SIGTERM)

	serverErrors := make(chan error, 1)
	go func() {
		s.logger.Info("server starting",
			slog.Int("port", s.config.Port),
			slog.String("database", s.config.DBPath),
		)
		serverErrors <- srv.ListenAndServe()
	}()

	select {
	case err := <-serverErrors:
		if err != http.ErrServerClosed {
			return fmt.Errorf("server error: %w", err)
		}
		return nil
	case sig := <-quit:
		s.logger.Info("shutdown signal received", slog.String("signal", sig.String()))

		ctx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
		defer cancel()

		if err := srv.Shutdown(ctx); err != nil {
			return fmt.Errorf("graceful shutdown failed: %w", err)
		}
		s.logger.Info("server stopped")
		return nil
	}
}

// Router exposes the configured router for tests.
func (s *Server) Router() http.Handler {
	return s.router
}
