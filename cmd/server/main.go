// Package main is the entry point for the identity server. It reads
// configuration from the environment, builds the logger, and hands off to
// internal/server; no logic lives here.
package main

import (
	"log/slog"
	"os"
	"path/filepath"
	"strconv"

	"github.com/letsyahu/identity/internal/server"
)

func main() {
	logger := slog.New(slog.NewTextHandler(os.Stdout, &slog.HandlerOptions{
		Level: slog.LevelInfo,
	}))

	cfg := server.Config{
		Port:   8080,
		DBPath: "data/identity.db",

		TokenSecret: os.Getenv("TOKEN_SECRET"),

		GitHubClientID:      os.Getenv("GITHUB_CLIENT_ID"),
		GitHubClientSecret:  os.Getenv("GITHUB_CLIENT_SECRET"),
		GitHubCallbackURL:   os.Getenv("GITHUB_CALLBACK_URL"),
		DiscordClientID:     os.Getenv("DISCORD_CLIENT_ID"),
		DiscordClientSecret: os.Getenv("DISCORD_CLIENT_SECRET"),
		DiscordCallbackURL:  os.Getenv("DISCORD_CALLBACK_URL"),
	}

	if portStr := os.Getenv("PORT"); portStr != "" {
		port, err := strconv.Atoi(portStr)
		if err != nil {
			logger.Error("invalid PORT value", slog.String("value", portStr))
			os.Exit(1)
		}
		cfg.Port = port
	}
	if envDB := os.Getenv("DB_PATH"); envDB != "" {
		cfg.DBPath = envDB
	}
	if cfg.TokenSecret == "" {
		// No insecure default: a predictable secret would let anyone mint
		// valid tokens. Generate one with: openssl rand -hex 32
		logger.Error("TOKEN_SECRET must be set")
		os.Exit(1)
	}

	if err := os.MkdirAll(filepath.Dir(cfg.DBPath), 0755); err != nil {
		logger.Error("failed to create database directory",
			slog.String("dir", filepath.Dir(cfg.DBPath)),
			slog.String("error", err.Error()),
		)
		os.Exit(1)
	}

	srv, err := server.New(cfg, logger)
	if err != nil {
		logger.Error("failed to create server", slog.String("error", err.Error()))
		os.Exit(1)
	}

	if err := srv.Start(); err != nil {
		logger.Error("server exited with error", slog.String("error", err.Error()))
		os.Exit(1)
	}
}
