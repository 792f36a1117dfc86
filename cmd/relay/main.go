package main

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"chat-relay/api"
	"chat-relay/auth"
	"chat-relay/internal"
	"chat-relay/moderation"
	"chat-relay/observability"
	"chat-relay/relay"
	"chat-relay/repositories"
	"chat-relay/transport/ws"

	"github.com/Netflix/go-env"
	"github.com/dgraph-io/badger/v4"
	"github.com/julienschmidt/httprouter"
	"github.com/mama165/sdk-go/logs"
)

// Exit codes to provide meaningful status to the operating system or service manager (e.g., systemd).
const (
	exitOK      = 0
	exitRuntime = 1
	exitConfig  = 2
)

func main() {
	// The main function acts as a thin wrapper.
	// Its only responsibility is to call run() and handle the OS exit code.
	code, err := run()
	if err != nil {
		fmt.Fprintf(os.Stderr, "Relay terminated with error: %v\n", err)
	}
	os.Exit(code)
}

// run initializes all components, manages the server lifecycle, and
// centralizes error reporting. The pattern keeps 'defer' statements (like
// database cleanup) running before the process exits and decouples the
// initialization logic from the main entry point.
func run() (int, error) {
	// 1. Configuration & Logger
	var config internal.Config
	if _, err := env.UnmarshalFromEnviron(&config); err != nil {
		return exitConfig, fmt.Errorf("config error: %w", err)
	}

	charReplacement, err := internal.CharacterRune(config.CharReplacement)
	if err != nil {
		return exitConfig, err
	}

	logger := logs.GetLoggerFromString(config.LogLevel)

	ctx := context.Background()

	// 2. Database (BadgerDB)
	db, err := badger.Open(buildBadgerOpts(config, logger, ctx))
	if err != nil {
		return exitRuntime, fmt.Errorf("database opening failed: %w", err)
	}
	defer func() {
		logger.Info("Closing BadgerDB...")
		_ = db.Close()
	}()

	messageRepository := repositories.NewMessageRepository(db, logger, config.LimitMessages)
	userRepository, err := repositories.NewUserRepository(db)
	if err != nil {
		return exitRuntime, err
	}
	defer func() {
		_ = userRepository.Close()
	}()

	// 3. Core components
	var moderator *moderation.Moderator
	if words := internal.SplitWords(config.CensoredWords); len(words) > 0 {
		m, err := moderation.NewModerator(words, charReplacement)
		if err != nil {
			return exitConfig, fmt.Errorf("moderation setup failed: %w", err)
		}
		moderator = &m
		logger.Info("Moderation enabled", "words", len(words))
	}

	registry := relay.NewRegistry()
	stats := observability.NewRelayStats(logger, registry.Sessions)
	router := relay.NewRouter(logger, registry, messageRepository, userRepository, moderator, stats)

	tokens := auth.NewTokenService(config.JWTSecret, config.AuthTokenDuration)
	gate := auth.NewHandshakeGate(tokens, logger)

	if logger.Enabled(ctx, slog.LevelDebug) && config.DebugPort != 0 {
		logger.Info("Debug Badger inspector available",
			"url", fmt.Sprintf("http://localhost:%d/inspect", config.DebugPort))
		internal.StartDebugServer(db, config.DebugPort, "/inspect", internal.DefaultMapper, func() map[string]any {
			return map[string]any{"OpenSessions": registry.Sessions()}
		})
	}

	// 4. HTTP surface: upgrade endpoints + REST boundary
	mux := httprouter.New()
	wsHandler := ws.NewHandler(logger, gate, registry, router, stats, config.SessionBufferSize)
	wsHandler.Routes(mux)
	apiHandler := api.NewHandler(logger, tokens, messageRepository, userRepository, stats)
	apiHandler.Routes(mux)

	server := &http.Server{
		Addr:    fmt.Sprintf("%s:%d", config.Host, config.Port),
		Handler: mux,
	}

	// 5. Context & Signals
	ctx, stop := signal.NotifyContext(ctx, os.Interrupt, syscall.SIGTERM)
	defer stop()

	go stats.Listen(ctx, config.MetricInterval)

	errChan := make(chan error, 1)
	go func() {
		logger.Info("Starting relay server", "address", server.Addr, "at", time.Now().UTC())
		if err := server.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			errChan <- fmt.Errorf("http server error: %w", err)
		}
	}()

	// 6. Wait for Stop or Error
	select {
	case <-ctx.Done():
		logger.Info("Shutdown signal received")
	case err := <-errChan:
		return exitRuntime, err
	}

	// 7. Final Cleanup (Graceful Shutdown)
	logger.Info("Shutting down gracefully...")
	shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	if err := server.Shutdown(shutdownCtx); err != nil {
		logger.Error("Server shutdown failed", "err", err)
	}
	logger.Info("Program stopped cleanly")

	return exitOK, nil
}

func buildBadgerOpts(config internal.Config, logger *slog.Logger, ctx context.Context) badger.Options {
	options := badger.DefaultOptions(config.BadgerFilepath)

	if logger.Enabled(ctx, slog.LevelDebug) {
		options = options.WithLoggingLevel(badger.DEBUG).
			WithBypassLockGuard(true)
	} else {
		options = options.WithLoggingLevel(badger.INFO)
	}

	return options
}
