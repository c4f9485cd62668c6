package main

import (
	"context"
	"errors"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/joho/godotenv"
	"github.com/rs/zerolog"

	"github.com/moturi311/securechat/backend/internal/config"
	"github.com/moturi311/securechat/backend/internal/crypto"
	"github.com/moturi311/securechat/backend/internal/handler"
	"github.com/moturi311/securechat/backend/internal/hub"
	"github.com/moturi311/securechat/backend/internal/model/chat"
	"github.com/moturi311/securechat/backend/internal/model/persona"
	aiService "github.com/moturi311/securechat/backend/internal/service/ai"
	chatService "github.com/moturi311/securechat/backend/internal/service/chat"
	"github.com/moturi311/securechat/backend/internal/store"
)

func main() {
	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	// Absent .env is fine; the system environment still applies.
	_ = godotenv.Load()

	cfg, err := config.Load()
	if err != nil {
		boot := zerolog.New(os.Stderr)
		boot.Fatal().Err(err).Msg("failed to load configuration")
	}

	logger := newLogger(cfg.Server)

	cipher, err := crypto.NewCipher(cfg.Storage.KeyPath)
	if err != nil {
		logger.Fatal().Err(err).Str("path", cfg.Storage.KeyPath).Msg("failed to initialize cipher")
	}

	st, err := store.NewSQLiteStore(ctx, cfg.Storage.DBPath, cipher, logger)
	if err != nil {
		logger.Fatal().Err(err).Str("path", cfg.Storage.DBPath).Msg("failed to open store")
	}
	defer st.Close()

	if err := seedDirectory(ctx, st); err != nil {
		logger.Fatal().Err(err).Msg("failed to seed user directory")
	}

	personaStore := persona.NewMemoryStore(persona.Seed())

	var replies chatService.ReplyGenerator
	if cfg.AI.Enabled() {
		svc, err := aiService.NewService(ctx, personaStore, st, cfg.AI, logger)
		if err != nil {
			logger.Warn().Err(err).Msg("AI service unavailable, continuing without persona replies")
		} else {
			replies = svc
			logger.Info().Str("model", cfg.AI.Model).Msg("AI service initialized")
		}
	} else {
		logger.Info().Msg("Ark credentials not configured, persona replies disabled")
	}

	sessions := hub.NewHub(logger)
	pipeline := chatService.NewPipeline(st, cipher, sessions, replies, logger)
	router := handler.NewRouter(st, sessions, pipeline, personaStore, cfg.Auth.Password, logger)

	startServer(ctx, cfg.Server, router, logger)
}

func newLogger(serverCfg config.ServerConfig) zerolog.Logger {
	if serverCfg.IsDevelopment() {
		return zerolog.New(zerolog.ConsoleWriter{Out: os.Stdout, TimeFormat: time.RFC3339}).
			With().
			Timestamp().
			Logger()
	}
	return zerolog.New(os.Stdout).
		With().
		Timestamp().
		Logger()
}

// seedDirectory provisions the demo marketplace participants on first run.
func seedDirectory(ctx context.Context, st store.Store) error {
	seeds := map[string]chat.Role{
		"buyer1": chat.RoleBuyer, "buyer2": chat.RoleBuyer, "buyer3": chat.RoleBuyer,
		"buyer4": chat.RoleBuyer, "buyer5": chat.RoleBuyer,
		"seller1": chat.RoleSeller, "seller2": chat.RoleSeller, "seller3": chat.RoleSeller,
		"seller4": chat.RoleSeller, "seller5": chat.RoleSeller,
	}
	for username, role := range seeds {
		if _, err := st.ResolveUser(ctx, username); err == nil {
			continue
		} else if !errors.Is(err, store.ErrUserNotFound) {
			return err
		}
		if _, err := st.CreateUser(ctx, username, role); err != nil {
			return err
		}
	}
	return nil
}

func startServer(ctx context.Context, serverCfg config.ServerConfig, router http.Handler, logger zerolog.Logger) {
	srv := &http.Server{
		Addr:              serverCfg.Addr,
		Handler:           router,
		ReadHeaderTimeout: 5 * time.Second,
		IdleTimeout:       120 * time.Second,
	}

	logger.Info().Str("addr", serverCfg.Addr).Msg("securechat backend listening")
	if err := runServer(ctx, srv); err != nil {
		logger.Fatal().Err(err).Msg("server error")
	}
}

func runServer(ctx context.Context, srv *http.Server) error {
	errCh := make(chan error, 1)
	go func() {
		errCh <- srv.ListenAndServe()
	}()

	select {
	case <-ctx.Done():
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
		defer cancel()
		_ = srv.Shutdown(shutdownCtx)
		err := <-errCh
		if err != nil && !errors.Is(err, http.ErrServerClosed) {
			return err
		}
		return nil
	case err := <-errCh:
		if errors.Is(err, http.ErrServerClosed) {
			return nil
		}
		return err
	}
}
