package main

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"path/filepath"
	"syscall"
	"time"

	"github.com/rs/zerolog"
	"github.com/rs/zerolog/log"
	"golang.org/x/sync/errgroup"

	router "github.com/dkeye/Estimate/internal/adapters/http"
	wsignal "github.com/dkeye/Estimate/internal/adapters/signal"
	"github.com/dkeye/Estimate/internal/app"
	"github.com/dkeye/Estimate/internal/app/orch"
	"github.com/dkeye/Estimate/internal/app/voting"
	"github.com/dkeye/Estimate/internal/auth"
	"github.com/dkeye/Estimate/internal/config"
	"github.com/dkeye/Estimate/internal/core"
	"github.com/dkeye/Estimate/internal/ghsync"
	"github.com/dkeye/Estimate/internal/storage/memory"
	"github.com/dkeye/Estimate/internal/storage/sqlite"
)

func openStore(ctx context.Context, cfg *config.Config) (core.Store, func(), error) {
	if cfg.DBPath == "" {
		log.Warn().Msg("db_path is empty, sessions live in memory only")
		return memory.New(), func() {}, nil
	}
	if err := os.MkdirAll(filepath.Dir(cfg.DBPath), 0o755); err != nil {
		return nil, nil, fmt.Errorf("create db dir: %w", err)
	}
	store, err := sqlite.Open(cfg.DBPath)
	if err != nil {
		return nil, nil, err
	}
	// Nobody is connected yet; clear flags left by a previous process.
	if err := store.ResetPresence(ctx); err != nil {
		_ = store.Close()
		return nil, nil, err
	}
	return store, func() { _ = store.Close() }, nil
}

func main() {
	ctx, cancel := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer cancel()

	// Initialize zerolog global logger early so config.Load can use it.
	zerolog.TimeFieldFormat = zerolog.TimeFormatUnix
	log.Logger = log.Output(zerolog.ConsoleWriter{Out: os.Stderr})
	zerolog.SetGlobalLevel(zerolog.InfoLevel)

	cfg, err := config.Load()
	if err != nil {
		log.Fatal().Err(err).Msg("failed to load config")
	}
	if lvl, err := zerolog.ParseLevel(cfg.LogLevel); err == nil {
		zerolog.SetGlobalLevel(lvl)
	}

	store, closeStore, err := openStore(ctx, cfg)
	if err != nil {
		log.Fatal().Err(err).Msg("failed to open store")
	}
	defer closeStore()

	tokens, err := auth.NewJWT(cfg.JWTSecret, cfg.JWTIssuer)
	if err != nil {
		log.Fatal().Err(err).Msg("failed to init auth")
	}

	reg := app.NewRegistry()
	rooms := app.NewRoomManager(app.SimplePolicy{})

	opts := []voting.Option{voting.WithPresence(reg), voting.WithSyncTimeout(cfg.SyncTimeout)}
	gh, err := ghsync.LoadConfigFromEnv()
	if err != nil {
		log.Fatal().Err(err).Msg("failed to load github config")
	}
	if gh.Enabled() {
		opts = append(opts, voting.WithCommenter(ghsync.NewCommenter(gh)))
		log.Info().Str("api", gh.APIURL).Msg("github estimate sync enabled")
	}
	machine := voting.New(store, rooms, opts...)

	o := orch.New(reg, rooms, machine, store)
	ctrl := wsignal.NewSignalWSController(o, tokens, wsignal.Config{
		PingPeriod:   cfg.PingPeriod,
		PongWait:     cfg.PongWait,
		WriteWait:    cfg.WriteWait,
		ReadLimit:    cfg.ReadLimit,
		SendBuffer:   cfg.SendBuffer,
		RateLimit:    cfg.RateLimit,
		RateInterval: cfg.RateInterval,
	})

	r := router.SetupRouter(ctx, cfg, o, ctrl, tokens)
	addr := fmt.Sprintf(":%d", cfg.Port)
	srv := &http.Server{
		Addr:              addr,
		Handler:           r,
		ReadHeaderTimeout: 10 * time.Second,
	}

	g, gctx := errgroup.WithContext(ctx)
	g.Go(func() error {
		log.Info().Str("addr", addr).Msg("Estimate server started")
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			return err
		}
		return nil
	})
	g.Go(func() error {
		<-gctx.Done()
		log.Info().Msg("Shutting down")
		shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer shutdownCancel()
		if err := srv.Shutdown(shutdownCtx); err != nil {
			log.Error().Err(err).Msg("Server forced to shutdown")
		}
		// Let in-flight estimate syncs finish before the store closes.
		machine.Wait()
		return nil
	})

	if err := g.Wait(); err != nil {
		log.Error().Err(err).Msg("server error")
	}
	log.Info().Msg("Server exited gracefully")
}
