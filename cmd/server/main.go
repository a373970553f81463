package main

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/gin-gonic/gin"

	"tankbattle-server/internal/catalog"
	"tankbattle-server/internal/config"
	"tankbattle-server/internal/game"
	"tankbattle-server/internal/logging"
	"tankbattle-server/internal/server"
)

func main() {
	cfg, err := config.Load(os.Args[1:])
	if err != nil {
		fmt.Fprintf(os.Stderr, "config: %v\n", err)
		os.Exit(2)
	}
	log := logging.New(cfg.LogLevel, cfg.LogPretty)

	// Graceful shutdown
	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	rooms, err := catalog.Open(ctx, cfg.DatabaseURL, cfg.SQLitePath)
	if err != nil {
		log.Fatal().Err(err).Msg("open battle catalog")
	}
	defer rooms.Close()

	if cfg.MapsDir != "" {
		n, err := catalog.SeedMaps(ctx, rooms, cfg.MapsDir)
		if err != nil {
			log.Fatal().Err(err).Str("dir", cfg.MapsDir).Msg("load maps")
		}
		log.Info().Int("maps", n).Str("dir", cfg.MapsDir).Msg("maps loaded")
	}

	coord := game.NewCoordinator(game.NewMemoryStore(game.BulletLifetime, nil), rooms, game.Options{
		TickInterval:  cfg.TickInterval,
		MatchDuration: cfg.MatchDuration,
		Logger:        &log,
	})

	hubCtx, stopHub := context.WithCancel(context.Background())
	hub := server.NewHub(cfg.MaxConnsPerIP, cfg.MaxTotalConns)
	go hub.Run(hubCtx)

	gin.SetMode(gin.ReleaseMode)
	srv := server.New(coord, hub, server.NewAuth(cfg.JWTSecret), server.Config{
		AllowedOrigins: cfg.AllowedOrigins,
		CommandsPerSec: cfg.CommandsPerSec,
	}, log)

	httpServer := &http.Server{
		Addr:              cfg.Addr,
		Handler:           srv.Router(),
		ReadHeaderTimeout: 10 * time.Second,
	}

	go func() {
		log.Info().Str("addr", cfg.Addr).Dur("tick", cfg.TickInterval).Msg("server starting")
		if err := httpServer.ListenAndServe(); !errors.Is(err, http.ErrServerClosed) {
			log.Fatal().Err(err).Msg("ListenAndServe")
		}
	}()

	<-ctx.Done()
	log.Info().Msg("shutting down")

	shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	if err := httpServer.Shutdown(shutdownCtx); err != nil {
		log.Warn().Err(err).Msg("http shutdown")
	}
	stopHub()
	coord.Shutdown()
}
