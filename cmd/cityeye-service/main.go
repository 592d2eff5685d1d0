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

	"cityeye-service/internal/auth"
	"cityeye-service/internal/authz"
	"cityeye-service/internal/capture"
	"cityeye-service/internal/config"
	"cityeye-service/internal/db"
	httphandler "cityeye-service/internal/http"
	"cityeye-service/internal/http/middleware"
	"cityeye-service/internal/logger"
	"cityeye-service/internal/model"
	"cityeye-service/internal/platform"
	"cityeye-service/internal/repository"
	"cityeye-service/internal/service"
	"cityeye-service/internal/zone"
)

const sweepInterval = time.Minute

func main() {
	cfg, err := config.Load()
	if err != nil {
		fmt.Fprintf(os.Stderr, "failed to load config: %v\n", err)
		os.Exit(1)
	}

	appLogger := logger.New(cfg.Environment)

	database, err := db.New(cfg, appLogger)
	if err != nil {
		appLogger.Fatal().Err(err).Msg("failed to connect database")
	}

	enforcer, err := authz.NewEnforcer()
	if err != nil {
		appLogger.Fatal().Err(err).Msg("failed to load authorization policy")
	}

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	platformClient := platform.NewClient(cfg.Platform.BaseURL, cfg.Platform.Timeout, appLogger)
	capturer := capture.NewCapturer(platformClient, cfg.Editor.CaptureTimeout, appLogger)
	zoneRepo := repository.NewZoneRepository(database)

	sessions := zone.NewSessionStore(zone.Options{
		Canvas:   model.Size{Width: cfg.Editor.CanvasWidth, Height: cfg.Editor.CanvasHeight},
		MaxZones: cfg.Editor.MaxZones,
	}, cfg.Editor.SessionTTL)
	go sessions.Run(ctx, sweepInterval)

	zoneService := service.NewZoneService(sessions, platformClient, zoneRepo, capturer, enforcer, appLogger)
	analyticsService := service.NewAnalyticsService(platformClient, platformClient, enforcer, cfg.Analytics.Location, appLogger)
	go analyticsService.Run(ctx, sweepInterval, cfg.Editor.SessionTTL)

	tokenParser := auth.NewParser(cfg.Auth.AccessSecret)

	handler := httphandler.NewHandler(zoneService, analyticsService, appLogger)
	authMiddleware := middleware.Auth(tokenParser)
	router := httphandler.NewRouter(handler, authMiddleware, cfg.Environment, cfg.HTTP.CORSAllowedOrigins, appLogger)

	addr := fmt.Sprintf("%s:%d", cfg.HTTP.Host, cfg.HTTP.Port)
	server := &http.Server{
		Addr:              addr,
		Handler:           router,
		ReadHeaderTimeout: 10 * time.Second,
	}

	go func() {
		<-ctx.Done()
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 15*time.Second)
		defer cancel()
		if err := server.Shutdown(shutdownCtx); err != nil {
			appLogger.Error().Err(err).Msg("graceful shutdown failed")
		}
	}()

	appLogger.Info().Str("addr", addr).Msg("starting cityeye service")

	if err := server.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
		appLogger.Error().Err(err).Msg("failed to start server")
		os.Exit(1)
	}

	sessions.CloseAll()
	appLogger.Info().Msg("cityeye service stopped")
}
