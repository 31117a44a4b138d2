// Copyright (C) 2026 Kodiak Security (dev@kodiaksec.io)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.

// Package server wires the store, risk engine and HTTP layer together
// and runs the API process.
package server

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"strconv"
	"syscall"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/prometheus/client_golang/prometheus"
	"google.golang.org/grpc"
	"google.golang.org/grpc/credentials/insecure"

	"go.opentelemetry.io/contrib/instrumentation/github.com/gin-gonic/gin/otelgin"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/exporters/otlp/otlptrace/otlptracegrpc"
	"go.opentelemetry.io/otel/propagation"
	"go.opentelemetry.io/otel/sdk/resource"
	sdktrace "go.opentelemetry.io/otel/sdk/trace"
	semconv "go.opentelemetry.io/otel/semconv/v1.21.0"

	"github.com/kodiaksec/domainwatch/pkg/auth"
	"github.com/kodiaksec/domainwatch/pkg/cache"
	"github.com/kodiaksec/domainwatch/pkg/logging"
	"github.com/kodiaksec/domainwatch/pkg/metrics"
	"github.com/kodiaksec/domainwatch/services/alert"
	"github.com/kodiaksec/domainwatch/services/ingest"
	"github.com/kodiaksec/domainwatch/services/risk"
	"github.com/kodiaksec/domainwatch/services/server/handlers"
	"github.com/kodiaksec/domainwatch/services/server/middleware"
	"github.com/kodiaksec/domainwatch/services/server/routes"
	"github.com/kodiaksec/domainwatch/services/store"
	"github.com/kodiaksec/domainwatch/services/store/health"
	"github.com/kodiaksec/domainwatch/services/store/migrate"
	"github.com/kodiaksec/domainwatch/services/store/migrations"
)

const serviceName = "domainwatch"

// Config is the environment-driven server configuration.
type Config struct {
	DatabaseURL      string
	Port             string
	MaxUploadSize    int64
	UploadDir        string
	RiskProfilesFile string
	LogDir           string
	OTLPEndpoint     string
	APIToken         string
}

// ConfigFromEnv reads configuration with defaults.
func ConfigFromEnv() Config {
	cfg := Config{
		DatabaseURL:      os.Getenv("DATABASE_URL"),
		Port:             os.Getenv("PORT"),
		UploadDir:        os.Getenv("UPLOAD_DIR"),
		RiskProfilesFile: os.Getenv("RISK_PROFILES_FILE"),
		LogDir:           os.Getenv("LOG_DIR"),
		OTLPEndpoint:     os.Getenv("OTEL_EXPORTER_OTLP_ENDPOINT"),
		APIToken:         os.Getenv("API_TOKEN"),
	}
	if cfg.Port == "" {
		cfg.Port = "8080"
	}
	if raw := os.Getenv("MAX_UPLOAD_SIZE"); raw != "" {
		if parsed, err := strconv.ParseInt(raw, 10, 64); err == nil && parsed > 0 {
			cfg.MaxUploadSize = parsed
		}
	}
	return cfg
}

func initTracer(endpoint string) (func(context.Context), error) {
	ctx := context.Background()

	conn, err := grpc.NewClient(endpoint,
		grpc.WithTransportCredentials(insecure.NewCredentials()))
	if err != nil {
		return nil, err
	}
	traceExporter, err := otlptracegrpc.New(ctx, otlptracegrpc.WithGRPCConn(conn))
	if err != nil {
		return nil, err
	}
	res, err := resource.New(ctx,
		resource.WithAttributes(semconv.ServiceNameKey.String(serviceName)))
	if err != nil {
		return nil, err
	}
	bsp := sdktrace.NewBatchSpanProcessor(traceExporter)
	traceProvider := sdktrace.NewTracerProvider(
		sdktrace.WithSampler(sdktrace.AlwaysSample()),
		sdktrace.WithResource(res),
		sdktrace.WithSpanProcessor(bsp))
	otel.SetTracerProvider(traceProvider)
	otel.SetTextMapPropagator(propagation.NewCompositeTextMapPropagator(propagation.
		TraceContext{}, propagation.Baggage{}))

	return func(ctx context.Context) {
		ctx, cancel := context.WithTimeout(ctx, time.Second*5)
		defer cancel()
		if err := traceExporter.Shutdown(ctx); err != nil {
			logging.Default().Error("failed to shutdown OTLP exporter", "error", err)
		}
	}, nil
}

// Run starts the API server and blocks until SIGINT or SIGTERM.
func Run(cfg Config) error {
	logger := logging.New(logging.Config{
		Level:   logging.LevelInfo,
		LogDir:  cfg.LogDir,
		Service: serviceName,
		JSON:    true,
	})
	defer logger.Close()

	if cfg.DatabaseURL == "" {
		return errors.New("DATABASE_URL is required")
	}

	if cfg.OTLPEndpoint != "" {
		cleanup, err := initTracer(cfg.OTLPEndpoint)
		if err != nil {
			return fmt.Errorf("setup OTLP tracer: %w", err)
		}
		defer cleanup(context.Background())
	}

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	pg, err := store.Open(ctx, cfg.DatabaseURL, logger)
	if err != nil {
		return err
	}
	defer pg.Close()

	// A failed migration run does not abort startup. The process serves
	// with a degraded health report so operators can see and fix it.
	var migrationErr error
	migrator := migrate.New(pg.DB(), migrations.Files, logger)
	if _, err := migrator.Run(ctx); err != nil {
		migrationErr = err
		logger.Error("migrations failed, serving degraded", "error", err)
	}

	profiles, err := risk.LoadProfiles(cfg.RiskProfilesFile, logger)
	if err != nil {
		return fmt.Errorf("load risk profiles: %w", err)
	}
	if err := profiles.Watch(ctx); err != nil {
		logger.Warn("risk profile watch disabled", "error", err)
	}

	metricsRegistry := metrics.New(prometheus.DefaultRegisterer)
	riskCache := cache.New()
	riskService := risk.NewService(pg, riskCache, profiles, metricsRegistry, logger)

	deps := &handlers.Deps{
		Store:         pg,
		Registry:      ingest.DefaultRegistry(logger),
		Risk:          riskService,
		Cache:         riskCache,
		Alert:         alert.NewSender(metricsRegistry, logger),
		Health:        health.New(pg.DB(), logger),
		Metrics:       metricsRegistry,
		Logger:        logger,
		MaxUploadSize: cfg.MaxUploadSize,
		UploadDir:     cfg.UploadDir,
		MigrationErr:  migrationErr,
	}

	var provider auth.Provider = &auth.NopProvider{}
	if cfg.APIToken != "" {
		provider = auth.NewStaticTokenProvider(cfg.APIToken)
	}

	gin.SetMode(gin.ReleaseMode)
	router := gin.New()
	router.Use(gin.Recovery())
	router.Use(otelgin.Middleware(serviceName))
	router.Use(middleware.RequestLogger(logger))
	router.Use(middleware.Auth(provider))

	routes.SetupRoutes(router, deps)

	srv := &http.Server{
		Addr:              ":" + cfg.Port,
		Handler:           router,
		ReadHeaderTimeout: 10 * time.Second,
	}

	errCh := make(chan error, 1)
	go func() {
		logger.Info("server listening", "port", cfg.Port)
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			errCh <- err
		}
	}()

	select {
	case err := <-errCh:
		return err
	case <-ctx.Done():
	}

	logger.Info("shutting down")
	shutdownCtx, cancel := context.WithTimeout(context.Background(), 15*time.Second)
	defer cancel()
	return srv.Shutdown(shutdownCtx)
}
