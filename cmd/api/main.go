// SPDX-License-Identifier: Apache-2.0

package main

import (
	"context"
	"log"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/Fan4Metal/emby-webhooks-app/internal/app"
	"github.com/Fan4Metal/emby-webhooks-app/internal/config"
	"github.com/Fan4Metal/emby-webhooks-app/internal/logging"
	"github.com/Fan4Metal/emby-webhooks-app/internal/telemetry"
	httptransport "github.com/Fan4Metal/emby-webhooks-app/internal/transport/http"
	"github.com/Fan4Metal/emby-webhooks-app/internal/worker"
)

var (
	Version   = "dev"
	Commit    = "none"
	BuildDate = "unknown"
)

func main() {
	cfg, err := config.Load("")
	if err != nil {
		log.Fatalf("config load failed: %v", err)
	}

	ctx, stop := signal.NotifyContext(
		context.Background(),
		os.Interrupt,
		syscall.SIGTERM,
	)
	defer stop()

	logger := logging.NewLogger(cfg.Env, cfg.LogLevel)

	shutdownTracing, err := telemetry.Init(ctx, telemetry.Config{
		Enabled:        cfg.Tracing.Enabled,
		ServiceName:    cfg.Tracing.ServiceName,
		ServiceVersion: Version,
		Stdout:         cfg.Tracing.Stdout,
	})
	if err != nil {
		log.Fatalf("tracing init failed: %v", err)
	}
	defer func() {
		flushCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		if err := shutdownTracing(flushCtx); err != nil {
			logger.Error("tracing shutdown error", "error", err)
		}
	}()

	application, err := app.New(ctx, cfg, logger)
	if err != nil {
		log.Fatalf("storage open failed: %v", err)
	}
	defer func() {
		if err := application.Close(); err != nil {
			logger.Error("storage close error", "error", err)
		}
	}()

	if cfg.SessionPrune.Enabled {
		pruner := worker.New(worker.Deps{
			Pruner:    application.Log,
			Logger:    logger.With("component", "worker"),
			IdleAfter: cfg.SessionPrune.IdleAfter,
			Interval:  cfg.SessionPrune.Interval,
		})
		go pruner.Run(ctx)
	}

	var rateLimit httptransport.RateLimit
	if cfg.RateLimit.Enabled {
		rateLimit = httptransport.RateLimit{
			Requests: cfg.RateLimit.Requests,
			Window:   cfg.RateLimit.Window,
		}
	}

	handler := httptransport.NewRouter(httptransport.Deps{
		Ingester:     application.Ingest,
		ActivityLog:  application.Log,
		Health:       application.Store,
		Logger:       logger,
		AdminToken:   cfg.AdminToken,
		MaxBodyBytes: cfg.MaxBodyBytes,
		RateLimit:    rateLimit,
		Version:      Version,
		Commit:       Commit,
		BuildDate:    BuildDate,
	})

	srv := &http.Server{
		Addr:              cfg.HTTPAddr,
		Handler:           handler,
		ReadHeaderTimeout: 5 * time.Second,
	}

	go func() {
		logger.Info("api listening",
			"addr", cfg.HTTPAddr,
			"storage", application.Store.Driver(),
			"version", Version,
			"commit", Commit,
			"build_date", BuildDate,
		)

		if err := srv.ListenAndServe(); err != nil &&
			err != http.ErrServerClosed {
			logger.Error("server failed", "error", err)
			os.Exit(1)
		}
	}()

	<-ctx.Done()
	logger.Info("shutting down server")

	shutdownCtx, cancel := context.WithTimeout(
		context.Background(),
		5*time.Second,
	)
	defer cancel()

	if err := srv.Shutdown(shutdownCtx); err != nil {
		logger.Error("server shutdown error", "error", err)
	}
}
