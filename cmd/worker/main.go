// SPDX-License-Identifier: Apache-2.0

package main

import (
	"context"
	"log"
	"os"
	"os/signal"
	"syscall"

	"github.com/Fan4Metal/emby-webhooks-app/internal/app"
	"github.com/Fan4Metal/emby-webhooks-app/internal/config"
	"github.com/Fan4Metal/emby-webhooks-app/internal/logging"
	"github.com/Fan4Metal/emby-webhooks-app/internal/worker"
)

// The standalone worker suits the postgres driver, where the API replicas
// run with SESSION_PRUNE_ENABLED=false and a single worker prunes.
func main() {
	cfg, err := config.Load("")
	if err != nil {
		log.Fatalf("config load failed: %v", err)
	}

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	logger := logging.NewLogger(cfg.Env, cfg.LogLevel)

	application, err := app.New(ctx, cfg, logger)
	if err != nil {
		log.Fatalf("storage open failed: %v", err)
	}
	defer func() {
		if err := application.Close(); err != nil {
			logger.Error("storage close error", "error", err)
		}
	}()

	w := worker.New(worker.Deps{
		Pruner:    application.Log,
		Logger:    logger,
		IdleAfter: cfg.SessionPrune.IdleAfter,
		Interval:  cfg.SessionPrune.Interval,
	})

	w.Run(ctx)
}
