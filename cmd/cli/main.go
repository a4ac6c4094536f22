// SPDX-License-Identifier: Apache-2.0

package main

import (
	"context"
	"fmt"
	"io"
	"log/slog"
	"os"
	"os/signal"
	"strings"
	"syscall"

	"github.com/Fan4Metal/emby-webhooks-app/internal/app"
	"github.com/Fan4Metal/emby-webhooks-app/internal/config"
	"github.com/Fan4Metal/emby-webhooks-app/internal/logging"
	"github.com/spf13/cobra"
)

func main() {
	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	if err := newRootCmd().ExecuteContext(ctx); err != nil {
		fmt.Fprintf(os.Stderr, "error: %v\n", err)
		os.Exit(1)
	}
}

// cliOptions holds the persistent flags shared by every subcommand.
type cliOptions struct {
	configPath string
	driver     string
}

func newRootCmd() *cobra.Command {
	opts := &cliOptions{}

	root := &cobra.Command{
		Use:           "emby-webhooks",
		Short:         "Operate the Emby webhook activity log",
		SilenceUsage:  true,
		SilenceErrors: true,
	}
	root.PersistentFlags().StringVar(&opts.configPath, "config", "", "config file path (default $CONFIG_PATH or ./config.yaml)")
	root.PersistentFlags().StringVar(&opts.driver, "driver", "", "override storage driver (sqlite, postgres, badger)")

	root.AddCommand(
		newMigrateCmd(opts),
		newRecentCmd(opts),
		newSessionsCmd(opts),
		newClearCmd(opts),
		newPruneCmd(opts),
		newIngestCmd(opts),
		newValidateCmd(),
	)
	return root
}

func (o *cliOptions) load(stderr io.Writer) (config.Config, *slog.Logger, error) {
	cfg, err := config.Load(o.configPath)
	if err != nil {
		return config.Config{}, nil, err
	}
	if d := strings.ToLower(strings.TrimSpace(o.driver)); d != "" {
		cfg.Storage.Driver = d
		if err := cfg.Validate(); err != nil {
			return config.Config{}, nil, err
		}
	}
	return cfg, logging.New(stderr, cfg.Env, cfg.LogLevel), nil
}

// open loads config and opens the store. Callers must Close the App.
func (o *cliOptions) open(cmd *cobra.Command) (*app.App, error) {
	cfg, logger, err := o.load(cmd.ErrOrStderr())
	if err != nil {
		return nil, err
	}
	return app.New(cmd.Context(), cfg, logger)
}
