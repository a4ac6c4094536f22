// SPDX-License-Identifier: Apache-2.0

package main

import (
	"fmt"
	"os"
	"text/tabwriter"
	"time"

	"github.com/Fan4Metal/emby-webhooks-app/internal/app"
	"github.com/Fan4Metal/emby-webhooks-app/internal/ingest"
	"github.com/Fan4Metal/emby-webhooks-app/internal/repository"
	"github.com/goccy/go-json"
	"github.com/spf13/cobra"
)

func newMigrateCmd(opts *cliOptions) *cobra.Command {
	return &cobra.Command{
		Use:   "migrate",
		Short: "Apply embedded schema migrations",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, logger, err := opts.load(cmd.ErrOrStderr())
			if err != nil {
				return err
			}

			storeOpts := app.StorageOptions(cfg)
			storeOpts.AutoMigrate = true

			store, err := repository.Open(cmd.Context(), storeOpts, logger)
			if err != nil {
				return fmt.Errorf("migrate: %w", err)
			}
			defer store.Close()

			if err := store.Check(cmd.Context()); err != nil {
				return fmt.Errorf("schema check: %w", err)
			}
			fmt.Fprintf(cmd.OutOrStdout(), "Schema up to date (%s).\n", store.Driver())
			return nil
		},
	}
}

func newRecentCmd(opts *cliOptions) *cobra.Command {
	var (
		limit  int
		asJSON bool
	)

	cmd := &cobra.Command{
		Use:   "recent",
		Short: "Show the most recent activity log entries",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			a, err := opts.open(cmd)
			if err != nil {
				return err
			}
			defer a.Close()

			entries, err := a.Log.ListRecent(cmd.Context(), limit)
			if err != nil {
				return fmt.Errorf("list recent: %w", err)
			}

			out := cmd.OutOrStdout()
			if asJSON {
				enc := json.NewEncoder(out)
				enc.SetIndent("", "  ")
				return enc.Encode(entries)
			}

			if len(entries) == 0 {
				fmt.Fprintln(out, "No entries found.")
				return nil
			}

			w := tabwriter.NewWriter(out, 0, 4, 2, ' ', 0)
			fmt.Fprintln(w, "ID\tTIME\tKIND\tMESSAGE")
			for _, e := range entries {
				fmt.Fprintf(w, "%d\t%s\t%s\t%s\n", e.ID, e.DisplayTime, e.Kind, e.Message)
			}
			return w.Flush()
		},
	}
	cmd.Flags().IntVarP(&limit, "limit", "n", 0, "number of entries (default and maximum: recent_limit)")
	cmd.Flags().BoolVar(&asJSON, "json", false, "print entries as JSON")
	return cmd
}

func newSessionsCmd(opts *cliOptions) *cobra.Command {
	return &cobra.Command{
		Use:   "sessions",
		Short: "List tracked playback sessions",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			a, err := opts.open(cmd)
			if err != nil {
				return err
			}
			defer a.Close()

			states, err := a.Log.Sessions(cmd.Context())
			if err != nil {
				return fmt.Errorf("list sessions: %w", err)
			}

			out := cmd.OutOrStdout()
			if len(states) == 0 {
				fmt.Fprintln(out, "No sessions found.")
				return nil
			}

			w := tabwriter.NewWriter(out, 0, 4, 2, ' ', 0)
			fmt.Fprintln(w, "SESSION\tLAST EVENT\tUPDATED")
			for _, s := range states {
				fmt.Fprintf(w, "%s\t%s\t%s\n",
					s.SessionKey,
					s.LastEvent,
					s.UpdatedAt.Local().Format("2006-01-02 15:04:05"),
				)
			}
			return w.Flush()
		},
	}
}

func newClearCmd(opts *cliOptions) *cobra.Command {
	var yes bool

	cmd := &cobra.Command{
		Use:   "clear",
		Short: "Delete every log entry and session state",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			if !yes {
				return fmt.Errorf("refusing to clear without --yes")
			}

			a, err := opts.open(cmd)
			if err != nil {
				return err
			}
			defer a.Close()

			res, err := a.Log.Clear(cmd.Context())
			if err != nil {
				return fmt.Errorf("clear: %w", err)
			}
			fmt.Fprintf(cmd.OutOrStdout(), "Cleared %d entries and %d sessions.\n", res.Entries, res.Sessions)
			return nil
		},
	}
	cmd.Flags().BoolVarP(&yes, "yes", "y", false, "confirm the clear")
	return cmd
}

func newPruneCmd(opts *cliOptions) *cobra.Command {
	var olderThan time.Duration

	cmd := &cobra.Command{
		Use:   "prune",
		Short: "Drop session states not updated within a window",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			if olderThan <= 0 {
				return fmt.Errorf("--older-than must be positive")
			}

			a, err := opts.open(cmd)
			if err != nil {
				return err
			}
			defer a.Close()

			n, err := a.Log.PruneSessions(cmd.Context(), time.Now().Add(-olderThan))
			if err != nil {
				return fmt.Errorf("prune: %w", err)
			}
			fmt.Fprintf(cmd.OutOrStdout(), "Pruned %d sessions.\n", n)
			return nil
		},
	}
	cmd.Flags().DurationVar(&olderThan, "older-than", 24*time.Hour, "prune sessions idle for longer than this")
	return cmd
}

func newIngestCmd(opts *cliOptions) *cobra.Command {
	return &cobra.Command{
		Use:   "ingest <file|->",
		Short: "Run a webhook payload through the ingestion pipeline",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			in := cmd.InOrStdin()
			if args[0] != "-" {
				f, err := os.Open(args[0])
				if err != nil {
					return fmt.Errorf("open payload: %w", err)
				}
				defer f.Close()
				in = f
			}

			raw, err := ingest.DecodePayload(in)
			if err != nil {
				return err
			}

			a, err := opts.open(cmd)
			if err != nil {
				return err
			}
			defer a.Close()

			res, err := a.Ingest.Ingest(cmd.Context(), raw)
			if err != nil {
				return err
			}

			out := cmd.OutOrStdout()
			if res.Deduped() {
				fmt.Fprintf(out, "Suppressed %s for session %s.\n", res.Event.Kind, res.Event.SessionKey)
				return nil
			}
			fmt.Fprintf(out, "Admitted entry %d: %s\n", res.Entry.ID, res.Event.Message)
			return nil
		},
	}
}
