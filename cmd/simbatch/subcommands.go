package main

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"os"
	"path/filepath"
	"text/tabwriter"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/rs/zerolog/log"
	"github.com/spf13/cobra"

	core "github.com/3cpo-dev/simbatch/internal/core"
	"github.com/3cpo-dev/simbatch/internal/server"
	gssh "github.com/3cpo-dev/simbatch/internal/ssh"
	"github.com/3cpo-dev/simbatch/internal/telemetry"
)

// List discovered job folders
func newLsCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "ls",
		Short: "List discovered job folders in batch order with their completion state",
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := loadConfig(cmd)
			if err != nil {
				return err
			}
			batch, err := core.NewOrchestrator(cfg).ListJobs()
			if err != nil {
				return &exitError{code: 1, err: err}
			}
			w := tabwriter.NewWriter(cmd.OutOrStdout(), 0, 4, 2, ' ', 0)
			for _, j := range batch {
				fmt.Fprintf(w, "%d\t%s\t%s\t%s\n", j.Index+1, j.ID, j.State, j.Folder)
			}
			return w.Flush()
		},
	}
}

// Show ledger history
func newStatusCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "status [run-id]",
		Short: "Show recent runs, or the jobs of one run, from the ledger",
		Args:  cobra.MaximumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			asJSON, _ := cmd.Flags().GetBool("json")
			limit, _ := cmd.Flags().GetInt("limit")
			cfg, err := loadConfig(cmd)
			if err != nil {
				return err
			}
			if _, err := os.Stat(cfg.Ledger.Path); err != nil {
				return &exitError{code: 1, err: fmt.Errorf("no ledger at %s", cfg.Ledger.Path)}
			}
			store, err := core.NewStore(cfg.Ledger.Path)
			if err != nil {
				return &exitError{code: 1, err: err}
			}
			defer store.Close()

			var out interface{}
			w := tabwriter.NewWriter(cmd.OutOrStdout(), 0, 4, 2, ' ', 0)
			if len(args) == 1 {
				sims, err := store.ListSimulations(cmd.Context(), args[0])
				if err != nil {
					return err
				}
				out = sims
				if !asJSON {
					for _, s := range sims {
						fmt.Fprintf(w, "%s\t%s\t%d\t%s\t%s\n", s.JobID, s.State, s.ExitCode, s.Folder, s.Error)
					}
				}
			} else {
				runs, err := store.ListRuns(cmd.Context(), limit)
				if err != nil {
					return err
				}
				out = runs
				if !asJSON {
					for _, r := range runs {
						code := "-"
						if r.ExitCode != nil {
							code = fmt.Sprint(*r.ExitCode)
						}
						fmt.Fprintf(w, "%s\t%s\t%s\t%d workers\texit %s\n",
							r.ID, r.StartedAt.Local().Format("2006-01-02 15:04:05"), r.Convention, r.Workers, code)
					}
				}
			}
			if asJSON {
				enc := json.NewEncoder(cmd.OutOrStdout())
				enc.SetIndent("", "  ")
				return enc.Encode(out)
			}
			return w.Flush()
		},
	}
	cmd.Flags().Bool("json", false, "print JSON")
	cmd.Flags().Int("limit", 20, "number of runs to show")
	return cmd
}

// Re-upload completed jobs
func newPublishCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "publish",
		Short: "Upload every completed job folder to the configured SFTP or S3 target",
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := loadConfig(cmd)
			if err != nil {
				return err
			}
			pub, err := core.NewPublisher(cmd.Context(), cfg.Publish, cfg.Convention.MarkerName)
			if err != nil {
				return &exitError{code: 1, err: err}
			}
			n, err := core.NewOrchestrator(cfg, core.WithPublisher(pub)).PublishCompleted(cmd.Context())
			fmt.Fprintf(cmd.OutOrStdout(), "published %d jobs\n", n)
			if err != nil {
				return &exitError{code: 1, err: err}
			}
			return nil
		},
	}
}

// Generate a key pair for publishing
func newKeygenCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "keygen",
		Short: "Generate an ed25519 key pair for the publish target",
		RunE: func(cmd *cobra.Command, args []string) error {
			out, _ := cmd.Flags().GetString("out")
			if out == "" {
				out = filepath.Join(core.ConfigHome(), "simbatch", "id_ed25519")
			}
			pub, err := gssh.GenerateEd25519Keypair(out, "simbatch")
			if err != nil {
				return &exitError{code: 1, err: err}
			}
			fmt.Fprintf(cmd.OutOrStdout(), "wrote %s\n%s", out, pub)
			return nil
		},
	}
	cmd.Flags().String("out", "", "private key path (default ~/.config/simbatch/id_ed25519)")
	return cmd
}

// Serve the HTTP API
func newServeCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "serve",
		Short: "Accept batch submissions and report their status over HTTP",
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := loadConfig(cmd)
			if err != nil {
				return err
			}
			addr, _ := cmd.Flags().GetString("addr")
			if addr == "" {
				addr = cfg.Server.Addr
			}
			ctx := cmd.Context()

			telemetry.InitGlobal(cfg.Telemetry.Enabled)
			defer func() { _ = telemetry.Shutdown() }()

			opts, store, err := runOptions(ctx, cfg)
			if err != nil {
				return err
			}
			if store != nil {
				defer store.Close()
			}

			gin.SetMode(gin.ReleaseMode)
			srv := server.New(ctx, core.NewOrchestrator(cfg, opts...), store, version)
			hs := &http.Server{Addr: addr, Handler: srv.Router(), ReadHeaderTimeout: 10 * time.Second}

			errCh := make(chan error, 1)
			go func() { errCh <- hs.ListenAndServe() }()
			log.Info().Str("addr", addr).Msg("Serving simbatch API")

			select {
			case err := <-errCh:
				if !errors.Is(err, http.ErrServerClosed) {
					return &exitError{code: 1, err: fmt.Errorf("serve: %w", err)}
				}
			case <-ctx.Done():
				log.Info().Msg("Shutting down, waiting for the running batch")
			}
			shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
			defer cancel()
			_ = hs.Shutdown(shutdownCtx)
			srv.Wait()
			return nil
		},
	}
	cmd.Flags().String("addr", "", "listen address (default from config, 127.0.0.1:8080)")
	return cmd
}

// Shell completion
func newCompletionCmd() *cobra.Command {
	return &cobra.Command{
		Use:       "completion [bash|zsh|fish|powershell]",
		Short:     "Generate shell completion script",
		Args:      cobra.ExactArgs(1),
		ValidArgs: []string{"bash", "zsh", "fish", "powershell"},
		RunE: func(cmd *cobra.Command, args []string) error {
			root := cmd.Root()
			w := cmd.OutOrStdout()
			switch args[0] {
			case "bash":
				return root.GenBashCompletionV2(w, true)
			case "zsh":
				return root.GenZshCompletion(w)
			case "fish":
				return root.GenFishCompletion(w, true)
			case "powershell":
				return root.GenPowerShellCompletionWithDesc(w)
			}
			return fmt.Errorf("unsupported shell %q", args[0])
		},
	}
}
