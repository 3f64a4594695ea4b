package main

import (
	"context"
	"errors"
	"fmt"
	"os"
	"os/signal"
	"strconv"
	"syscall"
	"time"

	"github.com/rs/zerolog"
	"github.com/rs/zerolog/log"
	"github.com/spf13/cobra"

	core "github.com/3cpo-dev/simbatch/internal/core"
	"github.com/3cpo-dev/simbatch/internal/telemetry"
)

var (
	version   = "1.0.0"
	commit    = ""
	buildDate = ""
)

// exitError carries the process exit status out of a command.
type exitError struct {
	code int
	err  error
}

func (e *exitError) Error() string {
	if e.err == nil {
		return fmt.Sprintf("exit status %d", e.code)
	}
	return e.err.Error()
}

func (e *exitError) Unwrap() error { return e.err }

// Create the root command
func newRootCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "simbatch [threads]",
		Short: "simbatch: run a batch of simulation folders on a local worker pool",
		Long: "simbatch discovers simulation job folders, runs the external engine once per " +
			"folder across a fixed number of workers and skips folders that already completed.",
		Args:          cobra.MaximumNArgs(1),
		RunE:          runBatch,
		SilenceUsage:  true,
		SilenceErrors: true,
	}

	cmd.PersistentFlags().StringP("log", "l", "info", "Set log level. Available: trace, debug, info, warn, error, fatal")
	cmd.PersistentFlags().String("config", "", "config file (default ./simbatch.yaml, then ~/.config/simbatch/config.yaml)")
	cmd.PersistentFlags().String("convention", "", "naming convention preset: staging, mat_files, silver")
	cmd.PersistentFlags().String("workdir", "", "directory that data_lake/ and simulation/ are relative to")

	cmd.PersistentPreRunE = func(c *cobra.Command, args []string) error {
		levelStr, _ := c.Flags().GetString("log")
		switch levelStr {
		case "trace":
			zerolog.SetGlobalLevel(zerolog.TraceLevel)
		case "debug":
			zerolog.SetGlobalLevel(zerolog.DebugLevel)
		case "info":
			zerolog.SetGlobalLevel(zerolog.InfoLevel)
		case "warn":
			zerolog.SetGlobalLevel(zerolog.WarnLevel)
		case "error":
			zerolog.SetGlobalLevel(zerolog.ErrorLevel)
		case "fatal":
			zerolog.SetGlobalLevel(zerolog.FatalLevel)
		default:
			zerolog.SetGlobalLevel(zerolog.InfoLevel)
		}
		if dir, _ := c.Flags().GetString("workdir"); dir != "" {
			if err := os.Chdir(dir); err != nil {
				return &exitError{code: 1, err: fmt.Errorf("workdir: %w", err)}
			}
		}
		return nil
	}

	cmd.AddCommand(newVersionCmd())
	cmd.AddCommand(newLsCmd())
	cmd.AddCommand(newStatusCmd())
	cmd.AddCommand(newPublishCmd())
	cmd.AddCommand(newKeygenCmd())
	cmd.AddCommand(newServeCmd())
	cmd.AddCommand(newCompletionCmd())
	return cmd
}

// Create the version command
func newVersionCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "version",
		Short: "Print version information",
		Run: func(cmd *cobra.Command, args []string) {
			fmt.Fprintf(cmd.OutOrStdout(), "simbatch %s (%s) %s\n", version, commit, buildDate)
		},
	}
}

// loadConfig resolves --config and --convention.
func loadConfig(cmd *cobra.Command) (core.Config, error) {
	cfgPath, _ := cmd.Flags().GetString("config")
	preset, _ := cmd.Flags().GetString("convention")
	cfg, err := core.LoadConfig(cfgPath, preset)
	if err != nil {
		return cfg, &exitError{code: 1, err: err}
	}
	return cfg, nil
}

// Run the batch
func runBatch(cmd *cobra.Command, args []string) error {
	workers := 0
	if len(args) == 1 {
		n, err := strconv.Atoi(args[0])
		if err != nil || n < 1 {
			return &exitError{code: 1, err: fmt.Errorf("invalid thread count %q: want a positive integer", args[0])}
		}
		workers = n
	}
	cfg, err := loadConfig(cmd)
	if err != nil {
		return err
	}

	telemetry.InitGlobal(cfg.Telemetry.Enabled)
	defer func() { _ = telemetry.Shutdown() }()

	opts, store, err := runOptions(cmd.Context(), cfg)
	if err != nil {
		return err
	}
	if store != nil {
		defer store.Close()
	}

	start := time.Now()
	res, err := core.NewOrchestrator(cfg, opts...).Run(cmd.Context(), workers)
	if err != nil {
		if errors.Is(err, core.ErrNoJobsFound) {
			return &exitError{code: 1, err: fmt.Errorf("no simulation folders found: %w", err)}
		}
		return &exitError{code: 1, err: err}
	}

	log.Info().
		Int("total", res.Total()).
		Int("succeeded", res.Succeeded).
		Int("skipped", res.Skipped).
		Int("failed", len(res.Failures)).
		Dur("duration", time.Since(start)).
		Msg("Batch finished")
	if res.Code != 0 {
		for _, f := range res.Failures {
			fmt.Fprintf(cmd.ErrOrStderr(), "[ERROR] %s: %v\n", f.Folder, f.Err)
		}
		fmt.Fprintln(cmd.ErrOrStderr(), "[ERROR] One or more simulations failed.")
		return &exitError{code: res.Code}
	}
	fmt.Fprintln(cmd.OutOrStdout(), "[INFO] All simulations completed.")
	return nil
}

// runOptions opens the ledger and the publisher when they are enabled. An
// unavailable ledger only costs history; a broken publisher aborts.
func runOptions(ctx context.Context, cfg core.Config) ([]core.Option, *core.Store, error) {
	var opts []core.Option
	var store *core.Store
	if cfg.Ledger.Enabled {
		s, err := core.NewStore(cfg.Ledger.Path)
		if err != nil {
			log.Warn().Err(err).Str("path", cfg.Ledger.Path).Msg("Ledger unavailable, continuing without it")
		} else {
			store = s
			opts = append(opts, core.WithStore(store))
		}
	}
	if cfg.Publish.Enabled {
		pub, err := core.NewPublisher(ctx, cfg.Publish, cfg.Convention.MarkerName)
		if err != nil {
			if store != nil {
				_ = store.Close()
			}
			return nil, nil, &exitError{code: 1, err: err}
		}
		opts = append(opts, core.WithPublisher(pub))
	}
	return opts, store, nil
}

// Setup the logger
func setupLogger() {
	level := zerolog.InfoLevel
	zerolog.TimeFieldFormat = time.RFC3339Nano
	log.Logger = log.Output(zerolog.ConsoleWriter{Out: os.Stderr, TimeFormat: time.RFC3339})
	zerolog.SetGlobalLevel(level)
}

// exitCode reports err on stderr and maps it to a process status.
func exitCode(err error) int {
	if err == nil {
		return 0
	}
	var ee *exitError
	if errors.As(err, &ee) {
		if ee.err != nil {
			fmt.Fprintln(os.Stderr, ee.err)
		}
		return ee.code
	}
	fmt.Fprintln(os.Stderr, err)
	return 1
}

// Main entry point
func main() {
	setupLogger()
	root := newRootCmd()
	ctx, cancel := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer cancel()
	root.SetContext(ctx)
	code := exitCode(root.Execute())
	cancel()
	os.Exit(code)
}
