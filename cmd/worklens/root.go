package main

import (
	"context"
	"log/slog"
	"os"

	"github.com/spf13/cobra"

	"github.com/worklens/worklens/pkg/config"
	"github.com/worklens/worklens/pkg/store"
)

var (
	cfgFile string
	verbose bool

	// exitCode carries partial-failure status out of handlers that finished
	// without a hard error.
	exitCode int

	rootCmd = &cobra.Command{
		Use:          "worklens",
		Short:        "Employee work-activity analysis over facility event streams",
		SilenceUsage: true,
	}
)

func init() {
	rootCmd.PersistentFlags().StringVar(&cfgFile, "config", "", "path to YAML config file")
	rootCmd.PersistentFlags().BoolVarP(&verbose, "verbose", "v", false, "enable debug logging")
}

// Execute runs the CLI and maps outcomes onto the exit convention:
// 0 full success, 1 partial batch failure, 2 fatal (config, preload, usage).
func Execute() int {
	if err := rootCmd.Execute(); err != nil {
		return 2
	}
	return exitCode
}

type app struct {
	rt     *config.Runtime
	store  *store.Store
	logger *slog.Logger
}

// newApp loads configuration, opens the analytics store, and builds the
// shared logger. Every subcommand starts here.
func newApp() (*app, error) {
	cfg, err := config.Load(cfgFile)
	if err != nil {
		return nil, err
	}
	rt, err := cfg.Resolve()
	if err != nil {
		return nil, err
	}

	level := rt.LogLevel
	if verbose {
		level = slog.LevelDebug
	}
	logger := slog.New(slog.NewTextHandler(os.Stderr, &slog.HandlerOptions{Level: level}))
	slog.SetDefault(logger)

	st, err := store.Open(rt.Config.Database, logger)
	if err != nil {
		return nil, err
	}
	if err := st.Init(context.Background()); err != nil {
		st.Close()
		return nil, err
	}
	return &app{rt: rt, store: st, logger: logger}, nil
}

func (a *app) Close() {
	if err := a.store.Close(); err != nil {
		a.logger.Error("store close failed", "error", err)
	}
}
