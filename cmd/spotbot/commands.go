package main

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"os"
	ossignal "os/signal"
	"syscall"

	"github.com/rs/zerolog"
	"github.com/spf13/cobra"

	"spotbot-go/internal/config"
	"spotbot-go/internal/metrics"
	"spotbot-go/internal/util"
)

type rootFlags struct {
	configPath string
	envFile    string
	logLevel   string
}

func newRootCmd() *cobra.Command {
	flags := &rootFlags{}
	root := &cobra.Command{
		Use:           "spotbot",
		Short:         "Single-pair spot trading bot",
		SilenceUsage: true,
	}
	root.PersistentFlags().StringVar(&flags.configPath, "config", "config.yaml", "configuration file path")
	root.PersistentFlags().StringVar(&flags.envFile, "env-file", ".env", "optional dotenv file with credentials")
	root.PersistentFlags().StringVar(&flags.logLevel, "log-level", "", "override the configured log level")

	root.AddCommand(newRunCmd(flags))
	root.AddCommand(newOnceCmd(flags))
	root.AddCommand(newReconcileCmd(flags))
	root.AddCommand(newTradesCmd(flags))
	root.AddCommand(newConfigCmd(flags))
	return root
}

// loadSettings resolves config file, env overrides and the process logger.
func loadSettings(flags *rootFlags) (*config.Config, zerolog.Logger, error) {
	cfg, err := config.LoadOrDefault(flags.configPath)
	if err != nil {
		return nil, zerolog.Nop(), err
	}
	cfg.ApplyEnv(flags.envFile)
	if flags.logLevel != "" {
		cfg.App.LogLevel = flags.logLevel
	}
	if err := cfg.Validate(); err != nil {
		return nil, zerolog.Nop(), err
	}
	log := util.NewLogger(cfg.App.LogLevel, cfg.App.LogFormat)
	return cfg, log, nil
}

func signalContext() (context.Context, context.CancelFunc) {
	return ossignal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
}

func newRunCmd(flags *rootFlags) *cobra.Command {
	return &cobra.Command{
		Use:   "run",
		Short: "Reconcile, then trade on every tick until interrupted",
		RunE: func(cmd *cobra.Command, _ []string) error {
			cfg, log, err := loadSettings(flags)
			if err != nil {
				return err
			}
			ctx, cancel := signalContext()
			defer cancel()

			bot, err := build(ctx, cfg, log)
			if err != nil {
				return err
			}
			defer bot.Close()

			if cfg.App.MetricsAddr != "" {
				srv := metrics.Serve(cfg.App.MetricsAddr)
				defer srv.Close()
				log.Info().Str("addr", cfg.App.MetricsAddr).Msg("metrics up")
			}
			log.Info().Str("env", cfg.App.Env).Str("sym", cfg.Exchange.Symbol).Str("provider", cfg.Exchange.Provider).
				Str("strategy", bot.strategy.Name()).Msg("spotbot starting")
			if err := bot.runner.Run(ctx); err != nil {
				return err
			}
			log.Info().Msg("shutting down")
			return nil
		},
	}
}

func newOnceCmd(flags *rootFlags) *cobra.Command {
	return &cobra.Command{
		Use:   "once",
		Short: "Reconcile and run a single cycle",
		RunE: func(cmd *cobra.Command, _ []string) error {
			cfg, log, err := loadSettings(flags)
			if err != nil {
				return err
			}
			ctx, cancel := signalContext()
			defer cancel()

			bot, err := build(ctx, cfg, log)
			if err != nil {
				return err
			}
			defer bot.Close()

			if err := bot.runner.Start(ctx); err != nil {
				return err
			}
			outcome, err := bot.runner.RunCycle(ctx)
			fmt.Fprintf(cmd.OutOrStdout(), "outcome=%s position=%s\n", outcome, bot.runner.Position())
			return err
		},
	}
}

func newReconcileCmd(flags *rootFlags) *cobra.Command {
	return &cobra.Command{
		Use:   "reconcile",
		Short: "Align the persisted position with the venue balance",
		RunE: func(cmd *cobra.Command, _ []string) error {
			cfg, log, err := loadSettings(flags)
			if err != nil {
				return err
			}
			ctx, cancel := signalContext()
			defer cancel()

			bot, err := build(ctx, cfg, log)
			if err != nil {
				return err
			}
			defer bot.Close()

			st, err := bot.states.Load()
			if err != nil {
				log.Warn().Err(err).Msg("persisted state unreadable, reconciling from flat")
			} else {
				bot.runner.Restore(st)
			}
			rec, err := bot.runner.Reconcile(ctx)
			if err != nil {
				return err
			}
			fmt.Fprintf(cmd.OutOrStdout(), "persisted=%s live=%s mismatch=%t\n", rec.Persisted, rec.Result, rec.Mismatch)
			return nil
		},
	}
}

func newTradesCmd(flags *rootFlags) *cobra.Command {
	var limit int
	cmd := &cobra.Command{
		Use:   "trades",
		Short: "Print the most recent journal entries as JSON lines",
		RunE: func(cmd *cobra.Command, _ []string) error {
			cfg, _, err := loadSettings(flags)
			if err != nil {
				return err
			}
			journal, closeJournal, err := openJournal(cfg.Storage)
			if err != nil {
				return err
			}
			defer closeJournal()

			recs, err := journal.Recent(cmd.Context(), limit)
			if err != nil {
				return err
			}
			enc := json.NewEncoder(cmd.OutOrStdout())
			for _, rec := range recs {
				if err := enc.Encode(rec); err != nil {
					return err
				}
			}
			return nil
		},
	}
	cmd.Flags().IntVar(&limit, "limit", 20, "number of records to show, 0 for all")
	return cmd
}

func newConfigCmd(flags *rootFlags) *cobra.Command {
	cmd := &cobra.Command{
		Use:   "config",
		Short: "Inspect or scaffold configuration",
	}
	cmd.AddCommand(&cobra.Command{
		Use:   "init",
		Short: "Write the default configuration to --config",
		RunE: func(cmd *cobra.Command, _ []string) error {
			if _, err := os.Stat(flags.configPath); err == nil {
				return fmt.Errorf("%s already exists", flags.configPath)
			} else if !errors.Is(err, os.ErrNotExist) {
				return err
			}
			if err := config.Save(flags.configPath, config.Default()); err != nil {
				return err
			}
			fmt.Fprintf(cmd.OutOrStdout(), "wrote %s\n", flags.configPath)
			return nil
		},
	})
	cmd.AddCommand(&cobra.Command{
		Use:   "check",
		Short: "Validate the configuration and print the effective mode",
		RunE: func(cmd *cobra.Command, _ []string) error {
			cfg, _, err := loadSettings(flags)
			if err != nil {
				return err
			}
			fmt.Fprintf(cmd.OutOrStdout(), "ok env=%s sym=%s provider=%s journal=%s\n",
				cfg.App.Env, cfg.Exchange.Symbol, cfg.Exchange.Provider, cfg.Storage.Journal)
			return nil
		},
	})
	return cmd
}
