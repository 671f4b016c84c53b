package main

import (
	"fmt"
	"time"

	"github.com/spf13/cobra"
	"github.com/spf13/viper"
	"go.uber.org/zap"

	"github.com/b0ase/bsv20-treasury/config"
	"github.com/b0ase/bsv20-treasury/logger"
)

// version is set at build time with -ldflags "-X main.version=...".
var version = "dev"

type rootOptions struct {
	configFile string
	envDir     string
	cfg        *config.Config
}

func newRootCommand() *cobra.Command {
	opts := &rootOptions{}

	root := &cobra.Command{
		Use:           "treasuryd",
		Short:         "b0ase BSV-20 treasury service",
		SilenceUsage:  true,
		SilenceErrors: true,
		PersistentPreRunE: func(cmd *cobra.Command, _ []string) error {
			return opts.load(cmd)
		},
		PersistentPostRun: func(*cobra.Command, []string) {
			logger.Flush(2 * time.Second)
		},
	}

	flags := root.PersistentFlags()
	flags.StringVar(&opts.configFile, "config", "", "config file, e.g. `./config.yaml`")
	flags.StringVar(&opts.envDir, "env-dir", ".", "directory holding .env and .env.local")
	flags.Bool("debug", false, "enable debug logging")
	flags.String("log-level", "info", "log level: debug, info, warn or error")
	flags.String("network", "main", "network: main, test or regtest")

	root.AddCommand(
		newServeCommand(opts),
		newTransferCommand(opts),
		newReconcileCommand(opts),
		newBalanceCommand(opts),
		newMigrateCommand(opts),
		newKeyfileCommand(opts),
		newVersionCommand(),
	)
	return root
}

// flagKeys maps persistent flags to configuration keys.
var flagKeys = map[string]string{
	"debug":     "debug",
	"log-level": "log_level",
	"network":   "network",
}

func (o *rootOptions) load(cmd *cobra.Command) error {
	bindFlags := func(v *viper.Viper) {
		for flag, key := range flagKeys {
			if f := cmd.Flags().Lookup(flag); f != nil {
				_ = v.BindPFlag(key, f)
			}
		}
	}

	cfg, err := config.Load(o.configFile, o.envDir, bindFlags)
	if err != nil {
		return err
	}
	if err := config.ValidateConfig(*cfg); err != nil {
		return fmt.Errorf("invalid configuration: %w", err)
	}

	if err := logger.Initialize(logger.Config{
		Debug:     cfg.Debug,
		Level:     cfg.LogLevel,
		SentryDSN: cfg.SentryDSN,
		Tags: map[string]string{
			"service": "treasuryd",
			"network": cfg.Network,
			"version": version,
		},
	}); err != nil {
		return fmt.Errorf("initialize logger: %w", err)
	}
	logger.Debug("configuration loaded",
		zap.String("network", cfg.Network),
		zap.String("treasury", cfg.Treasury.Address),
		zap.String("backend", cfg.Chain.Backend),
	)

	o.cfg = cfg
	return nil
}

func newVersionCommand() *cobra.Command {
	return &cobra.Command{
		Use:   "version",
		Short: "Show treasuryd version",
		// version needs no configuration
		PersistentPreRunE: func(*cobra.Command, []string) error { return nil },
		RunE: func(cmd *cobra.Command, _ []string) error {
			_, err := fmt.Fprintln(cmd.OutOrStdout(), version)
			return err
		},
	}
}
