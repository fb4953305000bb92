package main

import (
	"context"
	"errors"
	"time"

	"github.com/danmuck/kbclient/internal/bridge"
	"github.com/danmuck/kbclient/internal/config"
	"github.com/danmuck/kbclient/internal/logging"
	"github.com/spf13/cobra"
)

const (
	flagConfig   = "config"
	flagEndpoint = "endpoint"
	flagTimeout  = "timeout"
	flagCount    = "count"
	flagLogLevel = "log-level"
)

func newRootCmd() *cobra.Command {
	root := &cobra.Command{
		Use:           "kbclient",
		Short:         "Client for Karabo bridge data streams",
		SilenceUsage:  true,
		SilenceErrors: true,
		PersistentPreRunE: func(cmd *cobra.Command, _ []string) error {
			if !cmd.Flags().Changed(flagLogLevel) {
				return nil
			}
			lvl, _ := cmd.Flags().GetString(flagLogLevel)
			return logging.SetLevel(lvl)
		},
	}
	root.PersistentFlags().String(flagConfig, "", "client config file (TOML)")
	root.PersistentFlags().String(flagEndpoint, "", "bridge endpoint, overrides the config file")
	root.PersistentFlags().Duration(flagTimeout, 0, "receive timeout, overrides the config file")
	root.PersistentFlags().String(flagLogLevel, "", "log level (trace|debug|info|warn|error|off)")

	root.AddCommand(newNextCmd(), newDumpCmd(), newMonitorCmd(), newCatalogCmd(), newConfigCmd())
	return root
}

// resolveConfig loads --config (or the defaults) and applies flag overrides.
func resolveConfig(cmd *cobra.Command) (config.ClientConfig, error) {
	cfg := config.DefaultClientConfig()
	flags := cmd.Flags()
	if path, _ := flags.GetString(flagConfig); path != "" {
		loaded, err := config.LoadClientConfig(path)
		if err != nil {
			return cfg, err
		}
		cfg = loaded
	}
	if flags.Changed(flagEndpoint) {
		cfg.Endpoint, _ = flags.GetString(flagEndpoint)
	}
	if flags.Changed(flagTimeout) {
		d, _ := flags.GetDuration(flagTimeout)
		cfg.Session.ReceiveTimeout = d
		cfg.Pipeline.Timeout = d
	}
	if err := config.ValidateClientConfig(cfg); err != nil {
		return cfg, err
	}
	return cfg, nil
}

func connect(ctx context.Context, cfg config.ClientConfig) (*bridge.Client, error) {
	return bridge.Connect(ctx, cfg.Endpoint,
		bridge.WithSessionConfig(cfg.Session),
		bridge.WithLimits(cfg.Limits),
	)
}

// receiveLoop calls fn until it has been called count times. Timeouts retry;
// ctx cancellation ends the loop without error.
func receiveLoop(ctx context.Context, count int, fn func(context.Context) (bool, error)) error {
	for got := 0; count <= 0 || got < count; {
		ok, err := fn(ctx)
		if err != nil {
			if errors.Is(err, context.Canceled) || ctx.Err() != nil {
				return nil
			}
			return err
		}
		if ok {
			got++
		}
	}
	return nil
}

func waitTimeout(cfg config.ClientConfig) time.Duration {
	if cfg.Session.ReceiveTimeout > 0 {
		return cfg.Session.ReceiveTimeout
	}
	return 100 * time.Millisecond
}
