package main

import (
	"context"
	"fmt"
	"os"

	"github.com/danmuck/kbclient/internal/catalog"
	"github.com/danmuck/kbclient/internal/config"
	"github.com/danmuck/kbclient/internal/logging"
	"github.com/danmuck/kbclient/internal/pipeline"
	"github.com/danmuck/kbclient/internal/sink"
	"github.com/danmuck/kbclient/internal/status"
	"github.com/rs/zerolog"
	"github.com/spf13/cobra"
	"golang.org/x/sync/errgroup"
)

func newMonitorCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "monitor",
		Short: "Stream trains through the broker with a status endpoint and optional Redis sink",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			cfg, err := resolveConfig(cmd)
			if err != nil {
				return err
			}
			if addr, _ := cmd.Flags().GetString("status-addr"); cmd.Flags().Changed("status-addr") {
				cfg.StatusAddr = addr
			}
			return runMonitor(cmd.Context(), cfg)
		},
	}
	cmd.Flags().String("status-addr", "", "status server listen address, empty disables it")
	return cmd
}

func loadCatalog(path string) (*catalog.Catalog, error) {
	if path == "" {
		return catalog.Default(), nil
	}
	return catalog.Load(path)
}

func buildSelections(cat *catalog.Catalog, sels []config.SelectionConfig) ([]pipeline.Selection, error) {
	out := make([]pipeline.Selection, 0, len(sels))
	for i, s := range sels {
		sel, err := pipeline.SelectionFromCatalog(cat, s.Category, s.Source, s.Property)
		if err != nil {
			return nil, fmt.Errorf("select[%d]: %w", i, err)
		}
		out = append(out, sel)
	}
	return out, nil
}

func runMonitor(ctx context.Context, cfg config.ClientConfig) error {
	logger := logging.Component("monitor")
	cat, err := loadCatalog(cfg.CatalogPath)
	if err != nil {
		return err
	}
	sels, err := buildSelections(cat, cfg.Selections)
	if err != nil {
		return err
	}

	client, err := connect(ctx, cfg)
	if err != nil {
		return err
	}
	defer client.Close()

	broker := pipeline.NewBroker(client, cfg.Pipeline)
	for _, sel := range sels {
		broker.Select(sel)
	}
	broker.OnSources(func(sources []string) {
		logger.Info().Strs("sources", sources).Msg("bridge sources changed")
	})

	var redisSink *sink.RedisSink
	if cfg.Redis.Enabled {
		redisSink, err = sink.NewRedisSink(ctx, sink.Config{
			URL:    cfg.Redis.URL,
			Stream: cfg.Redis.Stream,
			MaxLen: cfg.Redis.MaxLen,
			CAFile: cfg.Redis.CAFile,
		})
		if err != nil {
			return err
		}
		defer redisSink.Close()
	}

	g, gctx := errgroup.WithContext(ctx)
	runCtx, cancel := context.WithCancel(gctx)
	defer cancel()

	g.Go(func() error {
		defer cancel()
		return broker.Run(runCtx)
	})
	if cfg.StatusAddr != "" {
		host, _ := os.Hostname()
		srv := status.New(host, cfg.StatusAddr, client.Endpoint(), broker, cat,
			status.WithCorsOrigins(cfg.CorsOrigins),
			status.WithToken(cfg.StatusToken),
		)
		g.Go(func() error { return srv.Serve(runCtx) })
	}
	g.Go(func() error {
		if redisSink != nil {
			return redisSink.Consume(runCtx, broker.Queue())
		}
		return pipeline.Consume(runCtx, broker.Queue(), logTrain(logger))
	})

	err = g.Wait()
	st := broker.Stats()
	logger.Info().
		Uint64("trains", st.Trains).
		Uint64("timeouts", st.Timeouts).
		Uint64("protocol_errors", st.ProtocolErrors).
		Uint64("transport_errors", st.TransportErrors).
		Msg("monitor stopped")
	return err
}

func logTrain(logger zerolog.Logger) func(*pipeline.Train) error {
	return func(t *pipeline.Train) error {
		ev := logger.Debug().Int("items", len(t.Items)).Int("bytes", t.Data.BytesReceived())
		if t.HasID {
			ev = ev.Uint64("tid", t.ID)
		}
		for _, item := range t.Items {
			ev = ev.Str(item.Category, fmt.Sprintf("%d/%d", item.Present(), len(item.Modules)))
		}
		ev.Msg("train")
		return nil
	}
}
