package main

import (
	"context"
	"errors"
	"fmt"

	"github.com/danmuck/kbclient/internal/bridge"
	"github.com/danmuck/kbclient/internal/logging"
	"github.com/danmuck/kbclient/internal/protocol"
	"github.com/spf13/cobra"
)

func newNextCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "next",
		Short: "Request trains and print a per-source summary",
		Args:  cobra.NoArgs,
		RunE:  runNext,
	}
	cmd.Flags().Int(flagCount, 1, "number of trains to print (0 runs until interrupted)")
	return cmd
}

func runNext(cmd *cobra.Command, _ []string) error {
	cfg, err := resolveConfig(cmd)
	if err != nil {
		return err
	}
	count, _ := cmd.Flags().GetInt(flagCount)
	ctx := cmd.Context()
	client, err := connect(ctx, cfg)
	if err != nil {
		return err
	}
	defer client.Close()

	logger := logging.Component("next")
	out := cmd.OutOrStdout()
	timeout := waitTimeout(cfg)
	return receiveLoop(ctx, count, func(ctx context.Context) (bool, error) {
		data, ok, err := client.RequestNext(ctx, timeout)
		if err != nil {
			if errors.Is(err, protocol.ErrProtocol) {
				logger.Warn().Err(err).Msg("reply rejected")
				return false, nil
			}
			return false, err
		}
		if !ok {
			return false, nil
		}
		defer data.Release()
		if tid, ok := data.TrainID(); ok {
			fmt.Fprintf(out, "train: %d\n", tid)
		}
		fmt.Fprint(out, bridge.Summary(data))
		return true, nil
	})
}
