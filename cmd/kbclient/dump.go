package main

import (
	"context"
	"fmt"

	"github.com/danmuck/kbclient/internal/bridge"
	"github.com/spf13/cobra"
)

func newDumpCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "dump",
		Short: "Print raw bridge replies frame by frame",
		Args:  cobra.NoArgs,
		RunE:  runDump,
	}
	cmd.Flags().Int(flagCount, 1, "number of replies to print (0 runs until interrupted)")
	return cmd
}

func runDump(cmd *cobra.Command, _ []string) error {
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

	out := cmd.OutOrStdout()
	timeout := waitTimeout(cfg)
	return receiveLoop(ctx, count, func(ctx context.Context) (bool, error) {
		reply, ok, err := client.RequestRaw(ctx, timeout)
		if err != nil || !ok {
			return false, err
		}
		fmt.Fprint(out, bridge.Dump(reply))
		return true, nil
	})
}
