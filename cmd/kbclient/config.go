package main

import (
	"fmt"

	"github.com/danmuck/kbclient/internal/config"
	"github.com/spf13/cobra"
)

func newConfigCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "config",
		Short: "Write or validate config files",
	}

	template := &cobra.Command{
		Use:       "template [client|catalog]",
		Short:     "Print a config template, or write it with --output",
		Args:      cobra.MaximumNArgs(1),
		ValidArgs: []string{"client", "catalog"},
		RunE: func(cmd *cobra.Command, args []string) error {
			kind := "client"
			if len(args) == 1 {
				kind = args[0]
			}
			output, _ := cmd.Flags().GetString("output")
			force, _ := cmd.Flags().GetBool("force")
			if output != "" {
				if err := config.WriteTemplate(output, kind, force); err != nil {
					return err
				}
				fmt.Fprintf(cmd.OutOrStdout(), "wrote %s template to %s\n", kind, output)
				return nil
			}
			text, err := config.Template(kind)
			if err != nil {
				return err
			}
			fmt.Fprint(cmd.OutOrStdout(), text)
			return nil
		},
	}
	template.Flags().String("output", "", "write the template to this path")
	template.Flags().Bool("force", false, "overwrite an existing file")

	validate := &cobra.Command{
		Use:   "validate <path>",
		Short: "Validate a client config file and its catalog",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := config.LoadClientConfig(args[0])
			if err != nil {
				return err
			}
			cat, err := loadCatalog(cfg.CatalogPath)
			if err != nil {
				return err
			}
			if _, err := buildSelections(cat, cfg.Selections); err != nil {
				return err
			}
			fmt.Fprintf(cmd.OutOrStdout(), "validated client config at %s\n", args[0])
			return nil
		},
	}

	cmd.AddCommand(template, validate)
	return cmd
}
