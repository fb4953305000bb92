package main

import (
	"fmt"
	"strings"

	"github.com/spf13/cobra"
)

func newCatalogCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "catalog [category]",
		Short: "List known source categories, or the sources and properties of one",
		Args:  cobra.MaximumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			path, _ := cmd.Flags().GetString("file")
			cat, err := loadCatalog(path)
			if err != nil {
				return err
			}
			out := cmd.OutOrStdout()
			if len(args) == 0 {
				for _, s := range cat.Summaries() {
					excl := ""
					if s.Exclusive {
						excl = " (exclusive)"
					}
					fmt.Fprintf(out, "%s%s: %d sources\n", s.Name, excl, len(s.Sources))
				}
				return nil
			}
			c, err := cat.Category(args[0])
			if err != nil {
				return err
			}
			for _, src := range c.Sources() {
				fmt.Fprintf(out, "%s: %s\n", src, strings.Join(c.PropertiesFor(src), ", "))
			}
			return nil
		},
	}
	cmd.Flags().String("file", "", "catalog TOML file (defaults to the built-in catalog)")
	return cmd
}
