package cmd

import (
	"fmt"

	"github.com/spf13/cobra"

	"github.com/JakeFAU/heritage-harvester/internal/site"
)

func newSitesCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "sites",
		Short: "List the supported museum sites",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			for _, name := range site.Names() {
				if _, err := fmt.Fprintln(cmd.OutOrStdout(), name); err != nil {
					return fmt.Errorf("write site list: %w", err)
				}
			}
			return nil
		},
	}
}
