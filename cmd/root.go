// Package cmd defines and implements the CLI commands for the harvester executable.
package cmd

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"syscall"

	"github.com/spf13/cobra"
	"github.com/spf13/viper"

	"github.com/JakeFAU/heritage-harvester/internal/config"
)

// newRootCmd creates the root command. v collects flag bindings so that
// flags, environment and the config file resolve through one Viper instance.
func newRootCmd(v *viper.Viper) *cobra.Command {
	var cfgFile string
	cmd := &cobra.Command{
		Use:   "harvester",
		Short: "Resumable harvester for museum object metadata and images.",
		Long: `harvester fetches object records and images from museum collection
sites (V&A, Wallace Collection, State Hermitage) for a list of identifiers.
Runs checkpoint every resolved object and can be interrupted and resumed.`,
		SilenceUsage: true,
	}
	cmd.PersistentFlags().StringVar(&cfgFile, "config", "", "config file (yaml, json or toml)")

	cmd.AddCommand(newHarvestCmd(v, &cfgFile))
	cmd.AddCommand(newSitesCmd())
	return cmd
}

// Execute is the main entry point.
func Execute() {
	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	err := newRootCmd(config.NewViper()).ExecuteContext(ctx)
	stop()
	if err != nil {
		fmt.Fprintln(os.Stderr, "harvester:", err)
		os.Exit(1)
	}
}
