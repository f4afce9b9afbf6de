package cmd

import (
	"fmt"

	"github.com/spf13/cobra"
	"github.com/spf13/viper"
	"go.uber.org/zap"

	"github.com/JakeFAU/heritage-harvester/internal/config"
	"github.com/JakeFAU/heritage-harvester/internal/logging"
)

// flagKeys maps harvest flags onto configuration keys.
var flagKeys = map[string]string{
	"site":            "harvest.site",
	"input":           "harvest.input",
	"output":          "harvest.output_dir",
	"max-concurrency": "harvest.max_concurrency",
	"retry-ceiling":   "harvest.retry_ceiling",
	"resume":          "harvest.resume",
	"retry-failed":    "harvest.retry_failed",
	"overwrite":       "harvest.overwrite",
	"aggregate-file":  "harvest.aggregate_file",
	"storage":         "storage.backend",
	"ledger":          "ledger.backend",
	"metrics-addr":    "metrics.addr",
	"log-level":       "logging.level",
}

// newHarvestCmd creates the 'harvest' subcommand.
func newHarvestCmd(v *viper.Viper, cfgFile *string) *cobra.Command {
	cmd := &cobra.Command{
		Use:   "harvest",
		Short: "Harvest the objects listed in an input",
		Long: `Reads identifiers from --input (a Zotero CSV export for vanda, any text
containing objectId= links for wallace, a search URL for hermitage),
fetches each object and its images and writes one JSON record per object
plus an aggregate CSV. Objects recorded by an earlier run are skipped
unless --resume=false.`,
		Args: cobra.NoArgs,
		PreRunE: func(cmd *cobra.Command, _ []string) error {
			return bindFlags(v, cmd)
		},
		RunE: func(cmd *cobra.Command, _ []string) error {
			cfg, err := config.LoadFrom(v, *cfgFile)
			if err != nil {
				return err
			}
			logger, err := logging.New(cfg.Logging.Development, cfg.Logging.Level)
			if err != nil {
				return err
			}
			defer logger.Sync() //nolint:errcheck // best-effort flush

			if err := runHarvest(cmd.Context(), cfg, logger); err != nil {
				logger.Error("harvest failed", zap.Error(err))
				return err
			}
			return nil
		},
	}

	flags := cmd.Flags()
	flags.String("site", "", "museum site: vanda, wallace or hermitage")
	flags.String("input", "", "input file, or search URL for hermitage")
	flags.String("output", "output", "output directory for records, images and ledgers")
	flags.Int("max-concurrency", 10, "maximum number of concurrent fetches")
	flags.Int("retry-ceiling", 3, "attempts per object before it is recorded as failed")
	flags.Bool("resume", true, "skip objects recorded by earlier runs")
	flags.Bool("retry-failed", false, "re-attempt objects recorded as failed by earlier runs")
	flags.Bool("overwrite", false, "delete the output directory before harvesting")
	flags.String("aggregate-file", "harvest.csv", "name of the aggregate CSV report")
	flags.String("storage", config.BackendLocal, "record storage backend: local, gcs or memory")
	flags.String("ledger", config.BackendFile, "progress ledger backend: file, postgres or memory")
	flags.String("metrics-addr", "", "serve /metrics and /v1/runs on this address while harvesting")
	flags.String("log-level", "info", "log level")
	return cmd
}

func bindFlags(v *viper.Viper, cmd *cobra.Command) error {
	for name, key := range flagKeys {
		if err := v.BindPFlag(key, cmd.Flags().Lookup(name)); err != nil {
			return fmt.Errorf("bind flag %s: %w", name, err)
		}
	}
	return nil
}
