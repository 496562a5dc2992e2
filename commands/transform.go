package commands

import (
	"github.com/spf13/cobra"

	"marketplace-elt/services"
	"marketplace-elt/storage"
)

var (
	transformExport  string
	transformNoDedup bool
)

func init() {
	flags := transformCmd.Flags()
	flags.StringVar(&transformExport, "export", "", "write the processed table to this CSV file; overrides PROCESSED_EXPORT_PATH")
	flags.BoolVar(&transformNoDedup, "no-dedup", false, "keep every valid row instead of the latest per URL")
	rootCmd.AddCommand(transformCmd)
}

var transformCmd = &cobra.Command{
	Use:   "transform [--export PATH] [--no-dedup]",
	Short: "Rebuilds the processed listings table from every raw row.",
	RunE: func(cmd *cobra.Command, args []string) error {
		if cmd.Flags().Changed("export") {
			cfg.ProcessedExportPath = transformExport
		}
		if transformNoDedup {
			cfg.Dedup = false
		}
		ctx := cmd.Context()

		store, err := storage.Open(ctx, cfg.DBDriver, cfg.DSN(), storage.Options{Logger: logger})
		if err != nil {
			return err
		}
		defer store.Close()

		t := services.NewTransformer(logger, cfg.Dedup)
		listings, stats, err := t.Run(ctx, store, store)
		if err != nil {
			return err
		}
		logger.Info("[transform] raw=%d written=%d duplicates=%d dropped: no_url=%d no_title=%d no_price=%d bad_price=%d",
			stats.RawRows, stats.Written, stats.Duplicates,
			stats.DroppedNoURL, stats.DroppedNoTitle, stats.DroppedNoPrice, stats.DroppedBadPrice)

		if cfg.ProcessedExportPath != "" {
			if err := storage.ExportListingsCSV(cfg.ProcessedExportPath, listings); err != nil {
				return err
			}
			logger.Info("[transform] Processed listings exported to %s", cfg.ProcessedExportPath)
		}
		return nil
	},
}
