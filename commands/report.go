package commands

import (
	"errors"

	"github.com/spf13/cobra"

	"marketplace-elt/services"
	"marketplace-elt/storage"
)

// ErrNotTransformed is returned by report before any transform has run.
var ErrNotTransformed = errors.New("no processed listings yet, run transform first")

func init() {
	rootCmd.AddCommand(reportCmd)
}

var reportCmd = &cobra.Command{
	Use:   "report",
	Short: "Prints market aggregates and extract run history as terminal tables.",
	RunE: func(cmd *cobra.Command, args []string) error {
		ctx := cmd.Context()

		store, err := storage.Open(ctx, cfg.DBDriver, cfg.DSN(), storage.Options{ReadOnly: true, Logger: logger})
		if errors.Is(err, storage.ErrNoDatabase) {
			return ErrNotTransformed
		}
		if err != nil {
			return err
		}
		defer store.Close()

		ready, err := store.ProcessedReady(ctx)
		if err != nil {
			return err
		}
		if !ready {
			return ErrNotTransformed
		}

		listings, err := store.FetchListings(ctx)
		if err != nil {
			return err
		}
		runs, err := store.Runs(ctx)
		if err != nil {
			return err
		}

		svc := services.NewInsightService(logger)
		svc.Print(cmd.OutOrStdout(), svc.Generate(listings), runs)
		return nil
	},
}
