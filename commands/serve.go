package commands

import (
	"github.com/spf13/cobra"

	"marketplace-elt/dashboard"
	"marketplace-elt/storage"
)

var serveAddr string

func init() {
	serveCmd.Flags().StringVar(&serveAddr, "addr", "", "listen address; overrides HTTP_ADDR")
	rootCmd.AddCommand(serveCmd)
}

var serveCmd = &cobra.Command{
	Use:   "serve [--addr ADDR]",
	Short: "Serves the read-only market dashboard over the processed table.",
	RunE: func(cmd *cobra.Command, args []string) error {
		if serveAddr != "" {
			cfg.HTTPAddr = serveAddr
		}
		ctx := cmd.Context()

		store := storage.OpenDeferred(cfg.DBDriver, cfg.DSN(), storage.Options{Logger: logger})
		defer store.Close()

		if ready, err := store.ProcessedReady(ctx); err != nil {
			return err
		} else if !ready {
			logger.Warn("[serve] No processed table yet; run extract and transform to populate the dashboard")
		}

		srv, err := dashboard.New(store, logger)
		if err != nil {
			return err
		}
		return srv.ListenAndServe(ctx, cfg.HTTPAddr, cfg.ShutdownTimeout)
	},
}
