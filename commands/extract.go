package commands

import (
	"context"

	"github.com/spf13/cobra"

	"marketplace-elt/models"
	"marketplace-elt/scraper/mercadolivre"
	"marketplace-elt/storage"
)

var (
	extractSeeds    []string
	extractMaxPages int
	extractExport   string
	extractRender   bool
)

func init() {
	flags := extractCmd.Flags()
	flags.StringSliceVar(&extractSeeds, "seed", nil, "search result URL to start from (repeatable); overrides SEED_URLS")
	flags.IntVar(&extractMaxPages, "max-pages", 0, "maximum pages to schedule; overrides MAX_PAGES")
	flags.StringVar(&extractExport, "export", "", "also append raw rows to this CSV file; overrides RAW_EXPORT_PATH")
	flags.BoolVar(&extractRender, "render", false, "fetch pages through headless Chrome; overrides RENDER_JS")
	rootCmd.AddCommand(extractCmd)
}

var extractCmd = &cobra.Command{
	Use:   "extract [--seed URL]... [--max-pages N] [--export PATH]",
	Short: "Crawls search result pages and appends raw listings to the database.",
	RunE: func(cmd *cobra.Command, args []string) error {
		flags := cmd.Flags()
		if flags.Changed("seed") {
			cfg.SeedURLs = extractSeeds
		}
		if flags.Changed("max-pages") {
			cfg.MaxPages = extractMaxPages
		}
		if flags.Changed("export") {
			cfg.RawExportPath = extractExport
		}
		if flags.Changed("render") {
			cfg.RenderJS = extractRender
		}
		ctx := cmd.Context()

		profile, err := mercadolivre.LoadProfile(cfg.SelectorsFile)
		if err != nil {
			return err
		}

		store, err := storage.Open(ctx, cfg.DBDriver, cfg.DSN(), storage.Options{Logger: logger})
		if err != nil {
			return err
		}
		sink := storage.FanOut{store}
		if cfg.RawExportPath != "" {
			csv, err := storage.NewCSVWriter(cfg.RawExportPath)
			if err != nil {
				_ = store.Close()
				return err
			}
			sink = append(sink, csv)
			logger.Info("[extract] Exporting raw rows to %s", cfg.RawExportPath)
		}
		defer func() {
			if err := sink.Close(); err != nil {
				logger.Error("[extract] Closing outputs: %v", err)
			}
		}()

		ex := mercadolivre.New(cfg, logger, profile)
		if cfg.RenderJS {
			rt := mercadolivre.NewRenderTransport(cfg.ChromeBin, cfg.UserAgent, cfg.RequestTimeout, logger)
			defer rt.Close()
			ex.WithTransport(rt)
		}

		// rows parsed before an interrupt are still written
		writeCtx := context.WithoutCancel(ctx)
		stats, err := ex.Run(ctx, func(l *models.RawListing) error {
			return sink.InsertRaw(writeCtx, l)
		})
		if err != nil {
			return err
		}

		logger.Info("[extract] Stored %d raw listings from %d pages (run %s)", stats.Emitted, stats.PagesFetched, stats.RunID)
		return nil
	},
}
