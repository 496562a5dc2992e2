package commands

import (
	"context"
	"fmt"
	"os"

	"github.com/spf13/cobra"

	"marketplace-elt/config"
	"marketplace-elt/utils"
)

var (
	cfg    *config.Config
	logger *utils.Logger

	dbPath   string
	dbDriver string
	logLevel string
)

var rootCmd = &cobra.Command{
	Use:   "marketplace-elt",
	Short: "marketplace-elt extracts Mercado Livre listings, cleans them and serves a market dashboard.",
	Long: `marketplace-elt runs four independent stages over one database:

  extract    crawl search result pages into the raw_listings table
  transform  rebuild the listings table from every raw row
  serve      open the read-only web dashboard
  report     print the market summary to the terminal`,
	SilenceUsage:      true,
	SilenceErrors:     true,
	PersistentPreRunE: setup,
}

func init() {
	flags := rootCmd.PersistentFlags()
	flags.StringVar(&dbPath, "db", "", "database file (sqlite) or DSN (postgres); overrides DB_PATH / POSTGRES_DSN")
	flags.StringVar(&dbDriver, "driver", "", "database driver: sqlite or postgres; overrides DB_DRIVER")
	flags.StringVar(&logLevel, "log-level", "", "debug, info, warn or error; overrides LOG_LEVEL")
}

// setup loads configuration and applies global flag overrides.
func setup(cmd *cobra.Command, _ []string) error {
	cfg = config.Load()
	if dbDriver != "" {
		cfg.DBDriver = dbDriver
	}
	if dbPath != "" {
		if cfg.DBDriver == "postgres" {
			cfg.PostgresDSN = dbPath
		} else {
			cfg.DBPath = dbPath
		}
	}
	if logLevel != "" {
		cfg.LogLevel = logLevel
	}
	logger = utils.NewLoggerTo(cmd.ErrOrStderr(), cfg.LogLevel)
	return nil
}

// ExecuteContext runs the CLI and exits non-zero on failure.
func ExecuteContext(ctx context.Context) {
	if err := rootCmd.ExecuteContext(ctx); err != nil {
		if logger != nil {
			logger.Error("%v", err)
		} else {
			fmt.Fprintln(os.Stderr, err)
		}
		os.Exit(1)
	}
}
