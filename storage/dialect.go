package storage

import (
	"errors"
	"fmt"
	"strconv"
	"strings"

	_ "github.com/lib/pq"
	_ "modernc.org/sqlite"
)

// ErrUnknownDriver is returned by Open for drivers other than sqlite and postgres.
var ErrUnknownDriver = errors.New("storage: unknown driver")

const processedTable = "listings"

type dialect struct {
	name         string
	sqlDriver    string
	rawDDL       string
	processedDDL string
	tableExists  string
	numbered     bool
}

var sqliteDialect = dialect{
	name:      "sqlite",
	sqlDriver: "sqlite",
	rawDDL: `
		CREATE TABLE IF NOT EXISTS raw_listings (
			id               INTEGER PRIMARY KEY AUTOINCREMENT,
			run_id           TEXT NOT NULL DEFAULT '',
			title            TEXT NOT NULL DEFAULT '',
			brand            TEXT NOT NULL DEFAULT '',
			seller           TEXT NOT NULL DEFAULT '',
			raw_price        TEXT NOT NULL DEFAULT '',
			raw_old_price    TEXT NOT NULL DEFAULT '',
			currency         TEXT NOT NULL DEFAULT '',
			raw_rating       TEXT NOT NULL DEFAULT '',
			raw_review_count TEXT NOT NULL DEFAULT '',
			url              TEXT NOT NULL DEFAULT '',
			page_url         TEXT NOT NULL DEFAULT '',
			scraped_at       TEXT NOT NULL
		);
		CREATE INDEX IF NOT EXISTS idx_raw_listings_url    ON raw_listings(url);
		CREATE INDEX IF NOT EXISTS idx_raw_listings_run_id ON raw_listings(run_id);
	`,
	processedDDL: `
		CREATE TABLE listings (
			raw_id       INTEGER PRIMARY KEY,
			url          TEXT    NOT NULL,
			title        TEXT    NOT NULL,
			brand        TEXT    NOT NULL DEFAULT '',
			seller       TEXT    NOT NULL DEFAULT '',
			price        REAL    NOT NULL,
			old_price    REAL,
			discount_pct REAL,
			currency     TEXT    NOT NULL DEFAULT '',
			rating       REAL,
			review_count INTEGER NOT NULL DEFAULT 0,
			source       TEXT    NOT NULL DEFAULT '',
			run_id       TEXT    NOT NULL DEFAULT '',
			scraped_at   TEXT    NOT NULL
		);
		CREATE INDEX idx_listings_url   ON listings(url);
		CREATE INDEX idx_listings_brand ON listings(brand);
		CREATE INDEX idx_listings_price ON listings(price);
	`,
	tableExists: `SELECT count(*) FROM sqlite_master WHERE type = 'table' AND name = ?`,
}

var postgresDialect = dialect{
	name:      "postgres",
	sqlDriver: "postgres",
	rawDDL: `
		CREATE TABLE IF NOT EXISTS raw_listings (
			id               BIGSERIAL PRIMARY KEY,
			run_id           TEXT NOT NULL DEFAULT '',
			title            TEXT NOT NULL DEFAULT '',
			brand            TEXT NOT NULL DEFAULT '',
			seller           TEXT NOT NULL DEFAULT '',
			raw_price        TEXT NOT NULL DEFAULT '',
			raw_old_price    TEXT NOT NULL DEFAULT '',
			currency         TEXT NOT NULL DEFAULT '',
			raw_rating       TEXT NOT NULL DEFAULT '',
			raw_review_count TEXT NOT NULL DEFAULT '',
			url              TEXT NOT NULL DEFAULT '',
			page_url         TEXT NOT NULL DEFAULT '',
			scraped_at       TEXT NOT NULL
		);
		CREATE INDEX IF NOT EXISTS idx_raw_listings_url    ON raw_listings(url);
		CREATE INDEX IF NOT EXISTS idx_raw_listings_run_id ON raw_listings(run_id);
	`,
	processedDDL: `
		CREATE TABLE listings (
			raw_id       BIGINT           PRIMARY KEY,
			url          TEXT             NOT NULL,
			title        TEXT             NOT NULL,
			brand        TEXT             NOT NULL DEFAULT '',
			seller       TEXT             NOT NULL DEFAULT '',
			price        DOUBLE PRECISION NOT NULL,
			old_price    DOUBLE PRECISION,
			discount_pct DOUBLE PRECISION,
			currency     TEXT             NOT NULL DEFAULT '',
			rating       DOUBLE PRECISION,
			review_count BIGINT           NOT NULL DEFAULT 0,
			source       TEXT             NOT NULL DEFAULT '',
			run_id       TEXT             NOT NULL DEFAULT '',
			scraped_at   TEXT             NOT NULL
		);
		CREATE INDEX idx_listings_url   ON listings(url);
		CREATE INDEX idx_listings_brand ON listings(brand);
		CREATE INDEX idx_listings_price ON listings(price);
	`,
	tableExists: `SELECT count(*) FROM information_schema.tables WHERE table_schema = current_schema() AND table_name = ?`,
	numbered:    true,
}

func dialectFor(driver string) (dialect, error) {
	switch strings.ToLower(driver) {
	case "", "sqlite", "sqlite3":
		return sqliteDialect, nil
	case "postgres", "postgresql":
		return postgresDialect, nil
	default:
		return dialect{}, fmt.Errorf("%w: %q", ErrUnknownDriver, driver)
	}
}

// rebind rewrites '?' placeholders to $1..$n for drivers that need numbered
// parameters. Queries in this package never contain literal question marks.
func (d dialect) rebind(query string) string {
	if !d.numbered {
		return query
	}
	var b strings.Builder
	n := 0
	for _, r := range query {
		if r == '?' {
			n++
			b.WriteByte('$')
			b.WriteString(strconv.Itoa(n))
			continue
		}
		b.WriteRune(r)
	}
	return b.String()
}

// dataSource decorates the configured DSN with driver-specific options.
func (d dialect) dataSource(dsn string, readOnly bool) string {
	if d.name != "sqlite" || dsn == ":memory:" || strings.HasPrefix(dsn, "file:") {
		return dsn
	}
	params := []string{"_pragma=busy_timeout(5000)"}
	if readOnly {
		params = append([]string{"mode=ro"}, params...)
	}
	return "file:" + dsn + "?" + strings.Join(params, "&")
}
