package storage

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"io/fs"
	"os"
	"path/filepath"
	"strings"
	"time"

	"marketplace-elt/models"
	"marketplace-elt/utils"
)

// ErrNoDatabase is returned when a read-only store is opened on a SQLite file
// that does not exist yet, i.e. before the first extract.
var ErrNoDatabase = errors.New("storage: database does not exist")

// Options tune how a Store is opened.
type Options struct {
	// ReadOnly skips schema migration and opens SQLite files with mode=ro.
	ReadOnly bool
	Logger   *utils.Logger
}

// Store persists raw and processed listings through database/sql.
type Store struct {
	db      *sql.DB
	dialect dialect
	logger  *utils.Logger
}

// Open connects to the database, waits for it to answer and, unless the
// store is read-only, creates the raw table if it does not exist yet.
func Open(ctx context.Context, driver, dsn string, opts Options) (*Store, error) {
	d, err := dialectFor(driver)
	if err != nil {
		return nil, err
	}
	logger := opts.Logger
	if logger == nil {
		logger = utils.NewLogger()
	}

	if d.name == "sqlite" && dsn != ":memory:" && !strings.HasPrefix(dsn, "file:") {
		if opts.ReadOnly {
			if _, err := os.Stat(dsn); errors.Is(err, fs.ErrNotExist) {
				return nil, fmt.Errorf("%w: %s", ErrNoDatabase, dsn)
			}
		} else if err := os.MkdirAll(filepath.Dir(dsn), 0755); err != nil {
			return nil, fmt.Errorf("storage: create db dir: %w", err)
		}
	}

	db, err := sql.Open(d.sqlDriver, d.dataSource(dsn, opts.ReadOnly))
	if err != nil {
		return nil, fmt.Errorf("storage: open: %w", err)
	}
	if d.name == "sqlite" {
		// one writer at a time; also keeps :memory: databases on one connection
		db.SetMaxOpenConns(1)
	} else {
		db.SetMaxOpenConns(10)
		db.SetMaxIdleConns(5)
		db.SetConnMaxLifetime(5 * time.Minute)
	}

	// SQLite open errors are not transient
	retry := &utils.RetryConfig{MaxAttempts: 1, Logger: logger}
	if d.name == "postgres" {
		retry.MaxAttempts, retry.BaseDelay = 5, 500*time.Millisecond
	}
	if err := retry.Do(ctx, "storage-ping", func() error { return db.PingContext(ctx) }); err != nil {
		_ = db.Close()
		return nil, fmt.Errorf("storage: ping: %w", err)
	}

	s := &Store{db: db, dialect: d, logger: logger}
	if !opts.ReadOnly {
		if err := s.migrate(ctx); err != nil {
			_ = db.Close()
			return nil, fmt.Errorf("storage: migrate: %w", err)
		}
	}
	logger.Debug("[storage] Opened %s store (read-only=%t)", d.name, opts.ReadOnly)
	return s, nil
}

func (s *Store) migrate(ctx context.Context) error {
	_, err := s.db.ExecContext(ctx, s.dialect.rawDDL)
	return err
}

// InsertRaw appends one raw record in its own implicit transaction, so rows
// written before a crash survive it.
func (s *Store) InsertRaw(ctx context.Context, l *models.RawListing) error {
	_, err := s.db.ExecContext(ctx, s.dialect.rebind(`
		INSERT INTO raw_listings (run_id, title, brand, seller, raw_price, raw_old_price, currency,
			raw_rating, raw_review_count, url, page_url, scraped_at)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)
	`),
		l.RunID, l.Title, l.Brand, l.Seller, l.RawPrice, l.RawOldPrice, l.Currency,
		l.RawRating, l.RawReviewCount, l.URL, l.PageURL, formatTime(l.ScrapedAt),
	)
	if err != nil {
		return fmt.Errorf("storage: insert raw: %w", err)
	}
	return nil
}

// FetchRaw returns every raw row ordered by id.
func (s *Store) FetchRaw(ctx context.Context) ([]*models.RawListing, error) {
	rows, err := s.db.QueryContext(ctx, `
		SELECT id, run_id, title, brand, seller, raw_price, raw_old_price, currency,
			raw_rating, raw_review_count, url, page_url, scraped_at
		FROM raw_listings
		ORDER BY id
	`)
	if err != nil {
		return nil, fmt.Errorf("storage: fetch raw: %w", err)
	}
	defer rows.Close()

	var listings []*models.RawListing
	for rows.Next() {
		l := &models.RawListing{}
		var scrapedAt string
		if err := rows.Scan(
			&l.ID, &l.RunID, &l.Title, &l.Brand, &l.Seller, &l.RawPrice, &l.RawOldPrice, &l.Currency,
			&l.RawRating, &l.RawReviewCount, &l.URL, &l.PageURL, &scrapedAt,
		); err != nil {
			return nil, fmt.Errorf("storage: scan raw row: %w", err)
		}
		if l.ScrapedAt, err = parseTime(scrapedAt); err != nil {
			return nil, fmt.Errorf("storage: raw row %d: %w", l.ID, err)
		}
		listings = append(listings, l)
	}
	return listings, rows.Err()
}

// ReplaceListings drops and recreates the processed table and inserts the
// given rows, all inside one transaction.
func (s *Store) ReplaceListings(ctx context.Context, listings []*models.Listing) (err error) {
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("storage: begin: %w", err)
	}
	defer func() {
		if err != nil {
			_ = tx.Rollback()
		}
	}()

	if _, err = tx.ExecContext(ctx, "DROP TABLE IF EXISTS "+processedTable); err != nil {
		return fmt.Errorf("storage: drop processed: %w", err)
	}
	if _, err = tx.ExecContext(ctx, s.dialect.processedDDL); err != nil {
		return fmt.Errorf("storage: create processed: %w", err)
	}

	stmt, err := tx.PrepareContext(ctx, s.dialect.rebind(`
		INSERT INTO listings (raw_id, url, title, brand, seller, price, old_price, discount_pct,
			currency, rating, review_count, source, run_id, scraped_at)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)
	`))
	if err != nil {
		return fmt.Errorf("storage: prepare processed insert: %w", err)
	}
	defer stmt.Close()

	for _, l := range listings {
		if _, err = stmt.ExecContext(ctx,
			l.RawID, l.URL, l.Title, l.Brand, l.Seller, l.Price, nullFloat(l.OldPrice), nullFloat(l.DiscountPct),
			l.Currency, nullFloat(l.Rating), l.ReviewCount, l.Source, l.RunID, formatTime(l.ScrapedAt),
		); err != nil {
			return fmt.Errorf("storage: insert processed %s: %w", l.URL, err)
		}
	}

	if err = tx.Commit(); err != nil {
		return fmt.Errorf("storage: commit processed: %w", err)
	}
	s.logger.Info("[storage] Processed table rebuilt with %d rows", len(listings))
	return nil
}

// ProcessedReady reports whether a transform has created the processed table.
func (s *Store) ProcessedReady(ctx context.Context) (bool, error) {
	var n int
	if err := s.db.QueryRowContext(ctx, s.dialect.rebind(s.dialect.tableExists), processedTable).Scan(&n); err != nil {
		return false, fmt.Errorf("storage: table lookup: %w", err)
	}
	return n > 0, nil
}

// FetchListings retrieves the processed table ordered by url then raw id.
func (s *Store) FetchListings(ctx context.Context) ([]*models.Listing, error) {
	rows, err := s.db.QueryContext(ctx, `
		SELECT raw_id, url, title, brand, seller, price, old_price, discount_pct,
			currency, rating, review_count, source, run_id, scraped_at
		FROM listings
		ORDER BY url, raw_id
	`)
	if err != nil {
		return nil, fmt.Errorf("storage: fetch listings: %w", err)
	}
	defer rows.Close()

	var listings []*models.Listing
	for rows.Next() {
		l := &models.Listing{}
		var oldPrice, discount, rating sql.NullFloat64
		var scrapedAt string
		if err := rows.Scan(
			&l.RawID, &l.URL, &l.Title, &l.Brand, &l.Seller, &l.Price, &oldPrice, &discount,
			&l.Currency, &rating, &l.ReviewCount, &l.Source, &l.RunID, &scrapedAt,
		); err != nil {
			return nil, fmt.Errorf("storage: scan listing: %w", err)
		}
		l.OldPrice = floatPtr(oldPrice)
		l.DiscountPct = floatPtr(discount)
		l.Rating = floatPtr(rating)
		if l.ScrapedAt, err = parseTime(scrapedAt); err != nil {
			return nil, fmt.Errorf("storage: listing %d: %w", l.RawID, err)
		}
		listings = append(listings, l)
	}
	return listings, rows.Err()
}

// Runs groups raw rows by run id, most recent first.
func (s *Store) Runs(ctx context.Context) ([]models.RunSummary, error) {
	rows, err := s.db.QueryContext(ctx, `
		SELECT run_id, count(*), min(scraped_at), max(scraped_at)
		FROM raw_listings
		GROUP BY run_id
		ORDER BY max(scraped_at) DESC
	`)
	if err != nil {
		return nil, fmt.Errorf("storage: runs: %w", err)
	}
	defer rows.Close()

	var runs []models.RunSummary
	for rows.Next() {
		var r models.RunSummary
		var started, ended string
		if err := rows.Scan(&r.RunID, &r.Rows, &started, &ended); err != nil {
			return nil, fmt.Errorf("storage: scan run: %w", err)
		}
		if r.StartedAt, err = parseTime(started); err != nil {
			s.logger.Warn("[storage] Run %s: bad start time: %v", r.RunID, err)
		}
		if r.EndedAt, err = parseTime(ended); err != nil {
			s.logger.Warn("[storage] Run %s: bad end time: %v", r.RunID, err)
		}
		runs = append(runs, r)
	}
	return runs, rows.Err()
}

func (s *Store) Close() error {
	return s.db.Close()
}

// Times are stored as fixed-width RFC3339 UTC text so that both engines sort
// and compare them identically.
const timeLayout = "2006-01-02T15:04:05.000000000Z"

func formatTime(t time.Time) string {
	return t.UTC().Format(timeLayout)
}

func parseTime(s string) (time.Time, error) {
	t, err := time.Parse(timeLayout, s)
	if err != nil {
		t, err = time.Parse(time.RFC3339Nano, s)
	}
	if err != nil {
		return time.Time{}, fmt.Errorf("parse time %q: %w", s, err)
	}
	return t.UTC(), nil
}

func nullFloat(f *float64) sql.NullFloat64 {
	if f == nil {
		return sql.NullFloat64{}
	}
	return sql.NullFloat64{Float64: *f, Valid: true}
}

func floatPtr(n sql.NullFloat64) *float64 {
	if !n.Valid {
		return nil
	}
	v := n.Float64
	return &v
}
