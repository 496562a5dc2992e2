package storage

import (
	"context"
	"encoding/csv"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"strconv"
	"sync"

	"marketplace-elt/models"
)

var rawHeader = []string{
	"run_id", "title", "brand", "seller", "raw_price", "raw_old_price", "currency",
	"raw_rating", "raw_review_count", "url", "page_url", "scraped_at",
}

var processedHeader = []string{
	"raw_id", "url", "title", "brand", "seller", "price", "old_price", "discount_pct",
	"currency", "rating", "review_count", "source", "run_id", "scraped_at",
}

// CSVWriter appends raw (uncleaned) listings to a CSV export file.
// It is safe for concurrent use.
type CSVWriter struct {
	mu     sync.Mutex
	file   *os.File
	writer *csv.Writer
}

// NewCSVWriter creates (or truncates) the CSV file at the given path and
// writes the header row. Intermediate directories are created automatically.
func NewCSVWriter(path string) (*CSVWriter, error) {
	if err := os.MkdirAll(filepath.Dir(path), 0755); err != nil {
		return nil, fmt.Errorf("csv: create output dir: %w", err)
	}

	f, err := os.Create(path)
	if err != nil {
		return nil, fmt.Errorf("csv: create file %q: %w", path, err)
	}

	w := csv.NewWriter(f)
	if err := w.Write(rawHeader); err != nil {
		_ = f.Close()
		return nil, fmt.Errorf("csv: write header: %w", err)
	}
	w.Flush()

	return &CSVWriter{file: f, writer: w}, nil
}

// InsertRaw writes one row and flushes it, so the export mirrors the
// database even if the run is interrupted.
func (c *CSVWriter) InsertRaw(_ context.Context, l *models.RawListing) error {
	c.mu.Lock()
	defer c.mu.Unlock()

	row := []string{
		l.RunID, l.Title, l.Brand, l.Seller, l.RawPrice, l.RawOldPrice, l.Currency,
		l.RawRating, l.RawReviewCount, l.URL, l.PageURL, formatTime(l.ScrapedAt),
	}
	if err := c.writer.Write(row); err != nil {
		return fmt.Errorf("csv: write row: %w", err)
	}
	c.writer.Flush()
	return c.writer.Error()
}

// Close flushes and closes the underlying file.
func (c *CSVWriter) Close() error {
	c.writer.Flush()
	return c.file.Close()
}

// WriteListingsCSV writes processed listings in a stable format: fixed column
// order, fixed float formatting and empty cells for nulls.
func WriteListingsCSV(w io.Writer, listings []*models.Listing) error {
	cw := csv.NewWriter(w)
	if err := cw.Write(processedHeader); err != nil {
		return fmt.Errorf("csv: write header: %w", err)
	}
	for _, l := range listings {
		row := []string{
			strconv.FormatInt(l.RawID, 10),
			l.URL,
			l.Title,
			l.Brand,
			l.Seller,
			formatFloat(&l.Price),
			formatFloat(l.OldPrice),
			formatFloat(l.DiscountPct),
			l.Currency,
			formatFloat(l.Rating),
			strconv.FormatInt(l.ReviewCount, 10),
			l.Source,
			l.RunID,
			formatTime(l.ScrapedAt),
		}
		if err := cw.Write(row); err != nil {
			return fmt.Errorf("csv: write row: %w", err)
		}
	}
	cw.Flush()
	return cw.Error()
}

// ExportListingsCSV writes processed listings to a file path.
func ExportListingsCSV(path string, listings []*models.Listing) error {
	if err := os.MkdirAll(filepath.Dir(path), 0755); err != nil {
		return fmt.Errorf("csv: create output dir: %w", err)
	}
	f, err := os.Create(path)
	if err != nil {
		return fmt.Errorf("csv: create file %q: %w", path, err)
	}
	if err := WriteListingsCSV(f, listings); err != nil {
		_ = f.Close()
		return err
	}
	return f.Close()
}

func formatFloat(f *float64) string {
	if f == nil {
		return ""
	}
	return strconv.FormatFloat(*f, 'f', 2, 64)
}
