package storage

import (
	"context"
	"errors"
	"sync"

	"marketplace-elt/models"
)

// Deferred is a read-only store that is opened on first use. Until the
// database exists it reports no processed data instead of failing.
type Deferred struct {
	driver string
	dsn    string
	opts   Options

	mu    sync.Mutex
	store *Store
}

// OpenDeferred returns a read-only reader for driver and dsn. Errors other
// than ErrNoDatabase surface from the first call that needs the store.
func OpenDeferred(driver, dsn string, opts Options) *Deferred {
	opts.ReadOnly = true
	return &Deferred{driver: driver, dsn: dsn, opts: opts}
}

func (d *Deferred) get(ctx context.Context) (*Store, error) {
	d.mu.Lock()
	defer d.mu.Unlock()
	if d.store != nil {
		return d.store, nil
	}
	s, err := Open(ctx, d.driver, d.dsn, d.opts)
	if err != nil {
		return nil, err
	}
	d.store = s
	return s, nil
}

// ProcessedReady is false while the database file does not exist.
func (d *Deferred) ProcessedReady(ctx context.Context) (bool, error) {
	s, err := d.get(ctx)
	if errors.Is(err, ErrNoDatabase) {
		return false, nil
	}
	if err != nil {
		return false, err
	}
	return s.ProcessedReady(ctx)
}

func (d *Deferred) FetchListings(ctx context.Context) ([]*models.Listing, error) {
	s, err := d.get(ctx)
	if errors.Is(err, ErrNoDatabase) {
		return nil, nil
	}
	if err != nil {
		return nil, err
	}
	return s.FetchListings(ctx)
}

func (d *Deferred) Close() error {
	d.mu.Lock()
	defer d.mu.Unlock()
	if d.store == nil {
		return nil
	}
	err := d.store.Close()
	d.store = nil
	return err
}
