package storage

import (
	"context"
	"errors"

	"marketplace-elt/models"
)

// FanOut sends every raw record to each writer in order. The first error
// stops the fan-out for that record.
type FanOut []RawListingWriter

func (f FanOut) InsertRaw(ctx context.Context, l *models.RawListing) error {
	for _, w := range f {
		if err := w.InsertRaw(ctx, l); err != nil {
			return err
		}
	}
	return nil
}

// Close closes every writer and joins their errors.
func (f FanOut) Close() error {
	var errs []error
	for _, w := range f {
		if err := w.Close(); err != nil {
			errs = append(errs, err)
		}
	}
	return errors.Join(errs...)
}
