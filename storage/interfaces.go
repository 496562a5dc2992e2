package storage

import (
	"context"

	"marketplace-elt/models"
)

// RawListingWriter appends scraped records. Each call is durable on return.
type RawListingWriter interface {
	InsertRaw(ctx context.Context, listing *models.RawListing) error
	Close() error
}

// RawListingReader reads the full raw table.
type RawListingReader interface {
	FetchRaw(ctx context.Context) ([]*models.RawListing, error)
}

// ListingWriter replaces the processed table in full.
type ListingWriter interface {
	ReplaceListings(ctx context.Context, listings []*models.Listing) error
}

// ListingReader is the read-only view used by the presentation layer.
type ListingReader interface {
	FetchListings(ctx context.Context) ([]*models.Listing, error)
}
