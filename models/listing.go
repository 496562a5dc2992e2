package models

import "time"

// RawListing holds one scraped product block exactly as it appeared on the
// listing page. Every value is text; nothing is coerced before storage.
type RawListing struct {
	ID             int64
	RunID          string
	Title          string
	Brand          string
	Seller         string
	RawPrice       string
	RawOldPrice    string
	Currency       string
	RawRating      string
	RawReviewCount string
	URL            string
	PageURL        string
	ScrapedAt      time.Time
}

// Listing is the cleaned, typed record rebuilt by every transform run.
type Listing struct {
	RawID       int64     `json:"raw_id"`
	URL         string    `json:"url"`
	Title       string    `json:"title"`
	Brand       string    `json:"brand"`
	Seller      string    `json:"seller"`
	Price       float64   `json:"price"`
	OldPrice    *float64  `json:"old_price"`
	DiscountPct *float64  `json:"discount_pct"`
	Currency    string    `json:"currency"`
	Rating      *float64  `json:"rating"`
	ReviewCount int64     `json:"review_count"`
	Source      string    `json:"source"`
	RunID       string    `json:"run_id"`
	ScrapedAt   time.Time `json:"scraped_at"`
}

// RunSummary groups raw rows by extract invocation.
type RunSummary struct {
	RunID     string
	Rows      int
	StartedAt time.Time
	EndedAt   time.Time
}

// ExtractStats summarises one extract invocation.
type ExtractStats struct {
	RunID         string
	PagesFetched  int64
	PagesFailed   int64
	Emitted       int64
	BlocksSkipped int64
}

// TransformStats summarises one transform invocation.
type TransformStats struct {
	RawRows         int
	DroppedNoURL    int
	DroppedNoTitle  int
	DroppedNoPrice  int
	DroppedBadPrice int
	Duplicates      int
	Written         int
}

// Dropped is the total number of rows rejected by cleaning rules.
func (s TransformStats) Dropped() int {
	return s.DroppedNoURL + s.DroppedNoTitle + s.DroppedNoPrice + s.DroppedBadPrice
}

// GroupStat is one bar of a grouped aggregate (brand, seller, bucket).
type GroupStat struct {
	Label string  `json:"label"`
	Count int     `json:"count"`
	Value float64 `json:"value"`
}

// InsightReport holds the computed analytics over the processed dataset.
type InsightReport struct {
	TotalListings    int         `json:"total_listings"`
	Brands           int         `json:"brands"`
	Sellers          int         `json:"sellers"`
	AveragePrice     float64     `json:"average_price"`
	MinPrice         float64     `json:"min_price"`
	MaxPrice         float64     `json:"max_price"`
	AverageRating    float64     `json:"average_rating"`
	MostExpensive    *Listing    `json:"most_expensive,omitempty"`
	TopRated         []*Listing  `json:"top_rated"`
	TopBrands        []GroupStat `json:"top_brands"`
	BrandAvgPrice    []GroupStat `json:"brand_avg_price"`
	BrandAvgRating   []GroupStat `json:"brand_avg_rating"`
	PriceHistogram   []GroupStat `json:"price_histogram"`
	ListingsBySeller []GroupStat `json:"listings_by_seller"`
}
