package services

import (
	"context"
	"errors"
	"fmt"
	"math"
	"regexp"
	"sort"
	"strconv"
	"strings"
	"unicode"

	"golang.org/x/text/cases"
	"golang.org/x/text/language"

	"marketplace-elt/models"
	"marketplace-elt/storage"
	"marketplace-elt/utils"
)

var (
	// ErrMissing marks an empty source field.
	ErrMissing = errors.New("missing value")
	// ErrUnparsable marks a field whose text does not match its rule.
	ErrUnparsable = errors.New("unparsable value")
	// ErrMissingPrice is returned for rows whose mandatory price is absent.
	ErrMissingPrice = fmt.Errorf("price: %w", ErrMissing)
)

var (
	// 1.234.567 (dot as thousands separator)
	groupedRegexp = regexp.MustCompile(`^\d{1,3}(\.\d{3})+$`)
	plainRegexp   = regexp.MustCompile(`^\d+$`)
	decimalRegexp = regexp.MustCompile(`^\d+\.\d+$`)
	// first number in a rating text such as "4,8" or "4.5 (120)"
	ratingRegexp = regexp.MustCompile(`\d+(?:[.,]\d+)?`)
	countRegexp  = regexp.MustCompile(`^\d+$`)
)

// Transformer turns raw rows into processed listings. It never reads the
// clock, so identical raw input always yields identical output.
type Transformer struct {
	logger *utils.Logger
	dedup  bool
	caser  cases.Caser
}

// NewTransformer creates a Transformer. With dedup enabled only the most
// recent scrape of each URL survives.
func NewTransformer(logger *utils.Logger, dedup bool) *Transformer {
	return &Transformer{logger: logger, dedup: dedup, caser: cases.Title(language.BrazilianPortuguese)}
}

// Run reads the full raw table, cleans it and replaces the processed table.
func (t *Transformer) Run(ctx context.Context, src storage.RawListingReader, dst storage.ListingWriter) ([]*models.Listing, models.TransformStats, error) {
	raw, err := src.FetchRaw(ctx)
	if err != nil {
		return nil, models.TransformStats{}, err
	}
	listings, stats := t.Transform(raw)
	if err := dst.ReplaceListings(ctx, listings); err != nil {
		return nil, stats, err
	}
	return listings, stats, nil
}

// Transform applies the cleaning rules in order, then deduplicates and sorts.
func (t *Transformer) Transform(raw []*models.RawListing) ([]*models.Listing, models.TransformStats) {
	stats := models.TransformStats{RawRows: len(raw)}
	cleaned := make([]*models.Listing, 0, len(raw))

	for _, r := range raw {
		l, err := t.clean(r)
		if err != nil {
			t.logger.Warn("[transform] Dropping raw row %d (%s): %v", r.ID, r.URL, err)
			switch {
			case errors.Is(err, errNoURL):
				stats.DroppedNoURL++
			case errors.Is(err, errNoTitle):
				stats.DroppedNoTitle++
			case errors.Is(err, ErrMissingPrice):
				stats.DroppedNoPrice++
			default:
				stats.DroppedBadPrice++
			}
			continue
		}
		cleaned = append(cleaned, l)
	}

	if t.dedup {
		before := len(cleaned)
		cleaned = keepLatest(cleaned)
		stats.Duplicates = before - len(cleaned)
	}

	sort.Slice(cleaned, func(i, j int) bool {
		if cleaned[i].URL != cleaned[j].URL {
			return cleaned[i].URL < cleaned[j].URL
		}
		return cleaned[i].RawID < cleaned[j].RawID
	})
	stats.Written = len(cleaned)

	t.logger.Info("[transform] Cleaned %d -> %d listings (dropped %d, duplicates %d)",
		stats.RawRows, stats.Written, stats.Dropped(), stats.Duplicates)
	return cleaned, stats
}

var (
	errNoURL   = fmt.Errorf("url: %w", ErrMissing)
	errNoTitle = fmt.Errorf("title: %w", ErrMissing)
)

func (t *Transformer) clean(r *models.RawListing) (*models.Listing, error) {
	url := strings.TrimSpace(r.URL)
	if url == "" {
		return nil, errNoURL
	}
	title := normaliseText(r.Title)
	if title == "" {
		return nil, errNoTitle
	}

	price, err := ParsePrice(r.RawPrice)
	if err != nil {
		if errors.Is(err, ErrMissing) {
			return nil, ErrMissingPrice
		}
		return nil, fmt.Errorf("price: %w", err)
	}

	l := &models.Listing{
		RawID:     r.ID,
		URL:       url,
		Title:     title,
		Brand:     t.normaliseBrand(r.Brand),
		Seller:    normaliseText(r.Seller),
		Price:     price,
		Currency:  currencyCode(r.Currency, r.RawPrice),
		Source:    strings.TrimSpace(r.PageURL),
		RunID:     r.RunID,
		ScrapedAt: r.ScrapedAt.UTC(),
	}

	if old, err := ParsePrice(r.RawOldPrice); err == nil {
		l.OldPrice = &old
		if old > price {
			d := round2((old - price) / old * 100)
			l.DiscountPct = &d
		}
	} else if !errors.Is(err, ErrMissing) {
		t.logger.Warn("[transform] Raw row %d: old price %q ignored: %v", r.ID, r.RawOldPrice, err)
	}

	if rating, err := ParseRating(r.RawRating); err == nil {
		l.Rating = &rating
	} else if !errors.Is(err, ErrMissing) {
		t.logger.Warn("[transform] Raw row %d: rating %q ignored: %v", r.ID, r.RawRating, err)
	}

	if n, err := ParseReviewCount(r.RawReviewCount); err == nil {
		l.ReviewCount = n
	} else if !errors.Is(err, ErrMissing) {
		t.logger.Warn("[transform] Raw row %d: review count %q ignored: %v", r.ID, r.RawReviewCount, err)
	}

	return l, nil
}

// keepLatest keeps one listing per URL: the greatest ScrapedAt, ties going to
// the greatest raw id.
func keepLatest(in []*models.Listing) []*models.Listing {
	latest := make(map[string]*models.Listing, len(in))
	order := make([]string, 0, len(in))
	for _, l := range in {
		cur, ok := latest[l.URL]
		if !ok {
			latest[l.URL] = l
			order = append(order, l.URL)
			continue
		}
		if l.ScrapedAt.After(cur.ScrapedAt) || (l.ScrapedAt.Equal(cur.ScrapedAt) && l.RawID > cur.RawID) {
			latest[l.URL] = l
		}
	}
	out := make([]*models.Listing, 0, len(order))
	for _, u := range order {
		out = append(out, latest[u])
	}
	return out
}

// ParsePrice converts marketplace price text to a number.
//
// A comma is the decimal separator and dots group thousands ("R$ 1.234,56" is
// 1234.56). Without a comma, dot groups of exactly three digits are thousands
// ("1.234" is 1234) and any other single dot is decimal ("10.5").
func ParsePrice(raw string) (float64, error) {
	s := stripCurrency(raw)
	if s == "" {
		return 0, ErrMissing
	}

	var normalised string
	if i := strings.LastIndex(s, ","); i >= 0 {
		intPart, frac := s[:i], s[i+1:]
		if !plainRegexp.MatchString(frac) {
			return 0, fmt.Errorf("%w: %q", ErrUnparsable, raw)
		}
		switch {
		case plainRegexp.MatchString(intPart):
		case groupedRegexp.MatchString(intPart):
			intPart = strings.ReplaceAll(intPart, ".", "")
		default:
			return 0, fmt.Errorf("%w: %q", ErrUnparsable, raw)
		}
		normalised = intPart + "." + frac
	} else {
		switch {
		case plainRegexp.MatchString(s):
			normalised = s
		case groupedRegexp.MatchString(s):
			normalised = strings.ReplaceAll(s, ".", "")
		case decimalRegexp.MatchString(s):
			normalised = s
		default:
			return 0, fmt.Errorf("%w: %q", ErrUnparsable, raw)
		}
	}

	v, err := strconv.ParseFloat(normalised, 64)
	if err != nil {
		return 0, fmt.Errorf("%w: %q", ErrUnparsable, raw)
	}
	return v, nil
}

// ParseRating extracts a 0..5 rating, accepting a dot or comma decimal.
func ParseRating(raw string) (float64, error) {
	s := strings.TrimSpace(raw)
	if s == "" {
		return 0, ErrMissing
	}
	match := ratingRegexp.FindString(s)
	if match == "" {
		return 0, fmt.Errorf("%w: %q", ErrUnparsable, raw)
	}
	v, err := strconv.ParseFloat(strings.ReplaceAll(match, ",", "."), 64)
	if err != nil || v < 0 || v > 5 {
		return 0, fmt.Errorf("%w: %q out of range", ErrUnparsable, raw)
	}
	return v, nil
}

// ParseReviewCount reads counts such as "(1.234)" or "87".
func ParseReviewCount(raw string) (int64, error) {
	s := strings.Trim(strings.TrimSpace(raw), "()")
	s = strings.TrimSpace(s)
	if s == "" {
		return 0, ErrMissing
	}
	s = strings.NewReplacer(".", "", ",", "", " ", "", "\u00a0", "").Replace(s)
	if !countRegexp.MatchString(s) {
		return 0, fmt.Errorf("%w: %q", ErrUnparsable, raw)
	}
	n, err := strconv.ParseInt(s, 10, 64)
	if err != nil {
		return 0, fmt.Errorf("%w: %q", ErrUnparsable, raw)
	}
	return n, nil
}

func stripCurrency(raw string) string {
	s := strings.TrimSpace(raw)
	for _, sym := range []string{"R$", "US$", "BRL", "$"} {
		s = strings.TrimPrefix(s, sym)
	}
	return strings.Map(func(r rune) rune {
		if unicode.IsSpace(r) {
			return -1
		}
		return r
	}, s)
}

func currencyCode(currency, rawPrice string) string {
	c := strings.TrimSpace(currency)
	if c == "" {
		c = strings.TrimSpace(rawPrice)
	}
	switch {
	case strings.HasPrefix(c, "R$"), strings.EqualFold(c, "BRL"):
		return "BRL"
	case strings.HasPrefix(c, "US$"), strings.HasPrefix(c, "$"), strings.EqualFold(c, "USD"):
		return "USD"
	default:
		return ""
	}
}

// normaliseText strips leading/trailing whitespace and collapses internal whitespace.
func normaliseText(s string) string {
	return strings.Join(strings.Fields(s), " ")
}

func (t *Transformer) normaliseBrand(s string) string {
	s = normaliseText(s)
	if s == "" {
		return ""
	}
	return t.caser.String(s)
}

func round2(f float64) float64 {
	return math.Round(f*100) / 100
}
