package dashboard

import (
	"errors"
	"fmt"
	"math"
	"net/url"
	"sort"
	"strconv"
	"strings"

	"marketplace-elt/models"
	"marketplace-elt/services"
)

// ErrBadFilter is returned for query parameters that cannot be applied.
var ErrBadFilter = errors.New("invalid filter")

// Sort keys accepted by the sort parameter.
var sortKeys = []string{"title", "brand", "price", "rating", "reviews", "discount"}

// Filter narrows and orders the processed listings shown on the dashboard.
type Filter struct {
	Brands    []string `json:"brands,omitempty"`
	MinPrice  *float64 `json:"min_price,omitempty"`
	MaxPrice  *float64 `json:"max_price,omitempty"`
	MinRating float64  `json:"min_rating"`
	Sort      string   `json:"sort,omitempty"`
	Desc      bool     `json:"desc"`
}

// ParseFilter reads brand (repeatable), min_price, max_price, min_rating,
// sort and order from the query string.
func ParseFilter(q url.Values) (Filter, error) {
	var f Filter
	for _, b := range q["brand"] {
		if b = strings.TrimSpace(b); b != "" {
			f.Brands = append(f.Brands, b)
		}
	}

	var err error
	if f.MinPrice, err = optionalFloat(q, "min_price"); err != nil {
		return f, err
	}
	if f.MaxPrice, err = optionalFloat(q, "max_price"); err != nil {
		return f, err
	}
	if f.MinPrice != nil && f.MaxPrice != nil && *f.MinPrice > *f.MaxPrice {
		return f, fmt.Errorf("%w: min_price is greater than max_price", ErrBadFilter)
	}

	if r, err := optionalFloat(q, "min_rating"); err != nil {
		return f, err
	} else if r != nil {
		if *r < 0 || *r > 5 {
			return f, fmt.Errorf("%w: min_rating must be between 0 and 5", ErrBadFilter)
		}
		f.MinRating = *r
	}

	if s := strings.ToLower(strings.TrimSpace(q.Get("sort"))); s != "" {
		if !validSort(s) {
			return f, fmt.Errorf("%w: sort must be one of %s", ErrBadFilter, strings.Join(sortKeys, ", "))
		}
		f.Sort = s
	}
	switch strings.ToLower(strings.TrimSpace(q.Get("order"))) {
	case "", "asc":
	case "desc":
		f.Desc = true
	default:
		return f, fmt.Errorf("%w: order must be asc or desc", ErrBadFilter)
	}
	return f, nil
}

func optionalFloat(q url.Values, key string) (*float64, error) {
	raw := strings.TrimSpace(q.Get(key))
	if raw == "" {
		return nil, nil
	}
	v, err := strconv.ParseFloat(strings.ReplaceAll(raw, ",", "."), 64)
	if err != nil || math.IsNaN(v) || math.IsInf(v, 0) {
		return nil, fmt.Errorf("%w: %s=%q is not a number", ErrBadFilter, key, raw)
	}
	return &v, nil
}

func validSort(s string) bool {
	for _, k := range sortKeys {
		if k == s {
			return true
		}
	}
	return false
}

// Active reports whether any narrowing filter is set.
func (f Filter) Active() bool {
	return len(f.Brands) > 0 || f.MinPrice != nil || f.MaxPrice != nil || f.MinRating > 0
}

// HasBrand reports whether brand is selected (case-insensitive).
func (f Filter) HasBrand(brand string) bool {
	for _, b := range f.Brands {
		if strings.EqualFold(b, brand) {
			return true
		}
	}
	return false
}

// Apply returns the matching listings in the requested order. The input
// slice is not modified.
func (f Filter) Apply(listings []*models.Listing) []*models.Listing {
	out := make([]*models.Listing, 0, len(listings))
	for _, l := range listings {
		if len(f.Brands) > 0 && !f.HasBrand(brandLabel(l.Brand)) {
			continue
		}
		if f.MinPrice != nil && l.Price < *f.MinPrice {
			continue
		}
		if f.MaxPrice != nil && l.Price > *f.MaxPrice {
			continue
		}
		// unrated listings only pass when no minimum rating is asked for
		if f.MinRating > 0 && (l.Rating == nil || *l.Rating < f.MinRating) {
			continue
		}
		out = append(out, l)
	}

	if f.Sort != "" {
		sort.SliceStable(out, func(i, j int) bool { return f.less(out[i], out[j]) })
	}
	return out
}

// less orders by the sort key. Missing ratings and discounts go last in
// both directions.
func (f Filter) less(a, b *models.Listing) bool {
	switch f.Sort {
	case "title":
		return f.flip(strings.ToLower(a.Title) < strings.ToLower(b.Title), strings.ToLower(a.Title) > strings.ToLower(b.Title))
	case "brand":
		return f.flip(strings.ToLower(a.Brand) < strings.ToLower(b.Brand), strings.ToLower(a.Brand) > strings.ToLower(b.Brand))
	case "price":
		return f.flip(a.Price < b.Price, a.Price > b.Price)
	case "reviews":
		return f.flip(a.ReviewCount < b.ReviewCount, a.ReviewCount > b.ReviewCount)
	case "rating":
		return f.nullable(a.Rating, b.Rating)
	case "discount":
		return f.nullable(a.DiscountPct, b.DiscountPct)
	}
	return false
}

func (f Filter) flip(asc, desc bool) bool {
	if f.Desc {
		return desc
	}
	return asc
}

func (f Filter) nullable(a, b *float64) bool {
	switch {
	case a == nil:
		return false
	case b == nil:
		return true
	}
	return f.flip(*a < *b, *a > *b)
}

// Query encodes the filter back into query parameters.
func (f Filter) Query() url.Values {
	q := url.Values{}
	for _, b := range f.Brands {
		q.Add("brand", b)
	}
	if f.MinPrice != nil {
		q.Set("min_price", strconv.FormatFloat(*f.MinPrice, 'f', -1, 64))
	}
	if f.MaxPrice != nil {
		q.Set("max_price", strconv.FormatFloat(*f.MaxPrice, 'f', -1, 64))
	}
	if f.MinRating > 0 {
		q.Set("min_rating", strconv.FormatFloat(f.MinRating, 'f', -1, 64))
	}
	if f.Sort != "" {
		q.Set("sort", f.Sort)
		if f.Desc {
			q.Set("order", "desc")
		}
	}
	return q
}

// SortURL returns the query string that sorts by key, toggling the order
// when key is already the active sort.
func (f Filter) SortURL(key string) string {
	next := f
	next.Desc = f.Sort == key && !f.Desc
	next.Sort = key
	return "?" + next.Query().Encode()
}

func brandLabel(brand string) string {
	if brand == "" {
		return services.UnknownLabel
	}
	return brand
}
