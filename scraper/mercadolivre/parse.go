package mercadolivre

import (
	"errors"
	"fmt"
	"net/url"
	"strings"
	"time"

	"github.com/PuerkitoBio/goquery"

	"marketplace-elt/models"
)

var (
	// ErrNoTitle marks a product block without a title.
	ErrNoTitle = errors.New("product block has no title")
	// ErrNoLink marks a product block without a usable product link.
	ErrNoLink = errors.New("product block has no product link")
)

// Block is one product card as found on the page. Values are trimmed text.
type Block struct {
	Title       string
	Brand       string
	Seller      string
	Price       string
	OldPrice    string
	Currency    string
	Rating      string
	ReviewCount string
	URL         string
}

// Raw converts the block into a raw listing row.
func (b Block) Raw(runID, pageURL string, scrapedAt time.Time) *models.RawListing {
	return &models.RawListing{
		RunID:          runID,
		Title:          b.Title,
		Brand:          b.Brand,
		Seller:         b.Seller,
		RawPrice:       b.Price,
		RawOldPrice:    b.OldPrice,
		Currency:       b.Currency,
		RawRating:      b.Rating,
		RawReviewCount: b.ReviewCount,
		URL:            b.URL,
		PageURL:        pageURL,
		ScrapedAt:      scrapedAt,
	}
}

// Page is the result of parsing one search result page.
type Page struct {
	Blocks  []Block
	Skipped []error
	Next    string
}

// ParsePage extracts product blocks and the next page link from root. A
// malformed block is reported in Skipped and does not stop the page.
func ParsePage(root *goquery.Selection, base *url.URL, p *Profile) Page {
	var page Page

	var blocks *goquery.Selection
	for _, sel := range p.Blocks {
		if blocks = root.Find(sel); blocks.Length() > 0 {
			break
		}
	}

	if blocks != nil {
		blocks.Each(func(i int, s *goquery.Selection) {
			b, err := parseBlock(s, base, p)
			if err != nil {
				page.Skipped = append(page.Skipped, fmt.Errorf("block %d: %w", i+1, err))
				return
			}
			page.Blocks = append(page.Blocks, b)
		})
	}

	if href := value(root, p.Next); href != "" {
		if next, err := base.Parse(href); err == nil {
			next.Fragment = ""
			page.Next = next.String()
		}
	}
	return page
}

func parseBlock(s *goquery.Selection, base *url.URL, p *Profile) (Block, error) {
	href := value(s, p.Link)
	if href == "" {
		return Block{}, ErrNoLink
	}
	link, err := NormaliseProductURL(base, href)
	if err != nil {
		return Block{}, fmt.Errorf("%w: %v", ErrNoLink, err)
	}

	title := value(s, p.Title)
	if title == "" {
		return Block{}, ErrNoTitle
	}

	b := Block{
		Title:       title,
		Brand:       value(s, p.Brand),
		Seller:      value(s, p.Seller),
		Rating:      value(s, p.Rating),
		ReviewCount: value(s, p.ReviewCount),
		URL:         link,
	}
	if el := first(s, p.Price); el != nil {
		b.Price, b.Currency = money(el, p.Money)
	}
	if el := first(s, p.OldPrice); el != nil {
		b.OldPrice, _ = money(el, p.Money)
	}
	return b, nil
}

// first returns the first element matched by the rule that has a value.
func first(s *goquery.Selection, r Rule) *goquery.Selection {
	for _, sel := range r.Selectors {
		var found *goquery.Selection
		s.Find(sel).EachWithBreak(func(_ int, el *goquery.Selection) bool {
			if read(el, r.Attr) != "" {
				found = el
				return false
			}
			return true
		})
		if found != nil {
			return found
		}
	}
	return nil
}

func value(s *goquery.Selection, r Rule) string {
	if el := first(s, r); el != nil {
		return read(el, r.Attr)
	}
	return ""
}

func read(el *goquery.Selection, attr string) string {
	if attr != "" {
		v, _ := el.Attr(attr)
		return strings.TrimSpace(v)
	}
	return strings.TrimSpace(el.Text())
}

// money rebuilds a price such as "R$ 1.234,56" from its separate parts. It
// returns the price text and the currency symbol.
func money(el *goquery.Selection, m MoneyRule) (string, string) {
	fraction := ""
	if m.Fraction != "" {
		fraction = strings.TrimSpace(el.Find(m.Fraction).First().Text())
	}
	if fraction == "" {
		return strings.TrimSpace(el.Text()), ""
	}

	var symbol, cents string
	if m.Symbol != "" {
		symbol = strings.TrimSpace(el.Find(m.Symbol).First().Text())
	}
	if m.Cents != "" {
		cents = strings.TrimSpace(el.Find(m.Cents).First().Text())
	}

	price := fraction
	if cents != "" {
		price += "," + cents
	}
	if symbol != "" {
		price = symbol + " " + price
	}
	return price, symbol
}

// NormaliseProductURL resolves href against base and removes the fragment and
// tracking query parameters, so repeated scrapes of a product share one URL.
func NormaliseProductURL(base *url.URL, href string) (string, error) {
	u, err := base.Parse(strings.TrimSpace(href))
	if err != nil {
		return "", err
	}
	if u.Scheme != "http" && u.Scheme != "https" {
		return "", fmt.Errorf("unsupported scheme %q", u.Scheme)
	}
	u.Fragment = ""
	u.RawFragment = ""

	q := u.Query()
	for key := range q {
		if strings.HasPrefix(key, "utm_") || key == "tracking_id" {
			q.Del(key)
		}
	}
	u.RawQuery = q.Encode()
	return u.String(), nil
}
