package mercadolivre

import (
	_ "embed"
	"errors"
	"fmt"
	"os"

	"dario.cat/mergo"
	"github.com/titanous/json5"
)

//go:embed selectors.json5
var defaultProfile []byte

// ErrInvalidProfile is returned when a profile cannot locate blocks, titles or links.
var ErrInvalidProfile = errors.New("invalid selector profile")

// Rule is an ordered list of CSS selectors. The value is the element text,
// or the named attribute when Attr is set.
type Rule struct {
	Selectors []string `json:"selectors"`
	Attr      string   `json:"attr"`
}

// MoneyRule names the parts of a price element.
type MoneyRule struct {
	Symbol   string `json:"symbol"`
	Fraction string `json:"fraction"`
	Cents    string `json:"cents"`
}

// Profile describes where listing data lives on a search result page.
type Profile struct {
	Blocks      []string  `json:"blocks"`
	Title       Rule      `json:"title"`
	Link        Rule      `json:"link"`
	Brand       Rule      `json:"brand"`
	Seller      Rule      `json:"seller"`
	Price       Rule      `json:"price"`
	OldPrice    Rule      `json:"old_price"`
	Rating      Rule      `json:"rating"`
	ReviewCount Rule      `json:"review_count"`
	Money       MoneyRule `json:"money"`
	Next        Rule      `json:"next"`
}

// DefaultProfile returns the built-in profile.
func DefaultProfile() (*Profile, error) {
	var p Profile
	if err := json5.Unmarshal(defaultProfile, &p); err != nil {
		return nil, fmt.Errorf("selectors: parse built-in profile: %w", err)
	}
	return &p, p.validate()
}

// LoadProfile reads the built-in profile and, when path is set, merges the
// user file on top of it. Non-empty user fields replace the defaults.
func LoadProfile(path string) (*Profile, error) {
	p, err := DefaultProfile()
	if err != nil || path == "" {
		return p, err
	}

	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("selectors: read %q: %w", path, err)
	}
	var override Profile
	if err := json5.Unmarshal(data, &override); err != nil {
		return nil, fmt.Errorf("selectors: parse %q: %w", path, err)
	}
	if err := mergo.Merge(p, override, mergo.WithOverride); err != nil {
		return nil, fmt.Errorf("selectors: merge %q: %w", path, err)
	}
	return p, p.validate()
}

func (p *Profile) validate() error {
	switch {
	case len(p.Blocks) == 0:
		return fmt.Errorf("%w: no block selectors", ErrInvalidProfile)
	case len(p.Title.Selectors) == 0:
		return fmt.Errorf("%w: no title selectors", ErrInvalidProfile)
	case len(p.Link.Selectors) == 0:
		return fmt.Errorf("%w: no link selectors", ErrInvalidProfile)
	}
	return nil
}
