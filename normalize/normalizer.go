package normalize

import (
	"errors"
	"fmt"
	"net/url"
	"strings"
	"unicode/utf8"

	"audubon_monitor/models"
)

const (
	DescriptionLimit = 300
	snippetLimit     = 80
)

var (
	ErrNoSpecies = errors.New("no species name in title")
	ErrNoImages  = errors.New("no usable image url")
	ErrNoURL     = errors.New("missing listing url")
)

// NormalizationError reports a raw record that could not be turned into a
// canonical listing. The record is dropped; the rest of the source continues.
type NormalizationError struct {
	Source  models.Source
	Field   string
	Snippet string
	Err     error
}

func (e *NormalizationError) Error() string {
	return fmt.Sprintf("normalize %s %s: %v (%q)", e.Source, e.Field, e.Err, e.Snippet)
}

func (e *NormalizationError) Unwrap() error {
	return e.Err
}

// Fragment is a canonical listing without identity or run timestamps. The
// matcher assigns the identity and the merger fills in the rest.
type Fragment struct {
	Listing  models.CanonicalListing
	NativeID string
}

// Normalize maps one raw record onto canonical fields.
func Normalize(raw models.RawListing) (*Fragment, error) {
	title := collapse(raw.Title)
	fail := func(field, snippet string, err error) (*Fragment, error) {
		return nil, &NormalizationError{Source: raw.Source, Field: field, Snippet: truncate(snippet, snippetLimit), Err: err}
	}

	if strings.TrimSpace(raw.URL) == "" {
		return fail("url", title, ErrNoURL)
	}

	species := SpeciesName(title)
	if species == "" {
		return fail("species", title, ErrNoSpecies)
	}

	price, sold, err := ParsePrice(raw.PriceText, raw.Currency)
	if err != nil {
		return fail("price", raw.PriceText, err)
	}

	images := ResolveImages(raw.URL, raw.ImageURLs)
	if len(images) == 0 {
		return fail("images", title, ErrNoImages)
	}

	description := collapse(raw.Description)
	plate := ExtractPlate(title)
	if plate == nil {
		plate = ExtractPlate(description)
	}

	return &Fragment{
		NativeID: strings.TrimSpace(raw.NativeID),
		Listing: models.CanonicalListing{
			Source:      raw.Source,
			PlateNumber: plate,
			SpeciesName: species,
			Edition:     DetectEdition(raw.EditionHint, title, description),
			Price:       price,
			ImageURLs:   images,
			ListingURL:  strings.TrimSpace(raw.URL),
			Title:       title,
			Description: truncate(description, DescriptionLimit),
			Available:   !sold && !raw.SoldOut,
			Status:      models.ListingStatusActive,
		},
	}, nil
}

// ResolveImages makes every image URL absolute against the listing page,
// dropping blanks and duplicates while keeping display order.
func ResolveImages(pageURL string, raw []string) []string {
	base, _ := url.Parse(pageURL)
	seen := make(map[string]bool, len(raw))
	out := make([]string, 0, len(raw))
	for _, r := range raw {
		r = strings.TrimSpace(r)
		if r == "" || strings.HasPrefix(r, "data:") {
			continue
		}
		u, err := url.Parse(r)
		if err != nil {
			continue
		}
		if base != nil {
			u = base.ResolveReference(u)
		} else if u.Scheme == "" && u.Host != "" {
			u.Scheme = "https"
		}
		if u.Host == "" {
			continue
		}
		abs := u.String()
		if seen[abs] {
			continue
		}
		seen[abs] = true
		out = append(out, abs)
	}
	return out
}

func collapse(s string) string {
	return strings.TrimSpace(multiSpaceRe.ReplaceAllString(s, " "))
}

func truncate(s string, limit int) string {
	if utf8.RuneCountInString(s) <= limit {
		return s
	}
	r := []rune(s)
	return strings.TrimSpace(string(r[:limit]))
}
