package models

import (
	"encoding/json"
	"fmt"
	"time"

	"github.com/shopspring/decimal"
)

// Source identifies one of the dealers the monitor knows how to scrape.
type Source string

const (
	SourcePrinceton      Source = "princeton"
	SourcePanteek        Source = "panteek"
	SourceOldPrintShop   Source = "oldprintshop"
	SourceAntiqueAudubon Source = "antiqueaudubon"
	SourceAudubonArt     Source = "audubonart"
	SourceFirstDibs      Source = "firstdibs"
	SourceEbay           Source = "ebay"
)

// KnownSources lists every dealer in the order runs report them.
var KnownSources = []Source{
	SourcePrinceton,
	SourcePanteek,
	SourceOldPrintShop,
	SourceAntiqueAudubon,
	SourceAudubonArt,
	SourceFirstDibs,
	SourceEbay,
}

func (s Source) Valid() bool {
	for _, k := range KnownSources {
		if k == s {
			return true
		}
	}
	return false
}

// Edition is the printing a listing belongs to.
type Edition string

const (
	EditionHavell      Edition = "Havell"
	EditionBien        Edition = "Bien"
	EditionOctavoFirst Edition = "Octavo-1st"
	EditionOctavoLater Edition = "Octavo-Later"
	EditionUnknown     Edition = "Unknown"
)

// Listing status
const (
	ListingStatusActive   = "active"
	ListingStatusDelisted = "delisted"
)

// RawListing is what a source handler extracts from a page before any
// normalization happens.
type RawListing struct {
	Source      Source   `json:"source"`
	NativeID    string   `json:"native_id,omitempty"`
	URL         string   `json:"url"`
	Title       string   `json:"title"`
	Description string   `json:"description,omitempty"`
	PriceText   string   `json:"price_text"`
	Currency    string   `json:"currency,omitempty"`
	ImageURLs   []string `json:"image_urls"`
	EditionHint string   `json:"edition_hint,omitempty"`
	SoldOut     bool     `json:"sold_out,omitempty"`
}

// Price is an exact amount in a currency. Amounts are never floats so that
// price change detection does not drift.
type Price struct {
	Amount   decimal.Decimal `json:"amount"`
	Currency string          `json:"currency"`
}

func (p Price) Equal(o Price) bool {
	return p.Currency == o.Currency && p.Amount.Equal(o.Amount)
}

func (p Price) String() string {
	return fmt.Sprintf("%s %s", p.Amount.StringFixed(2), p.Currency)
}

// MarshalJSON writes the amount as a JSON number so the dashboard can chart it
// without parsing strings.
func (p Price) MarshalJSON() ([]byte, error) {
	return json.Marshal(struct {
		Amount   json.Number `json:"amount"`
		Currency string      `json:"currency"`
	}{
		Amount:   json.Number(p.Amount.StringFixed(2)),
		Currency: p.Currency,
	})
}

// PricePoint is one entry of a listing's append-only price history.
type PricePoint struct {
	Date  time.Time `json:"date"`
	Price Price     `json:"price"`
}

// CanonicalListing is the durable record tracked across runs.
type CanonicalListing struct {
	Source          Source       `json:"source"`
	SourceListingID string       `json:"source_listing_id"`
	PlateNumber     *int         `json:"plate_number"`
	SpeciesName     string       `json:"species_name"`
	Edition         Edition      `json:"edition"`
	Price           *Price       `json:"price"`
	ImageURLs       []string     `json:"image_urls"`
	ListingURL      string       `json:"listing_url"`
	Title           string       `json:"title"`
	Description     string       `json:"description,omitempty"`
	Available       bool         `json:"available"`
	FirstSeen       time.Time    `json:"first_seen"`
	LastSeen        time.Time    `json:"last_seen"`
	Status          string       `json:"status"`
	DelistedAt      *time.Time   `json:"delisted_at,omitempty"`
	Stale           bool         `json:"stale,omitempty"`
	IsNew           bool         `json:"is_new"`
	PriceHistory    []PricePoint `json:"price_history"`
}

// StableID is the key a listing is tracked under across runs.
func (l *CanonicalListing) StableID() string {
	return StableID(l.Source, l.SourceListingID)
}

func StableID(source Source, sourceListingID string) string {
	return string(source) + ":" + sourceListingID
}

// LastRecordedPrice returns the most recent price_history entry, if any.
func (l *CanonicalListing) LastRecordedPrice() *Price {
	if len(l.PriceHistory) == 0 {
		return nil
	}
	p := l.PriceHistory[len(l.PriceHistory)-1].Price
	return &p
}

// Clone returns a deep copy so the previous document is never mutated.
func (l *CanonicalListing) Clone() *CanonicalListing {
	c := *l
	if l.PlateNumber != nil {
		n := *l.PlateNumber
		c.PlateNumber = &n
	}
	if l.Price != nil {
		p := *l.Price
		c.Price = &p
	}
	if l.DelistedAt != nil {
		t := *l.DelistedAt
		c.DelistedAt = &t
	}
	c.ImageURLs = append([]string(nil), l.ImageURLs...)
	c.PriceHistory = append([]PricePoint(nil), l.PriceHistory...)
	return &c
}
