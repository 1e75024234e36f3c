package normalize

import (
	"errors"
	"fmt"
	"strings"
	"sync"
	"testing"

	"github.com/google/go-cmp/cmp"
	"github.com/shopspring/decimal"
	"pgregory.net/rapid"

	"audubon_monitor/models"
)

func TestParsePrice(t *testing.T) {
	tests := []struct {
		in       string
		amount   string
		currency string
		sold     bool
		wantErr  bool
	}{
		{in: "$1,250.00", amount: "1250.00", currency: "USD"},
		{in: "SOLD", sold: true},
		{in: "Sold out", sold: true},
		{in: "Price on request"},
		{in: "Please inquire"},
		{in: "Call for price"},
		{in: "Call"},
		{in: "Call us"},
		{in: "Please call the gallery"},
		{in: "POA"},
		{in: ""},
		{in: "$0.00"},
		{in: "£450", amount: "450", currency: "GBP"},
		{in: "€950", amount: "950", currency: "EUR"},
		{in: "US $2,400.00", amount: "2400", currency: "USD"},
		{in: "Price: 875 USD", amount: "875", currency: "USD"},
		{in: "1500", amount: "1500", currency: "USD"},
		{in: "n/a", wantErr: true},
		{in: "1.250,00 €", wantErr: true},
		{in: "€ 950,50", wantErr: true},
		{in: "EUR 1.250", wantErr: true},
	}

	for _, tt := range tests {
		price, sold, err := ParsePrice(tt.in, "USD")
		if tt.wantErr {
			if !errors.Is(err, ErrUnparsablePrice) {
				t.Fatalf("%q: expected ErrUnparsablePrice, got %v", tt.in, err)
			}
			continue
		}
		if err != nil {
			t.Fatalf("%q: unexpected error: %v", tt.in, err)
		}
		if sold != tt.sold {
			t.Fatalf("%q: expected sold=%v, got %v", tt.in, tt.sold, sold)
		}
		if tt.amount == "" {
			if price != nil {
				t.Fatalf("%q: expected null price, got %s", tt.in, price)
			}
			continue
		}
		if price == nil {
			t.Fatalf("%q: expected a price", tt.in)
		}
		want := decimal.RequireFromString(tt.amount)
		if !price.Amount.Equal(want) || price.Currency != tt.currency {
			t.Fatalf("%q: expected %s %s, got %s", tt.in, want, tt.currency, price)
		}
	}
}

func TestParsePrice_DefaultCurrency(t *testing.T) {
	price, _, err := ParsePrice("2,000", "GBP")
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if price.Currency != "GBP" {
		t.Fatalf("expected source default GBP, got %s", price.Currency)
	}
}

func TestParsePrice_ExactCents(t *testing.T) {
	rapid.Check(t, func(t *rapid.T) {
		cents := rapid.Int64Range(1, 99_999_999_99).Draw(t, "cents")
		text := "$" + groupThousands(cents/100) + fmt.Sprintf(".%02d", cents%100)

		price, sold, err := ParsePrice(text, "USD")
		if err != nil || sold || price == nil {
			t.Fatalf("%q: got price=%v sold=%v err=%v", text, price, sold, err)
		}
		if want := decimal.New(cents, -2); !price.Amount.Equal(want) {
			t.Fatalf("%q: expected %s, got %s", text, want, price.Amount)
		}
	})
}

func groupThousands(n int64) string {
	s := fmt.Sprint(n)
	var b strings.Builder
	for i, r := range s {
		if i > 0 && (len(s)-i)%3 == 0 {
			b.WriteByte(',')
		}
		b.WriteRune(r)
	}
	return b.String()
}

func TestDetectEdition(t *testing.T) {
	tests := []struct {
		name   string
		fields []string
		want   models.Edition
	}{
		{"havell title", []string{"", "Audubon Havell Edition Wild Turkey", ""}, models.EditionHavell},
		{"double elephant", []string{"", "Snowy Owl, Double Elephant Folio", ""}, models.EditionHavell},
		{"bien chromolithograph", []string{"", "Bien chromolithograph Canada Goose", ""}, models.EditionBien},
		{"category hint wins", []string{"First Edition", "Audubon Octavo 1856 Blue Jay", ""}, models.EditionOctavoFirst},
		{"later hint", []string{"Later Edition", "Blue Jay", ""}, models.EditionOctavoLater},
		{"conflicting families", []string{"", "Bien after Havell, Wild Turkey", ""}, models.EditionUnknown},
		{"both octavo signals", []string{"", "1st edition octavo, also later printing", ""}, models.EditionUnknown},
		{"octavo citing havell", []string{"", "Octavo reduced from Havell plate 1", ""}, models.EditionUnknown},
		{"explicit octavo outranks havell mention", []string{"", "1st Edition Octavo after Havell plate 26", ""}, models.EditionOctavoFirst},
		{"bare octavo", []string{"", "Royal Octavo Purple Finch", ""}, models.EditionUnknown},
		{"octavo first year", []string{"", "Octavo Purple Finch 1840", ""}, models.EditionOctavoFirst},
		{"octavo later year", []string{"", "Octavo Purple Finch 1859", ""}, models.EditionOctavoLater},
		{"year without octavo", []string{"", "Purple Finch 1840", ""}, models.EditionUnknown},
		{"falls through to description", []string{"", "Purple Finch Octavo", "A fine 1st edition example."}, models.EditionOctavoFirst},
		{"ambiguous title stops search", []string{"", "Havell and Bien comparison", "Havell edition"}, models.EditionUnknown},
	}

	for _, tt := range tests {
		if got := DetectEdition(tt.fields...); got != tt.want {
			t.Fatalf("%s: expected %s, got %s", tt.name, tt.want, got)
		}
	}
}

func TestExtractPlate(t *testing.T) {
	tests := []struct {
		in   string
		want int
	}{
		{"Wild Turkey Plate 1", 1},
		{"Plate #26 Carolina Parrot", 26},
		{"Plate No. 211 Great Blue Heron", 211},
		{"Audubon Octavo Pl. 7 Purple Grackle", 7},
		{"No. 3 Blue Jay", 3},
		{"#12 Snowy Owl", 12},
		{"Plate 12, No. 4", 12},
		{"Plate 435", 435},
	}
	for _, tt := range tests {
		got := ExtractPlate(tt.in)
		if got == nil || *got != tt.want {
			t.Fatalf("%q: expected plate %d, got %v", tt.in, tt.want, got)
		}
	}

	for _, in := range []string{"Plate 500 Wild Turkey", "Plate 0", "Wild Turkey", "Printed 1840"} {
		if got := ExtractPlate(in); got != nil {
			t.Fatalf("%q: expected no plate, got %d", in, *got)
		}
	}
}

func TestSpeciesName(t *testing.T) {
	tests := []struct {
		in   string
		want string
	}{
		{"John James Audubon Wild Turkey Plate 1 Havell Edition", "Wild Turkey"},
		{"Audubon Octavo Pl. 7 Purple Grackle, 1st Ed.", "Purple Grackle"},
		{"Audubon Plate 211: Great Blue Heron", "Great Blue Heron"},
		{"Bald Eagle (Havell)", "White-Headed Eagle"},
		{"  snowy   OWL - Original Hand-Colored Lithograph 1840", "Snowy Owl"},
		{"Carolina Parakeet | Birds of America", "Carolina Parrot"},
		{"Audubon's Blue Jay, Bien Edition", "Blue Jay"},
		{"Audubon Plate 26", ""},
	}
	for _, tt := range tests {
		if got := SpeciesName(tt.in); got != tt.want {
			t.Fatalf("%q: expected %q, got %q", tt.in, tt.want, got)
		}
	}
}

func TestSpeciesName_Concurrent(t *testing.T) {
	titles := map[string]string{
		"  snowy   OWL - Original Hand-Colored Lithograph 1840": "Snowy Owl",
		"Audubon Plate 211: Great Blue Heron":                   "Great Blue Heron",
		"Audubon Octavo Pl. 7 Purple Grackle, 1st Ed.":          "Purple Grackle",
		"american white pelican":                                "American White Pelican",
	}

	var wg sync.WaitGroup
	errs := make(chan string, 8*100*len(titles))
	for g := 0; g < 8; g++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			for i := 0; i < 100; i++ {
				for in, want := range titles {
					if got := SpeciesName(in); got != want {
						errs <- fmt.Sprintf("%q: expected %q, got %q", in, want, got)
					}
				}
			}
		}()
	}
	wg.Wait()
	close(errs)

	for msg := range errs {
		t.Fatal(msg)
	}
}

func TestResolveImages(t *testing.T) {
	got := ResolveImages("https://dealer.example/products/wild-turkey", []string{
		"//cdn.dealer.example/a.jpg",
		"/img/b.jpg",
		"",
		"//cdn.dealer.example/a.jpg",
		"https://other.example/c.jpg",
		"data:image/gif;base64,R0lGOD",
	})
	want := []string{
		"https://cdn.dealer.example/a.jpg",
		"https://dealer.example/img/b.jpg",
		"https://other.example/c.jpg",
	}
	if diff := cmp.Diff(want, got); diff != "" {
		t.Fatalf("images mismatch (-want +got):\n%s", diff)
	}
}

func TestNormalize(t *testing.T) {
	raw := models.RawListing{
		Source:      models.SourceOldPrintShop,
		NativeID:    " 12345 ",
		URL:         "https://www.oldprintshop.com/product/12345",
		Title:       "Audubon  Octavo Pl. 7   Purple Grackle",
		Description: strings.Repeat("An uncommonly fine impression. ", 20),
		PriceText:   "$1,250.00",
		Currency:    "USD",
		ImageURLs:   []string{"/images/12345.jpg"},
		EditionHint: "First Edition",
	}

	frag, err := Normalize(raw)
	if err != nil {
		t.Fatalf("normalize failed: %v", err)
	}
	l := frag.Listing
	if frag.NativeID != "12345" {
		t.Fatalf("expected trimmed native id, got %q", frag.NativeID)
	}
	if l.SpeciesName != "Purple Grackle" || l.Edition != models.EditionOctavoFirst {
		t.Fatalf("unexpected species/edition: %q %s", l.SpeciesName, l.Edition)
	}
	if l.PlateNumber == nil || *l.PlateNumber != 7 {
		t.Fatalf("expected plate 7, got %v", l.PlateNumber)
	}
	if l.Price == nil || !l.Price.Amount.Equal(decimal.RequireFromString("1250")) {
		t.Fatalf("expected price 1250, got %v", l.Price)
	}
	if l.Title != "Audubon Octavo Pl. 7 Purple Grackle" {
		t.Fatalf("expected collapsed title, got %q", l.Title)
	}
	if n := len([]rune(l.Description)); n > DescriptionLimit {
		t.Fatalf("description not truncated: %d runes", n)
	}
	if !l.Available || l.Status != models.ListingStatusActive {
		t.Fatalf("expected available active listing")
	}
	if l.ImageURLs[0] != "https://www.oldprintshop.com/images/12345.jpg" {
		t.Fatalf("expected absolute image, got %s", l.ImageURLs[0])
	}
}

func TestNormalize_SoldHint(t *testing.T) {
	frag, err := Normalize(models.RawListing{
		Source:    models.SourcePrinceton,
		URL:       "https://princeton.example/products/snowy-owl",
		Title:     "Snowy Owl",
		PriceText: "SOLD",
		ImageURLs: []string{"https://cdn.example/owl.jpg"},
	})
	if err != nil {
		t.Fatalf("normalize failed: %v", err)
	}
	if frag.Listing.Price != nil || frag.Listing.Available {
		t.Fatalf("expected null price and unavailable listing, got %v available=%v", frag.Listing.Price, frag.Listing.Available)
	}
}

func TestNormalize_Rejections(t *testing.T) {
	base := models.RawListing{
		Source:    models.SourceAudubonArt,
		URL:       "https://audubonart.example/product/blue-jay/",
		Title:     "Blue Jay",
		PriceText: "$300",
		ImageURLs: []string{"https://audubonart.example/blue-jay.jpg"},
	}

	tests := []struct {
		field  string
		mutate func(r *models.RawListing)
		err    error
	}{
		{"species", func(r *models.RawListing) { r.Title = "Audubon Plate 17" }, ErrNoSpecies},
		{"price", func(r *models.RawListing) { r.PriceText = "n/a" }, ErrUnparsablePrice},
		{"images", func(r *models.RawListing) { r.ImageURLs = []string{" ", ""} }, ErrNoImages},
		{"url", func(r *models.RawListing) { r.URL = "" }, ErrNoURL},
	}

	for _, tt := range tests {
		raw := base
		tt.mutate(&raw)
		_, err := Normalize(raw)

		var nerr *NormalizationError
		if !errors.As(err, &nerr) {
			t.Fatalf("%s: expected NormalizationError, got %v", tt.field, err)
		}
		if nerr.Field != tt.field || nerr.Source != models.SourceAudubonArt {
			t.Fatalf("%s: unexpected error fields %+v", tt.field, nerr)
		}
		if !errors.Is(err, tt.err) {
			t.Fatalf("%s: expected %v, got %v", tt.field, tt.err, err)
		}
	}
}
