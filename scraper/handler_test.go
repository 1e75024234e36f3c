package scraper

import (
	"context"
	"errors"
	"net/http"
	"net/url"
	"os"
	"path/filepath"
	"strings"
	"sync"
	"testing"

	"audubon_monitor/config"
	"audubon_monitor/httputil"
	"audubon_monitor/models"
)

func loadFixture(t *testing.T, name string) []byte {
	t.Helper()
	path := filepath.Join("testdata", name)
	data, err := os.ReadFile(path)
	if err != nil {
		t.Fatalf("failed to read fixture %s: %v", name, err)
	}
	return data
}

// stubFetcher answers from a route function and records every URL asked for.
type stubFetcher struct {
	mu    sync.Mutex
	urls  []string
	route func(rawURL string) ([]byte, error)
}

func (s *stubFetcher) Fetch(ctx context.Context, rawURL string) ([]byte, error) {
	s.mu.Lock()
	s.urls = append(s.urls, rawURL)
	s.mu.Unlock()
	return s.route(rawURL)
}

func pageParam(t *testing.T, rawURL string) string {
	t.Helper()
	u, err := url.Parse(rawURL)
	if err != nil {
		t.Fatalf("bad url %s: %v", rawURL, err)
	}
	return u.Query().Get("page")
}

func sourceConfig(t *testing.T, id models.Source) *config.SourceConfig {
	t.Helper()
	cfg := &config.Config{}
	if err := cfg.LoadSources(""); err != nil {
		t.Fatalf("load embedded sources: %v", err)
	}
	src, ok := cfg.Sources[id]
	if !ok {
		t.Fatalf("no embedded config for %s", id)
	}
	return src
}

func TestNewHandler_KnownAndUnknown(t *testing.T) {
	for _, id := range models.KnownSources {
		h, err := NewHandler(sourceConfig(t, id), &stubFetcher{})
		if err != nil {
			t.Fatalf("%s: %v", id, err)
		}
		if h.ID() != id {
			t.Fatalf("expected handler id %s, got %s", id, h.ID())
		}
	}

	_, err := NewHandler(&config.SourceConfig{ID: "mystery", Handler: "wordpress"}, &stubFetcher{})
	if err == nil {
		t.Fatalf("expected an error for an unknown handler")
	}
}

func TestSourceError_Unwrap(t *testing.T) {
	err := &SourceError{Source: models.SourceEbay, Err: ErrNoListings}
	if !errors.Is(err, ErrNoListings) {
		t.Fatalf("expected SourceError to unwrap to ErrNoListings")
	}
	if !strings.Contains(err.Error(), "ebay") {
		t.Fatalf("expected source in message, got %q", err.Error())
	}
}

func TestShopify_ParsesAndPaginates(t *testing.T) {
	cfg := sourceConfig(t, models.SourcePrinceton)
	fetcher := &stubFetcher{}
	fetcher.route = func(rawURL string) ([]byte, error) {
		if pageParam(t, rawURL) == "1" {
			return loadFixture(t, "shopify_page1.json"), nil
		}
		return loadFixture(t, "shopify_empty.json"), nil
	}

	listings, err := NewShopifyHandler(cfg, fetcher).Scrape(context.Background())
	if err != nil {
		t.Fatalf("scrape failed: %v", err)
	}
	if len(fetcher.urls) != 2 {
		t.Fatalf("expected to stop after the empty page, fetched %v", fetcher.urls)
	}
	if !strings.Contains(fetcher.urls[0], "limit=250") {
		t.Fatalf("expected page size in %s", fetcher.urls[0])
	}
	if len(listings) != 3 {
		t.Fatalf("expected 3 listings without a keyword, got %d", len(listings))
	}

	turkey := listings[0]
	if turkey.NativeID != "7011234567" {
		t.Fatalf("unexpected native id %s", turkey.NativeID)
	}
	if turkey.URL != "https://princetonaudubonprints.com/products/wild-turkey-plate-287" {
		t.Fatalf("unexpected URL %s", turkey.URL)
	}
	if turkey.PriceText != "1250.00" || turkey.SoldOut {
		t.Fatalf("unexpected price %q sold=%v", turkey.PriceText, turkey.SoldOut)
	}
	if len(turkey.ImageURLs) != 2 {
		t.Fatalf("expected 2 images, got %d", len(turkey.ImageURLs))
	}
	if turkey.Description != "Original Audubon octavo lithograph, Philadelphia 1840." {
		t.Fatalf("unexpected description %q", turkey.Description)
	}
	if !listings[1].SoldOut {
		t.Fatalf("expected unavailable variant to be sold out")
	}
}

func TestShopify_KeywordFilter(t *testing.T) {
	cfg := sourceConfig(t, models.SourcePanteek)
	fetcher := &stubFetcher{route: func(rawURL string) ([]byte, error) {
		if strings.Contains(rawURL, "page=1") {
			return loadFixture(t, "shopify_page1.json"), nil
		}
		return loadFixture(t, "shopify_empty.json"), nil
	}}

	listings, err := NewShopifyHandler(cfg, fetcher).Scrape(context.Background())
	if err != nil {
		t.Fatalf("scrape failed: %v", err)
	}
	if len(listings) != 2 {
		t.Fatalf("expected the map to be filtered out, got %d listings", len(listings))
	}
	for _, l := range listings {
		if l.Source != models.SourcePanteek {
			t.Fatalf("unexpected source %s", l.Source)
		}
	}
}

func TestShopify_FetchErrorFailsSource(t *testing.T) {
	cfg := sourceConfig(t, models.SourcePrinceton)
	boom := errors.New("connection reset")
	fetcher := &stubFetcher{route: func(rawURL string) ([]byte, error) {
		if strings.Contains(rawURL, "page=1") {
			return loadFixture(t, "shopify_page1.json"), nil
		}
		return nil, boom
	}}

	if _, err := NewShopifyHandler(cfg, fetcher).Scrape(context.Background()); !errors.Is(err, boom) {
		t.Fatalf("expected a partial fetch to fail the source, got %v", err)
	}
}

func TestOldPrintShop_Parse(t *testing.T) {
	cfg := sourceConfig(t, models.SourceOldPrintShop)
	fetcher := &stubFetcher{route: func(rawURL string) ([]byte, error) {
		return loadFixture(t, "oldprintshop.html"), nil
	}}

	listings, err := NewOldPrintShopHandler(cfg, fetcher).Scrape(context.Background())
	if err != nil {
		t.Fatalf("scrape failed: %v", err)
	}
	if len(fetcher.urls) != 2 {
		t.Fatalf("expected to stop once a page repeats, fetched %d pages", len(fetcher.urls))
	}
	if len(listings) != 2 {
		t.Fatalf("expected 2 listings, got %d", len(listings))
	}

	owl := listings[0]
	if owl.NativeID != "104512" {
		t.Fatalf("unexpected native id %s", owl.NativeID)
	}
	if owl.URL != "https://oldprintshop.com/product/104512" {
		t.Fatalf("expected query to be stripped, got %s", owl.URL)
	}
	if owl.Title != "Audubon Octavo: Great Horned Owl, Plate 39" {
		t.Fatalf("unexpected title %q", owl.Title)
	}
	if owl.PriceText != "$1,450.00" {
		t.Fatalf("unexpected price %q", owl.PriceText)
	}
	if len(owl.ImageURLs) != 1 || owl.ImageURLs[0] != "https://oldprintshop.com/images/104512.jpg" {
		t.Fatalf("unexpected images %v", owl.ImageURLs)
	}

	parrot := listings[1]
	if parrot.Title != "Audubon Octavo: Carolina Parrot, Plate 278" || parrot.PriceText != "$2,800" {
		t.Fatalf("unexpected parrot %+v", parrot)
	}
	if len(parrot.ImageURLs) != 1 || parrot.ImageURLs[0] != "https://oldprintshop.com/images/104513.jpg" {
		t.Fatalf("expected lazy image source, got %v", parrot.ImageURLs)
	}
}

func TestAntiqueAudubon_CategoriesCarryEditionHint(t *testing.T) {
	cfg := sourceConfig(t, models.SourceAntiqueAudubon)
	fetcher := &stubFetcher{route: func(rawURL string) ([]byte, error) {
		return loadFixture(t, "antiqueaudubon.html"), nil
	}}

	listings, err := NewAntiqueAudubonHandler(cfg, fetcher).Scrape(context.Background())
	if err != nil {
		t.Fatalf("scrape failed: %v", err)
	}
	if len(fetcher.urls) != len(cfg.Categories) {
		t.Fatalf("expected one fetch per category, got %d", len(fetcher.urls))
	}
	// Both categories serve the same fixture, so the second adds nothing.
	if len(listings) != 2 {
		t.Fatalf("expected 2 de-duplicated listings, got %d", len(listings))
	}

	jay := listings[0]
	if jay.Title != "Blue Jay, Plate 231" || jay.PriceText != "$650.00" {
		t.Fatalf("unexpected listing %+v", jay)
	}
	if jay.EditionHint != "Octavo 1st Edition" {
		t.Fatalf("unexpected edition hint %q", jay.EditionHint)
	}
	if !strings.HasPrefix(jay.URL, "https://www.antiqueaudubon.com/store/p101/") {
		t.Fatalf("unexpected URL %s", jay.URL)
	}
	if len(jay.ImageURLs) != 1 || jay.ImageURLs[0] != "https://www.antiqueaudubon.com/uploads/blue-jay.jpg" {
		t.Fatalf("unexpected images %v", jay.ImageURLs)
	}
	if listings[1].PriceText != "$720.00" {
		t.Fatalf("expected sale price to win, got %q", listings[1].PriceText)
	}
}

func TestAudubonArt_StopsOnNotFound(t *testing.T) {
	cfg := sourceConfig(t, models.SourceAudubonArt)
	fetcher := &stubFetcher{route: func(rawURL string) ([]byte, error) {
		switch {
		case strings.HasSuffix(rawURL, "/page/2/"):
			return loadFixture(t, "audubonart_page2.html"), nil
		case strings.Contains(rawURL, "/page/"):
			return nil, &httputil.StatusError{URL: rawURL, Code: http.StatusNotFound}
		default:
			return loadFixture(t, "audubonart_page1.html"), nil
		}
	}}

	listings, err := NewAudubonArtHandler(cfg, fetcher).Scrape(context.Background())
	if err != nil {
		t.Fatalf("expected a 404 past the last page to end pagination, got %v", err)
	}
	if len(listings) != 3 {
		t.Fatalf("expected 3 listings over two pages, got %d", len(listings))
	}

	flamingo := listings[0]
	if flamingo.PriceText != "$2,950.00" {
		t.Fatalf("expected the discounted price, got %q", flamingo.PriceText)
	}
	if len(flamingo.ImageURLs) != 1 {
		t.Fatalf("expected an image, got %v", flamingo.ImageURLs)
	}
	if !listings[1].SoldOut {
		t.Fatalf("expected out of stock listing to be sold out")
	}
	if listings[2].Title != "Whooping Crane, Plate 313" {
		t.Fatalf("unexpected page 2 title %q", listings[2].Title)
	}
}

func TestAudubonArt_FirstPageNotFoundFails(t *testing.T) {
	cfg := sourceConfig(t, models.SourceAudubonArt)
	fetcher := &stubFetcher{route: func(rawURL string) ([]byte, error) {
		return nil, &httputil.StatusError{URL: rawURL, Code: http.StatusNotFound}
	}}

	var status *httputil.StatusError
	if _, err := NewAudubonArtHandler(cfg, fetcher).Scrape(context.Background()); !errors.As(err, &status) {
		t.Fatalf("expected a StatusError, got %v", err)
	}
}

func TestFirstDibs_EmbeddedState(t *testing.T) {
	cfg := sourceConfig(t, models.SourceFirstDibs)
	fetcher := &stubFetcher{route: func(rawURL string) ([]byte, error) {
		return loadFixture(t, "firstdibs_state.html"), nil
	}}

	listings, err := NewFirstDibsHandler(cfg, fetcher).Scrape(context.Background())
	if err != nil {
		t.Fatalf("scrape failed: %v", err)
	}
	if len(listings) != 2 {
		t.Fatalf("expected 2 items, got %d", len(listings))
	}

	turkey := listings[0]
	if turkey.URL != "https://www.1stdibs.com/furniture/wall-decorations/prints/wild-turkey/id-f_123/" {
		t.Fatalf("unexpected URL %s", turkey.URL)
	}
	if turkey.PriceText != "95000" || turkey.Currency != "USD" {
		t.Fatalf("unexpected price %q %q", turkey.PriceText, turkey.Currency)
	}
	if turkey.Description != "Double elephant folio aquatint." {
		t.Fatalf("unexpected description %q", turkey.Description)
	}
	if len(turkey.ImageURLs) != 1 {
		t.Fatalf("expected image, got %v", turkey.ImageURLs)
	}

	goose := listings[1]
	if goose.PriceText != "$18,500" || goose.URL != "https://www.1stdibs.com/art/prints/canada-goose/id-a_456/" {
		t.Fatalf("unexpected goose %+v", goose)
	}
}

func TestFirstDibs_StateOrderIsStable(t *testing.T) {
	cfg := sourceConfig(t, models.SourceFirstDibs)
	page := []byte(`<html><head><script type="application/json" id="__STATE__">
{"search": {
  "sponsored": {"title": "Audubon Octavo Snowy Owl", "amount": "$900", "href": "/art/prints/snowy-owl/id-a_2/"},
  "editorial": {"title": "Audubon Octavo Barn Owl", "amount": "$700", "href": "/art/prints/barn-owl/id-a_1/"},
  "results": [{"title": "Audubon Octavo Blue Jay", "amount": "$650", "href": "/art/prints/blue-jay/id-a_3/"}]
}}
</script></head><body></body></html>`)
	fetcher := &stubFetcher{route: func(rawURL string) ([]byte, error) { return page, nil }}

	want := []string{"Audubon Octavo Barn Owl", "Audubon Octavo Blue Jay", "Audubon Octavo Snowy Owl"}
	for i := 0; i < 20; i++ {
		listings, err := NewFirstDibsHandler(cfg, fetcher).Scrape(context.Background())
		if err != nil {
			t.Fatalf("scrape failed: %v", err)
		}
		var got []string
		for _, l := range listings {
			got = append(got, l.Title)
		}
		if strings.Join(got, "|") != strings.Join(want, "|") {
			t.Fatalf("run %d: expected %v, got %v", i, want, got)
		}
	}
}

func TestFirstDibs_TileFallback(t *testing.T) {
	cfg := sourceConfig(t, models.SourceFirstDibs)
	fetcher := &stubFetcher{route: func(rawURL string) ([]byte, error) {
		return loadFixture(t, "firstdibs_tiles.html"), nil
	}}

	listings, err := NewFirstDibsHandler(cfg, fetcher).Scrape(context.Background())
	if err != nil {
		t.Fatalf("scrape failed: %v", err)
	}
	if len(listings) != 1 {
		t.Fatalf("expected 1 tile, got %d", len(listings))
	}
	heron := listings[0]
	if heron.Title != "Audubon Octavo Snowy Heron, Plate 374" || heron.PriceText != "$1,350" {
		t.Fatalf("unexpected tile %+v", heron)
	}
	if heron.URL != "https://www.1stdibs.com/art/prints/snowy-heron/id-a_789/" {
		t.Fatalf("unexpected URL %s", heron.URL)
	}
}

func TestEbay_SearchResults(t *testing.T) {
	cfg := sourceConfig(t, models.SourceEbay)
	fetcher := &stubFetcher{route: func(rawURL string) ([]byte, error) {
		return loadFixture(t, "ebay_search.html"), nil
	}}

	listings, err := NewEbayHandler(cfg, fetcher).Scrape(context.Background())
	if err != nil {
		t.Fatalf("scrape failed: %v", err)
	}
	if len(fetcher.urls) != len(cfg.Queries) {
		t.Fatalf("expected one fetch per query, got %d", len(fetcher.urls))
	}
	if !strings.Contains(fetcher.urls[0], "&_nkw=audubon+birds+america") {
		t.Fatalf("expected escaped query in %s", fetcher.urls[0])
	}
	if len(listings) != 2 {
		t.Fatalf("expected 2 listings across queries, got %d", len(listings))
	}

	owl := listings[0]
	if owl.NativeID != "186512345678" {
		t.Fatalf("unexpected item id %s", owl.NativeID)
	}
	if owl.URL != "https://www.ebay.com/itm/audubon-octavo-barn-owl/186512345678" {
		t.Fatalf("expected tracking query to be stripped, got %s", owl.URL)
	}
	if owl.Title != "Audubon Octavo Barn Owl Plate 171 Original 1840" {
		t.Fatalf("expected New Listing prefix to be removed, got %q", owl.Title)
	}
	if owl.PriceText != "$425.00" {
		t.Fatalf("unexpected price %q", owl.PriceText)
	}
	if listings[1].NativeID != "275566778899" {
		t.Fatalf("unexpected second item id %s", listings[1].NativeID)
	}
}
