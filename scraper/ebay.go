package scraper

import (
	"context"
	"fmt"
	"net/url"
	"regexp"
	"strings"

	"github.com/PuerkitoBio/goquery"

	"audubon_monitor/config"
	"audubon_monitor/httputil"
	"audubon_monitor/models"
)

var ebayItemIDRe = regexp.MustCompile(`/itm/(?:[^/]+/)?(\d+)`)

// EbayHandler runs the configured Buy It Now searches. Every query is a
// separate page; item ids make listings stable across queries and runs.
type EbayHandler struct {
	cfg     *config.SourceConfig
	fetcher httputil.Fetcher
}

func NewEbayHandler(cfg *config.SourceConfig, fetcher httputil.Fetcher) *EbayHandler {
	return &EbayHandler{cfg: cfg, fetcher: fetcher}
}

func (h *EbayHandler) ID() models.Source {
	return h.cfg.ID
}

func (h *EbayHandler) searchURL(query string) string {
	return h.cfg.Endpoints["search"] + "&_nkw=" + url.QueryEscape(query)
}

func (h *EbayHandler) Scrape(ctx context.Context) ([]models.RawListing, error) {
	if h.cfg.Endpoints["search"] == "" {
		return nil, fmt.Errorf("missing search endpoint")
	}
	if len(h.cfg.Queries) == 0 {
		return nil, fmt.Errorf("no queries configured")
	}

	var out []models.RawListing
	seen := urlSet{}
	for _, q := range h.cfg.Queries {
		body, err := h.fetcher.Fetch(ctx, h.searchURL(q))
		if err != nil {
			return nil, fmt.Errorf("query %q: %w", q, err)
		}
		listings, err := h.parse(body)
		if err != nil {
			return nil, fmt.Errorf("query %q: %w", q, err)
		}
		for _, l := range listings {
			if seen.add(l.URL) {
				out = append(out, l)
			}
		}
	}
	return out, nil
}

func (h *EbayHandler) parse(body []byte) ([]models.RawListing, error) {
	doc, err := parseHTML(body)
	if err != nil {
		return nil, err
	}

	var out []models.RawListing
	seen := urlSet{}
	doc.Find(".s-item, .srp-results .s-item__wrapper").Each(func(_ int, item *goquery.Selection) {
		a := first(item, "a[class*='s-item__link']", "a[href*='ebay.com/itm/']")
		href, ok := a.Attr("href")
		if !ok {
			return
		}
		link := stripQuery(href)
		if !strings.Contains(link, "ebay.com/itm/") {
			return
		}
		m := ebayItemIDRe.FindStringSubmatch(link)
		if m == nil || seen[link] {
			return
		}

		title := text(first(item, "[class*='s-item__title']"))
		title = strings.TrimSpace(strings.TrimPrefix(title, "New Listing"))
		if title == "" || strings.EqualFold(title, "Shop on eBay") {
			return
		}
		if !containsKeyword(h.cfg.Keyword, title) {
			return
		}
		seen.add(link)

		l := models.RawListing{
			Source:    h.cfg.ID,
			NativeID:  m[1],
			URL:       link,
			Title:     title,
			PriceText: text(first(item, "[class*='s-item__price']")),
			Currency:  h.cfg.Currency,
		}
		if src := imageSrc(item.Find("img").First()); src != "" {
			l.ImageURLs = []string{src}
		}
		out = append(out, l)
	})
	return out, nil
}
