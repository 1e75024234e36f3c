package scraper

import (
	"context"
	"fmt"

	"github.com/PuerkitoBio/goquery"

	"audubon_monitor/config"
	"audubon_monitor/httputil"
	"audubon_monitor/models"
)

// AntiqueAudubonHandler scrapes the Weebly store category pages of
// antiqueaudubon.com. Each category is a single edition, which becomes the
// edition hint of every listing on it.
type AntiqueAudubonHandler struct {
	cfg     *config.SourceConfig
	fetcher httputil.Fetcher
}

func NewAntiqueAudubonHandler(cfg *config.SourceConfig, fetcher httputil.Fetcher) *AntiqueAudubonHandler {
	return &AntiqueAudubonHandler{cfg: cfg, fetcher: fetcher}
}

func (h *AntiqueAudubonHandler) ID() models.Source {
	return h.cfg.ID
}

func (h *AntiqueAudubonHandler) Scrape(ctx context.Context) ([]models.RawListing, error) {
	if len(h.cfg.Categories) == 0 {
		return nil, fmt.Errorf("no categories configured")
	}

	var out []models.RawListing
	seen := urlSet{}
	for _, cat := range h.cfg.Categories {
		body, err := h.fetcher.Fetch(ctx, cat.URL)
		if err != nil {
			return nil, fmt.Errorf("category %s: %w", cat.URL, err)
		}
		listings, err := h.parse(body, cat.URL, cat.EditionHint)
		if err != nil {
			return nil, fmt.Errorf("category %s: %w", cat.URL, err)
		}
		for _, l := range listings {
			if seen.add(l.URL) {
				out = append(out, l)
			}
		}
	}
	return out, nil
}

func (h *AntiqueAudubonHandler) parse(body []byte, pageURL, hint string) ([]models.RawListing, error) {
	doc, err := parseHTML(body)
	if err != nil {
		return nil, err
	}

	products := doc.Find(".wsite-com-product-wrap, .wsite-com-category-product")
	if products.Length() == 0 {
		products = doc.Find("div[class*='product']")
	}

	var out []models.RawListing
	products.Each(func(_ int, p *goquery.Selection) {
		a := p.Find("a[href]").First()
		href, ok := a.Attr("href")
		if !ok {
			return
		}
		title := text(first(p, ".wsite-com-product-title", "[class*='product-title']", "[class*='product-name']", "h2", "h3"))
		if title == "" {
			title = text(a)
		}
		if title == "" {
			return
		}

		priceText := text(first(p, "[class*='sale']"))
		if dollarRe.FindString(priceText) == "" {
			priceText = text(first(p, "[class*='price']"))
		}

		l := models.RawListing{
			Source:      h.cfg.ID,
			URL:         absURL(pageURL, href),
			Title:       title,
			PriceText:   priceText,
			Currency:    h.cfg.Currency,
			EditionHint: hint,
		}
		for _, src := range images(p) {
			l.ImageURLs = append(l.ImageURLs, absURL(pageURL, src))
		}
		if containsKeyword("sold out", text(p)) {
			l.SoldOut = true
		}
		out = append(out, l)
	})
	return out, nil
}
