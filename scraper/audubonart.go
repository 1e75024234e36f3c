package scraper

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"strconv"
	"strings"

	"github.com/PuerkitoBio/goquery"

	"audubon_monitor/config"
	"audubon_monitor/httputil"
	"audubon_monitor/models"
)

// AudubonArtHandler scrapes the WooCommerce category of audubonart.com.
// WooCommerce paginates with /page/N/ and answers 404 past the last page.
type AudubonArtHandler struct {
	cfg     *config.SourceConfig
	fetcher httputil.Fetcher
}

func NewAudubonArtHandler(cfg *config.SourceConfig, fetcher httputil.Fetcher) *AudubonArtHandler {
	return &AudubonArtHandler{cfg: cfg, fetcher: fetcher}
}

func (h *AudubonArtHandler) ID() models.Source {
	return h.cfg.ID
}

func (h *AudubonArtHandler) pageURL(category string, page int) string {
	if page == 1 {
		return category
	}
	return strings.TrimRight(category, "/") + "/page/" + strconv.Itoa(page) + "/"
}

func (h *AudubonArtHandler) Scrape(ctx context.Context) ([]models.RawListing, error) {
	category := h.cfg.Endpoints["category"]
	if category == "" {
		return nil, fmt.Errorf("missing category endpoint")
	}
	maxPages := h.cfg.MaxPages
	if maxPages <= 0 {
		maxPages = 3
	}

	var out []models.RawListing
	seen := urlSet{}
	for page := 1; page <= maxPages; page++ {
		body, err := h.fetcher.Fetch(ctx, h.pageURL(category, page))
		if err != nil {
			var status *httputil.StatusError
			if page > 1 && errors.As(err, &status) && status.Code == http.StatusNotFound {
				break
			}
			return nil, fmt.Errorf("page %d: %w", page, err)
		}
		listings, err := h.parse(body)
		if err != nil {
			return nil, fmt.Errorf("page %d: %w", page, err)
		}
		if len(listings) == 0 {
			break
		}
		for _, l := range listings {
			if seen.add(l.URL) {
				out = append(out, l)
			}
		}
	}
	return out, nil
}

func (h *AudubonArtHandler) parse(body []byte) ([]models.RawListing, error) {
	doc, err := parseHTML(body)
	if err != nil {
		return nil, err
	}

	var out []models.RawListing
	seen := urlSet{}
	doc.Find("li.product, .product, .wc-block-grid__product").Each(func(_ int, p *goquery.Selection) {
		a := p.Find("a[href*='/product/']").First()
		href, ok := a.Attr("href")
		if !ok {
			return
		}
		link := absURL(h.cfg.BaseURL, href)
		// Nested .product wrappers match twice.
		if !seen.add(link) {
			return
		}
		title := text(first(p, "h2", "[class*='title']"))
		if title == "" {
			return
		}

		price := first(p, "[class*='price']")
		priceText := text(price.Find("ins").First())
		if priceText == "" {
			priceText = text(price)
		}

		l := models.RawListing{
			Source:    h.cfg.ID,
			URL:       link,
			Title:     title,
			PriceText: priceText,
			Currency:  h.cfg.Currency,
		}
		if src := imageSrc(p.Find("img").First()); src != "" {
			l.ImageURLs = []string{absURL(h.cfg.BaseURL, src)}
		}
		if p.HasClass("outofstock") {
			l.SoldOut = true
		}
		out = append(out, l)
	})
	return out, nil
}
