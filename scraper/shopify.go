package scraper

import (
	"context"
	"encoding/json"
	"fmt"
	"strconv"
	"strings"

	"audubon_monitor/config"
	"audubon_monitor/httputil"
	"audubon_monitor/models"
)

const shopifyPageLimit = 250

// ShopifyHandler reads the public products.json catalogue of a Shopify store.
type ShopifyHandler struct {
	cfg     *config.SourceConfig
	fetcher httputil.Fetcher
}

func NewShopifyHandler(cfg *config.SourceConfig, fetcher httputil.Fetcher) *ShopifyHandler {
	return &ShopifyHandler{cfg: cfg, fetcher: fetcher}
}

func (h *ShopifyHandler) ID() models.Source {
	return h.cfg.ID
}

type shopifyResponse struct {
	Products []shopifyProduct `json:"products"`
}

type shopifyProduct struct {
	ID       json.Number `json:"id"`
	Title    string      `json:"title"`
	Handle   string      `json:"handle"`
	BodyHTML string      `json:"body_html"`
	Variants []struct {
		Price     string `json:"price"`
		Available *bool  `json:"available"`
	} `json:"variants"`
	Images []struct {
		Src string `json:"src"`
	} `json:"images"`
}

func (h *ShopifyHandler) Scrape(ctx context.Context) ([]models.RawListing, error) {
	endpoint := h.cfg.Endpoints["products"]
	if endpoint == "" {
		return nil, fmt.Errorf("missing products endpoint")
	}
	maxPages := h.cfg.MaxPages
	if maxPages <= 0 {
		maxPages = 10
	}

	var out []models.RawListing
	seen := urlSet{}
	for page := 1; page <= maxPages; page++ {
		pageURL := withQuery(withPage(endpoint, page), "limit", strconv.Itoa(shopifyPageLimit))
		body, err := h.fetcher.Fetch(ctx, pageURL)
		if err != nil {
			return nil, fmt.Errorf("page %d: %w", page, err)
		}
		listings, products, err := h.parse(body)
		if err != nil {
			return nil, fmt.Errorf("page %d: %w", page, err)
		}
		if products == 0 {
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

// parse returns the keyword-matching listings of one page and the number of
// products the page held before filtering.
func (h *ShopifyHandler) parse(body []byte) ([]models.RawListing, int, error) {
	var resp shopifyResponse
	if err := json.Unmarshal(body, &resp); err != nil {
		return nil, 0, fmt.Errorf("decode products: %w", err)
	}

	base := strings.TrimRight(h.cfg.BaseURL, "/")
	var out []models.RawListing
	for _, p := range resp.Products {
		if p.Handle == "" || p.Title == "" {
			continue
		}
		desc := htmlText(p.BodyHTML)
		if !containsKeyword(h.cfg.Keyword, p.Title, desc) {
			continue
		}

		l := models.RawListing{
			Source:      h.cfg.ID,
			NativeID:    p.ID.String(),
			URL:         base + "/products/" + p.Handle,
			Title:       strings.TrimSpace(p.Title),
			Description: desc,
			Currency:    h.cfg.Currency,
		}
		if len(p.Variants) > 0 {
			v := p.Variants[0]
			l.PriceText = v.Price
			l.SoldOut = v.Available != nil && !*v.Available
		}
		for _, img := range p.Images {
			if img.Src != "" {
				l.ImageURLs = append(l.ImageURLs, img.Src)
			}
		}
		out = append(out, l)
	}
	return out, len(resp.Products), nil
}
