package scraper

import (
	"context"
	"encoding/json"
	"fmt"
	"sort"
	"strconv"
	"strings"

	"github.com/PuerkitoBio/goquery"

	"audubon_monitor/config"
	"audubon_monitor/httputil"
	"audubon_monitor/models"
)

const firstDibsMaxDepth = 5

// FirstDibsHandler reads the 1stDibs search page. Results are embedded as
// JSON state in the page; rendered tiles are the fallback when the state
// blob is missing or changed shape.
type FirstDibsHandler struct {
	cfg     *config.SourceConfig
	fetcher httputil.Fetcher
}

func NewFirstDibsHandler(cfg *config.SourceConfig, fetcher httputil.Fetcher) *FirstDibsHandler {
	return &FirstDibsHandler{cfg: cfg, fetcher: fetcher}
}

func (h *FirstDibsHandler) ID() models.Source {
	return h.cfg.ID
}

func (h *FirstDibsHandler) Scrape(ctx context.Context) ([]models.RawListing, error) {
	search := h.cfg.Endpoints["search"]
	if search == "" {
		return nil, fmt.Errorf("missing search endpoint")
	}
	body, err := h.fetcher.Fetch(ctx, search)
	if err != nil {
		return nil, err
	}
	return h.parse(body)
}

func (h *FirstDibsHandler) parse(body []byte) ([]models.RawListing, error) {
	doc, err := parseHTML(body)
	if err != nil {
		return nil, err
	}

	var out []models.RawListing
	seen := urlSet{}
	add := func(l models.RawListing) {
		if l.Title == "" || !seen.add(l.URL) {
			return
		}
		out = append(out, l)
	}

	doc.Find("script[type='application/json']").Each(func(_ int, s *goquery.Selection) {
		var state any
		if err := json.Unmarshal([]byte(s.Text()), &state); err != nil {
			return
		}
		h.walk(state, 0, add)
	})
	if len(out) > 0 {
		return out, nil
	}

	doc.Find("[data-tn='search-result-item'], .search-result-item, .listing-tile").Each(func(_ int, tile *goquery.Selection) {
		a := tile.Find("a[href]").First()
		href, ok := a.Attr("href")
		if !ok {
			return
		}
		l := models.RawListing{
			Source:    h.cfg.ID,
			URL:       h.itemURL(href),
			Title:     text(first(tile, "h3", "p", "span")),
			PriceText: text(first(tile, "[data-tn*='price']", "[class*='price']")),
			Currency:  h.cfg.Currency,
		}
		if src := imageSrc(tile.Find("img").First()); src != "" {
			l.ImageURLs = []string{src}
		}
		add(l)
	})
	return out, nil
}

// walk visits the decoded state looking for item-shaped objects: anything
// with a title next to a price or amount.
func (h *FirstDibsHandler) walk(node any, depth int, add func(models.RawListing)) {
	if depth > firstDibsMaxDepth {
		return
	}
	switch v := node.(type) {
	case []any:
		for _, child := range v {
			h.walk(child, depth+1, add)
		}
	case map[string]any:
		if l, ok := h.item(v); ok {
			add(l)
			return
		}
		keys := make([]string, 0, len(v))
		for k := range v {
			keys = append(keys, k)
		}
		sort.Strings(keys)
		for _, k := range keys {
			h.walk(v[k], depth+1, add)
		}
	}
}

func (h *FirstDibsHandler) item(m map[string]any) (models.RawListing, bool) {
	title, _ := m["title"].(string)
	if title == "" {
		return models.RawListing{}, false
	}
	price, hasPrice := m["price"]
	if !hasPrice {
		price, hasPrice = m["amount"]
	}
	if !hasPrice {
		return models.RawListing{}, false
	}

	var href string
	for _, k := range []string{"url", "href", "link"} {
		if s, ok := m[k].(string); ok && s != "" {
			href = s
			break
		}
	}
	if href == "" {
		return models.RawListing{}, false
	}

	l := models.RawListing{
		Source:   h.cfg.ID,
		URL:      h.itemURL(href),
		Title:    strings.TrimSpace(title),
		Currency: h.cfg.Currency,
	}
	l.PriceText, l.Currency = priceText(price, l.Currency)
	for _, k := range []string{"image", "imageUrl"} {
		if s, ok := m[k].(string); ok && s != "" {
			l.ImageURLs = []string{s}
			break
		}
	}
	if d, ok := m["description"].(string); ok {
		l.Description = strings.TrimSpace(d)
	}
	return l, true
}

func (h *FirstDibsHandler) itemURL(href string) string {
	if strings.HasPrefix(href, "http") {
		return href
	}
	return strings.TrimRight(h.cfg.BaseURL, "/") + "/" + strings.TrimLeft(href, "/")
}

// priceText renders a state price that may be a string, a number or an
// {amount, currency} object. The embedded currency wins over the fallback.
func priceText(v any, currency string) (string, string) {
	switch p := v.(type) {
	case string:
		return p, currency
	case float64:
		return strconv.FormatFloat(p, 'f', -1, 64), currency
	case map[string]any:
		if c, ok := p["currency"].(string); ok && c != "" {
			currency = strings.ToUpper(c)
		}
		amount, _ := priceText(p["amount"], currency)
		return amount, currency
	}
	return "", currency
}
