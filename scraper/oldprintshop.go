package scraper

import (
	"context"
	"fmt"
	"regexp"
	"strings"

	"github.com/PuerkitoBio/goquery"

	"audubon_monitor/config"
	"audubon_monitor/httputil"
	"audubon_monitor/models"
)

var oldPrintShopIDRe = regexp.MustCompile(`/product/(\d+)`)

// OldPrintShopHandler walks the paginated subject listing of oldprintshop.com.
// Product cards carry no stable class names, so each product link is walked
// up to the nearest ancestor that also holds a price.
type OldPrintShopHandler struct {
	cfg     *config.SourceConfig
	fetcher httputil.Fetcher
}

func NewOldPrintShopHandler(cfg *config.SourceConfig, fetcher httputil.Fetcher) *OldPrintShopHandler {
	return &OldPrintShopHandler{cfg: cfg, fetcher: fetcher}
}

func (h *OldPrintShopHandler) ID() models.Source {
	return h.cfg.ID
}

func (h *OldPrintShopHandler) Scrape(ctx context.Context) ([]models.RawListing, error) {
	endpoint := h.cfg.Endpoints["shop"]
	if endpoint == "" {
		return nil, fmt.Errorf("missing shop endpoint")
	}
	maxPages := h.cfg.MaxPages
	if maxPages <= 0 {
		maxPages = 5
	}

	var out []models.RawListing
	seen := urlSet{}
	for page := 1; page <= maxPages; page++ {
		body, err := h.fetcher.Fetch(ctx, withPage(endpoint, page))
		if err != nil {
			return nil, fmt.Errorf("page %d: %w", page, err)
		}
		listings, err := h.parse(body)
		if err != nil {
			return nil, fmt.Errorf("page %d: %w", page, err)
		}
		added := 0
		for _, l := range listings {
			if seen.add(l.URL) {
				out = append(out, l)
				added++
			}
		}
		// Past the last page the shop repeats the final page.
		if added == 0 {
			break
		}
	}
	return out, nil
}

func (h *OldPrintShopHandler) parse(body []byte) ([]models.RawListing, error) {
	doc, err := parseHTML(body)
	if err != nil {
		return nil, err
	}

	links := doc.Find("li a[href*='/product/']")
	if links.Length() == 0 {
		links = doc.Find("a[href*='/product/']")
	}

	var out []models.RawListing
	seen := urlSet{}
	links.Each(func(_ int, a *goquery.Selection) {
		href, _ := a.Attr("href")
		m := oldPrintShopIDRe.FindStringSubmatch(href)
		if m == nil {
			return
		}
		link := stripQuery(absURL(h.cfg.BaseURL, href))
		if !seen.add(link) {
			return
		}

		card := productCard(a)
		priceText := dollarRe.FindString(text(card))
		title := cardTitle(card, a)
		if title == "" {
			return
		}

		l := models.RawListing{
			Source:    h.cfg.ID,
			NativeID:  m[1],
			URL:       link,
			Title:     title,
			PriceText: priceText,
			Currency:  h.cfg.Currency,
		}
		if src := imageSrc(card.Find("img").First()); src != "" {
			l.ImageURLs = []string{absURL(h.cfg.BaseURL, src)}
		}
		out = append(out, l)
	})
	return out, nil
}

// productCard climbs at most five ancestors looking for one whose text holds
// both a title and a dollar amount.
func productCard(a *goquery.Selection) *goquery.Selection {
	node := a
	for i := 0; i < 5; i++ {
		parent := node.Parent()
		if parent.Length() == 0 {
			break
		}
		node = parent
		t := text(node)
		if strings.Contains(t, "$") && len(t) > 20 {
			return node
		}
	}
	return node
}

func cardTitle(card, link *goquery.Selection) string {
	if h := first(card, "h2", "h3", "h4"); h.Length() > 0 {
		if t := text(h); t != "" {
			return t
		}
	}
	if t := text(link); len(t) > 3 && !strings.Contains(t, "$") {
		return t
	}
	for _, line := range strings.Split(card.Text(), "\n") {
		line = strings.TrimSpace(line)
		if len(line) > 10 && !strings.Contains(line, "$") {
			return line
		}
	}
	return ""
}
