package scraper

import (
	"bytes"
	"net/url"
	"regexp"
	"strconv"
	"strings"

	"github.com/PuerkitoBio/goquery"
)

var (
	spaceRe     = regexp.MustCompile(`\s+`)
	dollarRe    = regexp.MustCompile(`\$\s*[\d,]+(?:\.\d{2})?`)
	srcsetURLRe = regexp.MustCompile(`^\S+`)
)

func parseHTML(body []byte) (*goquery.Document, error) {
	return goquery.NewDocumentFromReader(bytes.NewReader(body))
}

// text returns the collapsed text content of a selection.
func text(s *goquery.Selection) string {
	return strings.TrimSpace(spaceRe.ReplaceAllString(s.Text(), " "))
}

// htmlText strips markup from an HTML fragment such as a Shopify body_html.
func htmlText(fragment string) string {
	if fragment == "" {
		return ""
	}
	doc, err := goquery.NewDocumentFromReader(strings.NewReader(fragment))
	if err != nil {
		return ""
	}
	return text(doc.Selection)
}

// first returns the first match of the given selectors, tried in order.
func first(s *goquery.Selection, selectors ...string) *goquery.Selection {
	for _, sel := range selectors {
		if m := s.Find(sel).First(); m.Length() > 0 {
			return m
		}
	}
	return s.Find("__none__")
}

// imageSrc returns the best image URL of an <img>, preferring lazy-load
// attributes over placeholder srcs.
func imageSrc(img *goquery.Selection) string {
	for _, attr := range []string{"data-src", "data-lazy-src", "data-original", "src"} {
		if v, ok := img.Attr(attr); ok {
			v = strings.TrimSpace(v)
			if v != "" && !strings.HasPrefix(v, "data:") {
				return v
			}
		}
	}
	for _, attr := range []string{"data-srcset", "srcset"} {
		if v, ok := img.Attr(attr); ok {
			if m := srcsetURLRe.FindString(strings.TrimSpace(v)); m != "" {
				return m
			}
		}
	}
	return ""
}

// images collects image URLs of every <img> under s in document order.
func images(s *goquery.Selection) []string {
	var out []string
	s.Find("img").Each(func(_ int, img *goquery.Selection) {
		if src := imageSrc(img); src != "" {
			out = append(out, src)
		}
	})
	return out
}

func absURL(base, href string) string {
	href = strings.TrimSpace(href)
	if href == "" {
		return ""
	}
	b, err := url.Parse(base)
	if err != nil {
		return href
	}
	u, err := url.Parse(href)
	if err != nil {
		return ""
	}
	return b.ResolveReference(u).String()
}

// withQuery returns rawURL with key set to value.
func withQuery(rawURL, key, value string) string {
	u, err := url.Parse(rawURL)
	if err != nil {
		return rawURL
	}
	q := u.Query()
	q.Set(key, value)
	u.RawQuery = q.Encode()
	return u.String()
}

func withPage(rawURL string, page int) string {
	return withQuery(rawURL, "page", strconv.Itoa(page))
}

func stripQuery(rawURL string) string {
	if i := strings.IndexAny(rawURL, "?#"); i >= 0 {
		return rawURL[:i]
	}
	return rawURL
}

func containsKeyword(keyword string, fields ...string) bool {
	if keyword == "" {
		return true
	}
	keyword = strings.ToLower(keyword)
	for _, f := range fields {
		if strings.Contains(strings.ToLower(f), keyword) {
			return true
		}
	}
	return false
}

// urlSet de-duplicates listings across pages and queries of one source.
type urlSet map[string]bool

func (s urlSet) add(u string) bool {
	if u == "" || s[u] {
		return false
	}
	s[u] = true
	return true
}
