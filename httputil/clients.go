package httputil

import (
	"context"
	"crypto/tls"
	"fmt"
	"net/http"
	"net/url"
	"time"

	"github.com/go-resty/resty/v2"
	"golang.org/x/time/rate"

	"audubon_monitor/config"
)

const userAgent = "Mozilla/5.0 (Macintosh; Intel Mac OS X 10_15_7) AppleWebKit/537.36 (KHTML, like Gecko) Chrome/120.0.0.0 Safari/537.36"

// Fetcher returns the raw body behind a URL.
type Fetcher interface {
	Fetch(ctx context.Context, rawURL string) ([]byte, error)
}

// StatusError is returned for non-2xx responses.
type StatusError struct {
	URL  string
	Code int
}

func (e *StatusError) Error() string {
	return fmt.Sprintf("GET %s: status %d", e.URL, e.Code)
}

// HTTPFetcher fetches pages for a single source. Each source gets its own
// limiter so a slow or strict dealer never throttles the others.
type HTTPFetcher struct {
	client  *resty.Client
	limiter *rate.Limiter
}

// FetcherOptions tune an HTTPFetcher. Zero values fall back to defaults.
type FetcherOptions struct {
	Interval   time.Duration
	Timeout    time.Duration
	RetryCount int
	RetryWait  time.Duration
}

func NewHTTPFetcher(proxyCfg *config.ProxyConfig, opts FetcherOptions) *HTTPFetcher {
	if opts.Interval <= 0 {
		opts.Interval = 500 * time.Millisecond
	}
	if opts.Timeout <= 0 {
		opts.Timeout = 15 * time.Second
	}
	if opts.RetryCount == 0 {
		opts.RetryCount = 2
	}
	if opts.RetryWait <= 0 {
		opts.RetryWait = 2 * time.Second
	}

	transport := http.DefaultTransport.(*http.Transport).Clone()
	if proxyCfg != nil && proxyCfg.URL != "" {
		if proxyURL, err := url.Parse(proxyCfg.URL); err == nil {
			transport.Proxy = http.ProxyURL(proxyURL)
			transport.ForceAttemptHTTP2 = false
			transport.TLSNextProto = make(map[string]func(string, *tls.Conn) http.RoundTripper)
		}
	}

	client := resty.New().
		SetTransport(transport).
		SetTimeout(opts.Timeout).
		SetHeader("User-Agent", userAgent).
		SetHeader("Accept", "text/html,application/xhtml+xml,application/xml,application/json;q=0.9,*/*;q=0.8").
		SetHeader("Accept-Language", "en-US,en;q=0.5").
		SetRetryCount(opts.RetryCount).
		SetRetryWaitTime(opts.RetryWait).
		SetRetryMaxWaitTime(4 * opts.RetryWait).
		AddRetryCondition(func(r *resty.Response, err error) bool {
			if err != nil {
				return true
			}
			code := r.StatusCode()
			return code == http.StatusTooManyRequests || code >= 500
		})

	return &HTTPFetcher{
		client:  client,
		limiter: rate.NewLimiter(rate.Every(opts.Interval), 1),
	}
}

// Fetch waits for the source's limiter, then performs a GET.
func (f *HTTPFetcher) Fetch(ctx context.Context, rawURL string) ([]byte, error) {
	if err := f.limiter.Wait(ctx); err != nil {
		return nil, err
	}

	resp, err := f.client.R().SetContext(ctx).Get(rawURL)
	if err != nil {
		return nil, fmt.Errorf("GET %s: %w", rawURL, err)
	}
	if resp.IsError() {
		return nil, &StatusError{URL: rawURL, Code: resp.StatusCode()}
	}

	return resp.Body(), nil
}
