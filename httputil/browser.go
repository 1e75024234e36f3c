package httputil

import (
	"context"
	"fmt"
	"log"
	"math/rand"
	"os"
	"path/filepath"
	"sync"
	"time"

	"github.com/playwright-community/playwright-go"
	"golang.org/x/time/rate"
)

// BrowserFetcher renders pages in headless Chromium for dealers that serve
// their inventory through client-side React or block plain HTTP clients.
type BrowserFetcher struct {
	mu          sync.Mutex
	pw          *playwright.Playwright
	context     playwright.BrowserContext
	initialized bool
	limiter     *rate.Limiter
	userDataDir string
}

func NewBrowserFetcher(interval time.Duration) *BrowserFetcher {
	cwd, _ := os.Getwd()
	return &BrowserFetcher{
		limiter:     rate.NewLimiter(rate.Every(interval), 1),
		userDataDir: filepath.Join(cwd, "browser_data"),
	}
}

func (f *BrowserFetcher) Fetch(ctx context.Context, rawURL string) ([]byte, error) {
	if err := f.limiter.Wait(ctx); err != nil {
		return nil, err
	}
	if err := f.ensureBrowser(); err != nil {
		return nil, err
	}

	page, err := f.context.NewPage()
	if err != nil {
		return nil, fmt.Errorf("failed to create page: %w", err)
	}
	defer page.Close()

	timeout := 60 * time.Second
	if deadline, ok := ctx.Deadline(); ok {
		if remaining := time.Until(deadline); remaining < timeout {
			timeout = remaining
		}
	}

	resp, err := page.Goto(rawURL, playwright.PageGotoOptions{
		Timeout:   playwright.Float(float64(timeout.Milliseconds())),
		WaitUntil: playwright.WaitUntilStateDomcontentloaded,
	})
	if err != nil {
		return nil, fmt.Errorf("navigate %s: %w", rawURL, err)
	}
	if resp != nil && resp.Status() >= 400 {
		return nil, &StatusError{URL: rawURL, Code: resp.Status()}
	}

	f.handleConsent(page)
	// Give client-side rendering a moment to populate result tiles.
	page.WaitForTimeout(float64(1500 + rand.Intn(1500)))

	content, err := page.Content()
	if err != nil {
		return nil, fmt.Errorf("read content %s: %w", rawURL, err)
	}
	return []byte(content), nil
}

func (f *BrowserFetcher) ensureBrowser() error {
	f.mu.Lock()
	defer f.mu.Unlock()

	if f.initialized {
		return nil
	}

	var err error
	f.pw, err = playwright.Run()
	if err != nil {
		return fmt.Errorf("failed to start playwright: %w", err)
	}

	f.context, err = f.pw.Chromium.LaunchPersistentContext(f.userDataDir, playwright.BrowserTypeLaunchPersistentContextOptions{
		Headless:  playwright.Bool(true),
		UserAgent: playwright.String(userAgent),
		Args: []string{
			"--disable-blink-features=AutomationControlled",
			"--disable-dev-shm-usage",
			"--no-sandbox",
		},
	})
	if err != nil {
		f.pw.Stop()
		return fmt.Errorf("failed to launch browser: %w", err)
	}

	f.initialized = true
	return nil
}

func (f *BrowserFetcher) handleConsent(page playwright.Page) {
	consentSelectors := []string{
		"button:has-text('Accept')",
		"button:has-text('Accept All')",
		"button[id*='accept']",
		"button[class*='consent']",
	}

	for _, selector := range consentSelectors {
		btn := page.Locator(selector).First()
		if visible, _ := btn.IsVisible(); visible {
			log.Printf("Clicking consent button: %s", selector)
			btn.Click()
			page.WaitForTimeout(1000)
			break
		}
	}
}

// Close stops the browser. Safe to call when it never started.
func (f *BrowserFetcher) Close() {
	f.mu.Lock()
	defer f.mu.Unlock()

	if f.context != nil {
		f.context.Close()
		f.context = nil
	}
	if f.pw != nil {
		f.pw.Stop()
		f.pw = nil
	}
	f.initialized = false
}
