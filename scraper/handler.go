package scraper

import (
	"context"
	"errors"
	"fmt"

	"audubon_monitor/config"
	"audubon_monitor/httputil"
	"audubon_monitor/models"
)

// ErrNoListings marks a source that answered but yielded zero records. It is
// a failure: an empty page usually means the markup changed.
var ErrNoListings = errors.New("no listings found")

// SourceError wraps any failure of one source. The run continues and the
// source's prior listings are carried forward as stale.
type SourceError struct {
	Source models.Source
	Err    error
}

func (e *SourceError) Error() string {
	return fmt.Sprintf("source %s: %v", e.Source, e.Err)
}

func (e *SourceError) Unwrap() error {
	return e.Err
}

type Handler interface {
	ID() models.Source
	Scrape(ctx context.Context) ([]models.RawListing, error)
}

func NewHandler(cfg *config.SourceConfig, fetcher httputil.Fetcher) (Handler, error) {
	switch cfg.Handler {
	case "shopify":
		return NewShopifyHandler(cfg, fetcher), nil
	case "oldprintshop":
		return NewOldPrintShopHandler(cfg, fetcher), nil
	case "antiqueaudubon":
		return NewAntiqueAudubonHandler(cfg, fetcher), nil
	case "audubonart":
		return NewAudubonArtHandler(cfg, fetcher), nil
	case "firstdibs":
		return NewFirstDibsHandler(cfg, fetcher), nil
	case "ebay":
		return NewEbayHandler(cfg, fetcher), nil
	default:
		return nil, fmt.Errorf("source %s: unknown handler %q", cfg.ID, cfg.Handler)
	}
}
