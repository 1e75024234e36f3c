package storage

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"

	"audubon_monitor/models"
)

// PostgresStore mirrors the output document into relational tables for ad-hoc
// queries. It is optional; the JSON document stays the source of truth.
type PostgresStore struct {
	pool *pgxpool.Pool
}

func NewPostgresStore(ctx context.Context, connString string) (*PostgresStore, error) {
	config, err := pgxpool.ParseConfig(connString)
	if err != nil {
		return nil, fmt.Errorf("parse config: %w", err)
	}

	config.MaxConns = 4
	config.MinConns = 1
	config.MaxConnLifetime = 30 * time.Minute
	config.MaxConnIdleTime = 5 * time.Minute

	pool, err := pgxpool.NewWithConfig(ctx, config)
	if err != nil {
		return nil, fmt.Errorf("create pool: %w", err)
	}

	if err := pool.Ping(ctx); err != nil {
		pool.Close()
		return nil, fmt.Errorf("ping: %w", err)
	}

	store := &PostgresStore{pool: pool}
	if err := store.migrate(ctx); err != nil {
		pool.Close()
		return nil, fmt.Errorf("migrate: %w", err)
	}
	return store, nil
}

func (s *PostgresStore) Close() {
	s.pool.Close()
}

func (s *PostgresStore) Pool() *pgxpool.Pool {
	return s.pool
}

func (s *PostgresStore) migrate(ctx context.Context) error {
	_, err := s.pool.Exec(ctx, `
		CREATE TABLE IF NOT EXISTS listings (
			stable_id TEXT PRIMARY KEY,
			source TEXT NOT NULL,
			source_listing_id TEXT NOT NULL,
			plate_number INTEGER,
			species_name TEXT NOT NULL,
			edition TEXT NOT NULL,
			price_amount NUMERIC(12, 2),
			price_currency TEXT,
			image_urls TEXT[] NOT NULL DEFAULT '{}',
			listing_url TEXT,
			title TEXT,
			available BOOLEAN NOT NULL DEFAULT TRUE,
			status TEXT NOT NULL,
			stale BOOLEAN NOT NULL DEFAULT FALSE,
			first_seen TIMESTAMPTZ NOT NULL,
			last_seen TIMESTAMPTZ NOT NULL,
			delisted_at TIMESTAMPTZ,
			updated_at TIMESTAMPTZ NOT NULL DEFAULT NOW()
		);

		CREATE TABLE IF NOT EXISTS listing_prices (
			stable_id TEXT NOT NULL REFERENCES listings(stable_id) ON DELETE CASCADE,
			observed_at TIMESTAMPTZ NOT NULL,
			amount NUMERIC(12, 2) NOT NULL,
			currency TEXT NOT NULL,
			PRIMARY KEY (stable_id, observed_at, amount, currency)
		);

		CREATE TABLE IF NOT EXISTS run_history (
			date TIMESTAMPTZ PRIMARY KEY,
			total_active_count INTEGER NOT NULL,
			new_count INTEGER NOT NULL,
			delisted_count INTEGER NOT NULL,
			price_change_count INTEGER NOT NULL,
			pruned_count INTEGER NOT NULL,
			by_source JSONB,
			price_buckets JSONB
		);

		CREATE INDEX IF NOT EXISTS idx_listings_source ON listings(source, status);
		CREATE INDEX IF NOT EXISTS idx_listings_plate ON listings(plate_number);
	`)
	return err
}

// =============================================================================
// Mirror
// =============================================================================

// Mirror replaces the mirrored state with doc in one transaction.
func (s *PostgresStore) Mirror(ctx context.Context, doc *models.OutputDocument) error {
	tx, err := s.pool.Begin(ctx)
	if err != nil {
		return fmt.Errorf("begin: %w", err)
	}
	defer tx.Rollback(ctx)

	batch := &pgx.Batch{}
	ids := make([]string, 0, len(doc.Listings))
	for id, l := range doc.Listings {
		ids = append(ids, id)
		queueListing(batch, id, l)
	}
	for _, h := range doc.History {
		if err := queueHistory(batch, h); err != nil {
			return err
		}
	}

	if batch.Len() > 0 {
		if err := tx.SendBatch(ctx, batch).Close(); err != nil {
			return fmt.Errorf("upsert: %w", err)
		}
	}

	if _, err := tx.Exec(ctx, `DELETE FROM listings WHERE NOT (stable_id = ANY($1))`, ids); err != nil {
		return fmt.Errorf("delete pruned: %w", err)
	}

	return tx.Commit(ctx)
}

func queueListing(batch *pgx.Batch, id string, l *models.CanonicalListing) {
	amount, currency := priceColumns(l.Price)
	batch.Queue(`
		INSERT INTO listings (
			stable_id, source, source_listing_id, plate_number, species_name, edition,
			price_amount, price_currency, image_urls, listing_url, title, available,
			status, stale, first_seen, last_seen, delisted_at, updated_at
		) VALUES (
			$1, $2, $3, $4, $5, $6, $7::text::numeric, $8, $9, $10, $11, $12, $13, $14, $15, $16, $17, NOW()
		)
		ON CONFLICT (stable_id) DO UPDATE SET
			plate_number = EXCLUDED.plate_number,
			species_name = EXCLUDED.species_name,
			edition = EXCLUDED.edition,
			price_amount = EXCLUDED.price_amount,
			price_currency = EXCLUDED.price_currency,
			image_urls = EXCLUDED.image_urls,
			listing_url = EXCLUDED.listing_url,
			title = EXCLUDED.title,
			available = EXCLUDED.available,
			status = EXCLUDED.status,
			stale = EXCLUDED.stale,
			last_seen = EXCLUDED.last_seen,
			delisted_at = EXCLUDED.delisted_at,
			updated_at = NOW()`,
		id, string(l.Source), l.SourceListingID, l.PlateNumber, l.SpeciesName, string(l.Edition),
		amount, currency, l.ImageURLs, l.ListingURL, l.Title, l.Available,
		l.Status, l.Stale, l.FirstSeen, l.LastSeen, l.DelistedAt,
	)

	for _, p := range l.PriceHistory {
		batch.Queue(`
			INSERT INTO listing_prices (stable_id, observed_at, amount, currency)
			VALUES ($1, $2, $3::text::numeric, $4)
			ON CONFLICT DO NOTHING`,
			id, p.Date, p.Price.Amount.StringFixed(2), p.Price.Currency,
		)
	}
}

func queueHistory(batch *pgx.Batch, h models.HistoryEntry) error {
	bySource, err := json.Marshal(h.BySource)
	if err != nil {
		return fmt.Errorf("encode by_source: %w", err)
	}
	buckets, err := json.Marshal(h.PriceBuckets)
	if err != nil {
		return fmt.Errorf("encode price_buckets: %w", err)
	}
	batch.Queue(`
		INSERT INTO run_history (
			date, total_active_count, new_count, delisted_count, price_change_count,
			pruned_count, by_source, price_buckets
		) VALUES ($1, $2, $3, $4, $5, $6, $7, $8)
		ON CONFLICT (date) DO NOTHING`,
		h.Date, h.TotalActiveCount, h.NewCount, h.DelistedCount, h.PriceChangeCount,
		h.PrunedCount, bySource, buckets,
	)
	return nil
}

// priceColumns splits a nullable price into its text amount and currency.
func priceColumns(p *models.Price) (*string, *string) {
	if p == nil {
		return nil, nil
	}
	amount := p.Amount.StringFixed(2)
	currency := p.Currency
	return &amount, &currency
}

// CountActive returns how many mirrored listings of a source are active.
func (s *PostgresStore) CountActive(ctx context.Context, source models.Source) (int, error) {
	var n int
	err := s.pool.QueryRow(ctx,
		`SELECT COUNT(*) FROM listings WHERE source = $1 AND status = $2`,
		string(source), models.ListingStatusActive,
	).Scan(&n)
	return n, err
}
