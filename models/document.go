package models

import "time"

// SchemaVersion is bumped whenever a field changes meaning. Adding fields does
// not require a bump; the dashboard ignores what it does not know.
const SchemaVersion = 1

// OutputDocument is the artifact the dashboard reads.
type OutputDocument struct {
	SchemaVersion int                          `json:"schema_version"`
	GeneratedAt   time.Time                    `json:"generated_at"`
	RunID         string                       `json:"run_id"`
	Listings      map[string]*CanonicalListing `json:"listings"`
	Sources       map[Source]*SourceStatus     `json:"sources"`
	LastRun       *RunDiff                     `json:"last_run,omitempty"`
	History       []HistoryEntry               `json:"history"`
}

// NewOutputDocument returns the empty document used on the very first run.
func NewOutputDocument() *OutputDocument {
	return &OutputDocument{
		SchemaVersion: SchemaVersion,
		Listings:      make(map[string]*CanonicalListing),
		Sources:       make(map[Source]*SourceStatus),
	}
}

// ListingsForSource returns the listings of one source, in no particular order.
func (d *OutputDocument) ListingsForSource(source Source) []*CanonicalListing {
	var out []*CanonicalListing
	for _, l := range d.Listings {
		if l.Source == source {
			out = append(out, l)
		}
	}
	return out
}

// ActiveCount counts listings with status active.
func (d *OutputDocument) ActiveCount() int {
	n := 0
	for _, l := range d.Listings {
		if l.Status == ListingStatusActive {
			n++
		}
	}
	return n
}

// SourceStatus is the per-dealer outcome of the most recent run.
type SourceStatus struct {
	Name          string     `json:"name"`
	LastRunAt     time.Time  `json:"last_run_at"`
	LastSuccessAt *time.Time `json:"last_success_at"`
	OK            bool       `json:"ok"`
	Stale         bool       `json:"stale"`
	Error         string     `json:"error,omitempty"`
	Fetched       int        `json:"fetched"`
	Accepted      int        `json:"accepted"`
	Rejected      int        `json:"rejected"`
	New           int        `json:"new"`
	Active        int        `json:"active"`
}

// PriceChange records one listing whose price moved during a run.
type PriceChange struct {
	ID       string `json:"id"`
	Previous *Price `json:"previous"`
	Current  Price  `json:"current"`
}

// RunDiff summarizes what a run changed.
type RunDiff struct {
	RunID        string        `json:"run_id"`
	StartedAt    time.Time     `json:"started_at"`
	Added        []string      `json:"added"`
	PriceChanges []PriceChange `json:"price_changes"`
	Delisted     int           `json:"delisted"`
	Relisted     int           `json:"relisted"`
	Pruned       int           `json:"pruned"`
	FailedSource []Source      `json:"failed_sources,omitempty"`
}

// HistoryEntry is one point of the trend charts, appended once per run.
type HistoryEntry struct {
	Date             time.Time      `json:"date"`
	TotalActiveCount int            `json:"total_active_count"`
	NewCount         int            `json:"new_count"`
	DelistedCount    int            `json:"delisted_count"`
	PriceChangeCount int            `json:"price_change_count"`
	PrunedCount      int            `json:"pruned_count"`
	BySource         map[Source]int `json:"by_source"`
	PriceBuckets     map[string]int `json:"price_buckets"`
}
