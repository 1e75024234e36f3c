package services

import (
	"errors"
	"sort"
	"time"

	"github.com/shopspring/decimal"

	"audubon_monitor/models"
)

const (
	DefaultRetention    = 90 * 24 * time.Hour
	DefaultHistoryLimit = 90
)

// ErrNothingToMerge is returned when no source succeeded. The previous
// document must then be left exactly as it is.
var ErrNothingToMerge = errors.New("no source succeeded, nothing to merge")

// Price bucket labels used by history entries.
const BucketUnpriced = "unpriced"

var priceBuckets = []struct {
	label string
	below decimal.Decimal
}{
	{"<250", decimal.NewFromInt(250)},
	{"250-499", decimal.NewFromInt(500)},
	{"500-999", decimal.NewFromInt(1000)},
	{"1000-2499", decimal.NewFromInt(2500)},
	{"2500-4999", decimal.NewFromInt(5000)},
	{"5000-9999", decimal.NewFromInt(10000)},
}

const bucketTop = "10000+"

// PriceBucket returns the history bucket a price falls in.
func PriceBucket(p *models.Price) string {
	if p == nil {
		return BucketUnpriced
	}
	for _, b := range priceBuckets {
		if p.Amount.LessThan(b.below) {
			return b.label
		}
	}
	return bucketTop
}

// Merger folds one run's source outcomes into the previous document.
type Merger struct {
	Retention    time.Duration
	HistoryLimit int
}

func NewMerger(retention time.Duration, historyLimit int) *Merger {
	if retention <= 0 {
		retention = DefaultRetention
	}
	if historyLimit <= 0 {
		historyLimit = DefaultHistoryLimit
	}
	return &Merger{Retention: retention, HistoryLimit: historyLimit}
}

// Merge returns the next document and the diff of this run. prev is never
// modified; every listing that survives is a clone.
func (m *Merger) Merge(prev *models.OutputDocument, outcomes []*SourceOutcome, runAt time.Time, runID string) (*models.OutputDocument, *models.RunDiff, error) {
	if prev == nil {
		prev = models.NewOutputDocument()
	}

	attempted := make(map[models.Source]*SourceOutcome, len(outcomes))
	anyOK := false
	for _, o := range outcomes {
		attempted[o.Source] = o
		if o.OK() {
			anyOK = true
		}
	}
	if !anyOK {
		return nil, nil, ErrNothingToMerge
	}

	next := models.NewOutputDocument()
	next.GeneratedAt = runAt
	next.RunID = runID
	next.History = append([]models.HistoryEntry(nil), prev.History...)
	for source, st := range prev.Sources {
		c := *st
		next.Sources[source] = &c
	}

	diff := &models.RunDiff{RunID: runID, StartedAt: runAt}
	newBySource := make(map[models.Source]int)
	observed := make(map[string]bool)

	for _, o := range outcomes {
		if !o.OK() {
			continue
		}
		for _, a := range o.Assignments {
			id := a.StableID()
			if observed[id] {
				continue
			}
			observed[id] = true

			prior := prev.Listings[id]
			if prior == nil {
				next.Listings[id] = m.newListing(a, runAt)
				diff.Added = append(diff.Added, id)
				newBySource[o.Source]++
				continue
			}

			l, change, relisted := m.updateListing(prior, a, runAt)
			next.Listings[id] = l
			if change != nil {
				diff.PriceChanges = append(diff.PriceChanges, *change)
			}
			if relisted {
				diff.Relisted++
			}
		}
	}

	for id, prior := range prev.Listings {
		if observed[id] {
			continue
		}
		if prior.Status == models.ListingStatusDelisted && prior.DelistedAt != nil &&
			runAt.Sub(*prior.DelistedAt) > m.Retention {
			diff.Pruned++
			continue
		}

		l := prior.Clone()
		l.IsNew = false
		o, ran := attempted[prior.Source]
		switch {
		case !ran:
			// Source disabled this run.
		case !o.OK():
			l.Stale = true
		case l.Status == models.ListingStatusActive:
			l.Status = models.ListingStatusDelisted
			delistedAt := runAt
			l.DelistedAt = &delistedAt
			l.Stale = false
			diff.Delisted++
		default:
			l.Stale = false
		}
		next.Listings[id] = l
	}

	for _, o := range outcomes {
		st := next.Sources[o.Source]
		if st == nil {
			st = &models.SourceStatus{}
			next.Sources[o.Source] = st
		}
		st.Name = o.Name
		st.LastRunAt = runAt
		st.Fetched = o.Stats.Fetched
		st.Rejected = o.Stats.Rejected
		if o.OK() {
			success := runAt
			st.OK = true
			st.Stale = false
			st.Error = ""
			st.LastSuccessAt = &success
			st.Accepted = o.Stats.Accepted
			st.New = newBySource[o.Source]
		} else {
			st.OK = false
			st.Stale = true
			st.Error = o.Err.Error()
			st.Accepted = 0
			st.New = 0
			diff.FailedSource = append(diff.FailedSource, o.Source)
		}
	}

	bySource := make(map[models.Source]int)
	buckets := make(map[string]int)
	for _, l := range next.Listings {
		if l.Status != models.ListingStatusActive {
			continue
		}
		bySource[l.Source]++
		buckets[PriceBucket(l.Price)]++
	}
	for source, st := range next.Sources {
		st.Active = bySource[source]
	}

	sort.Strings(diff.Added)
	sort.Slice(diff.PriceChanges, func(i, j int) bool { return diff.PriceChanges[i].ID < diff.PriceChanges[j].ID })
	sortSources(diff.FailedSource)

	next.History = append(next.History, models.HistoryEntry{
		Date:             runAt,
		TotalActiveCount: next.ActiveCount(),
		NewCount:         len(diff.Added),
		DelistedCount:    diff.Delisted,
		PriceChangeCount: len(diff.PriceChanges),
		PrunedCount:      diff.Pruned,
		BySource:         bySource,
		PriceBuckets:     buckets,
	})
	if over := len(next.History) - m.HistoryLimit; over > 0 {
		next.History = next.History[over:]
	}
	next.LastRun = diff

	return next, diff, nil
}

func (m *Merger) newListing(a *Assignment, runAt time.Time) *models.CanonicalListing {
	l := a.Fragment.Listing
	c := l.Clone()
	c.SourceListingID = a.SourceListingID
	c.FirstSeen = runAt
	c.LastSeen = runAt
	c.Status = models.ListingStatusActive
	c.DelistedAt = nil
	c.Stale = false
	c.IsNew = true
	c.PriceHistory = nil
	if c.Price != nil {
		c.PriceHistory = []models.PricePoint{{Date: runAt, Price: *c.Price}}
	}
	return c
}

func (m *Merger) updateListing(prior *models.CanonicalListing, a *Assignment, runAt time.Time) (*models.CanonicalListing, *models.PriceChange, bool) {
	cur := a.Fragment.Listing
	l := prior.Clone()
	relisted := prior.Status == models.ListingStatusDelisted

	l.PlateNumber = cur.Clone().PlateNumber
	l.SpeciesName = cur.SpeciesName
	l.Edition = cur.Edition
	l.ImageURLs = append([]string(nil), cur.ImageURLs...)
	l.ListingURL = cur.ListingURL
	l.Title = cur.Title
	l.Description = cur.Description
	l.Available = cur.Available
	l.Status = models.ListingStatusActive
	l.DelistedAt = nil
	l.Stale = false
	l.IsNew = false
	if runAt.After(l.LastSeen) {
		l.LastSeen = runAt
	}

	l.Price = nil
	var change *models.PriceChange
	if cur.Price != nil {
		p := *cur.Price
		l.Price = &p
		last := prior.LastRecordedPrice()
		if last == nil || !last.Equal(p) {
			at := runAt
			if n := len(l.PriceHistory); n > 0 && at.Before(l.PriceHistory[n-1].Date) {
				at = l.PriceHistory[n-1].Date
			}
			l.PriceHistory = append(l.PriceHistory, models.PricePoint{Date: at, Price: p})
			change = &models.PriceChange{ID: l.StableID(), Previous: last, Current: p}
		}
	}

	return l, change, relisted
}

func sortSources(sources []models.Source) {
	rank := make(map[models.Source]int, len(models.KnownSources))
	for i, s := range models.KnownSources {
		rank[s] = i
	}
	sort.Slice(sources, func(i, j int) bool { return rank[sources[i]] < rank[sources[j]] })
}
