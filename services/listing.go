package services

import (
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"audubon_monitor/config"
	"audubon_monitor/models"
	"audubon_monitor/normalize"
	"audubon_monitor/workers"
)

// ErrAllRejected marks a source whose every record failed normalization. It is
// treated as a source failure so prior listings are not delisted.
var ErrAllRejected = errors.New("every record rejected by the normalizer")

// ListingService normalizes and identifies the raw listings of one source.
type ListingService struct {
	match *MatchService
	logf  workers.LogFunc
}

// NewListingService creates a new ListingService
func NewListingService(match *MatchService, logf workers.LogFunc) *ListingService {
	if logf == nil {
		logf = workers.NoOpLogger
	}
	return &ListingService{match: match, logf: logf}
}

// SourceOutcome is what one source contributes to a run. A non-nil Err means
// the source failed and its prior listings must be carried forward.
type SourceOutcome struct {
	Source      models.Source
	Name        string
	StartedAt   time.Time
	FinishedAt  time.Time
	Err         error
	Assignments []*Assignment
	Stats       ProcessStats
}

func (o *SourceOutcome) OK() bool {
	return o.Err == nil
}

// ProcessSource normalizes raws, drops rejects and duplicates, and assigns
// stable identities to what is left.
func (s *ListingService) ProcessSource(src *config.SourceConfig, raws []models.RawListing) (*SourceOutcome, error) {
	outcome := &SourceOutcome{Source: src.ID, Name: src.Name}
	outcome.Stats.Fetched = len(raws)

	frags := make([]*normalize.Fragment, 0, len(raws))
	for _, raw := range raws {
		if raw.Source == "" {
			raw.Source = src.ID
		}
		if raw.Currency == "" {
			raw.Currency = src.Currency
		}
		frag, err := normalize.Normalize(raw)
		if err != nil {
			outcome.Stats.Rejected++
			s.logf(models.LogLevelWarn, string(src.ID), fmt.Sprintf("rejected: %v", err))
			continue
		}
		frags = append(frags, frag)
	}

	if len(frags) == 0 && len(raws) > 0 {
		return outcome, ErrAllRejected
	}

	result := s.match.AssignAll(src.ID, src.Identity, frags)
	for _, w := range result.Warnings {
		s.logf(models.LogLevelWarn, string(src.ID), w.String())
	}
	outcome.Stats.Ambiguous = len(result.Warnings)

	seen := make(map[string]bool, len(result.Assignments))
	for _, a := range result.Assignments {
		id := a.StableID()
		if seen[id] {
			outcome.Stats.Duplicates++
			continue
		}
		seen[id] = true
		outcome.Assignments = append(outcome.Assignments, a)
		outcome.Stats.Aggregate(a)
	}
	outcome.Stats.Accepted = len(outcome.Assignments)

	return outcome, nil
}

// ProcessStats tracks per-source statistics for a run
type ProcessStats struct {
	Fetched    int
	Accepted   int
	Rejected   int
	Duplicates int
	Ambiguous  int
	Native     int
	Exact      int
	Similar    int
	New        int
}

// Aggregate adds an Assignment to the stats
func (s *ProcessStats) Aggregate(a *Assignment) {
	switch a.Strategy {
	case MatchNative:
		s.Native++
		if a.Prior == nil {
			s.New++
		}
	case MatchExact:
		s.Exact++
	case MatchSimilar:
		s.Similar++
	case MatchNew:
		s.New++
	}
}

// Matched counts fragments that resolved to an identity seen before.
func (s *ProcessStats) Matched() int {
	return s.Accepted - s.New
}

// ToJSON returns JSON-serializable metadata
func (s *ProcessStats) ToJSON() json.RawMessage {
	data, _ := json.Marshal(map[string]int{
		"fetched":    s.Fetched,
		"accepted":   s.Accepted,
		"rejected":   s.Rejected,
		"duplicates": s.Duplicates,
		"ambiguous":  s.Ambiguous,
		"native":     s.Native,
		"exact":      s.Exact,
		"similar":    s.Similar,
		"new":        s.New,
	})
	return data
}
