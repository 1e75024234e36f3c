package services

import (
	"fmt"
	"sort"

	"github.com/antzucaro/matchr"

	"audubon_monitor/config"
	"audubon_monitor/identity"
	"audubon_monitor/models"
	"audubon_monitor/normalize"
)

// Similarity matching constants. A pair below SimilarityThreshold never
// shares an identity. Scores within AmbiguityMargin of the threshold, or of
// the runner-up, are logged so the constants can be reviewed.
const (
	SimilarityThreshold = 0.85
	AmbiguityMargin     = 0.03

	speciesJaccardFloor = 0.6
	speciesJaroFloor    = 0.90
)

// Match strategies reported per assignment.
const (
	MatchNative  = "native"
	MatchExact   = "exact"
	MatchSimilar = "similar"
	MatchNew     = "new"
)

// PriorIndex is a read-only view of the previous document, built once per run
// and shared by every source task.
type PriorIndex struct {
	byID     map[string]*models.CanonicalListing
	bySource map[models.Source][]*models.CanonicalListing
}

func NewPriorIndex(doc *models.OutputDocument) *PriorIndex {
	idx := &PriorIndex{
		byID:     make(map[string]*models.CanonicalListing),
		bySource: make(map[models.Source][]*models.CanonicalListing),
	}
	if doc == nil {
		return idx
	}
	for id, l := range doc.Listings {
		idx.byID[id] = l
		idx.bySource[l.Source] = append(idx.bySource[l.Source], l)
	}
	for _, listings := range idx.bySource {
		sort.Slice(listings, func(i, j int) bool {
			return listings[i].StableID() < listings[j].StableID()
		})
	}
	return idx
}

// Get returns the prior listing stored under a stable id.
func (idx *PriorIndex) Get(stableID string) *models.CanonicalListing {
	return idx.byID[stableID]
}

// ForSource returns the prior listings of one source ordered by stable id.
func (idx *PriorIndex) ForSource(source models.Source) []*models.CanonicalListing {
	return idx.bySource[source]
}

// Assignment binds one normalized fragment to its stable identity.
type Assignment struct {
	Fragment        *normalize.Fragment
	SourceListingID string
	Prior           *models.CanonicalListing
	Strategy        string
	Score           float64
}

func (a *Assignment) StableID() string {
	return models.StableID(a.Fragment.Listing.Source, a.SourceListingID)
}

// AmbiguityWarning is raised when a similarity decision was close. The match
// still goes through using the tie-break order.
type AmbiguityWarning struct {
	Source     models.Source
	Title      string
	WinnerID   string
	Score      float64
	RunnerUpID string
	RunnerUp   float64
}

func (w AmbiguityWarning) String() string {
	if w.RunnerUpID == "" {
		return fmt.Sprintf("ambiguous match for %q: %s scored %.3f near threshold", w.Title, w.WinnerID, w.Score)
	}
	return fmt.Sprintf("ambiguous match for %q: %s scored %.3f, runner-up %s %.3f",
		w.Title, w.WinnerID, w.Score, w.RunnerUpID, w.RunnerUp)
}

// MatchResult is the outcome of matching one source's fragments.
type MatchResult struct {
	Assignments []*Assignment
	Warnings    []AmbiguityWarning
}

// Count returns how many assignments used the given strategy.
func (r *MatchResult) Count(strategy string) int {
	n := 0
	for _, a := range r.Assignments {
		if a.Strategy == strategy {
			n++
		}
	}
	return n
}

// MatchService assigns stable identities to fragments against the prior index.
type MatchService struct {
	prior     *PriorIndex
	threshold float64
}

// NewMatchService creates a MatchService. A zero threshold uses
// SimilarityThreshold.
func NewMatchService(prior *PriorIndex, threshold float64) *MatchService {
	if threshold <= 0 {
		threshold = SimilarityThreshold
	}
	return &MatchService{prior: prior, threshold: threshold}
}

// AssignAll assigns an identity to every fragment of one source. Native ids
// and exact fingerprint hits are settled first so that the similarity pass
// only competes for prior identities nobody claimed outright. Each prior
// identity is claimed at most once.
func (s *MatchService) AssignAll(source models.Source, strategy string, frags []*normalize.Fragment) *MatchResult {
	result := &MatchResult{Assignments: make([]*Assignment, len(frags))}
	claimed := make(map[string]bool)
	var pending []int

	for i, frag := range frags {
		if strategy == config.IdentityNative && frag.NativeID != "" {
			a := &Assignment{Fragment: frag, SourceListingID: frag.NativeID, Strategy: MatchNative}
			a.Prior = s.prior.Get(a.StableID())
			claimed[a.StableID()] = true
			result.Assignments[i] = a
			continue
		}

		key := identity.Fingerprint(&frag.Listing)
		stableID := models.StableID(source, key)
		if prior := s.prior.Get(stableID); prior != nil && !claimed[stableID] {
			claimed[stableID] = true
			result.Assignments[i] = &Assignment{Fragment: frag, SourceListingID: key, Prior: prior, Strategy: MatchExact, Score: 1}
			continue
		}
		pending = append(pending, i)
	}

	s.assignSimilar(source, frags, pending, claimed, result)
	return result
}

type candidate struct {
	listing *models.CanonicalListing
	score   float64
}

// rankedBefore orders candidates by score, then the most recently seen
// listing, then stable id.
func rankedBefore(a, b candidate) bool {
	if a.score != b.score {
		return a.score > b.score
	}
	if !a.listing.LastSeen.Equal(b.listing.LastSeen) {
		return a.listing.LastSeen.After(b.listing.LastSeen)
	}
	return a.listing.StableID() < b.listing.StableID()
}

type similarPair struct {
	candidate
	frag int
	key  string
}

// assignSimilar ranks every (fragment, prior) pair above the threshold across
// the whole source and hands each prior to its best fragment. The result does
// not depend on the order the dealer listed the fragments in.
func (s *MatchService) assignSimilar(source models.Source, frags []*normalize.Fragment, pending []int, claimed map[string]bool, result *MatchResult) {
	keys := make(map[int]string, len(pending))
	var pairs []similarPair

	for _, i := range pending {
		frag := frags[i]
		keys[i] = identity.Fingerprint(&frag.Listing)
		candidates := s.candidates(source, frag, claimed)
		if warning := s.ambiguity(source, frag, candidates); warning != nil {
			result.Warnings = append(result.Warnings, *warning)
		}
		for _, c := range candidates {
			if c.score >= s.threshold {
				pairs = append(pairs, similarPair{candidate: c, frag: i, key: keys[i]})
			}
		}
	}

	sort.SliceStable(pairs, func(i, j int) bool {
		a, b := pairs[i], pairs[j]
		if a.score != b.score || a.listing != b.listing {
			return rankedBefore(a.candidate, b.candidate)
		}
		if a.key != b.key {
			return a.key < b.key
		}
		return a.frag < b.frag
	})

	for _, p := range pairs {
		if result.Assignments[p.frag] != nil || claimed[p.listing.StableID()] {
			continue
		}
		claimed[p.listing.StableID()] = true
		result.Assignments[p.frag] = &Assignment{
			Fragment:        frags[p.frag],
			SourceListingID: p.listing.SourceListingID,
			Prior:           p.listing,
			Strategy:        MatchSimilar,
			Score:           p.score,
		}
	}

	for _, i := range pending {
		if result.Assignments[i] == nil {
			result.Assignments[i] = &Assignment{Fragment: frags[i], SourceListingID: keys[i], Strategy: MatchNew}
		}
	}
}

// candidates returns the unclaimed priors of source that pass the guards,
// best first.
func (s *MatchService) candidates(source models.Source, frag *normalize.Fragment, claimed map[string]bool) []candidate {
	var out []candidate
	for _, prior := range s.prior.ForSource(source) {
		if claimed[prior.StableID()] {
			continue
		}
		score, ok := Similarity(&frag.Listing, prior)
		if !ok {
			continue
		}
		out = append(out, candidate{listing: prior, score: score})
	}
	sort.SliceStable(out, func(i, j int) bool { return rankedBefore(out[i], out[j]) })
	return out
}

func (s *MatchService) ambiguity(source models.Source, frag *normalize.Fragment, candidates []candidate) *AmbiguityWarning {
	if len(candidates) == 0 {
		return nil
	}
	best := candidates[0]
	nearThreshold := best.score >= s.threshold-AmbiguityMargin && best.score < s.threshold+AmbiguityMargin
	closeRunnerUp := len(candidates) > 1 && best.score >= s.threshold && best.score-candidates[1].score < AmbiguityMargin
	if !nearThreshold && !closeRunnerUp {
		return nil
	}
	warning := &AmbiguityWarning{
		Source:   source,
		Title:    frag.Listing.Title,
		WinnerID: best.listing.StableID(),
		Score:    best.score,
	}
	if closeRunnerUp {
		warning.RunnerUpID = candidates[1].listing.StableID()
		warning.RunnerUp = candidates[1].score
	}
	return warning
}

// Similarity scores how likely two listings of the same source are the same
// print. ok is false when a hard guard rules the pair out regardless of title.
func Similarity(a, b *models.CanonicalListing) (score float64, ok bool) {
	if a.PlateNumber != nil && b.PlateNumber != nil && *a.PlateNumber != *b.PlateNumber {
		return 0, false
	}
	if knownEdition(a.Edition) && knownEdition(b.Edition) && a.Edition != b.Edition {
		return 0, false
	}

	sa, sb := identity.NormalizeTitle(a.SpeciesName), identity.NormalizeTitle(b.SpeciesName)
	if identity.Jaccard(sa, sb) < speciesJaccardFloor || matchr.JaroWinkler(sa, sb, false) < speciesJaroFloor {
		return 0, false
	}

	ta, tb := identity.NormalizeTitle(a.Title), identity.NormalizeTitle(b.Title)
	return (matchr.JaroWinkler(ta, tb, false) + identity.Jaccard(ta, tb)) / 2, true
}

func knownEdition(e models.Edition) bool {
	return e != "" && e != models.EditionUnknown
}
