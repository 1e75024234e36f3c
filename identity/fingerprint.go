package identity

import (
	"crypto/sha256"
	"encoding/hex"
	"fmt"
	"net/url"
	"regexp"
	"strings"

	"audubon_monitor/models"
)

var (
	multiSpaceRegex = regexp.MustCompile(`\s+`)
	nonAlnumRegex   = regexp.MustCompile(`[^\p{L}\p{N}\s]`)
)

// Fingerprint derives the source_listing_id of a listing from a source that
// exposes no native identifier.
func Fingerprint(listing *models.CanonicalListing) string {
	plate := ""
	if listing.PlateNumber != nil {
		plate = fmt.Sprint(*listing.PlateNumber)
	}
	input := fmt.Sprintf("%s|%s|%s|%s",
		NormalizeTitle(listing.SpeciesName),
		plate,
		strings.ToLower(string(listing.Edition)),
		URLPath(listing.ListingURL),
	)
	hash := sha256.Sum256([]byte(input))
	return hex.EncodeToString(hash[:16])
}

// NormalizeTitle lower-cases s, replaces punctuation with spaces and collapses
// whitespace. Similarity scores are computed over this form.
func NormalizeTitle(s string) string {
	s = strings.ToLower(strings.TrimSpace(s))
	s = nonAlnumRegex.ReplaceAllString(s, " ")
	s = multiSpaceRegex.ReplaceAllString(s, " ")
	return strings.TrimSpace(s)
}

// Tokens splits a normalized title into its distinct words.
func Tokens(s string) map[string]struct{} {
	out := make(map[string]struct{})
	for _, f := range strings.Fields(NormalizeTitle(s)) {
		out[f] = struct{}{}
	}
	return out
}

// Jaccard is the token-set overlap of a and b, in [0, 1].
func Jaccard(a, b string) float64 {
	ta, tb := Tokens(a), Tokens(b)
	if len(ta) == 0 && len(tb) == 0 {
		return 1
	}
	inter := 0
	for t := range ta {
		if _, ok := tb[t]; ok {
			inter++
		}
	}
	union := len(ta) + len(tb) - inter
	return float64(inter) / float64(union)
}

// URLPath is the lower-cased path of a listing URL without query, fragment
// or trailing slash, so tracking parameters do not change identity.
func URLPath(raw string) string {
	u, err := url.Parse(strings.TrimSpace(raw))
	if err != nil {
		return strings.ToLower(strings.TrimSpace(raw))
	}
	return strings.TrimRight(strings.ToLower(u.Path), "/")
}
