package normalize

import (
	"regexp"
	"strings"

	"golang.org/x/text/cases"
	"golang.org/x/text/language"
)

var (
	bracketedRe  = regexp.MustCompile(`\([^)]*\)|\[[^\]]*\]`)
	separatorRe  = regexp.MustCompile(`\s*[–—|:;,]\s*|\s-\s`)
	multiSpaceRe = regexp.MustCompile(`\s+`)
	edgeJunkRe   = regexp.MustCompile(`^[^\pL]+|[^\pL']+$`)
	letterRe     = regexp.MustCompile(`\pL`)

	// Dealer boilerplate. Applied in order, so longer phrases come first.
	boilerplate = []*regexp.Regexp{
		regexp.MustCompile(`(?i)\bplate\s*(?:no\.?\s*)?#?\s*\d+\b`),
		regexp.MustCompile(`(?i)\bpl\.?\s*#?\s*\d+\b`),
		regexp.MustCompile(`(?i)\bno\.\s*\d+\b`),
		regexp.MustCompile(`#\s*\d+\b`),
		regexp.MustCompile(`(?i)\bj(?:ohn)?\.?\s*j(?:ames)?\.?\s*audubon(?:'s)?\b`),
		regexp.MustCompile(`(?i)\baudubon(?:'s)?\b`),
		regexp.MustCompile(`(?i)\bbirds\s+of\s+america\b`),
		regexp.MustCompile(`(?i)\b(?:royal\s+)?octavo\b`),
		regexp.MustCompile(`(?i)\b(?:double\s+)?elephant\s+folio\b`),
		regexp.MustCompile(`(?i)\b(?:1st|first|2nd|second|3rd|third|later)\s+(?:ed\b\.?|edition\b|printing\b)`),
		regexp.MustCompile(`(?i)\b(?:havell|bien)\b`),
		regexp.MustCompile(`(?i)\b(?:edition\b|ed\.)`),
		regexp.MustCompile(`(?i)\bhand[- ]colou?red\b`),
		regexp.MustCompile(`(?i)\b(?:chromo)?lithograph(?:ic|s)?\b|\bengraving\b|\baquatint\b|\bprints?\b`),
		regexp.MustCompile(`(?i)\b(?:original|antique|authentic|genuine|rare|framed|matted|for sale)\b`),
		regexp.MustCompile(`(?i)\bc(?:irca|a)?\.?\s*1[6-9]\d\d\b`),
		regexp.MustCompile(`\b1[6-9]\d\d\b`),
		regexp.MustCompile(`(?i)^\s*(?:the|by|from|after)\b`),
		regexp.MustCompile(`(?i)\b(?:by|from|after)\s*$`),
	}

	// Scientific and period names merged onto the common name Audubon used.
	speciesAliases = map[string]string{
		"meleagris gallopavo":      "Wild Turkey",
		"carolina parakeet":        "Carolina Parrot",
		"conuropsis carolinensis":  "Carolina Parrot",
		"ectopistes migratorius":   "Passenger Pigeon",
		"bald eagle":               "White-Headed Eagle",
		"white headed eagle":       "White-Headed Eagle",
		"haliaeetus leucocephalus": "White-Headed Eagle",
		"phoenicopterus ruber":     "American Flamingo",
		"flamingo":                 "American Flamingo",
		"ardea herodias":           "Great Blue Heron",
		"bubo scandiacus":          "Snowy Owl",
		"strix nyctea":             "Snowy Owl",
		"campephilus principalis":  "Ivory-Billed Woodpecker",
		"ivory billed woodpecker":  "Ivory-Billed Woodpecker",
		"cyanocitta cristata":      "Blue Jay",
		"cardinalis cardinalis":    "Cardinal Grosbeak",
		"northern cardinal":        "Cardinal Grosbeak",
	}
)

// SpeciesName extracts the bird name from a listing title by removing dealer
// boilerplate. It returns "" when nothing recognisable is left.
func SpeciesName(title string) string {
	t := bracketedRe.ReplaceAllString(title, " ")
	for _, segment := range separatorRe.Split(t, -1) {
		if name := cleanSegment(segment); name != "" {
			return canonicalSpecies(name)
		}
	}
	return ""
}

func cleanSegment(segment string) string {
	s := segment
	for _, re := range boilerplate {
		s = re.ReplaceAllString(s, " ")
	}
	s = multiSpaceRe.ReplaceAllString(s, " ")
	s = strings.TrimSpace(s)
	s = edgeJunkRe.ReplaceAllString(s, "")
	s = strings.TrimSpace(s)
	if len(letterRe.FindAllString(s, -1)) < 3 {
		return ""
	}
	return s
}

func canonicalSpecies(name string) string {
	key := strings.ToLower(strings.ReplaceAll(name, "-", " "))
	key = multiSpaceRe.ReplaceAllString(key, " ")
	if alias, ok := speciesAliases[key]; ok {
		return alias
	}
	// A Caser keeps state between calls and cannot be shared across goroutines.
	return cases.Title(language.English).String(name)
}
