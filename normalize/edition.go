package normalize

import (
	"regexp"

	"audubon_monitor/models"
)

var (
	havellRe      = regexp.MustCompile(`(?i)\bhavell\b|double[- ]elephant|elephant folio`)
	bienRe        = regexp.MustCompile(`(?i)\bbien\b|chromolith`)
	octavoFirstRe = regexp.MustCompile(`(?i)\b(?:1st|first)(?:\s+octavo)?\s+ed(?:ition\b|\.|\b)|\boctavo[- ]1st\b|\b(?:1st|first)\s+octavo\b`)
	octavoLaterRe = regexp.MustCompile(`(?i)\b(?:later|2nd|second|3rd|third)(?:\s+octavo)?\s+ed(?:ition\b|\.|\b)|\boctavo[- ]later\b|\blater\s+octavo\b|\blater\s+printing\b`)
	octavoRe      = regexp.MustCompile(`(?i)\boctavo\b`)
	yearFirstRe   = regexp.MustCompile(`\b184[0-4]\b`)
	yearLaterRe   = regexp.MustCompile(`\b(?:1856|1859|1860|1861|1865|1871)\b`)
)

type editionSignal int

const (
	signalNone editionSignal = iota
	signalDecisive
	signalAmbiguous
)

// DetectEdition scans fields in precedence order (category hint, title,
// description). The first field with a decisive result wins. A field with
// conflicting signals makes the edition Unknown; it is never guessed.
func DetectEdition(fields ...string) models.Edition {
	for _, field := range fields {
		if field == "" {
			continue
		}
		edition, signal := detectField(field)
		switch signal {
		case signalDecisive:
			return edition
		case signalAmbiguous:
			return models.EditionUnknown
		}
	}
	return models.EditionUnknown
}

func detectField(text string) (models.Edition, editionSignal) {
	havell := havellRe.MatchString(text)
	bien := bienRe.MatchString(text)
	first := octavoFirstRe.MatchString(text)
	later := octavoLaterRe.MatchString(text)
	octavo := octavoRe.MatchString(text)

	if first && later {
		return models.EditionUnknown, signalAmbiguous
	}
	if havell && bien {
		return models.EditionUnknown, signalAmbiguous
	}

	// An explicit octavo edition statement outranks Havell or Bien mentions:
	// octavo listings routinely cite the plate they were reduced from.
	if first {
		return models.EditionOctavoFirst, signalDecisive
	}
	if later {
		return models.EditionOctavoLater, signalDecisive
	}

	if octavo && (havell || bien) {
		return models.EditionUnknown, signalAmbiguous
	}
	if havell {
		return models.EditionHavell, signalDecisive
	}
	if bien {
		return models.EditionBien, signalDecisive
	}

	if octavo {
		yearFirst := yearFirstRe.MatchString(text)
		yearLater := yearLaterRe.MatchString(text)
		switch {
		case yearFirst && yearLater:
			return models.EditionUnknown, signalAmbiguous
		case yearFirst:
			return models.EditionOctavoFirst, signalDecisive
		case yearLater:
			return models.EditionOctavoLater, signalDecisive
		}
	}

	return models.EditionUnknown, signalNone
}
