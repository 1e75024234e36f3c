package normalize

import (
	"regexp"
	"strconv"
)

const (
	MinPlate = 1
	MaxPlate = 435
)

// Ordered from most to least specific. Only the first pattern that matches is
// used; an out-of-range number is an extraction failure, not a clamp.
var platePatterns = []*regexp.Regexp{
	regexp.MustCompile(`(?i)\bplate\s*(?:no\.?\s*)?#?\s*(\d{1,4})\b`),
	regexp.MustCompile(`(?i)\bpl\.?\s*#?\s*(\d{1,4})\b`),
	regexp.MustCompile(`(?i)\bno\.\s*(\d{1,4})\b`),
	regexp.MustCompile(`#\s*(\d{1,4})\b`),
}

// ExtractPlate returns the Havell plate number in text, or nil.
func ExtractPlate(text string) *int {
	for _, re := range platePatterns {
		m := re.FindStringSubmatch(text)
		if m == nil {
			continue
		}
		n, err := strconv.Atoi(m[1])
		if err != nil || n < MinPlate || n > MaxPlate {
			return nil
		}
		return &n
	}
	return nil
}
