package normalize

import (
	"errors"
	"regexp"
	"strings"

	"github.com/shopspring/decimal"

	"audubon_monitor/models"
)

var ErrUnparsablePrice = errors.New("unparsable price")

var (
	soldRe      = regexp.MustCompile(`(?i)\bsold\b`)
	unpricedRe  = regexp.MustCompile(`(?i)inquire|enquire|on request|upon request|\bcall\b|contact|\bp\.?o\.?a\.?\b|make an offer`)
	euroStyleRe = regexp.MustCompile(`\d,\d{1,2}(?:\D|$)|\d\.\d{3}\b`)
	amountRe    = regexp.MustCompile(`(?i)(us\$|\$|£|€|usd|gbp|eur)?\s*(\d{1,3}(?:,\d{3})+|\d+)(\.\d{1,2})?`)
	currencyMap = map[string]string{
		"$":   "USD",
		"us$": "USD",
		"usd": "USD",
		"£":   "GBP",
		"gbp": "GBP",
		"€":   "EUR",
		"eur": "EUR",
	}
)

// ParsePrice turns dealer price text into an exact amount. It returns a nil
// price for sold, on-request and empty prices; sold reports whether the dealer
// marked the item as sold.
//
// Amounts are read in US notation: comma thousands and a dot before the
// cents. Comma-decimal text such as "1.250,00" is rejected rather than read
// as a different amount.
func ParsePrice(text, defaultCurrency string) (price *models.Price, sold bool, err error) {
	t := strings.TrimSpace(text)
	if t == "" {
		return nil, false, nil
	}
	if soldRe.MatchString(t) {
		return nil, true, nil
	}
	if unpricedRe.MatchString(t) {
		return nil, false, nil
	}

	if euroStyleRe.MatchString(t) {
		return nil, false, ErrUnparsablePrice
	}

	m := amountRe.FindStringSubmatch(t)
	if m == nil {
		return nil, false, ErrUnparsablePrice
	}

	amount, err := decimal.NewFromString(strings.ReplaceAll(m[2], ",", "") + m[3])
	if err != nil {
		return nil, false, ErrUnparsablePrice
	}
	if amount.IsZero() {
		return nil, false, nil
	}

	currency := currencyMap[strings.ToLower(m[1])]
	if currency == "" {
		currency = currencyFromText(t)
	}
	if currency == "" {
		currency = defaultCurrency
	}
	if currency == "" {
		currency = "USD"
	}

	return &models.Price{Amount: amount, Currency: currency}, false, nil
}

func currencyFromText(t string) string {
	lower := strings.ToLower(t)
	for _, key := range []string{"£", "gbp", "€", "eur", "usd", "$"} {
		if strings.Contains(lower, key) {
			return currencyMap[key]
		}
	}
	return ""
}
