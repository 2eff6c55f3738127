package extractor

import (
	"regexp"
	"strings"

	"github.com/shopspring/decimal"
)

// brlAmount matches "1.234,56", "99,90" and "1234" style amounts.
var brlAmount = regexp.MustCompile(`\d{1,3}(?:\.\d{3})+(?:,\d{1,2})?|\d+(?:,\d{1,2})?`)

// ParseBRL parses a Brazilian formatted amount ("R$ 1.234,56" -> 1234.56).
// It returns zero when nothing parses, so callers must treat zero as an extraction failure.
func ParseBRL(text string) decimal.Decimal {
	raw := brlAmount.FindString(text)
	if raw == "" {
		return decimal.Zero
	}
	raw = strings.ReplaceAll(raw, ".", "")
	raw = strings.ReplaceAll(raw, ",", ".")

	d, err := decimal.NewFromString(raw)
	if err != nil {
		return decimal.Zero
	}
	return d
}

// parseStructured parses dot-decimal amounts found in JSON-LD and meta content attributes.
func parseStructured(text string) decimal.Decimal {
	text = strings.TrimSpace(text)
	if text == "" {
		return decimal.Zero
	}
	if strings.Contains(text, ",") {
		return ParseBRL(text)
	}
	d, err := decimal.NewFromString(text)
	if err != nil || d.IsNegative() {
		return decimal.Zero
	}
	return d
}
