package extract

import (
	"math"
	"regexp"
	"strconv"
	"strings"
)

var (
	nonDigit     = regexp.MustCompile(`[^0-9]`)
	nonDecimal   = regexp.MustCompile(`[^0-9.]`)
	plainDecimal = regexp.MustCompile(`^[0-9]+(\.[0-9]+)?$`)
)

// ParseInt coerces price/count text to an integer. Plain decimal numbers
// ("12900", "12900.0") are truncated; anything else has every non-digit
// stripped ("12,900원" -> 12900, "-12900" -> 12900). Unparsable or
// out-of-range text yields 0.
func ParseInt(s string) int64 {
	s = strings.TrimSpace(s)
	if s == "" {
		return 0
	}
	if plainDecimal.MatchString(s) {
		f, err := strconv.ParseFloat(s, 64)
		if err != nil || f >= math.MaxInt64 {
			return 0
		}
		return int64(f)
	}
	digits := nonDigit.ReplaceAllString(s, "")
	if digits == "" {
		return 0
	}
	v, err := strconv.ParseInt(digits, 10, 64)
	if err != nil {
		return 0
	}
	return v
}

// ParseRating keeps digits and the first decimal point ("4.8점" -> 4.8,
// "(4.5)" -> 4.5). Unparsable text yields 0.
func ParseRating(s string) float64 {
	cleaned := nonDecimal.ReplaceAllString(s, "")
	if i := strings.IndexByte(cleaned, '.'); i >= 0 {
		cleaned = cleaned[:i+1] + strings.ReplaceAll(cleaned[i+1:], ".", "")
	}
	cleaned = strings.Trim(cleaned, ".")
	if cleaned == "" {
		return 0
	}
	v, err := strconv.ParseFloat(cleaned, 64)
	if err != nil {
		return 0
	}
	return v
}
