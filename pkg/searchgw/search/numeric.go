package search

import (
	"strconv"
	"strings"
)

// numericRequest is a parsed numeric attribute request: either a single
// value or an inclusive range.
type numericRequest struct {
	value   float64
	isRange bool
	lo, hi  float64
}

// nearestBound returns the range edge closest to actual, for measuring how
// far outside the range a value sits.
func (nr numericRequest) nearestBound(actual float64) float64 {
	if actual < nr.lo {
		return nr.lo
	}
	return nr.hi
}

// arabicDigits maps Arabic-Indic and Eastern Arabic-Indic digits to ASCII
// so "٣" and "۳" parse like "3".
var arabicDigits = strings.NewReplacer(
	"٠", "0", "١", "1", "٢", "2", "٣", "3", "٤", "4",
	"٥", "5", "٦", "6", "٧", "7", "٨", "8", "٩", "9",
	"۰", "0", "۱", "1", "۲", "2", "۳", "3", "۴", "4",
	"۵", "5", "۶", "6", "۷", "7", "۸", "8", "۹", "9",
	"٫", ".",
)

// parseNumericRequest reads a raw requested value as a number or a
// "lo-hi" range. Thousands separators and surrounding spaces are dropped;
// Arabic-Indic digits are accepted.
func parseNumericRequest(raw string) (numericRequest, bool) {
	s := arabicDigits.Replace(strings.TrimSpace(raw))
	s = strings.ReplaceAll(s, ",", "")
	s = strings.ReplaceAll(s, "–", "-")

	// A range needs a dash between two numbers; a leading dash is a sign.
	if i := strings.Index(s, "-"); i > 0 {
		lo, loErr := parseFloat(s[:i])
		hi, hiErr := parseFloat(s[i+1:])
		if loErr == nil && hiErr == nil {
			if lo > hi {
				lo, hi = hi, lo
			}
			return numericRequest{isRange: true, lo: lo, hi: hi}, true
		}
		return numericRequest{}, false
	}

	v, err := parseFloat(s)
	if err != nil {
		return numericRequest{}, false
	}
	return numericRequest{value: v}, true
}

func parseFloat(s string) (float64, error) {
	return strconv.ParseFloat(strings.TrimSpace(s), 64)
}
