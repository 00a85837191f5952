package normalize

import (
	"regexp"
	"strconv"
	"strings"
)

var currencyAndSpaceRe = regexp.MustCompile(`[€$£¥\s]`)

var blankNumberTokens = map[string]bool{
	"-": true, "n/a": true, "nan": true, "none": true, "": true,
}

// ParseNumber parses a numeric string that may be in German (1.234,56) or
// US (1,234.56) decimal format, carry a percent sign, or contain currency
// symbols, ported from _parse_numbers/parse_value. Returns ok=false for
// blank or unparseable values.
func ParseNumber(raw string) (float64, bool) {
	s := strings.TrimSpace(raw)
	s = strings.ReplaceAll(s, "%", "")
	s = currencyAndSpaceRe.ReplaceAllString(s, "")

	if blankNumberTokens[strings.ToLower(s)] {
		return 0, false
	}

	hasComma := strings.Contains(s, ",")
	hasDot := strings.Contains(s, ".")

	switch {
	case hasComma && hasDot:
		lastComma := strings.LastIndex(s, ",")
		lastDot := strings.LastIndex(s, ".")
		if lastComma > lastDot {
			// German: 1.234,56 -> thousands dot removed, comma becomes decimal point.
			s = strings.ReplaceAll(s, ".", "")
			s = strings.ReplaceAll(s, ",", ".")
		} else {
			// US: 1,234.56 -> thousands comma removed.
			s = strings.ReplaceAll(s, ",", "")
		}
	case hasComma:
		parts := strings.Split(s, ",")
		if len(parts) == 2 && len(parts[1]) <= 2 {
			s = strings.ReplaceAll(s, ",", ".")
		} else {
			s = strings.ReplaceAll(s, ",", "")
		}
	}

	v, err := strconv.ParseFloat(s, 64)
	if err != nil {
		return 0, false
	}
	return v, true
}
