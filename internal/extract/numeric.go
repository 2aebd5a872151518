package extract

import "strings"

// ParseNumber parses a cell value as a decimal number, tolerating a
// trailing/leading currency symbol, thousands separators, and either a
// comma or a dot as the decimal separator, per spec §4.7's type profile.
func ParseNumber(s string) (float64, bool) {
	s = strings.TrimSpace(s)
	if s == "" {
		return 0, false
	}

	s = strings.Map(func(r rune) rune {
		switch r {
		case '$', '€', '£', '₹', '¥', ' ', ' ':
			return -1
		}
		return r
	}, s)
	if s == "" {
		return 0, false
	}

	neg := false
	if strings.HasPrefix(s, "-") {
		neg = true
		s = s[1:]
	}

	lastComma := strings.LastIndexByte(s, ',')
	lastDot := strings.LastIndexByte(s, '.')

	var intPart, fracPart string
	switch {
	case lastComma == -1 && lastDot == -1:
		intPart = s
	case lastComma > lastDot:
		// comma is the decimal separator; dots (if any) are thousands seps
		intPart = strings.ReplaceAll(s[:lastComma], ".", "")
		fracPart = s[lastComma+1:]
	default:
		// dot is the decimal separator; commas (if any) are thousands seps
		intPart = strings.ReplaceAll(s[:lastDot], ",", "")
		fracPart = s[lastDot+1:]
	}

	if intPart == "" && fracPart == "" {
		return 0, false
	}
	if intPart == "" {
		intPart = "0"
	}

	for _, r := range intPart {
		if r < '0' || r > '9' {
			return 0, false
		}
	}
	for _, r := range fracPart {
		if r < '0' || r > '9' {
			return 0, false
		}
	}

	value := 0.0
	for _, r := range intPart {
		value = value*10 + float64(r-'0')
	}
	if fracPart != "" {
		scale := 0.1
		for _, r := range fracPart {
			value += float64(r-'0') * scale
			scale /= 10
		}
	}
	if neg {
		value = -value
	}
	return value, true
}
