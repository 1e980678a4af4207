package towing

import (
	"regexp"
	"strings"
)

// VINLength is the length of a modern (1981+) Vehicle Identification Number.
const VINLength = 17

var vinToken = regexp.MustCompile(`(?:^|[^A-Z0-9])([A-HJ-NPR-Z0-9]{17})(?:[^A-Z0-9]|$)`)

// IsVINChar reports whether r belongs to the VIN alphabet (I, O and Q are excluded).
func IsVINChar(r rune) bool {
	switch {
	case r >= '0' && r <= '9':
		return true
	case r >= 'A' && r <= 'Z':
		return r != 'I' && r != 'O' && r != 'Q'
	}
	return false
}

// FilterVIN uppercases raw, drops every character outside the VIN alphabet and keeps at
// most the first VINLength characters. Applying it twice yields the same result.
func FilterVIN(raw string) string {
	var b strings.Builder
	b.Grow(VINLength)
	for _, r := range strings.ToUpper(raw) {
		if !IsVINChar(r) {
			continue
		}
		b.WriteRune(r)
		if b.Len() == VINLength {
			break
		}
	}
	return b.String()
}

// ValidVIN reports whether v is exactly VINLength characters from the VIN alphabet.
func ValidVIN(v string) bool {
	if len(v) != VINLength {
		return false
	}
	for _, r := range v {
		if !IsVINChar(r) {
			return false
		}
	}
	return true
}

// NormalizeVIN extracts a VIN from a third-party decoder's free text. A standalone
// 17-character token is preferred so labels such as "VIN:" do not leak into the result;
// otherwise the whole text is filtered. The second return value is false when fewer than 17
// valid characters remain. Model output goes through FilterVIN instead.
func NormalizeVIN(raw string) (string, bool) {
	upper := strings.ToUpper(raw)
	if m := vinToken.FindStringSubmatch(upper); m != nil {
		return m[1], true
	}
	vin := FilterVIN(upper)
	return vin, ValidVIN(vin)
}
