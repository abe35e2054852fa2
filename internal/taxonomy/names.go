package taxonomy

import (
	"strconv"
	"strings"

	"golang.org/x/text/cases"
	"golang.org/x/text/unicode/norm"
)

// SanitizeName turns display text into the identifier segment used by every
// minted external id: lowercased, runs of non-alphanumerics collapsed to a
// single underscore, trimmed. Empty input sanitizes to "unknown" so ids stay
// well formed.
func SanitizeName(s string) string {
	var b strings.Builder
	lastUnderscore := false
	for _, r := range strings.ToLower(strings.TrimSpace(s)) {
		switch {
		case r >= 'a' && r <= 'z', r >= '0' && r <= '9':
			b.WriteRune(r)
			lastUnderscore = false
		default:
			if !lastUnderscore && b.Len() > 0 {
				b.WriteByte('_')
				lastUnderscore = true
			}
		}
	}
	out := strings.TrimRight(b.String(), "_")
	if out == "" {
		return "unknown"
	}
	return out
}

// Fold is the lookup key used for raw-spelling dedupe: Unicode-normalized,
// case-folded, whitespace-trimmed. Two spellings that fold equal resolve to
// the same registry entry.
func Fold(s string) string {
	return cases.Fold().String(norm.NFKC.String(strings.TrimSpace(s)))
}

// ParseNumeric reports the numeric reading of a value, tolerating leading
// zeros and surrounding space ("03" reads as 3).
func ParseNumeric(s string) (float64, bool) {
	f, err := strconv.ParseFloat(strings.TrimSpace(s), 64)
	if err != nil {
		return 0, false
	}
	return f, true
}

// inferKind classifies an attribute from its observed values: mostly numeric
// values make a numeric attribute, anything else is categorical. Attributes
// with no values yet stay unclassified until a value arrives.
func inferKind(values []string) ValueKind {
	if len(values) == 0 {
		return ""
	}
	numeric := 0
	for _, v := range values {
		if _, ok := ParseNumeric(v); ok {
			numeric++
		}
	}
	if float64(numeric) >= 0.8*float64(len(values)) {
		return KindNumeric
	}
	return KindCategorical
}
