package namematch

import (
	"regexp"
	"strconv"
	"strings"
	"unicode"
)

// Deterministic extraction rules, applied in order against the attribute
// text. Each rule captures one numeric token; the surrounding unit text is
// consumed with it.
type extractRule struct {
	key string
	re  *regexp.Regexp
}

var extractionRules = []extractRule{
	{key: KeyNicotineMg, re: regexp.MustCompile(`(?i)\b(\d+(?:\.\d+)?)\s*mg\b`)},
	{key: KeyVolumeML, re: regexp.MustCompile(`(?i)\b(\d+(?:\.\d+)?)\s*ml\b`)},
	{key: KeyResistance, re: regexp.MustCompile(`(?i)\b(\d*\.?\d+)\s*(?:ohms?|Ω)`)},
	{key: KeyWattage, re: regexp.MustCompile(`(?i)\b(\d+(?:\.\d+)?)\s*w(?:att)?s?\b`)},
	{key: KeyCapacityMah, re: regexp.MustCompile(`(?i)\b(\d+)\s*mah\b`)},
	{key: KeyPackCount, re: regexp.MustCompile(`(?i)\b(\d+)\s*(?:pack|pk|ct|pcs)\b`)},
}

// hardwareWords mark tokens that describe the physical product rather than
// a variant-generating value. They are consumed without emitting an
// attribute; the template builder may later fold them into a variant-type
// value if a product line needs them to tell its units apart.
var hardwareWords = map[string]bool{
	"mesh": true, "coil": true, "coils": true, "core": true, "head": true,
	"glass": true, "replacement": true, "pod": true, "pods": true,
	"cartridge": true, "cart": true, "tank": true, "kit": true, "mod": true,
	"rda": true, "rta": true, "rdta": true, "rba": true, "dl": true,
	"mtl": true, "single": true, "dual": true, "triple": true, "quad": true,
}

var colorWords = map[string]bool{
	"black": true, "white": true, "silver": true, "gold": true, "blue": true,
	"red": true, "green": true, "purple": true, "pink": true, "grey": true,
	"gray": true, "rainbow": true, "gunmetal": true, "chrome": true,
}

// Extraction is the outcome of the deterministic path for one attribute
// text. Clear means every token was accounted for: either emitted as an
// attribute value or consumed as a hardware descriptor.
type Extraction struct {
	Attributes  AttributeSet
	Descriptors []string
	Clear       bool
	Confidence  float64
}

// ExtractAttributes runs the ordered rules over one attribute text. It is
// a pure function: the same text always yields the same extraction.
func ExtractAttributes(attributeText string) Extraction {
	text := strings.TrimSpace(attributeText)
	if text == "" {
		return Extraction{Attributes: AttributeSet{}, Clear: true, Confidence: 1}
	}

	attrs := AttributeSet{}
	consumed := make([]bool, len(text))
	for _, rule := range extractionRules {
		matches := rule.re.FindAllStringSubmatchIndex(text, -1)
		if len(matches) == 0 {
			continue
		}
		value := ""
		for _, m := range matches {
			v := renderNumeric(text[m[2]:m[3]])
			if value == "" {
				value = v
			} else if v != value {
				// Two different readings for one key ("3mg ... 6mg") is
				// not decidable by rules.
				return Extraction{Attributes: AttributeSet{}}
			}
			for i := m[0]; i < m[1]; i++ {
				consumed[i] = true
			}
		}
		attrs[rule.key] = value
	}

	residue := residueTokens(text, consumed)
	if len(residue) == 0 {
		return Extraction{Attributes: attrs, Clear: true, Confidence: 0.95}
	}

	// A resistance, wattage, or capacity reading marks the item as hardware;
	// leftover words on hardware are descriptors or colors, never flavors.
	hardware := attrs[KeyResistance] != "" || attrs[KeyWattage] != "" || attrs[KeyCapacityMah] != ""
	descriptorish := hardware
	flavorish := !hardware && len(residue) <= 6
	for _, tok := range residue {
		lower := strings.ToLower(tok)
		if hardwareWords[lower] || mixesLettersAndDigits(tok) {
			descriptorish = true
		}
		if !isFlavorToken(tok) || hardwareWords[lower] {
			flavorish = false
		}
	}

	if descriptorish {
		colors, rest := splitColorTokens(residue)
		if hardware && len(colors) > 0 {
			attrs[KeyColor] = strings.Join(colors, " ")
		} else {
			rest = residue
		}
		conf := 0.9
		if hardware {
			conf = 0.95
		}
		ext := Extraction{Attributes: attrs, Clear: true, Confidence: conf}
		if len(rest) > 0 {
			ext.Descriptors = []string{strings.Join(rest, " ")}
		}
		return ext
	}

	if flavorish {
		attrs[KeyFlavor] = strings.Join(residue, " ")
		conf := 0.9
		if len(attrs) > 1 {
			conf = 0.95
		}
		return Extraction{Attributes: attrs, Clear: true, Confidence: conf}
	}

	return Extraction{Attributes: AttributeSet{}}
}

// residueTokens returns the unconsumed tokens in original order, trimmed of
// surrounding punctuation.
func residueTokens(text string, consumed []bool) []string {
	var b strings.Builder
	for i := 0; i < len(text); i++ {
		if consumed[i] {
			b.WriteByte(' ')
		} else {
			b.WriteByte(text[i])
		}
	}
	var tokens []string
	for _, tok := range strings.Fields(b.String()) {
		tok = strings.Trim(tok, "()[]{},;:.-/")
		if tok != "" {
			tokens = append(tokens, tok)
		}
	}
	return tokens
}

func renderNumeric(s string) string {
	f, err := strconv.ParseFloat(s, 64)
	if err != nil {
		return s
	}
	return strconv.FormatFloat(f, 'f', -1, 64)
}

func isFlavorToken(tok string) bool {
	for _, r := range tok {
		if !unicode.IsLetter(r) && r != '\'' && r != '&' {
			return false
		}
	}
	return len(tok) > 0
}

func mixesLettersAndDigits(tok string) bool {
	hasLetter, hasDigit := false, false
	for _, r := range tok {
		switch {
		case unicode.IsLetter(r):
			hasLetter = true
		case unicode.IsDigit(r):
			hasDigit = true
		}
	}
	return hasLetter && hasDigit
}

func splitColorTokens(tokens []string) (colors, rest []string) {
	for _, tok := range tokens {
		if colorWords[strings.ToLower(tok)] {
			colors = append(colors, tok)
		} else {
			rest = append(rest, tok)
		}
	}
	return colors, rest
}
