package namematch

import "strings"

// categoryRules is a first-hit-wins keyword ladder over the product line.
// More specific hardware categories sit above the broad ones so "Coil Kit"
// lands in Coils, not Kits.
var categoryRules = []struct {
	category string
	keywords []string
}{
	{"Disposables", []string{"disposable", "puff"}},
	{"Coils", []string{"coil"}},
	{"Pods", []string{"pod", "cartridge"}},
	{"Tanks", []string{"tank", "rda", "rta", "rdta", "glass"}},
	{"Batteries", []string{"battery", "batteries", "18650", "20700", "21700"}},
	{"Chargers", []string{"charger", "charging"}},
	{"Kits", []string{"kit", "mod", "starter"}},
	{"E-Juice", []string{"e-juice", "ejuice", "e-liquid", "eliquid", "juice", "salt", "tfn"}},
}

const defaultCategory = "Saleable"

// CategorizeLine picks the category for one product line. The keyword
// ladder runs first; when no keyword hits, the members' attribute shape
// decides (nicotine or flavor+volume reads as juice, resistance as coils).
func CategorizeLine(productLine string, members []NormalizedRecord) string {
	line := strings.ToLower(productLine)
	for _, rule := range categoryRules {
		for _, kw := range rule.keywords {
			if strings.Contains(line, kw) {
				return rule.category
			}
		}
	}

	for _, m := range members {
		hasFlavor, hasVolume := false, false
		for _, v := range m.Values {
			switch v.Key {
			case KeyNicotineMg:
				return "E-Juice"
			case KeyResistance:
				return "Coils"
			case KeyFlavor:
				hasFlavor = true
			case KeyVolumeML:
				hasVolume = true
			}
		}
		if hasFlavor && hasVolume {
			return "E-Juice"
		}
	}
	return defaultCategory
}
