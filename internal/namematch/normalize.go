package namematch

import (
	"fmt"
	"regexp"
	"sort"
	"strconv"
	"strings"

	"golang.org/x/text/cases"
	"golang.org/x/text/language"

	"github.com/joelkehle/catalog-resolver/internal/taxonomy"
)

// keySpec pins one canonical attribute key: its display name in the
// destination taxonomy and the value kind its coercion rule enforces.
type keySpec struct {
	key     string
	display string
	kind    taxonomy.ValueKind
}

// keySpecs folds the spellings both extraction paths produce onto one
// canonical key each. Keys outside this table stay categorical: free-text
// codes must never be forced into a numeric reading on a guess.
var keySpecs = map[string]keySpec{}

var canonicalKeys = []struct {
	spec    keySpec
	aliases []string
}{
	{keySpec{KeyFlavor, "Flavor", taxonomy.KindCategorical}, []string{"flavour", "flavor_name", "taste"}},
	{keySpec{KeyNicotineMg, "Nicotine (mg)", taxonomy.KindNumeric}, []string{"nicotine", "nicotine_strength", "strength", "nic", "nic_mg"}},
	{keySpec{KeyVolumeML, "Volume (mL)", taxonomy.KindNumeric}, []string{"volume", "size_ml", "bottle_size", "capacity_ml"}},
	{keySpec{KeyResistance, "Resistance (Ω)", taxonomy.KindNumeric}, []string{"resistance", "ohm", "ohms", "coil_resistance"}},
	{keySpec{KeyWattage, "Wattage (W)", taxonomy.KindNumeric}, []string{"wattage", "watts", "power"}},
	{keySpec{KeyCapacityMah, "Capacity (mAh)", taxonomy.KindNumeric}, []string{"mah", "battery_capacity"}},
	{keySpec{KeyPackCount, "Pack Count", taxonomy.KindNumeric}, []string{"pack", "pack_size"}},
	{keySpec{KeyCoilType, "Coil Type", taxonomy.KindCategorical}, []string{"coil_style"}},
	{keySpec{KeyColor, "Color", taxonomy.KindCategorical}, []string{"colour"}},
	{keySpec{KeyVariantType, "Variant Type", taxonomy.KindCategorical}, nil},
}

func init() {
	for _, c := range canonicalKeys {
		keySpecs[c.spec.key] = c.spec
		for _, alias := range c.aliases {
			keySpecs[alias] = c.spec
		}
	}
}

var titleCaser = cases.Title(language.English)

func resolveKey(raw string) keySpec {
	k := taxonomy.SanitizeName(raw)
	if spec, ok := keySpecs[k]; ok {
		return spec
	}
	return keySpec{
		key:     k,
		display: titleCaser.String(strings.ReplaceAll(k, "_", " ")),
		kind:    taxonomy.KindCategorical,
	}
}

// attributePriority orders variant-generating attribute selection. Lower
// ranks win; keys outside the table share the weakest rank and fall back
// to first-seen order.
var attributePriority = map[string]int{
	KeyFlavor:     0,
	KeyNicotineMg: 1,
	KeyResistance: 2,
	KeyCoilType:   3,
	KeyColor:      4,
}

func keyRank(key string) int {
	if r, ok := attributePriority[key]; ok {
		return r
	}
	return len(attributePriority) + 1
}

// NormalizedValueRef ties one of a record's attributes to its registry
// identifiers.
type NormalizedValueRef struct {
	Key          string `json:"key"`
	AttributeRef string `json:"attribute_ref"`
	ValueRef     string `json:"value_ref"`
	Value        string `json:"value"`
}

type NormalizedRecord struct {
	ParsedRecord
	Values []NormalizedValueRef `json:"values"`
}

// Normalize canonicalizes every record's attribute values and resolves them
// through the registry's get-or-create operations. Conflicting values are
// flagged and dropped from their record; the record itself continues with
// whatever values survived.
func Normalize(records []ParsedRecord, reg taxonomy.API, progress StageProgressFn) ([]NormalizedRecord, []Flag) {
	out := make([]NormalizedRecord, 0, len(records))
	var flags []Flag

	for _, pr := range records {
		nr := NormalizedRecord{ParsedRecord: pr}
		for _, key := range sortedKeys(pr.Attributes) {
			spec := resolveKey(key)
			value, err := canonicalValue(spec, pr.Attributes[key])
			if err != nil {
				flags = append(flags, conflictFlag(pr, fmt.Sprintf("%s: %v", spec.display, err)))
				continue
			}

			def, _, err := reg.EnsureAttribute(taxonomy.EnsureAttributeInput{
				Name:          spec.display,
				Kind:          spec.kind,
				CreateVariant: true,
			})
			if err != nil {
				flags = append(flags, conflictFlag(pr, err.Error()))
				continue
			}
			val, _, err := reg.EnsureValue(taxonomy.EnsureValueInput{
				AttributeRef: def.ExternalID,
				Value:        value,
				Kind:         spec.kind,
			})
			if err != nil {
				flags = append(flags, conflictFlag(pr, err.Error()))
				continue
			}
			nr.Values = append(nr.Values, NormalizedValueRef{
				Key:          spec.key,
				AttributeRef: def.ExternalID,
				ValueRef:     val.ExternalID,
				Value:        val.NormalizedValue,
			})
		}
		out = append(out, nr)
	}

	emit(progress, "normalize", fmt.Sprintf("normalized %d records", len(out)))
	return out, flags
}

func conflictFlag(pr ParsedRecord, detail string) Flag {
	return Flag{
		Kind:   FlagTaxonomyConflict,
		Index:  pr.Index,
		Name:   pr.ProductLine,
		SKU:    pr.SourceSKU,
		Detail: detail,
	}
}

// sortedKeys orders a record's attribute keys by selection priority, then
// alphabetically, so registry minting order does not depend on map
// iteration order.
func sortedKeys(attrs AttributeSet) []string {
	keys := make([]string, 0, len(attrs))
	for k := range attrs {
		keys = append(keys, k)
	}
	sort.Slice(keys, func(i, j int) bool {
		ri, rj := keyRank(resolveKey(keys[i]).key), keyRank(resolveKey(keys[j]).key)
		if ri != rj {
			return ri < rj
		}
		return keys[i] < keys[j]
	})
	return keys
}

var numericToken = regexp.MustCompile(`[-+]?\d*\.?\d+`)
var parenthetical = regexp.MustCompile(`\([^)]*\)`)

func stripParens(s string) string {
	return strings.Join(strings.Fields(parenthetical.ReplaceAllString(s, " ")), " ")
}

func canonicalValue(spec keySpec, raw string) (string, error) {
	s := stripParens(raw)
	if spec.kind == taxonomy.KindNumeric {
		m := numericToken.FindString(s)
		if m == "" {
			return "", fmt.Errorf("no numeric reading in %q", raw)
		}
		f, err := strconv.ParseFloat(m, 64)
		if err != nil {
			return "", fmt.Errorf("cannot coerce %q to a number", raw)
		}
		return strconv.FormatFloat(f, 'f', -1, 64), nil
	}
	if s == "" {
		return "", fmt.Errorf("value %q is empty after canonicalization", raw)
	}
	return s, nil
}
