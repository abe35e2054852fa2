package namematch

import (
	"fmt"
	"sort"
	"strings"

	"github.com/joelkehle/catalog-resolver/internal/taxonomy"
)

// MatchVariants assigns every grouped record to a catalog variant, template
// by template. Tiers are tried in order: an identical value-ref set reuses
// the stored variant, a unique partial overlap reuses it too, simple
// templates key variants off the SKU, and anything left mints a new variant.
// One variant never serves two different SKUs within a run; the second taker
// is flagged as ambiguous instead of silently sharing the identifier.
func MatchVariants(groups []TemplateGroup, reg taxonomy.API, progress StageProgressFn) ([]VariantMatch, []Flag) {
	var matches []VariantMatch
	var flags []Flag

	for _, g := range groups {
		gm, gf := matchGroup(g, reg)
		matches = append(matches, gm...)
		flags = append(flags, gf...)
	}
	sort.Slice(matches, func(i, j int) bool { return matches[i].Index < matches[j].Index })

	emit(progress, "variants", fmt.Sprintf("matched %d records across %d templates, %d flagged", len(matches), len(groups), len(flags)))
	return matches, flags
}

func matchGroup(g TemplateGroup, reg taxonomy.API) ([]VariantMatch, []Flag) {
	var matches []VariantMatch
	var flags []Flag

	// Variant id -> SKU that took it this run. Re-claims by the same SKU are
	// duplicate rows and allowed; a different SKU is an ambiguity.
	claims := map[string]string{}

	for _, m := range g.Members {
		rec := m.Record

		var match VariantMatch
		var err error
		if g.Template.Simple {
			match, err = matchSimple(g.Template, rec, reg)
		} else {
			match, err = matchLined(g.Template, rec, m.ValueRefs, reg)
		}
		if err != nil {
			flags = append(flags, Flag{
				Kind:   FlagAmbiguousVariantMatch,
				Index:  rec.Index,
				Name:   rec.ProductLine,
				SKU:    rec.SourceSKU,
				Detail: err.Error(),
			})
			continue
		}
		if owner, taken := claims[match.VariantRef]; taken && owner != rec.SourceSKU {
			flags = append(flags, Flag{
				Kind:   FlagAmbiguousVariantMatch,
				Index:  rec.Index,
				Name:   rec.ProductLine,
				SKU:    rec.SourceSKU,
				Detail: fmt.Sprintf("variant %s already assigned to sku %s in this run", match.VariantRef, owner),
			})
			continue
		}
		claims[match.VariantRef] = rec.SourceSKU
		matches = append(matches, match)
	}
	return matches, flags
}

// matchLined resolves one record against a template that carries attribute
// lines. Stored variants are re-read per record so that variants minted for
// earlier rows of the same file are visible to later ones.
func matchLined(t taxonomy.Template, rec NormalizedRecord, refs []string, reg taxonomy.API) (VariantMatch, error) {
	stored := reg.VariantsForTemplate(t.ExternalID)

	// Tier 1: the exact value-ref set already exists.
	for _, v := range stored {
		if equalRefSets(v.ValueRefs, refs) {
			return variantMatch(rec, t, v.ExternalID, TierExact, refs), nil
		}
	}

	// Tier 2: the record agrees with exactly one stored variant on every
	// attribute they share. Zero shared attributes is no evidence at all, so
	// such variants are not candidates.
	candidates := partialCandidates(stored, refs, reg)
	if len(candidates) == 1 {
		return variantMatch(rec, t, candidates[0].ExternalID, TierPartial, refs), nil
	}
	if len(candidates) > 1 {
		ids := make([]string, len(candidates))
		for i, c := range candidates {
			ids[i] = c.ExternalID
		}
		return VariantMatch{}, fmt.Errorf("%d variants agree on the shared values: %s", len(candidates), strings.Join(ids, ", "))
	}

	// Tier 4: nothing stored fits, mint a new variant.
	id := mintVariantID(reg, t, refs)
	_, err := reg.UpsertVariant(taxonomy.Variant{
		ExternalID:  id,
		TemplateRef: t.ExternalID,
		ValueRefs:   refs,
		SKU:         rec.SourceSKU,
		Price:       rec.Price,
		New:         true,
	})
	if err != nil {
		return VariantMatch{}, err
	}
	return variantMatch(rec, t, id, TierNew, refs), nil
}

// matchSimple keys the variant off the SKU. The same SKU lands on the same
// variant across runs; a new SKU under a simple template mints a fresh one.
func matchSimple(t taxonomy.Template, rec NormalizedRecord, reg taxonomy.API) (VariantMatch, error) {
	id := "variant_" + taxonomy.SanitizeName(t.ProductLine) + "_" + taxonomy.SanitizeName(rec.SourceSKU)
	_, existed := reg.VariantByID(id)
	_, err := reg.UpsertVariant(taxonomy.Variant{
		ExternalID:  id,
		TemplateRef: t.ExternalID,
		SKU:         rec.SourceSKU,
		Price:       rec.Price,
		New:         !existed,
	})
	if err != nil {
		return VariantMatch{}, err
	}
	return VariantMatch{
		Index:       rec.Index,
		SourceSKU:   rec.SourceSKU,
		TemplateRef: t.ExternalID,
		VariantRef:  id,
		Tier:        TierSimple,
	}, nil
}

func variantMatch(rec NormalizedRecord, t taxonomy.Template, variantID string, tier MatchTier, refs []string) VariantMatch {
	return VariantMatch{
		Index:       rec.Index,
		SourceSKU:   rec.SourceSKU,
		TemplateRef: t.ExternalID,
		VariantRef:  variantID,
		Tier:        tier,
		ValueRefs:   refs,
	}
}

// partialCandidates returns the stored variants whose values agree with the
// record on every attribute both sides define, requiring at least one shared
// attribute.
func partialCandidates(stored []taxonomy.Variant, refs []string, reg taxonomy.API) []taxonomy.Variant {
	recValues := valuesByAttribute(refs, reg)
	var out []taxonomy.Variant
	for _, v := range stored {
		varValues := valuesByAttribute(v.ValueRefs, reg)
		shared := 0
		agree := true
		for attr, ref := range recValues {
			other, ok := varValues[attr]
			if !ok {
				continue
			}
			shared++
			if other != ref {
				agree = false
				break
			}
		}
		if agree && shared > 0 {
			out = append(out, v)
		}
	}
	return out
}

// valuesByAttribute projects value refs into an attribute ref -> value ref
// map. Records and variants carry at most one value per attribute.
func valuesByAttribute(refs []string, reg taxonomy.API) map[string]string {
	out := make(map[string]string, len(refs))
	for _, ref := range refs {
		val, ok := reg.ValueByID(ref)
		if !ok {
			continue
		}
		out[val.AttributeRef] = ref
	}
	return out
}

// mintVariantID derives a stable identifier from the template line and the
// sorted value refs, so re-running the same file reproduces the same id. A
// numeric suffix disambiguates the rare id that is already taken by a
// variant with different values.
func mintVariantID(reg taxonomy.API, t taxonomy.Template, refs []string) string {
	id := "variant_" + taxonomy.SanitizeName(t.ProductLine)
	for _, ref := range refs {
		id += "_" + strings.TrimPrefix(ref, "value_")
	}
	base := id
	for n := 2; ; n++ {
		existing, ok := reg.VariantByID(id)
		if !ok {
			return id
		}
		if existing.TemplateRef == t.ExternalID && equalRefSets(existing.ValueRefs, refs) {
			return id
		}
		id = fmt.Sprintf("%s_%d", base, n)
	}
}

func equalRefSets(a, b []string) bool {
	if len(a) != len(b) {
		return false
	}
	as := append([]string(nil), a...)
	bs := append([]string(nil), b...)
	sort.Strings(as)
	sort.Strings(bs)
	for i := range as {
		if as[i] != bs[i] {
			return false
		}
	}
	return true
}
