package namematch

import (
	"testing"

	"github.com/joelkehle/catalog-resolver/internal/taxonomy"
)

func buildGroups(t *testing.T, reg taxonomy.API, records ...ParsedRecord) []TemplateGroup {
	t.Helper()
	normalized, nf := Normalize(records, reg, nil)
	if len(nf) != 0 {
		t.Fatalf("normalize flags = %v, want none", nf)
	}
	groups, tf := BuildTemplates(normalized, reg, nil)
	if len(tf) != 0 {
		t.Fatalf("template flags = %v, want none", tf)
	}
	return groups
}

func TestMatchVariantsMintsNewVariants(t *testing.T) {
	reg := taxonomy.NewRegistry()
	groups := buildGroups(t, reg,
		parsedRecord(0, "7DZE - 7Daze Fusion TFN", "7DZ-MG-3", AttributeSet{KeyFlavor: "Mango", KeyNicotineMg: "3"}),
		parsedRecord(1, "7DZE - 7Daze Fusion TFN", "7DZ-PC-6", AttributeSet{KeyFlavor: "Peach", KeyNicotineMg: "6"}),
	)
	matches, flags := MatchVariants(groups, reg, nil)
	if len(flags) != 0 {
		t.Fatalf("flags = %v, want none", flags)
	}
	if len(matches) != 2 {
		t.Fatalf("got %d matches, want 2", len(matches))
	}
	for _, m := range matches {
		if m.Tier != TierNew {
			t.Fatalf("tier = %s, want new", m.Tier)
		}
	}
	if matches[0].VariantRef != "variant_7dze_7daze_fusion_tfn_flavor_mango_nicotine_mg_3" {
		t.Fatalf("variant id = %q", matches[0].VariantRef)
	}
	stored := reg.VariantsForTemplate(groups[0].Template.ExternalID)
	if len(stored) != 2 {
		t.Fatalf("registry holds %d variants, want 2", len(stored))
	}
	for _, v := range stored {
		if !v.New {
			t.Fatalf("variant %s should be new", v.ExternalID)
		}
	}
}

func TestMatchVariantsExactReuseAcrossRuns(t *testing.T) {
	reg := taxonomy.NewRegistry()
	run := func() []VariantMatch {
		groups := buildGroups(t, reg,
			parsedRecord(0, "7DZE - 7Daze Fusion TFN", "7DZ-MG-3", AttributeSet{KeyFlavor: "Mango", KeyNicotineMg: "3"}),
		)
		matches, flags := MatchVariants(groups, reg, nil)
		if len(flags) != 0 {
			t.Fatalf("flags = %v, want none", flags)
		}
		return matches
	}
	first := run()
	second := run()
	if second[0].VariantRef != first[0].VariantRef {
		t.Fatalf("variant id drifted across runs: %q vs %q", first[0].VariantRef, second[0].VariantRef)
	}
	if first[0].Tier != TierNew || second[0].Tier != TierExact {
		t.Fatalf("tiers = [%s %s], want [new exact]", first[0].Tier, second[0].Tier)
	}
}

func TestMatchVariantsPartialMatchOnSharedValues(t *testing.T) {
	reg := taxonomy.NewRegistry()
	groups := buildGroups(t, reg,
		parsedRecord(0, "7DZE - 7Daze Fusion TFN", "7DZ-MG-3", AttributeSet{KeyFlavor: "Mango", KeyNicotineMg: "3"}),
		parsedRecord(1, "7DZE - 7Daze Fusion TFN", "7DZ-PC-6", AttributeSet{KeyFlavor: "Peach", KeyNicotineMg: "6"}),
	)
	seeded, flags := MatchVariants(groups, reg, nil)
	if len(flags) != 0 || len(seeded) != 2 {
		t.Fatalf("seed run: matches=%d flags=%v", len(seeded), flags)
	}

	// A later feed drops the nicotine column; flavor alone still pins the
	// record to the mango variant.
	groups = buildGroups(t, reg,
		parsedRecord(0, "7DZE - 7Daze Fusion TFN", "7DZ-MG-3", AttributeSet{KeyFlavor: "Mango"}),
	)
	matches, flags := MatchVariants(groups, reg, nil)
	if len(flags) != 0 {
		t.Fatalf("flags = %v, want none", flags)
	}
	if len(matches) != 1 {
		t.Fatalf("got %d matches, want 1", len(matches))
	}
	if matches[0].Tier != TierPartial {
		t.Fatalf("tier = %s, want partial", matches[0].Tier)
	}
	if matches[0].VariantRef != seeded[0].VariantRef {
		t.Fatalf("partial match landed on %q, want %q", matches[0].VariantRef, seeded[0].VariantRef)
	}
}

func TestMatchVariantsAmbiguousPartialIsFlagged(t *testing.T) {
	reg := taxonomy.NewRegistry()
	groups := buildGroups(t, reg,
		parsedRecord(0, "7DZE - 7Daze Fusion TFN", "7DZ-MG-3", AttributeSet{KeyFlavor: "Mango", KeyNicotineMg: "3"}),
		parsedRecord(1, "7DZE - 7Daze Fusion TFN", "7DZ-MG-6", AttributeSet{KeyFlavor: "Mango", KeyNicotineMg: "6"}),
	)
	if _, flags := MatchVariants(groups, reg, nil); len(flags) != 0 {
		t.Fatalf("seed run flags = %v, want none", flags)
	}

	// Flavor alone agrees with both stored strengths: no automatic pick.
	groups = buildGroups(t, reg,
		parsedRecord(0, "7DZE - 7Daze Fusion TFN", "7DZ-MG-X", AttributeSet{KeyFlavor: "Mango"}),
	)
	matches, flags := MatchVariants(groups, reg, nil)
	if len(matches) != 0 {
		t.Fatalf("got %d matches, want 0", len(matches))
	}
	if len(flags) != 1 || flags[0].Kind != FlagAmbiguousVariantMatch {
		t.Fatalf("flags = %v, want one ambiguous flag", flags)
	}
}

func TestMatchVariantsSimpleTemplateKeysOffSKU(t *testing.T) {
	reg := taxonomy.NewRegistry()
	run := func(sku string) VariantMatch {
		groups := buildGroups(t, reg,
			parsedRecord(0, "ALOHA - Aloha Sun Bar", sku, AttributeSet{KeyFlavor: "Blue Hawaiian"}),
		)
		matches, flags := MatchVariants(groups, reg, nil)
		if len(flags) != 0 || len(matches) != 1 {
			t.Fatalf("matches=%d flags=%v", len(matches), flags)
		}
		return matches[0]
	}
	first := run("AS-001")
	again := run("AS-001")
	other := run("AS-002")

	if first.Tier != TierSimple || again.Tier != TierSimple {
		t.Fatalf("tiers = [%s %s], want simple", first.Tier, again.Tier)
	}
	if again.VariantRef != first.VariantRef {
		t.Fatalf("same sku minted two variants: %q vs %q", first.VariantRef, again.VariantRef)
	}
	if other.VariantRef == first.VariantRef {
		t.Fatal("different skus must not share a simple variant")
	}
}

func TestMatchVariantsNeverSharesAVariantAcrossSKUs(t *testing.T) {
	reg := taxonomy.NewRegistry()
	groups := buildGroups(t, reg,
		parsedRecord(0, "7DZE - 7Daze Fusion TFN", "7DZ-MG-3", AttributeSet{KeyFlavor: "Mango", KeyNicotineMg: "3"}),
		parsedRecord(1, "7DZE - 7Daze Fusion TFN", "7DZ-PC-6", AttributeSet{KeyFlavor: "Peach", KeyNicotineMg: "6"}),
	)
	if _, flags := MatchVariants(groups, reg, nil); len(flags) != 0 {
		t.Fatalf("seed run flags = %v, want none", flags)
	}

	// SKU A takes the mango variant exactly; SKU B's flavor-only record
	// resolves to the same variant and must be turned away.
	groups = buildGroups(t, reg,
		parsedRecord(0, "7DZE - 7Daze Fusion TFN", "7DZ-MG-3", AttributeSet{KeyFlavor: "Mango", KeyNicotineMg: "3"}),
		parsedRecord(1, "7DZE - 7Daze Fusion TFN", "7DZ-OTHER", AttributeSet{KeyFlavor: "Mango"}),
	)
	matches, flags := MatchVariants(groups, reg, nil)
	if len(matches) != 1 {
		t.Fatalf("got %d matches, want 1", len(matches))
	}
	if matches[0].SourceSKU != "7DZ-MG-3" || matches[0].Tier != TierExact {
		t.Fatalf("surviving match = %+v, want the exact claim", matches[0])
	}
	if len(flags) != 1 || flags[0].Kind != FlagAmbiguousVariantMatch || flags[0].SKU != "7DZ-OTHER" {
		t.Fatalf("flags = %v, want one ambiguous flag for 7DZ-OTHER", flags)
	}
}

func TestMatchVariantsNoSharedAttributesMintsFresh(t *testing.T) {
	reg := taxonomy.NewRegistry()
	groups := buildGroups(t, reg,
		parsedRecord(0, "7DZE - 7Daze Fusion TFN", "7DZ-MG-3", AttributeSet{KeyFlavor: "Mango", KeyNicotineMg: "3"}),
		parsedRecord(1, "7DZE - 7Daze Fusion TFN", "7DZ-PC-6", AttributeSet{KeyFlavor: "Peach", KeyNicotineMg: "6"}),
	)
	if _, flags := MatchVariants(groups, reg, nil); len(flags) != 0 {
		t.Fatalf("seed run flags = %v, want none", flags)
	}

	// Volume never made it onto the template's lines, so this record
	// projects onto nothing: no stored variant is evidence for it.
	groups = buildGroups(t, reg,
		parsedRecord(0, "7DZE - 7Daze Fusion TFN", "7DZ-100", AttributeSet{KeyVolumeML: "100"}),
	)
	matches, flags := MatchVariants(groups, reg, nil)
	if len(flags) != 0 {
		t.Fatalf("flags = %v, want none", flags)
	}
	if len(matches) != 1 || matches[0].Tier != TierNew {
		t.Fatalf("matches = %+v, want one new-tier match", matches)
	}
	if matches[0].VariantRef != "variant_7dze_7daze_fusion_tfn" {
		t.Fatalf("variant id = %q, want the bare line id", matches[0].VariantRef)
	}
}
