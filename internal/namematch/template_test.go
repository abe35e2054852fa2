package namematch

import (
	"testing"

	"github.com/joelkehle/catalog-resolver/internal/taxonomy"
)

func normalizedBatch(t *testing.T, reg taxonomy.API, records ...ParsedRecord) []NormalizedRecord {
	t.Helper()
	out, flags := Normalize(records, reg, nil)
	if len(flags) != 0 {
		t.Fatalf("normalize flags = %v, want none", flags)
	}
	return out
}

func TestBuildTemplatesCreatesLinedTemplate(t *testing.T) {
	reg := taxonomy.NewRegistry()
	records := normalizedBatch(t, reg,
		parsedRecord(0, "7DZE - 7Daze Fusion TFN", "7DZ-BC-3", AttributeSet{KeyFlavor: "Banana Cantaloupe", KeyNicotineMg: "3"}),
		parsedRecord(1, "7DZE - 7Daze Fusion TFN", "7DZ-MG-6", AttributeSet{KeyFlavor: "Mango", KeyNicotineMg: "6"}),
	)
	groups, flags := BuildTemplates(records, reg, nil)
	if len(flags) != 0 {
		t.Fatalf("flags = %v, want none", flags)
	}
	if len(groups) != 1 {
		t.Fatalf("got %d groups, want 1", len(groups))
	}
	tmpl := groups[0].Template
	if tmpl.ExternalID != "template_7dze_7daze_fusion_tfn" {
		t.Fatalf("template id = %q", tmpl.ExternalID)
	}
	if !tmpl.New {
		t.Fatal("first-run template must be new")
	}
	if tmpl.Simple {
		t.Fatal("two flavors and two strengths is not a simple product")
	}
	if tmpl.CategoryRef != "E-Juice" {
		t.Fatalf("category = %q, want E-Juice", tmpl.CategoryRef)
	}
	if len(tmpl.AttributeLines) != 2 {
		t.Fatalf("got %d attribute lines, want 2", len(tmpl.AttributeLines))
	}
	if tmpl.AttributeLines[0].AttributeRef != "attr_flavor" || tmpl.AttributeLines[1].AttributeRef != "attr_nicotine_mg" {
		t.Fatalf("line order = [%s %s], want [attr_flavor attr_nicotine_mg]",
			tmpl.AttributeLines[0].AttributeRef, tmpl.AttributeLines[1].AttributeRef)
	}
	if len(groups[0].Members) != 2 {
		t.Fatalf("got %d members, want 2", len(groups[0].Members))
	}
	for _, m := range groups[0].Members {
		if len(m.ValueRefs) != 2 {
			t.Fatalf("member refs = %v, want 2 refs", m.ValueRefs)
		}
	}
}

func TestBuildTemplatesCapsLinesAtTwo(t *testing.T) {
	reg := taxonomy.NewRegistry()
	records := normalizedBatch(t, reg,
		parsedRecord(0, "JH - Juice Head Freeze", "JH-1", AttributeSet{KeyFlavor: "Peach", KeyNicotineMg: "0", KeyVolumeML: "100"}),
		parsedRecord(1, "JH - Juice Head Freeze", "JH-2", AttributeSet{KeyFlavor: "Guava", KeyNicotineMg: "3", KeyVolumeML: "100"}),
	)
	groups, flags := BuildTemplates(records, reg, nil)
	if len(flags) != 0 {
		t.Fatalf("flags = %v, want none", flags)
	}
	tmpl := groups[0].Template
	if len(tmpl.AttributeLines) != 2 {
		t.Fatalf("got %d attribute lines, want 2", len(tmpl.AttributeLines))
	}
	for _, al := range tmpl.AttributeLines {
		if al.AttributeRef == "attr_volume_ml" {
			t.Fatal("volume must lose the line slots to flavor and nicotine")
		}
	}
}

func TestBuildTemplatesSingleValueIsSimple(t *testing.T) {
	reg := taxonomy.NewRegistry()
	records := normalizedBatch(t, reg,
		parsedRecord(0, "ALOHA - Aloha Sun Bar", "AS-1", AttributeSet{KeyFlavor: "Blue Hawaiian"}),
	)
	groups, flags := BuildTemplates(records, reg, nil)
	if len(flags) != 0 {
		t.Fatalf("flags = %v, want none", flags)
	}
	tmpl := groups[0].Template
	if !tmpl.Simple {
		t.Fatal("single distinct value must yield a simple product")
	}
	if len(tmpl.AttributeLines) != 0 {
		t.Fatalf("simple template carries %d lines, want 0", len(tmpl.AttributeLines))
	}
	if refs := groups[0].Members[0].ValueRefs; refs != nil {
		t.Fatalf("simple member refs = %v, want nil", refs)
	}
}

func TestBuildTemplatesExistingLinesWinSelection(t *testing.T) {
	reg := taxonomy.NewRegistry()
	def, _, err := reg.EnsureAttribute(taxonomy.EnsureAttributeInput{Name: "Volume (mL)", Kind: taxonomy.KindNumeric, CreateVariant: true})
	if err != nil {
		t.Fatalf("ensure attribute: %v", err)
	}
	val, _, err := reg.EnsureValue(taxonomy.EnsureValueInput{AttributeRef: def.ExternalID, Value: "100", Kind: taxonomy.KindNumeric})
	if err != nil {
		t.Fatalf("ensure value: %v", err)
	}
	if _, err := reg.UpsertTemplate(taxonomy.Template{
		ExternalID:     "template_jh_juice_head",
		ProductLine:    "JH - Juice Head",
		CategoryRef:    "E-Juice",
		AttributeLines: []taxonomy.AttributeLine{{AttributeRef: def.ExternalID, ValueRefs: []string{val.ExternalID}}},
	}); err != nil {
		t.Fatalf("seed template: %v", err)
	}

	records := normalizedBatch(t, reg,
		parsedRecord(0, "JH - Juice Head", "JH-M-100", AttributeSet{KeyFlavor: "Mango", KeyNicotineMg: "3", KeyVolumeML: "100"}),
		parsedRecord(1, "JH - Juice Head", "JH-P-100", AttributeSet{KeyFlavor: "Peach", KeyNicotineMg: "6", KeyVolumeML: "100"}),
	)
	groups, flags := BuildTemplates(records, reg, nil)
	if len(flags) != 0 {
		t.Fatalf("flags = %v, want none", flags)
	}
	tmpl := groups[0].Template
	if tmpl.ExternalID != "template_jh_juice_head" {
		t.Fatalf("template id = %q, want the persisted one", tmpl.ExternalID)
	}
	if tmpl.New {
		t.Fatal("extending a persisted template must not mark it new")
	}
	if len(tmpl.AttributeLines) != 2 {
		t.Fatalf("got %d attribute lines, want 2", len(tmpl.AttributeLines))
	}
	if tmpl.AttributeLines[0].AttributeRef != "attr_volume_ml" {
		t.Fatalf("first line = %q, want attr_volume_ml (persisted schema wins)", tmpl.AttributeLines[0].AttributeRef)
	}
	if tmpl.AttributeLines[1].AttributeRef != "attr_flavor" {
		t.Fatalf("second line = %q, want attr_flavor", tmpl.AttributeLines[1].AttributeRef)
	}
}

func TestBuildTemplatesInjectsVariantType(t *testing.T) {
	reg := taxonomy.NewRegistry()
	a := parsedRecord(0, "FRMX - Freemax Fireluke Coils", "FRMX-X1", AttributeSet{KeyResistance: "0.12"})
	a.Descriptors = []string{"SS316 X1 Mesh"}
	b := parsedRecord(1, "FRMX - Freemax Fireluke Coils", "FRMX-X2", AttributeSet{KeyResistance: "0.12"})
	b.Descriptors = []string{"SS316 X2 Mesh"}
	records := normalizedBatch(t, reg, a, b)

	groups, flags := BuildTemplates(records, reg, nil)
	if len(flags) != 0 {
		t.Fatalf("flags = %v, want none; descriptors should disambiguate", flags)
	}
	tmpl := groups[0].Template
	if tmpl.CategoryRef != "Coils" {
		t.Fatalf("category = %q, want Coils", tmpl.CategoryRef)
	}
	if len(tmpl.AttributeLines) != 2 {
		t.Fatalf("got %d attribute lines, want resistance plus variant type", len(tmpl.AttributeLines))
	}
	if tmpl.AttributeLines[1].AttributeRef != "attr_variant_type" {
		t.Fatalf("second line = %q, want attr_variant_type", tmpl.AttributeLines[1].AttributeRef)
	}
	if len(groups[0].Members) != 2 {
		t.Fatalf("got %d members, want 2", len(groups[0].Members))
	}
	if groups[0].Members[0].ValueRefs[0] == groups[0].Members[1].ValueRefs[0] &&
		groups[0].Members[0].ValueRefs[1] == groups[0].Members[1].ValueRefs[1] {
		t.Fatal("variant type values failed to distinguish the members")
	}
}

func TestBuildTemplatesFlagsIndistinguishableRecords(t *testing.T) {
	reg := taxonomy.NewRegistry()
	records := normalizedBatch(t, reg,
		parsedRecord(0, "7DZE - 7Daze Fusion TFN", "7DZ-A", AttributeSet{KeyFlavor: "Mango", KeyNicotineMg: "3"}),
		parsedRecord(1, "7DZE - 7Daze Fusion TFN", "7DZ-B", AttributeSet{KeyFlavor: "Mango", KeyNicotineMg: "3"}),
	)
	groups, flags := BuildTemplates(records, reg, nil)
	if len(flags) != 1 || flags[0].Kind != FlagAmbiguousVariantMatch {
		t.Fatalf("flags = %v, want one ambiguous flag", flags)
	}
	if flags[0].SKU != "7DZ-B" {
		t.Fatalf("flagged sku = %q, want the later record", flags[0].SKU)
	}
	if len(groups[0].Members) != 1 {
		t.Fatalf("got %d members, want 1; the colliding record is excluded", len(groups[0].Members))
	}
}

func TestBuildTemplatesSkipsUnresolvedRecords(t *testing.T) {
	reg := taxonomy.NewRegistry()
	resolved := parsedRecord(0, "7DZE - 7Daze Fusion TFN", "7DZ-A", AttributeSet{KeyFlavor: "Mango"})
	unresolved := ParsedRecord{
		Index:       1,
		ProductLine: "7DZE - 7Daze Fusion TFN",
		SourceSKU:   "7DZ-B",
		Attributes:  AttributeSet{},
		Resolution:  ResolutionUnresolved,
	}
	records := normalizedBatch(t, reg, resolved, unresolved)
	groups, _ := BuildTemplates(records, reg, nil)
	if len(groups) != 1 {
		t.Fatalf("got %d groups, want 1", len(groups))
	}
	if len(groups[0].Members) != 1 {
		t.Fatalf("got %d members, want 1; unresolved records stay out of templates", len(groups[0].Members))
	}
}

func TestBuildTemplatesStableAcrossRuns(t *testing.T) {
	reg := taxonomy.NewRegistry()
	build := func() taxonomy.Template {
		records := normalizedBatch(t, reg,
			parsedRecord(0, "7DZE - 7Daze Fusion TFN", "7DZ-BC-3", AttributeSet{KeyFlavor: "Banana Cantaloupe", KeyNicotineMg: "3"}),
			parsedRecord(1, "7DZE - 7Daze Fusion TFN", "7DZ-MG-6", AttributeSet{KeyFlavor: "Mango", KeyNicotineMg: "6"}),
		)
		groups, flags := BuildTemplates(records, reg, nil)
		if len(flags) != 0 {
			t.Fatalf("flags = %v, want none", flags)
		}
		return groups[0].Template
	}
	first := build()
	if err := reg.ClearNewFlags(); err != nil {
		t.Fatalf("clear new flags: %v", err)
	}
	second := build()
	if second.ExternalID != first.ExternalID {
		t.Fatalf("template id drifted: %q vs %q", first.ExternalID, second.ExternalID)
	}
	if second.New {
		t.Fatal("second run must reuse, not re-mint")
	}
	if len(second.AttributeLines) != len(first.AttributeLines) {
		t.Fatalf("line count drifted: %d vs %d", len(first.AttributeLines), len(second.AttributeLines))
	}
}
