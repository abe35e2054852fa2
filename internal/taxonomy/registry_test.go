package taxonomy

import (
	"fmt"
	"sync"
	"testing"
)

func seedSnapshot() Snapshot {
	return Snapshot{
		Attributes: []SnapshotAttribute{
			{ExternalID: "attr_flavor", Name: "Flavor", DisplayType: DisplayRadio},
			{ExternalID: "attr_nicotine_mg", Name: "Nicotine (mg)", DisplayType: DisplayRadio},
		},
		Values: []SnapshotValue{
			{ExternalID: "value_flavor_blue_razz", AttributeRef: "attr_flavor", Value: "Blue Razz"},
			{ExternalID: "value_nicotine_mg_0", AttributeRef: "attr_nicotine_mg", Value: "0"},
			{ExternalID: "value_nicotine_mg_3", AttributeRef: "attr_nicotine_mg", Value: "3"},
			{ExternalID: "value_nicotine_mg_6", AttributeRef: "attr_nicotine_mg", Value: "6"},
		},
	}
}

func newSeededRegistry(t *testing.T) *Registry {
	t.Helper()
	r := NewRegistry()
	if err := r.LoadSnapshot(seedSnapshot()); err != nil {
		t.Fatalf("load snapshot: %v", err)
	}
	return r
}

func TestEnsureAttributeDedupesSpellings(t *testing.T) {
	r := NewRegistry()

	first, created, err := r.EnsureAttribute(EnsureAttributeInput{Name: "Coil Type", Kind: KindCategorical})
	if err != nil {
		t.Fatalf("ensure first: %v", err)
	}
	if !created {
		t.Fatalf("expected first ensure to mint")
	}
	if first.ExternalID != "attr_coil_type" {
		t.Fatalf("minted id = %q, want attr_coil_type", first.ExternalID)
	}
	if !first.New {
		t.Fatalf("minted attribute should be tagged new")
	}

	second, created, err := r.EnsureAttribute(EnsureAttributeInput{Name: "  coil TYPE "})
	if err != nil {
		t.Fatalf("ensure second: %v", err)
	}
	if created {
		t.Fatalf("respelled ensure should not mint a second definition")
	}
	if second.ExternalID != first.ExternalID {
		t.Fatalf("respelled ensure returned %q, want %q", second.ExternalID, first.ExternalID)
	}
	if got := len(r.Attributes()); got != 1 {
		t.Fatalf("expected 1 attribute, got %d", got)
	}
}

func TestEnsureValueDedupesSpellings(t *testing.T) {
	r := newSeededRegistry(t)

	v1, created, err := r.EnsureValue(EnsureValueInput{AttributeRef: "attr_flavor", Value: "Banana Cantaloupe", Kind: KindCategorical})
	if err != nil {
		t.Fatalf("ensure v1: %v", err)
	}
	if !created || !v1.New {
		t.Fatalf("first spelling should mint a new value")
	}

	v2, created, err := r.EnsureValue(EnsureValueInput{AttributeRef: "attr_flavor", Value: "BANANA cantaloupe"})
	if err != nil {
		t.Fatalf("ensure v2: %v", err)
	}
	if created {
		t.Fatalf("respelled value should not mint")
	}
	if v2.ExternalID != v1.ExternalID {
		t.Fatalf("respelled value returned %q, want %q", v2.ExternalID, v1.ExternalID)
	}

	// Seeded values are reused too, and stay not-new.
	seeded, created, err := r.EnsureValue(EnsureValueInput{AttributeRef: "attr_flavor", Value: "blue razz"})
	if err != nil {
		t.Fatalf("ensure seeded: %v", err)
	}
	if created || seeded.New {
		t.Fatalf("seeded value should be reused as-is, got created=%v new=%v", created, seeded.New)
	}
	if seeded.ExternalID != "value_flavor_blue_razz" {
		t.Fatalf("seeded value id = %q", seeded.ExternalID)
	}
}

func TestEnsureValueNumericDedupe(t *testing.T) {
	r := newSeededRegistry(t)

	for _, spelling := range []string{"3", "03", "3.0", " 3 "} {
		v, created, err := r.EnsureValue(EnsureValueInput{AttributeRef: "attr_nicotine_mg", Value: spelling})
		if err != nil {
			t.Fatalf("ensure %q: %v", spelling, err)
		}
		if created {
			t.Fatalf("spelling %q minted a duplicate of the seeded 3mg value", spelling)
		}
		if v.ExternalID != "value_nicotine_mg_3" {
			t.Fatalf("spelling %q resolved to %q, want value_nicotine_mg_3", spelling, v.ExternalID)
		}
	}
}

func TestEnsureValueKindConflict(t *testing.T) {
	r := newSeededRegistry(t)

	// Snapshot values 0/3/6 classify Nicotine (mg) as numeric, so a
	// categorical token is a conflict, not a new value.
	_, _, err := r.EnsureValue(EnsureValueInput{AttributeRef: "attr_nicotine_mg", Value: "Iced"})
	if err == nil {
		t.Fatalf("expected conflict for categorical value on numeric attribute")
	}
	if !IsConflict(err) {
		t.Fatalf("expected conflict code, got %v", err)
	}

	_, _, err = r.EnsureAttribute(EnsureAttributeInput{Name: "Nicotine (mg)", Kind: KindCategorical})
	if err == nil || !IsConflict(err) {
		t.Fatalf("expected kind conflict on definition, got %v", err)
	}

	// The blocked value must not have been minted.
	for _, v := range r.ValuesForAttribute("attr_nicotine_mg") {
		if v.NormalizedValue == "Iced" {
			t.Fatalf("conflicting value was stored")
		}
	}
}

func TestEnsureValueUnknownAttribute(t *testing.T) {
	r := NewRegistry()
	_, _, err := r.EnsureValue(EnsureValueInput{AttributeRef: "attr_missing", Value: "x"})
	if err == nil || !IsNotFound(err) {
		t.Fatalf("expected not_found, got %v", err)
	}
}

func TestIdentifiersDeterministicAcrossRegistries(t *testing.T) {
	build := func() []string {
		r := NewRegistry()
		var ids []string
		for _, name := range []string{"Flavor", "Nicotine (mg)", "Resistance (Ω)"} {
			def, _, err := r.EnsureAttribute(EnsureAttributeInput{Name: name})
			if err != nil {
				t.Fatalf("ensure %q: %v", name, err)
			}
			ids = append(ids, def.ExternalID)
			v, _, err := r.EnsureValue(EnsureValueInput{AttributeRef: def.ExternalID, Value: "Blue Razz"})
			if err != nil {
				t.Fatalf("ensure value under %q: %v", name, err)
			}
			ids = append(ids, v.ExternalID)
		}
		return ids
	}

	a, b := build(), build()
	for i := range a {
		if a[i] != b[i] {
			t.Fatalf("id %d differs across identical runs: %q vs %q", i, a[i], b[i])
		}
	}
	if a[0] != "attr_flavor" || a[1] != "value_flavor_blue_razz" {
		t.Fatalf("unexpected ids: %v", a[:2])
	}
	if a[4] != "attr_resistance" {
		t.Fatalf("unicode name sanitized to %q, want attr_resistance", a[4])
	}
}

func TestConcurrentEnsureValueMintsOnce(t *testing.T) {
	r := newSeededRegistry(t)

	const workers = 32
	ids := make([]string, workers)
	var wg sync.WaitGroup
	for i := 0; i < workers; i++ {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			v, _, err := r.EnsureValue(EnsureValueInput{AttributeRef: "attr_flavor", Value: "Strawberry Kiwi"})
			if err != nil {
				t.Errorf("worker %d: %v", i, err)
				return
			}
			ids[i] = v.ExternalID
		}(i)
	}
	wg.Wait()

	for i := 1; i < workers; i++ {
		if ids[i] != ids[0] {
			t.Fatalf("worker %d got id %q, worker 0 got %q", i, ids[i], ids[0])
		}
	}
	count := 0
	for _, v := range r.ValuesForAttribute("attr_flavor") {
		if v.NormalizedValue == "Strawberry Kiwi" {
			count++
		}
	}
	if count != 1 {
		t.Fatalf("expected a single minted value, found %d", count)
	}
}

func TestUpsertTemplateMergesLines(t *testing.T) {
	r := NewRegistry()

	first := Template{
		ExternalID:  "template_7daze_fusion_tfn",
		ProductLine: "7DZE - 7Daze Fusion TFN",
		CategoryRef: "category_ejuice",
		AttributeLines: []AttributeLine{
			{AttributeRef: "attr_flavor", ValueRefs: []string{"value_flavor_banana_cantaloupe"}},
		},
		New: true,
	}
	if _, err := r.UpsertTemplate(first); err != nil {
		t.Fatalf("upsert first: %v", err)
	}

	second := first
	second.AttributeLines = []AttributeLine{
		{AttributeRef: "attr_flavor", ValueRefs: []string{"value_flavor_banana_cantaloupe", "value_flavor_blue_razz"}},
		{AttributeRef: "attr_nicotine_mg", ValueRefs: []string{"value_nicotine_mg_3"}},
	}
	merged, err := r.UpsertTemplate(second)
	if err != nil {
		t.Fatalf("upsert second: %v", err)
	}

	if len(merged.AttributeLines) != 2 {
		t.Fatalf("expected 2 lines after merge, got %d", len(merged.AttributeLines))
	}
	if got := merged.AttributeLines[0].ValueRefs; len(got) != 2 {
		t.Fatalf("flavor line refs = %v, want both flavors", got)
	}

	// Re-sending the original narrow shape must not drop merged refs.
	again, err := r.UpsertTemplate(first)
	if err != nil {
		t.Fatalf("upsert third: %v", err)
	}
	if len(again.AttributeLines) != 2 || len(again.AttributeLines[0].ValueRefs) != 2 {
		t.Fatalf("template shrank on re-upsert: %+v", again.AttributeLines)
	}
}

func TestTemplateLookupByLineFoldsCase(t *testing.T) {
	r := NewRegistry()
	if _, err := r.UpsertTemplate(Template{
		ExternalID:  "template_freemax_coils",
		ProductLine: "FRMX - Freemax Coils",
	}); err != nil {
		t.Fatalf("upsert: %v", err)
	}
	if _, ok := r.TemplateByLine("frmx - freemax coils"); !ok {
		t.Fatalf("case-folded line lookup failed")
	}
}

func TestLoadSnapshotInfersKinds(t *testing.T) {
	r := newSeededRegistry(t)

	nic, ok := r.AttributeByName("Nicotine (mg)")
	if !ok {
		t.Fatalf("nicotine attribute missing after load")
	}
	if nic.Kind != KindNumeric {
		t.Fatalf("nicotine kind = %q, want numeric", nic.Kind)
	}
	flavor, _ := r.AttributeByName("Flavor")
	if flavor.Kind != KindCategorical {
		t.Fatalf("flavor kind = %q, want categorical", flavor.Kind)
	}
	if flavor.New || nic.New {
		t.Fatalf("seeded attributes must not be tagged new")
	}
}

func TestRunsNewestFirst(t *testing.T) {
	r := NewRegistry()
	for i := 0; i < 3; i++ {
		if err := r.RecordRun(RunRecord{RunID: fmt.Sprintf("run-%d", i)}); err != nil {
			t.Fatalf("record run %d: %v", i, err)
		}
	}
	runs := r.Runs(2)
	if len(runs) != 2 {
		t.Fatalf("expected 2 runs, got %d", len(runs))
	}
	if runs[0].RunID != "run-2" || runs[1].RunID != "run-1" {
		t.Fatalf("unexpected order: %s, %s", runs[0].RunID, runs[1].RunID)
	}
}

func TestClearNewFlags(t *testing.T) {
	r := newSeededRegistry(t)
	val, created, err := r.EnsureValue(EnsureValueInput{AttributeRef: "attr_flavor", Value: "Mango"})
	if err != nil || !created {
		t.Fatalf("ensure value: created=%v err=%v", created, err)
	}
	if !val.New {
		t.Fatal("minted value must start out new")
	}
	if err := r.ClearNewFlags(); err != nil {
		t.Fatalf("clear new flags: %v", err)
	}
	got, ok := r.ValueByID(val.ExternalID)
	if !ok {
		t.Fatal("value disappeared")
	}
	if got.New {
		t.Fatal("new flag should be cleared")
	}
}

func TestSanitizeName(t *testing.T) {
	cases := []struct {
		in   string
		want string
	}{
		{"Nicotine (mg)", "nicotine_mg"},
		{"  Blue   Razz  ", "blue_razz"},
		{"SS316 X1 Mesh", "ss316_x1_mesh"},
		{"Resistance (Ω)", "resistance"},
		{"---", "unknown"},
		{"", "unknown"},
	}
	for _, tc := range cases {
		if got := SanitizeName(tc.in); got != tc.want {
			t.Fatalf("SanitizeName(%q) = %q, want %q", tc.in, got, tc.want)
		}
	}
}
