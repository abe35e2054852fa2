package namematch

import (
	"reflect"
	"testing"
)

func TestExtractFlavorAndNicotine(t *testing.T) {
	ext := ExtractAttributes("Banana Cantaloupe 03mg")
	if !ext.Clear {
		t.Fatal("expected clear extraction")
	}
	if ext.Confidence != 0.95 {
		t.Fatalf("confidence = %v, want 0.95", ext.Confidence)
	}
	want := AttributeSet{KeyFlavor: "Banana Cantaloupe", KeyNicotineMg: "3"}
	if !reflect.DeepEqual(ext.Attributes, want) {
		t.Fatalf("attributes = %v, want %v", ext.Attributes, want)
	}
	if len(ext.Descriptors) != 0 {
		t.Fatalf("descriptors = %v, want none", ext.Descriptors)
	}
}

func TestExtractCoilSpecConsumesDescriptors(t *testing.T) {
	ext := ExtractAttributes("SS316 X1 Mesh 0.12ohm")
	if !ext.Clear {
		t.Fatal("expected clear extraction")
	}
	if ext.Confidence != 0.95 {
		t.Fatalf("confidence = %v, want 0.95", ext.Confidence)
	}
	want := AttributeSet{KeyResistance: "0.12"}
	if !reflect.DeepEqual(ext.Attributes, want) {
		t.Fatalf("attributes = %v, want %v", ext.Attributes, want)
	}
	if _, ok := ext.Attributes[KeyFlavor]; ok {
		t.Fatal("coil descriptors must not become a flavor")
	}
	if len(ext.Descriptors) != 1 || ext.Descriptors[0] != "SS316 X1 Mesh" {
		t.Fatalf("descriptors = %v, want [SS316 X1 Mesh]", ext.Descriptors)
	}
}

func TestExtractEmptyTextIsClear(t *testing.T) {
	ext := ExtractAttributes("   ")
	if !ext.Clear {
		t.Fatal("expected clear extraction for empty text")
	}
	if len(ext.Attributes) != 0 {
		t.Fatalf("attributes = %v, want empty", ext.Attributes)
	}
	if ext.Confidence != 1 {
		t.Fatalf("confidence = %v, want 1", ext.Confidence)
	}
}

func TestExtractFlavorOnly(t *testing.T) {
	ext := ExtractAttributes("Blue Razz Ice")
	if !ext.Clear {
		t.Fatal("expected clear extraction")
	}
	if got := ext.Attributes[KeyFlavor]; got != "Blue Razz Ice" {
		t.Fatalf("flavor = %q, want %q", got, "Blue Razz Ice")
	}
	if ext.Confidence != 0.9 {
		t.Fatalf("confidence = %v, want 0.9", ext.Confidence)
	}
}

func TestExtractMultipleUnits(t *testing.T) {
	ext := ExtractAttributes("Watermelon 100ml 3mg")
	if !ext.Clear {
		t.Fatal("expected clear extraction")
	}
	want := AttributeSet{KeyFlavor: "Watermelon", KeyVolumeML: "100", KeyNicotineMg: "3"}
	if !reflect.DeepEqual(ext.Attributes, want) {
		t.Fatalf("attributes = %v, want %v", ext.Attributes, want)
	}
}

func TestExtractColorOnHardware(t *testing.T) {
	ext := ExtractAttributes("Black 5000mah")
	if !ext.Clear {
		t.Fatal("expected clear extraction")
	}
	want := AttributeSet{KeyCapacityMah: "5000", KeyColor: "Black"}
	if !reflect.DeepEqual(ext.Attributes, want) {
		t.Fatalf("attributes = %v, want %v", ext.Attributes, want)
	}
	if len(ext.Descriptors) != 0 {
		t.Fatalf("descriptors = %v, want none", ext.Descriptors)
	}
}

func TestExtractConflictingReadingsAreUnclear(t *testing.T) {
	ext := ExtractAttributes("Tobacco 3mg 6mg twin pack")
	if ext.Clear {
		t.Fatalf("two nicotine readings must not be clear, got %v", ext.Attributes)
	}
}

func TestExtractBareNumberIsUnclear(t *testing.T) {
	// "50" carries no unit, so the rules cannot decide what it measures.
	ext := ExtractAttributes("Tobacco Free Nicotine 50")
	if ext.Clear {
		t.Fatalf("expected unclear, got %v", ext.Attributes)
	}
}

func TestExtractIsDeterministic(t *testing.T) {
	first := ExtractAttributes("Strawberry Kiwi 06mg 60ml")
	second := ExtractAttributes("Strawberry Kiwi 06mg 60ml")
	if !reflect.DeepEqual(first, second) {
		t.Fatalf("same input produced %v then %v", first, second)
	}
}
