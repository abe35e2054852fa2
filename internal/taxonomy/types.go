package taxonomy

import "time"

type DisplayType string

const (
	DisplayRadio  DisplayType = "radio"
	DisplaySelect DisplayType = "select"
)

type ValueKind string

const (
	KindNumeric     ValueKind = "numeric"
	KindCategorical ValueKind = "categorical"
)

// AttributeDefinition is one attribute category ("Flavor", "Nicotine (mg)").
// Definitions loaded from the taxonomy snapshot have New=false; definitions
// minted during a run are tagged New=true and exported separately.
type AttributeDefinition struct {
	ExternalID    string      `json:"external_id"`
	Name          string      `json:"name"`
	DisplayType   DisplayType `json:"display_type"`
	CreateVariant bool        `json:"create_variant"`
	Kind          ValueKind   `json:"kind,omitempty"`
	New           bool        `json:"new,omitempty"`
}

// AttributeValue is unique per (attribute_ref, normalized_value); the
// registry never mints a second identifier for a value that already exists,
// regardless of raw spelling.
type AttributeValue struct {
	ExternalID      string `json:"external_id"`
	AttributeRef    string `json:"attribute_ref"`
	NormalizedValue string `json:"normalized_value"`
	New             bool   `json:"new,omitempty"`
}

type AttributeLine struct {
	AttributeRef string   `json:"attribute_ref"`
	ValueRefs    []string `json:"value_refs"`
}

// Template is one canonical product line. Simple templates carry no
// attribute lines and key their single sellable unit by SKU.
type Template struct {
	ExternalID     string          `json:"external_id"`
	ProductLine    string          `json:"product_line"`
	CategoryRef    string          `json:"category_ref"`
	Simple         bool            `json:"simple,omitempty"`
	AttributeLines []AttributeLine `json:"attribute_lines"`
	New            bool            `json:"new,omitempty"`
}

// Variant is a sellable unit of a template, distinguished by its value-ref
// set (sorted, restricted to the template's variant-generating attributes).
type Variant struct {
	ExternalID  string   `json:"external_id"`
	TemplateRef string   `json:"template_ref"`
	ValueRefs   []string `json:"value_refs"`
	SKU         string   `json:"sku"`
	Price       float64  `json:"price"`
	New         bool     `json:"new,omitempty"`
}

type RunRecord struct {
	RunID        string    `json:"run_id"`
	StartedAt    time.Time `json:"started_at"`
	CompletedAt  time.Time `json:"completed_at"`
	RecordCount  int       `json:"record_count"`
	MatchedCount int       `json:"matched_count"`
	NewVariants  int       `json:"new_variants"`
	Flagged      int       `json:"flagged"`
}

type EnsureAttributeInput struct {
	Name          string
	DisplayType   DisplayType
	Kind          ValueKind
	CreateVariant bool
}

type EnsureValueInput struct {
	AttributeRef string
	Value        string
	Kind         ValueKind
}
