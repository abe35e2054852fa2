package namematch

import (
	"time"

	"github.com/joelkehle/catalog-resolver/internal/taxonomy"
)

// NameDelimiter separates brand, product line and attribute text inside a
// raw vendor product name.
const NameDelimiter = " - "

// MaxAttributeLines caps how many attributes may generate variants on one
// template. Weakly-distinguishing attributes beyond the cap stay on the
// records for informational export but never multiply variants.
const MaxAttributeLines = 2

// Attribute keys the deterministic rules emit. The vocabulary is open: the
// oracle may produce keys outside this list and the normalizer will mint
// definitions for them.
const (
	KeyFlavor      = "flavor"
	KeyNicotineMg  = "nicotine_mg"
	KeyVolumeML    = "volume_ml"
	KeyResistance  = "resistance_ohm"
	KeyWattage     = "wattage_w"
	KeyCapacityMah = "capacity_mah"
	KeyPackCount   = "pack_count"
	KeyCoilType    = "coil_type"
	KeyColor       = "color"
	KeyVariantType = "variant_type"
)

type RawRecord struct {
	Index        int     `json:"index"`
	OriginalName string  `json:"original_name"`
	SourceSKU    string  `json:"source_sku"`
	Quantity     float64 `json:"quantity"`
	Price        float64 `json:"price"`
}

type SplitName struct {
	Index         int     `json:"index"`
	Brand         *string `json:"brand,omitempty"`
	ProductLine   string  `json:"product_line"`
	AttributeText string  `json:"attribute_text"`
}

// AttributeSet maps attribute key to raw value text. Both extraction paths
// produce this shape, so downstream stages never care which path ran.
type AttributeSet map[string]string

type Resolution string

const (
	ResolutionDeterministic Resolution = "deterministic"
	ResolutionAssisted      Resolution = "assisted"
	ResolutionUnresolved    Resolution = "unresolved"
)

// ParsedRecord is one record after classification, in input order.
// Descriptors hold attribute-text tokens the rules consumed without
// emitting an attribute (hardware series names like "SS316 X1 Mesh"); the
// template builder falls back to them when variants would otherwise
// collide.
type ParsedRecord struct {
	Index         int          `json:"index"`
	Brand         *string      `json:"brand,omitempty"`
	ProductLine   string       `json:"product_line"`
	AttributeText string       `json:"attribute_text"`
	Attributes    AttributeSet `json:"attributes"`
	Descriptors   []string     `json:"descriptors,omitempty"`
	Resolution    Resolution   `json:"resolution"`
	Confidence    float64      `json:"confidence"`
	SourceSKU     string       `json:"source_sku"`
	Quantity      float64      `json:"quantity"`
	Price         float64      `json:"price"`
}

type MatchTier string

const (
	TierExact   MatchTier = "exact"
	TierPartial MatchTier = "partial"
	TierSimple  MatchTier = "simple"
	TierNew     MatchTier = "new"
)

// VariantMatch records where one record landed: which template, which
// variant, and through which tier of the matching policy.
type VariantMatch struct {
	Index       int       `json:"index"`
	SourceSKU   string    `json:"source_sku"`
	TemplateRef string    `json:"template_ref"`
	VariantRef  string    `json:"variant_ref"`
	Tier        MatchTier `json:"tier"`
	ValueRefs   []string  `json:"value_refs,omitempty"`
}

type FlagKind string

const (
	FlagMalformedInput        FlagKind = "malformed_input"
	FlagUnresolvedText        FlagKind = "unresolved_attribute_text"
	FlagTaxonomyConflict      FlagKind = "taxonomy_conflict"
	FlagAmbiguousVariantMatch FlagKind = "ambiguous_variant_match"
)

// Flag is one skipped or excluded item. Flags are enumerated in the run
// summary one by one; nothing is ever reduced to a bare count.
type Flag struct {
	Kind   FlagKind `json:"kind"`
	Index  int      `json:"index"`
	Name   string   `json:"name,omitempty"`
	SKU    string   `json:"sku,omitempty"`
	Detail string   `json:"detail"`
}

type PipelineMetadata struct {
	RunID           string    `json:"run_id"`
	StartedAt       time.Time `json:"started_at"`
	CompletedAt     time.Time `json:"completed_at"`
	StagesExecuted  []string  `json:"stages_executed"`
	OracleCalls     int       `json:"oracle_calls"`
	OracleRetries   int       `json:"oracle_retries"`
	OracleBudgetHit bool      `json:"oracle_budget_hit"`
	MatchedRecords  int       `json:"matched_records"`
	MatchRate       float64   `json:"match_rate"`
}

type PipelineResult struct {
	Splits    []SplitName         `json:"splits"`
	Records   []ParsedRecord      `json:"parsed_records"`
	Templates []taxonomy.Template `json:"templates"`
	Variants  []taxonomy.Variant  `json:"variants"`
	Matches   []VariantMatch      `json:"matches"`
	Flags     []Flag              `json:"flags"`
	Metadata  PipelineMetadata    `json:"metadata"`
}

// RunEnvelope is the serialized form of a finished run: enough intermediate
// state to rebuild reports and re-drive the structural stages without
// touching the oracle again.
type RunEnvelope struct {
	RunID     string              `json:"run_id"`
	Raw       []RawRecord         `json:"raw_records"`
	Splits    []SplitName         `json:"splits"`
	Parsed    []ParsedRecord      `json:"parsed_records"`
	Templates []taxonomy.Template `json:"templates"`
	Variants  []taxonomy.Variant  `json:"variants"`
	Matches   []VariantMatch      `json:"matches"`
	Flags     []Flag              `json:"flags"`
	Metadata  PipelineMetadata    `json:"metadata"`
}
