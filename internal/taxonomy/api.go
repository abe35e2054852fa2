package taxonomy

// API is the registry contract shared by the in-memory implementation and
// the SQLite-backed one. All methods are safe for concurrent use.
//
// Ensure* methods are atomic get-or-create: concurrent callers asking for
// the same logical entity observe a single minted identifier.
type API interface {
	// Attribute definitions.
	EnsureAttribute(input EnsureAttributeInput) (AttributeDefinition, bool, error)
	AttributeByName(name string) (AttributeDefinition, bool)
	AttributeByID(id string) (AttributeDefinition, bool)
	Attributes() []AttributeDefinition

	// Attribute values.
	EnsureValue(input EnsureValueInput) (AttributeValue, bool, error)
	ValueByID(id string) (AttributeValue, bool)
	ValuesForAttribute(attributeRef string) []AttributeValue
	Values() []AttributeValue

	// Templates and variants persisted from prior runs.
	UpsertTemplate(t Template) (Template, error)
	TemplateByLine(productLine string) (Template, bool)
	TemplateByID(id string) (Template, bool)
	Templates() []Template
	UpsertVariant(v Variant) (Variant, error)
	VariantByID(id string) (Variant, bool)
	VariantsForTemplate(templateRef string) []Variant

	// Run history.
	RecordRun(run RunRecord) error
	Runs(limit int) []RunRecord

	// LoadSnapshot seeds the registry with pre-existing entities. Seeded
	// entities keep New=false so exports can separate them from minted ones.
	LoadSnapshot(snap Snapshot) error

	// ClearNewFlags marks every entity as known. Called once the import
	// files for a run have been written; until then minted entities stay
	// new across restarts.
	ClearNewFlags() error

	Stats() map[string]any
}
