package taxonomy

import (
	"encoding/json"
	"fmt"
	"sync"
	"time"

	"github.com/jmoiron/sqlx"
	_ "modernc.org/sqlite"
)

// SQLiteRegistry implements taxonomy.API with SQLite-backed persistence.
// It delegates registry logic (dedupe, minting, conflict checks) to an
// embedded in-memory Registry and writes the core entities through to
// SQLite, so identifiers minted in one run survive into the next.
type SQLiteRegistry struct {
	inner *Registry
	db    *sqlx.DB
	mu    sync.Mutex
}

const sqliteSchema = `
CREATE TABLE IF NOT EXISTS attributes (
	external_id    TEXT PRIMARY KEY,
	name           TEXT NOT NULL,
	display_type   TEXT NOT NULL DEFAULT 'radio',
	create_variant INTEGER NOT NULL DEFAULT 1,
	kind           TEXT NOT NULL DEFAULT '',
	is_new         INTEGER NOT NULL DEFAULT 0
);

CREATE TABLE IF NOT EXISTS attribute_values (
	external_id      TEXT PRIMARY KEY,
	attribute_ref    TEXT NOT NULL,
	normalized_value TEXT NOT NULL,
	is_new           INTEGER NOT NULL DEFAULT 0
);

CREATE TABLE IF NOT EXISTS templates (
	external_id     TEXT PRIMARY KEY,
	product_line    TEXT NOT NULL,
	category_ref    TEXT NOT NULL DEFAULT '',
	is_simple       INTEGER NOT NULL DEFAULT 0,
	attribute_lines TEXT NOT NULL DEFAULT '[]',
	is_new          INTEGER NOT NULL DEFAULT 0
);

CREATE TABLE IF NOT EXISTS variants (
	external_id  TEXT PRIMARY KEY,
	template_ref TEXT NOT NULL,
	value_refs   TEXT NOT NULL DEFAULT '[]',
	sku          TEXT NOT NULL DEFAULT '',
	price        REAL NOT NULL DEFAULT 0,
	is_new       INTEGER NOT NULL DEFAULT 0
);

CREATE TABLE IF NOT EXISTS runs (
	run_id        TEXT PRIMARY KEY,
	started_at    TEXT NOT NULL,
	completed_at  TEXT NOT NULL DEFAULT '',
	record_count  INTEGER NOT NULL DEFAULT 0,
	matched_count INTEGER NOT NULL DEFAULT 0,
	new_variants  INTEGER NOT NULL DEFAULT 0,
	flagged       INTEGER NOT NULL DEFAULT 0
);
`

func NewSQLiteRegistry(dbPath string) (*SQLiteRegistry, error) {
	db, err := sqlx.Open("sqlite", dbPath+"?_pragma=journal_mode(wal)&_pragma=busy_timeout(5000)")
	if err != nil {
		return nil, fmt.Errorf("open sqlite: %w", err)
	}
	db.SetMaxOpenConns(1)

	if _, err := db.Exec(sqliteSchema); err != nil {
		db.Close()
		return nil, fmt.Errorf("create schema: %w", err)
	}

	s := &SQLiteRegistry{
		inner: NewRegistry(),
		db:    db,
	}

	if err := s.loadAll(); err != nil {
		db.Close()
		return nil, fmt.Errorf("load state: %w", err)
	}

	return s, nil
}

func (s *SQLiteRegistry) Close() error {
	return s.db.Close()
}

// --- load all state from SQLite into the in-memory Registry ---

// is_new survives restarts: an entity stays new until an export run clears
// it, so nothing minted just before a crash can skip the import files.
func (s *SQLiteRegistry) loadAll() error {
	if err := s.loadAttributes(); err != nil {
		return err
	}
	if err := s.loadValues(); err != nil {
		return err
	}
	if err := s.loadTemplates(); err != nil {
		return err
	}
	if err := s.loadVariants(); err != nil {
		return err
	}
	return s.loadRuns()
}

func (s *SQLiteRegistry) loadAttributes() error {
	rows, err := s.db.Query("SELECT external_id, name, display_type, create_variant, kind, is_new FROM attributes ORDER BY rowid")
	if err != nil {
		return err
	}
	defer rows.Close()
	for rows.Next() {
		var def AttributeDefinition
		var createVariant, isNew int
		var kind string
		if err := rows.Scan(&def.ExternalID, &def.Name, &def.DisplayType, &createVariant, &kind, &isNew); err != nil {
			return err
		}
		def.CreateVariant = createVariant != 0
		def.Kind = ValueKind(kind)
		def.New = isNew != 0
		s.inner.insertAttributeLocked(&def)
	}
	return rows.Err()
}

func (s *SQLiteRegistry) loadValues() error {
	rows, err := s.db.Query("SELECT external_id, attribute_ref, normalized_value, is_new FROM attribute_values ORDER BY rowid")
	if err != nil {
		return err
	}
	defer rows.Close()
	for rows.Next() {
		var v AttributeValue
		var isNew int
		if err := rows.Scan(&v.ExternalID, &v.AttributeRef, &v.NormalizedValue, &isNew); err != nil {
			return err
		}
		v.New = isNew != 0
		def, ok := s.inner.attrsByID[v.AttributeRef]
		if !ok {
			return fmt.Errorf("value %q references unknown attribute %q", v.ExternalID, v.AttributeRef)
		}
		s.inner.insertValueLocked(&v, s.inner.valueKeyLocked(def, v.NormalizedValue))
	}
	return rows.Err()
}

func (s *SQLiteRegistry) loadTemplates() error {
	rows, err := s.db.Query("SELECT external_id, product_line, category_ref, is_simple, attribute_lines, is_new FROM templates ORDER BY rowid")
	if err != nil {
		return err
	}
	defer rows.Close()
	for rows.Next() {
		var t Template
		var isSimple, isNew int
		var linesJSON string
		if err := rows.Scan(&t.ExternalID, &t.ProductLine, &t.CategoryRef, &isSimple, &linesJSON, &isNew); err != nil {
			return err
		}
		unmarshalJSON(linesJSON, &t.AttributeLines)
		t.Simple = isSimple != 0
		t.New = isNew != 0
		s.inner.insertTemplateLocked(&t)
	}
	return rows.Err()
}

func (s *SQLiteRegistry) loadVariants() error {
	rows, err := s.db.Query("SELECT external_id, template_ref, value_refs, sku, price, is_new FROM variants ORDER BY rowid")
	if err != nil {
		return err
	}
	defer rows.Close()
	for rows.Next() {
		var v Variant
		var isNew int
		var refsJSON string
		if err := rows.Scan(&v.ExternalID, &v.TemplateRef, &refsJSON, &v.SKU, &v.Price, &isNew); err != nil {
			return err
		}
		unmarshalJSON(refsJSON, &v.ValueRefs)
		v.New = isNew != 0
		s.inner.insertVariantLocked(&v)
	}
	return rows.Err()
}

func (s *SQLiteRegistry) loadRuns() error {
	rows, err := s.db.Query("SELECT run_id, started_at, completed_at, record_count, matched_count, new_variants, flagged FROM runs ORDER BY started_at")
	if err != nil {
		return err
	}
	defer rows.Close()
	for rows.Next() {
		var run RunRecord
		var startedAt, completedAt string
		if err := rows.Scan(&run.RunID, &startedAt, &completedAt, &run.RecordCount, &run.MatchedCount, &run.NewVariants, &run.Flagged); err != nil {
			return err
		}
		run.StartedAt, _ = time.Parse(time.RFC3339Nano, startedAt)
		if completedAt != "" {
			run.CompletedAt, _ = time.Parse(time.RFC3339Nano, completedAt)
		}
		s.inner.runs = append(s.inner.runs, run)
	}
	return rows.Err()
}

// --- persist helpers ---

func timeToString(t time.Time) string {
	if t.IsZero() {
		return ""
	}
	return t.UTC().Format(time.RFC3339Nano)
}

func marshalJSON(v any) string {
	b, err := json.Marshal(v)
	if err != nil {
		return "[]"
	}
	return string(b)
}

func unmarshalJSON(data string, v any) {
	if data == "" {
		return
	}
	_ = json.Unmarshal([]byte(data), v)
}

func boolToInt(b bool) int {
	if b {
		return 1
	}
	return 0
}

func (s *SQLiteRegistry) saveAttribute(def AttributeDefinition) error {
	_, err := s.db.Exec(`INSERT OR REPLACE INTO attributes (external_id, name, display_type, create_variant, kind, is_new)
		VALUES (?, ?, ?, ?, ?, ?)`,
		def.ExternalID,
		def.Name,
		string(def.DisplayType),
		boolToInt(def.CreateVariant),
		string(def.Kind),
		boolToInt(def.New),
	)
	return err
}

func (s *SQLiteRegistry) saveValue(v AttributeValue) error {
	_, err := s.db.Exec(`INSERT OR REPLACE INTO attribute_values (external_id, attribute_ref, normalized_value, is_new)
		VALUES (?, ?, ?, ?)`,
		v.ExternalID,
		v.AttributeRef,
		v.NormalizedValue,
		boolToInt(v.New),
	)
	return err
}

func (s *SQLiteRegistry) saveTemplate(t Template) error {
	_, err := s.db.Exec(`INSERT OR REPLACE INTO templates (external_id, product_line, category_ref, is_simple, attribute_lines, is_new)
		VALUES (?, ?, ?, ?, ?, ?)`,
		t.ExternalID,
		t.ProductLine,
		t.CategoryRef,
		boolToInt(t.Simple),
		marshalJSON(t.AttributeLines),
		boolToInt(t.New),
	)
	return err
}

func (s *SQLiteRegistry) saveVariant(v Variant) error {
	_, err := s.db.Exec(`INSERT OR REPLACE INTO variants (external_id, template_ref, value_refs, sku, price, is_new)
		VALUES (?, ?, ?, ?, ?, ?)`,
		v.ExternalID,
		v.TemplateRef,
		marshalJSON(v.ValueRefs),
		v.SKU,
		v.Price,
		boolToInt(v.New),
	)
	return err
}

func (s *SQLiteRegistry) saveRun(run RunRecord) error {
	_, err := s.db.Exec(`INSERT OR REPLACE INTO runs (run_id, started_at, completed_at, record_count, matched_count, new_variants, flagged)
		VALUES (?, ?, ?, ?, ?, ?, ?)`,
		run.RunID,
		timeToString(run.StartedAt),
		timeToString(run.CompletedAt),
		run.RecordCount,
		run.MatchedCount,
		run.NewVariants,
		run.Flagged,
	)
	return err
}

// --- taxonomy.API implementation ---

func (s *SQLiteRegistry) EnsureAttribute(input EnsureAttributeInput) (AttributeDefinition, bool, error) {
	def, created, err := s.inner.EnsureAttribute(input)
	if err != nil {
		return AttributeDefinition{}, false, err
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	// Ensure can also fix the kind of an existing definition, so persist
	// on hits as well as on mints.
	if perr := s.saveAttribute(def); perr != nil {
		return AttributeDefinition{}, false, perr
	}
	return def, created, nil
}

func (s *SQLiteRegistry) AttributeByName(name string) (AttributeDefinition, bool) {
	return s.inner.AttributeByName(name)
}

func (s *SQLiteRegistry) AttributeByID(id string) (AttributeDefinition, bool) {
	return s.inner.AttributeByID(id)
}

func (s *SQLiteRegistry) Attributes() []AttributeDefinition {
	return s.inner.Attributes()
}

func (s *SQLiteRegistry) EnsureValue(input EnsureValueInput) (AttributeValue, bool, error) {
	v, created, err := s.inner.EnsureValue(input)
	if err != nil {
		return AttributeValue{}, false, err
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	if perr := s.saveValue(v); perr != nil {
		return AttributeValue{}, false, perr
	}
	if def, ok := s.inner.AttributeByID(v.AttributeRef); ok {
		if perr := s.saveAttribute(def); perr != nil {
			return AttributeValue{}, false, perr
		}
	}
	return v, created, nil
}

func (s *SQLiteRegistry) ValueByID(id string) (AttributeValue, bool) {
	return s.inner.ValueByID(id)
}

func (s *SQLiteRegistry) ValuesForAttribute(attributeRef string) []AttributeValue {
	return s.inner.ValuesForAttribute(attributeRef)
}

func (s *SQLiteRegistry) Values() []AttributeValue {
	return s.inner.Values()
}

func (s *SQLiteRegistry) UpsertTemplate(t Template) (Template, error) {
	out, err := s.inner.UpsertTemplate(t)
	if err != nil {
		return Template{}, err
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	if perr := s.saveTemplate(out); perr != nil {
		return Template{}, perr
	}
	return out, nil
}

func (s *SQLiteRegistry) TemplateByLine(productLine string) (Template, bool) {
	return s.inner.TemplateByLine(productLine)
}

func (s *SQLiteRegistry) TemplateByID(id string) (Template, bool) {
	return s.inner.TemplateByID(id)
}

func (s *SQLiteRegistry) Templates() []Template {
	return s.inner.Templates()
}

func (s *SQLiteRegistry) UpsertVariant(v Variant) (Variant, error) {
	out, err := s.inner.UpsertVariant(v)
	if err != nil {
		return Variant{}, err
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	if perr := s.saveVariant(out); perr != nil {
		return Variant{}, perr
	}
	return out, nil
}

func (s *SQLiteRegistry) VariantByID(id string) (Variant, bool) {
	return s.inner.VariantByID(id)
}

func (s *SQLiteRegistry) VariantsForTemplate(templateRef string) []Variant {
	return s.inner.VariantsForTemplate(templateRef)
}

func (s *SQLiteRegistry) RecordRun(run RunRecord) error {
	if err := s.inner.RecordRun(run); err != nil {
		return err
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.saveRun(run)
}

func (s *SQLiteRegistry) Runs(limit int) []RunRecord {
	return s.inner.Runs(limit)
}

func (s *SQLiteRegistry) LoadSnapshot(snap Snapshot) error {
	if err := s.inner.LoadSnapshot(snap); err != nil {
		return err
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	for _, def := range s.inner.Attributes() {
		if err := s.saveAttribute(def); err != nil {
			return err
		}
	}
	for _, v := range s.inner.Values() {
		if err := s.saveValue(v); err != nil {
			return err
		}
	}
	return nil
}

func (s *SQLiteRegistry) ClearNewFlags() error {
	if err := s.inner.ClearNewFlags(); err != nil {
		return err
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	for _, table := range []string{"attributes", "attribute_values", "templates", "variants"} {
		if _, err := s.db.Exec("UPDATE " + table + " SET is_new = 0"); err != nil {
			return err
		}
	}
	return nil
}

func (s *SQLiteRegistry) Stats() map[string]any {
	return s.inner.Stats()
}

// Ensure SQLiteRegistry satisfies the API interface at compile time.
var _ API = (*SQLiteRegistry)(nil)
