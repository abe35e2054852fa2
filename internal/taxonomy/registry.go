package taxonomy

import (
	"strconv"
	"strings"
	"sync"
)

const keySep = "\x1f"

// Registry is the in-memory get-or-create store for attribute definitions,
// values, templates and variants. It is the unit shared by every pipeline
// stage in a run: stages hold the same *Registry, so an identifier minted by
// one stage is immediately visible to the rest.
type Registry struct {
	mu sync.Mutex

	attrsByID    map[string]*AttributeDefinition
	attrIDByFold map[string]string
	attrOrder    []string

	valsByID     map[string]*AttributeValue
	valIDByKey   map[string]string
	valIDsByAttr map[string][]string
	valOrder     []string

	templatesByID    map[string]*Template
	templateIDByLine map[string]string
	templateOrder    []string

	variantsByID     map[string]*Variant
	variantIDsByTmpl map[string][]string
	variantOrder     []string

	runs []RunRecord
}

func NewRegistry() *Registry {
	return &Registry{
		attrsByID:        make(map[string]*AttributeDefinition),
		attrIDByFold:     make(map[string]string),
		valsByID:         make(map[string]*AttributeValue),
		valIDByKey:       make(map[string]string),
		valIDsByAttr:     make(map[string][]string),
		templatesByID:    make(map[string]*Template),
		templateIDByLine: make(map[string]string),
		variantsByID:     make(map[string]*Variant),
		variantIDsByTmpl: make(map[string][]string),
	}
}

func (r *Registry) EnsureAttribute(input EnsureAttributeInput) (AttributeDefinition, bool, error) {
	name := strings.TrimSpace(input.Name)
	if name == "" {
		return AttributeDefinition{}, false, newError(CodeValidation, "attribute name is required")
	}

	r.mu.Lock()
	defer r.mu.Unlock()

	if id, ok := r.attrIDByFold[Fold(name)]; ok {
		def := r.attrsByID[id]
		if input.Kind != "" {
			if def.Kind == "" {
				def.Kind = input.Kind
			} else if def.Kind != input.Kind {
				return AttributeDefinition{}, false, newError(CodeConflict,
					"attribute %q holds %s values, requested as %s", def.Name, def.Kind, input.Kind)
			}
		}
		return *def, false, nil
	}

	// DisplayType stays empty unless the caller picked one; the export
	// layer infers it from the value population instead.
	def := &AttributeDefinition{
		ExternalID:    r.uniqueIDLocked("attr_"+SanitizeName(name), r.attrTakenLocked),
		Name:          name,
		DisplayType:   input.DisplayType,
		CreateVariant: input.CreateVariant,
		Kind:          input.Kind,
		New:           true,
	}
	r.insertAttributeLocked(def)
	return *def, true, nil
}

func (r *Registry) AttributeByName(name string) (AttributeDefinition, bool) {
	r.mu.Lock()
	defer r.mu.Unlock()
	id, ok := r.attrIDByFold[Fold(name)]
	if !ok {
		return AttributeDefinition{}, false
	}
	return *r.attrsByID[id], true
}

func (r *Registry) AttributeByID(id string) (AttributeDefinition, bool) {
	r.mu.Lock()
	defer r.mu.Unlock()
	def, ok := r.attrsByID[id]
	if !ok {
		return AttributeDefinition{}, false
	}
	return *def, true
}

func (r *Registry) Attributes() []AttributeDefinition {
	r.mu.Lock()
	defer r.mu.Unlock()
	out := make([]AttributeDefinition, 0, len(r.attrOrder))
	for _, id := range r.attrOrder {
		out = append(out, *r.attrsByID[id])
	}
	return out
}

func (r *Registry) EnsureValue(input EnsureValueInput) (AttributeValue, bool, error) {
	value := strings.TrimSpace(input.Value)
	if input.AttributeRef == "" {
		return AttributeValue{}, false, newError(CodeValidation, "attribute ref is required")
	}
	if value == "" {
		return AttributeValue{}, false, newError(CodeValidation, "value text is required")
	}

	r.mu.Lock()
	defer r.mu.Unlock()

	def, ok := r.attrsByID[input.AttributeRef]
	if !ok {
		return AttributeValue{}, false, newError(CodeNotFound, "attribute %q not found", input.AttributeRef)
	}
	if input.Kind != "" {
		if def.Kind == "" {
			def.Kind = input.Kind
		} else if def.Kind != input.Kind {
			return AttributeValue{}, false, newError(CodeConflict,
				"value %q is %s but attribute %q holds %s values", value, input.Kind, def.Name, def.Kind)
		}
	}
	if def.Kind == KindNumeric {
		if _, ok := ParseNumeric(value); !ok {
			return AttributeValue{}, false, newError(CodeConflict,
				"attribute %q holds numeric values, got %q", def.Name, value)
		}
	}

	key := r.valueKeyLocked(def, value)
	if id, ok := r.valIDByKey[key]; ok {
		return *r.valsByID[id], false, nil
	}

	v := &AttributeValue{
		ExternalID:      r.uniqueIDLocked("value_"+SanitizeName(def.Name)+"_"+SanitizeName(value), r.valueTakenLocked),
		AttributeRef:    def.ExternalID,
		NormalizedValue: value,
		New:             true,
	}
	r.insertValueLocked(v, key)
	return *v, true, nil
}

func (r *Registry) ValueByID(id string) (AttributeValue, bool) {
	r.mu.Lock()
	defer r.mu.Unlock()
	v, ok := r.valsByID[id]
	if !ok {
		return AttributeValue{}, false
	}
	return *v, true
}

func (r *Registry) ValuesForAttribute(attributeRef string) []AttributeValue {
	r.mu.Lock()
	defer r.mu.Unlock()
	ids := r.valIDsByAttr[attributeRef]
	out := make([]AttributeValue, 0, len(ids))
	for _, id := range ids {
		out = append(out, *r.valsByID[id])
	}
	return out
}

func (r *Registry) Values() []AttributeValue {
	r.mu.Lock()
	defer r.mu.Unlock()
	out := make([]AttributeValue, 0, len(r.valOrder))
	for _, id := range r.valOrder {
		out = append(out, *r.valsByID[id])
	}
	return out
}

func (r *Registry) UpsertTemplate(t Template) (Template, error) {
	if t.ExternalID == "" {
		return Template{}, newError(CodeValidation, "template external id is required")
	}
	if strings.TrimSpace(t.ProductLine) == "" {
		return Template{}, newError(CodeValidation, "template product line is required")
	}

	r.mu.Lock()
	defer r.mu.Unlock()

	existing, ok := r.templatesByID[t.ExternalID]
	if !ok {
		cp := cloneTemplate(&t)
		r.insertTemplateLocked(cp)
		return *cloneTemplate(cp), nil
	}

	// Templates grow, they never shrink: merge incoming lines and value
	// refs into what a prior run already recorded.
	for _, line := range t.AttributeLines {
		merged := false
		for i := range existing.AttributeLines {
			if existing.AttributeLines[i].AttributeRef != line.AttributeRef {
				continue
			}
			existing.AttributeLines[i].ValueRefs = appendMissing(existing.AttributeLines[i].ValueRefs, line.ValueRefs)
			merged = true
			break
		}
		if !merged {
			existing.AttributeLines = append(existing.AttributeLines, AttributeLine{
				AttributeRef: line.AttributeRef,
				ValueRefs:    append([]string(nil), line.ValueRefs...),
			})
		}
	}
	if existing.CategoryRef == "" {
		existing.CategoryRef = t.CategoryRef
	}
	if len(existing.AttributeLines) > 0 {
		existing.Simple = false
	}
	return *cloneTemplate(existing), nil
}

func (r *Registry) TemplateByLine(productLine string) (Template, bool) {
	r.mu.Lock()
	defer r.mu.Unlock()
	id, ok := r.templateIDByLine[Fold(productLine)]
	if !ok {
		return Template{}, false
	}
	return *cloneTemplate(r.templatesByID[id]), true
}

func (r *Registry) TemplateByID(id string) (Template, bool) {
	r.mu.Lock()
	defer r.mu.Unlock()
	t, ok := r.templatesByID[id]
	if !ok {
		return Template{}, false
	}
	return *cloneTemplate(t), true
}

func (r *Registry) Templates() []Template {
	r.mu.Lock()
	defer r.mu.Unlock()
	out := make([]Template, 0, len(r.templateOrder))
	for _, id := range r.templateOrder {
		out = append(out, *cloneTemplate(r.templatesByID[id]))
	}
	return out
}

func (r *Registry) UpsertVariant(v Variant) (Variant, error) {
	if v.ExternalID == "" {
		return Variant{}, newError(CodeValidation, "variant external id is required")
	}
	if v.TemplateRef == "" {
		return Variant{}, newError(CodeValidation, "variant template ref is required")
	}

	r.mu.Lock()
	defer r.mu.Unlock()

	existing, ok := r.variantsByID[v.ExternalID]
	if !ok {
		cp := cloneVariant(&v)
		r.insertVariantLocked(cp)
		return *cloneVariant(cp), nil
	}
	if v.SKU != "" {
		existing.SKU = v.SKU
	}
	if v.Price != 0 {
		existing.Price = v.Price
	}
	return *cloneVariant(existing), nil
}

func (r *Registry) VariantByID(id string) (Variant, bool) {
	r.mu.Lock()
	defer r.mu.Unlock()
	v, ok := r.variantsByID[id]
	if !ok {
		return Variant{}, false
	}
	return *cloneVariant(v), true
}

func (r *Registry) VariantsForTemplate(templateRef string) []Variant {
	r.mu.Lock()
	defer r.mu.Unlock()
	ids := r.variantIDsByTmpl[templateRef]
	out := make([]Variant, 0, len(ids))
	for _, id := range ids {
		out = append(out, *cloneVariant(r.variantsByID[id]))
	}
	return out
}

func (r *Registry) RecordRun(run RunRecord) error {
	if run.RunID == "" {
		return newError(CodeValidation, "run id is required")
	}
	r.mu.Lock()
	defer r.mu.Unlock()
	r.runs = append(r.runs, run)
	return nil
}

func (r *Registry) Runs(limit int) []RunRecord {
	r.mu.Lock()
	defer r.mu.Unlock()
	out := make([]RunRecord, 0, len(r.runs))
	for i := len(r.runs) - 1; i >= 0; i-- {
		out = append(out, r.runs[i])
		if limit > 0 && len(out) >= limit {
			break
		}
	}
	return out
}

func (r *Registry) LoadSnapshot(snap Snapshot) error {
	r.mu.Lock()
	defer r.mu.Unlock()

	// Snapshots carry no kind column; read it off each attribute's values
	// before inserting anything so numeric values key on their parsed
	// number from the start.
	valuesByRef := make(map[string][]string)
	for _, sv := range snap.Values {
		valuesByRef[sv.AttributeRef] = append(valuesByRef[sv.AttributeRef], sv.Value)
	}

	for _, a := range snap.Attributes {
		name := strings.TrimSpace(a.Name)
		if name == "" {
			return newError(CodeValidation, "snapshot attribute %q has no name", a.ExternalID)
		}
		if id, ok := r.attrIDByFold[Fold(name)]; ok {
			if def := r.attrsByID[id]; def.Kind == "" {
				def.Kind = inferKind(valuesByRef[a.ExternalID])
			}
			continue
		}
		def := &AttributeDefinition{
			ExternalID:    a.ExternalID,
			Name:          name,
			DisplayType:   a.DisplayType,
			CreateVariant: true,
			Kind:          inferKind(valuesByRef[a.ExternalID]),
		}
		if def.ExternalID == "" {
			def.ExternalID = r.uniqueIDLocked("attr_"+SanitizeName(name), r.attrTakenLocked)
		}
		if def.DisplayType == "" {
			def.DisplayType = DisplayRadio
		}
		if _, taken := r.attrsByID[def.ExternalID]; taken {
			return newError(CodeValidation, "snapshot attribute id %q appears twice", def.ExternalID)
		}
		r.insertAttributeLocked(def)
	}

	for _, sv := range snap.Values {
		def, ok := r.attrsByID[sv.AttributeRef]
		if !ok {
			// The ref may point at an attribute that deduped into an
			// earlier one under a different id.
			if id, folded := r.snapshotRefLocked(snap, sv.AttributeRef); folded {
				def = r.attrsByID[id]
			} else {
				return newError(CodeValidation, "snapshot value %q references unknown attribute %q", sv.ExternalID, sv.AttributeRef)
			}
		}
		value := strings.TrimSpace(sv.Value)
		if value == "" {
			return newError(CodeValidation, "snapshot value %q is empty", sv.ExternalID)
		}
		key := r.valueKeyLocked(def, value)
		if _, ok := r.valIDByKey[key]; ok {
			continue
		}
		v := &AttributeValue{
			ExternalID:      sv.ExternalID,
			AttributeRef:    def.ExternalID,
			NormalizedValue: value,
		}
		if v.ExternalID == "" {
			v.ExternalID = r.uniqueIDLocked("value_"+SanitizeName(def.Name)+"_"+SanitizeName(value), r.valueTakenLocked)
		}
		if _, taken := r.valsByID[v.ExternalID]; taken {
			return newError(CodeValidation, "snapshot value id %q appears twice", v.ExternalID)
		}
		r.insertValueLocked(v, key)
	}
	return nil
}

// snapshotRefLocked resolves a snapshot attribute id to the registry entry
// its name folded into.
func (r *Registry) snapshotRefLocked(snap Snapshot, ref string) (string, bool) {
	for _, a := range snap.Attributes {
		if a.ExternalID == ref {
			id, ok := r.attrIDByFold[Fold(a.Name)]
			return id, ok
		}
	}
	return "", false
}

func (r *Registry) ClearNewFlags() error {
	r.mu.Lock()
	defer r.mu.Unlock()
	for _, def := range r.attrsByID {
		def.New = false
	}
	for _, v := range r.valsByID {
		v.New = false
	}
	for _, t := range r.templatesByID {
		t.New = false
	}
	for _, v := range r.variantsByID {
		v.New = false
	}
	return nil
}

func (r *Registry) Stats() map[string]any {
	r.mu.Lock()
	defer r.mu.Unlock()

	newAttrs, newVals := 0, 0
	for _, id := range r.attrOrder {
		if r.attrsByID[id].New {
			newAttrs++
		}
	}
	for _, id := range r.valOrder {
		if r.valsByID[id].New {
			newVals++
		}
	}
	return map[string]any{
		"attributes":     len(r.attrOrder),
		"new_attributes": newAttrs,
		"values":         len(r.valOrder),
		"new_values":     newVals,
		"templates":      len(r.templateOrder),
		"variants":       len(r.variantOrder),
		"runs":           len(r.runs),
	}
}

func (r *Registry) insertAttributeLocked(def *AttributeDefinition) {
	r.attrsByID[def.ExternalID] = def
	r.attrIDByFold[Fold(def.Name)] = def.ExternalID
	r.attrOrder = append(r.attrOrder, def.ExternalID)
}

func (r *Registry) insertValueLocked(v *AttributeValue, key string) {
	r.valsByID[v.ExternalID] = v
	r.valIDByKey[key] = v.ExternalID
	r.valIDsByAttr[v.AttributeRef] = append(r.valIDsByAttr[v.AttributeRef], v.ExternalID)
	r.valOrder = append(r.valOrder, v.ExternalID)
}

func (r *Registry) insertTemplateLocked(t *Template) {
	r.templatesByID[t.ExternalID] = t
	r.templateIDByLine[Fold(t.ProductLine)] = t.ExternalID
	r.templateOrder = append(r.templateOrder, t.ExternalID)
}

func (r *Registry) insertVariantLocked(v *Variant) {
	r.variantsByID[v.ExternalID] = v
	r.variantIDsByTmpl[v.TemplateRef] = append(r.variantIDsByTmpl[v.TemplateRef], v.ExternalID)
	r.variantOrder = append(r.variantOrder, v.ExternalID)
}

// valueKeyLocked builds the dedupe key for a value. Numeric attributes key
// on the parsed number so "3", "03" and "3.0" resolve to one entry;
// everything else keys on the folded text.
func (r *Registry) valueKeyLocked(def *AttributeDefinition, value string) string {
	if def.Kind == KindNumeric {
		if f, ok := ParseNumeric(value); ok {
			return def.ExternalID + keySep + "#" + strconv.FormatFloat(f, 'f', -1, 64)
		}
	}
	return def.ExternalID + keySep + Fold(value)
}

func (r *Registry) attrTakenLocked(id string) bool {
	_, ok := r.attrsByID[id]
	return ok
}

func (r *Registry) valueTakenLocked(id string) bool {
	_, ok := r.valsByID[id]
	return ok
}

// uniqueIDLocked suffixes the sanitized base until it is free. Distinct
// names rarely sanitize to the same base, but ids must never collide.
func (r *Registry) uniqueIDLocked(base string, taken func(string) bool) string {
	if !taken(base) {
		return base
	}
	for i := 2; ; i++ {
		id := base + "_" + strconv.Itoa(i)
		if !taken(id) {
			return id
		}
	}
}

func appendMissing(dst, src []string) []string {
	for _, s := range src {
		found := false
		for _, d := range dst {
			if d == s {
				found = true
				break
			}
		}
		if !found {
			dst = append(dst, s)
		}
	}
	return dst
}

func cloneTemplate(t *Template) *Template {
	cp := *t
	cp.AttributeLines = make([]AttributeLine, len(t.AttributeLines))
	for i, line := range t.AttributeLines {
		cp.AttributeLines[i] = AttributeLine{
			AttributeRef: line.AttributeRef,
			ValueRefs:    append([]string(nil), line.ValueRefs...),
		}
	}
	return &cp
}

func cloneVariant(v *Variant) *Variant {
	cp := *v
	cp.ValueRefs = append([]string(nil), v.ValueRefs...)
	return &cp
}

var _ API = (*Registry)(nil)
