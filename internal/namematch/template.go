package namematch

import (
	"fmt"
	"sort"
	"strings"

	"github.com/joelkehle/catalog-resolver/internal/taxonomy"
)

// TemplateGroup is one product line after template construction: the stored
// template plus every member record projected onto the template's
// variant-generating attributes.
type TemplateGroup struct {
	Template taxonomy.Template
	Members  []GroupMember
}

type GroupMember struct {
	Record    NormalizedRecord
	ValueRefs []string
}

// BuildTemplates groups records by product line and constructs or extends
// one template per group. Unresolved records never enter a group; they only
// appear in the review output.
func BuildTemplates(records []NormalizedRecord, reg taxonomy.API, progress StageProgressFn) ([]TemplateGroup, []Flag) {
	type group struct {
		line    string
		members []NormalizedRecord
	}
	var groups []*group
	byLine := map[string]*group{}
	for _, r := range records {
		if r.Resolution == ResolutionUnresolved {
			continue
		}
		if strings.TrimSpace(r.ProductLine) == "" {
			continue
		}
		k := taxonomy.Fold(r.ProductLine)
		g, ok := byLine[k]
		if !ok {
			g = &group{line: r.ProductLine}
			byLine[k] = g
			groups = append(groups, g)
		}
		g.members = append(g.members, r)
	}

	var out []TemplateGroup
	var flags []Flag
	for _, g := range groups {
		tg, gf := buildGroup(g.line, g.members, reg)
		out = append(out, tg)
		flags = append(flags, gf...)
	}
	emit(progress, "templates", fmt.Sprintf("built %d templates from %d groups", len(out), len(groups)))
	return out, flags
}

func buildGroup(line string, members []NormalizedRecord, reg taxonomy.API) (TemplateGroup, []Flag) {
	var flags []Flag
	existing, hasExisting := reg.TemplateByLine(line)

	// A persisted variant-type line is part of the schema; its values
	// come from descriptors, so they must be injected before selection.
	if hasExisting && templateHasVariantType(existing, reg) {
		injectVariantType(members, reg)
	}

	selected := selectVariantKeys(members, existing, hasExisting, reg)

	// Members whose projections collide under a different SKU cannot share
	// a variant. If a line slot is free and the colliding units carry
	// hardware descriptors, fold those into a variant-type value instead
	// of flagging.
	if hasCollision(members, selected) && !keyIn(selected, KeyVariantType) &&
		mergedLineCount(existing, hasExisting, selected, reg) < MaxAttributeLines &&
		anyDescriptors(members) {
		if injectVariantType(members, reg) {
			selected = append(selected, KeyVariantType)
		}
	}

	distinct := map[string]bool{}
	for _, m := range members {
		for _, v := range m.Values {
			if keyIn(selected, v.Key) {
				distinct[v.ValueRef] = true
			}
		}
	}
	simple := len(distinct) <= 1
	if hasExisting && len(existing.AttributeLines) > 0 {
		// A template that already generates variants never degrades to a
		// simple product just because one run's records are sparse.
		simple = false
	}

	tmpl := taxonomy.Template{
		ExternalID:  "template_" + taxonomy.SanitizeName(line),
		ProductLine: line,
		CategoryRef: CategorizeLine(line, members),
		Simple:      simple,
		New:         !hasExisting,
	}
	if hasExisting {
		tmpl.ExternalID = existing.ExternalID
		tmpl.Simple = existing.Simple && simple
	}
	if !simple {
		tmpl.AttributeLines = buildAttributeLines(members, selected)
	}
	stored, err := reg.UpsertTemplate(tmpl)
	if err != nil {
		flags = append(flags, Flag{
			Kind:   FlagTaxonomyConflict,
			Index:  members[0].Index,
			Name:   line,
			Detail: fmt.Sprintf("template rejected: %v", err),
		})
		stored = tmpl
	}

	tg := TemplateGroup{Template: stored}
	claimed := map[string]string{} // projection -> sku that owns it
	for _, m := range members {
		refs := projectMember(m, selected)
		if stored.Simple {
			tg.Members = append(tg.Members, GroupMember{Record: m, ValueRefs: nil})
			continue
		}
		key := strings.Join(refs, ",")
		if owner, ok := claimed[key]; ok && owner != m.SourceSKU {
			flags = append(flags, Flag{
				Kind:   FlagAmbiguousVariantMatch,
				Index:  m.Index,
				Name:   line,
				SKU:    m.SourceSKU,
				Detail: fmt.Sprintf("projection already claimed by sku %s; records are indistinguishable under this template", owner),
			})
			continue
		}
		claimed[key] = m.SourceSKU
		tg.Members = append(tg.Members, GroupMember{Record: m, ValueRefs: refs})
	}
	return tg, flags
}

// selectVariantKeys picks the attribute keys for a group. Keys already on a
// persisted template win first so the schema stays stable across runs; the
// template's stored lines survive the merge whether or not this batch
// mentions them, so new keys may only fill the slots those lines leave free.
func selectVariantKeys(members []NormalizedRecord, existing taxonomy.Template, hasExisting bool, reg taxonomy.API) []string {
	firstSeen := map[string]int{}
	order := 0
	for _, m := range members {
		for _, v := range m.Values {
			if _, ok := firstSeen[v.Key]; !ok {
				firstSeen[v.Key] = order
				order++
			}
		}
	}

	var selected []string
	slots := MaxAttributeLines
	if hasExisting {
		slots -= len(existing.AttributeLines)
		if slots < 0 {
			slots = 0
		}
		for _, al := range existing.AttributeLines {
			def, ok := reg.AttributeByID(al.AttributeRef)
			if !ok {
				continue
			}
			k := resolveKey(def.Name).key
			if _, present := firstSeen[k]; present && !keyIn(selected, k) {
				selected = append(selected, k)
			}
		}
	}

	type cand struct {
		key   string
		rank  int
		first int
	}
	var cands []cand
	for k, first := range firstSeen {
		if !keyIn(selected, k) {
			cands = append(cands, cand{k, keyRank(k), first})
		}
	}
	sort.Slice(cands, func(i, j int) bool {
		if cands[i].rank != cands[j].rank {
			return cands[i].rank < cands[j].rank
		}
		return cands[i].first < cands[j].first
	})
	for _, c := range cands {
		if slots == 0 {
			break
		}
		selected = append(selected, c.key)
		slots--
	}
	return selected
}

// mergedLineCount is the number of attribute lines the template will carry
// after this group's lines merge into the persisted ones.
func mergedLineCount(existing taxonomy.Template, hasExisting bool, selected []string, reg taxonomy.API) int {
	if !hasExisting {
		return len(selected)
	}
	count := len(existing.AttributeLines)
	kept := map[string]bool{}
	for _, al := range existing.AttributeLines {
		if def, ok := reg.AttributeByID(al.AttributeRef); ok {
			kept[resolveKey(def.Name).key] = true
		}
	}
	for _, k := range selected {
		if !kept[k] {
			count++
		}
	}
	return count
}

func templateHasVariantType(existing taxonomy.Template, reg taxonomy.API) bool {
	for _, al := range existing.AttributeLines {
		def, ok := reg.AttributeByID(al.AttributeRef)
		if ok && resolveKey(def.Name).key == KeyVariantType {
			return true
		}
	}
	return false
}

func buildAttributeLines(members []NormalizedRecord, selected []string) []taxonomy.AttributeLine {
	var lines []taxonomy.AttributeLine
	for _, key := range selected {
		var attrRef string
		var refs []string
		seen := map[string]bool{}
		for _, m := range members {
			for _, v := range m.Values {
				if v.Key != key {
					continue
				}
				attrRef = v.AttributeRef
				if !seen[v.ValueRef] {
					seen[v.ValueRef] = true
					refs = append(refs, v.ValueRef)
				}
			}
		}
		if attrRef == "" {
			continue
		}
		lines = append(lines, taxonomy.AttributeLine{AttributeRef: attrRef, ValueRefs: refs})
	}
	return lines
}

func projectMember(m NormalizedRecord, selected []string) []string {
	var refs []string
	for _, v := range m.Values {
		if keyIn(selected, v.Key) {
			refs = append(refs, v.ValueRef)
		}
	}
	sort.Strings(refs)
	return refs
}

func hasCollision(members []NormalizedRecord, selected []string) bool {
	if len(members) < 2 {
		return false
	}
	owners := map[string]string{}
	for _, m := range members {
		key := strings.Join(projectMember(m, selected), ",")
		if owner, ok := owners[key]; ok && owner != m.SourceSKU {
			return true
		}
		owners[key] = m.SourceSKU
	}
	return false
}

func anyDescriptors(members []NormalizedRecord) bool {
	for _, m := range members {
		if len(m.Descriptors) > 0 {
			return true
		}
	}
	return false
}

// injectVariantType gives every member a value under the shared Variant
// Type attribute, built from its consumed hardware descriptors with the SKU
// suffix as fallback. Reports whether any member actually received one.
func injectVariantType(members []NormalizedRecord, reg taxonomy.API) bool {
	def, _, err := reg.EnsureAttribute(taxonomy.EnsureAttributeInput{
		Name:          "Variant Type",
		Kind:          taxonomy.KindCategorical,
		CreateVariant: true,
	})
	if err != nil {
		return false
	}
	injected := false
	for i := range members {
		text := variantTypeText(members[i])
		if text == "" {
			continue
		}
		val, _, err := reg.EnsureValue(taxonomy.EnsureValueInput{
			AttributeRef: def.ExternalID,
			Value:        text,
			Kind:         taxonomy.KindCategorical,
		})
		if err != nil {
			continue
		}
		members[i].Values = append(members[i].Values, NormalizedValueRef{
			Key:          KeyVariantType,
			AttributeRef: def.ExternalID,
			ValueRef:     val.ExternalID,
			Value:        val.NormalizedValue,
		})
		injected = true
	}
	return injected
}

func variantTypeText(m NormalizedRecord) string {
	if len(m.Descriptors) > 0 {
		return strings.Join(m.Descriptors, " ")
	}
	sku := strings.TrimSpace(m.SourceSKU)
	if i := strings.LastIndex(sku, "-"); i >= 0 && i+1 < len(sku) {
		return sku[i+1:]
	}
	return sku
}

func keyIn(keys []string, key string) bool {
	for _, k := range keys {
		if k == key {
			return true
		}
	}
	return false
}
