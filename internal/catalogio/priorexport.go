package catalogio

import (
	"encoding/csv"
	"fmt"
	"os"
	"path/filepath"
	"strconv"
	"strings"

	"github.com/joelkehle/catalog-resolver/internal/taxonomy"
)

// PriorCounts reports what a prior-export reload restored.
type PriorCounts struct {
	Templates int
	Variants  int
}

// LoadPriorExport restores templates and variants from a previous run's
// import artifacts, so the matcher has a catalog to match against even when
// no persistent registry store is configured. Missing files are skipped;
// restored entities are not new.
func LoadPriorExport(dir string, reg taxonomy.API) (PriorCounts, error) {
	var counts PriorCounts

	templatesPath := filepath.Join(dir, "templates.csv")
	if fileExists(templatesPath) {
		n, err := LoadTemplateExport(templatesPath, reg)
		if err != nil {
			return counts, err
		}
		counts.Templates = n
	}
	variantsPath := filepath.Join(dir, "variants.csv")
	if fileExists(variantsPath) {
		n, err := LoadVariantExport(variantsPath, reg)
		if err != nil {
			return counts, err
		}
		counts.Variants = n
	}
	return counts, nil
}

// ReadAttributeExport parses a destination-system attribute export into a
// taxonomy snapshot. The export lists one attribute per block: the first
// row carries the attribute id and name, continuation rows carry only
// values.
func ReadAttributeExport(path string) (taxonomy.Snapshot, error) {
	rows, err := readRows(path)
	if err != nil {
		return taxonomy.Snapshot{}, err
	}
	if len(rows) < 2 {
		return taxonomy.Snapshot{}, fmt.Errorf("attribute export %s has no data rows", path)
	}
	idx := headerIndex(rows[0])
	for _, col := range []string{"id", "name", "value_ids/id", "value_ids/name"} {
		if _, ok := idx[col]; !ok {
			return taxonomy.Snapshot{}, fmt.Errorf("attribute export %s is missing column %q", path, col)
		}
	}

	var snap taxonomy.Snapshot
	currentAttr := ""
	for _, row := range rows[1:] {
		id := cell(row, idx["id"])
		name := cell(row, idx["name"])
		if id != "" && name != "" {
			currentAttr = id
			attr := taxonomy.SnapshotAttribute{ExternalID: id, Name: name}
			if di, ok := idx["display_type"]; ok {
				attr.DisplayType = taxonomy.DisplayType(cell(row, di))
			}
			snap.Attributes = append(snap.Attributes, attr)
		}
		valueID := cell(row, idx["value_ids/id"])
		valueName := cell(row, idx["value_ids/name"])
		if currentAttr == "" || valueID == "" || valueName == "" {
			continue
		}
		snap.Values = append(snap.Values, taxonomy.SnapshotValue{
			ExternalID:   valueID,
			AttributeRef: currentAttr,
			Value:        valueName,
		})
	}
	return snap, nil
}

// LoadTemplateExport restores templates from a templates.csv written by an
// earlier run. Rows with an id start a template; continuation rows add its
// remaining attribute lines.
func LoadTemplateExport(path string, reg taxonomy.API) (int, error) {
	rows, err := readRows(path)
	if err != nil {
		return 0, err
	}
	if len(rows) == 0 {
		return 0, nil
	}
	idx := headerIndex(rows[0])
	for _, col := range []string{"template_external_id", "name", "category_ref", "attribute_ref", "value_external_ids"} {
		if _, ok := idx[col]; !ok {
			return 0, fmt.Errorf("template export %s is missing column %q", path, col)
		}
	}

	var current *taxonomy.Template
	count := 0
	flush := func() error {
		if current == nil {
			return nil
		}
		current.Simple = len(current.AttributeLines) == 0
		if _, err := reg.UpsertTemplate(*current); err != nil {
			return fmt.Errorf("restoring template %s: %w", current.ExternalID, err)
		}
		count++
		current = nil
		return nil
	}
	for _, row := range rows[1:] {
		if id := cell(row, idx["template_external_id"]); id != "" {
			if err := flush(); err != nil {
				return count, err
			}
			current = &taxonomy.Template{
				ExternalID:  id,
				ProductLine: cell(row, idx["name"]),
				CategoryRef: cell(row, idx["category_ref"]),
			}
		}
		if current == nil {
			continue
		}
		attrRef := cell(row, idx["attribute_ref"])
		if attrRef == "" {
			continue
		}
		current.AttributeLines = append(current.AttributeLines, taxonomy.AttributeLine{
			AttributeRef: attrRef,
			ValueRefs:    splitRefs(cell(row, idx["value_external_ids"])),
		})
	}
	if err := flush(); err != nil {
		return count, err
	}
	return count, nil
}

// LoadVariantExport restores variants from a variants.csv written by an
// earlier run.
func LoadVariantExport(path string, reg taxonomy.API) (int, error) {
	rows, err := readRows(path)
	if err != nil {
		return 0, err
	}
	if len(rows) == 0 {
		return 0, nil
	}
	idx := headerIndex(rows[0])
	for _, col := range []string{"variant_external_id", "template_external_id", "value_external_ids", "sku", "price"} {
		if _, ok := idx[col]; !ok {
			return 0, fmt.Errorf("variant export %s is missing column %q", path, col)
		}
	}

	count := 0
	for _, row := range rows[1:] {
		id := cell(row, idx["variant_external_id"])
		if id == "" {
			continue
		}
		price, _ := strconv.ParseFloat(cell(row, idx["price"]), 64)
		v := taxonomy.Variant{
			ExternalID:  id,
			TemplateRef: cell(row, idx["template_external_id"]),
			ValueRefs:   splitRefs(cell(row, idx["value_external_ids"])),
			SKU:         cell(row, idx["sku"]),
			Price:       price,
		}
		if _, err := reg.UpsertVariant(v); err != nil {
			return count, fmt.Errorf("restoring variant %s: %w", id, err)
		}
		count++
	}
	return count, nil
}

func readRows(path string) ([][]string, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, fmt.Errorf("opening %s: %w", path, err)
	}
	defer f.Close()

	r := csv.NewReader(f)
	r.FieldsPerRecord = -1
	rows, err := r.ReadAll()
	if err != nil {
		return nil, fmt.Errorf("reading %s: %w", path, err)
	}
	return rows, nil
}

func headerIndex(headers []string) map[string]int {
	idx := make(map[string]int, len(headers))
	for i, h := range headers {
		idx[strings.ToLower(strings.TrimSpace(h))] = i
	}
	return idx
}

func splitRefs(s string) []string {
	if strings.TrimSpace(s) == "" {
		return nil
	}
	parts := strings.Split(s, ",")
	out := make([]string, 0, len(parts))
	for _, p := range parts {
		if trimmed := strings.TrimSpace(p); trimmed != "" {
			out = append(out, trimmed)
		}
	}
	return out
}

func fileExists(path string) bool {
	info, err := os.Stat(path)
	return err == nil && !info.IsDir()
}
