package catalogio

import (
	"encoding/csv"
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"sort"
	"strconv"
	"strings"

	"github.com/xuri/excelize/v2"

	"github.com/joelkehle/catalog-resolver/internal/namematch"
	"github.com/joelkehle/catalog-resolver/internal/taxonomy"
)

// ExportPaths lists the import artifacts one run writes.
type ExportPaths struct {
	ExistingValues  string
	NewAttributes   string
	Templates       string
	TemplateUpdates string
	Variants        string
	NeedsReview     string
	ReviewWorkbook  string
}

// WriteImportFiles writes every import artifact for a finished run and then
// clears the registry's new flags. Entities minted this run count as known
// only once they are safely on disk; a crash before that keeps them tagged
// new so the next export picks them up again.
func WriteImportFiles(dir string, reg taxonomy.API, result namematch.PipelineResult) (ExportPaths, error) {
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return ExportPaths{}, fmt.Errorf("creating export dir: %w", err)
	}
	paths := ExportPaths{
		ExistingValues:  filepath.Join(dir, "existing_attribute_values.csv"),
		NewAttributes:   filepath.Join(dir, "new_attributes.csv"),
		Templates:       filepath.Join(dir, "templates.csv"),
		TemplateUpdates: filepath.Join(dir, "template_updates.csv"),
		Variants:        filepath.Join(dir, "variants.csv"),
		NeedsReview:     filepath.Join(dir, "needs_review.csv"),
		ReviewWorkbook:  filepath.Join(dir, "review.xlsx"),
	}
	if err := writeExistingValues(paths.ExistingValues, reg); err != nil {
		return paths, err
	}
	if err := writeNewAttributes(paths.NewAttributes, reg); err != nil {
		return paths, err
	}
	if err := writeTemplates(paths.Templates, paths.TemplateUpdates, result.Templates); err != nil {
		return paths, err
	}
	if err := writeVariants(paths.Variants, result.Variants); err != nil {
		return paths, err
	}
	if err := writeNeedsReview(paths.NeedsReview, result.Flags); err != nil {
		return paths, err
	}
	if err := writeReviewWorkbook(paths.ReviewWorkbook, result.Flags); err != nil {
		return paths, err
	}
	if err := reg.ClearNewFlags(); err != nil {
		return paths, fmt.Errorf("clearing new flags: %w", err)
	}
	return paths, nil
}

// WriteRunArtifacts persists the run summary next to the import files: the
// markdown report and the JSON envelope the report can be rebuilt from.
func WriteRunArtifacts(dir string, env namematch.RunEnvelope, markdown string) (string, string, error) {
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return "", "", fmt.Errorf("creating export dir: %w", err)
	}
	reportPath := filepath.Join(dir, "run_report.md")
	envelopePath := filepath.Join(dir, "run_envelope.json")
	if err := os.WriteFile(reportPath, []byte(markdown), 0o644); err != nil {
		return "", "", fmt.Errorf("writing run report: %w", err)
	}
	data, err := json.MarshalIndent(env, "", "  ")
	if err != nil {
		return "", "", fmt.Errorf("encoding run envelope: %w", err)
	}
	if err := os.WriteFile(envelopePath, data, 0o644); err != nil {
		return "", "", fmt.Errorf("writing run envelope: %w", err)
	}
	return reportPath, envelopePath, nil
}

// writeExistingValues emits new values minted under attributes the taxonomy
// already knew. These rows are additive-safe: they reference the attribute
// by id and create nothing but the value.
func writeExistingValues(path string, reg taxonomy.API) error {
	var rows [][]string
	for _, v := range reg.Values() {
		if !v.New {
			continue
		}
		def, ok := reg.AttributeByID(v.AttributeRef)
		if !ok || def.New {
			continue
		}
		rows = append(rows, []string{v.ExternalID, def.Name, v.NormalizedValue})
	}
	sort.Slice(rows, func(i, j int) bool { return rows[i][0] < rows[j][0] })
	return writeCSV(path, []string{"id", "name", "value"}, rows)
}

// writeNewAttributes emits attributes minted this run together with their
// values. The first value row carries the attribute fields; continuation
// rows carry only the value, the layout import tooling expects.
func writeNewAttributes(path string, reg taxonomy.API) error {
	attrs := reg.Attributes()
	sort.Slice(attrs, func(i, j int) bool { return attrs[i].ExternalID < attrs[j].ExternalID })

	var rows [][]string
	for _, def := range attrs {
		if !def.New {
			continue
		}
		values := reg.ValuesForAttribute(def.ExternalID)
		sort.Slice(values, func(i, j int) bool { return values[i].ExternalID < values[j].ExternalID })

		display := def.DisplayType
		if display == "" {
			display = inferDisplayType(values)
		}
		createVariant := "no"
		if def.CreateVariant {
			createVariant = "instantly"
		}
		if len(values) == 0 {
			rows = append(rows, []string{"", def.Name, string(display), createVariant})
			continue
		}
		for i, v := range values {
			if i == 0 {
				rows = append(rows, []string{v.NormalizedValue, def.Name, string(display), createVariant})
				continue
			}
			rows = append(rows, []string{v.NormalizedValue, "", "", ""})
		}
	}
	return writeCSV(path, []string{"value", "attribute", "display_type", "create_variant"}, rows)
}

// inferDisplayType picks how a new attribute should render. Mostly numeric
// values and small sets read best as radios; large categorical sets become
// a select.
func inferDisplayType(values []taxonomy.AttributeValue) taxonomy.DisplayType {
	if len(values) == 0 {
		return taxonomy.DisplayRadio
	}
	numeric := 0
	for _, v := range values {
		if _, ok := taxonomy.ParseNumeric(v.NormalizedValue); ok {
			numeric++
		}
	}
	if float64(numeric) >= 0.8*float64(len(values)) {
		return taxonomy.DisplayRadio
	}
	if len(values) > 10 {
		return taxonomy.DisplaySelect
	}
	return taxonomy.DisplayRadio
}

func writeTemplates(newPath, updatesPath string, templates []taxonomy.Template) error {
	var created [][]string
	var updated [][]string
	for _, t := range templates {
		if t.New {
			created = append(created, templateRows(t)...)
			continue
		}
		for _, line := range t.AttributeLines {
			updated = append(updated, []string{t.ExternalID, line.AttributeRef, strings.Join(line.ValueRefs, ",")})
		}
	}
	header := []string{"template_external_id", "name", "category_ref", "type", "attribute_ref", "value_external_ids"}
	if err := writeCSV(newPath, header, created); err != nil {
		return err
	}
	return writeCSV(updatesPath, []string{"template_external_id", "attribute_ref", "value_external_ids"}, updated)
}

// templateRows lays one template out over multiple rows: the first row
// carries the template fields, continuation rows only the remaining
// attribute lines. Simple templates are a single bare row.
func templateRows(t taxonomy.Template) [][]string {
	if len(t.AttributeLines) == 0 {
		return [][]string{{t.ExternalID, t.ProductLine, t.CategoryRef, "consu", "", ""}}
	}
	rows := make([][]string, 0, len(t.AttributeLines))
	for i, line := range t.AttributeLines {
		values := strings.Join(line.ValueRefs, ",")
		if i == 0 {
			rows = append(rows, []string{t.ExternalID, t.ProductLine, t.CategoryRef, "consu", line.AttributeRef, values})
			continue
		}
		rows = append(rows, []string{"", "", "", "", line.AttributeRef, values})
	}
	return rows
}

func writeVariants(path string, variants []taxonomy.Variant) error {
	rows := make([][]string, 0, len(variants))
	for _, v := range variants {
		rows = append(rows, []string{
			v.ExternalID,
			v.TemplateRef,
			strings.Join(v.ValueRefs, ","),
			v.SKU,
			strconv.FormatFloat(v.Price, 'f', 2, 64),
		})
	}
	header := []string{"variant_external_id", "template_external_id", "value_external_ids", "sku", "price"}
	return writeCSV(path, header, rows)
}

func writeNeedsReview(path string, flags []namematch.Flag) error {
	rows := make([][]string, 0, len(flags))
	for _, f := range flags {
		rows = append(rows, []string{
			strconv.Itoa(f.Index),
			f.SKU,
			f.Name,
			reviewReason(f),
			f.Detail,
		})
	}
	return writeCSV(path, []string{"row", "sku", "name", "reason", "detail"}, rows)
}

// reviewReason folds a flag into the machine-readable reason codes the
// review artifacts use.
func reviewReason(f namematch.Flag) string {
	switch f.Kind {
	case namematch.FlagMalformedInput:
		return "malformed_input"
	case namematch.FlagTaxonomyConflict:
		return "taxonomy_conflict"
	case namematch.FlagAmbiguousVariantMatch:
		return "ambiguous_variant"
	case namematch.FlagUnresolvedText:
		// Records the oracle never saw carry no attribute reading at all.
		if strings.Contains(f.Detail, "no oracle configured") || strings.Contains(f.Detail, "budget exhausted") {
			return "no_attribute_match"
		}
		return "oracle_unresolved"
	default:
		return string(f.Kind)
	}
}

func writeReviewWorkbook(path string, flags []namematch.Flag) error {
	f := excelize.NewFile()
	defer f.Close()

	const sheet = "Needs Review"
	index, err := f.NewSheet(sheet)
	if err != nil {
		return fmt.Errorf("creating review sheet: %w", err)
	}
	headerStyle, err := f.NewStyle(&excelize.Style{
		Font: &excelize.Font{Bold: true},
		Fill: excelize.Fill{Type: "pattern", Color: []string{"#D9E1F2"}, Pattern: 1},
	})
	if err != nil {
		return fmt.Errorf("creating header style: %w", err)
	}
	headers := []string{"Row", "SKU", "Name", "Reason", "Detail"}
	for i, h := range headers {
		cellName, _ := excelize.CoordinatesToCellName(i+1, 1)
		f.SetCellValue(sheet, cellName, h)
		f.SetCellStyle(sheet, cellName, cellName, headerStyle)
	}
	for rowIdx, fl := range flags {
		row := rowIdx + 2
		f.SetCellValue(sheet, fmt.Sprintf("A%d", row), fl.Index)
		f.SetCellValue(sheet, fmt.Sprintf("B%d", row), fl.SKU)
		f.SetCellValue(sheet, fmt.Sprintf("C%d", row), fl.Name)
		f.SetCellValue(sheet, fmt.Sprintf("D%d", row), reviewReason(fl))
		f.SetCellValue(sheet, fmt.Sprintf("E%d", row), fl.Detail)
	}
	f.SetActiveSheet(index)
	if err := f.SaveAs(path); err != nil {
		return fmt.Errorf("saving review workbook: %w", err)
	}
	return nil
}

func writeCSV(path string, header []string, rows [][]string) error {
	f, err := os.Create(path)
	if err != nil {
		return fmt.Errorf("creating %s: %w", filepath.Base(path), err)
	}
	defer f.Close()

	w := csv.NewWriter(f)
	if err := w.Write(header); err != nil {
		return fmt.Errorf("writing %s: %w", filepath.Base(path), err)
	}
	for _, row := range rows {
		if err := w.Write(row); err != nil {
			return fmt.Errorf("writing %s: %w", filepath.Base(path), err)
		}
	}
	w.Flush()
	if err := w.Error(); err != nil {
		return fmt.Errorf("writing %s: %w", filepath.Base(path), err)
	}
	return nil
}
