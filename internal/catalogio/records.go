package catalogio

import (
	"encoding/csv"
	"fmt"
	"os"
	"path/filepath"
	"strconv"
	"strings"

	"github.com/xuri/excelize/v2"

	"github.com/joelkehle/catalog-resolver/internal/namematch"
)

// columnSynonyms maps each standard input field to the header spellings
// vendor catalogs actually use. Matching is case-insensitive on a contains
// basis, so "Internal Reference " and "SKU / Item Code" both land on sku.
var columnSynonyms = []struct {
	field     string
	spellings []string
}{
	{"sku", []string{"internal reference", "sku", "item code", "product code", "reference"}},
	{"name", []string{"product name", "name", "title", "product title", "description"}},
	{"qty", []string{"on hand", "qty", "quantity", "stock", "inventory"}},
	{"price", []string{"sales price", "price", "unit price", "cost", "sale price"}},
	{"category", []string{"odoo category", "category", "product category", "type"}},
}

// RecordFile is one parsed vendor catalog: the usable records, the rows
// skipped as malformed, and non-blocking warnings such as duplicate SKUs.
// Record and flag indexes are zero-based data-row numbers, so a flag for
// index 3 points at the fourth row under the header.
type RecordFile struct {
	Records  []namematch.RawRecord
	Flags    []namematch.Flag
	Warnings []string
	Columns  map[string]string
}

// ReadRecords loads a vendor catalog, dispatching on the file extension.
func ReadRecords(path string) (RecordFile, error) {
	switch strings.ToLower(filepath.Ext(path)) {
	case ".csv":
		return readCSV(path)
	case ".xlsx":
		return readXLSX(path)
	default:
		return RecordFile{}, fmt.Errorf("unsupported catalog format %q, want .csv or .xlsx", filepath.Ext(path))
	}
}

func readCSV(path string) (RecordFile, error) {
	f, err := os.Open(path)
	if err != nil {
		return RecordFile{}, fmt.Errorf("opening catalog: %w", err)
	}
	defer f.Close()

	r := csv.NewReader(f)
	r.FieldsPerRecord = -1
	rows, err := r.ReadAll()
	if err != nil {
		return RecordFile{}, fmt.Errorf("reading catalog %s: %w", path, err)
	}
	return buildRecords(rows)
}

func readXLSX(path string) (RecordFile, error) {
	f, err := excelize.OpenFile(path)
	if err != nil {
		return RecordFile{}, fmt.Errorf("opening catalog: %w", err)
	}
	defer f.Close()

	sheet := f.GetSheetName(0)
	if sheet == "" {
		return RecordFile{}, fmt.Errorf("catalog %s has no sheets", path)
	}
	rows, err := f.GetRows(sheet)
	if err != nil {
		return RecordFile{}, fmt.Errorf("reading catalog %s: %w", path, err)
	}
	return buildRecords(rows)
}

func buildRecords(rows [][]string) (RecordFile, error) {
	if len(rows) == 0 {
		return RecordFile{}, fmt.Errorf("catalog is empty")
	}
	cols, mapped := mapColumns(rows[0])
	if _, ok := cols["name"]; !ok {
		return RecordFile{}, fmt.Errorf("no product name column among %v", rows[0])
	}
	if _, ok := cols["sku"]; !ok {
		return RecordFile{}, fmt.Errorf("no sku column among %v", rows[0])
	}

	out := RecordFile{Columns: mapped}
	seenSKU := map[string]int{}
	for i, row := range rows[1:] {
		if emptyRow(row) {
			continue
		}
		name := cell(row, cols["name"])
		sku := cell(row, cols["sku"])
		if name == "" || sku == "" {
			out.Flags = append(out.Flags, malformed(i, name, sku, "missing product name or sku"))
			continue
		}
		qty, err := numericCell(row, cols, "qty")
		if err != nil {
			out.Flags = append(out.Flags, malformed(i, name, sku, fmt.Sprintf("qty: %v", err)))
			continue
		}
		price, err := numericCell(row, cols, "price")
		if err != nil {
			out.Flags = append(out.Flags, malformed(i, name, sku, fmt.Sprintf("price: %v", err)))
			continue
		}
		if prev, dup := seenSKU[sku]; dup {
			out.Warnings = append(out.Warnings, fmt.Sprintf("sku %s appears on rows %d and %d, keeping both", sku, prev, i))
		} else {
			seenSKU[sku] = i
		}
		out.Records = append(out.Records, namematch.RawRecord{
			Index:        i,
			OriginalName: name,
			SourceSKU:    sku,
			Quantity:     qty,
			Price:        price,
		})
	}
	return out, nil
}

func malformed(index int, name, sku, detail string) namematch.Flag {
	return namematch.Flag{
		Kind:   namematch.FlagMalformedInput,
		Index:  index,
		Name:   name,
		SKU:    sku,
		Detail: detail,
	}
}

// mapColumns claims one source column per standard field, scanning headers
// left to right. The first header containing a known spelling wins; later
// columns never steal an already-claimed field.
func mapColumns(headers []string) (map[string]int, map[string]string) {
	cols := map[string]int{}
	mapped := map[string]string{}
	for i, h := range headers {
		folded := strings.ToLower(strings.TrimSpace(h))
		if folded == "" {
			continue
		}
		for _, syn := range columnSynonyms {
			if _, claimed := cols[syn.field]; claimed {
				continue
			}
			if containsAny(folded, syn.spellings) {
				cols[syn.field] = i
				mapped[syn.field] = strings.TrimSpace(h)
				break
			}
		}
	}
	return cols, mapped
}

func containsAny(s string, subs []string) bool {
	for _, sub := range subs {
		if strings.Contains(s, sub) {
			return true
		}
	}
	return false
}

func cell(row []string, idx int) string {
	if idx < 0 || idx >= len(row) {
		return ""
	}
	return strings.TrimSpace(row[idx])
}

// numericCell parses an optional numeric column, tolerating currency
// symbols and thousands separators. A missing column or empty cell reads
// as zero.
func numericCell(row []string, cols map[string]int, field string) (float64, error) {
	idx, ok := cols[field]
	if !ok {
		return 0, nil
	}
	raw := cell(row, idx)
	if raw == "" {
		return 0, nil
	}
	cleaned := strings.TrimSpace(strings.ReplaceAll(strings.TrimPrefix(raw, "$"), ",", ""))
	v, err := strconv.ParseFloat(cleaned, 64)
	if err != nil {
		return 0, fmt.Errorf("%q is not numeric", raw)
	}
	return v, nil
}

func emptyRow(row []string) bool {
	for _, c := range row {
		if strings.TrimSpace(c) != "" {
			return false
		}
	}
	return true
}
