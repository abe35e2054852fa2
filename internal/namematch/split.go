package namematch

import "strings"

// SplitProductName decomposes a raw vendor name. The first delimiter
// occurrence isolates the brand, the last isolates the attribute text, and
// everything up to the last (interior delimiters included) is the product
// line with the brand still prefixed. Pure function: the only degenerate
// input is the empty string, which yields all-empty fields.
func SplitProductName(index int, originalName string) SplitName {
	out := SplitName{Index: index}
	if originalName == "" {
		return out
	}

	first := strings.Index(originalName, NameDelimiter)
	if first < 0 {
		out.ProductLine = originalName
		return out
	}

	brand := originalName[:first]
	out.Brand = &brand

	last := strings.LastIndex(originalName, NameDelimiter)
	if last == first {
		// Single delimiter: the whole name is the product line and there
		// is no attribute text to parse.
		out.ProductLine = originalName
		return out
	}

	out.ProductLine = originalName[:last]
	out.AttributeText = originalName[last+len(NameDelimiter):]
	return out
}

// SplitAll runs the splitter over a batch, preserving input order.
func SplitAll(records []RawRecord) []SplitName {
	out := make([]SplitName, 0, len(records))
	for _, rec := range records {
		out = append(out, SplitProductName(rec.Index, rec.OriginalName))
	}
	return out
}
