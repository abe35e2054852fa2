package namematch

import (
	"encoding/json"
	"fmt"
	"strings"
	"time"

	"github.com/joelkehle/catalog-resolver/internal/taxonomy"
)

// BuildEnvelope packages a finished run for archival: the raw rows, every
// intermediate stage output, and the metadata. The envelope is enough to
// re-render the report without touching the oracle again.
func BuildEnvelope(raw []RawRecord, result PipelineResult) RunEnvelope {
	return RunEnvelope{
		RunID:     result.Metadata.RunID,
		Raw:       raw,
		Splits:    result.Splits,
		Parsed:    result.Records,
		Templates: result.Templates,
		Variants:  result.Variants,
		Matches:   result.Matches,
		Flags:     result.Flags,
		Metadata:  result.Metadata,
	}
}

// BuildReportMarkdown renders the run summary. Every flagged record is listed
// individually; flags are never collapsed into a bare count.
func BuildReportMarkdown(result PipelineResult) string {
	var b strings.Builder
	fmt.Fprintf(&b, "# Catalog Resolution Run Report\n\n")
	fmt.Fprintf(&b, "- Run ID: %s\n", result.Metadata.RunID)
	fmt.Fprintf(&b, "- Started: %s\n", result.Metadata.StartedAt.Format("2006-01-02 15:04:05 MST"))
	fmt.Fprintf(&b, "- Duration: %s\n\n", result.Metadata.CompletedAt.Sub(result.Metadata.StartedAt).Round(time.Millisecond))

	fmt.Fprintf(&b, "## Summary\n\n")
	fmt.Fprintf(&b, "- Records processed: %d\n", len(result.Splits))
	fmt.Fprintf(&b, "- Matched to variants: %d (%.1f%%)\n", result.Metadata.MatchedRecords, result.Metadata.MatchRate*100)
	fmt.Fprintf(&b, "- Templates touched: %d (%d new)\n", len(result.Templates), countNewTemplates(result.Templates))
	fmt.Fprintf(&b, "- Variants touched: %d (%d new)\n", len(result.Variants), countNewVariants(result.Variants))
	fmt.Fprintf(&b, "- Oracle calls: %d (%d retries)\n", result.Metadata.OracleCalls, result.Metadata.OracleRetries)
	if result.Metadata.OracleBudgetHit {
		fmt.Fprintf(&b, "- Oracle budget was exhausted before all unclear records could be sent.\n")
	}
	b.WriteString("\n")

	fmt.Fprintf(&b, "## Matches by Tier\n\n")
	tiers := tierCounts(result.Matches)
	for _, tier := range []MatchTier{TierExact, TierPartial, TierSimple, TierNew} {
		fmt.Fprintf(&b, "- %s: %d\n", tier, tiers[tier])
	}
	b.WriteString("\n")

	fmt.Fprintf(&b, "## Templates\n\n")
	if len(result.Templates) == 0 {
		fmt.Fprintf(&b, "No templates were built or extended this run.\n")
	}
	for _, t := range result.Templates {
		marker := ""
		if t.New {
			marker = " (new)"
		}
		if t.Simple {
			fmt.Fprintf(&b, "- `%s`%s — %s, category %s, simple product\n", t.ExternalID, marker, t.ProductLine, t.CategoryRef)
			continue
		}
		lines := make([]string, 0, len(t.AttributeLines))
		for _, l := range t.AttributeLines {
			lines = append(lines, fmt.Sprintf("%s (%d values)", l.AttributeRef, len(l.ValueRefs)))
		}
		fmt.Fprintf(&b, "- `%s`%s — %s, category %s, lines: %s\n", t.ExternalID, marker, t.ProductLine, t.CategoryRef, strings.Join(lines, "; "))
	}
	b.WriteString("\n")

	fmt.Fprintf(&b, "## Flagged Records\n\n")
	if len(result.Flags) == 0 {
		fmt.Fprintf(&b, "No records were flagged.\n")
	}
	for _, f := range result.Flags {
		label := f.SKU
		if label == "" {
			label = fmt.Sprintf("row %d", f.Index)
		}
		fmt.Fprintf(&b, "- [%s] %s: %s\n", f.Kind, label, sanitizeLine(f.Detail))
	}
	b.WriteString("\n")

	fmt.Fprintf(&b, "## Appendix\n\n")
	fmt.Fprintf(&b, "### Pipeline Metadata (JSON)\n\n```json\n%s\n```\n", prettyJSON(result.Metadata))

	return b.String()
}

func tierCounts(matches []VariantMatch) map[MatchTier]int {
	out := map[MatchTier]int{}
	for _, m := range matches {
		out[m.Tier]++
	}
	return out
}

func countNewTemplates(ts []taxonomy.Template) int {
	n := 0
	for _, t := range ts {
		if t.New {
			n++
		}
	}
	return n
}

func countNewVariants(vs []taxonomy.Variant) int {
	n := 0
	for _, v := range vs {
		if v.New {
			n++
		}
	}
	return n
}

func prettyJSON(v any) string {
	b, err := json.MarshalIndent(v, "", "  ")
	if err != nil {
		return "{}"
	}
	return string(b)
}

func sanitizeLine(s string) string {
	s = strings.TrimSpace(strings.ReplaceAll(s, "\n", " "))
	if s == "" {
		return "-"
	}
	return s
}
