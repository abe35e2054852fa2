// Package reporthtml turns a run report into a standalone HTML page an
// operator can open in a browser while working through the review files.
package reporthtml

import (
	"encoding/json"
	"fmt"
	"html"
	"regexp"
	"strings"
	"time"

	"github.com/yuin/goldmark"
	"github.com/yuin/goldmark/extension"

	"github.com/joelkehle/catalog-resolver/internal/namematch"
)

// Render accepts either the report markdown or a run envelope JSON. Given an
// envelope it rebuilds the markdown from the recorded stage outputs and adds
// a metadata strip and status badges above the report body.
func Render(report string) (string, error) {
	markdown := report
	metaHTML := ""
	badgeHTML := ""

	var env namematch.RunEnvelope
	if json.Unmarshal([]byte(report), &env) == nil && strings.TrimSpace(env.RunID) != "" {
		rebuilt, err := namematch.RebuildReportFromEnvelope(env)
		if err != nil {
			return "", err
		}
		markdown = rebuilt
		metaHTML = buildMetaHTML(env)
		badgeHTML = buildBadgeHTML(env)
	}

	var content strings.Builder
	md := goldmark.New(goldmark.WithExtensions(extension.GFM))
	if err := md.Convert([]byte(markdown), &content); err != nil {
		return "", fmt.Errorf("markdown convert: %w", err)
	}
	contentHTML := applyReviewLayoutHooks(content.String())

	return "<!doctype html><html><head><meta charset='utf-8'><title>Catalog Resolution Report</title>" +
		"<style>" + reportCSS + "</style></head><body>" +
		"<div class='report-wrap'><section class='report-viewer'><div class='report-header'>" +
		"<div class='report-meta'>" + metaHTML + "</div>" +
		"<div class='report-badges'>" + badgeHTML + "</div>" +
		"</div><div class='report-html'>" + contentHTML + "</div></section></div>" +
		"</body></html>", nil
}

const reportCSS = "body{font-family:ui-sans-serif,system-ui,sans-serif;background:#f8f7f4;margin:0;padding:1rem;color:#1c1917;} " +
	".report-wrap{max-width:900px;margin:0 auto;} " +
	".report-viewer{background:#fff;border:1px solid #d6d3d1;border-radius:6px;padding:1.5rem 2rem;} " +
	".report-header{display:flex;justify-content:space-between;gap:1rem;border-bottom:1px solid #e7e5e4;padding-bottom:0.75rem;margin-bottom:1rem;} " +
	".report-meta{color:#44403c;font-size:0.85rem;} .report-meta strong{color:#1c1917;} " +
	".report-badge{display:inline-block;background:#fef3c7;color:#78350f;border:1px solid #fcd34d;border-radius:4px;padding:0.15rem 0.5rem;margin-left:0.35rem;font-size:0.75rem;font-weight:600;} " +
	".report-badge.ok{background:#dcfce7;color:#14532d;border-color:#86efac;} " +
	".report-html h1{font-size:1.4rem;border-bottom:2px solid #292524;padding-bottom:0.3rem;} " +
	".report-html h2{font-size:1.1rem;margin-top:1.5rem;} " +
	".report-html h2[data-flagged-heading='true']{color:#92400e;} " +
	".report-html code{background:#f5f5f4;border:1px solid #e7e5e4;border-radius:3px;padding:0 0.25rem;font-size:0.85em;} " +
	".report-html pre{background:#f5f5f4;border:1px solid #e7e5e4;border-radius:4px;padding:0.6rem;overflow-x:auto;} " +
	".report-html pre code{border:0;background:transparent;} " +
	".report-html table{width:100%;border-collapse:collapse;border:1px solid #a8a29e;font-size:0.85rem;} " +
	".report-html th,.report-html td{border:1px solid #a8a29e;padding:0.35rem 0.45rem;text-align:left;vertical-align:top;} " +
	".report-html thead th{background:#f1f5f9;font-weight:700;} " +
	"@media print{ body{background:#fff;padding:0;} .report-viewer{border:0;} h2[data-appendix='true']{break-before:page;page-break-before:always;} }"

// applyReviewLayoutHooks tags headings the stylesheet treats specially: the
// flagged-records section is tinted so reviewers land on it first, and the
// appendix starts on a fresh page when the report is printed.
func applyReviewLayoutHooks(contentHTML string) string {
	reFlagged := regexp.MustCompile(`(?i)<h2([^>]*)>\s*Flagged Records\s*</h2>`)
	out := reFlagged.ReplaceAllString(contentHTML, `<h2$1 data-flagged-heading="true">Flagged Records</h2>`)

	reAppendix := regexp.MustCompile(`(?i)<h2([^>]*)>\s*Appendix\s*</h2>`)
	out = reAppendix.ReplaceAllString(out, `<h2$1 data-appendix="true">Appendix</h2>`)

	return out
}

func buildMetaHTML(env namematch.RunEnvelope) string {
	var out strings.Builder
	out.WriteString("<div><strong>Run:</strong> " + html.EscapeString(env.RunID) + "</div>")
	out.WriteString(fmt.Sprintf("<div><strong>Records:</strong> %d</div>", len(env.Raw)))
	if completed := env.Metadata.CompletedAt; !completed.IsZero() {
		out.WriteString("<div><strong>Date:</strong> " + html.EscapeString(completed.In(time.Local).Format("January 2, 2006 at 3:04 PM MST")) + "</div>")
	}
	return out.String()
}

func buildBadgeHTML(env namematch.RunEnvelope) string {
	var out strings.Builder
	class := "report-badge"
	if len(env.Flags) == 0 {
		class = "report-badge ok"
	}
	out.WriteString(fmt.Sprintf("<span class='%s'>%.1f%% matched</span>", class, env.Metadata.MatchRate*100))
	if len(env.Flags) > 0 {
		out.WriteString(fmt.Sprintf("<span class='report-badge'>%d flagged</span>", len(env.Flags)))
	}
	if env.Metadata.OracleBudgetHit {
		out.WriteString("<span class='report-badge'>Oracle budget exhausted</span>")
	}
	return out.String()
}
