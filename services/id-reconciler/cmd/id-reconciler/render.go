package main

import (
	"encoding/json"
	"fmt"
	"io"
	"os"
	"sort"
	"strconv"
	"strings"

	"github.com/charmbracelet/lipgloss"

	"github.com/agrawalpuran/uds-refresh-sub000/services/id-reconciler/domain/entity"
)

var (
	titleStyle  = lipgloss.NewStyle().Bold(true)
	headerStyle = lipgloss.NewStyle().Bold(true).Padding(0, 1)
	cellStyle   = lipgloss.NewStyle().Padding(0, 1)
	mutedStyle  = lipgloss.NewStyle().Faint(true)
	passStyle   = lipgloss.NewStyle().Bold(true).Foreground(lipgloss.Color("2"))
	failStyle   = lipgloss.NewStyle().Bold(true).Foreground(lipgloss.Color("1"))
)

// table renders rows of plain cells with aligned columns
type table struct {
	title   string
	headers []string
	rows    [][]string
	// right-aligned columns, by index
	numeric map[int]bool
}

func newTable(title string, headers ...string) *table {
	return &table{title: title, headers: headers, numeric: make(map[int]bool)}
}

func (t *table) addRow(cells ...string) {
	t.rows = append(t.rows, cells)
}

func (t *table) render(w io.Writer) error {
	widths := make([]int, len(t.headers))
	for i, h := range t.headers {
		widths[i] = lipgloss.Width(h)
	}
	for _, row := range t.rows {
		for i, cell := range row {
			if i < len(widths) && lipgloss.Width(cell) > widths[i] {
				widths[i] = lipgloss.Width(cell)
			}
		}
	}
	for i := range widths {
		widths[i] += 2
	}

	var sb strings.Builder
	if t.title != "" {
		sb.WriteString(titleStyle.Render(t.title))
		sb.WriteString("\n")
	}

	sep := mutedStyle.Render("|")
	for i, h := range t.headers {
		sb.WriteString(t.align(headerStyle, i).Width(widths[i]).Render(h))
		if i < len(t.headers)-1 {
			sb.WriteString(sep)
		}
	}
	sb.WriteString("\n")

	total := len(widths) - 1
	for _, w := range widths {
		total += w
	}
	sb.WriteString(mutedStyle.Render(strings.Repeat("-", total)))
	sb.WriteString("\n")

	for _, row := range t.rows {
		for i, cell := range row {
			if i >= len(widths) {
				break
			}
			sb.WriteString(t.align(cellStyle, i).Width(widths[i]).Render(cell))
			if i < len(row)-1 {
				sb.WriteString(sep)
			}
		}
		sb.WriteString("\n")
	}

	_, err := io.WriteString(w, sb.String())
	return err
}

func (t *table) align(style lipgloss.Style, col int) lipgloss.Style {
	if t.numeric[col] {
		return style.Align(lipgloss.Right)
	}
	return style
}

func itoa(n int64) string {
	return strconv.FormatInt(n, 10)
}

// renderRunSummary prints one row per collection plus a totals row
func renderRunSummary(w io.Writer, summary *entity.RunSummary) error {
	title := fmt.Sprintf("Reconciliation %s (%s)", summary.RunID, summary.Mode)
	if summary.Interrupted {
		title += " INTERRUPTED"
	}

	t := newTable(title, "collection", "total", "backfill", "rewrite", "updated", "review", "duplicates", "orphans", "errors")
	for i := 1; i < len(t.headers); i++ {
		t.numeric[i] = true
	}

	var total entity.CollectionSummary
	for _, c := range summary.Collections {
		t.addRow(c.Collection,
			itoa(c.Total), itoa(c.Backfill), itoa(c.Rewrite), itoa(c.Updated),
			itoa(c.Review), itoa(c.Duplicates), itoa(c.Orphans), itoa(c.Errors))

		total.Total += c.Total
		total.Backfill += c.Backfill
		total.Rewrite += c.Rewrite
		total.Updated += c.Updated
		total.Review += c.Review
		total.Duplicates += c.Duplicates
		total.Orphans += c.Orphans
		total.Errors += c.Errors
	}
	t.addRow("TOTAL",
		itoa(total.Total), itoa(total.Backfill), itoa(total.Rewrite), itoa(total.Updated),
		itoa(total.Review), itoa(total.Duplicates), itoa(total.Orphans), itoa(total.Errors))

	if err := t.render(w); err != nil {
		return err
	}

	var review []entity.ReviewItem
	var failures []string
	for _, c := range summary.Collections {
		review = append(review, c.ReviewItems...)
		for _, detail := range c.ErrorDetails {
			failures = append(failures, fmt.Sprintf("  %s: %s", c.Collection, detail))
		}
	}

	if len(review) > 0 {
		rt := newTable("Needs manual review", "collection", "document", "field", "value", "target")
		for _, item := range review {
			rt.addRow(item.Collection, item.DocumentID, item.Path, item.Raw, string(item.Target))
		}
		if _, err := io.WriteString(w, "\n"); err != nil {
			return err
		}
		if err := rt.render(w); err != nil {
			return err
		}
	}

	if len(failures) > 0 {
		if _, err := fmt.Fprintf(w, "\n%s\n%s\n", failStyle.Render("Errors"), strings.Join(failures, "\n")); err != nil {
			return err
		}
	}
	return nil
}

// renderVerification prints per-collection totals and the verdict
func renderVerification(w io.Writer, report *entity.VerificationReport) error {
	t := newTable("Integrity verification", "collection", "documents", "valid", "legacy", "broken", "orphans", "status")
	for i := 1; i <= 5; i++ {
		t.numeric[i] = true
	}

	for _, c := range report.Collections {
		var counts entity.Counts
		for _, f := range c.Fields {
			counts.Merge(f.Counts)
		}
		status := "ok"
		if c.Error != "" {
			status = "error: " + c.Error
		}
		t.addRow(c.Collection, itoa(c.Documents), itoa(counts.Valid), itoa(counts.Legacy()),
			itoa(counts.Broken), itoa(c.Orphans), status)
	}

	if err := t.render(w); err != nil {
		return err
	}

	verdict := passStyle.Render("PASS")
	if report.Verdict != entity.VerdictPass {
		verdict = failStyle.Render("FAIL")
	}
	_, err := fmt.Fprintf(w, "\nverdict: %s  valid=%d legacy=%d broken=%d orphans=%d errors=%d\n",
		verdict, report.Valid, report.Legacy, report.Broken, report.Orphans, report.Errors)
	return err
}

// renderScan prints one row per reference field followed by its samples
func renderScan(w io.Writer, report *entity.VerificationReport) error {
	t := newTable("Reference scan", "collection", "field", "target", "valid", "internal-id", "hex-string", "null", "broken")
	for i := 3; i <= 7; i++ {
		t.numeric[i] = true
	}

	var samples []string
	for _, c := range report.Collections {
		for _, f := range c.Fields {
			field := f.Field
			if f.Optional {
				field += "?"
			}
			t.addRow(c.Collection, field, string(f.Target),
				itoa(f.Counts.Valid), itoa(f.Counts.LegacyInternalID), itoa(f.Counts.LegacyHexString),
				itoa(f.Counts.Null), itoa(f.Counts.Broken))

			classes := make([]string, 0, len(f.Samples))
			for class := range f.Samples {
				classes = append(classes, string(class))
			}
			sort.Strings(classes)
			for _, class := range classes {
				for _, s := range f.Samples[entity.Classification(class)] {
					samples = append(samples, fmt.Sprintf("  %s %s %s=%q (%s)", c.Collection, s.DocumentID, s.Path, s.Raw, s.Reason))
				}
			}
		}
		if c.Error != "" {
			samples = append(samples, fmt.Sprintf("  %s: %s", c.Collection, c.Error))
		}
	}

	if err := t.render(w); err != nil {
		return err
	}
	if len(samples) == 0 {
		return nil
	}

	_, err := fmt.Fprintf(w, "\n%s\n%s\n", titleStyle.Render("Samples"), strings.Join(samples, "\n"))
	return err
}

// writeJSONReport writes v as indented JSON
func writeJSONReport(path string, v interface{}) error {
	data, err := json.MarshalIndent(v, "", "  ")
	if err != nil {
		return fmt.Errorf("failed to encode report: %w", err)
	}
	if err := os.WriteFile(path, append(data, '\n'), 0o644); err != nil {
		return fmt.Errorf("failed to write report: %w", err)
	}
	return nil
}
