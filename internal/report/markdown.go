package report

import (
	"io"
	"net/http"
	"sort"
	"strconv"

	"github.com/nao1215/markdown"
	"github.com/nao1215/markdown/mermaid/piechart"
)

// MarkdownWriter outputs listings and link reports as GitHub-flavored
// Markdown.
type MarkdownWriter struct {
	baseWriter
}

// NewMarkdownWriter creates a MarkdownWriter that outputs to output.
func NewMarkdownWriter(output io.Writer) *MarkdownWriter {
	return &MarkdownWriter{baseWriter: newBaseWriter(output)}
}

// WriteListing writes a summary table, a status chart and the records.
func (w *MarkdownWriter) WriteListing(l *Listing) (int, error) {
	md := markdown.NewMarkdown(w.output)

	md.H1("Site Listing")
	md.PlainText("")
	s := l.Summary
	md.Table(markdown.TableSet{
		Header: []string{"Property", "Value"},
		Rows: [][]string{
			{"Site", "`" + l.Site + "`"},
			{"Generated", l.Generated.Format(timeLayout)},
			{"Records", strconv.Itoa(s.Total)},
			{"With Content", strconv.Itoa(s.WithContent)},
			{"Redirects", strconv.Itoa(s.Redirects)},
			{"Errors", strconv.Itoa(s.Errors)},
			{"Content Size", formatBytes(s.Bytes)},
			{"Stored Size", formatBytes(s.StoredBytes)},
		},
	})
	md.PlainText("")

	if s.Total > 0 {
		w.writeStatusChart(md, l)
	}
	if s.Errors > 0 {
		md.Warningf("%d record(s) were stored with an error status.", s.Errors)
		md.PlainText("")
	}

	md.H2("Records")
	md.PlainText("")
	if len(l.Records) == 0 {
		md.PlainText("No records.")
		md.PlainText("")
	} else {
		rows := make([][]string, len(l.Records))
		for i, e := range l.Records {
			redirect := e.Redirect
			if redirect == "" {
				redirect = "-"
			}
			ctype := e.ContentType
			if ctype == "" {
				ctype = "-"
			}
			rows[i] = []string{
				"`" + truncateString(e.Path, 80) + "`",
				strconv.Itoa(e.Status),
				ctype,
				strconv.FormatInt(e.Size, 10),
				truncateString(redirect, 60),
			}
		}
		md.Table(markdown.TableSet{
			Header: []string{"Path", "Status", "Type", "Size", "Redirect"},
			Rows:   rows,
		})
		md.PlainText("")
	}

	return len(md.String()), md.Build()
}

// writeStatusChart writes a mermaid pie chart of records per status.
func (w *MarkdownWriter) writeStatusChart(md *markdown.Markdown, l *Listing) {
	counts := make(map[int]uint64)
	for _, e := range l.Records {
		counts[e.Status]++
	}
	statuses := make([]int, 0, len(counts))
	for status := range counts {
		statuses = append(statuses, status)
	}
	sort.Ints(statuses)

	chart := piechart.NewPieChart(
		io.Discard,
		piechart.WithTitle("Records by Status"),
		piechart.WithShowData(true),
	)
	for _, status := range statuses {
		label := strconv.Itoa(status)
		if text := http.StatusText(status); text != "" {
			label += " " + text
		}
		chart.LabelAndIntValue(label, counts[status])
	}
	md.CodeBlocks(markdown.SyntaxHighlightMermaid, chart.String())
	md.PlainText("")
}

// WriteLinks writes the link inventory as a table.
func (w *MarkdownWriter) WriteLinks(r *LinkReport) (int, error) {
	md := markdown.NewMarkdown(w.output)

	md.H1("Link Inventory")
	md.PlainText("")
	md.PlainTextf("Site `%s`, %d distinct links.", r.Site, len(r.Links))
	md.PlainText("")

	if len(r.Links) == 0 {
		md.Note("No links found.")
	} else {
		rows := make([][]string, len(r.Links))
		for i, link := range r.Links {
			rows[i] = []string{truncateString(link.Target, 100), strconv.Itoa(link.Count)}
		}
		md.Table(markdown.TableSet{
			Header: []string{"Target", "Count"},
			Rows:   rows,
		})
	}
	md.PlainText("")

	return len(md.String()), md.Build()
}

// truncateString truncates s to maxLen bytes with an ellipsis.
func truncateString(s string, maxLen int) string {
	if len(s) <= maxLen {
		return s
	}
	if maxLen <= 3 {
		return s[:maxLen]
	}
	return s[:maxLen-3] + "..."
}
