package report

import (
	"fmt"
	"io"
	"strings"
	"text/tabwriter"
)

const timeLayout = "2006-01-02 15:04:05 MST"

// TextWriter outputs plain text for terminal display.
type TextWriter struct {
	baseWriter

	// long adds crawl times and ETags to listings.
	long bool
}

// TextWriterOption configures a TextWriter.
type TextWriterOption func(*TextWriter)

// WithLong adds crawl times and validators to listings.
func WithLong(long bool) TextWriterOption {
	return func(w *TextWriter) {
		w.long = long
	}
}

// NewTextWriter creates a TextWriter that outputs to output.
func NewTextWriter(output io.Writer, opts ...TextWriterOption) *TextWriter {
	w := &TextWriter{baseWriter: newBaseWriter(output)}
	for _, opt := range opts {
		opt(w)
	}
	return w
}

// WriteListing writes one line per record followed by the totals.
func (w *TextWriter) WriteListing(l *Listing) (int, error) {
	var sb strings.Builder
	tw := tabwriter.NewWriter(&sb, 0, 4, 2, ' ', 0)

	header := "STATUS\tSIZE\tTYPE\tPATH"
	if w.long {
		header += "\tCRAWLED\tETAG"
	}
	fmt.Fprintln(tw, header)
	for _, e := range l.Records {
		path := e.Path
		if e.Redirect != "" {
			path += " -> " + e.Redirect
		}
		ctype := e.ContentType
		if ctype == "" {
			ctype = "-"
		}
		line := fmt.Sprintf("%d\t%d\t%s\t%s", e.Status, e.Size, ctype, path)
		if w.long {
			crawled := "-"
			if !e.LastCrawled.IsZero() {
				crawled = e.LastCrawled.Format(timeLayout)
			}
			line += "\t" + crawled + "\t" + e.ETag
		}
		fmt.Fprintln(tw, line)
	}
	if err := tw.Flush(); err != nil {
		return 0, err
	}

	s := l.Summary
	fmt.Fprintf(&sb, "\n%d records, %d with content, %d redirects, %d errors\n",
		s.Total, s.WithContent, s.Redirects, s.Errors)
	fmt.Fprintf(&sb, "%s content, %s stored\n", formatBytes(s.Bytes), formatBytes(s.StoredBytes))

	return io.WriteString(w.output, sb.String())
}

// WriteLinks writes one line per link target with its reference count.
func (w *TextWriter) WriteLinks(r *LinkReport) (int, error) {
	var sb strings.Builder
	tw := tabwriter.NewWriter(&sb, 0, 4, 2, ' ', 0)
	fmt.Fprintln(tw, "COUNT\tTARGET")
	for _, link := range r.Links {
		fmt.Fprintf(tw, "%d\t%s\n", link.Count, link.Target)
	}
	if err := tw.Flush(); err != nil {
		return 0, err
	}
	fmt.Fprintf(&sb, "\n%d distinct links\n", len(r.Links))
	return io.WriteString(w.output, sb.String())
}

// formatBytes renders n with a binary unit.
func formatBytes(n int64) string {
	const unit = 1024
	if n < unit {
		return fmt.Sprintf("%d B", n)
	}
	div, exp := int64(unit), 0
	for m := n / unit; m >= unit; m /= unit {
		div *= unit
		exp++
	}
	return fmt.Sprintf("%.1f %ciB", float64(n)/float64(div), "KMGTPE"[exp])
}
