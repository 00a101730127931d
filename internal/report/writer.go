package report

import (
	"fmt"
	"io"
	"strings"
)

// Output formats accepted by NewWriter.
const (
	FormatText     = "text"
	FormatMarkdown = "markdown"
	FormatJSON     = "json"
)

// Writer writes site listings and link inventories.
type Writer interface {
	// WriteListing outputs a record listing and returns the bytes written.
	WriteListing(l *Listing) (int, error)

	// WriteLinks outputs a link inventory and returns the bytes written.
	WriteLinks(r *LinkReport) (int, error)
}

// NewWriter returns the Writer for format.
func NewWriter(format string, output io.Writer) (Writer, error) {
	switch strings.ToLower(format) {
	case "", FormatText:
		return NewTextWriter(output), nil
	case FormatMarkdown, "md":
		return NewMarkdownWriter(output), nil
	case FormatJSON:
		return NewJSONWriter(output, WithPrettyPrint()), nil
	}
	return nil, fmt.Errorf("%w: %s", ErrUnknownFormat, format)
}

// MultiWriter writes to several Writers in turn and stops at the first
// error.
type MultiWriter struct {
	writers []Writer
}

// NewMultiWriter returns a Writer that writes to all writers.
func NewMultiWriter(writers ...Writer) *MultiWriter {
	return &MultiWriter{writers: writers}
}

// WriteListing outputs l to every writer.
func (m *MultiWriter) WriteListing(l *Listing) (int, error) {
	var total int
	for _, w := range m.writers {
		n, err := w.WriteListing(l)
		total += n
		if err != nil {
			return total, err
		}
	}
	return total, nil
}

// WriteLinks outputs r to every writer.
func (m *MultiWriter) WriteLinks(r *LinkReport) (int, error) {
	var total int
	for _, w := range m.writers {
		n, err := w.WriteLinks(r)
		total += n
		if err != nil {
			return total, err
		}
	}
	return total, nil
}

type baseWriter struct {
	output io.Writer
}

func newBaseWriter(output io.Writer) baseWriter {
	return baseWriter{output: output}
}
