package report

import (
	"bytes"
	"encoding/json"
	"errors"
	"net/http"
	"strings"
	"testing"
	"time"

	"github.com/nao1215/sitemirror/internal/model"
	"github.com/nao1215/sitemirror/internal/site"
)

var testTime = time.Date(2025, 3, 1, 12, 0, 0, 0, time.UTC)

// createTestListing returns a listing with one page, one redirect and one
// error record.
func createTestListing() *Listing {
	page := model.NewRecord("/index", testTime)
	page.HTTPStatus = http.StatusOK
	page.ContentType = "text/html; charset=utf-8"
	page.ContentStoreID = 1
	page.ContentLength = 2048
	page.CompressedLength = 512
	page.LastCrawled = testTime
	page.ETag = `"v1"`

	moved := model.NewRecord("/old", testTime)
	moved.HTTPStatus = http.StatusMovedPermanently
	moved.ContentRedirect = "/index"

	missing := model.NewRecord("/missing", testTime)
	missing.HTTPStatus = http.StatusNotFound

	return NewListing("https://example.com/", []model.ContentRecord{page, moved, missing}, testTime)
}

func createTestLinks() *LinkReport {
	return NewLinkReport("https://example.com/", []site.LinkCount{
		{Target: "https://example.com/a", Count: 3},
		{Target: "https://other.com/", Count: 1},
	}, testTime)
}

func TestNewListing(t *testing.T) {
	t.Parallel()

	l := createTestListing()
	want := Summary{Total: 3, WithContent: 1, Redirects: 1, Errors: 1, Bytes: 2048, StoredBytes: 512}
	if l.Summary != want {
		t.Errorf("expected %+v, got %+v", want, l.Summary)
	}
	if l.Records[1].Redirect != "/index" {
		t.Errorf("expected redirect /index, got %q", l.Records[1].Redirect)
	}
	if l.Records[2].Size != 0 {
		t.Errorf("expected size 0 for record without content, got %d", l.Records[2].Size)
	}
}

func TestTextWriter(t *testing.T) {
	t.Parallel()

	t.Run("writes listing", func(t *testing.T) {
		t.Parallel()

		var buf bytes.Buffer
		if _, err := NewTextWriter(&buf).WriteListing(createTestListing()); err != nil {
			t.Fatalf("unexpected error: %v", err)
		}
		output := buf.String()
		for _, want := range []string{"STATUS", "/index", "/old -> /index", "404", "3 records, 1 with content, 1 redirects, 1 errors", "2.0 KiB content, 512 B stored"} {
			if !strings.Contains(output, want) {
				t.Errorf("expected output to contain %q, got:\n%s", want, output)
			}
		}
		if strings.Contains(output, "ETAG") {
			t.Error("expected short listing without ETAG column")
		}
	})

	t.Run("long listing", func(t *testing.T) {
		t.Parallel()

		var buf bytes.Buffer
		if _, err := NewTextWriter(&buf, WithLong(true)).WriteListing(createTestListing()); err != nil {
			t.Fatalf("unexpected error: %v", err)
		}
		output := buf.String()
		if !strings.Contains(output, "ETAG") || !strings.Contains(output, `"v1"`) {
			t.Errorf("expected ETag column, got:\n%s", output)
		}
		if !strings.Contains(output, "2025-03-01 12:00:00 UTC") {
			t.Errorf("expected crawl time, got:\n%s", output)
		}
	})

	t.Run("writes links", func(t *testing.T) {
		t.Parallel()

		var buf bytes.Buffer
		n, err := NewTextWriter(&buf).WriteLinks(createTestLinks())
		if err != nil {
			t.Fatalf("unexpected error: %v", err)
		}
		if n != buf.Len() {
			t.Errorf("expected %d bytes reported, got %d", buf.Len(), n)
		}
		output := buf.String()
		if !strings.Contains(output, "https://example.com/a") || !strings.Contains(output, "2 distinct links") {
			t.Errorf("unexpected output:\n%s", output)
		}
	})
}

func TestJSONWriter(t *testing.T) {
	t.Parallel()

	t.Run("listing round trips", func(t *testing.T) {
		t.Parallel()

		var buf bytes.Buffer
		if _, err := NewJSONWriter(&buf).WriteListing(createTestListing()); err != nil {
			t.Fatalf("unexpected error: %v", err)
		}
		var got Listing
		if err := json.Unmarshal(buf.Bytes(), &got); err != nil {
			t.Fatalf("failed to decode output: %v", err)
		}
		if got.Site != "https://example.com/" || len(got.Records) != 3 || got.Summary.Total != 3 {
			t.Errorf("unexpected listing: %+v", got)
		}
	})

	t.Run("compact by default", func(t *testing.T) {
		t.Parallel()

		var buf bytes.Buffer
		if _, err := NewJSONWriter(&buf).WriteLinks(createTestLinks()); err != nil {
			t.Fatalf("unexpected error: %v", err)
		}
		if strings.Count(buf.String(), "\n") != 1 {
			t.Errorf("expected a single line, got %q", buf.String())
		}
	})

	t.Run("indented", func(t *testing.T) {
		t.Parallel()

		var buf bytes.Buffer
		if _, err := NewJSONWriter(&buf, WithIndent("", "\t")).WriteLinks(createTestLinks()); err != nil {
			t.Fatalf("unexpected error: %v", err)
		}
		if !strings.Contains(buf.String(), "\n\t\"links\"") {
			t.Errorf("expected tab indentation, got %q", buf.String())
		}
	})
}

func TestMarkdownWriter(t *testing.T) {
	t.Parallel()

	t.Run("writes listing", func(t *testing.T) {
		t.Parallel()

		var buf bytes.Buffer
		if _, err := NewMarkdownWriter(&buf).WriteListing(createTestListing()); err != nil {
			t.Fatalf("unexpected error: %v", err)
		}
		output := buf.String()
		for _, want := range []string{"# Site Listing", "## Records", "`/index`", "mermaid", "301 Moved Permanently"} {
			if !strings.Contains(output, want) {
				t.Errorf("expected output to contain %q, got:\n%s", want, output)
			}
		}
	})

	t.Run("empty listing", func(t *testing.T) {
		t.Parallel()

		var buf bytes.Buffer
		l := NewListing("https://example.com/", nil, testTime)
		if _, err := NewMarkdownWriter(&buf).WriteListing(l); err != nil {
			t.Fatalf("unexpected error: %v", err)
		}
		if !strings.Contains(buf.String(), "No records.") {
			t.Errorf("expected empty notice, got:\n%s", buf.String())
		}
		if strings.Contains(buf.String(), "mermaid") {
			t.Error("expected no chart for an empty listing")
		}
	})

	t.Run("writes links", func(t *testing.T) {
		t.Parallel()

		var buf bytes.Buffer
		if _, err := NewMarkdownWriter(&buf).WriteLinks(createTestLinks()); err != nil {
			t.Fatalf("unexpected error: %v", err)
		}
		if !strings.Contains(buf.String(), "# Link Inventory") || !strings.Contains(buf.String(), "https://other.com/") {
			t.Errorf("unexpected output:\n%s", buf.String())
		}
	})
}

func TestNewWriter(t *testing.T) {
	t.Parallel()

	tests := []struct {
		format  string
		wantErr bool
	}{
		{format: ""},
		{format: "text"},
		{format: "Markdown"},
		{format: "md"},
		{format: "json"},
		{format: "xml", wantErr: true},
	}
	for _, tt := range tests {
		t.Run(tt.format, func(t *testing.T) {
			t.Parallel()

			w, err := NewWriter(tt.format, &bytes.Buffer{})
			if tt.wantErr {
				if !errors.Is(err, ErrUnknownFormat) {
					t.Errorf("expected ErrUnknownFormat, got %v", err)
				}
				return
			}
			if err != nil || w == nil {
				t.Errorf("expected a writer, got %v", err)
			}
		})
	}
}

func TestMultiWriter(t *testing.T) {
	t.Parallel()

	var text, js bytes.Buffer
	m := NewMultiWriter(NewTextWriter(&text), NewJSONWriter(&js))
	n, err := m.WriteListing(createTestListing())
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if n != text.Len()+js.Len() {
		t.Errorf("expected %d bytes, got %d", text.Len()+js.Len(), n)
	}
	if text.Len() == 0 || js.Len() == 0 {
		t.Error("expected both writers to receive output")
	}
}

func TestTruncateString(t *testing.T) {
	t.Parallel()

	tests := []struct {
		input  string
		maxLen int
		want   string
	}{
		{input: "short", maxLen: 10, want: "short"},
		{input: "exactly10!", maxLen: 10, want: "exactly10!"},
		{input: "this is too long", maxLen: 10, want: "this is..."},
		{input: "abcdef", maxLen: 3, want: "abc"},
	}
	for _, tt := range tests {
		if got := truncateString(tt.input, tt.maxLen); got != tt.want {
			t.Errorf("truncateString(%q, %d): expected %q, got %q", tt.input, tt.maxLen, tt.want, got)
		}
	}
}
