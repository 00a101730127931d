// Package search turns mirrored HTML documents into search documents and
// hands them to an Indexer.
package search

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"net/url"
	"strings"
	"sync"
	"time"

	"cloudeng.io/errors"
	"github.com/PuerkitoBio/goquery"
	"github.com/nao1215/sitemirror/internal/config"
	"github.com/nao1215/sitemirror/internal/model"
	"github.com/nao1215/sitemirror/internal/rewriter"
	"github.com/nao1215/sitemirror/internal/store"
	"golang.org/x/net/html/charset"
)

// nonContent lists elements stripped before body text is extracted.
const nonContent = "script, style, noscript, template, nav"

// Document is the searchable form of one page.
type Document struct {
	Path         string    `json:"path"`
	URL          string    `json:"url,omitempty"`
	Title        string    `json:"title"`
	Description  string    `json:"description,omitempty"`
	Text         string    `json:"text"`
	ContentType  string    `json:"contentType"`
	LastModified time.Time `json:"lastModified"`
	Hash         string    `json:"hash"`
}

// Indexer receives search documents.
type Indexer interface {
	Index(ctx context.Context, doc Document) error
}

// Source is the part of the content store Build reads.
type Source interface {
	Range(ctx context.Context, prefix string, fn func(key string, rec model.ContentRecord) error) error
	ReadContent(rec model.ContentRecord, decompress bool) ([]byte, error)
}

// Extract builds the search document of an HTML record.
func Extract(rec model.ContentRecord, content []byte) (Document, error) {
	r, err := charset.NewReader(bytes.NewReader(content), rec.ContentType)
	if err != nil {
		return Document{}, fmt.Errorf("failed to decode %s: %w", rec.ContentURI, err)
	}
	doc, err := goquery.NewDocumentFromReader(r)
	if err != nil {
		return Document{}, fmt.Errorf("failed to parse %s: %w", rec.ContentURI, err)
	}

	d := Document{
		Path:         rec.ContentURI,
		Title:        collapse(doc.Find("title").First().Text()),
		ContentType:  rec.MimeType(),
		LastModified: rec.DateModified,
		Hash:         rec.HashOriginal,
	}
	doc.Find("meta[name]").EachWithBreak(func(_ int, s *goquery.Selection) bool {
		if !strings.EqualFold(s.AttrOr("name", ""), "description") {
			return true
		}
		d.Description = collapse(s.AttrOr("content", ""))
		return false
	})

	body := doc.Find("body").First()
	body.Find(nonContent).Remove()
	d.Text = collapse(body.Text())
	if d.Title == "" {
		d.Title = collapse(doc.Find("h1").First().Text())
	}
	if d.Hash == "" {
		d.Hash = rec.HashContents
	}
	return d, nil
}

func collapse(s string) string {
	return strings.Join(strings.Fields(s), " ")
}

// BuildOption configures Build.
type BuildOption func(*builder)

type builder struct {
	base   *url.URL
	logger *slog.Logger
}

// WithBase sets the site URL used to fill Document.URL.
func WithBase(base *url.URL) BuildOption {
	return func(b *builder) {
		b.base = base
	}
}

// WithLogger sets the logger for records that fail to extract.
func WithLogger(logger *slog.Logger) BuildOption {
	return func(b *builder) {
		b.logger = logger
	}
}

// Build indexes every HTML record of source stored with status 200 and
// returns the number of documents indexed. Failing records are logged and
// returned together; store consistency failures stop the walk.
func Build(ctx context.Context, source Source, types *rewriter.DocTypes, idx Indexer, opts ...BuildOption) (int, error) {
	b := &builder{logger: slog.Default()}
	for _, opt := range opts {
		opt(b)
	}

	var (
		errs  errors.M
		count int
	)
	err := source.Range(ctx, "", func(key string, rec model.ContentRecord) error {
		if !rec.HasContent() || rec.HTTPStatus != http.StatusOK {
			return nil
		}
		dt, ok := types.Lookup(rec.MimeType())
		if !ok || dt.Format != config.FormatHTML {
			return nil
		}

		err := b.index(ctx, source, idx, rec)
		if store.IsFatal(err) || ctx.Err() != nil {
			return err
		}
		if err != nil {
			b.logger.Warn("failed to index", "path", key, "error", err)
			errs.Append(fmt.Errorf("%s: %w", key, err))
			return nil
		}
		count++
		return nil
	})
	if err != nil {
		return count, err
	}
	return count, errs.Err()
}

func (b *builder) index(ctx context.Context, source Source, idx Indexer, rec model.ContentRecord) error {
	content, err := source.ReadContent(rec, true)
	if err != nil {
		return err
	}
	doc, err := Extract(rec, content)
	if err != nil {
		return err
	}
	if b.base != nil {
		if u, err := url.Parse(rec.ContentURI); err == nil {
			doc.URL = b.base.ResolveReference(u).String()
		}
	}
	return idx.Index(ctx, doc)
}

// JSONLinesIndexer writes one JSON document per line.
type JSONLinesIndexer struct {
	mu  sync.Mutex
	enc *json.Encoder
}

// NewJSONLinesIndexer returns an indexer writing to w.
func NewJSONLinesIndexer(w io.Writer) *JSONLinesIndexer {
	enc := json.NewEncoder(w)
	enc.SetEscapeHTML(false)
	return &JSONLinesIndexer{enc: enc}
}

// Index writes doc as one line.
func (j *JSONLinesIndexer) Index(ctx context.Context, doc Document) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	j.mu.Lock()
	defer j.mu.Unlock()
	if err := j.enc.Encode(doc); err != nil {
		return fmt.Errorf("failed to write document %s: %w", doc.Path, err)
	}
	return nil
}
