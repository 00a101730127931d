// Package rewriter walks HTML, XML and text documents, reports every link it
// finds and rewrites links and tagged content through ordered hook lists.
//
// HTML and XML documents are parsed into a node tree. Elements selected by a
// document tag have their URI attribute resolved against the document URL,
// passed to the visit hooks and then to the URI rewrite hooks. Text formats
// are scanned with the match expressions of their document type.
package rewriter

import (
	"context"
	"log/slog"
	"net/url"
	"regexp"
	"strings"

	"github.com/nao1215/sitemirror/internal/config"
	"github.com/nao1215/sitemirror/internal/model"
	"github.com/nao1215/sitemirror/internal/uri"
	"golang.org/x/net/html"
)

// plainURL finds http(s) URLs in running text.
var plainURL = regexp.MustCompile(`(?i)\bhttps?://[^\s"'<>()\[\]{}]*[^\s"'<>()\[\]{}.,;:!?]`)

// Hook types. Each list runs in registration order.
type (
	// VisitFunc observes every resolved URI before it is rewritten.
	VisitFunc func(u *url.URL)

	// URIFunc rewrites a URI. Returning the argument leaves it unchanged;
	// returning nil removes it and stops the remaining hooks.
	URIFunc func(u *url.URL) *url.URL

	// ElementFunc may keep, replace or delete a node of a tree document.
	ElementFunc func(n *html.Node) ElementAction

	// DocumentFunc runs once per tree document before the visit and
	// reports whether it modified the tree.
	DocumentFunc func(root *html.Node) bool

	// ContentFunc rewrites the decoded text of a document before parsing.
	ContentFunc func(content string) string

	// ContextFunc is told which record is about to be processed.
	ContextFunc func(rec model.ContentRecord)
)

type actionKind int

const (
	actionKeep actionKind = iota
	actionReplace
	actionDelete
)

// ElementAction is the result of an ElementFunc.
type ElementAction struct {
	kind actionKind
	node *html.Node
}

// Keep leaves the node in place.
func Keep() ElementAction { return ElementAction{kind: actionKeep} }

// Replace swaps the node for n. n must not be attached to a tree.
func Replace(n *html.Node) ElementAction { return ElementAction{kind: actionReplace, node: n} }

// Delete removes the node and its subtree.
func Delete() ElementAction { return ElementAction{kind: actionDelete} }

// Node returns the replacement of a Replace action, or nil.
func (a ElementAction) Node() *html.Node {
	if a.kind != actionReplace {
		return nil
	}
	return a.node
}

// IsDelete reports whether the action removes the node.
func (a ElementAction) IsDelete() bool { return a.kind == actionDelete }

// Rewriter applies document types and hooks to content. Hooks are registered
// before use; once processing starts a Rewriter may be shared by goroutines.
type Rewriter struct {
	base       *url.URL
	types      *DocTypes
	store      Store
	logger     *slog.Logger
	relative   bool
	reformat   bool
	rewriteAll bool

	visit    []VisitFunc
	rewrite  []URIFunc
	element  []ElementFunc
	document []DocumentFunc
	content  []ContentFunc
	context  []ContextFunc
}

// Option configures a Rewriter.
type Option func(*Rewriter)

// WithStore sets the store used by Process and RewriteAll.
func WithStore(s Store) Option {
	return func(r *Rewriter) {
		r.store = s
	}
}

// WithLogger sets the logger for per-record failures.
func WithLogger(logger *slog.Logger) Option {
	return func(r *Rewriter) {
		r.logger = logger
	}
}

// WithRelativeLinks writes links relative to the document for types that
// allow it. In this mode every followed attribute is rewritten.
func WithRelativeLinks(on bool) Option {
	return func(r *Rewriter) {
		r.relative = on
	}
}

// WithReformat re-serializes tree documents even when nothing changed.
func WithReformat(on bool) Option {
	return func(r *Rewriter) {
		r.reformat = on
	}
}

// WithRewriteAll saves every record, including unchanged and binary ones.
func WithRewriteAll(on bool) Option {
	return func(r *Rewriter) {
		r.rewriteAll = on
	}
}

// New returns a Rewriter for documents of the site at base.
func New(base *url.URL, types *DocTypes, opts ...Option) *Rewriter {
	r := &Rewriter{
		base:   base,
		types:  types,
		logger: slog.Default(),
	}
	for _, opt := range opts {
		opt(r)
	}
	return r
}

// OnVisit registers a visit hook.
func (r *Rewriter) OnVisit(fn VisitFunc) { r.visit = append(r.visit, fn) }

// OnRewriteURI registers a URI rewrite hook.
func (r *Rewriter) OnRewriteURI(fn URIFunc) { r.rewrite = append(r.rewrite, fn) }

// OnRewriteElement registers an element hook.
func (r *Rewriter) OnRewriteElement(fn ElementFunc) { r.element = append(r.element, fn) }

// OnRewriteDocument registers a document hook.
func (r *Rewriter) OnRewriteDocument(fn DocumentFunc) { r.document = append(r.document, fn) }

// OnRewriteContent registers a content hook.
func (r *Rewriter) OnRewriteContent(fn ContentFunc) { r.content = append(r.content, fn) }

// OnContextChanged registers a hook told about each record before it is
// processed.
func (r *Rewriter) OnContextChanged(fn ContextFunc) { r.context = append(r.context, fn) }

// Types returns the document type table.
func (r *Rewriter) Types() *DocTypes { return r.types }

// Base returns the site URL.
func (r *Rewriter) Base() *url.URL { return r.base }

// ProcessFile runs the document of rec through the rewriter and returns the
// resulting bytes. changed is false when the input bytes are returned as is.
func (r *Rewriter) ProcessFile(ctx context.Context, rec model.ContentRecord, content []byte) ([]byte, bool, error) {
	if err := ctx.Err(); err != nil {
		return nil, false, err
	}
	for _, fn := range r.context {
		fn(rec)
	}

	dt, ok := r.types.Lookup(rec.MimeType())
	if !ok || dt.Format == config.FormatBinary {
		return content, r.rewriteAll, nil
	}

	cs := charsetOf(rec.Charset())
	text, err := cs.decode(content)
	if err != nil {
		return nil, false, err
	}
	original := text
	for _, fn := range r.content {
		text = fn(text)
	}

	result, modified, err := r.processText(rec.ContentURI, dt, r.relative, text)
	if err != nil {
		return nil, false, err
	}
	if !modified && result == original && !r.rewriteAll {
		return content, false, nil
	}
	out, err := cs.encode(result)
	if err != nil {
		return nil, false, err
	}
	return out, true, nil
}

// processText rewrites content of type dt found at path. Tree formats with
// tags or element hooks are parsed; when the tree comes back unmodified the
// text rules still run over the content.
func (r *Rewriter) processText(path string, dt *DocType, relative bool, content string) (string, bool, error) {
	relative = relative && dt.RelativeLinks
	if dt.IsTree() && (dt.TextLinks || r.types.HasTags(dt.Mime) || len(r.element) > 0) {
		doc, err := parseDocument(dt.Format, content)
		if err != nil {
			return "", false, err
		}
		modified := false
		for _, fn := range r.document {
			modified = fn(doc.root) || modified
		}
		visited, err := r.visitChildren(path, dt, doc.root, relative)
		if err != nil {
			return "", false, err
		}
		if visited || modified || r.reformat {
			out, err := doc.render()
			if err != nil {
				return "", false, err
			}
			return out, true, nil
		}
	}
	out, modified := r.processMatches(path, relative, content, dt)
	return out, modified, nil
}

// processMime rewrites nested content declared as another MIME type.
func (r *Rewriter) processMime(path, mime string, relative bool, content string) (string, bool, error) {
	dt, ok := r.types.Lookup(mime)
	if !ok {
		return content, false, nil
	}
	return r.processText(path, dt, relative, content)
}

// current returns the absolute URL of the document at path.
func (r *Rewriter) current(path string) *url.URL {
	if u := uri.Resolve(r.base, path); u != nil {
		return u
	}
	return r.base
}

// rewriteURI fires the visit hooks, then runs the rewrite chain.
func (r *Rewriter) rewriteURI(u *url.URL) *url.URL {
	for _, fn := range r.visit {
		fn(u)
	}
	return r.applyRewrite(u)
}

func (r *Rewriter) applyRewrite(u *url.URL) *url.URL {
	for _, fn := range r.rewrite {
		u = fn(u)
		if u == nil {
			return nil
		}
	}
	return u
}

// link formats target for a document at current, relative to the rewritten
// document URL when relative is set.
func (r *Rewriter) link(current, target *url.URL, relative bool) string {
	if !relative {
		return target.String()
	}
	base := r.applyRewrite(current)
	if base == nil {
		base = current
	}
	return uri.RelativeLink(base, base.ResolveReference(target))
}

// resolve parses a link value found in a document at current. It returns
// nil for in-page anchors and for schemes other than http and https.
func resolve(current *url.URL, value string) *url.URL {
	value = strings.TrimSpace(value)
	if value == "" || strings.HasPrefix(value, "#") {
		return nil
	}
	u := uri.Resolve(current, value)
	if u == nil || !uri.IsWebScheme(u) {
		return nil
	}
	return u
}
