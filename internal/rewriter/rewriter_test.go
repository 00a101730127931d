package rewriter

import (
	"context"
	"errors"
	"net/url"
	"os"
	"path/filepath"
	"sort"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/nao1215/sitemirror/internal/config"
	"github.com/nao1215/sitemirror/internal/model"
	"github.com/nao1215/sitemirror/internal/store"
	"golang.org/x/net/html"
	"golang.org/x/net/html/atom"
)

var siteBase = mustParse("http://example.com/")

func mustParse(s string) *url.URL {
	u, err := url.Parse(s)
	if err != nil {
		panic(err)
	}
	return u
}

func testTypes(t *testing.T) *DocTypes {
	t.Helper()

	site := &config.Site{DocTypes: []config.DocType{
		{
			Mime:          "text/html",
			Ext:           ".html",
			Type:          config.FormatHTML,
			RelativeLinks: true,
			Title:         &config.Match{Expression: `(?is)<title[^>]*>(.*?)</title>`},
			Aliases:       []config.Alias{{Ext: ".htm"}},
			Tags: []config.Tag{
				{Name: "a", Follow: "href"},
				{Name: "img", Follow: "src"},
				{Name: "link", Where: "rel=stylesheet|icon", Follow: "href"},
				{Name: "script", Where: "type!=text/template", Follow: "src"},
				{Name: "span", Ancestor: "nav", Follow: "data-href"},
				{Name: "style", Mime: "text/css"},
				{Name: "div", Attributes: []config.TagAttribute{{Name: "style", Mime: "text/css"}}},
			},
		},
		{
			Mime:          "text/css",
			Ext:           ".css",
			Type:          config.FormatText,
			RelativeLinks: true,
			Matches:       []config.Match{{Expression: `url\(\s*['"]?([^'")\s]+)['"]?\s*\)`}},
		},
		{Mime: "text/plain", Type: config.FormatText, TextLinks: true},
		{
			Mime:      "application/rss+xml",
			Type:      config.FormatXML,
			TextLinks: true,
			Tags:      []config.Tag{{Name: "enclosure", Follow: "url"}},
		},
		{Mime: "image/png", Ext: ".png", Type: config.FormatBinary},
	}}
	if err := site.Validate(); err != nil {
		t.Fatalf("failed to validate doc types: %v", err)
	}
	types, err := NewDocTypes(site.DocTypes)
	if err != nil {
		t.Fatalf("failed to compile doc types: %v", err)
	}
	return types
}

func record(path, contentType string) model.ContentRecord {
	return model.ContentRecord{ContentURI: path, ContentType: contentType, HTTPStatus: 200}
}

// renamePath rewrites links to path from into a site-relative link to to.
func renamePath(from, to string) URIFunc {
	return func(u *url.URL) *url.URL {
		if u.Path == from {
			return &url.URL{Path: to}
		}
		return u
	}
}

func process(t *testing.T, r *Rewriter, rec model.ContentRecord, content string) (string, bool) {
	t.Helper()
	out, changed, err := r.ProcessFile(context.Background(), rec, []byte(content))
	if err != nil {
		t.Fatalf("failed to process %s: %v", rec.ContentURI, err)
	}
	return string(out), changed
}

func TestLinkRewrite(t *testing.T) {
	t.Parallel()

	types := testTypes(t)

	t.Run("absolute mode writes the rewritten link", func(t *testing.T) {
		t.Parallel()

		r := New(siteBase, types)
		r.OnRewriteURI(renamePath("/old", "/new"))
		out, changed := process(t, r, record("/index.html", "text/html"), `<a href="/old">x</a>`)
		if !changed {
			t.Fatal("expected document to change")
		}
		if out != `<a href="/new">x</a>` {
			t.Errorf("expected <a href=\"/new\">x</a>, got %s", out)
		}
	})

	t.Run("relative mode writes a base-relative link", func(t *testing.T) {
		t.Parallel()

		r := New(siteBase, types, WithRelativeLinks(true))
		r.OnRewriteURI(renamePath("/old", "/new"))
		out, _ := process(t, r, record("/dir/", "text/html"), `<a href="/old">x</a>`)
		if out != `<a href="../new">x</a>` {
			t.Errorf("expected <a href=\"../new\">x</a>, got %s", out)
		}
	})

	t.Run("relative mode rewrites unchanged links too", func(t *testing.T) {
		t.Parallel()

		r := New(siteBase, types, WithRelativeLinks(true))
		out, changed := process(t, r, record("/dir/index.html", "text/html"), `<a href="http://example.com/dir/page">x</a>`)
		if !changed {
			t.Fatal("expected document to change")
		}
		if out != `<a href="page">x</a>` {
			t.Errorf("expected <a href=\"page\">x</a>, got %s", out)
		}
	})

	t.Run("unchanged document returns the input", func(t *testing.T) {
		t.Parallel()

		r := New(siteBase, types)
		r.OnRewriteURI(renamePath("/old", "/new"))
		in := `<p><a href="/other">x</a></p>`
		out, changed := process(t, r, record("/", "text/html"), in)
		if changed {
			t.Error("expected no change")
		}
		if out != in {
			t.Errorf("expected input back, got %s", out)
		}
	})

	t.Run("nil result removes the attribute", func(t *testing.T) {
		t.Parallel()

		r := New(siteBase, types)
		r.OnRewriteURI(func(u *url.URL) *url.URL {
			if u.Path == "/drop" {
				return nil
			}
			return u
		})
		out, _ := process(t, r, record("/", "text/html"), `<a href="/drop">x</a>`)
		if out != `<a>x</a>` {
			t.Errorf("expected <a>x</a>, got %s", out)
		}
	})

	t.Run("nil result stops later hooks", func(t *testing.T) {
		t.Parallel()

		r := New(siteBase, types)
		called := false
		r.OnRewriteURI(func(*url.URL) *url.URL { return nil })
		r.OnRewriteURI(func(u *url.URL) *url.URL {
			called = true
			return u
		})
		process(t, r, record("/", "text/html"), `<a href="/x">x</a>`)
		if called {
			t.Error("expected the chain to stop at nil")
		}
	})

	t.Run("full documents keep their structure", func(t *testing.T) {
		t.Parallel()

		r := New(siteBase, types)
		r.OnRewriteURI(renamePath("/old", "/new"))
		in := `<html><head></head><body><img src="/old"/></body></html>`
		out, _ := process(t, r, record("/", "text/html"), in)
		want := `<html><head></head><body><img src="/new"/></body></html>`
		if out != want {
			t.Errorf("expected %s, got %s", want, out)
		}
	})
}

func visited(t *testing.T, types *DocTypes, rec model.ContentRecord, content string) []string {
	t.Helper()

	r := New(siteBase, types)
	var mu sync.Mutex
	var got []string
	r.OnVisit(func(u *url.URL) {
		mu.Lock()
		got = append(got, u.String())
		mu.Unlock()
	})
	if _, _, err := r.ProcessFile(context.Background(), rec, []byte(content)); err != nil {
		t.Fatalf("failed to process: %v", err)
	}
	sort.Strings(got)
	return got
}

func TestVisit(t *testing.T) {
	t.Parallel()

	types := testTypes(t)

	tests := []struct {
		name    string
		rec     model.ContentRecord
		content string
		want    []string
	}{
		{
			name: "links resolve against the document",
			rec:  record("/dir/page.html", "text/html"),
			content: `<a href="/a">1</a><a href="b?x=1#frag">2</a><a href="#top">3</a>` +
				`<a href="mailto:x@example.com">4</a><a href="http://other.com/c">5</a>`,
			want: []string{"http://example.com/a", "http://example.com/dir/b?x=1#frag", "http://other.com/c"},
		},
		{
			name:    "where condition selects values",
			rec:     record("/", "text/html"),
			content: `<html><head><link rel="stylesheet" href="/s.css"><link rel="canonical" href="/c"></head><body></body></html>`,
			want:    []string{"http://example.com/s.css"},
		},
		{
			name:    "negated where condition",
			rec:     record("/", "text/html"),
			content: `<script src="/a.js"></script><script type="text/template" src="/t.js"></script>`,
			want:    []string{"http://example.com/a.js"},
		},
		{
			name:    "ancestor condition",
			rec:     record("/", "text/html"),
			content: `<nav><span data-href="/n">n</span></nav><span data-href="/x">x</span>`,
			want:    []string{"http://example.com/n"},
		},
		{
			name:    "nested css in style elements and attributes",
			rec:     record("/", "text/html"),
			content: `<html><head><style>body { background: url("/bg.png") }</style></head><body><div style="background:url(img/d.png)">x</div></body></html>`,
			want:    []string{"http://example.com/bg.png", "http://example.com/img/d.png"},
		},
		{
			name:    "plain text urls",
			rec:     record("/readme.txt", "text/plain; charset=utf-8"),
			content: "see http://example.com/a, and https://other.com/b.",
			want:    []string{"http://example.com/a", "https://other.com/b"},
		},
		{
			name:    "binary types are not parsed",
			rec:     record("/x.png", "image/png"),
			content: `<a href="/a">`,
			want:    nil,
		},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			t.Parallel()
			got := visited(t, types, tt.rec, tt.content)
			if strings.Join(got, " ") != strings.Join(tt.want, " ") {
				t.Errorf("expected %v, got %v", tt.want, got)
			}
		})
	}
}

func TestTextRewrite(t *testing.T) {
	t.Parallel()

	types := testTypes(t)
	css := `a { background: url('/old.png') } b { background: url(other.png) }`

	t.Run("only the captured group changes", func(t *testing.T) {
		t.Parallel()

		r := New(siteBase, types)
		r.OnRewriteURI(renamePath("/old.png", "/new.png"))
		out, changed := process(t, r, record("/css/site.css", "text/css"), css)
		if !changed {
			t.Fatal("expected change")
		}
		want := `a { background: url('/new.png') } b { background: url(other.png) }`
		if out != want {
			t.Errorf("expected %s, got %s", want, out)
		}
	})

	t.Run("relative mode", func(t *testing.T) {
		t.Parallel()

		r := New(siteBase, types, WithRelativeLinks(true))
		r.OnRewriteURI(renamePath("/old.png", "/new.png"))
		out, _ := process(t, r, record("/css/site.css", "text/css"), css)
		want := `a { background: url('../new.png') } b { background: url(other.png) }`
		if out != want {
			t.Errorf("expected %s, got %s", want, out)
		}
	})

	t.Run("nil result blanks the group", func(t *testing.T) {
		t.Parallel()

		r := New(siteBase, types)
		r.OnRewriteURI(func(u *url.URL) *url.URL {
			if u.Path == "/old.png" {
				return nil
			}
			return u
		})
		out, _ := process(t, r, record("/css/site.css", "text/css"), css)
		want := `a { background: url('') } b { background: url(other.png) }`
		if out != want {
			t.Errorf("expected %s, got %s", want, out)
		}
	})

	t.Run("plain text links", func(t *testing.T) {
		t.Parallel()

		r := New(siteBase, types)
		r.OnRewriteURI(func(u *url.URL) *url.URL {
			if u.Path == "/old" {
				return u.ResolveReference(&url.URL{Path: "/new"})
			}
			return u
		})
		out, _ := process(t, r, record("/a.txt", "text/plain"), "see http://example.com/old and http://example.com/keep.")
		want := "see http://example.com/new and http://example.com/keep."
		if out != want {
			t.Errorf("expected %q, got %q", want, out)
		}
	})

	t.Run("nested css is rewritten inside html", func(t *testing.T) {
		t.Parallel()

		r := New(siteBase, types)
		r.OnRewriteURI(renamePath("/bg.png", "/img/bg.png"))
		in := `<html><head><style>body { background: url("/bg.png") }</style></head><body><div style="background:url(/bg.png)">x</div></body></html>`
		out, _ := process(t, r, record("/", "text/html"), in)
		want := `<html><head><style>body { background: url("/img/bg.png") }</style></head><body><div style="background:url(/img/bg.png)">x</div></body></html>`
		if out != want {
			t.Errorf("expected %s, got %s", want, out)
		}
	})
}

func TestElementHooks(t *testing.T) {
	t.Parallel()

	types := testTypes(t)

	t.Run("delete removes the subtree", func(t *testing.T) {
		t.Parallel()

		r := New(siteBase, types)
		r.OnRewriteElement(func(n *html.Node) ElementAction {
			if n.Type == html.ElementNode && n.Data == "script" {
				return Delete()
			}
			return Keep()
		})
		out, changed := process(t, r, record("/", "text/html"), `<p>a</p><script>run()</script><p>b</p>`)
		if !changed {
			t.Fatal("expected change")
		}
		if out != `<p>a</p><p>b</p>` {
			t.Errorf("expected scripts removed, got %s", out)
		}
	})

	t.Run("replace swaps the node", func(t *testing.T) {
		t.Parallel()

		r := New(siteBase, types)
		r.OnRewriteElement(func(n *html.Node) ElementAction {
			if n.Type != html.ElementNode || n.Data != "b" {
				return Keep()
			}
			strong := &html.Node{Type: html.ElementNode, Data: "strong", DataAtom: atom.Strong}
			strong.AppendChild(&html.Node{Type: html.TextNode, Data: "bold"})
			return Replace(strong)
		})
		out, _ := process(t, r, record("/", "text/html"), `<p><b>x</b> y</p>`)
		if out != `<p><strong>bold</strong> y</p>` {
			t.Errorf("expected replacement, got %s", out)
		}
	})

	t.Run("document hooks force rendering", func(t *testing.T) {
		t.Parallel()

		r := New(siteBase, types)
		r.OnRewriteDocument(func(root *html.Node) bool {
			for n := root.FirstChild; n != nil; n = n.NextSibling {
				if n.Type == html.ElementNode {
					SetAttr(n, "class", "mirrored")
					return true
				}
			}
			return false
		})
		out, _ := process(t, r, record("/", "text/html"), `<p>x</p>`)
		if out != `<p class="mirrored">x</p>` {
			t.Errorf("expected class attribute, got %s", out)
		}
	})

	t.Run("content and context hooks", func(t *testing.T) {
		t.Parallel()

		r := New(siteBase, types)
		var seen string
		r.OnContextChanged(func(rec model.ContentRecord) { seen = rec.ContentURI })
		r.OnRewriteContent(func(s string) string { return strings.ReplaceAll(s, "draft", "final") })
		out, changed := process(t, r, record("/doc.txt", "text/plain"), "draft text")
		if seen != "/doc.txt" {
			t.Errorf("expected context /doc.txt, got %q", seen)
		}
		if !changed || out != "final text" {
			t.Errorf("expected content hook applied, got %q", out)
		}
	})
}

func TestXMLDocuments(t *testing.T) {
	t.Parallel()

	types := testTypes(t)

	t.Run("rss links and text", func(t *testing.T) {
		t.Parallel()

		r := New(siteBase, types)
		r.OnRewriteURI(func(u *url.URL) *url.URL {
			if u.Path == "/old" {
				return u.ResolveReference(&url.URL{Path: "/new"})
			}
			return u
		})
		in := "<?xml version=\"1.0\" encoding=\"UTF-8\"?>\n" +
			`<rss version="2.0"><channel><link>http://example.com/old</link>` +
			`<item><enclosure url="/old" type="audio/mpeg"/></item></channel></rss>`
		want := "<?xml version=\"1.0\" encoding=\"UTF-8\"?>\n" +
			`<rss version="2.0"><channel><link>http://example.com/new</link>` +
			`<item><enclosure url="http://example.com/new" type="audio/mpeg"/></item></channel></rss>`
		out, changed := process(t, r, record("/feed", "application/rss+xml"), in)
		if !changed {
			t.Fatal("expected change")
		}
		if out != want {
			t.Errorf("expected %s, got %s", want, out)
		}
	})

	t.Run("tag-less xml scans text for links", func(t *testing.T) {
		t.Parallel()

		cfg, err := config.Default()
		if err != nil {
			t.Fatalf("failed to load default site config: %v", err)
		}
		defaults, err := NewDocTypes(cfg.DocTypes)
		if err != nil {
			t.Fatalf("failed to compile doc types: %v", err)
		}
		in := `<urlset><url><loc>http://example.com/a</loc></url><url><loc>http://example.com/b</loc></url></urlset>`
		for _, mime := range []string{"text/xml", "application/xml"} {
			got := visited(t, defaults, record("/sitemap.xml", mime), in)
			if strings.Join(got, " ") != "http://example.com/a http://example.com/b" {
				t.Errorf("%s: expected both locations, got %v", mime, got)
			}
		}

		r := New(siteBase, defaults)
		r.OnRewriteURI(func(u *url.URL) *url.URL {
			if u.Path == "/a" {
				return u.ResolveReference(&url.URL{Path: "/moved"})
			}
			return u
		})
		out, changed := process(t, r, record("/sitemap.xml", "text/xml"), in)
		if !changed {
			t.Fatal("expected change")
		}
		want := `<urlset><url><loc>http://example.com/moved</loc></url><url><loc>http://example.com/b</loc></url></urlset>`
		if out != want {
			t.Errorf("expected %s, got %s", want, out)
		}
	})

	t.Run("mismatched tags fail the document", func(t *testing.T) {
		t.Parallel()

		r := New(siteBase, types)
		_, _, err := r.ProcessFile(context.Background(), record("/feed", "application/rss+xml"), []byte(`<rss><channel></rss>`))
		if !errors.Is(err, ErrMalformed) {
			t.Errorf("expected ErrMalformed, got %v", err)
		}
	})
}

func TestCharset(t *testing.T) {
	t.Parallel()

	r := New(siteBase, testTypes(t))
	r.OnRewriteURI(renamePath("/old", "/new"))
	in := []byte("<a href=\"/old\">caf\xe9</a>")
	out, changed, err := r.ProcessFile(context.Background(), record("/", "text/html; charset=iso-8859-1"), in)
	if err != nil {
		t.Fatalf("failed to process: %v", err)
	}
	if !changed {
		t.Fatal("expected change")
	}
	if string(out) != "<a href=\"/new\">caf\xe9</a>" {
		t.Errorf("expected latin-1 output, got %q", out)
	}
}

func TestRewriteAll(t *testing.T) {
	t.Parallel()

	types := testTypes(t)
	png := []byte{0x89, 'P', 'N', 'G'}

	r := New(siteBase, types)
	if _, changed, _ := r.ProcessFile(context.Background(), record("/a.png", "image/png"), png); changed {
		t.Error("expected binary content to be left alone")
	}
	r = New(siteBase, types, WithRewriteAll(true))
	out, changed, err := r.ProcessFile(context.Background(), record("/a.png", "image/png"), png)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if !changed || string(out) != string(png) {
		t.Error("expected binary content to be saved as is")
	}
}

func TestDocTypes(t *testing.T) {
	t.Parallel()

	types := testTypes(t)

	t.Run("lookup by mime, extension and alias", func(t *testing.T) {
		t.Parallel()
		for _, key := range []string{"text/html", "TEXT/HTML", ".html", ".HTM"} {
			dt, ok := types.Lookup(key)
			if !ok || dt.Mime != "text/html" {
				t.Errorf("expected text/html for %q", key)
			}
		}
		if types.Extension("image/png") != ".png" {
			t.Errorf("expected .png, got %q", types.Extension("image/png"))
		}
	})

	t.Run("title", func(t *testing.T) {
		t.Parallel()
		title, ok := types.Title("text/html", []byte("<html><head><TITLE> Hello &amp;\n  World </TITLE>"))
		if !ok || title != "Hello & World" {
			t.Errorf("expected %q, got %q", "Hello & World", title)
		}
		if _, ok := types.Title("text/css", []byte("x")); ok {
			t.Error("expected no title rule for css")
		}
	})

	t.Run("duplicate mime", func(t *testing.T) {
		t.Parallel()
		_, err := NewDocTypes([]config.DocType{{Mime: "text/html"}, {Mime: "text/html"}})
		if !errors.Is(err, ErrDuplicateType) {
			t.Errorf("expected ErrDuplicateType, got %v", err)
		}
	})

	t.Run("attribute with unknown type", func(t *testing.T) {
		t.Parallel()
		_, err := NewDocTypes([]config.DocType{{
			Mime: "text/html",
			Tags: []config.Tag{{Name: "div", Attributes: []config.TagAttribute{{Name: "style", Mime: "text/css"}}}},
		}})
		if !errors.Is(err, ErrUnknownType) {
			t.Errorf("expected ErrUnknownType, got %v", err)
		}
	})
}

func TestIsTagMatch(t *testing.T) {
	t.Parallel()

	root, err := html.Parse(strings.NewReader(`<html><body><nav><a id="n" rel="Next" href="/n">n</a></nav><a id="o" href="/o">o</a></body></html>`))
	if err != nil {
		t.Fatalf("failed to parse: %v", err)
	}
	find := func(id string) *html.Node {
		var found *html.Node
		var walk func(*html.Node)
		walk = func(n *html.Node) {
			if v, ok := Attr(n, "id"); ok && v == id {
				found = n
			}
			for c := n.FirstChild; c != nil; c = c.NextSibling {
				walk(c)
			}
		}
		walk(root)
		return found
	}
	nav, other := find("n"), find("o")

	tests := []struct {
		name string
		n    *html.Node
		tag  config.Tag
		want bool
	}{
		{name: "name only", n: other, tag: config.Tag{Name: "A"}, want: true},
		{name: "different name", n: other, tag: config.Tag{Name: "img"}, want: false},
		{name: "ancestor present", n: nav, tag: config.Tag{Name: "a", Ancestor: "NAV"}, want: true},
		{name: "ancestor absent", n: other, tag: config.Tag{Name: "a", Ancestor: "nav"}, want: false},
		{name: "where matches ignoring case", n: nav, tag: config.Tag{Name: "a", Where: "rel=prev|next"}, want: true},
		{name: "where missing attribute", n: other, tag: config.Tag{Name: "a", Where: "rel=next"}, want: false},
		{name: "negated where", n: nav, tag: config.Tag{Name: "a", Where: "rel!=next"}, want: false},
		{name: "negated where missing attribute", n: other, tag: config.Tag{Name: "a", Where: "rel!=next"}, want: true},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			t.Parallel()
			if got := IsTagMatch(tt.n, tt.tag); got != tt.want {
				t.Errorf("expected %v, got %v", tt.want, got)
			}
		})
	}
}

func TestProcess(t *testing.T) {
	t.Parallel()

	ctx := context.Background()
	dir := t.TempDir()
	s, err := store.Open(dir, store.DefaultOptions())
	if err != nil {
		t.Fatalf("failed to open store: %v", err)
	}
	defer s.Close()

	add := func(key, contentType, body string) model.ContentRecord {
		rec := model.NewRecord(key, time.Now())
		rec.ContentType = contentType
		rec.HTTPStatus = 200
		if err := s.Put(ctx, key, rec); err != nil {
			t.Fatalf("failed to put %s: %v", key, err)
		}
		if err := s.WriteRecordContent(ctx, key, []byte(body)); err != nil {
			t.Fatalf("failed to write %s: %v", key, err)
		}
		rec, _, err := s.Get(ctx, key)
		if err != nil {
			t.Fatalf("failed to get %s: %v", key, err)
		}
		return rec
	}

	add("/a.html", "text/html", `<a href="/old">x</a>`)
	add("/b.css", "text/css", `p { background: url(/old) }`)
	broken := add("/c.html", "text/html", `<a href="/old">y</a>`)
	if err := os.WriteFile(filepath.Join(dir, store.ContentDir, store.BlobName(broken.ContentStoreID)), []byte("garbage"), 0600); err != nil {
		t.Fatalf("failed to corrupt blob: %v", err)
	}

	r := New(siteBase, testTypes(t), WithStore(s))
	r.OnRewriteURI(renamePath("/old", "/new"))
	err = r.ProcessAll(ctx)
	if !errors.Is(err, store.ErrCorrupt) {
		t.Fatalf("expected aggregated ErrCorrupt, got %v", err)
	}

	for key, want := range map[string]string{
		"/a.html": `<a href="/new">x</a>`,
		"/b.css":  `p { background: url(/new) }`,
	} {
		rec, _, err := s.Get(ctx, key)
		if err != nil {
			t.Fatalf("failed to get %s: %v", key, err)
		}
		got, err := s.ReadContent(rec, true)
		if err != nil {
			t.Fatalf("failed to read %s: %v", key, err)
		}
		if string(got) != want {
			t.Errorf("%s: expected %s, got %s", key, want, got)
		}
	}

	t.Run("without a store", func(t *testing.T) {
		t.Parallel()
		if err := New(siteBase, testTypes(t)).ProcessAll(ctx); !errors.Is(err, ErrNoStore) {
			t.Errorf("expected ErrNoStore, got %v", err)
		}
	})
}
