package site

import (
	"context"
	"errors"
	"net/url"
	"os"
	"path/filepath"
	"reflect"
	"strings"
	"testing"
)

func exportSite(t *testing.T) *Site {
	t.Helper()
	st := openStore(t, t.TempDir())
	addPage(t, st, "/", `<html><head><title>Home</title></head><body><a href="/docs/">Docs</a><a href="/search?q=go">Search</a><img src="/logo.png"><a href="http://other.com/">Other</a></body></html>`)
	addPage(t, st, "/docs/", `<html><head><title>Docs</title></head><body><a href="/">home</a></body></html>`)
	addPage(t, st, "/search?q=go", `<html><head><title>Go  Results!</title></head><body><a href="/docs/">docs</a></body></html>`)
	addContent(t, st, "/logo.png", "image/png", "PNG")
	return newSite(t, testBase, st)
}

func TestFriendlyNames(t *testing.T) {
	t.Parallel()

	t.Run("derives names", func(t *testing.T) {
		t.Parallel()

		got, err := exportSite(t).FriendlyNames(context.Background())
		if err != nil {
			t.Fatalf("failed to derive names: %v", err)
		}
		want := map[string]string{
			"/":            "/index.html",
			"/docs/":       "/docs/index.html",
			"/logo.png":    "/logo.png",
			"/search?q=go": "/search/Go-Results.html",
		}
		if !reflect.DeepEqual(got, want) {
			t.Errorf("expected %v, got %v", want, got)
		}
	})

	t.Run("query without title", func(t *testing.T) {
		t.Parallel()

		st := openStore(t, t.TempDir())
		addContent(t, st, "/list?page=2", "text/plain", "plain")
		got, err := newSite(t, testBase, st).FriendlyNames(context.Background())
		if err != nil {
			t.Fatalf("failed to derive names: %v", err)
		}
		if name := got["/list?page=2"]; name != "/list/page-2.txt" {
			t.Errorf("expected /list/page-2.txt, got %s", name)
		}
	})

	t.Run("resolves collisions", func(t *testing.T) {
		t.Parallel()

		st := openStore(t, t.TempDir())
		addPage(t, st, "/A.html", "upper")
		addPage(t, st, "/a.html", "lower")
		addPage(t, st, "/page?id=1", "<title>Same</title>")
		addPage(t, st, "/page?id=2", "<title>Same</title> again")
		got, err := newSite(t, testBase, st).FriendlyNames(context.Background())
		if err != nil {
			t.Fatalf("failed to derive names: %v", err)
		}
		want := map[string]string{
			"/A.html":    "/A.html",
			"/a.html":    "/a_1.html",
			"/page?id=1": "/page/Same.html",
			"/page?id=2": "/page/Same-id-2.html",
		}
		if !reflect.DeepEqual(got, want) {
			t.Errorf("expected %v, got %v", want, got)
		}
	})

	t.Run("skips records without content", func(t *testing.T) {
		t.Parallel()

		st := openStore(t, t.TempDir())
		s := newSite(t, testBase, st)
		addPage(t, st, "/a", "a")
		if err := s.Rename(context.Background(), "/a", "/b", true); err != nil {
			t.Fatalf("failed to rename: %v", err)
		}
		got, err := s.FriendlyNames(context.Background())
		if err != nil {
			t.Fatalf("failed to derive names: %v", err)
		}
		if _, ok := got["/a"]; ok || len(got) != 1 {
			t.Errorf("expected only /b to be named, got %v", got)
		}
	})
}

func readFile(t *testing.T, path string) string {
	t.Helper()
	data, err := os.ReadFile(path) //nolint:gosec // test file
	if err != nil {
		t.Fatalf("failed to read %s: %v", path, err)
	}
	return string(data)
}

func TestExport(t *testing.T) {
	t.Parallel()

	t.Run("relative links", func(t *testing.T) {
		t.Parallel()

		dir := t.TempDir()
		if err := exportSite(t).Export(context.Background(), dir, ExportOptions{}); err != nil {
			t.Fatalf("failed to export: %v", err)
		}

		index := readFile(t, filepath.Join(dir, "index.html"))
		for _, want := range []string{
			`href="docs/index.html"`,
			`href="search/Go-Results.html"`,
			`src="logo.png"`,
			`href="http://other.com/"`,
		} {
			if !strings.Contains(index, want) {
				t.Errorf("expected %s in %q", want, index)
			}
		}
		results := readFile(t, filepath.Join(dir, "search", "Go-Results.html"))
		if !strings.Contains(results, `href="../docs/index.html"`) {
			t.Errorf("expected relative link to docs, got %q", results)
		}
		if got := readFile(t, filepath.Join(dir, "logo.png")); got != "PNG" {
			t.Errorf("expected PNG, got %q", got)
		}
		if _, err := os.Stat(filepath.Join(dir, "docs", "index.html")); err != nil {
			t.Errorf("expected docs/index.html: %v", err)
		}
	})

	t.Run("rebased links", func(t *testing.T) {
		t.Parallel()

		dir := t.TempDir()
		rebase := &url.URL{Scheme: "https", Host: "cdn.test", Path: "/site/"}
		if err := exportSite(t).Export(context.Background(), dir, ExportOptions{Rebase: rebase}); err != nil {
			t.Fatalf("failed to export: %v", err)
		}
		index := readFile(t, filepath.Join(dir, "index.html"))
		if !strings.Contains(index, `href="https://cdn.test/site/docs/index.html"`) {
			t.Errorf("expected rebased link, got %q", index)
		}
	})

	t.Run("target is a file", func(t *testing.T) {
		t.Parallel()

		file := filepath.Join(t.TempDir(), "file")
		if err := os.WriteFile(file, nil, 0600); err != nil {
			t.Fatalf("failed to create file: %v", err)
		}
		err := exportSite(t).Export(context.Background(), file, ExportOptions{})
		if !errors.Is(err, ErrInvalidExportDir) {
			t.Errorf("expected ErrInvalidExportDir, got %v", err)
		}
	})

	t.Run("store is untouched", func(t *testing.T) {
		t.Parallel()

		s := exportSite(t)
		if err := s.Export(context.Background(), t.TempDir(), ExportOptions{}); err != nil {
			t.Fatalf("failed to export: %v", err)
		}
		_, body, err := s.Content(context.Background(), "/docs/")
		if err != nil {
			t.Fatalf("failed to read content: %v", err)
		}
		if !strings.Contains(string(body), `href="/"`) {
			t.Errorf("expected stored document unchanged, got %q", body)
		}
	})
}
