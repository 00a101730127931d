package site

import (
	"context"
	"errors"
	"reflect"
	"regexp"
	"strings"
	"testing"

	"github.com/nao1215/sitemirror/internal/store"
)

func linkedSite(t *testing.T) (*Site, *store.Store) {
	t.Helper()
	st := openStore(t, t.TempDir())
	addPage(t, st, "/", `<a href="/a">A</a><a href="b">B</a><img src="/img.png"><a href="http://other.com/x">x</a>`)
	addPage(t, st, "/a", `<a href="/">home</a><a href="/b">B</a>`)
	addPage(t, st, "/b", `<p>no links</p>`)
	return newSite(t, testBase, st), st
}

func TestLinks(t *testing.T) {
	t.Parallel()

	s, _ := linkedSite(t)
	got, err := s.Links(context.Background())
	if err != nil {
		t.Fatalf("failed to collect links: %v", err)
	}
	want := []LinkCount{
		{Target: "http://example.com/", Count: 1},
		{Target: "http://example.com/a", Count: 1},
		{Target: "http://example.com/b", Count: 2},
		{Target: "http://example.com/img.png", Count: 1},
		{Target: "http://other.com/x", Count: 1},
	}
	if !reflect.DeepEqual(got, want) {
		t.Errorf("expected %v, got %v", want, got)
	}
}

func TestLinkSources(t *testing.T) {
	t.Parallel()

	s, _ := linkedSite(t)
	ctx := context.Background()

	t.Run("site path", func(t *testing.T) {
		got, err := s.LinkSources(ctx, "/b")
		if err != nil {
			t.Fatalf("failed to find sources: %v", err)
		}
		if want := []string{"/", "/a"}; !reflect.DeepEqual(got, want) {
			t.Errorf("expected %v, got %v", want, got)
		}
	})

	t.Run("external link", func(t *testing.T) {
		got, err := s.LinkSources(ctx, "http://other.com/x")
		if err != nil {
			t.Fatalf("failed to find sources: %v", err)
		}
		if want := []string{"/"}; !reflect.DeepEqual(got, want) {
			t.Errorf("expected %v, got %v", want, got)
		}
	})

	t.Run("unknown link", func(t *testing.T) {
		got, err := s.LinkSources(ctx, "/nowhere")
		if err != nil {
			t.Fatalf("failed to find sources: %v", err)
		}
		if len(got) != 0 {
			t.Errorf("expected no sources, got %v", got)
		}
	})
}

func TestRelink(t *testing.T) {
	t.Parallel()

	t.Run("exact link", func(t *testing.T) {
		t.Parallel()

		s, st := linkedSite(t)
		ctx := context.Background()
		if err := s.Relink(ctx, "/b", "/c"); err != nil {
			t.Fatalf("failed to relink: %v", err)
		}
		for _, key := range []string{"/", "/a"} {
			body := readBody(t, st, key)
			if !strings.Contains(body, `href="http://example.com/c"`) {
				t.Errorf("expected %s to link to /c, got %q", key, body)
			}
		}
		sources, err := s.LinkSources(ctx, "/b")
		if err != nil {
			t.Fatalf("failed to find sources: %v", err)
		}
		if len(sources) != 0 {
			t.Errorf("expected no links to /b, got %v", sources)
		}
		if got := readBody(t, st, "/b"); got != "<p>no links</p>" {
			t.Errorf("expected /b unchanged, got %q", got)
		}
	})

	t.Run("invalid link", func(t *testing.T) {
		t.Parallel()

		s, _ := linkedSite(t)
		err := s.Relink(context.Background(), "/b", "http://[::1")
		if !errors.Is(err, ErrInvalidLink) {
			t.Errorf("expected ErrInvalidLink, got %v", err)
		}
	})
}

func TestRelinkMatching(t *testing.T) {
	t.Parallel()

	s, st := linkedSite(t)
	expr := regexp.MustCompile(`/img\.png$`)
	if err := s.RelinkMatching(context.Background(), expr, "/logo.png"); err != nil {
		t.Fatalf("failed to relink: %v", err)
	}
	body := readBody(t, st, "/")
	if !strings.Contains(body, `src="http://example.com/logo.png"`) {
		t.Errorf("expected image to be relinked, got %q", body)
	}
	if !strings.Contains(body, `href="/a"`) {
		t.Errorf("expected other links untouched, got %q", body)
	}
}
