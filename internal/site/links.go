package site

import (
	"context"
	"fmt"
	"net/url"
	"regexp"
	"sort"

	"github.com/nao1215/sitemirror/internal/model"
)

// LinkCount is a link target and the number of times documents reference
// it.
type LinkCount struct {
	Target string `json:"target"`
	Count  int    `json:"count"`
}

// Links returns every link found in the site's documents, sorted by
// target.
func (s *Site) Links(ctx context.Context) ([]LinkCount, error) {
	counts := make(map[string]int)
	rw := s.newRewriter()
	rw.OnVisit(func(u *url.URL) {
		counts[u.String()]++
	})
	if err := rw.Process(ctx, nil, discard); err != nil {
		return nil, err
	}

	links := make([]LinkCount, 0, len(counts))
	for target, n := range counts {
		links = append(links, LinkCount{Target: target, Count: n})
	}
	sort.Slice(links, func(i, j int) bool { return links[i].Target < links[j].Target })
	return links, nil
}

// LinkSources returns the keys of the documents that reference link, in
// key order. link is compared with the absolute form of each reference.
func (s *Site) LinkSources(ctx context.Context, link string) ([]string, error) {
	if u := resolveLink(s.base, link); u != nil {
		link = u.String()
	}

	var (
		current string
		sources []string
	)
	rw := s.newRewriter()
	rw.OnContextChanged(func(rec model.ContentRecord) {
		current = rec.ContentURI
	})
	rw.OnVisit(func(u *url.URL) {
		if u.String() != link {
			return
		}
		if n := len(sources); n > 0 && sources[n-1] == current {
			return
		}
		sources = append(sources, current)
	})
	if err := rw.Process(ctx, nil, discard); err != nil {
		return nil, err
	}
	return sources, nil
}

// Relink replaces every reference to source with target and saves the
// changed documents.
func (s *Site) Relink(ctx context.Context, source, target string) error {
	from := resolveLink(s.base, source)
	to := resolveLink(s.base, target)
	if from == nil || to == nil {
		return fmt.Errorf("%w: %s -> %s", ErrInvalidLink, source, target)
	}
	want := from.String()

	rw := s.newRewriter()
	rw.OnRewriteURI(func(u *url.URL) *url.URL {
		if u.String() == want {
			return to
		}
		return u
	})
	return rw.ProcessAll(ctx)
}

// RelinkMatching replaces every reference whose absolute form matches
// expr with target.
func (s *Site) RelinkMatching(ctx context.Context, expr *regexp.Regexp, target string) error {
	to := resolveLink(s.base, target)
	if to == nil {
		return fmt.Errorf("%w: %s", ErrInvalidLink, target)
	}

	rw := s.newRewriter()
	rw.OnRewriteURI(func(u *url.URL) *url.URL {
		if expr.MatchString(u.String()) {
			return to
		}
		return u
	})
	return rw.ProcessAll(ctx)
}

// resolveLink parses a link given on the command line, relative to the
// site root.
func resolveLink(base *url.URL, link string) *url.URL {
	u, err := url.Parse(link)
	if err != nil {
		return nil
	}
	return base.ResolveReference(u)
}

// discard is a SaveFunc for read-only walks.
func discard(context.Context, model.ContentRecord, []byte) error { return nil }
