package site

import (
	"context"
	"fmt"
	"net/http"
	"net/url"

	"cloudeng.io/errors"
	"github.com/nao1215/sitemirror/internal/model"
	"github.com/nao1215/sitemirror/internal/store"
)

// Duplicate is a record whose body equals the body of an earlier record.
type Duplicate struct {
	Path     string `json:"path"`
	Original string `json:"original"`
}

// FindDuplicates returns the records whose stored body equals the body of
// a record earlier in key order.
func (s *Site) FindDuplicates(ctx context.Context) ([]Duplicate, error) {
	first := make(map[string]string)
	var dups []Duplicate
	err := s.store.Range(ctx, "", func(key string, rec model.ContentRecord) error {
		if !rec.HasContent() {
			return nil
		}
		if original, ok := first[rec.HashContents]; ok {
			dups = append(dups, Duplicate{Path: key, Original: original})
			return nil
		}
		first[rec.HashContents] = key
		return nil
	})
	if err != nil {
		return nil, err
	}
	return dups, nil
}

// Deduplicate resolves dups. By default each duplicate becomes a 302
// redirect to its original and loses its body. With remove set, links to
// duplicates are retargeted to the originals and the duplicates deleted.
func (s *Site) Deduplicate(ctx context.Context, dups []Duplicate, remove bool) error {
	if len(dups) == 0 {
		return nil
	}
	replace := make(map[string]string, len(dups))
	for _, d := range dups {
		replace[d.Path] = d.Original
	}

	if remove {
		rw := s.newRewriter()
		rw.OnRewriteURI(func(u *url.URL) *url.URL {
			key, ok := s.sameSiteKey(u)
			if !ok {
				return u
			}
			if original, ok := replace[key]; ok {
				return s.keyURL(original)
			}
			return u
		})
		if err := rw.ProcessAll(ctx); err != nil {
			return err
		}
	}

	var errs errors.M
	for _, d := range dups {
		var err error
		if remove {
			_, err = s.store.Remove(ctx, d.Path)
		} else {
			err = s.store.ClearContent(ctx, d.Path, func(rec model.ContentRecord) model.ContentRecord {
				rec.ContentLength = 0
				rec.ContentType = ""
				rec.HTTPStatus = http.StatusFound
				rec.ContentRedirect = d.Original
				return rec
			})
		}
		if store.IsFatal(err) {
			return err
		}
		if err != nil {
			s.logger.Warn("failed to resolve duplicate", "path", d.Path, "error", err)
			errs.Append(fmt.Errorf("%s: %w", d.Path, err))
		}
	}
	return errs.Err()
}
