package site

import (
	"context"
	"fmt"
	"net/url"
	"path/filepath"

	"cloudeng.io/errors"
	"github.com/nao1215/sitemirror/internal/model"
	"github.com/nao1215/sitemirror/internal/rewriter"
	"github.com/nao1215/sitemirror/internal/store"
	"github.com/nao1215/sitemirror/internal/uri"
)

// CopyOptions controls CopyTo.
type CopyOptions struct {
	// Overwrite replaces records that already exist in the target.
	Overwrite bool

	// Reformat re-serializes every tree document.
	Reformat bool
}

// CopyTo copies every record into dst, the store of the site at target.
// Links to this site are rebased onto target. Existing records in dst are
// kept unless opts.Overwrite is set.
func (s *Site) CopyTo(ctx context.Context, target *url.URL, dst *store.Store, opts CopyOptions) error {
	rw := s.newRewriter(rewriter.WithReformat(opts.Reformat))
	if !uri.SameHost(s.base, target) {
		rw.OnRewriteURI(func(u *url.URL) *url.URL {
			if !uri.SameHost(s.base, u) {
				return u
			}
			return target.ResolveReference(&url.URL{Path: u.Path, RawPath: u.RawPath, RawQuery: u.RawQuery, Fragment: u.Fragment})
		})
	}
	return s.copyRecords(ctx, dst, rw, opts.Overwrite)
}

// copyRecords writes every record of the site into dst, passing bodies
// through rw when it is not nil.
func (s *Site) copyRecords(ctx context.Context, dst *store.Store, rw *rewriter.Rewriter, overwrite bool) error {
	var errs errors.M
	err := s.store.Range(ctx, "", func(key string, rec model.ContentRecord) error {
		err := s.copyRecord(ctx, dst, rw, key, rec, overwrite)
		if store.IsFatal(err) || ctx.Err() != nil {
			return err
		}
		if err != nil {
			s.logger.Warn("error processing key", "key", key, "error", err)
			errs.Append(fmt.Errorf("%s: %w", key, err))
		}
		return nil
	})
	if err != nil {
		return err
	}
	return errs.Err()
}

func (s *Site) copyRecord(ctx context.Context, dst *store.Store, rw *rewriter.Rewriter, key string, rec model.ContentRecord, overwrite bool) error {
	if !overwrite {
		exists, err := dst.ContainsKey(ctx, key)
		if err != nil {
			return err
		}
		if exists {
			s.logger.Warn("path already exists", "path", key)
			return nil
		}
	}

	var content []byte
	if rec.HasContent() {
		data, err := s.store.ReadContent(rec, true)
		if err != nil {
			return err
		}
		content = data
		if rw != nil {
			out, _, err := rw.ProcessFile(ctx, rec, data)
			if err != nil {
				return err
			}
			content = out
		}
	}
	return dst.CopyContent(ctx, key, rec, content)
}

// Snapshot copies the store into a new storage version of the site root
// and activates it. The version name is name, or name(n) when taken. The
// receiver keeps using the old store.
func (s *Site) Snapshot(ctx context.Context, root, name string) (string, error) {
	if !store.ValidVersion(name) {
		return "", fmt.Errorf("%q: %w", name, store.ErrInvalidVersion)
	}
	version := store.NextVersion(root, name)
	dst, err := store.Open(filepath.Join(root, version), store.DefaultOptions())
	if err != nil {
		return "", err
	}
	if err := s.copyRecords(ctx, dst, nil, true); err != nil {
		_ = dst.Close()
		return "", err
	}
	if err := dst.Close(); err != nil {
		return "", err
	}
	if err := store.Activate(root, version); err != nil {
		return "", err
	}
	return version, nil
}
