// Package site implements the maintenance operations of a mirrored site:
// listings, link inventory and relinking, renames, removal, duplicate
// detection, copying between stores and export to plain files.
package site

import (
	"context"
	"fmt"
	"log/slog"
	"net/http"
	"net/url"
	"time"

	"github.com/nao1215/sitemirror/internal/config"
	"github.com/nao1215/sitemirror/internal/model"
	"github.com/nao1215/sitemirror/internal/rewriter"
	"github.com/nao1215/sitemirror/internal/store"
	"github.com/nao1215/sitemirror/internal/uri"
)

// Site is a mirrored site: its URL, its store and its configuration.
type Site struct {
	base   *url.URL
	store  *store.Store
	config *config.Site
	types  *rewriter.DocTypes
	norm   uri.Normalizer
	logger *slog.Logger
}

// Option configures a Site.
type Option func(*Site)

// WithLogger sets the logger.
func WithLogger(logger *slog.Logger) Option {
	return func(s *Site) {
		s.logger = logger
	}
}

// New returns the site at base stored in st.
func New(base *url.URL, st *store.Store, cfg *config.Site, opts ...Option) (*Site, error) {
	types, err := rewriter.NewDocTypes(cfg.DocTypes)
	if err != nil {
		return nil, fmt.Errorf("failed to load document types: %w", err)
	}
	s := &Site{
		base:   &url.URL{Scheme: base.Scheme, Host: base.Host, Path: "/"},
		store:  st,
		config: cfg,
		types:  types,
		norm:   uri.Normalizer{Documents: cfg.DefaultDocuments},
		logger: slog.Default(),
	}
	for _, opt := range opts {
		opt(s)
	}
	return s, nil
}

// Base returns the site root URL.
func (s *Site) Base() *url.URL { return s.base }

// Config returns the site configuration.
func (s *Site) Config() *config.Site { return s.config }

// Types returns the document type table.
func (s *Site) Types() *rewriter.DocTypes { return s.types }

// Key returns the store key of ref, a path or an absolute URL on the site.
func (s *Site) Key(ref string) (string, error) {
	u := uri.Resolve(s.base, ref)
	if u == nil || !uri.SameHost(s.base, u) {
		return "", fmt.Errorf("%w: %s", ErrOtherHost, ref)
	}
	return s.norm.PathAndQuery(u), nil
}

// newRewriter returns a rewriter bound to the site's store.
func (s *Site) newRewriter(opts ...rewriter.Option) *rewriter.Rewriter {
	opts = append([]rewriter.Option{rewriter.WithStore(s.store), rewriter.WithLogger(s.logger)}, opts...)
	return rewriter.New(s.base, s.types, opts...)
}

// Records returns the records whose key starts with prefix, in key order.
func (s *Site) Records(ctx context.Context, prefix string) ([]model.ContentRecord, error) {
	var recs []model.ContentRecord
	err := s.store.Range(ctx, prefix, func(_ string, rec model.ContentRecord) error {
		recs = append(recs, rec)
		return nil
	})
	if err != nil {
		return nil, err
	}
	return recs, nil
}

// Content returns the decompressed body stored for ref.
func (s *Site) Content(ctx context.Context, ref string) (model.ContentRecord, []byte, error) {
	key, err := s.Key(ref)
	if err != nil {
		return model.ContentRecord{}, nil, err
	}
	rec, found, err := s.store.Get(ctx, key)
	if err != nil {
		return model.ContentRecord{}, nil, err
	}
	if !found {
		return model.ContentRecord{}, nil, fmt.Errorf("%s: %w", key, store.ErrNotFound)
	}
	content, err := s.store.ReadContent(rec, true)
	if err != nil {
		return rec, nil, err
	}
	return rec, content, nil
}

// Remove deletes the records of refs and their bodies. It returns the keys
// that existed.
func (s *Site) Remove(ctx context.Context, refs ...string) ([]string, error) {
	var removed []string
	for _, ref := range refs {
		key, err := s.Key(ref)
		if err != nil {
			return removed, err
		}
		ok, err := s.store.Remove(ctx, key)
		if err != nil {
			return removed, err
		}
		if !ok {
			s.logger.Warn("path not found", "path", key)
			continue
		}
		removed = append(removed, key)
	}
	return removed, nil
}

// Rename moves the record at from to to. With redirect set, a permanent
// redirect to the new location is left at the old one.
func (s *Site) Rename(ctx context.Context, from, to string, redirect bool) error {
	oldKey, err := s.Key(from)
	if err != nil {
		return err
	}
	newKey, err := s.Key(to)
	if err != nil {
		return err
	}
	if err := s.store.Rename(ctx, oldKey, newKey); err != nil {
		return err
	}
	if !redirect {
		return nil
	}

	rec := model.NewRecord(oldKey, time.Now())
	rec.HTTPStatus = http.StatusMovedPermanently
	rec.ContentRedirect = newKey
	if _, err := s.store.Add(ctx, oldKey, rec); err != nil {
		return fmt.Errorf("failed to add redirect: %w", err)
	}
	return nil
}

// sameSiteKey returns the store key of u when it is on the site.
func (s *Site) sameSiteKey(u *url.URL) (string, bool) {
	if !uri.SameHost(s.base, u) {
		return "", false
	}
	return s.norm.PathAndQuery(u), true
}

// keyURL returns the absolute URL of a store key.
func (s *Site) keyURL(key string) *url.URL {
	if u := uri.Resolve(s.base, key); u != nil {
		return u
	}
	return s.base
}
