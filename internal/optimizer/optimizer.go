// Package optimizer applies the remove and replace rules of each document
// type to the stored documents of a site.
package optimizer

import (
	"context"
	"log/slog"
	"net/url"

	"cloudeng.io/errors"
	"github.com/nao1215/sitemirror/internal/model"
	"github.com/nao1215/sitemirror/internal/rewriter"
	"github.com/nao1215/sitemirror/internal/store"
)

// Optimizer rewrites stored documents according to their optimize rules.
// Links are written relative to each document.
type Optimizer struct {
	site     *url.URL
	types    *rewriter.DocTypes
	store    rewriter.Store
	condense bool
	logger   *slog.Logger
}

// Option configures an Optimizer.
type Option func(*Optimizer)

// WithCondense re-serializes every tree document, even when no rule applied.
func WithCondense(on bool) Option {
	return func(o *Optimizer) {
		o.condense = on
	}
}

// WithLogger sets the logger.
func WithLogger(logger *slog.Logger) Option {
	return func(o *Optimizer) {
		o.logger = logger
	}
}

// New returns an Optimizer for the site at base.
func New(site *url.URL, types *rewriter.DocTypes, st rewriter.Store, opts ...Option) *Optimizer {
	o := &Optimizer{
		site:   site,
		types:  types,
		store:  st,
		logger: slog.Default(),
	}
	for _, opt := range opts {
		opt(o)
	}
	return o
}

// OptimizeAll optimizes every document whose type has optimize rules.
func (o *Optimizer) OptimizeAll(ctx context.Context) error {
	return o.run(ctx, nil)
}

// OptimizePage optimizes the document stored under path.
func (o *Optimizer) OptimizePage(ctx context.Context, path string) error {
	return o.run(ctx, func(rec model.ContentRecord) bool {
		return rec.ContentURI == path
	})
}

func (o *Optimizer) run(ctx context.Context, filter rewriter.Filter) error {
	var errs errors.M
	for _, dt := range o.types.Types() {
		if dt.Optimize == nil {
			continue
		}
		rw := rewriter.New(o.site, o.types,
			rewriter.WithStore(o.store),
			rewriter.WithLogger(o.logger),
			rewriter.WithRelativeLinks(true),
			rewriter.WithReformat(o.condense || dt.Optimize.Condense),
		)
		j, err := newJob(o.site, dt)
		if err != nil {
			return err
		}
		j.register(rw)

		err = rw.Process(ctx, func(rec model.ContentRecord) bool {
			if filter != nil && !filter(rec) {
				return false
			}
			found, ok := o.types.Lookup(rec.MimeType())
			return ok && found == dt
		}, rw.SaveToStore)
		if err != nil {
			if store.IsFatal(err) || ctx.Err() != nil {
				return err
			}
			errs.Append(err)
		}
	}
	return errs.Err()
}
