package rewriter

import (
	"context"
	"fmt"

	"cloudeng.io/errors"
	"github.com/nao1215/sitemirror/internal/model"
	"github.com/nao1215/sitemirror/internal/store"
)

// Store is the part of the content store the rewriter reads and writes.
type Store interface {
	Range(ctx context.Context, prefix string, fn func(key string, rec model.ContentRecord) error) error
	ReadContent(rec model.ContentRecord, decompress bool) ([]byte, error)
	WriteRecordContent(ctx context.Context, key string, content []byte) error
}

// SaveFunc stores the rewritten content of a record.
type SaveFunc func(ctx context.Context, rec model.ContentRecord, content []byte) error

// Filter selects the records Process visits. A nil Filter selects all.
type Filter func(rec model.ContentRecord) bool

// MimeFilter selects records of one MIME type.
func MimeFilter(mime string) Filter {
	return func(rec model.ContentRecord) bool {
		return rec.MimeType() == mime
	}
}

// SaveToStore writes rewritten content back to the rewriter's store.
func (r *Rewriter) SaveToStore(ctx context.Context, rec model.ContentRecord, content []byte) error {
	if r.store == nil {
		return ErrNoStore
	}
	return r.store.WriteRecordContent(ctx, rec.ContentURI, content)
}

// ProcessAll rewrites every record with content and saves changes back to
// the store.
func (r *Rewriter) ProcessAll(ctx context.Context) error {
	return r.Process(ctx, nil, r.SaveToStore)
}

// Process runs every selected record with content through ProcessFile and
// passes changed content to save. A failing record is logged and the walk
// continues; the failures are returned together. Store consistency
// failures and cancellation stop the walk.
func (r *Rewriter) Process(ctx context.Context, filter Filter, save SaveFunc) error {
	if r.store == nil {
		return ErrNoStore
	}
	var errs errors.M
	err := r.store.Range(ctx, "", func(key string, rec model.ContentRecord) error {
		if !rec.HasContent() || (filter != nil && !filter(rec)) {
			return nil
		}
		if err := r.processRecord(ctx, rec, save); err != nil {
			if store.IsFatal(err) || ctx.Err() != nil {
				return err
			}
			r.logger.Warn("error processing key", "key", key, "error", err)
			errs.Append(fmt.Errorf("%s: %w", key, err))
		}
		return nil
	})
	if err != nil {
		return err
	}
	return errs.Err()
}

func (r *Rewriter) processRecord(ctx context.Context, rec model.ContentRecord, save SaveFunc) error {
	content, err := r.store.ReadContent(rec, true)
	if err != nil {
		return err
	}
	out, changed, err := r.ProcessFile(ctx, rec, content)
	if err != nil {
		return err
	}
	if !changed {
		return nil
	}
	return save(ctx, rec, out)
}
