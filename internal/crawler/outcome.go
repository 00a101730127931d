package crawler

import (
	"context"
	"fmt"
	"net/http"

	"github.com/nao1215/sitemirror/internal/metrics"
	"github.com/nao1215/sitemirror/internal/model"
	"github.com/nao1215/sitemirror/internal/uri"
)

// saveContent stores a 200 response. The blob is only rewritten when the
// fetched bytes differ from the last fetch. Links are collected either way.
func (c *Collector) saveContent(ctx context.Context, cr *crawl, path string, resp *Response) error {
	body := resp.Body
	if len(body) == 0 {
		c.logger.Warn("content is empty", "path", path, "status", resp.StatusCode)
	}

	rec, found, err := c.store.Get(ctx, path)
	if err != nil {
		return err
	}
	if !found {
		rec = model.NewRecord(path, c.crawlTime)
	}
	rec.ContentURI = path
	rec.LastCrawled = c.crawlTime
	rec.LastValid = c.crawlTime
	rec.HTTPStatus = resp.StatusCode
	rec.ContentRedirect = ""
	rec.ContentType = resp.Header.Get("Content-Type")
	if etag := resp.Header.Get("ETag"); etag != "" {
		rec.ETag = etag
	}

	outcome := metrics.OutcomeUnchanged
	if hash := model.Hash(body); hash != rec.HashOriginal || !rec.HasContent() {
		c.modified.Store(true)
		outcome = metrics.OutcomeSaved
		rec.HashOriginal = hash
		rec.DateModified = c.crawlTime

		tx, err := c.store.WriteContent(&rec, body)
		if err != nil {
			return fmt.Errorf("failed to save %s: %w", path, err)
		}
		defer func() { _ = tx.Rollback() }()
		if err := tx.Commit(); err != nil {
			return fmt.Errorf("failed to save %s: %w", path, err)
		}
	}
	if _, err := c.store.AddOrUpdate(ctx, path, rec); err != nil {
		return err
	}
	c.metrics.Fetched(outcome, len(body))

	if cr.rw == nil {
		return nil
	}
	if _, _, err := cr.rw.ProcessFile(ctx, rec, body); err != nil {
		c.logger.Warn("failed to parse links", "path", path, "error", err)
	}
	return cr.failure()
}

// saveRedirect records the redirect target and discovers it. Targets on
// the site are stored as path and query, others as absolute URLs.
func (c *Collector) saveRedirect(ctx context.Context, path string, resp *Response) error {
	target := resp.Location.String()
	if uri.SameHost(c.base, resp.Location) {
		target = c.norm.PathAndQuery(resp.Location)
	}

	_, err := c.store.Update(ctx, path, func(rec model.ContentRecord) model.ContentRecord {
		if rec.HTTPStatus != resp.StatusCode || rec.ContentRedirect != target {
			c.modified.Store(true)
		}
		rec.ContentURI = path
		rec.LastCrawled = c.crawlTime
		rec.LastValid = c.crawlTime
		rec.HTTPStatus = resp.StatusCode
		rec.ContentRedirect = target
		return rec
	})
	if err != nil {
		return err
	}
	c.metrics.Fetched(metrics.OutcomeRedirect, 0)

	_, err = c.AddURI(ctx, resp.Location)
	return err
}

// saveNotModified advances the crawl timestamps only.
func (c *Collector) saveNotModified(ctx context.Context, path string) error {
	_, err := c.store.Update(ctx, path, func(rec model.ContentRecord) model.ContentRecord {
		rec.LastCrawled = c.crawlTime
		rec.LastValid = c.crawlTime
		return rec
	})
	if err != nil {
		return err
	}
	c.metrics.Fetched(metrics.OutcomeNotModified, 0)
	return nil
}

// saveHTTPError records the status of a failed fetch. A redirect status
// without a usable Location is stored as 502 so that ContentRedirect stays
// set exactly for redirect statuses.
func (c *Collector) saveHTTPError(ctx context.Context, path string, status int) error {
	if model.IsRedirectStatus(status) {
		c.logger.Warn("redirect without location", "path", path, "status", status)
		status = http.StatusBadGateway
	}
	c.logger.Warn("http error", "path", path, "status", status, "text", http.StatusText(status))
	_, err := c.store.Update(ctx, path, func(rec model.ContentRecord) model.ContentRecord {
		rec.ContentURI = path
		rec.LastCrawled = c.crawlTime
		rec.HTTPStatus = status
		rec.ContentRedirect = ""
		return rec
	})
	if err != nil {
		return err
	}
	c.metrics.Fetched(metrics.OutcomeError, 0)
	return nil
}
