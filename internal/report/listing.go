package report

import (
	"net/http"
	"time"

	"github.com/nao1215/sitemirror/internal/model"
	"github.com/nao1215/sitemirror/internal/site"
)

// Entry is one record of a listing.
type Entry struct {
	Path        string    `json:"path"`
	Status      int       `json:"status"`
	ContentType string    `json:"contentType,omitempty"`
	Size        int64     `json:"size"`
	StoredSize  int64     `json:"storedSize"`
	Redirect    string    `json:"redirect,omitempty"`
	ETag        string    `json:"etag,omitempty"`
	LastCrawled time.Time `json:"lastCrawled"`
	Modified    time.Time `json:"modified"`
}

// Summary counts the records of a listing.
type Summary struct {
	Total       int   `json:"total"`
	WithContent int   `json:"withContent"`
	Redirects   int   `json:"redirects"`
	Errors      int   `json:"errors"`
	Bytes       int64 `json:"bytes"`
	StoredBytes int64 `json:"storedBytes"`
}

// Listing is the record listing of a site.
type Listing struct {
	Site      string    `json:"site"`
	Generated time.Time `json:"generated"`
	Summary   Summary   `json:"summary"`
	Records   []Entry   `json:"records"`
}

// NewListing builds the listing of recs for the site.
func NewListing(siteURL string, recs []model.ContentRecord, now time.Time) *Listing {
	l := &Listing{
		Site:      siteURL,
		Generated: now.UTC(),
		Records:   make([]Entry, 0, len(recs)),
	}
	for _, rec := range recs {
		e := Entry{
			Path:        rec.ContentURI,
			Status:      rec.HTTPStatus,
			ContentType: rec.ContentType,
			Redirect:    rec.ContentRedirect,
			ETag:        rec.ETag,
			LastCrawled: rec.LastCrawled,
			Modified:    rec.DateModified,
		}
		if rec.HasContent() {
			e.Size = rec.ContentLength
			e.StoredSize = rec.ContentLength
			if rec.IsCompressed() {
				e.StoredSize = rec.CompressedLength
			}
			l.Summary.WithContent++
		}
		switch {
		case rec.IsRedirect():
			l.Summary.Redirects++
		case rec.HTTPStatus >= http.StatusBadRequest:
			l.Summary.Errors++
		}
		l.Summary.Total++
		l.Summary.Bytes += e.Size
		l.Summary.StoredBytes += e.StoredSize
		l.Records = append(l.Records, e)
	}
	return l
}

// LinkReport is the link inventory of a site.
type LinkReport struct {
	Site      string           `json:"site"`
	Generated time.Time        `json:"generated"`
	Links     []site.LinkCount `json:"links"`
}

// NewLinkReport wraps links for output.
func NewLinkReport(siteURL string, links []site.LinkCount, now time.Time) *LinkReport {
	return &LinkReport{Site: siteURL, Generated: now.UTC(), Links: links}
}
