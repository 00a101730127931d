package model

import (
	"crypto/sha256"
	"encoding/hex"
	"mime"
	"net/http"
	"strings"
	"time"

	"github.com/google/uuid"
)

// ContentRecord holds the metadata of one mirrored URL.
// The key of a record is its normalized path and query (ContentURI).
//
// ContentRecord is a comparable value type. Store.Update relies on that to
// detect a callback that returned the record unchanged.
type ContentRecord struct {
	// ContentURI is the normalized path+query, without fragment.
	ContentURI string `msgpack:"uri"`

	// ID is assigned at creation and survives renames.
	ID uuid.UUID `msgpack:"id"`

	// DateCreated is the time the URL was first discovered or added.
	DateCreated time.Time `msgpack:"created"`

	// DateModified is the last time the fetched content changed.
	DateModified time.Time `msgpack:"modified,omitempty"`

	// LastCrawled is the time of the last fetch attempt that got a response.
	LastCrawled time.Time `msgpack:"crawled,omitempty"`

	// LastValid is the last time the origin confirmed the content.
	LastValid time.Time `msgpack:"valid,omitempty"`

	// HTTPStatus is the status code as last observed, 0 if never fetched.
	HTTPStatus int `msgpack:"status,omitempty"`

	// ContentType is the raw Content-Type header value.
	ContentType string `msgpack:"type,omitempty"`

	// ContentLength is the decompressed length of the body.
	ContentLength int64 `msgpack:"length,omitempty"`

	// CompressedLength is the stored length when the blob is gzip
	// compressed, and 0 otherwise.
	CompressedLength int64 `msgpack:"compressed,omitempty"`

	// ContentStoreID names the blob file. 0 means the record has no body.
	ContentStoreID uint64 `msgpack:"blob,omitempty"`

	// HashContents is the SHA-256 of the blob bytes as stored on disk.
	HashContents string `msgpack:"hash,omitempty"`

	// HashOriginal is the SHA-256 of the bytes as fetched from the origin.
	HashOriginal string `msgpack:"original,omitempty"`

	// ETag is the validator sent by the origin.
	ETag string `msgpack:"etag,omitempty"`

	// ContentRedirect is the redirect target, set only for redirect statuses.
	ContentRedirect string `msgpack:"redirect,omitempty"`

	// CrawlingInstance identifies the crawl that claimed this URL.
	CrawlingInstance uint64 `msgpack:"instance,omitempty"`
}

// NewRecord returns an empty record for uri created at now.
func NewRecord(uri string, now time.Time) ContentRecord {
	return ContentRecord{
		ContentURI:  uri,
		ID:          uuid.New(),
		DateCreated: now.UTC(),
	}
}

// HasContent reports whether the record references a blob.
func (r ContentRecord) HasContent() bool {
	return r.ContentStoreID != 0
}

// IsCompressed reports whether the blob is stored gzip compressed.
func (r ContentRecord) IsCompressed() bool {
	return r.CompressedLength > 0
}

// IsRedirect reports whether the record is a redirect.
func (r ContentRecord) IsRedirect() bool {
	return IsRedirectStatus(r.HTTPStatus) && r.ContentRedirect != ""
}

// MimeType returns the lower-cased media type without parameters.
// It falls back to application/octet-stream for records without a type.
func (r ContentRecord) MimeType() string {
	return MediaType(r.ContentType)
}

// Charset returns the charset parameter of the content type, if any.
func (r ContentRecord) Charset() string {
	_, params, err := mime.ParseMediaType(r.ContentType)
	if err != nil {
		return ""
	}
	return strings.ToLower(params["charset"])
}

// MediaType strips parameters from a Content-Type value.
func MediaType(contentType string) string {
	if contentType == "" {
		return "application/octet-stream"
	}
	mt, _, err := mime.ParseMediaType(contentType)
	if err != nil {
		mt, _, _ = strings.Cut(contentType, ";")
	}
	return strings.ToLower(strings.TrimSpace(mt))
}

// IsRedirectStatus reports whether code is a redirect carrying a Location.
func IsRedirectStatus(code int) bool {
	switch code {
	case http.StatusMovedPermanently, http.StatusFound, http.StatusSeeOther,
		http.StatusTemporaryRedirect, http.StatusPermanentRedirect:
		return true
	}
	return false
}

// Hash returns the lowercase hex SHA-256 of data.
func Hash(data []byte) string {
	sum := sha256.Sum256(data)
	return hex.EncodeToString(sum[:])
}
