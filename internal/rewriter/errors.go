package rewriter

import "errors"

var (
	// ErrDuplicateType is returned when two document types claim the same
	// MIME type or extension.
	ErrDuplicateType = errors.New("duplicate document type")

	// ErrUnknownType is returned when an attribute rule names a MIME type
	// missing from the table.
	ErrUnknownType = errors.New("unknown document type")

	// ErrMalformed is returned for a document that cannot be parsed.
	ErrMalformed = errors.New("malformed document")

	// ErrNoStore is returned by Process when the rewriter has no store.
	ErrNoStore = errors.New("rewriter has no content store")
)
