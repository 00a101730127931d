package site

import "errors"

var (
	// ErrOtherHost is returned when a URL given for a site operation does
	// not belong to the site.
	ErrOtherHost = errors.New("url does not belong to the site")

	// ErrInvalidLink is returned when a link argument cannot be parsed.
	ErrInvalidLink = errors.New("invalid link")

	// ErrInvalidExportDir is returned when the export target is not a
	// directory.
	ErrInvalidExportDir = errors.New("invalid export directory")
)
