package site

import (
	"context"
	"fmt"
	"net/url"
	"os"
	"path"
	"path/filepath"
	"regexp"
	"strings"

	"github.com/nao1215/sitemirror/internal/model"
	"github.com/nao1215/sitemirror/internal/rewriter"
)

// fileName matches paths that already end in a file extension.
var fileName = regexp.MustCompile(`\w+\.\w{1,10}$`)

// ExportOptions controls Export.
type ExportOptions struct {
	// Rebase, when set, makes links to exported files absolute URLs under
	// this location. Otherwise links are written relative to each file.
	Rebase *url.URL

	// Reformat re-serializes every tree document.
	Reformat bool
}

// FriendlyNames maps the key of every record with a body to the file name
// it is exported as. Names start with '/'.
//
// Paths without a query keep their path; a trailing '/' becomes "index".
// Paths with a query are named after the document title, then the query,
// then the blob id. The extension registered for the MIME type is appended
// when missing and clashing names get a numeric suffix.
func (s *Site) FriendlyNames(ctx context.Context) (map[string]string, error) {
	bad, err := regexp.Compile(s.config.BadNameChars)
	if err != nil {
		return nil, fmt.Errorf("failed to compile badNameChars: %w", err)
	}
	clean := func(v string) string {
		return strings.Trim(bad.ReplaceAllString(v, "-"), "-")
	}

	used := make(map[string]bool)
	renamed := make(map[string]string)
	err = s.store.Range(ctx, "", func(key string, rec model.ContentRecord) error {
		if !rec.HasContent() {
			return nil
		}
		u := s.keyURL(key)
		ext := s.types.Extension(rec.MimeType())

		var name string
		if u.RawQuery == "" {
			name = u.Path
			if fileName.MatchString(name) {
				ext = path.Ext(name)
			}
		} else {
			title := ""
			if _, ok := s.types.Lookup(rec.MimeType()); ok {
				content, err := s.store.ReadContent(rec, true)
				if err != nil {
					return err
				}
				if t, ok := s.types.Title(rec.MimeType(), content); ok {
					title = clean(t)
				}
			}
			if title == "" {
				title = clean(u.RawQuery)
			}
			if title == "" {
				title = fmt.Sprintf("%08x", rec.ContentStoreID)
			}
			dir := u.Path
			if !strings.HasSuffix(dir, "/") {
				dir += "/"
			}
			name = dir + title
		}

		if name == "" || strings.HasSuffix(name, "/") {
			name += "index"
		}
		if !strings.HasSuffix(strings.ToLower(name), strings.ToLower(ext)) {
			name += ext
		}

		if used[strings.ToLower(name)] {
			stem := name[:len(name)-len(ext)]
			candidate := name
			if q := clean(u.RawQuery); q != "" {
				candidate = stem + "-" + q + ext
			}
			for i := 1; used[strings.ToLower(candidate)]; i++ {
				candidate = fmt.Sprintf("%s_%d%s", stem, i, ext)
			}
			name = candidate
		}
		used[strings.ToLower(name)] = true
		renamed[key] = name
		return nil
	})
	if err != nil {
		return nil, err
	}
	return renamed, nil
}

// Export writes every record with a body below dir under its friendly
// name, creating dir if needed. Links between exported documents are
// rewritten to the new names.
func (s *Site) Export(ctx context.Context, dir string, opts ExportOptions) error {
	if info, err := os.Stat(dir); err == nil && !info.IsDir() {
		return fmt.Errorf("%w: %s", ErrInvalidExportDir, dir)
	}
	if err := os.MkdirAll(dir, 0750); err != nil {
		return fmt.Errorf("failed to create %s: %w", dir, err)
	}
	renamed, err := s.FriendlyNames(ctx)
	if err != nil {
		return err
	}

	rw := s.newRewriter(
		rewriter.WithRewriteAll(true),
		rewriter.WithRelativeLinks(opts.Rebase == nil),
		rewriter.WithReformat(opts.Reformat),
	)
	rw.OnRewriteURI(func(u *url.URL) *url.URL {
		key, ok := s.sameSiteKey(u)
		if !ok {
			return u
		}
		name, ok := renamed[key]
		if !ok {
			return u
		}
		ref := &url.URL{Path: strings.TrimPrefix(name, "/"), Fragment: u.Fragment}
		if opts.Rebase != nil {
			return opts.Rebase.ResolveReference(ref)
		}
		return s.base.ResolveReference(ref)
	})

	return rw.Process(ctx, nil, func(_ context.Context, rec model.ContentRecord, content []byte) error {
		name, ok := renamed[rec.ContentURI]
		if !ok {
			return nil
		}
		file := filepath.Join(dir, filepath.FromSlash(strings.TrimPrefix(name, "/")))
		if err := os.MkdirAll(filepath.Dir(file), 0750); err != nil {
			return fmt.Errorf("failed to create directory: %w", err)
		}
		if err := os.WriteFile(file, content, 0600); err != nil {
			return fmt.Errorf("failed to write %s: %w", file, err)
		}
		return nil
	})
}
