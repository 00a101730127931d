package rewriter

import (
	"fmt"
	"html"
	"regexp"
	"strings"

	"github.com/nao1215/sitemirror/internal/config"
)

const tagDivide = ";tag="

// matcher is a compiled match expression.
type matcher struct {
	re    *regexp.Regexp
	group int
}

func compile(m config.Match) (matcher, error) {
	re, err := regexp.Compile(m.Expression)
	if err != nil {
		return matcher{}, fmt.Errorf("%w: %v", config.ErrInvalidExpression, err)
	}
	return matcher{re: re, group: m.GroupID()}, nil
}

// DocType is a compiled document type.
type DocType struct {
	Mime          string
	Ext           string
	Format        config.Format
	RelativeLinks bool
	TextLinks     bool
	Optimize      *config.Optimize

	title   *matcher
	matches []matcher
}

// IsTree reports whether documents of this type are parsed into a tree.
func (d *DocType) IsTree() bool {
	return d.Format == config.FormatHTML || d.Format == config.FormatXML
}

// DocTypes is the lookup table built from a site's document types. Keys
// are MIME types, aliases and extensions, compared case-insensitively.
type DocTypes struct {
	list   []*DocType
	byKey  map[string]*DocType
	tags   map[string][]config.Tag
	tagged map[string]bool
}

// NewDocTypes compiles the document types of a site configuration.
func NewDocTypes(types []config.DocType) (*DocTypes, error) {
	d := &DocTypes{
		byKey:  make(map[string]*DocType),
		tags:   make(map[string][]config.Tag),
		tagged: make(map[string]bool),
	}
	for _, ct := range types {
		format := ct.Type
		if format == "" {
			format = config.FormatFor(strings.ToLower(ct.Mime))
		}
		dt := &DocType{
			Mime:          strings.ToLower(ct.Mime),
			Ext:           strings.ToLower(ct.Ext),
			Format:        format,
			RelativeLinks: ct.RelativeLinks,
			TextLinks:     ct.TextLinks,
			Optimize:      ct.Optimize,
		}
		if ct.Title != nil {
			m, err := compile(*ct.Title)
			if err != nil {
				return nil, fmt.Errorf("%s title: %w", ct.Mime, err)
			}
			dt.title = &m
		}
		for _, cm := range ct.Matches {
			m, err := compile(cm)
			if err != nil {
				return nil, fmt.Errorf("%s: %w", ct.Mime, err)
			}
			dt.matches = append(dt.matches, m)
		}

		mimes := []string{dt.Mime}
		keys := []string{dt.Mime, dt.Ext}
		for _, a := range ct.Aliases {
			keys = append(keys, a.Mime, a.Ext)
			if a.Mime != "" {
				mimes = append(mimes, strings.ToLower(a.Mime))
			}
		}
		for _, k := range keys {
			if k == "" {
				continue
			}
			k = strings.ToLower(k)
			if _, dup := d.byKey[k]; dup {
				return nil, fmt.Errorf("%w: %q", ErrDuplicateType, k)
			}
			d.byKey[k] = dt
		}
		for _, tag := range ct.Tags {
			for _, m := range mimes {
				key := tagKey(m, tag.Name)
				d.tags[key] = append(d.tags[key], tag)
				d.tagged[m] = true
			}
		}
		d.list = append(d.list, dt)
	}

	for _, tags := range d.tags {
		for _, tag := range tags {
			for _, a := range tag.Attributes {
				if _, ok := d.Lookup(a.Mime); !ok {
					return nil, fmt.Errorf("%w: %q in attribute %q of <%s>", ErrUnknownType, a.Mime, a.Name, tag.Name)
				}
			}
		}
	}
	return d, nil
}

func tagKey(mime, name string) string {
	return strings.ToLower(mime) + tagDivide + strings.ToLower(name)
}

// Lookup finds the document type of a MIME type or file extension.
func (d *DocTypes) Lookup(key string) (*DocType, bool) {
	dt, ok := d.byKey[strings.ToLower(key)]
	return dt, ok
}

// Types returns the document types in declaration order.
func (d *DocTypes) Types() []*DocType {
	return d.list
}

// Tags returns the document tags configured for element name within mime.
func (d *DocTypes) Tags(mime, name string) []config.Tag {
	return d.tags[tagKey(mime, name)]
}

// HasTags reports whether mime has any document tag.
func (d *DocTypes) HasTags(mime string) bool {
	return d.tagged[strings.ToLower(mime)]
}

// Extension returns the file extension registered for mime, or "".
func (d *DocTypes) Extension(mime string) string {
	if dt, ok := d.Lookup(mime); ok {
		return dt.Ext
	}
	return ""
}

var spaces = regexp.MustCompile(`\s+`)

// Title extracts the title of content using the title rule of mime.
func (d *DocTypes) Title(mime string, content []byte) (string, bool) {
	dt, ok := d.Lookup(mime)
	if !ok || dt.title == nil {
		return "", false
	}
	m := dt.title.re.FindSubmatch(content)
	if m == nil || dt.title.group >= len(m) || m[dt.title.group] == nil {
		return "", false
	}
	title := html.UnescapeString(string(m[dt.title.group]))
	title = strings.TrimSpace(spaces.ReplaceAllString(title, " "))
	return title, title != ""
}
