package config

import (
	"fmt"
	"regexp"
	"strings"

	"github.com/antchfx/xpath"
)

// Format is the parsing mode of a document type.
type Format string

// Document formats.
const (
	FormatHTML   Format = "html"
	FormatXML    Format = "xml"
	FormatText   Format = "text"
	FormatBinary Format = "binary"
)

// DefaultBadNameChars matches runs of characters replaced when deriving
// file names from page titles.
const DefaultBadNameChars = `[^\w]+`

// Site is the configuration of one mirrored site, loaded from YAML.
type Site struct {
	// Exclude lists path prefixes that are never fetched.
	Exclude []string `yaml:"exclude,omitempty"`

	// Include lists extra paths seeded into every crawl.
	Include []string `yaml:"include,omitempty"`

	// IgnorePatterns are glob patterns of paths that are never fetched.
	IgnorePatterns []string `yaml:"ignorePatterns,omitempty"`

	// DefaultDocuments are file names that alias their directory,
	// e.g. "default.aspx". Nil keeps the built-in list.
	DefaultDocuments []string `yaml:"defaultDocuments,omitempty"`

	// BadNameChars is the expression of characters replaced by '-' in
	// exported file names.
	BadNameChars string `yaml:"badNameChars,omitempty"`

	// Cookie is sent with every request, "name=value; name2=value2".
	Cookie string `yaml:"cookie,omitempty"`

	// Headers are extra request headers.
	Headers map[string]string `yaml:"headers,omitempty"`

	// DocTypes is the document type table.
	DocTypes []DocType `yaml:"docTypes,omitempty"`
}

// DocType configures how one MIME type is parsed and rewritten.
type DocType struct {
	Mime string `yaml:"mime"`
	Ext  string `yaml:"ext,omitempty"`
	Type Format `yaml:"type,omitempty"`

	// RelativeLinks allows base-relative rewriting for this type.
	RelativeLinks bool `yaml:"relativeLinks,omitempty"`

	// TextLinks scans text for plain http(s) URLs.
	TextLinks bool `yaml:"textLinks,omitempty"`

	// Title extracts a page title, used for exported file names.
	Title *Match `yaml:"title,omitempty"`

	// Aliases are other MIME types or extensions handled the same way.
	Aliases []Alias `yaml:"aliases,omitempty"`

	// Matches are regular expressions whose group holds a URI.
	Matches []Match `yaml:"matches,omitempty"`

	// Tags are the document tags of tree formats.
	Tags []Tag `yaml:"tags,omitempty"`

	// Optimize holds the rules applied by the optimize command.
	Optimize *Optimize `yaml:"optimize,omitempty"`
}

// Alias is an alternative MIME type or file extension of a DocType.
type Alias struct {
	Mime string `yaml:"mime,omitempty"`
	Ext  string `yaml:"ext,omitempty"`
}

// Match is a regular expression with a capture group of interest.
type Match struct {
	Expression string `yaml:"expression"`

	// Group is the capture group index; nil means 1.
	Group *int `yaml:"group,omitempty"`
}

// GroupID returns the capture group of the match.
func (m Match) GroupID() int {
	if m.Group == nil {
		return 1
	}
	return *m.Group
}

// Tag is a document tag: an element selector plus the rewriting applied to
// matching elements.
type Tag struct {
	// Name is the element name, matched case-insensitively.
	Name string `yaml:"name"`

	// Ancestor requires an enclosing element with this name.
	Ancestor string `yaml:"ancestor,omitempty"`

	// Where is an attribute condition "attr=v1|v2"; "attr!=v" negates.
	Where string `yaml:"where,omitempty"`

	// Follow names the attribute holding a URI.
	Follow string `yaml:"follow,omitempty"`

	// Mime reprocesses the element text as this content type.
	Mime string `yaml:"mime,omitempty"`

	// Attributes reprocess attribute values as other content types.
	Attributes []TagAttribute `yaml:"attributes,omitempty"`
}

// TagAttribute reprocesses one attribute value with another type's rules.
type TagAttribute struct {
	Name string `yaml:"name"`
	Mime string `yaml:"mime"`
}

// Optimize lists the rewrite rules of the optimize command.
type Optimize struct {
	// Condense re-serializes documents even when unchanged.
	Condense bool `yaml:"condense,omitempty"`

	Remove  []Rule `yaml:"remove,omitempty"`
	Replace []Rule `yaml:"replace,omitempty"`
}

// Rule selects content by element, regular expression or xpath.
// Exactly one of Tag, Match or XPath is set.
type Rule struct {
	Tag      string `yaml:"tag,omitempty"`
	Ancestor string `yaml:"ancestor,omitempty"`
	Where    string `yaml:"where,omitempty"`
	Match    string `yaml:"match,omitempty"`
	Group    *int   `yaml:"group,omitempty"`
	XPath    string `yaml:"xpath,omitempty"`

	// Value is the replacement markup or text.
	Value string `yaml:"value,omitempty"`

	// Expand substitutes {name} placeholders in Value.
	Expand bool `yaml:"expand,omitempty"`
}

// Selector returns the Tag form of a tag rule.
func (r Rule) Selector() Tag {
	return Tag{Name: r.Tag, Ancestor: r.Ancestor, Where: r.Where}
}

// Validate fills derived defaults and checks every expression.
func (s *Site) Validate() error {
	if s.BadNameChars == "" {
		s.BadNameChars = DefaultBadNameChars
	}
	if _, err := regexp.Compile(s.BadNameChars); err != nil {
		return fmt.Errorf("%w: badNameChars: %v", ErrInvalidExpression, err)
	}
	for i := range s.DocTypes {
		if err := s.DocTypes[i].validate(); err != nil {
			return err
		}
	}
	return nil
}

func (d *DocType) validate() error {
	if d.Mime == "" {
		return fmt.Errorf("%w: mime is required", ErrInvalidDocType)
	}
	d.Mime = strings.ToLower(d.Mime)
	if d.Type == "" {
		d.Type = FormatFor(d.Mime)
	}
	switch d.Type {
	case FormatHTML, FormatXML, FormatText, FormatBinary:
	default:
		return fmt.Errorf("%w: %s: unknown type %q", ErrInvalidDocType, d.Mime, d.Type)
	}
	if d.Type == FormatText && d.Mime == "text/html" {
		d.Type = FormatHTML
	}
	if len(d.Tags) > 0 && (d.Type == FormatText || d.Type == FormatBinary) {
		return fmt.Errorf("%w: %s: tags require an html or xml type", ErrInvalidDocType, d.Mime)
	}
	for _, t := range d.Tags {
		if t.Name == "" {
			return fmt.Errorf("%w: %s: tag without name", ErrInvalidDocType, d.Mime)
		}
	}

	if d.Title != nil {
		if err := compileMatch(d.Mime, *d.Title); err != nil {
			return err
		}
	}
	for _, m := range d.Matches {
		if err := compileMatch(d.Mime, m); err != nil {
			return err
		}
	}
	if d.Optimize != nil {
		for _, r := range append(append([]Rule(nil), d.Optimize.Remove...), d.Optimize.Replace...) {
			if err := r.validate(d.Mime); err != nil {
				return err
			}
		}
	}
	return nil
}

func compileMatch(mime string, m Match) error {
	re, err := regexp.Compile(m.Expression)
	if err != nil {
		return fmt.Errorf("%w: %s: %v", ErrInvalidExpression, mime, err)
	}
	if g := m.GroupID(); g < 0 || g > re.NumSubexp() {
		return fmt.Errorf("%w: %s: group %d out of range in %q", ErrInvalidExpression, mime, g, m.Expression)
	}
	return nil
}

func (r Rule) validate(mime string) error {
	set := 0
	for _, v := range []string{r.Tag, r.Match, r.XPath} {
		if v != "" {
			set++
		}
	}
	if set != 1 {
		return fmt.Errorf("%w: %s: optimize rule needs exactly one of tag, match or xpath", ErrInvalidDocType, mime)
	}
	if r.Match != "" {
		return compileMatch(mime, Match{Expression: r.Match, Group: r.Group})
	}
	if r.XPath != "" {
		if _, err := xpath.Compile(r.XPath); err != nil {
			return fmt.Errorf("%w: %s: %v", ErrInvalidExpression, mime, err)
		}
	}
	return nil
}

// FormatFor guesses the format of a MIME type.
func FormatFor(mime string) Format {
	switch {
	case mime == "text/html", mime == "application/xhtml+xml":
		return FormatHTML
	case mime == "text/xml", mime == "application/xml", strings.HasSuffix(mime, "+xml"):
		return FormatXML
	case strings.HasPrefix(mime, "text/"), mime == "application/javascript", mime == "application/json":
		return FormatText
	}
	return FormatBinary
}
