package rewriter

import (
	"regexp"
	"strings"

	"github.com/nao1215/sitemirror/internal/config"
)

// processMatches applies the text rules of dt: the plain URL scan for text
// types that enable it, then each match expression in order.
func (r *Rewriter) processMatches(path string, relative bool, content string, dt *DocType) (string, bool) {
	modified := false
	if dt.Format == config.FormatText && dt.TextLinks {
		if out, ok := r.replaceMatches(path, relative, content, plainURL, 0); ok {
			content, modified = out, true
		}
	}
	for _, m := range dt.matches {
		if out, ok := r.replaceMatches(path, relative, content, m.re, m.group); ok {
			content, modified = out, true
		}
	}
	return content, modified
}

// replaceMatches rewrites the URI captured by group in every match of re.
// Text around the group is preserved. A URI removed by a hook leaves the
// group empty.
func (r *Rewriter) replaceMatches(path string, relative bool, content string, re *regexp.Regexp, group int) (string, bool) {
	matches := re.FindAllStringSubmatchIndex(content, -1)
	if len(matches) == 0 {
		return content, false
	}

	current := r.current(path)
	var b strings.Builder
	last := 0
	changed := false
	for _, loc := range matches {
		if 2*group+1 >= len(loc) || loc[2*group] < 0 {
			continue
		}
		start, end := loc[2*group], loc[2*group+1]
		value := content[start:end]
		u := resolve(current, value)
		if u == nil {
			continue
		}
		rewritten := r.rewriteURI(u)
		if rewritten == u {
			continue
		}
		link := ""
		if rewritten != nil {
			link = r.link(current, rewritten, relative)
		}
		if link == value {
			continue
		}
		b.WriteString(content[last:start])
		b.WriteString(link)
		last = end
		changed = true
	}
	if !changed {
		return content, false
	}
	b.WriteString(content[last:])
	return b.String(), true
}
