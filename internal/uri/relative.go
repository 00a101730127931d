package uri

import (
	"net/url"
	"strings"
)

// MakeRelative returns target expressed relative to base. URLs on another
// host are returned in absolute form.
//
// base is treated as a directory when its path ends in '/', otherwise the
// last segment is a document name and is dropped.
func MakeRelative(base, target *url.URL) string {
	if !SameHost(base, target) {
		return target.String()
	}

	bp := base.EscapedPath()
	tp := target.EscapedPath()
	if bp == "" {
		bp = "/"
	}
	if tp == "" {
		tp = "/"
	}

	var b strings.Builder
	if bp != tp {
		last := -1
		for i := 0; i < len(bp) && i < len(tp) && bp[i] == tp[i]; i++ {
			if bp[i] == '/' {
				last = i
			}
		}
		for i := last + 1; i < len(bp); i++ {
			if bp[i] == '/' {
				b.WriteString("../")
			}
		}
		rest := tp[last+1:]
		if b.Len() == 0 && firstSegmentHasColon(rest) {
			b.WriteString("./")
		}
		b.WriteString(rest)
	}
	if target.RawQuery != "" {
		b.WriteByte('?')
		b.WriteString(target.RawQuery)
	}
	if target.Fragment != "" {
		b.WriteByte('#')
		b.WriteString(target.EscapedFragment())
	}
	return b.String()
}

// RelativeLink makes target relative to the directory of base and guards the
// degenerate results: an empty or query-only link is prefixed with "./" so
// it still names the document.
func RelativeLink(base, target *url.URL) string {
	dir := base.ResolveReference(&url.URL{Path: "./"})
	rel := MakeRelative(dir, target)
	if rel == "" || rel[0] == '?' {
		rel = "./" + rel
	}
	return rel
}

func firstSegmentHasColon(p string) bool {
	seg, _, _ := strings.Cut(p, "/")
	return strings.Contains(seg, ":")
}
