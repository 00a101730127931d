package rewriter

import (
	"strings"

	"github.com/nao1215/sitemirror/internal/config"
	"golang.org/x/net/html"
)

// IsTagMatch reports whether element n is selected by tag: the names match
// case-insensitively, an ancestor named tag.Ancestor exists when set, and
// the tag.Where condition holds when set.
//
// A condition has the form "attr=v1|v2" and matches when the attribute value
// equals one of the listed values, ignoring case. "attr!=v1|v2" inverts the
// test, so an element without the attribute matches.
func IsTagMatch(n *html.Node, tag config.Tag) bool {
	if n == nil || n.Type != html.ElementNode || !strings.EqualFold(n.Data, tag.Name) {
		return false
	}

	if tag.Ancestor != "" {
		found := false
		for p := n.Parent; p != nil; p = p.Parent {
			if p.Type == html.ElementNode && strings.EqualFold(p.Data, tag.Ancestor) {
				found = true
				break
			}
		}
		if !found {
			return false
		}
	}

	if tag.Where != "" {
		name, list, hasValues := strings.Cut(tag.Where, "=")
		inverse := strings.HasSuffix(name, "!")
		name = strings.TrimRight(name, "!")
		var values []string
		if hasValues {
			values = strings.Split(list, "|")
		}

		value, ok := Attr(n, name)
		matched := false
		if ok {
			for _, v := range values {
				if strings.EqualFold(v, value) {
					matched = true
					break
				}
			}
		}
		return matched != inverse
	}
	return true
}

// Attr returns the value of attribute name of n.
func Attr(n *html.Node, name string) (string, bool) {
	for _, a := range n.Attr {
		if strings.EqualFold(a.Key, name) {
			return a.Val, true
		}
	}
	return "", false
}

// SetAttr sets attribute name of n, adding it when absent.
func SetAttr(n *html.Node, name, value string) {
	for i := range n.Attr {
		if strings.EqualFold(n.Attr[i].Key, name) {
			n.Attr[i].Val = value
			return
		}
	}
	n.Attr = append(n.Attr, html.Attribute{Key: name, Val: value})
}

// RemoveAttr deletes attribute name of n.
func RemoveAttr(n *html.Node, name string) {
	attrs := n.Attr[:0]
	for _, a := range n.Attr {
		if !strings.EqualFold(a.Key, name) {
			attrs = append(attrs, a)
		}
	}
	n.Attr = attrs
}

// textNodes returns the text descendants of n in document order.
func textNodes(n *html.Node) []*html.Node {
	var out []*html.Node
	var walk func(*html.Node)
	walk = func(p *html.Node) {
		for c := p.FirstChild; c != nil; c = c.NextSibling {
			if c.Type == html.TextNode {
				out = append(out, c)
			}
			walk(c)
		}
	}
	walk(n)
	return out
}
