package rewriter

import (
	"strings"

	"github.com/nao1215/sitemirror/internal/config"
	"golang.org/x/net/html"
)

// visitChildren walks the children of parent depth first. Element hooks
// return an action that is applied here, after the hook, so the sibling
// list is never changed under a running hook.
func (r *Rewriter) visitChildren(path string, dt *DocType, parent *html.Node, relative bool) (bool, error) {
	modified := false
	for c := parent.FirstChild; c != nil; {
		next := c.NextSibling

		switch action := r.rewriteElement(c); action.kind {
		case actionDelete:
			parent.RemoveChild(c)
			modified = true
			c = next
			continue
		case actionReplace:
			if p := action.node.Parent; p != nil {
				p.RemoveChild(action.node)
			}
			parent.InsertBefore(action.node, c)
			parent.RemoveChild(c)
			c = action.node
			modified = true
		}

		if c.Type == html.ElementNode {
			if tags := r.types.Tags(dt.Mime, c.Data); len(tags) > 0 {
				changed, err := r.processTag(path, dt, c, tags, relative)
				if err != nil {
					return false, err
				}
				modified = changed || modified
			}
		}

		changed, err := r.visitChildren(path, dt, c, relative)
		if err != nil {
			return false, err
		}
		modified = changed || modified

		if dt.TextLinks && c.Type == html.TextNode {
			if out, ok := r.replaceMatches(path, false, c.Data, plainURL, 0); ok {
				c.Data = out
				modified = true
			}
		}
		c = next
	}
	return modified, nil
}

// rewriteElement runs the element hooks. A replacement is handed to the
// following hooks; a deletion ends the chain.
func (r *Rewriter) rewriteElement(n *html.Node) ElementAction {
	result := Keep()
	cur := n
	for _, fn := range r.element {
		action := fn(cur)
		switch action.kind {
		case actionDelete:
			return action
		case actionReplace:
			if action.node == nil {
				return Delete()
			}
			if action.node != cur {
				cur = action.node
				result = action
			}
		}
	}
	return result
}

// processTag applies every matching document tag to element n.
func (r *Rewriter) processTag(path string, dt *DocType, n *html.Node, tags []config.Tag, relative bool) (bool, error) {
	current := r.current(path)
	modified := false

	for _, tag := range tags {
		if !IsTagMatch(n, tag) {
			continue
		}

		if tag.Mime != "" {
			for _, t := range textNodes(n) {
				out, changed, err := r.processMime(path, tag.Mime, relative, t.Data)
				if err != nil {
					return false, err
				}
				if changed && out != t.Data {
					t.Data = out
					modified = true
				}
			}
		}

		if tag.Follow != "" {
			if value, ok := Attr(n, tag.Follow); ok {
				if u := resolve(current, value); u != nil {
					rewritten := r.rewriteURI(u)
					switch {
					case rewritten == nil:
						RemoveAttr(n, tag.Follow)
						modified = true
					case rewritten != u || relative:
						if link := r.link(current, rewritten, relative); link != value {
							SetAttr(n, tag.Follow, link)
							modified = true
						}
					}
				}
			}
		}

		for _, a := range tag.Attributes {
			value, ok := Attr(n, a.Name)
			if !ok || strings.TrimSpace(value) == "" {
				continue
			}
			sub, ok := r.types.Lookup(a.Mime)
			if !ok {
				continue
			}
			if out, changed := r.processMatches(path, relative, value, sub); changed {
				SetAttr(n, a.Name, out)
				modified = true
			}
		}
	}
	return modified, nil
}
