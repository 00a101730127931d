package rewriter

import (
	"encoding/xml"
	"errors"
	"fmt"
	"io"
	"regexp"
	"strings"

	"github.com/nao1215/sitemirror/internal/config"
	"golang.org/x/net/html"
	"golang.org/x/net/html/atom"
)

// fullDocument detects HTML that carries its own document structure. Any
// other HTML is handled as a fragment and rendered back as one.
var fullDocument = regexp.MustCompile(`(?i)<html[\s>]|<!doctype\s|<head[\s>]|<body[\s>]`)

// document is a parsed tree plus what is needed to render it back.
type document struct {
	root     *html.Node
	format   config.Format
	fragment bool
}

func parseDocument(format config.Format, content string) (*document, error) {
	switch format {
	case config.FormatHTML:
		if fullDocument.MatchString(content) {
			root, err := html.Parse(strings.NewReader(content))
			if err != nil {
				return nil, fmt.Errorf("%w: %v", ErrMalformed, err)
			}
			return &document{root: root, format: format}, nil
		}
		body := &html.Node{Type: html.ElementNode, Data: "body", DataAtom: atom.Body}
		nodes, err := html.ParseFragment(strings.NewReader(content), body)
		if err != nil {
			return nil, fmt.Errorf("%w: %v", ErrMalformed, err)
		}
		root := &html.Node{Type: html.DocumentNode}
		for _, n := range nodes {
			root.AppendChild(n)
		}
		return &document{root: root, format: format, fragment: true}, nil
	case config.FormatXML:
		root, err := parseXML(content)
		if err != nil {
			return nil, err
		}
		return &document{root: root, format: format}, nil
	}
	return nil, fmt.Errorf("%w: format %q has no tree", ErrMalformed, format)
}

func (d *document) render() (string, error) {
	var b strings.Builder
	switch {
	case d.format == config.FormatXML:
		renderXML(&b, d.root)
	case d.fragment:
		for c := d.root.FirstChild; c != nil; c = c.NextSibling {
			if err := html.Render(&b, c); err != nil {
				return "", fmt.Errorf("failed to render fragment: %w", err)
			}
		}
	default:
		if err := html.Render(&b, d.root); err != nil {
			return "", fmt.Errorf("failed to render document: %w", err)
		}
	}
	return b.String(), nil
}

// parseXML reads an XML document into the same node tree the HTML parser
// produces. Element and attribute names keep their prefixes; processing
// instructions and directives become raw nodes.
func parseXML(content string) (*html.Node, error) {
	dec := xml.NewDecoder(strings.NewReader(content))
	dec.Strict = false
	dec.Entity = xml.HTMLEntity
	// content is already UTF-8 whatever the declaration says
	dec.CharsetReader = func(_ string, r io.Reader) (io.Reader, error) { return r, nil }

	root := &html.Node{Type: html.DocumentNode}
	cur := root
	for {
		tok, err := dec.RawToken()
		if errors.Is(err, io.EOF) {
			break
		}
		if err != nil {
			return nil, fmt.Errorf("%w: %v", ErrMalformed, err)
		}
		switch t := tok.(type) {
		case xml.StartElement:
			n := &html.Node{Type: html.ElementNode, Data: qualified(t.Name)}
			for _, a := range t.Attr {
				n.Attr = append(n.Attr, html.Attribute{Key: qualified(a.Name), Val: a.Value})
			}
			cur.AppendChild(n)
			cur = n
		case xml.EndElement:
			if cur == root || cur.Data != qualified(t.Name) {
				return nil, fmt.Errorf("%w: unexpected </%s>", ErrMalformed, qualified(t.Name))
			}
			cur = cur.Parent
		case xml.CharData:
			cur.AppendChild(&html.Node{Type: html.TextNode, Data: string(t)})
		case xml.Comment:
			cur.AppendChild(&html.Node{Type: html.CommentNode, Data: string(t)})
		case xml.ProcInst:
			raw := "<?" + t.Target
			if len(t.Inst) > 0 {
				raw += " " + string(t.Inst)
			}
			cur.AppendChild(&html.Node{Type: html.RawNode, Data: raw + "?>"})
		case xml.Directive:
			cur.AppendChild(&html.Node{Type: html.RawNode, Data: "<!" + string(t) + ">"})
		}
	}
	if cur != root {
		return nil, fmt.Errorf("%w: unclosed <%s>", ErrMalformed, cur.Data)
	}
	return root, nil
}

func qualified(n xml.Name) string {
	if n.Space == "" {
		return n.Local
	}
	return n.Space + ":" + n.Local
}

var (
	xmlText = strings.NewReplacer("&", "&amp;", "<", "&lt;", ">", "&gt;")
	xmlAttr = strings.NewReplacer("&", "&amp;", "<", "&lt;", `"`, "&quot;")
)

func renderXML(b *strings.Builder, n *html.Node) {
	switch n.Type {
	case html.DocumentNode:
		for c := n.FirstChild; c != nil; c = c.NextSibling {
			renderXML(b, c)
		}
	case html.ElementNode:
		b.WriteByte('<')
		b.WriteString(n.Data)
		for _, a := range n.Attr {
			b.WriteByte(' ')
			b.WriteString(a.Key)
			b.WriteString(`="`)
			b.WriteString(xmlAttr.Replace(a.Val))
			b.WriteByte('"')
		}
		if n.FirstChild == nil {
			b.WriteString("/>")
			return
		}
		b.WriteByte('>')
		for c := n.FirstChild; c != nil; c = c.NextSibling {
			renderXML(b, c)
		}
		b.WriteString("</")
		b.WriteString(n.Data)
		b.WriteByte('>')
	case html.TextNode:
		b.WriteString(xmlText.Replace(n.Data))
	case html.CommentNode:
		b.WriteString("<!--")
		b.WriteString(n.Data)
		b.WriteString("-->")
	case html.RawNode:
		b.WriteString(n.Data)
	}
}

// ParseNode parses markup of format and returns its first element, detached
// from any tree. Markup without elements yields its first node.
func ParseNode(format config.Format, content string) (*html.Node, error) {
	content = strings.TrimSpace(content)
	var root *html.Node
	if format == config.FormatXML {
		var err error
		if root, err = parseXML(content); err != nil {
			return nil, err
		}
	} else {
		body := &html.Node{Type: html.ElementNode, Data: "body", DataAtom: atom.Body}
		nodes, err := html.ParseFragment(strings.NewReader(content), body)
		if err != nil {
			return nil, fmt.Errorf("%w: %v", ErrMalformed, err)
		}
		root = &html.Node{Type: html.DocumentNode}
		for _, n := range nodes {
			root.AppendChild(n)
		}
	}

	pick := root.FirstChild
	for c := root.FirstChild; c != nil; c = c.NextSibling {
		if c.Type == html.ElementNode {
			pick = c
			break
		}
	}
	if pick == nil {
		return nil, fmt.Errorf("%w: no content", ErrMalformed)
	}
	root.RemoveChild(pick)
	return pick, nil
}
