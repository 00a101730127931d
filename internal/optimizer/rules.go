package optimizer

import (
	"fmt"
	"net/url"
	"regexp"
	"strconv"
	"strings"

	"github.com/antchfx/htmlquery"
	"github.com/antchfx/xpath"
	"github.com/nao1215/sitemirror/internal/config"
	"github.com/nao1215/sitemirror/internal/model"
	"github.com/nao1215/sitemirror/internal/rewriter"
	"golang.org/x/net/html"
)

// placeholder matches {name} in replacement values.
var placeholder = regexp.MustCompile(`\{([\w.\-]+)\}`)

type xpathRule struct {
	expr *xpath.Expr
	rule config.Rule
}

type matchRule struct {
	re    *regexp.Regexp
	group int
	rule  config.Rule
}

// job holds the compiled rules of one document type and the state of the
// document being processed. Process handles one record at a time, so the
// state needs no locking.
type job struct {
	site    *url.URL
	format  config.Format
	tags    map[string][]config.Rule
	xpaths  []xpathRule
	matches []matchRule

	values   map[string]string
	selected map[*html.Node]config.Rule
}

func newJob(site *url.URL, dt *rewriter.DocType) (*job, error) {
	j := &job{
		site:     site,
		format:   dt.Format,
		tags:     make(map[string][]config.Rule),
		values:   map[string]string{"site.uri": site.String()},
		selected: make(map[*html.Node]config.Rule),
	}

	rules := make([]config.Rule, 0, len(dt.Optimize.Remove)+len(dt.Optimize.Replace))
	for _, r := range dt.Optimize.Remove {
		r.Value = ""
		rules = append(rules, r)
	}
	rules = append(rules, dt.Optimize.Replace...)

	for _, r := range rules {
		switch {
		case r.Tag != "":
			if dt.IsTree() {
				name := strings.ToLower(r.Tag)
				j.tags[name] = append(j.tags[name], r)
			}
		case r.XPath != "":
			if !dt.IsTree() {
				continue
			}
			expr, err := xpath.Compile(r.XPath)
			if err != nil {
				return nil, fmt.Errorf("%w: %s: %v", config.ErrInvalidExpression, dt.Mime, err)
			}
			j.xpaths = append(j.xpaths, xpathRule{expr: expr, rule: r})
		case r.Match != "":
			re, err := regexp.Compile(r.Match)
			if err != nil {
				return nil, fmt.Errorf("%w: %s: %v", config.ErrInvalidExpression, dt.Mime, err)
			}
			group := 0
			if r.Group != nil {
				group = *r.Group
			}
			j.matches = append(j.matches, matchRule{re: re, group: group, rule: r})
		}
	}
	return j, nil
}

func (j *job) register(rw *rewriter.Rewriter) {
	rw.OnContextChanged(j.contextChanged)
	if len(j.matches) > 0 {
		rw.OnRewriteContent(j.rewriteContent)
	}
	if len(j.tags) > 0 || len(j.xpaths) > 0 {
		rw.OnRewriteDocument(j.selectXPaths)
		rw.OnRewriteElement(j.rewriteElement)
	}
}

func (j *job) contextChanged(rec model.ContentRecord) {
	j.values["page.path"] = rec.ContentURI
	j.values["page.uri"] = j.site.String()
	if u, err := url.Parse(rec.ContentURI); err == nil {
		j.values["page.uri"] = j.site.ResolveReference(u).String()
	}
	j.values["page.mime"] = rec.MimeType()
	clear(j.selected)
}

// selectXPaths marks the nodes picked by xpath rules; they are replaced
// when the visit reaches them.
func (j *job) selectXPaths(root *html.Node) bool {
	for _, x := range j.xpaths {
		for _, n := range htmlquery.QuerySelectorAll(root, x.expr) {
			if _, ok := j.selected[n]; !ok {
				j.selected[n] = x.rule
			}
		}
	}
	return false
}

func (j *job) rewriteElement(n *html.Node) rewriter.ElementAction {
	if rule, ok := j.selected[n]; ok {
		return j.replacement(n, rule)
	}
	if n.Type != html.ElementNode {
		return rewriter.Keep()
	}

	action := rewriter.Keep()
	cur := n
	for _, rule := range j.tags[strings.ToLower(n.Data)] {
		if !rewriter.IsTagMatch(n, rule.Selector()) {
			continue
		}
		action = j.replacement(cur, rule)
		if action.IsDelete() {
			return action
		}
		cur = action.Node()
	}
	return action
}

// replacement builds the action for rule applied to n: deletion for an
// empty value, otherwise the parsed replacement markup.
func (j *job) replacement(n *html.Node, rule config.Rule) rewriter.ElementAction {
	if rule.Value == "" {
		return rewriter.Delete()
	}
	text := rule.Value
	if rule.Expand {
		text = j.expand(text, func(name string) (string, bool) {
			if n.Type != html.ElementNode {
				return "", false
			}
			return rewriter.Attr(n, name)
		})
	}
	node, err := rewriter.ParseNode(j.format, text)
	if err != nil {
		return rewriter.Replace(&html.Node{Type: html.TextNode, Data: text})
	}
	return rewriter.Replace(node)
}

func (j *job) expand(text string, lookup func(string) (string, bool)) string {
	return placeholder.ReplaceAllStringFunc(text, func(m string) string {
		name := m[1 : len(m)-1]
		if v, ok := j.values[name]; ok {
			return v
		}
		if v, ok := lookup(name); ok {
			return v
		}
		return m
	})
}

// rewriteContent applies the match rules to the raw text of a document.
func (j *job) rewriteContent(content string) string {
	for _, m := range j.matches {
		content = j.replaceMatches(content, m)
	}
	return content
}

func (j *job) replaceMatches(content string, m matchRule) string {
	matches := m.re.FindAllStringSubmatchIndex(content, -1)
	if len(matches) == 0 {
		return content
	}
	var b strings.Builder
	last := 0
	for _, loc := range matches {
		if 2*m.group+1 >= len(loc) || loc[2*m.group] < 0 {
			continue
		}
		start, end := loc[2*m.group], loc[2*m.group+1]
		value := m.rule.Value
		if m.rule.Expand {
			value = j.expand(value, func(name string) (string, bool) {
				i := m.re.SubexpIndex(name)
				if i < 0 {
					n, err := strconv.Atoi(name)
					if err != nil || n > m.re.NumSubexp() {
						return "", false
					}
					i = n
				}
				if loc[2*i] < 0 {
					return "", false
				}
				return content[loc[2*i]:loc[2*i+1]], true
			})
		}
		b.WriteString(content[last:start])
		b.WriteString(value)
		last = end
	}
	b.WriteString(content[last:])
	return b.String()
}
