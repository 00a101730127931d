package uri

import (
	"path/filepath"
	"sort"
	"strings"
	"sync"

	"github.com/temoto/robotstxt"
)

// ExclusionList decides which site paths must not be fetched.
//
// It combines three sources: a sorted list of path prefixes (static
// configuration), glob patterns, and the robots.txt group for the crawler's
// user agent. It is safe for concurrent use.
type ExclusionList struct {
	mu       sync.RWMutex
	prefixes []string
	globs    []string
	robots   *robotstxt.Group
}

// NewExclusionList returns a list holding the given prefixes.
func NewExclusionList(prefixes ...string) *ExclusionList {
	l := &ExclusionList{}
	for _, p := range prefixes {
		l.Add(p)
	}
	return l
}

// Add inserts a path prefix. Entries that do not start with '/' or that are
// already covered by a shorter prefix are ignored. It reports whether the
// list changed.
func (l *ExclusionList) Add(prefix string) bool {
	if !strings.HasPrefix(prefix, "/") {
		return false
	}
	l.mu.Lock()
	defer l.mu.Unlock()

	if l.matchPrefix(prefix) {
		return false
	}
	i := sort.SearchStrings(l.prefixes, prefix)
	l.prefixes = append(l.prefixes, "")
	copy(l.prefixes[i+1:], l.prefixes[i:])
	l.prefixes[i] = prefix

	// Drop longer entries the new prefix now covers.
	j := i + 1
	for j < len(l.prefixes) && strings.HasPrefix(l.prefixes[j], prefix) {
		j++
	}
	l.prefixes = append(l.prefixes[:i+1], l.prefixes[j:]...)
	return true
}

// AddPattern adds a glob pattern ("/admin/*", "*.pdf").
func (l *ExclusionList) AddPattern(pattern string) {
	if pattern == "" {
		return
	}
	l.mu.Lock()
	l.globs = append(l.globs, pattern)
	l.mu.Unlock()
}

// LoadRobots parses a robots.txt body and applies the group matching agent.
func (l *ExclusionList) LoadRobots(statusCode int, body []byte, agent string) error {
	data, err := robotstxt.FromStatusAndBytes(statusCode, body)
	if err != nil {
		return err
	}
	group := data.FindGroup(agent)
	l.mu.Lock()
	l.robots = group
	l.mu.Unlock()
	return nil
}

// Prefixes returns a copy of the sorted prefix list.
func (l *ExclusionList) Prefixes() []string {
	l.mu.RLock()
	defer l.mu.RUnlock()
	return append([]string(nil), l.prefixes...)
}

// IsExcluded reports whether path (a normalized path+query) is excluded.
func (l *ExclusionList) IsExcluded(path string) bool {
	l.mu.RLock()
	defer l.mu.RUnlock()

	if l.matchPrefix(path) {
		return true
	}
	p, _, _ := strings.Cut(path, "?")
	for _, g := range l.globs {
		if matchPattern(g, p) {
			return true
		}
	}
	if l.robots != nil && !l.robots.Test(path) {
		return true
	}
	return false
}

// matchPrefix finds the greatest entry <= path and tests it as a prefix.
// The list never holds an entry covered by another, so one probe suffices.
func (l *ExclusionList) matchPrefix(path string) bool {
	i := sort.SearchStrings(l.prefixes, path)
	if i < len(l.prefixes) && l.prefixes[i] == path {
		return true
	}
	if i == 0 {
		return false
	}
	return strings.HasPrefix(path, l.prefixes[i-1])
}

// matchPattern checks if a path matches a glob pattern.
// Patterns can use:
//   - * to match any sequence of non-separator characters
//   - ? to match any single character
//   - a trailing "/*" to match a whole subtree
//   - a leading "*." to match an extension anywhere
func matchPattern(pattern, path string) bool {
	if strings.HasSuffix(pattern, "/*") {
		prefix := strings.TrimSuffix(pattern, "/*")
		if strings.HasPrefix(path, prefix+"/") || path == prefix {
			return true
		}
	}

	if strings.HasPrefix(pattern, "*.") {
		if strings.HasSuffix(path, strings.TrimPrefix(pattern, "*")) {
			return true
		}
	}

	matched, err := filepath.Match(pattern, path)
	if err != nil {
		return false
	}
	if matched {
		return true
	}

	if strings.Contains(pattern, "*") && !strings.Contains(pattern, "/") {
		matched, err := filepath.Match(pattern, filepath.Base(path))
		return err == nil && matched
	}
	return false
}
