// Package linker finds occurrences of indexed semantic function names in a
// document and rewrites them into popup anchors.
package linker

import (
	"regexp"
	"strings"

	"github.com/jmylchreest/ecmalinks/pkg/htmltree"
	"golang.org/x/net/html"
)

// DefaultExcludeTags are the elements whose text is never linked: existing
// anchors, headings, and raw-text elements.
var DefaultExcludeTags = []string{"a", "h1", "script", "style"}

// Occurrence is one whole-word match of an indexed name inside a text node.
// Offset is a byte offset into the node's text as it was when scanned.
type Occurrence struct {
	Function string
	Node     *html.Node
	Offset   int
}

// NodeOccurrences holds the matches found in one text node, ascending by
// offset.
type NodeOccurrences struct {
	Node        *html.Node
	Occurrences []Occurrence
}

// Scanner matches indexed names in text. It never modifies the tree.
type Scanner struct {
	pattern *regexp.Regexp
	exclude map[string]bool
}

// NewScanner compiles one whole-word alternation over names, in the given
// order. Names are matched literally. With no names the scanner matches
// nothing.
func NewScanner(names []string, excludeTags []string) *Scanner {
	s := &Scanner{exclude: make(map[string]bool, len(excludeTags))}
	for _, t := range excludeTags {
		s.exclude[strings.ToLower(t)] = true
	}

	quoted := make([]string, 0, len(names))
	for _, n := range names {
		if n == "" {
			continue
		}
		quoted = append(quoted, regexp.QuoteMeta(n))
	}
	if len(quoted) > 0 {
		s.pattern = regexp.MustCompile(`\b(?:` + strings.Join(quoted, "|") + `)\b`)
	}
	return s
}

// Pattern returns the compiled pattern, or nil when there are no names.
func (s *Scanner) Pattern() *regexp.Regexp {
	return s.pattern
}

func (s *Scanner) skip(n *html.Node) bool {
	return s.exclude[strings.ToLower(n.Data)]
}

// Match returns the occurrences in one text node.
func (s *Scanner) Match(text *html.Node) []Occurrence {
	if s.pattern == nil {
		return nil
	}
	var out []Occurrence
	for _, loc := range s.pattern.FindAllStringIndex(text.Data, -1) {
		out = append(out, Occurrence{
			Function: text.Data[loc[0]:loc[1]],
			Node:     text,
			Offset:   loc[0],
		})
	}
	return out
}

// Scan walks the text under root, depth-first and left to right, skipping
// excluded subtrees, and returns the matches of every text node that has at
// least one.
func (s *Scanner) Scan(root *html.Node) []NodeOccurrences {
	if s.pattern == nil {
		return nil
	}
	var out []NodeOccurrences
	for text := range htmltree.TextNodes(root, s.skip) {
		if occ := s.Match(text); len(occ) > 0 {
			out = append(out, NodeOccurrences{Node: text, Occurrences: occ})
		}
	}
	return out
}
