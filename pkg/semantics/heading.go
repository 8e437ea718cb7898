package semantics

import (
	"regexp"
	"strings"

	"github.com/jmylchreest/ecmalinks/pkg/htmltree"
	"golang.org/x/net/html"
)

var (
	headingRx   = regexp.MustCompile(`(Static|Runtime) Semantics: (.*)`)
	nonWordRx   = regexp.MustCompile(`\W`)
	spanTag     = regexp.MustCompile(`span`)
	nameListSep = " and "
)

// Heading child classes.
const (
	secnumClass = "secnum"
	utilsClass  = "utils"
)

// ParseHeading extracts the definition declared by an h1 heading. It returns
// false for any heading that is not shaped as
//
//	<span class="secnum">…</span>TEXT<span class="utils">…</span>
//
// or whose TEXT is not a definition.
func ParseHeading(h *html.Node) (Heading, bool) {
	children := htmltree.ChildNodes(h)
	if len(children) != 3 {
		return Heading{}, false
	}
	if !htmltree.IsElement(children[0], spanTag, secnumClass) {
		return Heading{}, false
	}
	if !htmltree.IsElement(children[2], spanTag, utilsClass) {
		return Heading{}, false
	}
	if children[1].Type != html.TextNode {
		return Heading{}, false
	}
	return ParseHeadingText(children[1].Data)
}

// ParseHeadingText applies the definition rule to the text of a heading:
// "<Static|Runtime> Semantics: A and B". Each name is cut at its first
// non-word character, which drops trailing annotations. This is a heuristic
// and not a full parse of heading annotations.
func ParseHeadingText(text string) (Heading, bool) {
	m := headingRx.FindStringSubmatch(text)
	if m == nil {
		return Heading{}, false
	}
	list := m[2]
	if list == ExcludedNameList {
		return Heading{}, false
	}

	var names []string
	for _, piece := range strings.Split(list, nameListSep) {
		name := piece
		if loc := nonWordRx.FindStringIndex(piece); loc != nil {
			name = piece[:loc[0]]
		}
		if name == "" {
			continue
		}
		names = append(names, name)
	}
	if len(names) == 0 {
		return Heading{}, false
	}
	return Heading{Kind: Kind(m[1]), Names: names}, true
}
