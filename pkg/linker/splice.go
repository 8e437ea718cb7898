package linker

import (
	"golang.org/x/net/html"
	"golang.org/x/net/html/atom"
)

// DefaultAnchorClass marks anchors created by the splicer.
const DefaultAnchorClass = "ecmalinks-ref"

// AnchorFactory creates the element that replaces one occurrence.
type AnchorFactory func(function string) *html.Node

// NewAnchor returns a factory for <a href="#" class="class">Name</a>. The
// anchor carries the function name as its text and nothing else.
func NewAnchor(class string) AnchorFactory {
	if class == "" {
		class = DefaultAnchorClass
	}
	return func(function string) *html.Node {
		a := &html.Node{
			Type:     html.ElementNode,
			DataAtom: atom.A,
			Data:     "a",
			Attr: []html.Attribute{
				{Key: "href", Val: "#"},
				{Key: "class", Val: class},
			},
		}
		a.AppendChild(&html.Node{Type: html.TextNode, Data: function})
		return a
	}
}

// Splice replaces each occurrence in text with an anchor and returns the
// number of anchors inserted. occs must all refer to text, be ascending by
// offset, and carry offsets into text's content as it was when scanned.
//
// Occurrences are applied from the highest offset to the lowest. Each step
// cuts the matched name and everything after it off the node's content, so
// the node always keeps the unmodified prefix of the original string and the
// offsets still pending stay valid. The cut-off tail (minus the name) and the
// anchor are inserted directly after the node. Empty residual text nodes are
// not kept.
func Splice(text *html.Node, occs []Occurrence, newAnchor AnchorFactory) int {
	if len(occs) == 0 || text.Parent == nil {
		return 0
	}
	parent := text.Parent

	for i := len(occs) - 1; i >= 0; i-- {
		occ := occs[i]
		tail := text.Data[occ.Offset+len(occ.Function):]
		text.Data = text.Data[:occ.Offset]

		next := text.NextSibling
		parent.InsertBefore(newAnchor(occ.Function), next)
		if tail != "" {
			parent.InsertBefore(&html.Node{Type: html.TextNode, Data: tail}, next)
		}
	}

	if text.Data == "" {
		parent.RemoveChild(text)
	}
	return len(occs)
}
