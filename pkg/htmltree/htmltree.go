// Package htmltree provides read and walk helpers over golang.org/x/net/html
// trees for ecmarkup documents.
package htmltree

import (
	"iter"
	"regexp"
	"strings"

	"golang.org/x/net/html"
)

// IsElement reports whether n is an element whose lower-cased tag name matches
// tagPattern (nil = any tag) and whose class attribute equals class exactly
// (empty = any class).
func IsElement(n *html.Node, tagPattern *regexp.Regexp, class string) bool {
	if n == nil || n.Type != html.ElementNode {
		return false
	}
	if tagPattern != nil && !tagPattern.MatchString(strings.ToLower(n.Data)) {
		return false
	}
	if class != "" {
		v, ok := Attr(n, "class")
		if !ok || v != class {
			return false
		}
	}
	return true
}

// ChildElements yields the direct element children of parent matching
// tagPattern, in document order.
func ChildElements(parent *html.Node, tagPattern *regexp.Regexp) iter.Seq[*html.Node] {
	return func(yield func(*html.Node) bool) {
		for c := parent.FirstChild; c != nil; c = c.NextSibling {
			if !IsElement(c, tagPattern, "") {
				continue
			}
			if !yield(c) {
				return
			}
		}
	}
}

// ChildNodes returns all direct children of n.
func ChildNodes(n *html.Node) []*html.Node {
	var out []*html.Node
	for c := n.FirstChild; c != nil; c = c.NextSibling {
		out = append(out, c)
	}
	return out
}

// TextNodes yields every text node under root in pre-order, left to right.
// Elements for which skip returns true are not descended into.
//
// The walk uses a cursor instead of recursion so deeply nested documents do
// not grow the stack. The sequence is finite and re-walks the tree on each
// range; callers must not restructure the tree while ranging.
func TextNodes(root *html.Node, skip func(*html.Node) bool) iter.Seq[*html.Node] {
	return func(yield func(*html.Node) bool) {
		cursor := root.FirstChild
		for cursor != nil {
			switch cursor.Type {
			case html.TextNode:
				if !yield(cursor) {
					return
				}
			case html.ElementNode:
				if (skip == nil || !skip(cursor)) && cursor.FirstChild != nil {
					cursor = cursor.FirstChild
					continue
				}
			}

			// Advance to the next sibling, climbing until one exists.
			for cursor != nil {
				if cursor.NextSibling != nil {
					cursor = cursor.NextSibling
					break
				}
				cursor = cursor.Parent
				if cursor == root {
					return
				}
			}
		}
	}
}

// TextContent returns the concatenated text of every text node under n,
// like the DOM textContent property.
func TextContent(n *html.Node) string {
	if n == nil {
		return ""
	}
	if n.Type == html.TextNode {
		return n.Data
	}
	var b strings.Builder
	for t := range TextNodes(n, nil) {
		b.WriteString(t.Data)
	}
	return b.String()
}

// Attr returns the value of the attribute key on n.
func Attr(n *html.Node, key string) (string, bool) {
	for _, a := range n.Attr {
		if a.Namespace == "" && a.Key == key {
			return a.Val, true
		}
	}
	return "", false
}

// SetAttr sets (or replaces) the attribute key on n.
func SetAttr(n *html.Node, key, val string) {
	for i, a := range n.Attr {
		if a.Namespace == "" && a.Key == key {
			n.Attr[i].Val = val
			return
		}
	}
	n.Attr = append(n.Attr, html.Attribute{Key: key, Val: val})
}

// HasClass reports whether the whitespace-separated class list of n contains
// class.
func HasClass(n *html.Node, class string) bool {
	if n == nil || n.Type != html.ElementNode {
		return false
	}
	v, ok := Attr(n, "class")
	if !ok {
		return false
	}
	for _, c := range strings.Fields(v) {
		if c == class {
			return true
		}
	}
	return false
}

// FindElement returns the first element under root, in pre-order, for which
// pred returns true.
func FindElement(root *html.Node, pred func(*html.Node) bool) *html.Node {
	stack := []*html.Node{root}
	for len(stack) > 0 {
		n := stack[len(stack)-1]
		stack = stack[:len(stack)-1]
		if n != root && n.Type == html.ElementNode && pred(n) {
			return n
		}
		// Push children in reverse so the leftmost is visited first.
		for c := n.LastChild; c != nil; c = c.PrevSibling {
			stack = append(stack, c)
		}
	}
	return nil
}

// Elements returns every element under root with the given lower-case tag
// name, in document order.
func Elements(root *html.Node, tag string) []*html.Node {
	var out []*html.Node
	stack := []*html.Node{root}
	for len(stack) > 0 {
		n := stack[len(stack)-1]
		stack = stack[:len(stack)-1]
		if n != root && n.Type == html.ElementNode && strings.ToLower(n.Data) == tag {
			out = append(out, n)
		}
		for c := n.LastChild; c != nil; c = c.PrevSibling {
			stack = append(stack, c)
		}
	}
	return out
}

// Body returns the body element of a parsed document, or doc itself when the
// tree has no body (fragments).
func Body(doc *html.Node) *html.Node {
	if b := FindElement(doc, func(n *html.Node) bool { return n.Data == "body" }); b != nil {
		return b
	}
	return doc
}
