package semantics

import (
	"fmt"
	"regexp"
	"strconv"

	"github.com/jmylchreest/ecmalinks/pkg/htmltree"
	"golang.org/x/net/html"
)

var (
	clauseTag     = regexp.MustCompile(`emu-clause|emu-annex`)
	grammarTag    = regexp.MustCompile(`emu-grammar`)
	productionTag = regexp.MustCompile(`emu-production`)
	ntTag         = regexp.MustCompile(`emu-nt`)
)

// Builder constructs an Index from the definition headings of one document.
// It holds all indexing state (the index and the id counter); nothing is
// shared between builders.
type Builder struct {
	index    *Index
	idPrefix string
	counter  int
}

// NewBuilder creates a builder that names unidentified grammar blocks
// "<idPrefix>-<n>" with n counting from 0. An empty prefix uses
// DefaultIDPrefix.
func NewBuilder(idPrefix string) *Builder {
	if idPrefix == "" {
		idPrefix = DefaultIDPrefix
	}
	return &Builder{index: NewIndex(), idPrefix: idPrefix}
}

// Index returns the index built so far.
func (b *Builder) Index() *Index {
	return b.index
}

func (b *Builder) nextID() string {
	id := b.idPrefix + "-" + strconv.Itoa(b.counter)
	b.counter++
	return id
}

// Build indexes every qualifying h1 under doc in document order.
func (b *Builder) Build(doc *html.Node) (*Index, error) {
	for _, h := range htmltree.Elements(doc, "h1") {
		parsed, ok := ParseHeading(h)
		if !ok {
			continue
		}
		if err := b.Add(h, parsed); err != nil {
			return nil, err
		}
	}
	return b.index, nil
}

// Add records the grammar productions of the clause enclosing heading under
// each name in parsed. Grammar blocks without an id are assigned one, and the
// id is written back to the element so same-page links resolve.
//
// A heading outside an emu-clause/emu-annex, or a production without exactly
// one emu-nt child, is a structural violation.
func (b *Builder) Add(heading *html.Node, parsed Heading) error {
	clause := heading.Parent
	if !htmltree.IsElement(clause, clauseTag, "") {
		return fmt.Errorf("%w: heading %q is not inside an emu-clause or emu-annex",
			ErrStructure, htmltree.TextContent(heading))
	}

	for _, name := range parsed.Names {
		for grammar := range htmltree.ChildElements(clause, grammarTag) {
			id, ok := htmltree.Attr(grammar, "id")
			if !ok {
				id = b.nextID()
				htmltree.SetAttr(grammar, "id", id)
			}
			for production := range htmltree.ChildElements(grammar, productionTag) {
				nt, err := nonterminal(production)
				if err != nil {
					return fmt.Errorf("heading %q, grammar %s: %w", htmltree.TextContent(heading), id, err)
				}
				b.index.add(&DefinitionSite{
					Kind:        parsed.Kind,
					Function:    name,
					Nonterminal: nt,
					SectionID:   id,
					Production:  production,
				})
			}
		}
	}
	return nil
}

// nonterminal returns the text of the single emu-nt child of production.
func nonterminal(production *html.Node) (string, error) {
	var found *html.Node
	for nt := range htmltree.ChildElements(production, ntTag) {
		if found != nil {
			return "", fmt.Errorf("%w: production has more than one emu-nt", ErrStructure)
		}
		found = nt
	}
	if found == nil {
		return "", fmt.Errorf("%w: production has no emu-nt", ErrStructure)
	}
	return htmltree.TextContent(found), nil
}

// BuildIndex is a convenience for NewBuilder(idPrefix).Build(doc).
func BuildIndex(doc *html.Node, idPrefix string) (*Index, error) {
	return NewBuilder(idPrefix).Build(doc)
}
