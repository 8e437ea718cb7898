// Package semantics indexes the semantic functions declared by an ecmarkup
// document and groups their definition sites for display.
package semantics

import (
	"errors"

	"golang.org/x/net/html"
)

// Common errors.
var (
	// ErrStructure marks a document that deviates from the ecmarkup shape the
	// indexer relies on. It aborts the build and is never recovered locally.
	ErrStructure = errors.New("document structure violation")

	// ErrUnknownFunction is returned when grouping a name that is not indexed.
	ErrUnknownFunction = errors.New("unknown semantic function")
)

// Kind is the declared semantics category of a definition heading.
type Kind string

// Kind constants
const (
	KindStatic  Kind = "Static"
	KindRuntime Kind = "Runtime"
)

// ExcludedNameList is the heading name list that is never indexed.
const ExcludedNameList = "Early Errors"

// DefaultIDPrefix prefixes identifiers generated for grammar blocks.
const DefaultIDPrefix = "ecmalinks"

// DefinitionSite is one grammar production a semantic function is defined over.
type DefinitionSite struct {
	Kind        Kind   `json:"kind"`
	Function    string `json:"function"`
	Nonterminal string `json:"nonterminal"`
	SectionID   string `json:"section"` // id of the enclosing emu-grammar

	// Production is the emu-production element. Nil for sites loaded from
	// a store.
	Production *html.Node `json:"-"`
}

// Heading is a parsed definition heading.
type Heading struct {
	Kind  Kind
	Names []string
}

// IndexStats summarises an index.
type IndexStats struct {
	Functions int `json:"functions"`
	Sites     int `json:"sites"`
	Static    int `json:"static"`
	Runtime   int `json:"runtime"`
}

// Index maps function names to their definition sites. Keys keep first-seen
// order and sites keep document order. An Index is only mutated by the
// Builder that owns it; once built it is read-only.
type Index struct {
	names []string
	sites map[string][]*DefinitionSite
}

// NewIndex creates an empty index.
func NewIndex() *Index {
	return &Index{sites: make(map[string][]*DefinitionSite)}
}

func (ix *Index) add(site *DefinitionSite) {
	list, ok := ix.sites[site.Function]
	if !ok {
		ix.names = append(ix.names, site.Function)
	}
	ix.sites[site.Function] = append(list, site)
}

// Names returns the indexed function names in first-seen order.
func (ix *Index) Names() []string {
	out := make([]string, len(ix.names))
	copy(out, ix.names)
	return out
}

// Sites returns the definition sites for name in document order.
func (ix *Index) Sites(name string) ([]*DefinitionSite, bool) {
	list, ok := ix.sites[name]
	if !ok {
		return nil, false
	}
	out := make([]*DefinitionSite, len(list))
	copy(out, list)
	return out, true
}

// Has reports whether name is indexed.
func (ix *Index) Has(name string) bool {
	_, ok := ix.sites[name]
	return ok
}

// Len returns the number of indexed function names.
func (ix *Index) Len() int {
	return len(ix.names)
}

// All returns every site in index order: names in first-seen order, sites in
// document order within each name.
func (ix *Index) All() []*DefinitionSite {
	var out []*DefinitionSite
	for _, name := range ix.names {
		out = append(out, ix.sites[name]...)
	}
	return out
}

// Stats returns counts over the index.
func (ix *Index) Stats() IndexStats {
	st := IndexStats{Functions: len(ix.names)}
	for _, list := range ix.sites {
		st.Sites += len(list)
		for _, s := range list {
			switch s.Kind {
			case KindStatic:
				st.Static++
			case KindRuntime:
				st.Runtime++
			}
		}
	}
	return st
}

// IndexFromSites rebuilds an index from sites already in index order, such as
// those loaded from a store.
func IndexFromSites(sites []*DefinitionSite) *Index {
	ix := NewIndex()
	for _, s := range sites {
		ix.add(s)
	}
	return ix
}
