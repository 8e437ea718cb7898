package semantics

import (
	"fmt"
	"strconv"
	"strings"

	"github.com/google/safehtml"
	"github.com/google/safehtml/template"
)

// OverloadGroup is a run of consecutive definition sites sharing one
// nonterminal.
type OverloadGroup struct {
	Nonterminal string
	Sites       []*DefinitionSite
}

// SiteLink is one same-page link of a rendered group.
type SiteLink struct {
	Label     string `json:"label"`
	SectionID string `json:"section"`
}

// Href returns the fragment reference for the link.
func (l SiteLink) Href() string {
	return "#" + l.SectionID
}

// Primary returns the link for the first site of the group, labelled with the
// nonterminal.
func (g OverloadGroup) Primary() SiteLink {
	return SiteLink{Label: g.Nonterminal, SectionID: g.Sites[0].SectionID}
}

// Overflow returns links for the second and later sites, labelled with their
// 1-based position in the group ("2", "3", …). It is empty for single-site
// groups.
func (g OverloadGroup) Overflow() []SiteLink {
	if len(g.Sites) < 2 {
		return nil
	}
	out := make([]SiteLink, 0, len(g.Sites)-1)
	for i, s := range g.Sites[1:] {
		out = append(out, SiteLink{Label: strconv.Itoa(i + 2), SectionID: s.SectionID})
	}
	return out
}

// GroupSites splits sites into overload groups. A new group starts whenever
// the nonterminal differs from the preceding site's; runs of the same
// nonterminal that are not adjacent stay separate.
func GroupSites(sites []*DefinitionSite) []OverloadGroup {
	var groups []OverloadGroup
	for i, s := range sites {
		if i == 0 || s.Nonterminal != sites[i-1].Nonterminal {
			groups = append(groups, OverloadGroup{Nonterminal: s.Nonterminal})
		}
		last := &groups[len(groups)-1]
		last.Sites = append(last.Sites, s)
	}
	return groups
}

// Groups returns the overload groups for name. Groups are recomputed on every
// call.
func (ix *Index) Groups(name string) ([]OverloadGroup, error) {
	sites, ok := ix.sites[name]
	if !ok {
		return nil, fmt.Errorf("%w: %s", ErrUnknownFunction, name)
	}
	return GroupSites(sites), nil
}

// GroupView is the serialisable form of a rendered group.
type GroupView struct {
	Nonterminal string     `json:"nonterminal"`
	Primary     SiteLink   `json:"primary"`
	Overflow    []SiteLink `json:"overflow,omitempty"`
}

// Views converts groups to their serialisable form.
func Views(groups []OverloadGroup) []GroupView {
	out := make([]GroupView, 0, len(groups))
	for _, g := range groups {
		out = append(out, GroupView{
			Nonterminal: g.Nonterminal,
			Primary:     g.Primary(),
			Overflow:    g.Overflow(),
		})
	}
	return out
}

type renderLink struct {
	Href  safehtml.URL
	Label string
}

type renderItem struct {
	Primary  renderLink
	Overflow []renderLink
}

// groupsTemplate expects a []renderItem.
var groupsTemplate = template.Must(template.New("groups").Parse(
	`{{range .}}<li><a href="{{.Primary.Href}}">{{.Primary.Label}}</a>` +
		`{{if .Overflow}} ({{range $i, $o := .Overflow}}{{if $i}}, {{end}}<a href="{{$o.Href}}">{{$o.Label}}</a>{{end}}){{end}}</li>{{end}}`))

func toRenderLink(l SiteLink) renderLink {
	return renderLink{Href: safehtml.URLSanitized(l.Href()), Label: l.Label}
}

// RenderGroups renders groups as popup list items:
//
//	<li><a href="#id1">X</a> (<a href="#id2">2</a>, <a href="#id3">3</a>)</li>
func RenderGroups(groups []OverloadGroup) (safehtml.HTML, error) {
	items := make([]renderItem, 0, len(groups))
	for _, g := range groups {
		item := renderItem{Primary: toRenderLink(g.Primary())}
		for _, o := range g.Overflow() {
			item.Overflow = append(item.Overflow, toRenderLink(o))
		}
		items = append(items, item)
	}
	return groupsTemplate.ExecuteToHTML(items)
}

// FormatGroups renders groups as plain text, one group per line:
//
//	X #id1 (2: #id2, 3: #id3)
func FormatGroups(groups []OverloadGroup) string {
	var b strings.Builder
	for _, g := range groups {
		p := g.Primary()
		fmt.Fprintf(&b, "%s %s", p.Label, p.Href())
		if over := g.Overflow(); len(over) > 0 {
			parts := make([]string, 0, len(over))
			for _, o := range over {
				parts = append(parts, o.Label+": "+o.Href())
			}
			fmt.Fprintf(&b, " (%s)", strings.Join(parts, ", "))
		}
		b.WriteString("\n")
	}
	return b.String()
}
