package linker

import (
	"strings"
	"testing"

	"golang.org/x/net/html"
)

func parseDoc(t *testing.T, src string) *html.Node {
	t.Helper()
	doc, err := html.Parse(strings.NewReader(src))
	if err != nil {
		t.Fatalf("parse failed: %v", err)
	}
	return doc
}

func TestScannerEmptyIndexMatchesNothing(t *testing.T) {
	s := NewScanner(nil, DefaultExcludeTags)
	if s.Pattern() != nil {
		t.Fatal("expected no pattern")
	}
	doc := parseDoc(t, `<body><p>anything at all</p></body>`)
	if got := s.Scan(doc); len(got) != 0 {
		t.Errorf("occurrences = %d, want 0", len(got))
	}
}

func TestScannerSkipsEmptyNames(t *testing.T) {
	s := NewScanner([]string{"", "A"}, nil)
	if got := s.Pattern().String(); got != `\b(?:A)\b` {
		t.Errorf("pattern = %s", got)
	}
}

func TestScannerQuotesNames(t *testing.T) {
	s := NewScanner([]string{"a.b"}, nil)
	_, node := paragraph("a.b axb")
	occ := s.Match(node)
	if len(occ) != 1 || occ[0].Offset != 0 {
		t.Errorf("occurrences = %+v, want one at 0", occ)
	}
}

func TestScannerWholeWordOnly(t *testing.T) {
	s := NewScanner([]string{"Evaluation"}, nil)
	_, node := paragraph("Evaluation, ReEvaluation, Evaluations, (Evaluation)")
	occ := s.Match(node)

	var offsets []int
	for _, o := range occ {
		offsets = append(offsets, o.Offset)
		if o.Function != "Evaluation" || o.Node != node {
			t.Errorf("bad occurrence %+v", o)
		}
	}
	if len(offsets) != 2 || offsets[0] != 0 || offsets[1] != 40 {
		t.Errorf("offsets = %v, want [0 40]", offsets)
	}
}

func TestScannerExcludesSubtrees(t *testing.T) {
	doc := parseDoc(t, `<body>
<h1>Static Semantics: A</h1>
<p>A in text <a href="#x">A in link <b>A nested</b></a></p>
<script>var A = 1;</script>
<div><span>A deep</span></div>
</body>`)

	s := NewScanner([]string{"A"}, DefaultExcludeTags)
	found := s.Scan(doc)

	var texts []string
	for _, n := range found {
		texts = append(texts, strings.TrimSpace(n.Node.Data))
	}
	if strings.Join(texts, "|") != "A in text|A deep" {
		t.Errorf("matched nodes = %q", texts)
	}
}

func TestScannerDoesNotMutate(t *testing.T) {
	doc := parseDoc(t, `<body><p>A B A</p></body>`)
	var before strings.Builder
	html.Render(&before, doc)

	s := NewScanner([]string{"A", "B"}, nil)
	found := s.Scan(doc)
	if len(found) != 1 || len(found[0].Occurrences) != 3 {
		t.Fatalf("unexpected scan result: %+v", found)
	}

	var after strings.Builder
	html.Render(&after, doc)
	if before.String() != after.String() {
		t.Error("scan modified the document")
	}
}

func TestScannerAlternationOrder(t *testing.T) {
	// Leftmost-first alternation in index order, bounded by \b on both
	// sides, still finds the longer name when the shorter cannot end on a
	// word boundary.
	s := NewScanner([]string{"TV", "TVs"}, nil)
	_, node := paragraph("TVs TV")
	occ := s.Match(node)
	if len(occ) != 2 || occ[0].Function != "TVs" || occ[1].Function != "TV" {
		t.Errorf("occurrences = %+v", occ)
	}
}
