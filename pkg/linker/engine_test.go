package linker

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"testing"

	"github.com/jmylchreest/ecmalinks/pkg/htmltree"
	"github.com/jmylchreest/ecmalinks/pkg/semantics"
	"golang.org/x/net/html"
)

const specTitle = "ECMAScript® 2017 Language Specification"

func definition(headingText, nt string) string {
	return fmt.Sprintf(`<emu-clause><h1><span class="secnum">1.1</span>%s<span class="utils"></span></h1>`+
		`<emu-grammar><emu-production><emu-nt>%s</emu-nt><emu-rhs>x</emu-rhs></emu-production></emu-grammar></emu-clause>`,
		headingText, nt)
}

func render(t *testing.T, n *html.Node) string {
	t.Helper()
	var b strings.Builder
	if err := html.Render(&b, n); err != nil {
		t.Fatalf("render failed: %v", err)
	}
	return b.String()
}

func quietEngine(opts Options) *Engine {
	opts.Logger = Quiet()
	return New(opts)
}

func anchorTexts(root *html.Node) []string {
	var out []string
	for _, a := range htmltree.Elements(root, "a") {
		if htmltree.HasClass(a, DefaultAnchorClass) {
			out = append(out, htmltree.TextContent(a))
		}
	}
	return out
}

func TestRunWithoutDefinitionsLeavesDocument(t *testing.T) {
	doc := parseDoc(t, `<html><body><emu-clause><h1>Introduction</h1><p>BoundNames of x</p></emu-clause></body></html>`)
	before := render(t, doc)

	res, err := quietEngine(Options{}).Run(context.Background(), doc)
	if err != nil {
		t.Fatalf("Run failed: %v", err)
	}
	if res.Index.Len() != 0 || res.Anchors != 0 {
		t.Errorf("result = %+v", res)
	}
	if after := render(t, doc); after != before {
		t.Errorf("document changed:\n%s\n%s", before, after)
	}
}

func TestRunLinksOccurrences(t *testing.T) {
	doc := parseDoc(t, `<html><body>`+
		definition("Static Semantics: BoundNames", "BindingIdentifier")+
		`<p>Return the BoundNames of x and the BoundNames of y.</p>`+
		`<p>See <a href="#z">BoundNames</a>.</p>`+
		`</body></html>`)

	e := quietEngine(Options{})
	res, err := e.Run(context.Background(), doc)
	if err != nil {
		t.Fatalf("Run failed: %v", err)
	}
	if res.Skipped {
		t.Fatal("unexpected skip")
	}
	if res.Anchors != 2 || res.TextNodes != 1 {
		t.Errorf("anchors = %d, text nodes = %d, want 2 and 1", res.Anchors, res.TextNodes)
	}
	if e.Index() != res.Index || !res.Index.Has("BoundNames") {
		t.Error("index not recorded on the engine")
	}

	if got := anchorTexts(doc); strings.Join(got, ",") != "BoundNames,BoundNames" {
		t.Errorf("anchors = %v", got)
	}

	// The heading keeps its text node and the grammar got an id.
	h1 := htmltree.Elements(doc, "h1")[0]
	if len(htmltree.Elements(h1, "a")) != 0 {
		t.Error("heading was linked")
	}
	g := htmltree.Elements(doc, "emu-grammar")[0]
	if id, _ := htmltree.Attr(g, "id"); id != "ecmalinks-0" {
		t.Errorf("grammar id = %q", id)
	}

	p := htmltree.Elements(doc, "p")[0]
	if got := htmltree.TextContent(p); got != "Return the BoundNames of x and the BoundNames of y." {
		t.Errorf("paragraph text = %q", got)
	}
}

func TestRunCustomOptions(t *testing.T) {
	doc := parseDoc(t, `<html><body>`+
		definition("Runtime Semantics: Evaluation", "Script")+
		`<p>Evaluation</p><em>Evaluation</em></body></html>`)

	res, err := quietEngine(Options{
		IDPrefix:    "x",
		AnchorClass: "sem",
		ExcludeTags: []string{"a", "h1", "em"},
	}).Run(context.Background(), doc)
	if err != nil {
		t.Fatalf("Run failed: %v", err)
	}
	if res.Anchors != 1 {
		t.Errorf("anchors = %d, want 1", res.Anchors)
	}
	a := htmltree.Elements(doc, "a")
	if len(a) != 1 || !htmltree.HasClass(a[0], "sem") {
		t.Error("anchor class not applied")
	}
	g := htmltree.Elements(doc, "emu-grammar")[0]
	if id, _ := htmltree.Attr(g, "id"); id != "x-0" {
		t.Errorf("grammar id = %q", id)
	}
}

func TestRunGuard(t *testing.T) {
	body := definition("Static Semantics: BoundNames", "X") + `<p>BoundNames</p>`

	t.Run("match", func(t *testing.T) {
		doc := parseDoc(t, `<html><body><h1 class="title main">`+specTitle+`</h1>`+body+`</body></html>`)
		res, err := quietEngine(Options{GuardTitle: specTitle}).Run(context.Background(), doc)
		if err != nil {
			t.Fatalf("Run failed: %v", err)
		}
		if res.Skipped || res.Anchors != 1 {
			t.Errorf("result = %+v", res)
		}
	})

	t.Run("mismatch", func(t *testing.T) {
		doc := parseDoc(t, `<html><body><h1 class="title">Some Other Document</h1>`+body+`</body></html>`)
		before := render(t, doc)
		res, err := quietEngine(Options{GuardTitle: specTitle}).Run(context.Background(), doc)
		if err != nil {
			t.Fatalf("Run failed: %v", err)
		}
		if !res.Skipped || res.Index.Len() != 0 {
			t.Errorf("result = %+v", res)
		}
		if render(t, doc) != before {
			t.Error("skipped document was modified")
		}
	})

	t.Run("padded title", func(t *testing.T) {
		doc := parseDoc(t, `<html><body><h1 class="title"> `+specTitle+` </h1>`+body+`</body></html>`)
		res, err := quietEngine(Options{GuardTitle: specTitle}).Run(context.Background(), doc)
		if err != nil {
			t.Fatalf("Run failed: %v", err)
		}
		if !res.Skipped {
			t.Error("title with surrounding whitespace should not match")
		}
	})

	t.Run("missing title", func(t *testing.T) {
		doc := parseDoc(t, `<html><body>`+body+`</body></html>`)
		res, err := quietEngine(Options{GuardTitle: specTitle}).Run(context.Background(), doc)
		if err != nil {
			t.Fatalf("Run failed: %v", err)
		}
		if !res.Skipped {
			t.Error("expected skip without a title element")
		}
	})
}

func TestRunStructuralErrorLeavesText(t *testing.T) {
	doc := parseDoc(t, `<html><body>`+
		definition("Static Semantics: A", "X")+
		`<div><h1><span class="secnum">2</span>Static Semantics: B<span class="utils"></span></h1></div>`+
		`<p>A and B</p></body></html>`)

	_, err := quietEngine(Options{}).Run(context.Background(), doc)
	if !errors.Is(err, semantics.ErrStructure) {
		t.Fatalf("err = %v, want ErrStructure", err)
	}
	if got := anchorTexts(doc); len(got) != 0 {
		t.Errorf("anchors inserted despite failure: %v", got)
	}
}

func TestRunHooks(t *testing.T) {
	doc := parseDoc(t, `<html><body>`+definition("Static Semantics: A", "X")+`<p>A</p></body></html>`)

	var order []string
	e := quietEngine(Options{})
	e.OnLoad(func(d *html.Node) error {
		if len(anchorTexts(d)) != 0 {
			t.Error("hook ran after splicing")
		}
		order = append(order, "first")
		return nil
	})
	e.OnLoad(func(*html.Node) error {
		order = append(order, "second")
		return nil
	})

	if _, err := e.Run(context.Background(), doc); err != nil {
		t.Fatalf("Run failed: %v", err)
	}
	if strings.Join(order, ",") != "first,second" {
		t.Errorf("hook order = %v", order)
	}
}

func TestRunHookError(t *testing.T) {
	doc := parseDoc(t, `<html><body>`+definition("Static Semantics: A", "X")+`<p>A</p></body></html>`)
	boom := errors.New("boom")

	e := quietEngine(Options{})
	e.OnLoad(func(*html.Node) error { return boom })
	if _, err := e.Run(context.Background(), doc); !errors.Is(err, boom) {
		t.Errorf("err = %v, want boom", err)
	}
	if e.Index() != nil {
		t.Error("index built after hook failure")
	}
}

func TestRunOnce(t *testing.T) {
	doc := parseDoc(t, `<html><body><p>x</p></body></html>`)
	e := quietEngine(Options{})
	if _, err := e.Run(context.Background(), doc); err != nil {
		t.Fatalf("first Run failed: %v", err)
	}
	if _, err := e.Run(context.Background(), doc); !errors.Is(err, ErrAlreadyRun) {
		t.Errorf("err = %v, want ErrAlreadyRun", err)
	}
}

func TestRunCancelled(t *testing.T) {
	doc := parseDoc(t, `<html><body>`+definition("Static Semantics: A", "X")+`<p>A</p></body></html>`)
	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	if _, err := quietEngine(Options{}).Run(ctx, doc); !errors.Is(err, context.Canceled) {
		t.Errorf("err = %v, want context.Canceled", err)
	}
}

func TestEngineDefaults(t *testing.T) {
	opts := New(Options{}).Options()
	if opts.AnchorClass != DefaultAnchorClass {
		t.Errorf("anchor class = %q", opts.AnchorClass)
	}
	if strings.Join(opts.ExcludeTags, ",") != "a,h1,script,style" {
		t.Errorf("exclude tags = %v", opts.ExcludeTags)
	}
}
