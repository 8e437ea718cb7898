package main

import (
	"context"
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"github.com/jmylchreest/ecmalinks/pkg/config"
	"github.com/jmylchreest/ecmalinks/pkg/document"
	"github.com/jmylchreest/ecmalinks/pkg/linker"
	"github.com/jmylchreest/ecmalinks/pkg/semantics"
	"github.com/jmylchreest/ecmalinks/pkg/store"
)

// =============================================================================
// flag helpers
// =============================================================================

func TestParseFlag(t *testing.T) {
	args := []string{"spec.html", "--out=linked.html", "--force"}
	if got := parseFlag(args, "--out="); got != "linked.html" {
		t.Errorf("parseFlag(--out=) = %q", got)
	}
	if got := parseFlag(args, "--out-dir="); got != "" {
		t.Errorf("parseFlag(--out-dir=) = %q, want empty", got)
	}
	if !hasFlag(args, "--force") || hasFlag(args, "--watch") {
		t.Error("hasFlag misreported flags")
	}
}

func TestParseIntFlag(t *testing.T) {
	tests := []struct {
		args []string
		want int
	}{
		{nil, 20},
		{[]string{"--limit=5"}, 5},
		{[]string{"--limit=abc"}, 20},
		{[]string{"--limit=-3"}, 20},
	}
	for _, tt := range tests {
		if got := parseIntFlag(tt.args, "--limit=", 20); got != tt.want {
			t.Errorf("parseIntFlag(%v) = %d, want %d", tt.args, got, tt.want)
		}
	}
}

func TestPositionalArgs(t *testing.T) {
	got := positionalArgs([]string{"a.html", "--force", "b.html", "-h", "--kind=static"})
	if strings.Join(got, ",") != "a.html,b.html" {
		t.Errorf("positionalArgs = %v", got)
	}
}

func TestTruncate(t *testing.T) {
	tests := []struct {
		in   string
		n    int
		want string
	}{
		{"short", 10, "short"},
		{"exactly10!", 10, "exactly10!"},
		{"this is too long", 10, "this is..."},
		{"tiny", 3, "tiny"},
	}
	for _, tt := range tests {
		if got := truncate(tt.in, tt.n); got != tt.want {
			t.Errorf("truncate(%q, %d) = %q, want %q", tt.in, tt.n, got, tt.want)
		}
	}
}

// =============================================================================
// inputs and outputs
// =============================================================================

func writeFile(t *testing.T, path, content string) {
	t.Helper()
	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		t.Fatal(err)
	}
	if err := os.WriteFile(path, []byte(content), 0o644); err != nil {
		t.Fatal(err)
	}
}

func TestExpandInputs(t *testing.T) {
	dir := t.TempDir()
	writeFile(t, filepath.Join(dir, "a.html"), "a")
	writeFile(t, filepath.Join(dir, "drafts", "b.html"), "b")
	writeFile(t, filepath.Join(dir, "drafts", "deep", "c.html"), "c")
	writeFile(t, filepath.Join(dir, "drafts", "notes.txt"), "n")

	got, err := expandInputs([]string{
		filepath.Join(dir, "a.html"),
		filepath.Join(dir, "**", "*.html"),
		"https://tc39.es/ecma262/",
	})
	if err != nil {
		t.Fatalf("expandInputs failed: %v", err)
	}
	want := []string{
		filepath.Join(dir, "a.html"),
		filepath.Join(dir, "drafts", "b.html"),
		filepath.Join(dir, "drafts", "deep", "c.html"),
		"https://tc39.es/ecma262/",
	}
	if strings.Join(got, "\n") != strings.Join(want, "\n") {
		t.Errorf("expandInputs =\n%v\nwant\n%v", got, want)
	}

	if _, err := expandInputs([]string{filepath.Join(dir, "*.xml")}); err == nil {
		t.Error("expected error for a glob without matches")
	}
	// Plain paths are passed through even when missing; loading reports it.
	if got, err := expandInputs([]string{"missing.html"}); err != nil || len(got) != 1 {
		t.Errorf("plain path: %v, %v", got, err)
	}
}

func TestExpandInputsHonoursIgnoreFile(t *testing.T) {
	dir := t.TempDir()
	t.Chdir(dir)
	writeFile(t, "spec.html", "s")
	writeFile(t, "spec.linked.html", "linked")
	writeFile(t, filepath.Join("drafts", "d.html"), "d")
	writeFile(t, ".ecmalinksignore", "drafts/\n")

	got, err := expandInputs([]string{"**/*.html"})
	if err != nil {
		t.Fatalf("expandInputs failed: %v", err)
	}
	if strings.Join(got, ",") != "spec.html" {
		t.Errorf("expandInputs = %v, want only spec.html", got)
	}

	// Named explicitly, an ignored file is still processed.
	if got, _ := expandInputs([]string{"spec.linked.html"}); len(got) != 1 {
		t.Errorf("explicit file dropped: %v", got)
	}
	if _, err := expandInputs([]string{"drafts/*.html"}); err == nil {
		t.Error("expected error when every match is ignored")
	}
}

func TestOutputPath(t *testing.T) {
	local := &document.Document{Source: filepath.Join("specs", "es2017.html")}
	if got := outputPath(local, ""); got != filepath.Join("specs", "es2017.linked.html") {
		t.Errorf("local = %q", got)
	}
	if got := outputPath(local, "out"); got != filepath.Join("out", "es2017.html") {
		t.Errorf("out-dir = %q", got)
	}
	remote := &document.Document{Source: "https://tc39.es/ecma262/2017/index.html"}
	if got := outputPath(remote, ""); got != "index.linked.html" {
		t.Errorf("remote = %q", got)
	}
}

func TestPlanOutputs(t *testing.T) {
	a := filepath.Join("a", "spec.html")
	b := filepath.Join("b", "spec.html")

	if _, err := planOutputs([]string{a, b}, "", "out"); err == nil {
		t.Error("expected error for two inputs sharing an output file")
	}

	dests, err := planOutputs([]string{a, b}, "", "")
	if err != nil {
		t.Fatalf("planOutputs failed: %v", err)
	}
	want := []string{filepath.Join("a", "spec.linked.html"), filepath.Join("b", "spec.linked.html")}
	if strings.Join(dests, ",") != strings.Join(want, ",") {
		t.Errorf("dests = %v, want %v", dests, want)
	}

	if dests, err := planOutputs([]string{a}, "-", ""); err != nil || dests[0] != "-" {
		t.Errorf("stdout: %v, %v", dests, err)
	}
	if dests, err := planOutputs([]string{a}, "linked.html", ""); err != nil || dests[0] != "linked.html" {
		t.Errorf("single out file: %v, %v", dests, err)
	}
}

func TestSourceKey(t *testing.T) {
	if got := sourceKey("https://tc39.es/ecma262/"); got != "https://tc39.es/ecma262/" {
		t.Errorf("url key = %q", got)
	}
	got := sourceKey("spec.html")
	if !filepath.IsAbs(got) || filepath.Base(got) != "spec.html" {
		t.Errorf("file key = %q", got)
	}
}

// =============================================================================
// linking and indexing
// =============================================================================

const testSpec = `<html><body>` +
	`<emu-clause id="sec-bn"><h1><span class="secnum">1</span>Static Semantics: BoundNames<span class="utils"></span></h1>` +
	`<emu-grammar><emu-production><emu-nt>BindingIdentifier</emu-nt><emu-rhs>x</emu-rhs></emu-production></emu-grammar>` +
	`<p>Return a new List.</p></emu-clause>` +
	`<emu-clause id="sec-bn2"><h1><span class="secnum">2</span>Static Semantics: BoundNames<span class="utils"></span></h1>` +
	`<emu-grammar><emu-production><emu-nt>BindingIdentifier</emu-nt><emu-rhs>y</emu-rhs></emu-production></emu-grammar></emu-clause>` +
	`<emu-clause id="sec-ev"><h1><span class="secnum">3</span>Runtime Semantics: Evaluation<span class="utils"></span></h1>` +
	`<emu-grammar><emu-production><emu-nt>Script</emu-nt><emu-rhs>z</emu-rhs></emu-production></emu-grammar>` +
	`<p>Let names be the BoundNames of Script, then perform Evaluation.</p></emu-clause>` +
	`</body></html>`

func testConfig(t *testing.T) *config.Config {
	t.Helper()
	return &config.Config{
		IDPrefix:     semantics.DefaultIDPrefix,
		AnchorClass:  linker.DefaultAnchorClass,
		ExcludeTags:  linker.DefaultExcludeTags,
		DBPath:       t.TempDir(),
		Workers:      2,
		FetchTimeout: time.Second,
		WatchDelay:   50 * time.Millisecond,
	}
}

func TestLinkAll(t *testing.T) {
	cfg := testConfig(t)
	dir := t.TempDir()
	a := filepath.Join(dir, "a.html")
	b := filepath.Join(dir, "b.html")
	writeFile(t, a, testSpec)
	writeFile(t, b, `<html><body><p>No definitions here.</p></body></html>`)

	docs, err := linkAll(context.Background(), cfg, []string{a, b}, staticPayload(0))
	if err != nil {
		t.Fatalf("linkAll failed: %v", err)
	}
	if len(docs) != 2 || docs[0].doc.Source != a || docs[1].doc.Source != b {
		t.Fatalf("results not in input order: %+v", docs)
	}
	if docs[0].result.Anchors != 2 || docs[0].result.Index.Len() != 2 {
		t.Errorf("a.html: anchors = %d, functions = %d", docs[0].result.Anchors, docs[0].result.Index.Len())
	}

	body, err := docs[0].doc.Bytes()
	if err != nil {
		t.Fatal(err)
	}
	out := string(body)
	if !strings.Contains(out, `id="`+linker.DataElementID+`"`) {
		t.Error("payload not injected")
	}
	if !strings.Contains(out, `class="`+linker.DefaultAnchorClass+`"`) {
		t.Error("no anchors in output")
	}

	if _, err := linkAll(context.Background(), cfg, []string{filepath.Join(dir, "missing.html")}, nil); err == nil {
		t.Error("expected error for a missing input")
	}
}

func TestLinkDocumentGuard(t *testing.T) {
	cfg := testConfig(t)
	cfg.GuardTitle = "ECMAScript® 2017 Language Specification"
	path := filepath.Join(t.TempDir(), "spec.html")
	writeFile(t, path, testSpec)

	l, err := linkDocument(context.Background(), cfg, path, nil, staticPayload(0))
	if err != nil {
		t.Fatalf("linkDocument failed: %v", err)
	}
	if !l.result.Skipped {
		t.Error("document without a matching title should be skipped")
	}
	body, _ := l.doc.Bytes()
	if strings.Contains(string(body), linker.DataElementID) {
		t.Error("skipped document was modified")
	}
}

func TestIndexDocuments(t *testing.T) {
	cfg := testConfig(t)
	path := filepath.Join(t.TempDir(), "spec.html")
	writeFile(t, path, testSpec)

	st, err := openStore(cfg)
	if err != nil {
		t.Fatal(err)
	}
	defer st.Close()
	ctx := context.Background()

	out, err := indexDocuments(ctx, cfg, st, []string{path}, false)
	if err != nil {
		t.Fatalf("indexDocuments failed: %v", err)
	}
	if len(out) != 1 || out[0] != (indexOutcome{Source: path, Status: "indexed", Functions: 2, Sites: 3}) {
		t.Errorf("first run = %+v", out)
	}

	out, _ = indexDocuments(ctx, cfg, st, []string{path}, false)
	if out[0].Status != "unchanged" {
		t.Errorf("second run status = %q, want unchanged", out[0].Status)
	}
	out, _ = indexDocuments(ctx, cfg, st, []string{path}, true)
	if out[0].Status != "indexed" {
		t.Errorf("forced run status = %q, want indexed", out[0].Status)
	}

	writeFile(t, path, strings.Replace(testSpec, "Return a new List.", "Return a new empty List.", 1))
	if upToDate(st, cfg, path) {
		t.Error("changed file reported up to date")
	}

	ix, err := st.LoadIndex(sourceKey(path))
	if err != nil {
		t.Fatal(err)
	}
	groups, err := ix.Groups("BoundNames")
	if err != nil {
		t.Fatal(err)
	}
	if got := semantics.FormatGroups(groups); got != "BindingIdentifier #ecmalinks-0 (2: #ecmalinks-1)\n" {
		t.Errorf("stored groups = %q", got)
	}
}

func TestResolveIndexWithoutStore(t *testing.T) {
	cfg := testConfig(t)
	cfg.DBPath = filepath.Join(t.TempDir(), "absent")
	path := filepath.Join(t.TempDir(), "spec.html")
	writeFile(t, path, testSpec)

	ix, err := resolveIndex(context.Background(), cfg, path)
	if err != nil {
		t.Fatalf("resolveIndex failed: %v", err)
	}
	if strings.Join(ix.Names(), ",") != "BoundNames,Evaluation" {
		t.Errorf("names = %v", ix.Names())
	}
	if _, err := os.Stat(cfg.DBPath); !os.IsNotExist(err) {
		t.Error("resolving without a store must not create one")
	}

	rows := functionRows(ix, "sites")
	if rows[0] != (functionRow{name: "BoundNames", kind: semantics.KindStatic, sites: 2, groups: 1}) {
		t.Errorf("rows[0] = %+v", rows[0])
	}
}

func TestSnapshotLoaderStoresDocument(t *testing.T) {
	cfg := testConfig(t)
	path := filepath.Join(t.TempDir(), "spec.html")
	writeFile(t, path, testSpec)

	st, err := store.Open(cfg.DBPath)
	if err != nil {
		t.Fatal(err)
	}
	defer st.Close()

	loader := &snapshotLoader{cfg: cfg, src: path, st: st}
	snap, err := loader.load(context.Background())
	if err != nil {
		t.Fatalf("load failed: %v", err)
	}
	if snap.Source != sourceKey(path) || snap.Index.Len() != 2 {
		t.Errorf("snapshot = %s with %d functions", snap.Source, snap.Index.Len())
	}
	if !strings.Contains(string(snap.HTML), `"endpoint":"/api/functions/"`) {
		t.Error("served payload missing from snapshot HTML")
	}
	if info, err := st.GetDocument(snap.Source); err != nil || info.Sites != 3 {
		t.Errorf("stored document = %+v, %v", info, err)
	}
}
