package linker

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log"
	"os"
	"time"

	"github.com/jmylchreest/ecmalinks/pkg/htmltree"
	"github.com/jmylchreest/ecmalinks/pkg/semantics"
	"golang.org/x/net/html"
)

var linkLog = log.New(os.Stderr, "[ecmalinks:linker] ", log.Ltime)

// ErrAlreadyRun is returned when an Engine is run a second time. Each document
// load gets its own Engine.
var ErrAlreadyRun = errors.New("engine already ran")

// Options configures an Engine.
type Options struct {
	IDPrefix    string   // Prefix for generated grammar ids (default "ecmalinks")
	AnchorClass string   // Class of inserted anchors (default "ecmalinks-ref")
	ExcludeTags []string // Elements whose text is not linked (default DefaultExcludeTags)

	// GuardTitle, when set, must equal the text of the first element with
	// class "title"; otherwise the engine leaves the document alone.
	GuardTitle string

	// Logger receives progress messages. Nil uses the package logger.
	Logger *log.Logger
}

// LoadHook observes a fully parsed document before indexing starts.
type LoadHook func(doc *html.Node) error

// Result reports what a run did.
type Result struct {
	Index     *semantics.Index
	Skipped   bool // page-identity guard did not match
	TextNodes int  // text nodes that received anchors
	Anchors   int
	Duration  time.Duration
}

// Engine links one document. It owns all per-document state: the index, the
// grammar id counter, and the registered load hooks.
type Engine struct {
	opts    Options
	builder *semantics.Builder
	hooks   []LoadHook
	log     *log.Logger
	ran     bool
	index   *semantics.Index
}

// New creates an engine for one document load.
func New(opts Options) *Engine {
	if opts.ExcludeTags == nil {
		opts.ExcludeTags = DefaultExcludeTags
	}
	if opts.AnchorClass == "" {
		opts.AnchorClass = DefaultAnchorClass
	}
	logger := opts.Logger
	if logger == nil {
		logger = linkLog
	}
	return &Engine{
		opts:    opts,
		builder: semantics.NewBuilder(opts.IDPrefix),
		log:     logger,
	}
}

// Quiet returns a logger that discards everything, for callers that want the
// engine silent.
func Quiet() *log.Logger {
	return log.New(io.Discard, "", 0)
}

// OnLoad registers a hook to run after the document is loaded and before the
// engine indexes it. Hooks run in registration order.
func (e *Engine) OnLoad(h LoadHook) {
	e.hooks = append(e.hooks, h)
}

// Index returns the index built by Run, or nil before Run.
func (e *Engine) Index() *semantics.Index {
	return e.index
}

// Options returns the effective options.
func (e *Engine) Options() Options {
	return e.opts
}

// Run links doc in place. doc must be fully parsed. Load hooks run first;
// indexing, scanning and splicing then run to completion without yielding.
//
// A structural violation aborts the run before any text is modified. A
// failed page-identity guard is not an error: the result is marked Skipped.
func (e *Engine) Run(ctx context.Context, doc *html.Node) (*Result, error) {
	if e.ran {
		return nil, ErrAlreadyRun
	}
	e.ran = true

	if !e.pageMatches(doc) {
		e.log.Printf("document title does not match %q, skipping", e.opts.GuardTitle)
		return &Result{Skipped: true, Index: semantics.NewIndex()}, nil
	}

	for _, h := range e.hooks {
		if err := h(doc); err != nil {
			return nil, fmt.Errorf("load hook: %w", err)
		}
	}
	if err := ctx.Err(); err != nil {
		return nil, err
	}

	start := time.Now()
	index, err := e.builder.Build(doc)
	if err != nil {
		return nil, fmt.Errorf("build index: %w", err)
	}
	e.index = index

	scanner := NewScanner(index.Names(), e.opts.ExcludeTags)
	found := scanner.Scan(htmltree.Body(doc))

	newAnchor := NewAnchor(e.opts.AnchorClass)
	res := &Result{Index: index}
	for _, n := range found {
		res.Anchors += Splice(n.Node, n.Occurrences, newAnchor)
		res.TextNodes++
	}
	res.Duration = time.Since(start)

	e.log.Printf("indexed %d functions, inserted %d anchors in %v", index.Len(), res.Anchors, res.Duration)
	return res, nil
}

// pageMatches compares the text of the first element with class "title"
// against the guard exactly, surrounding whitespace included.
func (e *Engine) pageMatches(doc *html.Node) bool {
	if e.opts.GuardTitle == "" {
		return true
	}
	title := htmltree.FindElement(doc, func(n *html.Node) bool {
		return htmltree.HasClass(n, "title")
	})
	if title == nil {
		return false
	}
	return htmltree.TextContent(title) == e.opts.GuardTitle
}
