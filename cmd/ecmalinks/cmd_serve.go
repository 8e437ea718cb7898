package main

import (
	"context"
	"errors"
	"fmt"
	"log"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/fsnotify/fsnotify"
	"github.com/jmylchreest/ecmalinks/pkg/config"
	"github.com/jmylchreest/ecmalinks/pkg/document"
	"github.com/jmylchreest/ecmalinks/pkg/server"
	"github.com/jmylchreest/ecmalinks/pkg/store"
	"github.com/jmylchreest/ecmalinks/pkg/watcher"
)

var serveLog = log.New(os.Stderr, "[ecmalinks:serve] ", log.Ltime)

// snapshotLoader links the served document afresh on every call. When st
// is set each load is also written to the store.
type snapshotLoader struct {
	cfg     *config.Config
	src     string
	fetcher document.Fetcher
	st      *store.SiteStore
}

func (l *snapshotLoader) load(ctx context.Context) (*server.Snapshot, error) {
	linkedDoc, err := linkDocument(ctx, l.cfg, l.src, l.fetcher, servedPayload(server.PopupEndpoint, l.cfg.DismissDelay))
	if err != nil {
		return nil, err
	}
	if linkedDoc.result.Skipped {
		return nil, fmt.Errorf("%s: page title does not match %q", l.src, l.cfg.GuardTitle)
	}
	body, err := linkedDoc.doc.Bytes()
	if err != nil {
		return nil, fmt.Errorf("render %s: %w", l.src, err)
	}

	source := sourceKey(l.src)
	if l.st != nil {
		info := &store.DocumentInfo{Source: source, Hash: linkedDoc.doc.Hash, IDPrefix: l.cfg.IDPrefix}
		if err := l.st.ReplaceDocument(info, linkedDoc.result.Index.All()); err != nil {
			return nil, err
		}
	}
	return &server.Snapshot{
		Source: source,
		HTML:   body,
		Index:  linkedDoc.result.Index,
		Loaded: time.Now(),
	}, nil
}

// reloadHandler relinks the document after it changes on disk and swaps
// the result into the server. A failed reload keeps the previous snapshot.
type reloadHandler struct {
	ctx    context.Context
	loader *snapshotLoader
	srv    *server.Server
}

func (h *reloadHandler) OnChanges(files map[string]fsnotify.Op) {
	for path, op := range files {
		if watcher.IsGone(path, op) {
			serveLog.Printf("%s was removed, keeping the last version", path)
			return
		}
	}
	snap, err := h.loader.load(h.ctx)
	if err != nil {
		serveLog.Printf("reload failed: %v", err)
		return
	}
	h.srv.Swap(snap)
}

func cmdServe(cfg *config.Config, args []string) error {
	if hasFlag(args, "--help") || hasFlag(args, "-h") {
		printServeUsage()
		return nil
	}
	pos := positionalArgs(args)
	if len(pos) != 1 {
		return errors.New("usage: ecmalinks serve [flags] <file|url>")
	}
	src := pos[0]
	watch := hasFlag(args, "--watch")
	if watch && document.IsURL(src) {
		return errors.New("--watch needs a local file")
	}
	addr := parseFlag(args, "--addr=")
	if addr == "" {
		addr = cfg.Addr
	}

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	loader := &snapshotLoader{cfg: cfg, src: src, fetcher: newFetcher(cfg)}
	var searcher server.Searcher
	if hasFlag(args, "--index") {
		st, err := openStore(cfg)
		if err != nil {
			return err
		}
		defer st.Close()
		loader.st = st
		searcher = st
	}

	snap, err := loader.load(ctx)
	if err != nil {
		return err
	}
	srv := server.NewServer(addr, snap, searcher)
	serveLog.Printf("linked %s: %d functions", snap.Source, snap.Index.Len())

	if watch {
		w, err := watcher.New(watcher.Config{
			Files:         []string{src},
			DebounceDelay: cfg.WatchDelay,
		}, &reloadHandler{ctx: ctx, loader: loader, srv: srv})
		if err != nil {
			return err
		}
		if err := w.Start(); err != nil {
			return err
		}
		defer w.Stop()
		serveLog.Printf("watching %s (debounce: %v)", src, cfg.WatchDelay)
	}

	return srv.Start(ctx)
}

func printServeUsage() {
	fmt.Print(`ecmalinks serve - Serve a linked document with a popup API

Usage:
  ecmalinks serve [flags] <file|url>

Flags:
  --addr=HOST:PORT   Listen address (default: config addr, 127.0.0.1:8262)
  --watch            Relink and swap the document when the file changes
  --index            Store each load and enable full-text /api/search

Routes:
  GET /                         Linked document
  GET /api/functions            Function listing (?sort=name)
  GET /api/functions/{name}     Overload groups (?format=html for popup markup)
  GET /api/search?q=            Search function names
  GET /health                   Health check
`)
}
