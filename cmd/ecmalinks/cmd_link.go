package main

import (
	"context"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strconv"
	"time"

	"github.com/jmylchreest/ecmalinks/pkg/config"
	"github.com/jmylchreest/ecmalinks/pkg/document"
	"github.com/jmylchreest/ecmalinks/pkg/linker"
	"github.com/olekukonko/tablewriter"
	"golang.org/x/sync/errgroup"
)

// payloadFunc chooses how popups reach the browser for a linked document.
type payloadFunc func(res *linker.Result, anchorClass string) (*linker.Payload, error)

// staticPayload embeds precomputed popup markup.
func staticPayload(dismiss time.Duration) payloadFunc {
	return func(res *linker.Result, anchorClass string) (*linker.Payload, error) {
		return linker.StaticPayload(res.Index, anchorClass, dismiss)
	}
}

// servedPayload makes the adapter fetch popups from endpoint.
func servedPayload(endpoint string, dismiss time.Duration) payloadFunc {
	return func(_ *linker.Result, anchorClass string) (*linker.Payload, error) {
		return linker.ServedPayload(endpoint, anchorClass, dismiss), nil
	}
}

// linked is one processed document.
type linked struct {
	doc    *document.Document
	result *linker.Result
}

// linkDocument loads src, links it in place and injects the adapter. A page
// rejected by the identity guard is returned unmodified with a skipped
// result.
func linkDocument(ctx context.Context, cfg *config.Config, src string, f document.Fetcher, payload payloadFunc) (*linked, error) {
	doc, err := document.Load(ctx, src, f)
	if err != nil {
		return nil, err
	}

	eng := linker.New(linkOptions(cfg))
	res, err := eng.Run(ctx, doc.Root)
	if err != nil {
		return nil, fmt.Errorf("%s: %w", src, err)
	}
	if res.Skipped || payload == nil {
		return &linked{doc: doc, result: res}, nil
	}

	p, err := payload(res, eng.Options().AnchorClass)
	if err != nil {
		return nil, fmt.Errorf("%s: %w", src, err)
	}
	if err := linker.Inject(doc.Root, p); err != nil {
		return nil, fmt.Errorf("%s: %w", src, err)
	}
	return &linked{doc: doc, result: res}, nil
}

// linkAll links inputs concurrently, at most cfg.Workers at a time. Results
// keep input order; the first failure cancels the rest.
func linkAll(ctx context.Context, cfg *config.Config, inputs []string, payload payloadFunc) ([]*linked, error) {
	fetcher := newFetcher(cfg)
	out := make([]*linked, len(inputs))

	g, ctx := errgroup.WithContext(ctx)
	g.SetLimit(cfg.Workers)
	for i, src := range inputs {
		g.Go(func() error {
			l, err := linkDocument(ctx, cfg, src, fetcher, payload)
			if err != nil {
				return err
			}
			out[i] = l
			return nil
		})
	}
	if err := g.Wait(); err != nil {
		return nil, err
	}
	return out, nil
}

func cmdLink(cfg *config.Config, args []string) error {
	if hasFlag(args, "--help") || hasFlag(args, "-h") {
		printLinkUsage()
		return nil
	}
	inputs, err := expandInputs(positionalArgs(args))
	if err != nil {
		return err
	}
	if len(inputs) == 0 {
		return errors.New("usage: ecmalinks link [flags] <file|glob|url>...")
	}

	outFile := parseFlag(args, "--out=")
	outDir := parseFlag(args, "--out-dir=")
	if outFile != "" && len(inputs) > 1 {
		return errors.New("--out takes a single input; use --out-dir for several")
	}

	dests, err := planOutputs(inputs, outFile, outDir)
	if err != nil {
		return err
	}

	payload := staticPayload(cfg.DismissDelay)
	if endpoint := parseFlag(args, "--endpoint="); endpoint != "" {
		payload = servedPayload(endpoint, cfg.DismissDelay)
	}

	docs, err := linkAll(context.Background(), cfg, inputs, payload)
	if err != nil {
		return err
	}

	table := tablewriter.NewWriter(os.Stderr)
	table.Header("Document", "Functions", "Anchors", "Output")
	for i, l := range docs {
		if l.result.Skipped {
			table.Append([]string{truncate(l.doc.Source, maxCellWidth), "-", "-", "skipped (title mismatch)"})
			continue
		}

		dest := dests[i]
		if dest == "-" {
			dest = "stdout"
			if err := l.doc.Render(os.Stdout); err != nil {
				return err
			}
		} else if err := l.doc.WriteFile(dest); err != nil {
			return err
		}
		table.Append([]string{
			truncate(l.doc.Source, maxCellWidth),
			strconv.Itoa(l.result.Index.Len()),
			strconv.Itoa(l.result.Anchors),
			dest,
		})
	}
	return table.Render()
}

// planOutputs assigns each input its destination, "-" meaning stdout. Two
// inputs that would land on the same file are an error, since the second
// write would silently replace the first.
func planOutputs(inputs []string, outFile, outDir string) ([]string, error) {
	dests := make([]string, len(inputs))
	owner := make(map[string]string, len(inputs))
	for i, src := range inputs {
		dest := outFile
		if dest == "" {
			dest = outputPath(&document.Document{Source: src}, outDir)
		}
		dests[i] = dest
		if dest == "-" {
			continue
		}
		key := filepath.Clean(dest)
		if prev, ok := owner[key]; ok {
			return nil, fmt.Errorf("%s and %s would both be written to %s", prev, src, dest)
		}
		owner[key] = src
	}
	return dests, nil
}

func printLinkUsage() {
	fmt.Print(`ecmalinks link - Link semantic function references

Usage:
  ecmalinks link [flags] <file|glob|url>...

Flags:
  --out=FILE         Output file for a single input ("-" for stdout)
  --out-dir=DIR      Write each linked document into DIR
  --endpoint=PATH    Fetch popups from PATH<name> instead of embedding them

Without --out or --out-dir, spec.html is written to spec.linked.html.
Globs support "**" and must be quoted so the shell leaves them alone.
`)
}
