package main

import (
	"context"
	"errors"
	"fmt"
	"os"
	"sort"
	"strconv"
	"strings"
	"time"

	"github.com/jmylchreest/ecmalinks/pkg/config"
	"github.com/jmylchreest/ecmalinks/pkg/document"
	"github.com/jmylchreest/ecmalinks/pkg/semantics"
	"github.com/jmylchreest/ecmalinks/pkg/store"
	"github.com/olekukonko/tablewriter"
)

// ============================================================================
// index
// ============================================================================

// indexOutcome reports what indexing did with one input.
type indexOutcome struct {
	Source    string `json:"source"`
	Status    string `json:"status"` // indexed, unchanged or skipped
	Functions int    `json:"functions"`
	Sites     int    `json:"sites"`
}

// indexDocuments links inputs and stores their definition sites. Local files
// whose content and id prefix are unchanged are left alone unless force is
// set.
func indexDocuments(ctx context.Context, cfg *config.Config, st *store.SiteStore, inputs []string, force bool) ([]indexOutcome, error) {
	var (
		out     []indexOutcome
		pending []string
	)
	for _, src := range inputs {
		if !force && upToDate(st, cfg, src) {
			out = append(out, indexOutcome{Source: src, Status: "unchanged"})
			continue
		}
		pending = append(pending, src)
	}
	if len(pending) == 0 {
		return out, nil
	}

	docs, err := linkAll(ctx, cfg, pending, nil)
	if err != nil {
		return nil, err
	}

	// bbolt serialises writers, so documents are stored one at a time.
	for _, l := range docs {
		if l.result.Skipped {
			out = append(out, indexOutcome{Source: l.doc.Source, Status: "skipped"})
			continue
		}
		info := &store.DocumentInfo{
			Source:   sourceKey(l.doc.Source),
			Hash:     l.doc.Hash,
			IDPrefix: cfg.IDPrefix,
		}
		if err := st.ReplaceDocument(info, l.result.Index.All()); err != nil {
			return nil, err
		}
		out = append(out, indexOutcome{
			Source:    l.doc.Source,
			Status:    "indexed",
			Functions: info.Functions,
			Sites:     info.Sites,
		})
	}
	return out, nil
}

func cmdIndex(cfg *config.Config, args []string) error {
	inputs, err := expandInputs(positionalArgs(args))
	if err != nil {
		return err
	}
	if len(inputs) == 0 {
		return errors.New("usage: ecmalinks index [--force] <file|glob|url>...")
	}

	st, err := openStore(cfg)
	if err != nil {
		return err
	}
	defer st.Close()

	start := time.Now()
	outcomes, err := indexDocuments(context.Background(), cfg, st, inputs, hasFlag(args, "--force"))
	if err != nil {
		return err
	}

	var indexed, sites int
	for _, o := range outcomes {
		switch o.Status {
		case "indexed":
			indexed++
			sites += o.Sites
			fmt.Printf("indexed: %s (%d functions, %d sites)\n", o.Source, o.Functions, o.Sites)
		case "skipped":
			fmt.Printf("skipped (title mismatch): %s\n", o.Source)
		default:
			fmt.Printf("unchanged: %s\n", o.Source)
		}
	}
	fmt.Printf("Indexed %d documents, %d sites in %v\n", indexed, sites, time.Since(start).Round(time.Millisecond))
	return nil
}

// upToDate reports whether a local file is stored with its current content
// and id prefix. URLs are always re-fetched.
func upToDate(st *store.SiteStore, cfg *config.Config, src string) bool {
	if document.IsURL(src) {
		return false
	}
	info, err := st.GetDocument(sourceKey(src))
	if err != nil || info.IDPrefix != cfg.IDPrefix {
		return false
	}
	hash, err := document.HashFile(src)
	return err == nil && hash == info.Hash
}

// resolveIndex returns the index of src, from the store when it holds an
// up-to-date copy, otherwise by linking the document.
func resolveIndex(ctx context.Context, cfg *config.Config, src string) (*semantics.Index, error) {
	if _, err := os.Stat(storeDir(cfg)); err == nil {
		st, err := openStore(cfg)
		if err != nil {
			return nil, err
		}
		defer st.Close()
		if upToDate(st, cfg, src) {
			return st.LoadIndex(sourceKey(src))
		}
	}

	l, err := linkDocument(ctx, cfg, src, newFetcher(cfg), nil)
	if err != nil {
		return nil, err
	}
	if l.result.Skipped {
		return nil, fmt.Errorf("%s: page title does not match %q", src, cfg.GuardTitle)
	}
	return l.result.Index, nil
}

// ============================================================================
// functions / groups
// ============================================================================

func cmdFunctions(cfg *config.Config, args []string) error {
	pos := positionalArgs(args)
	if len(pos) != 1 {
		return errors.New("usage: ecmalinks functions [--sort=name|sites] <file|url>")
	}
	ix, err := resolveIndex(context.Background(), cfg, pos[0])
	if err != nil {
		return err
	}

	rows := functionRows(ix, parseFlag(args, "--sort="))
	table := tablewriter.NewWriter(os.Stdout)
	table.Header("Function", "Kind", "Sites", "Groups")
	for _, r := range rows {
		table.Append([]string{r.name, string(r.kind), strconv.Itoa(r.sites), strconv.Itoa(r.groups)})
	}
	if err := table.Render(); err != nil {
		return err
	}

	s := ix.Stats()
	fmt.Printf("%d functions (%d static, %d runtime), %d sites\n", s.Functions, s.Static, s.Runtime, s.Sites)
	return nil
}

type functionRow struct {
	name   string
	kind   semantics.Kind
	sites  int
	groups int
}

// functionRows lists functions in index order, or sorted by name or by
// descending site count.
func functionRows(ix *semantics.Index, sortBy string) []functionRow {
	var rows []functionRow
	for _, name := range ix.Names() {
		sites, _ := ix.Sites(name)
		rows = append(rows, functionRow{
			name:   name,
			kind:   sites[0].Kind,
			sites:  len(sites),
			groups: len(semantics.GroupSites(sites)),
		})
	}
	switch sortBy {
	case "name":
		sort.SliceStable(rows, func(i, j int) bool { return rows[i].name < rows[j].name })
	case "sites":
		sort.SliceStable(rows, func(i, j int) bool { return rows[i].sites > rows[j].sites })
	}
	return rows
}

func cmdGroups(cfg *config.Config, args []string) error {
	pos := positionalArgs(args)
	if len(pos) != 2 {
		return errors.New("usage: ecmalinks groups [--html] <file|url> <function>")
	}
	ix, err := resolveIndex(context.Background(), cfg, pos[0])
	if err != nil {
		return err
	}
	groups, err := ix.Groups(pos[1])
	if err != nil {
		return err
	}

	if hasFlag(args, "--html") {
		markup, err := semantics.RenderGroups(groups)
		if err != nil {
			return err
		}
		fmt.Println(markup.String())
		return nil
	}
	fmt.Print(semantics.FormatGroups(groups))
	return nil
}

// ============================================================================
// search / stats / clear
// ============================================================================

func cmdSearch(cfg *config.Config, args []string) error {
	pos := positionalArgs(args)
	if len(pos) == 0 {
		return errors.New("usage: ecmalinks search <query> [--document=SRC] [--kind=static|runtime] [--limit=N]")
	}

	st, err := openStore(cfg)
	if err != nil {
		return err
	}
	defer st.Close()

	opts := store.SearchOptions{
		Kind:  parseFlag(args, "--kind="),
		Limit: parseIntFlag(args, "--limit=", defaultSearchLimit),
	}
	if doc := parseFlag(args, "--document="); doc != "" {
		opts.Document = sourceKey(doc)
	}
	results, err := st.Search(strings.Join(pos, " "), opts)
	if err != nil {
		return err
	}
	if len(results) == 0 {
		fmt.Println("No matching functions.")
		return nil
	}

	table := tablewriter.NewWriter(os.Stdout)
	table.Header("Function", "Kind", "Nonterminal", "Section", "Document", "Score")
	for _, r := range results {
		table.Append([]string{
			r.Site.Function,
			string(r.Site.Kind),
			r.Site.Nonterminal,
			r.Site.SectionID,
			truncate(r.Site.Document, maxCellWidth),
			strconv.FormatFloat(r.Score, 'f', 2, 64),
		})
	}
	return table.Render()
}

func cmdStats(cfg *config.Config, args []string) error {
	st, err := openStore(cfg)
	if err != nil {
		return err
	}
	defer st.Close()

	stats, err := st.Stats()
	if err != nil {
		return err
	}
	docs, err := st.ListDocuments()
	if err != nil {
		return err
	}

	if hasFlag(args, "--json") {
		return printJSON(map[string]any{"stats": stats, "documents": docs})
	}

	fmt.Printf("Store: %s\n", storeDir(cfg))
	fmt.Printf("Documents: %d  Functions: %d  Sites: %d\n", stats.Documents, stats.Functions, stats.Sites)
	if len(docs) == 0 {
		return nil
	}
	table := tablewriter.NewWriter(os.Stdout)
	table.Header("Document", "Functions", "Sites", "Prefix", "Indexed")
	for _, d := range docs {
		table.Append([]string{
			truncate(d.Source, maxCellWidth),
			strconv.Itoa(d.Functions),
			strconv.Itoa(d.Sites),
			d.IDPrefix,
			d.IndexedAt.Format("2006-01-02 15:04:05"),
		})
	}
	return table.Render()
}

func cmdClear(cfg *config.Config, args []string) error {
	st, err := openStore(cfg)
	if err != nil {
		return err
	}
	defer st.Close()

	pos := positionalArgs(args)
	if len(pos) == 0 {
		if err := st.Clear(); err != nil {
			return err
		}
		fmt.Println("Store cleared.")
		return nil
	}
	for _, src := range pos {
		if err := st.DeleteDocument(sourceKey(src)); err != nil {
			if errors.Is(err, store.ErrNotFound) {
				return fmt.Errorf("not indexed: %s", src)
			}
			return err
		}
		fmt.Printf("removed: %s\n", src)
	}
	return nil
}
