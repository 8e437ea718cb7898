package main

import (
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"strconv"
	"strings"

	"github.com/bmatcuk/doublestar/v4"
	"github.com/jmylchreest/ecmalinks/internal/version"
	"github.com/jmylchreest/ecmalinks/pkg/config"
	"github.com/jmylchreest/ecmalinks/pkg/document"
	"github.com/jmylchreest/ecmalinks/pkg/httputil"
	"github.com/jmylchreest/ecmalinks/pkg/ignore"
	"github.com/jmylchreest/ecmalinks/pkg/linker"
	"github.com/jmylchreest/ecmalinks/pkg/store"
)

// fatal prints an error message and exits with code 1.
func fatal(format string, args ...any) {
	fmt.Fprintf(os.Stderr, format+"\n", args...)
	os.Exit(1)
}

// truncate shortens a string to n characters with ellipsis.
func truncate(s string, n int) string {
	if n < 4 {
		return s
	}
	if len(s) <= n {
		return s
	}
	return s[:n-3] + "..."
}

// parseFlag extracts a flag value from args (e.g., "--key=value").
func parseFlag(args []string, prefix string) string {
	for _, arg := range args {
		if strings.HasPrefix(arg, prefix) {
			return strings.TrimPrefix(arg, prefix)
		}
	}
	return ""
}

// parseIntFlag parses an integer flag, returning def when absent or invalid.
func parseIntFlag(args []string, prefix string, def int) int {
	v := parseFlag(args, prefix)
	if v == "" {
		return def
	}
	n, err := strconv.Atoi(v)
	if err != nil || n <= 0 {
		return def
	}
	return n
}

// hasFlag checks if a flag is present in args.
func hasFlag(args []string, flag string) bool {
	for _, arg := range args {
		if arg == flag {
			return true
		}
	}
	return false
}

// positionalArgs returns the arguments that are not flags.
func positionalArgs(args []string) []string {
	var out []string
	for _, arg := range args {
		if !strings.HasPrefix(arg, "-") {
			out = append(out, arg)
		}
	}
	return out
}

// printJSON writes v to stdout as indented JSON.
func printJSON(v any) error {
	enc := json.NewEncoder(os.Stdout)
	enc.SetIndent("", "  ")
	return enc.Encode(v)
}

// loadConfig resolves configuration, honouring --config=FILE.
func loadConfig(args []string) (*config.Config, error) {
	return config.Load(parseFlag(args, "--config="))
}

// linkOptions maps configuration onto engine options.
func linkOptions(cfg *config.Config) linker.Options {
	return linker.Options{
		IDPrefix:    cfg.IDPrefix,
		AnchorClass: cfg.AnchorClass,
		ExcludeTags: cfg.ExcludeTags,
		GuardTitle:  cfg.GuardTitle,
	}
}

// newFetcher builds the HTTP client used for URL inputs.
func newFetcher(cfg *config.Config) *httputil.Fetcher {
	return httputil.NewFetcher(
		httputil.WithRetries(cfg.FetchRetries),
		httputil.WithTimeout(cfg.FetchTimeout),
		httputil.WithUserAgent(version.UserAgent()),
	)
}

// storeDir returns the configured store directory.
func storeDir(cfg *config.Config) string {
	if cfg.DBPath != "" {
		return cfg.DBPath
	}
	return defaultStoreDir
}

// openStore opens the site store under the configured directory.
func openStore(cfg *config.Config) (*store.SiteStore, error) {
	st, err := store.Open(storeDir(cfg))
	if err != nil {
		return nil, fmt.Errorf("failed to open store: %w", err)
	}
	return st, nil
}

// sourceKey normalises an input to the key documents are stored under:
// URLs as given, files as absolute paths.
func sourceKey(src string) string {
	if document.IsURL(src) {
		return src
	}
	abs, err := filepath.Abs(src)
	if err != nil {
		return src
	}
	return abs
}

// expandInputs resolves files, "**" globs and URLs to a de-duplicated list
// in argument order. Glob matches are filtered through .ecmalinksignore and
// the built-in ignore defaults; explicitly named files are not. A glob that
// matches nothing is an error.
func expandInputs(args []string) ([]string, error) {
	matcher, err := ignore.New(".")
	if err != nil {
		return nil, fmt.Errorf("load %s: %w", ignore.FileName, err)
	}

	seen := make(map[string]bool)
	var out []string
	add := func(s string) {
		if !seen[s] {
			seen[s] = true
			out = append(out, s)
		}
	}

	for _, arg := range args {
		if document.IsURL(arg) || !hasGlobMeta(arg) {
			add(arg)
			continue
		}
		if !doublestar.ValidatePathPattern(arg) {
			return nil, fmt.Errorf("invalid pattern: %s", arg)
		}
		matches, err := doublestar.FilepathGlob(arg, doublestar.WithFilesOnly())
		if err != nil {
			return nil, fmt.Errorf("glob %s: %w", arg, err)
		}
		matches = matcher.Filter(".", matches)
		if len(matches) == 0 {
			return nil, fmt.Errorf("no files match %s", arg)
		}
		for _, m := range matches {
			add(m)
		}
	}
	return out, nil
}

func hasGlobMeta(s string) bool {
	return strings.ContainsAny(s, "*?[{")
}

// outputPath picks where a linked document is written. With outDir the
// document keeps its name inside outDir; otherwise ".linked" is inserted
// before the extension of a local file, and URLs land in the working
// directory.
func outputPath(doc *document.Document, outDir string) string {
	name := doc.Name()
	if outDir != "" {
		return filepath.Join(outDir, name)
	}
	ext := filepath.Ext(name)
	linked := strings.TrimSuffix(name, ext) + linkedSuffix + ext
	if document.IsURL(doc.Source) {
		return linked
	}
	return filepath.Join(filepath.Dir(doc.Source), linked)
}
