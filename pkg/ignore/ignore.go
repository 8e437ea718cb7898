// Package ignore filters glob expansions with gitignore-style patterns.
//
// Patterns come from built-in defaults plus an optional .ecmalinksignore in
// the working directory, so "**/*.html" does not pick up earlier linker
// output or dependency trees.
//
//	# comment
//	*.linked.html    match files by name at any depth
//	drafts/          match directories by name (trailing slash)
//	!keep.html       negate a previous pattern
//	/rootonly.html   anchored to the root (leading slash)
//	old/**/*.html    full doublestar syntax
package ignore

import (
	"bufio"
	"os"
	"path/filepath"
	"strings"

	"github.com/bmatcuk/doublestar/v4"
)

// FileName is the per-project ignore file.
const FileName = ".ecmalinksignore"

// Matcher tests whether a path should be ignored.
type Matcher struct {
	rules []rule
}

type rule struct {
	pattern  string // doublestar pattern relative to the root
	negation bool
	dirOnly  bool
}

// BuiltinDefaults are patterns applied even when no ignore file exists.
var BuiltinDefaults = []string{
	".git/",
	"node_modules/",
	".ecmalinks/",
	"*.linked.html",
}

// New creates a Matcher from built-in defaults plus <root>/.ecmalinksignore
// when it exists. File patterns come after the defaults and can negate them.
func New(root string) (*Matcher, error) {
	m := NewFromDefaults()
	if err := m.loadFile(filepath.Join(root, FileName)); err != nil && !os.IsNotExist(err) {
		return nil, err
	}
	return m, nil
}

// NewFromDefaults creates a Matcher using only built-in defaults.
func NewFromDefaults() *Matcher {
	m := &Matcher{}
	for _, p := range BuiltinDefaults {
		m.rules = append(m.rules, parsePattern(p))
	}
	return m
}

// NewEmpty creates a Matcher that ignores nothing.
func NewEmpty() *Matcher {
	return &Matcher{}
}

// ShouldIgnore reports whether path, relative to the root, is ignored. The
// last matching rule wins. A file is also ignored when one of its parent
// directories is, unless a rule matched the file itself.
func (m *Matcher) ShouldIgnore(path string, isDir bool) bool {
	path = strings.TrimSuffix(filepath.ToSlash(path), "/")
	if path == "" || path == "." {
		return false
	}

	ignored, matched := false, false
	for _, r := range m.rules {
		if r.dirOnly && !isDir {
			continue
		}
		if r.match(path) {
			ignored = !r.negation
			matched = true
		}
	}
	if ignored || matched {
		return ignored
	}

	if !isDir {
		parts := strings.Split(path, "/")
		for i := 1; i < len(parts); i++ {
			if m.ShouldIgnore(strings.Join(parts[:i], "/"), true) {
				return true
			}
		}
	}
	return false
}

// ShouldIgnoreDir is a convenience for ShouldIgnore(path, true).
func (m *Matcher) ShouldIgnoreDir(path string) bool {
	return m.ShouldIgnore(path, true)
}

// ShouldIgnoreFile is a convenience for ShouldIgnore(path, false).
func (m *Matcher) ShouldIgnoreFile(path string) bool {
	return m.ShouldIgnore(path, false)
}

// Filter drops the ignored files from paths, preserving order. Paths are
// resolved against root; those outside it are kept.
func (m *Matcher) Filter(root string, paths []string) []string {
	absRoot, err := filepath.Abs(root)
	if err != nil {
		return paths
	}
	out := make([]string, 0, len(paths))
	for _, p := range paths {
		abs, err := filepath.Abs(p)
		if err != nil {
			out = append(out, p)
			continue
		}
		rel, err := filepath.Rel(absRoot, abs)
		if err != nil || rel == ".." || strings.HasPrefix(rel, ".."+string(filepath.Separator)) {
			out = append(out, p)
			continue
		}
		if !m.ShouldIgnoreFile(rel) {
			out = append(out, p)
		}
	}
	return out
}

func (m *Matcher) loadFile(path string) error {
	f, err := os.Open(path)
	if err != nil {
		return err
	}
	defer f.Close()

	scanner := bufio.NewScanner(f)
	for scanner.Scan() {
		line := strings.TrimSpace(scanner.Text())
		if line == "" || strings.HasPrefix(line, "#") {
			continue
		}
		m.rules = append(m.rules, parsePattern(line))
	}
	return scanner.Err()
}

// parsePattern converts a gitignore-style pattern into a rule. Patterns
// without an interior slash match at any depth, so they get a "**/" prefix.
func parsePattern(pattern string) rule {
	r := rule{}
	if strings.HasPrefix(pattern, "!") {
		r.negation = true
		pattern = pattern[1:]
	}
	if strings.HasSuffix(pattern, "/") {
		r.dirOnly = true
		pattern = strings.TrimSuffix(pattern, "/")
	}

	switch {
	case strings.HasPrefix(pattern, "/"):
		pattern = strings.TrimPrefix(pattern, "/")
	case !strings.Contains(pattern, "/"):
		pattern = "**/" + pattern
	}
	r.pattern = pattern
	return r
}

// match tests the rule against a slash-separated path relative to the root.
func (r *rule) match(path string) bool {
	ok, err := doublestar.Match(r.pattern, path)
	return err == nil && ok
}
