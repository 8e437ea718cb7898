// Package document loads, hashes and renders ecmarkup HTML documents.
package document

import (
	"bytes"
	"context"
	"encoding/hex"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"strings"

	"github.com/zeebo/xxh3"
	"golang.org/x/net/html"
)

// Fetcher retrieves remote documents.
type Fetcher interface {
	Fetch(ctx context.Context, url string) ([]byte, error)
}

// Document is one parsed HTML document and where it came from.
type Document struct {
	Source string     // file path or URL as given
	Root   *html.Node // parsed tree; mutated in place by the linker
	Hash   string     // xxh3 of the raw bytes
	Size   int
}

// IsURL reports whether src names an http(s) resource.
func IsURL(src string) bool {
	return strings.HasPrefix(src, "http://") || strings.HasPrefix(src, "https://")
}

// Load reads src from disk, or through f when src is a URL.
func Load(ctx context.Context, src string, f Fetcher) (*Document, error) {
	var (
		data []byte
		err  error
	)
	if IsURL(src) {
		if f == nil {
			return nil, fmt.Errorf("load %s: no fetcher for remote documents", src)
		}
		data, err = f.Fetch(ctx, src)
	} else {
		data, err = os.ReadFile(src)
	}
	if err != nil {
		return nil, fmt.Errorf("load %s: %w", src, err)
	}
	return Parse(src, data)
}

// Parse builds a Document from raw bytes.
func Parse(src string, data []byte) (*Document, error) {
	root, err := html.Parse(bytes.NewReader(data))
	if err != nil {
		return nil, fmt.Errorf("parse %s: %w", src, err)
	}
	return &Document{Source: src, Root: root, Hash: Hash(data), Size: len(data)}, nil
}

// Hash returns the hex xxh3 digest of data.
func Hash(data []byte) string {
	h := xxh3.New()
	h.Write(data)
	return hex.EncodeToString(h.Sum(nil))
}

// HashFile returns the hex xxh3 digest of the file at path without loading
// it whole.
func HashFile(path string) (string, error) {
	f, err := os.Open(path)
	if err != nil {
		return "", err
	}
	defer f.Close()
	h := xxh3.New()
	if _, err := io.Copy(h, f); err != nil {
		return "", err
	}
	return hex.EncodeToString(h.Sum(nil)), nil
}

// Render serialises the document tree.
func (d *Document) Render(w io.Writer) error {
	return html.Render(w, d.Root)
}

// Bytes returns the serialised document.
func (d *Document) Bytes() ([]byte, error) {
	var buf bytes.Buffer
	if err := d.Render(&buf); err != nil {
		return nil, err
	}
	return buf.Bytes(), nil
}

// WriteFile renders the document to path, creating parent directories.
func (d *Document) WriteFile(path string) error {
	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		return err
	}
	f, err := os.Create(path)
	if err != nil {
		return err
	}
	if err := d.Render(f); err != nil {
		f.Close()
		return fmt.Errorf("render %s: %w", path, err)
	}
	return f.Close()
}

// Name returns a short display name for the source: the base name of a path
// or the last path segment of a URL.
func (d *Document) Name() string {
	src := strings.TrimRight(d.Source, "/")
	if i := strings.LastIndexAny(src, `/\`); i >= 0 {
		src = src[i+1:]
	}
	if i := strings.IndexAny(src, "?#"); i >= 0 {
		src = src[:i]
	}
	if src == "" {
		return d.Source
	}
	return src
}
