package store

import (
	"encoding/json"
	"fmt"
	"log"
	"os"
	"strings"

	"github.com/blevesearch/bleve/v2"
	"github.com/blevesearch/bleve/v2/analysis/analyzer/custom"
	"github.com/blevesearch/bleve/v2/analysis/analyzer/keyword"
	"github.com/blevesearch/bleve/v2/analysis/token/edgengram"
	"github.com/blevesearch/bleve/v2/analysis/token/lowercase"
	"github.com/blevesearch/bleve/v2/analysis/tokenizer/unicode"
	"github.com/blevesearch/bleve/v2/mapping"
	bolt "go.etcd.io/bbolt"
)

var keyMappingHash = []byte("search_mapping_hash")

// SearchOptions filters search results.
type SearchOptions struct {
	Document string
	Kind     string
	Limit    int
}

// SearchResult is a matching site with its score.
type SearchResult struct {
	Site  *Site
	Score float64
}

// openOrCreateSearchIndex opens the index at path, recreating it when it is
// missing or unreadable. recreated is true when the index starts empty.
func openOrCreateSearchIndex(path string) (index bleve.Index, recreated bool, err error) {
	if _, statErr := os.Stat(path); os.IsNotExist(statErr) {
		index, err = createSearchIndex(path)
		return index, true, err
	}

	index, err = bleve.Open(path)
	if err == nil {
		return index, false, nil
	}

	log.Printf("store: search index corrupted at %s (%v), rebuilding", path, err)
	if removeErr := os.RemoveAll(path); removeErr != nil {
		return nil, false, fmt.Errorf("failed to remove corrupted search index: %w (original error: %v)", removeErr, err)
	}
	index, err = createSearchIndex(path)
	return index, true, err
}

func createSearchIndex(path string) (bleve.Index, error) {
	m, err := buildIndexMapping()
	if err != nil {
		return nil, err
	}
	return bleve.New(path, m)
}

// buildIndexMapping indexes function names whole and as edge n-grams so
// "Bound" finds BoundNames.
func buildIndexMapping() (mapping.IndexMapping, error) {
	im := bleve.NewIndexMapping()

	err := im.AddCustomAnalyzer("standard_lower", map[string]any{
		"type":          custom.Name,
		"tokenizer":     unicode.Name,
		"token_filters": []string{lowercase.Name},
	})
	if err != nil {
		return nil, err
	}

	err = im.AddCustomTokenFilter("edge_ngram_filter", map[string]any{
		"type": edgengram.Name,
		"min":  2.0,
		"max":  24.0,
	})
	if err != nil {
		return nil, err
	}

	err = im.AddCustomAnalyzer("edge_ngram", map[string]any{
		"type":          custom.Name,
		"tokenizer":     unicode.Name,
		"token_filters": []string{lowercase.Name, "edge_ngram_filter"},
	})
	if err != nil {
		return nil, err
	}

	site := bleve.NewDocumentMapping()

	fn := bleve.NewTextFieldMapping()
	fn.Analyzer = "standard_lower"
	fn.Store = true
	site.AddFieldMappingsAt("function", fn)

	fnEdge := bleve.NewTextFieldMapping()
	fnEdge.Analyzer = "edge_ngram"
	fnEdge.Store = false
	fnEdge.IncludeInAll = false
	site.AddFieldMappingsAt("function_edge", fnEdge)

	nt := bleve.NewTextFieldMapping()
	nt.Analyzer = "standard_lower"
	site.AddFieldMappingsAt("nonterminal", nt)

	for _, name := range []string{"kind", "document"} {
		f := bleve.NewTextFieldMapping()
		f.Analyzer = keyword.Name
		site.AddFieldMappingsAt(name, f)
	}

	seq := bleve.NewNumericFieldMapping()
	site.AddFieldMappingsAt("seq", seq)

	im.AddDocumentMapping("site", site)
	im.DefaultMapping = site
	return im, nil
}

func searchDoc(site *Site) map[string]any {
	return map[string]any{
		"function":      site.Function,
		"function_edge": site.Function,
		"nonterminal":   site.Nonterminal,
		"kind":          string(site.Kind),
		"document":      site.Document,
		"seq":           float64(site.Seq),
	}
}

// ensureSearchMapping rebuilds the search index from bbolt when the mapping
// changed since it was built, or when force is set.
func (s *SiteStore) ensureSearchMapping(force bool) error {
	m, err := buildIndexMapping()
	if err != nil {
		return err
	}
	hash := MappingHash(m)

	var stored string
	s.db.View(func(tx *bolt.Tx) error {
		if data := tx.Bucket(BucketMeta).Get(keyMappingHash); data != nil {
			stored = string(data)
		}
		return nil
	})

	if hash == stored && !force {
		return nil
	}
	if stored != "" && hash != stored {
		log.Printf("store: search mapping changed, rebuilding index")
	}

	if !force {
		if err := s.resetSearchIndex(); err != nil {
			return err
		}
	}
	if err := s.reindex(); err != nil {
		return err
	}

	return s.db.Update(func(tx *bolt.Tx) error {
		return tx.Bucket(BucketMeta).Put(keyMappingHash, []byte(hash))
	})
}

// resetSearchIndex replaces the search index with an empty one.
func (s *SiteStore) resetSearchIndex() error {
	s.search.Close()
	if err := os.RemoveAll(s.searchPath); err != nil {
		return err
	}
	index, err := createSearchIndex(s.searchPath)
	if err != nil {
		return err
	}
	s.search = index
	return nil
}

// reindex indexes every stored site.
func (s *SiteStore) reindex() error {
	batch := s.search.NewBatch()
	err := s.db.View(func(tx *bolt.Tx) error {
		return tx.Bucket(BucketSites).ForEachBucket(func(k []byte) error {
			return tx.Bucket(BucketSites).Bucket(k).ForEach(func(_, v []byte) error {
				var site Site
				if err := json.Unmarshal(v, &site); err != nil {
					return nil
				}
				return batch.Index(site.ID, searchDoc(&site))
			})
		})
	})
	if err != nil {
		return err
	}
	return s.search.Batch(batch)
}

// getSite loads the site stored at seq in document and checks its id.
func (s *SiteStore) getSite(document string, seq int, id string) (*Site, error) {
	var site Site
	err := s.db.View(func(tx *bolt.Tx) error {
		b := tx.Bucket(BucketSites).Bucket([]byte(document))
		if b == nil {
			return ErrNotFound
		}
		data := b.Get(seqKey(seq))
		if data == nil {
			return ErrNotFound
		}
		return json.Unmarshal(data, &site)
	})
	if err != nil {
		return nil, err
	}
	if site.ID != id {
		return nil, ErrNotFound
	}
	return &site, nil
}

// Search finds sites whose function name matches query by prefix, substring
// or edge n-gram, or whose nonterminal matches it. Results are ordered by
// score.
func (s *SiteStore) Search(query string, opts SearchOptions) ([]*SearchResult, error) {
	limit := opts.Limit
	if limit <= 0 {
		limit = 20
	}
	lower := strings.ToLower(strings.TrimSpace(query))
	if lower == "" {
		return nil, nil
	}

	prefix := bleve.NewPrefixQuery(lower)
	prefix.SetField("function")

	wildcard := bleve.NewWildcardQuery("*" + lower + "*")
	wildcard.SetField("function")

	edge := bleve.NewMatchQuery(lower)
	edge.SetField("function_edge")

	nt := bleve.NewMatchQuery(query)
	nt.SetField("nonterminal")

	req := bleve.NewSearchRequest(bleve.NewDisjunctionQuery(prefix, wildcard, edge, nt))
	req.Size = limit * 4
	req.Fields = []string{"document", "seq"}

	res, err := s.search.Search(req)
	if err != nil {
		return nil, fmt.Errorf("search failed: %w", err)
	}

	out := make([]*SearchResult, 0, len(res.Hits))
	for _, hit := range res.Hits {
		if len(out) >= limit {
			break
		}
		document, _ := hit.Fields["document"].(string)
		if opts.Document != "" && document != opts.Document {
			continue
		}
		seq, _ := hit.Fields["seq"].(float64)
		site, err := s.getSite(document, int(seq), hit.ID)
		if err != nil {
			continue
		}
		if opts.Kind != "" && !strings.EqualFold(string(site.Kind), opts.Kind) {
			continue
		}
		out = append(out, &SearchResult{Site: site, Score: hit.Score})
	}
	return out, nil
}
