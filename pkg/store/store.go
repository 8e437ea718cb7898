// Package store persists definition-site indexes in bbolt and makes function
// names searchable through bleve.
package store

import (
	"encoding/binary"
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"sort"
	"time"

	"github.com/blevesearch/bleve/v2"
	"github.com/jmylchreest/ecmalinks/pkg/semantics"
	"github.com/oklog/ulid/v2"
	bolt "go.etcd.io/bbolt"
)

// ErrNotFound is returned for unknown documents.
var ErrNotFound = errors.New("not found")

// Bucket names. Sites and functions hold one nested bucket per document.
var (
	BucketDocuments = []byte("documents")
	BucketSites     = []byte("sites")
	BucketFunctions = []byte("functions")
	BucketMeta      = []byte("meta")
)

// File names inside the store directory.
const (
	DBFile     = "index.db"
	SearchFile = "search.bleve"
)

// DocumentInfo tracks one indexed document.
type DocumentInfo struct {
	Source    string    `json:"source"`
	Hash      string    `json:"hash"`
	IDPrefix  string    `json:"id_prefix"`
	Functions int       `json:"functions"`
	Sites     int       `json:"sites"`
	IndexedAt time.Time `json:"indexed_at"`
}

// Site is a stored definition site. Seq is its position in index order.
type Site struct {
	ID       string `json:"id"`
	Document string `json:"document"`
	Seq      int    `json:"seq"`
	semantics.DefinitionSite
}

// FunctionInfo summarises one function of a document.
type FunctionInfo struct {
	Name  string         `json:"name"`
	Kind  semantics.Kind `json:"kind"`
	Sites int            `json:"sites"`
	First int            `json:"first"` // Seq of the first site
}

// Stats counts stored records.
type Stats struct {
	Documents int `json:"documents"`
	Functions int `json:"functions"`
	Sites     int `json:"sites"`
}

// SiteStore stores definition sites per document.
type SiteStore struct {
	db         *bolt.DB
	search     bleve.Index
	searchPath string
}

// Open opens or creates the store under dir.
func Open(dir string) (*SiteStore, error) {
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return nil, fmt.Errorf("failed to create store directory: %w", err)
	}

	db, err := bolt.Open(filepath.Join(dir, DBFile), 0o600, &bolt.Options{Timeout: 1 * time.Second})
	if err != nil {
		return nil, fmt.Errorf("failed to open site db: %w", err)
	}

	err = db.Update(func(tx *bolt.Tx) error {
		for _, bucket := range [][]byte{BucketDocuments, BucketSites, BucketFunctions, BucketMeta} {
			if _, err := tx.CreateBucketIfNotExists(bucket); err != nil {
				return err
			}
		}
		return nil
	})
	if err != nil {
		db.Close()
		return nil, fmt.Errorf("failed to initialize buckets: %w", err)
	}

	if err := RunMigrations(db); err != nil {
		db.Close()
		return nil, fmt.Errorf("schema migration failed: %w", err)
	}

	searchPath := filepath.Join(dir, SearchFile)
	index, recreated, err := openOrCreateSearchIndex(searchPath)
	if err != nil {
		db.Close()
		return nil, fmt.Errorf("failed to open search index: %w", err)
	}

	s := &SiteStore{db: db, search: index, searchPath: searchPath}
	if err := s.ensureSearchMapping(recreated); err != nil {
		s.Close()
		return nil, fmt.Errorf("search mapping check failed: %w", err)
	}
	return s, nil
}

// Close closes the store.
func (s *SiteStore) Close() error {
	if s.search != nil {
		s.search.Close()
	}
	if s.db != nil {
		return s.db.Close()
	}
	return nil
}

func seqKey(seq int) []byte {
	b := make([]byte, 8)
	binary.BigEndian.PutUint64(b, uint64(seq))
	return b
}

// ReplaceDocument stores sites as the complete index of info.Source,
// discarding whatever was stored for it before. sites must be in index order.
func (s *SiteStore) ReplaceDocument(info *DocumentInfo, sites []*semantics.DefinitionSite) error {
	key := []byte(info.Source)
	var stale []string
	stored := make([]*Site, 0, len(sites))

	err := s.db.Update(func(tx *bolt.Tx) error {
		siteRoot := tx.Bucket(BucketSites)
		fnRoot := tx.Bucket(BucketFunctions)

		if old := siteRoot.Bucket(key); old != nil {
			old.ForEach(func(_, v []byte) error {
				var site Site
				if json.Unmarshal(v, &site) == nil {
					stale = append(stale, site.ID)
				}
				return nil
			})
			if err := siteRoot.DeleteBucket(key); err != nil {
				return err
			}
		}
		if fnRoot.Bucket(key) != nil {
			if err := fnRoot.DeleteBucket(key); err != nil {
				return err
			}
		}

		siteBucket, err := siteRoot.CreateBucket(key)
		if err != nil {
			return err
		}
		fnBucket, err := fnRoot.CreateBucket(key)
		if err != nil {
			return err
		}

		functions := make(map[string]*FunctionInfo)
		var order []string
		for i, ds := range sites {
			site := &Site{ID: ulid.Make().String(), Document: info.Source, Seq: i, DefinitionSite: *ds}
			site.Production = nil
			data, err := json.Marshal(site)
			if err != nil {
				return err
			}
			if err := siteBucket.Put(seqKey(i), data); err != nil {
				return err
			}
			stored = append(stored, site)

			fn, ok := functions[ds.Function]
			if !ok {
				fn = &FunctionInfo{Name: ds.Function, Kind: ds.Kind, First: i}
				functions[ds.Function] = fn
				order = append(order, ds.Function)
			}
			fn.Sites++
		}
		for _, name := range order {
			data, err := json.Marshal(functions[name])
			if err != nil {
				return err
			}
			if err := fnBucket.Put([]byte(name), data); err != nil {
				return err
			}
		}

		info.Functions = len(order)
		info.Sites = len(sites)
		if info.IndexedAt.IsZero() {
			info.IndexedAt = time.Now()
		}
		data, err := json.Marshal(info)
		if err != nil {
			return err
		}
		return tx.Bucket(BucketDocuments).Put(key, data)
	})
	if err != nil {
		return fmt.Errorf("failed to store %s: %w", info.Source, err)
	}

	batch := s.search.NewBatch()
	for _, id := range stale {
		batch.Delete(id)
	}
	for _, site := range stored {
		batch.Index(site.ID, searchDoc(site))
	}
	if err := s.search.Batch(batch); err != nil {
		return fmt.Errorf("failed to index %s: %w", info.Source, err)
	}
	return nil
}

// GetDocument returns the tracking record for source.
func (s *SiteStore) GetDocument(source string) (*DocumentInfo, error) {
	var info DocumentInfo
	err := s.db.View(func(tx *bolt.Tx) error {
		data := tx.Bucket(BucketDocuments).Get([]byte(source))
		if data == nil {
			return ErrNotFound
		}
		return json.Unmarshal(data, &info)
	})
	if err != nil {
		return nil, err
	}
	return &info, nil
}

// ListDocuments returns every indexed document ordered by source.
func (s *SiteStore) ListDocuments() ([]*DocumentInfo, error) {
	var out []*DocumentInfo
	err := s.db.View(func(tx *bolt.Tx) error {
		return tx.Bucket(BucketDocuments).ForEach(func(_, v []byte) error {
			var info DocumentInfo
			if err := json.Unmarshal(v, &info); err != nil {
				return err
			}
			out = append(out, &info)
			return nil
		})
	})
	return out, err
}

// DeleteDocument removes source and its sites.
func (s *SiteStore) DeleteDocument(source string) error {
	if _, err := s.GetDocument(source); err != nil {
		return err
	}
	if err := s.ReplaceDocument(&DocumentInfo{Source: source}, nil); err != nil {
		return err
	}
	key := []byte(source)
	return s.db.Update(func(tx *bolt.Tx) error {
		if err := tx.Bucket(BucketSites).DeleteBucket(key); err != nil {
			return err
		}
		if err := tx.Bucket(BucketFunctions).DeleteBucket(key); err != nil {
			return err
		}
		return tx.Bucket(BucketDocuments).Delete(key)
	})
}

// Functions returns the functions of source in first-seen order.
func (s *SiteStore) Functions(source string) ([]*FunctionInfo, error) {
	var out []*FunctionInfo
	err := s.db.View(func(tx *bolt.Tx) error {
		b := tx.Bucket(BucketFunctions).Bucket([]byte(source))
		if b == nil {
			return ErrNotFound
		}
		return b.ForEach(func(_, v []byte) error {
			var fn FunctionInfo
			if err := json.Unmarshal(v, &fn); err != nil {
				return err
			}
			out = append(out, &fn)
			return nil
		})
	})
	if err != nil {
		return nil, err
	}
	sort.Slice(out, func(i, j int) bool { return out[i].First < out[j].First })
	return out, nil
}

// Sites returns the sites of source for name in index order. An empty name
// returns every site.
func (s *SiteStore) Sites(source, name string) ([]*Site, error) {
	var out []*Site
	err := s.db.View(func(tx *bolt.Tx) error {
		b := tx.Bucket(BucketSites).Bucket([]byte(source))
		if b == nil {
			return ErrNotFound
		}
		return b.ForEach(func(_, v []byte) error {
			var site Site
			if err := json.Unmarshal(v, &site); err != nil {
				return err
			}
			if name == "" || site.Function == name {
				out = append(out, &site)
			}
			return nil
		})
	})
	return out, err
}

// LoadIndex rebuilds the semantics index of source from stored sites.
func (s *SiteStore) LoadIndex(source string) (*semantics.Index, error) {
	sites, err := s.Sites(source, "")
	if err != nil {
		return nil, err
	}
	defs := make([]*semantics.DefinitionSite, len(sites))
	for i, site := range sites {
		defs[i] = &site.DefinitionSite
	}
	return semantics.IndexFromSites(defs), nil
}

// Stats counts documents, functions and sites across the store.
func (s *SiteStore) Stats() (*Stats, error) {
	st := &Stats{}
	err := s.db.View(func(tx *bolt.Tx) error {
		return tx.Bucket(BucketDocuments).ForEach(func(_, v []byte) error {
			var info DocumentInfo
			if err := json.Unmarshal(v, &info); err != nil {
				return err
			}
			st.Documents++
			st.Functions += info.Functions
			st.Sites += info.Sites
			return nil
		})
	})
	if err != nil {
		return nil, err
	}
	return st, nil
}

// Clear removes every document and recreates the search index.
func (s *SiteStore) Clear() error {
	err := s.db.Update(func(tx *bolt.Tx) error {
		for _, name := range [][]byte{BucketDocuments, BucketSites, BucketFunctions} {
			if err := tx.DeleteBucket(name); err != nil {
				return err
			}
			if _, err := tx.CreateBucket(name); err != nil {
				return err
			}
		}
		return nil
	})
	if err != nil {
		return err
	}
	return s.resetSearchIndex()
}
