package store

import (
	"crypto/sha256"
	"encoding/binary"
	"encoding/json"
	"fmt"
	"log"

	"github.com/blevesearch/bleve/v2/mapping"
	bolt "go.etcd.io/bbolt"
)

// SchemaVersion is the current schema version. Increment it with each new
// migration.
var SchemaVersion uint64 = 2

var keySchemaVersion = []byte("schema_version")

type migration struct {
	version     uint64
	description string
	migrate     func(tx *bolt.Tx) error
}

// migrations run in order, each exactly once, when the stored version is
// below SchemaVersion.
var migrations = []migration{
	{version: 1, description: "baseline schema stamp", migrate: func(tx *bolt.Tx) error { return nil }},
	{version: 2, description: "backfill document site counts", migrate: backfillSiteCounts},
}

// backfillSiteCounts fills DocumentInfo.Sites for records written before the
// field existed.
func backfillSiteCounts(tx *bolt.Tx) error {
	docs := tx.Bucket(BucketDocuments)
	sites := tx.Bucket(BucketSites)
	c := docs.Cursor()
	for k, v := c.First(); k != nil; k, v = c.Next() {
		var info map[string]any
		if err := json.Unmarshal(v, &info); err != nil {
			return err
		}
		if _, ok := info["sites"]; ok {
			continue
		}
		n := 0
		if b := sites.Bucket(k); b != nil {
			n = b.Stats().KeyN
		}
		info["sites"] = n
		data, err := json.Marshal(info)
		if err != nil {
			return err
		}
		if err := docs.Put(k, data); err != nil {
			return err
		}
	}
	return nil
}

// RunMigrations brings db up to SchemaVersion. All pending migrations and the
// version stamp share one transaction. A database newer than the binary is
// rejected.
func RunMigrations(db *bolt.DB) error {
	current, err := GetSchemaVersion(db)
	if err != nil {
		return fmt.Errorf("reading schema version: %w", err)
	}
	if current > SchemaVersion {
		return fmt.Errorf("database schema version %d is ahead of binary version %d (downgrade not supported)", current, SchemaVersion)
	}
	if current == SchemaVersion {
		return nil
	}

	err = db.Update(func(tx *bolt.Tx) error {
		for _, m := range migrations {
			if m.version <= current {
				continue
			}
			log.Printf("store: applying migration v%d: %s", m.version, m.description)
			if err := m.migrate(tx); err != nil {
				return fmt.Errorf("migration v%d (%s) failed: %w", m.version, m.description, err)
			}
		}
		return putSchemaVersion(tx, SchemaVersion)
	})
	if err != nil {
		return fmt.Errorf("migration failed: %w", err)
	}
	return nil
}

// GetSchemaVersion returns the stored schema version, 0 for a fresh database.
func GetSchemaVersion(db *bolt.DB) (uint64, error) {
	var version uint64
	err := db.View(func(tx *bolt.Tx) error {
		meta := tx.Bucket(BucketMeta)
		if meta == nil {
			return nil
		}
		data := meta.Get(keySchemaVersion)
		if data == nil {
			return nil
		}
		if len(data) != 8 {
			return fmt.Errorf("corrupt schema_version: expected 8 bytes, got %d", len(data))
		}
		version = binary.BigEndian.Uint64(data)
		return nil
	})
	return version, err
}

func putSchemaVersion(tx *bolt.Tx, version uint64) error {
	meta := tx.Bucket(BucketMeta)
	if meta == nil {
		return fmt.Errorf("meta bucket not found")
	}
	buf := make([]byte, 8)
	binary.BigEndian.PutUint64(buf, version)
	return meta.Put(keySchemaVersion, buf)
}

// MappingHash is a SHA-256 hex digest of a bleve mapping. A changed hash means
// the search index must be rebuilt.
func MappingHash(m mapping.IndexMapping) string {
	data, err := json.Marshal(m)
	if err != nil {
		// An empty hash never matches, forcing a rebuild.
		return ""
	}
	return fmt.Sprintf("%x", sha256.Sum256(data))
}
