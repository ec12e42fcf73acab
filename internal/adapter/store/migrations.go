package store

import (
	"bytes"
	"crypto/sha256"
	"encoding/hex"
	"encoding/json"
	"fmt"

	"go.etcd.io/bbolt"

	"priorart/config"
)

// CurrentSchemaVersion is bumped whenever the on-disk layout changes.
const CurrentSchemaVersion = 2

var keySchema = []byte("schema")

// Schema records the layout version and the index configuration the stored
// chunks were produced with.
type Schema struct {
	Version    int    `json:"version"`
	ConfigHash string `json:"config_hash"`
}

// migration upgrades the layout from version to-1 to version to.
type migration struct {
	to    int
	apply func(tx *bbolt.Tx) error
}

var migrations = []migration{
	{to: 1, apply: func(*bbolt.Tx) error { return nil }},
	// v2 keeps chunk text in blobs and adds per-chunk embeddings.
	{to: 2, apply: func(tx *bbolt.Tx) error {
		return createBuckets(tx, bucketBlobs, bucketEmbeddings)
	}},
}

// Schema returns the stored schema. A zero Version means the database was
// never migrated.
func (s *BoltStore) Schema() (Schema, error) {
	var sc Schema
	err := s.db.View(func(tx *bbolt.Tx) error {
		b := tx.Bucket(bucketStats)
		if b == nil {
			return nil
		}
		raw := b.Get(keySchema)
		if raw == nil {
			return nil
		}
		return json.Unmarshal(raw, &sc)
	})
	if err != nil {
		return Schema{}, fmt.Errorf("failed to read schema: %w", err)
	}
	return sc, nil
}

func putSchema(tx *bbolt.Tx, sc Schema) error {
	raw, err := json.Marshal(sc)
	if err != nil {
		return err
	}
	return tx.Bucket(bucketStats).Put(keySchema, raw)
}

// ComputeConfigHash fingerprints the settings that shape stored chunks and
// vectors. k1 and b only affect scoring and are left out.
func ComputeConfigHash(cfg *config.Config) string {
	data, _ := json.Marshal(struct {
		ChunkTokens  int      `json:"chunk_tokens"`
		ChunkOverlap int      `json:"chunk_overlap"`
		Stopwords    []string `json:"stopwords"`
		Embedding    bool     `json:"embedding"`
		Provider     string   `json:"provider"`
		Model        string   `json:"model"`
		Dimension    int      `json:"dimension"`
	}{
		cfg.Index.ChunkTokens,
		cfg.Index.ChunkOverlap,
		cfg.Index.Stopwords,
		cfg.Embedding.Enabled,
		cfg.Embedding.Provider,
		cfg.Embedding.Model,
		cfg.Embedding.Dimension,
	})
	sum := sha256.Sum256(data)
	return hex.EncodeToString(sum[:8])
}

// MigrationPlan says what Migrate has to do before the store is usable.
type MigrationPlan struct {
	From           int
	NeedsMigration bool
	NeedsRebuild   bool
	Reason         string
}

// CheckMigration compares the stored schema against this binary and cfg.
func (s *BoltStore) CheckMigration(cfg *config.Config) (MigrationPlan, error) {
	sc, err := s.Schema()
	if err != nil {
		return MigrationPlan{}, err
	}

	plan := MigrationPlan{From: sc.Version}
	switch {
	case sc.Version > CurrentSchemaVersion:
		plan.NeedsRebuild = true
		plan.Reason = fmt.Sprintf("database written by a newer schema (v%d, expected v%d)", sc.Version, CurrentSchemaVersion)
		return plan, nil
	case sc.Version == 0:
		plan.NeedsMigration = true
		plan.Reason = "initializing schema"
	case sc.Version < CurrentSchemaVersion:
		plan.NeedsMigration = true
		plan.Reason = fmt.Sprintf("upgrading schema v%d to v%d", sc.Version, CurrentSchemaVersion)
	}

	if sc.ConfigHash != "" && sc.ConfigHash != ComputeConfigHash(cfg) {
		plan.NeedsRebuild = true
		plan.Reason = "index configuration changed"
	}
	return plan, nil
}

// NeedsRebuild reports whether stored chunks no longer match cfg.
func (s *BoltStore) NeedsRebuild(cfg *config.Config) (bool, string, error) {
	plan, err := s.CheckMigration(cfg)
	if err != nil {
		return false, "", err
	}
	return plan.NeedsRebuild, plan.Reason, nil
}

// Migrate applies pending upgrades and stamps the schema with cfg's hash,
// all in one transaction.
func (s *BoltStore) Migrate(cfg *config.Config) error {
	sc, err := s.Schema()
	if err != nil {
		return err
	}
	return s.db.Update(func(tx *bbolt.Tx) error {
		for _, m := range migrations {
			if m.to <= sc.Version {
				continue
			}
			if err := m.apply(tx); err != nil {
				return fmt.Errorf("migration to v%d failed: %w", m.to, err)
			}
		}
		return putSchema(tx, Schema{Version: CurrentSchemaVersion, ConfigHash: ComputeConfigHash(cfg)})
	})
}

// Clear drops every document, chunk and vector. The schema record survives
// so a following Migrate only has to restamp the hash.
func (s *BoltStore) Clear() error {
	return s.db.Update(func(tx *bbolt.Tx) error {
		for _, name := range [][]byte{bucketDocs, bucketChunks, bucketBlobs, bucketDocChunks, bucketEmbeddings} {
			if tx.Bucket(name) != nil {
				if err := tx.DeleteBucket(name); err != nil {
					return err
				}
			}
		}
		if err := createBuckets(tx, bucketDocs, bucketChunks, bucketBlobs, bucketDocChunks, bucketEmbeddings); err != nil {
			return err
		}

		stats := tx.Bucket(bucketStats)
		if stats == nil {
			return nil
		}
		// Collect first: deleting under a live cursor skips keys.
		var stale [][]byte
		_ = stats.ForEach(func(k, _ []byte) error {
			if !bytes.Equal(k, keySchema) {
				stale = append(stale, append([]byte(nil), k...))
			}
			return nil
		})
		for _, k := range stale {
			if err := stats.Delete(k); err != nil {
				return err
			}
		}
		return nil
	})
}

func createBuckets(tx *bbolt.Tx, names ...[]byte) error {
	for _, name := range names {
		if _, err := tx.CreateBucketIfNotExists(name); err != nil {
			return err
		}
	}
	return nil
}
