// Package store is the operator-side rollout history / audit trail
// consumed by `forge history` (SPEC_FULL §3 "CLI rollout history"): a
// small bbolt-backed append log of types.DeploymentRecord, keyed by
// tuple, independent of the per-host deployment file the Deployment
// Engine itself writes for quick on-host inspection.
package store

import (
	"encoding/json"
	"fmt"
	"path/filepath"
	"sort"

	bolt "go.etcd.io/bbolt"

	"github.com/cuemby/forge/pkg/forgeerr"
	"github.com/cuemby/forge/pkg/types"
)

var bucketHistory = []byte("deployment_history")

// maxHistoryPerTuple bounds how many records Append retains per tuple;
// beyond this, the oldest entries are dropped.
const maxHistoryPerTuple = 50

// Store is a bbolt-backed append log of deployment records.
type Store struct {
	db *bolt.DB
}

// New opens (creating if absent) {dataDir}/forge.db.
func New(dataDir string) (*Store, error) {
	path := filepath.Join(dataDir, "forge.db")
	db, err := bolt.Open(path, 0o600, nil)
	if err != nil {
		return nil, forgeerr.Wrap(forgeerr.ConfigError, "open rollout history database", err)
	}

	err = db.Update(func(tx *bolt.Tx) error {
		_, err := tx.CreateBucketIfNotExists(bucketHistory)
		return err
	})
	if err != nil {
		db.Close()
		return nil, forgeerr.Wrap(forgeerr.ConfigError, "create rollout history bucket", err)
	}

	return &Store{db: db}, nil
}

// Close closes the underlying database.
func (s *Store) Close() error {
	return s.db.Close()
}

// Append records one more deployment for t, oldest-evicting beyond
// maxHistoryPerTuple.
func (s *Store) Append(t types.Tuple, record types.DeploymentRecord) error {
	return s.db.Update(func(tx *bolt.Tx) error {
		b := tx.Bucket(bucketHistory)
		key := []byte(t.String())

		var records []types.DeploymentRecord
		if raw := b.Get(key); raw != nil {
			if err := json.Unmarshal(raw, &records); err != nil {
				return fmt.Errorf("decode existing history for %s: %w", t.String(), err)
			}
		}

		records = append(records, record)
		if len(records) > maxHistoryPerTuple {
			records = records[len(records)-maxHistoryPerTuple:]
		}

		data, err := json.Marshal(records)
		if err != nil {
			return fmt.Errorf("encode history for %s: %w", t.String(), err)
		}
		return b.Put(key, data)
	})
}

// History returns t's recorded deployments, newest first.
func (s *Store) History(t types.Tuple) ([]types.DeploymentRecord, error) {
	var records []types.DeploymentRecord
	err := s.db.View(func(tx *bolt.Tx) error {
		b := tx.Bucket(bucketHistory)
		raw := b.Get([]byte(t.String()))
		if raw == nil {
			return nil
		}
		return json.Unmarshal(raw, &records)
	})
	if err != nil {
		return nil, forgeerr.Wrap(forgeerr.ConfigError, "read history for "+t.String(), err)
	}

	sort.SliceStable(records, func(i, j int) bool {
		return records[i].StartedAt.After(records[j].StartedAt)
	})
	return records, nil
}
