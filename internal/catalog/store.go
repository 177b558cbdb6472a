// Package catalog persists data source metadata and serves it to the query
// path. Records live in bbolt; an in-memory btree mirrors them for lookups
// and ordered listing.
package catalog

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"sync"
	"time"

	"github.com/google/btree"
	"go.etcd.io/bbolt"

	"github.com/yairfalse/directquery/internal/telemetry"
	"github.com/yairfalse/directquery/pkg/datasource"
)

var bucketDataSources = []byte("datasources")

// Store is a bbolt-backed datasource.Service.
type Store struct {
	mu sync.RWMutex

	// In-memory index keyed by name
	index *btree.BTreeG[datasource.Metadata]

	db     *bbolt.DB
	logger *telemetry.Logger
}

var _ datasource.Service = (*Store)(nil)

func lessByName(a, b datasource.Metadata) bool {
	return a.Name < b.Name
}

// Open opens or creates the catalog database at path.
func Open(path string, logger *telemetry.Logger) (*Store, error) {
	if dir := filepath.Dir(path); dir != "" {
		if err := os.MkdirAll(dir, 0o750); err != nil {
			return nil, fmt.Errorf("create catalog directory: %w", err)
		}
	}

	db, err := bbolt.Open(path, 0o600, &bbolt.Options{Timeout: 5 * time.Second})
	if err != nil {
		return nil, fmt.Errorf("failed to open catalog database: %w", err)
	}

	err = db.Update(func(tx *bbolt.Tx) error {
		_, err := tx.CreateBucketIfNotExists(bucketDataSources)
		return err
	})
	if err != nil {
		_ = db.Close()
		return nil, fmt.Errorf("initialize catalog: %w", err)
	}

	s := &Store{
		index:  btree.NewG[datasource.Metadata](32, lessByName),
		db:     db,
		logger: telemetry.OrNop(logger).Component("catalog"),
	}

	if err := s.rebuildIndex(); err != nil {
		_ = db.Close()
		return nil, err
	}
	return s, nil
}

// Close closes the database.
func (s *Store) Close() error {
	return s.db.Close()
}

// Get returns the metadata for name.
func (s *Store) Get(_ context.Context, name string) (datasource.Metadata, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	md, ok := s.index.Get(datasource.Metadata{Name: name})
	if !ok {
		return datasource.Metadata{}, datasource.NotFound(name)
	}
	return clone(md), nil
}

// Exists reports whether name is in the catalog.
func (s *Store) Exists(_ context.Context, name string) bool {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.index.Has(datasource.Metadata{Name: name})
}

// List returns every data source ordered by name.
func (s *Store) List() []datasource.Metadata {
	s.mu.RLock()
	defer s.mu.RUnlock()

	out := make([]datasource.Metadata, 0, s.index.Len())
	s.index.Ascend(func(md datasource.Metadata) bool {
		out = append(out, clone(md))
		return true
	})
	return out
}

// Put inserts or replaces one data source.
func (s *Store) Put(md datasource.Metadata) error {
	md, err := normalize(md)
	if err != nil {
		return err
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	err = s.db.Update(func(tx *bbolt.Tx) error {
		return putRecord(tx.Bucket(bucketDataSources), md)
	})
	if err != nil {
		return fmt.Errorf("store data source %s: %w", md.Name, err)
	}

	s.index.ReplaceOrInsert(md)
	return nil
}

// Delete removes name. Unknown names return a not found error.
func (s *Store) Delete(name string) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if !s.index.Has(datasource.Metadata{Name: name}) {
		return datasource.NotFound(name)
	}

	err := s.db.Update(func(tx *bbolt.Tx) error {
		return tx.Bucket(bucketDataSources).Delete([]byte(name))
	})
	if err != nil {
		return fmt.Errorf("delete data source %s: %w", name, err)
	}

	s.index.Delete(datasource.Metadata{Name: name})
	return nil
}

// Replace makes the catalog hold exactly mds, atomically.
func (s *Store) Replace(mds []datasource.Metadata) error {
	normalized := make([]datasource.Metadata, 0, len(mds))
	seen := make(map[string]bool, len(mds))
	for _, md := range mds {
		md, err := normalize(md)
		if err != nil {
			return err
		}
		if seen[md.Name] {
			return datasource.Configuration("duplicate data source name %s", md.Name)
		}
		seen[md.Name] = true
		normalized = append(normalized, md)
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	err := s.db.Update(func(tx *bbolt.Tx) error {
		if err := tx.DeleteBucket(bucketDataSources); err != nil && !errors.Is(err, bbolt.ErrBucketNotFound) {
			return err
		}
		bucket, err := tx.CreateBucket(bucketDataSources)
		if err != nil {
			return err
		}
		for _, md := range normalized {
			if err := putRecord(bucket, md); err != nil {
				return err
			}
		}
		return nil
	})
	if err != nil {
		return fmt.Errorf("replace catalog: %w", err)
	}

	s.index.Clear(false)
	for _, md := range normalized {
		s.index.ReplaceOrInsert(md)
	}

	s.logger.Info().Int("datasources", len(normalized)).Msg("catalog replaced")
	return nil
}

func (s *Store) rebuildIndex() error {
	return s.db.View(func(tx *bbolt.Tx) error {
		return tx.Bucket(bucketDataSources).ForEach(func(k, v []byte) error {
			var md datasource.Metadata
			if err := json.Unmarshal(v, &md); err != nil {
				return fmt.Errorf("decode data source %s: %w", k, err)
			}
			s.index.ReplaceOrInsert(md)
			return nil
		})
	})
}

func putRecord(bucket *bbolt.Bucket, md datasource.Metadata) error {
	value, err := json.Marshal(md)
	if err != nil {
		return err
	}
	return bucket.Put([]byte(md.Name), value)
}

func normalize(md datasource.Metadata) (datasource.Metadata, error) {
	if md.Name == "" {
		return md, datasource.Configuration("data source name is required")
	}
	md.Connector = datasource.ParseConnectorType(md.Connector.String())
	if md.Connector == "" {
		return md, datasource.Configuration("connector is required for data source %s", md.Name)
	}
	return clone(md), nil
}

func clone(md datasource.Metadata) datasource.Metadata {
	if md.Properties != nil {
		props := make(map[string]string, len(md.Properties))
		for k, v := range md.Properties {
			props[k] = v
		}
		md.Properties = props
	}
	return md
}
