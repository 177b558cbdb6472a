package catalog

import (
	"context"
	"fmt"
	"os"
	"path/filepath"

	"github.com/fsnotify/fsnotify"
	"gopkg.in/yaml.v3"

	"github.com/yairfalse/directquery/internal/telemetry"
	"github.com/yairfalse/directquery/pkg/datasource"
)

// File is the YAML catalog layout:
//
//	datasources:
//	  - name: ds1
//	    connector: PROMETHEUS
//	    properties:
//	      prometheus.uri: http://prometheus:9090
type File struct {
	DataSources []datasource.Metadata `yaml:"datasources"`
}

// LoadFile reads a YAML catalog.
func LoadFile(path string) ([]datasource.Metadata, error) {
	data, err := os.ReadFile(path) // #nosec G304 -- path is intentional user input
	if err != nil {
		return nil, fmt.Errorf("read catalog file: %w", err)
	}

	var f File
	if err := yaml.Unmarshal(data, &f); err != nil {
		return nil, fmt.Errorf("parse catalog file: %w", err)
	}
	return f.DataSources, nil
}

// Sync replaces the store contents with the catalog file at path.
func (s *Store) Sync(path string) error {
	mds, err := LoadFile(path)
	if err != nil {
		return err
	}
	return s.Replace(mds)
}

// Watch re-syncs the store whenever the catalog file changes, until ctx is
// cancelled. A failed reload is logged and the previous catalog stays active.
//
// The parent directory is watched so that atomic saves (write a temp file,
// rename over the catalog) keep triggering reloads after the original inode
// is gone.
func (s *Store) Watch(ctx context.Context, path string) error {
	path = filepath.Clean(path)

	watcher, err := fsnotify.NewWatcher()
	if err != nil {
		return fmt.Errorf("create catalog watcher: %w", err)
	}
	defer watcher.Close()

	if err := watcher.Add(filepath.Dir(path)); err != nil {
		return fmt.Errorf("watch catalog directory: %w", err)
	}

	logger := telemetry.OrNop(s.logger)
	logger.Info().Str("path", path).Msg("watching catalog file")

	for {
		select {
		case <-ctx.Done():
			return nil

		case event, ok := <-watcher.Events:
			if !ok {
				return nil
			}
			if filepath.Clean(event.Name) != path {
				continue
			}
			if !event.Has(fsnotify.Write) && !event.Has(fsnotify.Create) {
				continue
			}

			if err := s.Sync(path); err != nil {
				logger.Error().Err(err).Str("path", path).Msg("catalog reload failed, keeping previous catalog")
				continue
			}
			logger.Info().Str("path", path).Msg("catalog reloaded")

		case err, ok := <-watcher.Errors:
			if !ok {
				return nil
			}
			logger.Error().Err(err).Msg("catalog watcher error")
		}
	}
}
