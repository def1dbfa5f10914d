// Package catalog holds the current catalog snapshot and persists it.
package catalog

import (
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"sync/atomic"
	"time"

	"github.com/aluiziolira/go-build-finder/models"
	"github.com/aluiziolira/go-build-finder/parser"
)

// Store publishes immutable snapshots. Readers always see a whole snapshot;
// the single writer replaces it with one pointer swap. Snapshots returned by
// Snapshot must not be modified, and Commit, Touch and Load must not run
// concurrently with each other.
type Store struct {
	current atomic.Pointer[models.Snapshot]
}

// NewStore returns an empty store whose last update is the zero time.
func NewStore() *Store {
	s := &Store{}
	s.current.Store(&models.Snapshot{})
	return s
}

// Snapshot returns the current snapshot.
func (s *Store) Snapshot() *models.Snapshot {
	return s.current.Load()
}

// Len returns the number of records in the current snapshot.
func (s *Store) Len() int {
	return s.current.Load().Len()
}

// LastUpdate returns when the catalog was last refreshed.
func (s *Store) LastUpdate() time.Time {
	return s.current.Load().LastUpdate
}

// Commit replaces the catalog with items and builds when the new set is at
// least as large as the current one. Otherwise the current records are kept.
// LastUpdate becomes now either way. It reports whether the records were
// replaced.
func (s *Store) Commit(items []models.CatalogItem, builds []models.Build, now time.Time) bool {
	prev := s.current.Load()
	if len(items)+len(builds) >= prev.Len() {
		s.current.Store(&models.Snapshot{
			LastUpdate: now,
			Items:      append([]models.CatalogItem(nil), items...),
			Builds:     append([]models.Build(nil), builds...),
		})
		return true
	}
	s.Touch(now)
	return false
}

// Touch keeps the records and sets LastUpdate to now.
func (s *Store) Touch(now time.Time) {
	prev := s.current.Load()
	s.current.Store(&models.Snapshot{
		LastUpdate: now,
		Items:      prev.Items,
		Builds:     prev.Builds,
	})
}

// Load replaces the store contents with the snapshot at path. Records that
// fail validation are dropped and counted. A missing file leaves the store
// empty and returns 0, nil.
func (s *Store) Load(path string) (dropped int, err error) {
	data, err := os.ReadFile(path)
	if errors.Is(err, os.ErrNotExist) {
		return 0, nil
	}
	if err != nil {
		return 0, fmt.Errorf("read snapshot: %w", err)
	}
	var snap models.Snapshot
	if err := json.Unmarshal(data, &snap); err != nil {
		return 0, fmt.Errorf("decode snapshot %s: %w", path, err)
	}

	loaded := &models.Snapshot{LastUpdate: snap.LastUpdate}
	for i := range snap.Items {
		if parser.ValidateItem(&snap.Items[i]) != nil {
			dropped++
			continue
		}
		loaded.Items = append(loaded.Items, snap.Items[i])
	}
	for i := range snap.Builds {
		if parser.ValidateBuild(&snap.Builds[i]) != nil {
			dropped++
			continue
		}
		loaded.Builds = append(loaded.Builds, snap.Builds[i])
	}
	s.current.Store(loaded)
	return dropped, nil
}

// Save writes the current snapshot to path atomically.
func (s *Store) Save(path string) error {
	data, err := json.MarshalIndent(s.current.Load(), "", "  ")
	if err != nil {
		return fmt.Errorf("encode snapshot: %w", err)
	}

	dir := filepath.Dir(path)
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return fmt.Errorf("create snapshot dir %q: %w", dir, err)
	}
	tmp, err := os.CreateTemp(dir, filepath.Base(path)+".*.tmp")
	if err != nil {
		return fmt.Errorf("create temp snapshot: %w", err)
	}
	tmpName := tmp.Name()
	cleanup := func() {
		tmp.Close()
		os.Remove(tmpName)
	}

	if _, err := tmp.Write(data); err != nil {
		cleanup()
		return fmt.Errorf("write snapshot: %w", err)
	}
	if err := tmp.Sync(); err != nil {
		cleanup()
		return fmt.Errorf("sync snapshot: %w", err)
	}
	if err := tmp.Close(); err != nil {
		os.Remove(tmpName)
		return fmt.Errorf("close snapshot: %w", err)
	}
	if err := os.Rename(tmpName, path); err != nil {
		os.Remove(tmpName)
		return fmt.Errorf("replace snapshot: %w", err)
	}
	return nil
}
