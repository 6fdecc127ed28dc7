package jsonfile

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io/fs"
	"os"
	"path/filepath"
	"sync"
	"time"

	"learnkit/core"
)

// Document is the on-disk layout of a settings file.
type Document struct {
	Catalog    core.Catalog     `json:"catalog"`
	LevelRules *core.LevelRules `json:"level_rules,omitempty"`
}

// Store serves the badge catalog and level rules from a single JSON file.
// The file is re-read when its modification time changes, so operators can
// ship a new catalog version without a restart.
type Store struct {
	path string
	mu   sync.Mutex
	// in-memory copy of the last successful load
	doc     Document
	modTime time.Time
}

// New loads path. A missing file yields an empty catalog and unset rules.
func New(path string) (*Store, error) {
	s := &Store{path: path}
	if err := s.load(); err != nil {
		if !errors.Is(err, fs.ErrNotExist) {
			return nil, err
		}
	}
	return s, nil
}

func (s *Store) load() error {
	info, err := os.Stat(s.path)
	if err != nil {
		return err
	}
	if !s.modTime.IsZero() && info.ModTime().Equal(s.modTime) {
		return nil
	}
	b, err := os.ReadFile(s.path)
	if err != nil {
		return err
	}
	var doc Document
	if err := json.Unmarshal(b, &doc); err != nil {
		return fmt.Errorf("parsing %s: %w", s.path, err)
	}
	seen := make(map[core.BadgeID]struct{}, len(doc.Catalog.Badges))
	for _, b := range doc.Catalog.Badges {
		if b.ID == "" {
			return fmt.Errorf("parsing %s: badge %q has no id", s.path, b.Slug)
		}
		if _, dup := seen[b.ID]; dup {
			return fmt.Errorf("parsing %s: duplicate badge id %q", s.path, b.ID)
		}
		seen[b.ID] = struct{}{}
	}
	s.doc = doc
	s.modTime = info.ModTime()
	return nil
}

// refresh reloads a changed file; a broken edit keeps serving the previous version.
func (s *Store) refresh() error {
	err := s.load()
	if err == nil || errors.Is(err, fs.ErrNotExist) {
		return nil
	}
	if s.modTime.IsZero() {
		return err
	}
	return nil
}

func (s *Store) persist() error {
	tmp := s.path + ".tmp"
	b, err := json.MarshalIndent(s.doc, "", "  ")
	if err != nil {
		return err
	}
	if err := os.MkdirAll(filepath.Dir(s.path), 0o755); err != nil {
		return err
	}
	if err := os.WriteFile(tmp, b, 0o644); err != nil {
		return err
	}
	if err := os.Rename(tmp, s.path); err != nil {
		return err
	}
	if info, err := os.Stat(s.path); err == nil {
		s.modTime = info.ModTime()
	}
	return nil
}

// Catalog returns the current badge catalog.
func (s *Store) Catalog(_ context.Context) (core.Catalog, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if err := s.refresh(); err != nil {
		return core.Catalog{}, err
	}
	c := s.doc.Catalog
	c.Badges = append([]core.Badge(nil), c.Badges...)
	if c.RarityBonus != nil {
		bonus := make(map[core.Rarity]int64, len(c.RarityBonus))
		for k, v := range c.RarityBonus {
			bonus[k] = v
		}
		c.RarityBonus = bonus
	}
	return c, nil
}

// LevelRules returns the configured curve; ok is false when the file sets none.
func (s *Store) LevelRules(_ context.Context) (core.LevelRules, bool, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if err := s.refresh(); err != nil {
		return core.LevelRules{}, false, err
	}
	if s.doc.LevelRules == nil {
		return core.LevelRules{}, false, nil
	}
	return *s.doc.LevelRules, true, nil
}

// SetCatalog replaces the catalog and writes the file.
func (s *Store) SetCatalog(_ context.Context, c core.Catalog) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.doc.Catalog = c
	return s.persist()
}

// SetLevelRules validates and stores a new curve.
func (s *Store) SetLevelRules(_ context.Context, r core.LevelRules) error {
	if err := r.Validate(); err != nil {
		return fmt.Errorf("%w: %v", core.ErrValidation, err)
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	s.doc.LevelRules = &r
	return s.persist()
}
