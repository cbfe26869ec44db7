package config

import (
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"sync"
	"time"

	"github.com/google/uuid"
	"gopkg.in/yaml.v3"

	"github.com/Ning0612/vaultsync/internal/domain"
	"github.com/Ning0612/vaultsync/internal/logger"
)

// StateRemover deletes the baseline of a removed sync pair
type StateRemover interface {
	Delete(syncID string) error
}

type syncsFile struct {
	Syncs []domain.SyncConfig `yaml:"syncs"`
}

// Store persists sync pairs as a YAML list
type Store struct {
	path   string
	states StateRemover

	mu sync.Mutex
}

// NewStore creates a store backed by the file at path. states may be nil.
func NewStore(path string, states StateRemover) *Store {
	return &Store{path: path, states: states}
}

// Path returns the backing file
func (s *Store) Path() string {
	return s.path
}

// Load returns every configured pair. Missing or corrupt storage yields an empty list.
func (s *Store) Load() []domain.SyncConfig {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.load()
}

func (s *Store) load() []domain.SyncConfig {
	data, err := os.ReadFile(s.path)
	if err != nil {
		if !errors.Is(err, os.ErrNotExist) {
			logger.Get().Warn("Failed to read sync configs", "path", s.path, "error", err)
		}
		return nil
	}

	var f syncsFile
	if err := yaml.Unmarshal(data, &f); err != nil {
		logger.Get().Warn("Corrupt sync config file, treating as empty", "path", s.path, "error", err)
		return nil
	}
	return f.Syncs
}

func (s *Store) save(syncs []domain.SyncConfig) error {
	dir := filepath.Dir(s.path)
	if err := os.MkdirAll(dir, 0755); err != nil {
		return fmt.Errorf("failed to create config directory: %w", err)
	}

	data, err := yaml.Marshal(syncsFile{Syncs: syncs})
	if err != nil {
		return fmt.Errorf("failed to encode sync configs: %w", err)
	}

	tmp, err := os.CreateTemp(dir, ".syncs-*.tmp")
	if err != nil {
		return fmt.Errorf("failed to create temp config file: %w", err)
	}
	tmpPath := tmp.Name()
	if _, err := tmp.Write(data); err != nil {
		tmp.Close()
		os.Remove(tmpPath)
		return fmt.Errorf("failed to write sync configs: %w", err)
	}
	if err := tmp.Close(); err != nil {
		os.Remove(tmpPath)
		return fmt.Errorf("failed to close temp config file: %w", err)
	}
	if err := os.Rename(tmpPath, s.path); err != nil {
		os.Remove(tmpPath)
		return fmt.Errorf("failed to replace sync configs: %w", err)
	}
	return nil
}

// Create adds a new pair. It assigns the id, makes localPath absolute and
// fills default mode and conflict strategy.
func (s *Store) Create(cfg domain.SyncConfig) (domain.SyncConfig, error) {
	if cfg.LocalPath != "" {
		abs, err := filepath.Abs(cfg.LocalPath)
		if err != nil {
			return cfg, fmt.Errorf("failed to resolve local path: %w", err)
		}
		cfg.LocalPath = abs
	}
	if cfg.Mode == "" {
		cfg.Mode = domain.SyncModeSync
	}
	if cfg.OnConflict == "" {
		cfg.OnConflict = domain.ConflictNewer
	}
	if err := cfg.Validate(); err != nil {
		return cfg, err
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	syncs := s.load()
	for _, existing := range syncs {
		if existing.VaultID == cfg.VaultID && existing.LocalPath == cfg.LocalPath {
			return cfg, fmt.Errorf("%w: vault %s -> %s", domain.ErrDuplicateSyncPair, cfg.VaultID, cfg.LocalPath)
		}
	}

	cfg.ID = uuid.New().String()
	if err := s.save(append(syncs, cfg)); err != nil {
		return cfg, err
	}
	return cfg, nil
}

// Get returns the pair with the given id
func (s *Store) Get(id string) (domain.SyncConfig, error) {
	for _, c := range s.Load() {
		if c.ID == id {
			return c, nil
		}
	}
	return domain.SyncConfig{}, fmt.Errorf("%w: %s", domain.ErrSyncConfigNotFound, id)
}

// GetByVault returns the first pair bound to vaultID
func (s *Store) GetByVault(vaultID string) (domain.SyncConfig, error) {
	for _, c := range s.Load() {
		if c.VaultID == vaultID {
			return c, nil
		}
	}
	return domain.SyncConfig{}, fmt.Errorf("%w: vault %s", domain.ErrSyncConfigNotFound, vaultID)
}

// List returns every pair
func (s *Store) List() []domain.SyncConfig {
	return s.Load()
}

// ListAutoSync returns the pairs the daemon should keep in sync
func (s *Store) ListAutoSync() []domain.SyncConfig {
	var out []domain.SyncConfig
	for _, c := range s.Load() {
		if c.AutoSync {
			out = append(out, c)
		}
	}
	return out
}

// Update replaces a pair, matched by id
func (s *Store) Update(cfg domain.SyncConfig) error {
	if err := cfg.Validate(); err != nil {
		return err
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	syncs := s.load()
	idx := -1
	for i, c := range syncs {
		if c.ID == cfg.ID {
			idx = i
			continue
		}
		if c.VaultID == cfg.VaultID && c.LocalPath == cfg.LocalPath {
			return fmt.Errorf("%w: vault %s -> %s", domain.ErrDuplicateSyncPair, cfg.VaultID, cfg.LocalPath)
		}
	}
	if idx < 0 {
		return fmt.Errorf("%w: %s", domain.ErrSyncConfigNotFound, cfg.ID)
	}
	syncs[idx] = cfg
	return s.save(syncs)
}

// TouchLastSync records a completed reconciliation
func (s *Store) TouchLastSync(id string, t time.Time) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	syncs := s.load()
	for i := range syncs {
		if syncs[i].ID == id {
			syncs[i].LastSyncAt = t.UTC()
			return s.save(syncs)
		}
	}
	return fmt.Errorf("%w: %s", domain.ErrSyncConfigNotFound, id)
}

// Delete removes a pair together with its baseline
func (s *Store) Delete(id string) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	syncs := s.load()
	kept := syncs[:0]
	found := false
	for _, c := range syncs {
		if c.ID == id {
			found = true
			continue
		}
		kept = append(kept, c)
	}
	if !found {
		return fmt.Errorf("%w: %s", domain.ErrSyncConfigNotFound, id)
	}
	if err := s.save(kept); err != nil {
		return err
	}
	if s.states != nil {
		if err := s.states.Delete(id); err != nil {
			return fmt.Errorf("failed to delete state for %s: %w", id, err)
		}
	}
	return nil
}
