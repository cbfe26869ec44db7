// Package state persists the per-pair sync baseline and the reconciliation history.
package state

import (
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"sync"
	"time"

	"github.com/Ning0612/vaultsync/internal/domain"
	"github.com/Ning0612/vaultsync/internal/logger"
)

// ErrUnchanged may be returned from an Update callback to skip the save
var ErrUnchanged = errors.New("state unchanged")

// Store keeps one JSON baseline per sync id under <dataDir>/state
type Store struct {
	dir string

	mu    sync.Mutex
	locks map[string]*sync.Mutex

	now func() time.Time
}

// NewStore creates a store rooted at dataDir. The directory is created lazily.
func NewStore(dataDir string) *Store {
	return &Store{
		dir:   filepath.Join(dataDir, "state"),
		locks: make(map[string]*sync.Mutex),
		now:   time.Now,
	}
}

// Dir returns the directory holding state records
func (s *Store) Dir() string {
	return s.dir
}

func (s *Store) path(syncID string) (string, error) {
	if syncID == "" || strings.ContainsAny(syncID, `/\`) || strings.Contains(syncID, "..") {
		return "", fmt.Errorf("%w: bad sync id %q", domain.ErrInvalidSyncConfig, syncID)
	}
	return filepath.Join(s.dir, syncID+".json"), nil
}

// Load returns the stored baseline, or an empty one when the record is missing
// or unreadable.
func (s *Store) Load(syncID string) *domain.SyncState {
	log := logger.With("component", "state", "sync_id", syncID)

	p, err := s.path(syncID)
	if err != nil {
		log.Warn("Invalid sync id, using empty state", "error", err)
		return domain.NewSyncState(syncID)
	}

	data, err := os.ReadFile(p)
	if err != nil {
		if !errors.Is(err, os.ErrNotExist) {
			log.Warn("Failed to read state, using empty state", "error", err)
		}
		return domain.NewSyncState(syncID)
	}

	var st domain.SyncState
	if err := json.Unmarshal(data, &st); err != nil {
		log.Warn("Corrupt state record, using empty state", "path", p, "error", err)
		return domain.NewSyncState(syncID)
	}
	st.SyncID = syncID
	st.EnsureMaps()
	return &st
}

// Save writes the baseline atomically and stamps UpdatedAt
func (s *Store) Save(st *domain.SyncState) error {
	if st == nil {
		return fmt.Errorf("state cannot be nil")
	}
	p, err := s.path(st.SyncID)
	if err != nil {
		return err
	}

	if err := os.MkdirAll(s.dir, 0755); err != nil {
		return fmt.Errorf("failed to create state directory: %w", err)
	}

	st.EnsureMaps()
	st.UpdatedAt = s.now().UTC()

	data, err := json.MarshalIndent(st, "", "  ")
	if err != nil {
		return fmt.Errorf("failed to encode state: %w", err)
	}

	tmp, err := os.CreateTemp(s.dir, ".state-*.tmp")
	if err != nil {
		return fmt.Errorf("failed to create temp state file: %w", err)
	}
	tmpPath := tmp.Name()

	if _, err := tmp.Write(data); err != nil {
		tmp.Close()
		os.Remove(tmpPath)
		return fmt.Errorf("failed to write state: %w", err)
	}
	if err := tmp.Close(); err != nil {
		os.Remove(tmpPath)
		return fmt.Errorf("failed to close temp state file: %w", err)
	}
	if err := os.Rename(tmpPath, p); err != nil {
		os.Remove(tmpPath)
		return fmt.Errorf("failed to replace state file: %w", err)
	}
	return nil
}

// Update re-reads the baseline under a per-id mutex, applies fn and saves it.
// Nothing is saved when fn returns an error; ErrUnchanged is reported as nil.
func (s *Store) Update(syncID string, fn func(st *domain.SyncState) error) error {
	l := s.lockFor(syncID)
	l.Lock()
	defer l.Unlock()

	st := s.Load(syncID)
	if err := fn(st); err != nil {
		if errors.Is(err, ErrUnchanged) {
			return nil
		}
		return err
	}
	return s.Save(st)
}

// Delete removes the baseline record. Deleting a missing record is not an error.
func (s *Store) Delete(syncID string) error {
	l := s.lockFor(syncID)
	l.Lock()
	defer l.Unlock()

	p, err := s.path(syncID)
	if err != nil {
		return err
	}
	if err := os.Remove(p); err != nil && !errors.Is(err, os.ErrNotExist) {
		return fmt.Errorf("failed to delete state: %w", err)
	}
	return nil
}

func (s *Store) lockFor(syncID string) *sync.Mutex {
	s.mu.Lock()
	defer s.mu.Unlock()

	l, ok := s.locks[syncID]
	if !ok {
		l = &sync.Mutex{}
		s.locks[syncID] = l
	}
	return l
}
