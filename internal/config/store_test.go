package config

import (
	"errors"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/Ning0612/vaultsync/internal/domain"
)

type fakeStates struct {
	deleted []string
}

func (f *fakeStates) Delete(id string) error {
	f.deleted = append(f.deleted, id)
	return nil
}

func newTestStore(t *testing.T) (*Store, *fakeStates) {
	t.Helper()
	states := &fakeStates{}
	return NewStore(filepath.Join(t.TempDir(), "data", "syncs.yaml"), states), states
}

func TestStore_LoadMissingAndCorrupt(t *testing.T) {
	s, _ := newTestStore(t)
	if got := s.Load(); len(got) != 0 {
		t.Errorf("missing file should load empty, got %v", got)
	}

	os.MkdirAll(filepath.Dir(s.Path()), 0755)
	os.WriteFile(s.Path(), []byte("syncs: [::: broken"), 0644)
	if got := s.Load(); len(got) != 0 {
		t.Errorf("corrupt file should load empty, got %v", got)
	}
}

func TestStore_CreateDefaults(t *testing.T) {
	s, _ := newTestStore(t)
	local := t.TempDir()

	cfg, err := s.Create(domain.SyncConfig{VaultID: "v1", LocalPath: local})
	if err != nil {
		t.Fatalf("Create failed: %v", err)
	}
	if cfg.ID == "" {
		t.Error("id should be generated")
	}
	if cfg.Mode != domain.SyncModeSync || cfg.OnConflict != domain.ConflictNewer {
		t.Errorf("unexpected defaults: mode=%s onConflict=%s", cfg.Mode, cfg.OnConflict)
	}

	got, err := s.Get(cfg.ID)
	if err != nil {
		t.Fatalf("Get failed: %v", err)
	}
	if got.LocalPath != local || got.VaultID != "v1" {
		t.Errorf("stored config mismatch: %+v", got)
	}

	byVault, err := s.GetByVault("v1")
	if err != nil || byVault.ID != cfg.ID {
		t.Errorf("GetByVault = %+v, %v", byVault, err)
	}
}

func TestStore_CreateRelativePath(t *testing.T) {
	s, _ := newTestStore(t)

	cfg, err := s.Create(domain.SyncConfig{VaultID: "v", LocalPath: "relative/dir"})
	if err != nil {
		t.Fatalf("Create failed: %v", err)
	}
	if !filepath.IsAbs(cfg.LocalPath) {
		t.Errorf("local path should be absolute, got %q", cfg.LocalPath)
	}
}

func TestStore_CreateDuplicate(t *testing.T) {
	s, _ := newTestStore(t)
	local := t.TempDir()

	if _, err := s.Create(domain.SyncConfig{VaultID: "v1", LocalPath: local}); err != nil {
		t.Fatal(err)
	}
	_, err := s.Create(domain.SyncConfig{VaultID: "v1", LocalPath: local, Mode: domain.SyncModePull})
	if !errors.Is(err, domain.ErrDuplicateSyncPair) {
		t.Fatalf("expected ErrDuplicateSyncPair, got %v", err)
	}

	// same vault, other directory is fine
	if _, err := s.Create(domain.SyncConfig{VaultID: "v1", LocalPath: t.TempDir()}); err != nil {
		t.Errorf("different local path should be allowed: %v", err)
	}
	if n := len(s.List()); n != 2 {
		t.Errorf("expected 2 configs, got %d", n)
	}
}

func TestStore_CreateInvalid(t *testing.T) {
	s, _ := newTestStore(t)

	if _, err := s.Create(domain.SyncConfig{LocalPath: t.TempDir()}); !errors.Is(err, domain.ErrInvalidSyncConfig) {
		t.Errorf("missing vault id: got %v", err)
	}
	if _, err := s.Create(domain.SyncConfig{VaultID: "v", LocalPath: t.TempDir(), Mode: "mirror"}); !errors.Is(err, domain.ErrInvalidSyncConfig) {
		t.Errorf("bad mode: got %v", err)
	}
}

func TestStore_ListAutoSync(t *testing.T) {
	s, _ := newTestStore(t)

	s.Create(domain.SyncConfig{VaultID: "a", LocalPath: t.TempDir(), AutoSync: true})
	s.Create(domain.SyncConfig{VaultID: "b", LocalPath: t.TempDir()})

	auto := s.ListAutoSync()
	if len(auto) != 1 || auto[0].VaultID != "a" {
		t.Errorf("ListAutoSync = %+v", auto)
	}
}

func TestStore_UpdateAndTouch(t *testing.T) {
	s, _ := newTestStore(t)
	cfg, _ := s.Create(domain.SyncConfig{VaultID: "a", LocalPath: t.TempDir()})

	cfg.AutoSync = true
	cfg.SyncInterval = "5m"
	if err := s.Update(cfg); err != nil {
		t.Fatalf("Update failed: %v", err)
	}

	when := time.Date(2026, 5, 6, 7, 8, 9, 0, time.UTC)
	if err := s.TouchLastSync(cfg.ID, when); err != nil {
		t.Fatalf("TouchLastSync failed: %v", err)
	}

	got, _ := s.Get(cfg.ID)
	if !got.AutoSync || got.SyncInterval != "5m" {
		t.Errorf("update not persisted: %+v", got)
	}
	if !got.LastSyncAt.Equal(when) {
		t.Errorf("LastSyncAt = %v, want %v", got.LastSyncAt, when)
	}

	missing := cfg
	missing.ID = "nope"
	if err := s.Update(missing); !errors.Is(err, domain.ErrSyncConfigNotFound) {
		t.Errorf("expected not found, got %v", err)
	}
	if err := s.TouchLastSync("nope", when); !errors.Is(err, domain.ErrSyncConfigNotFound) {
		t.Errorf("expected not found, got %v", err)
	}
}

func TestStore_Delete(t *testing.T) {
	s, states := newTestStore(t)
	a, _ := s.Create(domain.SyncConfig{VaultID: "a", LocalPath: t.TempDir()})
	b, _ := s.Create(domain.SyncConfig{VaultID: "b", LocalPath: t.TempDir()})

	if err := s.Delete(a.ID); err != nil {
		t.Fatalf("Delete failed: %v", err)
	}
	if _, err := s.Get(a.ID); !errors.Is(err, domain.ErrSyncConfigNotFound) {
		t.Error("deleted config still present")
	}
	if _, err := s.Get(b.ID); err != nil {
		t.Error("other config must survive")
	}
	if len(states.deleted) != 1 || states.deleted[0] != a.ID {
		t.Errorf("state not deleted with config: %v", states.deleted)
	}

	if err := s.Delete(a.ID); !errors.Is(err, domain.ErrSyncConfigNotFound) {
		t.Errorf("second delete: got %v", err)
	}
}
