package domain

import (
	"path/filepath"
	"time"
)

// SyncMode defines how synchronization should occur
type SyncMode string

const (
	// SyncModePull replicates remote -> local only
	SyncModePull SyncMode = "pull"

	// SyncModePush replicates local -> remote only
	SyncModePush SyncMode = "push"

	// SyncModeSync performs bidirectional sync
	SyncModeSync SyncMode = "sync"
)

// IsValid checks if the sync mode is a known value
func (m SyncMode) IsValid() bool {
	switch m {
	case SyncModePull, SyncModePush, SyncModeSync:
		return true
	}
	return false
}

// ConflictStrategy defines how to resolve sync conflicts
type ConflictStrategy string

const (
	// ConflictNewer keeps the version with the newer mtime (ties favor local)
	ConflictNewer ConflictStrategy = "newer"

	// ConflictLocal always keeps the local version
	ConflictLocal ConflictStrategy = "local"

	// ConflictRemote always keeps the remote version
	ConflictRemote ConflictStrategy = "remote"

	// ConflictAsk has no headless resolution and behaves like ConflictNewer
	ConflictAsk ConflictStrategy = "ask"
)

// IsValid checks if the conflict strategy is a known value
func (s ConflictStrategy) IsValid() bool {
	switch s {
	case ConflictNewer, ConflictLocal, ConflictRemote, ConflictAsk:
		return true
	}
	return false
}

// SyncConfig is one configured vault <-> local directory pair
type SyncConfig struct {
	ID           string           `yaml:"id" json:"id"`
	VaultID      string           `yaml:"vaultId" json:"vaultId"`
	LocalPath    string           `yaml:"localPath" json:"localPath"`
	Mode         SyncMode         `yaml:"mode" json:"mode"`
	OnConflict   ConflictStrategy `yaml:"onConflict" json:"onConflict"`
	Ignore       []string         `yaml:"ignore,omitempty" json:"ignore,omitempty"`
	LastSyncAt   time.Time        `yaml:"lastSyncAt,omitempty" json:"lastSyncAt,omitempty"`
	SyncInterval string           `yaml:"syncInterval,omitempty" json:"syncInterval,omitempty"`
	AutoSync     bool             `yaml:"autoSync" json:"autoSync"`
}

// Validate checks if the pair is properly configured
func (c SyncConfig) Validate() error {
	if c.VaultID == "" || c.LocalPath == "" {
		return ErrInvalidSyncConfig
	}
	if !filepath.IsAbs(c.LocalPath) {
		return ErrInvalidSyncConfig
	}
	if !c.Mode.IsValid() {
		return ErrInvalidSyncConfig
	}
	if c.OnConflict != "" && !c.OnConflict.IsValid() {
		return ErrInvalidSyncConfig
	}
	return nil
}

// WatchesLocal reports whether the daemon should run a local watcher for this pair
func (c SyncConfig) WatchesLocal() bool {
	return c.Mode != SyncModePull
}

// PollsRemote reports whether the daemon should run a remote poller for this pair
func (c SyncConfig) PollsRemote() bool {
	return c.Mode == SyncModeSync
}

// ActionType represents the type of a diff entry
type ActionType string

const (
	ActionCreate ActionType = "create"
	ActionUpdate ActionType = "update"
	ActionDelete ActionType = "delete"
)

// Direction indicates which replica a diff entry writes to
type Direction string

const (
	// DirUpload writes to the remote vault
	DirUpload Direction = "upload"
	// DirDownload writes to the local directory
	DirDownload Direction = "download"
)

// DiffEntry is one pending change
type DiffEntry struct {
	Path      string
	Action    ActionType
	Direction Direction
	Size      int64
	Reason    string
}

// SyncDiff is the computed set of changes for one pull or push
type SyncDiff struct {
	Uploads    []DiffEntry
	Downloads  []DiffEntry
	Deletes    []DiffEntry
	TotalBytes int64
}

// IsEmpty reports whether the diff carries no work
func (d SyncDiff) IsEmpty() bool {
	return len(d.Uploads) == 0 && len(d.Downloads) == 0 && len(d.Deletes) == 0
}

// Len returns the total number of entries
func (d SyncDiff) Len() int {
	return len(d.Uploads) + len(d.Downloads) + len(d.Deletes)
}
