package domain

import "time"

// FileState is the fingerprint of one tracked document on either replica
type FileState struct {
	// Path is relative to the sync root, forward-slash separated
	Path string `json:"path"`

	// Hash is the lowercase hex sha256 of the content
	Hash string `json:"hash"`

	// MTime is the last modification time (advisory only)
	MTime time.Time `json:"mtime"`

	// Size in bytes
	Size int64 `json:"size"`
}

// SameContent reports whether two states carry identical bytes
func (f FileState) SameContent(other FileState) bool {
	return f.Hash == other.Hash
}

// SyncState is the three-way merge baseline for one sync pair
type SyncState struct {
	SyncID    string               `json:"syncId"`
	Local     map[string]FileState `json:"local"`
	Remote    map[string]FileState `json:"remote"`
	UpdatedAt time.Time            `json:"updatedAt"`
}

// NewSyncState creates an empty baseline for a sync pair
func NewSyncState(syncID string) *SyncState {
	return &SyncState{
		SyncID: syncID,
		Local:  make(map[string]FileState),
		Remote: make(map[string]FileState),
	}
}

// EnsureMaps replaces nil maps, which appear when a record was written by hand
func (s *SyncState) EnsureMaps() {
	if s.Local == nil {
		s.Local = make(map[string]FileState)
	}
	if s.Remote == nil {
		s.Remote = make(map[string]FileState)
	}
}

// SetBoth records the same fingerprint on both sides
func (s *SyncState) SetBoth(fs FileState) {
	s.EnsureMaps()
	s.Local[fs.Path] = fs
	s.Remote[fs.Path] = fs
}

// Forget removes a path from both sides
func (s *SyncState) Forget(path string) {
	delete(s.Local, path)
	delete(s.Remote, path)
}

// LastLocal returns the local baseline for path
func (s *SyncState) LastLocal(path string) (FileState, bool) {
	fs, ok := s.Local[path]
	return fs, ok
}

// LastRemote returns the remote baseline for path
func (s *SyncState) LastRemote(path string) (FileState, bool) {
	fs, ok := s.Remote[path]
	return fs, ok
}
