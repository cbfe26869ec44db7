// Package conflict detects concurrent edits against the sync baseline and picks
// a winner according to the pair's strategy.
package conflict

import (
	"fmt"
	"path"
	"strings"
	"time"

	"github.com/Ning0612/vaultsync/internal/domain"
)

// Side names one replica
type Side string

const (
	SideLocal  Side = "local"
	SideRemote Side = "remote"
)

// Other returns the opposite replica
func (s Side) Other() Side {
	if s == SideLocal {
		return SideRemote
	}
	return SideLocal
}

// Detect reports whether both replicas moved since the baseline.
//
// With a missing baseline on either side the two current versions conflict iff
// their hashes differ. Otherwise both sides must have changed; two sides that
// independently reached the same new hash still count as a conflict.
func Detect(local, remote domain.FileState, lastLocal, lastRemote *domain.FileState) bool {
	if lastLocal == nil || lastRemote == nil {
		return local.Hash != remote.Hash
	}
	return local.Hash != lastLocal.Hash && remote.Hash != lastRemote.Hash
}

// DetectInState is Detect with the baseline looked up from state
func DetectInState(local, remote domain.FileState, state *domain.SyncState) bool {
	var lastLocal, lastRemote *domain.FileState
	if state != nil {
		if fs, ok := state.LastLocal(local.Path); ok {
			lastLocal = &fs
		}
		if fs, ok := state.LastRemote(remote.Path); ok {
			lastRemote = &fs
		}
	}
	return Detect(local, remote, lastLocal, lastRemote)
}

// Resolve picks the winning side. ConflictAsk has no headless path and uses
// the newer rule; unknown strategies do too.
func Resolve(strategy domain.ConflictStrategy, local, remote domain.FileState) Side {
	switch strategy {
	case domain.ConflictLocal:
		return SideLocal
	case domain.ConflictRemote:
		return SideRemote
	default:
		// ties favor local
		if !remote.MTime.After(local.MTime) {
			return SideLocal
		}
		return SideRemote
	}
}

// BackupPath returns the sibling path that preserves the losing content, e.g.
// notes/shared.conflicted.remote.2026-01-02T03-04-05-000Z.md
func BackupPath(p string, loser Side, now time.Time) string {
	dir, base := path.Split(p)
	ext := path.Ext(base)
	stem := strings.TrimSuffix(base, ext)

	ts := now.UTC().Format("2006-01-02T15:04:05.000Z")
	ts = strings.NewReplacer(":", "-", ".", "-").Replace(ts)

	return dir + fmt.Sprintf("%s.conflicted.%s.%s%s", stem, loser, ts, ext)
}

// LogLine formats the record emitted for every resolved conflict
func LogLine(now time.Time, p string, winner Side, backup string) string {
	line := fmt.Sprintf("[%s] CONFLICT %s: resolved=%s", now.UTC().Format(time.RFC3339Nano), p, winner)
	if backup != "" {
		line += fmt.Sprintf(" (backup: %s)", backup)
	}
	return line
}
