// Package diff computes the transfers needed to bring one replica in line with
// the other, using the last-known baseline as the merge reference.
package diff

import (
	"sort"

	"github.com/Ning0612/vaultsync/internal/domain"
)

// Pull reasons
const (
	ReasonNewRemote         = "New remote file"
	ReasonRestoreFromRemote = "Deleted locally, restoring from remote"
	ReasonRemoteChanged     = "Remote file changed"
	ReasonFirstSyncRemote   = "First sync, remote wins"
	ReasonDeletedOnRemote   = "Deleted on remote"
)

// Push reasons
const (
	ReasonNewLocal         = "New local file"
	ReasonRestoreFromLocal = "Deleted remotely, restoring from local"
	ReasonLocalChanged     = "Local file changed"
	ReasonFirstSyncLocal   = "First sync, local wins"
	ReasonDeletedLocally   = "Deleted locally"
)

// Snapshot maps relative paths to their current fingerprint on one replica
type Snapshot map[string]domain.FileState

// ComputePullDiff returns the downloads and local deletes that replicate the
// remote side onto the local side. A nil baseline is treated as a first sync.
func ComputePullDiff(local, remote Snapshot, last *domain.SyncState) domain.SyncDiff {
	var d domain.SyncDiff
	lastLocal, lastRemote := baselines(last)

	for _, path := range sortedKeys(remote) {
		rs := remote[path]
		ls, haveLocal := local[path]

		if !haveLocal {
			reason := ReasonNewRemote
			if _, known := lastLocal[path]; known {
				reason = ReasonRestoreFromRemote
			}
			d.Downloads = append(d.Downloads, entry(path, domain.ActionCreate, domain.DirDownload, rs.Size, reason))
			continue
		}

		prev, known := lastRemote[path]
		switch {
		case known && prev.Hash != rs.Hash:
			d.Downloads = append(d.Downloads, entry(path, domain.ActionUpdate, domain.DirDownload, rs.Size, ReasonRemoteChanged))
		case !known && ls.Hash != rs.Hash:
			d.Downloads = append(d.Downloads, entry(path, domain.ActionUpdate, domain.DirDownload, rs.Size, ReasonFirstSyncRemote))
		}
	}

	for _, path := range sortedKeys(lastRemote) {
		if _, stillRemote := remote[path]; stillRemote {
			continue
		}
		if _, haveLocal := local[path]; !haveLocal {
			continue
		}
		d.Deletes = append(d.Deletes, entry(path, domain.ActionDelete, domain.DirDownload, 0, ReasonDeletedOnRemote))
	}

	d.TotalBytes = totalBytes(d)
	return d
}

// ComputePushDiff is the mirror of ComputePullDiff: uploads and remote deletes
// that replicate the local side onto the remote side.
func ComputePushDiff(local, remote Snapshot, last *domain.SyncState) domain.SyncDiff {
	var d domain.SyncDiff
	lastLocal, lastRemote := baselines(last)

	for _, path := range sortedKeys(local) {
		ls := local[path]
		rs, haveRemote := remote[path]

		if !haveRemote {
			reason := ReasonNewLocal
			if _, known := lastRemote[path]; known {
				reason = ReasonRestoreFromLocal
			}
			d.Uploads = append(d.Uploads, entry(path, domain.ActionCreate, domain.DirUpload, ls.Size, reason))
			continue
		}

		prev, known := lastLocal[path]
		switch {
		case known && prev.Hash != ls.Hash:
			d.Uploads = append(d.Uploads, entry(path, domain.ActionUpdate, domain.DirUpload, ls.Size, ReasonLocalChanged))
		case !known && ls.Hash != rs.Hash:
			d.Uploads = append(d.Uploads, entry(path, domain.ActionUpdate, domain.DirUpload, ls.Size, ReasonFirstSyncLocal))
		}
	}

	for _, path := range sortedKeys(lastLocal) {
		if _, stillLocal := local[path]; stillLocal {
			continue
		}
		if _, haveRemote := remote[path]; !haveRemote {
			continue
		}
		d.Deletes = append(d.Deletes, entry(path, domain.ActionDelete, domain.DirUpload, 0, ReasonDeletedLocally))
	}

	d.TotalBytes = totalBytes(d)
	return d
}

func entry(path string, action domain.ActionType, dir domain.Direction, size int64, reason string) domain.DiffEntry {
	return domain.DiffEntry{
		Path:      path,
		Action:    action,
		Direction: dir,
		Size:      size,
		Reason:    reason,
	}
}

func baselines(last *domain.SyncState) (map[string]domain.FileState, map[string]domain.FileState) {
	if last == nil {
		return nil, nil
	}
	return last.Local, last.Remote
}

// totalBytes counts only transfer-bearing entries
func totalBytes(d domain.SyncDiff) int64 {
	var total int64
	for _, list := range [][]domain.DiffEntry{d.Uploads, d.Downloads} {
		for _, e := range list {
			if e.Action != domain.ActionDelete {
				total += e.Size
			}
		}
	}
	return total
}

func sortedKeys(m map[string]domain.FileState) []string {
	keys := make([]string, 0, len(m))
	for k := range m {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	return keys
}
