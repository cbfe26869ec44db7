package conflict

import (
	"context"
	"fmt"
	"time"

	"github.com/Ning0612/vaultsync/internal/domain"
	"github.com/Ning0612/vaultsync/internal/logger"
)

// LocalWriter writes a file relative to the sync root
type LocalWriter interface {
	Write(relPath string, content []byte) error
}

// RemoteWriter uploads a document to the vault
type RemoteWriter interface {
	Put(ctx context.Context, vaultID, path string, content []byte) error
}

// Version is one side's fingerprint together with its bytes
type Version struct {
	State   domain.FileState
	Content []byte
}

// Resolution describes what Handle did
type Resolution struct {
	Winner     Side
	BackupPath string
	State      domain.FileState
	LogLine    string
}

// Handler applies a conflict resolution to both replicas and the baseline
type Handler struct {
	Local    LocalWriter
	Remote   RemoteWriter
	VaultID  string
	Strategy domain.ConflictStrategy

	// OnLocalWrite is called before every write to the local replica
	OnLocalWrite func(relPath string)

	Logger logger.Logger
	Now    func() time.Time
}

// Handle resolves the conflict on path.
//
// The loser's bytes are kept in a backup file next to the original on the local
// replica, the winner is made live on both replicas, and both baseline sides are
// set to the winner's fingerprint. The caller persists state.
func (h *Handler) Handle(ctx context.Context, path string, local, remote Version, state *domain.SyncState) (Resolution, error) {
	now := time.Now()
	if h.Now != nil {
		now = h.Now()
	}
	log := h.Logger
	if log == nil {
		log = logger.With("component", "conflict")
	}

	winner := Resolve(h.Strategy, local.State, remote.State)
	win, lose := local, remote
	if winner == SideRemote {
		win, lose = remote, local
	}

	res := Resolution{Winner: winner, State: win.State}
	res.State.Path = path

	if lose.State.Hash != win.State.Hash {
		res.BackupPath = BackupPath(path, winner.Other(), now)
		h.markLocal(res.BackupPath)
		if err := h.Local.Write(res.BackupPath, lose.Content); err != nil {
			return res, fmt.Errorf("failed to write conflict backup %s: %w", res.BackupPath, err)
		}
	}

	switch winner {
	case SideLocal:
		if err := h.Remote.Put(ctx, h.VaultID, path, win.Content); err != nil {
			return res, fmt.Errorf("failed to upload winning version of %s: %w", path, err)
		}
	case SideRemote:
		h.markLocal(path)
		if err := h.Local.Write(path, win.Content); err != nil {
			return res, fmt.Errorf("failed to write winning version of %s: %w", path, err)
		}
	}

	if state != nil {
		state.SetBoth(res.State)
	}

	res.LogLine = LogLine(now, path, winner, res.BackupPath)
	log.Warn(res.LogLine, "path", path, "winner", string(winner), "backup", res.BackupPath)
	return res, nil
}

func (h *Handler) markLocal(relPath string) {
	if h.OnLocalWrite != nil {
		h.OnLocalWrite(relPath)
	}
}
