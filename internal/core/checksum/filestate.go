package checksum

import (
	"fmt"
	"os"
	"path/filepath"
	"time"

	"github.com/Ning0612/vaultsync/internal/domain"
)

// BuildFileState fingerprints the file at root/relPath
func BuildFileState(root, relPath string) (domain.FileState, []byte, error) {
	fullPath := filepath.Join(root, filepath.FromSlash(relPath))

	info, err := os.Stat(fullPath)
	if err != nil {
		return domain.FileState{}, nil, err
	}
	if info.IsDir() {
		return domain.FileState{}, nil, fmt.Errorf("%s: %w", relPath, domain.ErrNotFile)
	}

	content, err := os.ReadFile(fullPath)
	if err != nil {
		return domain.FileState{}, nil, err
	}

	return domain.FileState{
		Path:  filepath.ToSlash(relPath),
		Hash:  Hash(content),
		MTime: info.ModTime().UTC(),
		Size:  info.Size(),
	}, content, nil
}

// BuildRemoteFileState fingerprints content fetched from the vault.
// updatedAt is the server-supplied modification time.
func BuildRemoteFileState(path string, content []byte, updatedAt time.Time) domain.FileState {
	return domain.FileState{
		Path:  path,
		Hash:  Hash(content),
		MTime: updatedAt.UTC(),
		Size:  int64(len(content)),
	}
}

// HasFileChanged reports whether two fingerprints differ in content
func HasFileChanged(a, b domain.FileState) bool {
	return a.Hash != b.Hash
}
