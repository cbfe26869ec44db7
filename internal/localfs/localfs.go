// Package localfs is the local replica: path-safe file I/O under a sync root
// and the tracked-file scan.
package localfs

import (
	"context"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strings"

	"github.com/Ning0612/vaultsync/internal/core/checksum"
	"github.com/Ning0612/vaultsync/internal/domain"
	"github.com/Ning0612/vaultsync/internal/ignore"
)

// TempSuffix marks in-flight atomic writes; the default ignore set skips it
const TempSuffix = ".vaultsync.tmp"

// FS reads and writes files relative to a sync root
type FS struct {
	root string
	calc checksum.Calculator
}

// New opens the local replica at root, creating the directory if needed
func New(root string) (*FS, error) {
	absRoot, err := filepath.Abs(root)
	if err != nil {
		return nil, err
	}

	info, err := os.Stat(absRoot)
	switch {
	case errors.Is(err, os.ErrNotExist):
		if err := os.MkdirAll(absRoot, 0755); err != nil {
			return nil, mapError(err)
		}
	case err != nil:
		return nil, mapError(err)
	case !info.IsDir():
		return nil, fmt.Errorf("%s: %w", absRoot, domain.ErrNotFile)
	}

	return &FS{root: absRoot, calc: checksum.NewDefaultCalculator()}, nil
}

// Root returns the absolute sync root
func (f *FS) Root() string {
	return f.root
}

// Abs resolves a relative path inside the root. Paths escaping the root are
// rejected with domain.ErrPermissionDenied.
func (f *FS) Abs(relPath string) (string, error) {
	if relPath == "" || relPath == "." {
		return f.root, nil
	}

	relPath = filepath.Clean(filepath.FromSlash(relPath))
	if filepath.IsAbs(relPath) {
		return "", domain.ErrPermissionDenied
	}

	fullPath := filepath.Join(f.root, relPath)
	rel, err := filepath.Rel(f.root, fullPath)
	if err != nil || rel == ".." || strings.HasPrefix(rel, ".."+string(filepath.Separator)) {
		return "", domain.ErrPermissionDenied
	}
	return fullPath, nil
}

// Rel converts an absolute path under the root to its forward-slash relative form
func (f *FS) Rel(absPath string) (string, bool) {
	rel, err := filepath.Rel(f.root, absPath)
	if err != nil || rel == "." || rel == ".." || strings.HasPrefix(rel, ".."+string(filepath.Separator)) {
		return "", false
	}
	return filepath.ToSlash(rel), true
}

// Read returns the content of relPath
func (f *FS) Read(relPath string) ([]byte, error) {
	fullPath, err := f.Abs(relPath)
	if err != nil {
		return nil, err
	}
	info, err := os.Stat(fullPath)
	if err != nil {
		return nil, mapError(err)
	}
	if info.IsDir() {
		return nil, domain.ErrNotFile
	}
	data, err := os.ReadFile(fullPath)
	if err != nil {
		return nil, mapError(err)
	}
	return data, nil
}

// Stat fingerprints relPath and returns its content
func (f *FS) Stat(relPath string) (domain.FileState, []byte, error) {
	if _, err := f.Abs(relPath); err != nil {
		return domain.FileState{}, nil, err
	}
	fs, content, err := checksum.BuildFileState(f.root, relPath)
	if err != nil {
		return domain.FileState{}, nil, mapError(err)
	}
	return fs, content, nil
}

// Exists reports whether relPath is a regular file
func (f *FS) Exists(relPath string) bool {
	fullPath, err := f.Abs(relPath)
	if err != nil {
		return false
	}
	info, err := os.Stat(fullPath)
	return err == nil && !info.IsDir()
}

// Write replaces relPath atomically, creating parent directories
func (f *FS) Write(relPath string, content []byte) error {
	fullPath, err := f.Abs(relPath)
	if err != nil {
		return err
	}

	if err := os.MkdirAll(filepath.Dir(fullPath), 0755); err != nil {
		return mapError(err)
	}

	tempPath := fullPath + TempSuffix
	if err := os.WriteFile(tempPath, content, 0644); err != nil {
		os.Remove(tempPath)
		return mapError(err)
	}
	if err := os.Rename(tempPath, fullPath); err != nil {
		os.Remove(tempPath)
		return mapError(err)
	}
	return nil
}

// Delete removes relPath
func (f *FS) Delete(relPath string) error {
	fullPath, err := f.Abs(relPath)
	if err != nil {
		return err
	}
	return mapError(os.Remove(fullPath))
}

// Rename moves oldPath to newPath inside the root
func (f *FS) Rename(oldPath, newPath string) error {
	from, err := f.Abs(oldPath)
	if err != nil {
		return err
	}
	to, err := f.Abs(newPath)
	if err != nil {
		return err
	}
	if err := os.MkdirAll(filepath.Dir(to), 0755); err != nil {
		return mapError(err)
	}
	return mapError(os.Rename(from, to))
}

// Scan fingerprints every tracked file under the root. Directories matched by
// the ignore set are pruned without being read. ext filters by file extension
// (".md"); empty tracks every file. Files that cannot be fingerprinted are left
// out of the result and reported in failed; only an unreadable root or a
// cancelled ctx stop the walk.
func (f *FS) Scan(ctx context.Context, matcher *ignore.Matcher, ext string) (files map[string]domain.FileState, failed map[string]error, err error) {
	files = make(map[string]domain.FileState)
	failed = make(map[string]error)
	stack := []string{""}

	for len(stack) > 0 {
		if err := ctx.Err(); err != nil {
			return nil, nil, err
		}

		dir := stack[len(stack)-1]
		stack = stack[:len(stack)-1]

		fullDir, err := f.Abs(dir)
		if err != nil {
			return nil, nil, err
		}
		entries, err := os.ReadDir(fullDir)
		if err != nil {
			if dir == "" {
				return nil, nil, mapError(err)
			}
			// subtree vanished or unreadable mid-scan
			continue
		}

		for _, entry := range entries {
			rel := entry.Name()
			if dir != "" {
				rel = dir + "/" + entry.Name()
			}

			if entry.IsDir() {
				if !matcher.ShouldPruneDir(rel) {
					stack = append(stack, rel)
				}
				continue
			}
			if !entry.Type().IsRegular() {
				continue
			}
			if !IsTracked(rel, ext) || matcher.Match(rel) {
				continue
			}

			fs, err := f.fingerprint(ctx, rel)
			switch {
			case err == nil:
				files[rel] = fs
			case errors.Is(err, domain.ErrNotFound):
			case ctx.Err() != nil:
				return nil, nil, ctx.Err()
			default:
				failed[rel] = fmt.Errorf("failed to fingerprint %s: %w", rel, err)
			}
		}
	}
	return files, failed, nil
}

func (f *FS) fingerprint(ctx context.Context, relPath string) (domain.FileState, error) {
	fullPath, err := f.Abs(relPath)
	if err != nil {
		return domain.FileState{}, err
	}

	file, err := os.Open(fullPath)
	if err != nil {
		return domain.FileState{}, mapError(err)
	}
	defer file.Close()

	info, err := file.Stat()
	if err != nil {
		return domain.FileState{}, mapError(err)
	}

	hash, err := f.calc.Calculate(ctx, file)
	if err != nil {
		return domain.FileState{}, err
	}

	return domain.FileState{
		Path:  relPath,
		Hash:  hash,
		MTime: info.ModTime().UTC(),
		Size:  info.Size(),
	}, nil
}

// IsTracked reports whether relPath carries the tracked extension
func IsTracked(relPath, ext string) bool {
	if ext == "" {
		return true
	}
	return strings.EqualFold(filepath.Ext(relPath), ext)
}

// mapError converts OS errors to domain errors
func mapError(err error) error {
	if err == nil {
		return nil
	}
	switch {
	case errors.Is(err, os.ErrNotExist):
		return fmt.Errorf("%w: %v", domain.ErrNotFound, err)
	case errors.Is(err, os.ErrPermission):
		return fmt.Errorf("%w: %v", domain.ErrPermissionDenied, err)
	case errors.Is(err, os.ErrExist):
		return fmt.Errorf("%w: %v", domain.ErrAlreadyExists, err)
	}
	return err
}
