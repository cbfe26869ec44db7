package daemon

import (
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"time"

	"gopkg.in/natefinch/lumberjack.v2"
)

const (
	// DefaultMaxLogSize triggers rotation of the daemon log on start
	DefaultMaxLogSize int64 = 10 * 1024 * 1024

	// DefaultMaxLogAge is how long rotated copies are kept
	DefaultMaxLogAge = 7 * 24 * time.Hour
)

// RotateLog moves path aside when it is larger than maxSize and removes
// rotated copies older than maxAge. It reports whether a rotation happened.
func RotateLog(path string, maxSize int64, maxAge time.Duration) (bool, error) {
	rotated := false

	info, err := os.Stat(path)
	switch {
	case err == nil && info.Size() > maxSize:
		lj := &lumberjack.Logger{Filename: path}
		if err := lj.Rotate(); err != nil {
			return false, fmt.Errorf("failed to rotate %s: %w", path, err)
		}
		if err := lj.Close(); err != nil {
			return true, fmt.Errorf("failed to close rotated log: %w", err)
		}
		rotated = true
	case err != nil && !errors.Is(err, os.ErrNotExist):
		return false, fmt.Errorf("failed to stat %s: %w", path, err)
	}

	if err := pruneRotated(path, maxAge, time.Now()); err != nil {
		return rotated, err
	}
	return rotated, nil
}

// rotatedCopies lists the backups lumberjack created for path
// (<name>-<timestamp><ext>, optionally gzipped)
func rotatedCopies(path string) ([]string, error) {
	dir := filepath.Dir(path)
	base := filepath.Base(path)
	ext := filepath.Ext(base)
	prefix := strings.TrimSuffix(base, ext) + "-"

	entries, err := os.ReadDir(dir)
	if err != nil {
		if errors.Is(err, os.ErrNotExist) {
			return nil, nil
		}
		return nil, err
	}

	var copies []string
	for _, e := range entries {
		name := e.Name()
		if e.IsDir() || !strings.HasPrefix(name, prefix) {
			continue
		}
		if strings.HasSuffix(name, ext) || strings.HasSuffix(name, ext+".gz") {
			copies = append(copies, filepath.Join(dir, name))
		}
	}
	return copies, nil
}

func pruneRotated(path string, maxAge time.Duration, now time.Time) error {
	if maxAge <= 0 {
		return nil
	}
	copies, err := rotatedCopies(path)
	if err != nil {
		return fmt.Errorf("failed to list rotated logs: %w", err)
	}

	var errs []error
	for _, c := range copies {
		info, err := os.Stat(c)
		if err != nil {
			continue
		}
		if now.Sub(info.ModTime()) > maxAge {
			if err := os.Remove(c); err != nil && !errors.Is(err, os.ErrNotExist) {
				errs = append(errs, err)
			}
		}
	}
	return errors.Join(errs...)
}
