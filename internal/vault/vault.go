// Package vault defines the remote document store consumed by the sync engine.
package vault

import (
	"context"
	"time"
)

// Entry is one document in a vault listing
type Entry struct {
	Path           string
	SizeBytes      int64
	FileModifiedAt time.Time
}

// Document is a fetched document
type Document struct {
	Path      string
	Content   []byte
	UpdatedAt time.Time
}

// Client reaches a remote vault. Paths are relative, forward-slash separated.
// Implementations return domain errors: ErrNotFound, ErrPermissionDenied,
// ErrQuotaExceeded, ErrRateLimited, ErrNetworkError.
type Client interface {
	// List returns every document in the vault
	List(ctx context.Context, vaultID string) ([]Entry, error)

	// Get fetches one document
	Get(ctx context.Context, vaultID, path string) (*Document, error)

	// Put creates or replaces one document
	Put(ctx context.Context, vaultID, path string, content []byte) error

	// Delete removes one document
	Delete(ctx context.Context, vaultID, path string) error
}
