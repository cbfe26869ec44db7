// Package gdrive serves vaults stored as Google Drive folders. A vault id is
// the folder path below My Drive, e.g. "/Vaults/notes".
package gdrive

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"io"
	"net/http"
	"path"
	"strings"
	"sync"
	"time"

	"golang.org/x/oauth2"
	"google.golang.org/api/drive/v3"
	"google.golang.org/api/googleapi"
	"google.golang.org/api/option"

	"github.com/Ning0612/vaultsync/internal/domain"
	"github.com/Ning0612/vaultsync/internal/vault"
)

const (
	// MimeTypeFolder is the MIME type for Google Drive folders
	MimeTypeFolder = "application/vnd.google-apps.folder"
	// PageSize is the number of files to fetch per request
	PageSize = 100
)

// Client implements vault.Client on top of the Drive v3 API
type Client struct {
	service *drive.Service
	cache   *idCache // full path -> file or folder ID
}

// idCache caches path lookups with thread-safe access
type idCache struct {
	mu    sync.RWMutex
	paths map[string]string
}

func newIDCache() *idCache {
	return &idCache{paths: make(map[string]string)}
}

func (c *idCache) get(p string) (string, bool) {
	c.mu.RLock()
	defer c.mu.RUnlock()
	id, ok := c.paths[p]
	return id, ok
}

func (c *idCache) set(p, id string) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.paths[p] = id
}

func (c *idCache) delete(p string) {
	c.mu.Lock()
	defer c.mu.Unlock()
	delete(c.paths, p)
}

// New creates a Drive client from a stored OAuth token
func New(ctx context.Context, clientID, clientSecret, tokenPath string) (*Client, error) {
	auth := NewAuthenticator(clientID, clientSecret, tokenPath)

	token, err := auth.Token(ctx)
	if err != nil {
		return nil, err
	}
	return NewWithHTTPClient(ctx, auth.Config().Client(ctx, token))
}

// NewWithToken creates a client with an existing token
func NewWithToken(ctx context.Context, token *oauth2.Token, oauthConfig *oauth2.Config) (*Client, error) {
	return NewWithHTTPClient(ctx, oauthConfig.Client(ctx, token))
}

// NewWithHTTPClient creates a client over an already authenticated HTTP client
func NewWithHTTPClient(ctx context.Context, hc *http.Client, opts ...option.ClientOption) (*Client, error) {
	opts = append([]option.ClientOption{option.WithHTTPClient(hc)}, opts...)
	service, err := drive.NewService(ctx, opts...)
	if err != nil {
		return nil, fmt.Errorf("failed to create Drive service: %w", err)
	}
	return &Client{service: service, cache: newIDCache()}, nil
}

// normalizeRoot turns a vault id into a clean absolute folder path
func normalizeRoot(root string) string {
	root = strings.TrimSpace(root)
	if root == "" || root == "/" {
		return ""
	}
	if !strings.HasPrefix(root, "/") {
		root = "/" + root
	}
	return strings.TrimSuffix(root, "/")
}

// joinPath joins a document path with the vault root, rejecting traversal
func joinPath(vaultID, relPath string) (string, error) {
	root := normalizeRoot(vaultID)
	if relPath == "" || relPath == "." {
		return root, nil
	}

	cleanPath := path.Clean(relPath)
	if path.IsAbs(cleanPath) || cleanPath == ".." || strings.HasPrefix(cleanPath, "../") {
		return "", domain.ErrPermissionDenied
	}

	fullPath := path.Join("/", root, cleanPath)
	if root != "" && !strings.HasPrefix(fullPath, root+"/") {
		return "", domain.ErrPermissionDenied
	}
	return fullPath, nil
}

// List walks the vault folder tree and returns every non-folder file
func (c *Client) List(ctx context.Context, vaultID string) ([]vault.Entry, error) {
	root := normalizeRoot(vaultID)
	rootID, err := c.getFileID(ctx, root)
	if err != nil {
		if errors.Is(err, domain.ErrNotFound) {
			// a vault that was never written to is empty
			return nil, nil
		}
		return nil, err
	}

	type folder struct{ id, rel string }
	stack := []folder{{id: rootID}}
	var entries []vault.Entry

	for len(stack) > 0 {
		cur := stack[len(stack)-1]
		stack = stack[:len(stack)-1]

		pageToken := ""
		for {
			call := c.service.Files.List().
				Q(fmt.Sprintf("'%s' in parents and trashed = false", cur.id)).
				PageSize(PageSize).
				Fields("nextPageToken, files(id, name, mimeType, size, modifiedTime)")
			if pageToken != "" {
				call = call.PageToken(pageToken)
			}

			list, err := call.Context(ctx).Do()
			if err != nil {
				return nil, mapError(err)
			}

			for _, f := range list.Files {
				rel := f.Name
				if cur.rel != "" {
					rel = cur.rel + "/" + f.Name
				}
				c.cache.set(path.Join("/", root, rel), f.Id)

				if f.MimeType == MimeTypeFolder {
					stack = append(stack, folder{id: f.Id, rel: rel})
					continue
				}
				entries = append(entries, vault.Entry{
					Path:           rel,
					SizeBytes:      f.Size,
					FileModifiedAt: parseTime(f.ModifiedTime),
				})
			}

			pageToken = list.NextPageToken
			if pageToken == "" {
				break
			}
		}
	}
	return entries, nil
}

// Get downloads one document with its modification time
func (c *Client) Get(ctx context.Context, vaultID, relPath string) (*vault.Document, error) {
	fullPath, err := joinPath(vaultID, relPath)
	if err != nil {
		return nil, err
	}
	fileID, err := c.getFileID(ctx, fullPath)
	if err != nil {
		return nil, err
	}

	meta, err := c.service.Files.Get(fileID).Fields("id, mimeType, modifiedTime").Context(ctx).Do()
	if err != nil {
		return nil, c.forget(fullPath, mapError(err))
	}
	if meta.MimeType == MimeTypeFolder {
		return nil, domain.ErrNotFile
	}

	resp, err := c.service.Files.Get(fileID).Context(ctx).Download()
	if err != nil {
		return nil, c.forget(fullPath, mapError(err))
	}
	defer resp.Body.Close()

	content, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, fmt.Errorf("%w: %v", domain.ErrNetworkError, err)
	}

	return &vault.Document{Path: relPath, Content: content, UpdatedAt: parseTime(meta.ModifiedTime)}, nil
}

// Put creates or updates one document, creating parent folders as needed
func (c *Client) Put(ctx context.Context, vaultID, relPath string, content []byte) error {
	fullPath, err := joinPath(vaultID, relPath)
	if err != nil {
		return err
	}

	existingID, err := c.getFileID(ctx, fullPath)
	if err == nil {
		_, err := c.service.Files.Update(existingID, &drive.File{}).
			Context(ctx).
			Media(bytes.NewReader(content)).
			Do()
		return c.forget(fullPath, mapError(err))
	}
	if !errors.Is(err, domain.ErrNotFound) {
		return err
	}

	parentID, err := c.getOrCreateFolderID(ctx, path.Dir(fullPath))
	if err != nil {
		return err
	}

	created, err := c.service.Files.Create(&drive.File{
		Name:    path.Base(fullPath),
		Parents: []string{parentID},
	}).Fields("id").Context(ctx).Media(bytes.NewReader(content)).Do()
	if err != nil {
		return mapError(err)
	}
	c.cache.set(fullPath, created.Id)
	return nil
}

// Delete removes one document
func (c *Client) Delete(ctx context.Context, vaultID, relPath string) error {
	fullPath, err := joinPath(vaultID, relPath)
	if err != nil {
		return err
	}
	fileID, err := c.getFileID(ctx, fullPath)
	if err != nil {
		return err
	}

	if err := c.service.Files.Delete(fileID).Context(ctx).Do(); err != nil {
		return c.forget(fullPath, mapError(err))
	}
	c.cache.delete(fullPath)
	return nil
}

// forget drops a cached ID that the API no longer knows
func (c *Client) forget(fullPath string, err error) error {
	if errors.Is(err, domain.ErrNotFound) {
		c.cache.delete(fullPath)
	}
	return err
}

// escapeQueryString escapes special characters in Drive query strings
func escapeQueryString(s string) string {
	s = strings.ReplaceAll(s, "\\", "\\\\")
	s = strings.ReplaceAll(s, "'", "\\'")
	return s
}

// getFileID returns the ID of a file or folder at the given full path
func (c *Client) getFileID(ctx context.Context, fullPath string) (string, error) {
	if fullPath == "" {
		return "root", nil
	}
	if id, ok := c.cache.get(fullPath); ok {
		return id, nil
	}

	parts := strings.Split(strings.TrimPrefix(fullPath, "/"), "/")
	currentID := "root"

	for i, part := range parts {
		if part == "" {
			continue
		}
		partialPath := "/" + strings.Join(parts[:i+1], "/")
		if id, ok := c.cache.get(partialPath); ok {
			currentID = id
			continue
		}

		query := fmt.Sprintf("name = '%s' and '%s' in parents and trashed = false", escapeQueryString(part), currentID)
		list, err := c.service.Files.List().
			Q(query).
			PageSize(1).
			Fields("files(id, mimeType)").
			Context(ctx).Do()
		if err != nil {
			return "", mapError(err)
		}
		if len(list.Files) == 0 {
			return "", domain.ErrNotFound
		}

		currentID = list.Files[0].Id
		c.cache.set(partialPath, currentID)
	}
	return currentID, nil
}

// getOrCreateFolderID returns the ID of a folder, creating it if necessary
func (c *Client) getOrCreateFolderID(ctx context.Context, fullPath string) (string, error) {
	if fullPath == "" || fullPath == "/" {
		return "root", nil
	}
	if id, ok := c.cache.get(fullPath); ok {
		return id, nil
	}

	parts := strings.Split(strings.TrimPrefix(fullPath, "/"), "/")
	currentID := "root"

	for i, part := range parts {
		if part == "" {
			continue
		}
		partialPath := "/" + strings.Join(parts[:i+1], "/")
		if id, ok := c.cache.get(partialPath); ok {
			currentID = id
			continue
		}

		query := fmt.Sprintf("name = '%s' and '%s' in parents and mimeType = '%s' and trashed = false",
			escapeQueryString(part), currentID, MimeTypeFolder)
		list, err := c.service.Files.List().
			Q(query).
			PageSize(1).
			Fields("files(id)").
			Context(ctx).Do()
		if err != nil {
			return "", mapError(err)
		}

		if len(list.Files) > 0 {
			currentID = list.Files[0].Id
		} else {
			created, err := c.service.Files.Create(&drive.File{
				Name:     part,
				MimeType: MimeTypeFolder,
				Parents:  []string{currentID},
			}).Fields("id").Context(ctx).Do()
			if err != nil {
				return "", mapError(err)
			}
			currentID = created.Id
		}
		c.cache.set(partialPath, currentID)
	}
	return currentID, nil
}

func parseTime(s string) time.Time {
	if s == "" {
		return time.Time{}
	}
	t, err := time.Parse(time.RFC3339, s)
	if err != nil {
		return time.Time{}
	}
	return t.UTC()
}

// quota and rate-limit reasons reported inside 403 responses
var (
	quotaReasons = map[string]bool{"storageQuotaExceeded": true, "quotaExceeded": true, "teamDriveFileLimitExceeded": true}
	rateReasons  = map[string]bool{"rateLimitExceeded": true, "userRateLimitExceeded": true}
)

// mapError converts Google API errors to domain errors
func mapError(err error) error {
	if err == nil {
		return nil
	}

	var apiErr *googleapi.Error
	if errors.As(err, &apiErr) {
		for _, item := range apiErr.Errors {
			if quotaReasons[item.Reason] {
				return fmt.Errorf("%w: %s", domain.ErrQuotaExceeded, item.Message)
			}
			if rateReasons[item.Reason] {
				return fmt.Errorf("%w: %s", domain.ErrRateLimited, item.Message)
			}
		}
		switch {
		case apiErr.Code == 404:
			return domain.ErrNotFound
		case apiErr.Code == 401 || apiErr.Code == 403:
			return domain.ErrPermissionDenied
		case apiErr.Code == 409:
			return domain.ErrAlreadyExists
		case apiErr.Code == 429:
			return fmt.Errorf("%w: %v", domain.ErrRateLimited, err)
		case apiErr.Code >= 500:
			return fmt.Errorf("%w: %v", domain.ErrNetworkError, err)
		}
	}

	if errors.Is(err, context.DeadlineExceeded) {
		return fmt.Errorf("%w: %v", domain.ErrTimeout, err)
	}
	if strings.Contains(err.Error(), "notFound") {
		return domain.ErrNotFound
	}
	return err
}

var _ vault.Client = (*Client)(nil)
