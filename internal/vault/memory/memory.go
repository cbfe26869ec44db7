// Package memory is an in-process vault used by tests and offline runs.
package memory

import (
	"context"
	"fmt"
	"sort"
	"sync"
	"time"

	"github.com/Ning0612/vaultsync/internal/domain"
	"github.com/Ning0612/vaultsync/internal/vault"
)

// Op names a client operation for error injection
type Op string

const (
	OpList   Op = "list"
	OpGet    Op = "get"
	OpPut    Op = "put"
	OpDelete Op = "delete"
)

type doc struct {
	content   []byte
	updatedAt time.Time
}

// FailFunc decides whether a call fails. It sees the operation, the path
// and the 1-based count of calls made for that operation so far.
type FailFunc func(op Op, path string, call int) error

// Client is a thread-safe in-memory vault.Client
type Client struct {
	mu     sync.Mutex
	vaults map[string]map[string]doc
	calls  map[Op]int
	fail   FailFunc
	now    func() time.Time
}

// New creates an empty in-memory vault
func New() *Client {
	return &Client{
		vaults: make(map[string]map[string]doc),
		calls:  make(map[Op]int),
		now:    time.Now,
	}
}

// SetClock replaces the time source used for UpdatedAt
func (c *Client) SetClock(now func() time.Time) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.now = now
}

// FailWith installs an error injector; nil removes it
func (c *Client) FailWith(fn FailFunc) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.fail = fn
}

// Calls returns how many times op was invoked
func (c *Client) Calls(op Op) int {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.calls[op]
}

// Seed stores a document directly, bypassing error injection and call counts
func (c *Client) Seed(vaultID, path string, content []byte, updatedAt time.Time) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.vault(vaultID)[path] = doc{content: append([]byte(nil), content...), updatedAt: updatedAt.UTC()}
}

// Content returns a document's bytes for assertions
func (c *Client) Content(vaultID, path string) ([]byte, bool) {
	c.mu.Lock()
	defer c.mu.Unlock()
	d, ok := c.vaults[vaultID][path]
	if !ok {
		return nil, false
	}
	return append([]byte(nil), d.content...), true
}

func (c *Client) vault(vaultID string) map[string]doc {
	v, ok := c.vaults[vaultID]
	if !ok {
		v = make(map[string]doc)
		c.vaults[vaultID] = v
	}
	return v
}

// begin counts the call and consults the injector. Callers hold c.mu.
func (c *Client) begin(op Op, path string) error {
	c.calls[op]++
	if c.fail != nil {
		return c.fail(op, path, c.calls[op])
	}
	return nil
}

// List implements vault.Client
func (c *Client) List(ctx context.Context, vaultID string) ([]vault.Entry, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	c.mu.Lock()
	defer c.mu.Unlock()

	if err := c.begin(OpList, ""); err != nil {
		return nil, err
	}

	entries := make([]vault.Entry, 0, len(c.vaults[vaultID]))
	for p, d := range c.vaults[vaultID] {
		entries = append(entries, vault.Entry{Path: p, SizeBytes: int64(len(d.content)), FileModifiedAt: d.updatedAt})
	}
	sort.Slice(entries, func(i, j int) bool { return entries[i].Path < entries[j].Path })
	return entries, nil
}

// Get implements vault.Client
func (c *Client) Get(ctx context.Context, vaultID, path string) (*vault.Document, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	c.mu.Lock()
	defer c.mu.Unlock()

	if err := c.begin(OpGet, path); err != nil {
		return nil, err
	}
	d, ok := c.vaults[vaultID][path]
	if !ok {
		return nil, fmt.Errorf("%s: %w", path, domain.ErrNotFound)
	}
	return &vault.Document{Path: path, Content: append([]byte(nil), d.content...), UpdatedAt: d.updatedAt}, nil
}

// Put implements vault.Client
func (c *Client) Put(ctx context.Context, vaultID, path string, content []byte) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	c.mu.Lock()
	defer c.mu.Unlock()

	if err := c.begin(OpPut, path); err != nil {
		return err
	}
	c.vault(vaultID)[path] = doc{content: append([]byte(nil), content...), updatedAt: c.now().UTC()}
	return nil
}

// Delete implements vault.Client
func (c *Client) Delete(ctx context.Context, vaultID, path string) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	c.mu.Lock()
	defer c.mu.Unlock()

	if err := c.begin(OpDelete, path); err != nil {
		return err
	}
	v := c.vaults[vaultID]
	if _, ok := v[path]; !ok {
		return fmt.Errorf("%s: %w", path, domain.ErrNotFound)
	}
	delete(v, path)
	return nil
}

var _ vault.Client = (*Client)(nil)
