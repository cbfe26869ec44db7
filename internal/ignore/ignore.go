// Package ignore decides which relative paths are excluded from sync.
package ignore

import (
	"path"
	"path/filepath"
	"strings"

	gitignore "github.com/sabhiram/go-gitignore"
)

// StateDirName is the per-pair directory the tool keeps inside a sync root
const StateDirName = ".vaultsync"

// DefaultPatterns returns the patterns every sync pair starts with
func DefaultPatterns() []string {
	return []string{
		".git/",
		".svn/",
		".hg/",
		StateDirName + "/",
		".DS_Store",
		"._*",
		"Thumbs.db",
		"desktop.ini",
		"*.tmp",
		"*.swp",
		"*~",
		".#*",
		"*.vaultsync.tmp",
	}
}

// ShouldIgnore reports whether relPath matches any of patterns. It compiles
// patterns on every call; use a Matcher for repeated checks.
func ShouldIgnore(relPath string, patterns []string) bool {
	return NewExact(patterns).Match(relPath)
}

// Matcher binds a compiled pattern list for repeated checks.
//
// A directory pattern ("dir/") matches the directory itself, anything below it
// when it is the leading segment, and any path whose basename is the directory
// name. Every other pattern follows .gitignore rules: without a slash it
// matches at any depth, and a match on a directory covers its contents.
type Matcher struct {
	patterns []string
	dirs     []string
	rules    *gitignore.GitIgnore
}

// New creates a matcher over the default patterns plus extra
func New(extra []string) *Matcher {
	return NewExact(append(DefaultPatterns(), extra...))
}

// NewExact creates a matcher over exactly the given patterns
func NewExact(patterns []string) *Matcher {
	m := &Matcher{}
	var lines []string
	for _, p := range patterns {
		p = strings.TrimSpace(p)
		if p == "" {
			continue
		}
		m.patterns = append(m.patterns, p)
		if strings.HasSuffix(p, "/") {
			m.dirs = append(m.dirs, strings.TrimSuffix(p, "/"))
			continue
		}
		lines = append(lines, p)
	}
	if len(lines) > 0 {
		m.rules = gitignore.CompileIgnoreLines(lines...)
	}
	return m
}

// Match reports whether relPath is excluded
func (m *Matcher) Match(relPath string) bool {
	if m == nil {
		return false
	}
	relPath = strings.TrimPrefix(path.Clean("/"+filepath.ToSlash(relPath)), "/")
	if relPath == "" {
		return false
	}

	base := path.Base(relPath)
	for _, dir := range m.dirs {
		if relPath == dir || strings.HasPrefix(relPath, dir+"/") || base == dir {
			return true
		}
	}
	return m.rules != nil && m.rules.MatchesPath(relPath)
}

// ShouldPruneDir reports whether a whole directory subtree can be skipped
func (m *Matcher) ShouldPruneDir(relDir string) bool {
	if m == nil || relDir == "" || relDir == "." {
		return false
	}
	return m.Match(relDir)
}

// Patterns returns a copy of the active pattern list
func (m *Matcher) Patterns() []string {
	return append([]string{}, m.patterns...)
}
