// Package testutil holds helpers shared by package tests.
package testutil

import (
	"math/rand"
	"os"
	"path/filepath"
	"testing"
	"time"
)

// CreateTestFile writes content at root/relPath (forward slashes), creating parents
func CreateTestFile(t *testing.T, root, relPath string, content string) string {
	t.Helper()

	path := filepath.Join(root, filepath.FromSlash(relPath))
	if err := os.MkdirAll(filepath.Dir(path), 0755); err != nil {
		t.Fatalf("failed to create parent dirs: %v", err)
	}
	if err := os.WriteFile(path, []byte(content), 0644); err != nil {
		t.Fatalf("failed to create test file: %v", err)
	}
	return path
}

// ReadTestFile returns the content at root/relPath, or "" when it does not exist
func ReadTestFile(t *testing.T, root, relPath string) string {
	t.Helper()

	data, err := os.ReadFile(filepath.Join(root, filepath.FromSlash(relPath)))
	if err != nil {
		if os.IsNotExist(err) {
			return ""
		}
		t.Fatalf("failed to read test file: %v", err)
	}
	return string(data)
}

// FileExists reports whether root/relPath exists
func FileExists(root, relPath string) bool {
	_, err := os.Stat(filepath.Join(root, filepath.FromSlash(relPath)))
	return err == nil
}

// SetMTime sets both access and modification time of root/relPath
func SetMTime(t *testing.T, root, relPath string, mtime time.Time) {
	t.Helper()

	if err := os.Chtimes(filepath.Join(root, filepath.FromSlash(relPath)), mtime, mtime); err != nil {
		t.Fatalf("failed to set mtime: %v", err)
	}
}

// WaitForCondition waits for a condition to be true with timeout
func WaitForCondition(timeout time.Duration, condition func() bool) bool {
	deadline := time.Now().Add(timeout)
	ticker := time.NewTicker(10 * time.Millisecond)
	defer ticker.Stop()

	for {
		if condition() {
			return true
		}
		if time.Now().After(deadline) {
			return false
		}
		<-ticker.C
	}
}

// AssertEventually asserts that a condition becomes true within timeout
func AssertEventually(t *testing.T, timeout time.Duration, condition func() bool, msgAndArgs ...interface{}) {
	t.Helper()

	if !WaitForCondition(timeout, condition) {
		if len(msgAndArgs) > 0 {
			t.Fatalf("condition not met within %v: %v", timeout, msgAndArgs[0])
		} else {
			t.Fatalf("condition not met within %v", timeout)
		}
	}
}

// AssertNever asserts that a condition stays false for the whole window
func AssertNever(t *testing.T, window time.Duration, condition func() bool, msg string) {
	t.Helper()

	if WaitForCondition(window, condition) {
		t.Fatalf("condition unexpectedly met within %v: %s", window, msg)
	}
}

// RandomString generates a random string of the given length
func RandomString(length int) string {
	const charset = "abcdefghijklmnopqrstuvwxyzABCDEFGHIJKLMNOPQRSTUVWXYZ0123456789"
	b := make([]byte, length)
	for i := range b {
		b[i] = charset[rand.Intn(len(charset))]
	}
	return string(b)
}
