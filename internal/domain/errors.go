package domain

import (
	"context"
	"errors"
)

// Adapter errors - 儲存適配器層錯誤
var (
	// ErrNotFound indicates the requested resource does not exist
	ErrNotFound = errors.New("resource not found")

	// ErrAlreadyExists indicates the resource already exists
	ErrAlreadyExists = errors.New("resource already exists")

	// ErrPermissionDenied indicates insufficient permissions
	ErrPermissionDenied = errors.New("permission denied")

	// ErrNotFile indicates expected a file but got a directory
	ErrNotFile = errors.New("not a file")

	// ErrQuotaExceeded indicates storage quota has been exceeded
	ErrQuotaExceeded = errors.New("quota exceeded")

	// ErrRateLimited indicates the remote asked us to slow down
	ErrRateLimited = errors.New("rate limit exceeded")

	// ErrNetworkError indicates a network-related failure
	ErrNetworkError = errors.New("network error")

	// ErrTimeout indicates operation timed out
	ErrTimeout = errors.New("operation timed out")
)

// Sync errors - 同步邏輯層錯誤
var (
	// ErrSyncConflict indicates an unresolved sync conflict
	ErrSyncConflict = errors.New("sync conflict")

	// ErrInvalidSyncConfig indicates a malformed sync pair
	ErrInvalidSyncConfig = errors.New("invalid sync config")

	// ErrSyncInProgress indicates another sync is already running
	ErrSyncInProgress = errors.New("sync already in progress")
)

// Config errors - 設定檔錯誤
var (
	// ErrConfigNotFound indicates config file not found
	ErrConfigNotFound = errors.New("config file not found")

	// ErrConfigInvalid indicates config file is malformed
	ErrConfigInvalid = errors.New("invalid config")

	// ErrSyncConfigNotFound indicates no sync pair has the requested id
	ErrSyncConfigNotFound = errors.New("sync config not found")

	// ErrDuplicateSyncPair indicates the (vault, local path) pair is already configured
	ErrDuplicateSyncPair = errors.New("sync pair already configured")
)

// Daemon errors
var (
	// ErrDaemonRunning indicates a live daemon process is already recorded
	ErrDaemonRunning = errors.New("daemon is already running")

	// ErrDaemonNotRunning indicates no live daemon process is recorded
	ErrDaemonNotRunning = errors.New("daemon is not running")
)

// IsRetryable reports whether a transfer error is worth another attempt.
// Anything not known to be permanent is treated as transient; permission and
// quota errors never are.
func IsRetryable(err error) bool {
	if err == nil {
		return false
	}
	if IsFatalForItem(err) {
		return false
	}
	if errors.Is(err, ErrNotFound) || errors.Is(err, ErrNotFile) || errors.Is(err, context.Canceled) {
		return false
	}
	return true
}

// IsFatalForItem reports whether err is a permission or quota class error.
func IsFatalForItem(err error) bool {
	return errors.Is(err, ErrPermissionDenied) || errors.Is(err, ErrQuotaExceeded)
}
