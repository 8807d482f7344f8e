package common

import "github.com/cockroachdb/errors"

// Errors types used.
var (
	ErrNotFound         = errors.New("key not found")
	ErrNotInitialized   = errors.New("cursor not initialized")
	ErrCursorClosed     = errors.New("cursor has been closed")
	ErrInvalidParam     = errors.New("invalid configuration parameter")
	ErrExists           = errors.New("already exists")
	ErrLogReadFailed    = errors.New("failed to read from log")
	ErrLogWriteFailed   = errors.New("failed to write to log")
	ErrLockNotGranted   = errors.New("lock not granted")
	ErrLockTimeout      = errors.New("lock timeout")
	ErrDuplicateChange  = errors.New("can't replace a duplicate with different data")
	ErrNoDuplicates     = errors.New("database is not configured for duplicate data")
	ErrCorruption       = errors.New("tree structure is corrupt")
	ErrEnvironmentClose = errors.New("environment is closed")
	ErrDatabaseNotFound = errors.New("database not found")
	ErrDatabaseExists   = errors.New("database already exists")
	ErrTxnClosed        = errors.New("transaction is closed")
)

// IsLockError -- true for conditions that a caller may retry by aborting its
// transaction: denial in no-wait mode and lock timeout.
func IsLockError(err error) bool {
	return errors.Is(err, ErrLockNotGranted) || errors.Is(err, ErrLockTimeout)
}
