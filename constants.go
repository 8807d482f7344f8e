package txbtree

import (
	"time"

	"txbtree/common"
)

// Constants used in txbtree package.
const (
	MemMgrPolicyLocalLRU = common.MemMgrPolicyLocalLRU
	MemMgrPolicyLocalMap = common.MemMgrPolicyLocalMap

	LogPolicyPebble   = common.LogPolicyPebble
	LogPolicyADB      = common.LogPolicyADB
	LogPolicyLocalMap = common.LogPolicyLocalMap
)

// Defaults for EnvironmentConfig.
const (
	// MinMaxMemorySize -- smallest cache the environment accepts.
	MinMaxMemorySize int64 = 96 * 1024

	defaultMaxMemory         int64 = 64 << 20
	defaultCriticalPercent         = 5
	defaultMinTreeMemory     int64 = 500 * 1024
	defaultNodeMaxEntries          = 128
	defaultDupNodeMaxEntries       = 128
	defaultLockTables              = 1
	defaultLockTimeout             = 500 * time.Millisecond
	defaultEvictorBatchBytes int64 = 512 * 1024
	defaultLogCacheBytes     int64 = 4 << 20
	defaultDaemonInterval          = 5 * time.Second
)

// OperationStatus -- outcome of a database or cursor operation.
type OperationStatus = common.OperationStatus

// Operation statuses. NotFound and KeyExist are not errors.
const (
	Success  = common.Success
	NotFound = common.NotFound
	KeyEmpty = common.KeyEmpty
	KeyExist = common.KeyExist
)

// LockMode -- how a read locks the records it returns.
type LockMode int

const (
	// LockDefault -- read locks, or range read locks in a serializable
	// transaction.
	LockDefault LockMode = iota
	// LockReadUncommitted -- no lock; uncommitted writes are visible.
	LockReadUncommitted
	// LockRMW -- write locks, for a read followed by an update.
	LockRMW
)
