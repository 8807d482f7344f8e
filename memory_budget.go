// Use of this software is governed by an Apache 2.0
// licence which can be found in the license file

// This file implements the memory budget: running totals of the memory used by
// the tree, the lock tables, transactions and administrative structures,
// compared against the configured cache size.

package txbtree

import (
	"sync/atomic"

	"github.com/dustin/go-humanize"
	"github.com/golang/glog"
)

// Object overheads, in bytes, of a 64-bit runtime.
const (
	objectOverhead      = 16
	arrayItemOverhead   = 8
	byteArrayOverhead   = 24
	keyOverhead         = 24
	lnOverhead          = 32
	dupCountLNOverhead  = 40
	inFixedOverhead     = 472
	binFixedOverhead    = 528
	dinFixedOverhead    = 536
	dbinFixedOverhead   = 544
	lockOverhead        = 48
	lockInfoOverhead    = 32
	writeLockInfoOverhd = 32
	txnOverhead         = 293
)

// byteArraySize -- memory taken by a byte array of length n.
func byteArraySize(n int) int64 {
	size := int64(byteArrayOverhead)
	if n > 4 {
		size += int64((n-4+7)/8) * 8
	}
	return size
}

// Totals -- running usage per category. Environments with a shared cache
// all add into sharedTotals.
type Totals struct {
	tree  atomic.Int64
	lock  atomic.Int64
	txn   atomic.Int64
	admin atomic.Int64
}

func (t *Totals) cacheUsage() int64 {
	return t.tree.Load() + t.lock.Load() + t.txn.Load() + t.admin.Load()
}

var sharedTotals = &Totals{}

// MemoryBudget -- usage accounting for one environment.
// 'local' always holds this environment's own usage; 'totals' is either
// 'local' or the process wide shared totals, and is what the cache budget is
// compared against.
type MemoryBudget struct {
	local             Totals
	totals            *Totals
	lockUsage         []atomic.Int64
	maxMemory         int64
	criticalThreshold int64
	minTreeUsage      int64
	alert             func()
}

func newMemoryBudget(cfg *EnvironmentConfig, alert func()) *MemoryBudget {
	mb := &MemoryBudget{
		maxMemory:         cfg.MaxMemory,
		criticalThreshold: cfg.MaxMemory * int64(cfg.CriticalPercent) / 100,
		minTreeUsage:      cfg.MinTreeMemory,
		lockUsage:         make([]atomic.Int64, cfg.LockTables),
		alert:             alert,
	}
	if mb.minTreeUsage > mb.maxMemory {
		mb.minTreeUsage = mb.maxMemory
	}
	if cfg.SharedCache {
		mb.totals = sharedTotals
	} else {
		mb.totals = &mb.local
	}
	glog.Infof("memory budget: max %s, critical %s, min tree %s, shared %v",
		humanize.IBytes(uint64(mb.maxMemory)), humanize.IBytes(uint64(mb.criticalThreshold)),
		humanize.IBytes(uint64(mb.minTreeUsage)), cfg.SharedCache)
	return mb
}

func (mb *MemoryBudget) isShared() bool {
	return mb.totals != &mb.local
}

// update -- add delta to the local counter and, with a shared cache, to the
// shared one as well.
func (mb *MemoryBudget) update(local, shared *atomic.Int64, delta int64) bool {
	local.Add(delta)
	if mb.isShared() {
		shared.Add(delta)
	}
	return mb.checkBudget()
}

func (mb *MemoryBudget) checkBudget() bool {
	if mb.totals.cacheUsage() > mb.maxMemory {
		if mb.alert != nil {
			mb.alert()
		}
		return true
	}
	return false
}

// UpdateTreeMemoryUsage -- returns true when the cache is over budget.
func (mb *MemoryBudget) UpdateTreeMemoryUsage(delta int64) bool {
	return mb.update(&mb.local.tree, &mb.totals.tree, delta)
}

// UpdateLockMemoryUsage -- 'table' is the lock table shard being charged.
func (mb *MemoryBudget) UpdateLockMemoryUsage(delta int64, table int) bool {
	mb.lockUsage[table].Add(delta)
	return mb.update(&mb.local.lock, &mb.totals.lock, delta)
}

func (mb *MemoryBudget) UpdateTxnMemoryUsage(delta int64) bool {
	return mb.update(&mb.local.txn, &mb.totals.txn, delta)
}

func (mb *MemoryBudget) UpdateAdminMemoryUsage(delta int64) bool {
	return mb.update(&mb.local.admin, &mb.totals.admin, delta)
}

// CacheMemoryUsage -- the usage compared against the budget; with a shared
// cache this includes every environment sharing it.
func (mb *MemoryBudget) CacheMemoryUsage() int64 {
	return mb.totals.cacheUsage()
}

// TreeMemoryUsage -- this environment's tree usage.
func (mb *MemoryBudget) TreeMemoryUsage() int64 {
	return mb.local.tree.Load()
}

func (mb *MemoryBudget) LockMemoryUsage() int64 {
	return mb.local.lock.Load()
}

func (mb *MemoryBudget) LockTableMemoryUsage(table int) int64 {
	return mb.lockUsage[table].Load()
}

func (mb *MemoryBudget) TxnMemoryUsage() int64 {
	return mb.local.txn.Load()
}

func (mb *MemoryBudget) AdminMemoryUsage() int64 {
	return mb.local.admin.Load()
}

// IsTreeUsageAboveMinimum -- eviction stops at the floor even when the
// cache is over budget.
func (mb *MemoryBudget) IsTreeUsageAboveMinimum() bool {
	return mb.TreeMemoryUsage() > mb.minTreeUsage
}

func (mb *MemoryBudget) MaxMemory() int64 {
	return mb.maxMemory
}

func (mb *MemoryBudget) CacheBudget() int64 {
	return mb.maxMemory
}

func (mb *MemoryBudget) CriticalThreshold() int64 {
	return mb.criticalThreshold
}

// overBudget -- bytes above the cache budget; zero or negative when under.
func (mb *MemoryBudget) overBudget() int64 {
	return mb.CacheMemoryUsage() - mb.CacheBudget()
}

// CalcTreeCacheUsage -- recompute tree usage from the resident nodes. It
// matches TreeMemoryUsage when no node is being modified.
// No latch may be held by the caller.
func (mb *MemoryBudget) CalcTreeCacheUsage(inList *LocalHashMapMemMgr) int64 {
	var total int64
	o := &latchOwner{}
	inList.Range(func(n *node) bool {
		n.latch.Acquire(o)
		total += n.computeMemorySize()
		n.latch.Release(o)
		return true
	})
	return total
}

// close -- take this environment's usage back out of the shared totals.
func (mb *MemoryBudget) close() {
	if !mb.isShared() {
		return
	}
	mb.totals.tree.Add(-mb.local.tree.Load())
	mb.totals.lock.Add(-mb.local.lock.Load())
	mb.totals.txn.Add(-mb.local.txn.Load())
	mb.totals.admin.Add(-mb.local.admin.Load())
}
