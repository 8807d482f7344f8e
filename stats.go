// Use of this software is governed by an Apache 2.0
// licence which can be found in the license file

package txbtree

import (
	"fmt"

	"txbtree/common"

	"github.com/dustin/go-humanize"
)

// TreeStatsAccumulator -- filled in by a cursor scanning a tree: the nodes
// it reaches and the records it passes over.
type TreeStatsAccumulator struct {
	seen map[int64]struct{}

	BINs       int64
	DBINs      int64
	BINSlots   int64
	DBINSlots  int64
	LNs        int64
	DeletedLNs int64
}

func newTreeStatsAccumulator() *TreeStatsAccumulator {
	return &TreeStatsAccumulator{seen: make(map[int64]struct{})}
}

func (acc *TreeStatsAccumulator) incrementLNCount() {
	acc.LNs++
}

func (acc *TreeStatsAccumulator) incrementDeletedLNCount() {
	acc.DeletedLNs++
}

// visitBIN -- count n once, however often the scan comes back to it. n is
// latched.
func (acc *TreeStatsAccumulator) visitBIN(n *node) {
	if _, ok := acc.seen[n.id]; ok {
		return
	}
	acc.seen[n.id] = struct{}{}
	if n.kind == kindDBIN {
		acc.DBINs++
		acc.DBINSlots += int64(n.nEntries())
	} else {
		acc.BINs++
		acc.BINSlots += int64(n.nEntries())
	}
}

func (acc *TreeStatsAccumulator) String() string {
	return fmt.Sprintf("bins: %d (%d slots), dbins: %d (%d slots), records: %d, deleted: %d",
		acc.BINs, acc.BINSlots, acc.DBINs, acc.DBINSlots, acc.LNs, acc.DeletedLNs)
}

// Stats -- walk the database without locking and count its nodes and
// records.
func (db *Database) Stats() (*TreeStatsAccumulator, error) {
	if err := db.checkOpen(); err != nil {
		return nil, err
	}
	acc := newTreeStatsAccumulator()
	err := db.env.dbTree.withCursor(db.impl, func(c *CursorImpl) error {
		c.setTreeStatsAccumulator(acc)
		return scanAll(c, common.LockNone, func(_, _ []byte) bool { return true })
	})
	return acc, err
}

// EnvironmentStats -- snapshot of the cache, the lock tables and the
// daemons of an environment.
type EnvironmentStats struct {
	CacheBytes    int64
	CacheBudget   int64
	TreeBytes     int64
	LockBytes     int64
	TxnBytes      int64
	AdminBytes    int64
	ResidentNodes int
	LatchAcquires int64
	LatchNoWait   int64
	Locks         LockStats
	Evictor       EvictorStats
	Compressor    CompressorStats
	CompressQueue int
}

// Stats -- current statistics of the environment.
func (env *Environment) Stats() EnvironmentStats {
	mb := env.budget
	return EnvironmentStats{
		CacheBytes:    mb.CacheMemoryUsage(),
		CacheBudget:   mb.CacheBudget(),
		TreeBytes:     mb.TreeMemoryUsage(),
		LockBytes:     mb.LockMemoryUsage(),
		TxnBytes:      mb.TxnMemoryUsage(),
		AdminBytes:    mb.AdminMemoryUsage(),
		ResidentNodes: env.inList.Len(),
		LatchAcquires: env.latchStats.Acquires.Load(),
		LatchNoWait:   env.latchStats.NoWaitFails.Load(),
		Locks:         env.lockManager.Stats(),
		Evictor:       env.evictor.Stats(),
		Compressor:    env.compressor.Stats(),
		CompressQueue: env.compressor.QueueLen(),
	}
}

func (st EnvironmentStats) String() string {
	b := func(n int64) string { return humanize.IBytes(uint64(max(n, 0))) }
	return fmt.Sprintf("cache: %s of %s (tree %s, locks %s, txns %s, admin %s), "+
		"resident nodes: %d, latches: %d (%d no-wait failures), %v, "+
		"evictor: %d runs, %d lns, %d bins, %s freed, "+
		"compressor: %d runs, %d slots, %d bins pruned, %d dup trees, %d queued",
		b(st.CacheBytes), b(st.CacheBudget), b(st.TreeBytes), b(st.LockBytes),
		b(st.TxnBytes), b(st.AdminBytes), st.ResidentNodes, st.LatchAcquires,
		st.LatchNoWait, st.Locks, st.Evictor.Runs, st.Evictor.EvictedLNs,
		st.Evictor.EvictedBINs, b(st.Evictor.EvictedBytes), st.Compressor.Runs,
		st.Compressor.CompressedSlots, st.Compressor.PrunedBINs,
		st.Compressor.RemovedDupTrees, st.CompressQueue)
}
