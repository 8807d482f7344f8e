// Use of this software is governed by an Apache 2.0
// licence which can be found in the license file

// This file implements the record lock manager. Records are identified by
// their node id. The lock table is split into shards chosen by hashing the
// id; each shard is protected by its own mutex which is never held while a
// requester waits.

package txbtree

import (
	"encoding/binary"
	"fmt"
	"sync"
	"time"

	"txbtree/common"

	"github.com/cespare/xxhash/v2"
	"github.com/cockroachdb/errors"
	"github.com/golang/glog"
)

// errRangeRestart -- a range lock request ran into an insert lock on the
// same record. The operation must start over from its search since the
// range it was about to lock has changed.
var errRangeRestart = errors.New("range restart")

type lockConflict int

const (
	conflictAllow lockConflict = iota
	conflictBlock
	conflictRestart
)

// conflictMatrix[requested][held]
var conflictMatrix = [...][6]lockConflict{
	common.LockNone: {},
	common.LockRead: {
		common.LockWrite:      conflictBlock,
		common.LockRangeWrite: conflictBlock,
	},
	common.LockWrite: {
		common.LockRead:       conflictBlock,
		common.LockWrite:      conflictBlock,
		common.LockRangeRead:  conflictBlock,
		common.LockRangeWrite: conflictBlock,
	},
	common.LockRangeRead: {
		common.LockWrite:       conflictBlock,
		common.LockRangeWrite:  conflictBlock,
		common.LockRangeInsert: conflictRestart,
	},
	common.LockRangeWrite: {
		common.LockRead:        conflictBlock,
		common.LockWrite:       conflictBlock,
		common.LockRangeRead:   conflictBlock,
		common.LockRangeWrite:  conflictBlock,
		common.LockRangeInsert: conflictRestart,
	},
	common.LockRangeInsert: {
		common.LockRangeRead:  conflictBlock,
		common.LockRangeWrite: conflictBlock,
	},
}

// upgradeLock -- the lock a locker holding 'held' ends up with when it asks
// for 'req', and whether that is a change.
func upgradeLock(held, req common.LockType) (common.LockType, bool) {
	if req == held || req == common.LockNone {
		return held, false
	}
	switch held {
	case common.LockRead:
		if req == common.LockRangeInsert {
			return held, false
		}
		return req, true
	case common.LockWrite:
		if req == common.LockRangeRead || req == common.LockRangeWrite {
			return common.LockRangeWrite, true
		}
	case common.LockRangeRead:
		if req == common.LockWrite || req == common.LockRangeWrite {
			return common.LockRangeWrite, true
		}
	case common.LockRangeInsert:
		return req, true
	}
	return held, false
}

func demotedLockType(lt common.LockType) common.LockType {
	switch lt {
	case common.LockWrite:
		return common.LockRead
	case common.LockRangeWrite:
		return common.LockRangeRead
	}
	return lt
}

type lockWaiter struct {
	lockerID  int64
	lockType  common.LockType
	promotion bool
	restart   bool
	done      chan struct{}
	grant     common.LockGrantType
}

type lockEntry struct {
	owners  map[int64]common.LockType
	waiters []*lockWaiter
}

// conflict -- how a request for lt by lockerID fares against the other owners.
func (le *lockEntry) conflict(lt common.LockType, lockerID int64) lockConflict {
	ret := conflictAllow
	for owner, held := range le.owners {
		if owner == lockerID {
			continue
		}
		switch conflictMatrix[lt][held] {
		case conflictBlock:
			return conflictBlock
		case conflictRestart:
			ret = conflictRestart
		}
	}
	return ret
}

func (le *lockEntry) removeWaiter(w *lockWaiter) {
	for i, lw := range le.waiters {
		if lw == w {
			le.waiters = append(le.waiters[:i], le.waiters[i+1:]...)
			return
		}
	}
}

type lockTable struct {
	mu    sync.Mutex
	locks map[int64]*lockEntry
}

// LockStats -- snapshot of the lock tables.
type LockStats struct {
	Locks   int
	Owners  int
	Waiters int
}

// LockManager -- record lock tables of one environment.
type LockManager struct {
	env     *Environment
	tables  []lockTable
	timeout time.Duration
}

func newLockManager(env *Environment) *LockManager {
	lm := &LockManager{
		env:     env,
		tables:  make([]lockTable, env.cfg.LockTables),
		timeout: env.cfg.LockTimeout,
	}
	for i := range lm.tables {
		lm.tables[i].locks = make(map[int64]*lockEntry)
	}
	return lm
}

func (lm *LockManager) tableIndex(nodeID int64) int {
	if len(lm.tables) == 1 {
		return 0
	}
	var b [8]byte
	binary.LittleEndian.PutUint64(b[:], uint64(nodeID))
	return int(xxhash.Sum64(b[:]) % uint64(len(lm.tables)))
}

// lock -- request lt on nodeID for lockerID. With nonBlocking a conflicting
// request returns GrantDenied instead of waiting.
func (lm *LockManager) lock(nodeID, lockerID int64, lt common.LockType,
	nonBlocking bool) (common.LockGrantType, error) {

	if lt == common.LockNone {
		return common.GrantNoneNeeded, nil
	}
	ti := lm.tableIndex(nodeID)
	t := &lm.tables[ti]
	t.mu.Lock()
	le, ok := t.locks[nodeID]
	if !ok {
		le = &lockEntry{owners: make(map[int64]common.LockType, 1)}
		t.locks[nodeID] = le
		lm.env.budget.UpdateLockMemoryUsage(lockOverhead, ti)
	}
	reqType := lt
	held, isOwner := le.owners[lockerID]
	if isOwner {
		newType, upgrade := upgradeLock(held, lt)
		if !upgrade {
			t.mu.Unlock()
			return common.GrantExisting, nil
		}
		reqType = newType
	}

	c := le.conflict(reqType, lockerID)
	if c == conflictAllow && (isOwner || len(le.waiters) == 0) {
		le.owners[lockerID] = reqType
		t.mu.Unlock()
		if isOwner {
			return common.GrantPromotion, nil
		}
		lm.env.budget.UpdateLockMemoryUsage(lockInfoOverhead, ti)
		return common.GrantNew, nil
	}
	if nonBlocking {
		lm.maybeRemove(t, ti, nodeID, le)
		t.mu.Unlock()
		return common.GrantDenied, nil
	}

	w := &lockWaiter{
		lockerID:  lockerID,
		lockType:  reqType,
		promotion: isOwner,
		restart:   c == conflictRestart,
		done:      make(chan struct{}),
	}
	le.waiters = append(le.waiters, w)
	t.mu.Unlock()

	lm.env.metrics.lockWaits.Inc()
	start := time.Now()
	var expired <-chan time.Time
	if lm.timeout > 0 {
		timer := time.NewTimer(lm.timeout)
		defer timer.Stop()
		expired = timer.C
	}
	select {
	case <-w.done:
	case <-expired:
		t.mu.Lock()
		select {
		case <-w.done:
			t.mu.Unlock()
		default:
			le.removeWaiter(w)
			lm.processWaiters(le, ti)
			lm.maybeRemove(t, ti, nodeID, le)
			t.mu.Unlock()
			lm.env.metrics.lockTimeouts.Inc()
			glog.V(1).Infof("locker %d timed out waiting for %s lock on %d", lockerID, lt, nodeID)
			return common.GrantDenied, errors.Wrapf(common.ErrLockTimeout,
				"%s lock on record %d, locker %d, after %s", lt, nodeID, lockerID, lm.timeout)
		}
	}
	lm.env.metrics.lockWaitDuration.UpdateDuration(start)
	return w.grant, nil
}

// processWaiters -- grant whatever queued requests no longer conflict.
// The table mutex is held.
func (lm *LockManager) processWaiters(le *lockEntry, ti int) {
	remaining := le.waiters[:0]
	for _, w := range le.waiters {
		if le.conflict(w.lockType, w.lockerID) != conflictAllow {
			remaining = append(remaining, w)
			continue
		}
		switch {
		case w.restart:
			w.grant = common.GrantWaitRestart
		case w.promotion:
			le.owners[w.lockerID] = w.lockType
			w.grant = common.GrantWaitPromotion
		default:
			le.owners[w.lockerID] = w.lockType
			lm.env.budget.UpdateLockMemoryUsage(lockInfoOverhead, ti)
			w.grant = common.GrantWaitNew
		}
		close(w.done)
	}
	for i := len(remaining); i < len(le.waiters); i++ {
		le.waiters[i] = nil
	}
	le.waiters = remaining
}

func (lm *LockManager) maybeRemove(t *lockTable, ti int, nodeID int64, le *lockEntry) {
	if len(le.owners) == 0 && len(le.waiters) == 0 {
		delete(t.locks, nodeID)
		lm.env.budget.UpdateLockMemoryUsage(-lockOverhead, ti)
	}
}

// release -- drop lockerID's lock on nodeID. Returns false if it held none.
func (lm *LockManager) release(nodeID, lockerID int64) bool {
	ti := lm.tableIndex(nodeID)
	t := &lm.tables[ti]
	t.mu.Lock()
	defer t.mu.Unlock()
	le, ok := t.locks[nodeID]
	if !ok {
		return false
	}
	if _, ok := le.owners[lockerID]; !ok {
		return false
	}
	delete(le.owners, lockerID)
	lm.env.budget.UpdateLockMemoryUsage(-lockInfoOverhead, ti)
	lm.processWaiters(le, ti)
	lm.maybeRemove(t, ti, nodeID, le)
	return true
}

// demote -- downgrade a write lock to the matching read lock.
func (lm *LockManager) demote(nodeID, lockerID int64) common.LockType {
	ti := lm.tableIndex(nodeID)
	t := &lm.tables[ti]
	t.mu.Lock()
	defer t.mu.Unlock()
	le, ok := t.locks[nodeID]
	if !ok {
		return common.LockNone
	}
	held, ok := le.owners[lockerID]
	if !ok {
		return common.LockNone
	}
	le.owners[lockerID] = demotedLockType(held)
	lm.processWaiters(le, ti)
	return le.owners[lockerID]
}

// ownedLockType -- the lock lockerID holds on nodeID, LockNone if none.
func (lm *LockManager) ownedLockType(nodeID, lockerID int64) common.LockType {
	t := &lm.tables[lm.tableIndex(nodeID)]
	t.mu.Lock()
	defer t.mu.Unlock()
	if le, ok := t.locks[nodeID]; ok {
		return le.owners[lockerID]
	}
	return common.LockNone
}

func (lm *LockManager) Stats() LockStats {
	var st LockStats
	for i := range lm.tables {
		t := &lm.tables[i]
		t.mu.Lock()
		st.Locks += len(t.locks)
		for _, le := range t.locks {
			st.Owners += len(le.owners)
			st.Waiters += len(le.waiters)
		}
		t.mu.Unlock()
	}
	return st
}

func (st LockStats) String() string {
	return fmt.Sprintf("locks: %d, owners: %d, waiters: %d", st.Locks, st.Owners, st.Waiters)
}
