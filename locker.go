// Use of this software is governed by an Apache 2.0
// licence which can be found in the license file

// This file implements the locker interface, the owner of record locks, and
// the non-transactional locker used by cursors opened without a transaction.

package txbtree

import (
	"sync"

	"txbtree/common"

	"github.com/cockroachdb/errors"
	"github.com/golang/glog"
)

// Locker - owner of record locks. A cursor performs every lock request
// through its locker. Lock grants for a locker are never blocked by other
// locks held by the same locker.
// Lock -- request a lock, waiting unless noWait (or the locker's default)
//         says otherwise. A refused no-wait request is ErrLockNotGranted.
// NonBlockingLock -- request a lock; a conflict returns GrantDenied.
// ReleaseLock / DemoteLock -- undo a grant, see CursorImpl.revertLock.
// ReleaseNonTxnLocks -- end of a non-transactional operation.
// NewNonTxnLocker -- the locker a cloned cursor should use.
// AddDeleteInfo -- remember a slot to compress once the delete is durable.
type Locker interface {
	ID() int64
	Lock(nodeID int64, lt common.LockType, noWait bool) (*LockResult, error)
	NonBlockingLock(nodeID int64, lt common.LockType) (*LockResult, error)
	ReleaseLock(nodeID int64) error
	DemoteLock(nodeID int64) error
	ReleaseNonTxnLocks() error
	NewNonTxnLocker() Locker
	DefaultNoWait() bool
	IsTransactional() bool
	RegisterCursor(c *CursorImpl)
	UnregisterCursor(c *CursorImpl)
	AddDeleteInfo(bin *node, deletedKey []byte)
	OwnedLockType(nodeID int64) common.LockType
}

// LockResult -- outcome of a lock request. The cursor fills in 'ln' with
// the record it locked and 'nodeID' with the record id the lock is on.
type LockResult struct {
	grant  common.LockGrantType
	ln     *LN
	nodeID int64
	wli    *writeLockInfo
}

func (r *LockResult) Grant() common.LockGrantType {
	return r.grant
}

// setAbortLsn -- remember the version the record had before this locker's
// first write to it.
func (r *LockResult) setAbortLsn(lsn common.LSN) {
	if r.wli != nil && !r.wli.abortSet {
		r.wli.abortLSN = lsn
		r.wli.abortSet = true
	}
}

// lockerBase -- bookkeeping shared by all lockers.
type lockerBase struct {
	env     *Environment
	id      int64
	noWait  bool
	mu      sync.Mutex
	locks   map[int64]common.LockType
	cursors map[*CursorImpl]struct{}
	deletes Tracker
}

func (l *lockerBase) init(env *Environment, noWait bool, tag string) {
	l.env = env
	l.id = env.nextLockerID()
	l.noWait = noWait
	l.locks = make(map[int64]common.LockType)
	l.cursors = make(map[*CursorImpl]struct{})
	l.deletes.Init(tag)
}

func (l *lockerBase) ID() int64 {
	return l.id
}

func (l *lockerBase) DefaultNoWait() bool {
	return l.noWait
}

// lockInternal -- ask the lock manager and record what this locker holds.
func (l *lockerBase) lockInternal(nodeID int64, lt common.LockType,
	nonBlocking bool) (common.LockGrantType, error) {

	grant, err := l.env.lockManager.lock(nodeID, l.id, lt, nonBlocking)
	if err != nil {
		return grant, err
	}
	switch grant {
	case common.GrantNew, common.GrantWaitNew, common.GrantPromotion, common.GrantWaitPromotion:
		owned := l.env.lockManager.ownedLockType(nodeID, l.id)
		l.mu.Lock()
		l.locks[nodeID] = owned
		l.mu.Unlock()
	case common.GrantWaitRestart:
		return grant, errRangeRestart
	}
	return grant, nil
}

func (l *lockerBase) lockBlocking(nodeID int64, lt common.LockType, noWait bool) (common.LockGrantType, error) {
	grant, err := l.lockInternal(nodeID, lt, noWait || l.noWait)
	if err != nil {
		return grant, err
	}
	if grant == common.GrantDenied {
		return grant, errors.Wrapf(common.ErrLockNotGranted,
			"%s lock on record %d, locker %d", lt, nodeID, l.id)
	}
	return grant, nil
}

func (l *lockerBase) ReleaseLock(nodeID int64) error {
	l.mu.Lock()
	delete(l.locks, nodeID)
	l.mu.Unlock()
	if !l.env.lockManager.release(nodeID, l.id) {
		glog.V(2).Infof("locker %d released record %d it did not hold", l.id, nodeID)
	}
	return nil
}

func (l *lockerBase) DemoteLock(nodeID int64) error {
	lt := l.env.lockManager.demote(nodeID, l.id)
	l.mu.Lock()
	if lt != common.LockNone {
		l.locks[nodeID] = lt
	}
	l.mu.Unlock()
	return nil
}

// releaseAll -- release every lock held.
func (l *lockerBase) releaseAll() {
	l.mu.Lock()
	ids := make([]int64, 0, len(l.locks))
	for id := range l.locks {
		ids = append(ids, id)
	}
	l.locks = make(map[int64]common.LockType)
	l.mu.Unlock()
	for _, id := range ids {
		l.env.lockManager.release(id, l.id)
	}
}

func (l *lockerBase) OwnedLockType(nodeID int64) common.LockType {
	l.mu.Lock()
	defer l.mu.Unlock()
	return l.locks[nodeID]
}

func (l *lockerBase) nLocks() int {
	l.mu.Lock()
	defer l.mu.Unlock()
	return len(l.locks)
}

func (l *lockerBase) RegisterCursor(c *CursorImpl) {
	l.mu.Lock()
	l.cursors[c] = struct{}{}
	l.mu.Unlock()
}

func (l *lockerBase) UnregisterCursor(c *CursorImpl) {
	l.mu.Lock()
	delete(l.cursors, c)
	l.mu.Unlock()
}

func (l *lockerBase) nCursors() int {
	l.mu.Lock()
	defer l.mu.Unlock()
	return len(l.cursors)
}

func (l *lockerBase) AddDeleteInfo(bin *node, deletedKey []byte) {
	l.mu.Lock()
	l.deletes.AddIfNotPresent(bin, deletedKey)
	l.mu.Unlock()
}

// queueDeletes -- hand the recorded deletes to the compressor.
func (l *lockerBase) queueDeletes() {
	l.mu.Lock()
	pending := l.deletes
	l.deletes.Init(pending.tag)
	l.mu.Unlock()
	pending.Range(func(bin *node, key []byte) {
		l.env.compressor.addToQueue(bin, key)
	})
	pending.Reset()
}

// BasicLocker -- a non-transactional locker. Its locks last until the
// operation using it ends.
type BasicLocker struct {
	lockerBase
}

func newBasicLocker(env *Environment, noWait bool) *BasicLocker {
	l := &BasicLocker{}
	l.init(env, noWait, "basic-locker")
	return l
}

func (l *BasicLocker) Lock(nodeID int64, lt common.LockType, noWait bool) (*LockResult, error) {
	grant, err := l.lockBlocking(nodeID, lt, noWait)
	return &LockResult{grant: grant}, err
}

func (l *BasicLocker) NonBlockingLock(nodeID int64, lt common.LockType) (*LockResult, error) {
	grant, err := l.lockInternal(nodeID, lt, true)
	return &LockResult{grant: grant}, err
}

// ReleaseNonTxnLocks -- release everything; the deletes performed under
// this locker are now visible and may be compressed.
func (l *BasicLocker) ReleaseNonTxnLocks() error {
	l.releaseAll()
	l.queueDeletes()
	return nil
}

func (l *BasicLocker) NewNonTxnLocker() Locker {
	return newBasicLocker(l.env, l.noWait)
}

func (l *BasicLocker) IsTransactional() bool {
	return false
}
