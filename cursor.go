// Use of this software is governed by an Apache 2.0
// licence which can be found in the license file

// This file implements the cursor: a position in a database's tree from
// which records are read, written and deleted under record locks.
//
// A cursor is positioned on a slot of a BIN and, when that slot holds a
// duplicate tree, also on a slot of a DBIN. The cursor is registered with
// every node it is positioned on so that splits and compression can adjust
// its position. Registration, deregistration and the index fields are only
// touched while holding the latch of the node concerned.

package txbtree

import (
	"fmt"
	"sync/atomic"

	"txbtree/common"

	"github.com/cockroachdb/errors"
	"github.com/golang/glog"
)

type cursorStatus int

const (
	cursorNotInitialized cursorStatus = iota
	cursorInitialized
	cursorClosed
)

// CursorImpl - the engine cursor.
// 'bin', 'index'       -- position in the main tree.
// 'dupBin', 'dupIndex' -- position in a duplicate tree, if any.
// 'binToBeRemoved', 'dupBinToBeRemoved' -- nodes left behind while moving
//                         to a sibling; the cursor stays registered there until
//                         it is safe to latch them again.
// 'targetBin', 'targetIndex' -- whichever of the two positions is current.
// 'owner' -- identity this cursor latches nodes with.
type CursorImpl struct {
	id                int64
	owner             latchOwner
	bin               atomic.Pointer[node]
	index             int
	dupBin            atomic.Pointer[node]
	dupIndex          int
	binToBeRemoved    *node
	dupBinToBeRemoved *node
	targetBin         *node
	targetIndex       int
	dupKey            []byte

	db                *DatabaseImpl
	locker            Locker
	retainNonTxnLocks bool
	status            cursorStatus
	allowEviction     bool
	nonCloning        bool
	relatched         bool
	statsAcc          *TreeStatsAccumulator
	testHook          func()
}

func newCursorImpl(db *DatabaseImpl, locker Locker, retainNonTxnLocks bool) *CursorImpl {
	c := &CursorImpl{
		id:                db.env.nextCursorID(),
		index:             -1,
		dupIndex:          -1,
		db:                db,
		locker:            locker,
		retainNonTxnLocks: retainNonTxnLocks,
		allowEviction:     true,
	}
	locker.RegisterCursor(c)
	db.openCursors.Add(1)
	return c
}

func (c *CursorImpl) setAllowEviction(allow bool) {
	c.allowEviction = allow
}

// setNonCloning -- dup returns the cursor itself instead of a copy.
func (c *CursorImpl) setNonCloning(nonCloning bool) {
	c.nonCloning = nonCloning
}

func (c *CursorImpl) setTreeStatsAccumulator(acc *TreeStatsAccumulator) {
	c.statsAcc = acc
}

// setTestHook -- f runs while moving to a sibling BIN, with no latch held.
func (c *CursorImpl) setTestHook(f func()) {
	c.testHook = f
}

func (c *CursorImpl) getLocker() Locker {
	return c.locker
}

func (c *CursorImpl) getDatabase() *DatabaseImpl {
	return c.db
}

func (c *CursorImpl) isNotInitialized() bool {
	return c.status == cursorNotInitialized
}

func (c *CursorImpl) isClosed() bool {
	return c.status == cursorClosed
}

func (c *CursorImpl) checkCursorState(mustBeInitialized bool) error {
	switch c.status {
	case cursorInitialized:
		return nil
	case cursorNotInitialized:
		if mustBeInitialized {
			return errors.Wrapf(common.ErrNotInitialized, "cursor %d", c.id)
		}
		return nil
	}
	return errors.Wrapf(common.ErrCursorClosed, "cursor %d", c.id)
}

// latchBIN -- latch the current BIN. A split may move the cursor to a new
// BIN while it waits, so the latch is only kept once the BIN is confirmed.
func (c *CursorImpl) latchBIN() *node {
	for {
		b := c.bin.Load()
		if b == nil {
			return nil
		}
		b.latch.Acquire(&c.owner)
		if c.bin.Load() == b {
			return b
		}
		b.latch.Release(&c.owner)
	}
}

func (c *CursorImpl) latchDBIN() *node {
	for {
		b := c.dupBin.Load()
		if b == nil {
			return nil
		}
		b.latch.Acquire(&c.owner)
		if c.dupBin.Load() == b {
			return b
		}
		b.latch.Release(&c.owner)
	}
}

// latchBINs -- BIN before DBIN.
func (c *CursorImpl) latchBINs() {
	c.latchBIN()
	c.latchDBIN()
}

func (c *CursorImpl) releaseBIN() {
	if b := c.bin.Load(); b != nil {
		b.latch.ReleaseIfOwner(&c.owner)
	}
}

func (c *CursorImpl) releaseDBIN() {
	if b := c.dupBin.Load(); b != nil {
		b.latch.ReleaseIfOwner(&c.owner)
	}
}

// releaseBINs -- release whatever position latches are held. Safe to call
// on any cleanup path.
func (c *CursorImpl) releaseBINs() {
	c.releaseBIN()
	c.releaseDBIN()
}

// addCursor -- register with the latched node.
func (c *CursorImpl) addCursor(n *node) {
	if !n.latch.IsHeld() {
		panic(errors.AssertionFailedf("registering cursor %d on unlatched %v", c.id, n))
	}
	n.addCursor(c)
}

// addCursorSelf -- register with the current position. The nodes are
// latched by the cursor being cloned.
func (c *CursorImpl) addCursorSelf() {
	if b := c.bin.Load(); b != nil {
		c.addCursor(b)
	}
	if b := c.dupBin.Load(); b != nil {
		c.addCursor(b)
	}
}

func (c *CursorImpl) removeCursorBIN() {
	if b := c.latchBIN(); b != nil {
		b.removeCursor(c)
		b.latch.Release(&c.owner)
	}
}

func (c *CursorImpl) removeCursorDBIN() {
	if b := c.latchDBIN(); b != nil {
		b.removeCursor(c)
		b.latch.Release(&c.owner)
	}
}

// removeCursor -- leave every node the cursor is registered on.
func (c *CursorImpl) removeCursor() {
	c.removeCursorBIN()
	c.removeCursorDBIN()
	c.flushBINToBeRemoved()
	c.flushDBINToBeRemoved()
}

// updateBin -- position on slot idx of the latched bin, leaving any
// duplicate position.
func (c *CursorImpl) updateBin(bin *node, idx int) {
	c.removeCursorDBIN()
	c.dupIndex = -1
	c.dupBin.Store(nil)
	if old := c.bin.Load(); old != bin {
		if old != nil {
			if old.latch.IsOwner(&c.owner) {
				old.removeCursor(c)
				old.latch.Release(&c.owner)
			} else {
				c.removeCursorBIN()
			}
		}
		c.bin.Store(bin)
		c.addCursor(bin)
	}
	c.index = idx
}

// updateDBin -- position on slot idx of the latched dbin.
func (c *CursorImpl) updateDBin(dbin *node, idx int) {
	if old := c.dupBin.Load(); old != dbin {
		if old != nil {
			c.removeCursorDBIN()
		}
		c.dupBin.Store(dbin)
		c.addCursor(dbin)
	}
	c.dupIndex = idx
}

// clearDupBIN -- leave the duplicate tree. With alreadyLatched the DBIN is
// latched by this cursor and is released.
func (c *CursorImpl) clearDupBIN(alreadyLatched bool) {
	if dbin := c.dupBin.Load(); dbin != nil {
		if alreadyLatched {
			dbin.removeCursor(c)
			dbin.latch.Release(&c.owner)
		} else {
			c.removeCursorDBIN()
		}
		c.dupBin.Store(nil)
		c.dupIndex = -1
	}
}

// setTargetBin -- point targetBin at the DBIN position if there is one,
// else at the BIN position. Reports whether the target is a DBIN.
func (c *CursorImpl) setTargetBin() bool {
	if dbin := c.dupBin.Load(); dbin != nil {
		c.targetBin = dbin
		c.targetIndex = c.dupIndex
		c.dupKey = dbin.dupKey
		return true
	}
	c.targetBin = c.bin.Load()
	c.targetIndex = c.index
	c.dupKey = nil
	return false
}

// flushBINToBeRemoved -- leave the BIN that was moved away from.
func (c *CursorImpl) flushBINToBeRemoved() {
	if b := c.binToBeRemoved; b != nil {
		b.latch.Acquire(&c.owner)
		b.removeCursor(c)
		b.latch.Release(&c.owner)
		c.binToBeRemoved = nil
	}
}

func (c *CursorImpl) flushDBINToBeRemoved() {
	if b := c.dupBinToBeRemoved; b != nil {
		b.latch.Acquire(&c.owner)
		b.removeCursor(c)
		b.latch.Release(&c.owner)
		c.dupBinToBeRemoved = nil
	}
}

// dup -- a new cursor with the same locker (or, for a non-transactional
// locker not retaining locks, a fresh one). With samePosition it is
// positioned where this cursor is.
func (c *CursorImpl) dup(samePosition bool) *CursorImpl {
	ret := c.cloneCursor(samePosition)
	if !samePosition && ret != c {
		ret.bin.Store(nil)
		ret.index = -1
		ret.dupBin.Store(nil)
		ret.dupIndex = -1
		ret.status = cursorNotInitialized
	}
	return ret
}

func (c *CursorImpl) cloneCursor(addCursor bool) *CursorImpl {
	ret := c
	if !c.nonCloning {
		c.latchBINs()
		ret = &CursorImpl{
			id:                c.db.env.nextCursorID(),
			index:             c.index,
			dupIndex:          c.dupIndex,
			db:                c.db,
			locker:            c.locker,
			retainNonTxnLocks: c.retainNonTxnLocks,
			status:            c.status,
			allowEviction:     c.allowEviction,
			nonCloning:        c.nonCloning,
			statsAcc:          c.statsAcc,
			testHook:          c.testHook,
		}
		ret.bin.Store(c.bin.Load())
		ret.dupBin.Store(c.dupBin.Load())
		if !c.retainNonTxnLocks {
			ret.locker = c.locker.NewNonTxnLocker()
		}
		ret.locker.RegisterCursor(ret)
		c.db.openCursors.Add(1)
		if addCursor {
			ret.addCursorSelf()
		}
		c.releaseBINs()
	}
	c.criticalEviction()
	return ret
}

// reset -- drop the position and, when not retaining them, the locks.
func (c *CursorImpl) reset() error {
	c.removeCursor()
	var err error
	if !c.retainNonTxnLocks {
		err = c.locker.ReleaseNonTxnLocks()
	}
	c.bin.Store(nil)
	c.index = -1
	c.dupBin.Store(nil)
	c.dupIndex = -1
	c.status = cursorNotInitialized
	c.criticalEviction()
	return err
}

func (c *CursorImpl) close() error {
	if err := c.checkCursorState(false); err != nil {
		return err
	}
	c.removeCursor()
	c.locker.UnregisterCursor(c)
	var err error
	if !c.retainNonTxnLocks {
		err = c.locker.ReleaseNonTxnLocks()
	}
	c.status = cursorClosed
	c.db.openCursors.Add(-1)
	c.criticalEviction()
	return err
}

// criticalEviction -- give the evictor a chance to run after an operation
// when the cache is far over budget.
func (c *CursorImpl) criticalEviction() {
	if !c.allowEviction || c.owner.held() > 0 {
		return
	}
	if err := c.db.env.evictor.doCriticalEviction(); err != nil {
		glog.Warningf("critical eviction after cursor %d: %v", c.id, err)
	}
}

// count -- number of records with the current key, locking the duplicate
// count with lt.
func (c *CursorImpl) count(lt common.LockType) (int, error) {
	if err := c.checkCursorState(true); err != nil {
		return 0, err
	}
	if !c.db.sortedDuplicates {
		return 1, nil
	}
	bin := c.latchBIN()
	if bin == nil {
		return 0, nil
	}
	if c.index < 0 || c.index >= bin.nEntries() {
		bin.latch.Release(&c.owner)
		return 0, nil
	}
	dupRoot := bin.slots[c.index].child
	if dupRoot == nil {
		bin.latch.Release(&c.owner)
		return 1, nil
	}
	dupRoot.latch.Acquire(&c.owner)
	bin.latch.Release(&c.owner)
	dcl := dupRoot.dupCountLN
	n := dcl.dupCount
	dupRoot.latch.Release(&c.owner)
	if lt != common.LockNone {
		if _, err := c.locker.Lock(dcl.nodeID, lt, false); err != nil {
			return 0, err
		}
	}
	return n, nil
}

// evict -- drop the current record's LN from the cache.
func (c *CursorImpl) evict() {
	c.latchBINs()
	defer c.releaseBINs()
	c.setTargetBin()
	if t := c.targetBin; t != nil && c.targetIndex >= 0 && c.targetIndex < t.nEntries() {
		t.evictLN(c.targetIndex)
	}
}

func (c *CursorImpl) incrementLNCount() {
	if c.statsAcc != nil {
		c.statsAcc.incrementLNCount()
	}
}

func (c *CursorImpl) incrementDeletedLNCount() {
	if c.statsAcc != nil {
		c.statsAcc.incrementDeletedLNCount()
	}
}

func (c *CursorImpl) trace(op string, bin *node, ln *LN, idx int, oldLsn, newLsn common.LSN) {
	if glog.V(1) {
		glog.Infof("cursor %d %s: %v[%d] ln %v lsn %d -> %d (locker %d)",
			c.id, op, bin, idx, ln, oldLsn, newLsn, c.locker.ID())
	}
}

func (c *CursorImpl) String() string {
	return fmt.Sprintf("{cursor %d bin %v index %d dupBin %v dupIndex %d status %d}",
		c.id, c.bin.Load(), c.index, c.dupBin.Load(), c.dupIndex, c.status)
}
