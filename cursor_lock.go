// Use of this software is governed by an Apache 2.0
// licence which can be found in the license file

package txbtree

import (
	"txbtree/common"

	"github.com/cockroachdb/errors"
)

// lockState -- steps of locking the record under the cursor while its
// position latches are held.
type lockState int

const (
	// lockTryNoWait -- ask for the lock without waiting.
	lockTryNoWait lockState = iota
	// lockWaitUnlatched -- release the latches and wait for the lock.
	lockWaitUnlatched
	// lockVerify -- relatch and check the slot still holds the same record.
	lockVerify
)

// lockLN -- lock the record at the current position, which is latched.
// The returned result carries a nil LN when the record is deleted, in which
// case the lock has been given back. On error every latch is released.
func (c *CursorImpl) lockLN(ln *LN, lt common.LockType) (*LockResult, error) {
	res, err := c.lockLNDeletedAllowed(ln, lt)
	if err != nil {
		return nil, err
	}
	if res.ln == nil {
		if err := c.revertLock(res.nodeID, res.grant); err != nil {
			c.releaseBINs()
			return nil, err
		}
		return res, nil
	}
	c.setTargetBin()
	if c.targetBin.isEntryKnownDeleted(c.targetIndex) || res.ln.isDeleted() {
		if err := c.revertLock(res.nodeID, res.grant); err != nil {
			c.releaseBINs()
			return nil, err
		}
		res.ln = nil
	}
	return res, nil
}

// lockLNDeletedAllowed -- lock ln, the record at the current position,
// keeping the latches if the lock is granted at once. Otherwise the latches
// are released while waiting, and on return the position is relatched and
// the slot refetched; if it now holds a different record the lock is given
// back and the new record is locked instead. 'relatched' is set whenever
// the latches were let go.
func (c *CursorImpl) lockLNDeletedAllowed(ln *LN, lt common.LockType) (*LockResult, error) {
	if lt == common.LockNone {
		res := &LockResult{grant: common.GrantNoneNeeded, ln: ln}
		if ln != nil {
			res.nodeID = ln.nodeID
		}
		return res, nil
	}
	if ln == nil {
		return &LockResult{grant: common.GrantNoneNeeded}, nil
	}
	nodeID := ln.nodeID
	state := lockTryNoWait
	var res *LockResult
	var err error
	for {
		switch state {
		case lockTryNoWait:
			res, err = c.locker.NonBlockingLock(nodeID, lt)
			if err != nil {
				c.releaseBINs()
				return nil, err
			}
			if res.grant != common.GrantDenied {
				res.ln = ln
				res.nodeID = nodeID
				return res, nil
			}
			state = lockWaitUnlatched

		case lockWaitUnlatched:
			c.releaseBINs()
			c.relatched = true
			if c.locker.DefaultNoWait() {
				return nil, errors.Wrapf(common.ErrLockNotGranted,
					"%s lock on record %d, cursor %d", lt, nodeID, c.id)
			}
			res, err = c.locker.Lock(nodeID, lt, false)
			if err != nil {
				return nil, err
			}
			c.latchBINs()
			state = lockVerify

		case lockVerify:
			c.setTargetBin()
			if c.targetBin == nil || c.targetIndex < 0 || c.targetIndex >= c.targetBin.nEntries() {
				c.releaseBINs()
				_ = c.revertLock(nodeID, res.grant)
				return nil, errors.AssertionFailedf("cursor %d lost its position while locking", c.id)
			}
			ln, err = c.targetBin.fetchLN(c.targetIndex)
			if err != nil {
				c.releaseBINs()
				return nil, err
			}
			if ln != nil && ln.nodeID != nodeID {
				// The slot was reused for another record while we waited.
				if err := c.revertLock(nodeID, res.grant); err != nil {
					c.releaseBINs()
					return nil, err
				}
				nodeID = ln.nodeID
				state = lockTryNoWait
				continue
			}
			res.ln = ln
			res.nodeID = nodeID
			return res, nil
		}
	}
}

// revertLock -- give back a lock taken on a record that turned out to be
// deleted: release a new lock, demote a promoted one.
func (c *CursorImpl) revertLock(nodeID int64, grant common.LockGrantType) error {
	switch grant {
	case common.GrantNew, common.GrantWaitNew:
		return c.locker.ReleaseLock(nodeID)
	case common.GrantPromotion, common.GrantWaitPromotion:
		return c.locker.DemoteLock(nodeID)
	}
	return nil
}

// lockDupCountLN -- lock the count of the latched duplicate root, which
// sits under the latched BIN. If the lock must be waited for, every latch is
// released and reacquired, and the (possibly new) duplicate root is
// returned latched along with the BIN and DBIN.
func (c *CursorImpl) lockDupCountLN(dupRoot *node, lt common.LockType) (*LockResult, *node, error) {
	nodeID := dupRoot.dupCountLN.nodeID
	res, err := c.locker.NonBlockingLock(nodeID, lt)
	if err != nil {
		dupRoot.latch.ReleaseIfOwner(&c.owner)
		c.releaseBINs()
		return nil, nil, err
	}
	res.nodeID = nodeID
	if res.grant != common.GrantDenied {
		return res, dupRoot, nil
	}
	dupRoot.latch.Release(&c.owner)
	c.releaseBINs()
	c.relatched = true
	if c.locker.DefaultNoWait() {
		return nil, nil, errors.Wrapf(common.ErrLockNotGranted,
			"%s lock on duplicate count %d, cursor %d", lt, nodeID, c.id)
	}
	if res, err = c.locker.Lock(nodeID, lt, false); err != nil {
		return nil, nil, err
	}
	res.nodeID = nodeID
	bin := c.latchBIN()
	dupRoot = bin.slots[c.index].child
	if dupRoot == nil {
		bin.latch.Release(&c.owner)
		return nil, nil, errors.AssertionFailedf("cursor %d: duplicate tree vanished under %v", c.id, bin)
	}
	dupRoot.latch.Acquire(&c.owner)
	c.latchDBIN()
	return res, dupRoot, nil
}

// getLatchedDupRoot -- the root of the duplicate tree the cursor is in,
// latched. The BIN must be latched; so must the DBIN if isDBINLatched, in
// which case it is released and reacquired to keep the latch order.
func (c *CursorImpl) getLatchedDupRoot(isDBINLatched bool) (*node, error) {
	bin := c.bin.Load()
	if !bin.latch.IsOwner(&c.owner) {
		return nil, errors.AssertionFailedf("cursor %d: BIN not latched", c.id)
	}
	if isDBINLatched {
		c.releaseDBIN()
	}
	dupRoot, err := bin.fetchChild(c.index)
	if err == nil && dupRoot == nil {
		err = errors.AssertionFailedf("cursor %d: no duplicate tree at %v[%d]", c.id, bin, c.index)
	}
	if err != nil {
		if isDBINLatched {
			c.latchDBIN()
		}
		return nil, err
	}
	dupRoot.latch.Acquire(&c.owner)
	if isDBINLatched {
		c.latchDBIN()
	}
	return dupRoot, nil
}

// lockEofNode -- lock the sentinel standing for the position after the
// last record. No latch may be held.
func (c *CursorImpl) lockEofNode(lt common.LockType) error {
	_, err := c.locker.Lock(c.db.eofNodeID, lt, false)
	return err
}
