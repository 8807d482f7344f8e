// Use of this software is governed by an Apache 2.0
// licence which can be found in the license file

package txbtree

import (
	"txbtree/common"

	"github.com/cockroachdb/errors"
	"github.com/golang/glog"
)

// getNext -- move to the next (or previous) record and return it. With
// alreadyLatched the current position is latched by the caller. No latch
// is held on return.
func (c *CursorImpl) getNext(foundKey, foundData *DatabaseEntry, lt common.LockType,
	forward, alreadyLatched bool) (common.OperationStatus, error) {

	st, _, err := c.getNextWithKeyChangeStatus(foundKey, foundData, lt, forward, alreadyLatched)
	return st, err
}

// getNextWithKeyChangeStatus -- as getNext, also reporting whether the
// record found has a different key than the starting position.
func (c *CursorImpl) getNextWithKeyChangeStatus(foundKey, foundData *DatabaseEntry,
	lt common.LockType, forward, alreadyLatched bool) (common.OperationStatus, bool, error) {

	if err := c.checkCursorState(true); err != nil {
		if alreadyLatched {
			c.releaseBINs()
		}
		return common.NotFound, false, err
	}
	defer func() {
		c.flushBINToBeRemoved()
		c.flushDBINToBeRemoved()
	}()
	o := &c.owner
	for {
		if dbin := c.dupBin.Load(); dbin != nil {
			dbinLatched := false
			if alreadyLatched {
				c.releaseBIN()
				dbinLatched = dbin.latch.IsOwner(o)
				alreadyLatched = false
			}
			st, err := c.getNextDuplicate(foundKey, foundData, lt, forward, dbinLatched)
			if err != nil || st == common.Success {
				return st, false, err
			}
			// The duplicates are exhausted; carry on in the main tree.
			c.flushDBINToBeRemoved()
			c.clearDupBIN(false)
		}

		if !alreadyLatched {
			if c.latchBIN() == nil {
				return common.NotFound, false, nil
			}
		}
		alreadyLatched = false
		bin := c.bin.Load()
		if (forward && c.index+1 < bin.nEntries()) || (!forward && c.index-1 > -1) {
			if forward {
				c.index++
			} else {
				c.index--
			}
			st, err := c.getCurrentAlreadyLatched(foundKey, foundData, lt, forward)
			if err != nil {
				return st, false, err
			}
			if st == common.Success {
				c.incrementLNCount()
				return st, true, nil
			}
			c.flushBINToBeRemoved()
			continue
		}

		// Off the end of this BIN: cross to its sibling. The cursor stays
		// registered on the old BIN until the new one is in hand.
		idKey := bin.boundaryKey(forward)
		c.bin.Store(nil)
		bin.latch.Release(o)
		c.flushBINToBeRemoved()
		c.binToBeRemoved = bin
		if c.testHook != nil {
			c.testHook()
		}
		newBin, err := c.db.tree.getNextBin(idKey, nil, forward, o)
		if err != nil {
			return common.NotFound, false, err
		}
		if newBin == nil {
			return common.NotFound, false, nil
		}
		if forward {
			c.index = -1
		} else {
			c.index = newBin.nEntries()
		}
		c.addCursor(newBin)
		c.bin.Store(newBin)
		c.visitBIN(newBin)
		alreadyLatched = true
	}
}

// getNextDuplicate -- move within the duplicate tree only. With
// alreadyLatched the DBIN is latched by the caller. NotFound means the
// duplicates of this key are exhausted; the cursor is then out of the
// duplicate tree. No latch is held on return.
func (c *CursorImpl) getNextDuplicate(foundKey, foundData *DatabaseEntry, lt common.LockType,
	forward, alreadyLatched bool) (common.OperationStatus, error) {

	o := &c.owner
	for c.dupBin.Load() != nil {
		if !alreadyLatched {
			if c.latchDBIN() == nil {
				break
			}
		}
		alreadyLatched = false
		dbin := c.dupBin.Load()
		if (forward && c.dupIndex+1 < dbin.nEntries()) || (!forward && c.dupIndex-1 > -1) {
			if forward {
				c.dupIndex++
			} else {
				c.dupIndex--
			}
			st, err := c.getCurrentAlreadyLatched(foundKey, foundData, lt, forward)
			if err != nil {
				return st, err
			}
			if st == common.Success {
				c.incrementLNCount()
				return st, nil
			}
			c.flushDBINToBeRemoved()
			continue
		}

		idKey := dbin.boundaryKey(forward)
		dupKey := dbin.dupKey
		c.dupBin.Store(nil)
		dbin.latch.Release(o)
		c.flushDBINToBeRemoved()
		c.dupBinToBeRemoved = dbin
		if c.testHook != nil {
			c.testHook()
		}
		newDBin, err := c.db.tree.getNextBin(idKey, dupKey, forward, o)
		if err != nil {
			return common.NotFound, err
		}
		if newDBin == nil {
			c.dupIndex = -1
			return common.NotFound, nil
		}
		if forward {
			c.dupIndex = -1
		} else {
			c.dupIndex = newDBin.nEntries()
		}
		c.addCursor(newDBin)
		c.dupBin.Store(newDBin)
		c.visitBIN(newDBin)
		alreadyLatched = true
	}
	return common.NotFound, nil
}

// getNextNoDup -- move to the next key, skipping any remaining duplicates
// of the current one.
func (c *CursorImpl) getNextNoDup(foundKey, foundData *DatabaseEntry, lt common.LockType,
	forward, alreadyLatched bool) (common.OperationStatus, error) {

	if c.dupBin.Load() != nil {
		c.clearDupBIN(alreadyLatched)
	}
	return c.getNext(foundKey, foundData, lt, forward, alreadyLatched)
}

// getFirstDuplicate -- move to the first duplicate of the current key.
func (c *CursorImpl) getFirstDuplicate(foundKey, foundData *DatabaseEntry,
	lt common.LockType) (common.OperationStatus, error) {

	if err := c.checkCursorState(true); err != nil {
		return common.NotFound, err
	}
	if c.dupBin.Load() == nil {
		return c.getCurrent(foundKey, foundData, lt)
	}
	c.clearDupBIN(false)
	if c.latchBIN() == nil {
		return common.NotFound, nil
	}
	dupRoot, err := c.getLatchedDupRoot(false)
	if err != nil {
		c.releaseBINs()
		return common.NotFound, err
	}
	c.releaseBIN()
	found, err := c.positionFirstOrLast(true, dupRoot)
	if err != nil || !found {
		c.releaseBINs()
		return common.NotFound, err
	}
	return c.getCurrentAlreadyLatched(foundKey, foundData, lt, true)
}

// positionFirstOrLast -- position on the first (or last) slot of the tree,
// or, given its latched root, of a duplicate tree. A main tree slot holding
// a duplicate tree positions on its first (or last) duplicate. Returns
// false for an empty tree. On success the position is left latched.
func (c *CursorImpl) positionFirstOrLast(first bool, dupRoot *node) (bool, error) {
	o := &c.owner
	tree := c.db.tree
	if dupRoot == nil {
		c.removeCursor()
		c.flushBINToBeRemoved()
		c.flushDBINToBeRemoved()
		c.dupBin.Store(nil)
		c.dupIndex = -1
		var bin *node
		var err error
		if first {
			bin, err = tree.getFirstNode(nil, o)
		} else {
			bin, err = tree.getLastNode(nil, o)
		}
		if err != nil || bin == nil {
			c.bin.Store(nil)
			return false, err
		}
		c.bin.Store(bin)
		c.index = 0
		if !first {
			c.index = bin.nEntries() - 1
		}
		c.addCursor(bin)
		c.visitBIN(bin)
		c.status = cursorInitialized
		if bin.nEntries() == 0 || bin.isEntryKnownDeleted(c.index) {
			return true, nil
		}
		child, err := bin.fetchChild(c.index)
		if err != nil {
			bin.latch.Release(o)
			return false, err
		}
		if child == nil {
			return true, nil
		}
		child.latch.Acquire(o)
		bin.latch.Release(o)
		return c.positionFirstOrLast(first, child)
	}

	c.removeCursorDBIN()
	var dbin *node
	var err error
	if first {
		dbin, err = tree.getFirstNode(dupRoot, o)
	} else {
		dbin, err = tree.getLastNode(dupRoot, o)
	}
	if err != nil || dbin == nil {
		c.dupBin.Store(nil)
		return false, err
	}
	c.dupBin.Store(dbin)
	c.dupIndex = 0
	if !first {
		c.dupIndex = dbin.nEntries() - 1
	}
	c.addCursor(dbin)
	c.visitBIN(dbin)
	c.status = cursorInitialized
	return true, nil
}

// getCurrent -- the record at the current position. KeyEmpty means it has
// been deleted.
func (c *CursorImpl) getCurrent(foundKey, foundData *DatabaseEntry,
	lt common.LockType) (common.OperationStatus, error) {

	if err := c.checkCursorState(true); err != nil {
		return common.NotFound, err
	}
	if c.bin.Load() == nil {
		return common.KeyEmpty, nil
	}
	c.latchBINs()
	st, err := c.getCurrentAlreadyLatched(foundKey, foundData, lt, true)
	if st == common.NotFound {
		st = common.KeyEmpty
	}
	return st, err
}

// getCurrentAlreadyLatched -- as getCurrent with the position latched.
// Every latch is released on return.
func (c *CursorImpl) getCurrentAlreadyLatched(foundKey, foundData *DatabaseEntry,
	lt common.LockType, first bool) (common.OperationStatus, error) {

	defer c.releaseBINs()
	return c.fetchCurrent(foundKey, foundData, lt, first)
}

// fetchCurrent -- lock and read the record at the latched position. A slot
// holding a duplicate tree moves the cursor to its first (or last)
// duplicate. Every latch is released on return.
func (c *CursorImpl) fetchCurrent(foundKey, foundData *DatabaseEntry, lt common.LockType,
	first bool) (common.OperationStatus, error) {

	o := &c.owner
	isDup := c.setTargetBin()
	tb, ti := c.targetBin, c.targetIndex
	if tb == nil || ti < 0 || ti >= tb.nEntries() {
		c.releaseBINs()
		return common.NotFound, nil
	}
	if tb.isEntryKnownDeleted(ti) {
		c.releaseBINs()
		c.incrementDeletedLNCount()
		return common.KeyEmpty, nil
	}
	ln, dupRoot, err := tb.fetchTarget(ti)
	if err != nil {
		c.releaseBINs()
		return common.NotFound, err
	}
	if dupRoot != nil {
		if isDup {
			c.releaseBINs()
			return common.NotFound, errors.AssertionFailedf("duplicate tree nested in %v", tb)
		}
		dupRoot.latch.Acquire(o)
		c.releaseBIN()
		found, err := c.positionFirstOrLast(first, dupRoot)
		if err != nil || !found {
			c.releaseBINs()
			return common.NotFound, err
		}
		return c.fetchCurrent(foundKey, foundData, lt, first)
	}
	if ln == nil {
		c.releaseBINs()
		c.incrementDeletedLNCount()
		return common.KeyEmpty, nil
	}
	res, err := c.lockLN(ln, lt)
	if err != nil {
		return common.NotFound, err
	}
	if res.ln == nil {
		c.releaseBINs()
		c.incrementDeletedLNCount()
		return common.KeyEmpty, nil
	}
	isDup = c.setTargetBin()
	if foundKey != nil {
		if isDup {
			foundKey.setData(c.targetBin.dupKey)
		} else {
			foundKey.setData(c.targetBin.getKey(c.targetIndex))
		}
	}
	if foundData != nil {
		foundData.setData(res.ln.data)
	}
	c.releaseBINs()
	return common.Success, nil
}

// getCurrentLN -- lock and return the record at the current position; nil
// if it has been deleted. No latch is held on return.
func (c *CursorImpl) getCurrentLN(lt common.LockType) (*LN, error) {
	if c.latchBIN() == nil {
		return nil, nil
	}
	c.latchDBIN()
	defer c.releaseBINs()
	c.setTargetBin()
	tb, ti := c.targetBin, c.targetIndex
	if ti < 0 || ti >= tb.nEntries() || tb.isEntryKnownDeleted(ti) {
		return nil, nil
	}
	ln, dupRoot, err := tb.fetchTarget(ti)
	if err != nil || dupRoot != nil || ln == nil {
		return nil, err
	}
	res, err := c.lockLN(ln, lt)
	if err != nil {
		return nil, err
	}
	return res.ln, nil
}

// advanceCursor -- step forward without locking, for administrative scans.
// Reports whether the position changed; key and data are filled in with
// whatever the new position holds even if its record is deleted.
func (c *CursorImpl) advanceCursor(key, data *DatabaseEntry) bool {
	oldBin, oldDupBin := c.bin.Load(), c.dupBin.Load()
	oldIndex, oldDupIndex := c.index, c.dupIndex
	key.setData(nil)
	data.setData(nil)
	if _, err := c.getNext(key, data, common.LockNone, true, false); err != nil {
		glog.Errorf("cursor %d: advancing: %v", c.id, err)
	}
	if c.bin.Load() == nil {
		return false
	}
	if c.bin.Load() == oldBin && c.dupBin.Load() == oldDupBin &&
		c.index == oldIndex && c.dupIndex == oldDupIndex {
		return false
	}
	if key.Data == nil {
		if bin := c.latchBIN(); bin != nil {
			if c.index >= 0 && c.index < bin.nEntries() {
				key.setData(bin.getKey(c.index))
			}
			bin.latch.Release(&c.owner)
		}
	}
	if data.Data == nil {
		if dbin := c.latchDBIN(); dbin != nil {
			if c.dupIndex >= 0 && c.dupIndex < dbin.nEntries() {
				data.setData(dbin.getKey(c.dupIndex))
			}
			dbin.latch.Release(&c.owner)
		}
	}
	return true
}

// visitBIN -- report a newly reached BIN or DBIN to the stats accumulator.
func (c *CursorImpl) visitBIN(n *node) {
	if c.statsAcc != nil {
		c.statsAcc.visitBIN(n)
	}
}
