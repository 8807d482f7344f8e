// Use of this software is governed by an Apache 2.0
// licence which can be found in the license file

package txbtree

import (
	"txbtree/common"

	"github.com/cockroachdb/errors"
	"github.com/golang/glog"
)

// dropObsoleteVersion -- delete the log entry of a replaced version unless
// the locker still needs it to describe the record before its first write.
func (c *CursorImpl) dropObsoleteVersion(oldLsn common.LSN, res *LockResult) {
	if oldLsn == common.NullLSN {
		return
	}
	if res.wli != nil && res.wli.abortLSN == oldLsn {
		return
	}
	if err := c.db.env.log.Delete(oldLsn); err != nil {
		glog.Warningf("cursor %d: unable to delete obsolete version %d: %v", c.id, oldLsn, err)
	}
}

// delete -- delete the record at the current position. KeyEmpty means it
// was already gone. The duplicate count, if any, is locked before anything
// is logged.
func (c *CursorImpl) delete() (common.OperationStatus, error) {
	if err := c.checkCursorState(true); err != nil {
		return common.KeyEmpty, err
	}
	if c.latchBIN() == nil {
		return common.KeyEmpty, nil
	}
	c.latchDBIN()
	c.setTargetBin()
	tb, ti := c.targetBin, c.targetIndex
	if ti < 0 || ti >= tb.nEntries() || tb.isEntryKnownDeleted(ti) {
		c.releaseBINs()
		return common.KeyEmpty, nil
	}
	ln, dupRoot, err := tb.fetchTarget(ti)
	if err != nil {
		c.releaseBINs()
		return common.KeyEmpty, err
	}
	if ln == nil || dupRoot != nil {
		c.releaseBINs()
		return common.KeyEmpty, nil
	}
	res, err := c.lockLN(ln, common.LockWrite)
	if err != nil {
		return common.KeyEmpty, err
	}
	ln = res.ln
	if ln == nil {
		c.releaseBINs()
		return common.KeyEmpty, nil
	}

	isDup := c.dupBin.Load() != nil
	if isDup {
		dupRoot, err = c.getLatchedDupRoot(true)
		if err != nil {
			c.releaseBINs()
			return common.KeyEmpty, err
		}
		_, dupRoot, err = c.lockDupCountLN(dupRoot, common.LockWrite)
		if err != nil {
			return common.KeyEmpty, err
		}
		// Latches may have been dropped for the count lock.
		isDup = c.setTargetBin()
	}
	defer func() {
		if dupRoot != nil {
			dupRoot.latch.ReleaseIfOwner(&c.owner)
		}
	}()

	tb, ti = c.targetBin, c.targetIndex
	oldLsn := tb.getLsn(ti)
	lnKey := tb.getKey(ti)
	res.setAbortLsn(oldLsn)
	newLsn, err := ln.delete(c.db, lnKey, c.dupKey, oldLsn, c.locker)
	if err != nil {
		c.releaseBINs()
		return common.KeyEmpty, err
	}
	tb.updateEntry(ti, ln, newLsn)
	tb.setPendingDeleted(ti)
	c.dropObsoleteVersion(oldLsn, res)
	c.releaseBINs()

	if isDup {
		err = dupRoot.changeDupCount(-1)
		dupRoot.latch.Release(&c.owner)
		dupRoot = nil
		if err != nil {
			return common.KeyEmpty, err
		}
	}
	c.locker.AddDeleteInfo(tb, lnKey)
	c.trace("delete", tb, ln, ti, oldLsn, newLsn)
	return common.Success, nil
}

// putLN -- insert ln under key. The new record is write locked before the
// tree sees it; KeyExist means the key (or key and datum) is taken and the
// cursor is positioned on the existing record.
func (c *CursorImpl) putLN(key []byte, ln *LN, allowDuplicates bool) (common.OperationStatus, error) {
	if c.owner.held() != 0 {
		return common.KeyExist, errors.AssertionFailedf("cursor %d: put with %d latches held", c.id, c.owner.held())
	}
	if _, err := c.locker.Lock(ln.nodeID, common.LockWrite, false); err != nil {
		return common.KeyExist, err
	}
	inserted, err := c.db.tree.insert(ln, key, allowDuplicates, c)
	if err != nil {
		_ = c.locker.ReleaseLock(ln.nodeID)
		return common.KeyExist, err
	}
	if !inserted {
		if err := c.locker.ReleaseLock(ln.nodeID); err != nil {
			return common.KeyExist, err
		}
		c.status = cursorInitialized
		return common.KeyExist, nil
	}
	c.status = cursorInitialized
	return common.Success, nil
}

// put -- insert or overwrite. In a duplicate database an existing equal
// datum is write locked and rewritten in place.
func (c *CursorImpl) put(key []byte, data, foundData *DatabaseEntry) (common.OperationStatus, error) {
	if err := c.checkCursorState(false); err != nil {
		return common.KeyExist, err
	}
	st, err := c.putLN(key, newLN(c.db.env, data.Data), c.db.sortedDuplicates)
	if err != nil || st != common.KeyExist {
		return st, err
	}
	return c.putCurrent(data, nil, foundData)
}

// putNoOverwrite -- insert unless the key exists.
func (c *CursorImpl) putNoOverwrite(key []byte, data *DatabaseEntry) (common.OperationStatus, error) {
	if err := c.checkCursorState(false); err != nil {
		return common.KeyExist, err
	}
	return c.putLN(key, newLN(c.db.env, data.Data), false)
}

// putNoDupData -- insert unless the key and datum pair exists.
func (c *CursorImpl) putNoDupData(key []byte, data *DatabaseEntry) (common.OperationStatus, error) {
	if err := c.checkCursorState(false); err != nil {
		return common.KeyExist, err
	}
	if !c.db.sortedDuplicates {
		return common.KeyExist, errors.Wrapf(common.ErrNoDuplicates, "putNoDupData on %s", c.db.name)
	}
	return c.putLN(key, newLN(c.db.env, data.Data), true)
}

// spliceData -- apply a partial write to the old data: bytes before the
// partial offset are kept (zero filled past the old end), the partial length
// is replaced by the new bytes and the rest of the old data follows.
func spliceData(old []byte, data *DatabaseEntry) []byte {
	if !data.Partial {
		return common.CopyBytes(data.Data)
	}
	doff, dlen := data.PartialOffset, data.PartialLength
	origlen := len(old)
	oldlen := origlen
	if doff+dlen > origlen {
		oldlen = doff + dlen
	}
	newData := make([]byte, oldlen-dlen+len(data.Data))
	copy(newData, old[:min(doff, origlen)])
	pos := doff + copy(newData[doff:], data.Data)
	if rest := origlen - (doff + dlen); rest > 0 {
		copy(newData[pos:], old[doff+dlen:])
	}
	return newData
}

// putCurrent -- replace the data of the record at the current position.
// In a duplicate database the new datum must compare equal to the old one.
// foundKey and foundData, if given, receive the record as it was.
func (c *CursorImpl) putCurrent(data, foundKey, foundData *DatabaseEntry) (common.OperationStatus, error) {
	if err := c.checkCursorState(true); err != nil {
		return common.KeyEmpty, err
	}
	if c.latchBIN() == nil {
		return common.KeyEmpty, nil
	}
	c.latchDBIN()
	defer c.releaseBINs()
	c.setTargetBin()
	tb, ti := c.targetBin, c.targetIndex
	if ti < 0 || ti >= tb.nEntries() || tb.isEntryKnownDeleted(ti) {
		return common.KeyEmpty, nil
	}
	ln, dupRoot, err := tb.fetchTarget(ti)
	if err != nil {
		return common.KeyEmpty, err
	}
	if ln == nil || dupRoot != nil {
		return common.KeyEmpty, nil
	}
	res, err := c.lockLN(ln, common.LockWrite)
	if err != nil {
		return common.KeyEmpty, err
	}
	ln = res.ln
	if ln == nil {
		return common.KeyEmpty, nil
	}

	isDup := c.setTargetBin()
	tb, ti = c.targetBin, c.targetIndex
	lnKey := tb.getKey(ti)
	var oldData, oldKey []byte
	if isDup {
		oldData, oldKey = lnKey, tb.dupKey
	} else {
		oldData, oldKey = ln.data, lnKey
	}
	newData := spliceData(oldData, data)
	if c.db.sortedDuplicates &&
		common.CompareKeys(oldData, newData, c.db.dupComparator) != 0 {
		if err := c.revertLock(res.nodeID, res.grant); err != nil {
			return common.KeyEmpty, err
		}
		return common.KeyEmpty, errors.Wrapf(common.ErrDuplicateChange, "key %q", oldKey)
	}
	if foundData != nil {
		foundData.setData(oldData)
	}
	if foundKey != nil {
		foundKey.setData(oldKey)
	}

	oldLsn := tb.getLsn(ti)
	res.setAbortLsn(oldLsn)
	newLsn, err := ln.modify(newData, c.db, oldKey, oldLsn, c.locker)
	if err != nil {
		return common.KeyEmpty, err
	}
	tb.updateEntry(ti, ln, newLsn)
	c.dropObsoleteVersion(oldLsn, res)
	c.trace("putCurrent", tb, ln, ti, oldLsn, newLsn)
	c.status = cursorInitialized
	return common.Success, nil
}
