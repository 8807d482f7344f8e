// Use of this software is governed by an Apache 2.0
// licence which can be found in the license file

// This file implements the public cursor. A move runs on a duplicate of the
// engine cursor which replaces it only on success, so a failed move leaves
// the cursor where it was, and a move interrupted by an insert into the
// range being locked can simply be retried.

package txbtree

import (
	"txbtree/common"

	"github.com/cockroachdb/errors"
	"github.com/golang/glog"
)

// CursorConfig -- options of a new cursor.
// ReadUncommitted -- reads with LockDefault take no lock.
type CursorConfig struct {
	ReadUncommitted bool
}

// Cursor -- a handle on an engine cursor. Not safe for concurrent use.
type Cursor struct {
	db              *Database
	txn             *Transaction
	impl            *CursorImpl
	readUncommitted bool
}

func (c *Cursor) lockType(mode LockMode, rangeLock bool) common.LockType {
	if mode == LockDefault && c.readUncommitted {
		mode = LockReadUncommitted
	}
	return lockTypeFor(c.txn, mode, rangeLock)
}

func (c *Cursor) checkState(mustBeInitialized bool) error {
	if err := c.db.checkOpen(); err != nil {
		return err
	}
	return c.impl.checkCursorState(mustBeInitialized)
}

// move -- run op on a duplicate of the engine cursor, positioned where the
// cursor is when samePosition is set, and adopt it on success.
func (c *Cursor) move(samePosition bool, lt common.LockType,
	op func(ci *CursorImpl) (OperationStatus, error)) (OperationStatus, error) {

	for {
		dup := c.impl.dup(samePosition)
		st, err := op(dup)
		dup.releaseBINs()
		if errors.Is(err, errRangeRestart) {
			glog.V(2).Infof("cursor %d: range restart", c.impl.id)
			_ = dup.close()
			continue
		}
		if err == nil && st == NotFound && lt.IsRange() {
			err = dup.lockEofNode(lt)
		}
		if err != nil || st != Success {
			if cerr := dup.close(); err == nil {
				err = cerr
			}
			return st, err
		}
		if cerr := c.impl.close(); cerr != nil {
			glog.Warningf("cursor %d: closing replaced cursor: %v", c.impl.id, cerr)
		}
		c.impl = dup
		return Success, nil
	}
}

// endWrite -- a cursor without a transaction holds its write locks only for
// the duration of the write.
func (c *Cursor) endWrite() error {
	if c.txn != nil {
		return nil
	}
	return c.impl.locker.ReleaseNonTxnLocks()
}

func (c *Cursor) position(first bool, key, data *DatabaseEntry, mode LockMode) (OperationStatus, error) {
	if err := c.checkState(false); err != nil {
		return NotFound, err
	}
	lt := c.lockType(mode, true)
	return c.move(false, lt, func(ci *CursorImpl) (OperationStatus, error) {
		found, err := ci.positionFirstOrLast(first, nil)
		if err != nil || !found {
			return NotFound, err
		}
		st, err := ci.getCurrentAlreadyLatched(key, data, lt, first)
		if err != nil || st == Success {
			return st, err
		}
		return ci.getNext(key, data, lt, first, false)
	})
}

// GetFirst -- move to the first record.
func (c *Cursor) GetFirst(key, data *DatabaseEntry, mode LockMode) (OperationStatus, error) {
	return c.position(true, key, data, mode)
}

// GetLast -- move to the last record.
func (c *Cursor) GetLast(key, data *DatabaseEntry, mode LockMode) (OperationStatus, error) {
	return c.position(false, key, data, mode)
}

func (c *Cursor) next(forward, noDup bool, key, data *DatabaseEntry, mode LockMode) (OperationStatus, error) {
	if err := c.checkState(false); err != nil {
		return NotFound, err
	}
	if c.impl.isNotInitialized() {
		return c.position(forward, key, data, mode)
	}
	lt := c.lockType(mode, true)
	return c.move(true, lt, func(ci *CursorImpl) (OperationStatus, error) {
		if noDup {
			return ci.getNextNoDup(key, data, lt, forward, false)
		}
		return ci.getNext(key, data, lt, forward, false)
	})
}

// GetNext -- move to the next record; an unpositioned cursor moves to the
// first.
func (c *Cursor) GetNext(key, data *DatabaseEntry, mode LockMode) (OperationStatus, error) {
	return c.next(true, false, key, data, mode)
}

// GetPrev -- move to the previous record; an unpositioned cursor moves to
// the last.
func (c *Cursor) GetPrev(key, data *DatabaseEntry, mode LockMode) (OperationStatus, error) {
	return c.next(false, false, key, data, mode)
}

// GetNextNoDup -- move to the first record of the next key.
func (c *Cursor) GetNextNoDup(key, data *DatabaseEntry, mode LockMode) (OperationStatus, error) {
	return c.next(true, true, key, data, mode)
}

// GetPrevNoDup -- move to the last record of the previous key.
func (c *Cursor) GetPrevNoDup(key, data *DatabaseEntry, mode LockMode) (OperationStatus, error) {
	return c.next(false, true, key, data, mode)
}

func (c *Cursor) nextDup(forward bool, key, data *DatabaseEntry, mode LockMode) (OperationStatus, error) {
	if err := c.checkState(true); err != nil {
		return NotFound, err
	}
	lt := c.lockType(mode, true)
	return c.move(true, lt, func(ci *CursorImpl) (OperationStatus, error) {
		if ci.dupBin.Load() == nil {
			return NotFound, nil
		}
		defer ci.flushDBINToBeRemoved()
		return ci.getNextDuplicate(key, data, lt, forward, false)
	})
}

// GetNextDup -- move to the next datum of the current key.
func (c *Cursor) GetNextDup(key, data *DatabaseEntry, mode LockMode) (OperationStatus, error) {
	return c.nextDup(true, key, data, mode)
}

// GetPrevDup -- move to the previous datum of the current key.
func (c *Cursor) GetPrevDup(key, data *DatabaseEntry, mode LockMode) (OperationStatus, error) {
	return c.nextDup(false, key, data, mode)
}

// GetCurrent -- the record at the cursor. KeyEmpty means it was deleted.
func (c *Cursor) GetCurrent(key, data *DatabaseEntry, mode LockMode) (OperationStatus, error) {
	if err := c.checkState(true); err != nil {
		return NotFound, err
	}
	return c.impl.getCurrent(key, data, c.lockType(mode, false))
}

func (c *Cursor) search(key, data *DatabaseEntry, searchMode common.SearchMode,
	mode LockMode) (OperationStatus, error) {

	if err := c.checkState(false); err != nil {
		return NotFound, err
	}
	if key == nil || key.Data == nil {
		return NotFound, errors.Wrapf(common.ErrInvalidParam, "search without a key")
	}
	matchKey := common.CopyBytes(key.Data)
	var matchData []byte
	if searchMode.IsDataSearch() {
		if data == nil {
			return NotFound, errors.Wrapf(common.ErrInvalidParam, "%v without data", searchMode)
		}
		matchData = common.CopyBytes(data.Data)
	}
	rangeLock := !searchMode.IsExactSearch()
	lt := c.lockType(mode, rangeLock)
	// The caller's entries are filled in only when the search succeeds.
	foundKey := *key
	var foundData *DatabaseEntry
	if data != nil {
		d := *data
		foundData = &d
	}
	st, err := c.move(false, lt, func(ci *CursorImpl) (OperationStatus, error) {
		return c.searchImpl(ci, matchKey, matchData, searchMode, lt, &foundKey, foundData)
	})
	if err == nil && st == Success {
		*key = foundKey
		if data != nil {
			*data = *foundData
		}
	}
	return st, err
}

func (c *Cursor) searchImpl(ci *CursorImpl, matchKey, matchData []byte,
	searchMode common.SearchMode, lt common.LockType,
	key, data *DatabaseEntry) (OperationStatus, error) {

	res, err := ci.searchAndPosition(matchKey, matchData, searchMode, lt)
	if err != nil {
		return NotFound, err
	}
	if res&common.Found == 0 {
		return NotFound, nil
	}
	exactKey := res&common.ExactKey != 0
	var st OperationStatus
	switch searchMode {
	case common.SearchSet:
		st, err = ci.getCurrentAlreadyLatched(key, data, lt, true)
		if err == nil && st != Success && ci.dupBin.Load() != nil {
			// The first duplicate is deleted; a later one of the same key
			// may not be.
			st, err = ci.getNextDuplicate(key, data, lt, true, false)
			ci.flushDBINToBeRemoved()
		}
		if err != nil || st != Success {
			return NotFound, err
		}
		return Success, nil

	case common.SearchBoth:
		if res&common.ExactData == 0 {
			return NotFound, nil
		}
		st, err = ci.getCurrentAlreadyLatched(key, data, lt, true)
		if st == KeyEmpty {
			st = NotFound
		}
		return st, err

	case common.SearchSetRange:
		if exactKey {
			st, err = ci.getCurrentAlreadyLatched(key, data, lt, true)
			if err != nil || st == Success {
				return st, err
			}
			return ci.getNext(key, data, lt, true, false)
		}
		return ci.getNext(key, data, lt, true, true)
	}

	// SearchBothRange: the smallest datum of the key not below the one
	// given.
	if !exactKey {
		return NotFound, nil
	}
	if res&common.ExactData != 0 {
		st, err = ci.getCurrentAlreadyLatched(key, data, lt, true)
		if err == nil && st != Success {
			st, err = ci.getNext(key, data, lt, true, false)
		}
	} else if ci.dupBin.Load() != nil {
		st, err = ci.getNextDuplicate(key, data, lt, true, true)
		ci.flushDBINToBeRemoved()
	} else {
		st, err = ci.getNext(key, data, lt, true, true)
	}
	if err != nil || st != Success {
		return NotFound, err
	}
	if common.CompareKeys(key.Data, matchKey, c.db.impl.keyComparator) != 0 {
		return NotFound, nil
	}
	return Success, nil
}

// GetSearchKey -- move to the first record with key.
func (c *Cursor) GetSearchKey(key, data *DatabaseEntry, mode LockMode) (OperationStatus, error) {
	return c.search(key, data, common.SearchSet, mode)
}

// GetSearchKeyRange -- move to the first record whose key is not below key.
func (c *Cursor) GetSearchKeyRange(key, data *DatabaseEntry, mode LockMode) (OperationStatus, error) {
	return c.search(key, data, common.SearchSetRange, mode)
}

// GetSearchBoth -- move to the record with key and datum.
func (c *Cursor) GetSearchBoth(key, data *DatabaseEntry, mode LockMode) (OperationStatus, error) {
	return c.search(key, data, common.SearchBoth, mode)
}

// GetSearchBothRange -- move to the first record with key whose datum is
// not below data.
func (c *Cursor) GetSearchBothRange(key, data *DatabaseEntry, mode LockMode) (OperationStatus, error) {
	return c.search(key, data, common.SearchBothRange, mode)
}

// lockNextKey -- in a serializable transaction, lock the record that will
// follow the new one so that a range reader there sees the insert as a
// conflict.
func (c *Cursor) lockNextKey(key, data []byte) error {
	if !c.txn.isSerializable() {
		return nil
	}
	for {
		tmp := c.impl.dup(false)
		err := tmp.lockNextKeyForInsert(key, data)
		tmp.releaseBINs()
		if cerr := tmp.close(); err == nil {
			err = cerr
		}
		if !errors.Is(err, errRangeRestart) {
			return err
		}
	}
}

func (c *Cursor) put(key, data *DatabaseEntry,
	op func(key []byte, data *DatabaseEntry) (OperationStatus, error)) (OperationStatus, error) {

	if err := c.checkState(false); err != nil {
		return KeyExist, err
	}
	if key == nil || data == nil {
		return KeyExist, errors.Wrapf(common.ErrInvalidParam, "put without a key or data")
	}
	if err := c.lockNextKey(key.Data, data.Data); err != nil {
		return KeyExist, err
	}
	st, err := op(common.CopyBytes(key.Data), data)
	if werr := c.endWrite(); err == nil {
		err = werr
	}
	return st, err
}

// Put -- store the record; an existing key has its data replaced or, with
// duplicates, gains the datum. The cursor is left on the record.
func (c *Cursor) Put(key, data *DatabaseEntry) (OperationStatus, error) {
	return c.put(key, data, func(k []byte, d *DatabaseEntry) (OperationStatus, error) {
		return c.impl.put(k, d, nil)
	})
}

// PutNoOverwrite -- store the record unless the key exists.
func (c *Cursor) PutNoOverwrite(key, data *DatabaseEntry) (OperationStatus, error) {
	return c.put(key, data, c.impl.putNoOverwrite)
}

// PutNoDupData -- store the record unless the key and datum pair exists.
func (c *Cursor) PutNoDupData(key, data *DatabaseEntry) (OperationStatus, error) {
	return c.put(key, data, c.impl.putNoDupData)
}

// PutCurrent -- replace the data of the record at the cursor. A partial
// data entry replaces only its range.
func (c *Cursor) PutCurrent(data *DatabaseEntry) (OperationStatus, error) {
	if err := c.checkState(true); err != nil {
		return KeyEmpty, err
	}
	st, err := c.impl.putCurrent(data, nil, nil)
	if werr := c.endWrite(); err == nil {
		err = werr
	}
	return st, err
}

// Delete -- delete the record at the cursor, which stays where it is.
func (c *Cursor) Delete() (OperationStatus, error) {
	if err := c.checkState(true); err != nil {
		return KeyEmpty, err
	}
	st, err := c.impl.delete()
	if werr := c.endWrite(); err == nil {
		err = werr
	}
	return st, err
}

// Count -- number of records with the current key.
func (c *Cursor) Count() (int, error) {
	if err := c.checkState(true); err != nil {
		return 0, err
	}
	return c.impl.count(c.lockType(LockDefault, false))
}

// Dup -- a new cursor under the same transaction, at the same position if
// samePosition is set.
func (c *Cursor) Dup(samePosition bool) (*Cursor, error) {
	if err := c.checkState(false); err != nil {
		return nil, err
	}
	return &Cursor{db: c.db, txn: c.txn, impl: c.impl.dup(samePosition),
		readUncommitted: c.readUncommitted}, nil
}

func (c *Cursor) Close() error {
	if c.impl.isClosed() {
		return nil
	}
	return c.impl.close()
}
