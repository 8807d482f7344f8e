// Use of this software is governed by an Apache 2.0
// licence which can be found in the license file

package txbtree

import (
	"txbtree/common"
)

// searchAndPosition -- position the cursor for matchKey (and matchData,
// for the data search modes). A range search that matches nothing exactly
// still reports found, leaving the cursor just before the first candidate
// so that moving forward reaches it. On return the position is latched
// unless an error is returned.
func (c *CursorImpl) searchAndPosition(matchKey, matchData []byte, mode common.SearchMode,
	lt common.LockType) (int, error) {

	c.removeCursor()
	c.flushBINToBeRemoved()
	c.flushDBINToBeRemoved()
	c.bin.Store(nil)
	c.dupBin.Store(nil)
	c.index = -1
	c.dupIndex = -1
	c.relatched = false

	o := &c.owner
	exactSearch := mode.IsExactSearch()
	foundSomething, foundExactKey, foundExactData, foundLast := false, false, false, false
	var boundary binBoundary

	bin, err := c.db.tree.search(matchKey, searchNormal, &boundary, o)
	if err != nil {
		return 0, err
	}
	c.status = cursorInitialized
	if bin == nil {
		return 0, nil
	}
	c.addCursor(bin)
	c.bin.Store(bin)
	c.visitBIN(bin)
	idx := bin.findEntry(matchKey, true, exactSearch)
	foundSomething = !exactSearch
	if idx >= 0 {
		if idx&exactMatch != 0 {
			foundExactKey = true
			idx &= indexMask
		}
		c.index = idx
		var ln *LN
		var dupRoot *node
		if !bin.isEntryKnownDeleted(idx) {
			if ln, dupRoot, err = bin.fetchTarget(idx); err != nil {
				c.releaseBINs()
				return 0, err
			}
		}
		containsDuplicates := dupRoot != nil
		if ln != nil || dupRoot != nil {
			if mode.IsDataSearch() {
				if foundExactKey {
					res, err := c.searchAndPositionBoth(ln, dupRoot, matchData, exactSearch, lt)
					if err != nil {
						return 0, err
					}
					foundSomething = res&common.Found != 0
					foundExactData = res&common.ExactData != 0
				}
			} else {
				foundSomething = true
				if !containsDuplicates && exactSearch {
					res, err := c.lockLN(ln, lt)
					if err != nil {
						return 0, err
					}
					if res.ln == nil {
						foundSomething = false
					}
				}
			}
		}
		foundLast = mode == common.SearchSetRange && foundSomething && !containsDuplicates &&
			!c.relatched && boundary.isLastBin && c.index == bin.nEntries()-1
	}

	res := 0
	if foundSomething {
		res |= common.Found
	}
	if foundExactKey {
		res |= common.ExactKey
	}
	if foundExactData {
		res |= common.ExactData
	}
	if foundLast {
		res |= common.FoundLast
	}
	return res, nil
}

// searchAndPositionBoth -- match the datum once the key matched exactly.
// With a duplicate tree (dupRoot) the search descends into it and leaves
// the DBIN latched in place of the BIN; otherwise the single record's data
// is compared under its lock.
func (c *CursorImpl) searchAndPositionBoth(ln *LN, dupRoot *node, matchData []byte,
	exactSearch bool, lt common.LockType) (int, error) {

	o := &c.owner
	found, foundExactData := false, false
	if dupRoot != nil {
		dupRoot.latch.Acquire(o)
		c.releaseBIN()
		dbin, err := c.db.tree.searchSubTree(dupRoot, matchData, searchNormal, o)
		if err != nil {
			return 0, err
		}
		if dbin != nil {
			c.addCursor(dbin)
			c.dupBin.Store(dbin)
			c.visitBIN(dbin)
			didx := dbin.findEntry(matchData, true, exactSearch)
			if didx >= 0 {
				if didx&exactMatch != 0 {
					foundExactData = true
				}
				c.dupIndex = didx & indexMask
				found = true
			} else {
				c.dupIndex = -1
				found = !exactSearch
			}
		}
	} else {
		res, err := c.lockLN(ln, lt)
		if err != nil {
			return 0, err
		}
		if res.ln == nil {
			found = !exactSearch
		} else {
			cmp := common.CompareKeys(res.ln.data, matchData, c.db.dupComparator)
			if cmp == 0 || (cmp <= 0 && !exactSearch) {
				foundExactData = cmp == 0
				found = true
			} else {
				// The only datum is past the target; step back so that
				// moving forward lands on it.
				c.index--
				found = !exactSearch
			}
		}
	}
	res := 0
	if found {
		res |= common.Found
	}
	if foundExactData {
		res |= common.ExactData
	}
	return res, nil
}

// lockNextKeyForInsert -- lock the record that will follow key (and data)
// once it is inserted, or the end of database sentinel, with RangeInsert.
// A serializable reader holding a range lock there blocks the insert.
func (c *CursorImpl) lockNextKeyForInsert(key, data []byte) error {
	mode := common.SearchSetRange
	if c.db.sortedDuplicates {
		mode = common.SearchBothRange
	}
	lockedNextKey := false
	res, err := c.searchAndPosition(key, data, mode, common.LockRangeInsert)
	if err != nil {
		return err
	}
	if res&common.Found != 0 && res&common.FoundLast == 0 {
		var st common.OperationStatus
		if res&common.ExactKey != 0 {
			st, err = c.getNext(nil, nil, common.LockRangeInsert, true, true)
		} else {
			st, err = c.getNextNoDup(nil, nil, common.LockRangeInsert, true, true)
		}
		if err != nil {
			return err
		}
		lockedNextKey = st == common.Success
	} else {
		c.releaseBINs()
	}
	if !lockedNextKey {
		return c.lockEofNode(common.LockRangeInsert)
	}
	return nil
}
