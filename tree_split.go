// Use of this software is governed by an Apache 2.0
// licence which can be found in the license file

// This file implements insertion into the tree. Nodes are split on the way
// down, before they are needed, so a parent always has room for the slot a
// child split adds. Duplicate trees are created when a second datum is
// inserted for a key of a database with sorted duplicates.

package txbtree

import (
	"txbtree/common"

	"github.com/cockroachdb/errors"
	"github.com/golang/glog"
)

// split -- move the upper half of the latched, full child into a new
// sibling and add the sibling to the latched parent after childIdx. Returns
// the sibling, latched by o.
func (t *Tree) split(parent, child *node, childIdx int, o *latchOwner) *node {
	env := t.db.env
	mid := child.nEntries() / 2
	sib := newNode(t.db, child.kind, child.level)
	sib.dupKey = child.dupKey
	sib.latch.Acquire(o)
	child.moveSlotsTo(sib, mid)
	env.addResident(sib)
	child.updateMemorySize()
	parent.insertEntryAt(childIdx+1, slot{key: sib.identifierKey, child: sib})
	env.metrics.splits.Inc()
	glog.V(1).Infof("split %v at %d into %v under %v", child, mid, sib, parent)
	return sib
}

// descendForInsert -- from latched 'top', descend toward key splitting any
// full node met on the way. 'top' is released unless keepTop is set.
func (t *Tree) descendForInsert(top *node, key []byte, keepTop bool, o *latchOwner) (*node, error) {
	parent := top
	for !parent.isBottom() {
		idx := parent.findEntry(key, false, false)
		if idx < 0 {
			idx = 0
		}
		child, err := parent.fetchChild(idx)
		if err != nil {
			parent.latch.Release(o)
			if parent != top && keepTop {
				top.latch.Release(o)
			}
			return nil, err
		}
		child.latch.Acquire(o)
		if child.isFull() {
			sib := t.split(parent, child, idx, o)
			if common.CompareKeys(key, sib.identifierKey, child.comparator()) >= 0 {
				child.latch.Release(o)
				child = sib
			} else {
				sib.latch.Release(o)
			}
		}
		if parent != top || !keepTop {
			parent.latch.Release(o)
		}
		parent = child
	}
	t.db.env.touch(parent)
	return parent, nil
}

// findBinForInsert -- the BIN key belongs in, latched by o and not full.
// Creates the root when the tree is empty and splits a full root.
func (t *Tree) findBinForInsert(key []byte, o *latchOwner) (*node, error) {
	env := t.db.env
	t.rootLatch.Acquire(o)
	if t.root == nil {
		root := newNode(t.db, kindBIN, binLevel)
		root.isRoot = true
		env.addResident(root)
		t.root = root
	}
	root := t.root
	root.latch.Acquire(o)
	if root.isFull() {
		newRoot := newNode(t.db, kindIN, root.level+1)
		newRoot.isRoot = true
		newRoot.identifierKey = root.identifierKey
		newRoot.slots = append(newRoot.slots, slot{key: root.identifierKey, child: root})
		newRoot.latch.Acquire(o)
		env.addResident(newRoot)
		root.isRoot = false
		sib := t.split(newRoot, root, 0, o)
		t.root = newRoot
		sib.latch.Release(o)
		root.latch.Release(o)
		root = newRoot
		glog.V(1).Infof("db %d: new root %v", t.db.id, newRoot)
	}
	t.rootLatch.Release(o)
	return t.descendForInsert(root, key, false, o)
}

// lockOrRetry -- take lt on nodeID without waiting since latches are held.
// If that is refused, release 'latched', wait for the lock and report that
// the caller must start over.
func (t *Tree) lockOrRetry(locker Locker, nodeID int64, lt common.LockType,
	o *latchOwner, latched ...*node) (bool, error) {

	releaseAll := func() {
		for _, n := range latched {
			n.latch.ReleaseIfOwner(o)
		}
	}
	res, err := locker.NonBlockingLock(nodeID, lt)
	if err != nil {
		releaseAll()
		return false, err
	}
	if res.grant != common.GrantDenied {
		return false, nil
	}
	releaseAll()
	if locker.DefaultNoWait() {
		return false, errors.Wrapf(common.ErrLockNotGranted,
			"%s lock on record %d, locker %d", lt, nodeID, locker.ID())
	}
	if _, err := locker.Lock(nodeID, lt, false); err != nil {
		return false, err
	}
	return true, nil
}

// insert - add ln under key. Returns false, with the cursor positioned on the
// existing record, when the key (or with duplicates, the key and datum) is
// already present. Otherwise the cursor is positioned on the new record.
// The cursor holds no latch and no position on entry.
func (t *Tree) insert(ln *LN, key []byte, allowDuplicates bool, c *CursorImpl) (bool, error) {
	o := &c.owner
	allowDuplicates = allowDuplicates && t.db.sortedDuplicates
	for {
		bin, err := t.findBinForInsert(key, o)
		if err != nil {
			return false, err
		}
		idx := bin.findEntry(key, true, false)
		if idx >= 0 && idx&exactMatch != 0 {
			inserted, retry, err := t.insertIntoExisting(bin, idx&indexMask, ln, key, allowDuplicates, c)
			if retry && err == nil {
				continue
			}
			return inserted, err
		}
		lsn, err := ln.log(t.db.env)
		if err != nil {
			bin.latch.Release(o)
			return false, err
		}
		newIdx := idx + 1
		bin.insertEntryAt(newIdx, slot{key: common.CopyBytes(key), ln: ln, lsn: lsn})
		c.updateBin(bin, newIdx)
		bin.latch.Release(o)
		glog.V(1).Infof("db %d: insert %q ln %d lsn %d", t.db.id, key, ln.nodeID, lsn)
		return true, nil
	}
}

// reuseSlot -- put ln into the deleted slot idx of the latched bin.
func (t *Tree) reuseSlot(bin *node, idx int, ln *LN, c *CursorImpl) (bool, bool, error) {
	o := &c.owner
	lsn, err := ln.log(t.db.env)
	if err != nil {
		bin.latch.Release(o)
		return false, false, err
	}
	s := &bin.slots[idx]
	oldLsn := s.lsn
	s.knownDeleted = false
	s.pendingDeleted = false
	bin.updateEntry(idx, ln, lsn)
	if oldLsn != common.NullLSN {
		if err := t.db.env.log.Delete(oldLsn); err != nil {
			glog.Warningf("db %d: unable to delete tombstone %d: %v", t.db.id, oldLsn, err)
		}
	}
	if bin.kind == kindDBIN {
		c.updateDBin(bin, idx)
	} else {
		c.updateBin(bin, idx)
	}
	glog.V(1).Infof("db %d: reuse deleted slot %d of %v for ln %d", t.db.id, idx, bin, ln.nodeID)
	return true, false, nil
}

func (t *Tree) insertIntoExisting(bin *node, idx int, ln *LN, key []byte,
	allowDuplicates bool, c *CursorImpl) (bool, bool, error) {

	o := &c.owner
	s := &bin.slots[idx]
	if s.child != nil {
		if !allowDuplicates {
			c.updateBin(bin, idx)
			bin.latch.Release(o)
			return false, false, nil
		}
		return t.insertDuplicate(bin, idx, ln, c)
	}
	if s.knownDeleted {
		inserted, retry, err := t.reuseSlot(bin, idx, ln, c)
		bin.latch.ReleaseIfOwner(o)
		return inserted, retry, err
	}
	existing, err := bin.fetchLN(idx)
	if err != nil {
		bin.latch.Release(o)
		return false, false, err
	}
	if existing == nil || existing.deleted {
		// The deleter may not have committed yet.
		if existing != nil {
			if retry, err := t.lockOrRetry(c.locker, existing.nodeID, common.LockWrite, o, bin); err != nil || retry {
				return false, retry, err
			}
		}
		inserted, retry, err := t.reuseSlot(bin, idx, ln, c)
		bin.latch.ReleaseIfOwner(o)
		return inserted, retry, err
	}
	if !allowDuplicates ||
		common.CompareKeys(existing.data, ln.data, t.db.dupComparator) == 0 {
		c.updateBin(bin, idx)
		bin.latch.Release(o)
		return false, false, nil
	}
	if retry, err := t.lockOrRetry(c.locker, existing.nodeID, common.LockWrite, o, bin); err != nil || retry {
		return false, retry, err
	}
	t.createDuplicateTree(bin, idx, existing)
	return t.insertDuplicate(bin, idx, ln, c)
}

// createDuplicateTree -- replace the single record at slot idx of the
// latched bin with a duplicate tree holding it. Cursors on the record move
// into the duplicate tree.
func (t *Tree) createDuplicateTree(bin *node, idx int, existing *LN) {
	env := t.db.env
	s := &bin.slots[idx]
	datum := common.CopyBytes(existing.data)

	dbin := newNode(t.db, kindDBIN, binLevel)
	dbin.dupKey = s.key
	dbin.identifierKey = datum
	dbin.slots = append(dbin.slots, slot{key: datum, ln: existing, lsn: s.lsn})

	din := newNode(t.db, kindDIN, binLevel+1)
	din.dupKey = s.key
	din.isRoot = true
	din.identifierKey = datum
	din.dupCountLN = &DupCountLN{nodeID: env.nextNodeID(), dupCount: 1}
	din.slots = append(din.slots, slot{key: datum, child: dbin})

	env.addResident(din)
	env.addResident(dbin)
	s.child = din
	s.ln = nil
	s.lsn = common.NullLSN
	bin.updateMemorySize()

	for cur := range bin.cursors {
		if cur.bin.Load() == bin && cur.index == idx && cur.dupBin.Load() == nil {
			cur.dupBin.Store(dbin)
			cur.dupIndex = 0
			dbin.addCursor(cur)
		}
	}
	glog.V(1).Infof("db %d: created duplicate tree %v for key %q", t.db.id, din, s.key)
}

// splitDupRoot -- grow the duplicate tree rooted at the latched, full din
// by one level. The bin holding the root is latched. Returns the new root,
// latched by o; din is released.
func (t *Tree) splitDupRoot(bin *node, idx int, din *node, o *latchOwner) *node {
	env := t.db.env
	newRoot := newNode(t.db, kindDIN, din.level+1)
	newRoot.dupKey = din.dupKey
	newRoot.isRoot = true
	newRoot.identifierKey = din.identifierKey
	newRoot.dupCountLN = din.dupCountLN
	newRoot.dupCountLSN = din.dupCountLSN
	newRoot.slots = append(newRoot.slots, slot{key: din.identifierKey, child: din})
	newRoot.latch.Acquire(o)
	env.addResident(newRoot)

	din.dupCountLN = nil
	din.dupCountLSN = common.NullLSN
	din.isRoot = false
	din.updateMemorySize()
	sib := t.split(newRoot, din, 0, o)
	sib.latch.Release(o)
	din.latch.Release(o)

	bin.slots[idx].child = newRoot
	glog.V(1).Infof("db %d: new duplicate root %v for key %q", t.db.id, newRoot, bin.slots[idx].key)
	return newRoot
}

// insertDuplicate -- add ln to the duplicate tree at slot idx of the
// latched bin. Every latch is released on return.
func (t *Tree) insertDuplicate(bin *node, idx int, ln *LN, c *CursorImpl) (bool, bool, error) {
	o := &c.owner
	env := t.db.env
	din := bin.slots[idx].child
	din.latch.Acquire(o)
	if retry, err := t.lockOrRetry(c.locker, din.dupCountLN.nodeID, common.LockWrite, o, din, bin); err != nil || retry {
		return false, retry, err
	}
	if din.isFull() {
		din = t.splitDupRoot(bin, idx, din, o)
	}
	c.updateBin(bin, idx)
	bin.latch.Release(o)

	datum := ln.data
	dbin, err := t.descendForInsert(din, datum, true, o)
	if err != nil {
		din.latch.ReleaseIfOwner(o)
		return false, false, err
	}
	releaseBoth := func() {
		dbin.latch.ReleaseIfOwner(o)
		din.latch.ReleaseIfOwner(o)
	}
	didx := dbin.findEntry(datum, true, false)
	if didx >= 0 && didx&exactMatch != 0 {
		didx &= indexMask
		ds := &dbin.slots[didx]
		var existing *LN
		if !ds.knownDeleted {
			if existing, err = dbin.fetchLN(didx); err != nil {
				releaseBoth()
				return false, false, err
			}
		}
		if existing != nil && !existing.deleted {
			c.updateDBin(dbin, didx)
			releaseBoth()
			return false, false, nil
		}
		if existing != nil {
			if retry, err := t.lockOrRetry(c.locker, existing.nodeID, common.LockWrite, o, dbin, din); err != nil || retry {
				return false, retry, err
			}
		}
		if _, _, err := t.reuseSlot(dbin, didx, ln, c); err != nil {
			din.latch.Release(o)
			return false, false, err
		}
	} else {
		lsn, err := ln.log(env)
		if err != nil {
			releaseBoth()
			return false, false, err
		}
		didx++
		dbin.insertEntryAt(didx, slot{key: common.CopyBytes(datum), ln: ln, lsn: lsn})
		c.updateDBin(dbin, didx)
	}
	if err := din.changeDupCount(1); err != nil {
		releaseBoth()
		return false, false, err
	}
	glog.V(1).Infof("db %d: insert duplicate %q/%q ln %d, count %d",
		t.db.id, din.dupKey, datum, ln.nodeID, din.dupCountLN.dupCount)
	releaseBoth()
	return true, false, nil
}
