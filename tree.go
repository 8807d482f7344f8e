// Use of this software is governed by an Apache 2.0
// licence which can be found in the license file

// This file implements searching the tree. Every descent is top-down with
// latch coupling: a child is latched before its parent is released, and no
// node ever latches its parent or a sibling it does not reach from above.

package txbtree

import (
	"fmt"
	"io"

	"txbtree/common"

	"github.com/golang/glog"
)

type searchType int

const (
	searchNormal searchType = iota
	searchLeft
	searchRight
)

// binBoundary -- whether the descent to a BIN always took the last (or
// first) slot, i.e. the BIN is the last (or first) in the tree.
type binBoundary struct {
	isLastBin  bool
	isFirstBin bool
}

// Tree - The tree of one database. 'rootLatch' protects 'root'; it is
// always taken before the root node's latch.
type Tree struct {
	db        *DatabaseImpl
	rootLatch Latch
	root      *node
}

func newTree(db *DatabaseImpl) *Tree {
	t := &Tree{db: db}
	t.rootLatch.init(&db.env.latchStats)
	return t
}

// latchRoot -- the root node, latched by o; nil for an empty tree.
func (t *Tree) latchRoot(o *latchOwner) *node {
	t.rootLatch.Acquire(o)
	defer t.rootLatch.Release(o)
	root := t.root
	if root != nil {
		root.latch.Acquire(o)
	}
	return root
}

// search - descend to the BIN covering key. The BIN is returned latched by
// o; nil means the tree is empty. 'boundary', if given, reports whether the
// BIN is the first or last one.
func (t *Tree) search(key []byte, st searchType, boundary *binBoundary,
	o *latchOwner) (*node, error) {

	root := t.latchRoot(o)
	if root == nil {
		return nil, nil
	}
	if boundary != nil {
		boundary.isLastBin = true
		boundary.isFirstBin = true
	}
	return t.searchSubTreeInternal(root, key, st, boundary, o)
}

// searchSubTree -- descend from the latched root of a duplicate tree to the
// DBIN covering datum.
func (t *Tree) searchSubTree(dupRoot *node, datum []byte, st searchType,
	o *latchOwner) (*node, error) {

	return t.searchSubTreeInternal(dupRoot, datum, st, nil, o)
}

func (t *Tree) searchSubTreeInternal(parent *node, key []byte, st searchType,
	boundary *binBoundary, o *latchOwner) (*node, error) {

	for !parent.isBottom() {
		var idx int
		switch st {
		case searchLeft:
			idx = 0
		case searchRight:
			idx = parent.nEntries() - 1
		default:
			idx = parent.findEntry(key, false, false)
		}
		if idx < 0 {
			idx = 0
		}
		if boundary != nil {
			boundary.isLastBin = boundary.isLastBin && idx == parent.nEntries()-1
			boundary.isFirstBin = boundary.isFirstBin && idx == 0
		}
		child, err := parent.fetchChild(idx)
		if err != nil {
			parent.latch.Release(o)
			return nil, err
		}
		child.latch.Acquire(o)
		parent.latch.Release(o)
		parent = child
	}
	t.db.env.touch(parent)
	return parent, nil
}

// getFirstNode -- the first BIN of the tree, or with a duplicate root, the
// first DBIN of that duplicate tree.
func (t *Tree) getFirstNode(dupRoot *node, o *latchOwner) (*node, error) {
	if dupRoot != nil {
		return t.searchSubTreeInternal(dupRoot, nil, searchLeft, nil, o)
	}
	return t.search(nil, searchLeft, nil, o)
}

func (t *Tree) getLastNode(dupRoot *node, o *latchOwner) (*node, error) {
	if dupRoot != nil {
		return t.searchSubTreeInternal(dupRoot, nil, searchRight, nil, o)
	}
	return t.search(nil, searchRight, nil, o)
}

// getNextBin -- the BIN (or DBIN, given the duplicate key of the tree it
// belongs to) following the one whose boundary key is idKey, latched by o.
// Nil means there is none. The caller holds no latch.
func (t *Tree) getNextBin(idKey, dupKey []byte, forward bool, o *latchOwner) (*node, error) {
	var top *node
	if dupKey != nil {
		bin, err := t.search(dupKey, searchNormal, nil, o)
		if err != nil || bin == nil {
			return nil, err
		}
		idx := bin.findEntry(dupKey, false, true)
		if idx < 0 || bin.slots[idx].child == nil {
			bin.latch.Release(o)
			return nil, nil
		}
		top = bin.slots[idx].child
		top.latch.Acquire(o)
		bin.latch.Release(o)
	} else {
		top = t.latchRoot(o)
		if top == nil {
			return nil, nil
		}
	}
	return t.siblingSearch(top, idKey, forward, o)
}

// siblingSearch -- descend from latched 'top' toward idKey, keeping the
// lowest node that has a slot beyond the path in the requested direction
// latched as the pivot. The next BIN is the leftmost (or rightmost) BIN
// under the pivot's adjacent slot.
func (t *Tree) siblingSearch(top *node, idKey []byte, forward bool, o *latchOwner) (*node, error) {
	var pivot *node
	pivotIdx := 0
	cur := top
	release := func() {
		cur.latch.ReleaseIfOwner(o)
		if pivot != nil {
			pivot.latch.ReleaseIfOwner(o)
		}
	}
	for !cur.isBottom() {
		idx := cur.findEntry(idKey, false, false)
		if idx < 0 {
			idx = 0
		}
		hasSibling := idx > 0
		if forward {
			hasSibling = idx+1 < cur.nEntries()
		}
		child, err := cur.fetchChild(idx)
		if err != nil {
			release()
			return nil, err
		}
		if hasSibling {
			if pivot != nil && pivot != cur {
				pivot.latch.Release(o)
			}
			pivot, pivotIdx = cur, idx
		}
		child.latch.Acquire(o)
		if cur != pivot {
			cur.latch.Release(o)
		}
		cur = child
	}
	cur.latch.Release(o)
	if pivot == nil {
		return nil, nil
	}
	nextIdx := pivotIdx - 1
	st := searchRight
	if forward {
		nextIdx = pivotIdx + 1
		st = searchLeft
	}
	next, err := pivot.fetchChild(nextIdx)
	if err != nil {
		pivot.latch.Release(o)
		return nil, err
	}
	next.latch.Acquire(o)
	pivot.latch.Release(o)
	return t.searchSubTreeInternal(next, nil, st, nil, o)
}

// getParentINForChildIN -- the main tree node whose slot refers to child,
// latched by o along with child, and that slot's index. Returns nil when child
// is the root or is no longer attached. The caller holds no latch.
func (t *Tree) getParentINForChildIN(child *node, o *latchOwner) (*node, int, error) {
	key := child.identifierKey
	parent := t.latchRoot(o)
	if parent == nil {
		return nil, -1, nil
	}
	if parent == child {
		parent.latch.Release(o)
		return nil, -1, nil
	}
	for parent.level > child.level && !parent.isBottom() {
		idx := parent.findEntry(key, false, false)
		if idx < 0 {
			idx = 0
		}
		next := parent.slots[idx].child
		if next == child {
			child.latch.Acquire(o)
			return parent, idx, nil
		}
		if next == nil || parent.level == child.level+1 {
			break
		}
		next.latch.Acquire(o)
		parent.latch.Release(o)
		parent = next
	}
	parent.latch.Release(o)
	return nil, -1, nil
}

// WriteTreeLayout -- dump every resident node, level by level.
func (t *Tree) WriteTreeLayout(writer io.Writer) {
	o := &latchOwner{}
	fmt.Fprintf(writer, "Dumping the tree layout.. \n")
	root := t.latchRoot(o)
	if root == nil {
		fmt.Fprintf(writer, "Tree is empty\n")
		return
	}
	level := []*node{root}
	root.latch.Release(o)
	for len(level) > 0 {
		var next []*node
		for i, n := range level {
			n.latch.Acquire(o)
			fmt.Fprintf(writer, "<%s :%d, level: %d, node: %v [%s]> ", n.kind, i, n.level, n, n.dumpSlots())
			for j := range n.slots {
				if c := n.slots[j].child; c != nil && !n.isBottom() {
					next = append(next, c)
				}
			}
			n.latch.Release(o)
		}
		fmt.Fprintf(writer, "\n")
		level = next
	}
	fmt.Fprintf(writer, "Done dumping the tree layout\n")
	fmt.Fprintf(writer, "----------------------------\n")
}

// WriteTree -- dump the BINs from left to right, optionally preceded by the
// layout. Evicted BINs are faulted in.
func (t *Tree) WriteTree(writer io.Writer, printLayout bool) error {
	if printLayout {
		t.WriteTreeLayout(writer)
	}
	o := &latchOwner{}
	bin, err := t.getFirstNode(nil, o)
	if err != nil {
		return err
	}
	if bin == nil {
		fmt.Fprintln(writer, "Tree is empty")
		return nil
	}
	index := 0
	for bin != nil {
		fmt.Fprintf(writer, "leaf node: %d %v\n", index, bin)
		for i := range bin.slots {
			s := &bin.slots[i]
			fmt.Fprintf(writer, "\t%q lsn %d", s.key, s.lsn)
			if s.child != nil {
				fmt.Fprintf(writer, " (%d duplicates)", s.child.dupCountLN.dupCount)
			}
			fmt.Fprintln(writer)
		}
		idKey := bin.boundaryKey(true)
		bin.latch.Release(o)
		if bin, err = t.getNextBin(idKey, nil, true, o); err != nil {
			return err
		}
		index++
	}
	glog.V(2).Infof("dumped %d BINs of db %d", index, t.db.id)
	return nil
}

// clear -- detach the whole tree and drop it from the cache and the log.
// Returns the number of live records it held. No cursor may be open on the
// database.
func (t *Tree) clear(o *latchOwner) (int64, error) {
	t.rootLatch.Acquire(o)
	root := t.root
	t.root = nil
	t.rootLatch.Release(o)
	if root == nil {
		return 0, nil
	}
	return t.releaseSubtree(root, o)
}

func (t *Tree) releaseSubtree(n *node, o *latchOwner) (int64, error) {
	env := t.db.env
	n.latch.Acquire(o)
	defer n.latch.Release(o)
	var count int64
	for i := range n.slots {
		s := &n.slots[i]
		switch {
		case s.child != nil:
			c, err := t.releaseSubtree(s.child, o)
			if err != nil {
				return count, err
			}
			count += c
		case !n.isBottom() && s.lsn != common.NullLSN:
			c, err := t.releaseEvictedBIN(s.lsn)
			if err != nil {
				return count, err
			}
			count += c
		case n.isBottom():
			if !s.knownDeleted && !s.pendingDeleted {
				count++
			}
			t.deleteLogEntry(s.lsn)
		}
	}
	if n.dupCountLN != nil {
		t.deleteLogEntry(n.dupCountLSN)
	}
	env.removeResident(n)
	return count, nil
}

// releaseEvictedBIN -- drop a BIN that is only in the log, along with the
// records it refers to.
func (t *Tree) releaseEvictedBIN(lsn common.LSN) (int64, error) {
	b, err := t.db.env.log.Read(lsn)
	if err != nil {
		return 0, err
	}
	bin, err := decodeBIN(b, t.db)
	if err != nil {
		return 0, err
	}
	var count int64
	for i := range bin.slots {
		s := &bin.slots[i]
		if !s.knownDeleted && !s.pendingDeleted {
			count++
		}
		t.deleteLogEntry(s.lsn)
	}
	t.deleteLogEntry(lsn)
	return count, nil
}

func (t *Tree) deleteLogEntry(lsn common.LSN) {
	if lsn == common.NullLSN {
		return
	}
	if err := t.db.env.log.Delete(lsn); err != nil {
		glog.Warningf("db %d: unable to delete entry %d: %v", t.db.id, lsn, err)
	}
}
