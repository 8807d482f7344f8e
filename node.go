// Use of this software is governed by an Apache 2.0
// licence which can be found in the license file

package txbtree

import (
	"fmt"

	"txbtree/common"

	"github.com/cockroachdb/errors"
	"github.com/golang/glog"
)

type nodeKind byte

const (
	kindIN   nodeKind = 1
	kindBIN  nodeKind = 2
	kindDIN  nodeKind = 3
	kindDBIN nodeKind = 4
)

func (k nodeKind) String() string {
	switch k {
	case kindIN:
		return "IN"
	case kindBIN:
		return "BIN"
	case kindDIN:
		return "DIN"
	case kindDBIN:
		return "DBIN"
	}
	return fmt.Sprintf("nodeKind(%d)", byte(k))
}

// binLevel -- level of bottom internal nodes, main tree and duplicate tree.
const binLevel = 1

// slot - one entry of a node.
// 'key' is the record key in a BIN, the record datum in a DBIN, and the
//       separator key in an IN or DIN.
// 'child' is the resident child node. For a BIN slot it is the root of the
//         key's duplicate tree, if one exists.
// 'ln' is the resident leaf record of a BIN or DBIN slot.
// 'lsn' locates the durable version of whatever the slot refers to, so a
//       non-resident LN or evicted BIN can be fetched back.
type slot struct {
	key            []byte
	child          *node
	ln             *LN
	lsn            common.LSN
	knownDeleted   bool
	pendingDeleted bool
}

// node - An internal node of the tree. Every kind shares the slot array:
// IN and DIN slots refer to child nodes, BIN slots refer to LNs or to the root
// of a duplicate tree, and DBIN slots refer to LNs.
// 'cursors' is the set of cursors registered on this node; it is read and
// written only while holding 'latch'.
// 'inMemorySize' is the size last charged to the memory budget.
// 'detached' is set until the node enters the cache and once it has been
// evicted or pruned from its parent; a detached node is not charged.
type node struct {
	id            int64
	db            *DatabaseImpl
	kind          nodeKind
	level         int
	latch         Latch
	slots         []slot
	identifierKey []byte
	dupKey        []byte
	dupCountLN    *DupCountLN
	dupCountLSN   common.LSN
	isRoot        bool
	detached      bool
	cursors       map[*CursorImpl]struct{}
	inMemorySize  int64
}

func newNode(db *DatabaseImpl, kind nodeKind, level int) *node {
	return newNodeWithID(db, db.env.nextNodeID(), kind, level)
}

func newNodeWithID(db *DatabaseImpl, id int64, kind nodeKind, level int) *node {
	n := &node{
		id:       id,
		db:       db,
		kind:     kind,
		level:    level,
		detached: true,
		cursors:  make(map[*CursorImpl]struct{}),
	}
	n.latch.init(&db.env.latchStats)
	n.slots = make([]slot, 0, n.maxEntries())
	return n
}

func (n *node) isBottom() bool {
	return n.kind == kindBIN || n.kind == kindDBIN
}

func (n *node) isDup() bool {
	return n.kind == kindDIN || n.kind == kindDBIN
}

func (n *node) maxEntries() int {
	if n.isDup() {
		return n.db.env.cfg.DupNodeMaxEntries
	}
	return n.db.env.cfg.NodeMaxEntries
}

func (n *node) nEntries() int {
	return len(n.slots)
}

func (n *node) isFull() bool {
	return len(n.slots) >= n.maxEntries()
}

// comparator -- slot keys of duplicate nodes are record data.
func (n *node) comparator() common.Comparator {
	if n.isDup() {
		return n.db.dupComparator
	}
	return n.db.keyComparator
}

func (n *node) getKey(i int) []byte {
	return n.slots[i].key
}

func (n *node) getLsn(i int) common.LSN {
	return n.slots[i].lsn
}

func (n *node) isEntryKnownDeleted(i int) bool {
	return n.slots[i].knownDeleted
}

func (n *node) isEntryPendingDeleted(i int) bool {
	return n.slots[i].pendingDeleted
}

func (n *node) setPendingDeleted(i int) {
	n.slots[i].pendingDeleted = true
}

// boundaryKey -- the key used to find this node again from the root: its
// last key when moving forward, its first when moving back.
func (n *node) boundaryKey(forward bool) []byte {
	if len(n.slots) == 0 {
		return n.identifierKey
	}
	if forward {
		return n.slots[len(n.slots)-1].key
	}
	return n.slots[0].key
}

// fetchChild -- the child node at slot i, faulting an evicted BIN back in.
// The caller holds the latch on n.
func (n *node) fetchChild(i int) (*node, error) {
	s := &n.slots[i]
	if s.child != nil {
		return s.child, nil
	}
	if n.isBottom() {
		return nil, nil
	}
	if s.lsn == common.NullLSN {
		return nil, errors.Wrapf(common.ErrCorruption,
			"%s %d slot %d has neither child nor lsn", n.kind, n.id, i)
	}
	env := n.db.env
	b, err := env.log.Read(s.lsn)
	if err != nil {
		return nil, errors.Wrapf(err, "fetching child of %s %d at lsn %d", n.kind, n.id, s.lsn)
	}
	child, err := decodeBIN(b, n.db)
	if err != nil {
		return nil, err
	}
	s.child = child
	env.addResident(child)
	n.updateMemorySize()
	if err := env.log.Delete(s.lsn); err != nil {
		glog.Warningf("unable to delete obsolete entry %d for %s %d: %v", s.lsn, child.kind, child.id, err)
	}
	s.lsn = common.NullLSN
	glog.V(2).Infof("faulted in %s %d under %s %d", child.kind, child.id, n.kind, n.id)
	return child, nil
}

// fetchLN -- the LN at slot i of a BIN or DBIN, reading it from the log if
// it is not resident. A nil LN with a nil error means the record is gone:
// either the slot is empty or the log entry of a deleted record has already
// been cleaned.
func (n *node) fetchLN(i int) (*LN, error) {
	s := &n.slots[i]
	if s.ln != nil || s.child != nil {
		return s.ln, nil
	}
	if s.lsn == common.NullLSN {
		return nil, nil
	}
	b, err := n.db.env.log.Read(s.lsn)
	if err != nil {
		if errors.Is(err, common.ErrNotFound) {
			if s.knownDeleted || s.pendingDeleted {
				return nil, nil
			}
			return nil, errors.Wrapf(common.ErrCorruption,
				"%s %d slot %d: lsn %d of a live record is gone", n.kind, n.id, i, s.lsn)
		}
		return nil, errors.Wrapf(err, "fetching record of %s %d slot %d", n.kind, n.id, i)
	}
	ln, err := decodeLN(b)
	if err != nil {
		return nil, err
	}
	s.ln = ln
	n.updateMemorySize()
	return ln, nil
}

// fetchTarget -- whatever slot i of a BIN refers to: an LN, or the root of a
// duplicate tree.
func (n *node) fetchTarget(i int) (*LN, *node, error) {
	if child := n.slots[i].child; child != nil {
		return nil, child, nil
	}
	ln, err := n.fetchLN(i)
	return ln, nil, err
}

// updateEntry -- record a new version of the LN at slot i.
func (n *node) updateEntry(i int, ln *LN, lsn common.LSN) {
	s := &n.slots[i]
	s.ln = ln
	s.lsn = lsn
	n.updateMemorySize()
}

// evictLN -- drop the resident LN at slot i; it can be fetched again by LSN.
// Returns the number of bytes released.
func (n *node) evictLN(i int) int64 {
	s := &n.slots[i]
	if s.ln == nil || s.lsn == common.NullLSN {
		return 0
	}
	before := n.inMemorySize
	s.ln = nil
	n.updateMemorySize()
	return before - n.inMemorySize
}

// evictLNs -- drop every resident LN. Returns the number of bytes released.
func (n *node) evictLNs() int64 {
	var freed int64
	for i := range n.slots {
		freed += n.evictLN(i)
	}
	return freed
}

func (n *node) hasResidentChildren() bool {
	for i := range n.slots {
		if n.slots[i].child != nil {
			return true
		}
	}
	return false
}

// changeDupCount -- adjust the count held by this duplicate root and log
// it. The caller holds the latch and the write lock on the count.
func (n *node) changeDupCount(delta int) error {
	dcl := n.dupCountLN
	dcl.dupCount += delta
	lsn, err := dcl.log(n.db.env)
	if err != nil {
		dcl.dupCount -= delta
		return err
	}
	old := n.dupCountLSN
	n.dupCountLSN = lsn
	if old != common.NullLSN {
		if err := n.db.env.log.Delete(old); err != nil {
			glog.Warningf("unable to delete obsolete count %d of %v: %v", old, n, err)
		}
	}
	return nil
}

// addCursor -- register c. The caller holds the latch.
func (n *node) addCursor(c *CursorImpl) {
	n.cursors[c] = struct{}{}
}

// removeCursor -- unregister c. The caller holds the latch.
func (n *node) removeCursor(c *CursorImpl) {
	delete(n.cursors, c)
}

func (n *node) nCursors() int {
	return len(n.cursors)
}

// isCursorAt -- whether a registered cursor is positioned on slot i.
func (n *node) isCursorAt(i int) bool {
	for c := range n.cursors {
		if n.kind == kindDBIN {
			if c.dupBin.Load() == n && c.dupIndex == i {
				return true
			}
		} else if c.bin.Load() == n && c.index == i {
			return true
		}
	}
	return false
}

// computeMemorySize -- what this node costs with its current slots and
// resident LNs. Resident child nodes are charged separately.
func (n *node) computeMemorySize() int64 {
	var size int64
	switch n.kind {
	case kindIN:
		size = inFixedOverhead
	case kindBIN:
		size = binFixedOverhead
	case kindDIN:
		size = dinFixedOverhead
	case kindDBIN:
		size = dbinFixedOverhead
	}
	size += int64(n.maxEntries()) * 3 * arrayItemOverhead
	if n.identifierKey != nil {
		size += byteArraySize(len(n.identifierKey))
	}
	if n.dupKey != nil {
		size += byteArraySize(len(n.dupKey))
	}
	if n.dupCountLN != nil {
		size += dupCountLNOverhead
	}
	for i := range n.slots {
		s := &n.slots[i]
		size += keyOverhead + byteArraySize(len(s.key))
		if s.ln != nil {
			size += s.ln.memorySize()
		}
	}
	return size
}

// updateMemorySize -- recompute this node's size and charge the difference.
// The caller holds the latch.
func (n *node) updateMemorySize() {
	newSize := n.computeMemorySize()
	delta := newSize - n.inMemorySize
	n.inMemorySize = newSize
	if delta != 0 && !n.detached {
		n.db.env.budget.UpdateTreeMemoryUsage(delta)
	}
}

func (n *node) String() string {
	return fmt.Sprintf("{%s %d level %d entries %d cursors %d}",
		n.kind, n.id, n.level, len(n.slots), len(n.cursors))
}
