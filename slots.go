// Use of this software is governed by an Apache 2.0
// licence which can be found in the license file

package txbtree

import (
	"fmt"
	"strings"

	"txbtree/common"

	"github.com/cockroachdb/errors"
)

// exactMatch -- set in the result of findEntry when the key was found exactly.
const (
	exactMatch = 1 << 16
	indexMask  = exactMatch - 1
)

// entryZeroKeyComparesLow -- the first separator of an upper node covers
// every key smaller than the second, whatever its stored value.
func (n *node) entryZeroKeyComparesLow() bool {
	return n.kind == kindIN || n.kind == kindDIN
}

// findEntry - binary search for key among the slots.
// With 'exact', returns the index of the slot holding key or -1 when the key
// is absent or its slot is known deleted. Otherwise returns the greatest index
// whose key is <= key, or -1 when key sorts before every slot.
// With 'indicateIfDuplicate', an exact hit is or'd with exactMatch.
func (n *node) findEntry(key []byte, indicateIfDuplicate, exact bool) int {
	cmp := n.comparator()
	entryZeroLow := n.entryZeroKeyComparesLow() && !exact && !indicateIfDuplicate
	low, high := 0, len(n.slots)-1
	for low <= high {
		middle := (low + high) / 2
		var s int
		if middle == 0 && entryZeroLow {
			s = 1
		} else {
			s = common.CompareKeys(key, n.slots[middle].key, cmp)
		}
		switch {
		case s < 0:
			high = middle - 1
		case s > 0:
			low = middle + 1
		default:
			if exact && n.slots[middle].knownDeleted {
				return -1
			}
			if indicateIfDuplicate {
				return middle | exactMatch
			}
			return middle
		}
	}
	if exact {
		return -1
	}
	return high
}

// insertEntryAt -- insert s at idx, shifting later slots and the cursors
// positioned on them. The caller holds the latch and has checked for room.
func (n *node) insertEntryAt(idx int, s slot) {
	if len(n.slots) >= n.maxEntries() {
		panic(errors.AssertionFailedf("insert into full %s %d", n.kind, n.id))
	}
	n.slots = append(n.slots, slot{})
	copy(n.slots[idx+1:], n.slots[idx:])
	n.slots[idx] = s
	if idx == 0 && n.identifierKey == nil {
		n.identifierKey = s.key
	}
	n.adjustCursorsForInsert(idx)
	n.updateMemorySize()
}

// deleteEntry -- remove the slot at idx. No cursor may be positioned on it.
func (n *node) deleteEntry(idx int) {
	copy(n.slots[idx:], n.slots[idx+1:])
	n.slots[len(n.slots)-1] = slot{}
	n.slots = n.slots[:len(n.slots)-1]
	n.adjustCursorsForDelete(idx)
	n.updateMemorySize()
}

func (n *node) cursorIndex(c *CursorImpl) (int, bool) {
	if n.kind == kindDBIN {
		if c.dupBin.Load() != n {
			return 0, false
		}
		return c.dupIndex, true
	}
	if c.bin.Load() != n {
		return 0, false
	}
	return c.index, true
}

func (n *node) setCursorIndex(c *CursorImpl, idx int) {
	if n.kind == kindDBIN {
		c.dupIndex = idx
	} else {
		c.index = idx
	}
}

func (n *node) adjustCursorsForInsert(insertIndex int) {
	for c := range n.cursors {
		if idx, ok := n.cursorIndex(c); ok && idx >= insertIndex {
			n.setCursorIndex(c, idx+1)
		}
	}
}

func (n *node) adjustCursorsForDelete(deleteIndex int) {
	for c := range n.cursors {
		if idx, ok := n.cursorIndex(c); ok && idx > deleteIndex {
			n.setCursorIndex(c, idx-1)
		}
	}
}

// moveSlotsTo -- move slots [mid, n) to the empty sibling along with the
// cursors positioned on them. Both nodes are latched by the caller.
func (n *node) moveSlotsTo(sibling *node, mid int) {
	sibling.slots = append(sibling.slots, n.slots[mid:]...)
	for i := mid; i < len(n.slots); i++ {
		n.slots[i] = slot{}
	}
	n.slots = n.slots[:mid]
	sibling.identifierKey = sibling.slots[0].key
	for c := range n.cursors {
		idx, ok := n.cursorIndex(c)
		if !ok || idx < mid {
			continue
		}
		n.removeCursor(c)
		sibling.addCursor(c)
		sibling.setCursorIndex(c, idx-mid)
		if n.kind == kindDBIN {
			c.dupBin.Store(sibling)
		} else {
			c.bin.Store(sibling)
		}
	}
}

// dumpSlots -- render the slot keys, used by WriteTree.
func (n *node) dumpSlots() string {
	var b strings.Builder
	for i := range n.slots {
		s := &n.slots[i]
		var tag string
		switch {
		case s.child != nil:
			tag = "N"
		case s.knownDeleted:
			tag = "KD"
		case s.pendingDeleted:
			tag = "PD"
		default:
			tag = "L"
		}
		fmt.Fprintf(&b, " %s <%q> ", tag, s.key)
	}
	return b.String()
}
