package txbtree

import "txbtree/common"

// DatabaseEntry -- a key or data item passed in and out of the database.
// With Partial set a read returns only PartialLength bytes starting at
// PartialOffset, and a write replaces only that range of the stored data.
type DatabaseEntry struct {
	Data          []byte
	Partial       bool
	PartialOffset int
	PartialLength int
}

// NewDatabaseEntry -- an entry holding b.
func NewDatabaseEntry(b []byte) *DatabaseEntry {
	return &DatabaseEntry{Data: b}
}

// SetPartial -- restrict reads and writes of this entry to length bytes at
// offset.
func (e *DatabaseEntry) SetPartial(offset, length int) {
	e.Partial = true
	e.PartialOffset = offset
	e.PartialLength = length
}

// setData -- fill the entry from stored bytes, which are copied.
func (e *DatabaseEntry) setData(b []byte) {
	if b == nil {
		e.Data = nil
		return
	}
	if e.Partial {
		off := min(e.PartialOffset, len(b))
		end := min(off+e.PartialLength, len(b))
		b = b[off:end]
	}
	e.Data = common.CopyBytes(b)
}

func (e *DatabaseEntry) String() string {
	return string(e.Data)
}
