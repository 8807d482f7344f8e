// This file implements the encoding of the entries handed to the log manager:
// leaf records, duplicate counts and bottom internal nodes written on
// eviction. The layout is internal to the process; there is no recovery
// reader for it.

package txbtree

import (
	"encoding/binary"

	"txbtree/common"

	"github.com/cockroachdb/errors"
)

type logEntryType byte

const (
	entryLN         logEntryType = 1
	entryDupCountLN logEntryType = 2
	entryBIN        logEntryType = 3
)

const (
	slotFlagKnownDeleted   = 1 << 0
	slotFlagPendingDeleted = 1 << 1
)

type entryWriter struct {
	buf []byte
}

func (w *entryWriter) byte(b byte) {
	w.buf = append(w.buf, b)
}

func (w *entryWriter) varint(v int64) {
	w.buf = binary.AppendVarint(w.buf, v)
}

func (w *entryWriter) uvarint(v uint64) {
	w.buf = binary.AppendUvarint(w.buf, v)
}

func (w *entryWriter) bytes(b []byte) {
	w.uvarint(uint64(len(b)))
	w.buf = append(w.buf, b...)
}

type entryReader struct {
	buf []byte
	err error
}

func (r *entryReader) fail() {
	if r.err == nil {
		r.err = errors.Wrap(common.ErrCorruption, "truncated log entry")
	}
}

func (r *entryReader) byte() byte {
	if r.err != nil || len(r.buf) < 1 {
		r.fail()
		return 0
	}
	b := r.buf[0]
	r.buf = r.buf[1:]
	return b
}

func (r *entryReader) varint() int64 {
	if r.err != nil {
		return 0
	}
	v, n := binary.Varint(r.buf)
	if n <= 0 {
		r.fail()
		return 0
	}
	r.buf = r.buf[n:]
	return v
}

func (r *entryReader) uvarint() uint64 {
	if r.err != nil {
		return 0
	}
	v, n := binary.Uvarint(r.buf)
	if n <= 0 {
		r.fail()
		return 0
	}
	r.buf = r.buf[n:]
	return v
}

func (r *entryReader) bytes() []byte {
	l := r.uvarint()
	if r.err != nil || uint64(len(r.buf)) < l {
		r.fail()
		return nil
	}
	b := make([]byte, l)
	copy(b, r.buf[:l])
	r.buf = r.buf[l:]
	return b
}

func encodeLN(ln *LN) []byte {
	w := &entryWriter{}
	w.byte(byte(entryLN))
	w.varint(ln.nodeID)
	if ln.deleted {
		w.byte(1)
	} else {
		w.byte(0)
		w.bytes(ln.data)
	}
	return w.buf
}

func decodeLN(b []byte) (*LN, error) {
	r := &entryReader{buf: b}
	if logEntryType(r.byte()) != entryLN {
		return nil, errors.Wrap(common.ErrCorruption, "log entry is not an LN")
	}
	ln := &LN{nodeID: r.varint()}
	ln.deleted = r.byte() == 1
	if !ln.deleted {
		ln.data = r.bytes()
	}
	return ln, r.err
}

func encodeDupCountLN(dcl *DupCountLN) []byte {
	w := &entryWriter{}
	w.byte(byte(entryDupCountLN))
	w.varint(dcl.nodeID)
	w.varint(int64(dcl.dupCount))
	return w.buf
}

func decodeDupCountLN(b []byte) (*DupCountLN, error) {
	r := &entryReader{buf: b}
	if logEntryType(r.byte()) != entryDupCountLN {
		return nil, errors.Wrap(common.ErrCorruption, "log entry is not a DupCountLN")
	}
	dcl := &DupCountLN{nodeID: r.varint(), dupCount: int(r.varint())}
	return dcl, r.err
}

// encodeBIN -- only the durable part of a bottom internal node is written:
// keys, child LSNs and slot flags. Resident LNs are dropped; they are
// re-fetched by LSN.
func encodeBIN(n *node) []byte {
	w := &entryWriter{}
	w.byte(byte(entryBIN))
	w.varint(n.id)
	w.byte(byte(n.kind))
	w.varint(int64(n.level))
	w.bytes(n.identifierKey)
	w.bytes(n.dupKey)
	w.uvarint(uint64(len(n.slots)))
	for i := range n.slots {
		s := &n.slots[i]
		w.bytes(s.key)
		w.uvarint(uint64(s.lsn))
		var flags byte
		if s.knownDeleted {
			flags |= slotFlagKnownDeleted
		}
		if s.pendingDeleted {
			flags |= slotFlagPendingDeleted
		}
		w.byte(flags)
	}
	return w.buf
}

func decodeBIN(b []byte, db *DatabaseImpl) (*node, error) {
	r := &entryReader{buf: b}
	if logEntryType(r.byte()) != entryBIN {
		return nil, errors.Wrap(common.ErrCorruption, "log entry is not a BIN")
	}
	id := r.varint()
	kind := nodeKind(r.byte())
	level := int(r.varint())
	n := newNodeWithID(db, id, kind, level)
	n.identifierKey = r.bytes()
	if dk := r.bytes(); len(dk) > 0 {
		n.dupKey = dk
	}
	nSlots := r.uvarint()
	if r.err == nil && nSlots > uint64(n.maxEntries()) {
		return nil, errors.Wrapf(common.ErrCorruption,
			"BIN %d has %d slots, more than %d", id, nSlots, n.maxEntries())
	}
	n.slots = make([]slot, 0, n.maxEntries())
	for i := uint64(0); i < nSlots && r.err == nil; i++ {
		s := slot{key: r.bytes(), lsn: common.LSN(r.uvarint())}
		flags := r.byte()
		s.knownDeleted = flags&slotFlagKnownDeleted != 0
		s.pendingDeleted = flags&slotFlagPendingDeleted != 0
		n.slots = append(n.slots, s)
	}
	return n, r.err
}
