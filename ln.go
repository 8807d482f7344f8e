package txbtree

import (
	"fmt"

	"txbtree/common"

	"github.com/golang/glog"
)

// LN - a leaf record. 'nodeID' is the logical identity used for record
// locking; it never changes for the life of the record even though every
// modification is logged at a new LSN. A deleted LN keeps its identity so
// that the deleter's lock still protects the slot until compression.
type LN struct {
	nodeID  int64
	data    []byte
	deleted bool
}

func newLN(env *Environment, data []byte) *LN {
	return &LN{nodeID: env.nextNodeID(), data: common.CopyBytes(data)}
}

// memorySize -- the memory an LN adds to the BIN holding it.
func (ln *LN) memorySize() int64 {
	size := int64(lnOverhead)
	if ln.data != nil {
		size += byteArraySize(len(ln.data))
	}
	return size
}

func (ln *LN) isDeleted() bool {
	return ln.deleted
}

// log -- write the current version of the LN; returns its LSN.
func (ln *LN) log(env *Environment) (common.LSN, error) {
	return env.log.Append(encodeLN(ln))
}

// delete -- logically delete the record, logging a tombstone.
func (ln *LN) delete(db *DatabaseImpl, key, dupKey []byte,
	oldLsn common.LSN, locker Locker) (common.LSN, error) {

	oldData := ln.data
	ln.data = nil
	ln.deleted = true
	lsn, err := ln.log(db.env)
	if err != nil {
		ln.data = oldData
		ln.deleted = false
		return common.NullLSN, err
	}
	glog.V(2).Infof("db %d: delete ln %d key %q dup %q (old lsn %d, new lsn %d, locker %d)",
		db.id, ln.nodeID, key, dupKey, oldLsn, lsn, locker.ID())
	return lsn, err
}

// modify -- replace the record's data, logging the new version.
func (ln *LN) modify(newData []byte, db *DatabaseImpl, key []byte,
	oldLsn common.LSN, locker Locker) (common.LSN, error) {

	oldData, oldDeleted := ln.data, ln.deleted
	ln.data = common.CopyBytes(newData)
	ln.deleted = false
	lsn, err := ln.log(db.env)
	if err != nil {
		ln.data, ln.deleted = oldData, oldDeleted
		return common.NullLSN, err
	}
	glog.V(2).Infof("db %d: modify ln %d key %q (old lsn %d, new lsn %d, locker %d)",
		db.id, ln.nodeID, key, oldLsn, lsn, locker.ID())
	return lsn, err
}

func (ln *LN) String() string {
	if ln.deleted {
		return fmt.Sprintf("<ln %d deleted>", ln.nodeID)
	}
	return fmt.Sprintf("<ln %d %q>", ln.nodeID, ln.data)
}

// DupCountLN -- the count of records in a duplicate tree. It lives in the
// duplicate tree's root and is locked like any other record so that the
// count stays consistent with concurrent inserts and deletes.
type DupCountLN struct {
	nodeID   int64
	dupCount int
}

func (dcl *DupCountLN) log(env *Environment) (common.LSN, error) {
	return env.log.Append(encodeDupCountLN(dcl))
}

func (dcl *DupCountLN) String() string {
	return fmt.Sprintf("<dupCountLN %d count %d>", dcl.nodeID, dcl.dupCount)
}
