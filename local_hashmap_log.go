// Use of this software is governed by an Apache 2.0
// licence which can be found in the license file

// This file implements an hash map based single node log. Entries live only
// as long as the process.

package txbtree

import (
	"sync/atomic"

	"txbtree/common"

	"github.com/golang/glog"
	"github.com/puzpuzpuz/xsync/v3"
)

// LocalHashMapLog -- memory based log implementation. The log is just a hash map
type LocalHashMapLog struct {
	memMap  *xsync.MapOf[common.LSN, []byte]
	nextLSN atomic.Uint64
	policy  string
}

// NewLocalHashMapLog -- instantiates a new local hashmap log.
func NewLocalHashMapLog() *LocalHashMapLog {
	l := &LocalHashMapLog{memMap: xsync.NewMapOf[common.LSN, []byte](),
		policy: common.LogPolicyLocalMap}
	l.nextLSN.Store(1)
	return l
}

// Append - store an entry at the next LSN.
func (l *LocalHashMapLog) Append(entry []byte) (common.LSN, error) {
	lsn := common.LSN(l.nextLSN.Add(1) - 1)
	l.memMap.Store(lsn, append([]byte(nil), entry...))
	glog.V(3).Infof("storing %d bytes at lsn %d", len(entry), lsn)
	return lsn, nil
}

// Read - Load an entry
func (l *LocalHashMapLog) Read(lsn common.LSN) ([]byte, error) {
	b, ok := l.memMap.Load(lsn)
	if !ok {
		return nil, common.ErrNotFound
	}
	return b, nil
}

// Delete - deletes an entry
func (l *LocalHashMapLog) Delete(lsn common.LSN) error {
	glog.V(3).Infof("deleting lsn %d", lsn)
	l.memMap.Delete(lsn)
	return nil
}

func (l *LocalHashMapLog) Flush() error {
	return nil
}

func (l *LocalHashMapLog) Close() error {
	l.memMap.Clear()
	return nil
}

// Len -- number of live entries.
func (l *LocalHashMapLog) Len() int {
	return l.memMap.Size()
}

// Policy -- Get the policy name for this manager.
func (l *LocalHashMapLog) Policy() string {
	return l.policy
}
