// Use of this software is governed by an Apache 2.0
// licence which can be found in the license file

// This file implements an hash map based single node memory manager.
// without any memory limits. Every environment keeps one as its INList: the
// set of all resident internal nodes.

package txbtree

import (
	"txbtree/common"

	"github.com/golang/glog"
	"github.com/puzpuzpuz/xsync/v3"
)

// LocalHashMapMemMgr -- memory manager implementation. A default local memory
// manager data structure. Memory being used is just tracked in a map.
type LocalHashMapMemMgr struct {
	memMap *xsync.MapOf[int64, *node]
	policy string
}

// NewLocalHashMapMemMgr -- instantiates a new local hashmap memmgr.
func NewLocalHashMapMemMgr() *LocalHashMapMemMgr {
	return &LocalHashMapMemMgr{policy: common.MemMgrPolicyLocalMap,
		memMap: xsync.NewMapOf[int64, *node]()}
}

// Insert - insert a node to be tracked.
func (mgr *LocalHashMapMemMgr) Insert(n *node) error {
	mgr.memMap.Store(n.id, n)
	return nil
}

// Remove - Remove a node from tracking
func (mgr *LocalHashMapMemMgr) Remove(n *node) error {
	mgr.memMap.Delete(n.id)
	return nil
}

// Lookup - Lookup a node
func (mgr *LocalHashMapMemMgr) Lookup(id int64) (*node, error) {
	n, ok := mgr.memMap.Load(id)
	if !ok {
		return nil, common.ErrNotFound
	}
	return n, nil
}

// Candidates -- bottom internal nodes of the main trees, in map order.
func (mgr *LocalHashMapMemMgr) Candidates(max int) []*node {
	var ret []*node
	mgr.memMap.Range(func(_ int64, n *node) bool {
		if n.kind == kindBIN {
			ret = append(ret, n)
		}
		return len(ret) < max
	})
	return ret
}

// Range -- visit every tracked node until f returns false.
func (mgr *LocalHashMapMemMgr) Range(f func(n *node) bool) {
	mgr.memMap.Range(func(_ int64, n *node) bool {
		return f(n)
	})
}

// Len -- number of resident nodes.
func (mgr *LocalHashMapMemMgr) Len() int {
	return mgr.memMap.Size()
}

// Print -- prints the map
func (mgr *LocalHashMapMemMgr) Print() {
	mgr.memMap.Range(func(id int64, n *node) bool {
		glog.Infof("%d: %v", id, n)
		return true
	})
}

// Policy returns the string representation of memory manager policy.
func (mgr *LocalHashMapMemMgr) Policy() string {
	return mgr.policy
}
