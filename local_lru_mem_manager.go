// Use of this software is governed by an Apache 2.0
// licence which can be found in the license file

// This file implements a local single node memory manager which employs
// LRU for eviction.

package txbtree

import (
	"container/list"
	"sync"

	"txbtree/common"

	"github.com/golang/glog"
)

// LocalLRUMemMgr -- memory manager implementation which orders the bottom
// internal nodes of the main trees by recency of access.
// policy -- name of the policy used.
// size -- is the current # of items tracked.
// lruList -- list containing the elements for implementing LRU. Front is the
//            most recently used.
// memMap -- map for tracking the elements for fast lookup.
type LocalLRUMemMgr struct {
	mu      sync.Mutex
	policy  string
	size    int
	lruList *list.List
	memMap  map[int64]*list.Element
}

// NewLocalLRUMemMgr -- instantiates a new local LRU memmgr.
func NewLocalLRUMemMgr() *LocalLRUMemMgr {
	return &LocalLRUMemMgr{policy: common.MemMgrPolicyLocalLRU,
		lruList: list.New(), memMap: make(map[int64]*list.Element)}
}

// Insert - insert a node to be tracked. If it is already tracked, it is
// promoted to the head of the list. Only BINs are tracked.
func (mgr *LocalLRUMemMgr) Insert(n *node) error {
	if n.kind != kindBIN {
		return nil
	}
	mgr.mu.Lock()
	defer mgr.mu.Unlock()
	if e, ok := mgr.memMap[n.id]; ok {
		e.Value = n
		mgr.lruList.MoveToFront(e)
		return nil
	}
	mgr.memMap[n.id] = mgr.lruList.PushFront(n)
	mgr.size++
	glog.V(3).Infof("tracking %v, size: %d", n, mgr.size)
	return nil
}

// Remove - Remove a node from tracking
func (mgr *LocalLRUMemMgr) Remove(n *node) error {
	mgr.mu.Lock()
	defer mgr.mu.Unlock()
	e, ok := mgr.memMap[n.id]
	if !ok {
		return common.ErrNotFound
	}
	delete(mgr.memMap, n.id)
	mgr.lruList.Remove(e)
	mgr.size--
	return nil
}

// Lookup - Lookup a node. Looking a node up counts as an access.
func (mgr *LocalLRUMemMgr) Lookup(id int64) (*node, error) {
	mgr.mu.Lock()
	defer mgr.mu.Unlock()
	e, ok := mgr.memMap[id]
	if !ok {
		return nil, common.ErrNotFound
	}
	mgr.lruList.MoveToFront(e)
	return e.Value.(*node), nil
}

// Candidates -- least recently used nodes first.
func (mgr *LocalLRUMemMgr) Candidates(max int) []*node {
	mgr.mu.Lock()
	defer mgr.mu.Unlock()
	ret := make([]*node, 0, max)
	for e := mgr.lruList.Back(); e != nil && len(ret) < max; e = e.Prev() {
		ret = append(ret, e.Value.(*node))
	}
	return ret
}

// Len -- number of tracked nodes.
func (mgr *LocalLRUMemMgr) Len() int {
	mgr.mu.Lock()
	defer mgr.mu.Unlock()
	return mgr.size
}

// Print the LRU
func (mgr *LocalLRUMemMgr) Print() {
	mgr.mu.Lock()
	defer mgr.mu.Unlock()
	glog.Infof("printing LRU list")
	for e := mgr.lruList.Front(); e != nil; e = e.Next() {
		glog.Infof("%v", e.Value)
	}
}

// Policy returns the string representation of memory manager policy.
func (mgr *LocalLRUMemMgr) Policy() string {
	return mgr.policy
}
