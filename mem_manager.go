// Use of this software is governed by an Apache 2.0
// licence which can be found in the license file

// This file implements the memory manager interface which tracks the internal
// nodes resident in the cache. The evictor asks the memory manager which nodes
// to evict first; local_lru_mem_manager.go orders them by recency and
// local_hashmap_mem_manager.go, which also serves as the list of every resident
// node, hands them out in no particular order.

package txbtree

// MemMgr - The memory manager interface. Following methods have to be
// implemented by the data structure which implements this interface.
// Insert -- Start tracking a node, or note that a tracked node was accessed.
// Remove -- Stop tracking a node.
// Lookup -- Lookup a node by its id.
// Candidates -- Up to 'max' nodes which are the best eviction candidates,
//               best first.
// Len    -- Number of tracked nodes.
// Print  -- Prints memory manager info/keys.
// Policy -- Returns memory manager's policy (lru/xyz, etc.)
type MemMgr interface {
	Insert(n *node) error
	Remove(n *node) error
	Lookup(id int64) (*node, error)
	Candidates(max int) []*node
	Len() int
	Print()
	Policy() string
}
