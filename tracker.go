package txbtree

import (
	"txbtree/common"

	"github.com/golang/glog"
)

type trackerKey struct {
	nodeID int64
	key    common.Key
}

// Tracker -- book keeping map of deleted slots, by node and key.
type Tracker struct {
	kmap map[trackerKey]*node
	tag  string
}

// AddIfNotPresent -- checks for existence and adds the slot into the map if
// not already tracked.
func (m *Tracker) AddIfNotPresent(bin *node, key []byte) {
	k := trackerKey{nodeID: bin.id, key: common.MakeKey(key)}
	if _, ok := m.kmap[k]; !ok {
		m.kmap[k] = bin
		glog.V(2).Infof("Tracking %q in %v (%s)", key, bin, m.tag)
	}
}

// Range -- visit every tracked slot.
func (m *Tracker) Range(f func(bin *node, key []byte)) {
	for k, bin := range m.kmap {
		f(bin, k.key.Bytes())
	}
}

func (m *Tracker) Len() int {
	return len(m.kmap)
}

// Init -- initialize the map.
func (m *Tracker) Init(tag string) {
	m.kmap = make(map[trackerKey]*node)
	m.tag = tag
}

// Reset -- reset the map
func (m *Tracker) Reset() {
	m.kmap = nil
}
