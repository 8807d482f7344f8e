// Use of this software is governed by an Apache 2.0
// licence which can be found in the license file

// This file implements the compressor. Deleting a record only marks its
// slot; once the deleting locker has released the record lock and no cursor
// is on the slot, the compressor removes the slot, drops the log entry of
// the deleted version, prunes BINs that became empty and removes duplicate
// trees whose records are all gone.

package txbtree

import (
	"context"
	"fmt"
	"sync"
	"time"

	"txbtree/common"

	"github.com/golang/glog"
)

// compressorRef -- a deleted slot, by database, duplicate key and key. The
// slot is found again by searching since its BIN may have split or been
// evicted since.
type compressorRef struct {
	db     *DatabaseImpl
	dupKey []byte
	key    []byte
}

func (r compressorRef) id() string {
	return fmt.Sprintf("%d/%x/%x", r.db.id, r.dupKey, r.key)
}

type slotState int

const (
	slotDeletable slotState = iota
	slotBusy
	slotLive
)

// CompressorStats -- cumulative work done by the compressor.
type CompressorStats struct {
	Runs            int64
	CompressedSlots int64
	PrunedBINs      int64
	RemovedDupTrees int64
	Requeued        int64
}

// Compressor -- one per environment.
type Compressor struct {
	env    *Environment
	mu     sync.Mutex
	queue  map[string]compressorRef
	runMu  sync.Mutex
	owner  latchOwner
	locker *BasicLocker
	stats  CompressorStats
}

func newCompressor(env *Environment) *Compressor {
	return &Compressor{
		env:    env,
		queue:  make(map[string]compressorRef),
		locker: newBasicLocker(env, true),
	}
}

// addToQueue -- remember that key was deleted in bin.
func (cp *Compressor) addToQueue(bin *node, key []byte) {
	ref := compressorRef{db: bin.db, dupKey: common.CopyBytes(bin.dupKey), key: common.CopyBytes(key)}
	cp.mu.Lock()
	cp.queue[ref.id()] = ref
	cp.mu.Unlock()
	cp.env.metrics.compressorQueued.Inc()
	glog.V(2).Infof("compressor: queued %q (dup %q) of db %d", key, bin.dupKey, bin.db.id)
}

// QueueLen -- number of deleted slots waiting.
func (cp *Compressor) QueueLen() int {
	cp.mu.Lock()
	defer cp.mu.Unlock()
	return len(cp.queue)
}

func (cp *Compressor) run(ctx context.Context) error {
	ticker := time.NewTicker(cp.env.cfg.CompressorInterval)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return nil
		case <-ticker.C:
		}
		if err := cp.doCompress(); err != nil {
			glog.Errorf("env %s: compressor pass failed: %v", cp.env.id, err)
		}
	}
}

// doCompress -- one pass over the queue. Slots still locked or with a
// cursor on them go back on the queue.
func (cp *Compressor) doCompress() error {
	cp.runMu.Lock()
	defer cp.runMu.Unlock()
	cp.mu.Lock()
	pending := cp.queue
	cp.queue = make(map[string]compressorRef)
	cp.mu.Unlock()

	cp.stats.Runs++
	cp.env.metrics.compressorRuns.Inc()
	var firstErr error
	for id, ref := range pending {
		if ref.db.isDeleted() {
			continue
		}
		var busy bool
		var err error
		if ref.dupKey == nil {
			busy, err = cp.compressMain(ref)
		} else {
			busy, err = cp.compressDup(ref)
		}
		if err != nil && firstErr == nil {
			firstErr = err
		}
		if busy || err != nil {
			cp.stats.Requeued++
			cp.mu.Lock()
			if _, ok := cp.queue[id]; !ok {
				cp.queue[id] = ref
			}
			cp.mu.Unlock()
		}
	}
	glog.V(1).Infof("env %s: compressor pass over %d slots, %d requeued",
		cp.env.id, len(pending), cp.QueueLen())
	return firstErr
}

// slotState -- whether slot idx of the latched bottom node can go.
func (cp *Compressor) slotState(n *node, idx int) (slotState, error) {
	s := &n.slots[idx]
	if s.child != nil {
		return slotLive, nil
	}
	if !s.knownDeleted && !s.pendingDeleted {
		return slotLive, nil
	}
	if n.isCursorAt(idx) {
		return slotBusy, nil
	}
	if s.knownDeleted {
		return slotDeletable, nil
	}
	ln, err := n.fetchLN(idx)
	if err != nil {
		return slotBusy, err
	}
	if ln == nil {
		return slotDeletable, nil
	}
	if !ln.isDeleted() {
		return slotLive, nil
	}
	res, err := cp.locker.NonBlockingLock(ln.nodeID, common.LockWrite)
	if err != nil {
		return slotBusy, err
	}
	if res.grant == common.GrantDenied {
		return slotBusy, nil
	}
	if err := cp.locker.ReleaseLock(ln.nodeID); err != nil {
		return slotBusy, err
	}
	return slotDeletable, nil
}

// removeSlot -- delete slot idx of the latched bottom node and its log entry.
func (cp *Compressor) removeSlot(n *node, idx int) {
	lsn := n.slots[idx].lsn
	n.deleteEntry(idx)
	if lsn != common.NullLSN {
		if err := cp.env.log.Delete(lsn); err != nil {
			glog.Warningf("compressor: unable to delete entry %d: %v", lsn, err)
		}
	}
	cp.stats.CompressedSlots++
	cp.env.metrics.compressedSlots.Inc()
}

func (cp *Compressor) compressMain(ref compressorRef) (bool, error) {
	o := &cp.owner
	tree := ref.db.tree
	bin, err := tree.search(ref.key, searchNormal, nil, o)
	if err != nil || bin == nil {
		return false, err
	}
	idx := bin.findEntry(ref.key, false, true)
	if idx < 0 {
		bin.latch.Release(o)
		return false, nil
	}
	st, err := cp.slotState(bin, idx)
	if err != nil || st != slotDeletable {
		bin.latch.Release(o)
		return st == slotBusy, err
	}
	cp.removeSlot(bin, idx)
	empty := bin.nEntries() == 0 && !bin.isRoot
	bin.latch.Release(o)
	if empty {
		return false, cp.pruneBIN(tree, bin)
	}
	return false, nil
}

// pruneBIN -- detach an empty BIN from its parent, unless it is the
// parent's only child.
func (cp *Compressor) pruneBIN(tree *Tree, bin *node) error {
	o := &cp.owner
	parent, idx, err := tree.getParentINForChildIN(bin, o)
	if err != nil || parent == nil {
		return err
	}
	defer parent.latch.Release(o)
	defer bin.latch.Release(o)
	if bin.nEntries() != 0 || bin.nCursors() != 0 || parent.nEntries() < 2 {
		return nil
	}
	parent.deleteEntry(idx)
	cp.env.removeResident(bin)
	cp.stats.PrunedBINs++
	cp.env.metrics.prunedBINs.Inc()
	glog.V(2).Infof("compressor: pruned %v from %v", bin, parent)
	return nil
}

// compressDup -- remove a deleted duplicate. The whole path from the BIN
// down to the DBIN stays latched so that an emptied duplicate tree can be
// taken apart.
func (cp *Compressor) compressDup(ref compressorRef) (bool, error) {
	o := &cp.owner
	tree := ref.db.tree
	bin, err := tree.search(ref.dupKey, searchNormal, nil, o)
	if err != nil || bin == nil {
		return false, err
	}
	binIdx := bin.findEntry(ref.dupKey, false, true)
	if binIdx < 0 || bin.slots[binIdx].child == nil {
		bin.latch.Release(o)
		return false, nil
	}
	type step struct {
		n   *node
		idx int
	}
	path := []step{{n: bin, idx: binIdx}}
	defer func() {
		for i := len(path) - 1; i >= 0; i-- {
			path[i].n.latch.ReleaseIfOwner(o)
		}
	}()
	cur := bin.slots[binIdx].child
	cur.latch.Acquire(o)
	for !cur.isBottom() {
		i := cur.findEntry(ref.key, false, false)
		if i < 0 {
			i = 0
		}
		path = append(path, step{n: cur, idx: i})
		child, err := cur.fetchChild(i)
		if err != nil {
			return false, err
		}
		child.latch.Acquire(o)
		cur = child
	}
	dbin := cur
	path = append(path, step{n: dbin, idx: -1})
	idx := dbin.findEntry(ref.key, false, true)
	if idx < 0 {
		return false, nil
	}
	st, err := cp.slotState(dbin, idx)
	if err != nil || st != slotDeletable {
		return st == slotBusy, err
	}
	cp.removeSlot(dbin, idx)
	if dbin.nEntries() != 0 || dbin.nCursors() != 0 {
		return false, nil
	}

	// Unlink the empty DBIN from the lowest ancestor that keeps an entry.
	for j := len(path) - 2; j >= 1; j-- {
		parent := path[j]
		if parent.n.nEntries() > 1 {
			parent.n.deleteEntry(parent.idx)
			for _, s := range path[j+1:] {
				cp.env.removeResident(s.n)
			}
			cp.stats.PrunedBINs++
			cp.env.metrics.prunedBINs.Inc()
			return false, nil
		}
	}

	// Every node below the BIN is empty: remove the duplicate tree.
	din := path[1].n
	if din.dupCountLN.dupCount != 0 || bin.isCursorAt(binIdx) {
		return false, nil
	}
	dclID := din.dupCountLN.nodeID
	res, err := cp.locker.NonBlockingLock(dclID, common.LockWrite)
	if err != nil || res.grant == common.GrantDenied {
		return true, err
	}
	if err := cp.locker.ReleaseLock(dclID); err != nil {
		return true, err
	}
	countLsn := din.dupCountLSN
	bin.deleteEntry(binIdx)
	for _, s := range path[1:] {
		cp.env.removeResident(s.n)
	}
	if countLsn != common.NullLSN {
		if err := cp.env.log.Delete(countLsn); err != nil {
			glog.Warningf("compressor: unable to delete count entry %d: %v", countLsn, err)
		}
	}
	cp.stats.RemovedDupTrees++
	cp.env.metrics.removedDupTrees.Inc()
	glog.V(1).Infof("compressor: removed duplicate tree of %q in db %d", ref.dupKey, ref.db.id)
	if bin.nEntries() == 0 && !bin.isRoot {
		for i := len(path) - 1; i >= 0; i-- {
			path[i].n.latch.ReleaseIfOwner(o)
		}
		return false, cp.pruneBIN(tree, bin)
	}
	return false, nil
}

// Stats -- a copy of the cumulative counters.
func (cp *Compressor) Stats() CompressorStats {
	cp.runMu.Lock()
	defer cp.runMu.Unlock()
	return cp.stats
}
