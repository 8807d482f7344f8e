// Use of this software is governed by an Apache 2.0
// licence which can be found in the license file

// This file implements the evictor which keeps the cache within its budget.
// A pass first strips the resident records of the candidate BINs, which can
// be fetched again by LSN, and then writes out BINs nobody is positioned on
// and detaches them from their parents. Candidates come from the configured
// memory manager policy.

package txbtree

import (
	"context"
	"sync"
	"time"

	"github.com/dustin/go-humanize"
	"github.com/golang/glog"
)

// maxEvictCandidates -- BINs considered by one pass.
const maxEvictCandidates = 256

// EvictorStats -- cumulative work done by the evictor.
type EvictorStats struct {
	Runs         int64
	EvictedLNs   int64
	EvictedBINs  int64
	EvictedBytes int64
}

// Evictor -- one per environment. Only one pass runs at a time; a critical
// eviction request arriving during a pass returns at once.
type Evictor struct {
	env    *Environment
	mu     sync.Mutex
	owner  latchOwner
	wakeup chan struct{}
	stats  EvictorStats
}

func newEvictor(env *Environment) *Evictor {
	return &Evictor{env: env, wakeup: make(chan struct{}, 1)}
}

// alert -- the budget is exceeded; wake the daemon if it is running.
func (e *Evictor) alert() {
	select {
	case e.wakeup <- struct{}{}:
	default:
	}
}

// doCriticalEviction -- called after cursor operations. Evicts only when
// the cache is over budget by more than the critical threshold.
func (e *Evictor) doCriticalEviction() error {
	over := e.env.budget.overBudget()
	if over <= e.env.budget.CriticalThreshold() {
		return nil
	}
	_, err := e.evictBatch("critical", over, false)
	return err
}

// evictMemory -- bring the cache back under budget, waiting for any pass
// in progress.
func (e *Evictor) evictMemory() (int64, error) {
	over := e.env.budget.overBudget()
	if over <= 0 {
		return 0, nil
	}
	return e.evictBatch("manual", over+e.env.cfg.EvictorBatchBytes, true)
}

// run -- the evictor daemon: a pass on every budget alert and every
// interval until ctx is done.
func (e *Evictor) run(ctx context.Context) error {
	ticker := time.NewTicker(e.env.cfg.EvictorInterval)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return nil
		case <-e.wakeup:
		case <-ticker.C:
		}
		over := e.env.budget.overBudget()
		if over <= 0 {
			continue
		}
		if _, err := e.evictBatch("daemon", over+e.env.cfg.EvictorBatchBytes, false); err != nil {
			glog.Errorf("env %s: evictor pass failed: %v", e.env.id, err)
		}
	}
}

// evictBatch -- evict until 'target' bytes are freed, the candidates run
// out or the tree reaches its minimum size. Returns the bytes freed.
func (e *Evictor) evictBatch(source string, target int64, wait bool) (int64, error) {
	if wait {
		e.mu.Lock()
	} else if !e.mu.TryLock() {
		return 0, nil
	}
	defer e.mu.Unlock()
	if TestPointExecute(testPointEvictorSkip) {
		glog.Infof("env %s: skipping %s eviction pass", e.env.id, source)
		return 0, nil
	}
	env := e.env
	e.stats.Runs++
	env.metrics.evictorRuns.Inc()

	candidates := env.evictPolicy.Candidates(maxEvictCandidates)
	var freed int64

	// Records first: they are the cheapest to bring back.
	for _, bin := range candidates {
		if freed >= target || !env.budget.IsTreeUsageAboveMinimum() {
			break
		}
		freed += e.stripLNs(bin)
	}
	for _, bin := range candidates {
		if freed >= target || !env.budget.IsTreeUsageAboveMinimum() {
			break
		}
		n, err := e.evictBIN(bin)
		if err != nil {
			return freed, err
		}
		freed += n
	}
	e.stats.EvictedBytes += freed
	env.metrics.evictedBytes.Add(int(freed))
	glog.V(1).Infof("env %s: %s eviction freed %s of %s (%d candidates)", env.id, source,
		humanize.IBytes(uint64(freed)), humanize.IBytes(uint64(max(target, 0))), len(candidates))
	return freed, nil
}

// stripLNs -- drop the resident records of bin.
func (e *Evictor) stripLNs(bin *node) int64 {
	o := &e.owner
	bin.latch.Acquire(o)
	defer bin.latch.Release(o)
	if bin.detached {
		return 0
	}
	var freed int64
	var n int64
	for i := range bin.slots {
		if f := bin.evictLN(i); f > 0 {
			freed += f
			n++
		}
	}
	e.stats.EvictedLNs += n
	e.env.metrics.evictedLNs.Add(int(n))
	return freed
}

// evictBIN -- write bin out and detach it from its parent. BINs with
// cursors on them, with resident duplicate trees, or at the root stay.
func (e *Evictor) evictBIN(bin *node) (int64, error) {
	o := &e.owner
	env := e.env
	if bin.db.isDeleted() {
		env.removeResident(bin)
		return bin.inMemorySize, nil
	}
	bin.latch.Acquire(o)
	evictable := !bin.detached && bin.nCursors() == 0 && !bin.hasResidentChildren()
	bin.latch.Release(o)
	if !evictable {
		return 0, nil
	}

	parent, idx, err := bin.db.tree.getParentINForChildIN(bin, o)
	if err != nil || parent == nil {
		return 0, err
	}
	defer parent.latch.Release(o)
	defer bin.latch.Release(o)
	if bin.nCursors() != 0 || bin.hasResidentChildren() || parent.slots[idx].child != bin {
		return 0, nil
	}
	lsn, err := env.log.Append(encodeBIN(bin))
	if err != nil {
		return 0, err
	}
	freed := bin.inMemorySize
	parent.slots[idx].child = nil
	parent.slots[idx].lsn = lsn
	env.removeResident(bin)
	parent.updateMemorySize()
	e.stats.EvictedBINs++
	env.metrics.evictedBINs.Inc()
	glog.V(2).Infof("evicted %v to lsn %d", bin, lsn)
	return freed, nil
}

// Stats -- a copy of the cumulative counters.
func (e *Evictor) Stats() EvictorStats {
	e.mu.Lock()
	defer e.mu.Unlock()
	return e.stats
}
