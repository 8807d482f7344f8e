// Use of this software is governed by an Apache 2.0
// licence which can be found in the license file

// This file implements the latch protecting a single tree node. Latches are
// short held, exclusive and never reentrant. Every acquisition names an owner
// so that cleanup paths can release only what they hold and so that callers can
// assert that no latch is held before blocking on a record lock.

package txbtree

import (
	"sync"
	"sync/atomic"

	"github.com/cockroachdb/errors"
)

// latchOwner -- identity of whoever holds latches: a cursor or a daemon pass.
// 'nHeld' is the number of latches currently held by the owner.
type latchOwner struct {
	nHeld int32
}

func (o *latchOwner) held() int {
	return int(atomic.LoadInt32(&o.nHeld))
}

// LatchStats -- environment wide acquire/release counters.
type LatchStats struct {
	Acquires    atomic.Int64
	Releases    atomic.Int64
	NoWaitFails atomic.Int64
}

// Latch -- mutual exclusion on one node.
type Latch struct {
	mu    sync.Mutex
	owner atomic.Pointer[latchOwner]
	stats *LatchStats
}

func (l *Latch) init(stats *LatchStats) {
	l.stats = stats
}

// Acquire -- blocking acquire.
func (l *Latch) Acquire(o *latchOwner) {
	if l.owner.Load() == o {
		panic(errors.AssertionFailedf("latch already held by this owner"))
	}
	l.mu.Lock()
	l.acquired(o)
}

// TryAcquire -- non-blocking acquire; reports whether the latch was taken.
func (l *Latch) TryAcquire(o *latchOwner) bool {
	if !l.mu.TryLock() {
		if l.stats != nil {
			l.stats.NoWaitFails.Add(1)
		}
		return false
	}
	l.acquired(o)
	return true
}

func (l *Latch) acquired(o *latchOwner) {
	l.owner.Store(o)
	atomic.AddInt32(&o.nHeld, 1)
	if l.stats != nil {
		l.stats.Acquires.Add(1)
	}
}

// Release -- release a latch held by o. Releasing a latch not held by o is a
// structural fault.
func (l *Latch) Release(o *latchOwner) {
	if !l.ReleaseIfOwner(o) {
		panic(errors.AssertionFailedf("latch not held by releasing owner"))
	}
}

// ReleaseIfOwner -- release the latch only if o holds it.
func (l *Latch) ReleaseIfOwner(o *latchOwner) bool {
	if l.owner.Load() != o {
		return false
	}
	l.owner.Store(nil)
	atomic.AddInt32(&o.nHeld, -1)
	if l.stats != nil {
		l.stats.Releases.Add(1)
	}
	l.mu.Unlock()
	return true
}

// IsOwner -- whether o holds the latch.
func (l *Latch) IsOwner(o *latchOwner) bool {
	return l.owner.Load() == o
}

// IsHeld -- whether anybody holds the latch.
func (l *Latch) IsHeld() bool {
	return l.owner.Load() != nil
}
