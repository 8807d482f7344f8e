// Use of this software is governed by an Apache 2.0
// licence which can be found in the license file

package txbtree

import (
	"fmt"
	"io"

	"github.com/VictoriaMetrics/metrics"
)

// envMetrics -- counters of one environment, kept in a set of its own so
// that environments in the same process do not share them.
type envMetrics struct {
	set *metrics.Set

	lockWaits        *metrics.Counter
	lockTimeouts     *metrics.Counter
	lockWaitDuration *metrics.Histogram
	splits           *metrics.Counter

	evictorRuns      *metrics.Counter
	evictedLNs       *metrics.Counter
	evictedBINs      *metrics.Counter
	evictedBytes     *metrics.Counter
	compressorRuns   *metrics.Counter
	compressedSlots  *metrics.Counter
	prunedBINs       *metrics.Counter
	removedDupTrees  *metrics.Counter
	compressorQueued *metrics.Counter
}

func newEnvMetrics(env *Environment) *envMetrics {
	s := metrics.NewSet()
	name := func(n string) string {
		return fmt.Sprintf(`txbtree_%s{env=%q}`, n, env.id.String())
	}
	m := &envMetrics{
		set:              s,
		lockWaits:        s.NewCounter(name("lock_waits_total")),
		lockTimeouts:     s.NewCounter(name("lock_timeouts_total")),
		lockWaitDuration: s.NewHistogram(name("lock_wait_duration_seconds")),
		splits:           s.NewCounter(name("splits_total")),
		evictorRuns:      s.NewCounter(name("evictor_runs_total")),
		evictedLNs:       s.NewCounter(name("evicted_lns_total")),
		evictedBINs:      s.NewCounter(name("evicted_bins_total")),
		evictedBytes:     s.NewCounter(name("evicted_bytes_total")),
		compressorRuns:   s.NewCounter(name("compressor_runs_total")),
		compressedSlots:  s.NewCounter(name("compressed_slots_total")),
		prunedBINs:       s.NewCounter(name("pruned_bins_total")),
		removedDupTrees:  s.NewCounter(name("removed_dup_trees_total")),
		compressorQueued: s.NewCounter(name("compressor_queued_total")),
	}
	s.NewGauge(name("cache_bytes"), func() float64 {
		return float64(env.budget.CacheMemoryUsage())
	})
	s.NewGauge(name("tree_bytes"), func() float64 {
		return float64(env.budget.TreeMemoryUsage())
	})
	s.NewGauge(name("lock_bytes"), func() float64 {
		return float64(env.budget.LockMemoryUsage())
	})
	s.NewGauge(name("txn_bytes"), func() float64 {
		return float64(env.budget.TxnMemoryUsage())
	})
	s.NewGauge(name("resident_nodes"), func() float64 {
		return float64(env.inList.Len())
	})
	s.NewGauge(name("latch_acquires"), func() float64 {
		return float64(env.latchStats.Acquires.Load())
	})
	return m
}

// WriteMetrics -- the environment's metrics in Prometheus text format.
func (env *Environment) WriteMetrics(w io.Writer) {
	env.metrics.set.WritePrometheus(w)
}
