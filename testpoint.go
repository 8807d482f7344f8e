// Use of this software is governed by an Apache 2.0
// licence which can be found in the license file

// This file implements test points: named places in the engine where a test
// can inject a fault, such as a failed log read, every n-th time the place
// is reached.

package txbtree

import (
	"fmt"
	"sync"
	"sync/atomic"

	"github.com/golang/glog"
)

// TestPointID -- identifies a test point.
type TestPointID int

const (
	testPointFailLogRead  TestPointID = 1
	testPointFailLogWrite TestPointID = 2
	testPointEvictorSkip  TestPointID = 3
)

// testPoint -- state of one test point.
// freq  -- the point fires on every freq-th execution once enabled.
// iters -- executions since it was enabled.
type testPoint struct {
	desc    string
	enabled bool
	freq    int
	iters   int
}

func (tp *testPoint) String() string {
	return fmt.Sprintf("{%s enabled: %v, freq: %d, iters: %d}", tp.desc, tp.enabled, tp.freq, tp.iters)
}

var (
	testPointMu sync.Mutex
	testPoints  = map[TestPointID]*testPoint{
		testPointFailLogRead:  {desc: "fail log read"},
		testPointFailLogWrite: {desc: "fail log write"},
		testPointEvictorSkip:  {desc: "skip eviction pass"},
	}
	// numTestPointsEnabled -- lets TestPointExecute return without the
	// mutex in the common case.
	numTestPointsEnabled atomic.Int32
)

// TestPointIsEnabled -- whether tpID is enabled, and its frequency.
func TestPointIsEnabled(tpID TestPointID) (bool, int) {
	testPointMu.Lock()
	defer testPointMu.Unlock()
	tp, ok := testPoints[tpID]
	if !ok {
		return false, 0
	}
	return tp.enabled, tp.freq
}

// TestPointEnable -- fire tpID on every freq-th execution. A no-op if it is
// already enabled or freq is not positive.
func TestPointEnable(tpID TestPointID, freq int) {
	testPointMu.Lock()
	defer testPointMu.Unlock()
	tp, ok := testPoints[tpID]
	if !ok || freq <= 0 || tp.enabled {
		glog.V(2).Infof("ignoring enable of test point %d (freq %d)", tpID, freq)
		return
	}
	tp.enabled = true
	tp.freq = freq
	tp.iters = 0
	numTestPointsEnabled.Add(1)
	glog.Infof("enabling test point %v", tp)
}

// TestPointDisable -- stop firing tpID, keeping its settings.
func TestPointDisable(tpID TestPointID) {
	testPointMu.Lock()
	defer testPointMu.Unlock()
	if tp, ok := testPoints[tpID]; ok && tp.enabled {
		tp.enabled = false
		numTestPointsEnabled.Add(-1)
		glog.Infof("disabling test point %v", tp)
	}
}

// TestPointReset -- disable tpID and clear its settings.
func TestPointReset(tpID TestPointID) {
	testPointMu.Lock()
	defer testPointMu.Unlock()
	testPointReset(tpID)
}

func testPointReset(tpID TestPointID) {
	tp, ok := testPoints[tpID]
	if !ok {
		return
	}
	if tp.enabled {
		numTestPointsEnabled.Add(-1)
	}
	tp.enabled, tp.freq, tp.iters = false, 0, 0
}

// TestPointResetAll -- reset every test point.
func TestPointResetAll() {
	testPointMu.Lock()
	defer testPointMu.Unlock()
	for id := range testPoints {
		testPointReset(id)
	}
	glog.V(1).Infof("reset all test points")
}

// TestPointExecute -- called where the fault would happen; returns true
// when it should.
func TestPointExecute(tpID TestPointID) bool {
	if numTestPointsEnabled.Load() == 0 {
		return false
	}
	testPointMu.Lock()
	defer testPointMu.Unlock()
	tp, ok := testPoints[tpID]
	if !ok || !tp.enabled {
		return false
	}
	tp.iters++
	if tp.iters%tp.freq != 0 {
		return false
	}
	glog.Infof("executing test point %v", tp)
	return true
}
