package txbtree

import (
	"testing"

	"github.com/stretchr/testify/require"
)

func TestTestPointFrequency(t *testing.T) {
	TestPointResetAll()
	defer TestPointResetAll()
	require.False(t, TestPointExecute(testPointFailLogRead))

	TestPointEnable(testPointFailLogRead, 3)
	// A second enable keeps the first frequency.
	TestPointEnable(testPointFailLogRead, 1)
	enabled, freq := TestPointIsEnabled(testPointFailLogRead)
	require.True(t, enabled)
	require.Equal(t, 3, freq)

	var fired []int
	for i := 1; i <= 9; i++ {
		if TestPointExecute(testPointFailLogRead) {
			fired = append(fired, i)
		}
	}
	require.Equal(t, []int{3, 6, 9}, fired)
	require.False(t, TestPointExecute(testPointFailLogWrite))

	TestPointDisable(testPointFailLogRead)
	require.False(t, TestPointExecute(testPointFailLogRead))
	enabled, freq = TestPointIsEnabled(testPointFailLogRead)
	require.False(t, enabled)
	require.Equal(t, 3, freq)

	TestPointEnable(testPointFailLogWrite, 0)
	enabled, _ = TestPointIsEnabled(testPointFailLogWrite)
	require.False(t, enabled)
	TestPointEnable(TestPointID(99), 1)
	require.False(t, TestPointExecute(TestPointID(99)))

	TestPointEnable(testPointEvictorSkip, 1)
	TestPointReset(testPointEvictorSkip)
	require.False(t, TestPointExecute(testPointEvictorSkip))
	require.Zero(t, numTestPointsEnabled.Load())
}
