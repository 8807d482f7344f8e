package txbtree

import (
	"bytes"
	"testing"

	"github.com/stretchr/testify/require"
)

func loadLargeRecords(t *testing.T, db *Database, n int) {
	t.Helper()
	for i := 0; i < n; i++ {
		st, err := db.Put(nil, &DatabaseEntry{Data: intKey(i)},
			&DatabaseEntry{Data: bytes.Repeat([]byte{byte('a' + i%26)}, 512)})
		require.NoError(t, err)
		require.Equal(t, Success, st)
	}
}

func checkLargeRecords(t *testing.T, db *Database, n int) {
	t.Helper()
	for i := 0; i < n; i++ {
		data := &DatabaseEntry{}
		st, err := db.Get(nil, &DatabaseEntry{Data: intKey(i)}, data, LockDefault)
		require.NoError(t, err)
		require.Equal(t, Success, st)
		require.Equal(t, bytes.Repeat([]byte{byte('a' + i%26)}, 512), data.Data)
	}
}

func smallCache(cfg *EnvironmentConfig) {
	cfg.MaxMemory = MinMaxMemorySize
	cfg.NodeMaxEntries = 16
}

func TestCriticalEvictionKeepsCacheBounded(t *testing.T) {
	for _, policy := range []string{MemMgrPolicyLocalLRU, MemMgrPolicyLocalMap} {
		t.Run(policy, func(t *testing.T) {
			env := openTestEnv(t, smallCache, func(cfg *EnvironmentConfig) {
				cfg.EvictorPolicy = policy
			})
			db := openTestDB(t, env, "evict", false)
			loadLargeRecords(t, db, 400)

			es := env.evictor.Stats()
			require.Positive(t, es.Runs)
			require.Positive(t, es.EvictedLNs)
			require.Less(t, env.budget.TreeMemoryUsage(), int64(400*512))

			_, err := env.EvictMemory()
			require.NoError(t, err)
			require.LessOrEqual(t, env.budget.CacheMemoryUsage(), env.budget.CacheBudget())

			checkLargeRecords(t, db, 400)
			requireBudgetConsistent(t, env)
			vr, err := db.Verify()
			require.NoError(t, err)
			require.Equal(t, int64(400), vr.Records)
			requireLatchBalance(t, env)
		})
	}
}

func TestEvictedBINsFaultBackIn(t *testing.T) {
	env := openTestEnv(t, smallCache)
	db := openTestDB(t, env, "bins", false)
	loadLargeRecords(t, db, 200)
	stripAllLNs(env)
	freed, err := env.evictor.evictBatch("test", 1<<40, true)
	require.NoError(t, err)
	require.Positive(t, freed)
	require.Positive(t, env.evictor.Stats().EvictedBINs)
	requireBudgetConsistent(t, env)

	keys, _ := scanKeys(t, db)
	require.Len(t, keys, 200)
	require.Equal(t, keys, inOrderKeys(t, db))
	checkLargeRecords(t, db, 200)
	requireBudgetConsistent(t, env)
	requireLatchBalance(t, env)
}

func TestEvictorLeavesPositionedBINs(t *testing.T) {
	env := openTestEnv(t)
	db := openTestDB(t, env, "pinned", false)
	for i := 0; i < 64; i++ {
		mustPut(t, db, nil, string(intKey(i)), "v")
	}
	c, err := db.OpenCursor(nil, nil)
	require.NoError(t, err)
	st, err := c.GetSearchKey(&DatabaseEntry{Data: intKey(33)}, &DatabaseEntry{}, LockDefault)
	require.NoError(t, err)
	require.Equal(t, Success, st)
	pinned := c.impl.bin.Load()

	_, err = env.evictor.evictBatch("test", 1<<40, true)
	require.NoError(t, err)
	o := &latchOwner{}
	pinned.latch.Acquire(o)
	require.False(t, pinned.detached)
	pinned.latch.Release(o)

	key := &DatabaseEntry{}
	st, err = c.GetNext(key, &DatabaseEntry{}, LockDefault)
	require.NoError(t, err)
	require.Equal(t, Success, st)
	require.Equal(t, intKey(34), key.Data)
	require.NoError(t, c.Close())
	requireLatchBalance(t, env)
}

func TestEvictorSkipTestPoint(t *testing.T) {
	env := openTestEnv(t, smallCache)
	db := openTestDB(t, env, "skip", false)
	TestPointEnable(testPointEvictorSkip, 1)
	loadLargeRecords(t, db, 300)
	require.Zero(t, env.evictor.Stats().Runs)
	require.Greater(t, env.budget.CacheMemoryUsage(), env.budget.CacheBudget())

	freed, err := env.EvictMemory()
	require.NoError(t, err)
	require.Zero(t, freed)

	TestPointResetAll()
	freed, err = env.EvictMemory()
	require.NoError(t, err)
	require.Positive(t, freed)
	require.Equal(t, int64(1), env.evictor.Stats().Runs)
	checkLargeRecords(t, db, 300)
}
