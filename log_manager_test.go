package txbtree

import (
	"os"
	"testing"

	"txbtree/common"

	"github.com/cockroachdb/errors"
	"github.com/stretchr/testify/require"
)

func testLogManager(t *testing.T, l LogManager) {
	lsns := make(map[common.LSN]string)
	var last common.LSN
	for _, s := range []string{"a", "bb", "ccc", ""} {
		lsn, err := l.Append([]byte(s))
		require.NoError(t, err)
		require.NotEqual(t, common.NullLSN, lsn)
		require.Greater(t, lsn, last)
		last = lsn
		lsns[lsn] = s
	}
	for lsn, s := range lsns {
		b, err := l.Read(lsn)
		require.NoError(t, err)
		require.Equal(t, s, string(b))
	}
	require.NoError(t, l.Delete(last))
	_, err := l.Read(last)
	require.True(t, errors.Is(err, common.ErrNotFound))
	_, err = l.Read(last + 1000)
	require.True(t, errors.Is(err, common.ErrNotFound))
	require.NoError(t, l.Flush())
	require.NoError(t, l.Close())
}

func TestLocalHashMapLog(t *testing.T) {
	testLogManager(t, NewLocalHashMapLog())
}

func TestPebbleLogInMemory(t *testing.T) {
	l, err := NewPebbleLog("", false)
	require.NoError(t, err)
	testLogManager(t, l)
}

func TestPebbleLogOnDisk(t *testing.T) {
	l, err := NewPebbleLog(t.TempDir(), true)
	require.NoError(t, err)
	testLogManager(t, l)
}

func TestArangoLog(t *testing.T) {
	endpoint := os.Getenv("TXBTREE_TEST_ARANGO_ENDPOINT")
	if endpoint == "" {
		t.Skip("TXBTREE_TEST_ARANGO_ENDPOINT not set")
	}
	l, err := NewArangoLog(endpoint, "txbtree_test", os.Getenv("TXBTREE_TEST_ARANGO_USER"),
		os.Getenv("TXBTREE_TEST_ARANGO_PASSWORD"), "log_entries")
	require.NoError(t, err)
	defer func() { require.NoError(t, l.DropCollections()) }()
	testLogManager(t, l)
}

func TestCachedLogServesEvictedEntries(t *testing.T) {
	inner := NewLocalHashMapLog()
	l, err := newCachedLog(inner, 1<<20)
	require.NoError(t, err)
	lsn, err := l.Append([]byte("entry"))
	require.NoError(t, err)
	l.cache.Wait()
	b, err := l.Read(lsn)
	require.NoError(t, err)
	require.Equal(t, "entry", string(b))

	require.NoError(t, l.Delete(lsn))
	_, err = l.Read(lsn)
	require.True(t, errors.Is(err, common.ErrNotFound))
	require.Zero(t, inner.Len())
	require.NoError(t, l.Close())
}

// stripAllLNs -- drop every resident record so that reads go to the log.
func stripAllLNs(env *Environment) {
	env.inList.Range(func(n *node) bool {
		if n.isBottom() {
			env.evictor.stripLNs(n)
		}
		return true
	})
}

func TestLogWriteFailure(t *testing.T) {
	env := openTestEnv(t)
	db := openTestDB(t, env, "wfail", false)
	mustPut(t, db, nil, "a", "1")

	TestPointEnable(testPointFailLogWrite, 1)
	_, err := db.Put(nil, entry("b"), entry("2"))
	require.True(t, errors.Is(err, common.ErrLogWriteFailed))
	_, err = db.Put(nil, entry("a"), entry("3"))
	require.True(t, errors.Is(err, common.ErrLogWriteFailed))
	TestPointResetAll()

	st, err := db.Get(nil, entry("b"), &DatabaseEntry{}, LockDefault)
	require.NoError(t, err)
	require.Equal(t, NotFound, st)
	data := &DatabaseEntry{}
	_, err = db.Get(nil, entry("a"), data, LockDefault)
	require.NoError(t, err)
	require.Equal(t, "1", string(data.Data))
	require.Equal(t, LockStats{}, env.lockManager.Stats())
	requireLatchBalance(t, env)
	requireBudgetConsistent(t, env)
}

func TestLogReadFailure(t *testing.T) {
	for _, cacheBytes := range []int64{0, 1 << 20} {
		env := openTestEnv(t, func(cfg *EnvironmentConfig) {
			cfg.LogCacheBytes = cacheBytes
		})
		db := openTestDB(t, env, "rfail", false)
		for i := 0; i < 40; i++ {
			mustPut(t, db, nil, string(intKey(i)), "v")
		}
		stripAllLNs(env)
		requireBudgetConsistent(t, env)

		TestPointEnable(testPointFailLogRead, 1)
		_, err := db.Get(nil, &DatabaseEntry{Data: intKey(7)}, &DatabaseEntry{}, LockDefault)
		require.True(t, errors.Is(err, common.ErrLogReadFailed))
		c, err := db.OpenCursor(nil, nil)
		require.NoError(t, err)
		_, err = c.GetFirst(&DatabaseEntry{}, &DatabaseEntry{}, LockDefault)
		require.True(t, errors.Is(err, common.ErrLogReadFailed))
		require.NoError(t, c.Close())
		requireLatchBalance(t, env)
		TestPointResetAll()

		keys, data := scanKeys(t, db)
		require.Len(t, keys, 40)
		for _, d := range data {
			require.Equal(t, "v", d)
		}
		requireBudgetConsistent(t, env)
	}
}
