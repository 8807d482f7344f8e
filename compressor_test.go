package txbtree

import (
	"testing"

	"github.com/stretchr/testify/require"
)

func TestCompressorRemovesDeletedSlots(t *testing.T) {
	env := openTestEnv(t)
	db := openTestDB(t, env, "compress", false)
	for i := 0; i < 40; i++ {
		mustPut(t, db, nil, string(intKey(i)), "v")
	}
	before, err := db.Stats()
	require.NoError(t, err)

	txn, err := env.BeginTransaction(nil)
	require.NoError(t, err)
	for i := 0; i < 20; i++ {
		st, err := db.Delete(txn, &DatabaseEntry{Data: intKey(i)})
		require.NoError(t, err)
		require.Equal(t, Success, st)
	}
	// Nothing is queued while the deleter holds its locks.
	require.Zero(t, env.compressor.QueueLen())
	require.NoError(t, txn.Commit())
	require.Equal(t, 20, env.compressor.QueueLen())

	require.NoError(t, env.Compress())
	require.Zero(t, env.compressor.QueueLen())
	cs := env.compressor.Stats()
	require.Equal(t, int64(20), cs.CompressedSlots)
	require.Positive(t, cs.PrunedBINs)

	after, err := db.Stats()
	require.NoError(t, err)
	require.Less(t, after.BINs, before.BINs)
	require.Equal(t, int64(20), after.LNs)
	require.Zero(t, after.DeletedLNs)

	keys, _ := scanKeys(t, db)
	require.Len(t, keys, 20)
	require.Equal(t, keys, inOrderKeys(t, db))
	_, err = db.Verify()
	require.NoError(t, err)
	requireBudgetConsistent(t, env)
	requireLatchBalance(t, env)
}

func TestCompressorSkipsSlotsUnderCursor(t *testing.T) {
	env := openTestEnv(t)
	db := openTestDB(t, env, "busy", false)
	for i := 0; i < 8; i++ {
		mustPut(t, db, nil, string(intKey(i)), "v")
	}
	c, err := db.OpenCursor(nil, nil)
	require.NoError(t, err)
	st, err := c.GetSearchKey(&DatabaseEntry{Data: intKey(5)}, &DatabaseEntry{}, LockDefault)
	require.NoError(t, err)
	require.Equal(t, Success, st)
	st, err = c.Delete()
	require.NoError(t, err)
	require.Equal(t, Success, st)
	require.Equal(t, 1, env.compressor.QueueLen())

	require.NoError(t, env.Compress())
	require.Equal(t, 1, env.compressor.QueueLen())
	require.Equal(t, int64(1), env.compressor.Stats().Requeued)

	// The cursor still sees the deleted record where it was.
	st, err = c.GetCurrent(&DatabaseEntry{}, &DatabaseEntry{}, LockDefault)
	require.NoError(t, err)
	require.Equal(t, KeyEmpty, st)
	key := &DatabaseEntry{}
	st, err = c.GetNext(key, &DatabaseEntry{}, LockDefault)
	require.NoError(t, err)
	require.Equal(t, Success, st)
	require.Equal(t, intKey(6), key.Data)
	require.NoError(t, c.Close())

	require.NoError(t, env.Compress())
	require.Zero(t, env.compressor.QueueLen())
	require.Equal(t, int64(1), env.compressor.Stats().CompressedSlots)
	requireLatchBalance(t, env)
}

func TestCompressorRemovesEmptyDuplicateTree(t *testing.T) {
	env := openTestEnv(t)
	db := openTestDB(t, env, "duptree", true)
	for _, d := range []string{"a", "b", "c", "d", "e", "f"} {
		mustPut(t, db, nil, "k", d)
	}
	mustPut(t, db, nil, "j", "x")
	before, err := db.Stats()
	require.NoError(t, err)
	require.Positive(t, before.DBINs)

	st, err := db.Delete(nil, entry("k"))
	require.NoError(t, err)
	require.Equal(t, Success, st)
	require.NoError(t, env.Compress())
	require.Equal(t, int64(1), env.compressor.Stats().RemovedDupTrees)

	after, err := db.Stats()
	require.NoError(t, err)
	require.Zero(t, after.DBINs)
	keys, data := scanKeys(t, db)
	require.Equal(t, []string{"j"}, keys)
	require.Equal(t, []string{"x"}, data)

	// The key can come back as a plain record.
	mustPut(t, db, nil, "k", "z")
	keys, _ = scanKeys(t, db)
	require.Equal(t, []string{"j", "k"}, keys)
	_, err = db.Verify()
	require.NoError(t, err)
	requireBudgetConsistent(t, env)
}
