package txbtree

import (
	"bytes"
	"fmt"
	"sync"
	"testing"

	"txbtree/common"

	"github.com/cockroachdb/errors"
	"github.com/stretchr/testify/require"
)

func TestDatabaseRecordOps(t *testing.T) {
	env := openTestEnv(t)
	db := openTestDB(t, env, "ops", false)

	st, err := db.PutNoOverwrite(nil, entry("a"), entry("1"))
	require.NoError(t, err)
	require.Equal(t, Success, st)
	st, err = db.PutNoOverwrite(nil, entry("a"), entry("2"))
	require.NoError(t, err)
	require.Equal(t, KeyExist, st)

	data := &DatabaseEntry{}
	st, err = db.Get(nil, entry("a"), data, LockDefault)
	require.NoError(t, err)
	require.Equal(t, Success, st)
	require.Equal(t, "1", string(data.Data))

	mustPut(t, db, nil, "a", "3")
	_, err = db.Get(nil, entry("a"), data, LockDefault)
	require.NoError(t, err)
	require.Equal(t, "3", string(data.Data))

	st, err = db.Get(nil, entry("b"), data, LockDefault)
	require.NoError(t, err)
	require.Equal(t, NotFound, st)

	st, err = db.GetSearchBoth(nil, entry("a"), entry("3"), LockDefault)
	require.NoError(t, err)
	require.Equal(t, Success, st)
	st, err = db.GetSearchBoth(nil, entry("a"), entry("1"), LockDefault)
	require.NoError(t, err)
	require.Equal(t, NotFound, st)

	st, err = db.Delete(nil, entry("b"))
	require.NoError(t, err)
	require.Equal(t, NotFound, st)
	st, err = db.Delete(nil, entry("a"))
	require.NoError(t, err)
	require.Equal(t, Success, st)
	st, err = db.Get(nil, entry("a"), data, LockDefault)
	require.NoError(t, err)
	require.Equal(t, NotFound, st)

	// The deleted slot takes the new record.
	mustPut(t, db, nil, "a", "4")
	_, err = db.Get(nil, entry("a"), data, LockDefault)
	require.NoError(t, err)
	require.Equal(t, "4", string(data.Data))

	n, err := db.Count()
	require.NoError(t, err)
	require.Equal(t, int64(1), n)

	_, err = db.Put(nil, nil, entry("x"))
	require.True(t, errors.Is(err, common.ErrInvalidParam))
	require.Equal(t, LockStats{}, env.lockManager.Stats())
	requireLatchBalance(t, env)
}

func TestDatabaseDuplicateOps(t *testing.T) {
	env := openTestEnv(t)
	db := openTestDB(t, env, "dupops", true)
	require.True(t, db.SortedDuplicates())
	for _, d := range []string{"b", "a", "c"} {
		st, err := db.PutNoDupData(nil, entry("k"), entry(d))
		require.NoError(t, err)
		require.Equal(t, Success, st)
	}
	st, err := db.PutNoDupData(nil, entry("k"), entry("b"))
	require.NoError(t, err)
	require.Equal(t, KeyExist, st)
	st, err = db.PutNoOverwrite(nil, entry("k"), entry("d"))
	require.NoError(t, err)
	require.Equal(t, KeyExist, st)

	// Put of an existing pair rewrites it in place.
	mustPut(t, db, nil, "k", "a")

	data := &DatabaseEntry{}
	_, err = db.Get(nil, entry("k"), data, LockDefault)
	require.NoError(t, err)
	require.Equal(t, "a", string(data.Data))

	st, err = db.GetSearchBoth(nil, entry("k"), entry("c"), LockDefault)
	require.NoError(t, err)
	require.Equal(t, Success, st)

	n, err := db.Count()
	require.NoError(t, err)
	require.Equal(t, int64(3), n)
	requireLatchBalance(t, env)
}

func TestTransactionLocksUntilCommit(t *testing.T) {
	env := openTestEnv(t)
	db := openTestDB(t, env, "txn", false)
	mustPut(t, db, nil, "a", "1")

	txn, err := env.BeginTransaction(nil)
	require.NoError(t, err)
	mustPut(t, db, txn, "a", "2")
	require.Positive(t, txn.txn.nLocks())

	other, err := env.BeginTransaction(&TransactionConfig{NoWait: true})
	require.NoError(t, err)
	_, err = db.Get(other, entry("a"), &DatabaseEntry{}, LockDefault)
	require.True(t, errors.Is(err, common.ErrLockNotGranted))

	// A dirty read goes around the lock.
	data := &DatabaseEntry{}
	st, err := db.Get(other, entry("a"), data, LockReadUncommitted)
	require.NoError(t, err)
	require.Equal(t, Success, st)
	require.Equal(t, "2", string(data.Data))

	c, err := db.OpenCursor(txn, nil)
	require.NoError(t, err)
	require.Error(t, txn.Commit())
	require.NoError(t, c.Close())
	require.NoError(t, txn.Commit())

	st, err = db.Get(other, entry("a"), data, LockDefault)
	require.NoError(t, err)
	require.Equal(t, Success, st)
	require.NoError(t, other.Abort())
	require.Equal(t, LockStats{}, env.lockManager.Stats())
}

func TestSerializableBlocksPhantoms(t *testing.T) {
	env := openTestEnv(t)
	db := openTestDB(t, env, "phantom", false)
	mustPut(t, db, nil, "b", "1")
	mustPut(t, db, nil, "d", "1")

	reader, err := env.BeginTransaction(&TransactionConfig{Serializable: true})
	require.NoError(t, err)
	c, err := db.OpenCursor(reader, nil)
	require.NoError(t, err)
	key := entry("c")
	st, err := c.GetSearchKeyRange(key, &DatabaseEntry{}, LockDefault)
	require.NoError(t, err)
	require.Equal(t, Success, st)
	require.Equal(t, "d", string(key.Data))
	st, err = c.GetSearchKeyRange(entry("e"), &DatabaseEntry{}, LockDefault)
	require.NoError(t, err)
	require.Equal(t, NotFound, st)
	require.NoError(t, c.Close())
	require.Equal(t, common.LockRangeRead, reader.txn.OwnedLockType(db.impl.eofNodeID))

	writer, err := env.BeginTransaction(&TransactionConfig{Serializable: true, NoWait: true})
	require.NoError(t, err)
	_, err = db.Put(writer, entry("c"), entry("1"))
	require.True(t, errors.Is(err, common.ErrLockNotGranted))
	_, err = db.Put(writer, entry("f"), entry("1"))
	require.True(t, errors.Is(err, common.ErrLockNotGranted))
	require.NoError(t, writer.Abort())

	require.NoError(t, reader.Commit())
	writer, err = env.BeginTransaction(&TransactionConfig{Serializable: true, NoWait: true})
	require.NoError(t, err)
	mustPut(t, db, writer, "c", "1")
	mustPut(t, db, writer, "f", "1")
	require.NoError(t, writer.Commit())

	keys, _ := scanKeys(t, db)
	require.Equal(t, []string{"b", "c", "d", "f"}, keys)
	require.Equal(t, LockStats{}, env.lockManager.Stats())
	requireLatchBalance(t, env)
}

func TestClosedHandles(t *testing.T) {
	env := openTestEnv(t)
	db := openTestDB(t, env, "closed", false)
	mustPut(t, db, nil, "a", "1")
	c, err := db.OpenCursor(nil, nil)
	require.NoError(t, err)
	require.NoError(t, db.Close())
	require.NoError(t, db.Close())
	_, err = c.GetFirst(&DatabaseEntry{}, &DatabaseEntry{}, LockDefault)
	require.True(t, errors.Is(err, common.ErrInvalidParam))
	require.NoError(t, c.Close())
	require.NoError(t, c.Close())
	require.Zero(t, db.impl.openCursors.Load())

	_, err = db.Get(nil, entry("a"), &DatabaseEntry{}, LockDefault)
	require.True(t, errors.Is(err, common.ErrInvalidParam))
	_, err = db.OpenCursor(nil, nil)
	require.Error(t, err)
}

func TestWriteTree(t *testing.T) {
	env := openTestEnv(t)
	db := openTestDB(t, env, "dump", false)
	for i := 0; i < 20; i++ {
		mustPut(t, db, nil, string(intKey(i)), "v")
	}
	var buf bytes.Buffer
	require.NoError(t, db.WriteTree(&buf, true))
	require.Contains(t, buf.String(), string(intKey(19)))
	requireLatchBalance(t, env)
}

func insertRoutine(db *Database, key []byte, val string, errs []error, index int, wg *sync.WaitGroup) {
	defer wg.Done()
	_, errs[index] = db.Put(nil, &DatabaseEntry{Data: key}, entry(val))
}

func TestConcurrentInsert(t *testing.T) {
	env := openTestEnv(t, func(cfg *EnvironmentConfig) {
		cfg.NodeMaxEntries = 16
	})
	db := openTestDB(t, env, "concurrent", false)
	const numElems = 2000
	errs := make([]error, numElems)
	var wg sync.WaitGroup
	for i := 0; i < numElems; i++ {
		wg.Add(1)
		go insertRoutine(db, intKey(i), fmt.Sprintf("v%d", i+10), errs, i, &wg)
	}
	wg.Wait()
	for i := 0; i < numElems; i++ {
		require.NoError(t, errs[i], "insert %d", i)
	}

	keys, data := scanKeys(t, db)
	require.Len(t, keys, numElems)
	for i := 0; i < numElems; i++ {
		require.Equal(t, string(intKey(i)), keys[i])
		require.Equal(t, fmt.Sprintf("v%d", i+10), data[i])
	}
	vr, err := db.Verify()
	require.NoError(t, err)
	require.Equal(t, int64(numElems), vr.Records)
	requireLatchBalance(t, env)
	requireBudgetConsistent(t, env)
}

func TestConcurrentReadersAndWriters(t *testing.T) {
	env := openTestEnv(t)
	db := openTestDB(t, env, "mixed", true)
	for i := 0; i < 50; i++ {
		mustPut(t, db, nil, string(intKey(i)), "0")
	}
	var wg sync.WaitGroup
	errs := make([]error, 8)
	for w := 0; w < 8; w++ {
		wg.Add(1)
		go func(w int) {
			defer wg.Done()
			for i := 0; i < 50; i++ {
				k := &DatabaseEntry{Data: intKey((i*7 + w) % 50)}
				var err error
				switch w % 3 {
				case 0:
					_, err = db.Put(nil, k, entry(fmt.Sprintf("%d", w)))
				case 1:
					_, err = db.Delete(nil, k)
				default:
					c, cerr := db.OpenCursor(nil, nil)
					if cerr != nil {
						errs[w] = cerr
						return
					}
					st, serr := c.GetFirst(&DatabaseEntry{}, &DatabaseEntry{}, LockDefault)
					for serr == nil && st == Success {
						st, serr = c.GetNext(&DatabaseEntry{}, &DatabaseEntry{}, LockDefault)
					}
					err = serr
					if cerr := c.Close(); err == nil {
						err = cerr
					}
				}
				// Auto-commit puts and deletes of duplicates can wait on
				// each other's locks; one of them times out.
				if err != nil && !common.IsLockError(err) {
					errs[w] = err
					return
				}
			}
		}(w)
	}
	wg.Wait()
	for w, err := range errs {
		require.NoError(t, err, "worker %d", w)
	}
	keys, data := scanKeys(t, db)
	require.Equal(t, inOrderKeys(t, db), compactKeys(keys))
	for i, k := range keys {
		if i > 0 && keys[i-1] == k {
			continue
		}
		got := &DatabaseEntry{}
		st, err := db.Get(nil, entry(k), got, LockDefault)
		require.NoError(t, err)
		require.Equal(t, Success, st, "key %s", k)
		require.Equal(t, data[i], string(got.Data))
	}
	_, err := db.Verify()
	require.NoError(t, err)
	requireLatchBalance(t, env)
}

func compactKeys(keys []string) []string {
	var out []string
	for _, k := range keys {
		if len(out) == 0 || out[len(out)-1] != k {
			out = append(out, k)
		}
	}
	return out
}

func TestTransactionKeepsOnlyFirstOldVersion(t *testing.T) {
	env := openTestEnv(t, func(cfg *EnvironmentConfig) { cfg.LogCacheBytes = 0 })
	db := openTestDB(t, env, "versions", false)
	store := env.log.(*checkedLog).inner.(*LocalHashMapLog)

	mustPut(t, db, nil, "a", "1")
	base := store.Len()

	txn, err := env.BeginTransaction(nil)
	require.NoError(t, err)
	mustPut(t, db, txn, "a", "2")
	require.Equal(t, base+1, store.Len())
	// The intermediate version goes away; the committed one stays until
	// the transaction ends.
	mustPut(t, db, txn, "a", "3")
	require.Equal(t, base+1, store.Len())
	require.NoError(t, txn.Commit())
	require.Equal(t, base, store.Len())

	data := &DatabaseEntry{}
	st, err := db.Get(nil, entry("a"), data, LockDefault)
	require.NoError(t, err)
	require.Equal(t, Success, st)
	require.Equal(t, "3", string(data.Data))
}
