package txbtree

import (
	"fmt"
	"math/rand"
	"slices"
	"testing"
	"time"

	"txbtree/common"

	"github.com/cockroachdb/errors"
	"github.com/stretchr/testify/require"
)

func TestScanAfterSplitsAndDeletes(t *testing.T) {
	env := openTestEnv(t)
	db := openTestDB(t, env, "scenario", false)
	for k := 10; k <= 130; k += 10 {
		mustPut(t, db, nil, string(intKey(k)), fmt.Sprintf("v%d", k))
	}
	for k := 10; k <= 40; k += 10 {
		st, err := db.Delete(nil, &DatabaseEntry{Data: intKey(k)})
		require.NoError(t, err)
		require.Equal(t, Success, st)
	}
	st, err := db.Stats()
	require.NoError(t, err)
	require.Greater(t, st.BINs, int64(1))

	c, err := db.OpenCursor(nil, nil)
	require.NoError(t, err)
	key, data := &DatabaseEntry{}, &DatabaseEntry{}
	var got []string
	s, err := c.GetFirst(key, data, LockDefault)
	for err == nil && s == Success {
		got = append(got, string(key.Data))
		require.Zero(t, c.impl.owner.held())
		s, err = c.GetNext(key, data, LockDefault)
	}
	require.NoError(t, err)
	require.Equal(t, NotFound, s)
	var want []string
	for k := 50; k <= 130; k += 10 {
		want = append(want, string(intKey(k)))
	}
	require.Equal(t, want, got)

	s, err = c.GetNext(key, data, LockDefault)
	require.NoError(t, err)
	require.Equal(t, NotFound, s)
	require.NoError(t, c.Close())
	requireLatchBalance(t, env)
	requireNoRegisteredCursors(t, env)
}

func TestSearchBothRangeIntoDuplicates(t *testing.T) {
	env := openTestEnv(t)
	db := openTestDB(t, env, "dups", true)
	for _, d := range []string{"c", "a", "b"} {
		mustPut(t, db, nil, "k", d)
	}
	mustPut(t, db, nil, "m", "z")

	ci := newCursorImpl(db.impl, newBasicLocker(env, false), false)
	res, err := ci.searchAndPosition([]byte("k"), []byte(""), common.SearchBothRange, common.LockRead)
	require.NoError(t, err)
	require.Equal(t, common.Found|common.ExactKey, res)

	key, data := &DatabaseEntry{}, &DatabaseEntry{}
	st, err := ci.getNext(key, data, common.LockRead, true, true)
	require.NoError(t, err)
	require.Equal(t, Success, st)
	require.Equal(t, "k", string(key.Data))
	require.Equal(t, "a", string(data.Data))
	for _, want := range [][2]string{{"k", "b"}, {"k", "c"}, {"m", "z"}} {
		st, err = ci.getNext(key, data, common.LockRead, true, false)
		require.NoError(t, err)
		require.Equal(t, Success, st)
		require.Equal(t, want[0], string(key.Data))
		require.Equal(t, want[1], string(data.Data))
	}
	st, err = ci.getNext(key, data, common.LockRead, true, false)
	require.NoError(t, err)
	require.Equal(t, NotFound, st)
	require.NoError(t, ci.close())
	requireLatchBalance(t, env)
}

func TestSearchModes(t *testing.T) {
	env := openTestEnv(t)
	db := openTestDB(t, env, "search", true)
	for _, kd := range [][2]string{{"b", "1"}, {"b", "3"}, {"d", "1"}, {"f", "5"}} {
		mustPut(t, db, nil, kd[0], kd[1])
	}
	c, err := db.OpenCursor(nil, nil)
	require.NoError(t, err)
	defer func() { require.NoError(t, c.Close()) }()

	key, data := entry("b"), &DatabaseEntry{}
	st, err := c.GetSearchKey(key, data, LockDefault)
	require.NoError(t, err)
	require.Equal(t, Success, st)
	require.Equal(t, "1", string(data.Data))

	st, err = c.GetSearchKey(entry("c"), data, LockDefault)
	require.NoError(t, err)
	require.Equal(t, NotFound, st)
	// A failed search leaves the cursor where it was.
	st, err = c.GetCurrent(key, data, LockDefault)
	require.NoError(t, err)
	require.Equal(t, Success, st)
	require.Equal(t, "b", string(key.Data))

	key = entry("c")
	st, err = c.GetSearchKeyRange(key, data, LockDefault)
	require.NoError(t, err)
	require.Equal(t, Success, st)
	require.Equal(t, "d", string(key.Data))

	key = entry("a")
	st, err = c.GetSearchKeyRange(key, data, LockDefault)
	require.NoError(t, err)
	require.Equal(t, Success, st)
	require.Equal(t, "b", string(key.Data))
	require.Equal(t, "1", string(data.Data))

	st, err = c.GetSearchKeyRange(entry("g"), data, LockDefault)
	require.NoError(t, err)
	require.Equal(t, NotFound, st)

	key, data = entry("b"), entry("3")
	st, err = c.GetSearchBoth(key, data, LockDefault)
	require.NoError(t, err)
	require.Equal(t, Success, st)
	st, err = c.GetSearchBoth(entry("b"), entry("2"), LockDefault)
	require.NoError(t, err)
	require.Equal(t, NotFound, st)

	key, data = entry("b"), entry("2")
	st, err = c.GetSearchBothRange(key, data, LockDefault)
	require.NoError(t, err)
	require.Equal(t, Success, st)
	require.Equal(t, "b", string(key.Data))
	require.Equal(t, "3", string(data.Data))

	st, err = c.GetSearchBothRange(entry("b"), entry("4"), LockDefault)
	require.NoError(t, err)
	require.Equal(t, NotFound, st)

	key, data = entry("f"), entry("1")
	st, err = c.GetSearchBothRange(key, data, LockDefault)
	require.NoError(t, err)
	require.Equal(t, Success, st)
	require.Equal(t, "5", string(data.Data))
	require.Zero(t, c.impl.owner.held())
}

func TestScanMatchesTreeOrder(t *testing.T) {
	env := openTestEnv(t)
	db := openTestDB(t, env, "order", false)
	rng := rand.New(rand.NewSource(7))
	live := make(map[string]bool)
	for i := 0; i < 300; i++ {
		k := string(intKey(rng.Intn(1000)))
		mustPut(t, db, nil, k, "v")
		live[k] = true
	}
	for k := range live {
		if rng.Intn(3) == 0 {
			_, err := db.Delete(nil, entry(k))
			require.NoError(t, err)
			delete(live, k)
		}
	}
	var want []string
	for k := range live {
		want = append(want, k)
	}
	slices.Sort(want)

	keys, _ := scanKeys(t, db)
	require.Equal(t, want, keys)
	require.Equal(t, inOrderKeys(t, db), keys)

	c, err := db.OpenCursor(nil, nil)
	require.NoError(t, err)
	var back []string
	key, data := &DatabaseEntry{}, &DatabaseEntry{}
	st, err := c.GetPrev(key, data, LockDefault)
	for err == nil && st == Success {
		back = append(back, string(key.Data))
		st, err = c.GetPrev(key, data, LockDefault)
	}
	require.NoError(t, err)
	require.NoError(t, c.Close())
	slices.Reverse(back)
	require.Equal(t, want, back)

	_, err = db.Verify()
	require.NoError(t, err)
	requireLatchBalance(t, env)
}

func TestDuplicatesNestAndVanish(t *testing.T) {
	env := openTestEnv(t)
	db := openTestDB(t, env, "nest", true)
	const n = 10
	mustPut(t, db, nil, "a", "x")
	for _, i := range rand.New(rand.NewSource(3)).Perm(n) {
		mustPut(t, db, nil, "k", fmt.Sprintf("d%02d", i))
	}
	mustPut(t, db, nil, "z", "x")

	keys, data := scanKeys(t, db)
	require.Len(t, keys, n+2)
	for i := 0; i < n; i++ {
		require.Equal(t, "k", keys[i+1])
		require.Equal(t, fmt.Sprintf("d%02d", i), data[i+1])
	}

	c, err := db.OpenCursor(nil, nil)
	require.NoError(t, err)
	st, err := c.GetSearchKey(entry("k"), &DatabaseEntry{}, LockDefault)
	require.NoError(t, err)
	require.Equal(t, Success, st)
	cnt, err := c.Count()
	require.NoError(t, err)
	require.Equal(t, n, cnt)
	var dups int
	for st == Success {
		dups++
		st, err = c.GetNextDup(&DatabaseEntry{}, &DatabaseEntry{}, LockDefault)
		require.NoError(t, err)
	}
	require.Equal(t, n, dups)
	st, err = c.GetNextNoDup(&DatabaseEntry{}, &DatabaseEntry{}, LockDefault)
	require.NoError(t, err)
	require.Equal(t, Success, st)
	require.NoError(t, c.Close())

	st, err = db.PutNoDupData(nil, entry("k"), entry("d03"))
	require.NoError(t, err)
	require.Equal(t, KeyExist, st)

	st, err = db.Delete(nil, entry("k"))
	require.NoError(t, err)
	require.Equal(t, Success, st)
	keys, _ = scanKeys(t, db)
	require.Equal(t, []string{"a", "z"}, keys)

	require.NoError(t, env.Compress())
	keys, _ = scanKeys(t, db)
	require.Equal(t, []string{"a", "z"}, keys)
	require.Equal(t, []string{"a", "z"}, inOrderKeys(t, db))
	cs := env.compressor.Stats()
	require.Positive(t, cs.CompressedSlots+cs.RemovedDupTrees)
	_, err = db.Verify()
	require.NoError(t, err)
	requireLatchBalance(t, env)
}

func TestDeleteTwice(t *testing.T) {
	env := openTestEnv(t)
	db := openTestDB(t, env, "del", false)
	mustPut(t, db, nil, "a", "1")
	mustPut(t, db, nil, "b", "2")

	txn, err := env.BeginTransaction(nil)
	require.NoError(t, err)
	c, err := db.OpenCursor(txn, nil)
	require.NoError(t, err)
	st, err := c.GetSearchKey(entry("a"), &DatabaseEntry{}, LockRMW)
	require.NoError(t, err)
	require.Equal(t, Success, st)

	st, err = c.Delete()
	require.NoError(t, err)
	require.Equal(t, Success, st)
	nLocks := txn.txn.nLocks()

	st, err = c.Delete()
	require.NoError(t, err)
	require.Equal(t, KeyEmpty, st)
	require.Equal(t, nLocks, txn.txn.nLocks())

	st, err = c.GetCurrent(&DatabaseEntry{}, &DatabaseEntry{}, LockDefault)
	require.NoError(t, err)
	require.Equal(t, KeyEmpty, st)
	st, err = c.PutCurrent(entry("x"))
	require.NoError(t, err)
	require.Equal(t, KeyEmpty, st)

	require.NoError(t, c.Close())
	require.NoError(t, txn.Commit())
	keys, _ := scanKeys(t, db)
	require.Equal(t, []string{"b"}, keys)
	requireLatchBalance(t, env)
}

func TestPartialPut(t *testing.T) {
	env := openTestEnv(t)
	db := openTestDB(t, env, "partial", false)
	mustPut(t, db, nil, "k", "0123456789")

	c, err := db.OpenCursor(nil, nil)
	require.NoError(t, err)
	st, err := c.GetSearchKey(entry("k"), &DatabaseEntry{}, LockDefault)
	require.NoError(t, err)
	require.Equal(t, Success, st)

	w := entry("XY")
	w.SetPartial(2, 3)
	st, err = c.PutCurrent(w)
	require.NoError(t, err)
	require.Equal(t, Success, st)

	data := &DatabaseEntry{}
	_, err = db.Get(nil, entry("k"), data, LockDefault)
	require.NoError(t, err)
	require.Equal(t, "01XY56789", string(data.Data))

	w = entry("ZZ")
	w.SetPartial(12, 2)
	st, err = c.PutCurrent(w)
	require.NoError(t, err)
	require.Equal(t, Success, st)
	require.NoError(t, c.Close())

	_, err = db.Get(nil, entry("k"), data, LockDefault)
	require.NoError(t, err)
	require.Equal(t, []byte("01XY56789\x00\x00\x00ZZ"), data.Data)

	part := &DatabaseEntry{}
	part.SetPartial(2, 3)
	_, err = db.Get(nil, entry("k"), part, LockDefault)
	require.NoError(t, err)
	require.Equal(t, "XY5", string(part.Data))
}

func TestPutCurrentKeepsDuplicatesEqual(t *testing.T) {
	env := openTestEnv(t)
	db := openTestDB(t, env, "dupchange", true)
	mustPut(t, db, nil, "k", "a")
	mustPut(t, db, nil, "k", "b")

	txn, err := env.BeginTransaction(nil)
	require.NoError(t, err)
	c, err := db.OpenCursor(txn, nil)
	require.NoError(t, err)
	st, err := c.GetSearchKey(entry("k"), &DatabaseEntry{}, LockDefault)
	require.NoError(t, err)
	require.Equal(t, Success, st)

	_, err = c.PutCurrent(entry("z"))
	require.True(t, errors.Is(err, common.ErrDuplicateChange))
	// The write lock taken for the attempt is given back.
	nodeID := c.impl.dupBin.Load().slots[c.impl.dupIndex].ln.nodeID
	require.Equal(t, common.LockRead, txn.txn.OwnedLockType(nodeID))

	st, err = c.PutCurrent(entry("a"))
	require.NoError(t, err)
	require.Equal(t, Success, st)
	require.NoError(t, c.Close())
	require.NoError(t, txn.Commit())

	_, data := scanKeys(t, db)
	require.Equal(t, []string{"a", "b"}, data)
}

func TestLockFollowsReplacedRecord(t *testing.T) {
	env := openTestEnv(t, func(cfg *EnvironmentConfig) {
		cfg.LockTimeout = 10 * time.Second
	})
	db := openTestDB(t, env, "relock", false)
	mustPut(t, db, nil, "k", "v1")

	writer, err := env.BeginTransaction(nil)
	require.NoError(t, err)
	mustPut(t, db, writer, "k", "v2")

	reader, err := env.BeginTransaction(nil)
	require.NoError(t, err)
	c, err := db.OpenCursor(reader, nil)
	require.NoError(t, err)
	st, err := c.GetSearchKey(entry("k"), &DatabaseEntry{}, LockReadUncommitted)
	require.NoError(t, err)
	require.Equal(t, Success, st)
	bin := c.impl.bin.Load()
	oldID := bin.slots[c.impl.index].ln.nodeID

	type reply struct {
		st   OperationStatus
		data string
		err  error
	}
	done := make(chan reply)
	go func() {
		data := &DatabaseEntry{}
		st, err := c.GetCurrent(&DatabaseEntry{}, data, LockDefault)
		done <- reply{st, string(data.Data), err}
	}()
	require.Eventually(t, func() bool { return env.lockManager.Stats().Waiters == 1 },
		5*time.Second, time.Millisecond)

	st, err = db.Delete(writer, entry("k"))
	require.NoError(t, err)
	require.Equal(t, Success, st)
	mustPut(t, db, writer, "k", "v3")
	require.NoError(t, writer.Commit())

	r := <-done
	require.NoError(t, r.err)
	require.Equal(t, Success, r.st)
	require.Equal(t, "v3", r.data)

	o := &latchOwner{}
	bin.latch.Acquire(o)
	newID := bin.slots[c.impl.index].ln.nodeID
	bin.latch.Release(o)
	require.NotEqual(t, oldID, newID)
	require.Equal(t, common.LockNone, reader.txn.OwnedLockType(oldID))
	require.Equal(t, common.LockRead, reader.txn.OwnedLockType(newID))

	require.NoError(t, c.Close())
	require.NoError(t, reader.Commit())
	require.Equal(t, LockStats{}, env.lockManager.Stats())
	requireLatchBalance(t, env)
}

func TestSiblingMoveDuringConcurrentInserts(t *testing.T) {
	env := openTestEnv(t)
	db := openTestDB(t, env, "hook", false)
	for i := 0; i < 40; i += 2 {
		mustPut(t, db, nil, string(intKey(i)), "v")
	}
	c, err := db.OpenCursor(nil, nil)
	require.NoError(t, err)
	next := 1
	// Inserts from the hook split the BIN the cursor is leaving.
	c.impl.setTestHook(func() {
		if next < 40 {
			mustPut(t, db, nil, string(intKey(next)), "v")
			next += 2
		}
	})
	var keys []string
	key, data := &DatabaseEntry{}, &DatabaseEntry{}
	st, err := c.GetFirst(key, data, LockDefault)
	for err == nil && st == Success {
		keys = append(keys, string(key.Data))
		st, err = c.GetNext(key, data, LockDefault)
	}
	require.NoError(t, err)
	require.NoError(t, c.Close())
	require.True(t, slices.IsSorted(keys))
	require.Equal(t, len(slices.Compact(slices.Clone(keys))), len(keys))
	require.Greater(t, next, 1)
	requireLatchBalance(t, env)
}

func TestCloneAndReset(t *testing.T) {
	env := openTestEnv(t)
	db := openTestDB(t, env, "clone", false)
	for i := 0; i < 10; i++ {
		mustPut(t, db, nil, string(intKey(i)), "v")
	}
	c, err := db.OpenCursor(nil, nil)
	require.NoError(t, err)
	key := entry(string(intKey(5)))
	st, err := c.GetSearchKey(key, &DatabaseEntry{}, LockDefault)
	require.NoError(t, err)
	require.Equal(t, Success, st)

	same, err := c.Dup(true)
	require.NoError(t, err)
	fresh, err := c.Dup(false)
	require.NoError(t, err)
	require.Equal(t, int64(3), db.impl.openCursors.Load())

	got := &DatabaseEntry{}
	st, err = same.GetCurrent(got, &DatabaseEntry{}, LockDefault)
	require.NoError(t, err)
	require.Equal(t, Success, st)
	require.Equal(t, key.Data, got.Data)

	_, err = fresh.GetCurrent(got, &DatabaseEntry{}, LockDefault)
	require.True(t, errors.Is(err, common.ErrNotInitialized))

	require.NoError(t, same.impl.reset())
	require.True(t, same.impl.isNotInitialized())
	require.Equal(t, 1, c.impl.bin.Load().nCursors())

	for _, cur := range []*Cursor{c, same, fresh} {
		require.NoError(t, cur.Close())
	}
	_, err = c.GetCurrent(got, &DatabaseEntry{}, LockDefault)
	require.True(t, errors.Is(err, common.ErrCursorClosed))
	require.Zero(t, db.impl.openCursors.Load())
	requireLatchBalance(t, env)
}

func TestLockNextKeyForInsert(t *testing.T) {
	env := openTestEnv(t)
	db := openTestDB(t, env, "nextkey", false)
	mustPut(t, db, nil, "b", "1")
	mustPut(t, db, nil, "d", "1")

	locker := newBasicLocker(env, false)
	ci := newCursorImpl(db.impl, locker, false)
	require.NoError(t, ci.lockNextKeyForInsert([]byte("c"), []byte("x")))
	ci.setTargetBin()
	dID := ci.targetBin.slots[ci.targetIndex].ln.nodeID
	require.Equal(t, common.LockRangeInsert, locker.OwnedLockType(dID))

	require.NoError(t, ci.lockNextKeyForInsert([]byte("e"), []byte("x")))
	require.Equal(t, common.LockRangeInsert, locker.OwnedLockType(db.impl.eofNodeID))
	require.NoError(t, ci.close())
	require.Equal(t, common.LockNone, locker.OwnedLockType(dID))
	requireLatchBalance(t, env)
}

func TestSearchKeySkipsDeletedFirstDuplicate(t *testing.T) {
	env := openTestEnv(t)
	db := openTestDB(t, env, "firstdup", true)
	mustPut(t, db, nil, "j", "x")
	for _, d := range []string{"a", "b", "c"} {
		mustPut(t, db, nil, "k", d)
	}
	mustPut(t, db, nil, "l", "y")

	c, err := db.OpenCursor(nil, nil)
	require.NoError(t, err)
	st, err := c.GetSearchBoth(entry("k"), entry("a"), LockDefault)
	require.NoError(t, err)
	require.Equal(t, Success, st)
	st, err = c.Delete()
	require.NoError(t, err)
	require.Equal(t, Success, st)
	require.NoError(t, c.Close())

	data := &DatabaseEntry{}
	st, err = db.Get(nil, entry("k"), data, LockDefault)
	require.NoError(t, err)
	require.Equal(t, Success, st)
	require.Equal(t, "b", string(data.Data))

	c, err = db.OpenCursor(nil, nil)
	require.NoError(t, err)
	key := entry("k")
	st, err = c.GetSearchKey(key, data, LockDefault)
	require.NoError(t, err)
	require.Equal(t, Success, st)
	require.Equal(t, "k", string(key.Data))
	require.Equal(t, "b", string(data.Data))
	st, err = c.Delete()
	require.NoError(t, err)
	require.Equal(t, Success, st)
	st, err = c.GetSearchKey(entry("k"), data, LockDefault)
	require.NoError(t, err)
	require.Equal(t, Success, st)
	require.Equal(t, "c", string(data.Data))
	st, err = c.GetNextDup(key, data, LockDefault)
	require.NoError(t, err)
	require.Equal(t, NotFound, st)
	require.NoError(t, c.Close())

	st, err = db.Delete(nil, entry("k"))
	require.NoError(t, err)
	require.Equal(t, Success, st)
	keys, _ := scanKeys(t, db)
	require.Equal(t, []string{"j", "l"}, keys)
	st, err = db.Get(nil, entry("k"), &DatabaseEntry{}, LockDefault)
	require.NoError(t, err)
	require.Equal(t, NotFound, st)
	st, err = db.Delete(nil, entry("k"))
	require.NoError(t, err)
	require.Equal(t, NotFound, st)
	requireLatchBalance(t, env)
	requireNoRegisteredCursors(t, env)
}

func TestFailedSearchLeavesEntries(t *testing.T) {
	env := openTestEnv(t)
	db := openTestDB(t, env, "failedsearch", true)
	mustPut(t, db, nil, "k", "a")
	mustPut(t, db, nil, "k", "b")
	mustPut(t, db, nil, "z", "q")

	c, err := db.OpenCursor(nil, nil)
	require.NoError(t, err)
	defer func() { require.NoError(t, c.Close()) }()

	key, data := entry("k"), entry("c")
	st, err := c.GetSearchBothRange(key, data, LockDefault)
	require.NoError(t, err)
	require.Equal(t, NotFound, st)
	require.Equal(t, "k", string(key.Data))
	require.Equal(t, "c", string(data.Data))

	key, data = entry("zz"), entry("unchanged")
	st, err = c.GetSearchKeyRange(key, data, LockDefault)
	require.NoError(t, err)
	require.Equal(t, NotFound, st)
	require.Equal(t, "zz", string(key.Data))
	require.Equal(t, "unchanged", string(data.Data))

	key, data = entry("k"), entry("b")
	st, err = c.GetSearchBothRange(key, data, LockDefault)
	require.NoError(t, err)
	require.Equal(t, Success, st)
	require.Equal(t, "b", string(data.Data))
}

func TestReverseScanAcrossDuplicateBINs(t *testing.T) {
	env := openTestEnv(t)
	db := openTestDB(t, env, "reversedups", true)
	const n = 20
	mustPut(t, db, nil, "a", "x")
	for _, i := range rand.New(rand.NewSource(5)).Perm(n) {
		mustPut(t, db, nil, "k", fmt.Sprintf("d%02d", i))
	}
	mustPut(t, db, nil, "z", "x")
	stats, err := db.Stats()
	require.NoError(t, err)
	require.Greater(t, stats.DBINs, int64(1))

	c, err := db.OpenCursor(nil, nil)
	require.NoError(t, err)
	key, data := &DatabaseEntry{}, &DatabaseEntry{}
	var got []string
	st, err := c.GetLast(key, data, LockDefault)
	for err == nil && st == Success {
		got = append(got, string(key.Data)+"/"+string(data.Data))
		st, err = c.GetPrev(key, data, LockDefault)
	}
	require.NoError(t, err)
	require.Equal(t, NotFound, st)
	require.NoError(t, c.Close())

	want := []string{"z/x"}
	for i := n - 1; i >= 0; i-- {
		want = append(want, fmt.Sprintf("k/d%02d", i))
	}
	want = append(want, "a/x")
	require.Equal(t, want, got)
	requireLatchBalance(t, env)
	requireNoRegisteredCursors(t, env)
}

func TestCursorDeletesEveryDuplicate(t *testing.T) {
	env := openTestEnv(t)
	db := openTestDB(t, env, "cursordeletes", true)
	const n = 10
	mustPut(t, db, nil, "a", "x")
	for i := 0; i < n; i++ {
		mustPut(t, db, nil, "k", fmt.Sprintf("d%02d", i))
	}
	mustPut(t, db, nil, "z", "x")

	c, err := db.OpenCursor(nil, nil)
	require.NoError(t, err)
	st, err := c.GetSearchKey(entry("k"), &DatabaseEntry{}, LockDefault)
	require.NoError(t, err)
	var deleted int
	for st == Success {
		st, err = c.Delete()
		require.NoError(t, err)
		require.Equal(t, Success, st)
		deleted++
		st, err = c.GetNextDup(&DatabaseEntry{}, &DatabaseEntry{}, LockDefault)
		require.NoError(t, err)
	}
	require.Equal(t, n, deleted)
	require.NoError(t, c.Close())

	keys, _ := scanKeys(t, db)
	require.Equal(t, []string{"a", "z"}, keys)

	c, err = db.OpenCursor(nil, nil)
	require.NoError(t, err)
	key := &DatabaseEntry{}
	var back []string
	st, err = c.GetLast(key, &DatabaseEntry{}, LockDefault)
	for err == nil && st == Success {
		back = append(back, string(key.Data))
		st, err = c.GetPrev(key, &DatabaseEntry{}, LockDefault)
	}
	require.NoError(t, err)
	require.Equal(t, []string{"z", "a"}, back)

	key = entry("k")
	st, err = c.GetSearchKey(key, &DatabaseEntry{}, LockDefault)
	require.NoError(t, err)
	require.Equal(t, NotFound, st)
	require.Equal(t, "k", string(key.Data))
	require.NoError(t, c.Close())

	// The deleted duplicates are still in the tree.
	require.Zero(t, env.compressor.Stats().Runs)
	requireLatchBalance(t, env)
	requireNoRegisteredCursors(t, env)
}

func TestPutCurrentOnEmptyDuplicate(t *testing.T) {
	env := openTestEnv(t)
	db := openTestDB(t, env, "emptydup", true)
	st, err := db.Put(nil, entry("k"), &DatabaseEntry{})
	require.NoError(t, err)
	require.Equal(t, Success, st)

	c, err := db.OpenCursor(nil, nil)
	require.NoError(t, err)
	st, err = c.GetSearchKey(entry("k"), &DatabaseEntry{}, LockDefault)
	require.NoError(t, err)
	require.Equal(t, Success, st)
	st, err = c.PutCurrent(&DatabaseEntry{Data: []byte{}})
	require.NoError(t, err)
	require.Equal(t, Success, st)
	_, err = c.PutCurrent(entry("x"))
	require.True(t, errors.Is(err, common.ErrDuplicateChange))
	require.NoError(t, c.Close())
}
