package txbtree

import (
	"fmt"
	"testing"

	"github.com/stretchr/testify/require"
)

// openTestEnv -- an environment on the in-memory log with small nodes so
// that a few records already split the tree.
func openTestEnv(t *testing.T, opts ...func(cfg *EnvironmentConfig)) *Environment {
	t.Helper()
	TestPointResetAll()
	cfg := DefaultEnvironmentConfig()
	cfg.LogPolicy = LogPolicyLocalMap
	cfg.NodeMaxEntries = 4
	cfg.DupNodeMaxEntries = 4
	cfg.MinTreeMemory = 0
	for _, opt := range opts {
		opt(&cfg)
	}
	env, err := OpenEnvironment(cfg)
	require.NoError(t, err)
	t.Cleanup(func() {
		TestPointResetAll()
		require.NoError(t, env.Close())
	})
	return env
}

func openTestDB(t *testing.T, env *Environment, name string, dups bool) *Database {
	t.Helper()
	db, err := env.OpenDatabase(name, DatabaseConfig{AllowCreate: true, SortedDuplicates: dups})
	require.NoError(t, err)
	t.Cleanup(func() { _ = db.Close() })
	return db
}

func entry(s string) *DatabaseEntry {
	return &DatabaseEntry{Data: []byte(s)}
}

func intKey(i int) []byte {
	return []byte(fmt.Sprintf("%04d", i))
}

func mustPut(t *testing.T, db *Database, txn *Transaction, key, data string) {
	t.Helper()
	st, err := db.Put(txn, entry(key), entry(data))
	require.NoError(t, err)
	require.Equal(t, Success, st)
}

// scanKeys -- every key (repeated per datum) and datum, moving forward
// from the first record.
func scanKeys(t *testing.T, db *Database) ([]string, []string) {
	t.Helper()
	c, err := db.OpenCursor(nil, nil)
	require.NoError(t, err)
	defer func() { require.NoError(t, c.Close()) }()
	var keys, data []string
	key, d := &DatabaseEntry{}, &DatabaseEntry{}
	st, err := c.GetFirst(key, d, LockDefault)
	for err == nil && st == Success {
		keys = append(keys, string(key.Data))
		data = append(data, string(d.Data))
		st, err = c.GetNext(key, d, LockDefault)
	}
	require.NoError(t, err)
	require.Equal(t, NotFound, st)
	return keys, data
}

// requireLatchBalance -- every latch acquired has been released.
func requireLatchBalance(t *testing.T, env *Environment) {
	t.Helper()
	require.Equal(t, env.latchStats.Acquires.Load(), env.latchStats.Releases.Load())
}

// requireNoRegisteredCursors -- no resident node still lists a cursor.
func requireNoRegisteredCursors(t *testing.T, env *Environment) {
	t.Helper()
	env.inList.Range(func(n *node) bool {
		require.Zero(t, n.nCursors(), "node %d", n.id)
		return true
	})
}

// requireBudgetConsistent -- the tracked tree usage matches the resident
// nodes.
func requireBudgetConsistent(t *testing.T, env *Environment) {
	t.Helper()
	require.Equal(t, env.budget.CalcTreeCacheUsage(env.inList), env.budget.TreeMemoryUsage())
}

// inOrderKeys -- the live keys of the main tree, straight from the slots.
func inOrderKeys(t *testing.T, db *Database) []string {
	t.Helper()
	tree := db.impl.tree
	o := &latchOwner{}
	var keys []string
	bin, err := tree.getFirstNode(nil, o)
	require.NoError(t, err)
	for bin != nil {
		for i := range bin.slots {
			if bin.isEntryKnownDeleted(i) {
				continue
			}
			ln, dupRoot, err := bin.fetchTarget(i)
			require.NoError(t, err)
			if dupRoot != nil || (ln != nil && !ln.isDeleted()) {
				keys = append(keys, string(bin.getKey(i)))
			}
		}
		idKey := bin.boundaryKey(true)
		bin.latch.Release(o)
		bin, err = tree.getNextBin(idKey, nil, true, o)
		require.NoError(t, err)
	}
	require.Zero(t, o.held())
	return keys
}
