// Use of this software is governed by an Apache 2.0
// licence which can be found in the license file

// This file implements the environment: the unit owning a cache budget, a
// lock manager, a log and the daemons working on them, shared by every
// database opened in it.

package txbtree

import (
	"context"
	"sync/atomic"

	"txbtree/common"

	"github.com/cockroachdb/errors"
	"github.com/golang/glog"
	"github.com/google/uuid"
	"golang.org/x/sync/errgroup"
)

// Environment - an open environment.
// 'inList' -- every resident internal node of every database.
// 'evictPolicy' -- orders the evictor's candidates; may be 'inList' itself.
type Environment struct {
	id          uuid.UUID
	cfg         EnvironmentConfig
	budget      *MemoryBudget
	lockManager *LockManager
	log         LogManager
	inList      *LocalHashMapMemMgr
	evictPolicy MemMgr
	evictor     *Evictor
	compressor  *Compressor
	dbTree      *dbTree
	latchStats  LatchStats
	metrics     *envMetrics

	lastNodeID   atomic.Int64
	lastLockerID atomic.Int64
	lastCursorID atomic.Int64

	group  *errgroup.Group
	cancel context.CancelFunc
	closed atomic.Bool
}

// OpenEnvironment -- validate cfg and bring up an environment. Daemons are
// started when cfg.RunDaemons is set; otherwise Compress and EvictMemory
// drive the same work on demand.
func OpenEnvironment(cfg EnvironmentConfig) (*Environment, error) {
	if err := cfg.validate(); err != nil {
		return nil, err
	}
	env := &Environment{id: uuid.New(), cfg: cfg}
	env.metrics = newEnvMetrics(env)
	log, err := openLogManager(&env.cfg)
	if err != nil {
		return nil, errors.Wrap(err, "opening log")
	}
	env.log = log
	env.budget = newMemoryBudget(&env.cfg, func() { env.evictor.alert() })
	env.lockManager = newLockManager(env)
	env.inList = NewLocalHashMapMemMgr()
	switch cfg.EvictorPolicy {
	case MemMgrPolicyLocalLRU:
		env.evictPolicy = NewLocalLRUMemMgr()
	default:
		env.evictPolicy = env.inList
	}
	env.evictor = newEvictor(env)
	env.compressor = newCompressor(env)
	env.dbTree = newDbTree(env)

	if cfg.RunDaemons {
		var ctx context.Context
		ctx, env.cancel = context.WithCancel(context.Background())
		env.group, ctx = errgroup.WithContext(ctx)
		env.group.Go(func() error { return env.evictor.run(ctx) })
		env.group.Go(func() error { return env.compressor.run(ctx) })
	}
	glog.Infof("opened environment %s (log %s, evictor %s, daemons %v)",
		env.id, env.log.Policy(), env.evictPolicy.Policy(), cfg.RunDaemons)
	return env, nil
}

// ID -- unique id of this environment instance.
func (env *Environment) ID() string {
	return env.id.String()
}

// Config -- the configuration the environment was opened with.
func (env *Environment) Config() EnvironmentConfig {
	return env.cfg
}

func (env *Environment) checkOpen() error {
	if env.closed.Load() {
		return errors.Wrapf(common.ErrEnvironmentClose, "environment %s", env.id)
	}
	return nil
}

func (env *Environment) nextNodeID() int64 {
	return env.lastNodeID.Add(1)
}

func (env *Environment) nextLockerID() int64 {
	return env.lastLockerID.Add(1)
}

func (env *Environment) nextCursorID() int64 {
	return env.lastCursorID.Add(1)
}

// addResident -- account for a node entering the cache.
func (env *Environment) addResident(n *node) {
	n.detached = false
	n.inMemorySize = n.computeMemorySize()
	env.budget.UpdateTreeMemoryUsage(n.inMemorySize)
	_ = env.inList.Insert(n)
	if env.evictPolicy != MemMgr(env.inList) {
		_ = env.evictPolicy.Insert(n)
	}
}

// removeResident -- account for a node leaving the cache. The caller holds
// its latch or it is unreachable.
func (env *Environment) removeResident(n *node) {
	if n.detached {
		return
	}
	n.detached = true
	env.budget.UpdateTreeMemoryUsage(-n.inMemorySize)
	_ = env.inList.Remove(n)
	if env.evictPolicy != MemMgr(env.inList) {
		_ = env.evictPolicy.Remove(n)
	}
}

// touch -- note an access to a BIN for the eviction policy.
func (env *Environment) touch(n *node) {
	if n.kind == kindBIN && env.evictPolicy != MemMgr(env.inList) {
		_ = env.evictPolicy.Insert(n)
	}
}

// OpenDatabase -- open (or with cfg.AllowCreate, create) the named database.
func (env *Environment) OpenDatabase(name string, cfg DatabaseConfig) (*Database, error) {
	if err := env.checkOpen(); err != nil {
		return nil, err
	}
	impl, err := env.dbTree.getDb(name, &cfg)
	if err != nil {
		return nil, err
	}
	return &Database{env: env, impl: impl}, nil
}

// DatabaseNames -- names of every database in the environment.
func (env *Environment) DatabaseNames() ([]string, error) {
	if err := env.checkOpen(); err != nil {
		return nil, err
	}
	return env.dbTree.dbNames()
}

// RemoveDatabase -- delete a database and all its records. No cursor may
// be open on it.
func (env *Environment) RemoveDatabase(name string) error {
	if err := env.checkOpen(); err != nil {
		return err
	}
	return env.dbTree.dbRemove(name)
}

// RenameDatabase -- give a database a new name.
func (env *Environment) RenameDatabase(oldName, newName string) error {
	if err := env.checkOpen(); err != nil {
		return err
	}
	return env.dbTree.dbRename(oldName, newName)
}

// TruncateDatabase -- delete every record of a database; returns how many
// there were. No cursor may be open on it.
func (env *Environment) TruncateDatabase(name string) (int64, error) {
	if err := env.checkOpen(); err != nil {
		return 0, err
	}
	return env.dbTree.truncate(name)
}

// BeginTransaction -- start a transaction. A nil cfg uses the defaults.
func (env *Environment) BeginTransaction(cfg *TransactionConfig) (*Transaction, error) {
	if err := env.checkOpen(); err != nil {
		return nil, err
	}
	noWait, serializable := env.cfg.TxnNoWait, false
	if cfg != nil {
		noWait = noWait || cfg.NoWait
		serializable = cfg.Serializable
	}
	return &Transaction{env: env, txn: newTxn(env, noWait, serializable)}, nil
}

// Compress -- run one compressor pass now.
func (env *Environment) Compress() error {
	if err := env.checkOpen(); err != nil {
		return err
	}
	return env.compressor.doCompress()
}

// EvictMemory -- run an eviction pass now if the cache is over budget.
// Returns the bytes freed.
func (env *Environment) EvictMemory() (int64, error) {
	if err := env.checkOpen(); err != nil {
		return 0, err
	}
	return env.evictor.evictMemory()
}

// Close -- stop the daemons and close the log. Handles and cursors must be
// closed first.
func (env *Environment) Close() error {
	if env.closed.Swap(true) {
		return nil
	}
	var err error
	if env.group != nil {
		env.cancel()
		err = env.group.Wait()
	}
	env.dbTree.close()
	env.budget.close()
	if cerr := env.log.Close(); cerr != nil && err == nil {
		err = cerr
	}
	glog.Infof("closed environment %s", env.id)
	return err
}
