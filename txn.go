// Use of this software is governed by an Apache 2.0
// licence which can be found in the license file

package txbtree

import (
	"txbtree/common"

	"github.com/cockroachdb/errors"
	"github.com/golang/glog"
)

type txnState int

const (
	txnOpen txnState = iota
	txnCommitted
	txnAborted
)

// writeLockInfo -- per record state of a write lock held by a transaction:
// the version of the record before the transaction first wrote it.
type writeLockInfo struct {
	abortLSN common.LSN
	abortSet bool
}

// Txn -- a transactional locker. Locks are held until Commit or Abort.
type Txn struct {
	lockerBase
	serializable bool
	state        txnState
	writeInfo    map[int64]*writeLockInfo
}

func newTxn(env *Environment, noWait, serializable bool) *Txn {
	txn := &Txn{serializable: serializable, writeInfo: make(map[int64]*writeLockInfo)}
	txn.init(env, noWait, "txn")
	env.budget.UpdateTxnMemoryUsage(txnOverhead)
	glog.V(1).Infof("txn %d: begin (serializable %v)", txn.id, serializable)
	return txn
}

func (txn *Txn) result(nodeID int64, lt common.LockType, grant common.LockGrantType) *LockResult {
	res := &LockResult{grant: grant}
	if !lt.IsWrite() || grant == common.GrantDenied {
		return res
	}
	txn.mu.Lock()
	defer txn.mu.Unlock()
	wli, ok := txn.writeInfo[nodeID]
	if !ok {
		wli = &writeLockInfo{}
		txn.writeInfo[nodeID] = wli
		txn.env.budget.UpdateTxnMemoryUsage(writeLockInfoOverhd)
	}
	res.wli = wli
	return res
}

func (txn *Txn) Lock(nodeID int64, lt common.LockType, noWait bool) (*LockResult, error) {
	if err := txn.checkState(); err != nil {
		return nil, err
	}
	grant, err := txn.lockBlocking(nodeID, lt, noWait)
	if err != nil {
		return &LockResult{grant: grant}, err
	}
	return txn.result(nodeID, lt, grant), nil
}

func (txn *Txn) NonBlockingLock(nodeID int64, lt common.LockType) (*LockResult, error) {
	if err := txn.checkState(); err != nil {
		return nil, err
	}
	grant, err := txn.lockInternal(nodeID, lt, true)
	if err != nil {
		return &LockResult{grant: grant}, err
	}
	return txn.result(nodeID, lt, grant), nil
}

// ReleaseNonTxnLocks -- a transaction holds its locks until it ends.
func (txn *Txn) ReleaseNonTxnLocks() error {
	return nil
}

// NewNonTxnLocker -- cursors cloned within a transaction share it.
func (txn *Txn) NewNonTxnLocker() Locker {
	return txn
}

func (txn *Txn) IsTransactional() bool {
	return true
}

func (txn *Txn) checkState() error {
	if txn.state != txnOpen {
		return errors.Wrapf(common.ErrTxnClosed, "txn %d", txn.id)
	}
	return nil
}

func (txn *Txn) checkCursorsForClose() error {
	if n := txn.nCursors(); n > 0 {
		return errors.Wrapf(common.ErrInvalidParam,
			"txn %d has %d open cursors", txn.id, n)
	}
	return nil
}

// Commit -- release every lock and queue the deleted slots for compression.
func (txn *Txn) Commit() error {
	if err := txn.checkState(); err != nil {
		return err
	}
	if err := txn.checkCursorsForClose(); err != nil {
		return err
	}
	nLocks := txn.nLocks()
	txn.releaseAll()
	txn.queueDeletes()
	txn.close(txnCommitted)
	glog.V(1).Infof("txn %d: commit, released %d locks", txn.id, nLocks)
	return nil
}

// Abort -- release every lock. Writes already applied stay in the tree.
func (txn *Txn) Abort() error {
	if err := txn.checkState(); err != nil {
		return err
	}
	if err := txn.checkCursorsForClose(); err != nil {
		return err
	}
	nLocks := txn.nLocks()
	txn.releaseAll()
	txn.queueDeletes()
	txn.close(txnAborted)
	glog.V(1).Infof("txn %d: abort, released %d locks, %d records written",
		txn.id, nLocks, len(txn.writeInfo))
	return nil
}

// close -- the versions the transaction replaced are no longer needed for
// abort and their log entries go.
func (txn *Txn) close(state txnState) {
	txn.state = state
	for nodeID, wli := range txn.writeInfo {
		if wli.abortSet && wli.abortLSN != common.NullLSN {
			if err := txn.env.log.Delete(wli.abortLSN); err != nil {
				glog.Warningf("txn %d: unable to delete version %d of record %d: %v",
					txn.id, wli.abortLSN, nodeID, err)
			}
		}
	}
	txn.env.budget.UpdateTxnMemoryUsage(-(txnOverhead + int64(len(txn.writeInfo))*writeLockInfoOverhd))
}
