package txbtree

import "txbtree/common"

// TransactionConfig -- options of a new transaction.
// NoWait       -- fail lock conflicts at once with ErrLockNotGranted.
// Serializable -- protect the ranges read from phantom inserts.
type TransactionConfig struct {
	NoWait       bool
	Serializable bool
}

// Transaction -- a handle on a transaction. Its locks are held until
// Commit or Abort, which both require its cursors to be closed.
type Transaction struct {
	env *Environment
	txn *Txn
}

func (t *Transaction) ID() int64 {
	return t.txn.ID()
}

func (t *Transaction) Commit() error {
	return t.txn.Commit()
}

// Abort -- release the transaction's locks. Its writes are not undone.
func (t *Transaction) Abort() error {
	return t.txn.Abort()
}

func (t *Transaction) isSerializable() bool {
	return t != nil && t.txn.serializable
}

// lockTypeFor -- the lock type a read in mode takes; range types protect
// the gaps scanned by a serializable transaction.
func lockTypeFor(t *Transaction, mode LockMode, rangeLock bool) common.LockType {
	rangeLock = rangeLock && t.isSerializable()
	switch mode {
	case LockReadUncommitted:
		return common.LockNone
	case LockRMW:
		if rangeLock {
			return common.LockRangeWrite
		}
		return common.LockWrite
	}
	if rangeLock {
		return common.LockRangeRead
	}
	return common.LockRead
}
