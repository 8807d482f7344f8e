// Use of this software is governed by an Apache 2.0
// licence which can be found in the license file

// This file implements the database handle: single record operations, each
// run on a short lived cursor under the caller's transaction or, without
// one, under a locker of its own released when the operation ends.

package txbtree

import (
	"io"
	"sync/atomic"

	"txbtree/common"

	"github.com/cockroachdb/errors"
	"github.com/golang/glog"
)

// Database -- a handle on an open database.
type Database struct {
	env    *Environment
	impl   *DatabaseImpl
	closed atomic.Bool
}

func (db *Database) Name() string {
	return db.impl.name
}

func (db *Database) SortedDuplicates() bool {
	return db.impl.sortedDuplicates
}

func (db *Database) checkOpen() error {
	if db.closed.Load() {
		return errors.Wrapf(common.ErrInvalidParam, "database %q handle is closed", db.impl.name)
	}
	if db.impl.isDeleted() {
		return errors.Wrapf(common.ErrDatabaseNotFound, "database %q was removed", db.impl.name)
	}
	return db.env.checkOpen()
}

// Close -- close the handle. Cursors opened through it must be closed
// first.
func (db *Database) Close() error {
	if db.closed.Swap(true) {
		return nil
	}
	if n := db.impl.openCursors.Load(); n != 0 {
		glog.Warningf("database %q closed with %d open cursors", db.impl.name, n)
	}
	return nil
}

// OpenCursor -- a cursor under txn, or when txn is nil under a locker of
// its own whose locks last until the cursor moves on.
func (db *Database) OpenCursor(txn *Transaction, cfg *CursorConfig) (*Cursor, error) {
	if err := db.checkOpen(); err != nil {
		return nil, err
	}
	var locker Locker
	if txn != nil {
		if err := txn.txn.checkState(); err != nil {
			return nil, err
		}
		locker = txn.txn
	} else {
		locker = newBasicLocker(db.env, db.env.cfg.TxnNoWait)
	}
	c := &Cursor{db: db, txn: txn, impl: newCursorImpl(db.impl, locker, false)}
	if cfg != nil {
		c.readUncommitted = cfg.ReadUncommitted
	}
	return c, nil
}

func (db *Database) withCursor(txn *Transaction, f func(c *Cursor) (OperationStatus, error)) (OperationStatus, error) {
	c, err := db.OpenCursor(txn, nil)
	if err != nil {
		return NotFound, err
	}
	st, err := f(c)
	if cerr := c.Close(); err == nil {
		err = cerr
	}
	return st, err
}

// Get -- the first record with key. With duplicates this is the smallest
// datum.
func (db *Database) Get(txn *Transaction, key, data *DatabaseEntry, mode LockMode) (OperationStatus, error) {
	return db.withCursor(txn, func(c *Cursor) (OperationStatus, error) {
		return c.GetSearchKey(key, data, mode)
	})
}

// GetSearchBoth -- the record with key and datum, if it exists.
func (db *Database) GetSearchBoth(txn *Transaction, key, data *DatabaseEntry, mode LockMode) (OperationStatus, error) {
	return db.withCursor(txn, func(c *Cursor) (OperationStatus, error) {
		return c.GetSearchBoth(key, data, mode)
	})
}

// Put -- store the record, overwriting the data of an existing key (or,
// with duplicates, adding the datum to the key).
func (db *Database) Put(txn *Transaction, key, data *DatabaseEntry) (OperationStatus, error) {
	return db.withCursor(txn, func(c *Cursor) (OperationStatus, error) {
		return c.Put(key, data)
	})
}

// PutNoOverwrite -- store the record unless the key exists.
func (db *Database) PutNoOverwrite(txn *Transaction, key, data *DatabaseEntry) (OperationStatus, error) {
	return db.withCursor(txn, func(c *Cursor) (OperationStatus, error) {
		return c.PutNoOverwrite(key, data)
	})
}

// PutNoDupData -- store the record unless the key and datum pair exists.
func (db *Database) PutNoDupData(txn *Transaction, key, data *DatabaseEntry) (OperationStatus, error) {
	return db.withCursor(txn, func(c *Cursor) (OperationStatus, error) {
		return c.PutNoDupData(key, data)
	})
}

// Delete -- delete every record with key.
func (db *Database) Delete(txn *Transaction, key *DatabaseEntry) (OperationStatus, error) {
	return db.withCursor(txn, func(c *Cursor) (OperationStatus, error) {
		data := &DatabaseEntry{}
		st, err := c.GetSearchKey(key, data, LockRMW)
		if err != nil || st != Success {
			return st, err
		}
		for st == Success {
			if _, err := c.Delete(); err != nil {
				return NotFound, err
			}
			if !db.impl.sortedDuplicates {
				break
			}
			if st, err = c.GetNextDup(&DatabaseEntry{}, data, LockRMW); err != nil {
				return NotFound, err
			}
		}
		return Success, nil
	})
}

// Count -- number of records in the database, by a scan without locks.
func (db *Database) Count() (int64, error) {
	if err := db.checkOpen(); err != nil {
		return 0, err
	}
	var n int64
	err := db.env.dbTree.withCursor(db.impl, func(c *CursorImpl) error {
		return scanAll(c, common.LockNone, func(_, _ []byte) bool {
			n++
			return true
		})
	})
	return n, err
}

// WriteTree -- dump the database's tree to w, optionally with its internal
// node layout.
func (db *Database) WriteTree(w io.Writer, printLayout bool) error {
	if err := db.checkOpen(); err != nil {
		return err
	}
	return db.impl.tree.WriteTree(w, printLayout)
}
