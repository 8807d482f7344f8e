// Use of this software is governed by an Apache 2.0
// licence which can be found in the license file

// This file implements the catalog of the databases of an environment. It is
// kept in two internal databases, one mapping names to ids and one mapping
// ids to names, and is only ever accessed through internal cursors which
// never trigger eviction themselves.

package txbtree

import (
	"encoding/binary"
	"sync"
	"sync/atomic"

	"txbtree/common"

	"github.com/cockroachdb/errors"
	"github.com/golang/glog"
	"github.com/puzpuzpuz/xsync/v3"
)

const (
	nameDbID int64 = 0
	idDbID   int64 = 1

	catalogFlagDups byte = 0x1
)

type dbTree struct {
	env      *Environment
	mu       sync.Mutex
	nameDb   *DatabaseImpl
	idDb     *DatabaseImpl
	lastDbID atomic.Int64
	dbs      *xsync.MapOf[int64, *DatabaseImpl]
}

func newDbTree(env *Environment) *dbTree {
	t := &dbTree{env: env, dbs: xsync.NewMapOf[int64, *DatabaseImpl]()}
	t.nameDb = newDatabaseImpl(env, nameDbID, "_names", &DatabaseConfig{})
	t.idDb = newDatabaseImpl(env, idDbID, "_ids", &DatabaseConfig{})
	t.lastDbID.Store(idDbID)
	return t
}

func encodeDbID(id int64) []byte {
	b := make([]byte, 8)
	binary.BigEndian.PutUint64(b, uint64(id))
	return b
}

// nameRecord -- id and flags of a database, as stored under its name.
func nameRecord(id int64, sortedDuplicates bool) []byte {
	b := encodeDbID(id)
	var flags byte
	if sortedDuplicates {
		flags |= catalogFlagDups
	}
	return append(b, flags)
}

func parseNameRecord(b []byte) (int64, bool, error) {
	if len(b) != 9 {
		return 0, false, errors.Wrapf(common.ErrCorruption, "catalog record of %d bytes", len(b))
	}
	return int64(binary.BigEndian.Uint64(b)), b[8]&catalogFlagDups != 0, nil
}

// withCursor -- run f on a fresh internal cursor over db.
func (t *dbTree) withCursor(db *DatabaseImpl, f func(c *CursorImpl) error) error {
	c := newCursorImpl(db, newBasicLocker(t.env, false), false)
	c.setAllowEviction(false)
	err := f(c)
	if cerr := c.close(); err == nil {
		err = cerr
	}
	return err
}

func (t *dbTree) lookup(db *DatabaseImpl, key []byte) ([]byte, bool, error) {
	var data []byte
	found := false
	err := t.withCursor(db, func(c *CursorImpl) error {
		res, err := c.searchAndPosition(key, nil, common.SearchSet, common.LockRead)
		if err != nil {
			return err
		}
		if res&common.Found == 0 {
			c.releaseBINs()
			return nil
		}
		entry := &DatabaseEntry{}
		st, err := c.getCurrentAlreadyLatched(nil, entry, common.LockRead, true)
		found = st == common.Success
		data = entry.Data
		return err
	})
	return data, found, err
}

func (t *dbTree) insert(db *DatabaseImpl, key, data []byte) (common.OperationStatus, error) {
	var st common.OperationStatus
	err := t.withCursor(db, func(c *CursorImpl) error {
		var err error
		st, err = c.putNoOverwrite(key, &DatabaseEntry{Data: data})
		return err
	})
	return st, err
}

func (t *dbTree) overwrite(db *DatabaseImpl, key, data []byte) error {
	return t.withCursor(db, func(c *CursorImpl) error {
		_, err := c.put(key, &DatabaseEntry{Data: data}, nil)
		return err
	})
}

func (t *dbTree) remove(db *DatabaseImpl, key []byte) error {
	return t.withCursor(db, func(c *CursorImpl) error {
		res, err := c.searchAndPosition(key, nil, common.SearchSet, common.LockWrite)
		if err != nil {
			return err
		}
		c.releaseBINs()
		if res&common.Found == 0 {
			return nil
		}
		_, err = c.delete()
		return err
	})
}

// lookupName -- id and flags of the named database.
func (t *dbTree) lookupName(name string) (int64, bool, bool, error) {
	data, found, err := t.lookup(t.nameDb, []byte(name))
	if err != nil || !found {
		return 0, false, false, err
	}
	id, dups, err := parseNameRecord(data)
	return id, dups, err == nil, err
}

// getDb -- the named database, created if allowed.
func (t *dbTree) getDb(name string, cfg *DatabaseConfig) (*DatabaseImpl, error) {
	t.mu.Lock()
	defer t.mu.Unlock()
	id, dups, found, err := t.lookupName(name)
	if err != nil {
		return nil, err
	}
	if found {
		if dups != cfg.SortedDuplicates {
			return nil, errors.Wrapf(common.ErrInvalidParam,
				"database %q was created with sorted duplicates %v", name, dups)
		}
		db, ok := t.dbs.Load(id)
		if !ok {
			return nil, errors.Wrapf(common.ErrCorruption, "database %q (%d) is cataloged but not open", name, id)
		}
		return db, nil
	}
	if !cfg.AllowCreate {
		return nil, errors.Wrapf(common.ErrDatabaseNotFound, "%q", name)
	}
	id = t.lastDbID.Add(1)
	st, err := t.insert(t.nameDb, []byte(name), nameRecord(id, cfg.SortedDuplicates))
	if err != nil {
		return nil, err
	}
	if st == common.KeyExist {
		return nil, errors.Wrapf(common.ErrDatabaseExists, "%q", name)
	}
	if _, err := t.insert(t.idDb, encodeDbID(id), []byte(name)); err != nil {
		return nil, err
	}
	db := newDatabaseImpl(t.env, id, name, cfg)
	t.dbs.Store(id, db)
	glog.Infof("env %s: created database %q (id %d, sorted duplicates %v)",
		t.env.id, name, id, cfg.SortedDuplicates)
	return db, nil
}

// openDb -- the named database, which must exist and have no open cursor.
func (t *dbTree) openIdleDb(name string) (*DatabaseImpl, error) {
	id, _, found, err := t.lookupName(name)
	if err != nil {
		return nil, err
	}
	if !found {
		return nil, errors.Wrapf(common.ErrDatabaseNotFound, "%q", name)
	}
	db, ok := t.dbs.Load(id)
	if !ok {
		return nil, errors.Wrapf(common.ErrCorruption, "database %q (%d) is cataloged but not open", name, id)
	}
	if n := db.openCursors.Load(); n != 0 {
		return nil, errors.Wrapf(common.ErrInvalidParam, "database %q has %d open cursors", name, n)
	}
	return db, nil
}

func (t *dbTree) dbRemove(name string) error {
	t.mu.Lock()
	defer t.mu.Unlock()
	db, err := t.openIdleDb(name)
	if err != nil {
		return err
	}
	if err := t.remove(t.nameDb, []byte(name)); err != nil {
		return err
	}
	if err := t.remove(t.idDb, encodeDbID(db.id)); err != nil {
		return err
	}
	db.deleted.Store(true)
	t.dbs.Delete(db.id)
	n, err := db.tree.clear(&latchOwner{})
	glog.Infof("env %s: removed database %q (id %d, %d records)", t.env.id, name, db.id, n)
	return err
}

func (t *dbTree) dbRename(oldName, newName string) error {
	t.mu.Lock()
	defer t.mu.Unlock()
	id, dups, found, err := t.lookupName(oldName)
	if err != nil {
		return err
	}
	if !found {
		return errors.Wrapf(common.ErrDatabaseNotFound, "%q", oldName)
	}
	st, err := t.insert(t.nameDb, []byte(newName), nameRecord(id, dups))
	if err != nil {
		return err
	}
	if st == common.KeyExist {
		return errors.Wrapf(common.ErrDatabaseExists, "%q", newName)
	}
	if err := t.remove(t.nameDb, []byte(oldName)); err != nil {
		return err
	}
	if err := t.overwrite(t.idDb, encodeDbID(id), []byte(newName)); err != nil {
		return err
	}
	if db, ok := t.dbs.Load(id); ok {
		db.name = newName
	}
	glog.Infof("env %s: renamed database %q to %q", t.env.id, oldName, newName)
	return nil
}

func (t *dbTree) truncate(name string) (int64, error) {
	t.mu.Lock()
	defer t.mu.Unlock()
	db, err := t.openIdleDb(name)
	if err != nil {
		return 0, err
	}
	n, err := db.tree.clear(&latchOwner{})
	glog.Infof("env %s: truncated database %q, %d records", t.env.id, name, n)
	return n, err
}

// dbNames -- every cataloged name, in order.
func (t *dbTree) dbNames() ([]string, error) {
	var names []string
	err := t.withCursor(t.nameDb, func(c *CursorImpl) error {
		return scanAll(c, common.LockNone, func(key, _ []byte) bool {
			names = append(names, string(key))
			return true
		})
	})
	return names, err
}

func (t *dbTree) close() {
	t.dbs.Range(func(id int64, db *DatabaseImpl) bool {
		if n := db.openCursors.Load(); n != 0 {
			glog.Warningf("env %s: database %q closed with %d open cursors", t.env.id, db.name, n)
		}
		return true
	})
}

// scanAll -- visit every record of the cursor's database in order until fn
// returns false.
func scanAll(c *CursorImpl, lt common.LockType, fn func(key, data []byte) bool) error {
	found, err := c.positionFirstOrLast(true, nil)
	if err != nil || !found {
		c.releaseBINs()
		return err
	}
	key, data := &DatabaseEntry{}, &DatabaseEntry{}
	st, err := c.getCurrentAlreadyLatched(key, data, lt, true)
	if st == common.Success {
		c.incrementLNCount()
	}
	if err == nil && st != common.Success {
		st, err = c.getNext(key, data, lt, true, false)
	}
	for err == nil && st == common.Success {
		if !fn(key.Data, data.Data) {
			break
		}
		st, err = c.getNext(key, data, lt, true, false)
	}
	return err
}
