// Use of this software is governed by an Apache 2.0
// licence which can be found in the license file

package txbtree

import (
	"txbtree/common"

	"github.com/cockroachdb/errors"
	"github.com/golang/glog"
)

// VerifyResult -- what a verify pass saw.
type VerifyResult struct {
	Records      int64
	Keys         int64
	TreeBytes    int64
	CalcBytes    int64
	OrderErrors  int64
	BudgetErrors int64
}

// Verify -- walk the database without locking and check that keys, and
// the data of each key, come out in order. Returns ErrCorruption along with
// the result when they do not.
func (db *Database) Verify() (VerifyResult, error) {
	var res VerifyResult
	if err := db.checkOpen(); err != nil {
		return res, err
	}
	impl := db.impl
	err := db.env.dbTree.withCursor(impl, func(c *CursorImpl) error {
		found, err := c.positionFirstOrLast(true, nil)
		c.releaseBINs()
		if err != nil || !found {
			return err
		}
		key, data := &DatabaseEntry{}, &DatabaseEntry{}
		st, err := c.getCurrent(key, data, common.LockNone)
		if err != nil {
			return err
		}
		if st != common.Success && !c.advanceCursor(key, data) {
			return nil
		}
		var prevKey, prevData []byte
		for {
			res.Records++
			cmp := -1
			if prevKey != nil {
				cmp = common.CompareKeys(prevKey, key.Data, impl.keyComparator)
			}
			switch {
			case cmp > 0:
				res.OrderErrors++
				glog.Errorf("verify %s: key %q follows %q", impl.name, key.Data, prevKey)
			case cmp < 0:
				res.Keys++
			case !impl.sortedDuplicates:
				res.OrderErrors++
				glog.Errorf("verify %s: key %q repeated", impl.name, key.Data)
			case common.CompareKeys(prevData, data.Data, impl.dupComparator) >= 0:
				res.OrderErrors++
				glog.Errorf("verify %s: key %q datum %q follows %q",
					impl.name, key.Data, data.Data, prevData)
			}
			prevKey, prevData = key.Data, data.Data
			if !c.advanceCursor(key, data) {
				return nil
			}
		}
	})
	if err != nil {
		return res, err
	}
	res.TreeBytes = db.env.budget.TreeMemoryUsage()
	res.CalcBytes = db.env.budget.CalcTreeCacheUsage(db.env.inList)
	if res.TreeBytes != res.CalcBytes {
		res.BudgetErrors++
		glog.Errorf("verify %s: tree usage %d, resident nodes add up to %d",
			impl.name, res.TreeBytes, res.CalcBytes)
	}
	if res.OrderErrors+res.BudgetErrors > 0 {
		return res, errors.Wrapf(common.ErrCorruption, "database %q: %d order errors, %d budget errors",
			impl.name, res.OrderErrors, res.BudgetErrors)
	}
	glog.V(1).Infof("verify %s: %d records, %d keys", impl.name, res.Records, res.Keys)
	return res, nil
}
