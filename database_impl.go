package txbtree

import (
	"sync/atomic"

	"txbtree/common"
)

// DatabaseImpl -- the engine side of a database: its tree and the ordering
// of its keys and duplicates. It is shared by every handle on the database.
type DatabaseImpl struct {
	id               int64
	name             string
	env              *Environment
	tree             *Tree
	sortedDuplicates bool
	keyComparator    common.Comparator
	dupComparator    common.Comparator
	// eofNodeID -- record id locked in place of the record following the
	// last one, for next-key locking at the end of the database.
	eofNodeID   int64
	deleted     atomic.Bool
	openCursors atomic.Int64
}

func newDatabaseImpl(env *Environment, id int64, name string, cfg *DatabaseConfig) *DatabaseImpl {
	db := &DatabaseImpl{
		id:               id,
		name:             name,
		env:              env,
		sortedDuplicates: cfg.SortedDuplicates,
		keyComparator:    cfg.KeyComparator,
		dupComparator:    cfg.DuplicateComparator,
		eofNodeID:        env.nextNodeID(),
	}
	db.tree = newTree(db)
	return db
}

func (db *DatabaseImpl) ID() int64 {
	return db.id
}

func (db *DatabaseImpl) Name() string {
	return db.name
}

func (db *DatabaseImpl) SortedDuplicates() bool {
	return db.sortedDuplicates
}

func (db *DatabaseImpl) getTree() *Tree {
	return db.tree
}

func (db *DatabaseImpl) isDeleted() bool {
	return db.deleted.Load()
}
