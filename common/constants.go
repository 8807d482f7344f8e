package common

// Constants used in txbtree package.
const (
	MemMgrPolicyLocalLRU string = "local_lru"
	MemMgrPolicyLocalMap string = "local_hashmap"

	LogPolicyPebble   string = "pebble"
	LogPolicyADB      string = "arango_db_mgr"
	LogPolicyLocalMap string = "local_hashmap"
)

// NullLSN -- the log sequence number of a slot which has never been logged.
const NullLSN LSN = 0

// Search result bits returned by a cursor search.
const (
	// Found -- something was found; for range searches this may be provisional.
	Found = 0x1
	// ExactKey -- exact match on the key portion.
	ExactKey = 0x2
	// ExactData -- exact match on the data portion of a key/data search.
	ExactData = 0x4
	// FoundLast -- the record found is the last one in the database.
	FoundLast = 0x8
)
