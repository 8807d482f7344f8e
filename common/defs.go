package common

import "fmt"

// LSN -- log sequence number, the durable address of a logged node or record.
type LSN uint64

// OperationStatus -- status of a cursor or database operation. Only truly
// exceptional conditions are reported as errors.
type OperationStatus int

// Operation statuses.
const (
	Success OperationStatus = iota
	NotFound
	KeyEmpty
	KeyExist
)

func (s OperationStatus) String() string {
	switch s {
	case Success:
		return "SUCCESS"
	case NotFound:
		return "NOTFOUND"
	case KeyEmpty:
		return "KEYEMPTY"
	case KeyExist:
		return "KEYEXIST"
	}
	return fmt.Sprintf("OperationStatus(%d)", int(s))
}

// LockType -- type of lock requested on a record.
type LockType int

// Lock types. The range types protect the gap before a record for
// serializable readers; RangeInsert is taken by an inserter on the key that
// follows the insertion point.
const (
	LockNone LockType = iota
	LockRead
	LockWrite
	LockRangeRead
	LockRangeWrite
	LockRangeInsert
)

func (lt LockType) String() string {
	switch lt {
	case LockNone:
		return "NONE"
	case LockRead:
		return "READ"
	case LockWrite:
		return "WRITE"
	case LockRangeRead:
		return "RANGE_READ"
	case LockRangeWrite:
		return "RANGE_WRITE"
	case LockRangeInsert:
		return "RANGE_INSERT"
	}
	return fmt.Sprintf("LockType(%d)", int(lt))
}

// IsWrite -- whether the lock type is an exclusive type.
func (lt LockType) IsWrite() bool {
	return lt == LockWrite || lt == LockRangeWrite
}

// IsRange -- whether the lock type protects a range.
func (lt LockType) IsRange() bool {
	return lt == LockRangeRead || lt == LockRangeWrite
}

// LockGrantType -- outcome of a lock request.
type LockGrantType int

// Lock grant types.
const (
	GrantNew LockGrantType = iota
	GrantWaitNew
	GrantPromotion
	GrantWaitPromotion
	GrantExisting
	GrantNoneNeeded
	GrantWaitRestart
	GrantDenied
)

func (g LockGrantType) String() string {
	return [...]string{"NEW", "WAIT_NEW", "PROMOTION", "WAIT_PROMOTION",
		"EXISTING", "NONE_NEEDED", "WAIT_RESTART", "DENIED"}[g]
}

// SearchMode -- the four ways a cursor can be positioned by key.
type SearchMode struct {
	exact bool
	data  bool
	name  string
}

// Search modes.
var (
	SearchSet       = SearchMode{exact: true, data: false, name: "SET"}
	SearchBoth      = SearchMode{exact: true, data: true, name: "BOTH"}
	SearchSetRange  = SearchMode{exact: false, data: false, name: "SET_RANGE"}
	SearchBothRange = SearchMode{exact: false, data: true, name: "BOTH_RANGE"}
)

// IsExactSearch -- false for range searches.
func (m SearchMode) IsExactSearch() bool { return m.exact }

// IsDataSearch -- whether the datum takes part in the search.
func (m SearchMode) IsDataSearch() bool { return m.data }

func (m SearchMode) String() string { return "SearchMode." + m.name }
