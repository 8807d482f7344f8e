// Use of this software is governed by an Apache 2.0
// licence which can be found in the license file

// This file implements a log manager interface to store the entries written by
// the tree: versions of leaf records and evicted bottom internal nodes. Every
// entry is addressed by the LSN assigned when it was appended.

package txbtree

import (
	"txbtree/common"

	"github.com/cockroachdb/errors"
	"github.com/dgraph-io/ristretto/v2"
	"github.com/golang/glog"
)

// LogManager - The log manager interface mentions the API that a persistence
// layer needs to support to hold the entries of the tree.
type LogManager interface {
	// Append stores an entry and returns the LSN it can be read back with.
	// LSNs are unique and increasing; common.NullLSN is never returned.
	Append(entry []byte) (common.LSN, error)
	// Read returns the entry at lsn. An entry which was deleted is reported
	// as common.ErrNotFound.
	Read(lsn common.LSN) ([]byte, error)
	// Delete marks the entry at lsn obsolete; it may no longer be read.
	Delete(lsn common.LSN) error
	Flush() error
	Close() error
	Policy() string
}

// openLogManager -- the configured backend behind a read cache.
func openLogManager(cfg *EnvironmentConfig) (LogManager, error) {
	var inner LogManager
	var err error
	switch cfg.LogPolicy {
	case LogPolicyPebble:
		inner, err = NewPebbleLog(cfg.LogDir, cfg.LogSync)
	case LogPolicyADB:
		inner, err = NewArangoLog(cfg.ArangoEndpoint, cfg.ArangoDB, cfg.ArangoUser,
			cfg.ArangoPassword, cfg.ArangoCollection)
	case LogPolicyLocalMap:
		inner = NewLocalHashMapLog()
	default:
		err = errors.Wrapf(common.ErrInvalidParam, "log policy %q", cfg.LogPolicy)
	}
	if err != nil {
		return nil, err
	}
	if cfg.LogCacheBytes <= 0 {
		return &checkedLog{inner: inner}, nil
	}
	return newCachedLog(inner, cfg.LogCacheBytes)
}

// checkedLog -- wraps a backend with test point checks and error wrapping.
type checkedLog struct {
	inner LogManager
}

func (l *checkedLog) Append(entry []byte) (common.LSN, error) {
	if TestPointExecute(testPointFailLogWrite) {
		return common.NullLSN, errors.Wrap(common.ErrLogWriteFailed, "test point")
	}
	lsn, err := l.inner.Append(entry)
	if err != nil {
		return common.NullLSN, errors.Wrapf(common.ErrLogWriteFailed, "%s: %v", l.inner.Policy(), err)
	}
	return lsn, nil
}

func (l *checkedLog) Read(lsn common.LSN) ([]byte, error) {
	if TestPointExecute(testPointFailLogRead) {
		return nil, errors.Wrapf(common.ErrLogReadFailed, "test point, lsn %d", lsn)
	}
	return l.read(lsn)
}

func (l *checkedLog) read(lsn common.LSN) ([]byte, error) {
	b, err := l.inner.Read(lsn)
	if err != nil {
		if errors.Is(err, common.ErrNotFound) {
			return nil, err
		}
		return nil, errors.Wrapf(common.ErrLogReadFailed, "%s lsn %d: %v", l.inner.Policy(), lsn, err)
	}
	return b, nil
}

func (l *checkedLog) Delete(lsn common.LSN) error {
	return l.inner.Delete(lsn)
}

func (l *checkedLog) Flush() error {
	return l.inner.Flush()
}

func (l *checkedLog) Close() error {
	return l.inner.Close()
}

func (l *checkedLog) Policy() string {
	return l.inner.Policy()
}

// cachedLog -- keeps recently read and written entries in a ristretto cache
// so that re-fetching an evicted record does not always reach the backend.
type cachedLog struct {
	checkedLog
	cache *ristretto.Cache[uint64, []byte]
}

func newCachedLog(inner LogManager, maxCost int64) (*cachedLog, error) {
	cache, err := ristretto.NewCache(&ristretto.Config[uint64, []byte]{
		NumCounters: maxCost / 64 * 10,
		MaxCost:     maxCost,
		BufferItems: 64,
	})
	if err != nil {
		return nil, errors.Wrap(err, "creating log read cache")
	}
	glog.Infof("log manager %s with a %d byte read cache", inner.Policy(), maxCost)
	return &cachedLog{checkedLog: checkedLog{inner: inner}, cache: cache}, nil
}

func (l *cachedLog) Append(entry []byte) (common.LSN, error) {
	lsn, err := l.checkedLog.Append(entry)
	if err == nil {
		l.cache.Set(uint64(lsn), entry, int64(len(entry)))
	}
	return lsn, err
}

func (l *cachedLog) Read(lsn common.LSN) ([]byte, error) {
	if TestPointExecute(testPointFailLogRead) {
		return nil, errors.Wrapf(common.ErrLogReadFailed, "test point, lsn %d", lsn)
	}
	if b, ok := l.cache.Get(uint64(lsn)); ok {
		return b, nil
	}
	b, err := l.read(lsn)
	if err == nil {
		l.cache.Set(uint64(lsn), b, int64(len(b)))
	}
	return b, err
}

func (l *cachedLog) Delete(lsn common.LSN) error {
	l.cache.Del(uint64(lsn))
	return l.checkedLog.Delete(lsn)
}

func (l *cachedLog) Close() error {
	l.cache.Close()
	return l.checkedLog.Close()
}
